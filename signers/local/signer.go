// Package local implements the signing capability backed by a directly held
// secp256k1 private key. External wallets satisfy the same interface without
// the engine or the streaming client knowing the difference.
package local

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	spacemarket "github.com/faas-tech/space-markets-sub008"
)

var _ spacemarket.IntentSigner = (*Signer)(nil)

// Signer signs lease intent digests with an in-process private key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded private key, with or without
// a 0x prefix.
func NewSigner(privateKeyHex string) (*Signer, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewSignerFromKey(privateKey), nil
}

// NewSignerFromKey creates a Signer from an existing key.
func NewSignerFromKey(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}
}

// Address returns the signing identity.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignDigest signs the raw digest directly, with no message prefix and no
// re-hashing. The returned signature is [R || S || V] with V in {27, 28}.
func (s *Signer) SignDigest(digest [32]byte) ([]byte, error) {
	signature, err := crypto.Sign(digest[:], s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}

	signature[64] += 27

	return signature, nil
}

package spacemarket

import "github.com/ethereum/go-ethereum/common"

// IntentSigner is the opaque signing capability a party holds over lease
// intent digests. Implementations sign the raw 32-byte digest directly,
// never prefixing or re-hashing it; behind the interface a direct private
// key and an external wallet are indistinguishable to the engine and the
// streaming client.
type IntentSigner interface {
	// Address returns the signing identity.
	Address() common.Address

	// SignDigest signs the raw digest and returns a 65-byte [R || S || V]
	// signature with V in {27, 28}.
	SignDigest(digest [32]byte) ([]byte, error)
}

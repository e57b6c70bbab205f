// Package intent builds the canonical, domain-bound digest of a lease intent
// and provides the raw-digest signature operations used to authorize bids and
// acceptances.
//
// The encoding is EIP-712 typed data: every digest is
// keccak256(0x19 || 0x01 || domainSeparator || hashStruct(LeaseIntent)).
// Both counterparties and the settlement engine recompute this digest
// independently, so the type set, field order, and domain binding here must
// never change shape without a protocol version bump. The lease metadata
// sequence is deliberately not part of the hash; only the scalar terms are
// bound. The offer id is bound into the signed structure so a bid signature
// cannot be replayed onto a different offer with identical terms.
package intent

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	spacemarket "github.com/faas-tech/space-markets-sub008"
)

// SignatureLength is the expected signature size: [R || S || V].
const SignatureLength = 65

// leaseIntentTypes is the canonical type set. Field order is part of the
// protocol.
var leaseIntentTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"LeaseIntent": []apitypes.Type{
		{Name: "offerId", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
		{Name: "assetTypeSchemaHash", Type: "bytes32"},
		{Name: "lease", Type: "Lease"},
	},
	"Lease": []apitypes.Type{
		{Name: "lessor", Type: "address"},
		{Name: "lessee", Type: "address"},
		{Name: "assetId", Type: "uint256"},
		{Name: "paymentToken", Type: "address"},
		{Name: "rentAmount", Type: "uint256"},
		{Name: "rentPeriod", Type: "uint256"},
		{Name: "securityDeposit", Type: "uint256"},
		{Name: "startTime", Type: "uint256"},
		{Name: "endTime", Type: "uint256"},
		{Name: "legalDocHash", Type: "bytes32"},
		{Name: "termsVersion", Type: "string"},
	},
}

func bigOrZero(v *big.Int) *math.HexOrDecimal256 {
	if v == nil {
		return (*math.HexOrDecimal256)(new(big.Int))
	}
	return (*math.HexOrDecimal256)(v)
}

func leaseMessage(lease spacemarket.Lease) apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"lessor":          lease.Lessor.Hex(),
		"lessee":          lease.Lessee.Hex(),
		"assetId":         bigOrZero(lease.AssetID),
		"paymentToken":    lease.PaymentToken.Hex(),
		"rentAmount":      bigOrZero(lease.RentAmount),
		"rentPeriod":      bigOrZero(lease.RentPeriod),
		"securityDeposit": bigOrZero(lease.SecurityDeposit),
		"startTime":       bigOrZero(lease.StartTime),
		"endTime":         bigOrZero(lease.EndTime),
		"legalDocHash":    lease.LegalDocHash.Hex(),
		"termsVersion":    lease.TermsVersion,
	}
}

func typedData(domain spacemarket.SignatureDomain, offerID uint64, in spacemarket.LeaseIntent) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       leaseIntentTypes,
		PrimaryType: "LeaseIntent",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"offerId":             (*math.HexOrDecimal256)(new(big.Int).SetUint64(offerID)),
			"deadline":            bigOrZero(in.Deadline),
			"assetTypeSchemaHash": in.AssetTypeSchemaHash.Hex(),
			"lease":               leaseMessage(in.Lease),
		},
	}
}

// DomainSeparator computes the domain's EIP-712 separator hash.
func DomainSeparator(domain spacemarket.SignatureDomain) ([32]byte, error) {
	var sep [32]byte
	td := typedData(domain, 0, spacemarket.LeaseIntent{})
	hash, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return sep, fmt.Errorf("failed to hash domain: %w", err)
	}
	copy(sep[:], hash)
	return sep, nil
}

// LeaseDigest computes the struct hash of the lease terms alone. This is the
// inner hash embedded in the intent digest.
func LeaseDigest(lease spacemarket.Lease) ([32]byte, error) {
	var digest [32]byte
	td := typedData(spacemarket.SignatureDomain{}, 0, spacemarket.LeaseIntent{Lease: lease})
	hash, err := td.HashStruct("Lease", leaseMessage(lease))
	if err != nil {
		return digest, fmt.Errorf("failed to hash lease: %w", err)
	}
	copy(digest[:], hash)
	return digest, nil
}

// SigningDigest computes the final 32-byte digest both parties sign: the
// keccak of the 0x19 0x01 protocol prefix, the domain separator, and the
// LeaseIntent struct hash, with the given offer id bound in.
func SigningDigest(domain spacemarket.SignatureDomain, offerID uint64, in spacemarket.LeaseIntent) ([32]byte, error) {
	var digest [32]byte

	td := typedData(domain, offerID, in)

	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return digest, fmt.Errorf("failed to hash domain: %w", err)
	}

	messageHash, err := td.HashStruct("LeaseIntent", td.Message)
	if err != nil {
		return digest, fmt.Errorf("failed to hash lease intent: %w", err)
	}

	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	copy(digest[:], crypto.Keccak256(rawData))
	return digest, nil
}

// RecoverSigner recovers the signing identity from a raw-digest signature.
// It accepts V in {0, 1} or the on-wire {27, 28} convention. Returns
// ErrSignatureInvalid if the signature is malformed or does not recover.
func RecoverSigner(digest [32]byte, signature []byte) (common.Address, error) {
	if len(signature) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: signature length %d, want %d",
			spacemarket.ErrSignatureInvalid, len(signature), SignatureLength)
	}

	sig := make([]byte, SignatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", spacemarket.ErrSignatureInvalid, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify recomputes the signing digest for the given domain, offer id, and
// intent, and checks that the signature recovers to the expected signer.
func Verify(domain spacemarket.SignatureDomain, offerID uint64, in spacemarket.LeaseIntent, signature []byte, expected common.Address) error {
	digest, err := SigningDigest(domain, offerID, in)
	if err != nil {
		return err
	}
	signer, err := RecoverSigner(digest, signature)
	if err != nil {
		return err
	}
	if signer != expected {
		return fmt.Errorf("%w: recovered %s, want %s",
			spacemarket.ErrSignatureInvalid, signer.Hex(), expected.Hex())
	}
	return nil
}

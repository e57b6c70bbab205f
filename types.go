// Package spacemarket implements off-chain lease agreement and on-ledger
// settlement for scarce orbital resources (satellite capacity, orbital
// compute), plus the x402-style payment-challenge protocol that meters
// ongoing access to a settled lease.
//
// A lessor and lessee each sign the same canonical lease intent digest; the
// marketplace engine verifies both signatures, holds bidder funds in escrow,
// and settles exactly one bid per offer. Subpackages:
//   - intent: canonical EIP-712 digesting and raw-digest signatures
//   - signers/local: private-key signing capability
//   - market: the offer/bid/accept state machine, escrow, revenue ledger
//   - stream: the client side of the recurring payment-challenge loop
//   - meter: the resource-server side (402 challenge + collection)
package spacemarket

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// WildcardLessee marks an offer as open to any bidder. A bid signature must
// always bind the bidder's own address, never the wildcard.
var WildcardLessee = common.Address{}

// PaymentHeaderName carries the base64 payment proof on a retried resource
// request.
const PaymentHeaderName = "X-PAYMENT"

// SettlementHeaderName carries the base64 settlement on the success
// response.
const SettlementHeaderName = "X-PAYMENT-RESPONSE"

// MetadataEntry is one (key, value) pair of free-form lease metadata.
// Metadata travels with the lease record but is never part of the signed
// digest.
type MetadataEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Lease holds the full terms of a resource lease. Immutable once embedded in
// a signed intent.
type Lease struct {
	// Lessor is the resource owner offering the lease.
	Lessor common.Address `json:"lessor"`

	// Lessee is the counterparty, or WildcardLessee on an open offer.
	Lessee common.Address `json:"lessee"`

	// AssetID identifies the leased resource in the external asset registry.
	AssetID *big.Int `json:"assetId"`

	// PaymentToken is the token contract rent and deposit are denominated in.
	PaymentToken common.Address `json:"paymentToken"`

	// RentAmount is the rent per RentPeriod, in atomic token units.
	RentAmount *big.Int `json:"rentAmount"`

	// RentPeriod is the rent accrual period in seconds.
	RentPeriod *big.Int `json:"rentPeriod"`

	// SecurityDeposit is the escrow a bid must lock, in atomic token units.
	SecurityDeposit *big.Int `json:"securityDeposit"`

	// StartTime and EndTime bound the lease, unix seconds.
	StartTime *big.Int `json:"startTime"`
	EndTime   *big.Int `json:"endTime"`

	// LegalDocHash commits to the off-chain legal agreement text.
	LegalDocHash common.Hash `json:"legalDocHash"`

	// TermsVersion names the legal terms revision in force.
	TermsVersion string `json:"termsVersion"`

	// Metadata is an ordered sequence of auxiliary pairs, excluded from the
	// signed digest.
	Metadata []MetadataEntry `json:"metadata,omitempty"`
}

// LeaseIntent is the unit that gets hashed and signed: a lease plus the
// signature validity bound and the asset-type schema it was drafted against.
type LeaseIntent struct {
	// Deadline bounds signature validity, unix seconds.
	Deadline *big.Int `json:"deadline"`

	// AssetTypeSchemaHash binds the intent to a specific asset-type schema
	// version.
	AssetTypeSchemaHash common.Hash `json:"assetTypeSchemaHash"`

	// Lease holds the terms being agreed to.
	Lease Lease `json:"lease"`
}

// OfferStatus is the lifecycle state of an offer.
type OfferStatus string

const (
	// OfferOpen accepts bids.
	OfferOpen OfferStatus = "open"

	// OfferSettled is terminal: exactly one bid was accepted.
	OfferSettled OfferStatus = "settled"

	// OfferCancelled is terminal: the lessor withdrew the offer and every
	// bid became refundable.
	OfferCancelled OfferStatus = "cancelled"
)

// Offer is a lessor's standing invitation to bid on a lease intent.
type Offer struct {
	// OfferID is unique and monotonically assigned, never reused.
	OfferID uint64 `json:"offerId"`

	// Lessor is the posting party; equals Terms.Lease.Lessor.
	Lessor common.Address `json:"lessor"`

	// Terms is the lease intent bids are signed against.
	Terms LeaseIntent `json:"terms"`

	// Status is the offer lifecycle state.
	Status OfferStatus `json:"status"`
}

// Terminal reports whether the offer can no longer transition.
func (o *Offer) Terminal() bool {
	return o.Status == OfferSettled || o.Status == OfferCancelled
}

// BidStatus is the lifecycle state of a bid.
type BidStatus string

const (
	// BidActive bids are eligible for acceptance while the offer is open.
	BidActive BidStatus = "active"

	// BidAccepted is terminal: this bid settled the offer.
	BidAccepted BidStatus = "accepted"

	// BidRefundable bids lost the offer (or the offer was cancelled) and
	// their escrow awaits withdrawal.
	BidRefundable BidStatus = "refundable"

	// BidWithdrawn is terminal: escrow was returned to the bidder.
	BidWithdrawn BidStatus = "withdrawn"
)

// Bid is a lessee's signed, escrow-backed commitment to an offer's terms.
type Bid struct {
	// OfferID is the offer this bid targets.
	OfferID uint64 `json:"offerId"`

	// BidIndex is unique per offer, assigned in submission order from 0.
	BidIndex uint64 `json:"bidIndex"`

	// Bidder is the prospective lessee.
	Bidder common.Address `json:"bidder"`

	// EscrowedFunds is the amount locked against this bid.
	EscrowedFunds *big.Int `json:"escrowedFunds"`

	// Signature is the bidder's 65-byte signature over the intent digest
	// with the lessee slot bound to the bidder.
	Signature []byte `json:"signature"`

	// Status is the bid lifecycle state.
	Status BidStatus `json:"status"`
}

// Active reports whether the bid is still eligible for acceptance.
func (b *Bid) Active() bool {
	return b.Status == BidActive
}

// LeaseRecord is minted at settlement, one per settled offer.
type LeaseRecord struct {
	// LeaseID is unique and monotonically assigned.
	LeaseID uint64 `json:"leaseId"`

	// OfferID and BidIndex name the settled offer and the accepted bid.
	OfferID  uint64 `json:"offerId"`
	BidIndex uint64 `json:"bidIndex"`

	// Lease holds the final terms with the lessee slot filled.
	Lease Lease `json:"lease"`

	// SettledAmount is the escrow released at settlement.
	SettledAmount *big.Int `json:"settledAmount"`

	// Reference is an opaque settlement reference for external indexing.
	Reference string `json:"reference"`

	// SettledAt is when the settlement transition applied.
	SettledAt time.Time `json:"settledAt"`
}

// PaymentRequirement defines a single acceptable payment option, issued by
// the resource server in the 402 challenge body.
type PaymentRequirement struct {
	// Scheme is the payment scheme identifier (e.g. "exact").
	Scheme string `json:"scheme"`

	// Network identifies the settlement network (CAIP-2 format).
	Network string `json:"network"`

	// Asset is the token contract the payment must be made in.
	Asset string `json:"asset"`

	// MaxAmountRequired is the charge per access, atomic units.
	MaxAmountRequired string `json:"maxAmountRequired"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo"`

	// Resource is the URL of the metered resource.
	Resource string `json:"resource"`

	// Description is an optional human-readable description.
	Description string `json:"description,omitempty"`

	// Decimals is the asset's decimal places.
	Decimals int `json:"decimals"`

	// VerificationMode selects how the server verifies payment proofs.
	VerificationMode string `json:"verificationMode,omitempty"`
}

// PaymentRequired is the 402 response body carrying the server's accepted
// payment options.
type PaymentRequired struct {
	// Error is a human-readable reason the request was not served.
	Error string `json:"error,omitempty"`

	// Accepts lists the payment options the server will accept.
	Accepts []PaymentRequirement `json:"accepts"`
}

// PaymentHeader is the payment proof a client attaches to the retried
// request, base64(JSON) under the X-PAYMENT header.
type PaymentHeader struct {
	// Payer is the paying lessee's address.
	Payer string `json:"payer"`

	// Amount is the paid amount in atomic units; must equal the
	// requirement's MaxAmountRequired.
	Amount string `json:"amount"`

	// PaymentReference is a fresh single-use reference for this tick.
	PaymentReference string `json:"paymentReference"`

	// IssuedAt is when the header was constructed, unix seconds.
	IssuedAt int64 `json:"issuedAt"`
}

// SettleResponse reports the outcome of collecting one payment, returned
// base64(JSON) under the X-PAYMENT-RESPONSE header.
type SettleResponse struct {
	// Success indicates whether the payment was collected.
	Success bool `json:"success"`

	// ErrorReason is a short code when collection failed.
	ErrorReason string `json:"errorReason,omitempty"`

	// Transaction is the settlement reference for a collected payment.
	Transaction string `json:"transaction,omitempty"`

	// Amount echoes the collected amount in atomic units.
	Amount string `json:"amount,omitempty"`

	// Payer echoes the paying address.
	Payer string `json:"payer,omitempty"`
}

// AmountToBigInt converts a decimal amount string to *big.Int atomic units.
// For example, "1.5" with 6 decimals becomes 1500000. Returns
// ErrInvalidAmount for negative amounts, negative decimals, or amounts that
// do not divide evenly into atomic units.
func AmountToBigInt(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, ErrInvalidAmount
	}

	value := new(big.Rat)
	if _, ok := value.SetString(amount); !ok {
		return nil, ErrInvalidAmount
	}
	if value.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	scale := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	value.Mul(value, scale)

	if value.Denom().Cmp(big.NewInt(1)) != 0 {
		return nil, ErrInvalidAmount
	}
	return new(big.Int).Set(value.Num()), nil
}

// BigIntToAmount converts *big.Int atomic units to a decimal string.
// For example, 1500000 with 6 decimals becomes "1.500000".
func BigIntToAmount(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}

	rat := new(big.Rat).SetInt(value)
	scale := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	rat.Quo(rat, scale)

	return rat.FloatString(decimals)
}

package spacemarket

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketEventType represents the type of settlement event.
type MarketEventType string

const (
	// EventOfferPosted fires when a lessor posts a new offer.
	EventOfferPosted MarketEventType = "offer_posted"

	// EventBidPlaced fires when a bid is stored and its escrow locked.
	EventBidPlaced MarketEventType = "bid_placed"

	// EventBidAccepted fires when an offer settles against one bid.
	EventBidAccepted MarketEventType = "bid_accepted"

	// EventOfferCancelled fires when a lessor withdraws an open offer.
	EventOfferCancelled MarketEventType = "offer_cancelled"

	// EventBidWithdrawn fires when a bid's escrow is returned.
	EventBidWithdrawn MarketEventType = "bid_withdrawn"
)

// MarketEvent is one settlement event, emitted exactly once per state
// transition, in transition order: Posted before any Placed for that offer,
// Placed before the matching Accepted.
type MarketEvent struct {
	// Type is the event type.
	Type MarketEventType

	// Timestamp is when the transition applied.
	Timestamp time.Time

	// OfferID identifies the offer on every event type.
	OfferID uint64

	// Lessor is set on offer_posted and offer_cancelled.
	Lessor common.Address

	// AssetID is set on offer_posted.
	AssetID *big.Int

	// BidIndex and Bidder are set on bid_placed, bid_accepted and
	// bid_withdrawn.
	BidIndex uint64
	Bidder   common.Address

	// EscrowAmount is set on bid_placed and bid_withdrawn.
	EscrowAmount *big.Int

	// LeaseID is set on bid_accepted.
	LeaseID uint64
}

// EventCallback observes settlement events. Callbacks are invoked
// synchronously inside the emitting transition, so they should be fast; for
// longer work, hand off to a goroutine inside the callback.
type EventCallback func(MarketEvent)

// Package market implements the offer/bid/accept settlement state machine
// with escrow custody and the per-payee revenue ledger.
//
// Engine operations model the single, atomic state transitions the external
// ledger applies one at a time: each operation validates fully before
// mutating, so either all of a transition's effects (escrow movement, status
// change, event emission) occur or none do. A mutex serializes transitions;
// no two operations on the same offer ever interleave.
package market

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	spacemarket "github.com/faas-tech/space-markets-sub008"
	"github.com/faas-tech/space-markets-sub008/intent"
)

// feeDenominator is the basis-point scale for the protocol revenue split.
const feeDenominator = 10_000

type offerState struct {
	offer spacemarket.Offer
	bids  []*spacemarket.Bid
}

// Engine is the marketplace settlement state machine.
type Engine struct {
	domain  spacemarket.SignatureDomain
	logger  *zap.Logger
	escrow  *EscrowLedger
	revenue *RevenueDistributor
	onEvent spacemarket.EventCallback
	now     func() time.Time

	feeBasisPoints uint64
	feeCollector   common.Address

	mu          sync.Mutex
	offers      map[uint64]*offerState
	leases      map[uint64]*spacemarket.LeaseRecord
	nextOfferID uint64
	nextLeaseID uint64
}

// Option configures an Engine.
type Option func(*Engine) error

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithEventCallback sets the settlement event observer. Events are emitted
// synchronously inside the transition, exactly once, in transition order.
func WithEventCallback(cb spacemarket.EventCallback) Option {
	return func(e *Engine) error {
		e.onEvent = cb
		return nil
	}
}

// WithRevenueDistributor shares an externally owned distributor, letting
// stream payment collection and lease settlement credit the same balances.
func WithRevenueDistributor(d *RevenueDistributor) Option {
	return func(e *Engine) error {
		e.revenue = d
		return nil
	}
}

// WithProtocolFee routes basisPoints of every settled escrow to collector.
func WithProtocolFee(basisPoints uint64, collector common.Address) Option {
	return func(e *Engine) error {
		if basisPoints > feeDenominator {
			return fmt.Errorf("protocol fee %d exceeds %d basis points", basisPoints, feeDenominator)
		}
		e.feeBasisPoints = basisPoints
		e.feeCollector = collector
		return nil
	}
}

// WithClock overrides the engine clock. Used by deadline tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) error {
		e.now = now
		return nil
	}
}

// NewEngine creates an engine verifying signatures against the given domain.
func NewEngine(domain spacemarket.SignatureDomain, opts ...Option) (*Engine, error) {
	if err := domain.Validate(); err != nil {
		return nil, fmt.Errorf("invalid signature domain: %w", err)
	}

	e := &Engine{
		domain:      domain,
		logger:      zap.NewNop(),
		escrow:      NewEscrowLedger(),
		revenue:     NewRevenueDistributor(),
		now:         time.Now,
		offers:      make(map[uint64]*offerState),
		leases:      make(map[uint64]*spacemarket.LeaseRecord),
		nextOfferID: 1,
		nextLeaseID: 1,
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Revenue returns the engine's revenue distributor.
func (e *Engine) Revenue() *RevenueDistributor {
	return e.revenue
}

// PostOffer stores a new open offer for the given lease intent. No signature
// is required: the posting call itself is the lessor's authorization, but
// the intent's lessor must equal the caller.
func (e *Engine) PostOffer(lessor common.Address, terms spacemarket.LeaseIntent) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if terms.Lease.Lessor != lessor {
		return 0, fmt.Errorf("intent lessor %s: %w", terms.Lease.Lessor.Hex(), spacemarket.ErrNotLessor)
	}
	if err := e.checkDeadline(&terms); err != nil {
		return 0, err
	}

	offerID := e.nextOfferID
	e.nextOfferID++

	e.offers[offerID] = &offerState{
		offer: spacemarket.Offer{
			OfferID: offerID,
			Lessor:  lessor,
			Terms:   terms,
			Status:  spacemarket.OfferOpen,
		},
	}

	e.logger.Info("offer posted",
		zap.Uint64("offer_id", offerID),
		zap.String("lessor", lessor.Hex()),
		zap.String("asset_id", bigString(terms.Lease.AssetID)))

	e.emit(spacemarket.MarketEvent{
		Type:    spacemarket.EventOfferPosted,
		OfferID: offerID,
		Lessor:  lessor,
		AssetID: terms.Lease.AssetID,
	})

	return offerID, nil
}

// PlaceBid verifies the bidder's signature over the offer terms with the
// lessee slot bound to the bidder, locks funds in escrow, and stores the bid
// at the next index for this offer.
func (e *Engine) PlaceBid(offerID uint64, bidder common.Address, signature []byte, funds *big.Int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.openOffer(offerID)
	if err != nil {
		return 0, err
	}
	if err := e.checkDeadline(&state.offer.Terms); err != nil {
		return 0, err
	}

	// The bid signature must bind the bidder's own address into the lessee
	// slot; a signature over the wildcard terms does not verify.
	bound := state.offer.Terms
	bound.Lease.Lessee = bidder
	if err := intent.Verify(e.domain, offerID, bound, signature, bidder); err != nil {
		return 0, err
	}

	required := requiredEscrow(&state.offer.Terms)
	if funds == nil || funds.Cmp(required) < 0 {
		return 0, spacemarket.NewMarketError(spacemarket.ErrCodeInsufficientEscrow,
			"escrow funds below security deposit", spacemarket.ErrInsufficientEscrow).
			WithDetail("offerId", offerID).
			WithDetail("required", required.String()).
			WithDetail("supplied", bigString(funds))
	}

	bidIndex := uint64(len(state.bids))
	if err := e.escrow.Lock(offerID, bidIndex, bidder, funds); err != nil {
		return 0, err
	}

	state.bids = append(state.bids, &spacemarket.Bid{
		OfferID:       offerID,
		BidIndex:      bidIndex,
		Bidder:        bidder,
		EscrowedFunds: new(big.Int).Set(funds),
		Signature:     append([]byte(nil), signature...),
		Status:        spacemarket.BidActive,
	})

	e.logger.Info("bid placed",
		zap.Uint64("offer_id", offerID),
		zap.Uint64("bid_index", bidIndex),
		zap.String("bidder", bidder.Hex()),
		zap.String("escrow", funds.String()))

	e.emit(spacemarket.MarketEvent{
		Type:         spacemarket.EventBidPlaced,
		OfferID:      offerID,
		BidIndex:     bidIndex,
		Bidder:       bidder,
		EscrowAmount: new(big.Int).Set(funds),
	})

	return bidIndex, nil
}

// AcceptBid settles the offer against one bid. The signature must be the
// lessor's, over the same intent digest the bidder signed (lessee slot bound
// to the chosen bidder). On success the accepted bid's escrow is released to
// the lessor's claimable balance (minus the protocol fee), every other bid
// becomes refundable, and a lease record is minted and its id returned.
func (e *Engine) AcceptBid(offerID, bidIndex uint64, signature []byte) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.openOffer(offerID)
	if err != nil {
		return 0, err
	}
	if err := e.checkDeadline(&state.offer.Terms); err != nil {
		return 0, err
	}

	bid, err := activeBid(state, bidIndex)
	if err != nil {
		return 0, err
	}

	bound := state.offer.Terms
	bound.Lease.Lessee = bid.Bidder
	if err := intent.Verify(e.domain, offerID, bound, signature, state.offer.Lessor); err != nil {
		return 0, err
	}

	amount, err := e.escrow.Release(offerID, bidIndex)
	if err != nil {
		return 0, err
	}

	lessorShare, fee := e.splitRevenue(amount)
	e.revenue.Credit(state.offer.Lessor, lessorShare)
	if fee.Sign() > 0 {
		e.revenue.Credit(e.feeCollector, fee)
	}

	state.offer.Status = spacemarket.OfferSettled
	bid.Status = spacemarket.BidAccepted
	for _, other := range state.bids {
		if other.BidIndex != bidIndex && other.Status == spacemarket.BidActive {
			other.Status = spacemarket.BidRefundable
		}
	}

	leaseID := e.nextLeaseID
	e.nextLeaseID++

	e.leases[leaseID] = &spacemarket.LeaseRecord{
		LeaseID:       leaseID,
		OfferID:       offerID,
		BidIndex:      bidIndex,
		Lease:         bound.Lease,
		SettledAmount: amount,
		Reference:     uuid.NewString(),
		SettledAt:     e.now(),
	}

	e.logger.Info("bid accepted",
		zap.Uint64("offer_id", offerID),
		zap.Uint64("bid_index", bidIndex),
		zap.Uint64("lease_id", leaseID),
		zap.String("settled_amount", amount.String()))

	e.emit(spacemarket.MarketEvent{
		Type:     spacemarket.EventBidAccepted,
		OfferID:  offerID,
		BidIndex: bidIndex,
		Bidder:   bid.Bidder,
		LeaseID:  leaseID,
	})

	return leaseID, nil
}

// CancelOffer withdraws an open offer. Only the lessor may cancel; every
// active bid becomes refundable and no lease is minted. The offer stays on
// record in its terminal state.
func (e *Engine) CancelOffer(offerID uint64, caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.openOffer(offerID)
	if err != nil {
		return err
	}
	if state.offer.Lessor != caller {
		return fmt.Errorf("caller %s: %w", caller.Hex(), spacemarket.ErrNotLessor)
	}

	state.offer.Status = spacemarket.OfferCancelled
	for _, bid := range state.bids {
		if bid.Status == spacemarket.BidActive {
			bid.Status = spacemarket.BidRefundable
		}
	}

	e.logger.Info("offer cancelled",
		zap.Uint64("offer_id", offerID),
		zap.Int("bids_refundable", len(state.bids)))

	e.emit(spacemarket.MarketEvent{
		Type:    spacemarket.EventOfferCancelled,
		OfferID: offerID,
		Lessor:  caller,
	})

	return nil
}

// WithdrawBid returns a bid's escrow to the bidder. Allowed while the offer
// is open (voluntary withdrawal) or once the bid is refundable after
// settlement or cancellation. At most once per bid.
func (e *Engine) WithdrawBid(offerID, bidIndex uint64, caller common.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, exists := e.offers[offerID]
	if !exists {
		return nil, fmt.Errorf("offer %d: %w", offerID, spacemarket.ErrOfferNotFound)
	}
	if bidIndex >= uint64(len(state.bids)) {
		return nil, fmt.Errorf("offer %d bid %d: %w", offerID, bidIndex, spacemarket.ErrBidNotFound)
	}

	bid := state.bids[bidIndex]
	if bid.Bidder != caller {
		return nil, fmt.Errorf("caller %s: %w", caller.Hex(), spacemarket.ErrNotBidder)
	}
	switch bid.Status {
	case spacemarket.BidActive, spacemarket.BidRefundable:
	default:
		return nil, fmt.Errorf("bid %d/%d status %s: %w", offerID, bidIndex, bid.Status, spacemarket.ErrAlreadySettled)
	}

	_, amount, err := e.escrow.Refund(offerID, bidIndex)
	if err != nil {
		return nil, err
	}
	bid.Status = spacemarket.BidWithdrawn

	e.logger.Info("bid withdrawn",
		zap.Uint64("offer_id", offerID),
		zap.Uint64("bid_index", bidIndex),
		zap.String("refunded", amount.String()))

	e.emit(spacemarket.MarketEvent{
		Type:         spacemarket.EventBidWithdrawn,
		OfferID:      offerID,
		BidIndex:     bidIndex,
		Bidder:       caller,
		EscrowAmount: amount,
	})

	return amount, nil
}

// Offer returns a copy of the offer's current state.
func (e *Engine) Offer(offerID uint64) (spacemarket.Offer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, exists := e.offers[offerID]
	if !exists {
		return spacemarket.Offer{}, fmt.Errorf("offer %d: %w", offerID, spacemarket.ErrOfferNotFound)
	}
	return state.offer, nil
}

// Bids returns copies of all bids on the offer, in submission order. The bid
// sequence is length-tracked, so enumeration is bounded.
func (e *Engine) Bids(offerID uint64) ([]spacemarket.Bid, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, exists := e.offers[offerID]
	if !exists {
		return nil, fmt.Errorf("offer %d: %w", offerID, spacemarket.ErrOfferNotFound)
	}

	bids := make([]spacemarket.Bid, len(state.bids))
	for i, bid := range state.bids {
		bids[i] = *bid
	}
	return bids, nil
}

// Lease returns a copy of a minted lease record.
func (e *Engine) Lease(leaseID uint64) (spacemarket.LeaseRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	record, exists := e.leases[leaseID]
	if !exists {
		return spacemarket.LeaseRecord{}, fmt.Errorf("lease %d: %w", leaseID, spacemarket.ErrLeaseNotFound)
	}
	return *record, nil
}

func (e *Engine) openOffer(offerID uint64) (*offerState, error) {
	state, exists := e.offers[offerID]
	if !exists {
		return nil, fmt.Errorf("offer %d: %w", offerID, spacemarket.ErrOfferNotFound)
	}
	if state.offer.Terminal() {
		return nil, fmt.Errorf("offer %d status %s: %w", offerID, state.offer.Status, spacemarket.ErrAlreadySettled)
	}
	return state, nil
}

func (e *Engine) checkDeadline(terms *spacemarket.LeaseIntent) error {
	if terms.Deadline == nil {
		return fmt.Errorf("intent has no deadline: %w", spacemarket.ErrDeadlineExpired)
	}
	now := big.NewInt(e.now().Unix())
	if now.Cmp(terms.Deadline) > 0 {
		return spacemarket.NewMarketError(spacemarket.ErrCodeDeadlineExpired,
			"intent deadline expired", spacemarket.ErrDeadlineExpired).
			WithDetail("deadline", terms.Deadline.String()).
			WithDetail("now", now.String())
	}
	return nil
}

func (e *Engine) splitRevenue(amount *big.Int) (lessorShare, fee *big.Int) {
	fee = new(big.Int).Mul(amount, new(big.Int).SetUint64(e.feeBasisPoints))
	fee.Div(fee, big.NewInt(feeDenominator))
	lessorShare = new(big.Int).Sub(amount, fee)
	return lessorShare, fee
}

func (e *Engine) emit(event spacemarket.MarketEvent) {
	if e.onEvent == nil {
		return
	}
	event.Timestamp = e.now()
	e.onEvent(event)
}

func activeBid(state *offerState, bidIndex uint64) (*spacemarket.Bid, error) {
	if bidIndex >= uint64(len(state.bids)) {
		return nil, fmt.Errorf("offer %d bid %d: %w", state.offer.OfferID, bidIndex, spacemarket.ErrBidNotFound)
	}
	bid := state.bids[bidIndex]
	if !bid.Active() {
		return nil, fmt.Errorf("offer %d bid %d status %s: %w",
			state.offer.OfferID, bidIndex, bid.Status, spacemarket.ErrBidNotFound)
	}
	return bid, nil
}

func requiredEscrow(terms *spacemarket.LeaseIntent) *big.Int {
	if terms.Lease.SecurityDeposit == nil {
		return new(big.Int)
	}
	return terms.Lease.SecurityDeposit
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

package market

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	spacemarket "github.com/faas-tech/space-markets-sub008"
)

// EscrowEntry tracks funds locked against one bid. Release and refund are
// mutually exclusive and each may run at most once.
type EscrowEntry struct {
	OfferID  uint64
	BidIndex uint64
	Owner    common.Address
	Amount   *big.Int
	Settled  bool
}

type escrowKey struct {
	offerID  uint64
	bidIndex uint64
}

// EscrowLedger holds custody of bid funds until settlement or refund.
//
// The ledger carries no lock of its own: every mutation happens inside one
// of the engine's serialized state transitions.
type EscrowLedger struct {
	entries map[escrowKey]*EscrowEntry
}

// NewEscrowLedger creates an empty ledger.
func NewEscrowLedger() *EscrowLedger {
	return &EscrowLedger{entries: make(map[escrowKey]*EscrowEntry)}
}

// Lock records funds held against a bid. Each bid has at most one entry.
func (l *EscrowLedger) Lock(offerID, bidIndex uint64, owner common.Address, amount *big.Int) error {
	key := escrowKey{offerID, bidIndex}
	if _, exists := l.entries[key]; exists {
		return fmt.Errorf("escrow for offer %d bid %d: %w", offerID, bidIndex, spacemarket.ErrAlreadySettled)
	}
	l.entries[key] = &EscrowEntry{
		OfferID:  offerID,
		BidIndex: bidIndex,
		Owner:    owner,
		Amount:   new(big.Int).Set(amount),
	}
	return nil
}

// Release settles the entry in favor of the lessor and returns the released
// amount. Fails with ErrAlreadySettled on re-invocation.
func (l *EscrowLedger) Release(offerID, bidIndex uint64) (*big.Int, error) {
	entry, err := l.settle(offerID, bidIndex)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(entry.Amount), nil
}

// Refund settles the entry back to the bidder and returns the owner and the
// refunded amount. Fails with ErrAlreadySettled on re-invocation.
func (l *EscrowLedger) Refund(offerID, bidIndex uint64) (common.Address, *big.Int, error) {
	entry, err := l.settle(offerID, bidIndex)
	if err != nil {
		return common.Address{}, nil, err
	}
	return entry.Owner, new(big.Int).Set(entry.Amount), nil
}

// Entry returns a copy of the entry for a bid, or ErrNoEscrow.
func (l *EscrowLedger) Entry(offerID, bidIndex uint64) (EscrowEntry, error) {
	entry, exists := l.entries[escrowKey{offerID, bidIndex}]
	if !exists {
		return EscrowEntry{}, fmt.Errorf("offer %d bid %d: %w", offerID, bidIndex, spacemarket.ErrNoEscrow)
	}
	out := *entry
	out.Amount = new(big.Int).Set(entry.Amount)
	return out, nil
}

func (l *EscrowLedger) settle(offerID, bidIndex uint64) (*EscrowEntry, error) {
	key := escrowKey{offerID, bidIndex}
	entry, exists := l.entries[key]
	if !exists {
		return nil, fmt.Errorf("offer %d bid %d: %w", offerID, bidIndex, spacemarket.ErrNoEscrow)
	}
	if entry.Settled {
		return nil, fmt.Errorf("escrow for offer %d bid %d: %w", offerID, bidIndex, spacemarket.ErrAlreadySettled)
	}
	entry.Settled = true
	return entry, nil
}

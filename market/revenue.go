package market

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// RevenueDistributor accumulates per-address claimable balances produced by
// settled leases and collected stream payments.
//
// Unlike the escrow ledger, the distributor carries its own lock: settlement
// transitions and the metering collector credit it from different
// goroutines.
type RevenueDistributor struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
}

// NewRevenueDistributor creates an empty distributor.
func NewRevenueDistributor() *RevenueDistributor {
	return &RevenueDistributor{balances: make(map[common.Address]*big.Int)}
}

// Credit adds amount to the payee's claimable balance. Nil or non-positive
// amounts are ignored.
func (d *RevenueDistributor) Credit(payee common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	balance, exists := d.balances[payee]
	if !exists {
		balance = new(big.Int)
		d.balances[payee] = balance
	}
	balance.Add(balance, amount)
}

// Claimable returns the payee's current claimable balance.
func (d *RevenueDistributor) Claimable(payee common.Address) *big.Int {
	d.mu.Lock()
	defer d.mu.Unlock()

	balance, exists := d.balances[payee]
	if !exists {
		return new(big.Int)
	}
	return new(big.Int).Set(balance)
}

// Claim zeroes and returns the payee's balance. A second claim with no
// intervening credit returns exactly zero; it never goes negative and never
// fails.
func (d *RevenueDistributor) Claim(payee common.Address) *big.Int {
	d.mu.Lock()
	defer d.mu.Unlock()

	balance, exists := d.balances[payee]
	if !exists || balance.Sign() == 0 {
		return new(big.Int)
	}
	claimed := new(big.Int).Set(balance)
	balance.SetInt64(0)
	return claimed
}

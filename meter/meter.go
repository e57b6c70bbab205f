// Package meter implements the resource-server side of the streaming payment
// protocol: middleware that challenges unauthenticated requests with 402 and
// payment terms, validates the payment header on the retry, and hands the
// payment to a Collector before admitting the request.
package meter

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	spacemarket "github.com/faas-tech/space-markets-sub008"
	"github.com/faas-tech/space-markets-sub008/market"
	"github.com/faas-tech/space-markets-sub008/validation"
)

// Collector settles one validated payment. Implementations decide where the
// funds go; returning an error rejects the request.
type Collector interface {
	Collect(ctx context.Context, header spacemarket.PaymentHeader, requirement spacemarket.PaymentRequirement) (*spacemarket.SettleResponse, error)
}

// Config holds the configuration for the metering middleware.
type Config struct {
	// Requirements defines the accepted payment options. At least one is
	// required.
	Requirements []spacemarket.PaymentRequirement

	// Collector settles validated payments. Required.
	Collector Collector

	// Description overrides the challenge's human-readable reason.
	Description string
}

// LedgerCollector credits collected payments to the payee's claimable
// balance in a revenue distributor and enforces single-use payment
// references.
type LedgerCollector struct {
	revenue *market.RevenueDistributor

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewLedgerCollector creates a collector crediting the given distributor.
func NewLedgerCollector(revenue *market.RevenueDistributor) *LedgerCollector {
	return &LedgerCollector{
		revenue: revenue,
		seen:    make(map[string]struct{}),
	}
}

// Collect implements Collector. A reused payment reference is rejected; a
// fresh one credits the requirement's payee and returns a settlement
// reference.
func (c *LedgerCollector) Collect(_ context.Context, header spacemarket.PaymentHeader, requirement spacemarket.PaymentRequirement) (*spacemarket.SettleResponse, error) {
	amount, ok := new(big.Int).SetString(header.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("%w: amount %q", spacemarket.ErrInvalidAmount, header.Amount)
	}

	c.mu.Lock()
	if _, reused := c.seen[header.PaymentReference]; reused {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: payment reference %s already used",
			spacemarket.ErrPaymentRejected, header.PaymentReference)
	}
	c.seen[header.PaymentReference] = struct{}{}
	c.mu.Unlock()

	c.revenue.Credit(common.HexToAddress(requirement.PayTo), amount)

	return &spacemarket.SettleResponse{
		Success:     true,
		Transaction: uuid.NewString(),
		Amount:      header.Amount,
		Payer:       header.Payer,
	}, nil
}

// validatePayment checks a decoded header against the accepted requirements
// and returns the matched requirement. The paid amount must equal the
// required amount exactly.
func validatePayment(header spacemarket.PaymentHeader, requirements []spacemarket.PaymentRequirement) (*spacemarket.PaymentRequirement, error) {
	if err := validation.ValidatePaymentHeader(header); err != nil {
		return nil, fmt.Errorf("%w: %v", spacemarket.ErrMalformedHeader, err)
	}
	for i := range requirements {
		if requirements[i].MaxAmountRequired == header.Amount {
			return &requirements[i], nil
		}
	}
	return nil, spacemarket.NewMarketError(spacemarket.ErrCodePaymentRejected,
		"paid amount matches no requirement", spacemarket.ErrPaymentRejected).
		WithDetail("supplied", header.Amount)
}

func validateConfig(config Config) error {
	if config.Collector == nil {
		return fmt.Errorf("meter: collector is required")
	}
	return validation.ValidatePaymentRequired(spacemarket.PaymentRequired{Accepts: config.Requirements})
}

func challengeBody(config Config, reason string) spacemarket.PaymentRequired {
	if reason == "" {
		reason = config.Description
	}
	if reason == "" {
		reason = "Payment required"
	}
	return spacemarket.PaymentRequired{
		Error:   reason,
		Accepts: config.Requirements,
	}
}

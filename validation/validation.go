// Package validation provides validation helpers for payment challenge data:
// addresses, amounts, and requirement structures.
package validation

import (
	"fmt"
	"math/big"
	"net/url"
	"regexp"

	spacemarket "github.com/faas-tech/space-markets-sub008"
)

// addressRegex matches 0x-prefixed 20-byte hex addresses.
var addressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// ValidateAmount validates that an amount string is a non-negative integer
// in atomic units. Zero is allowed.
func ValidateAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("amount cannot be empty")
	}

	amt := new(big.Int)
	if _, ok := amt.SetString(amount, 10); !ok {
		return fmt.Errorf("invalid amount format: %s", amount)
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("amount cannot be negative, got: %s", amount)
	}
	return nil
}

// ValidateAddress validates a hex address string.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if !addressRegex.MatchString(address) {
		return fmt.Errorf("invalid address format: %s (expected 0x followed by 40 hex characters)", address)
	}
	return nil
}

// ValidateRequirement performs full validation of one payment requirement.
func ValidateRequirement(req spacemarket.PaymentRequirement) error {
	if err := ValidateAmount(req.MaxAmountRequired); err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}
	if err := ValidateAddress(req.PayTo); err != nil {
		return fmt.Errorf("invalid requirement: payTo %w", err)
	}
	if err := ValidateAddress(req.Asset); err != nil {
		return fmt.Errorf("invalid requirement: asset %w", err)
	}

	switch req.Scheme {
	case "exact":
	case "":
		return fmt.Errorf("invalid requirement: scheme cannot be empty")
	default:
		return fmt.Errorf("invalid requirement: unsupported scheme %s", req.Scheme)
	}

	if req.Resource != "" {
		if _, err := url.Parse(req.Resource); err != nil {
			return fmt.Errorf("invalid requirement: resource URL: %w", err)
		}
	}
	if req.Decimals < 0 {
		return fmt.Errorf("invalid requirement: decimals cannot be negative: %d", req.Decimals)
	}
	return nil
}

// ValidatePaymentRequired validates a complete 402 challenge body.
func ValidatePaymentRequired(pr spacemarket.PaymentRequired) error {
	if len(pr.Accepts) == 0 {
		return fmt.Errorf("invalid payment required: accepts cannot be empty")
	}
	for i, req := range pr.Accepts {
		if err := ValidateRequirement(req); err != nil {
			return fmt.Errorf("invalid payment required: accepts[%d] %w", i, err)
		}
	}
	return nil
}

// ValidatePaymentHeader validates a decoded payment proof.
func ValidatePaymentHeader(header spacemarket.PaymentHeader) error {
	if err := ValidateAddress(header.Payer); err != nil {
		return fmt.Errorf("invalid payment header: payer %w", err)
	}
	if err := ValidateAmount(header.Amount); err != nil {
		return fmt.Errorf("invalid payment header: %w", err)
	}
	if header.PaymentReference == "" {
		return fmt.Errorf("invalid payment header: payment reference cannot be empty")
	}
	return nil
}

package validation

import (
	"testing"

	spacemarket "github.com/faas-tech/space-markets-sub008"
)

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		wantErr bool
	}{
		{"valid integer", "1000000", false},
		{"zero", "0", false},
		{"large value", "115792089237316195423570985008687907853269984665640564039457584007913129639935", false},
		{"empty", "", true},
		{"negative", "-1", true},
		{"decimal", "1.5", true},
		{"not a number", "abc", true},
		{"hex", "0x10", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAmount(tt.amount)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAmount(%q) error = %v, wantErr %v", tt.amount, err, tt.wantErr)
			}
		})
	}
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{"valid lowercase", "0x1234567890abcdef1234567890abcdef12345678", false},
		{"valid mixed case", "0x1234567890ABCDEF1234567890abcdef12345678", false},
		{"empty", "", true},
		{"no prefix", "1234567890abcdef1234567890abcdef12345678", true},
		{"too short", "0x1234", true},
		{"too long", "0x1234567890abcdef1234567890abcdef123456789", true},
		{"invalid chars", "0x1234567890abcdef1234567890abcdef1234567g", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.address)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAddress(%q) error = %v, wantErr %v", tt.address, err, tt.wantErr)
			}
		})
	}
}

func validRequirement() spacemarket.PaymentRequirement {
	return spacemarket.PaymentRequirement{
		Scheme:            "exact",
		Network:           "eip155:8453",
		Asset:             "0x2000000000000000000000000000000000000002",
		MaxAmountRequired: "1000",
		PayTo:             "0x3000000000000000000000000000000000000003",
		Resource:          "http://localhost/resource",
		Decimals:          6,
	}
}

func TestValidateRequirement(t *testing.T) {
	if err := ValidateRequirement(validRequirement()); err != nil {
		t.Errorf("Expected valid requirement to pass, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*spacemarket.PaymentRequirement)
	}{
		{"bad amount", func(r *spacemarket.PaymentRequirement) { r.MaxAmountRequired = "-5" }},
		{"bad payTo", func(r *spacemarket.PaymentRequirement) { r.PayTo = "nobody" }},
		{"bad asset", func(r *spacemarket.PaymentRequirement) { r.Asset = "0x12" }},
		{"empty scheme", func(r *spacemarket.PaymentRequirement) { r.Scheme = "" }},
		{"unsupported scheme", func(r *spacemarket.PaymentRequirement) { r.Scheme = "upto" }},
		{"negative decimals", func(r *spacemarket.PaymentRequirement) { r.Decimals = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequirement()
			tt.mutate(&req)
			if err := ValidateRequirement(req); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestValidatePaymentRequired(t *testing.T) {
	if err := ValidatePaymentRequired(spacemarket.PaymentRequired{}); err == nil {
		t.Error("Expected error for empty accepts")
	}

	pr := spacemarket.PaymentRequired{Accepts: []spacemarket.PaymentRequirement{validRequirement()}}
	if err := ValidatePaymentRequired(pr); err != nil {
		t.Errorf("Expected valid challenge to pass, got %v", err)
	}

	pr.Accepts = append(pr.Accepts, spacemarket.PaymentRequirement{Scheme: "exact"})
	if err := ValidatePaymentRequired(pr); err == nil {
		t.Error("Expected error for invalid second option")
	}
}

func TestValidatePaymentHeader(t *testing.T) {
	valid := spacemarket.PaymentHeader{
		Payer:            "0x4000000000000000000000000000000000000004",
		Amount:           "1000",
		PaymentReference: "ref-1",
		IssuedAt:         1_800_000_000,
	}
	if err := ValidatePaymentHeader(valid); err != nil {
		t.Errorf("Expected valid header to pass, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*spacemarket.PaymentHeader)
	}{
		{"bad payer", func(h *spacemarket.PaymentHeader) { h.Payer = "0x12" }},
		{"bad amount", func(h *spacemarket.PaymentHeader) { h.Amount = "lots" }},
		{"empty reference", func(h *spacemarket.PaymentHeader) { h.PaymentReference = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := valid
			tt.mutate(&header)
			if err := ValidatePaymentHeader(header); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

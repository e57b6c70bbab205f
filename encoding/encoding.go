// Package encoding provides the wire codecs for the streaming payment
// protocol: base64-wrapped JSON for the X-PAYMENT header, the 402 challenge
// body, and the X-PAYMENT-RESPONSE settlement header.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	spacemarket "github.com/faas-tech/space-markets-sub008"
)

// EncodePaymentHeader converts a PaymentHeader to a base64-encoded JSON
// string for the X-PAYMENT header.
func EncodePaymentHeader(header spacemarket.PaymentHeader) (string, error) {
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment header: %w", err)
	}
	return base64.StdEncoding.EncodeToString(headerJSON), nil
}

// DecodePaymentHeader converts a base64-encoded JSON string back to a
// PaymentHeader.
func DecodePaymentHeader(encoded string) (spacemarket.PaymentHeader, error) {
	var header spacemarket.PaymentHeader

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return header, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &header); err != nil {
		return header, fmt.Errorf("failed to unmarshal payment header: %w", err)
	}

	return header, nil
}

// EncodeSettlement converts a SettleResponse to base64-encoded JSON for the
// X-PAYMENT-RESPONSE header.
func EncodeSettlement(settlement spacemarket.SettleResponse) (string, error) {
	settlementJSON, err := json.Marshal(settlement)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(settlementJSON), nil
}

// DecodeSettlement converts a base64-encoded JSON string back to a
// SettleResponse.
func DecodeSettlement(encoded string) (spacemarket.SettleResponse, error) {
	var settlement spacemarket.SettleResponse

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return settlement, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &settlement); err != nil {
		return settlement, fmt.Errorf("failed to unmarshal settlement: %w", err)
	}

	return settlement, nil
}

// EncodeRequirements converts a PaymentRequired challenge body to
// base64-encoded JSON.
func EncodeRequirements(required spacemarket.PaymentRequired) (string, error) {
	reqJSON, err := json.Marshal(required)
	if err != nil {
		return "", fmt.Errorf("failed to marshal requirements: %w", err)
	}
	return base64.StdEncoding.EncodeToString(reqJSON), nil
}

// DecodeRequirements converts base64-encoded JSON back to a PaymentRequired
// challenge body.
func DecodeRequirements(encoded string) (spacemarket.PaymentRequired, error) {
	var required spacemarket.PaymentRequired

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return required, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &required); err != nil {
		return required, fmt.Errorf("failed to unmarshal requirements: %w", err)
	}

	return required, nil
}

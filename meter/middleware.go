package meter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	spacemarket "github.com/faas-tech/space-markets-sub008"
	"github.com/faas-tech/space-markets-sub008/encoding"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// PaymentContextKey is the context key for the collected settlement.
const PaymentContextKey = contextKey("spacemarket_payment")

// NewMiddleware creates metering middleware wrapping HTTP handlers with the
// payment-challenge protocol:
//   - no X-PAYMENT header: respond 402 with the accepted payment options
//   - malformed header: respond 400
//   - validated payment: collect it, attach X-PAYMENT-RESPONSE, and admit
//     the request with the settlement stored in the request context
//   - rejected payment: respond 402 with the rejection reason
func NewMiddleware(config Config) (func(http.Handler) http.Handler, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := slog.Default()

			paymentHeader := r.Header.Get(spacemarket.PaymentHeaderName)
			if paymentHeader == "" {
				logger.Info("no payment header provided", "path", r.URL.Path)
				sendPaymentRequired(w, challengeBody(config, ""))
				return
			}

			header, err := encoding.DecodePaymentHeader(paymentHeader)
			if err != nil {
				logger.Warn("invalid payment header", "error", err)
				http.Error(w, "Invalid payment header", http.StatusBadRequest)
				return
			}

			requirement, err := validatePayment(header, config.Requirements)
			if err != nil {
				logger.Warn("payment validation failed", "error", err)
				sendPaymentRequired(w, challengeBody(config, err.Error()))
				return
			}

			settlement, err := config.Collector.Collect(r.Context(), header, *requirement)
			if err != nil {
				logger.Warn("payment collection failed", "error", err, "payer", header.Payer)
				sendPaymentRequired(w, challengeBody(config, err.Error()))
				return
			}

			logger.Info("payment collected",
				"payer", header.Payer,
				"amount", header.Amount,
				"transaction", settlement.Transaction)

			encoded, err := encoding.EncodeSettlement(*settlement)
			if err != nil {
				logger.Error("failed to encode settlement", "error", err)
				http.Error(w, "Settlement encoding failed", http.StatusInternalServerError)
				return
			}
			w.Header().Set(spacemarket.SettlementHeaderName, encoded)

			ctx := context.WithValue(r.Context(), PaymentContextKey, settlement)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}

// GetSettlementFromContext extracts the collected settlement from the
// request context, or nil if the request was not payment-gated.
func GetSettlementFromContext(ctx context.Context) *spacemarket.SettleResponse {
	value := ctx.Value(PaymentContextKey)
	if value == nil {
		return nil
	}
	settlement, ok := value.(*spacemarket.SettleResponse)
	if !ok {
		return nil
	}
	return settlement
}

func sendPaymentRequired(w http.ResponseWriter, body spacemarket.PaymentRequired) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Error("failed to send payment required response", "error", fmt.Errorf("encoding challenge: %w", err))
	}
}

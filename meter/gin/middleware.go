// Package gin provides a Gin-compatible adapter for the metering middleware.
// It is a thin translation layer: all payment validation and collection
// logic lives in the meter package.
package gin

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	spacemarket "github.com/faas-tech/space-markets-sub008"
	"github.com/faas-tech/space-markets-sub008/encoding"
	"github.com/faas-tech/space-markets-sub008/meter"
)

// Config is an alias for meter.Config for convenience.
type Config = meter.Config

// PaymentContextKey is the gin context key for the collected settlement.
const PaymentContextKey = "spacemarket_payment"

// NewMiddleware creates payment-gating middleware for Gin. On a missing or
// rejected payment it responds 402 with the accepted options and aborts the
// handler chain; on a collected payment it stores the settlement under
// PaymentContextKey and calls the next handler.
func NewMiddleware(config Config) (gin.HandlerFunc, error) {
	httpMiddleware, err := meter.NewMiddleware(config)
	if err != nil {
		return nil, err
	}

	return func(c *gin.Context) {
		admitted := false
		gate := httpMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			admitted = true
			if settlement := meter.GetSettlementFromContext(r.Context()); settlement != nil {
				c.Set(PaymentContextKey, settlement)
			}
			c.Request = r
		}))
		gate.ServeHTTP(c.Writer, c.Request)

		if !admitted {
			c.Abort()
			return
		}
		c.Next()
	}, nil
}

// GetSettlement extracts the collected settlement from the gin context.
func GetSettlement(c *gin.Context) *spacemarket.SettleResponse {
	value, exists := c.Get(PaymentContextKey)
	if !exists {
		return nil
	}
	settlement, ok := value.(*spacemarket.SettleResponse)
	if !ok {
		return nil
	}
	return settlement
}

// ChallengeJSON writes a 402 challenge directly from a gin handler, for
// routes that gate payment conditionally rather than via middleware.
func ChallengeJSON(c *gin.Context, body spacemarket.PaymentRequired) {
	c.JSON(http.StatusPaymentRequired, body)
}

// SettlementHeader encodes and attaches a settlement to a gin response.
func SettlementHeader(c *gin.Context, settlement spacemarket.SettleResponse) {
	encoded, err := encoding.EncodeSettlement(settlement)
	if err != nil {
		slog.Default().Error("failed to encode settlement", "error", err)
		return
	}
	c.Header(spacemarket.SettlementHeaderName, encoded)
}

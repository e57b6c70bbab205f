// Package stream implements the client side of the recurring
// payment-challenge protocol that meters access to a settled lease.
//
// The client runs a single cooperative ticker loop. Each tick issues a bare
// resource request, answers the 402 challenge by attaching a fresh payment
// header, and reports the outcome through callbacks. Ticks are independent:
// a failed tick is reported and forgotten, never retried or compounded.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	spacemarket "github.com/faas-tech/space-markets-sub008"
	"github.com/faas-tech/space-markets-sub008/encoding"
)

// DefaultInterval is the per-tick polling interval.
const DefaultInterval = time.Second

// TickEvent reports the outcome of one payment tick.
type TickEvent struct {
	// Timestamp is when the tick completed.
	Timestamp time.Time

	// URL is the metered resource.
	URL string

	// Amount is the paid amount in atomic units (set on success).
	Amount string

	// Reference is the server's settlement reference (set on success).
	Reference string

	// Err is the tick failure (set on failure).
	Err error

	// Duration is the time the tick's round-trips took.
	Duration time.Duration
}

// TickCallback observes tick outcomes. Invoked synchronously from the loop,
// so it should be fast.
type TickCallback func(TickEvent)

type streamState int

const (
	stateIdle streamState = iota
	stateRunning
)

// Client polls a metered resource, paying the 402 challenge on every tick.
// At most one polling loop runs per client instance.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	payer      common.Address
	interval   time.Duration

	onPaid   TickCallback
	onFailed TickCallback

	mu     sync.Mutex
	state  streamState
	cancel context.CancelFunc
	gen    uint64
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient sets the underlying HTTP client. The caller's timeout
// policy lives here; the stream loop imposes none of its own.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) error {
		if httpClient == nil {
			return fmt.Errorf("http client cannot be nil")
		}
		c.httpClient = httpClient
		return nil
	}
}

// WithInterval sets the tick interval. One second meters per-tick; longer
// intervals batch access into coarser paid windows.
func WithInterval(interval time.Duration) Option {
	return func(c *Client) error {
		if interval <= 0 {
			return fmt.Errorf("interval must be positive, got %v", interval)
		}
		c.interval = interval
		return nil
	}
}

// WithCallbacks sets the success and failure observers. Pass nil for any
// callback you don't want.
func WithCallbacks(onPaid, onFailed TickCallback) Option {
	return func(c *Client) error {
		c.onPaid = onPaid
		c.onFailed = onFailed
		return nil
	}
}

// WithLogger sets the loop logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// NewClient creates a streaming payment client paying as the given address.
func NewClient(payer common.Address, opts ...Option) (*Client, error) {
	c := &Client{
		httpClient: &http.Client{},
		logger:     slog.Default(),
		payer:      payer,
		interval:   DefaultInterval,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// StartStream begins the polling loop against the metered resource URL.
// Fails fast with ErrStreamAlreadyActive if a loop is already running; it is
// a contract violation, not a queued request. The context gates the loop:
// cancelling it stops scheduling and returns the client to idle, same as
// StopStream.
func (c *Client) StartStream(ctx context.Context, resourceURL string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateRunning {
		return spacemarket.ErrStreamAlreadyActive
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.state = stateRunning
	c.cancel = cancel
	c.gen++

	go c.run(loopCtx, resourceURL, c.gen)
	return nil
}

// StopStream cancels the loop. The in-flight tick, if any, is not
// interrupted; no further ticks are scheduled.
func (c *Client) StopStream() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateRunning {
		return
	}
	c.cancel()
	c.cancel = nil
	c.state = stateIdle
}

// Active reports whether the polling loop is running.
func (c *Client) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateRunning
}

func (c *Client) run(ctx context.Context, resourceURL string, gen uint64) {
	// On exit, return the client to idle unless a newer loop has already
	// been started. Covers external context cancellation, where StopStream
	// never runs.
	defer func() {
		c.mu.Lock()
		if c.gen == gen && c.state == stateRunning {
			c.state = stateIdle
			c.cancel = nil
		}
		c.mu.Unlock()
	}()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(resourceURL)
		}
	}
}

// tick performs one two-step challenge/response round trip. Requests carry
// no loop context: cancellation is cooperative and never aborts a round trip
// already in flight.
func (c *Client) tick(resourceURL string) {
	start := time.Now()

	resp, err := c.httpClient.Get(resourceURL)
	if err != nil {
		c.fail(resourceURL, start, fmt.Errorf("%w: %v", spacemarket.ErrTransportFailure, err))
		return
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		// Not a challenge; skip this tick rather than fail the stream.
		resp.Body.Close()
		c.logger.Warn("unexpected status on challenge request, skipping tick",
			"url", resourceURL, "status", resp.StatusCode)
		return
	}

	var required spacemarket.PaymentRequired
	err = json.NewDecoder(resp.Body).Decode(&required)
	resp.Body.Close()
	if err != nil {
		c.fail(resourceURL, start, fmt.Errorf("%w: decoding challenge: %v", spacemarket.ErrInvalidRequirements, err))
		return
	}
	if len(required.Accepts) == 0 {
		c.fail(resourceURL, start, fmt.Errorf("%w: challenge carries no payment options", spacemarket.ErrInvalidRequirements))
		return
	}
	requirement := required.Accepts[0]

	header := spacemarket.PaymentHeader{
		Payer:            c.payer.Hex(),
		Amount:           requirement.MaxAmountRequired,
		PaymentReference: uuid.NewString(),
		IssuedAt:         time.Now().Unix(),
	}
	encoded, err := encoding.EncodePaymentHeader(header)
	if err != nil {
		c.fail(resourceURL, start, err)
		return
	}

	req, err := http.NewRequest(http.MethodGet, resourceURL, nil)
	if err != nil {
		c.fail(resourceURL, start, err)
		return
	}
	req.Header.Set(spacemarket.PaymentHeaderName, encoded)

	paidResp, err := c.httpClient.Do(req)
	if err != nil {
		c.fail(resourceURL, start, fmt.Errorf("%w: %v", spacemarket.ErrTransportFailure, err))
		return
	}
	defer paidResp.Body.Close()

	if paidResp.StatusCode < 200 || paidResp.StatusCode >= 300 {
		c.fail(resourceURL, start, spacemarket.NewMarketError(spacemarket.ErrCodePaymentRejected,
			"resource server rejected payment", spacemarket.ErrPaymentRejected).
			WithDetail("status", paidResp.StatusCode).
			WithDetail("amount", header.Amount).
			WithDetail("paymentReference", header.PaymentReference))
		return
	}

	event := TickEvent{
		Timestamp: time.Now(),
		URL:       resourceURL,
		Amount:    header.Amount,
		Duration:  time.Since(start),
	}
	if settlement, err := encoding.DecodeSettlement(paidResp.Header.Get(spacemarket.SettlementHeaderName)); err == nil {
		event.Reference = settlement.Transaction
	}

	if c.onPaid != nil {
		c.onPaid(event)
	}
}

func (c *Client) fail(resourceURL string, start time.Time, err error) {
	c.logger.Warn("payment tick failed", "url", resourceURL, "error", err)
	if c.onFailed == nil {
		return
	}
	c.onFailed(TickEvent{
		Timestamp: time.Now(),
		URL:       resourceURL,
		Err:       err,
		Duration:  time.Since(start),
	})
}

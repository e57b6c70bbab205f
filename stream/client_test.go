package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	spacemarket "github.com/faas-tech/space-markets-sub008"
	"github.com/faas-tech/space-markets-sub008/encoding"
)

var testPayer = common.HexToAddress("0x4000000000000000000000000000000000000004")

func testRequirement(resource string) spacemarket.PaymentRequirement {
	return spacemarket.PaymentRequirement{
		Scheme:            "exact",
		Network:           "eip155:8453",
		Asset:             "0x2000000000000000000000000000000000000002",
		MaxAmountRequired: "1000",
		PayTo:             "0x3000000000000000000000000000000000000003",
		Resource:          resource,
		Decimals:          6,
	}
}

// meteringServer challenges unpaid requests with 402 and settles paid ones.
func meteringServer(t *testing.T, paid *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headerValue := r.Header.Get(spacemarket.PaymentHeaderName)
		if headerValue == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(spacemarket.PaymentRequired{
				Error:   "Payment required",
				Accepts: []spacemarket.PaymentRequirement{testRequirement(r.URL.String())},
			})
			return
		}

		header, err := encoding.DecodePaymentHeader(headerValue)
		if err != nil {
			http.Error(w, "bad header", http.StatusBadRequest)
			return
		}

		paid.Add(1)
		settlement, _ := encoding.EncodeSettlement(spacemarket.SettleResponse{
			Success:     true,
			Transaction: "tx-" + header.PaymentReference,
			Amount:      header.Amount,
			Payer:       header.Payer,
		})
		w.Header().Set(spacemarket.SettlementHeaderName, settlement)
		w.WriteHeader(http.StatusOK)
	}))
}

func TestStartStream_AlreadyActive(t *testing.T) {
	var paid atomic.Int64
	server := meteringServer(t, &paid)
	defer server.Close()

	client, err := NewClient(testPayer, WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.StopStream()

	if err := client.StartStream(context.Background(), server.URL); err != nil {
		t.Fatalf("Failed to start stream: %v", err)
	}

	if err := client.StartStream(context.Background(), server.URL); !errors.Is(err, spacemarket.ErrStreamAlreadyActive) {
		t.Errorf("Expected ErrStreamAlreadyActive, got %v", err)
	}
}

func TestStream_PaysEveryTick(t *testing.T) {
	var paid atomic.Int64
	server := meteringServer(t, &paid)
	defer server.Close()

	events := make(chan TickEvent, 64)
	client, err := NewClient(testPayer,
		WithInterval(20*time.Millisecond),
		WithCallbacks(func(event TickEvent) { events <- event }, nil),
	)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if err := client.StartStream(context.Background(), server.URL); err != nil {
		t.Fatalf("Failed to start stream: %v", err)
	}

	// Wait for three paid ticks.
	var success int
	timeout := time.After(5 * time.Second)
	for success < 3 {
		select {
		case event := <-events:
			if event.Err != nil {
				t.Fatalf("Unexpected tick failure: %v", event.Err)
			}
			if event.Amount != "1000" {
				t.Errorf("Expected amount 1000, got %s", event.Amount)
			}
			if event.Reference == "" {
				t.Error("Expected settlement reference on success")
			}
			success++
		case <-timeout:
			t.Fatalf("Timed out waiting for paid ticks, got %d", success)
		}
	}

	client.StopStream()
	if client.Active() {
		t.Error("Expected client idle after stop")
	}

	// Drain anything the in-flight tick produced, then verify no further
	// ticks are scheduled.
	time.Sleep(100 * time.Millisecond)
	for {
		select {
		case <-events:
			success++
			continue
		default:
		}
		break
	}
	settled := paid.Load()
	if int64(success) != settled {
		t.Errorf("Success callbacks (%d) must match server settlements (%d)", success, settled)
	}

	time.Sleep(100 * time.Millisecond)
	if paid.Load() != settled {
		t.Errorf("Expected no settlements after stop, got %d more", paid.Load()-settled)
	}
}

func TestStream_PaymentRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(spacemarket.PaymentHeaderName) == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(spacemarket.PaymentRequired{
				Accepts: []spacemarket.PaymentRequirement{testRequirement(r.URL.String())},
			})
			return
		}
		// Refuse every payment.
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer server.Close()

	failures := make(chan TickEvent, 16)
	client, err := NewClient(testPayer,
		WithInterval(20*time.Millisecond),
		WithCallbacks(nil, func(event TickEvent) { failures <- event }),
	)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.StopStream()

	if err := client.StartStream(context.Background(), server.URL); err != nil {
		t.Fatalf("Failed to start stream: %v", err)
	}

	select {
	case event := <-failures:
		if !errors.Is(event.Err, spacemarket.ErrPaymentRejected) {
			t.Errorf("Expected ErrPaymentRejected, got %v", event.Err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for rejection")
	}
}

func TestStream_SkipsNonChallengeResponses(t *testing.T) {
	var served atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	events := make(chan TickEvent, 16)
	client, err := NewClient(testPayer,
		WithInterval(20*time.Millisecond),
		WithCallbacks(func(event TickEvent) { events <- event }, func(event TickEvent) { events <- event }),
	)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.StopStream()

	if err := client.StartStream(context.Background(), server.URL); err != nil {
		t.Fatalf("Failed to start stream: %v", err)
	}

	// Wait until a few ticks have hit the server; none should produce a
	// callback, success or failure.
	deadline := time.After(5 * time.Second)
	for served.Load() < 3 {
		select {
		case event := <-events:
			t.Fatalf("Expected skipped ticks, got callback %+v", event)
		case <-deadline:
			t.Fatal("Timed out waiting for ticks")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStream_TransportFailure(t *testing.T) {
	failures := make(chan TickEvent, 16)
	client, err := NewClient(testPayer,
		WithInterval(20*time.Millisecond),
		WithCallbacks(nil, func(event TickEvent) { failures <- event }),
	)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.StopStream()

	// Nothing listens here; every tick fails at the transport level and the
	// loop keeps going.
	if err := client.StartStream(context.Background(), "http://127.0.0.1:1/metered"); err != nil {
		t.Fatalf("Failed to start stream: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case event := <-failures:
			if !errors.Is(event.Err, spacemarket.ErrTransportFailure) {
				t.Errorf("Expected ErrTransportFailure, got %v", event.Err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Timed out waiting for transport failure")
		}
	}
}

func TestStream_RestartAfterStop(t *testing.T) {
	var paid atomic.Int64
	server := meteringServer(t, &paid)
	defer server.Close()

	client, err := NewClient(testPayer, WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if err := client.StartStream(context.Background(), server.URL); err != nil {
		t.Fatalf("Failed to start stream: %v", err)
	}
	client.StopStream()
	client.StopStream() // stop is idempotent

	if err := client.StartStream(context.Background(), server.URL); err != nil {
		t.Fatalf("Failed to restart stream: %v", err)
	}
	client.StopStream()
}

func TestStream_ContextCancelReturnsToIdle(t *testing.T) {
	var paid atomic.Int64
	server := meteringServer(t, &paid)
	defer server.Close()

	client, err := NewClient(testPayer, WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := client.StartStream(ctx, server.URL); err != nil {
		t.Fatalf("Failed to start stream: %v", err)
	}
	cancel()

	// The loop goroutine notices the cancellation and returns the client to
	// idle without an explicit StopStream.
	deadline := time.After(5 * time.Second)
	for client.Active() {
		select {
		case <-deadline:
			t.Fatal("Client still active after context cancellation")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := client.StartStream(context.Background(), server.URL); err != nil {
		t.Fatalf("Failed to restart after cancellation: %v", err)
	}
	client.StopStream()
}

func TestNewClient_InvalidOptions(t *testing.T) {
	if _, err := NewClient(testPayer, WithInterval(0)); err == nil {
		t.Error("Expected error for zero interval")
	}
	if _, err := NewClient(testPayer, WithHTTPClient(nil)); err == nil {
		t.Error("Expected error for nil http client")
	}
}

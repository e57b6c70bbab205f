package spacemarket

import "errors"

// Sentinel errors for marketplace and streaming operations.
var (
	// ErrSignatureInvalid indicates the recovered signer does not match the
	// expected role holder, or the signature is malformed.
	ErrSignatureInvalid = errors.New("spacemarket: invalid intent signature")

	// ErrDeadlineExpired indicates the intent's signature validity window
	// has passed.
	ErrDeadlineExpired = errors.New("spacemarket: intent deadline expired")

	// ErrInsufficientEscrow indicates the supplied funds do not cover the
	// required security deposit.
	ErrInsufficientEscrow = errors.New("spacemarket: insufficient escrow funds")

	// ErrOfferNotFound indicates no offer exists for the given id.
	ErrOfferNotFound = errors.New("spacemarket: offer not found")

	// ErrBidNotFound indicates no bid exists at the given index, or the bid
	// is no longer eligible for the requested transition.
	ErrBidNotFound = errors.New("spacemarket: bid not found")

	// ErrLeaseNotFound indicates no lease record exists for the given id.
	ErrLeaseNotFound = errors.New("spacemarket: lease not found")

	// ErrAlreadySettled indicates the offer (or the escrow entry) is
	// terminal and the transition may not be re-applied.
	ErrAlreadySettled = errors.New("spacemarket: already settled")

	// ErrNotLessor indicates the caller is not the offer's lessor.
	ErrNotLessor = errors.New("spacemarket: caller is not the lessor")

	// ErrNotBidder indicates the caller is not the bid's owner.
	ErrNotBidder = errors.New("spacemarket: caller is not the bidder")

	// ErrNoEscrow indicates no escrow entry exists for the bid.
	ErrNoEscrow = errors.New("spacemarket: no escrow entry")

	// ErrPaymentRejected indicates the resource server refused a payment
	// that was attached to a retried request.
	ErrPaymentRejected = errors.New("spacemarket: payment rejected")

	// ErrStreamAlreadyActive indicates a polling loop is already running
	// for this client instance.
	ErrStreamAlreadyActive = errors.New("spacemarket: stream already active")

	// ErrTransportFailure indicates a network-level failure. It is always
	// retryable by the next tick and is never escalated automatically.
	ErrTransportFailure = errors.New("spacemarket: transport failure")

	// ErrInvalidAmount indicates a malformed or negative amount string.
	ErrInvalidAmount = errors.New("spacemarket: invalid amount")

	// ErrInvalidRequirements indicates a malformed 402 challenge body.
	ErrInvalidRequirements = errors.New("spacemarket: invalid payment requirements")

	// ErrMalformedHeader indicates the X-PAYMENT header could not be decoded.
	ErrMalformedHeader = errors.New("spacemarket: malformed payment header")
)

// ErrorCode classifies marketplace errors for programmatic handling.
type ErrorCode string

const (
	// ErrCodeSignatureInvalid indicates signature verification failed.
	ErrCodeSignatureInvalid ErrorCode = "SIGNATURE_INVALID"

	// ErrCodeDeadlineExpired indicates the intent deadline passed.
	ErrCodeDeadlineExpired ErrorCode = "DEADLINE_EXPIRED"

	// ErrCodeInsufficientEscrow indicates escrow funds were too low.
	ErrCodeInsufficientEscrow ErrorCode = "INSUFFICIENT_ESCROW"

	// ErrCodeBidNotFound indicates the bid does not exist.
	ErrCodeBidNotFound ErrorCode = "BID_NOT_FOUND"

	// ErrCodeAlreadySettled indicates re-entry on a terminal state.
	ErrCodeAlreadySettled ErrorCode = "ALREADY_SETTLED"

	// ErrCodePaymentRejected indicates the server refused a payment.
	ErrCodePaymentRejected ErrorCode = "PAYMENT_REJECTED"

	// ErrCodeTransport indicates a network-level failure.
	ErrCodeTransport ErrorCode = "TRANSPORT_FAILURE"
)

// MarketError provides structured error information: a stable code, a
// human-readable message, and enough context (offer/bid identifiers,
// required vs. supplied amounts) for the caller to retry correctly.
type MarketError struct {
	// Code is the error code for programmatic handling.
	Code ErrorCode

	// Message is the human-readable error message.
	Message string

	// Details contains additional error context.
	Details map[string]interface{}

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *MarketError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *MarketError) Unwrap() error {
	return e.Err
}

// NewMarketError creates a MarketError with the given code and message.
func NewMarketError(code ErrorCode, message string, err error) *MarketError {
	return &MarketError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithDetail adds context to the error. Lazily initializes Details if nil.
func (e *MarketError) WithDetail(key string, value interface{}) *MarketError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

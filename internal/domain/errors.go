package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "connect", "read", "write")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// APIError is a business-level rejection returned by the venue.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s msg=%s", e.Status, e.Code, e.Message)
}

// IsRetriable treats rate limiting and server faults as transient.
func (e *APIError) IsRetriable() bool {
	return e.Status == 429 || e.Status >= 500
}

var (
	// ErrQuoteUnavailable is returned while the feed has no data yet. Callers retry.
	ErrQuoteUnavailable = errors.New("quote unavailable")

	// ErrInvalidQuote is returned when a price is non-positive or the book is crossed.
	ErrInvalidQuote = errors.New("invalid quote")

	// ErrPlacementFailed wraps a gateway rejection of an order. The attempt is consumed.
	ErrPlacementFailed = errors.New("order placement failed")

	// ErrFillTimeout marks an order that did not fill within its dwell time.
	ErrFillTimeout = errors.New("fill timeout")

	// ErrAttemptsExhausted is the terminal failure of an engine invocation.
	ErrAttemptsExhausted = errors.New("attempts exhausted")

	// ErrConnectionFailed is returned when websocket connection fails. It's usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrOrderNotFound is returned when an order is no longer open on the venue.
	ErrOrderNotFound = errors.New("order not found")

	// ErrSymbolBusy is returned when another reconciliation loop owns the symbol.
	ErrSymbolBusy = errors.New("symbol busy")

	// ErrInvalidSymbol is returned when a symbol is not supported or malformed. Not retriable.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)

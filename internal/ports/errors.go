package ports

import (
	"errors"
	"fmt"
	"time"
)

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown         = errors.New("unknown error occurred")
	ErrInvalidRequest  = errors.New("invalid request parameters or format")
	ErrNotFound        = errors.New("resource not found")
	ErrTimeout         = errors.New("operation timed out")
	ErrContextCanceled = errors.New("operation canceled via context")

	// Session Registry Errors
	ErrSessionNotFound = errors.New("session not found")

	// Order Action Errors
	ErrPriceRequired    = errors.New("limit order requires an explicit price")
	ErrNoReferencePrice = errors.New("market order requires a reference price")

	// Data Source Errors
	ErrInvalidRange = errors.New("invalid range: start must be before end")
	ErrDataGap      = errors.New("data gap detected")

	// Exchange Specific Errors
	ErrExchangeUnavailable = errors.New("exchange API is unavailable")
	ErrConnectionFailed    = errors.New("failed to connect to the exchange")
	ErrRateLimited         = errors.New("API rate limit exceeded")
)

// DataGapError reports a requested range that yielded zero rows.
// It matches ErrDataGap under errors.Is.
type DataGapError struct {
	Start time.Time
	End   time.Time
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("data gap detected between %s and %s", e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

func (e *DataGapError) Is(target error) bool {
	return target == ErrDataGap
}

package model

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed input detected before any exchange call:
// bad configuration, an unsupported interval or insufficient candle history.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError with a formatted reason.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ExchangeError wraps any failure talking to the exchange. Code is the
// exchange API error code when the exchange answered with one; zero means the
// request never got a structured answer (network, timeout, decode).
type ExchangeError struct {
	Op   string
	Code int64
	Err  error
}

func (e *ExchangeError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("exchange %s: code %d: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("exchange %s: %v", e.Op, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// ErrAssetNotFound means the account answered but holds no entry for the
// requested margin asset.
var ErrAssetNotFound = errors.New("asset not found in account")

// Transport reports whether the failure happened below the exchange API,
// i.e. the outcome of the request is unknown.
func (e *ExchangeError) Transport() bool {
	return e.Code == 0 && !errors.Is(e.Err, ErrAssetNotFound)
}

// IsExchange reports whether err wraps an *ExchangeError.
func IsExchange(err error) bool {
	var ee *ExchangeError
	return errors.As(err, &ee)
}

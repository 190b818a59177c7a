// Package errors implements a small tiered error taxonomy for device and
// storage failures, with retry policies keyed by tier.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorTier represents the classification tier for errors.
type ErrorTier int

const (
	// TierTransient indicates temporary errors that should be silently retried.
	// Examples: a serial write interrupted mid-frame, a busy sqlite file.
	TierTransient ErrorTier = iota

	// TierPermanent indicates errors that will not resolve with retry.
	// Examples: malformed payloads, closed ports.
	TierPermanent

	// TierUserFixable indicates errors that require operator intervention.
	// Examples: the Arduino is unplugged, the vendor driver is not installed.
	TierUserFixable
)

var tierNames = map[ErrorTier]string{
	TierTransient:   "transient",
	TierPermanent:   "permanent",
	TierUserFixable: "user_fixable",
}

func (t ErrorTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "unknown"
}

// TieredError wraps an error with tier classification.
type TieredError struct {
	Tier       ErrorTier
	Message    string
	Underlying error
	RetryAfter time.Duration
	Context    map[string]string
}

// Error implements the error interface.
func (e *TieredError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Tier, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s] %s", e.Tier, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TieredError) Unwrap() error {
	return e.Underlying
}

// Is checks if the target error matches this TieredError's tier.
func (e *TieredError) Is(target error) bool {
	var te *TieredError
	if errors.As(target, &te) {
		return e.Tier == te.Tier
	}
	return false
}

// NewTieredError creates a new TieredError with the given tier and message.
func NewTieredError(tier ErrorTier, message string, underlying error) *TieredError {
	return &TieredError{
		Tier:       tier,
		Message:    message,
		Underlying: underlying,
		Context:    make(map[string]string),
	}
}

// WithRetryAfter adds a retry-after duration to the error.
func (e *TieredError) WithRetryAfter(d time.Duration) *TieredError {
	e.RetryAfter = d
	return e
}

// WithContext adds context key-value pairs to the error.
func (e *TieredError) WithContext(key, value string) *TieredError {
	e.Context[key] = value
	return e
}

// GetTier extracts the ErrorTier from an error, defaulting to Permanent.
func GetTier(err error) ErrorTier {
	var te *TieredError
	if errors.As(err, &te) {
		return te.Tier
	}
	return TierPermanent
}

// IsRetryable reports whether errors of err's tier are retried.
func IsRetryable(err error) bool {
	return GetTier(err) == TierTransient
}

// Sentinel errors, one per tier, usable as errors.Is targets.
var (
	ErrTransient   = NewTieredError(TierTransient, "transient failure", nil)
	ErrPermanent   = NewTieredError(TierPermanent, "permanent failure", nil)
	ErrUserFixable = NewTieredError(TierUserFixable, "operator action required", nil)
)

// WrapWithTier wraps an error with a tier classification.
func WrapWithTier(tier ErrorTier, message string, err error) error {
	if err == nil {
		return nil
	}

	// Don't double-wrap TieredErrors
	var te *TieredError
	if errors.As(err, &te) {
		return &TieredError{
			Tier:       te.Tier,
			Message:    message,
			Underlying: err,
			RetryAfter: te.RetryAfter,
			Context:    te.Context,
		}
	}

	return NewTieredError(tier, message, err)
}

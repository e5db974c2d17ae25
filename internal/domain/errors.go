package domain

import (
	"errors"
	"fmt"
)

// Failure taxonomy. The orchestrator retries a fallback rail exactly once
// and only for rail-side faults; everything else propagates as a typed
// result rather than an error thrown across the public boundary.
var (
	ErrValidation         = errors.New("invalid payment intent")
	ErrRailTimeout        = errors.New("rail timed out")
	ErrRailFault          = errors.New("rail-side fault")
	ErrHardDecline        = errors.New("issuer declined")
	ErrChallengeInvalid   = errors.New("invalid or expired challenge")
	ErrSettlementMismatch = errors.New("settlement amount mismatch")

	ErrSecretNotFound   = errors.New("secret not found")
	ErrSecretAuthFailed = errors.New("secret authentication failed")

	ErrPoolExhausted      = errors.New("connection pool exhausted")
	ErrNoAvailableBackend = errors.New("no available backend")
	ErrPoolClosed         = errors.New("connection pool closed")

	ErrBankConnectionFailed = errors.New("bank connection failed")
	ErrBankTimeout          = errors.New("bank response timed out")
)

// ValidationError carries the field that failed intent validation.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid payment intent: %s: %s", e.Field, e.Detail)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DeclineError carries the issuer response for a hard decline.
type DeclineError struct {
	ResponseCode string
	Message      string
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("declined (%s): %s", e.ResponseCode, e.Message)
}

func (e *DeclineError) Unwrap() error { return ErrHardDecline }

// IsRailSide reports whether the failure is attributable to the rail rather
// than the payer, i.e. whether a fallback rail is worth one retry.
func IsRailSide(err error) bool {
	return errors.Is(err, ErrRailTimeout) ||
		errors.Is(err, ErrRailFault) ||
		errors.Is(err, ErrBankTimeout) ||
		errors.Is(err, ErrBankConnectionFailed)
}

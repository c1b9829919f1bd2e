// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

package provider

import "fmt"

// ErrorCode is the standardized taxonomy every provider's failures
// converge to. Retry decisions branch on Retryable, never on the code.
type ErrorCode string

const (
	ErrRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrAuthentication    ErrorCode = "AUTHENTICATION_ERROR"
	ErrTimeout           ErrorCode = "TIMEOUT"
	ErrNetwork           ErrorCode = "NETWORK_ERROR"
	ErrProvider          ErrorCode = "PROVIDER_ERROR"
)

// StandardizedError is the terminal translation of a provider-native
// failure. It wraps the raw error untouched; Unwrap exposes it for
// errors.Is/As inspection.
type StandardizedError struct {
	Message    string
	Code       ErrorCode
	Provider   string
	ProviderID string

	// Retryable is tri-state: nil means unknown and is treated as
	// non-retryable.
	Retryable *bool

	// RetryAfter is the upstream's Retry-After value when one accompanied
	// the failure, empty otherwise. It supersedes computed backoff.
	RetryAfter string

	// Context carries the request messages/options that were in flight,
	// for observability. Never nil.
	Context map[string]any

	// Err is the original error, retained by reference and never mutated.
	Err error
}

func (e *StandardizedError) Error() string {
	if e.ProviderID != "" {
		return fmt.Sprintf("%s [%s/%s]: %s", e.Code, e.Provider, e.ProviderID, e.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Code, e.Provider, e.Message)
}

func (e *StandardizedError) Unwrap() error { return e.Err }

// ShouldRetry reports whether a caller may re-issue the request. Unknown
// retryability counts as no.
func (e *StandardizedError) ShouldRetry() bool {
	return e.Retryable != nil && *e.Retryable
}

func retryable(v bool) *bool { return &v }

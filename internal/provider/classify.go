// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/modelrelay/modelrelay/internal/provider/transport"
)

// Classify maps a raw provider-native failure into a StandardizedError by
// probing the error chain for HTTP status, network, and timeout causes.
// SDK-backed providers that surface status codes outside the transport
// error type pre-extract them and call ClassifyHTTP directly.
func Classify(raw error, providerType, providerID string, reqCtx map[string]any) *StandardizedError {
	status := 0
	retryAfter := ""

	var se *transport.HTTPStatusError
	if errors.As(raw, &se) {
		status = se.StatusCode
		retryAfter = se.RetryAfter()
	}

	return ClassifyHTTP(raw, status, retryAfter, providerType, providerID, reqCtx)
}

// ClassifyHTTP is the classification core. status == 0 means no HTTP
// status is known. The predicates run in a fixed order; classes are
// mutually exclusive in practice. It is deterministic, stateless, and
// never fails.
func ClassifyHTTP(raw error, status int, retryAfter string, providerType, providerID string, reqCtx map[string]any) *StandardizedError {
	if reqCtx == nil {
		reqCtx = map[string]any{}
	}

	out := &StandardizedError{
		Message:    "Unknown provider error",
		Code:       ErrProvider,
		Provider:   providerType,
		ProviderID: providerID,
		RetryAfter: retryAfter,
		Context:    reqCtx,
		Err:        raw,
	}

	var msg string
	if raw != nil {
		msg = raw.Error()
	}
	if msg != "" {
		out.Message = msg
	}
	lower := strings.ToLower(msg)

	switch {
	// Caller cancellation is not an upstream fault and must never be
	// retried automatically.
	case errors.Is(raw, context.Canceled):
		out.Code = ErrNetwork
		out.Retryable = retryable(false)

	case status == http.StatusTooManyRequests || strings.Contains(lower, "rate limit"):
		out.Code = ErrRateLimitExceeded
		out.Retryable = retryable(true)

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		out.Code = ErrAuthentication
		out.Retryable = retryable(false)

	case isTimeout(raw) || strings.Contains(lower, "timeout"):
		out.Code = ErrTimeout
		out.Retryable = retryable(true)

	case isNetwork(raw):
		out.Code = ErrNetwork
		out.Retryable = retryable(true)
	}

	return out
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isNetwork(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

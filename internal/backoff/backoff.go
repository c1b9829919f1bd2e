// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

// Package backoff computes retry delays for provider calls: exponential
// growth with uniform jitter, and Retry-After header interpretation.
package backoff

import (
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseDelay = 1 * time.Second
	DefaultMaxDelay  = 30 * time.Second

	// Jitter multiplies the raw delay by a uniform factor in
	// [1-jitterSpread, 1+jitterSpread].
	jitterSpread = 0.25
)

// Strategy computes retry delays. The zero value is not useful; construct
// with New. A Strategy is safe for concurrent use.
type Strategy struct {
	base time.Duration
	max  time.Duration

	nowFunc func() time.Time // for testing
}

// New returns a Strategy with the given base and max delays. Non-positive
// max falls back to DefaultMaxDelay; a zero base is honored (every delay
// is zero), negative base is treated as zero.
func New(base, max time.Duration) *Strategy {
	if base < 0 {
		base = 0
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	return &Strategy{base: base, max: max, nowFunc: time.Now}
}

// Default returns a Strategy with 1s base and 30s cap.
func Default() *Strategy {
	return New(DefaultBaseDelay, DefaultMaxDelay)
}

// SetNowFunc overrides the time source (for testing Retry-After dates).
func (s *Strategy) SetNowFunc(fn func() time.Time) {
	s.nowFunc = fn
}

// Delay returns the wait before retry number attempt (0-based):
// base * 2^attempt, jittered, clamped to [0, max]. A negative attempt
// yields a fractional exponent and so a delay below base.
func (s *Strategy) Delay(attempt int) time.Duration {
	if s.base == 0 {
		return 0
	}

	raw := float64(s.base) * math.Pow(2, float64(attempt))
	raw *= 1 + jitter(jitterSpread)

	if raw >= float64(s.max) || math.IsInf(raw, 1) {
		return s.max
	}
	if raw <= 0 {
		return 0
	}
	return time.Duration(raw)
}

// FromRetryAfter converts a Retry-After value into a wait duration.
// Numeric values are seconds; HTTP-date values wait until the date
// (never negative). Empty or unparseable values yield 0, leaving the
// caller to fall back to Delay.
func (s *Strategy) FromRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}

	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}

	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(s.nowFunc())
		if d < 0 {
			return 0
		}
		return d
	}

	return 0
}

// jitter returns a uniform value in [-spread, spread].
func jitter(spread float64) float64 {
	if spread <= 0 {
		return 0
	}
	return (rand.Float64()*2 - 1) * spread
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

package backoff_test

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/modelrelay/modelrelay/internal/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayStaysWithinBounds(t *testing.T) {
	s := backoff.New(1*time.Second, 30*time.Second)

	for attempt := -5; attempt <= 60; attempt++ {
		t.Run(fmt.Sprintf("attempt_%d", attempt), func(t *testing.T) {
			d := s.Delay(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, 30*time.Second)
		})
	}
}

func TestDelayZeroBaseAlwaysZero(t *testing.T) {
	s := backoff.New(0, 30*time.Second)

	for _, attempt := range []int{-3, 0, 1, 10, 100} {
		assert.Equal(t, time.Duration(0), s.Delay(attempt), "attempt %d", attempt)
	}
}

func TestDelayLargeAttemptClampsToMax(t *testing.T) {
	s := backoff.New(1*time.Second, 30*time.Second)

	// 2^40 seconds dwarfs the cap even after downward jitter.
	assert.Equal(t, 30*time.Second, s.Delay(40))
	assert.Equal(t, 30*time.Second, s.Delay(1 << 20))
}

func TestDelayNegativeAttemptShrinksDelay(t *testing.T) {
	s := backoff.New(1*time.Second, 30*time.Second)

	// base * 2^-2 = 250ms; jitter keeps it within [187.5ms, 312.5ms].
	d := s.Delay(-2)
	assert.GreaterOrEqual(t, d, 187*time.Millisecond)
	assert.LessOrEqual(t, d, 313*time.Millisecond)
}

func TestDelayDoublingHoldsOnAverage(t *testing.T) {
	s := backoff.New(100*time.Millisecond, time.Hour)

	const samples = 300
	mean := func(attempt int) float64 {
		var sum float64
		for i := 0; i < samples; i++ {
			sum += float64(s.Delay(attempt))
		}
		return sum / samples
	}

	m2, m3 := mean(2), mean(3)
	ratio := m3 / m2
	// Jitter is uniform around 1.0, so the sample mean ratio should sit
	// close to the deterministic doubling factor.
	assert.InDelta(t, 2.0, ratio, 0.25)
}

func TestDelayJitterSpread(t *testing.T) {
	s := backoff.New(1*time.Second, time.Hour)

	// attempt 1 → raw 2s, jittered into [1.5s, 2.5s].
	for i := 0; i < 200; i++ {
		d := s.Delay(1)
		assert.GreaterOrEqual(t, d, 1500*time.Millisecond)
		assert.LessOrEqual(t, d, 2500*time.Millisecond)
	}
}

func TestFromRetryAfterNumericSeconds(t *testing.T) {
	s := backoff.Default()

	assert.Equal(t, 60*time.Second, s.FromRetryAfter("60"))
	assert.Equal(t, 1500*time.Millisecond, s.FromRetryAfter("1.5"))
	assert.Equal(t, time.Duration(0), s.FromRetryAfter("0"))
	assert.Equal(t, time.Duration(0), s.FromRetryAfter("-3"))
}

func TestFromRetryAfterHTTPDate(t *testing.T) {
	now := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)
	s := backoff.Default()
	s.SetNowFunc(func() time.Time { return now })

	future := now.Add(90 * time.Second).Format(http.TimeFormat)
	d := s.FromRetryAfter(future)
	require.InDelta(t, float64(90*time.Second), float64(d), float64(2*time.Second))

	past := now.Add(-10 * time.Minute).Format(http.TimeFormat)
	assert.Equal(t, time.Duration(0), s.FromRetryAfter(past))

	// http.ParseTime only accepts the GMT-zoned HTTP-date forms; an
	// RFC1123 date carrying "UTC" is not a valid Retry-After value.
	utcZoned := now.Add(90 * time.Second).Format(time.RFC1123)
	assert.Equal(t, time.Duration(0), s.FromRetryAfter(utcZoned))
}

func TestFromRetryAfterInvalid(t *testing.T) {
	s := backoff.Default()

	for _, v := range []string{"", "   ", "soon", "60s", "next tuesday"} {
		assert.Equal(t, time.Duration(0), s.FromRetryAfter(v), "value %q", v)
	}
}

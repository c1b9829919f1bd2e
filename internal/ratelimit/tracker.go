// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

// Package ratelimit keeps the last quota observation reported by each
// upstream per provider/model pair. Snapshots are overwritten on every
// report and never expire; callers that care about staleness consult
// ObservedAt themselves.
package ratelimit

import (
	"sync"
	"time"

	"github.com/modelrelay/modelrelay/pkg/health"
)

// Tracker is a concurrency-safe snapshot store. The zero value is not
// ready; construct with NewTracker.
type Tracker struct {
	mu        sync.RWMutex
	snapshots map[key]health.RateLimit

	nowFunc func() time.Time // for testing
}

type key struct {
	provider string
	model    string
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		snapshots: make(map[key]health.RateLimit),
		nowFunc:   time.Now,
	}
}

// SetNowFunc overrides the time source (for testing).
func (t *Tracker) SetNowFunc(fn func() time.Time) {
	t.mu.Lock()
	t.nowFunc = fn
	t.mu.Unlock()
}

// Record overwrites the snapshot for the provider/model pair.
func (t *Tracker) Record(provider, model string, requestsRemaining, tokensRemaining int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snapshots[key{provider, model}] = health.RateLimit{
		Provider:          provider,
		Model:             model,
		RequestsRemaining: requestsRemaining,
		TokensRemaining:   tokensRemaining,
		ObservedAt:        t.nowFunc(),
	}
}

// Get returns the latest snapshot for the pair, or nil if none was ever
// recorded. The returned value is a copy; mutating it does not affect
// the tracker.
func (t *Tracker) Get(provider, model string) *health.RateLimit {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap, ok := t.snapshots[key{provider, model}]
	if !ok {
		return nil
	}
	return &snap
}

// All returns a copy of every tracked snapshot, for operator surfaces.
func (t *Tracker) All() []health.RateLimit {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]health.RateLimit, 0, len(t.snapshots))
	for _, snap := range t.snapshots {
		out = append(out, snap)
	}
	return out
}

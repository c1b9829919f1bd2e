// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

// Package health tracks a rolling availability score per provider/model
// pair. A pair starts fully available; each consecutive failure degrades
// the score as 1/(1+n) and one success restores it to 1.0. A background
// timer additionally resets pairs whose last failure is older than the
// cooldown, so a dead upstream gets re-tried instead of being shunned
// forever.
package health

import (
	"log/slog"
	"sync"
	"time"

	"github.com/modelrelay/modelrelay/internal/ratelimit"
	"github.com/modelrelay/modelrelay/pkg/health"
)

const (
	// DefaultCheckInterval is both the recovery timer period and the
	// default cooldown before an unhealthy pair auto-resets.
	DefaultCheckInterval = 60 * time.Second

	// DefaultThreshold is the availability floor below which a pair is
	// reported unhealthy. 1/(1+1) = 0.5, so a single failure sits right
	// on the edge and a second one tips the pair over.
	DefaultThreshold = 0.5

	// maxErrorHistory bounds the per-pair failure log, oldest first out.
	maxErrorHistory = 20
)

// Options configures a Checker. Zero values take the documented defaults;
// DisableAutoStart inverts the default-on recovery timer.
type Options struct {
	CheckInterval    time.Duration
	Cooldown         time.Duration // defaults to CheckInterval
	Threshold        float64
	DisableAutoStart bool
}

type key struct {
	provider string
	model    string
}

type record struct {
	consecutiveErrors uint
	lastError         *health.ErrorEntry
	errorHistory      []health.ErrorEntry
	lastFailureAt     time.Time
	lastSuccessAt     time.Time
}

// Checker owns the health records and the recovery timer. All methods are
// safe for concurrent use; records are created lazily and never removed.
type Checker struct {
	mu      sync.RWMutex
	records map[key]*record

	limits        *ratelimit.Tracker // read-only collaborator, may be nil
	checkInterval time.Duration
	cooldown      time.Duration
	threshold     float64

	nowFunc func() time.Time // for testing

	stopOnce sync.Once
	done     chan struct{}
	ticker   *time.Ticker
}

// NewChecker creates a Checker. limits supplies last-known quota for
// eligibility decisions and may be nil. Unless opts.DisableAutoStart is
// set, a recovery timer fires RunHealthCheck every CheckInterval until
// Stop is called.
func NewChecker(limits *ratelimit.Tracker, opts Options) *Checker {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = opts.CheckInterval
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}

	c := &Checker{
		records:       make(map[key]*record),
		limits:        limits,
		checkInterval: opts.CheckInterval,
		cooldown:      opts.Cooldown,
		threshold:     opts.Threshold,
		nowFunc:       time.Now,
		done:          make(chan struct{}),
	}

	if !opts.DisableAutoStart {
		c.ticker = time.NewTicker(c.checkInterval)
		go c.loop(c.ticker.C)
	}

	return c
}

func (c *Checker) loop(tick <-chan time.Time) {
	for {
		select {
		case <-c.done:
			return
		case <-tick:
			if n := c.RunHealthCheck(); n > 0 {
				slog.Debug("health check reset recovered pairs", "count", n)
			}
		}
	}
}

// SetNowFunc overrides the time source (for testing).
func (c *Checker) SetNowFunc(fn func() time.Time) {
	c.mu.Lock()
	c.nowFunc = fn
	c.mu.Unlock()
}

// RecordSuccess resets the failure count for the pair and stamps the
// success time. Availability returns to exactly 1.0.
func (c *Checker) RecordSuccess(provider, model string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.getOrCreateLocked(provider, model)
	rec.consecutiveErrors = 0
	rec.lastSuccessAt = c.nowFunc()
}

// RecordFailure increments the failure count and appends the error to the
// bounded history. A nil error is recorded with a placeholder message.
func (c *Checker) RecordFailure(provider, model string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	rec := c.getOrCreateLocked(provider, model)
	rec.consecutiveErrors++
	rec.lastFailureAt = now

	entry := health.ErrorEntry{Message: msg, Timestamp: now}
	rec.lastError = &entry
	rec.errorHistory = append(rec.errorHistory, entry)
	if len(rec.errorHistory) > maxErrorHistory {
		rec.errorHistory = rec.errorHistory[len(rec.errorHistory)-maxErrorHistory:]
	}
}

// GetHealth returns a snapshot of the pair's record. Unknown pairs come
// back fresh and fully available (and are materialized, matching the
// lazy-creation contract).
func (c *Checker) GetHealth(provider, model string) health.Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.getOrCreateLocked(provider, model)
	return snapshotLocked(provider, model, rec)
}

// IsHealthy reports whether the pair's availability clears the threshold.
func (c *Checker) IsHealthy(provider, model string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[key{provider, model}]
	if !ok {
		return true
	}
	return availability(rec.consecutiveErrors) >= c.threshold
}

// Eligible reports whether the pair should receive traffic: healthy, and
// not known to be out of request quota.
func (c *Checker) Eligible(provider, model string) bool {
	if !c.IsHealthy(provider, model) {
		return false
	}
	if c.limits == nil {
		return true
	}
	if snap := c.limits.Get(provider, model); snap != nil && snap.RequestsRemaining == 0 {
		return false
	}
	return true
}

// RunHealthCheck resets every pair whose failure streak is older than the
// cooldown. The reset is single-shot: a pair past the cooldown recovers
// fully on this tick, there is no gradual decay. Returns the number of
// pairs reset. Called by the timer and callable manually.
func (c *Checker) RunHealthCheck() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	reset := 0
	for _, rec := range c.records {
		if rec.consecutiveErrors == 0 {
			continue
		}
		if now.Sub(rec.lastFailureAt) >= c.cooldown {
			rec.consecutiveErrors = 0
			reset++
		}
	}
	return reset
}

// Snapshot returns records for every tracked pair, for operator surfaces.
func (c *Checker) Snapshot() []health.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]health.Record, 0, len(c.records))
	for k, rec := range c.records {
		out = append(out, snapshotLocked(k.provider, k.model, rec))
	}
	return out
}

// Stop cancels the recovery timer. Safe to call multiple times; a no-op
// when the checker was built with DisableAutoStart.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		if c.ticker != nil {
			c.ticker.Stop()
		}
	})
}

func (c *Checker) getOrCreateLocked(provider, model string) *record {
	k := key{provider, model}
	rec, ok := c.records[k]
	if !ok {
		rec = &record{}
		c.records[k] = rec
	}
	return rec
}

func snapshotLocked(provider, model string, rec *record) health.Record {
	out := health.Record{
		Provider:          provider,
		Model:             model,
		Availability:      availability(rec.consecutiveErrors),
		ConsecutiveErrors: rec.consecutiveErrors,
	}

	if rec.lastError != nil {
		e := *rec.lastError
		out.LastError = &e
	}
	if len(rec.errorHistory) > 0 {
		out.ErrorHistory = append([]health.ErrorEntry(nil), rec.errorHistory...)
	}
	if !rec.lastFailureAt.IsZero() {
		t := rec.lastFailureAt
		out.LastFailureAt = &t
	}
	if !rec.lastSuccessAt.IsZero() {
		t := rec.lastSuccessAt
		out.LastSuccessAt = &t
	}
	return out
}

// availability derives the score from the failure streak. This is the
// single source of truth; no raw score is stored anywhere.
func availability(consecutiveErrors uint) float64 {
	return 1.0 / (1.0 + float64(consecutiveErrors))
}

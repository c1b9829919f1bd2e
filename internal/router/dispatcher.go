// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

// Package router selects a healthy provider for a model, calls it with
// retry, and keeps the health, quota, and tracking collaborators fed
// with the outcome.
package router

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/backoff"
	"github.com/modelrelay/modelrelay/internal/health"
	"github.com/modelrelay/modelrelay/internal/provider"
	"github.com/modelrelay/modelrelay/internal/store"
	"github.com/modelrelay/modelrelay/pkg/errors"
	healthtypes "github.com/modelrelay/modelrelay/pkg/health"
)

const (
	defaultMaxAttempts  = 3
	defaultTrackTimeout = 5 * time.Second
)

// Options configures a Dispatcher.
type Options struct {
	// MaxAttempts is the per-provider attempt ceiling, default 3.
	MaxAttempts int
	// Backoff computes retry delays, default backoff.Default().
	Backoff *backoff.Strategy
	// Tracking receives fire-and-forget call records, may be nil.
	Tracking store.TrackingStore
	Logger   *slog.Logger
}

// Request is one completion to dispatch. Provider optionally pins a
// registered provider ID; empty means any eligible provider may serve.
type Request struct {
	Provider string
	Model    string
	Messages []provider.Message
	Options  provider.Options
}

// RateLimitRecorder is the slice of the rate-limit tracker the
// dispatcher needs; *ratelimit.Tracker satisfies it.
type RateLimitRecorder interface {
	Record(provider, model string, requestsRemaining, tokensRemaining int)
}

// Dispatcher routes requests across registered providers.
type Dispatcher struct {
	registry    *provider.Registry
	checker     *health.Checker
	limits      RateLimitRecorder
	backoff     *backoff.Strategy
	maxAttempts int
	tracking    store.TrackingStore
	logger      *slog.Logger

	sleepFn func(context.Context, time.Duration) error
	trackWG sync.WaitGroup
}

// New creates a Dispatcher over the given collaborators.
func New(registry *provider.Registry, checker *health.Checker, limits RateLimitRecorder, opts Options) *Dispatcher {
	d := &Dispatcher{
		registry:    registry,
		checker:     checker,
		limits:      limits,
		backoff:     opts.Backoff,
		maxAttempts: opts.MaxAttempts,
		tracking:    opts.Tracking,
		logger:      opts.Logger,
	}
	if d.backoff == nil {
		d.backoff = backoff.Default()
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = defaultMaxAttempts
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.sleepFn = sleepCtx
	return d
}

// outcome is what one provider call produced on success.
type outcome struct {
	rateLimits *healthtypes.RateLimit
	response   json.RawMessage
	usage      provider.Usage
}

type callFunc func(context.Context, provider.Provider) (outcome, error)

// abortError marks a failure that must not be retried or failed over:
// either the stream consumer itself failed, or partial output was
// already delivered and cannot be retracted.
type abortError struct {
	err error
	// classify is false when the wrapped error came from the consumer's
	// chunk callback; such errors propagate without reclassification and
	// do not count against provider health.
	classify bool
}

func (e *abortError) Error() string { return e.err.Error() }
func (e *abortError) Unwrap() error { return e.err }

// Complete dispatches a unary completion.
func (d *Dispatcher) Complete(ctx context.Context, req Request) (*provider.CompletionResult, error) {
	var result *provider.CompletionResult
	err := d.dispatch(ctx, req, func(ctx context.Context, p provider.Provider) (outcome, error) {
		res, err := p.Complete(ctx, req.Model, req.Messages, req.Options)
		if err != nil {
			return outcome{}, err
		}
		result = res
		return outcome{rateLimits: res.RateLimits, response: res.Raw, usage: res.Usage}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Stream dispatches a streaming completion, relaying chunks to onChunk in
// arrival order. Once any chunk has been delivered, failures are no
// longer retried or failed over: partial output cannot be retracted.
func (d *Dispatcher) Stream(ctx context.Context, req Request, onChunk provider.ChunkFunc) (*provider.StreamResult, error) {
	var result *provider.StreamResult

	err := d.dispatch(ctx, req, func(ctx context.Context, p provider.Provider) (outcome, error) {
		delivered := 0
		var consumerErr error
		res, err := p.Stream(ctx, req.Model, req.Messages, req.Options, func(c provider.Chunk) error {
			delivered++
			if err := onChunk(c); err != nil {
				consumerErr = err
				return err
			}
			return nil
		})
		if err != nil {
			if consumerErr != nil && stderrors.Is(err, consumerErr) {
				return outcome{}, &abortError{err: err, classify: false}
			}
			if delivered > 0 {
				return outcome{}, &abortError{err: err, classify: true}
			}
			return outcome{}, err
		}
		result = res
		return outcome{rateLimits: res.RateLimits, usage: res.Usage}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request, call callFunc) error {
	if req.Model == "" {
		return errors.New(errors.CodeProviderInvalidModelRef, "model is required")
	}
	if err := d.resolveRef(&req); err != nil {
		return err
	}

	candidates := d.candidates(req)
	if len(candidates) == 0 {
		return errors.New(errors.CodeProviderAllUnavailable,
			"no eligible provider for model "+req.Model, errors.FieldModel(req.Model))
	}

	reqCtx := map[string]any{
		"model":    req.Model,
		"messages": req.Messages,
		"options":  req.Options,
	}

	var lastErr error
	for _, p := range candidates {
		err, failover := d.attempt(ctx, p, req, reqCtx, call)
		if err == nil {
			return nil
		}
		lastErr = err
		if !failover {
			return err
		}
		d.logger.Warn("provider exhausted, failing over",
			"provider", p.ID(), "model", req.Model)
	}
	return lastErr
}

// attempt runs the retry loop against one provider. A nil error means
// success; failover reports whether the dispatcher may move on to the
// next candidate.
func (d *Dispatcher) attempt(ctx context.Context, p provider.Provider, req Request, reqCtx map[string]any, call callFunc) (_ error, failover bool) {
	start := time.Now()
	var lastSE *provider.StandardizedError

	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		out, err := call(ctx, p)

		if err == nil {
			if ctx.Err() != nil {
				// The caller is gone; the result is undeliverable and must
				// not count as provider health.
				return p.Classify(ctx.Err(), reqCtx), false
			}
			d.checker.RecordSuccess(p.ID(), req.Model)
			if rl := out.rateLimits; rl != nil {
				d.limits.Record(rl.Provider, rl.Model, rl.RequestsRemaining, rl.TokensRemaining)
			}
			d.track(p, req, out, time.Since(start), nil)
			return nil, false
		}

		var abort *abortError
		if stderrors.As(err, &abort) {
			if !abort.classify {
				// Consumer callback failure propagates unmodified.
				return abort.err, false
			}
			se := p.Classify(abort.err, reqCtx)
			d.checker.RecordFailure(p.ID(), req.Model, se)
			d.track(p, req, outcome{}, time.Since(start), se)
			return se, false
		}

		se := p.Classify(err, reqCtx)
		if ctx.Err() != nil {
			return se, false
		}
		lastSE = se

		d.checker.RecordFailure(p.ID(), req.Model, se)
		d.logger.Warn("provider call failed",
			"provider", p.ID(), "model", req.Model, "attempt", attempt,
			"code", se.Code, "retryable", se.ShouldRetry())

		if !se.ShouldRetry() || attempt == d.maxAttempts-1 {
			break
		}

		// An upstream Retry-After supersedes computed backoff.
		delay := d.backoff.FromRetryAfter(se.RetryAfter)
		if delay <= 0 {
			delay = d.backoff.Delay(attempt)
		}
		if err := d.sleepFn(ctx, delay); err != nil {
			return se, false
		}
	}

	d.track(p, req, outcome{}, time.Since(start), lastSE)
	return lastSE, true
}

// resolveRef pins the request to a provider when the model is written
// as "provider/model". A slash is ambiguous: some upstream model names
// contain one, so a provider literally supporting the full string wins
// over splitting. Past that, a prefix that names no registered provider
// is a bad reference.
func (d *Dispatcher) resolveRef(req *Request) error {
	if req.Provider != "" || !strings.Contains(req.Model, "/") {
		return nil
	}
	for _, p := range d.registry.Ordered() {
		if slices.Contains(p.SupportedModels(), req.Model) {
			return nil
		}
	}

	id, model := provider.ParseRef(req.Model)
	if model == "" {
		return errors.New(errors.CodeProviderInvalidModelRef,
			"model ref missing model name: "+req.Model, errors.FieldModel(req.Model))
	}
	if _, err := d.registry.Get(id); err != nil {
		return errors.Wrap(err, errors.CodeProviderInvalidModelRef,
			"unknown provider in model ref: "+req.Model, errors.FieldModel(req.Model))
	}
	req.Provider, req.Model = id, model
	return nil
}

// candidates returns providers eligible for the request in priority
// order.
func (d *Dispatcher) candidates(req Request) []provider.Provider {
	var out []provider.Provider
	for _, p := range d.registry.Ordered() {
		if req.Provider != "" && p.ID() != req.Provider {
			continue
		}
		if !slices.Contains(p.SupportedModels(), req.Model) {
			continue
		}
		if !d.checker.Eligible(p.ID(), req.Model) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// track hands the outcome to the tracking store without blocking or
// failing the request.
func (d *Dispatcher) track(p provider.Provider, req Request, out outcome, duration time.Duration, se *provider.StandardizedError) {
	if d.tracking == nil {
		return
	}

	rec := store.CallRecord{
		ID:           uuid.NewString(),
		Provider:     p.ID(),
		ProviderType: p.Type(),
		Model:        req.Model,
		Response:     out.response,
		Status:       store.CallStatusSuccess,
		Duration:     duration,
		InputTokens:  out.usage.InputTokens,
		OutputTokens: out.usage.OutputTokens,
		CreatedAt:    time.Now().UTC(),
	}
	if body, err := p.BuildRequestBody(req.Model, req.Messages, req.Options); err == nil {
		if b, err := json.Marshal(body); err == nil {
			rec.Request = b
		}
	}
	if se != nil {
		rec.Status = store.CallStatusError
		rec.ErrorCode = string(se.Code)
	}

	d.trackWG.Add(1)
	go func() {
		defer d.trackWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), defaultTrackTimeout)
		defer cancel()
		if err := d.tracking.RecordCall(ctx, rec); err != nil {
			d.logger.Error("recording call failed", "provider", rec.Provider, "error", err)
		}
	}()
}

// drain waits for in-flight tracking writes.
func (d *Dispatcher) drain() { d.trackWG.Wait() }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

package provider

import (
	"context"
	"encoding/json"
	"maps"
	"net/url"

	"github.com/modelrelay/modelrelay/pkg/health"
)

// Provider is an adapter to one upstream LLM completion API. Implementations
// are stateless with respect to requests; health and quota bookkeeping live
// with the dispatcher's collaborators, not here.
type Provider interface {
	// Type identifies the upstream API family ("openai", "groq", ...).
	Type() string
	// ID is the configured instance identifier, empty if none was set.
	ID() string

	Endpoint() *url.URL
	// Headers returns the request headers, auth included.
	Headers() map[string]string
	// BuildRequestBody merges caller options over the provider's defaults.
	// Unknown option keys pass through to the wire body untouched.
	BuildRequestBody(model string, msgs []Message, opts Options) (map[string]any, error)

	// Complete issues a unary completion. On failure it returns the raw,
	// provider-native error; callers standardize it via Classify.
	Complete(ctx context.Context, model string, msgs []Message, opts Options) (*CompletionResult, error)

	// Stream issues a streamed completion, invoking onChunk once per
	// received unit in arrival order. onChunk runs synchronously with the
	// stream: the next network read waits for it to return. A non-nil
	// return from onChunk aborts the stream and propagates unmodified;
	// chunks already delivered are not retracted.
	Stream(ctx context.Context, model string, msgs []Message, opts Options, onChunk ChunkFunc) (*StreamResult, error)

	// Classify maps a raw failure into a StandardizedError. Deterministic,
	// stateless, never fails.
	Classify(err error, reqCtx map[string]any) *StandardizedError

	SupportedModels() []string
}

// Message is one turn of the conversation sent upstream.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Options carries caller-supplied request parameters (temperature,
// max_tokens, ...). Keys the provider does not recognize still reach the
// wire body, so upstream-specific knobs need no relay release.
type Options map[string]any

// Merge layers opts over defaults without mutating either.
func (o Options) Merge(defaults Options) Options {
	out := make(Options, len(defaults)+len(o))
	maps.Copy(out, defaults)
	maps.Copy(out, o)
	return out
}

// Usage tracks token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CompletionResult is the outcome of a unary call.
type CompletionResult struct {
	Content      string
	Model        string
	FinishReason string
	Usage        Usage

	// RateLimits is the quota snapshot reported alongside the response,
	// nil when the upstream does not expose one. The dispatcher forwards
	// it to the rate-limit tracker.
	RateLimits *health.RateLimit

	// Raw is the undecoded upstream response body, for tracking sinks.
	Raw json.RawMessage
}

// Chunk is one streamed delta, in arrival order.
type Chunk struct {
	Text string
}

// ChunkFunc consumes one chunk. Returning an error aborts the stream.
type ChunkFunc func(Chunk) error

// StreamResult is the outcome of a completed (or aborted) stream.
// Content accumulates every delivered chunk.
type StreamResult struct {
	Content      string
	Model        string
	FinishReason string
	Usage        Usage
	RateLimits   *health.RateLimit
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

// Package openaicompat implements the provider contract over the raw
// OpenAI-compatible chat completions wire protocol. It backs both the
// "groq" provider type and the generic "openai-compatible" type, which
// covers any endpoint speaking the same dialect (Together, Fireworks,
// local vLLM, and so on).
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/modelrelay/modelrelay/internal/provider"
	"github.com/modelrelay/modelrelay/internal/provider/transport"
	"github.com/modelrelay/modelrelay/pkg/errors"
	"github.com/modelrelay/modelrelay/pkg/health"
)

const (
	// GroqBaseURL is the default endpoint for the "groq" provider type.
	GroqBaseURL = "https://api.groq.com/openai/v1"

	chatCompletionsPath = "/chat/completions"
)

var groqDefaultModels = []string{
	"llama-3.3-70b-versatile",
	"llama-3.1-8b-instant",
	"openai/gpt-oss-120b",
}

// Provider speaks the OpenAI chat completions dialect against an
// arbitrary base URL.
type Provider struct {
	id       string
	typ      string
	apiKey   string
	models   []string
	defaults provider.Options
	client   *transport.Client
}

// Option customizes a Provider beyond its factory Config.
type Option func(*Provider)

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) { p.client.HTTPClient = hc }
}

// WithDefaults sets request options applied to every call unless the
// caller overrides them.
func WithDefaults(opts provider.Options) Option {
	return func(p *Provider) { p.defaults = opts }
}

// New builds an OpenAI-compatible provider from a factory Config. The
// "groq" type fills in the Groq endpoint and model list when the config
// leaves them empty; the generic type requires an explicit endpoint.
func New(cfg provider.Config, opts ...Option) (*Provider, error) {
	baseURL := cfg.Endpoint
	models := cfg.Models
	if cfg.Type == "groq" {
		if baseURL == "" {
			baseURL = GroqBaseURL
		}
		if len(models) == 0 {
			models = groqDefaultModels
		}
	}
	if baseURL == "" {
		return nil, errors.New(errors.CodeConfigValidateInvalidValue,
			fmt.Sprintf("endpoint is required for provider type %q", cfg.Type),
			errors.FieldProvider(cfg.ID))
	}
	if cfg.APIKey == "" {
		return nil, errors.New(errors.CodeConfigValidateInvalidValue,
			"apiKey is required", errors.FieldProvider(cfg.ID))
	}

	client, err := transport.New(baseURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConfigValidateInvalidValue,
			"invalid endpoint URL", errors.FieldProvider(cfg.ID))
	}

	p := &Provider{
		id:     cfg.ID,
		typ:    cfg.Type,
		apiKey: cfg.APIKey,
		models: models,
		client: client,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Provider) Type() string { return p.typ }
func (p *Provider) ID() string   { return p.id }

func (p *Provider) Endpoint() *url.URL {
	u, err := url.Parse(p.client.Resolve(chatCompletionsPath))
	if err != nil {
		return p.client.BaseURL
	}
	return u
}

func (p *Provider) Headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + p.apiKey,
		"Content-Type":  "application/json",
	}
}

func (p *Provider) SupportedModels() []string {
	out := make([]string, len(p.models))
	copy(out, p.models)
	return out
}

// BuildRequestBody assembles the wire payload. Caller options are spread
// into the body after the defaults, so any field the upstream accepts
// (temperature, max_tokens, stop, ...) passes through without this
// package having to enumerate it.
func (p *Provider) BuildRequestBody(model string, msgs []provider.Message, opts provider.Options) (map[string]any, error) {
	if model == "" {
		return nil, errors.New(errors.CodeProviderRequestInvalid,
			"model is required", errors.FieldProvider(p.id))
	}
	wireMsgs := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		wireMsgs = append(wireMsgs, map[string]any{
			"role":    m.Role,
			"content": m.Content,
		})
	}
	body := map[string]any{
		"model":    model,
		"messages": wireMsgs,
	}
	for k, v := range opts.Merge(p.defaults) {
		body[k] = v
	}
	return body, nil
}

// chatResponse models both the unary response and the stream chunk, which
// share everything except message-vs-delta.
type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage"`
}

type chatChoice struct {
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason"`
	Message      struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Complete issues a unary chat completion.
func (p *Provider) Complete(ctx context.Context, model string, msgs []provider.Message, opts provider.Options) (*provider.CompletionResult, error) {
	body, err := p.BuildRequestBody(model, msgs, opts)
	if err != nil {
		return nil, err
	}

	raw, header, err := p.client.DoJSON(ctx, http.MethodPost, chatCompletionsPath, headerOf(p.Headers()), body)
	if err != nil {
		return nil, err
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, errors.CodeProviderResponseInvalid,
			"decode chat completion response", errors.FieldProvider(p.id))
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New(errors.CodeProviderResponseInvalid,
			"chat completion response has no choices", errors.FieldProvider(p.id))
	}

	result := &provider.CompletionResult{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		FinishReason: resp.Choices[0].FinishReason,
		RateLimits:   p.rateLimitsFromHeader(model, header),
		Raw:          raw,
	}
	if resp.Usage != nil {
		result.Usage = provider.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return result, nil
}

// Stream issues a streaming chat completion, invoking onChunk
// synchronously for every content delta. It returns once the upstream
// signals [DONE] or closes the connection.
func (p *Provider) Stream(ctx context.Context, model string, msgs []provider.Message, opts provider.Options, onChunk provider.ChunkFunc) (*provider.StreamResult, error) {
	body, err := p.BuildRequestBody(model, msgs, opts)
	if err != nil {
		return nil, err
	}
	body["stream"] = true

	resp, err := p.client.DoStream(ctx, http.MethodPost, chatCompletionsPath, headerOf(p.Headers()), body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	result := &provider.StreamResult{
		Model:      model,
		RateLimits: p.rateLimitsFromHeader(model, resp.Header),
	}

	var content strings.Builder
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		data := bytes.TrimSpace(line[len("data:"):])
		if len(data) == 0 {
			continue
		}
		if bytes.Equal(data, []byte("[DONE]")) {
			break
		}

		var chunk chatResponse
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil, errors.Wrap(err, errors.CodeProviderResponseInvalid,
				"decode stream chunk", errors.FieldProvider(p.id))
		}
		if chunk.Model != "" {
			result.Model = chunk.Model
		}
		if chunk.Usage != nil {
			result.Usage = provider.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}
		}
		for _, choice := range chunk.Choices {
			if choice.FinishReason != "" {
				result.FinishReason = choice.FinishReason
			}
			if choice.Delta.Content == "" {
				continue
			}
			content.WriteString(choice.Delta.Content)
			if err := onChunk(provider.Chunk{Text: choice.Delta.Content}); err != nil {
				return nil, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	result.Content = content.String()
	return result, nil
}

// Classify maps a raw transport error onto the shared taxonomy.
func (p *Provider) Classify(err error, reqCtx map[string]any) *provider.StandardizedError {
	return provider.Classify(err, p.typ, p.id, reqCtx)
}

// rateLimitsFromHeader reads the x-ratelimit-remaining-* headers Groq and
// most compatible gateways emit. A missing requests header yields nil
// rather than a zeroed snapshot, so absent quota data never reads as
// exhausted.
func (p *Provider) rateLimitsFromHeader(model string, h http.Header) *health.RateLimit {
	reqRemaining, ok := headerInt(h, "x-ratelimit-remaining-requests")
	if !ok {
		return nil
	}
	tokRemaining, _ := headerInt(h, "x-ratelimit-remaining-tokens")
	return &health.RateLimit{
		Provider:          p.id,
		Model:             model,
		RequestsRemaining: reqRemaining,
		TokensRemaining:   tokRemaining,
		ObservedAt:        time.Now().UTC(),
	}
}

func headerInt(h http.Header, key string) (int, bool) {
	v := h.Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func headerOf(m map[string]string) http.Header {
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}

var _ provider.Provider = (*Provider)(nil)

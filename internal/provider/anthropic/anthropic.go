// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

// Package anthropic implements the provider contract on top of the
// official Anthropic Go SDK (Messages API).
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/modelrelay/modelrelay/internal/provider"
	relayerrors "github.com/modelrelay/modelrelay/pkg/errors"
	"github.com/modelrelay/modelrelay/pkg/health"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"

	// The Messages API requires max_tokens; this applies when the caller
	// does not set one.
	defaultMaxTokens = 4096
)

var defaultModels = []string{
	"claude-opus-4-6",
	"claude-sonnet-4-5",
	"claude-haiku-4-5",
}

// Provider implements the provider contract using the Anthropic Messages API.
type Provider struct {
	id       string
	apiKey   string
	baseURL  string
	models   []string
	defaults provider.Options
	client   anthropicsdk.Client
}

type Option func(*Provider)

// WithDefaults sets request options applied to every call unless the
// caller overrides them.
func WithDefaults(opts provider.Options) Option {
	return func(p *Provider) { p.defaults = opts }
}

// WithHTTPClient overrides the SDK's HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) {
		p.client = anthropicsdk.NewClient(p.clientOptions(option.WithHTTPClient(hc))...)
	}
}

// New creates an Anthropic provider from a factory Config. Endpoint
// overrides the API base URL, which is useful against mock servers.
func New(cfg provider.Config, opts ...Option) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, relayerrors.New(relayerrors.CodeConfigValidateInvalidValue,
			"apiKey is required", relayerrors.FieldProvider(cfg.ID))
	}

	p := &Provider{
		id:      cfg.ID,
		apiKey:  cfg.APIKey,
		baseURL: cfg.Endpoint,
		models:  cfg.Models,
	}
	if p.baseURL == "" {
		p.baseURL = defaultBaseURL
	}
	if len(p.models) == 0 {
		p.models = defaultModels
	}
	p.client = anthropicsdk.NewClient(p.clientOptions()...)
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Provider) clientOptions(extra ...option.RequestOption) []option.RequestOption {
	opts := []option.RequestOption{
		option.WithAPIKey(p.apiKey),
		option.WithBaseURL(p.baseURL),
		option.WithMaxRetries(0), // retry policy belongs to the dispatcher
	}
	return append(opts, extra...)
}

func (p *Provider) Type() string { return "anthropic" }
func (p *Provider) ID() string   { return p.id }

func (p *Provider) Endpoint() *url.URL {
	u, err := url.Parse(strings.TrimSuffix(p.baseURL, "/") + "/v1/messages")
	if err != nil {
		return &url.URL{}
	}
	return u
}

func (p *Provider) Headers() map[string]string {
	return map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": apiVersion,
		"Content-Type":      "application/json",
	}
}

func (p *Provider) SupportedModels() []string {
	out := make([]string, len(p.models))
	copy(out, p.models)
	return out
}

// BuildRequestBody mirrors the Messages API wire payload. System messages
// are lifted into the top-level system field, matching what the SDK sends.
func (p *Provider) BuildRequestBody(model string, msgs []provider.Message, opts provider.Options) (map[string]any, error) {
	if model == "" {
		return nil, relayerrors.New(relayerrors.CodeProviderRequestInvalid,
			"model is required", relayerrors.FieldProvider(p.id))
	}

	var system string
	wireMsgs := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == provider.RoleSystem {
			system = m.Content
			continue
		}
		wireMsgs = append(wireMsgs, map[string]any{
			"role":    m.Role,
			"content": m.Content,
		})
	}

	body := map[string]any{
		"model":      model,
		"messages":   wireMsgs,
		"max_tokens": defaultMaxTokens,
	}
	if system != "" {
		body["system"] = system
	}
	for k, v := range opts.Merge(p.defaults) {
		body[k] = v
	}
	return body, nil
}

func (p *Provider) params(model string, msgs []provider.Message, opts provider.Options) (anthropicsdk.MessageNewParams, []option.RequestOption, error) {
	var system string
	sdkMsgs := make([]anthropicsdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case provider.RoleSystem:
			// Handled via the top-level system param.
			system = m.Content
		case provider.RoleUser:
			sdkMsgs = append(sdkMsgs, anthropicsdk.NewUserMessage(
				anthropicsdk.NewTextBlock(m.Content)))
		case provider.RoleAssistant:
			sdkMsgs = append(sdkMsgs, anthropicsdk.NewAssistantMessage(
				anthropicsdk.NewTextBlock(m.Content)))
		default:
			return anthropicsdk.MessageNewParams{}, nil,
				relayerrors.New(relayerrors.CodeProviderRequestInvalid,
					fmt.Sprintf("unsupported message role %q", m.Role),
					relayerrors.FieldProvider(p.id))
		}
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		Messages:  sdkMsgs,
		MaxTokens: defaultMaxTokens,
	}
	if system != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: system}}
	}

	var extra []option.RequestOption
	for k, v := range opts.Merge(p.defaults) {
		switch k {
		case "max_tokens":
			if f, ok := asFloat(v); ok {
				params.MaxTokens = int64(f)
			}
		case "temperature":
			if f, ok := asFloat(v); ok {
				params.Temperature = anthropicsdk.Float(f)
			}
		case "top_p":
			if f, ok := asFloat(v); ok {
				params.TopP = anthropicsdk.Float(f)
			}
		case "stop":
			if ss, ok := asStrings(v); ok {
				params.StopSequences = ss
			}
		default:
			extra = append(extra, option.WithJSONSet(k, v))
		}
	}
	return params, extra, nil
}

// Complete issues a unary message call.
func (p *Provider) Complete(ctx context.Context, model string, msgs []provider.Message, opts provider.Options) (*provider.CompletionResult, error) {
	params, extra, err := p.params(model, msgs, opts)
	if err != nil {
		return nil, err
	}

	var httpResp *http.Response
	extra = append(extra, option.WithResponseInto(&httpResp))

	msg, err := p.client.Messages.New(ctx, params, extra...)
	if err != nil {
		return nil, err
	}

	var content strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	result := &provider.CompletionResult{
		Content:      content.String(),
		Model:        string(msg.Model),
		FinishReason: string(msg.StopReason),
		Usage: provider.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
		Raw: []byte(msg.RawJSON()),
	}
	if httpResp != nil {
		result.RateLimits = rateLimitsFromHeader(p.id, model, httpResp.Header)
	}
	return result, nil
}

// Stream issues a streaming message call, invoking onChunk synchronously
// per text delta.
func (p *Provider) Stream(ctx context.Context, model string, msgs []provider.Message, opts provider.Options, onChunk provider.ChunkFunc) (*provider.StreamResult, error) {
	params, extra, err := p.params(model, msgs, opts)
	if err != nil {
		return nil, err
	}

	var httpResp *http.Response
	extra = append(extra, option.WithResponseInto(&httpResp))

	stream := p.client.Messages.NewStreaming(ctx, params, extra...)
	defer stream.Close()

	result := &provider.StreamResult{Model: model}
	var content strings.Builder

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			if event.Message.Model != "" {
				result.Model = string(event.Message.Model)
			}
			result.Usage.InputTokens = int(event.Message.Usage.InputTokens)
		case "content_block_delta":
			if event.Delta.Type != "text_delta" || event.Delta.Text == "" {
				continue
			}
			content.WriteString(event.Delta.Text)
			if err := onChunk(provider.Chunk{Text: event.Delta.Text}); err != nil {
				return nil, err
			}
		case "message_delta":
			// message_delta carries the stop reason and final output usage.
			if event.Delta.StopReason != "" {
				result.FinishReason = string(event.Delta.StopReason)
			}
			result.Usage.OutputTokens = int(event.Usage.OutputTokens)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	result.Content = content.String()
	if httpResp != nil {
		result.RateLimits = rateLimitsFromHeader(p.id, model, httpResp.Header)
	}
	return result, nil
}

// Classify maps SDK errors onto the shared taxonomy. The SDK surfaces
// HTTP failures as *anthropic.Error carrying the status code and response.
func (p *Provider) Classify(err error, reqCtx map[string]any) *provider.StandardizedError {
	status := 0
	retryAfter := ""
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
		if apiErr.Response != nil {
			retryAfter = apiErr.Response.Header.Get("Retry-After")
		}
	}
	return provider.ClassifyHTTP(err, status, retryAfter, "anthropic", p.id, reqCtx)
}

func rateLimitsFromHeader(id, model string, h http.Header) *health.RateLimit {
	reqRemaining, ok := headerInt(h, "anthropic-ratelimit-requests-remaining")
	if !ok {
		return nil
	}
	tokRemaining, _ := headerInt(h, "anthropic-ratelimit-tokens-remaining")
	return &health.RateLimit{
		Provider:          id,
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

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func asStrings(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			str, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	case string:
		return []string{s}, true
	}
	return nil, false
}

var _ provider.Provider = (*Provider)(nil)

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

// Package openai implements the provider contract on top of the official
// OpenAI Go SDK.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/modelrelay/modelrelay/internal/provider"
	relayerrors "github.com/modelrelay/modelrelay/pkg/errors"
	"github.com/modelrelay/modelrelay/pkg/health"
)

const defaultBaseURL = "https://api.openai.com/v1"

var defaultModels = []string{
	"gpt-4.1",
	"gpt-4.1-mini",
	"gpt-4.1-nano",
	"o3",
	"o4-mini",
}

// Provider implements the provider contract using the OpenAI Chat
// Completions API.
type Provider struct {
	id       string
	apiKey   string
	baseURL  string
	models   []string
	defaults provider.Options
	client   openaisdk.Client
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
		p.client = openaisdk.NewClient(p.clientOptions(option.WithHTTPClient(hc))...)
	}
}

// New creates an OpenAI provider from a factory Config. Endpoint
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
	p.client = openaisdk.NewClient(p.clientOptions()...)
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

func (p *Provider) Type() string { return "openai" }
func (p *Provider) ID() string   { return p.id }

func (p *Provider) Endpoint() *url.URL {
	u, err := url.Parse(strings.TrimSuffix(p.baseURL, "/") + "/chat/completions")
	if err != nil {
		return &url.URL{}
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

// BuildRequestBody mirrors the wire payload the SDK will send, for
// tracking and inspection. Caller options are spread over the defaults;
// unknown keys are kept and injected into the SDK request verbatim.
func (p *Provider) BuildRequestBody(model string, msgs []provider.Message, opts provider.Options) (map[string]any, error) {
	if model == "" {
		return nil, relayerrors.New(relayerrors.CodeProviderRequestInvalid,
			"model is required", relayerrors.FieldProvider(p.id))
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

// params converts messages and merged options into SDK params plus
// request options carrying any pass-through keys the params struct does
// not model.
func (p *Provider) params(model string, msgs []provider.Message, opts provider.Options) (openaisdk.ChatCompletionNewParams, []option.RequestOption, error) {
	sdkMsgs := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case provider.RoleSystem:
			sdkMsgs = append(sdkMsgs, openaisdk.SystemMessage(m.Content))
		case provider.RoleUser:
			sdkMsgs = append(sdkMsgs, openaisdk.UserMessage(m.Content))
		case provider.RoleAssistant:
			sdkMsgs = append(sdkMsgs, openaisdk.AssistantMessage(m.Content))
		default:
			return openaisdk.ChatCompletionNewParams{}, nil,
				relayerrors.New(relayerrors.CodeProviderRequestInvalid,
					fmt.Sprintf("unsupported message role %q", m.Role),
					relayerrors.FieldProvider(p.id))
		}
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: sdkMsgs,
	}

	var extra []option.RequestOption
	for k, v := range opts.Merge(p.defaults) {
		switch k {
		case "temperature":
			if f, ok := asFloat(v); ok {
				params.Temperature = param.NewOpt(f)
			}
		case "max_tokens":
			if f, ok := asFloat(v); ok {
				params.MaxCompletionTokens = param.NewOpt(int64(f))
			}
		case "top_p":
			if f, ok := asFloat(v); ok {
				params.TopP = param.NewOpt(f)
			}
		case "stop":
			if ss, ok := asStrings(v); ok {
				params.Stop = openaisdk.ChatCompletionNewParamsStopUnion{OfStringArray: ss}
			}
		default:
			extra = append(extra, option.WithJSONSet(k, v))
		}
	}
	return params, extra, nil
}

// Complete issues a unary chat completion.
func (p *Provider) Complete(ctx context.Context, model string, msgs []provider.Message, opts provider.Options) (*provider.CompletionResult, error) {
	params, extra, err := p.params(model, msgs, opts)
	if err != nil {
		return nil, err
	}

	var httpResp *http.Response
	extra = append(extra, option.WithResponseInto(&httpResp))

	resp, err := p.client.Chat.Completions.New(ctx, params, extra...)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, relayerrors.New(relayerrors.CodeProviderResponseInvalid,
			"chat completion response has no choices", relayerrors.FieldProvider(p.id))
	}

	result := &provider.CompletionResult{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: provider.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
		Raw: []byte(resp.RawJSON()),
	}
	if httpResp != nil {
		result.RateLimits = rateLimitsFromHeader(p.id, model, httpResp.Header)
	}
	return result, nil
}

// Stream issues a streaming chat completion, invoking onChunk
// synchronously per content delta.
func (p *Provider) Stream(ctx context.Context, model string, msgs []provider.Message, opts provider.Options, onChunk provider.ChunkFunc) (*provider.StreamResult, error) {
	params, extra, err := p.params(model, msgs, opts)
	if err != nil {
		return nil, err
	}
	params.StreamOptions = openaisdk.ChatCompletionStreamOptionsParam{
		IncludeUsage: param.NewOpt(true),
	}

	var httpResp *http.Response
	extra = append(extra, option.WithResponseInto(&httpResp))

	stream := p.client.Chat.Completions.NewStreaming(ctx, params, extra...)
	defer stream.Close()

	result := &provider.StreamResult{Model: model}
	var content strings.Builder

	for stream.Next() {
		chunk := stream.Current()
		if chunk.Model != "" {
			result.Model = chunk.Model
		}
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			result.Usage = provider.Usage{
				InputTokens:  int(chunk.Usage.PromptTokens),
				OutputTokens: int(chunk.Usage.CompletionTokens),
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
// HTTP failures as *openai.Error carrying the status code and response.
func (p *Provider) Classify(err error, reqCtx map[string]any) *provider.StandardizedError {
	status := 0
	retryAfter := ""
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
		if apiErr.Response != nil {
			retryAfter = apiErr.Response.Header.Get("Retry-After")
		}
	}
	return provider.ClassifyHTTP(err, status, retryAfter, "openai", p.id, reqCtx)
}

func rateLimitsFromHeader(id, model string, h http.Header) *health.RateLimit {
	reqRemaining, ok := headerInt(h, "x-ratelimit-remaining-requests")
	if !ok {
		return nil
	}
	tokRemaining, _ := headerInt(h, "x-ratelimit-remaining-tokens")
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

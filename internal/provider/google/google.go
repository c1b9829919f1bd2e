// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

// Package google implements the provider contract on top of the Google
// GenAI SDK (Gemini API).
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/genai"

	"github.com/modelrelay/modelrelay/internal/provider"
	relayerrors "github.com/modelrelay/modelrelay/pkg/errors"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

var defaultModels = []string{
	"gemini-2.5-pro",
	"gemini-2.5-flash",
	"gemini-2.0-flash",
}

// Provider implements the provider contract using the Google Gemini API.
type Provider struct {
	id       string
	apiKey   string
	baseURL  string
	models   []string
	defaults provider.Options
	client   *genai.Client
}

type Option func(*options)

type options struct {
	httpClient *http.Client
	defaults   provider.Options
}

// WithDefaults sets request options applied to every call unless the
// caller overrides them.
func WithDefaults(opts provider.Options) Option {
	return func(o *options) { o.defaults = opts }
}

// WithHTTPClient overrides the SDK's HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// New creates a Google provider from a factory Config. Endpoint overrides
// the API base URL, which is useful against mock servers.
func New(cfg provider.Config, opts ...Option) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, relayerrors.New(relayerrors.CodeConfigValidateInvalidValue,
			"apiKey is required", relayerrors.FieldProvider(cfg.ID))
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: o.httpClient,
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}

	client, err := genai.NewClient(context.Background(), clientCfg)
	if err != nil {
		return nil, relayerrors.Wrap(err, relayerrors.CodeProviderUpstreamFailure,
			"creating genai client", relayerrors.FieldProvider(cfg.ID))
	}

	p := &Provider{
		id:       cfg.ID,
		apiKey:   cfg.APIKey,
		baseURL:  cfg.Endpoint,
		models:   cfg.Models,
		defaults: o.defaults,
		client:   client,
	}
	if p.baseURL == "" {
		p.baseURL = defaultBaseURL
	}
	if len(p.models) == 0 {
		p.models = defaultModels
	}
	return p, nil
}

func (p *Provider) Type() string { return "google" }
func (p *Provider) ID() string   { return p.id }

func (p *Provider) Endpoint() *url.URL {
	u, err := url.Parse(strings.TrimSuffix(p.baseURL, "/") + "/v1beta/models")
	if err != nil {
		return &url.URL{}
	}
	return u
}

func (p *Provider) Headers() map[string]string {
	return map[string]string{
		"x-goog-api-key": p.apiKey,
		"Content-Type":   "application/json",
	}
}

func (p *Provider) SupportedModels() []string {
	out := make([]string, len(p.models))
	copy(out, p.models)
	return out
}

// BuildRequestBody mirrors the Gemini generateContent wire payload.
// Mapped option keys land in generationConfig; unmapped keys are placed
// there verbatim.
func (p *Provider) BuildRequestBody(model string, msgs []provider.Message, opts provider.Options) (map[string]any, error) {
	if model == "" {
		return nil, relayerrors.New(relayerrors.CodeProviderRequestInvalid,
			"model is required", relayerrors.FieldProvider(p.id))
	}

	var system string
	contents := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		role := ""
		switch m.Role {
		case provider.RoleSystem:
			system = m.Content
			continue
		case provider.RoleUser:
			role = "user"
		case provider.RoleAssistant:
			role = "model"
		default:
			return nil, relayerrors.New(relayerrors.CodeProviderRequestInvalid,
				fmt.Sprintf("unsupported message role %q", m.Role),
				relayerrors.FieldProvider(p.id))
		}
		contents = append(contents, map[string]any{
			"role":  role,
			"parts": []map[string]any{{"text": m.Content}},
		})
	}

	body := map[string]any{
		"model":    model,
		"contents": contents,
	}
	if system != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": system}},
		}
	}

	genCfg := map[string]any{}
	for k, v := range opts.Merge(p.defaults) {
		switch k {
		case "temperature":
			genCfg["temperature"] = v
		case "max_tokens":
			genCfg["maxOutputTokens"] = v
		case "top_p":
			genCfg["topP"] = v
		case "stop":
			genCfg["stopSequences"] = v
		default:
			genCfg[k] = v
		}
	}
	if len(genCfg) > 0 {
		body["generationConfig"] = genCfg
	}
	return body, nil
}

func (p *Provider) contents(msgs []provider.Message, opts provider.Options) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	cfg := &genai.GenerateContentConfig{}
	var contents []*genai.Content

	for _, m := range msgs {
		switch m.Role {
		case provider.RoleSystem:
			cfg.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: m.Content}},
			}
		case provider.RoleUser:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: m.Content}},
			})
		case provider.RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: m.Content}},
			})
		default:
			return nil, nil, relayerrors.New(relayerrors.CodeProviderRequestInvalid,
				fmt.Sprintf("unsupported message role %q", m.Role),
				relayerrors.FieldProvider(p.id))
		}
	}

	for k, v := range opts.Merge(p.defaults) {
		switch k {
		case "temperature":
			if f, ok := asFloat(v); ok {
				cfg.Temperature = genai.Ptr(float32(f))
			}
		case "max_tokens":
			if f, ok := asFloat(v); ok {
				cfg.MaxOutputTokens = int32(f)
			}
		case "top_p":
			if f, ok := asFloat(v); ok {
				cfg.TopP = genai.Ptr(float32(f))
			}
		case "stop":
			if ss, ok := asStrings(v); ok {
				cfg.StopSequences = ss
			}
		}
	}
	return contents, cfg, nil
}

// Complete issues a unary generateContent call.
func (p *Provider) Complete(ctx context.Context, model string, msgs []provider.Message, opts provider.Options) (*provider.CompletionResult, error) {
	contents, cfg, err := p.contents(msgs, opts)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, err
	}

	result := &provider.CompletionResult{
		Content: resp.Text(),
		Model:   model,
	}
	if len(resp.Candidates) > 0 {
		result.FinishReason = strings.ToLower(string(resp.Candidates[0].FinishReason))
	}
	if resp.UsageMetadata != nil {
		result.Usage = provider.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return result, nil
}

// Stream issues a streaming generateContent call, invoking onChunk
// synchronously per text part.
func (p *Provider) Stream(ctx context.Context, model string, msgs []provider.Message, opts provider.Options, onChunk provider.ChunkFunc) (*provider.StreamResult, error) {
	contents, cfg, err := p.contents(msgs, opts)
	if err != nil {
		return nil, err
	}

	result := &provider.StreamResult{Model: model}
	var content strings.Builder

	for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
		if err != nil {
			return nil, err
		}
		if resp.UsageMetadata != nil {
			result.Usage = provider.Usage{
				InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			}
		}
		for _, candidate := range resp.Candidates {
			if candidate.FinishReason != "" {
				result.FinishReason = strings.ToLower(string(candidate.FinishReason))
			}
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text == "" {
					continue
				}
				content.WriteString(part.Text)
				if err := onChunk(provider.Chunk{Text: part.Text}); err != nil {
					return nil, err
				}
			}
		}
	}

	result.Content = content.String()
	return result, nil
}

// Classify maps SDK errors onto the shared taxonomy. The SDK surfaces
// API failures as genai.APIError carrying the HTTP status code.
func (p *Provider) Classify(err error, reqCtx map[string]any) *provider.StandardizedError {
	status := 0
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		status = apiErr.Code
	}
	// The Gemini API reports Retry-After only inside error details, not as
	// a header the SDK preserves; leave it to computed backoff.
	return provider.ClassifyHTTP(err, status, "", "google", p.id, reqCtx)
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

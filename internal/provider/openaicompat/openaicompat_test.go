// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

package openaicompat_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/internal/provider"
	"github.com/modelrelay/modelrelay/internal/provider/openaicompat"
	"github.com/modelrelay/modelrelay/internal/provider/transport"
)

func newProvider(t *testing.T, endpoint string, opts ...openaicompat.Option) *openaicompat.Provider {
	t.Helper()
	p, err := openaicompat.New(provider.Config{
		ID:       "groq-main",
		Type:     "groq",
		APIKey:   "test-key",
		Endpoint: endpoint,
	}, opts...)
	require.NoError(t, err)
	return p
}

func TestNewGroqDefaults(t *testing.T) {
	p, err := openaicompat.New(provider.Config{ID: "groq-main", Type: "groq", APIKey: "k"})
	require.NoError(t, err)

	assert.Equal(t, "groq", p.Type())
	assert.Equal(t, "groq-main", p.ID())
	assert.Equal(t, "https://api.groq.com/openai/v1/chat/completions", p.Endpoint().String())
	assert.NotEmpty(t, p.SupportedModels())
}

func TestNewGenericRequiresEndpoint(t *testing.T) {
	_, err := openaicompat.New(provider.Config{ID: "local", Type: "openai-compatible", APIKey: "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint is required")
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := openaicompat.New(provider.Config{ID: "groq-main", Type: "groq"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apiKey is required")
}

func TestHeaders(t *testing.T) {
	p := newProvider(t, "http://localhost:1")

	h := p.Headers()
	assert.Equal(t, "Bearer test-key", h["Authorization"])
	assert.Equal(t, "application/json", h["Content-Type"])
}

func TestBuildRequestBody(t *testing.T) {
	p := newProvider(t, "http://localhost:1",
		openaicompat.WithDefaults(provider.Options{"temperature": 0.2, "max_tokens": 256}))

	body, err := p.BuildRequestBody("llama-3.1-8b-instant",
		[]provider.Message{{Role: provider.RoleUser, Content: "hi"}},
		provider.Options{"temperature": 0.9, "stop": []string{"\n"}})
	require.NoError(t, err)

	assert.Equal(t, "llama-3.1-8b-instant", body["model"])
	assert.Equal(t, 0.9, body["temperature"], "caller option wins over default")
	assert.Equal(t, 256, body["max_tokens"], "default survives when not overridden")
	assert.Equal(t, []string{"\n"}, body["stop"], "unknown keys pass through")

	msgs, ok := body["messages"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0]["role"])
	assert.Equal(t, "hi", msgs[0]["content"])
}

func TestBuildRequestBodyRequiresModel(t *testing.T) {
	p := newProvider(t, "http://localhost:1")

	_, err := p.BuildRequestBody("", nil, nil)
	require.Error(t, err)
}

func TestComplete(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		assert.Equal(t, "/chat/completions", r.URL.Path)

		w.Header().Set("x-ratelimit-remaining-requests", "99")
		w.Header().Set("x-ratelimit-remaining-tokens", "5900")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "llama-3.1-8b-instant",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "hello there"}}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 4, "total_tokens": 13}
		}`))
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL)
	res, err := p.Complete(context.Background(), "llama-3.1-8b-instant",
		[]provider.Message{{Role: provider.RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "llama-3.1-8b-instant", gotBody["model"])
	assert.Nil(t, gotBody["stream"], "unary requests must not set stream")

	assert.Equal(t, "hello there", res.Content)
	assert.Equal(t, "llama-3.1-8b-instant", res.Model)
	assert.Equal(t, "stop", res.FinishReason)
	assert.Equal(t, 9, res.Usage.InputTokens)
	assert.Equal(t, 4, res.Usage.OutputTokens)

	require.NotNil(t, res.RateLimits)
	assert.Equal(t, "groq-main", res.RateLimits.Provider)
	assert.Equal(t, 99, res.RateLimits.RequestsRemaining)
	assert.Equal(t, 5900, res.RateLimits.TokensRemaining)
	assert.NotEmpty(t, res.Raw)
}

func TestCompleteNoQuotaHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"m","choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL)
	res, err := p.Complete(context.Background(), "m", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, res.RateLimits, "absent headers must not read as exhausted quota")
}

func TestCompleteUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limit reached"}}`))
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL)
	_, err := p.Complete(context.Background(), "m", nil, nil)
	require.Error(t, err)

	var statusErr *transport.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)

	se := p.Classify(err, nil)
	assert.Equal(t, provider.ErrRateLimitExceeded, se.Code)
	assert.Equal(t, "7", se.RetryAfter)
	assert.True(t, se.ShouldRetry())
	assert.Equal(t, "groq", se.Provider)
	assert.Equal(t, "groq-main", se.ProviderID)
}

func TestCompleteMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL)
	_, err := p.Complete(context.Background(), "m", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode chat completion response")
}

func TestCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"m","choices":[]}`))
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL)
	_, err := p.Complete(context.Background(), "m", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

const streamBody = `data: {"model":"llama-3.1-8b-instant","choices":[{"index":0,"delta":{"content":"Hel"}}]}

data: {"choices":[{"index":0,"delta":{"content":"lo"}}]}

data: {"choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}

data: [DONE]

`

func TestStream(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("x-ratelimit-remaining-requests", "42")
		w.Write([]byte(streamBody))
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL)

	var chunks []string
	res, err := p.Stream(context.Background(), "llama-3.1-8b-instant",
		[]provider.Message{{Role: provider.RoleUser, Content: "hi"}}, nil,
		func(c provider.Chunk) error {
			chunks = append(chunks, c.Text)
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, true, gotBody["stream"])
	assert.Equal(t, []string{"Hel", "lo"}, chunks, "chunks arrive in order")
	assert.Equal(t, "Hello", res.Content)
	assert.Equal(t, "llama-3.1-8b-instant", res.Model)
	assert.Equal(t, "stop", res.FinishReason)
	assert.Equal(t, 3, res.Usage.InputTokens)
	assert.Equal(t, 2, res.Usage.OutputTokens)
	require.NotNil(t, res.RateLimits)
	assert.Equal(t, 42, res.RateLimits.RequestsRemaining)
}

func TestStreamChunkCallbackError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(streamBody))
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL)

	abort := errors.New("consumer gone")
	delivered := 0
	_, err := p.Stream(context.Background(), "m", nil, nil, func(provider.Chunk) error {
		delivered++
		return abort
	})
	require.ErrorIs(t, err, abort, "callback error propagates unmodified")
	assert.Equal(t, 1, delivered, "stream aborts after the failing chunk")
}

func TestStreamUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL)
	_, err := p.Stream(context.Background(), "m", nil, nil, func(provider.Chunk) error { return nil })
	require.Error(t, err)

	se := p.Classify(err, nil)
	assert.Equal(t, provider.ErrAuthentication, se.Code)
	assert.False(t, se.ShouldRetry())
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/internal/provider"
	"github.com/modelrelay/modelrelay/internal/router"
	"github.com/modelrelay/modelrelay/internal/server"
	"github.com/modelrelay/modelrelay/internal/store"
	relayerr "github.com/modelrelay/modelrelay/pkg/errors"
	"github.com/modelrelay/modelrelay/pkg/health"
)

type fakeDispatcher struct {
	completeFn func(ctx context.Context, req router.Request) (*provider.CompletionResult, error)
	streamFn   func(ctx context.Context, req router.Request, onChunk provider.ChunkFunc) (*provider.StreamResult, error)
}

func (f *fakeDispatcher) Complete(ctx context.Context, req router.Request) (*provider.CompletionResult, error) {
	return f.completeFn(ctx, req)
}

func (f *fakeDispatcher) Stream(ctx context.Context, req router.Request, onChunk provider.ChunkFunc) (*provider.StreamResult, error) {
	return f.streamFn(ctx, req, onChunk)
}

type fakeHealth struct {
	records []health.Record
}

func (f *fakeHealth) Snapshot() []health.Record { return f.records }

type fakeLimits struct {
	snapshots []health.RateLimit
}

func (f *fakeLimits) All() []health.RateLimit { return f.snapshots }

type fakeTracking struct {
	calls     []store.CallRecord
	gotFilter store.CallFilter
}

func (f *fakeTracking) RecordCall(_ context.Context, rec store.CallRecord) error {
	f.calls = append(f.calls, rec)
	return nil
}

func (f *fakeTracking) ListCalls(_ context.Context, filter store.CallFilter) ([]store.CallRecord, error) {
	f.gotFilter = filter
	return f.calls, nil
}

func (f *fakeTracking) Close() error { return nil }

func newServer(t *testing.T, svc *server.Services) *server.Server {
	t.Helper()
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	if svc != nil {
		srv.RegisterServices(svc)
	}
	return srv
}

func postJSON(t *testing.T, handler http.Handler, path string, body any, accept string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func completionBody() map[string]any {
	return map[string]any{
		"model": "claude-sonnet-4-5",
		"messages": []map[string]string{
			{"role": "user", "content": "hello"},
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestComplete(t *testing.T) {
	var gotReq router.Request
	disp := &fakeDispatcher{
		completeFn: func(_ context.Context, req router.Request) (*provider.CompletionResult, error) {
			gotReq = req
			return &provider.CompletionResult{
				Content:      "hi there",
				Model:        "claude-sonnet-4-5",
				FinishReason: "end_turn",
				Usage:        provider.Usage{InputTokens: 4, OutputTokens: 2},
			}, nil
		},
	}
	srv := newServer(t, &server.Services{Dispatcher: disp, Health: &fakeHealth{}, Limits: &fakeLimits{}})

	body := completionBody()
	body["options"] = map[string]any{"temperature": 0.2}
	rec := postJSON(t, srv.Handler(), "/v1/completions", body, "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Content      string `json:"content"`
		Model        string `json:"model"`
		FinishReason string `json:"finish_reason"`
		Usage        struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, 4, resp.Usage.InputTokens)
	assert.Equal(t, 2, resp.Usage.OutputTokens)

	assert.Equal(t, "claude-sonnet-4-5", gotReq.Model)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "hello", gotReq.Messages[0].Content)
	assert.Equal(t, 0.2, gotReq.Options["temperature"])
}

func TestComplete_ValidationError(t *testing.T) {
	disp := &fakeDispatcher{}
	srv := newServer(t, &server.Services{Dispatcher: disp, Health: &fakeHealth{}, Limits: &fakeLimits{}})

	rec := postJSON(t, srv.Handler(), "/v1/completions", map[string]any{
		"model":    "",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}, "")

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestComplete_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "rate limit maps to 429",
			err:        &provider.StandardizedError{Message: "rate limit exceeded", Code: provider.ErrRateLimitExceeded},
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "timeout maps to 504",
			err:        &provider.StandardizedError{Message: "deadline exceeded", Code: provider.ErrTimeout},
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name:       "upstream auth maps to 502",
			err:        &provider.StandardizedError{Message: "invalid api key", Code: provider.ErrAuthentication},
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "all unavailable maps to 503",
			err:        relayerr.New(relayerr.CodeProviderAllUnavailable, "no eligible provider for model"),
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "invalid model ref maps to 422",
			err:        relayerr.New(relayerr.CodeProviderInvalidModelRef, "model is required"),
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			disp := &fakeDispatcher{
				completeFn: func(_ context.Context, _ router.Request) (*provider.CompletionResult, error) {
					return nil, tt.err
				},
			}
			srv := newServer(t, &server.Services{Dispatcher: disp, Health: &fakeHealth{}, Limits: &fakeLimits{}})

			rec := postJSON(t, srv.Handler(), "/v1/completions", completionBody(), "")
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestProviderHealth(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := &fakeHealth{records: []health.Record{
		{Provider: "anthropic", Model: "claude-sonnet-4-5", Availability: 0.5, ConsecutiveErrors: 1},
	}}
	l := &fakeLimits{snapshots: []health.RateLimit{
		{Provider: "anthropic", Model: "claude-sonnet-4-5", RequestsRemaining: 42, TokensRemaining: 9000, ObservedAt: now},
	}}
	srv := newServer(t, &server.Services{Dispatcher: &fakeDispatcher{}, Health: h, Limits: l})

	req := httptest.NewRequest(http.MethodGet, "/v1/providers/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Providers []health.Record    `json:"providers"`
		Limits    []health.RateLimit `json:"rate_limits"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Providers, 1)
	assert.InDelta(t, 0.5, resp.Providers[0].Availability, 1e-9)
	require.Len(t, resp.Limits, 1)
	assert.Equal(t, 42, resp.Limits[0].RequestsRemaining)
}

func TestProviderHealth_EmptyIsArrays(t *testing.T) {
	srv := newServer(t, &server.Services{Dispatcher: &fakeDispatcher{}, Health: &fakeHealth{}, Limits: &fakeLimits{}})

	req := httptest.NewRequest(http.MethodGet, "/v1/providers/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"providers":[]`)
	assert.Contains(t, rec.Body.String(), `"rate_limits":[]`)
}

func TestListCalls(t *testing.T) {
	sink := &fakeTracking{calls: []store.CallRecord{
		{ID: "c1", Provider: "anthropic", Model: "claude-sonnet-4-5", Status: store.CallStatusSuccess},
	}}
	srv := newServer(t, &server.Services{Dispatcher: &fakeDispatcher{}, Health: &fakeHealth{}, Limits: &fakeLimits{}, Tracking: sink})

	req := httptest.NewRequest(http.MethodGet, "/v1/calls?provider=anthropic&status=success", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"id":"c1"`)

	assert.Equal(t, "anthropic", sink.gotFilter.Provider)
	assert.Equal(t, "success", sink.gotFilter.Status)
	assert.Equal(t, 100, sink.gotFilter.Limit, "limit defaults to 100")
}

func TestListCalls_TrackingDisabled(t *testing.T) {
	srv := newServer(t, &server.Services{Dispatcher: &fakeDispatcher{}, Health: &fakeHealth{}, Limits: &fakeLimits{}})

	req := httptest.NewRequest(http.MethodGet, "/v1/calls", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStream_SSE(t *testing.T) {
	disp := &fakeDispatcher{
		streamFn: func(_ context.Context, _ router.Request, onChunk provider.ChunkFunc) (*provider.StreamResult, error) {
			for _, text := range []string{"Hel", "lo"} {
				if err := onChunk(provider.Chunk{Text: text}); err != nil {
					return nil, err
				}
			}
			return &provider.StreamResult{
				Content:      "Hello",
				Model:        "claude-sonnet-4-5",
				FinishReason: "end_turn",
				Usage:        provider.Usage{InputTokens: 4, OutputTokens: 2},
			}, nil
		},
	}
	srv := newServer(t, &server.Services{Dispatcher: disp, Health: &fakeHealth{}, Limits: &fakeLimits{}})

	rec := postJSON(t, srv.Handler(), "/v1/completions/stream", completionBody(), "text/event-stream")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	frames := strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n")
	require.Len(t, frames, 3)
	assert.Equal(t, "event: token\ndata: {\"text\":\"Hel\"}", frames[0])
	assert.Equal(t, "event: token\ndata: {\"text\":\"lo\"}", frames[1])
	assert.True(t, strings.HasPrefix(frames[2], "event: done\n"), "terminal frame should be done, got %q", frames[2])
	assert.Contains(t, frames[2], `"input_tokens":4`)
	assert.Contains(t, frames[2], `"finish_reason":"end_turn"`)
}

func TestStream_JSONFallback(t *testing.T) {
	disp := &fakeDispatcher{
		streamFn: func(_ context.Context, _ router.Request, onChunk provider.ChunkFunc) (*provider.StreamResult, error) {
			_ = onChunk(provider.Chunk{Text: "hi"})
			return &provider.StreamResult{Content: "hi", Model: "claude-sonnet-4-5", FinishReason: "end_turn"}, nil
		},
	}
	srv := newServer(t, &server.Services{Dispatcher: disp, Health: &fakeHealth{}, Limits: &fakeLimits{}})

	rec := postJSON(t, srv.Handler(), "/v1/completions/stream", completionBody(), "application/json")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp struct {
		Events []struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 2)
	assert.Equal(t, "token", resp.Events[0].Event)
	assert.Equal(t, "done", resp.Events[1].Event)
}

func TestStream_ErrorEvent(t *testing.T) {
	disp := &fakeDispatcher{
		streamFn: func(_ context.Context, _ router.Request, onChunk provider.ChunkFunc) (*provider.StreamResult, error) {
			_ = onChunk(provider.Chunk{Text: "partial"})
			return nil, &provider.StandardizedError{
				Message:    "connection reset",
				Code:       provider.ErrNetwork,
				ProviderID: "main",
			}
		},
	}
	srv := newServer(t, &server.Services{Dispatcher: disp, Health: &fakeHealth{}, Limits: &fakeLimits{}})

	rec := postJSON(t, srv.Handler(), "/v1/completions/stream", completionBody(), "text/event-stream")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "event: token\ndata: {\"text\":\"partial\"}")
	assert.Contains(t, body, "event: error\n")
	assert.Contains(t, body, `"code":"NETWORK_ERROR"`)
	assert.Contains(t, body, `"provider":"main"`)
	assert.NotContains(t, body, "event: done")
}

func TestStream_Validation(t *testing.T) {
	srv := newServer(t, &server.Services{Dispatcher: &fakeDispatcher{}, Health: &fakeHealth{}, Limits: &fakeLimits{}})

	rec := postJSON(t, srv.Handler(), "/v1/completions/stream", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = postJSON(t, srv.Handler(), "/v1/completions/stream", map[string]any{
		"model": "claude-sonnet-4-5",
	}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestStream_ServicesNotConfigured(t *testing.T) {
	srv := newServer(t, nil)

	rec := postJSON(t, srv.Handler(), "/v1/completions/stream", completionBody(), "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStart_GracefulShutdown(t *testing.T) {
	srv := newServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

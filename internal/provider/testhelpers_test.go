// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

package provider_test

import (
	"context"
	"net/url"

	"github.com/modelrelay/modelrelay/internal/provider"
)

// fakeProvider is a minimal Provider for registry and factory tests.
type fakeProvider struct {
	typ       string
	id        string
	models    []string
	completeFn func(ctx context.Context, model string, msgs []provider.Message, opts provider.Options) (*provider.CompletionResult, error)
}

func (f *fakeProvider) Type() string { return f.typ }
func (f *fakeProvider) ID() string   { return f.id }

func (f *fakeProvider) Endpoint() *url.URL {
	u, _ := url.Parse("https://example.invalid/v1")
	return u
}

func (f *fakeProvider) Headers() map[string]string {
	return map[string]string{"Authorization": "Bearer test"}
}

func (f *fakeProvider) BuildRequestBody(model string, msgs []provider.Message, opts provider.Options) (map[string]any, error) {
	body := map[string]any{"model": model, "messages": msgs}
	for k, v := range opts {
		body[k] = v
	}
	return body, nil
}

func (f *fakeProvider) Complete(ctx context.Context, model string, msgs []provider.Message, opts provider.Options) (*provider.CompletionResult, error) {
	if f.completeFn != nil {
		return f.completeFn(ctx, model, msgs, opts)
	}
	return &provider.CompletionResult{Content: "ok", Model: model}, nil
}

func (f *fakeProvider) Stream(ctx context.Context, model string, msgs []provider.Message, opts provider.Options, onChunk provider.ChunkFunc) (*provider.StreamResult, error) {
	if err := onChunk(provider.Chunk{Text: "ok"}); err != nil {
		return nil, err
	}
	return &provider.StreamResult{Content: "ok", Model: model}, nil
}

func (f *fakeProvider) Classify(err error, reqCtx map[string]any) *provider.StandardizedError {
	return provider.Classify(err, f.typ, f.id, reqCtx)
}

func (f *fakeProvider) SupportedModels() []string { return f.models }

var _ provider.Provider = (*fakeProvider)(nil)

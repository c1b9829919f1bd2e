// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

// Package transport is the thin HTTP layer under raw (non-SDK) providers.
// It issues single-shot requests only; retry policy belongs to the
// dispatcher, which needs to interleave health bookkeeping and backoff
// between attempts.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Client targets one upstream base URL.
type Client struct {
	HTTPClient     *http.Client
	BaseURL        *url.URL
	DefaultHeaders http.Header
	UserAgent      string
	Logger         *slog.Logger
}

// New creates a Client for baseURL. A nil httpClient gets a 60s-timeout
// default; streamed requests override the timeout per call via context.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		HTTPClient:     httpClient,
		BaseURL:        u,
		DefaultHeaders: make(http.Header),
		UserAgent:      "modelrelay/1",
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

// Resolve joins path onto the base URL without cleaning away base path
// segments some gateways require.
func (c *Client) Resolve(path string) string {
	u := *c.BaseURL
	u.Path = joinPath(u.Path, path)
	return u.String()
}

func joinPath(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	if a[len(a)-1] == '/' {
		if b[0] == '/' {
			return a + b[1:]
		}
		return a + b
	}
	if b[0] == '/' {
		return a + b
	}
	return a + "/" + b
}

// DoJSON issues one request and reads the whole response body. The
// response headers are returned alongside so callers can read quota
// values. Non-2xx statuses come back as *HTTPStatusError with the body
// and headers preserved.
func (c *Client) DoJSON(ctx context.Context, method, path string, hdr http.Header, reqBody any) ([]byte, http.Header, error) {
	req, err := c.newRequest(ctx, method, path, hdr, reqBody)
	if err != nil {
		return nil, nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, resp.Header.Clone(), nil
	}

	c.Logger.Debug("upstream error status", "method", method, "path", path, "status", resp.StatusCode)
	return nil, nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: raw, Header: resp.Header.Clone()}
}

// DoStream issues one request and hands back the live response for the
// caller to consume. The caller owns resp.Body. Non-2xx statuses are
// drained and returned as *HTTPStatusError.
func (c *Client) DoStream(ctx context.Context, method, path string, hdr http.Header, reqBody any) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, hdr, reqBody)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	c.Logger.Debug("upstream error status", "method", method, "path", path, "status", resp.StatusCode)
	return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: raw, Header: resp.Header.Clone()}
}

func (c *Client) newRequest(ctx context.Context, method, path string, hdr http.Header, reqBody any) (*http.Request, error) {
	var bodyBytes []byte
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return nil, err
		}
		bodyBytes = b
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Resolve(path), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}

	mergeHeaders(req.Header, c.DefaultHeaders)
	mergeHeaders(req.Header, hdr)
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if req.Header.Get("X-Request-Id") == "" {
		req.Header.Set("X-Request-Id", uuid.NewString())
	}
	return req, nil
}

// HTTPStatusError is a non-2xx upstream response. Header retains the full
// response headers so classification can read Retry-After and quota values.
type HTTPStatusError struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

func (e *HTTPStatusError) Error() string {
	return http.StatusText(e.StatusCode)
}

// RetryAfter returns the Retry-After header value, if any.
func (e *HTTPStatusError) RetryAfter() string {
	if e.Header == nil {
		return ""
	}
	return e.Header.Get("Retry-After")
}

func mergeHeaders(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

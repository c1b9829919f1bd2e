// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

// Package store defines the call-tracking sink consumed by the
// dispatcher. Recording is fire-and-forget from the caller's point of
// view; a failed write must never fail a completion.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// CallRecord is one tracked provider call, success or failure.
type CallRecord struct {
	ID           string          `json:"id"`
	Provider     string          `json:"provider"`
	ProviderType string          `json:"provider_type"`
	Model        string          `json:"model"`
	Request      json.RawMessage `json:"request,omitempty"`
	Response     json.RawMessage `json:"response,omitempty"`
	Status       string          `json:"status"`
	ErrorCode    string          `json:"error_code,omitempty"`
	Duration     time.Duration   `json:"duration"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
	Cost         float64         `json:"cost"`
	CreatedAt    time.Time       `json:"created_at"`
}

const (
	CallStatusSuccess = "success"
	CallStatusError   = "error"
)

// CallFilter narrows ListCalls results. Zero values mean no constraint.
type CallFilter struct {
	Provider string
	Model    string
	Status   string
	Since    time.Time
	Limit    int
}

// TrackingStore persists call records.
type TrackingStore interface {
	RecordCall(ctx context.Context, rec CallRecord) error
	ListCalls(ctx context.Context, filter CallFilter) ([]CallRecord, error)
	Close() error
}

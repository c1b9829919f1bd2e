// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/internal/store"
	"github.com/modelrelay/modelrelay/internal/store/sqlite"
)

func newStore(t *testing.T) *sqlite.TrackingStore {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "tracking.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndListCalls(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordCall(ctx, store.CallRecord{
		Provider:     "groq-main",
		ProviderType: "groq",
		Model:        "llama-3.1-8b-instant",
		Request:      []byte(`{"model":"llama-3.1-8b-instant"}`),
		Response:     []byte(`{"content":"hi"}`),
		Status:       store.CallStatusSuccess,
		Duration:     420 * time.Millisecond,
		InputTokens:  9,
		OutputTokens: 4,
	}))

	records, err := s.ListCalls(ctx, store.CallFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.NotEmpty(t, rec.ID, "missing ID gets a generated UUID")
	assert.Equal(t, "groq-main", rec.Provider)
	assert.Equal(t, "llama-3.1-8b-instant", rec.Model)
	assert.Equal(t, store.CallStatusSuccess, rec.Status)
	assert.Equal(t, 420*time.Millisecond, rec.Duration)
	assert.Equal(t, 9, rec.InputTokens)
	assert.Equal(t, 4, rec.OutputTokens)
	assert.JSONEq(t, `{"content":"hi"}`, string(rec.Response))
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestListCallsFilters(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	seed := []store.CallRecord{
		{Provider: "groq-main", Model: "llama-3.1-8b-instant", Status: store.CallStatusSuccess, CreatedAt: base},
		{Provider: "groq-main", Model: "llama-3.1-8b-instant", Status: store.CallStatusError, ErrorCode: "RATE_LIMIT_EXCEEDED", CreatedAt: base.Add(time.Minute)},
		{Provider: "openai-main", Model: "gpt-4.1-mini", Status: store.CallStatusSuccess, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, rec := range seed {
		require.NoError(t, s.RecordCall(ctx, rec))
	}

	t.Run("by provider", func(t *testing.T) {
		records, err := s.ListCalls(ctx, store.CallFilter{Provider: "groq-main"})
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})

	t.Run("by status", func(t *testing.T) {
		records, err := s.ListCalls(ctx, store.CallFilter{Status: store.CallStatusError})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "RATE_LIMIT_EXCEEDED", records[0].ErrorCode)
	})

	t.Run("since", func(t *testing.T) {
		records, err := s.ListCalls(ctx, store.CallFilter{Since: base.Add(90 * time.Second)})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "openai-main", records[0].Provider)
	})

	t.Run("newest first with limit", func(t *testing.T) {
		records, err := s.ListCalls(ctx, store.CallFilter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "openai-main", records[0].Provider)
	})
}

func TestRecordCallEmptyBodies(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordCall(ctx, store.CallRecord{
		Provider: "groq-main",
		Model:    "m",
		Status:   store.CallStatusError,
	}))

	records, err := s.ListCalls(ctx, store.CallFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.JSONEq(t, `{}`, string(records[0].Request))
	assert.JSONEq(t, `{}`, string(records[0].Response))
}

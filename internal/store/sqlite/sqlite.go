// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

// Package sqlite implements the call-tracking store on a single SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/modelrelay/modelrelay/internal/store"
	"github.com/modelrelay/modelrelay/pkg/errors"
)

// Compile-time interface check.
var _ store.TrackingStore = (*TrackingStore)(nil)

// TrackingStore implements store.TrackingStore backed by SQLite.
type TrackingStore struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at dbPath and initialises the
// calls table. Pass ":memory:" for an ephemeral store.
func New(dbPath string) (*TrackingStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeTrackingStoreFailure, "opening tracking db")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.CodeTrackingStoreFailure, "pinging tracking db")
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.CodeTrackingStoreFailure, "migrating tracking db")
	}

	return &TrackingStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS calls (
	id            TEXT PRIMARY KEY,
	provider      TEXT NOT NULL,
	provider_type TEXT NOT NULL DEFAULT '',
	model         TEXT NOT NULL,
	request       TEXT NOT NULL DEFAULT '{}',
	response      TEXT NOT NULL DEFAULT '{}',
	status        TEXT NOT NULL,
	error_code    TEXT NOT NULL DEFAULT '',
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost          REAL NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_calls_created_at ON calls(created_at);
CREATE INDEX IF NOT EXISTS idx_calls_provider   ON calls(provider, model);
CREATE INDEX IF NOT EXISTS idx_calls_status     ON calls(status);
`
	_, err := db.Exec(ddl)
	return err
}

// RecordCall inserts one call record. An empty ID gets a fresh UUID and
// a zero CreatedAt gets the current time.
func (s *TrackingStore) RecordCall(ctx context.Context, rec store.CallRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	request := string(rec.Request)
	if request == "" {
		request = "{}"
	}
	response := string(rec.Response)
	if response == "" {
		response = "{}"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calls (id, provider, provider_type, model, request, response,
			status, error_code, duration_ms, input_tokens, output_tokens, cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Provider, rec.ProviderType, rec.Model, request, response,
		rec.Status, rec.ErrorCode, rec.Duration.Milliseconds(),
		rec.InputTokens, rec.OutputTokens, rec.Cost,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return errors.Wrap(err, errors.CodeTrackingStoreFailure, "inserting call record",
			errors.FieldProvider(rec.Provider), errors.FieldModel(rec.Model))
	}
	return nil
}

// ListCalls returns records matching filter, newest first.
func (s *TrackingStore) ListCalls(ctx context.Context, filter store.CallFilter) ([]store.CallRecord, error) {
	query := `
		SELECT id, provider, provider_type, model, request, response,
			status, error_code, duration_ms, input_tokens, output_tokens, cost, created_at
		FROM calls`

	var conds []string
	var args []any
	if filter.Provider != "" {
		conds = append(conds, "provider = ?")
		args = append(args, filter.Provider)
	}
	if filter.Model != "" {
		conds = append(conds, "model = ?")
		args = append(args, filter.Model)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeTrackingQueryFailure, "querying call records")
	}
	defer rows.Close()

	var out []store.CallRecord
	for rows.Next() {
		var rec store.CallRecord
		var request, response, createdAt string
		var durationMs int64
		if err := rows.Scan(&rec.ID, &rec.Provider, &rec.ProviderType, &rec.Model,
			&request, &response, &rec.Status, &rec.ErrorCode, &durationMs,
			&rec.InputTokens, &rec.OutputTokens, &rec.Cost, &createdAt); err != nil {
			return nil, errors.Wrap(err, errors.CodeTrackingQueryFailure, "scanning call record")
		}
		rec.Request = []byte(request)
		rec.Response = []byte(response)
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			rec.CreatedAt = ts
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeTrackingQueryFailure, "iterating call records")
	}
	return out, nil
}

// Close closes the underlying database connection.
func (s *TrackingStore) Close() error { return s.db.Close() }

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

package health

import "time"

// ErrorEntry is one failure observation kept in a record's bounded history.
type ErrorEntry struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Record exposes the availability state of one provider/model pair for
// monitoring and routing decisions. All fields are point-in-time snapshots
// safe to serialize to JSON. Availability is always derived as
// 1/(1+ConsecutiveErrors); there is no independently stored score.
type Record struct {
	Provider          string       `json:"provider"`
	Model             string       `json:"model"`
	Availability      float64      `json:"availability"`
	ConsecutiveErrors uint         `json:"consecutive_errors"`
	LastError         *ErrorEntry  `json:"last_error,omitempty"`
	ErrorHistory      []ErrorEntry `json:"error_history,omitempty"`
	LastFailureAt     *time.Time   `json:"last_failure_at,omitempty"`
	LastSuccessAt     *time.Time   `json:"last_success_at,omitempty"`
}

// RateLimit is the last quota snapshot reported by an upstream for one
// provider/model pair. Snapshots are superseded, never expired.
type RateLimit struct {
	Provider          string    `json:"provider"`
	Model             string    `json:"model"`
	RequestsRemaining int       `json:"requests_remaining"`
	TokensRemaining   int       `json:"tokens_remaining"`
	ObservedAt        time.Time `json:"observed_at"`
}

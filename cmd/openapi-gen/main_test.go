// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSpec(t *testing.T) {
	spec, err := generateSpec()
	require.NoError(t, err)

	var doc struct {
		OpenAPI string `json:"openapi"`
		Info    struct {
			Title string `json:"title"`
		} `json:"info"`
		Paths map[string]json.RawMessage `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(spec, &doc))

	assert.Equal(t, "ModelRelay", doc.Info.Title)
	assert.Contains(t, doc.Paths, "/health")
	assert.Contains(t, doc.Paths, "/v1/completions")
	assert.Contains(t, doc.Paths, "/v1/completions/stream")
	assert.Contains(t, doc.Paths, "/v1/providers/health")
	assert.Contains(t, doc.Paths, "/v1/calls")
}

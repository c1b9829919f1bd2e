// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/modelrelay/modelrelay/internal/provider"
	"github.com/modelrelay/modelrelay/internal/router"
	"github.com/modelrelay/modelrelay/internal/server"
	"github.com/modelrelay/modelrelay/internal/store"
	relayerr "github.com/modelrelay/modelrelay/pkg/errors"
	"github.com/modelrelay/modelrelay/pkg/health"
)

func main() {
	spec, err := generateSpec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	outPath := "api/openapi/spec.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, spec, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing spec: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

// generateSpec creates a server with all routes registered and extracts
// the OpenAPI spec that huma generates from the Go type annotations.
func generateSpec() ([]byte, error) {
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"})
	if err != nil {
		return nil, relayerr.Wrapf(err, relayerr.CodeCLISetupFailure, "creating server")
	}

	// No-op service stubs so all routes register for schema discovery.
	// Handlers are never invoked during spec generation.
	srv.RegisterServices(&server.Services{
		Dispatcher: &stubDispatcher{},
		Health:     &stubHealth{},
		Limits:     &stubLimits{},
		Tracking:   &stubTracking{},
	})

	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}

type stubDispatcher struct{}

func (s *stubDispatcher) Complete(context.Context, router.Request) (*provider.CompletionResult, error) {
	return nil, nil
}

func (s *stubDispatcher) Stream(context.Context, router.Request, provider.ChunkFunc) (*provider.StreamResult, error) {
	return nil, nil
}

type stubHealth struct{}

func (s *stubHealth) Snapshot() []health.Record { return nil }

type stubLimits struct{}

func (s *stubLimits) All() []health.RateLimit { return nil }

type stubTracking struct{}

func (s *stubTracking) RecordCall(context.Context, store.CallRecord) error { return nil }
func (s *stubTracking) ListCalls(context.Context, store.CallFilter) ([]store.CallRecord, error) {
	return nil, nil
}
func (s *stubTracking) Close() error { return nil }

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

package main

import (
	"log/slog"

	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/provider"
	"github.com/modelrelay/modelrelay/internal/provider/anthropic"
	"github.com/modelrelay/modelrelay/internal/provider/google"
	"github.com/modelrelay/modelrelay/internal/provider/openai"
	"github.com/modelrelay/modelrelay/internal/provider/openaicompat"
	relayerr "github.com/modelrelay/modelrelay/pkg/errors"
)

// newProviderFactory registers every provider type the relay can build.
func newProviderFactory() *provider.Factory {
	f := provider.NewFactory()

	f.RegisterType("openai", func(cfg provider.Config) (provider.Provider, error) {
		p, err := openai.New(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	f.RegisterType("anthropic", func(cfg provider.Config) (provider.Provider, error) {
		p, err := anthropic.New(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	f.RegisterType("google", func(cfg provider.Config) (provider.Provider, error) {
		p, err := google.New(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	compat := func(cfg provider.Config) (provider.Provider, error) {
		p, err := openaicompat.New(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	f.RegisterType("groq", compat)
	f.RegisterType("openai-compatible", compat)

	return f
}

// buildRegistry constructs every enabled provider from config and
// registers it for routing. Disabled providers are skipped, not errors.
func buildRegistry(cfg *config.Config) (*provider.Registry, error) {
	factory := newProviderFactory()
	registry := provider.NewRegistry()

	count := 0
	for id, pc := range cfg.Providers {
		if !pc.IsEnabled() {
			slog.Info("skipping disabled provider", "provider_id", id)
			continue
		}

		p, err := factory.CreateProvider(provider.Config{
			ID:       id,
			Type:     pc.Type,
			APIKey:   pc.APIKey,
			Endpoint: pc.Endpoint,
			Priority: pc.Priority,
			Enabled:  true,
			Models:   pc.Models,
		})
		if err != nil {
			return nil, relayerr.Wrapf(err, relayerr.CodeCLISetupFailure, "building provider %q", id)
		}

		registry.Register(p, pc.Priority)
		count++
		slog.Debug("registered provider", "provider_id", id, "type", pc.Type, "priority", pc.Priority)
	}

	if count == 0 {
		slog.Warn("no enabled providers configured; every request will fail")
	}

	return registry, nil
}

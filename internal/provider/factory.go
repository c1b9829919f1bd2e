// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

package provider

import (
	relayerr "github.com/modelrelay/modelrelay/pkg/errors"
)

// Config is the immutable construction record for one provider instance.
// The factory caller owns it; providers copy what they need.
type Config struct {
	ID       string
	Type     string
	APIKey   string
	Endpoint string // optional override, useful against mock servers
	Priority int    // ascending routing order, lower tried first
	Enabled  bool
	Models   []string // optional allow-list overriding the built-in set
}

// Constructor builds a Provider from its config.
type Constructor func(cfg Config) (Provider, error)

// Factory constructs providers from configuration records, dispatching on
// the Type string. Constructors are registered explicitly by the
// composition root; there is no package-level registration.
type Factory struct {
	constructors map[string]Constructor
}

// NewFactory returns an empty Factory.
func NewFactory() *Factory {
	return &Factory{constructors: make(map[string]Constructor)}
}

// RegisterType maps a config type string to a constructor. Later
// registrations overwrite earlier ones.
func (f *Factory) RegisterType(providerType string, ctor Constructor) {
	f.constructors[providerType] = ctor
}

// Types returns the registered type strings.
func (f *Factory) Types() []string {
	out := make([]string, 0, len(f.constructors))
	for t := range f.constructors {
		out = append(out, t)
	}
	return out
}

// CreateProvider builds a Provider for cfg. Disabled configs and unknown
// types fail without consulting the constructor.
func (f *Factory) CreateProvider(cfg Config) (Provider, error) {
	if !cfg.Enabled {
		return nil, relayerr.New(relayerr.CodeProviderDisabled,
			"provider is disabled: "+cfg.ID,
			relayerr.FieldProvider(cfg.Type),
		)
	}

	ctor, ok := f.constructors[cfg.Type]
	if !ok {
		return nil, relayerr.New(relayerr.CodeProviderTypeUnsupported,
			"unsupported provider type: "+cfg.Type,
			relayerr.FieldProvider(cfg.Type),
		)
	}

	return ctor(cfg)
}

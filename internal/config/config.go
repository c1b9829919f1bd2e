// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

// Package config loads and validates relay configuration from YAML files
// and MODELRELAY_-prefixed environment variables.
package config

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/modelrelay/modelrelay/internal/secrets"
	relayerr "github.com/modelrelay/modelrelay/pkg/errors"
)

// Config is the top-level relay configuration.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Routing   RoutingConfig             `mapstructure:"routing"`
	Health    HealthConfig              `mapstructure:"health"`
	Tracking  TrackingConfig            `mapstructure:"tracking"`
}

// ServerConfig controls how the relay listens for connections.
type ServerConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// ProviderConfig holds credentials and routing order for one upstream
// provider. The map key in Config.Providers is the provider ID. APIKey
// may be a keyring://service/key reference resolved at load time.
type ProviderConfig struct {
	Type     string   `mapstructure:"type"`
	APIKey   string   `mapstructure:"api_key"`
	Endpoint string   `mapstructure:"endpoint"`
	Priority int      `mapstructure:"priority"`
	Enabled  *bool    `mapstructure:"enabled"`
	Models   []string `mapstructure:"models"`
}

// IsEnabled reports whether the provider participates in routing.
// Providers are enabled unless the config says otherwise.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// RoutingConfig controls the retry loop.
type RoutingConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// HealthConfig controls availability tracking and recovery probing.
type HealthConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
	Threshold     float64       `mapstructure:"threshold"`
}

// TrackingConfig controls the call-tracking sink.
type TrackingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// knownProviderTypes are the type strings the relay can construct.
// "openai-compatible" covers any endpoint speaking the OpenAI chat wire
// format and requires an explicit endpoint.
var knownProviderTypes = map[string]bool{
	"openai":            true,
	"anthropic":         true,
	"google":            true,
	"groq":              true,
	"openai-compatible": true,
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix MODELRELAY_). keyring://
// references in string values are resolved against the OS keyring.
func Load(path string) (*Config, error) {
	return load(path, secrets.NewKeyringStore())
}

// LoadWithSecrets is Load with an explicit secret store, for callers
// that manage their own store.
func LoadWithSecrets(path string, store secrets.Store) (*Config, error) {
	return load(path, store)
}

func load(path string, store secrets.Store) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.listen", "127.0.0.1:8787")
	v.SetDefault("routing.max_attempts", 3)
	v.SetDefault("routing.base_delay", "1s")
	v.SetDefault("routing.max_delay", "30s")
	v.SetDefault("health.check_interval", "30s")
	v.SetDefault("health.cooldown", "5m")
	v.SetDefault("health.threshold", 0.5)
	v.SetDefault("tracking.enabled", true)
	v.SetDefault("tracking.path", "modelrelay.db")

	// Environment
	v.SetEnvPrefix("MODELRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, relayerr.Errorf(relayerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	secrets.ResolveViperSecrets(v, store)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, relayerr.Errorf(relayerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors. It returns all
// validation errors found rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateProviders()...)
	errs = append(errs, c.validateRouting()...)
	errs = append(errs, c.validateHealth()...)
	errs = append(errs, c.validateTracking()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue, "config: server.listen must not be empty"))
		return errs
	}

	host, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
			"config: server.listen must be a valid host:port address, got %q: %w",
			c.Server.Listen, err,
		))
		return errs
	}
	_ = host // host can be empty (e.g., ":8787"), which is valid

	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be a number, got %q",
			portStr,
		))
	} else if port < 1 || port > 65535 {
		errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be between 1 and 65535, got %d",
			port,
		))
	}

	return errs
}

func (c *Config) validateProviders() []error {
	var errs []error

	for id, p := range c.Providers {
		if p.Type == "" {
			errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
				"config: providers.%s.type must not be empty", id))
			continue
		}
		if !knownProviderTypes[p.Type] {
			errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
				"config: providers.%s.type must be one of [anthropic, google, groq, openai, openai-compatible], got %q",
				id, p.Type,
			))
			continue
		}

		if p.IsEnabled() && p.APIKey == "" {
			errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
				"config: providers.%s.api_key must not be empty for an enabled provider", id))
		}

		if p.Endpoint != "" {
			u, err := url.Parse(p.Endpoint)
			if err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
					"config: providers.%s.endpoint must be an absolute URL, got %q",
					id, p.Endpoint,
				))
			}
		} else if p.Type == "openai-compatible" {
			errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
				"config: providers.%s.endpoint is required for type openai-compatible", id))
		}

		if p.Priority < 0 {
			errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
				"config: providers.%s.priority must not be negative, got %d",
				id, p.Priority,
			))
		}
	}

	return errs
}

func (c *Config) validateRouting() []error {
	var errs []error

	if c.Routing.MaxAttempts < 1 {
		errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
			"config: routing.max_attempts must be at least 1, got %d",
			c.Routing.MaxAttempts,
		))
	}

	if c.Routing.BaseDelay <= 0 {
		errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
			"config: routing.base_delay must be greater than 0, got %s",
			c.Routing.BaseDelay,
		))
	}

	if c.Routing.MaxDelay < c.Routing.BaseDelay {
		errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
			"config: routing.max_delay must not be less than routing.base_delay, got %s < %s",
			c.Routing.MaxDelay, c.Routing.BaseDelay,
		))
	}

	return errs
}

func (c *Config) validateHealth() []error {
	var errs []error

	if c.Health.CheckInterval <= 0 {
		errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
			"config: health.check_interval must be greater than 0, got %s",
			c.Health.CheckInterval,
		))
	}

	if c.Health.Cooldown <= 0 {
		errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
			"config: health.cooldown must be greater than 0, got %s",
			c.Health.Cooldown,
		))
	}

	if c.Health.Threshold <= 0 || c.Health.Threshold > 1 {
		errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
			"config: health.threshold must be in (0, 1], got %g",
			c.Health.Threshold,
		))
	}

	return errs
}

func (c *Config) validateTracking() []error {
	var errs []error

	if c.Tracking.Enabled && c.Tracking.Path == "" {
		errs = append(errs, relayerr.Errorf(relayerr.CodeConfigValidateInvalidValue,
			"config: tracking.path must not be empty when tracking is enabled"))
	}

	return errs
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/modelrelay/modelrelay/internal/backoff"
	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/health"
	"github.com/modelrelay/modelrelay/internal/ratelimit"
	"github.com/modelrelay/modelrelay/internal/router"
	"github.com/modelrelay/modelrelay/internal/server"
	"github.com/modelrelay/modelrelay/internal/store"
	"github.com/modelrelay/modelrelay/internal/store/sqlite"
	relayerr "github.com/modelrelay/modelrelay/pkg/errors"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		Long:  "Load configuration, construct the configured providers, and serve the relay HTTP API until interrupted.",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgPath := resolveConfigPath(cmd)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	config.WarnInsecurePermissions(cfgPath)

	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	limits := ratelimit.NewTracker()
	checker := health.NewChecker(limits, health.Options{
		CheckInterval: cfg.Health.CheckInterval,
		Cooldown:      cfg.Health.Cooldown,
		Threshold:     cfg.Health.Threshold,
	})
	defer checker.Stop()

	var tracking store.TrackingStore
	if cfg.Tracking.Enabled {
		db, err := sqlite.New(cfg.Tracking.Path)
		if err != nil {
			return relayerr.Wrapf(err, relayerr.CodeCLISetupFailure, "opening tracking store %s", cfg.Tracking.Path)
		}
		defer func() {
			if err := db.Close(); err != nil {
				slog.Warn("closing tracking store", "error", err)
			}
		}()
		tracking = db
	}

	dispatcher := router.New(registry, checker, limits, router.Options{
		MaxAttempts: cfg.Routing.MaxAttempts,
		Backoff:     backoff.New(cfg.Routing.BaseDelay, cfg.Routing.MaxDelay),
		Tracking:    tracking,
		Logger:      slog.Default(),
	})

	srv, err := server.New(server.Config{
		ListenAddr:  cfg.Server.Listen,
		CORSOrigins: cfg.Server.CORSOrigins,
	})
	if err != nil {
		return relayerr.Wrapf(err, relayerr.CodeCLISetupFailure, "creating server")
	}
	srv.RegisterServices(&server.Services{
		Dispatcher: dispatcher,
		Health:     checker,
		Limits:     limits,
		Tracking:   tracking,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting modelrelay",
		"listen", cfg.Server.Listen,
		"providers", len(cfg.Providers),
		"tracking", cfg.Tracking.Enabled,
	)

	return srv.Start(ctx)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/modelrelay/modelrelay/internal/config"
)

// NewRootCmd creates the root modelrelay command with all subcommands
// registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "modelrelay",
		Short:         "ModelRelay — resilient LLM request relay",
		Long:          "ModelRelay routes completion requests across multiple LLM providers with retry, failover, health tracking, and rate-limit awareness.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			setupLogging(cmd)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newServeCmd(),
		newModelsCmd(),
		newSecretCmd(),
		newVersionCmd(),
	)

	return root
}

func setupLogging(cmd *cobra.Command) {
	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// resolveConfigPath picks the config file for this invocation: the
// --config flag if given, then an existing file at the default location,
// then a freshly bootstrapped default. Empty means defaults only.
func resolveConfigPath(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path
	}

	if path, err := config.DefaultConfigPath(); err == nil {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return config.BootstrapConfig()
}

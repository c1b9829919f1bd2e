// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/modelrelay/modelrelay/internal/config"
)

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List supported models per configured provider",
		RunE:  runModels,
	}
}

func runModels(cmd *cobra.Command, _ []string) error {
	cfgPath := resolveConfigPath(cmd)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	providers := registry.Ordered()
	if len(providers) == 0 {
		_, _ = fmt.Fprintln(out, "No enabled providers configured.")
		return nil
	}

	for _, p := range providers {
		_, _ = fmt.Fprintf(out, "%s (%s)\n", p.ID(), p.Type())
		for _, model := range p.SupportedModels() {
			_, _ = fmt.Fprintf(out, "  %s\n", model)
		}
	}
	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/modelrelay/modelrelay/internal/secrets"
	relayerr "github.com/modelrelay/modelrelay/pkg/errors"
)

// secretStoreFactory creates a secrets.Store. It is a package-level
// variable so tests can substitute a mock implementation.
var secretStoreFactory = func() secrets.Store {
	return secrets.NewKeyringStore()
}

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage API keys stored in the OS keyring",
		Long:  "Store, list, and delete provider API keys under the modelrelay service in the operating system keyring. Stored keys are referenced from config as keyring://modelrelay/<name>.",
	}

	cmd.AddCommand(
		newSecretSetCmd(),
		newSecretListCmd(),
		newSecretDeleteCmd(),
	)

	return cmd
}

func newSecretSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Store an API key under a name",
		Args:  cobra.ExactArgs(2),
		RunE:  runSecretSet,
	}
}

func newSecretListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all stored key names",
		RunE:  runSecretList,
	}
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a stored key by name",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretDelete,
	}
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	name, value := args[0], args[1]
	store := secretStoreFactory()

	if err := store.Store(secrets.Service, name, value); err != nil {
		return relayerr.Wrapf(err, relayerr.CodeSecretStoreFailure, "storing secret %q", name)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored secret: keyring://%s/%s\n", secrets.Service, name)
	return nil
}

func runSecretList(cmd *cobra.Command, _ []string) error {
	store := secretStoreFactory()
	keys, err := store.List(secrets.Service)
	if err != nil {
		return relayerr.Wrapf(err, relayerr.CodeSecretListFailure, "listing secrets")
	}

	out := cmd.OutOrStdout()
	if len(keys) == 0 {
		_, _ = fmt.Fprintln(out, "No secrets stored.")
		return nil
	}

	for _, k := range keys {
		_, _ = fmt.Fprintln(out, k)
	}
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	name := args[0]
	store := secretStoreFactory()

	if err := store.Delete(secrets.Service, name); err != nil {
		if relayerr.HasCode(err, relayerr.CodeSecretNotFound) {
			return relayerr.Errorf(relayerr.CodeSecretNotFound, "secret %q not found", name)
		}
		return relayerr.Wrapf(err, relayerr.CodeSecretDeleteFailure, "deleting secret %q", name)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret: %s\n", name)
	return nil
}

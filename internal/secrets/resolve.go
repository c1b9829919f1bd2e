// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

package secrets

import (
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/modelrelay/modelrelay/pkg/errors"
)

const keyringScheme = "keyring://"

// IsKeyringURI reports whether value uses the keyring:// URI scheme.
func IsKeyringURI(value string) bool {
	return strings.HasPrefix(value, keyringScheme)
}

// ParseKeyringURI extracts service and key from a keyring://service/key URI.
func ParseKeyringURI(uri string) (service, key string, err error) {
	if !IsKeyringURI(uri) {
		return "", "", errors.Errorf(errors.CodeSecretInvalidInput, "not a keyring URI: %q", uri)
	}

	path := strings.TrimPrefix(uri, keyringScheme)
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.Errorf(errors.CodeSecretInvalidInput,
			"invalid keyring URI %q: expected keyring://service/key", uri)
	}
	return parts[0], parts[1], nil
}

// ResolveKeyringURI resolves one keyring:// URI to its secret value. A
// value that is not a keyring URI comes back unchanged, so provider
// apiKey fields may hold either a literal key or a reference.
func ResolveKeyringURI(store Store, value string) (string, error) {
	if !IsKeyringURI(value) {
		return value, nil
	}

	service, key, err := ParseKeyringURI(value)
	if err != nil {
		return "", err
	}

	secret, err := store.Retrieve(service, key)
	if err != nil {
		return "", errors.Wrapf(err, errors.CodeSecretResolveFailure,
			"resolving keyring URI %q", value)
	}
	return secret, nil
}

// ResolveViperSecrets walks all keys in a Viper instance and resolves any
// string values using the keyring:// scheme, in place. Resolution
// failures keep the original URI and log a warning; validation surfaces
// the problem when the value is actually used.
func ResolveViperSecrets(v *viper.Viper, store Store) {
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if !IsKeyringURI(val) {
			continue
		}

		resolved, err := ResolveKeyringURI(store, val)
		if err != nil {
			slog.Warn("failed to resolve keyring URI, keeping original value",
				"config_key", key, "error", err)
			continue
		}
		v.Set(key, resolved)
	}
}

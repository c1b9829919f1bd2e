// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

package secrets

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"

	"github.com/zalando/go-keyring"

	"github.com/modelrelay/modelrelay/pkg/errors"
)

// indexSuffix is appended to the service name to form the key under which
// a JSON index of stored key names is kept. go-keyring cannot enumerate
// keys natively, so List works off this index.
const indexSuffix = "::keys-index"

// KeyringStore implements Store on the OS keyring: Keychain on macOS,
// secret-service on Linux, Credential Manager on Windows.
type KeyringStore struct{}

func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func (s *KeyringStore) Store(service, key, value string) error {
	if err := validate(service, key); err != nil {
		return err
	}
	if err := keyring.Set(service, key, value); err != nil {
		return errors.Wrapf(err, errors.CodeSecretStoreFailure, "storing secret %s/%s", service, key)
	}
	return s.addToIndex(service, key)
}

func (s *KeyringStore) Retrieve(service, key string) (string, error) {
	if err := validate(service, key); err != nil {
		return "", err
	}
	val, err := keyring.Get(service, key)
	if err != nil {
		if stderrors.Is(err, keyring.ErrNotFound) {
			return "", errors.Errorf(errors.CodeSecretNotFound, "secret %s/%s not found", service, key)
		}
		return "", errors.Wrapf(err, errors.CodeSecretStoreFailure, "retrieving secret %s/%s", service, key)
	}
	return val, nil
}

func (s *KeyringStore) Delete(service, key string) error {
	if err := validate(service, key); err != nil {
		return err
	}
	if err := keyring.Delete(service, key); err != nil {
		if stderrors.Is(err, keyring.ErrNotFound) {
			return errors.Errorf(errors.CodeSecretNotFound, "secret %s/%s not found", service, key)
		}
		return errors.Wrapf(err, errors.CodeSecretDeleteFailure, "deleting secret %s/%s", service, key)
	}
	return s.removeFromIndex(service, key)
}

func (s *KeyringStore) List(service string) ([]string, error) {
	return s.loadIndex(service)
}

func validate(service, key string) error {
	if service == "" {
		return errors.New(errors.CodeSecretInvalidInput, "service must not be empty")
	}
	if key == "" {
		return errors.New(errors.CodeSecretInvalidInput, "key must not be empty")
	}
	return nil
}

func (s *KeyringStore) loadIndex(service string) ([]string, error) {
	raw, err := keyring.Get(service, service+indexSuffix)
	if err != nil {
		if stderrors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, errors.CodeSecretListFailure, "loading key index for service %s", service)
	}

	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, errors.Wrapf(err, errors.CodeSecretListFailure, "decoding key index for service %s", service)
	}
	return keys, nil
}

func (s *KeyringStore) saveIndex(service string, keys []string) error {
	indexKey := service + indexSuffix

	if len(keys) == 0 {
		if delErr := keyring.Delete(service, indexKey); delErr != nil {
			slog.Debug("failed to clean up empty key index", "service", service, "error", delErr)
		}
		return nil
	}

	data, err := json.Marshal(keys)
	if err != nil {
		return errors.Wrapf(err, errors.CodeSecretListFailure, "encoding key index for service %s", service)
	}
	if err := keyring.Set(service, indexKey, string(data)); err != nil {
		return errors.Wrapf(err, errors.CodeSecretListFailure, "saving key index for service %s", service)
	}
	return nil
}

// addToIndex is idempotent.
func (s *KeyringStore) addToIndex(service, key string) error {
	keys, err := s.loadIndex(service)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k == key {
			return nil
		}
	}
	return s.saveIndex(service, append(keys, key))
}

func (s *KeyringStore) removeFromIndex(service, key string) error {
	keys, err := s.loadIndex(service)
	if err != nil {
		return err
	}
	filtered := keys[:0]
	for _, k := range keys {
		if k != key {
			filtered = append(filtered, k)
		}
	}
	return s.saveIndex(service, filtered)
}

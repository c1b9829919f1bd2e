// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

package provider

import (
	"sort"
	"strings"
	"sync"

	relayerr "github.com/modelrelay/modelrelay/pkg/errors"
)

// Registry holds constructed providers keyed by their configured ID.
// It is populated at startup and read from many request goroutines, so
// access is RWMutex-guarded.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	priority  map[string]int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		priority:  make(map[string]int),
	}
}

// Register adds a provider under its ID (falling back to its type when no
// ID was configured) with the given routing priority.
func (r *Registry) Register(p Provider, priority int) {
	id := p.ID()
	if id == "" {
		id = p.Type()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[id] = p
	r.priority[id] = priority
}

// Get retrieves a provider by ID.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[id]
	if !ok {
		return nil, relayerr.New(
			relayerr.CodeProviderNotFound,
			"provider not found: "+id,
			relayerr.FieldProvider(id),
		)
	}
	return p, nil
}

// Ordered returns all providers in ascending priority order, ties broken
// by ID for determinism.
func (r *Registry) Ordered() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if r.priority[ids[i]] != r.priority[ids[j]] {
			return r.priority[ids[i]] < r.priority[ids[j]]
		}
		return ids[i] < ids[j]
	})

	out := make([]Provider, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.providers[id])
	}
	return out
}

// ParseRef splits a "provider/model" reference on the first "/". A ref
// without a slash is a bare provider ID with no model.
func ParseRef(ref string) (providerID, model string) {
	idx := strings.Index(ref, "/")
	if idx < 0 {
		return ref, ""
	}
	return ref[:idx], ref[idx+1:]
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Registry holds the configured login providers and enrichers.
type Registry struct {
	mu              sync.RWMutex
	providers       map[string]Provider
	defaultProvider string
	enrichers       []Enricher
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider. The first provider registered becomes the
// default.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[p.Name()]; ok {
		return fmt.Errorf("provider %q already registered", p.Name())
	}
	r.providers[p.Name()] = p
	if r.defaultProvider == "" {
		r.defaultProvider = p.Name()
	}
	return nil
}

// AddEnricher appends an enricher run after every login.
func (r *Registry) AddEnricher(e Enricher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enrichers = append(r.enrichers, e)
}

// Get returns the provider named name, or the default provider when name
// is empty.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaultProvider
	}
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Enrich runs every enricher in registration order and stops at the first
// failure.
func (r *Registry) Enrich(ctx context.Context, id *Identity) error {
	r.mu.RLock()
	enrichers := slices.Clone(r.enrichers)
	r.mu.RUnlock()

	for _, e := range enrichers {
		if err := e.Enrich(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

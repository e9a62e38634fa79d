// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider implements upstream LLM provider adapters and routing.
//
// Each adapter speaks one upstream streaming API. The registry routes an
// incoming model id to the adapter that serves it, based on the model id's
// namespace prefix.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jeranaias/chatrelay/internal/model"
)

// Error variables for common provider errors.
var (
	// ErrNotConfigured indicates the provider's API key is not set.
	ErrNotConfigured = errors.New("provider API key not configured")

	// ErrNoProvider indicates no adapter serves the requested model.
	ErrNoProvider = errors.New("no provider found for model")
)

// =============================================================================
// ADAPTER INTERFACE
// =============================================================================

// ChatParams carries one upstream streaming request.
type ChatParams struct {
	Model        string
	Messages     []model.ChatMessage
	Temperature  float64
	SystemPrompt string
}

// DeltaFunc receives each content fragment as it arrives. Returning an
// error aborts the stream.
type DeltaFunc func(delta string) error

// Adapter is the interface implemented by upstream providers.
type Adapter interface {
	// Name identifies the provider in health output and logs.
	Name() string

	// Available reports whether the provider has credentials configured.
	Available() bool

	// StreamChat performs a streaming completion, invoking fn for each
	// content delta. Blocks until the stream completes, fails, or the
	// context is cancelled.
	StreamChat(ctx context.Context, params ChatParams, fn DeltaFunc) error
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry routes model ids to adapters by namespace prefix. Safe for
// concurrent use; adapters may be re-registered on config reload.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter // name -> adapter
	prefixes map[string]string  // model prefix -> adapter name
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		prefixes: make(map[string]string),
	}
}

// Register adds an adapter and the model prefixes it serves. Registering
// the same name again replaces the previous adapter.
func (r *Registry) Register(a Adapter, prefixes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
	for _, p := range prefixes {
		r.prefixes[p] = a.Name()
	}
}

// ForModel returns the adapter serving the given model id.
// Routing happens before any upstream call, so an unroutable or
// unconfigured model fails fast with no stream started.
func (r *Registry) ForModel(modelID string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for prefix, name := range r.prefixes {
		if strings.HasPrefix(modelID, prefix) {
			a := r.adapters[name]
			if !a.Available() {
				// Credential env vars follow the <NAME>_API_KEY convention.
				return nil, fmt.Errorf("%s provider not initialized, set %s_API_KEY: %w",
					name, strings.ToUpper(name), ErrNotConfigured)
			}
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoProvider, modelID)
}

// Availability reports each registered provider's configured state,
// keyed by provider name. Used by the health endpoint.
func (r *Registry) Availability() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.adapters))
	for name, a := range r.adapters {
		out[name] = a.Available()
	}
	return out
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

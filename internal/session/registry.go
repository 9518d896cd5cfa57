// ABOUTME: Registry of configured completion providers
// ABOUTME: Maps provider keys to their kind and upstream client selector

package session

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownProvider is returned for a provider key that is not registered.
var ErrUnknownProvider = errors.New("unknown provider")

// Provider describes one selectable completion provider.
type Provider struct {
	Key         string // selector used by commands and storage
	Kind        Kind
	ClientToUse string // value sent as clientOptions.clientToUse
}

// Registry is an immutable set of providers with a default.
type Registry struct {
	providers map[string]Provider
	def       string
}

// NewRegistry builds a registry. The default key must be one of providers.
func NewRegistry(defaultKey string, providers ...Provider) (*Registry, error) {
	if len(providers) == 0 {
		return nil, errors.New("at least one provider is required")
	}
	r := &Registry{providers: make(map[string]Provider, len(providers)), def: defaultKey}
	for _, p := range providers {
		if p.Key == "" {
			return nil, errors.New("provider key is required")
		}
		if !p.Kind.Valid() {
			return nil, fmt.Errorf("provider %q: unknown kind %q", p.Key, p.Kind)
		}
		if _, dup := r.providers[p.Key]; dup {
			return nil, fmt.Errorf("provider %q registered twice", p.Key)
		}
		if p.ClientToUse == "" {
			p.ClientToUse = p.Key
		}
		r.providers[p.Key] = p
	}
	if _, ok := r.providers[defaultKey]; !ok {
		return nil, fmt.Errorf("default provider %q is not registered", defaultKey)
	}
	return r, nil
}

// Lookup returns the provider for key. An empty key selects the default.
func (r *Registry) Lookup(key string) (Provider, error) {
	if key == "" {
		key = r.def
	}
	p, ok := r.providers[key]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %q", ErrUnknownProvider, key)
	}
	return p, nil
}

// Default returns the default provider.
func (r *Registry) Default() Provider {
	return r.providers[r.def]
}

// Keys returns all provider keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.providers))
	for k := range r.providers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

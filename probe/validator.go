/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package probe

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Validator performs one validation attempt for a credential.
// A non-nil error or a non-success Outcome both mean the attempt failed.
type Validator interface {
	Probe(ctx context.Context, cred Credential) (Outcome, error)
}

// ValidatorFunc is an adapter to allow the use of ordinary functions as Validator.
type ValidatorFunc func(ctx context.Context, cred Credential) (Outcome, error)

// Probe implements Validator.
func (f ValidatorFunc) Probe(ctx context.Context, cred Credential) (Outcome, error) {
	return f(ctx, cred)
}

// Provider binds a provider tag to its primary validator and an optional premium probe.
// The premium probe has the same shape and runs only after a successful primary attempt.
type Provider struct {
	Name      string
	Validator Validator
	Premium   Validator
}

// Registry maps provider tags to providers. Every engine owns its own Registry.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a Registry with the given providers.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a provider. Registering the same tag twice is an error.
func (r *Registry) Register(p Provider) error {
	if p.Name == "" {
		return fmt.Errorf("provider name is empty")
	}
	if p.Validator == nil {
		return fmt.Errorf("provider %q has no validator", p.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Name]; exists {
		return fmt.Errorf("provider %q already registered", p.Name)
	}
	r.providers[p.Name] = p
	return nil
}

// Lookup returns the provider registered for the tag.
func (r *Registry) Lookup(name string) (Provider, error) {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return Provider{}, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns registered provider tags sorted alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

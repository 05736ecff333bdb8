package provider

import (
	"fmt"
	"sort"
)

// Registry holds providers indexed by name. It is constructed once at
// engine start and threaded through every resolution call; there is no
// process-wide default registry.
type Registry struct {
	providers map[string]*Provider
	order     []string
}

// NewRegistry builds a registry from an ordered provider list.
// Duplicate names are a construction-time error.
func NewRegistry(providers ...*Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]*Provider, len(providers))}
	for _, p := range providers {
		if p == nil || p.Name == "" {
			return nil, fmt.Errorf("provider without a name")
		}
		if _, exists := r.providers[p.Name]; exists {
			return nil, fmt.Errorf("duplicate provider name: %s", p.Name)
		}
		r.providers[p.Name] = p
		r.order = append(r.order, p.Name)
	}
	return r, nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (*Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Require returns the provider or a descriptive error. Resolving an
// entity without a matching registered provider is an error, never a
// silent no-op.
func (r *Registry) Require(name string) (*Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s (registered: %v)", name, r.SortedNames())
	}
	return p, nil
}

// Names returns the registered provider names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// SortedNames returns the registered provider names sorted.
func (r *Registry) SortedNames() []string {
	out := r.Names()
	sort.Strings(out)
	return out
}

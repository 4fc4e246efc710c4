package adapter

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/redbco/redb-desk/pkg/dbcapabilities"
)

// Registry maps backend kinds to adapters.
type Registry struct {
	adapters map[dbcapabilities.Kind]Adapter
	mu       sync.RWMutex
}

// NewRegistry creates a registry holding the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{
		adapters: make(map[dbcapabilities.Kind]Adapter),
	}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register registers an adapter, replacing any previous adapter for the same kind.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.adapters[adapter.Kind()] = adapter
}

// Get retrieves a registered adapter by kind.
// Returns ErrAdapterNotFound if the adapter is not registered.
func (r *Registry) Get(kind dbcapabilities.Kind) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, exists := r.adapters[kind]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAdapterNotFound, kind)
	}

	return adapter, nil
}

// GetByName retrieves an adapter by kind, product name or alias.
func (r *Registry) GetByName(name string) (Adapter, error) {
	kind, ok := dbcapabilities.ParseKind(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown backend '%s'", ErrAdapterNotFound, name)
	}

	return r.Get(kind)
}

// IsRegistered checks if an adapter is registered for the given kind.
func (r *Registry) IsRegistered(kind dbcapabilities.Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.adapters[kind]
	return exists
}

// ListRegistered returns the registered kinds in sorted order.
func (r *Registry) ListRegistered() []dbcapabilities.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]dbcapabilities.Kind, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	return kinds
}

// Unregister removes an adapter from the registry.
func (r *Registry) Unregister(kind dbcapabilities.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.adapters, kind)
}

// Connect validates the profile and opens a connection with the adapter for its kind.
func (r *Registry) Connect(ctx context.Context, profile ConnectionProfile, transport Transport) (Connection, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	adapter, err := r.Get(profile.Kind)
	if err != nil {
		return nil, NewValidationError("kind", err.Error())
	}

	conn, err := adapter.Connect(ctx, profile, transport)
	if err != nil {
		return nil, WrapError(profile.Kind, "connect", err)
	}

	return conn, nil
}

// GetCapabilities returns the capabilities for a backend kind.
func (r *Registry) GetCapabilities(kind dbcapabilities.Kind) (dbcapabilities.Capability, error) {
	adapter, err := r.Get(kind)
	if err != nil {
		return dbcapabilities.Capability{}, err
	}

	return adapter.Capabilities(), nil
}

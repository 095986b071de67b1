package descriptor

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Registry maps entity type names to descriptors.
//
// Registration happens during startup. Seal freezes the registry; from then
// on Resolve reads the map without locking since nothing writes to it.
type Registry struct {
	mu      sync.RWMutex
	sealed  atomic.Bool
	entries map[string]Descriptor
}

// NewRegistry creates an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Descriptor)}
}

// Register adds the descriptor for entityType.
func (r *Registry) Register(entityType string, d Descriptor) error {
	if err := validEntityType(entityType); err != nil {
		return err
	}
	if err := d.validate(); err != nil {
		return fmt.Errorf("registering %s: %w", entityType, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() {
		return ErrRegistrySealed
	}
	if _, exists := r.entries[entityType]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateDescriptor, entityType)
	}
	r.entries[entityType] = d.clone()
	return nil
}

// MustRegister is Register for package-level setup; it panics on error.
func (r *Registry) MustRegister(entityType string, d Descriptor) {
	if err := r.Register(entityType, d); err != nil {
		panic(err)
	}
}

// Resolve returns the descriptor of entityType.
// The returned value shares nothing with the registry.
func (r *Registry) Resolve(entityType string) (Descriptor, error) {
	if !r.sealed.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	d, ok := r.entries[entityType]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownEntity, entityType)
	}
	return d.clone(), nil
}

// Seal makes the registry immutable. Sealing twice is harmless.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed.Store(true)
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

// Names returns the registered entity types in lexical order.
func (r *Registry) Names() []string {
	if !r.sealed.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validEntityType(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty entity type", ErrInvalidDescriptor)
	}
	for _, c := range name {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' {
			return fmt.Errorf("%w: entity type %q must be lowercase letters, digits or underscores", ErrInvalidDescriptor, name)
		}
	}
	return nil
}

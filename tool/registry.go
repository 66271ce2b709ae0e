package tool

import (
	"strings"
	"sync"
)

type entry struct {
	def Definition
	fn  Func
}

// Registry maps tool names to their definitions and callables. Registration
// happens during startup; Seal ends that phase before the registry is served.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string
	sealed  bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register binds fn to def. The definition is validated first; a duplicate
// name fails with ErrDuplicateName and the first registration is kept.
func (r *Registry) Register(def Definition, fn Func) error {
	diags := ValidateDefinition(def)
	if HasErrors(diags) {
		err := configurationError(nil, "invalid tool %q: %s", def.Name, strings.Join(diagnosticMessages(diags), "; "))
		err.Details = map[string]any{"diagnostics": diags}
		return err
	}
	if fn == nil {
		return configurationError(nil, "tool %q has no callable", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return configurationError(ErrRegistrySealed, "cannot register %q: registry is sealed", def.Name)
	}
	if r.entries == nil {
		r.entries = make(map[string]entry)
	}
	if _, exists := r.entries[def.Name]; exists {
		return configurationError(ErrDuplicateName, "tool %q is already registered", def.Name)
	}

	r.entries[def.Name] = entry{def: cloneDefinition(def), fn: fn}
	r.order = append(r.order, def.Name)
	return nil
}

// MustRegister is Register for static startup tables; it panics on error.
func (r *Registry) MustRegister(def Definition, fn Func) {
	if err := r.Register(def, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (Definition, error) {
	e, ok := r.get(name)
	if !ok {
		return Definition{}, notFoundError(name)
	}
	return cloneDefinition(e.def), nil
}

func (r *Registry) get(name string) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// List returns all definitions in registration order.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, cloneDefinition(r.entries[name].def))
	}
	return defs
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Seal ends the registration phase. Later Register calls fail with
// ErrRegistrySealed.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

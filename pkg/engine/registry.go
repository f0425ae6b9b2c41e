package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned when a named engine is not present in a registry.
var ErrNotFound = errors.New("engine not found")

// Registry is a thread safe store of named engines.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
}

// NewRegistry creates an empty engine registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]Engine)}
}

// Add registers an engine under its name. Names must be unique.
func (r *Registry) Add(e Engine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.engines[e.Name()]; ok {
		return fmt.Errorf("engine %q is already registered", e.Name())
	}
	r.engines[e.Name()] = e
	return nil
}

// Get returns the engine registered under name.
func (r *Registry) Get(name string) (Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.engines[name]
	return e, ok
}

// Remove unregisters the named engine, stopping it first when active.
func (r *Registry) Remove(ctx context.Context, name string) error {
	r.mu.Lock()
	e, ok := r.engines[name]
	delete(r.engines, name)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if e.Active() {
		if err := e.Stop(ctx); err != nil {
			return fmt.Errorf("failed to stop engine %q on removal: %w", name, err)
		}
	}
	return nil
}

// Names returns the sorted names of all registered engines.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartAll starts every registered engine, continuing on failure.
// The returned error aggregates every start failure.
func (r *Registry) StartAll(ctx context.Context) error {
	var errs error
	for _, e := range r.snapshot() {
		if err := e.Start(ctx); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to start engine %q: %w", e.Name(), err))
		}
	}
	return errs
}

// StopAll stops every registered engine, continuing on failure.
// The returned error aggregates every stop failure.
func (r *Registry) StopAll(ctx context.Context) error {
	var errs error
	for _, e := range r.snapshot() {
		if err := e.Stop(ctx); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to stop engine %q: %w", e.Name(), err))
		}
	}
	return errs
}

func (r *Registry) snapshot() []Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)

	engines := make([]Engine, 0, len(names))
	for _, name := range names {
		engines = append(engines, r.engines[name])
	}
	return engines
}

// Package engine defines the lifecycle contract shared by the greyhorse storage
// and broker engines, together with a named registry to manage them as a group.
package engine

import (
	"context"
	"sync"
)

// Engine is a named connection manager for an external backend.
//
// Engines are reference counted: Start opens the underlying resources only on
// the first call, and Stop disposes of them only once every Start has been
// balanced by a Stop. A fully stopped engine may be started again.
type Engine interface {
	// Name returns the configured name of the engine.
	Name() string

	// Start acquires the engine, opening the underlying pool on first use.
	Start(ctx context.Context) error

	// Stop releases the engine, disposing of the underlying pool on last use.
	Stop(ctx context.Context) error

	// Active reports whether the engine is currently started.
	Active() bool

	// Ping checks the backend connectivity. The engine must be active.
	Ping(ctx context.Context) error
}

// Lifecycle implements the reference counted start/stop behavior shared by all
// engines. The zero value is ready to use.
type Lifecycle struct {
	mu      sync.Mutex
	counter int
}

// Acquire increments the usage counter, calling open on the transition from
// zero. When open fails the counter is left untouched.
func (l *Lifecycle) Acquire(open func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.counter == 0 {
		if err := open(); err != nil {
			return err
		}
	}
	l.counter++
	return nil
}

// Release decrements the usage counter, calling dispose on the transition to
// zero. Releasing an engine that is not acquired is a no-op.
func (l *Lifecycle) Release(dispose func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.counter == 1 {
		if err := dispose(); err != nil {
			l.counter = 0
			return err
		}
	}
	l.counter = max(l.counter-1, 0)
	return nil
}

// Active reports whether the usage counter is above zero.
func (l *Lifecycle) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counter > 0
}

// Guard runs fn while holding the lifecycle lock. Engines use it to read the
// resources that Acquire and Release swap, so reads do not race Start or Stop.
func (l *Lifecycle) Guard(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}

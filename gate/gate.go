// Package gate bounds concurrent access to expensive operations through
// named admission gates.
//
// Each gate is a weighted semaphore registered under a name with a fixed
// capacity. Callers acquire a slot before entering the guarded section and
// release it through the returned Guard. Acquiring from a gate that was
// never registered is a configuration error and reported as such; a full
// gate is ordinary backpressure and blocks instead.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrInvalidLimit is returned when a gate is registered with a
	// capacity below one.
	ErrInvalidLimit = errors.New("gate: limit must be at least 1")

	// ErrNotRegistered is returned when acquiring from an unknown gate.
	ErrNotRegistered = errors.New("gate: not registered")
)

// Registry holds the named gates of a process.
//
// The zero value is not usable; create one with NewRegistry.
type Registry struct {
	mu    sync.RWMutex
	gates map[string]*entry
}

type entry struct {
	sem *semaphore.Weighted
	max int64

	inFlight atomic.Int64
}

// NewRegistry creates an empty gate registry.
func NewRegistry() *Registry {
	return &Registry{
		gates: make(map[string]*entry),
	}
}

// Register creates a gate with the given capacity. Registering a name again
// replaces the gate; slots held on the old gate stay valid until released.
func (r *Registry) Register(name string, max int64) error {
	if max < 1 {
		return fmt.Errorf("%w: %q got %d", ErrInvalidLimit, name, max)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.gates[name] = &entry{
		sem: semaphore.NewWeighted(max),
		max: max,
	}

	return nil
}

// Acquire reserves a slot on the named gate, blocking while the gate is
// full. The returned Guard releases the slot. The context bounds the wait;
// its error is returned on cancellation.
func (r *Registry) Acquire(ctx context.Context, name string) (*Guard, error) {
	e, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	e.inFlight.Add(1)

	return &Guard{entry: e}, nil
}

// TryAcquire reserves a slot without blocking. It reports false when the
// gate is full or not registered.
func (r *Registry) TryAcquire(name string) (*Guard, bool) {
	e, ok := r.lookup(name)
	if !ok {
		return nil, false
	}

	if !e.sem.TryAcquire(1) {
		return nil, false
	}

	e.inFlight.Add(1)

	return &Guard{entry: e}, true
}

// InFlight returns the number of slots currently held on the named gate.
func (r *Registry) InFlight(name string) int64 {
	e, ok := r.lookup(name)
	if !ok {
		return 0
	}

	return e.inFlight.Load()
}

// Limit returns the capacity of the named gate, or 0 when it is not
// registered.
func (r *Registry) Limit(name string) int64 {
	e, ok := r.lookup(name)
	if !ok {
		return 0
	}

	return e.max
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.gates[name]

	return e, ok
}

// Guard represents a held gate slot.
type Guard struct {
	entry    *entry
	released atomic.Bool
}

// Release returns the slot to the gate. Releasing more than once is a
// no-op, so it is safe to defer and also call early.
func (g *Guard) Release() {
	if g == nil || g.released.Swap(true) {
		return
	}

	g.entry.inFlight.Add(-1)
	g.entry.sem.Release(1)
}

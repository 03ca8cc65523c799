// Package optimistic applies local state changes immediately and reconciles
// them with the remote outcome afterwards.
package optimistic

import (
	"context"
	"sync"
)

// Mutation describes one optimistic change.
//
// Apply runs first and returns the previous local value. Commit is the
// remote call. On failure Revert receives exactly the value Apply returned.
// On success Confirm runs, typically to refetch the authoritative state.
type Mutation[V any] struct {
	Apply   func() V
	Commit  func(ctx context.Context) error
	Revert  func(prev V)
	Confirm func(ctx context.Context)
}

// Guard serialises mutations per key so that two overlapping mutations of
// the same item cannot interleave their apply and revert steps. Mutations of
// different keys run concurrently.
type Guard[K comparable, V any] struct {
	mu    sync.Mutex
	locks map[K]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewGuard creates an empty guard
func NewGuard[K comparable, V any]() *Guard[K, V] {
	return &Guard[K, V]{locks: make(map[K]*keyLock)}
}

// Do runs m under the lock for key. It returns the commit error after any
// revert has been applied, or ctx.Err() if the lock could not be taken.
func (g *Guard[K, V]) Do(ctx context.Context, key K, m Mutation[V]) error {
	if err := g.acquire(ctx, key); err != nil {
		return err
	}
	defer g.release(key)

	prev := m.Apply()
	if err := m.Commit(ctx); err != nil {
		if m.Revert != nil {
			m.Revert(prev)
		}
		return err
	}
	if m.Confirm != nil {
		m.Confirm(ctx)
	}
	return nil
}

func (g *Guard[K, V]) acquire(ctx context.Context, key K) error {
	g.mu.Lock()
	l, ok := g.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		g.locks[key] = l
	}
	l.refs++
	g.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		g.unref(key, l)
		return ctx.Err()
	}
}

func (g *Guard[K, V]) release(key K) {
	g.mu.Lock()
	l := g.locks[key]
	g.mu.Unlock()

	<-l.ch
	g.unref(key, l)
}

func (g *Guard[K, V]) unref(key K, l *keyLock) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(g.locks, key)
	}
}

// Pending reports how many mutations hold or wait for key
func (g *Guard[K, V]) Pending(key K) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.locks[key]; ok {
		return l.refs
	}
	return 0
}

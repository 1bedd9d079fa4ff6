package optimistic

import (
	"context"
	"fmt"
	"log"
	"slices"

	"github.com/warp/questpoints/metrics"
)

// =============================================================================
// MUTATION STATE MACHINE
// =============================================================================

// State of a mutation. Pending -> Committed | RolledBack, nothing after.
type State int

const (
	Pending State = iota
	Committed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Mutation holds the snapshot of one optimistic change.
type Mutation struct {
	cache    *Cache
	keys     []Key
	snapshot map[Key]snapshot
	state    State // guarded by cache.mu
}

// RollbackError is returned by Rollback. It unwraps to the cause.
type RollbackError struct {
	Cause error
	Keys  []Key
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("optimistic mutation rolled back: %v", e.Cause)
}

func (e *RollbackError) Unwrap() error { return e.Cause }

// State returns the current state.
func (m *Mutation) State() State {
	m.cache.mu.Lock()
	defer m.cache.mu.Unlock()
	return m.state
}

// Cached returns the keys that were cached under the mutation's keys when it
// began, sorted.
func (m *Mutation) Cached() []Key {
	m.cache.mu.Lock()
	defer m.cache.mu.Unlock()

	var keys []Key
	for k, s := range m.snapshot {
		if s.present {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

func (m *Mutation) holds(key Key) bool {
	for _, k := range m.keys {
		if k.Covers(key) {
			return true
		}
	}
	return false
}

// Patch replaces the cached value of key with transform(value). Entries that
// are not cached are left absent. transform must return a new value rather
// than modify its argument in place, or the snapshot is lost.
func Patch[T any](m *Mutation, key Key, transform func(T) T) error {
	c := m.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	if m.state != Pending {
		return ErrMutationFinished
	}
	if !m.holds(key) {
		return fmt.Errorf("%w: %s", ErrKeyNotHeld, key)
	}
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	v, ok := e.value.(T)
	if !ok {
		return fmt.Errorf("%w: %s holds %T", ErrTypeMismatch, key, e.value)
	}
	e.value = transform(v)
	return nil
}

// Commit accepts the server result: the snapshot is discarded and the held
// keys plus invalidate are marked stale.
func (m *Mutation) Commit(invalidate ...Key) error {
	c := m.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	if m.state != Pending {
		return ErrMutationFinished
	}
	m.state = Committed
	m.snapshot = nil
	c.invalidateLocked(append(append([]Key{}, m.keys...), invalidate...))
	c.releaseLocked(m)

	metrics.OptimisticMutations.WithLabelValues(Committed.String()).Inc()
	return nil
}

// Rollback restores every snapshotted entry, deleting entries that were absent
// when the mutation began, and returns cause wrapped in *RollbackError.
func (m *Mutation) Rollback(cause error) error {
	c := m.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	if m.state != Pending {
		return ErrMutationFinished
	}
	for k, s := range m.snapshot {
		if !s.present {
			delete(c.entries, k)
			continue
		}
		c.entries[k] = &entry{value: s.value, stale: s.stale}
	}
	m.state = RolledBack
	m.snapshot = nil
	c.releaseLocked(m)

	metrics.OptimisticMutations.WithLabelValues(RolledBack.String()).Inc()
	log.Printf("[Optimistic] rolled back %v: %v", m.keys, cause)
	return &RollbackError{Cause: cause, Keys: m.keys}
}

// =============================================================================
// RUN - The whole protocol
// =============================================================================

// Op describes one optimistic mutation.
type Op struct {
	Keys       []Key
	Patch      func(m *Mutation) error     // predicted change, may be nil
	Do         func(context.Context) error // the server call
	Invalidate []Key                       // refetched after a commit
}

// Run executes op. Do runs on a context that ignores the caller's
// cancellation. If ctx is done first, Run returns ctx.Err() and the mutation
// still reconciles once Do returns.
func Run(ctx context.Context, c *Cache, op Op) error {
	m, err := c.Begin(ctx, op.Keys...)
	if err != nil {
		return err
	}
	if op.Patch != nil {
		if err := op.Patch(m); err != nil {
			return m.Rollback(err)
		}
	}

	done := make(chan error, 1)
	go func() {
		if err := op.Do(context.WithoutCancel(ctx)); err != nil {
			done <- m.Rollback(err)
			return
		}
		done <- m.Commit(op.Invalidate...)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		metrics.OptimisticMutations.WithLabelValues("abandoned").Inc()
		return ctx.Err()
	}
}

/*
Package optimistic implements the client-side optimistic consistency
contract: a keyed view cache, and one mutation state machine that patches
the cache before the server answers and reconciles when it does.

PROTOCOL:
  1. Begin(keys)      wait for in-flight mutations on overlapping keys,
                      then snapshot every cached entry under those keys
  2. Patch            apply the predicted change to entries that are cached
                      (absent entries stay absent)
  3. server call
  4a. success         Commit: discard the snapshot, mark the keys (and any
                      extra keys) stale so the next Load refetches truth
  4b. failure         Rollback: restore the snapshot exactly, surface the
                      error wrapped in *RollbackError

  Run does all four. The server call runs on a context detached from the
  caller, so a caller that gives up does not leave a patch behind: the
  mutation still commits or rolls back when the call resolves.

LOADS:
  A Load on a key held by a mutation returns the patched entry, or waits
  for the mutation when nothing is cached. Begin and Invalidate cancel
  loads already running on overlapping keys; their results are dropped and
  the Load fetches again, so a response read before a commit is never
  stored as fresh.

KEYS:
  Keys are slash-joined parts, e.g. KeyOf("task", identityID). A key covers
  itself and every key below it: "task" covers "task/abc". Two mutations
  overlap when one key covers the other.

SEE ALSO:
  - mutation.go: Mutation state machine and Run
  - client/board.go: The task board views built on this cache
*/
package optimistic

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// =============================================================================
// KEYS
// =============================================================================

// Key identifies a cached view.
type Key string

const keySep = "/"

// KeyOf joins parts into a key.
func KeyOf(parts ...string) Key {
	return Key(strings.Join(parts, keySep))
}

// Covers reports whether other is k or lies below k.
func (k Key) Covers(other Key) bool {
	return k == other || strings.HasPrefix(string(other), string(k)+keySep)
}

func overlaps(a, b Key) bool {
	return a.Covers(b) || b.Covers(a)
}

// =============================================================================
// CACHE
// =============================================================================

var (
	ErrMutationFinished = errors.New("optimistic: mutation already finished")
	ErrKeyNotHeld       = errors.New("optimistic: key not held by mutation")
	ErrTypeMismatch     = errors.New("optimistic: cached value has a different type")
)

type entry struct {
	value any
	stale bool
}

// Cache is a keyed view cache. The zero value is not usable; call NewCache.
type Cache struct {
	mu       sync.Mutex
	entries  map[Key]*entry
	inflight map[*Mutation]struct{}
	loads    map[*pendingLoad]struct{}

	// released is closed and replaced whenever a mutation finishes.
	released chan struct{}
}

func NewCache() *Cache {
	return &Cache{
		entries:  make(map[Key]*entry),
		inflight: make(map[*Mutation]struct{}),
		loads:    make(map[*pendingLoad]struct{}),
		released: make(chan struct{}),
	}
}

// Get returns the cached value for key if present and of type T.
func Get[T any](c *Cache, key Key) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	v, ok := e.value.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// Set stores a fresh value.
func (c *Cache) Set(key Key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{value: value}
}

// IsStale reports whether key is cached and marked stale.
func (c *Cache) IsStale(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && e.stale
}

// Invalidate marks every entry covered by keys stale.
func (c *Cache) Invalidate(keys ...Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked(keys)
}

func (c *Cache) invalidateLocked(keys []Key) {
	for k, e := range c.entries {
		for _, key := range keys {
			if key.Covers(k) {
				e.stale = true
				break
			}
		}
	}
	c.supersedeLocked(keys)
}

// =============================================================================
// LOADS
// =============================================================================

type pendingLoad struct {
	key        Key
	cancel     context.CancelFunc
	superseded bool
}

// supersedeLocked cancels running loads on keys overlapping keys. Their
// results will not be stored.
func (c *Cache) supersedeLocked(keys []Key) {
	for l := range c.loads {
		for _, k := range keys {
			if overlaps(k, l.key) {
				l.superseded = true
				l.cancel()
				delete(c.loads, l)
				break
			}
		}
	}
}

// Load returns the cached value for key, calling loader when the entry is
// missing or stale. While a mutation holds key the patched entry is served
// as is. A load superseded by a mutation or invalidation is retried.
func Load[T any](ctx context.Context, c *Cache, key Key, loader func(context.Context) (T, error)) (T, error) {
	var zero T
	for {
		c.mu.Lock()
		e, cached := c.entries[key]
		busy := c.busyLocked([]Key{key})
		if cached && (!e.stale || busy) {
			if v, ok := e.value.(T); ok {
				c.mu.Unlock()
				return v, nil
			}
		}
		if busy {
			wait := c.released
			c.mu.Unlock()
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-wait:
			}
			continue
		}

		loadCtx, cancel := context.WithCancel(ctx)
		l := &pendingLoad{key: key, cancel: cancel}
		c.loads[l] = struct{}{}
		c.mu.Unlock()

		v, err := loader(loadCtx)
		cancel()

		c.mu.Lock()
		if !l.superseded {
			delete(c.loads, l)
			if err == nil {
				c.entries[key] = &entry{value: v}
			}
			c.mu.Unlock()
			if err != nil {
				return zero, err
			}
			return v, nil
		}
		c.mu.Unlock()

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}
}

// Begin starts a mutation on keys. It blocks while another mutation holds an
// overlapping key, or until ctx is done. Loads running on overlapping keys
// are cancelled.
func (c *Cache) Begin(ctx context.Context, keys ...Key) (*Mutation, error) {
	for {
		c.mu.Lock()
		if !c.busyLocked(keys) {
			c.supersedeLocked(keys)
			m := &Mutation{cache: c, keys: keys, snapshot: c.snapshotLocked(keys)}
			c.inflight[m] = struct{}{}
			c.mu.Unlock()
			return m, nil
		}
		wait := c.released
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

func (c *Cache) busyLocked(keys []Key) bool {
	for m := range c.inflight {
		for _, held := range m.keys {
			for _, k := range keys {
				if overlaps(held, k) {
					return true
				}
			}
		}
	}
	return false
}

type snapshot struct {
	value   any
	stale   bool
	present bool
}

func (c *Cache) snapshotLocked(keys []Key) map[Key]snapshot {
	snap := make(map[Key]snapshot)
	for _, k := range keys {
		snap[k] = snapshot{}
	}
	for k, e := range c.entries {
		for _, key := range keys {
			if key.Covers(k) {
				snap[k] = snapshot{value: e.value, stale: e.stale, present: true}
				break
			}
		}
	}
	return snap
}

// release drops m from the in-flight set and wakes waiters.
func (c *Cache) releaseLocked(m *Mutation) {
	delete(c.inflight, m)
	close(c.released)
	c.released = make(chan struct{})
}

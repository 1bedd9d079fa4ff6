package optimistic_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/questpoints/optimistic"
)

var (
	tasksKey = optimistic.KeyOf("task")
	taskKey  = optimistic.KeyOf("task", "t1")
	balKey   = optimistic.KeyOf("balance")
)

func TestKey_Covers(t *testing.T) {
	assert.True(t, tasksKey.Covers(taskKey))
	assert.True(t, taskKey.Covers(taskKey))
	assert.False(t, taskKey.Covers(tasksKey))
	assert.False(t, optimistic.KeyOf("task").Covers(optimistic.KeyOf("tasks")))
}

func TestRun_CommitKeepsPatchAndMarksStale(t *testing.T) {
	// GIVEN: a cached list
	c := optimistic.NewCache()
	c.Set(tasksKey, []string{"a"})
	c.Set(balKey, 10)

	// WHEN: a mutation patches it and the server accepts
	err := optimistic.Run(context.Background(), c, optimistic.Op{
		Keys: []optimistic.Key{tasksKey},
		Patch: func(m *optimistic.Mutation) error {
			return optimistic.Patch(m, tasksKey, func(v []string) []string {
				return append(append([]string{}, v...), "b")
			})
		},
		Do:         func(context.Context) error { return nil },
		Invalidate: []optimistic.Key{balKey},
	})

	// THEN: the predicted value stays until refetched, and both keys are stale
	require.NoError(t, err)
	got, ok := optimistic.Get[[]string](c, tasksKey)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.True(t, c.IsStale(tasksKey))
	assert.True(t, c.IsStale(balKey))
}

func TestRun_FailureRestoresSnapshot(t *testing.T) {
	c := optimistic.NewCache()
	c.Set(tasksKey, []string{"a"})
	c.Set(taskKey, "open")
	serverErr := errors.New("boom")

	err := optimistic.Run(context.Background(), c, optimistic.Op{
		Keys: []optimistic.Key{tasksKey},
		Patch: func(m *optimistic.Mutation) error {
			if err := optimistic.Patch(m, tasksKey, func(v []string) []string { return nil }); err != nil {
				return err
			}
			return optimistic.Patch(m, taskKey, func(string) string { return "done" })
		},
		Do: func(context.Context) error { return serverErr },
	})

	var rb *optimistic.RollbackError
	require.ErrorAs(t, err, &rb)
	assert.ErrorIs(t, err, serverErr)

	got, _ := optimistic.Get[[]string](c, tasksKey)
	assert.Equal(t, []string{"a"}, got)
	state, _ := optimistic.Get[string](c, taskKey)
	assert.Equal(t, "open", state)
	assert.False(t, c.IsStale(tasksKey), "rollback must not mark entries stale")
}

func TestPatch_AbsentEntryStaysAbsent(t *testing.T) {
	c := optimistic.NewCache()
	m, err := c.Begin(context.Background(), tasksKey)
	require.NoError(t, err)

	require.NoError(t, optimistic.Patch(m, taskKey, func(s string) string { return "x" }))
	_, ok := optimistic.Get[string](c, taskKey)
	assert.False(t, ok)
	require.NoError(t, m.Commit())
}

func TestRollback_RemovesEntriesLoadedDuringMutation(t *testing.T) {
	c := optimistic.NewCache()
	m, err := c.Begin(context.Background(), taskKey)
	require.NoError(t, err)

	c.Set(taskKey, "fetched")
	_ = m.Rollback(errors.New("fail"))

	_, ok := optimistic.Get[string](c, taskKey)
	assert.False(t, ok)
}

func TestMutation_FinalStatesAreTerminal(t *testing.T) {
	c := optimistic.NewCache()
	c.Set(taskKey, "v")

	m, err := c.Begin(context.Background(), taskKey)
	require.NoError(t, err)
	assert.Equal(t, optimistic.Pending, m.State())

	require.NoError(t, m.Commit())
	assert.Equal(t, optimistic.Committed, m.State())

	assert.ErrorIs(t, m.Commit(), optimistic.ErrMutationFinished)
	assert.ErrorIs(t, m.Rollback(errors.New("late")), optimistic.ErrMutationFinished)
	assert.ErrorIs(t, optimistic.Patch(m, taskKey, func(s string) string { return s }), optimistic.ErrMutationFinished)
	assert.Equal(t, optimistic.Committed, m.State())
}

func TestPatch_Errors(t *testing.T) {
	c := optimistic.NewCache()
	c.Set(taskKey, "v")
	c.Set(balKey, 5)

	m, err := c.Begin(context.Background(), taskKey)
	require.NoError(t, err)
	defer m.Commit()

	assert.ErrorIs(t, optimistic.Patch(m, balKey, func(n int) int { return n + 1 }), optimistic.ErrKeyNotHeld)
	assert.ErrorIs(t, optimistic.Patch(m, taskKey, func(n int) int { return n + 1 }), optimistic.ErrTypeMismatch)
}

func TestBegin_SerializesOverlappingKeys(t *testing.T) {
	c := optimistic.NewCache()
	first, err := c.Begin(context.Background(), tasksKey)
	require.NoError(t, err)

	// Disjoint keys do not wait.
	other, err := c.Begin(context.Background(), balKey)
	require.NoError(t, err)
	require.NoError(t, other.Commit())

	// An overlapping key waits until the first finishes.
	started := make(chan *optimistic.Mutation)
	go func() {
		m, err := c.Begin(context.Background(), taskKey)
		if err != nil {
			close(started)
			return
		}
		started <- m
	}()

	select {
	case <-started:
		t.Fatal("second mutation began while the first was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, first.Commit())
	select {
	case m := <-started:
		require.NotNil(t, m)
		require.NoError(t, m.Commit())
	case <-time.After(time.Second):
		t.Fatal("second mutation never began")
	}
}

func TestBegin_ContextCancelled(t *testing.T) {
	c := optimistic.NewCache()
	held, err := c.Begin(context.Background(), tasksKey)
	require.NoError(t, err)
	defer held.Commit()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Begin(ctx, tasksKey)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_AbandonedCallerStillReconciles(t *testing.T) {
	// GIVEN: a server call that outlives the caller
	c := optimistic.NewCache()
	c.Set(taskKey, "open")
	release := make(chan struct{})
	finished := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- optimistic.Run(ctx, c, optimistic.Op{
			Keys: []optimistic.Key{taskKey},
			Patch: func(m *optimistic.Mutation) error {
				return optimistic.Patch(m, taskKey, func(string) string { return "done" })
			},
			Do: func(callCtx context.Context) error {
				defer close(finished)
				<-release
				if callCtx.Err() != nil {
					return callCtx.Err()
				}
				return errors.New("rejected")
			},
		})
	}()

	// WHEN: the caller gives up before the server answers
	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	// THEN: the patch is still visible until the call resolves, then rolled back
	v, _ := optimistic.Get[string](c, taskKey)
	assert.Equal(t, "done", v)

	close(release)
	<-finished

	require.Eventually(t, func() bool {
		v, _ := optimistic.Get[string](c, taskKey)
		return v == "open"
	}, time.Second, 5*time.Millisecond)
}

func TestLoad_RefetchesStale(t *testing.T) {
	c := optimistic.NewCache()
	calls := 0
	loader := func(context.Context) (int, error) {
		calls++
		return calls * 10, nil
	}

	v, err := optimistic.Load(context.Background(), c, balKey, loader)
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	v, _ = optimistic.Load(context.Background(), c, balKey, loader)
	assert.Equal(t, 10, v, "fresh entry served from cache")

	c.Invalidate(balKey)
	v, _ = optimistic.Load(context.Background(), c, balKey, loader)
	assert.Equal(t, 20, v)
	assert.Equal(t, 2, calls)
}

func TestMutation_Cached(t *testing.T) {
	c := optimistic.NewCache()
	c.Set(tasksKey, []string{})
	c.Set(taskKey, "v")
	c.Set(balKey, 1)

	m, err := c.Begin(context.Background(), tasksKey, optimistic.KeyOf("today"))
	require.NoError(t, err)
	defer m.Commit()

	assert.Equal(t, []optimistic.Key{tasksKey, taskKey}, m.Cached())
}

func TestLoad_CommitDropsResponseReadBefore(t *testing.T) {
	// GIVEN: a stale entry and a load whose first response was read before
	// the mutation committed
	c := optimistic.NewCache()
	c.Set(balKey, 0)
	c.Invalidate(balKey)

	started := make(chan struct{})
	release := make(chan struct{})
	calls := 0
	loader := func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			close(started)
			<-release
			return 1, nil
		}
		return 3, nil
	}
	type result struct {
		v   int
		err error
	}
	loaded := make(chan result, 1)
	go func() {
		v, err := optimistic.Load(context.Background(), c, balKey, loader)
		loaded <- result{v, err}
	}()
	<-started

	// WHEN: a mutation patches and commits while the load is in flight
	err := optimistic.Run(context.Background(), c, optimistic.Op{
		Keys: []optimistic.Key{balKey},
		Patch: func(m *optimistic.Mutation) error {
			return optimistic.Patch(m, balKey, func(int) int { return 2 })
		},
		Do: func(context.Context) error { return nil },
	})
	require.NoError(t, err)
	v, _ := optimistic.Get[int](c, balKey)
	assert.Equal(t, 2, v)
	assert.True(t, c.IsStale(balKey))
	close(release)

	// THEN: the old response is dropped and the load fetches again
	res := <-loaded
	require.NoError(t, res.err)
	assert.Equal(t, 3, res.v)
	v, _ = optimistic.Get[int](c, balKey)
	assert.Equal(t, 3, v)
	assert.False(t, c.IsStale(balKey))
	assert.Equal(t, 2, calls)
}

func TestBegin_CancelsRunningLoad(t *testing.T) {
	c := optimistic.NewCache()
	started := make(chan struct{})
	cancelled := make(chan struct{})
	calls := 0
	loader := func(ctx context.Context) ([]string, error) {
		calls++
		if calls == 1 {
			close(started)
			<-ctx.Done()
			close(cancelled)
			return nil, ctx.Err()
		}
		return []string{"truth"}, nil
	}
	loaded := make(chan []string, 1)
	go func() {
		v, _ := optimistic.Load(context.Background(), c, tasksKey, loader)
		loaded <- v
	}()
	<-started

	m, err := c.Begin(context.Background(), taskKey)
	require.NoError(t, err)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("load was not cancelled by an overlapping mutation")
	}
	require.NoError(t, m.Commit())

	select {
	case v := <-loaded:
		assert.Equal(t, []string{"truth"}, v)
	case <-time.After(time.Second):
		t.Fatal("load never retried")
	}
}

func TestLoad_WaitsForMutationOnMissingEntry(t *testing.T) {
	// GIVEN: a mutation holding a key with nothing cached
	c := optimistic.NewCache()
	m, err := c.Begin(context.Background(), balKey)
	require.NoError(t, err)

	loaded := make(chan int, 1)
	go func() {
		v, _ := optimistic.Load(context.Background(), c, balKey, func(context.Context) (int, error) {
			return 42, nil
		})
		loaded <- v
	}()

	// WHEN: the mutation is still pending
	// THEN: the load waits, and fetches once the mutation finishes
	select {
	case <-loaded:
		t.Fatal("load ran while a mutation held the key")
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, m.Commit())
	select {
	case v := <-loaded:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("load never ran")
	}
}

func TestLoad_ServesPatchedEntryDuringMutation(t *testing.T) {
	c := optimistic.NewCache()
	c.Set(balKey, 10)
	c.Invalidate(balKey)
	m, err := c.Begin(context.Background(), balKey)
	require.NoError(t, err)
	defer m.Commit()
	require.NoError(t, optimistic.Patch(m, balKey, func(v int) int { return v + 5 }))

	v, err := optimistic.Load(context.Background(), c, balKey, func(context.Context) (int, error) {
		t.Fatal("loader called while a mutation held the key")
		return 0, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 15, v)
}

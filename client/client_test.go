package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warp/questpoints/api"
	"github.com/warp/questpoints/economy"
	"github.com/warp/questpoints/optimistic"
	"github.com/warp/questpoints/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestBoard(t *testing.T, scenario string) *Board {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv := httptest.NewServer(api.NewRouter(api.NewHandler(store, economy.FundingStrict), api.DefaultOptions()))
	t.Cleanup(srv.Close)

	c := New(srv.URL)
	if scenario != "" {
		require.NoError(t, c.LoadScenario(context.Background(), scenario))
	}
	return NewBoard(c)
}

func named(t *testing.T, tasks []api.TaskDTO, name string) api.TaskDTO {
	t.Helper()
	for _, task := range tasks {
		if task.Name == name {
			return task
		}
	}
	t.Fatalf("task %q not found", name)
	return api.TaskDTO{}
}

func rewardNamed(t *testing.T, rewards []api.RewardDTO, name string) api.RewardDTO {
	t.Helper()
	for _, r := range rewards {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("reward %q not found", name)
	return api.RewardDTO{}
}

func cachedTaskNamed(t *testing.T, b *Board, key optimistic.Key, name string) api.TaskDTO {
	t.Helper()
	list, ok := optimistic.Get[[]api.TaskDTO](b.Cache, key)
	require.True(t, ok, "%s not cached", key)
	return named(t, list, name)
}

// =============================================================================
// CLIENT
// =============================================================================

func TestClient_ErrorsMapToSentinels(t *testing.T) {
	b := newTestBoard(t, "")
	ctx := context.Background()

	_, err := b.Client.GetTask(ctx, "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, economy.ErrNotFound)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, economy.CodeNotFound, apiErr.Code)

	_, err = b.Client.CreateReward(ctx, api.CreateRewardRequest{Name: "no cost"})
	assert.ErrorIs(t, err, economy.ErrInvalidArgument)
}

func TestClient_CreateAndList(t *testing.T) {
	b := newTestBoard(t, "")
	ctx := context.Background()

	me, err := b.Client.CreateIdentity(ctx, api.CreateIdentityRequest{Name: "Me"})
	require.NoError(t, err)

	_, err = b.Client.CreateTask(ctx, api.CreateTaskRequest{
		Name: "Walk", IdentityID: me.ID, Points: 10, PointsType: "POSITIVE", TaskType: "DEFAULT",
	})
	require.NoError(t, err)

	tasks, err := b.Client.ListTasks(ctx, TaskQuery{IdentityID: me.ID})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Walk", tasks[0].Name)

	active := false
	none, err := b.Client.ListTasks(ctx, TaskQuery{IsActive: &active})
	require.NoError(t, err)
	assert.Empty(t, none)
}

// =============================================================================
// BOARD - Commit
// =============================================================================

func TestBoard_ToggleCompletion_PredictsThenRefetches(t *testing.T) {
	// GIVEN: fitness loaded, 350 balance, Yoga class (80) open and on today
	b := newTestBoard(t, "fitness")
	ctx := context.Background()

	tasks, err := b.Tasks(ctx)
	require.NoError(t, err)
	_, err = b.TodayTasks(ctx)
	require.NoError(t, err)
	_, err = b.Identities(ctx)
	require.NoError(t, err)
	bal, err := b.Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, 350, bal.Balance)

	// WHEN: completing Yoga class
	res, err := b.ToggleCompletion(ctx, named(t, tasks, "Yoga class"))
	require.NoError(t, err)
	assert.False(t, res.IsActive)

	// THEN: both lists show the predicted state and are stale
	assert.False(t, cachedTaskNamed(t, b, KeyTasks, "Yoga class").IsActive)
	assert.False(t, cachedTaskNamed(t, b, KeyToday, "Yoga class").IsActive)
	assert.True(t, b.Cache.IsStale(KeyTasks))
	assert.True(t, b.Cache.IsStale(KeyToday))
	assert.True(t, b.Cache.IsStale(KeyIdentities))

	predicted, ok := optimistic.Get[api.LedgerSummaryDTO](b.Cache, KeyBalance)
	require.True(t, ok)
	assert.Equal(t, 430, predicted.Balance)
	assert.True(t, b.Cache.IsStale(KeyBalance))

	// AND: the refetch agrees with the prediction
	bal, err = b.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 430, bal.Balance)
	assert.False(t, b.Cache.IsStale(KeyBalance))
}

func TestBoard_ToggleFavoriteAndPin(t *testing.T) {
	b := newTestBoard(t, "fitness")
	ctx := context.Background()

	tasks, err := b.Tasks(ctx)
	require.NoError(t, err)
	yoga := named(t, tasks, "Yoga class")

	_, err = b.ToggleFavorite(ctx, yoga)
	require.NoError(t, err)
	res, err := b.TogglePin(ctx, yoga)
	require.NoError(t, err)
	assert.True(t, res.IsPinned)

	cached := cachedTaskNamed(t, b, KeyTasks, "Yoga class")
	assert.True(t, cached.IsFavorited)
	assert.True(t, cached.IsPinned)

	tasks, err = b.Tasks(ctx)
	require.NoError(t, err)
	fresh := named(t, tasks, "Yoga class")
	assert.True(t, fresh.IsFavorited)
	assert.True(t, fresh.IsPinned)
}

func TestBoard_DeleteTask(t *testing.T) {
	b := newTestBoard(t, "fitness")
	ctx := context.Background()

	tasks, err := b.Tasks(ctx)
	require.NoError(t, err)
	_, err = b.Balance(ctx)
	require.NoError(t, err)

	require.NoError(t, b.DeleteTask(ctx, named(t, tasks, "Gym session")))

	cached, _ := optimistic.Get[[]api.TaskDTO](b.Cache, KeyTasks)
	assert.Len(t, cached, 3)
	predicted, _ := optimistic.Get[api.LedgerSummaryDTO](b.Cache, KeyBalance)
	assert.Equal(t, 150, predicted.Balance)

	bal, err := b.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 150, bal.Balance)
}

func TestBoard_IncrementCounter(t *testing.T) {
	// GIVEN: the water counter at 5 increments, 25 points
	b := newTestBoard(t, "hydration")
	ctx := context.Background()

	tasks, err := b.Tasks(ctx)
	require.NoError(t, err)
	water := named(t, tasks, "Drink a glass of water")

	// WHEN: one more glass today
	res, err := b.IncrementCounter(ctx, water, api.IncrementCounterRequest{})
	require.NoError(t, err)
	assert.Equal(t, 30, res.AccumulatedPoints)

	// THEN: the cached counter was bumped before the refetch
	cached := cachedTaskNamed(t, b, KeyTasks, "Drink a glass of water")
	require.NotNil(t, cached.CounterTask)
	assert.Equal(t, 6, cached.CounterTask.Count)
	assert.Equal(t, 30, cached.CounterTask.AccumulatedPoints)

	tasks, err = b.Tasks(ctx)
	require.NoError(t, err)
	fresh := named(t, tasks, "Drink a glass of water")
	assert.Equal(t, 6, fresh.CounterTask.Count)
	assert.Equal(t, 30, fresh.CounterTask.AccumulatedPoints)
}

// =============================================================================
// BOARD - Rollback
// =============================================================================

func TestBoard_FailedIncrementRestoresCount(t *testing.T) {
	b := newTestBoard(t, "hydration")
	ctx := context.Background()

	tasks, err := b.Tasks(ctx)
	require.NoError(t, err)
	water := named(t, tasks, "Drink a glass of water")

	// WHEN: incrementing a bucket two days ahead
	future := economy.DayOf(time.Now().UTC()).AddDays(2).String()
	_, err = b.IncrementCounter(ctx, water, api.IncrementCounterRequest{Day: future})

	// THEN: the server rejects it and the displayed count is back to 5
	require.Error(t, err)
	assert.ErrorIs(t, err, economy.ErrInvalidArgument)
	var rb *optimistic.RollbackError
	assert.ErrorAs(t, err, &rb)

	cached := cachedTaskNamed(t, b, KeyTasks, "Drink a glass of water")
	assert.Equal(t, 5, cached.CounterTask.Count)
	assert.Equal(t, 25, cached.CounterTask.AccumulatedPoints)
	assert.Len(t, cached.CounterTask.DayPoints, 2)
	assert.False(t, b.Cache.IsStale(KeyTasks))
}

func TestBoard_ReopenLockedTaskRollsBack(t *testing.T) {
	b := newTestBoard(t, "fitness")
	ctx := context.Background()

	rewards, err := b.Rewards(ctx)
	require.NoError(t, err)
	_, err = b.Client.Redeem(ctx, rewardNamed(t, rewards, "New running shoes").ID)
	require.NoError(t, err)

	tasks, err := b.Tasks(ctx)
	require.NoError(t, err)
	_, err = b.ToggleCompletion(ctx, named(t, tasks, "Morning run"))

	assert.ErrorIs(t, err, economy.ErrTaskLocked)
	assert.False(t, cachedTaskNamed(t, b, KeyTasks, "Morning run").IsActive)
}

// =============================================================================
// BOARD - Redemption
// =============================================================================

func TestBoard_RedeemPredictsLocks(t *testing.T) {
	// GIVEN: fitness loaded with every view cached
	b := newTestBoard(t, "fitness")
	ctx := context.Background()

	_, err := b.Tasks(ctx)
	require.NoError(t, err)
	rewards, err := b.Rewards(ctx)
	require.NoError(t, err)
	_, err = b.Balance(ctx)
	require.NoError(t, err)

	// WHEN: redeeming the 120 point reward
	res, err := b.Redeem(ctx, rewardNamed(t, rewards, "New running shoes"))
	require.NoError(t, err)
	assert.Equal(t, 150, res.LockedPoints)

	// THEN: the cache locked the same two tasks the server did
	assert.True(t, cachedTaskNamed(t, b, KeyTasks, "Morning run").IsLocked)
	assert.True(t, cachedTaskNamed(t, b, KeyTasks, "Stretching").IsLocked)
	assert.False(t, cachedTaskNamed(t, b, KeyTasks, "Gym session").IsLocked)

	cachedRewards, _ := optimistic.Get[[]api.RewardDTO](b.Cache, KeyRewards)
	assert.True(t, rewardNamed(t, cachedRewards, "New running shoes").IsRedeemed)

	predicted, _ := optimistic.Get[api.LedgerSummaryDTO](b.Cache, KeyBalance)
	assert.Equal(t, 200, predicted.Balance)
	assert.Equal(t, 150, predicted.Spent)

	bal, err := b.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, predicted, bal)
}

func TestBoard_InsufficientRedeemRollsBack(t *testing.T) {
	// GIVEN: 200 left after the shoes were redeemed elsewhere
	b := newTestBoard(t, "fitness")
	ctx := context.Background()

	rewards, err := b.Client.ListRewards(ctx)
	require.NoError(t, err)
	_, err = b.Client.Redeem(ctx, rewardNamed(t, rewards, "New running shoes").ID)
	require.NoError(t, err)

	_, err = b.Tasks(ctx)
	require.NoError(t, err)
	rewards, err = b.Rewards(ctx)
	require.NoError(t, err)
	_, err = b.Balance(ctx)
	require.NoError(t, err)

	// WHEN: redeeming the 300 point massage
	_, err = b.Redeem(ctx, rewardNamed(t, rewards, "Sports massage"))

	// THEN: 422 surfaces and every view shows what it showed before
	assert.ErrorIs(t, err, economy.ErrInsufficientPoints)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)

	assert.False(t, cachedTaskNamed(t, b, KeyTasks, "Gym session").IsLocked)
	cachedRewards, _ := optimistic.Get[[]api.RewardDTO](b.Cache, KeyRewards)
	assert.False(t, rewardNamed(t, cachedRewards, "Sports massage").IsRedeemed)
	predicted, _ := optimistic.Get[api.LedgerSummaryDTO](b.Cache, KeyBalance)
	assert.Equal(t, 200, predicted.Balance)
	assert.False(t, b.Cache.IsStale(KeyBalance))
}

// =============================================================================
// BOARD - Concurrency
// =============================================================================

func TestBoard_ConcurrentMutationsAllLand(t *testing.T) {
	b := newTestBoard(t, "fitness")
	ctx := context.Background()

	tasks, err := b.Tasks(ctx)
	require.NoError(t, err)

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			_, err := b.ToggleFavorite(gctx, task)
			return err
		})
	}
	require.NoError(t, g.Wait())

	// Each mutation saw the previous one's patch, none was lost.
	cached, _ := optimistic.Get[[]api.TaskDTO](b.Cache, KeyTasks)
	for _, task := range cached {
		assert.True(t, task.IsFavorited, task.Name)
	}

	tasks, err = b.Tasks(ctx)
	require.NoError(t, err)
	for _, task := range tasks {
		assert.True(t, task.IsFavorited, task.Name)
	}
}

func TestBoard_AbandonedMutationStillReconciles(t *testing.T) {
	b := newTestBoard(t, "fitness")

	tasks, err := b.Tasks(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.ToggleFavorite(ctx, named(t, tasks, "Yoga class"))
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected error: %v", err)
	}

	// A later mutation on the same keys waits for the abandoned one.
	_, err = b.TogglePin(context.Background(), named(t, tasks, "Yoga class"))
	require.NoError(t, err)

	tasks, err = b.Tasks(context.Background())
	require.NoError(t, err)
	assert.True(t, named(t, tasks, "Yoga class").IsPinned)
}

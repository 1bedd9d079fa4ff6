package economy_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warp/questpoints/economy"
	"github.com/warp/questpoints/economy/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func fixedClock(at time.Time) economy.Clock {
	return func() time.Time { return at }
}

func newRedeemEngine(t *testing.T, funding economy.FundingMode) (*economy.RewardLockEngine, *store.TxMemory) {
	t.Helper()
	mem := store.NewTxMemory()
	engine := economy.NewRewardLockEngine(mem, funding)
	engine.Clock = fixedClock(t0.Add(24 * time.Hour))
	return engine, mem
}

// seedFitness stores 100, 50, 200 completed oldest to newest.
func seedFitness(mem *store.TxMemory) []economy.Task {
	return []economy.Task{
		mem.PutTask(completed("pushups", 100, economy.PointsPositive, 0)),
		mem.PutTask(completed("run", 50, economy.PointsPositive, time.Hour)),
		mem.PutTask(completed("swim", 200, economy.PointsPositive, 2*time.Hour)),
	}
}

func balanceOf(t *testing.T, mem *store.TxMemory) int {
	t.Helper()
	tasks, err := mem.ListTasks(context.Background(), economy.TaskFilter{})
	require.NoError(t, err)
	return economy.ComputeBalance(tasks)
}

// =============================================================================
// SELECTION TESTS
// =============================================================================

func TestSelectTasksToLock_OldestFirstMinimal(t *testing.T) {
	// GIVEN: 100, 50, 200 oldest to newest, cost 120
	// WHEN: Selecting
	// THEN: 100 and 50 are taken, 200 is not visited
	tasks := []economy.Task{
		completed("swim", 200, economy.PointsPositive, 2*time.Hour),
		completed("pushups", 100, economy.PointsPositive, 0),
		completed("run", 50, economy.PointsPositive, time.Hour),
	}

	sel := economy.SelectTasksToLock(tasks, 120)

	assert.Equal(t, []economy.TaskID{"pushups", "run"}, sel.TaskIDs())
	assert.Equal(t, 150, sel.Points)
	assert.True(t, sel.Covers(120))
	assert.Equal(t, "swim", string(tasks[0].ID), "input must not be reordered")
}

func TestSelectTasksToLock_LastTaskIsNecessary(t *testing.T) {
	tasks := []economy.Task{
		completed("a", 30, economy.PointsPositive, 0),
		completed("b", 30, economy.PointsPositive, time.Minute),
		completed("c", 30, economy.PointsPositive, 2*time.Minute),
		completed("d", 30, economy.PointsPositive, 3*time.Minute),
	}

	for cost := 1; cost <= 120; cost++ {
		sel := economy.SelectTasksToLock(tasks, cost)
		require.GreaterOrEqual(t, sel.Points, cost, "cost %d", cost)
		last := sel.Tasks[len(sel.Tasks)-1]
		assert.Less(t, sel.Points-last.Points, cost, "cost %d: last task was not needed", cost)
	}
}

func TestSelectTasksToLock_TieBreakByCreatedAt(t *testing.T) {
	same := t0.Add(time.Hour)
	a := completed("newer-created", 60, economy.PointsPositive, 0)
	a.CreatedAt, a.UpdatedAt = t0.Add(10*time.Minute), same
	b := completed("older-created", 60, economy.PointsPositive, 0)
	b.CreatedAt, b.UpdatedAt = t0, same

	sel := economy.SelectTasksToLock([]economy.Task{a, b}, 50)

	assert.Equal(t, []economy.TaskID{"older-created"}, sel.TaskIDs())
}

func TestSelectTasksToLock_ZeroCost(t *testing.T) {
	sel := economy.SelectTasksToLock([]economy.Task{completed("a", 10, economy.PointsPositive, 0)}, 0)
	assert.Empty(t, sel.Tasks)
	assert.True(t, sel.Covers(0))
}

func TestSelectTasksToLock_SkipsNonLockable(t *testing.T) {
	locked := completed("locked", 500, economy.PointsPositive, 0)
	locked.IsLocked = true
	tasks := []economy.Task{
		locked,
		open("open", 500),
		completed("neg", 500, economy.PointsNegative, 0),
		completed("ok", 10, economy.PointsPositive, time.Hour),
	}

	sel := economy.SelectTasksToLock(tasks, 100)
	assert.Equal(t, []economy.TaskID{"ok"}, sel.TaskIDs())
	assert.False(t, sel.Covers(100))
}

// =============================================================================
// REDEEM TESTS
// =============================================================================

func TestRedeem_FitnessScenario(t *testing.T) {
	// GIVEN: Fitness tasks 100, 50, 200 and a reward costing 120
	// WHEN: Redeeming
	// THEN: 100 and 50 are locked, balance drops from 350 to 200
	ctx := context.Background()
	engine, mem := newRedeemEngine(t, economy.FundingStrict)
	seedFitness(mem)
	reward := mem.PutReward(economy.Reward{Name: "Massage", Cost: 120})

	require.Equal(t, 350, balanceOf(t, mem))

	res, err := engine.Redeem(ctx, reward.ID)
	require.NoError(t, err)

	assert.True(t, res.Reward.IsRedeemed)
	require.NotNil(t, res.Reward.RedeemedAt)
	assert.Equal(t, 150, res.LockedPoints)
	require.Len(t, res.LockedTasks, 2)
	assert.Equal(t, economy.TaskID("pushups"), res.LockedTasks[0].ID)
	assert.Equal(t, economy.TaskID("run"), res.LockedTasks[1].ID)
	assert.True(t, res.LockedTasks[0].IsLocked)

	assert.Equal(t, 200, balanceOf(t, mem))

	swim, err := mem.GetTask(ctx, "swim")
	require.NoError(t, err)
	assert.False(t, swim.IsLocked)
}

func TestRedeem_InsufficientPoints_NothingChanges(t *testing.T) {
	// GIVEN: 300 points available, reward costs 500
	// WHEN: Redeeming in strict mode
	// THEN: InsufficientPoints, no task locked, reward not redeemed
	ctx := context.Background()
	engine, mem := newRedeemEngine(t, economy.FundingStrict)
	mem.PutTask(completed("a", 100, economy.PointsPositive, 0))
	mem.PutTask(completed("b", 200, economy.PointsPositive, time.Hour))
	reward := mem.PutReward(economy.Reward{Name: "Bike", Cost: 500})

	_, err := engine.Redeem(ctx, reward.ID)

	require.Error(t, err)
	assert.True(t, errors.Is(err, economy.ErrInsufficientPoints))
	var ip *economy.InsufficientPointsError
	require.True(t, errors.As(err, &ip))
	assert.Equal(t, 500, ip.Cost)
	assert.Equal(t, 300, ip.Available)
	assert.Equal(t, 200, ip.Shortfall)

	assert.Equal(t, 300, balanceOf(t, mem))
	got, err := mem.GetReward(ctx, reward.ID)
	require.NoError(t, err)
	assert.False(t, got.IsRedeemed)
	assert.Nil(t, got.RedeemedAt)
}

func TestRedeem_PartialFunding(t *testing.T) {
	ctx := context.Background()
	engine, mem := newRedeemEngine(t, economy.FundingPartial)
	mem.PutTask(completed("a", 100, economy.PointsPositive, 0))
	mem.PutTask(completed("b", 200, economy.PointsPositive, time.Hour))
	reward := mem.PutReward(economy.Reward{Name: "Bike", Cost: 500})

	res, err := engine.Redeem(ctx, reward.ID)

	require.NoError(t, err)
	assert.Equal(t, 300, res.LockedPoints)
	assert.Len(t, res.LockedTasks, 2)
	assert.Equal(t, 0, balanceOf(t, mem))
}

func TestRedeem_PartialFunding_NoCandidates(t *testing.T) {
	engine, mem := newRedeemEngine(t, economy.FundingPartial)
	reward := mem.PutReward(economy.Reward{Name: "Bike", Cost: 500})

	_, err := engine.Redeem(context.Background(), reward.ID)

	assert.ErrorIs(t, err, economy.ErrInsufficientPoints)
}

func TestRedeem_AlreadyRedeemed(t *testing.T) {
	ctx := context.Background()
	engine, mem := newRedeemEngine(t, economy.FundingStrict)
	seedFitness(mem)
	reward := mem.PutReward(economy.Reward{Name: "Massage", Cost: 120})

	_, err := engine.Redeem(ctx, reward.ID)
	require.NoError(t, err)

	_, err = engine.Redeem(ctx, reward.ID)
	assert.ErrorIs(t, err, economy.ErrAlreadyRedeemed)
	assert.Equal(t, 200, balanceOf(t, mem), "second attempt must not lock more tasks")
}

func TestRedeem_NotFound(t *testing.T) {
	engine, _ := newRedeemEngine(t, economy.FundingStrict)

	_, err := engine.Redeem(context.Background(), "missing")

	assert.True(t, economy.IsNotFound(err))
	var nf *economy.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "reward", nf.Kind)
}

func TestRedeem_ZeroCost(t *testing.T) {
	engine, mem := newRedeemEngine(t, economy.FundingStrict)
	seedFitness(mem)
	reward := mem.PutReward(economy.Reward{Name: "Sticker", Cost: 0})

	res, err := engine.Redeem(context.Background(), reward.ID)

	require.NoError(t, err)
	assert.Empty(t, res.LockedTasks)
	assert.True(t, res.Reward.IsRedeemed)
	assert.Equal(t, 350, balanceOf(t, mem))
}

func TestRedeem_NeverLocksNegativeTasks(t *testing.T) {
	ctx := context.Background()
	engine, mem := newRedeemEngine(t, economy.FundingStrict)
	mem.PutTask(completed("junk-food", 30, economy.PointsNegative, 0))
	mem.PutTask(completed("run", 100, economy.PointsPositive, time.Hour))
	reward := mem.PutReward(economy.Reward{Name: "Movie", Cost: 50})

	res, err := engine.Redeem(ctx, reward.ID)
	require.NoError(t, err)

	assert.Equal(t, []economy.TaskID{"run"}, economy.Selection{Tasks: res.LockedTasks}.TaskIDs())
	assert.Equal(t, -30, balanceOf(t, mem))
}

func TestRedeem_ConcurrentRedemptionsNeverShareTasks(t *testing.T) {
	// GIVEN: 10 tasks of 10 points and 8 rewards costing 20
	// WHEN: Redeeming all 8 concurrently
	// THEN: Exactly 5 succeed and no task is locked twice
	ctx := context.Background()
	engine, mem := newRedeemEngine(t, economy.FundingStrict)
	for i := 0; i < 10; i++ {
		mem.PutTask(completed(string(rune('a'+i)), 10, economy.PointsPositive, time.Duration(i)*time.Minute))
	}
	var rewards []economy.Reward
	for i := 0; i < 8; i++ {
		rewards = append(rewards, mem.PutReward(economy.Reward{Name: "r", Cost: 20}))
	}

	results := make([]economy.Redemption, len(rewards))
	errs := make([]error, len(rewards))
	var g errgroup.Group
	for i, r := range rewards {
		i, r := i, r
		g.Go(func() error {
			results[i], errs[i] = engine.Redeem(ctx, r.ID)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	seen := make(map[economy.TaskID]bool)
	succeeded := 0
	for i, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, economy.ErrInsufficientPoints)
			continue
		}
		succeeded++
		for _, task := range results[i].LockedTasks {
			assert.False(t, seen[task.ID], "task %s locked twice", task.ID)
			seen[task.ID] = true
		}
	}
	assert.Equal(t, 5, succeeded)
	assert.Len(t, seen, 10)
	assert.Equal(t, 0, balanceOf(t, mem))
}

// =============================================================================
// PREVIEW / UNLOCK TESTS
// =============================================================================

func TestPreview_DoesNotWrite(t *testing.T) {
	ctx := context.Background()
	engine, mem := newRedeemEngine(t, economy.FundingStrict)
	seedFitness(mem)
	reward := mem.PutReward(economy.Reward{Name: "Massage", Cost: 120})

	sel, err := engine.Preview(ctx, reward.ID)
	require.NoError(t, err)

	assert.Equal(t, []economy.TaskID{"pushups", "run"}, sel.TaskIDs())
	assert.Equal(t, 350, balanceOf(t, mem))
	got, _ := mem.GetReward(ctx, reward.ID)
	assert.False(t, got.IsRedeemed)
}

func TestUnlockTask_RestoresBalance(t *testing.T) {
	ctx := context.Background()
	engine, mem := newRedeemEngine(t, economy.FundingStrict)
	seedFitness(mem)
	reward := mem.PutReward(economy.Reward{Name: "Massage", Cost: 120})
	_, err := engine.Redeem(ctx, reward.ID)
	require.NoError(t, err)

	task, err := engine.UnlockTask(ctx, "pushups")
	require.NoError(t, err)

	assert.False(t, task.IsLocked)
	assert.Equal(t, 300, balanceOf(t, mem))
	_, err = engine.UnlockTask(ctx, "missing")
	assert.True(t, economy.IsNotFound(err))
}

func TestParseFundingMode(t *testing.T) {
	for in, want := range map[string]economy.FundingMode{
		"":         economy.FundingStrict,
		"strict":   economy.FundingStrict,
		" Partial": economy.FundingPartial,
	} {
		got, err := economy.ParseFundingMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := economy.ParseFundingMode("generous")
	assert.ErrorIs(t, err, economy.ErrInvalidArgument)
}

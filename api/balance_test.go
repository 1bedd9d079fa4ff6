/*
balance_test.go - HTTP tests for balances and reward redemption

CORE DESIGN:
- Balance is COMPUTED on every read from completed, unlocked tasks
- Redemption locks the oldest completed positive tasks covering the cost
- Locked tasks stay completed but stop counting; only an admin unlocks
*/
package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/questpoints/economy"
)

func (ts *testServer) loadScenario(id string) {
	ts.t.Helper()
	rec := ts.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
	require.Equal(ts.t, http.StatusOK, rec.Code, rec.Body.String())
}

func (ts *testServer) rewardNamed(name string) RewardDTO {
	ts.t.Helper()
	for _, r := range decodeBody[[]RewardDTO](ts.t, ts.do(http.MethodGet, "/api/rewards", nil)) {
		if r.Name == name {
			return r
		}
	}
	ts.t.Fatalf("reward %q not found", name)
	return RewardDTO{}
}

func (ts *testServer) taskNamed(name string) TaskDTO {
	ts.t.Helper()
	for _, task := range decodeBody[[]TaskDTO](ts.t, ts.do(http.MethodGet, "/api/tasks", nil)) {
		if task.Name == name {
			return task
		}
	}
	ts.t.Fatalf("task %q not found", name)
	return TaskDTO{}
}

// =============================================================================
// BALANCE
// =============================================================================

func TestGetBalance_Fitness(t *testing.T) {
	// GIVEN: 100, 50 and 200 completed, one open task
	ts := newTestServer(t)
	ts.loadScenario("fitness")

	// THEN: everything earned is spendable
	b := ts.balance()
	assert.Equal(t, 350, b.Earned)
	assert.Equal(t, 0, b.Spent)
	assert.Equal(t, 0, b.Penalties)
	assert.Equal(t, 350, b.Balance)
}

func TestGetIdentityBalance(t *testing.T) {
	ts := newTestServer(t)
	ts.loadScenario("fitness")

	identities := decodeBody[[]IdentityDTO](t, ts.do(http.MethodGet, "/api/identities", nil))
	require.Len(t, identities, 1)

	rec := ts.do(http.MethodGet, "/api/identities/"+identities[0].ID+"/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	b := decodeBody[IdentityBalanceDTO](t, rec)

	assert.Equal(t, 350, b.Balance)
	assert.Equal(t, 350, b.AcquiredPoints)
	assert.True(t, b.Progress.Complete, "350 of 300 required")
	assert.Equal(t, "100", b.Progress.Percent.String())

	assertError(t, ts.do(http.MethodGet, "/api/identities/missing/balance", nil), http.StatusNotFound, economy.CodeNotFound)
}

func TestGetBalance_PenaltiesSubtract(t *testing.T) {
	// GIVEN: 40 earned, a 30 point penalty and an open counter with 25 accumulated
	ts := newTestServer(t)
	ts.loadScenario("hydration")

	b := ts.balance()
	assert.Equal(t, 40, b.Earned)
	assert.Equal(t, 30, b.Penalties)
	assert.Equal(t, 10, b.Balance)

	water := ts.taskNamed("Drink a glass of water")
	require.NotNil(t, water.CounterTask)
	assert.Equal(t, 25, water.CounterTask.AccumulatedPoints)
	assert.Equal(t, 5, water.CounterTask.Count)
	assert.Len(t, water.CounterTask.DayPoints, 2)
}

// =============================================================================
// REDEMPTION
// =============================================================================

func TestRedeemReward_FitnessLocksOldestFirst(t *testing.T) {
	// GIVEN: the fitness scenario and its 120 point reward
	ts := newTestServer(t)
	ts.loadScenario("fitness")
	shoes := ts.rewardNamed("New running shoes")

	// WHEN: redeeming
	rec := ts.do(http.MethodPost, "/api/rewards/"+shoes.ID+"/redeem", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[RedemptionDTO](t, rec)

	// THEN: 100 and 50 are locked (150 covers 120), 200 stays spendable
	require.Len(t, res.LockedTasks, 2)
	assert.Equal(t, "Morning run", res.LockedTasks[0].Name)
	assert.Equal(t, "Stretching", res.LockedTasks[1].Name)
	assert.Equal(t, 150, res.LockedPoints)
	assert.True(t, res.Reward.IsRedeemed)
	assert.NotNil(t, res.Reward.RedeemedAt)

	b := ts.balance()
	assert.Equal(t, 200, b.Balance)
	assert.Equal(t, 150, b.Spent)

	locked := decodeBody[[]TaskDTO](t, ts.do(http.MethodGet, "/api/tasks?is_locked=true", nil))
	assert.Len(t, locked, 2)

	// AND: a second redeem is rejected
	assertError(t, ts.do(http.MethodPost, "/api/rewards/"+shoes.ID+"/redeem", nil), http.StatusConflict, economy.CodeAlreadyRedeemed)
}

func TestRedeemReward_InsufficientChangesNothing(t *testing.T) {
	// GIVEN: 350 available and a 300 reward already redeemed down to 200
	ts := newTestServer(t)
	ts.loadScenario("fitness")
	shoes := ts.rewardNamed("New running shoes")
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/rewards/"+shoes.ID+"/redeem", nil).Code)

	// WHEN: redeeming the 300 reward with only 200 left
	massage := ts.rewardNamed("Sports massage")
	rec := ts.do(http.MethodPost, "/api/rewards/"+massage.ID+"/redeem", nil)

	// THEN: 422, nothing locked, reward still available
	assertError(t, rec, http.StatusUnprocessableEntity, economy.CodeInsufficientPoints)
	assert.Equal(t, 200, ts.balance().Balance)
	assert.False(t, ts.rewardNamed("Sports massage").IsRedeemed)
	assert.False(t, ts.taskNamed("Gym session").IsLocked)
}

func TestRedeemReward_NotFound(t *testing.T) {
	ts := newTestServer(t)
	assertError(t, ts.do(http.MethodPost, "/api/rewards/missing/redeem", nil), http.StatusNotFound, economy.CodeNotFound)
}

func TestPreviewRedemption(t *testing.T) {
	ts := newTestServer(t)
	ts.loadScenario("fitness")
	shoes := ts.rewardNamed("New running shoes")

	rec := ts.do(http.MethodGet, "/api/rewards/"+shoes.ID+"/preview", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p := decodeBody[PreviewDTO](t, rec)

	assert.Len(t, p.Tasks, 2)
	assert.Equal(t, 150, p.Points)
	assert.True(t, p.Covered)
	assert.Equal(t, 0, p.Shortfall)
	assert.True(t, p.Progress.Complete)

	// Preview writes nothing
	assert.Equal(t, 350, ts.balance().Balance)
	assert.False(t, ts.rewardNamed("New running shoes").IsRedeemed)
}

func TestReopenLockedTask_Rejected(t *testing.T) {
	ts := newTestServer(t)
	ts.loadScenario("fitness")
	shoes := ts.rewardNamed("New running shoes")
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/rewards/"+shoes.ID+"/redeem", nil).Code)

	run := ts.taskNamed("Morning run")
	open := true
	rec := ts.do(http.MethodPut, "/api/tasks/"+run.ID, UpdateTaskRequest{IsActive: &open})

	assertError(t, rec, http.StatusConflict, economy.CodeTaskLocked)
	assert.Equal(t, 200, ts.balance().Balance)
}

func TestAdminUnlock_RestoresBalance(t *testing.T) {
	ts := newTestServer(t)
	ts.loadScenario("fitness")
	shoes := ts.rewardNamed("New running shoes")
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/rewards/"+shoes.ID+"/redeem", nil).Code)

	run := ts.taskNamed("Morning run")
	rec := ts.do(http.MethodPost, "/api/admin/tasks/"+run.ID+"/unlock", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decodeBody[TaskDTO](t, rec).IsLocked)

	assert.Equal(t, 300, ts.balance().Balance)
	// The reward stays redeemed
	assert.True(t, ts.rewardNamed("New running shoes").IsRedeemed)
}

// =============================================================================
// REWARD CRUD
// =============================================================================

func TestCreateReward_Validation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		req  CreateRewardRequest
	}{
		{"no name", CreateRewardRequest{Description: "d", Cost: 10, ImageCollection: []string{"a.png"}}},
		{"no description", CreateRewardRequest{Name: "n", Cost: 10, ImageCollection: []string{"a.png"}}},
		{"zero cost", CreateRewardRequest{Name: "n", Description: "d", ImageCollection: []string{"a.png"}}},
		{"no images", CreateRewardRequest{Name: "n", Description: "d", Cost: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertError(t, ts.do(http.MethodPost, "/api/rewards", tt.req), http.StatusBadRequest, economy.CodeInvalidArgument)
		})
	}
}

func TestListRewards_AvailableAndRedeemed(t *testing.T) {
	ts := newTestServer(t)
	ts.loadScenario("fitness")
	shoes := ts.rewardNamed("New running shoes")
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/rewards/"+shoes.ID+"/redeem", nil).Code)

	available := decodeBody[[]RewardDTO](t, ts.do(http.MethodGet, "/api/rewards?available=true", nil))
	require.Len(t, available, 1)
	assert.Equal(t, "Sports massage", available[0].Name)

	redeemed := decodeBody[[]RewardDTO](t, ts.do(http.MethodGet, "/api/rewards?redeemed=true", nil))
	require.Len(t, redeemed, 1)
	assert.Equal(t, shoes.ID, redeemed[0].ID)
}

func TestUpdateReward(t *testing.T) {
	ts := newTestServer(t)
	ts.loadScenario("fitness")
	shoes := ts.rewardNamed("New running shoes")

	cost := 90
	rec := ts.do(http.MethodPut, "/api/rewards/"+shoes.ID, UpdateRewardRequest{Cost: &cost})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 90, decodeBody[RewardDTO](t, rec).Cost)

	redeemed := true
	rec = ts.do(http.MethodPut, "/api/rewards/"+shoes.ID, UpdateRewardRequest{IsRedeemed: &redeemed})
	assertError(t, rec, http.StatusBadRequest, economy.CodeInvalidArgument)
}

func TestDeleteReward_KeepsLocks(t *testing.T) {
	ts := newTestServer(t)
	ts.loadScenario("fitness")
	shoes := ts.rewardNamed("New running shoes")
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/rewards/"+shoes.ID+"/redeem", nil).Code)

	require.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, "/api/rewards/"+shoes.ID, nil).Code)

	assert.Equal(t, 200, ts.balance().Balance, "deleting a reward does not unlock tasks")
	assertError(t, ts.do(http.MethodGet, "/api/rewards/"+shoes.ID, nil), http.StatusNotFound, economy.CodeNotFound)
}

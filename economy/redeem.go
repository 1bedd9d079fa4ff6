/*
redeem.go - Reward redemption by locking completed tasks

PURPOSE:
  Redeeming a reward spends points. Nothing is debited: instead a set of
  completed POSITIVE tasks whose points cover the cost is marked IsLocked,
  which removes them from the balance fold (see ledger.go).

SELECTION ALGORITHM:
  candidates: completed, unlocked, POSITIVE tasks, oldest UpdatedAt first
  walk:
    for each candidate:
      if pointsToLock >= cost: stop
      lock it, pointsToLock += points

  The stop check runs BEFORE a task is taken, so the last task taken is the
  one that crossed the cost. Removing it leaves the locked sum below cost.
  Overshoot is allowed and not refunded.

  Example (cost 120):
    candidates  100 (oldest), 50, 200
    walk        take 100 -> 100 < 120, take 50 -> 150 >= 120, stop
    locked      100 + 50 = 150; balance afterwards = 200

FUNDING:
  FundingStrict:  a selection below cost fails with InsufficientPointsError
                  and nothing changes.
  FundingPartial: every candidate found is locked and the reward is
                  redeemed anyway. Zero candidates with a positive cost
                  still fails.

ATOMICITY:
  Candidate read, lock batch and the reward's redeemed flag are written in
  one exclusive store transaction. Two redemptions racing for the same tasks
  serialize; the loser sees the tasks already locked.

SEE ALSO:
  - ledger.go: ComputeBalance ignores locked tasks
  - store.go: ListCompletedUnlockedPositiveTasks, LockTasks
*/
package economy

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/warp/questpoints/metrics"
)

// =============================================================================
// SELECTION - Pure
// =============================================================================

// Selection is the set of tasks a redemption locks.
type Selection struct {
	Tasks  []Task
	Points int
}

// Covers reports whether the selection pays for cost.
func (s Selection) Covers(cost int) bool {
	return s.Points >= cost
}

// TaskIDs returns the ids of the selected tasks in selection order.
func (s Selection) TaskIDs() []TaskID {
	ids := make([]TaskID, len(s.Tasks))
	for i, t := range s.Tasks {
		ids[i] = t.ID
	}
	return ids
}

// SelectTasksToLock picks the oldest candidates until their points reach cost.
// Non-lockable entries are skipped, so any task list may be passed. The input
// slice is not modified.
func SelectTasksToLock(candidates []Task, cost int) Selection {
	ordered := make([]Task, 0, len(candidates))
	for _, t := range candidates {
		if t.Lockable() {
			ordered = append(ordered, t)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	var sel Selection
	for _, t := range ordered {
		if sel.Points >= cost {
			break
		}
		sel.Tasks = append(sel.Tasks, t)
		sel.Points += t.Points
	}
	return sel
}

// =============================================================================
// FUNDING MODE
// =============================================================================

type FundingMode string

const (
	FundingStrict  FundingMode = "strict"
	FundingPartial FundingMode = "partial"
)

// ParseFundingMode accepts "strict" or "partial". Empty means strict.
func ParseFundingMode(s string) (FundingMode, error) {
	switch FundingMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", FundingStrict:
		return FundingStrict, nil
	case FundingPartial:
		return FundingPartial, nil
	default:
		return "", &InvalidArgumentError{Field: "funding", Reason: fmt.Sprintf("unknown funding mode %q", s)}
	}
}

// =============================================================================
// REWARD LOCK ENGINE
// =============================================================================

// Redemption is the outcome of a successful redeem.
type Redemption struct {
	Reward       Reward
	LockedTasks  []Task
	LockedPoints int
}

// RewardLockEngine redeems rewards against the task store.
type RewardLockEngine struct {
	Store   TxStore
	Clock   Clock
	Funding FundingMode
}

func NewRewardLockEngine(store TxStore, funding FundingMode) *RewardLockEngine {
	return &RewardLockEngine{Store: store, Funding: funding}
}

// Redeem locks tasks covering the reward's cost and marks it redeemed.
func (e *RewardLockEngine) Redeem(ctx context.Context, rewardID RewardID) (Redemption, error) {
	start := time.Now()
	defer func() {
		metrics.RedemptionDuration.Observe(time.Since(start).Seconds())
	}()

	var result Redemption
	err := e.Store.WithTx(ctx, func(s Store) error {
		reward, err := s.GetReward(ctx, rewardID)
		if err != nil {
			return err
		}
		if reward.IsRedeemed {
			return fmt.Errorf("reward %s: %w", rewardID, ErrAlreadyRedeemed)
		}

		candidates, err := s.ListCompletedUnlockedPositiveTasks(ctx)
		if err != nil {
			return fmt.Errorf("list lock candidates: %w", err)
		}
		sel := SelectTasksToLock(candidates, reward.Cost)
		if err := e.checkFunding(reward, sel); err != nil {
			return err
		}

		if len(sel.Tasks) > 0 {
			if err := s.LockTasks(ctx, sel.TaskIDs()); err != nil {
				return err
			}
		}

		redeemed, err := s.MarkRewardRedeemed(ctx, rewardID, e.Clock.now())
		if err != nil {
			return err
		}

		locked := make([]Task, len(sel.Tasks))
		for i, t := range sel.Tasks {
			t.IsLocked = true
			locked[i] = t
		}
		result = Redemption{Reward: redeemed, LockedTasks: locked, LockedPoints: sel.Points}
		return nil
	})
	if err != nil {
		metrics.Redemptions.WithLabelValues(Code(err)).Inc()
		log.Printf("[Redeem] reward %s failed: %v", rewardID, err)
		return Redemption{}, err
	}

	metrics.Redemptions.WithLabelValues("ok").Inc()
	metrics.TasksLocked.Add(float64(len(result.LockedTasks)))
	metrics.PointsLocked.Add(float64(result.LockedPoints))
	log.Printf("[Redeem] reward %s redeemed: locked %d tasks for %d points (cost %d)",
		rewardID, len(result.LockedTasks), result.LockedPoints, result.Reward.Cost)
	return result, nil
}

// Preview returns the tasks a redemption would lock right now without
// writing anything.
func (e *RewardLockEngine) Preview(ctx context.Context, rewardID RewardID) (Selection, error) {
	reward, err := e.Store.GetReward(ctx, rewardID)
	if err != nil {
		return Selection{}, err
	}
	if reward.IsRedeemed {
		return Selection{}, fmt.Errorf("reward %s: %w", rewardID, ErrAlreadyRedeemed)
	}
	candidates, err := e.Store.ListCompletedUnlockedPositiveTasks(ctx)
	if err != nil {
		return Selection{}, fmt.Errorf("list lock candidates: %w", err)
	}
	return SelectTasksToLock(candidates, reward.Cost), nil
}

// UnlockTask clears a task's lock. It is an admin action; nothing in the
// engine unlocks tasks on its own.
func (e *RewardLockEngine) UnlockTask(ctx context.Context, taskID TaskID) (Task, error) {
	task, err := e.Store.UnlockTask(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	log.Printf("[Redeem] task %s unlocked by admin", taskID)
	return task, nil
}

func (e *RewardLockEngine) checkFunding(reward Reward, sel Selection) error {
	if sel.Covers(reward.Cost) {
		return nil
	}
	if e.Funding == FundingPartial && len(sel.Tasks) > 0 {
		log.Printf("[Redeem] reward %s partially funded: %d of %d points", reward.ID, sel.Points, reward.Cost)
		return nil
	}
	return &InsufficientPointsError{
		RewardID:  reward.ID,
		Cost:      reward.Cost,
		Available: sel.Points,
		Shortfall: reward.Cost - sel.Points,
	}
}

/*
board.go - Task board views with optimistic mutations

PURPOSE:

	The board caches the views a task screen shows and changes them before
	the server answers. Every mutation goes through optimistic.Run, so a
	rejected call restores exactly what was displayed, and an accepted one
	marks the views stale so the next read shows server truth.

CACHE KEYS:

	task              all tasks          (KeyTasks)
	task/<identity>   one identity       (IdentityTasksKey, under KeyTasks)
	today/task        the today list     (KeyToday)
	reward            all rewards        (KeyRewards)
	identity          identities         (KeyIdentities)
	balance           ledger summary     (KeyBalance)

PREDICTIONS:

	ToggleCompletion   flip is_active, shift the balance by the task's
	                   contribution (counter tasks capture their buckets)
	ToggleFavorite     flip is_favorited
	TogglePin          flip is_pinned
	DeleteTask         filter the task out, remove its contribution
	IncrementCounter   add the points to the day bucket, count + 1
	Redeem             mark the reward redeemed, lock the oldest cached
	                   completed tasks covering the cost

	Successful mutations also invalidate identity and balance, whose
	server values depend on the whole task set.

SEE ALSO:
  - optimistic/: Begin, Patch, Commit, Rollback
  - economy/ledger.go: Contribution and Summarize used for predictions
*/
package client

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/warp/questpoints/api"
	"github.com/warp/questpoints/economy"
	"github.com/warp/questpoints/optimistic"
)

var (
	KeyTasks      = optimistic.KeyOf("task")
	KeyToday      = optimistic.KeyOf("today", "task")
	KeyRewards    = optimistic.KeyOf("reward")
	KeyIdentities = optimistic.KeyOf("identity")
	KeyBalance    = optimistic.KeyOf("balance")
)

// IdentityTasksKey is the key of one identity's task list.
func IdentityTasksKey(identityID string) optimistic.Key {
	return optimistic.KeyOf("task", identityID)
}

// taskKeys are held by every task mutation.
var taskKeys = []optimistic.Key{KeyTasks, KeyToday, KeyBalance}

// invalidated after every successful mutation
var derivedKeys = []optimistic.Key{KeyIdentities, KeyBalance}

// Board is a cached, optimistically updated view of the server.
type Board struct {
	Client *Client
	Cache  *optimistic.Cache
}

func NewBoard(c *Client) *Board {
	return &Board{Client: c, Cache: optimistic.NewCache()}
}

// =============================================================================
// VIEWS
// =============================================================================

func (b *Board) Tasks(ctx context.Context) ([]api.TaskDTO, error) {
	return optimistic.Load(ctx, b.Cache, KeyTasks, func(ctx context.Context) ([]api.TaskDTO, error) {
		return b.Client.ListTasks(ctx, TaskQuery{})
	})
}

func (b *Board) TodayTasks(ctx context.Context) ([]api.TaskDTO, error) {
	today := true
	return optimistic.Load(ctx, b.Cache, KeyToday, func(ctx context.Context) ([]api.TaskDTO, error) {
		return b.Client.ListTasks(ctx, TaskQuery{IsAddedToToday: &today})
	})
}

func (b *Board) IdentityTasks(ctx context.Context, identityID string) ([]api.TaskDTO, error) {
	return optimistic.Load(ctx, b.Cache, IdentityTasksKey(identityID), func(ctx context.Context) ([]api.TaskDTO, error) {
		return b.Client.ListTasks(ctx, TaskQuery{IdentityID: identityID})
	})
}

func (b *Board) Rewards(ctx context.Context) ([]api.RewardDTO, error) {
	return optimistic.Load(ctx, b.Cache, KeyRewards, b.Client.ListRewards)
}

func (b *Board) Identities(ctx context.Context) ([]api.IdentityDTO, error) {
	return optimistic.Load(ctx, b.Cache, KeyIdentities, b.Client.ListIdentities)
}

func (b *Board) Balance(ctx context.Context) (api.LedgerSummaryDTO, error) {
	return optimistic.Load(ctx, b.Cache, KeyBalance, b.Client.Balance)
}

// =============================================================================
// TASK MUTATIONS
// =============================================================================

// ToggleCompletion completes an open task or reopens a completed one.
func (b *Board) ToggleCompletion(ctx context.Context, task api.TaskDTO) (api.TaskDTO, error) {
	before := task.Task()
	after := before
	after.IsActive = !before.IsActive
	if counter, ok := before.Counter(); ok && !after.IsActive {
		after.Points = economy.AccumulatedPoints(counter)
	}

	active := after.IsActive
	var result api.TaskDTO
	err := optimistic.Run(ctx, b.Cache, optimistic.Op{
		Keys: taskKeys,
		Patch: func(m *optimistic.Mutation) error {
			if err := patchTask(m, task.ID, func(t api.TaskDTO) api.TaskDTO {
				t.IsActive = active
				t.Points = after.Points
				return t
			}); err != nil {
				return err
			}
			return shiftBalance(m, []economy.Task{before}, []economy.Task{after})
		},
		Do: func(ctx context.Context) (err error) {
			result, err = b.Client.UpdateTask(ctx, task.ID, api.UpdateTaskRequest{IsActive: &active})
			return err
		},
		Invalidate: derivedKeys,
	})
	if err != nil {
		return api.TaskDTO{}, err
	}
	return result, nil
}

func (b *Board) ToggleFavorite(ctx context.Context, task api.TaskDTO) (api.TaskDTO, error) {
	favorited := !task.IsFavorited
	var result api.TaskDTO
	err := optimistic.Run(ctx, b.Cache, optimistic.Op{
		Keys: taskKeys,
		Patch: func(m *optimistic.Mutation) error {
			return patchTask(m, task.ID, func(t api.TaskDTO) api.TaskDTO {
				t.IsFavorited = favorited
				return t
			})
		},
		Do: func(ctx context.Context) (err error) {
			result, err = b.Client.UpdateTask(ctx, task.ID, api.UpdateTaskRequest{IsFavorited: &favorited})
			return err
		},
		Invalidate: derivedKeys,
	})
	if err != nil {
		return api.TaskDTO{}, err
	}
	return result, nil
}

func (b *Board) TogglePin(ctx context.Context, task api.TaskDTO) (api.TaskDTO, error) {
	var result api.TaskDTO
	err := optimistic.Run(ctx, b.Cache, optimistic.Op{
		Keys: taskKeys,
		Patch: func(m *optimistic.Mutation) error {
			return patchTask(m, task.ID, func(t api.TaskDTO) api.TaskDTO {
				t.IsPinned = !t.IsPinned
				return t
			})
		},
		Do: func(ctx context.Context) (err error) {
			result, err = b.Client.TogglePin(ctx, task.ID)
			return err
		},
		Invalidate: derivedKeys,
	})
	if err != nil {
		return api.TaskDTO{}, err
	}
	return result, nil
}

func (b *Board) DeleteTask(ctx context.Context, task api.TaskDTO) error {
	return optimistic.Run(ctx, b.Cache, optimistic.Op{
		Keys: taskKeys,
		Patch: func(m *optimistic.Mutation) error {
			for _, k := range taskLists(m) {
				if err := optimistic.Patch(m, k, func(list []api.TaskDTO) []api.TaskDTO {
					return slices.DeleteFunc(slices.Clone(list), func(t api.TaskDTO) bool { return t.ID == task.ID })
				}); err != nil {
					return err
				}
			}
			return shiftBalance(m, []economy.Task{task.Task()}, nil)
		},
		Do: func(ctx context.Context) error {
			return b.Client.DeleteTask(ctx, task.ID)
		},
		Invalidate: derivedKeys,
	})
}

// IncrementCounter adds one increment to a counter task. Zero points and an
// empty points type fall back to the counter's defaults, an empty day to
// today. The balance is unchanged until the task is completed.
func (b *Board) IncrementCounter(ctx context.Context, task api.TaskDTO, req api.IncrementCounterRequest) (api.IncrementResultDTO, error) {
	var result api.IncrementResultDTO
	err := optimistic.Run(ctx, b.Cache, optimistic.Op{
		Keys: taskKeys,
		Patch: func(m *optimistic.Mutation) error {
			delta, day, err := predictIncrement(task, req)
			if err != nil {
				return err
			}
			return patchTask(m, task.ID, func(t api.TaskDTO) api.TaskDTO {
				if t.CounterTask == nil {
					return t
				}
				t.CounterTask = addToBucket(*t.CounterTask, day, delta)
				return t
			})
		},
		Do: func(ctx context.Context) (err error) {
			result, err = b.Client.IncrementCounter(ctx, task.ID, req)
			return err
		},
		Invalidate: derivedKeys,
	})
	if err != nil {
		return api.IncrementResultDTO{}, err
	}
	return result, nil
}

func predictIncrement(task api.TaskDTO, req api.IncrementCounterRequest) (int, string, error) {
	if task.CounterTask == nil {
		return 0, "", &economy.InvalidArgumentError{Field: "task", Reason: "not a counter task"}
	}
	points := req.Points
	if points == 0 {
		points = task.CounterTask.DefaultPoints
	}
	pt := economy.PointsType(strings.ToUpper(req.PointsType))
	if pt == "" {
		pt = economy.PointsType(task.PointsType)
	}
	delta, err := economy.SignedPoints(points, pt)
	if err != nil {
		return 0, "", err
	}
	day := req.Day
	if day == "" {
		day = economy.DayOf(time.Now().UTC()).String()
	}
	return delta, day, nil
}

func addToBucket(c api.CounterTaskDTO, day string, delta int) *api.CounterTaskDTO {
	c.DayPoints = slices.Clone(c.DayPoints)
	i := slices.IndexFunc(c.DayPoints, func(d api.DayPointsDTO) bool { return d.Day == day })
	if i < 0 {
		c.DayPoints = append(c.DayPoints, api.DayPointsDTO{Day: day, Points: delta})
	} else {
		c.DayPoints[i].Points += delta
	}
	c.Count++
	c.AccumulatedPoints += delta
	return &c
}

// =============================================================================
// REDEMPTION
// =============================================================================

// Redeem redeems reward. The predicted locks are the oldest completed positive
// tasks among the cached lists, as the server selects them.
func (b *Board) Redeem(ctx context.Context, reward api.RewardDTO) (api.RedemptionDTO, error) {
	var result api.RedemptionDTO
	err := optimistic.Run(ctx, b.Cache, optimistic.Op{
		Keys: []optimistic.Key{KeyTasks, KeyToday, KeyRewards, KeyBalance},
		Patch: func(m *optimistic.Mutation) error {
			if err := optimistic.Patch(m, KeyRewards, func(list []api.RewardDTO) []api.RewardDTO {
				out := slices.Clone(list)
				for i := range out {
					if out[i].ID == reward.ID {
						out[i].IsRedeemed = true
					}
				}
				return out
			}); err != nil {
				return err
			}

			sel := economy.SelectTasksToLock(cachedTasks(b.Cache, m), reward.Cost)
			var before, after []economy.Task
			for _, t := range sel.Tasks {
				locked := t
				locked.IsLocked = true
				before, after = append(before, t), append(after, locked)
			}
			for _, t := range sel.Tasks {
				if err := patchTask(m, string(t.ID), func(d api.TaskDTO) api.TaskDTO {
					d.IsLocked = true
					return d
				}); err != nil {
					return err
				}
			}
			return shiftBalance(m, before, after)
		},
		Do: func(ctx context.Context) (err error) {
			result, err = b.Client.Redeem(ctx, reward.ID)
			return err
		},
		Invalidate: derivedKeys,
	})
	if err != nil {
		return api.RedemptionDTO{}, err
	}
	return result, nil
}

// =============================================================================
// PATCH HELPERS
// =============================================================================

// taskLists returns the cached task list keys held by m.
func taskLists(m *optimistic.Mutation) []optimistic.Key {
	var keys []optimistic.Key
	for _, k := range m.Cached() {
		if KeyTasks.Covers(k) || KeyToday.Covers(k) {
			keys = append(keys, k)
		}
	}
	return keys
}

// patchTask applies fn to task id in every cached task list.
func patchTask(m *optimistic.Mutation, id string, fn func(api.TaskDTO) api.TaskDTO) error {
	for _, k := range taskLists(m) {
		err := optimistic.Patch(m, k, func(list []api.TaskDTO) []api.TaskDTO {
			out := slices.Clone(list)
			for i := range out {
				if out[i].ID == id {
					out[i] = fn(out[i])
				}
			}
			return out
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// cachedTasks merges the cached task lists, one entry per task.
func cachedTasks(c *optimistic.Cache, m *optimistic.Mutation) []economy.Task {
	seen := make(map[string]bool)
	var tasks []economy.Task
	for _, k := range taskLists(m) {
		list, _ := optimistic.Get[[]api.TaskDTO](c, k)
		for _, d := range list {
			if seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			tasks = append(tasks, d.Task())
		}
	}
	return tasks
}

// shiftBalance moves the cached summary from the before tasks to the after
// tasks.
func shiftBalance(m *optimistic.Mutation, before, after []economy.Task) error {
	was, now := economy.Summarize(before), economy.Summarize(after)
	return optimistic.Patch(m, KeyBalance, func(s api.LedgerSummaryDTO) api.LedgerSummaryDTO {
		s.Earned += now.Earned - was.Earned
		s.Penalties += now.Penalties - was.Penalties
		s.Spent += now.Spent - was.Spent
		s.Balance += now.Balance - was.Balance
		return s
	})
}

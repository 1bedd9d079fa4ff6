/*
completion.go - Completing and reopening tasks

PURPOSE:
  Completion is where a task's points become real. A default task keeps the
  points it was created with. A counter task captures the sum of its day
  buckets at the moment it is completed; later increments do not change the
  captured value.

RULES:
  1. open -> completed:  IsActive = false, Points realized, UpdatedAt = now
  2. completed -> open:  rejected with ErrTaskLocked when the task is locked,
                         otherwise IsActive = true (contributes nothing)
  3. Requesting the current state is a no-op.

  UpdatedAt is the age the lock engine sorts by, so completing a task makes
  it the newest candidate.

SEE ALSO:
  - counter.go: AccumulatedPoints
  - redeem.go: Only locks completed tasks
*/
package economy

import (
	"context"
	"log"

	"github.com/warp/questpoints/metrics"
)

// Completer applies completion toggles.
type Completer struct {
	Store TxStore
	Clock Clock
}

func NewCompleter(store TxStore) *Completer {
	return &Completer{Store: store}
}

// SetCompleted moves the task to the requested state.
func (c *Completer) SetCompleted(ctx context.Context, taskID TaskID, completed bool) (Task, error) {
	return c.apply(ctx, taskID, func(Task) bool { return completed })
}

// Toggle flips the completion state of a task. The current state is read in
// the same transaction as the write, so racing toggles each flip once.
func (c *Completer) Toggle(ctx context.Context, taskID TaskID) (Task, error) {
	return c.apply(ctx, taskID, func(t Task) bool { return !t.IsCompleted() })
}

// apply moves the task to the state target picks for it.
func (c *Completer) apply(ctx context.Context, taskID TaskID, target func(Task) bool) (Task, error) {
	var (
		result    Task
		changed   bool
		completed bool
	)
	err := c.Store.WithTx(ctx, func(s Store) error {
		task, err := s.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		completed = target(task)
		if task.IsCompleted() == completed {
			result = task
			return nil
		}
		changed = true

		if !completed {
			if task.IsLocked {
				return ErrTaskLocked
			}
			result, err = s.SetTaskCompletion(ctx, taskID, true, task.Points, c.Clock.now())
			return err
		}

		points := task.Points
		if counter, ok := task.Counter(); ok {
			full, err := s.GetCounterTaskWithDayPoints(ctx, counter.ID)
			if err != nil {
				return err
			}
			points = AccumulatedPoints(full)
		}
		result, err = s.SetTaskCompletion(ctx, taskID, false, points, c.Clock.now())
		return err
	})
	if err != nil {
		return Task{}, err
	}
	if !changed {
		return result, nil
	}

	direction := "reopened"
	if completed {
		direction = "completed"
	}
	metrics.TaskCompletions.WithLabelValues(direction).Inc()
	if completed && result.Type() == TaskCounter {
		log.Printf("[Completion] counter task %s captured %d points", result.ID, result.Points)
	}
	return result, nil
}

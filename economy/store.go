/*
store.go - Persistence interface for the economy engine

PURPOSE:
  Defines the narrow collaborator the engine needs from the task store.
  Per-entity CRUD lives on the concrete stores; only the operations that
  carry economy rules are part of this interface.

KEY INTERFACES:
  Store:   Reads and the atomic writes used by completion, counters, locks
  TxStore: Store + WithTx for exclusive, all-or-nothing units of work

ATOMICITY CONTRACT:
  - UpsertCounterDayPoints adds delta to the (counter, day) bucket in one
    statement. A read-add-write in Go is NOT an acceptable implementation.
  - IncrementCounterCount adds 1 in one statement.
  - LockTasks locks every id or none. An id that is no longer completed and
    unlocked makes the whole call fail with ErrConcurrencyConflict.
  - WithTx is exclusive: two redemptions never select the same task.

ORDERING:
  ListCompletedUnlockedPositiveTasks returns tasks ordered by UpdatedAt ASC,
  then CreatedAt ASC, then insertion order.

IMPLEMENTATIONS:
  - store/sqlite: SQLite with BEGIN IMMEDIATE transactions
  - economy/store: In-memory for tests and dev

SEE ALSO:
  - redeem.go, counter.go, completion.go: Consumers
*/
package economy

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

// TaskFilter narrows ListTasks. Nil fields are ignored.
type TaskFilter struct {
	IdentityID     *IdentityID
	IsActive       *bool
	IsFavorited    *bool
	IsAddedToToday *bool
	IsLocked       *bool
}

// Store is the persistence collaborator of the economy engine.
type Store interface {
	// GetTask returns a task with its counter (if any) but without day buckets.
	GetTask(ctx context.Context, id TaskID) (Task, error)

	// ListTasks returns tasks matching filter. Used for balance reads.
	ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error)

	// SetTaskCompletion writes IsActive, Points and UpdatedAt for one task.
	SetTaskCompletion(ctx context.Context, id TaskID, isActive bool, points int, at time.Time) (Task, error)

	// ListCompletedUnlockedPositiveTasks returns lock candidates, oldest first.
	ListCompletedUnlockedPositiveTasks(ctx context.Context) ([]Task, error)

	// LockTasks sets IsLocked on every id atomically.
	LockTasks(ctx context.Context, ids []TaskID) error

	// UnlockTask clears IsLocked. Admin only.
	UnlockTask(ctx context.Context, id TaskID) (Task, error)

	// UpsertCounterDayPoints atomically adds delta to the (counter, day) bucket,
	// creating it with points = delta when absent.
	UpsertCounterDayPoints(ctx context.Context, counterTaskID CounterTaskID, day Day, delta int) (CounterDayPoints, error)

	// IncrementCounterCount atomically adds 1 to CounterTask.Count.
	IncrementCounterCount(ctx context.Context, counterTaskID CounterTaskID) (CounterTask, error)

	// GetCounterTaskWithDayPoints returns the counter with Days ordered by day.
	GetCounterTaskWithDayPoints(ctx context.Context, counterTaskID CounterTaskID) (CounterTask, error)

	GetReward(ctx context.Context, id RewardID) (Reward, error)

	// MarkRewardRedeemed sets IsRedeemed and RedeemedAt.
	MarkRewardRedeemed(ctx context.Context, id RewardID, at time.Time) (Reward, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within an exclusive transaction.
	// If fn returns error, every write made through the Store passed to fn
	// is rolled back. If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Clock returns the current time. Engines take one so tests can pin "now".
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

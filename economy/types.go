/*
Package economy provides the points economy engine for the task tracker.

PURPOSE:
  Tasks are grouped under identities. Completing a task realizes a signed
  point delta; redeeming a reward "spends" points by locking a set of
  completed tasks. This package owns the rules, the persistence interface
  they need, and nothing about HTTP or rendering.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identity: a named group of tasks with a required-points threshold
  - Task: a unit of work, either a default task or a counter task
  - TaskVariant: tagged union, DefaultVariant or CounterVariant
  - CounterTask / CounterDayPoints: per-day point buckets for counters
  - Reward: a catalog item with a point cost

NAMING:
  Task.IsActive == true means the task is OPEN. A completed task has
  IsActive == false. The inverted name is kept on purpose because it is the
  persisted column name and the wire name used by every client.

DESIGN PRINCIPLES:
  1. Derived balance: the balance is recomputed from task rows on every read.
  2. Type safety: distinct ID types so a RewardID can't be passed as a TaskID.
  3. Counter fields only exist on CounterVariant.

SEE ALSO:
  - ledger.go: Balance computation
  - counter.go: Counter accumulation
  - redeem.go: Reward lock engine
  - store.go: Persistence interface
*/
package economy

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type IdentityID string
type TaskID string
type SubTaskID string
type CounterTaskID string
type RewardID string

// =============================================================================
// POINTS TYPE
// =============================================================================

// PointsType decides whether completing a task adds to or subtracts from the
// balance.
type PointsType string

const (
	PointsPositive PointsType = "POSITIVE"
	PointsNegative PointsType = "NEGATIVE"
)

func (pt PointsType) Valid() bool {
	return pt == PointsPositive || pt == PointsNegative
}

// Sign returns +1 for POSITIVE and -1 for NEGATIVE. Invalid types return 0.
func (pt PointsType) Sign() int {
	switch pt {
	case PointsPositive:
		return 1
	case PointsNegative:
		return -1
	default:
		return 0
	}
}

// =============================================================================
// IDENTITY
// =============================================================================

type Identity struct {
	ID             IdentityID
	Name           string
	Description    string
	RequiredPoints int
	IsActive       bool
	CreatedAt      time.Time
}

// =============================================================================
// TASK VARIANTS - Tagged union
// =============================================================================

type TaskType string

const (
	TaskDefault TaskType = "DEFAULT"
	TaskCounter TaskType = "COUNTER"
)

func (tt TaskType) Valid() bool {
	return tt == TaskDefault || tt == TaskCounter
}

// TaskVariant is implemented only by DefaultVariant and CounterVariant.
//
//   switch v := task.Variant.(type) {
//   case economy.DefaultVariant:
//   case economy.CounterVariant:
//       _ = v.Counter.Count
//   }
type TaskVariant interface {
	TaskType() TaskType
	isTaskVariant()
}

// DefaultVariant is a task completed by a single toggle.
type DefaultVariant struct{}

func (DefaultVariant) TaskType() TaskType { return TaskDefault }
func (DefaultVariant) isTaskVariant()     {}

// CounterVariant is a task completed by repeated increments.
type CounterVariant struct {
	Counter CounterTask
}

func (CounterVariant) TaskType() TaskType { return TaskCounter }
func (CounterVariant) isTaskVariant()     {}

// =============================================================================
// TASK
// =============================================================================

type Task struct {
	ID         TaskID
	Name       string
	IdentityID IdentityID

	// Points is the realized contribution once the task is completed.
	// For counter tasks it is captured from the day buckets at completion.
	Points     int
	PointsType PointsType
	Variant    TaskVariant

	IsActive       bool // true = open, false = completed
	IsFavorited    bool
	IsPinned       bool
	IsLocked       bool // consumed by a reward redemption
	IsAddedToToday bool
	IsBacklog      bool
	SortValue      int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Type returns DEFAULT or COUNTER. A nil variant is a default task.
func (t Task) Type() TaskType {
	if t.Variant == nil {
		return TaskDefault
	}
	return t.Variant.TaskType()
}

// Counter returns the counter task when t is a counter task.
func (t Task) Counter() (CounterTask, bool) {
	cv, ok := t.Variant.(CounterVariant)
	if !ok {
		return CounterTask{}, false
	}
	return cv.Counter, true
}

// IsCompleted reports whether the task is completed (IsActive == false).
func (t Task) IsCompleted() bool { return !t.IsActive }

// Lockable reports whether the task can be consumed by a redemption.
func (t Task) Lockable() bool {
	return t.IsCompleted() && !t.IsLocked && t.PointsType == PointsPositive
}

// =============================================================================
// COUNTER TASK
// =============================================================================

type CounterTask struct {
	ID            CounterTaskID
	TaskID        TaskID
	Count         int
	Target        int
	DefaultPoints int

	// Days holds the day buckets when loaded with GetCounterTaskWithDayPoints.
	Days []CounterDayPoints
}

// CounterDayPoints is the signed point total recorded for one counter task on
// one day. Unique per (CounterTaskID, Day).
type CounterDayPoints struct {
	ID            string
	CounterTaskID CounterTaskID
	Day           Day
	Points        int
}

// =============================================================================
// SUBTASK
// =============================================================================

// SubTask is a decorative subdivision of a task. It never affects points.
type SubTask struct {
	ID             SubTaskID
	ParentTaskID   TaskID
	Name           string
	IsActive       bool
	IsAddedToToday bool
	CreatedAt      time.Time
}

// =============================================================================
// REWARD
// =============================================================================

type Reward struct {
	ID              RewardID
	Name            string
	Description     string
	Cost            int
	ImageCollection []string
	IsRedeemed      bool
	RedeemedAt      *time.Time
	CreatedAt       time.Time
}

/*
ledger.go - Point balance derived from task rows

PURPOSE:
  The balance is never stored. It is recomputed from the current task set on
  every read; there is no running total to drift out of sync.

CRITICAL INVARIANTS:
  1. Only completed (IsActive == false) and unlocked tasks contribute.
  2. POSITIVE tasks add Points, NEGATIVE tasks subtract Points.
  3. The fold is commutative: list order never changes the result.
  4. Locked tasks are spent. Locking can only lower the balance.

EXAMPLE:
  completed +100 (locked), completed +200, completed -30, open +50
  Balance = 200 - 30 = 170

SEE ALSO:
  - redeem.go: Sets IsLocked, which removes tasks from this fold
  - completion.go: Realizes Points when a task is completed
*/
package economy

import "github.com/shopspring/decimal"

// =============================================================================
// BALANCE
// =============================================================================

// Contribution returns the signed value task adds to the balance.
// Open and locked tasks contribute 0.
func Contribution(task Task) int {
	if task.IsActive || task.IsLocked {
		return 0
	}
	return task.PointsType.Sign() * task.Points
}

// ComputeBalance returns the signed sum over completed, unlocked tasks.
// The result may be negative. An empty list returns 0.
func ComputeBalance(tasks []Task) int {
	balance := 0
	for _, t := range tasks {
		balance += Contribution(t)
	}
	return balance
}

// ComputeBalanceForIdentity applies ComputeBalance to the tasks owned by
// identityID.
func ComputeBalanceForIdentity(tasks []Task, identityID IdentityID) int {
	balance := 0
	for _, t := range tasks {
		if t.IdentityID != identityID {
			continue
		}
		balance += Contribution(t)
	}
	return balance
}

// AcquiredPoints is the lifetime signed total for an identity: every
// completed task counts, locked or not. Leveling history uses it because
// spending points on rewards should not un-earn them.
func AcquiredPoints(tasks []Task, identityID IdentityID) int {
	total := 0
	for _, t := range tasks {
		if t.IdentityID != identityID || t.IsActive {
			continue
		}
		total += t.PointsType.Sign() * t.Points
	}
	return total
}

// =============================================================================
// LEDGER SUMMARY - What the header badge shows
// =============================================================================

// LedgerSummary splits the balance into its components.
//
//   Balance = Earned - Penalties
//
// Spent is reported separately: those points were earned but are locked.
type LedgerSummary struct {
	Earned    int // completed, unlocked, POSITIVE
	Penalties int // completed, NEGATIVE (never lockable)
	Spent     int // completed, locked, POSITIVE
	Balance   int
}

// Summarize folds tasks into a LedgerSummary.
func Summarize(tasks []Task) LedgerSummary {
	var s LedgerSummary
	for _, t := range tasks {
		if t.IsActive {
			continue
		}
		switch {
		case t.PointsType == PointsNegative && !t.IsLocked:
			s.Penalties += t.Points
		case t.PointsType == PointsPositive && t.IsLocked:
			s.Spent += t.Points
		case t.PointsType == PointsPositive:
			s.Earned += t.Points
		}
	}
	s.Balance = s.Earned - s.Penalties
	return s
}

// =============================================================================
// PROGRESS - Identity threshold and reward cost progress
// =============================================================================

var hundred = decimal.NewFromInt(100)

// ProgressReport is the progress of Current towards Required.
type ProgressReport struct {
	Current   int
	Required  int
	Percent   decimal.Decimal // 0..100, two decimal places
	Remaining int             // never negative
	Complete  bool
}

// Progress computes how far current is towards required. Negative balances
// report 0%. A non-positive requirement is complete as soon as current >= it.
func Progress(current, required int) ProgressReport {
	r := ProgressReport{
		Current:   current,
		Required:  required,
		Remaining: required - current,
		Complete:  current >= required,
	}
	if r.Remaining < 0 {
		r.Remaining = 0
	}

	switch {
	case r.Complete:
		r.Percent = hundred
	case required <= 0 || current <= 0:
		r.Percent = decimal.Zero
	default:
		r.Percent = decimal.NewFromInt(int64(current)).
			Mul(hundred).
			Div(decimal.NewFromInt(int64(required))).
			Round(2)
	}
	return r
}

/*
counter.go - Day-bucketed accumulation for counter tasks

PURPOSE:
  A counter task is completed by repeated increments ("did this 5 times
  today"). Every increment adds its signed points to the bucket of the day
  it happened on and bumps the repetition count. The task's realized points
  are captured from the buckets when it is completed (see completion.go).

BUCKETS:
  One CounterDayPoints row per (counter task, day). The first increment of a
  day creates the row; later ones add to it. Once a day has passed its
  bucket is history and cannot be written. Buckets later than tomorrow are
  malformed; tomorrow is accepted for clients ahead of UTC.

ATOMICITY:
  Two increments racing on the same counter must both land. The store does
  the add in SQL (upsert with points = points + delta, count = count + 1)
  inside one transaction, so no increment is computed from a stale read.
  A store that detects a lost race returns ErrConcurrencyConflict and the
  accumulator retries.

EXAMPLE:
  day D:   +10, +10      -> bucket D = 20
  day D+1: +10           -> bucket D+1 = 10
  AccumulatedPoints     = 30, Count = 3

SEE ALSO:
  - store.go: UpsertCounterDayPoints, IncrementCounterCount
  - completion.go: Captures AccumulatedPoints into Task.Points
*/
package economy

import (
	"context"
	"fmt"
	"log"

	"github.com/warp/questpoints/metrics"
)

// =============================================================================
// PURE HELPERS
// =============================================================================

// SignedPoints returns points with the sign of pt. points is a magnitude and
// must be positive; the sign never comes from a negative literal.
func SignedPoints(points int, pt PointsType) (int, error) {
	if points <= 0 {
		return 0, &InvalidArgumentError{Field: "points", Reason: fmt.Sprintf("must be positive, got %d", points)}
	}
	if !pt.Valid() {
		return 0, &InvalidArgumentError{Field: "points_type", Reason: fmt.Sprintf("unknown points type %q", pt)}
	}
	return pt.Sign() * points, nil
}

// AccumulatedPoints sums every day bucket of the counter.
func AccumulatedPoints(counter CounterTask) int {
	total := 0
	for _, d := range counter.Days {
		total += d.Points
	}
	return total
}

// PointsOn returns the bucket value for one day, 0 if there is no bucket.
func PointsOn(counter CounterTask, day Day) int {
	for _, d := range counter.Days {
		if d.Day.Equal(day) {
			return d.Points
		}
	}
	return 0
}

// =============================================================================
// COUNTER ACCUMULATOR
// =============================================================================

const defaultMaxRetries = 3

// IncrementResult is the state after an increment.
type IncrementResult struct {
	Counter           CounterTask
	Bucket            CounterDayPoints
	AccumulatedPoints int
}

// CounterAccumulator records counter increments.
type CounterAccumulator struct {
	Store      TxStore
	Clock      Clock
	MaxRetries int // retries on ErrConcurrencyConflict, default 3
}

func NewCounterAccumulator(store TxStore) *CounterAccumulator {
	return &CounterAccumulator{Store: store, MaxRetries: defaultMaxRetries}
}

// RecordIncrement adds signed points to the bucket for day and increments the
// counter's count by one, atomically.
func (a *CounterAccumulator) RecordIncrement(
	ctx context.Context,
	counterTaskID CounterTaskID,
	day Day,
	points int,
	pointsType PointsType,
) (IncrementResult, error) {
	signed, err := SignedPoints(points, pointsType)
	if err != nil {
		metrics.CounterIncrements.WithLabelValues("rejected").Inc()
		return IncrementResult{}, err
	}
	if err := a.checkDay(day); err != nil {
		metrics.CounterIncrements.WithLabelValues("rejected").Inc()
		return IncrementResult{}, err
	}

	var result IncrementResult
	err = a.retry(ctx, func() error {
		return a.Store.WithTx(ctx, func(s Store) error {
			// Count first: it fails with NotFound before any bucket is written.
			if _, err := s.IncrementCounterCount(ctx, counterTaskID); err != nil {
				return err
			}
			bucket, err := s.UpsertCounterDayPoints(ctx, counterTaskID, day, signed)
			if err != nil {
				return err
			}
			counter, err := s.GetCounterTaskWithDayPoints(ctx, counterTaskID)
			if err != nil {
				return err
			}
			result = IncrementResult{
				Counter:           counter,
				Bucket:            bucket,
				AccumulatedPoints: AccumulatedPoints(counter),
			}
			return nil
		})
	})
	if err != nil {
		metrics.CounterIncrements.WithLabelValues("failed").Inc()
		return IncrementResult{}, err
	}

	metrics.CounterIncrements.WithLabelValues("ok").Inc()
	return result, nil
}

// IncrementTask is the increment-counter-with-points action. It resolves the
// counter of a task. points == 0 falls back to the counter's DefaultPoints and
// an empty pointsType falls back to the task's PointsType.
func (a *CounterAccumulator) IncrementTask(
	ctx context.Context,
	taskID TaskID,
	day Day,
	points int,
	pointsType PointsType,
) (IncrementResult, error) {
	task, err := a.Store.GetTask(ctx, taskID)
	if err != nil {
		return IncrementResult{}, err
	}
	counter, ok := task.Counter()
	if !ok {
		return IncrementResult{}, &InvalidArgumentError{Field: "task", Reason: fmt.Sprintf("task %s is not a counter task", taskID)}
	}
	if points == 0 {
		points = counter.DefaultPoints
	}
	if pointsType == "" {
		pointsType = task.PointsType
	}
	if day.IsZero() {
		day = DayOf(a.Clock.now())
	}
	return a.RecordIncrement(ctx, counter.ID, day, points, pointsType)
}

func (a *CounterAccumulator) checkDay(day Day) error {
	if day.IsZero() {
		return &InvalidArgumentError{Field: "day", Reason: "missing day bucket"}
	}
	today := DayOf(a.Clock.now())
	if day.Before(today) {
		return &InvalidArgumentError{Field: "day", Reason: fmt.Sprintf("bucket %s is closed history", day)}
	}
	if day.After(today.AddDays(1)) {
		return &InvalidArgumentError{Field: "day", Reason: fmt.Sprintf("bucket %s is in the future", day)}
	}
	return nil
}

func (a *CounterAccumulator) retry(ctx context.Context, fn func() error) error {
	attempts := a.MaxRetries
	if attempts <= 0 {
		attempts = defaultMaxRetries
	}

	var err error
	for i := 0; i <= attempts; i++ {
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		log.Printf("[Counter] retrying after conflict (attempt %d/%d): %v", i+1, attempts, err)
	}
	return err
}

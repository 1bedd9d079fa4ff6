package sqlite

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/warp/questpoints/economy"
)

// =============================================================================
// COUNTER ROWS
// =============================================================================

type counterRow struct {
	ID            string `db:"id"`
	TaskID        string `db:"task_id"`
	Count         int    `db:"count"`
	Target        int    `db:"target"`
	DefaultPoints int    `db:"default_points"`
}

func (r counterRow) toCounter() economy.CounterTask {
	return economy.CounterTask{
		ID:            economy.CounterTaskID(r.ID),
		TaskID:        economy.TaskID(r.TaskID),
		Count:         r.Count,
		Target:        r.Target,
		DefaultPoints: r.DefaultPoints,
	}
}

type dayPointsRow struct {
	ID            string `db:"id"`
	CounterTaskID string `db:"counter_task_id"`
	Day           string `db:"day"`
	Points        int    `db:"points"`
}

func (r dayPointsRow) toDayPoints() (economy.CounterDayPoints, error) {
	day, err := economy.ParseDay(r.Day)
	if err != nil {
		return economy.CounterDayPoints{}, fmt.Errorf("corrupt day bucket %s: %w", r.ID, err)
	}
	return economy.CounterDayPoints{
		ID:            r.ID,
		CounterTaskID: economy.CounterTaskID(r.CounterTaskID),
		Day:           day,
		Points:        r.Points,
	}, nil
}

// =============================================================================
// COUNTER STORE (economy.Store interface)
// =============================================================================

// UpsertCounterDayPoints adds delta to the (counter, day) bucket.
func (s *Store) UpsertCounterDayPoints(ctx context.Context, counterTaskID economy.CounterTaskID, day economy.Day, delta int) (economy.CounterDayPoints, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bucket economy.CounterDayPoints
	err := s.withTxLocked(ctx, func(tx *sqlx.Tx) error {
		var err error
		bucket, err = upsertCounterDayPoints(ctx, tx, counterTaskID, day, delta)
		return err
	})
	return bucket, err
}

// IncrementCounterCount adds 1 to the counter's count.
func (s *Store) IncrementCounterCount(ctx context.Context, counterTaskID economy.CounterTaskID) (economy.CounterTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counter economy.CounterTask
	err := s.withTxLocked(ctx, func(tx *sqlx.Tx) error {
		var err error
		counter, err = incrementCounterCount(ctx, tx, counterTaskID)
		return err
	})
	return counter, err
}

func (s *Store) GetCounterTaskWithDayPoints(ctx context.Context, counterTaskID economy.CounterTaskID) (economy.CounterTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCounterWithDays(ctx, s.db, counterTaskID)
}

// =============================================================================
// QUERIES - Shared by Store and txStore
// =============================================================================

func upsertCounterDayPoints(ctx context.Context, q sqlx.ExtContext, counterTaskID economy.CounterTaskID, day economy.Day, delta int) (economy.CounterDayPoints, error) {
	ok, err := exists(ctx, q, "counter_tasks", string(counterTaskID))
	if err != nil {
		return economy.CounterDayPoints{}, err
	}
	if !ok {
		return economy.CounterDayPoints{}, economy.NotFoundf("counter_task", counterTaskID)
	}

	// CRITICAL: the add runs inside SQLite, never as read-modify-write here.
	_, err = q.ExecContext(ctx, `
		INSERT INTO counter_day_points (id, counter_task_id, day, points)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (counter_task_id, day) DO UPDATE SET points = points + excluded.points`,
		uuid.New().String(), counterTaskID, day.String(), delta,
	)
	if err != nil {
		if isForeignKeyError(err) {
			return economy.CounterDayPoints{}, economy.NotFoundf("counter_task", counterTaskID)
		}
		return economy.CounterDayPoints{}, fmt.Errorf("failed to upsert day points: %w", err)
	}

	var row dayPointsRow
	err = sqlx.GetContext(ctx, q, &row, `
		SELECT id, counter_task_id, day, points FROM counter_day_points
		WHERE counter_task_id = ? AND day = ?`, counterTaskID, day.String())
	if err != nil {
		return economy.CounterDayPoints{}, fmt.Errorf("failed to read day points: %w", err)
	}
	return row.toDayPoints()
}

func incrementCounterCount(ctx context.Context, q sqlx.ExtContext, counterTaskID economy.CounterTaskID) (economy.CounterTask, error) {
	res, err := q.ExecContext(ctx, "UPDATE counter_tasks SET count = count + 1 WHERE id = ?", counterTaskID)
	if err != nil {
		return economy.CounterTask{}, fmt.Errorf("failed to increment counter %s: %w", counterTaskID, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return economy.CounterTask{}, economy.NotFoundf("counter_task", counterTaskID)
	}
	return getCounter(ctx, q, counterTaskID)
}

func getCounter(ctx context.Context, q sqlx.QueryerContext, counterTaskID economy.CounterTaskID) (economy.CounterTask, error) {
	var row counterRow
	err := sqlx.GetContext(ctx, q, &row, `
		SELECT id, task_id, count, target, default_points FROM counter_tasks WHERE id = ?`, counterTaskID)
	if isNoRows(err) {
		return economy.CounterTask{}, economy.NotFoundf("counter_task", counterTaskID)
	}
	if err != nil {
		return economy.CounterTask{}, fmt.Errorf("failed to get counter %s: %w", counterTaskID, err)
	}
	return row.toCounter(), nil
}

func getCounterWithDays(ctx context.Context, q sqlx.QueryerContext, counterTaskID economy.CounterTaskID) (economy.CounterTask, error) {
	counter, err := getCounter(ctx, q, counterTaskID)
	if err != nil {
		return economy.CounterTask{}, err
	}

	var rows []dayPointsRow
	err = sqlx.SelectContext(ctx, q, &rows, `
		SELECT id, counter_task_id, day, points FROM counter_day_points
		WHERE counter_task_id = ? ORDER BY day`, counterTaskID)
	if err != nil {
		return economy.CounterTask{}, fmt.Errorf("failed to list day points for %s: %w", counterTaskID, err)
	}

	counter.Days = make([]economy.CounterDayPoints, 0, len(rows))
	for _, r := range rows {
		d, err := r.toDayPoints()
		if err != nil {
			return economy.CounterTask{}, err
		}
		counter.Days = append(counter.Days, d)
	}
	return counter, nil
}

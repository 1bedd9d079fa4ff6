package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/warp/questpoints/economy"
)

// =============================================================================
// TASK ROWS
// =============================================================================

const taskColumns = `
	t.id, t.name, t.identity_id, t.points, t.points_type, t.task_type,
	t.is_active, t.is_favorited, t.is_pinned, t.is_locked,
	t.is_added_to_today, t.is_backlog, t.sort_value, t.created_at, t.updated_at,
	c.id AS counter_id, c.count AS counter_count, c.target AS counter_target,
	c.default_points AS counter_default_points`

const taskFrom = `FROM tasks t LEFT JOIN counter_tasks c ON c.task_id = t.id`

type taskRow struct {
	ID             string `db:"id"`
	Name           string `db:"name"`
	IdentityID     string `db:"identity_id"`
	Points         int    `db:"points"`
	PointsType     string `db:"points_type"`
	TaskType       string `db:"task_type"`
	IsActive       bool   `db:"is_active"`
	IsFavorited    bool   `db:"is_favorited"`
	IsPinned       bool   `db:"is_pinned"`
	IsLocked       bool   `db:"is_locked"`
	IsAddedToToday bool   `db:"is_added_to_today"`
	IsBacklog      bool   `db:"is_backlog"`
	SortValue      int    `db:"sort_value"`
	CreatedAt      string `db:"created_at"`
	UpdatedAt      string `db:"updated_at"`

	CounterID            sql.NullString `db:"counter_id"`
	CounterCount         sql.NullInt64  `db:"counter_count"`
	CounterTarget        sql.NullInt64  `db:"counter_target"`
	CounterDefaultPoints sql.NullInt64  `db:"counter_default_points"`
}

func (r taskRow) toTask() economy.Task {
	task := economy.Task{
		ID:             economy.TaskID(r.ID),
		Name:           r.Name,
		IdentityID:     economy.IdentityID(r.IdentityID),
		Points:         r.Points,
		PointsType:     economy.PointsType(r.PointsType),
		Variant:        economy.DefaultVariant{},
		IsActive:       r.IsActive,
		IsFavorited:    r.IsFavorited,
		IsPinned:       r.IsPinned,
		IsLocked:       r.IsLocked,
		IsAddedToToday: r.IsAddedToToday,
		IsBacklog:      r.IsBacklog,
		SortValue:      r.SortValue,
		CreatedAt:      parseTime(r.CreatedAt),
		UpdatedAt:      parseTime(r.UpdatedAt),
	}
	if r.TaskType == string(economy.TaskCounter) && r.CounterID.Valid {
		task.Variant = economy.CounterVariant{Counter: economy.CounterTask{
			ID:            economy.CounterTaskID(r.CounterID.String),
			TaskID:        task.ID,
			Count:         int(r.CounterCount.Int64),
			Target:        int(r.CounterTarget.Int64),
			DefaultPoints: int(r.CounterDefaultPoints.Int64),
		}}
	}
	return task
}

func toTasks(rows []taskRow) []economy.Task {
	tasks := make([]economy.Task, len(rows))
	for i, r := range rows {
		tasks[i] = r.toTask()
	}
	return tasks
}

// =============================================================================
// TASK CRUD
// =============================================================================

// TaskUpdate is a partial update. Nil fields are left unchanged. Completion
// and locking are not part of it: they go through economy.Completer and
// economy.RewardLockEngine.
type TaskUpdate struct {
	Name           *string
	IdentityID     *economy.IdentityID
	Points         *int
	PointsType     *economy.PointsType
	IsFavorited    *bool
	IsPinned       *bool
	IsAddedToToday *bool
	IsBacklog      *bool
	SortValue      *int
}

// CreateTask inserts a task and, for counter tasks, its counter row.
// SortValue defaults to max+1.
func (s *Store) CreateTask(ctx context.Context, task economy.Task) (economy.Task, error) {
	if strings.TrimSpace(task.Name) == "" {
		return economy.Task{}, &economy.InvalidArgumentError{Field: "name", Reason: "must not be empty"}
	}
	if task.PointsType == "" {
		task.PointsType = economy.PointsPositive
	}
	if !task.PointsType.Valid() {
		return economy.Task{}, &economy.InvalidArgumentError{Field: "points_type", Reason: fmt.Sprintf("unknown points type %q", task.PointsType)}
	}
	if task.Points < 0 {
		return economy.Task{}, &economy.InvalidArgumentError{Field: "points", Reason: "must not be negative; use points_type NEGATIVE"}
	}
	if task.IsLocked {
		return economy.Task{}, &economy.InvalidArgumentError{Field: "is_locked", Reason: "tasks are locked only by redemption"}
	}
	if task.ID == "" {
		task.ID = economy.TaskID(uuid.New().String())
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = task.CreatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var created economy.Task
	err := s.withTxLocked(ctx, func(tx *sqlx.Tx) error {
		ok, err := exists(ctx, tx, "identities", string(task.IdentityID))
		if err != nil {
			return err
		}
		if !ok {
			return economy.NotFoundf("identity", task.IdentityID)
		}

		if task.SortValue == 0 {
			var maxSort int
			if err := sqlx.GetContext(ctx, tx, &maxSort, "SELECT COALESCE(MAX(sort_value), 0) FROM tasks"); err != nil {
				return fmt.Errorf("failed to get max sort_value: %w", err)
			}
			task.SortValue = maxSort + 1
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks (
				id, name, identity_id, points, points_type, task_type,
				is_active, is_favorited, is_pinned, is_locked,
				is_added_to_today, is_backlog, sort_value, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)`,
			task.ID, task.Name, task.IdentityID, task.Points, task.PointsType, task.Type(),
			task.IsActive, task.IsFavorited, task.IsPinned,
			task.IsAddedToToday, task.IsBacklog, task.SortValue,
			formatTime(task.CreatedAt), formatTime(task.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}

		if counter, ok := task.Counter(); ok {
			if counter.ID == "" {
				counter.ID = economy.CounterTaskID(uuid.New().String())
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO counter_tasks (id, task_id, count, target, default_points)
				VALUES (?, ?, 0, ?, ?)`,
				counter.ID, task.ID, counter.Target, counter.DefaultPoints,
			)
			if err != nil {
				return fmt.Errorf("failed to create counter task: %w", err)
			}
		}
		created, err = getTask(ctx, tx, task.ID)
		return err
	})
	if err != nil {
		return economy.Task{}, err
	}
	return created, nil
}

func (s *Store) GetTask(ctx context.Context, id economy.TaskID) (economy.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTask(ctx, s.db, id)
}

// ListTasks returns tasks ordered by sort_value, then insertion order.
func (s *Store) ListTasks(ctx context.Context, filter economy.TaskFilter) ([]economy.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTasks(ctx, s.db, filter)
}

// UpdateTask applies a partial update and bumps updated_at.
// Points of a locked task cannot change.
func (s *Store) UpdateTask(ctx context.Context, id economy.TaskID, u TaskUpdate) (economy.Task, error) {
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return economy.Task{}, &economy.InvalidArgumentError{Field: "name", Reason: "must not be empty"}
	}
	if u.Points != nil && *u.Points < 0 {
		return economy.Task{}, &economy.InvalidArgumentError{Field: "points", Reason: "must not be negative; use points_type NEGATIVE"}
	}
	if u.PointsType != nil && !u.PointsType.Valid() {
		return economy.Task{}, &economy.InvalidArgumentError{Field: "points_type", Reason: fmt.Sprintf("unknown points type %q", *u.PointsType)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var updated economy.Task
	err := s.withTxLocked(ctx, func(tx *sqlx.Tx) error {
		task, err := getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		if task.IsLocked && (u.Points != nil || u.PointsType != nil) {
			return fmt.Errorf("task %s: %w", id, economy.ErrTaskLocked)
		}
		if u.IdentityID != nil {
			ok, err := exists(ctx, tx, "identities", string(*u.IdentityID))
			if err != nil {
				return err
			}
			if !ok {
				return economy.NotFoundf("identity", *u.IdentityID)
			}
			task.IdentityID = *u.IdentityID
		}
		if u.Name != nil {
			task.Name = *u.Name
		}
		if u.Points != nil {
			task.Points = *u.Points
		}
		if u.PointsType != nil {
			task.PointsType = *u.PointsType
		}
		if u.IsFavorited != nil {
			task.IsFavorited = *u.IsFavorited
		}
		if u.IsPinned != nil {
			task.IsPinned = *u.IsPinned
		}
		if u.IsAddedToToday != nil {
			task.IsAddedToToday = *u.IsAddedToToday
		}
		if u.IsBacklog != nil {
			task.IsBacklog = *u.IsBacklog
		}
		if u.SortValue != nil {
			task.SortValue = *u.SortValue
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE tasks SET
				name = ?, identity_id = ?, points = ?, points_type = ?,
				is_favorited = ?, is_pinned = ?, is_added_to_today = ?, is_backlog = ?,
				sort_value = ?, updated_at = ?
			WHERE id = ?`,
			task.Name, task.IdentityID, task.Points, task.PointsType,
			task.IsFavorited, task.IsPinned, task.IsAddedToToday, task.IsBacklog,
			task.SortValue, formatTime(time.Now()), id,
		)
		if err != nil {
			return fmt.Errorf("failed to update task %s: %w", id, err)
		}
		updated, err = getTask(ctx, tx, id)
		return err
	})
	if err != nil {
		return economy.Task{}, err
	}
	return updated, nil
}

// TogglePin flips is_pinned.
func (s *Store) TogglePin(ctx context.Context, id economy.TaskID) (economy.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated economy.Task
	err := s.withTxLocked(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE tasks SET is_pinned = NOT is_pinned, updated_at = ? WHERE id = ?",
			formatTime(time.Now()), id)
		if err != nil {
			return fmt.Errorf("failed to toggle pin on task %s: %w", id, err)
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return economy.NotFoundf("task", id)
		}
		updated, err = getTask(ctx, tx, id)
		return err
	})
	return updated, err
}

// UpdateSort sets sort_value to each task's position in ids.
func (s *Store) UpdateSort(ctx context.Context, ids []economy.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTxLocked(ctx, func(tx *sqlx.Tx) error {
		for i, id := range ids {
			res, err := tx.ExecContext(ctx, "UPDATE tasks SET sort_value = ? WHERE id = ?", i+1, id)
			if err != nil {
				return fmt.Errorf("failed to sort task %s: %w", id, err)
			}
			if rows, _ := res.RowsAffected(); rows == 0 {
				return economy.NotFoundf("task", id)
			}
		}
		return nil
	})
}

// DeleteTask removes a task. Subtasks, counter task and day buckets cascade.
func (s *Store) DeleteTask(ctx context.Context, id economy.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return economy.NotFoundf("task", id)
	}
	return nil
}

// =============================================================================
// ECONOMY WRITES (economy.Store interface)
// =============================================================================

func (s *Store) SetTaskCompletion(ctx context.Context, id economy.TaskID, isActive bool, points int, at time.Time) (economy.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var task economy.Task
	err := s.withTxLocked(ctx, func(tx *sqlx.Tx) error {
		var err error
		task, err = setTaskCompletion(ctx, tx, id, isActive, points, at)
		return err
	})
	return task, err
}

func (s *Store) ListCompletedUnlockedPositiveTasks(ctx context.Context) ([]economy.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listLockCandidates(ctx, s.db)
}

// LockTasks locks every id or none.
func (s *Store) LockTasks(ctx context.Context, ids []economy.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withTxLocked(ctx, func(tx *sqlx.Tx) error {
		return lockTasks(ctx, tx, ids)
	})
}

func (s *Store) UnlockTask(ctx context.Context, id economy.TaskID) (economy.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var task economy.Task
	err := s.withTxLocked(ctx, func(tx *sqlx.Tx) error {
		var err error
		task, err = unlockTask(ctx, tx, id)
		return err
	})
	return task, err
}

// =============================================================================
// QUERIES - Shared by Store and txStore
// =============================================================================

func getTask(ctx context.Context, q sqlx.QueryerContext, id economy.TaskID) (economy.Task, error) {
	var row taskRow
	err := sqlx.GetContext(ctx, q, &row, "SELECT "+taskColumns+" "+taskFrom+" WHERE t.id = ?", id)
	if isNoRows(err) {
		return economy.Task{}, economy.NotFoundf("task", id)
	}
	if err != nil {
		return economy.Task{}, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return row.toTask(), nil
}

func listTasks(ctx context.Context, q sqlx.QueryerContext, f economy.TaskFilter) ([]economy.Task, error) {
	var (
		where []string
		args  []any
	)
	if f.IdentityID != nil {
		where = append(where, "t.identity_id = ?")
		args = append(args, *f.IdentityID)
	}
	for col, v := range map[string]*bool{
		"t.is_active":         f.IsActive,
		"t.is_favorited":      f.IsFavorited,
		"t.is_added_to_today": f.IsAddedToToday,
		"t.is_locked":         f.IsLocked,
	} {
		if v != nil {
			where = append(where, col+" = ?")
			args = append(args, *v)
		}
	}

	query := "SELECT " + taskColumns + " " + taskFrom
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY t.sort_value, t.rowid"

	var rows []taskRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return toTasks(rows), nil
}

func listLockCandidates(ctx context.Context, q sqlx.QueryerContext) ([]economy.Task, error) {
	var rows []taskRow
	err := sqlx.SelectContext(ctx, q, &rows, "SELECT "+taskColumns+" "+taskFrom+`
		WHERE t.is_active = 0 AND t.is_locked = 0 AND t.points_type = 'POSITIVE'
		ORDER BY t.updated_at ASC, t.created_at ASC, t.rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list lock candidates: %w", err)
	}
	return toTasks(rows), nil
}

func setTaskCompletion(ctx context.Context, q sqlx.ExtContext, id economy.TaskID, isActive bool, points int, at time.Time) (economy.Task, error) {
	res, err := q.ExecContext(ctx,
		"UPDATE tasks SET is_active = ?, points = ?, updated_at = ? WHERE id = ?",
		isActive, points, formatTime(at), id)
	if err != nil {
		return economy.Task{}, fmt.Errorf("failed to set completion on task %s: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return economy.Task{}, economy.NotFoundf("task", id)
	}
	return getTask(ctx, q, id)
}

func lockTasks(ctx context.Context, q sqlx.ExtContext, ids []economy.TaskID) error {
	unique := make([]economy.TaskID, 0, len(ids))
	seen := make(map[economy.TaskID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	if len(unique) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`
		UPDATE tasks SET is_locked = 1
		WHERE id IN (?) AND is_active = 0 AND is_locked = 0 AND points_type = 'POSITIVE'`, unique)
	if err != nil {
		return fmt.Errorf("failed to build lock query: %w", err)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to lock tasks: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to lock tasks: %w", err)
	}
	if int(rows) != len(unique) {
		return &economy.ConflictError{
			Op:     "lock tasks",
			Detail: fmt.Sprintf("locked %d of %d tasks", rows, len(unique)),
		}
	}
	return nil
}

func unlockTask(ctx context.Context, q sqlx.ExtContext, id economy.TaskID) (economy.Task, error) {
	res, err := q.ExecContext(ctx, "UPDATE tasks SET is_locked = 0 WHERE id = ?", id)
	if err != nil {
		return economy.Task{}, fmt.Errorf("failed to unlock task %s: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return economy.Task{}, economy.NotFoundf("task", id)
	}
	return getTask(ctx, q, id)
}

package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/warp/questpoints/economy"
)

// =============================================================================
// SUBTASK STORE - No point math
// =============================================================================

type subTaskRow struct {
	ID             string `db:"id"`
	ParentTaskID   string `db:"parent_task_id"`
	Name           string `db:"name"`
	IsActive       bool   `db:"is_active"`
	IsAddedToToday bool   `db:"is_added_to_today"`
	CreatedAt      string `db:"created_at"`
}

func (r subTaskRow) toSubTask() economy.SubTask {
	return economy.SubTask{
		ID:             economy.SubTaskID(r.ID),
		ParentTaskID:   economy.TaskID(r.ParentTaskID),
		Name:           r.Name,
		IsActive:       r.IsActive,
		IsAddedToToday: r.IsAddedToToday,
		CreatedAt:      parseTime(r.CreatedAt),
	}
}

const subTaskColumns = `id, parent_task_id, name, is_active, is_added_to_today, created_at`

// SubTaskUpdate is a partial update. Nil fields are left unchanged.
type SubTaskUpdate struct {
	Name           *string
	IsActive       *bool
	IsAddedToToday *bool
}

func (s *Store) CreateSubTask(ctx context.Context, sub economy.SubTask) (economy.SubTask, error) {
	if strings.TrimSpace(sub.Name) == "" {
		return economy.SubTask{}, &economy.InvalidArgumentError{Field: "name", Reason: "must not be empty"}
	}
	if sub.ID == "" {
		sub.ID = economy.SubTaskID(uuid.New().String())
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subtasks (id, parent_task_id, name, is_active, is_added_to_today, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.ParentTaskID, sub.Name, sub.IsActive, sub.IsAddedToToday, formatTime(sub.CreatedAt),
	)
	if isForeignKeyError(err) {
		return economy.SubTask{}, economy.NotFoundf("task", sub.ParentTaskID)
	}
	if err != nil {
		return economy.SubTask{}, fmt.Errorf("failed to create subtask: %w", err)
	}
	return getSubTask(ctx, s.db, sub.ID)
}

// ListSubTasks returns subtasks, all of them when parent is nil.
func (s *Store) ListSubTasks(ctx context.Context, parent *economy.TaskID) ([]economy.SubTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + subTaskColumns + " FROM subtasks"
	var args []any
	if parent != nil {
		query += " WHERE parent_task_id = ?"
		args = append(args, *parent)
	}
	query += " ORDER BY created_at, rowid"

	var rows []subTaskRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list subtasks: %w", err)
	}
	subs := make([]economy.SubTask, len(rows))
	for i, r := range rows {
		subs[i] = r.toSubTask()
	}
	return subs, nil
}

func (s *Store) UpdateSubTask(ctx context.Context, id economy.SubTaskID, u SubTaskUpdate) (economy.SubTask, error) {
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return economy.SubTask{}, &economy.InvalidArgumentError{Field: "name", Reason: "must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var updated economy.SubTask
	err := s.withTxLocked(ctx, func(tx *sqlx.Tx) error {
		sub, err := getSubTask(ctx, tx, id)
		if err != nil {
			return err
		}
		if u.Name != nil {
			sub.Name = *u.Name
		}
		if u.IsActive != nil {
			sub.IsActive = *u.IsActive
		}
		if u.IsAddedToToday != nil {
			sub.IsAddedToToday = *u.IsAddedToToday
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE subtasks SET name = ?, is_active = ?, is_added_to_today = ? WHERE id = ?",
			sub.Name, sub.IsActive, sub.IsAddedToToday, id)
		if err != nil {
			return fmt.Errorf("failed to update subtask %s: %w", id, err)
		}
		updated = sub
		return nil
	})
	return updated, err
}

func (s *Store) DeleteSubTask(ctx context.Context, id economy.SubTaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM subtasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete subtask %s: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return economy.NotFoundf("subtask", id)
	}
	return nil
}

func getSubTask(ctx context.Context, q sqlx.QueryerContext, id economy.SubTaskID) (economy.SubTask, error) {
	var row subTaskRow
	err := sqlx.GetContext(ctx, q, &row, "SELECT "+subTaskColumns+" FROM subtasks WHERE id = ?", id)
	if isNoRows(err) {
		return economy.SubTask{}, economy.NotFoundf("subtask", id)
	}
	if err != nil {
		return economy.SubTask{}, fmt.Errorf("failed to get subtask %s: %w", id, err)
	}
	return row.toSubTask(), nil
}

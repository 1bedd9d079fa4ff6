/*
Package sqlite provides a SQLite-backed implementation of economy.TxStore
plus the per-entity CRUD used by the REST boundary.

PURPOSE:
  One mutable task store. The point balance is not a column anywhere; it is
  folded from the tasks table on every read (see economy/ledger.go).

INTERFACES IMPLEMENTED:
  economy.Store:   Reads and atomic writes used by the economy engine
  economy.TxStore: WithTx over BEGIN IMMEDIATE transactions

KEY TABLES:
  identities:         Task groups with a required-points threshold
  tasks:              Every task, open or completed, locked or not
  counter_tasks:      One row per COUNTER task (count, target, default points)
  counter_day_points: Signed point bucket per (counter task, day)
  subtasks:           Decorative subdivisions, no point math
  rewards:            Catalog with cost and redeemed flag

ATOMICITY:
  - Counter buckets are written with INSERT ... ON CONFLICT DO UPDATE SET
    points = points + excluded.points. The add happens inside SQLite.
  - LockTasks is a single UPDATE guarded by is_active = 0 AND is_locked = 0;
    a short row count means another writer got there first.
  - Transactions use _txlock=immediate, so the write lock is taken at BEGIN
    and two redemptions cannot both read the same candidate set.

CASCADES:
  Foreign keys are on. Deleting an identity deletes its tasks; deleting a
  task deletes its subtasks, counter task and day buckets.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety inside one process. The immediate
  transaction lock covers other processes sharing the file.

USAGE:
  store, err := sqlite.New("./data/questpoints.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := economy.NewRewardLockEngine(store, economy.FundingStrict)

SEE ALSO:
  - economy/store.go: Interface definitions
  - economy/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/questpoints/economy"
)

// timeLayout is fixed width so that TEXT ordering equals time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements economy.TxStore using SQLite.
type Store struct {
	db *sqlx.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000"
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS identities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		required_points INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		identity_id TEXT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
		points INTEGER NOT NULL DEFAULT 0,
		points_type TEXT NOT NULL CHECK (points_type IN ('POSITIVE', 'NEGATIVE')),
		task_type TEXT NOT NULL CHECK (task_type IN ('DEFAULT', 'COUNTER')),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_favorited BOOLEAN NOT NULL DEFAULT FALSE,
		is_pinned BOOLEAN NOT NULL DEFAULT FALSE,
		is_locked BOOLEAN NOT NULL DEFAULT FALSE,
		is_added_to_today BOOLEAN NOT NULL DEFAULT FALSE,
		is_backlog BOOLEAN NOT NULL DEFAULT FALSE,
		sort_value INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (is_locked = 0 OR is_active = 0)
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_identity
		ON tasks(identity_id);

	-- Lock candidates, oldest first (hot path for redemption)
	CREATE INDEX IF NOT EXISTS idx_tasks_lock_candidates
		ON tasks(updated_at, created_at)
		WHERE is_active = 0 AND is_locked = 0 AND points_type = 'POSITIVE';

	CREATE TABLE IF NOT EXISTS counter_tasks (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL UNIQUE REFERENCES tasks(id) ON DELETE CASCADE,
		count INTEGER NOT NULL DEFAULT 0,
		target INTEGER NOT NULL DEFAULT 0,
		default_points INTEGER NOT NULL DEFAULT 0
	);

	-- CRITICAL: one bucket per counter task and day
	CREATE TABLE IF NOT EXISTS counter_day_points (
		id TEXT PRIMARY KEY,
		counter_task_id TEXT NOT NULL REFERENCES counter_tasks(id) ON DELETE CASCADE,
		day TEXT NOT NULL,
		points INTEGER NOT NULL DEFAULT 0,
		UNIQUE (counter_task_id, day)
	);

	CREATE TABLE IF NOT EXISTS subtasks (
		id TEXT PRIMARY KEY,
		parent_task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_added_to_today BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_subtasks_parent
		ON subtasks(parent_task_id);

	CREATE TABLE IF NOT EXISTS rewards (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		cost INTEGER NOT NULL CHECK (cost >= 0),
		image_collection_json TEXT NOT NULL DEFAULT '[]',
		is_redeemed BOOLEAN NOT NULL DEFAULT FALSE,
		redeemed_at TEXT,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (economy.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
// The Store passed to fn must be used for every read and write; the parent
// Store's methods take the mutex and would deadlock.
func (s *Store) WithTx(ctx context.Context, fn func(store economy.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withTxLocked(ctx, func(tx *sqlx.Tx) error {
		return fn(&txStore{tx: tx})
	})
}

func (s *Store) withTxLocked(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txStore routes every economy.Store call through the open transaction.
type txStore struct {
	tx *sqlx.Tx
}

func (ts *txStore) GetTask(ctx context.Context, id economy.TaskID) (economy.Task, error) {
	return getTask(ctx, ts.tx, id)
}

func (ts *txStore) ListTasks(ctx context.Context, filter economy.TaskFilter) ([]economy.Task, error) {
	return listTasks(ctx, ts.tx, filter)
}

func (ts *txStore) SetTaskCompletion(ctx context.Context, id economy.TaskID, isActive bool, points int, at time.Time) (economy.Task, error) {
	return setTaskCompletion(ctx, ts.tx, id, isActive, points, at)
}

func (ts *txStore) ListCompletedUnlockedPositiveTasks(ctx context.Context) ([]economy.Task, error) {
	return listLockCandidates(ctx, ts.tx)
}

func (ts *txStore) LockTasks(ctx context.Context, ids []economy.TaskID) error {
	return lockTasks(ctx, ts.tx, ids)
}

func (ts *txStore) UnlockTask(ctx context.Context, id economy.TaskID) (economy.Task, error) {
	return unlockTask(ctx, ts.tx, id)
}

func (ts *txStore) UpsertCounterDayPoints(ctx context.Context, counterTaskID economy.CounterTaskID, day economy.Day, delta int) (economy.CounterDayPoints, error) {
	return upsertCounterDayPoints(ctx, ts.tx, counterTaskID, day, delta)
}

func (ts *txStore) IncrementCounterCount(ctx context.Context, counterTaskID economy.CounterTaskID) (economy.CounterTask, error) {
	return incrementCounterCount(ctx, ts.tx, counterTaskID)
}

func (ts *txStore) GetCounterTaskWithDayPoints(ctx context.Context, counterTaskID economy.CounterTaskID) (economy.CounterTask, error) {
	return getCounterWithDays(ctx, ts.tx, counterTaskID)
}

func (ts *txStore) GetReward(ctx context.Context, id economy.RewardID) (economy.Reward, error) {
	return getReward(ctx, ts.tx, id)
}

func (ts *txStore) MarkRewardRedeemed(ctx context.Context, id economy.RewardID, at time.Time) (economy.Reward, error) {
	return markRewardRedeemed(ctx, ts.tx, id, at)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"counter_day_points", "counter_tasks", "subtasks", "tasks", "identities", "rewards"}
	return s.withTxLocked(ctx, func(tx *sqlx.Tx) error {
		for _, table := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	})
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func exists(ctx context.Context, q sqlx.QueryerContext, table, id string) (bool, error) {
	var n int
	if err := sqlx.GetContext(ctx, q, &n, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id); err != nil {
		return false, fmt.Errorf("failed to check %s: %w", table, err)
	}
	return n > 0, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/warp/questpoints/economy"
)

// =============================================================================
// REWARD ROWS
// =============================================================================

type rewardRow struct {
	ID                  string         `db:"id"`
	Name                string         `db:"name"`
	Description         string         `db:"description"`
	Cost                int            `db:"cost"`
	ImageCollectionJSON string         `db:"image_collection_json"`
	IsRedeemed          bool           `db:"is_redeemed"`
	RedeemedAt          sql.NullString `db:"redeemed_at"`
	CreatedAt           string         `db:"created_at"`
}

const rewardColumns = `id, name, description, cost, image_collection_json, is_redeemed, redeemed_at, created_at`

func (r rewardRow) toReward() economy.Reward {
	reward := economy.Reward{
		ID:          economy.RewardID(r.ID),
		Name:        r.Name,
		Description: r.Description,
		Cost:        r.Cost,
		IsRedeemed:  r.IsRedeemed,
		CreatedAt:   parseTime(r.CreatedAt),
	}
	_ = json.Unmarshal([]byte(r.ImageCollectionJSON), &reward.ImageCollection)
	if r.RedeemedAt.Valid {
		at := parseTime(r.RedeemedAt.String)
		reward.RedeemedAt = &at
	}
	return reward
}

// RewardFilter narrows ListRewards. Nil means any.
type RewardFilter struct {
	IsRedeemed *bool
}

// RewardUpdate is a partial update. The redeemed flag is not part of it.
type RewardUpdate struct {
	Name            *string
	Description     *string
	Cost            *int
	ImageCollection *[]string
}

func validateReward(r economy.Reward) error {
	switch {
	case strings.TrimSpace(r.Name) == "":
		return &economy.InvalidArgumentError{Field: "name", Reason: "must not be empty"}
	case strings.TrimSpace(r.Description) == "":
		return &economy.InvalidArgumentError{Field: "description", Reason: "must not be empty"}
	case r.Cost <= 0:
		return &economy.InvalidArgumentError{Field: "cost", Reason: fmt.Sprintf("must be positive, got %d", r.Cost)}
	case len(r.ImageCollection) == 0:
		return &economy.InvalidArgumentError{Field: "image_collection", Reason: "at least one image is required"}
	}
	return nil
}

// =============================================================================
// REWARD CRUD
// =============================================================================

// CreateReward inserts a new, unredeemed reward.
func (s *Store) CreateReward(ctx context.Context, reward economy.Reward) (economy.Reward, error) {
	if err := validateReward(reward); err != nil {
		return economy.Reward{}, err
	}
	if reward.ID == "" {
		reward.ID = economy.RewardID(uuid.New().String())
	}
	if reward.CreatedAt.IsZero() {
		reward.CreatedAt = time.Now().UTC()
	}
	images, err := json.Marshal(reward.ImageCollection)
	if err != nil {
		return economy.Reward{}, fmt.Errorf("failed to encode images: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rewards (id, name, description, cost, image_collection_json, is_redeemed, redeemed_at, created_at)
		VALUES (?, ?, ?, ?, ?, 0, NULL, ?)`,
		reward.ID, reward.Name, reward.Description, reward.Cost, string(images), formatTime(reward.CreatedAt),
	)
	if err != nil {
		return economy.Reward{}, fmt.Errorf("failed to create reward: %w", err)
	}
	return getReward(ctx, s.db, reward.ID)
}

func (s *Store) GetReward(ctx context.Context, id economy.RewardID) (economy.Reward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getReward(ctx, s.db, id)
}

// ListRewards returns rewards in creation order.
func (s *Store) ListRewards(ctx context.Context, filter RewardFilter) ([]economy.Reward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + rewardColumns + " FROM rewards"
	var args []any
	if filter.IsRedeemed != nil {
		query += " WHERE is_redeemed = ?"
		args = append(args, *filter.IsRedeemed)
	}
	query += " ORDER BY created_at, rowid"

	var rows []rewardRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list rewards: %w", err)
	}
	rewards := make([]economy.Reward, len(rows))
	for i, r := range rows {
		rewards[i] = r.toReward()
	}
	return rewards, nil
}

// UpdateReward applies a partial update.
func (s *Store) UpdateReward(ctx context.Context, id economy.RewardID, u RewardUpdate) (economy.Reward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated economy.Reward
	err := s.withTxLocked(ctx, func(tx *sqlx.Tx) error {
		reward, err := getReward(ctx, tx, id)
		if err != nil {
			return err
		}
		if u.Name != nil {
			reward.Name = *u.Name
		}
		if u.Description != nil {
			reward.Description = *u.Description
		}
		if u.Cost != nil {
			reward.Cost = *u.Cost
		}
		if u.ImageCollection != nil {
			reward.ImageCollection = *u.ImageCollection
		}
		if err := validateReward(reward); err != nil {
			return err
		}
		images, err := json.Marshal(reward.ImageCollection)
		if err != nil {
			return fmt.Errorf("failed to encode images: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE rewards SET name = ?, description = ?, cost = ?, image_collection_json = ?
			WHERE id = ?`,
			reward.Name, reward.Description, reward.Cost, string(images), id,
		)
		if err != nil {
			return fmt.Errorf("failed to update reward %s: %w", id, err)
		}
		updated, err = getReward(ctx, tx, id)
		return err
	})
	return updated, err
}

// DeleteReward removes a reward. Tasks it locked stay locked.
func (s *Store) DeleteReward(ctx context.Context, id economy.RewardID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM rewards WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete reward %s: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return economy.NotFoundf("reward", id)
	}
	return nil
}

// MarkRewardRedeemed sets the redeemed flag and timestamp.
func (s *Store) MarkRewardRedeemed(ctx context.Context, id economy.RewardID, at time.Time) (economy.Reward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markRewardRedeemed(ctx, s.db, id, at)
}

// =============================================================================
// QUERIES - Shared by Store and txStore
// =============================================================================

func getReward(ctx context.Context, q sqlx.QueryerContext, id economy.RewardID) (economy.Reward, error) {
	var row rewardRow
	err := sqlx.GetContext(ctx, q, &row, "SELECT "+rewardColumns+" FROM rewards WHERE id = ?", id)
	if isNoRows(err) {
		return economy.Reward{}, economy.NotFoundf("reward", id)
	}
	if err != nil {
		return economy.Reward{}, fmt.Errorf("failed to get reward %s: %w", id, err)
	}
	return row.toReward(), nil
}

func markRewardRedeemed(ctx context.Context, q sqlx.ExtContext, id economy.RewardID, at time.Time) (economy.Reward, error) {
	res, err := q.ExecContext(ctx,
		"UPDATE rewards SET is_redeemed = 1, redeemed_at = ? WHERE id = ?",
		nullTime(&at), id)
	if err != nil {
		return economy.Reward{}, fmt.Errorf("failed to redeem reward %s: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return economy.Reward{}, economy.NotFoundf("reward", id)
	}
	return getReward(ctx, q, id)
}

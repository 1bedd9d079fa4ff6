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
// IDENTITY STORE
// =============================================================================

type identityRow struct {
	ID             string `db:"id"`
	Name           string `db:"name"`
	Description    string `db:"description"`
	RequiredPoints int    `db:"required_points"`
	IsActive       bool   `db:"is_active"`
	CreatedAt      string `db:"created_at"`
}

func (r identityRow) toIdentity() economy.Identity {
	return economy.Identity{
		ID:             economy.IdentityID(r.ID),
		Name:           r.Name,
		Description:    r.Description,
		RequiredPoints: r.RequiredPoints,
		IsActive:       r.IsActive,
		CreatedAt:      parseTime(r.CreatedAt),
	}
}

// IdentityUpdate is a partial update. Nil fields are left unchanged.
type IdentityUpdate struct {
	Name           *string
	Description    *string
	RequiredPoints *int
	IsActive       *bool
}

// CreateIdentity inserts an identity. An empty ID is generated.
func (s *Store) CreateIdentity(ctx context.Context, identity economy.Identity) (economy.Identity, error) {
	if strings.TrimSpace(identity.Name) == "" {
		return economy.Identity{}, &economy.InvalidArgumentError{Field: "name", Reason: "must not be empty"}
	}
	if identity.RequiredPoints < 0 {
		return economy.Identity{}, &economy.InvalidArgumentError{Field: "required_points", Reason: "must not be negative"}
	}
	if identity.ID == "" {
		identity.ID = economy.IdentityID(uuid.New().String())
	}
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (id, name, description, required_points, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		identity.ID, identity.Name, identity.Description, identity.RequiredPoints,
		identity.IsActive, formatTime(identity.CreatedAt),
	)
	if err != nil {
		return economy.Identity{}, fmt.Errorf("failed to create identity: %w", err)
	}
	return getIdentity(ctx, s.db, identity.ID)
}

func (s *Store) GetIdentity(ctx context.Context, id economy.IdentityID) (economy.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getIdentity(ctx, s.db, id)
}

// ListIdentities returns identities in creation order.
func (s *Store) ListIdentities(ctx context.Context) ([]economy.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []identityRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, description, required_points, is_active, created_at
		FROM identities ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	identities := make([]economy.Identity, len(rows))
	for i, r := range rows {
		identities[i] = r.toIdentity()
	}
	return identities, nil
}

func (s *Store) UpdateIdentity(ctx context.Context, id economy.IdentityID, u IdentityUpdate) (economy.Identity, error) {
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return economy.Identity{}, &economy.InvalidArgumentError{Field: "name", Reason: "must not be empty"}
	}
	if u.RequiredPoints != nil && *u.RequiredPoints < 0 {
		return economy.Identity{}, &economy.InvalidArgumentError{Field: "required_points", Reason: "must not be negative"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var updated economy.Identity
	err := s.withTxLocked(ctx, func(tx *sqlx.Tx) error {
		identity, err := getIdentity(ctx, tx, id)
		if err != nil {
			return err
		}
		if u.Name != nil {
			identity.Name = *u.Name
		}
		if u.Description != nil {
			identity.Description = *u.Description
		}
		if u.RequiredPoints != nil {
			identity.RequiredPoints = *u.RequiredPoints
		}
		if u.IsActive != nil {
			identity.IsActive = *u.IsActive
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE identities SET name = ?, description = ?, required_points = ?, is_active = ?
			WHERE id = ?`,
			identity.Name, identity.Description, identity.RequiredPoints, identity.IsActive, id,
		)
		if err != nil {
			return fmt.Errorf("failed to update identity %s: %w", id, err)
		}
		updated, err = getIdentity(ctx, tx, id)
		return err
	})
	return updated, err
}

// DeleteIdentity removes an identity. Its tasks cascade.
func (s *Store) DeleteIdentity(ctx context.Context, id economy.IdentityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM identities WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete identity %s: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return economy.NotFoundf("identity", id)
	}
	return nil
}

func getIdentity(ctx context.Context, q sqlx.QueryerContext, id economy.IdentityID) (economy.Identity, error) {
	var row identityRow
	err := sqlx.GetContext(ctx, q, &row, `
		SELECT id, name, description, required_points, is_active, created_at
		FROM identities WHERE id = ?`, id)
	if isNoRows(err) {
		return economy.Identity{}, economy.NotFoundf("identity", id)
	}
	if err != nil {
		return economy.Identity{}, fmt.Errorf("failed to get identity %s: %w", id, err)
	}
	return row.toIdentity(), nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/medidir/medidir/internal/auth"
)

// RedirectRepository implements auth.RedirectRepository using PostgreSQL.
type RedirectRepository struct {
	db DB
}

// NewRedirectRepository creates a new RedirectRepository.
func NewRedirectRepository(db DB) *RedirectRepository {
	return &RedirectRepository{db: db}
}

// Resolve returns the user id that oldID was merged into.
func (r *RedirectRepository) Resolve(ctx context.Context, oldID int64) (int64, error) {
	var newID int64
	err := conn(ctx, r.db).QueryRow(ctx,
		`SELECT new_id FROM user_redirects WHERE old_id = $1`, oldID).Scan(&newID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, oops.Code("REDIRECT_NOT_FOUND").With("user_id", oldID).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return 0, oops.Code("REDIRECT_GET_FAILED").With("user_id", oldID).Wrap(err)
	}
	return newID, nil
}

// Collapse re-points redirects that target from so they target to, keeping
// every chain one hop long.
func (r *RedirectRepository) Collapse(ctx context.Context, from, to int64) (int64, error) {
	tag, err := conn(ctx, r.db).Exec(ctx,
		`UPDATE user_redirects SET new_id = $2 WHERE new_id = $1`, from, to)
	if err != nil {
		return 0, oops.Code("REDIRECT_UPDATE_FAILED").
			With("from_user_id", from).
			With("to_user_id", to).
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// Add records oldID -> newID, replacing any earlier target.
func (r *RedirectRepository) Add(ctx context.Context, oldID, newID int64) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO user_redirects (old_id, new_id) VALUES ($1, $2)
		ON CONFLICT (old_id) DO UPDATE SET new_id = EXCLUDED.new_id
	`, oldID, newID)
	if err != nil {
		return oops.Code("REDIRECT_CREATE_FAILED").
			With("from_user_id", oldID).
			With("to_user_id", newID).
			Wrap(err)
	}
	return nil
}

var _ auth.RedirectRepository = (*RedirectRepository)(nil)

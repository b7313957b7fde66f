// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/medidir/medidir/internal/auth"
)

const tokenColumns = `id, user_id, kind, token_hash, new_email, created_at, expires_at,
	used_at, revoked_at`

// TokenRepository implements auth.TokenRepository using PostgreSQL.
type TokenRepository struct {
	db DB
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(db DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Create stores a new token.
func (r *TokenRepository) Create(ctx context.Context, token *auth.SecurityToken) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO security_tokens (`+tokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		token.ID.String(),
		token.UserID,
		string(token.Kind),
		token.TokenHash,
		token.NewEmail,
		token.CreatedAt,
		token.ExpiresAt,
		token.UsedAt,
		token.RevokedAt,
	)
	if err != nil {
		return oops.Code("TOKEN_CREATE_FAILED").
			With("operation", "insert token").
			With("user_id", token.UserID).
			With("kind", token.Kind).
			Wrap(err)
	}
	return nil
}

// RevokeOutstanding marks every live token of the kind for the user revoked.
func (r *TokenRepository) RevokeOutstanding(ctx context.Context, userID int64, kind auth.TokenKind, now time.Time) (int64, error) {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE security_tokens SET revoked_at = $3
		WHERE user_id = $1 AND kind = $2 AND used_at IS NULL AND revoked_at IS NULL
	`, userID, string(kind), now)
	if err != nil {
		return 0, oops.Code("TOKEN_REVOKE_FAILED").
			With("user_id", userID).
			With("kind", kind).
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// GetByHash retrieves a token regardless of its state.
func (r *TokenRepository) GetByHash(ctx context.Context, tokenHash string) (*auth.SecurityToken, error) {
	row := conn(ctx, r.db).QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM security_tokens WHERE token_hash = $1`, tokenHash)

	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_GET_FAILED").Wrap(err)
	}
	return token, nil
}

// Consume marks a live token used in one conditional UPDATE. Of several
// concurrent callers presenting the same token, exactly one gets a row back.
func (r *TokenRepository) Consume(ctx context.Context, tokenHash string, kind auth.TokenKind, now time.Time) (*auth.SecurityToken, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		UPDATE security_tokens SET used_at = $3
		WHERE token_hash = $1
		  AND kind = $2
		  AND used_at IS NULL
		  AND revoked_at IS NULL
		  AND expires_at > $3
		RETURNING `+tokenColumns,
		tokenHash, string(kind), now)

	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_CONSUMABLE").With("kind", kind).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_CONSUME_FAILED").With("kind", kind).Wrap(err)
	}
	return token, nil
}

// DeleteByUser removes every token of a user.
func (r *TokenRepository) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	tag, err := conn(ctx, r.db).Exec(ctx, `DELETE FROM security_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return 0, oops.Code("TOKEN_DELETE_FAILED").With("user_id", userID).Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes tokens that can no longer be consumed.
func (r *TokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		DELETE FROM security_tokens
		WHERE expires_at <= $1 OR used_at IS NOT NULL OR revoked_at IS NOT NULL
	`, now)
	if err != nil {
		return 0, oops.Code("TOKEN_PURGE_FAILED").Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func scanToken(row pgx.Row) (*auth.SecurityToken, error) {
	var (
		idStr string
		kind  string
		token auth.SecurityToken
	)
	if err := row.Scan(
		&idStr,
		&token.UserID,
		&kind,
		&token.TokenHash,
		&token.NewEmail,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.UsedAt,
		&token.RevokedAt,
	); err != nil {
		return nil, err
	}
	id, err := parseULID(idStr, "token_id")
	if err != nil {
		return nil, err
	}
	token.ID = id
	token.Kind = auth.TokenKind(kind)
	return &token, nil
}

var _ auth.TokenRepository = (*TokenRepository)(nil)

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/medidir/medidir/internal/auth"
)

const identityColumns = `id, user_id, provider, external_id, access_token, refresh_token,
	token_expiry, created_at, updated_at`

// IdentityRepository implements auth.IdentityRepository using PostgreSQL.
type IdentityRepository struct {
	db DB
}

// NewIdentityRepository creates a new IdentityRepository.
func NewIdentityRepository(db DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// Create stores a new identity.
func (r *IdentityRepository) Create(ctx context.Context, identity *auth.ExternalIdentity) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO user_identities (`+identityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		identity.ID.String(),
		identity.UserID,
		string(identity.Provider),
		identity.ExternalID,
		identity.AccessToken,
		identity.RefreshToken,
		identity.TokenExpiry,
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("IDENTITY_CREATE_FAILED").
				With("provider", identity.Provider).
				With("user_id", identity.UserID).
				Wrap(auth.ErrAlreadyExists)
		}
		return oops.Code("IDENTITY_CREATE_FAILED").
			With("operation", "insert identity").
			With("provider", identity.Provider).
			Wrap(err)
	}
	return nil
}

// GetByExternalID retrieves the identity for a provider account.
func (r *IdentityRepository) GetByExternalID(ctx context.Context, provider auth.Provider, externalID string) (*auth.ExternalIdentity, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+identityColumns+` FROM user_identities
		WHERE provider = $1 AND external_id = $2
	`, string(provider), externalID)

	identity, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("IDENTITY_NOT_FOUND").With("provider", provider).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("IDENTITY_GET_FAILED").With("provider", provider).Wrap(err)
	}
	return identity, nil
}

// ListByUser returns the identities of a user, oldest first.
func (r *IdentityRepository) ListByUser(ctx context.Context, userID int64) ([]*auth.ExternalIdentity, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `
		SELECT `+identityColumns+` FROM user_identities
		WHERE user_id = $1
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, oops.Code("IDENTITY_LIST_FAILED").With("user_id", userID).Wrap(err)
	}
	defer rows.Close()

	var identities []*auth.ExternalIdentity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, oops.Code("IDENTITY_LIST_FAILED").With("user_id", userID).Wrap(err)
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("IDENTITY_LIST_FAILED").With("user_id", userID).Wrap(err)
	}
	return identities, nil
}

// UpdateTokens replaces the cached provider tokens.
func (r *IdentityRepository) UpdateTokens(ctx context.Context, id ulid.ULID, accessToken, refreshToken string, expiry *time.Time) error {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE user_identities
		SET access_token = $2, refresh_token = $3, token_expiry = $4, updated_at = NOW()
		WHERE id = $1
	`, id.String(), accessToken, refreshToken, expiry)
	if err != nil {
		return oops.Code("IDENTITY_UPDATE_FAILED").With("identity_id", id.String()).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("IDENTITY_NOT_FOUND").With("identity_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete unlinks a provider from a user.
func (r *IdentityRepository) Delete(ctx context.Context, userID int64, provider auth.Provider) error {
	tag, err := conn(ctx, r.db).Exec(ctx,
		`DELETE FROM user_identities WHERE user_id = $1 AND provider = $2`, userID, string(provider))
	if err != nil {
		return oops.Code("IDENTITY_DELETE_FAILED").
			With("user_id", userID).
			With("provider", provider).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("IDENTITY_NOT_FOUND").
			With("user_id", userID).
			With("provider", provider).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Reassign moves every identity of from to to.
func (r *IdentityRepository) Reassign(ctx context.Context, from, to int64) (int64, error) {
	tag, err := conn(ctx, r.db).Exec(ctx,
		`UPDATE user_identities SET user_id = $2, updated_at = NOW() WHERE user_id = $1`, from, to)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, oops.Code("IDENTITY_REASSIGN_FAILED").
				With("from_user_id", from).
				With("to_user_id", to).
				Wrap(auth.ErrAlreadyExists)
		}
		return 0, oops.Code("IDENTITY_REASSIGN_FAILED").
			With("from_user_id", from).
			With("to_user_id", to).
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func scanIdentity(row pgx.Row) (*auth.ExternalIdentity, error) {
	var (
		idStr    string
		provider string
		identity auth.ExternalIdentity
	)
	if err := row.Scan(
		&idStr,
		&identity.UserID,
		&provider,
		&identity.ExternalID,
		&identity.AccessToken,
		&identity.RefreshToken,
		&identity.TokenExpiry,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	); err != nil {
		return nil, err
	}
	id, err := parseULID(idStr, "identity_id")
	if err != nil {
		return nil, err
	}
	identity.ID = id
	identity.Provider = auth.Provider(provider)
	return &identity, nil
}

var _ auth.IdentityRepository = (*IdentityRepository)(nil)

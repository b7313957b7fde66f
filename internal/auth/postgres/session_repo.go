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

const sessionColumns = `id, user_id, token_hash, user_agent, ip_address, expires_at, created_at`

// SessionRepository implements auth.SessionRepository using PostgreSQL.
type SessionRepository struct {
	db DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create stores a new session.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		session.ID.String(),
		session.UserID,
		session.TokenHash,
		session.UserAgent,
		session.IPAddress,
		session.ExpiresAt,
		session.CreatedAt,
	)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("user_id", session.UserID).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a session by its token hash, expired or not.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	row := conn(ctx, r.db).QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE token_hash = $1`, tokenHash)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").With("operation", "get by token hash").Wrap(err)
	}
	return session, nil
}

// ListByUser returns the unexpired sessions of a user, newest first.
func (r *SessionRepository) ListByUser(ctx context.Context, userID int64, now time.Time) ([]*auth.Session, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND expires_at > $2
		ORDER BY created_at DESC, id DESC
	`, userID, now)
	if err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").With("user_id", userID).Wrap(err)
	}
	defer rows.Close()

	var sessions []*auth.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, oops.Code("SESSION_LIST_FAILED").With("user_id", userID).Wrap(err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").With("user_id", userID).Wrap(err)
	}
	return sessions, nil
}

// DeleteByTokenHash removes the session with the given token hash.
func (r *SessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	tag, err := conn(ctx, r.db).Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").With("operation", "delete by token hash").Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteForUser removes one session if userID owns it.
func (r *SessionRepository) DeleteForUser(ctx context.Context, userID int64, id ulid.ULID) error {
	tag, err := conn(ctx, r.db).Exec(ctx,
		`DELETE FROM sessions WHERE id = $1 AND user_id = $2`, id.String(), userID)
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("session_id", id.String()).
			With("user_id", userID).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("session_id", id.String()).
			With("user_id", userID).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteByUserExcept removes every session of a user except keepID.
func (r *SessionRepository) DeleteByUserExcept(ctx context.Context, userID int64, keepID ulid.ULID) (int64, error) {
	tag, err := conn(ctx, r.db).Exec(ctx,
		`DELETE FROM sessions WHERE user_id = $1 AND id <> $2`, userID, keepID.String())
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete others").
			With("user_id", userID).
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteByUser removes every session of a user.
func (r *SessionRepository) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	tag, err := conn(ctx, r.db).Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete all").
			With("user_id", userID).
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes sessions that expired at or before now.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := conn(ctx, r.db).Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("SESSION_PURGE_FAILED").Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func scanSession(row pgx.Row) (*auth.Session, error) {
	var (
		idStr   string
		session auth.Session
	)
	if err := row.Scan(
		&idStr,
		&session.UserID,
		&session.TokenHash,
		&session.UserAgent,
		&session.IPAddress,
		&session.ExpiresAt,
		&session.CreatedAt,
	); err != nil {
		return nil, err
	}
	id, err := parseULID(idStr, "session_id")
	if err != nil {
		return nil, err
	}
	session.ID = id
	return &session, nil
}

var _ auth.SessionRepository = (*SessionRepository)(nil)

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

const userColumns = `id, email, password_hash, display_name, locale, email_verified,
	is_admin, primary_provider, created_at, updated_at`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	db DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user and sets user.ID from the generated key.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	err := conn(ctx, r.db).QueryRow(ctx, `
		INSERT INTO users (
			email, password_hash, display_name, locale, email_verified,
			is_admin, primary_provider, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`,
		user.Email,
		user.PasswordHash,
		user.DisplayName,
		user.Locale,
		user.EmailVerified,
		user.IsAdmin,
		string(user.PrimaryProvider),
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("USER_CREATE_FAILED").With("email", user.Email).Wrap(auth.ErrAlreadyExists)
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*auth.User, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return r.scanOne(row, "USER_GET_FAILED", "user_id", id)
}

// GetByIDForUpdate retrieves a user by ID with a row lock held until the
// surrounding transaction ends.
func (r *UserRepository) GetByIDForUpdate(ctx context.Context, id int64) (*auth.User, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
	return r.scanOne(row, "USER_LOCK_FAILED", "user_id", id)
}

// GetByEmail retrieves a user by email, ignoring case.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
	return r.scanOne(row, "USER_GET_FAILED", "email", email)
}

// Update writes the mutable fields of a user.
func (r *UserRepository) Update(ctx context.Context, user *auth.User) error {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE users SET
			password_hash = $2,
			display_name = $3,
			locale = $4,
			email_verified = $5,
			is_admin = $6,
			primary_provider = $7,
			updated_at = $8
		WHERE id = $1
	`,
		user.ID,
		user.PasswordHash,
		user.DisplayName,
		user.Locale,
		user.EmailVerified,
		user.IsAdmin,
		string(user.PrimaryProvider),
		user.UpdatedAt,
	)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update user").
			With("user_id", user.ID).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("user_id", user.ID).Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdatePassword replaces the password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	return r.exec(ctx, "update password", id,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, passwordHash)
}

// MarkEmailVerified sets the email-verified flag.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, id int64) error {
	return r.exec(ctx, "mark email verified", id,
		`UPDATE users SET email_verified = TRUE, updated_at = NOW() WHERE id = $1`, id)
}

// UpdateEmail replaces the email and marks it verified.
func (r *UserRepository) UpdateEmail(ctx context.Context, id int64, email string) error {
	err := r.exec(ctx, "update email", id,
		`UPDATE users SET email = $2, email_verified = TRUE, updated_at = NOW() WHERE id = $1`, id, email)
	if err != nil && isUniqueViolation(err) {
		return oops.Code("USER_UPDATE_FAILED").With("user_id", id).Wrap(auth.ErrAlreadyExists)
	}
	return err
}

// UpdateDisplayName sets the display name.
func (r *UserRepository) UpdateDisplayName(ctx context.Context, id int64, displayName string) error {
	return r.exec(ctx, "update display name", id,
		`UPDATE users SET display_name = $2, updated_at = NOW() WHERE id = $1`, id, displayName)
}

// UpdateLocale sets the preferred locale.
func (r *UserRepository) UpdateLocale(ctx context.Context, id int64, locale string) error {
	return r.exec(ctx, "update locale", id,
		`UPDATE users SET locale = $2, updated_at = NOW() WHERE id = $1`, id, locale)
}

// SetPrimaryProvider sets or clears the primary provider.
func (r *UserRepository) SetPrimaryProvider(ctx context.Context, id int64, provider auth.Provider) error {
	return r.exec(ctx, "set primary provider", id,
		`UPDATE users SET primary_provider = $2, updated_at = NOW() WHERE id = $1`, id, string(provider))
}

// Delete removes a user. Identities, sessions, tokens and associations go
// with it through ON DELETE CASCADE.
func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	return r.exec(ctx, "delete user", id, `DELETE FROM users WHERE id = $1`, id)
}

func (r *UserRepository) exec(ctx context.Context, op string, id int64, sql string, args ...any) error {
	tag, err := conn(ctx, r.db).Exec(ctx, sql, args...)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", op).
			With("user_id", id).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(auth.ErrNotFound)
	}
	return nil
}

func (r *UserRepository) scanOne(row pgx.Row, code, key string, value any) (*auth.User, error) {
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With(key, value).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code(code).With(key, value).Wrap(err)
	}
	return user, nil
}

func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		u        auth.User
		provider string
	)
	if err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.DisplayName,
		&u.Locale,
		&u.EmailVerified,
		&u.IsAdmin,
		&provider,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	u.PrimaryProvider = auth.Provider(provider)
	return &u, nil
}

var _ auth.UserRepository = (*UserRepository)(nil)

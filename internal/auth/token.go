// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenKind is the purpose of a single-use security token.
type TokenKind string

// Token kinds.
const (
	TokenPasswordReset     TokenKind = "password_reset"
	TokenEmailVerification TokenKind = "email_verification"
	TokenEmailChange       TokenKind = "email_change"
)

// Default lifetimes per kind.
const (
	DefaultPasswordResetTTL     = time.Hour
	DefaultEmailVerificationTTL = 24 * time.Hour
	DefaultEmailChangeTTL       = time.Hour
)

// Valid reports whether k is a known kind.
func (k TokenKind) Valid() bool {
	switch k {
	case TokenPasswordReset, TokenEmailVerification, TokenEmailChange:
		return true
	}
	return false
}

// SecurityToken is a stored single-use token. Its state is
// issued -> consumed | expired | superseded.
type SecurityToken struct {
	ID        ulid.ULID
	UserID    int64
	Kind      TokenKind
	TokenHash string `json:"-"`
	NewEmail  string // email_change only
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
	RevokedAt *time.Time
}

// NewSecurityToken creates a validated SecurityToken.
func NewSecurityToken(userID int64, kind TokenKind, tokenHash, newEmail string, createdAt, expiresAt time.Time) (*SecurityToken, error) {
	if userID <= 0 {
		return nil, oops.Code("TOKEN_INVALID_USER").Errorf("user ID must be positive")
	}
	if !kind.Valid() {
		return nil, oops.Code("TOKEN_INVALID_KIND").With("kind", string(kind)).Errorf("unknown token kind")
	}
	if tokenHash == "" {
		return nil, oops.Code("TOKEN_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if kind == TokenEmailChange && newEmail == "" {
		return nil, oops.Code("TOKEN_INVALID_PAYLOAD").Errorf("email change token requires a new email")
	}
	if !expiresAt.After(createdAt) {
		return nil, oops.Code("TOKEN_INVALID_EXPIRY").Errorf("expiry must be after creation")
	}
	return &SecurityToken{
		ID:        ulid.Make(),
		UserID:    userID,
		Kind:      kind,
		TokenHash: tokenHash,
		NewEmail:  newEmail,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}

// RejectionAt returns why the token cannot be consumed at t, or "" if it can.
func (t *SecurityToken) RejectionAt(now time.Time) string {
	switch {
	case t.UsedAt != nil:
		return ReasonUsed
	case t.RevokedAt != nil:
		return ReasonSuperseded
	case !now.Before(t.ExpiresAt):
		return ReasonExpired
	}
	return ""
}

// TokenRepository manages security token persistence.
type TokenRepository interface {
	// Create stores a new token.
	Create(ctx context.Context, token *SecurityToken) error

	// RevokeOutstanding marks every unused, unrevoked token of the kind for
	// the user as revoked at now and returns the count.
	RevokeOutstanding(ctx context.Context, userID int64, kind TokenKind, now time.Time) (int64, error)

	// GetByHash retrieves a token regardless of its state.
	GetByHash(ctx context.Context, tokenHash string) (*SecurityToken, error)

	// Consume marks the token used at now if and only if it has the kind, is
	// unused, unrevoked and unexpired, in a single conditional write.
	// Returns ErrNotFound when no row qualified.
	Consume(ctx context.Context, tokenHash string, kind TokenKind, now time.Time) (*SecurityToken, error)

	// DeleteByUser removes every token of a user.
	DeleteByUser(ctx context.Context, userID int64) (int64, error)

	// DeleteExpired removes tokens that expired or were used or revoked
	// before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

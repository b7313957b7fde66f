// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Opaque token configuration shared by sessions and security tokens.
const (
	TokenBytes        = 32                  // 32 bytes = 64 hex chars
	DefaultSessionTTL = 30 * 24 * time.Hour // fixed at issuance, never slides
)

// Session is a signed-in browser or API client.
type Session struct {
	ID        ulid.ULID
	UserID    int64
	TokenHash string `json:"-"`
	UserAgent string
	IPAddress string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewSession creates a validated Session.
// UserAgent and IPAddress are optional and may be empty.
func NewSession(userID int64, tokenHash, userAgent, ipAddress string, createdAt, expiresAt time.Time) (*Session, error) {
	if userID <= 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID must be positive")
	}
	if tokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if !expiresAt.After(createdAt) {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("expiry must be after creation")
	}
	return &Session{
		ID:        ulid.Make(),
		UserID:    userID,
		TokenHash: tokenHash,
		UserAgent: userAgent,
		IPAddress: ipAddress,
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
	}, nil
}

// IsExpiredAt returns true if the session is expired at t.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// SessionInfo is a session as shown to its owner.
type SessionInfo struct {
	*Session
	Current bool
}

// GenerateToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error).
// The plaintext goes to the client; only the hash is stored.
func GenerateToken() (token, hash string, err error) {
	tokenBytes := make([]byte, TokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", TokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	return token, HashToken(token), nil
}

// HashToken computes the SHA256 hash of an opaque token.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// SessionRepository manages session persistence.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// GetByTokenHash retrieves a session by its token hash, expired or not.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// ListByUser returns the sessions of a user that are unexpired at now,
	// newest first.
	ListByUser(ctx context.Context, userID int64, now time.Time) ([]*Session, error)

	// DeleteByTokenHash removes the session with the given token hash.
	DeleteByTokenHash(ctx context.Context, tokenHash string) error

	// DeleteForUser removes one session, only if userID owns it.
	DeleteForUser(ctx context.Context, userID int64, id ulid.ULID) error

	// DeleteByUserExcept removes every session of a user except keepID and
	// returns the count.
	DeleteByUserExcept(ctx context.Context, userID int64, keepID ulid.ULID) (int64, error)

	// DeleteByUser removes every session of a user and returns the count.
	DeleteByUser(ctx context.Context, userID int64) (int64, error)

	// DeleteExpired removes sessions expired at now and returns the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

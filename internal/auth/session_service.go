// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SessionStore mints, resolves and revokes sessions.
type SessionStore struct {
	users    UserRepository
	sessions SessionRepository
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionStore creates a SessionStore. A non-positive ttl uses
// DefaultSessionTTL.
func NewSessionStore(users UserRepository, sessions SessionRepository, ttl time.Duration, opts ...Option) (*SessionStore, error) {
	if users == nil {
		return nil, oops.Errorf("user repository is required")
	}
	if sessions == nil {
		return nil, oops.Errorf("session repository is required")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	o := buildOptions(opts)
	return &SessionStore{users: users, sessions: sessions, ttl: ttl, now: o.now}, nil
}

// TTL returns the fixed session lifetime.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Create mints a session for userID. Prior sessions are left alone.
// Returns the session and the plaintext token for the cookie.
func (s *SessionStore) Create(ctx context.Context, userID int64, userAgent, ipAddress string) (*Session, string, error) {
	token, hash, err := GenerateToken()
	if err != nil {
		return nil, "", oops.Code("SESSION_CREATE_FAILED").With("operation", "generate token").Wrap(err)
	}
	now := s.now()
	session, err := NewSession(userID, hash, userAgent, ipAddress, now, now.Add(s.ttl))
	if err != nil {
		return nil, "", err
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, "", oops.Code("SESSION_CREATE_FAILED").
			With("operation", "persist session").
			With("user_id", userID).
			Wrap(err)
	}
	return session, token, nil
}

// Resolve returns the live user behind a session token. Missing sessions
// yield SESSION_INVALID and expired ones SESSION_EXPIRED.
func (s *SessionStore) Resolve(ctx context.Context, token string) (*User, *Session, error) {
	if token == "" {
		return nil, nil, oops.Code(CodeSessionInvalid).Errorf("session token cannot be empty")
	}
	session, err := s.sessions.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, oops.Code(CodeSessionInvalid).Errorf("invalid session token")
		}
		return nil, nil, oops.Code("SESSION_RESOLVE_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}
	if session.IsExpiredAt(s.now()) {
		return nil, nil, oops.Code(CodeSessionExpired).
			With("session_id", session.ID.String()).
			Errorf("session has expired")
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, oops.Code(CodeSessionInvalid).
				With("session_id", session.ID.String()).
				Errorf("session owner no longer exists")
		}
		return nil, nil, oops.Code("SESSION_RESOLVE_FAILED").
			With("operation", "get user").
			With("user_id", session.UserID).
			Wrap(err)
	}
	return user, session, nil
}

// Revoke deletes the session behind token. Unknown tokens are not an error.
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	err := s.sessions.DeleteByTokenHash(ctx, HashToken(token))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("SESSION_REVOKE_FAILED").Wrap(err)
	}
	return nil
}

// RevokeByID deletes one of the user's sessions. Sessions of other users
// are reported as not found.
func (s *SessionStore) RevokeByID(ctx context.Context, userID int64, sessionID ulid.ULID) error {
	err := s.sessions.DeleteForUser(ctx, userID, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code(CodeSessionNotFound).
				With("session_id", sessionID.String()).
				Errorf("session not found")
		}
		return oops.Code("SESSION_REVOKE_FAILED").
			With("user_id", userID).
			With("session_id", sessionID.String()).
			Wrap(err)
	}
	return nil
}

// RevokeAllExcept deletes every session of the user except keepID and
// returns how many were removed.
func (s *SessionStore) RevokeAllExcept(ctx context.Context, userID int64, keepID ulid.ULID) (int64, error) {
	n, err := s.sessions.DeleteByUserExcept(ctx, userID, keepID)
	if err != nil {
		return 0, oops.Code("SESSION_REVOKE_FAILED").
			With("user_id", userID).
			With("operation", "revoke all except").
			Wrap(err)
	}
	return n, nil
}

// RevokeAll deletes every session of the user.
func (s *SessionStore) RevokeAll(ctx context.Context, userID int64) (int64, error) {
	n, err := s.sessions.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, oops.Code("SESSION_REVOKE_FAILED").
			With("user_id", userID).
			With("operation", "revoke all").
			Wrap(err)
	}
	return n, nil
}

// List returns the user's live sessions, flagging currentID.
func (s *SessionStore) List(ctx context.Context, userID int64, currentID ulid.ULID) ([]SessionInfo, error) {
	sessions, err := s.sessions.ListByUser(ctx, userID, s.now())
	if err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").With("user_id", userID).Wrap(err)
	}
	infos := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, SessionInfo{Session: sess, Current: sess.ID == currentID})
	}
	return infos, nil
}

// PurgeExpired deletes expired sessions. Expired rows are rejected by
// Resolve whether or not this ever runs.
func (s *SessionStore) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.sessions.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, oops.Code("SESSION_PURGE_FAILED").Wrap(err)
	}
	return n, nil
}

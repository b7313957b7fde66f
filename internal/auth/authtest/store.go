// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

// Package authtest provides an in-memory implementation of the auth
// repositories for service and handler tests.
package authtest

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/medidir/medidir/internal/auth"
)

type assocKey struct {
	userID int64
	kind   auth.AssociationKind
}

type state struct {
	nextUserID   int64
	users        map[int64]auth.User
	identities   map[ulid.ULID]auth.ExternalIdentity
	sessions     map[ulid.ULID]auth.Session
	tokens       map[ulid.ULID]auth.SecurityToken
	redirects    map[int64]int64
	associations map[assocKey][]int64
}

func (s *state) clone() *state {
	c := &state{
		nextUserID:   s.nextUserID,
		users:        make(map[int64]auth.User, len(s.users)),
		identities:   make(map[ulid.ULID]auth.ExternalIdentity, len(s.identities)),
		sessions:     make(map[ulid.ULID]auth.Session, len(s.sessions)),
		tokens:       make(map[ulid.ULID]auth.SecurityToken, len(s.tokens)),
		redirects:    make(map[int64]int64, len(s.redirects)),
		associations: make(map[assocKey][]int64, len(s.associations)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.identities {
		c.identities[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	for k, v := range s.redirects {
		c.redirects[k] = v
	}
	for k, v := range s.associations {
		c.associations[k] = slices.Clone(v)
	}
	return c
}

// Store holds every table in memory. Transactions are serialized and roll
// back by restoring a snapshot, which is enough to observe atomicity in
// tests.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   *state

	// FailOn makes the named operation return the given error once.
	failMu sync.Mutex
	failOn map[string]error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		st: &state{
			users:        map[int64]auth.User{},
			identities:   map[ulid.ULID]auth.ExternalIdentity{},
			sessions:     map[ulid.ULID]auth.Session{},
			tokens:       map[ulid.ULID]auth.SecurityToken{},
			redirects:    map[int64]int64{},
			associations: map[assocKey][]int64{},
		},
		failOn: map[string]error{},
	}
}

// FailNext makes the next call of op (for example "users.Delete") fail
// with err.
func (s *Store) FailNext(op string, err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failOn[op] = err
}

func (s *Store) injected(op string) error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	err, ok := s.failOn[op]
	if ok {
		delete(s.failOn, op)
	}
	return err
}

type txKey struct{}

// InTransaction implements auth.Transactor.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// Users returns the user repository.
func (s *Store) Users() auth.UserRepository { return (*userRepo)(s) }

// Identities returns the identity repository.
func (s *Store) Identities() auth.IdentityRepository { return (*identityRepo)(s) }

// Sessions returns the session repository.
func (s *Store) Sessions() auth.SessionRepository { return (*sessionRepo)(s) }

// Tokens returns the token repository.
func (s *Store) Tokens() auth.TokenRepository { return (*tokenRepo)(s) }

// Redirects returns the redirect repository.
func (s *Store) Redirects() auth.RedirectRepository { return (*redirectRepo)(s) }

// Associations returns the association repository.
func (s *Store) Associations() auth.AssociationRepository { return (*assocRepo)(s) }

func (s *Store) lock(op string) (func(), error) {
	if err := s.injected(op); err != nil {
		return nil, err
	}
	s.mu.Lock()
	return s.mu.Unlock, nil
}

type userRepo Store

var _ auth.UserRepository = (*userRepo)(nil)

func (r *userRepo) store() *Store { return (*Store)(r) }

func (r *userRepo) Create(_ context.Context, user *auth.User) error {
	unlock, err := r.store().lock("users.Create")
	if err != nil {
		return err
	}
	defer unlock()
	st := r.store().st
	for _, u := range st.users {
		if strings.EqualFold(u.Email, user.Email) {
			return auth.ErrAlreadyExists
		}
	}
	st.nextUserID++
	user.ID = st.nextUserID
	st.users[user.ID] = *user
	return nil
}

func (r *userRepo) GetByID(_ context.Context, id int64) (*auth.User, error) {
	unlock, err := r.store().lock("users.GetByID")
	if err != nil {
		return nil, err
	}
	defer unlock()
	u, ok := r.store().st.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &u, nil
}

func (r *userRepo) GetByIDForUpdate(ctx context.Context, id int64) (*auth.User, error) {
	return r.GetByID(ctx, id)
}

func (r *userRepo) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	unlock, err := r.store().lock("users.GetByEmail")
	if err != nil {
		return nil, err
	}
	defer unlock()
	for _, u := range r.store().st.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *userRepo) mutate(op string, id int64, fn func(u *auth.User) error) error {
	unlock, err := r.store().lock(op)
	if err != nil {
		return err
	}
	defer unlock()
	u, ok := r.store().st.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	if err := fn(&u); err != nil {
		return err
	}
	r.store().st.users[id] = u
	return nil
}

func (r *userRepo) Update(_ context.Context, user *auth.User) error {
	return r.mutate("users.Update", user.ID, func(u *auth.User) error {
		u.DisplayName = user.DisplayName
		u.Locale = user.Locale
		u.PasswordHash = user.PasswordHash
		u.EmailVerified = user.EmailVerified
		u.IsAdmin = user.IsAdmin
		u.PrimaryProvider = user.PrimaryProvider
		u.UpdatedAt = user.UpdatedAt
		return nil
	})
}

func (r *userRepo) UpdatePassword(_ context.Context, id int64, hash string) error {
	return r.mutate("users.UpdatePassword", id, func(u *auth.User) error {
		u.PasswordHash = hash
		return nil
	})
}

func (r *userRepo) MarkEmailVerified(_ context.Context, id int64) error {
	return r.mutate("users.MarkEmailVerified", id, func(u *auth.User) error {
		u.EmailVerified = true
		return nil
	})
}

func (r *userRepo) UpdateEmail(_ context.Context, id int64, email string) error {
	return r.mutate("users.UpdateEmail", id, func(u *auth.User) error {
		for otherID, other := range r.store().st.users {
			if otherID != id && strings.EqualFold(other.Email, email) {
				return auth.ErrAlreadyExists
			}
		}
		u.Email = email
		u.EmailVerified = true
		return nil
	})
}

func (r *userRepo) UpdateDisplayName(_ context.Context, id int64, displayName string) error {
	return r.mutate("users.UpdateDisplayName", id, func(u *auth.User) error {
		u.DisplayName = displayName
		return nil
	})
}

func (r *userRepo) UpdateLocale(_ context.Context, id int64, locale string) error {
	return r.mutate("users.UpdateLocale", id, func(u *auth.User) error {
		u.Locale = locale
		return nil
	})
}

func (r *userRepo) SetPrimaryProvider(_ context.Context, id int64, provider auth.Provider) error {
	return r.mutate("users.SetPrimaryProvider", id, func(u *auth.User) error {
		u.PrimaryProvider = provider
		return nil
	})
}

func (r *userRepo) Delete(_ context.Context, id int64) error {
	unlock, err := r.store().lock("users.Delete")
	if err != nil {
		return err
	}
	defer unlock()
	st := r.store().st
	if _, ok := st.users[id]; !ok {
		return auth.ErrNotFound
	}
	delete(st.users, id)
	// ON DELETE CASCADE
	for k, v := range st.identities {
		if v.UserID == id {
			delete(st.identities, k)
		}
	}
	for k, v := range st.sessions {
		if v.UserID == id {
			delete(st.sessions, k)
		}
	}
	for k, v := range st.tokens {
		if v.UserID == id {
			delete(st.tokens, k)
		}
	}
	for k := range st.associations {
		if k.userID == id {
			delete(st.associations, k)
		}
	}
	return nil
}

type identityRepo Store

var _ auth.IdentityRepository = (*identityRepo)(nil)

func (r *identityRepo) store() *Store { return (*Store)(r) }

func (r *identityRepo) Create(_ context.Context, identity *auth.ExternalIdentity) error {
	unlock, err := r.store().lock("identities.Create")
	if err != nil {
		return err
	}
	defer unlock()
	for _, v := range r.store().st.identities {
		if v.Provider == identity.Provider && (v.ExternalID == identity.ExternalID || v.UserID == identity.UserID) {
			return auth.ErrAlreadyExists
		}
	}
	r.store().st.identities[identity.ID] = *identity
	return nil
}

func (r *identityRepo) GetByExternalID(_ context.Context, provider auth.Provider, externalID string) (*auth.ExternalIdentity, error) {
	unlock, err := r.store().lock("identities.GetByExternalID")
	if err != nil {
		return nil, err
	}
	defer unlock()
	for _, v := range r.store().st.identities {
		if v.Provider == provider && v.ExternalID == externalID {
			return &v, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *identityRepo) ListByUser(_ context.Context, userID int64) ([]*auth.ExternalIdentity, error) {
	unlock, err := r.store().lock("identities.ListByUser")
	if err != nil {
		return nil, err
	}
	defer unlock()
	var out []*auth.ExternalIdentity
	for _, v := range r.store().st.identities {
		if v.UserID == userID {
			out = append(out, &v)
		}
	}
	slices.SortFunc(out, func(a, b *auth.ExternalIdentity) int { return a.ID.Compare(b.ID) })
	return out, nil
}

func (r *identityRepo) UpdateTokens(_ context.Context, id ulid.ULID, access, refresh string, expiry *time.Time) error {
	unlock, err := r.store().lock("identities.UpdateTokens")
	if err != nil {
		return err
	}
	defer unlock()
	v, ok := r.store().st.identities[id]
	if !ok {
		return auth.ErrNotFound
	}
	v.AccessToken, v.RefreshToken, v.TokenExpiry = access, refresh, expiry
	r.store().st.identities[id] = v
	return nil
}

func (r *identityRepo) Delete(_ context.Context, userID int64, provider auth.Provider) error {
	unlock, err := r.store().lock("identities.Delete")
	if err != nil {
		return err
	}
	defer unlock()
	for k, v := range r.store().st.identities {
		if v.UserID == userID && v.Provider == provider {
			delete(r.store().st.identities, k)
			return nil
		}
	}
	return auth.ErrNotFound
}

func (r *identityRepo) Reassign(_ context.Context, from, to int64) (int64, error) {
	unlock, err := r.store().lock("identities.Reassign")
	if err != nil {
		return 0, err
	}
	defer unlock()
	var n int64
	for k, v := range r.store().st.identities {
		if v.UserID == from {
			v.UserID = to
			r.store().st.identities[k] = v
			n++
		}
	}
	return n, nil
}

type sessionRepo Store

var _ auth.SessionRepository = (*sessionRepo)(nil)

func (r *sessionRepo) store() *Store { return (*Store)(r) }

func (r *sessionRepo) Create(_ context.Context, session *auth.Session) error {
	unlock, err := r.store().lock("sessions.Create")
	if err != nil {
		return err
	}
	defer unlock()
	r.store().st.sessions[session.ID] = *session
	return nil
}

func (r *sessionRepo) GetByTokenHash(_ context.Context, hash string) (*auth.Session, error) {
	unlock, err := r.store().lock("sessions.GetByTokenHash")
	if err != nil {
		return nil, err
	}
	defer unlock()
	for _, v := range r.store().st.sessions {
		if v.TokenHash == hash {
			return &v, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *sessionRepo) ListByUser(_ context.Context, userID int64, now time.Time) ([]*auth.Session, error) {
	unlock, err := r.store().lock("sessions.ListByUser")
	if err != nil {
		return nil, err
	}
	defer unlock()
	var out []*auth.Session
	for _, v := range r.store().st.sessions {
		if v.UserID == userID && now.Before(v.ExpiresAt) {
			out = append(out, &v)
		}
	}
	slices.SortFunc(out, func(a, b *auth.Session) int { return b.ID.Compare(a.ID) })
	return out, nil
}

func (r *sessionRepo) deleteWhere(op string, match func(auth.Session) bool) (int64, error) {
	unlock, err := r.store().lock(op)
	if err != nil {
		return 0, err
	}
	defer unlock()
	var n int64
	for k, v := range r.store().st.sessions {
		if match(v) {
			delete(r.store().st.sessions, k)
			n++
		}
	}
	return n, nil
}

func (r *sessionRepo) DeleteByTokenHash(_ context.Context, hash string) error {
	n, err := r.deleteWhere("sessions.DeleteByTokenHash", func(s auth.Session) bool { return s.TokenHash == hash })
	if err == nil && n == 0 {
		return auth.ErrNotFound
	}
	return err
}

func (r *sessionRepo) DeleteForUser(_ context.Context, userID int64, id ulid.ULID) error {
	n, err := r.deleteWhere("sessions.DeleteForUser", func(s auth.Session) bool { return s.ID == id && s.UserID == userID })
	if err == nil && n == 0 {
		return auth.ErrNotFound
	}
	return err
}

func (r *sessionRepo) DeleteByUserExcept(_ context.Context, userID int64, keepID ulid.ULID) (int64, error) {
	return r.deleteWhere("sessions.DeleteByUserExcept", func(s auth.Session) bool { return s.UserID == userID && s.ID != keepID })
}

func (r *sessionRepo) DeleteByUser(_ context.Context, userID int64) (int64, error) {
	return r.deleteWhere("sessions.DeleteByUser", func(s auth.Session) bool { return s.UserID == userID })
}

func (r *sessionRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	return r.deleteWhere("sessions.DeleteExpired", func(s auth.Session) bool { return !now.Before(s.ExpiresAt) })
}

type tokenRepo Store

var _ auth.TokenRepository = (*tokenRepo)(nil)

func (r *tokenRepo) store() *Store { return (*Store)(r) }

func (r *tokenRepo) Create(_ context.Context, token *auth.SecurityToken) error {
	unlock, err := r.store().lock("tokens.Create")
	if err != nil {
		return err
	}
	defer unlock()
	r.store().st.tokens[token.ID] = *token
	return nil
}

func (r *tokenRepo) RevokeOutstanding(_ context.Context, userID int64, kind auth.TokenKind, now time.Time) (int64, error) {
	unlock, err := r.store().lock("tokens.RevokeOutstanding")
	if err != nil {
		return 0, err
	}
	defer unlock()
	var n int64
	for k, v := range r.store().st.tokens {
		if v.UserID == userID && v.Kind == kind && v.UsedAt == nil && v.RevokedAt == nil {
			at := now
			v.RevokedAt = &at
			r.store().st.tokens[k] = v
			n++
		}
	}
	return n, nil
}

func (r *tokenRepo) GetByHash(_ context.Context, hash string) (*auth.SecurityToken, error) {
	unlock, err := r.store().lock("tokens.GetByHash")
	if err != nil {
		return nil, err
	}
	defer unlock()
	for _, v := range r.store().st.tokens {
		if v.TokenHash == hash {
			return &v, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *tokenRepo) Consume(_ context.Context, hash string, kind auth.TokenKind, now time.Time) (*auth.SecurityToken, error) {
	unlock, err := r.store().lock("tokens.Consume")
	if err != nil {
		return nil, err
	}
	defer unlock()
	for k, v := range r.store().st.tokens {
		if v.TokenHash != hash || v.Kind != kind || v.UsedAt != nil || v.RevokedAt != nil || !now.Before(v.ExpiresAt) {
			continue
		}
		at := now
		v.UsedAt = &at
		r.store().st.tokens[k] = v
		return &v, nil
	}
	return nil, auth.ErrNotFound
}

func (r *tokenRepo) DeleteByUser(_ context.Context, userID int64) (int64, error) {
	unlock, err := r.store().lock("tokens.DeleteByUser")
	if err != nil {
		return 0, err
	}
	defer unlock()
	var n int64
	for k, v := range r.store().st.tokens {
		if v.UserID == userID {
			delete(r.store().st.tokens, k)
			n++
		}
	}
	return n, nil
}

func (r *tokenRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	unlock, err := r.store().lock("tokens.DeleteExpired")
	if err != nil {
		return 0, err
	}
	defer unlock()
	var n int64
	for k, v := range r.store().st.tokens {
		if !now.Before(v.ExpiresAt) || v.UsedAt != nil || v.RevokedAt != nil {
			delete(r.store().st.tokens, k)
			n++
		}
	}
	return n, nil
}

type redirectRepo Store

var _ auth.RedirectRepository = (*redirectRepo)(nil)

func (r *redirectRepo) store() *Store { return (*Store)(r) }

func (r *redirectRepo) Resolve(_ context.Context, oldID int64) (int64, error) {
	unlock, err := r.store().lock("redirects.Resolve")
	if err != nil {
		return 0, err
	}
	defer unlock()
	id, ok := r.store().st.redirects[oldID]
	if !ok {
		return 0, auth.ErrNotFound
	}
	return id, nil
}

func (r *redirectRepo) Collapse(_ context.Context, from, to int64) (int64, error) {
	unlock, err := r.store().lock("redirects.Collapse")
	if err != nil {
		return 0, err
	}
	defer unlock()
	var n int64
	for k, v := range r.store().st.redirects {
		if v == from {
			r.store().st.redirects[k] = to
			n++
		}
	}
	return n, nil
}

func (r *redirectRepo) Add(_ context.Context, oldID, newID int64) error {
	unlock, err := r.store().lock("redirects.Add")
	if err != nil {
		return err
	}
	defer unlock()
	r.store().st.redirects[oldID] = newID
	return nil
}

type assocRepo Store

var _ auth.AssociationRepository = (*assocRepo)(nil)

func (r *assocRepo) store() *Store { return (*Store)(r) }

func (r *assocRepo) List(_ context.Context, userID int64, kind auth.AssociationKind) ([]int64, error) {
	unlock, err := r.store().lock("associations.List")
	if err != nil {
		return nil, err
	}
	defer unlock()
	return slices.Clone(r.store().st.associations[assocKey{userID, kind}]), nil
}

func (r *assocRepo) Add(_ context.Context, userID int64, kind auth.AssociationKind, refs []int64) error {
	unlock, err := r.store().lock("associations.Add")
	if err != nil {
		return err
	}
	defer unlock()
	key := assocKey{userID, kind}
	for _, ref := range refs {
		if !slices.Contains(r.store().st.associations[key], ref) {
			r.store().st.associations[key] = append(r.store().st.associations[key], ref)
		}
	}
	return nil
}

func (r *assocRepo) Remove(_ context.Context, userID int64, kind auth.AssociationKind, refs []int64) error {
	unlock, err := r.store().lock("associations.Remove")
	if err != nil {
		return err
	}
	defer unlock()
	key := assocKey{userID, kind}
	r.store().st.associations[key] = slices.DeleteFunc(r.store().st.associations[key], func(ref int64) bool {
		return slices.Contains(refs, ref)
	})
	return nil
}

func (r *assocRepo) DeleteAll(_ context.Context, userID int64, kind auth.AssociationKind) error {
	unlock, err := r.store().lock("associations.DeleteAll")
	if err != nil {
		return err
	}
	defer unlock()
	delete(r.store().st.associations, assocKey{userID, kind})
	return nil
}

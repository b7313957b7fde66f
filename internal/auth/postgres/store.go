// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package postgres

// Store bundles every repository over one pool.
type Store struct {
	Users        *UserRepository
	Identities   *IdentityRepository
	Sessions     *SessionRepository
	Tokens       *TokenRepository
	Redirects    *RedirectRepository
	Associations *AssociationRepository
	Tx           *Transactor
}

// NewStore creates the repositories for db.
func NewStore(db DB) *Store {
	return &Store{
		Users:        NewUserRepository(db),
		Identities:   NewIdentityRepository(db),
		Sessions:     NewSessionRepository(db),
		Tokens:       NewTokenRepository(db),
		Redirects:    NewRedirectRepository(db),
		Associations: NewAssociationRepository(db),
		Tx:           NewTransactor(db),
	}
}

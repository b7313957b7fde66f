// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package authtest

import (
	"io"
	"log/slog"
	"time"

	"github.com/medidir/medidir/internal/auth"
)

// Services bundles every auth service wired to one in-memory Store.
type Services struct {
	Store    *Store
	Clock    *Clock
	Ledger   *auth.TokenLedger
	Sessions *auth.SessionStore
	Resolver *auth.IdentityResolver
	Accounts *auth.AccountService
	Merges   *auth.MergeService
}

// NewServices wires the services with a fast hasher, default policy and a
// fake clock starting at start.
func NewServices(start time.Time, policy auth.AccountPolicy) (*Services, error) {
	store := NewStore()
	clock := NewClock(start)
	opts := []auth.Option{
		auth.WithClock(clock.Now),
		auth.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}

	ledger, err := auth.NewTokenLedger(store.Tokens(), store, auth.DefaultTokenTTLs(), opts...)
	if err != nil {
		return nil, err
	}
	sessions, err := auth.NewSessionStore(store.Users(), store.Sessions(), auth.DefaultSessionTTL, opts...)
	if err != nil {
		return nil, err
	}
	resolver, err := auth.NewIdentityResolver(store.Users(), store.Identities(), store, auth.DefaultLocales[0], opts...)
	if err != nil {
		return nil, err
	}
	accounts, err := auth.NewAccountService(store.Users(), store.Redirects(), store, FastHasher(), ledger, sessions, policy, opts...)
	if err != nil {
		return nil, err
	}
	merges, err := auth.NewMergeService(store.Users(), store.Identities(), store.Sessions(), store.Tokens(),
		store.Redirects(), store.Associations(), store, opts...)
	if err != nil {
		return nil, err
	}
	return &Services{
		Store:    store,
		Clock:    clock,
		Ledger:   ledger,
		Sessions: sessions,
		Resolver: resolver,
		Accounts: accounts,
		Merges:   merges,
	}, nil
}

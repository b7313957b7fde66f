// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package main

import (
	"log/slog"
	"net/url"

	"github.com/samber/oops"

	"github.com/medidir/medidir/internal/auth"
	"github.com/medidir/medidir/internal/config"
	"github.com/medidir/medidir/internal/mail"
	"github.com/medidir/medidir/internal/oauth"
	"github.com/medidir/medidir/internal/observability"
	"github.com/medidir/medidir/internal/web"
)

// services holds the auth services built over one Storage.
type services struct {
	ledger   *auth.TokenLedger
	sessions *auth.SessionStore
	resolver *auth.IdentityResolver
	accounts *auth.AccountService
	merges   *auth.MergeService
}

func newServices(cfg *config.Config, st *Storage, logger *slog.Logger) (*services, error) {
	opts := []auth.Option{
		auth.WithLogger(logger),
		auth.WithPlaceholderDomain(cfg.Security.PlaceholderDomain),
	}

	ledger, err := auth.NewTokenLedger(st.Tokens, st.Tx, cfg.TokenTTLs(), opts...)
	if err != nil {
		return nil, oops.Code("STARTUP_FAILED").With("component", "token ledger").Wrap(err)
	}
	sessions, err := auth.NewSessionStore(st.Users, st.Sessions, cfg.SessionTTL(), opts...)
	if err != nil {
		return nil, oops.Code("STARTUP_FAILED").With("component", "session store").Wrap(err)
	}
	resolver, err := auth.NewIdentityResolver(st.Users, st.Identities, st.Tx, cfg.Locales.Supported[0], opts...)
	if err != nil {
		return nil, oops.Code("STARTUP_FAILED").With("component", "identity resolver").Wrap(err)
	}
	accounts, err := auth.NewAccountService(
		st.Users, st.Redirects, st.Tx,
		auth.NewArgon2idHasherWithParams(cfg.Password),
		ledger, sessions, cfg.AccountPolicy(), opts...,
	)
	if err != nil {
		return nil, oops.Code("STARTUP_FAILED").With("component", "account service").Wrap(err)
	}
	merges, err := auth.NewMergeService(
		st.Users, st.Identities, st.Sessions, st.Tokens, st.Redirects, st.Associations, st.Tx, opts...,
	)
	if err != nil {
		return nil, oops.Code("STARTUP_FAILED").With("component", "merge service").Wrap(err)
	}

	return &services{
		ledger:   ledger,
		sessions: sessions,
		resolver: resolver,
		accounts: accounts,
		merges:   merges,
	}, nil
}

// newProviders registers the OAuth providers that have credentials.
func newProviders(cfg *config.Config, public *url.URL) *oauth.Registry {
	callback := func(name auth.Provider) string {
		return public.JoinPath("auth", string(name), "callback").String()
	}

	var providers []oauth.Provider
	if c := cfg.Providers.Google; c.Enabled() {
		providers = append(providers, oauth.NewGoogle(oauth.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  callback(auth.ProviderGoogle),
		}))
	}
	if c := cfg.Providers.Facebook; c.Enabled() {
		providers = append(providers, oauth.NewFacebook(oauth.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  callback(auth.ProviderFacebook),
		}))
	}
	return oauth.NewRegistry(providers...)
}

// newWebHandler assembles the HTTP surface.
func newWebHandler(
	cfg *config.Config,
	svc *services,
	mailer mail.Sender,
	metrics *observability.Metrics,
	logger *slog.Logger,
) (*web.Handler, error) {
	public, err := url.Parse(cfg.Server.PublicURL)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("key", "server.public_url").Wrap(err)
	}
	policy, err := web.NewReturnToPolicy(public, cfg.Security.ReturnToAllow)
	if err != nil {
		return nil, err
	}
	composer, err := mail.NewComposer(cfg.Server.PublicURL)
	if err != nil {
		return nil, err
	}

	var telegram *auth.TelegramVerifier
	if cfg.Providers.Telegram.Enabled() {
		telegram = &auth.TelegramVerifier{
			BotToken: cfg.Providers.Telegram.BotToken,
			MaxAge:   cfg.TelegramMaxAge(),
		}
	}

	return web.NewHandler(web.Deps{
		Accounts:  svc.accounts,
		Sessions:  svc.sessions,
		Resolver:  svc.resolver,
		Merges:    svc.merges,
		Providers: newProviders(cfg, public),
		Telegram:  telegram,
		Mailer:    mailer,
		Composer:  composer,
		ReturnTo:  policy,
		PublicURL: public,
		TokenTTLs: cfg.TokenTTLs(),
		Metrics:   metrics,
		Logger:    logger,
	})
}

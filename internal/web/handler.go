// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

// Package web is the HTTP surface of the identity service: provider
// sign-in redirects, the JSON account API, and the middleware catalog
// handlers use to learn who is calling.
package web

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	"github.com/medidir/medidir/internal/auth"
	"github.com/medidir/medidir/internal/mail"
	"github.com/medidir/medidir/internal/oauth"
	"github.com/medidir/medidir/internal/observability"
)

// LoginPath is where failed browser flows land, with ?error=<code>.
const LoginPath = "/login"

// Deps are the collaborators of the HTTP surface.
type Deps struct {
	Accounts *auth.AccountService
	Sessions *auth.SessionStore
	Resolver *auth.IdentityResolver
	Merges   *auth.MergeService

	Providers *oauth.Registry       // Google and Facebook; may be empty
	Telegram  *auth.TelegramVerifier // nil disables Telegram sign-in

	Mailer   mail.Sender
	Composer *mail.Composer

	ReturnTo  *ReturnToPolicy
	PublicURL *url.URL
	TokenTTLs auth.TokenTTLs

	Metrics *observability.Metrics // nil records nothing
	Logger  *slog.Logger
}

// Handler serves the routes.
type Handler struct {
	accounts  *auth.AccountService
	sessions  *auth.SessionStore
	resolver  *auth.IdentityResolver
	merges    *auth.MergeService
	providers *oauth.Registry
	telegram  *auth.TelegramVerifier
	mailer    mail.Sender
	composer  *mail.Composer
	returnTo  *ReturnToPolicy
	tokenTTLs auth.TokenTTLs
	metrics   *observability.Metrics
	logger    *slog.Logger
	locales   *localeMatcher

	sessionTTL time.Duration
	secure     bool
}

// NewHandler validates deps and creates a Handler.
func NewHandler(deps Deps) (*Handler, error) {
	switch {
	case deps.Accounts == nil:
		return nil, oops.Errorf("account service is required")
	case deps.Sessions == nil:
		return nil, oops.Errorf("session store is required")
	case deps.Resolver == nil:
		return nil, oops.Errorf("identity resolver is required")
	case deps.Merges == nil:
		return nil, oops.Errorf("merge service is required")
	case deps.Mailer == nil || deps.Composer == nil:
		return nil, oops.Errorf("mail sender and composer are required")
	case deps.ReturnTo == nil:
		return nil, oops.Errorf("return-to policy is required")
	case deps.PublicURL == nil:
		return nil, oops.Errorf("public URL is required")
	}
	locales, err := newLocaleMatcher(deps.Accounts.Locales())
	if err != nil {
		return nil, err
	}
	providers := deps.Providers
	if providers == nil {
		providers = oauth.NewRegistry()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		accounts:   deps.Accounts,
		sessions:   deps.Sessions,
		resolver:   deps.Resolver,
		merges:     deps.Merges,
		providers:  providers,
		telegram:   deps.Telegram,
		mailer:     deps.Mailer,
		composer:   deps.Composer,
		returnTo:   deps.ReturnTo,
		tokenTTLs:  deps.TokenTTLs,
		metrics:    deps.Metrics,
		logger:     logger,
		locales:    locales,
		sessionTTL: deps.Sessions.TTL(),
		secure:     deps.PublicURL.Scheme == "https",
	}, nil
}

// Routes returns the router with every endpoint and the standard
// middleware stack.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(h.instrument)
	r.Use(chimw.Recoverer)
	r.Use(h.LoadSession)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/{provider}/login", h.providerLogin)
		r.Get("/{provider}/callback", h.providerCallback)
		r.Get("/verify-email", h.verifyEmailLink)
		r.Get("/confirm-email", h.confirmEmailLink)
		r.Post("/logout", h.logout)
	})

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Post("/logout", h.apiLogout)
		r.Post("/password/forgot", h.forgotPassword)
		r.Post("/password/reset", h.resetPassword)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireUser)
			r.Get("/me", h.me)
			r.Post("/password/change", h.changePassword)
			r.Post("/email/verification", h.requestVerification)
			r.Post("/email/change", h.requestEmailChange)
			r.Put("/locale", h.updateLocale)
			r.Patch("/profile", h.updateProfile)
			r.Get("/sessions", h.listSessions)
			r.Delete("/sessions/{id}", h.revokeSession)
			r.Post("/sessions/revoke-others", h.revokeOtherSessions)
			r.Get("/identities", h.listIdentities)
			r.Delete("/identities/{provider}", h.unlinkIdentity)
			r.Put("/identities/{provider}/primary", h.setPrimary)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.RequireAdmin)
		r.Post("/users/merge", h.mergeUsers)
		r.Get("/users/{id}/associations/{kind}", h.listAssociations)
		r.Put("/users/{id}/associations/{kind}", h.syncAssociations)
	})

	return r
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

// Package oauth exchanges OAuth2 authorization codes for provider profiles.
package oauth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/samber/oops"
	"golang.org/x/oauth2"

	"github.com/medidir/medidir/internal/auth"
)

// maxProfileBytes caps how much of a profile response is read.
const maxProfileBytes = 1 << 20

// Provider is an OAuth2 identity provider.
type Provider interface {
	// Name identifies the provider.
	Name() auth.Provider

	// AuthCodeURL returns the consent page URL carrying state.
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for the signed-in account's
	// profile, including the issued tokens.
	Exchange(ctx context.Context, code string) (*auth.ExternalProfile, error)
}

// Config holds the client registration of one provider.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint and ProfileURL override the production endpoints.
	Endpoint   *oauth2.Endpoint
	ProfileURL string

	// HTTPClient is used for token and profile requests when set.
	HTTPClient *http.Client
}

// Enabled reports whether the provider has client credentials.
func (c Config) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

func (c Config) oauth2Config(endpoint oauth2.Endpoint, scopes []string) *oauth2.Config {
	if c.Endpoint != nil {
		endpoint = *c.Endpoint
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Endpoint:     endpoint,
		Scopes:       scopes,
	}
}

func (c Config) profileURL(def string) string {
	if c.ProfileURL != "" {
		return c.ProfileURL
	}
	return def
}

// withHTTPClient makes oauth2 use the configured client for the token request.
func (c Config) withHTTPClient(ctx context.Context) context.Context {
	if c.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.HTTPClient)
}

// Registry looks providers up by name.
type Registry struct {
	providers map[auth.Provider]Provider
}

// NewRegistry builds a registry from the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[auth.Provider]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the provider registered under name.
func (r *Registry) Get(name auth.Provider) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// exchange runs the code exchange and decodes the profile document at
// profileURL into dst.
func exchange(ctx context.Context, cfg Config, oc *oauth2.Config, name auth.Provider, code, profileURL string, dst any) (*oauth2.Token, error) {
	if code == "" {
		return nil, oops.Code(auth.CodeInvalidArgument).With("provider", name).Errorf("missing authorization code")
	}

	ctx = cfg.withHTTPClient(ctx)
	token, err := oc.Exchange(ctx, code)
	if err != nil {
		return nil, oops.Code(auth.CodeProviderError).
			With("provider", name).
			With("operation", "exchange code").
			Wrap(err)
	}

	resp, err := oc.Client(ctx, token).Get(profileURL)
	if err != nil {
		return nil, oops.Code(auth.CodeProviderError).
			With("provider", name).
			With("operation", "fetch profile").
			Wrap(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes))
	if err != nil {
		return nil, oops.Code(auth.CodeProviderError).
			With("provider", name).
			With("operation", "read profile").
			Wrap(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, oops.Code(auth.CodeProviderError).
			With("provider", name).
			With("status", resp.StatusCode).
			With("body", string(body)).
			Errorf("profile request failed")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return nil, oops.Code(auth.CodeProviderError).
			With("provider", name).
			With("operation", "decode profile").
			Wrap(err)
	}
	return token, nil
}

func applyToken(profile *auth.ExternalProfile, token *oauth2.Token) {
	profile.AccessToken = token.AccessToken
	profile.RefreshToken = token.RefreshToken
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC().Truncate(time.Second)
		profile.TokenExpiry = &expiry
	}
}

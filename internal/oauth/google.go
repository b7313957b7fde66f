// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package oauth

import (
	"context"

	"github.com/samber/oops"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/medidir/medidir/internal/auth"
)

// GoogleUserInfoURL is the OpenID Connect userinfo endpoint.
const GoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// Google signs users in with Google accounts.
type Google struct {
	cfg        Config
	oauth      *oauth2.Config
	profileURL string
}

// NewGoogle creates the Google provider.
func NewGoogle(cfg Config) *Google {
	return &Google{
		cfg:        cfg,
		oauth:      cfg.oauth2Config(google.Endpoint, []string{"openid", "email", "profile"}),
		profileURL: cfg.profileURL(GoogleUserInfoURL),
	}
}

// Name returns auth.ProviderGoogle.
func (g *Google) Name() auth.Provider { return auth.ProviderGoogle }

// AuthCodeURL returns the consent page URL.
func (g *Google) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Locale        string `json:"locale"`
}

// Exchange trades code for the Google profile.
func (g *Google) Exchange(ctx context.Context, code string) (*auth.ExternalProfile, error) {
	var info googleUserInfo
	token, err := exchange(ctx, g.cfg, g.oauth, auth.ProviderGoogle, code, g.profileURL, &info)
	if err != nil {
		return nil, err
	}
	if info.Sub == "" {
		return nil, oops.Code(auth.CodeProviderError).
			With("provider", auth.ProviderGoogle).
			Errorf("userinfo response has no subject")
	}

	profile := &auth.ExternalProfile{
		Provider:      auth.ProviderGoogle,
		ExternalID:    info.Sub,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		DisplayName:   info.Name,
		Locale:        info.Locale,
	}
	applyToken(profile, token)
	return profile, nil
}

var _ Provider = (*Google)(nil)

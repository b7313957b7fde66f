// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package oauth

import (
	"context"

	"github.com/samber/oops"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"

	"github.com/medidir/medidir/internal/auth"
)

// FacebookProfileURL is the Graph API endpoint for the signed-in user.
const FacebookProfileURL = "https://graph.facebook.com/v19.0/me?fields=id,name,email"

// Facebook signs users in with Facebook accounts.
type Facebook struct {
	cfg        Config
	oauth      *oauth2.Config
	profileURL string
}

// NewFacebook creates the Facebook provider.
func NewFacebook(cfg Config) *Facebook {
	return &Facebook{
		cfg:        cfg,
		oauth:      cfg.oauth2Config(facebook.Endpoint, []string{"email", "public_profile"}),
		profileURL: cfg.profileURL(FacebookProfileURL),
	}
}

// Name returns auth.ProviderFacebook.
func (f *Facebook) Name() auth.Provider { return auth.ProviderFacebook }

// AuthCodeURL returns the consent page URL.
func (f *Facebook) AuthCodeURL(state string) string {
	return f.oauth.AuthCodeURL(state)
}

type facebookMe struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Exchange trades code for the Facebook profile. Graph only returns
// confirmed addresses, so a present email counts as verified.
func (f *Facebook) Exchange(ctx context.Context, code string) (*auth.ExternalProfile, error) {
	var me facebookMe
	token, err := exchange(ctx, f.cfg, f.oauth, auth.ProviderFacebook, code, f.profileURL, &me)
	if err != nil {
		return nil, err
	}
	if me.ID == "" {
		return nil, oops.Code(auth.CodeProviderError).
			With("provider", auth.ProviderFacebook).
			Errorf("profile response has no id")
	}

	profile := &auth.ExternalProfile{
		Provider:      auth.ProviderFacebook,
		ExternalID:    me.ID,
		Email:         me.Email,
		EmailVerified: me.Email != "",
		DisplayName:   me.Name,
	}
	applyToken(profile, token)
	return profile, nil
}

var _ Provider = (*Facebook)(nil)

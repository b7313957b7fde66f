// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Provider is an authentication method.
type Provider string

// Providers. ProviderPassword is never stored as an ExternalIdentity; it
// only appears as a primary provider.
const (
	ProviderPassword Provider = "password"
	ProviderGoogle   Provider = "google"
	ProviderTelegram Provider = "telegram"
	ProviderFacebook Provider = "facebook"
)

// ExternalProviders lists the providers that link through an ExternalIdentity.
var ExternalProviders = []Provider{ProviderGoogle, ProviderTelegram, ProviderFacebook}

// ParseProvider validates a provider name.
func ParseProvider(s string) (Provider, error) {
	p := Provider(s)
	if p == ProviderPassword || p.IsExternal() {
		return p, nil
	}
	return "", oops.Code(CodeInvalidArgument).With("provider", s).Errorf("unknown provider")
}

// IsExternal reports whether p links through an ExternalIdentity.
func (p Provider) IsExternal() bool {
	for _, ep := range ExternalProviders {
		if p == ep {
			return true
		}
	}
	return false
}

// ExternalIdentity links a user to one provider account.
type ExternalIdentity struct {
	ID           ulid.ULID
	UserID       int64
	Provider     Provider
	ExternalID   string
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	TokenExpiry  *time.Time `json:"-"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewExternalIdentity creates a validated ExternalIdentity from a provider
// profile.
func NewExternalIdentity(userID int64, profile *ExternalProfile) (*ExternalIdentity, error) {
	if userID <= 0 {
		return nil, oops.Code("IDENTITY_INVALID_USER").Errorf("user ID must be positive")
	}
	if !profile.Provider.IsExternal() {
		return nil, oops.Code(CodeInvalidArgument).With("provider", string(profile.Provider)).Errorf("provider cannot be linked")
	}
	if profile.ExternalID == "" {
		return nil, oops.Code("IDENTITY_INVALID_EXTERNAL_ID").Errorf("external ID cannot be empty")
	}
	now := time.Now()
	return &ExternalIdentity{
		ID:           ulid.Make(),
		UserID:       userID,
		Provider:     profile.Provider,
		ExternalID:   profile.ExternalID,
		AccessToken:  profile.AccessToken,
		RefreshToken: profile.RefreshToken,
		TokenExpiry:  profile.TokenExpiry,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ExternalProfile is what a provider tells us about the person after
// provenance has been verified.
type ExternalProfile struct {
	Provider      Provider
	ExternalID    string
	Email         string
	EmailVerified bool
	DisplayName   string
	Locale        string
	AccessToken   string
	RefreshToken  string
	TokenExpiry   *time.Time
}

// HasTokens reports whether the provider supplied tokens worth caching.
func (p *ExternalProfile) HasTokens() bool {
	return p.AccessToken != "" || p.RefreshToken != ""
}

// IdentityRepository manages external identity persistence.
type IdentityRepository interface {
	// Create stores a new identity.
	// Returns ErrAlreadyExists if (provider, external id) or (user, provider)
	// is already linked.
	Create(ctx context.Context, identity *ExternalIdentity) error

	// GetByExternalID retrieves the identity for a provider account.
	GetByExternalID(ctx context.Context, provider Provider, externalID string) (*ExternalIdentity, error)

	// ListByUser returns the identities linked to a user, oldest first.
	ListByUser(ctx context.Context, userID int64) ([]*ExternalIdentity, error)

	// UpdateTokens replaces the cached provider tokens.
	UpdateTokens(ctx context.Context, id ulid.ULID, accessToken, refreshToken string, expiry *time.Time) error

	// Delete unlinks a provider from a user.
	Delete(ctx context.Context, userID int64, provider Provider) error

	// Reassign moves every identity of from to to.
	Reassign(ctx context.Context, from, to int64) (int64, error)
}

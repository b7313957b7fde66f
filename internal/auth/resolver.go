// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/oops"
)

// Resolution is the outcome of a provider callback.
type Resolution struct {
	User     *User
	Identity *ExternalIdentity
	Created  bool // a new account was registered
	Linked   bool // the identity was attached to the signed-in account
}

// IdentityResolver reconciles provider accounts with local users.
type IdentityResolver struct {
	users             UserRepository
	identities        IdentityRepository
	tx                Transactor
	defaultLocale     string
	placeholderDomain string
	logger            *slog.Logger
}

// NewIdentityResolver creates an IdentityResolver. New accounts get
// defaultLocale unless the provider reports one.
func NewIdentityResolver(users UserRepository, identities IdentityRepository, tx Transactor, defaultLocale string, opts ...Option) (*IdentityResolver, error) {
	if users == nil {
		return nil, oops.Errorf("user repository is required")
	}
	if identities == nil {
		return nil, oops.Errorf("identity repository is required")
	}
	if tx == nil {
		return nil, oops.Errorf("transactor is required")
	}
	o := buildOptions(opts)
	return &IdentityResolver{
		users:             users,
		identities:        identities,
		tx:                tx,
		defaultLocale:     defaultLocale,
		placeholderDomain: o.placeholderDomain,
		logger:            o.logger,
	}, nil
}

// Resolve finds, links or creates the account for a verified provider
// profile. current is the signed-in user, or nil for an anonymous caller.
// Session issuance is left to the caller once Resolve has committed.
func (r *IdentityResolver) Resolve(ctx context.Context, profile *ExternalProfile, current *User) (*Resolution, error) {
	if profile == nil || !profile.Provider.IsExternal() || profile.ExternalID == "" {
		return nil, oops.Code(CodeInvalidArgument).Errorf("incomplete provider profile")
	}

	var res *Resolution
	err := r.tx.InTransaction(ctx, func(ctx context.Context) error {
		identity, err := r.identities.GetByExternalID(ctx, profile.Provider, profile.ExternalID)
		switch {
		case err == nil:
			res, err = r.signIn(ctx, identity, profile, current)
		case !errors.Is(err, ErrNotFound):
			return oops.With("operation", "get identity").Wrap(err)
		case current != nil:
			res, err = r.link(ctx, profile, current.ID)
		default:
			res, err = r.register(ctx, profile)
		}
		return err
	})
	if err != nil {
		return nil, oops.
			With("provider", string(profile.Provider)).
			Wrap(err)
	}

	switch {
	case res.Created:
		r.logger.InfoContext(ctx, "account created from provider",
			"user_id", res.User.ID, "provider", string(profile.Provider))
	case res.Linked:
		r.logger.InfoContext(ctx, "provider linked",
			"user_id", res.User.ID, "provider", string(profile.Provider))
	}
	return res, nil
}

func (r *IdentityResolver) signIn(ctx context.Context, identity *ExternalIdentity, profile *ExternalProfile, current *User) (*Resolution, error) {
	if current != nil && identity.UserID != current.ID {
		return nil, oops.Code(CodeAlreadyExists).
			With("user_id", current.ID).
			Errorf("provider account is linked to another user")
	}
	if profile.HasTokens() {
		if err := r.identities.UpdateTokens(ctx, identity.ID, profile.AccessToken, profile.RefreshToken, profile.TokenExpiry); err != nil {
			return nil, oops.With("operation", "refresh tokens").Wrap(err)
		}
		identity.AccessToken = profile.AccessToken
		identity.RefreshToken = profile.RefreshToken
		identity.TokenExpiry = profile.TokenExpiry
	}
	user, err := r.users.GetByID(ctx, identity.UserID)
	if err != nil {
		return nil, oops.With("operation", "get linked user").With("user_id", identity.UserID).Wrap(err)
	}
	return &Resolution{User: user, Identity: identity}, nil
}

func (r *IdentityResolver) link(ctx context.Context, profile *ExternalProfile, userID int64) (*Resolution, error) {
	user, err := r.users.GetByIDForUpdate(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeAccountNotFound).With("user_id", userID).Errorf("account not found")
		}
		return nil, oops.With("operation", "lock user").Wrap(err)
	}
	existing, err := r.identities.ListByUser(ctx, userID)
	if err != nil {
		return nil, oops.With("operation", "list identities").Wrap(err)
	}
	for _, id := range existing {
		if id.Provider == profile.Provider {
			return nil, oops.Code(CodeAlreadyExists).
				With("user_id", userID).
				Errorf("provider is already linked to this account")
		}
	}

	identity, err := r.createIdentity(ctx, userID, profile)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		if err := r.users.SetPrimaryProvider(ctx, userID, profile.Provider); err != nil {
			return nil, oops.With("operation", "set primary provider").Wrap(err)
		}
		user.PrimaryProvider = profile.Provider
	}
	return &Resolution{User: user, Identity: identity, Linked: true}, nil
}

func (r *IdentityResolver) register(ctx context.Context, profile *ExternalProfile) (*Resolution, error) {
	email := NormalizeEmail(profile.Email)
	verified := profile.EmailVerified
	if email == "" || !ValidateEmailSyntax(email) {
		email = PlaceholderEmail(profile.Provider, profile.ExternalID, r.placeholderDomain)
		verified = false
	} else {
		_, err := r.users.GetByEmail(ctx, email)
		if err == nil {
			return nil, emailTaken()
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, oops.With("operation", "get user by email").Wrap(err)
		}
	}

	locale := profile.Locale
	if locale == "" {
		locale = r.defaultLocale
	}
	user, err := NewUser(email, "", profile.DisplayName, locale)
	if err != nil {
		return nil, err
	}
	user.EmailVerified = verified
	user.PrimaryProvider = profile.Provider
	if err := r.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, emailTaken()
		}
		return nil, oops.With("operation", "create user").Wrap(err)
	}

	identity, err := r.createIdentity(ctx, user.ID, profile)
	if err != nil {
		return nil, err
	}
	return &Resolution{User: user, Identity: identity, Created: true}, nil
}

func (r *IdentityResolver) createIdentity(ctx context.Context, userID int64, profile *ExternalProfile) (*ExternalIdentity, error) {
	identity, err := NewExternalIdentity(userID, profile)
	if err != nil {
		return nil, err
	}
	if err := r.identities.Create(ctx, identity); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, oops.Code(CodeAlreadyExists).
				With("user_id", userID).
				Errorf("provider account is already linked")
		}
		return nil, oops.With("operation", "create identity").Wrap(err)
	}
	return identity, nil
}

// Unlink detaches a provider from a user. It refuses to remove the user's
// last way to sign in and moves the primary provider to a remaining method.
func (r *IdentityResolver) Unlink(ctx context.Context, userID int64, provider Provider) error {
	if !provider.IsExternal() {
		return oops.Code(CodeInvalidArgument).With("provider", string(provider)).Errorf("provider cannot be unlinked")
	}
	err := r.tx.InTransaction(ctx, func(ctx context.Context) error {
		user, err := r.users.GetByIDForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return oops.Code(CodeAccountNotFound).Errorf("account not found")
			}
			return oops.With("operation", "lock user").Wrap(err)
		}
		identities, err := r.identities.ListByUser(ctx, userID)
		if err != nil {
			return oops.With("operation", "list identities").Wrap(err)
		}

		var remaining []*ExternalIdentity
		found := false
		for _, id := range identities {
			if id.Provider == provider {
				found = true
				continue
			}
			remaining = append(remaining, id)
		}
		if !found {
			return oops.Code(CodeNotLinked).Errorf("provider is not linked")
		}
		if !user.HasPassword() && len(remaining) == 0 {
			return oops.Code(CodeLastAuthMethod).Errorf("cannot remove the last sign-in method")
		}

		if err := r.identities.Delete(ctx, userID, provider); err != nil {
			return oops.With("operation", "delete identity").Wrap(err)
		}
		if user.PrimaryProvider == provider {
			next := ProviderPassword
			if len(remaining) > 0 {
				next = remaining[0].Provider
			}
			if !user.HasPassword() && next == ProviderPassword {
				next = ""
			}
			if err := r.users.SetPrimaryProvider(ctx, userID, next); err != nil {
				return oops.With("operation", "set primary provider").Wrap(err)
			}
		}
		return nil
	})
	if err != nil {
		return oops.With("user_id", userID).With("provider", string(provider)).Wrap(err)
	}
	r.logger.InfoContext(ctx, "provider unlinked", "user_id", userID, "provider", string(provider))
	return nil
}

// SetPrimary marks a sign-in method as the user's preferred one. External
// providers must be linked; password requires a password to be set.
func (r *IdentityResolver) SetPrimary(ctx context.Context, userID int64, provider Provider) error {
	if _, err := ParseProvider(string(provider)); err != nil {
		return err
	}
	return r.tx.InTransaction(ctx, func(ctx context.Context) error {
		user, err := r.users.GetByIDForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return oops.Code(CodeAccountNotFound).With("user_id", userID).Errorf("account not found")
			}
			return oops.With("operation", "lock user").With("user_id", userID).Wrap(err)
		}
		if provider == ProviderPassword {
			if !user.HasPassword() {
				return oops.Code(CodeNotLinked).With("provider", string(provider)).Errorf("no password is set")
			}
		} else if err := r.requireLinked(ctx, userID, provider); err != nil {
			return err
		}
		if err := r.users.SetPrimaryProvider(ctx, userID, provider); err != nil {
			return oops.With("operation", "set primary provider").With("user_id", userID).Wrap(err)
		}
		return nil
	})
}

func (r *IdentityResolver) requireLinked(ctx context.Context, userID int64, provider Provider) error {
	identities, err := r.identities.ListByUser(ctx, userID)
	if err != nil {
		return oops.With("operation", "list identities").With("user_id", userID).Wrap(err)
	}
	for _, id := range identities {
		if id.Provider == provider {
			return nil
		}
	}
	return oops.Code(CodeNotLinked).With("provider", string(provider)).Errorf("provider is not linked")
}

// Identities lists the providers linked to a user.
func (r *IdentityResolver) Identities(ctx context.Context, userID int64) ([]*ExternalIdentity, error) {
	identities, err := r.identities.ListByUser(ctx, userID)
	if err != nil {
		return nil, oops.Code("IDENTITY_LIST_FAILED").With("user_id", userID).Wrap(err)
	}
	return identities, nil
}

// PlaceholderEmail synthesizes a unique address for a provider account
// that supplied no email. Bytes outside [a-z0-9-] are written as _xx hex,
// so distinct external ids never share an address.
func PlaceholderEmail(provider Provider, externalID, domain string) string {
	var local strings.Builder
	for i := 0; i < len(externalID); i++ {
		c := externalID[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' {
			local.WriteByte(c)
			continue
		}
		fmt.Fprintf(&local, "_%02x", c)
	}
	return string(provider) + "-" + local.String() + "@" + domain
}

// IsPlaceholderEmail reports whether email was synthesized for domain.
func IsPlaceholderEmail(email, domain string) bool {
	return strings.HasSuffix(NormalizeEmail(email), "@"+strings.ToLower(domain))
}

func emailTaken() error {
	return oops.Code(CodeEmailTaken).Errorf("email belongs to an existing account")
}

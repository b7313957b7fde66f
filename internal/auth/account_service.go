// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultLocales are the locales the directory is published in. The first
// is the default.
var DefaultLocales = []string{"sr-Latn", "sr-Cyrl", "en", "ru"}

// AccountPolicy holds the tunable rules of the account flows.
type AccountPolicy struct {
	// RevokeSessionsOnPasswordChange drops every session on password reset
	// and every other session on password change.
	RevokeSessionsOnPasswordChange bool
	// Locales lists the supported locales; the first is the default.
	Locales []string
}

// DefaultAccountPolicy returns the default policy.
func DefaultAccountPolicy() AccountPolicy {
	return AccountPolicy{
		RevokeSessionsOnPasswordChange: true,
		Locales:                        slices.Clone(DefaultLocales),
	}
}

// dummyPasswordHash is verified when no account matches so that response
// time does not reveal which emails are registered. It never matches.
//
//nolint:gosec // G101: intentionally fake hash, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// AccountService implements the password and email flows.
type AccountService struct {
	users             UserRepository
	redirects         RedirectRepository
	tx                Transactor
	hasher            PasswordHasher
	ledger            *TokenLedger
	sessions          *SessionStore
	policy            AccountPolicy
	placeholderDomain string
	logger            *slog.Logger
	now               func() time.Time
}

// NewAccountService creates an AccountService.
func NewAccountService(
	users UserRepository,
	redirects RedirectRepository,
	tx Transactor,
	hasher PasswordHasher,
	ledger *TokenLedger,
	sessions *SessionStore,
	policy AccountPolicy,
	opts ...Option,
) (*AccountService, error) {
	switch {
	case users == nil:
		return nil, oops.Errorf("user repository is required")
	case redirects == nil:
		return nil, oops.Errorf("redirect repository is required")
	case tx == nil:
		return nil, oops.Errorf("transactor is required")
	case hasher == nil:
		return nil, oops.Errorf("password hasher is required")
	case ledger == nil:
		return nil, oops.Errorf("token ledger is required")
	case sessions == nil:
		return nil, oops.Errorf("session store is required")
	}
	if len(policy.Locales) == 0 {
		policy.Locales = slices.Clone(DefaultLocales)
	}
	o := buildOptions(opts)
	return &AccountService{
		users:             users,
		redirects:         redirects,
		tx:                tx,
		hasher:            hasher,
		ledger:            ledger,
		sessions:          sessions,
		policy:            policy,
		placeholderDomain: o.placeholderDomain,
		logger:            o.logger,
		now:               o.now,
	}, nil
}

// Register creates a password account.
func (s *AccountService) Register(ctx context.Context, email, password, displayName, locale string) (*User, error) {
	email = NormalizeEmail(email)
	if !ValidateEmailSyntax(email) || IsPlaceholderEmail(email, s.placeholderDomain) {
		return nil, oops.Code(CodeInvalidEmail).Errorf("invalid email address")
	}
	if err := ValidatePasswordStrength(password); err != nil {
		return nil, err
	}
	if locale == "" {
		locale = s.DefaultLocale()
	} else if !s.SupportsLocale(locale) {
		return nil, unsupportedLocale(locale)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("REGISTER_FAILED").With("operation", "hash password").Wrap(err)
	}
	user, err := NewUser(email, hash, strings.TrimSpace(displayName), locale)
	if err != nil {
		return nil, err
	}
	user.PrimaryProvider = ProviderPassword
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, emailTaken()
		}
		return nil, oops.Code("REGISTER_FAILED").With("operation", "create user").Wrap(err)
	}
	s.logger.InfoContext(ctx, "account registered", "user_id", user.ID)
	return user, nil
}

// Login checks an email and password. Unknown emails and wrong passwords
// are indistinguishable, in result and in timing. Hashes made with an old
// work factor are upgraded on success.
func (s *AccountService) Login(ctx context.Context, email, password string) (*User, error) {
	user, lookupErr := s.users.GetByEmail(ctx, NormalizeEmail(email))

	targetHash := dummyPasswordHash
	exists := false
	switch {
	case lookupErr == nil:
		exists = user.HasPassword()
		if exists {
			targetHash = user.PasswordHash
		}
	case !errors.Is(lookupErr, ErrNotFound):
		return nil, oops.Code("LOGIN_FAILED").With("operation", "get user by email").Wrap(lookupErr)
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil && exists {
		return nil, oops.Code("LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID).
			Wrap(verifyErr)
	}
	if !exists || !valid {
		return nil, invalidCredentials()
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		if newHash, err := s.hasher.Hash(password); err == nil {
			if err := s.users.UpdatePassword(ctx, user.ID, newHash); err != nil {
				s.logger.WarnContext(ctx, "password rehash failed", "user_id", user.ID, "error", err)
			} else {
				user.PasswordHash = newHash
			}
		}
	}
	return user, nil
}

// ChangePassword replaces the password of a signed-in user after checking
// the current one. Other sessions are revoked when the policy says so;
// keepSessionID survives.
func (s *AccountService) ChangePassword(ctx context.Context, userID int64, current, next string, keepSessionID ulid.ULID) error {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.HasPassword() {
		return oops.Code(CodeNotLinked).Errorf("no password is set")
	}
	ok, err := s.hasher.Verify(current, user.PasswordHash)
	if err != nil {
		return oops.Code("PASSWORD_CHANGE_FAILED").With("user_id", userID).Wrap(err)
	}
	if !ok {
		return invalidCredentials()
	}
	if err := ValidatePasswordStrength(next); err != nil {
		return err
	}
	return s.replacePassword(ctx, userID, next, keepSessionID)
}

// SetPassword adds a password to an account that signs in only through
// providers.
func (s *AccountService) SetPassword(ctx context.Context, userID int64, password string, keepSessionID ulid.ULID) error {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.HasPassword() {
		return oops.Code(CodeAlreadyExists).Errorf("password is already set")
	}
	if err := ValidatePasswordStrength(password); err != nil {
		return err
	}
	return s.replacePassword(ctx, userID, password, keepSessionID)
}

func (s *AccountService) replacePassword(ctx context.Context, userID int64, password string, keepSessionID ulid.ULID) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return oops.Code("PASSWORD_CHANGE_FAILED").With("operation", "hash password").Wrap(err)
	}
	var revoked int64
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
			return oops.Code("PASSWORD_CHANGE_FAILED").
				With("operation", "update password").
				With("user_id", userID).
				Wrap(err)
		}
		if !s.policy.RevokeSessionsOnPasswordChange {
			return nil
		}
		n, err := s.sessions.RevokeAllExcept(ctx, userID, keepSessionID)
		revoked = n
		return err
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "password changed", "user_id", userID, "sessions_revoked", revoked)
	return nil
}

// RequestPasswordReset issues a reset token for the account behind email.
// Unknown emails succeed with an empty token so callers cannot probe for
// accounts.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) (string, *User, error) {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil, nil
		}
		return "", nil, oops.Code("RESET_REQUEST_FAILED").With("operation", "get user by email").Wrap(err)
	}
	token, _, err := s.ledger.Issue(ctx, user.ID, TokenPasswordReset, "")
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// ResetPassword consumes a reset token and sets the new password in one
// transaction.
func (s *AccountService) ResetPassword(ctx context.Context, token, password string) (*User, error) {
	if err := ValidatePasswordStrength(password); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("RESET_PASSWORD_FAILED").With("operation", "hash password").Wrap(err)
	}

	var user *User
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		record, err := s.ledger.Consume(ctx, TokenPasswordReset, token)
		if err != nil {
			return err
		}
		if err := s.users.UpdatePassword(ctx, record.UserID, hash); err != nil {
			return oops.With("operation", "update password").With("user_id", record.UserID).Wrap(err)
		}
		if s.policy.RevokeSessionsOnPasswordChange {
			if _, err := s.sessions.RevokeAll(ctx, record.UserID); err != nil {
				return err
			}
		}
		user, err = s.users.GetByID(ctx, record.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "password reset", "user_id", user.ID)
	return user, nil
}

// RequestEmailVerification issues a verification token for the user's
// current email. Returns an empty token when the email is already verified.
func (s *AccountService) RequestEmailVerification(ctx context.Context, userID int64) (string, *User, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	if user.EmailVerified {
		return "", user, nil
	}
	if IsPlaceholderEmail(user.Email, s.placeholderDomain) {
		return "", nil, oops.Code(CodeInvalidEmail).Errorf("account has no deliverable email")
	}
	token, _, err := s.ledger.Issue(ctx, userID, TokenEmailVerification, "")
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// VerifyEmail consumes a verification token and marks the email verified.
func (s *AccountService) VerifyEmail(ctx context.Context, token string) (*User, error) {
	var user *User
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		record, err := s.ledger.Consume(ctx, TokenEmailVerification, token)
		if err != nil {
			return err
		}
		if err := s.users.MarkEmailVerified(ctx, record.UserID); err != nil {
			return oops.With("operation", "mark email verified").With("user_id", record.UserID).Wrap(err)
		}
		user, err = s.users.GetByID(ctx, record.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// RequestEmailChange issues a token that, once confirmed, moves the
// account to newEmail. The token is sent to newEmail.
func (s *AccountService) RequestEmailChange(ctx context.Context, userID int64, newEmail string) (string, error) {
	newEmail = NormalizeEmail(newEmail)
	if !ValidateEmailSyntax(newEmail) || IsPlaceholderEmail(newEmail, s.placeholderDomain) {
		return "", oops.Code(CodeInvalidEmail).Errorf("invalid email address")
	}
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.Email == newEmail {
		return "", oops.Code(CodeInvalidArgument).Errorf("new email matches the current one")
	}
	if err := s.requireEmailFree(ctx, newEmail, userID); err != nil {
		return "", err
	}
	token, _, err := s.ledger.Issue(ctx, userID, TokenEmailChange, newEmail)
	return token, err
}

// ConfirmEmailChange consumes an email change token, rechecks that the
// target address is still free and applies it, all in one transaction.
func (s *AccountService) ConfirmEmailChange(ctx context.Context, token string) (*User, error) {
	var user *User
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		record, err := s.ledger.Consume(ctx, TokenEmailChange, token)
		if err != nil {
			return err
		}
		if err := s.requireEmailFree(ctx, record.NewEmail, record.UserID); err != nil {
			return err
		}
		if err := s.users.UpdateEmail(ctx, record.UserID, record.NewEmail); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				return emailTaken()
			}
			return oops.With("operation", "update email").With("user_id", record.UserID).Wrap(err)
		}
		user, err = s.users.GetByID(ctx, record.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "email changed", "user_id", user.ID)
	return user, nil
}

func (s *AccountService) requireEmailFree(ctx context.Context, email string, userID int64) error {
	other, err := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return oops.With("operation", "get user by email").Wrap(err)
	case other.ID != userID:
		return emailTaken()
	}
	return nil
}

// UpdateProfile sets the display name.
func (s *AccountService) UpdateProfile(ctx context.Context, userID int64, displayName string) (*User, error) {
	if err := s.users.UpdateDisplayName(ctx, userID, strings.TrimSpace(displayName)); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, accountNotFound(userID)
		}
		return nil, oops.Code("PROFILE_UPDATE_FAILED").With("user_id", userID).Wrap(err)
	}
	return s.getUser(ctx, userID)
}

// UpdateLocale sets the preferred locale, which must be supported.
func (s *AccountService) UpdateLocale(ctx context.Context, userID int64, locale string) error {
	if !s.SupportsLocale(locale) {
		return unsupportedLocale(locale)
	}
	if err := s.users.UpdateLocale(ctx, userID, locale); err != nil {
		if errors.Is(err, ErrNotFound) {
			return accountNotFound(userID)
		}
		return oops.Code("LOCALE_UPDATE_FAILED").With("user_id", userID).Wrap(err)
	}
	return nil
}

// PreferredLocale returns the user's locale, or the default when the user
// has none or is unknown.
func (s *AccountService) PreferredLocale(ctx context.Context, userID int64) (string, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		if HasCode(err, CodeAccountNotFound) {
			return s.DefaultLocale(), nil
		}
		return "", err
	}
	if user.Locale == "" || !s.SupportsLocale(user.Locale) {
		return s.DefaultLocale(), nil
	}
	return user.Locale, nil
}

// Locales returns the supported locales.
func (s *AccountService) Locales() []string {
	return slices.Clone(s.policy.Locales)
}

// DefaultLocale returns the first supported locale.
func (s *AccountService) DefaultLocale() string {
	return s.policy.Locales[0]
}

// SupportsLocale reports whether locale is supported.
func (s *AccountService) SupportsLocale(locale string) bool {
	return slices.Contains(s.policy.Locales, locale)
}

// GetUser returns a user by ID, following a merge redirect one hop when
// the ID belongs to an account that was merged away.
func (s *AccountService) GetUser(ctx context.Context, userID int64) (*User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, oops.Code("USER_GET_FAILED").With("user_id", userID).Wrap(err)
	}

	target, err := s.redirects.Resolve(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, accountNotFound(userID)
		}
		return nil, oops.Code("USER_GET_FAILED").With("operation", "resolve redirect").With("user_id", userID).Wrap(err)
	}
	user, err = s.users.GetByID(ctx, target)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, accountNotFound(userID)
		}
		return nil, oops.Code("USER_GET_FAILED").With("user_id", target).Wrap(err)
	}
	return user, nil
}

func (s *AccountService) getUser(ctx context.Context, userID int64) (*User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, accountNotFound(userID)
		}
		return nil, oops.Code("USER_GET_FAILED").With("user_id", userID).Wrap(err)
	}
	return user, nil
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid email or password")
}

func accountNotFound(userID int64) error {
	return oops.Code(CodeAccountNotFound).With("user_id", userID).Errorf("account not found")
}

func unsupportedLocale(locale string) error {
	return oops.Code(CodeInvalidArgument).With("locale", locale).Errorf("unsupported locale")
}

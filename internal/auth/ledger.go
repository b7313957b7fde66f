// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
)

// TokenTTLs holds the lifetime of each token kind.
type TokenTTLs struct {
	PasswordReset     time.Duration `koanf:"password_reset" yaml:"password_reset" json:"password_reset"`
	EmailVerification time.Duration `koanf:"email_verification" yaml:"email_verification" json:"email_verification"`
	EmailChange       time.Duration `koanf:"email_change" yaml:"email_change" json:"email_change"`
}

// DefaultTokenTTLs returns the default lifetimes.
func DefaultTokenTTLs() TokenTTLs {
	return TokenTTLs{
		PasswordReset:     DefaultPasswordResetTTL,
		EmailVerification: DefaultEmailVerificationTTL,
		EmailChange:       DefaultEmailChangeTTL,
	}
}

// For returns the lifetime of kind, falling back to the default.
func (t TokenTTLs) For(kind TokenKind) time.Duration {
	var ttl, def time.Duration
	switch kind {
	case TokenPasswordReset:
		ttl, def = t.PasswordReset, DefaultPasswordResetTTL
	case TokenEmailVerification:
		ttl, def = t.EmailVerification, DefaultEmailVerificationTTL
	case TokenEmailChange:
		ttl, def = t.EmailChange, DefaultEmailChangeTTL
	}
	if ttl <= 0 {
		return def
	}
	return ttl
}

// TokenLedger issues, validates and consumes single-use security tokens.
type TokenLedger struct {
	tokens TokenRepository
	tx     Transactor
	ttls   TokenTTLs
	now    func() time.Time
}

// NewTokenLedger creates a TokenLedger.
func NewTokenLedger(tokens TokenRepository, tx Transactor, ttls TokenTTLs, opts ...Option) (*TokenLedger, error) {
	if tokens == nil {
		return nil, oops.Errorf("token repository is required")
	}
	if tx == nil {
		return nil, oops.Errorf("transactor is required")
	}
	o := buildOptions(opts)
	return &TokenLedger{tokens: tokens, tx: tx, ttls: ttls, now: o.now}, nil
}

// Issue supersedes the user's outstanding tokens of kind and stores a new
// one. newEmail is the target address for email_change and ignored
// otherwise. Returns the plaintext token, which is never stored.
func (l *TokenLedger) Issue(ctx context.Context, userID int64, kind TokenKind, newEmail string) (string, *SecurityToken, error) {
	if kind != TokenEmailChange {
		newEmail = ""
	}
	token, hash, err := GenerateToken()
	if err != nil {
		return "", nil, err
	}
	now := l.now()
	record, err := NewSecurityToken(userID, kind, hash, newEmail, now, now.Add(l.ttls.For(kind)))
	if err != nil {
		return "", nil, err
	}

	err = l.tx.InTransaction(ctx, func(ctx context.Context) error {
		if _, err := l.tokens.RevokeOutstanding(ctx, userID, kind, now); err != nil {
			return oops.With("operation", "revoke outstanding").Wrap(err)
		}
		if err := l.tokens.Create(ctx, record); err != nil {
			return oops.With("operation", "create token").Wrap(err)
		}
		return nil
	})
	if err != nil {
		return "", nil, oops.Code("TOKEN_ISSUE_FAILED").
			With("user_id", userID).
			With("kind", string(kind)).
			Wrap(err)
	}
	return token, record, nil
}

// Validate looks up a token without consuming it. Failures carry
// TOKEN_INVALID with the internal reason in the "reason" context key.
func (l *TokenLedger) Validate(ctx context.Context, kind TokenKind, token string) (*SecurityToken, error) {
	if token == "" {
		return nil, tokenInvalid(kind, ReasonNotFound)
	}
	record, err := l.tokens.GetByHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, tokenInvalid(kind, ReasonNotFound)
		}
		return nil, oops.Code("TOKEN_VALIDATE_FAILED").With("kind", string(kind)).Wrap(err)
	}
	if record.Kind != kind {
		return nil, tokenInvalid(kind, ReasonWrongKind)
	}
	if reason := record.RejectionAt(l.now()); reason != "" {
		return nil, tokenInvalid(kind, reason)
	}
	return record, nil
}

// Consume marks a token used. At most one concurrent caller succeeds; the
// rest get TOKEN_INVALID. Runs inside the caller's transaction when ctx
// carries one.
func (l *TokenLedger) Consume(ctx context.Context, kind TokenKind, token string) (*SecurityToken, error) {
	if token == "" {
		return nil, tokenInvalid(kind, ReasonNotFound)
	}
	hash := HashToken(token)
	now := l.now()
	record, err := l.tokens.Consume(ctx, hash, kind, now)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, oops.Code("TOKEN_CONSUME_FAILED").With("kind", string(kind)).Wrap(err)
	}

	// The conditional update matched nothing; read back only to name the reason.
	existing, err := l.tokens.GetByHash(ctx, hash)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, tokenInvalid(kind, ReasonNotFound)
	case err != nil:
		return nil, oops.Code("TOKEN_CONSUME_FAILED").With("kind", string(kind)).Wrap(err)
	case existing.Kind != kind:
		return nil, tokenInvalid(kind, ReasonWrongKind)
	}
	reason := existing.RejectionAt(now)
	if reason == "" {
		reason = ReasonUsed
	}
	return nil, tokenInvalid(kind, reason)
}

// PurgeExpired deletes tokens that can no longer be consumed.
func (l *TokenLedger) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := l.tokens.DeleteExpired(ctx, l.now())
	if err != nil {
		return 0, oops.Code("TOKEN_PURGE_FAILED").Wrap(err)
	}
	return n, nil
}

func tokenInvalid(kind TokenKind, reason string) error {
	return oops.Code(CodeTokenInvalid).
		With("kind", string(kind)).
		With("reason", reason).
		Errorf("token is not valid")
}

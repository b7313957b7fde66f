// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package auth

import (
	"context"
	"time"

	"github.com/samber/oops"
)

// User is a local account.
type User struct {
	ID              int64
	Email           string
	PasswordHash    string // empty for accounts that only sign in through a provider
	DisplayName     string
	Locale          string
	EmailVerified   bool
	IsAdmin         bool
	PrimaryProvider Provider // empty until a method is marked primary
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewUser creates a validated User ready for UserRepository.Create.
// The ID is assigned by storage.
func NewUser(email, passwordHash, displayName, locale string) (*User, error) {
	email = NormalizeEmail(email)
	if !ValidateEmailSyntax(email) {
		return nil, oops.Code(CodeInvalidEmail).With("field", "email").Errorf("invalid email address")
	}
	now := time.Now()
	return &User{
		Email:        email,
		PasswordHash: passwordHash,
		DisplayName:  displayName,
		Locale:       locale,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// HasPassword reports whether the user can sign in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user and assigns its ID.
	// Returns ErrAlreadyExists if the email is taken.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id int64) (*User, error)

	// GetByIDForUpdate retrieves a user by ID and row-locks it for the
	// surrounding transaction.
	GetByIDForUpdate(ctx context.Context, id int64) (*User, error)

	// GetByEmail retrieves a user by email, case-insensitively.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// Update writes the profile fields of a user (display name, locale,
	// password hash, email verified, admin, primary provider). Callers
	// must hold the row lock from GetByIDForUpdate.
	Update(ctx context.Context, user *User) error

	// UpdateDisplayName sets the display name.
	UpdateDisplayName(ctx context.Context, id int64, displayName string) error

	// UpdatePassword replaces the password hash.
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error

	// MarkEmailVerified sets the email-verified flag.
	MarkEmailVerified(ctx context.Context, id int64) error

	// UpdateEmail replaces the email and marks it verified.
	// Returns ErrAlreadyExists if another user holds the email.
	UpdateEmail(ctx context.Context, id int64, email string) error

	// UpdateLocale sets the preferred locale.
	UpdateLocale(ctx context.Context, id int64, locale string) error

	// SetPrimaryProvider sets or clears (empty provider) the primary provider.
	SetPrimaryProvider(ctx context.Context, id int64, provider Provider) error

	// Delete removes a user.
	Delete(ctx context.Context, id int64) error
}

// RedirectRepository keeps the ids of merged-away users pointing at the
// account that absorbed them.
type RedirectRepository interface {
	// Resolve returns the user id that oldID was merged into.
	// Returns ErrNotFound if oldID was never merged.
	Resolve(ctx context.Context, oldID int64) (int64, error)

	// Collapse re-points every redirect that targets from so it targets to.
	Collapse(ctx context.Context, from, to int64) (int64, error)

	// Add records oldID -> newID.
	Add(ctx context.Context, oldID, newID int64) error
}

// AssociationKind names a many-to-many relation between a user and a
// directory entity.
type AssociationKind string

// Association kinds.
const (
	AssociationSpecialty AssociationKind = "specialty"
	AssociationClinic    AssociationKind = "clinic"
	AssociationLanguage  AssociationKind = "language"
)

// AssociationKinds lists every association kind.
var AssociationKinds = []AssociationKind{AssociationSpecialty, AssociationClinic, AssociationLanguage}

// ParseAssociationKind validates an association kind.
func ParseAssociationKind(s string) (AssociationKind, error) {
	for _, k := range AssociationKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", oops.Code(CodeInvalidArgument).With("kind", s).Errorf("unknown association kind")
}

// AssociationRepository manages user associations with directory entities.
type AssociationRepository interface {
	// List returns the referenced entity ids in insertion order.
	List(ctx context.Context, userID int64, kind AssociationKind) ([]int64, error)

	// Add links the given entities. Existing links are ignored.
	Add(ctx context.Context, userID int64, kind AssociationKind, refs []int64) error

	// Remove unlinks the given entities.
	Remove(ctx context.Context, userID int64, kind AssociationKind, refs []int64) error

	// DeleteAll removes every link of the kind.
	DeleteAll(ctx context.Context, userID int64, kind AssociationKind) error
}

// Transactor runs a function inside a storage transaction. Repositories
// called with the context passed to fn participate in that transaction.
// Returning an error from fn rolls everything back.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

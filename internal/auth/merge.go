// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/medidir/medidir/internal/reldiff"
)

// MergeResult summarizes an account merge.
type MergeResult struct {
	User               *User
	IdentitiesMoved    int64
	AssociationsAdded  int
	RedirectsCollapsed int64
}

// MergeService folds one account into another and edits user
// associations.
type MergeService struct {
	users        UserRepository
	identities   IdentityRepository
	sessions     SessionRepository
	tokens       TokenRepository
	redirects    RedirectRepository
	associations AssociationRepository
	tx           Transactor
	logger       *slog.Logger
	now          func() time.Time
}

// NewMergeService creates a MergeService.
func NewMergeService(
	users UserRepository,
	identities IdentityRepository,
	sessions SessionRepository,
	tokens TokenRepository,
	redirects RedirectRepository,
	associations AssociationRepository,
	tx Transactor,
	opts ...Option,
) (*MergeService, error) {
	switch {
	case users == nil:
		return nil, oops.Errorf("user repository is required")
	case identities == nil:
		return nil, oops.Errorf("identity repository is required")
	case sessions == nil:
		return nil, oops.Errorf("session repository is required")
	case tokens == nil:
		return nil, oops.Errorf("token repository is required")
	case redirects == nil:
		return nil, oops.Errorf("redirect repository is required")
	case associations == nil:
		return nil, oops.Errorf("association repository is required")
	case tx == nil:
		return nil, oops.Errorf("transactor is required")
	}
	o := buildOptions(opts)
	return &MergeService{
		users:        users,
		identities:   identities,
		sessions:     sessions,
		tokens:       tokens,
		redirects:    redirects,
		associations: associations,
		tx:           tx,
		logger:       o.logger,
		now:          o.now,
	}, nil
}

// Merge moves everything the secondary account owns onto the primary one,
// leaves a redirect from the secondary id and deletes the secondary. All
// of it commits or none of it does.
func (m *MergeService) Merge(ctx context.Context, primaryID, secondaryID int64) (*MergeResult, error) {
	if primaryID == secondaryID {
		return nil, oops.Code(CodeInvalidArgument).
			With("user_id", primaryID).
			Errorf("cannot merge an account into itself")
	}

	result := &MergeResult{}
	err := m.tx.InTransaction(ctx, func(ctx context.Context) error {
		primary, secondary, err := m.lockPair(ctx, primaryID, secondaryID)
		if err != nil {
			return err
		}
		if err := m.checkProviderCollision(ctx, primaryID, secondaryID); err != nil {
			return err
		}

		if result.IdentitiesMoved, err = m.identities.Reassign(ctx, secondaryID, primaryID); err != nil {
			return oops.With("operation", "reassign identities").Wrap(err)
		}
		for _, kind := range AssociationKinds {
			added, err := m.mergeAssociations(ctx, primaryID, secondaryID, kind)
			if err != nil {
				return err
			}
			result.AssociationsAdded += added
		}

		mergeProfile(primary, secondary)
		primary.UpdatedAt = m.now()
		if err := m.users.Update(ctx, primary); err != nil {
			return oops.With("operation", "update primary").Wrap(err)
		}

		if _, err := m.sessions.DeleteByUser(ctx, secondaryID); err != nil {
			return oops.With("operation", "delete secondary sessions").Wrap(err)
		}
		if _, err := m.tokens.DeleteByUser(ctx, secondaryID); err != nil {
			return oops.With("operation", "delete secondary tokens").Wrap(err)
		}

		if result.RedirectsCollapsed, err = m.redirects.Collapse(ctx, secondaryID, primaryID); err != nil {
			return oops.With("operation", "collapse redirects").Wrap(err)
		}
		if err := m.redirects.Add(ctx, secondaryID, primaryID); err != nil {
			return oops.With("operation", "add redirect").Wrap(err)
		}
		if err := m.users.Delete(ctx, secondaryID); err != nil {
			return oops.With("operation", "delete secondary").Wrap(err)
		}
		result.User = primary
		return nil
	})
	if err != nil {
		return nil, oops.
			With("primary_id", primaryID).
			With("secondary_id", secondaryID).
			Wrap(err)
	}

	m.logger.InfoContext(ctx, "accounts merged",
		"primary_id", primaryID,
		"secondary_id", secondaryID,
		"identities_moved", result.IdentitiesMoved,
		"redirects_collapsed", result.RedirectsCollapsed)
	return result, nil
}

// lockPair row-locks both users in id order so concurrent merges touching
// the same accounts cannot deadlock.
func (m *MergeService) lockPair(ctx context.Context, primaryID, secondaryID int64) (*User, *User, error) {
	first, second := primaryID, secondaryID
	if second < first {
		first, second = second, first
	}
	locked := make(map[int64]*User, 2)
	for _, id := range []int64{first, second} {
		user, err := m.users.GetByIDForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, nil, oops.Code(CodeAccountNotFound).
					With("user_id", id).
					Errorf("account not found")
			}
			return nil, nil, oops.With("operation", "lock user").With("user_id", id).Wrap(err)
		}
		locked[id] = user
	}
	return locked[primaryID], locked[secondaryID], nil
}

func (m *MergeService) checkProviderCollision(ctx context.Context, primaryID, secondaryID int64) error {
	primaryProviders, err := m.providers(ctx, primaryID)
	if err != nil {
		return err
	}
	secondaryProviders, err := m.providers(ctx, secondaryID)
	if err != nil {
		return err
	}
	// Providers of the secondary that the primary lacks are exactly the
	// ones that can move.
	movable := reldiff.Diff(primaryProviders, secondaryProviders).ToAdd
	if len(movable) != len(secondaryProviders) {
		return oops.Code(CodeAlreadyExists).Errorf("both accounts link the same provider")
	}
	return nil
}

func (m *MergeService) providers(ctx context.Context, userID int64) ([]Provider, error) {
	identities, err := m.identities.ListByUser(ctx, userID)
	if err != nil {
		return nil, oops.With("operation", "list identities").With("user_id", userID).Wrap(err)
	}
	out := make([]Provider, 0, len(identities))
	for _, id := range identities {
		out = append(out, id.Provider)
	}
	return out, nil
}

func (m *MergeService) mergeAssociations(ctx context.Context, primaryID, secondaryID int64, kind AssociationKind) (int, error) {
	current, err := m.associations.List(ctx, primaryID, kind)
	if err != nil {
		return 0, oops.With("operation", "list associations").With("kind", string(kind)).Wrap(err)
	}
	incoming, err := m.associations.List(ctx, secondaryID, kind)
	if err != nil {
		return 0, oops.With("operation", "list associations").With("kind", string(kind)).Wrap(err)
	}
	delta := reldiff.Diff(current, reldiff.Union(current, incoming))
	if len(delta.ToAdd) > 0 {
		if err := m.associations.Add(ctx, primaryID, kind, delta.ToAdd); err != nil {
			return 0, oops.With("operation", "add associations").With("kind", string(kind)).Wrap(err)
		}
	}
	if err := m.associations.DeleteAll(ctx, secondaryID, kind); err != nil {
		return 0, oops.With("operation", "delete associations").With("kind", string(kind)).Wrap(err)
	}
	return len(delta.ToAdd), nil
}

// mergeProfile fills empty primary fields from the secondary. Flags are
// OR-ed.
func mergeProfile(primary, secondary *User) {
	primary.DisplayName = firstNonEmpty(primary.DisplayName, secondary.DisplayName)
	primary.PasswordHash = firstNonEmpty(primary.PasswordHash, secondary.PasswordHash)
	primary.Locale = firstNonEmpty(primary.Locale, secondary.Locale)
	primary.PrimaryProvider = Provider(firstNonEmpty(string(primary.PrimaryProvider), string(secondary.PrimaryProvider)))
	primary.EmailVerified = primary.EmailVerified || secondary.EmailVerified
	primary.IsAdmin = primary.IsAdmin || secondary.IsAdmin
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Associations lists a user's links of one kind.
func (m *MergeService) Associations(ctx context.Context, userID int64, kind AssociationKind) ([]int64, error) {
	refs, err := m.associations.List(ctx, userID, kind)
	if err != nil {
		return nil, oops.Code("ASSOCIATION_LIST_FAILED").
			With("user_id", userID).
			With("kind", string(kind)).
			Wrap(err)
	}
	return refs, nil
}

// SyncAssociations makes the user's links of kind equal desired, applying
// only the difference, atomically.
func (m *MergeService) SyncAssociations(ctx context.Context, userID int64, kind AssociationKind, desired []int64) (reldiff.Delta[int64], error) {
	var delta reldiff.Delta[int64]
	err := m.tx.InTransaction(ctx, func(ctx context.Context) error {
		if _, err := m.users.GetByIDForUpdate(ctx, userID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return oops.Code(CodeAccountNotFound).Errorf("account not found")
			}
			return oops.With("operation", "lock user").Wrap(err)
		}
		current, err := m.associations.List(ctx, userID, kind)
		if err != nil {
			return oops.With("operation", "list associations").Wrap(err)
		}
		delta = reldiff.Diff(current, desired)
		if len(delta.ToRemove) > 0 {
			if err := m.associations.Remove(ctx, userID, kind, delta.ToRemove); err != nil {
				return oops.With("operation", "remove associations").Wrap(err)
			}
		}
		if len(delta.ToAdd) > 0 {
			if err := m.associations.Add(ctx, userID, kind, delta.ToAdd); err != nil {
				return oops.With("operation", "add associations").Wrap(err)
			}
		}
		return nil
	})
	if err != nil {
		return reldiff.Delta[int64]{}, oops.
			With("user_id", userID).
			With("kind", string(kind)).
			Wrap(err)
	}
	return delta, nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medidir/medidir/internal/auth"
	"github.com/medidir/medidir/internal/auth/authtest"
	"github.com/medidir/medidir/pkg/errutil"
)

func TestNewMergeService_RequiresDependencies(t *testing.T) {
	s := authtest.NewStore()
	_, err := auth.NewMergeService(nil, s.Identities(), s.Sessions(), s.Tokens(), s.Redirects(), s.Associations(), s)
	assert.Error(t, err)
	_, err = auth.NewMergeService(s.Users(), s.Identities(), s.Sessions(), s.Tokens(), s.Redirects(), nil, s)
	assert.Error(t, err)
	_, err = auth.NewMergeService(s.Users(), s.Identities(), s.Sessions(), s.Tokens(), s.Redirects(), s.Associations(), nil)
	assert.Error(t, err)
}

func TestMergeService_Merge(t *testing.T) {
	ctx := context.Background()

	t.Run("moves everything and deletes the secondary", func(t *testing.T) {
		svc := newServices(t)
		users := svc.Store.Users()
		assoc := svc.Store.Associations()

		primary, err := svc.Resolver.Resolve(ctx, googleProfile("g-1", "ana@example.com"), nil)
		require.NoError(t, err)
		secondary := register(t, svc, "ana.old@example.com")
		require.NoError(t, users.MarkEmailVerified(ctx, secondary.ID))
		secondary.IsAdmin = true
		secondary.EmailVerified = true
		require.NoError(t, users.Update(ctx, secondary))
		_, err = svc.Resolver.Resolve(ctx, &auth.ExternalProfile{Provider: auth.ProviderTelegram, ExternalID: "42"}, secondary)
		require.NoError(t, err)

		require.NoError(t, assoc.Add(ctx, primary.User.ID, auth.AssociationSpecialty, []int64{1, 2}))
		require.NoError(t, assoc.Add(ctx, secondary.ID, auth.AssociationSpecialty, []int64{2, 3}))
		require.NoError(t, assoc.Add(ctx, secondary.ID, auth.AssociationLanguage, []int64{7}))

		_, secondaryToken, err := svc.Sessions.Create(ctx, secondary.ID, "", "")
		require.NoError(t, err)
		resetToken, _, err := svc.Ledger.Issue(ctx, secondary.ID, auth.TokenPasswordReset, "")
		require.NoError(t, err)

		result, err := svc.Merges.Merge(ctx, primary.User.ID, secondary.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.IdentitiesMoved)
		assert.Equal(t, 2, result.AssociationsAdded)

		merged, err := users.GetByID(ctx, primary.User.ID)
		require.NoError(t, err)
		assert.Equal(t, "ana@example.com", merged.Email)
		assert.Equal(t, "Ana Petrović", merged.DisplayName, "primary's non-empty name wins")
		assert.Equal(t, secondary.PasswordHash, merged.PasswordHash, "empty primary field is filled")
		assert.Equal(t, auth.ProviderGoogle, merged.PrimaryProvider)
		assert.True(t, merged.IsAdmin)
		assert.True(t, merged.EmailVerified)

		ids, err := svc.Resolver.Identities(ctx, primary.User.ID)
		require.NoError(t, err)
		assert.Len(t, ids, 2)

		specialties, err := assoc.List(ctx, primary.User.ID, auth.AssociationSpecialty)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3}, specialties)
		languages, err := assoc.List(ctx, primary.User.ID, auth.AssociationLanguage)
		require.NoError(t, err)
		assert.Equal(t, []int64{7}, languages)

		_, err = users.GetByID(ctx, secondary.ID)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		_, _, err = svc.Sessions.Resolve(ctx, secondaryToken)
		assert.Error(t, err)
		_, err = svc.Ledger.Validate(ctx, auth.TokenPasswordReset, resetToken)
		assert.Error(t, err)

		target, err := svc.Store.Redirects().Resolve(ctx, secondary.ID)
		require.NoError(t, err)
		assert.Equal(t, primary.User.ID, target)

		// The merged account signs in with either method.
		_, err = svc.Accounts.Login(ctx, "ana@example.com", testPassword)
		assert.NoError(t, err)
		res, err := svc.Resolver.Resolve(ctx, &auth.ExternalProfile{Provider: auth.ProviderTelegram, ExternalID: "42"}, nil)
		require.NoError(t, err)
		assert.Equal(t, primary.User.ID, res.User.ID)
	})

	t.Run("merging a merged-away id fails", func(t *testing.T) {
		svc := newServices(t)
		a := register(t, svc, "a@example.com")
		b := register(t, svc, "b@example.com")
		c := register(t, svc, "c@example.com")

		_, err := svc.Merges.Merge(ctx, a.ID, b.ID)
		require.NoError(t, err)

		_, err = svc.Merges.Merge(ctx, c.ID, b.ID)
		errutil.AssertErrorCode(t, err, auth.CodeAccountNotFound)
		_, err = svc.Merges.Merge(ctx, b.ID, c.ID)
		errutil.AssertErrorCode(t, err, auth.CodeAccountNotFound)
	})

	t.Run("redirect chains collapse to one hop", func(t *testing.T) {
		svc := newServices(t)
		a0 := register(t, svc, "a0@example.com")
		b := register(t, svc, "b@example.com")
		a := register(t, svc, "a@example.com")

		_, err := svc.Merges.Merge(ctx, b.ID, a0.ID)
		require.NoError(t, err)
		result, err := svc.Merges.Merge(ctx, a.ID, b.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.RedirectsCollapsed)

		for _, old := range []int64{a0.ID, b.ID} {
			target, err := svc.Store.Redirects().Resolve(ctx, old)
			require.NoError(t, err)
			assert.Equal(t, a.ID, target)
		}
		got, err := svc.Accounts.GetUser(ctx, a0.ID)
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ID)
	})

	t.Run("same id", func(t *testing.T) {
		svc := newServices(t)
		a := register(t, svc, "a@example.com")
		_, err := svc.Merges.Merge(ctx, a.ID, a.ID)
		errutil.AssertErrorCode(t, err, auth.CodeInvalidArgument)
	})

	t.Run("both accounts link the same provider", func(t *testing.T) {
		svc := newServices(t)
		a, err := svc.Resolver.Resolve(ctx, googleProfile("g-1", "a@example.com"), nil)
		require.NoError(t, err)
		b, err := svc.Resolver.Resolve(ctx, googleProfile("g-2", "b@example.com"), nil)
		require.NoError(t, err)

		_, err = svc.Merges.Merge(ctx, a.User.ID, b.User.ID)
		errutil.AssertErrorCode(t, err, auth.CodeAlreadyExists)

		_, err = svc.Store.Users().GetByID(ctx, b.User.ID)
		assert.NoError(t, err)
	})

	t.Run("failure on the final delete rolls everything back", func(t *testing.T) {
		svc := newServices(t)
		a := register(t, svc, "a@example.com")
		b, err := svc.Resolver.Resolve(ctx, googleProfile("g-2", "b@example.com"), nil)
		require.NoError(t, err)
		require.NoError(t, svc.Store.Associations().Add(ctx, b.User.ID, auth.AssociationClinic, []int64{9}))

		svc.Store.FailNext("users.Delete", errors.New("lock timeout"))
		_, err = svc.Merges.Merge(ctx, a.ID, b.User.ID)
		require.Error(t, err)

		identity, err := svc.Store.Identities().GetByExternalID(ctx, auth.ProviderGoogle, "g-2")
		require.NoError(t, err)
		assert.Equal(t, b.User.ID, identity.UserID)
		clinics, err := svc.Store.Associations().List(ctx, b.User.ID, auth.AssociationClinic)
		require.NoError(t, err)
		assert.Equal(t, []int64{9}, clinics)
		_, err = svc.Store.Redirects().Resolve(ctx, b.User.ID)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestMergeService_SyncAssociations(t *testing.T) {
	ctx := context.Background()
	svc := newServices(t)
	user := register(t, svc, "a@example.com")

	delta, err := svc.Merges.SyncAssociations(ctx, user.ID, auth.AssociationClinic, []int64{3, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, delta.ToAdd)
	assert.Empty(t, delta.ToRemove)

	delta, err = svc.Merges.SyncAssociations(ctx, user.ID, auth.AssociationClinic, []int64{2, 4})
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, delta.ToAdd)
	assert.Equal(t, []int64{3, 1}, delta.ToRemove)

	delta, err = svc.Merges.SyncAssociations(ctx, user.ID, auth.AssociationClinic, []int64{2, 4})
	require.NoError(t, err)
	assert.True(t, delta.Empty(), "second sync with the same set is a no-op")

	refs, err := svc.Merges.Associations(ctx, user.ID, auth.AssociationClinic)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{2, 4}, refs)

	_, err = svc.Merges.SyncAssociations(ctx, 999, auth.AssociationClinic, []int64{1})
	errutil.AssertErrorCode(t, err, auth.CodeAccountNotFound)
}

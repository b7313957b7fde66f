// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package web

import (
	"time"

	"github.com/medidir/medidir/internal/auth"
)

// UserView is the public shape of an account.
type UserView struct {
	ID              int64     `json:"id"`
	Email           string    `json:"email"`
	DisplayName     string    `json:"display_name"`
	Locale          string    `json:"locale"`
	EmailVerified   bool      `json:"email_verified"`
	IsAdmin         bool      `json:"is_admin"`
	PrimaryProvider string    `json:"primary_provider,omitempty"`
	HasPassword     bool      `json:"has_password"`
	CreatedAt       time.Time `json:"created_at"`
}

func userView(u *auth.User) UserView {
	return UserView{
		ID:              u.ID,
		Email:           u.Email,
		DisplayName:     u.DisplayName,
		Locale:          u.Locale,
		EmailVerified:   u.EmailVerified,
		IsAdmin:         u.IsAdmin,
		PrimaryProvider: string(u.PrimaryProvider),
		HasPassword:     u.HasPassword(),
		CreatedAt:       u.CreatedAt,
	}
}

// SessionView is a session as listed to its owner.
type SessionView struct {
	ID        string    `json:"id"`
	UserAgent string    `json:"user_agent"`
	IPAddress string    `json:"ip_address"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Current   bool      `json:"current"`
}

func sessionViews(infos []auth.SessionInfo) []SessionView {
	out := make([]SessionView, 0, len(infos))
	for _, info := range infos {
		out = append(out, SessionView{
			ID:        info.ID.String(),
			UserAgent: info.UserAgent,
			IPAddress: info.IPAddress,
			CreatedAt: info.CreatedAt,
			ExpiresAt: info.ExpiresAt,
			Current:   info.Current,
		})
	}
	return out
}

// IdentityView is a linked provider. Provider tokens are never exposed.
type IdentityView struct {
	Provider   string    `json:"provider"`
	ExternalID string    `json:"external_id"`
	Primary    bool      `json:"primary"`
	LinkedAt   time.Time `json:"linked_at"`
}

func identityViews(identities []*auth.ExternalIdentity, primary auth.Provider) []IdentityView {
	out := make([]IdentityView, 0, len(identities))
	for _, id := range identities {
		out = append(out, IdentityView{
			Provider:   string(id.Provider),
			ExternalID: id.ExternalID,
			Primary:    id.Provider == primary,
			LinkedAt:   id.CreatedAt,
		})
	}
	return out
}

// MergeView reports a completed merge.
type MergeView struct {
	User               UserView `json:"user"`
	IdentitiesMoved    int64    `json:"identities_moved"`
	AssociationsAdded  int      `json:"associations_added"`
	RedirectsCollapsed int64    `json:"redirects_collapsed"`
}

// AssociationsView lists referenced entity ids.
type AssociationsView struct {
	IDs []int64 `json:"ids"`
}

// AssociationDeltaView reports what a sync changed.
type AssociationDeltaView struct {
	Added   []int64 `json:"added"`
	Removed []int64 `json:"removed"`
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

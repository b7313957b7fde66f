// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/medidir/medidir/internal/auth"
	"github.com/medidir/medidir/internal/mail"
	"github.com/medidir/medidir/internal/observability"
	"github.com/medidir/medidir/pkg/errutil"
)

const maxBodyBytes = 16 << 10

type statusBody struct {
	Status string `json:"status"`
}

// decode reads a JSON body into dst, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return oops.Code(auth.CodeInvalidArgument).With("operation", "decode body").Wrap(err)
	}
	return nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// startSession issues a session for user and sets the cookie.
func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, user *auth.User) error {
	_, token, err := h.sessions.Create(r.Context(), user.ID, r.UserAgent(), clientIP(r))
	if err != nil {
		return err
	}
	h.setSessionCookie(w, token)
	h.metrics.RecordSessions(observability.EventCreated, 1)
	return nil
}

// endSession revokes the session behind the cookie and clears it.
func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) error {
	token := cookieValue(r, SessionCookie)
	if token == "" {
		return nil
	}
	if err := h.sessions.Revoke(r.Context(), token); err != nil {
		return err
	}
	h.clearCookie(w, SessionCookie, "/")
	h.metrics.RecordSessions(observability.EventRevoked, 1)
	return nil
}

// sendLink mails a single-use link. Delivery failures are logged and not
// reported to the caller.
func (h *Handler) sendLink(ctx context.Context, kind auth.TokenKind, to string, user *auth.User, token string) {
	msg, err := h.composer.Compose(mail.Kind(kind), mail.Params{
		To:       to,
		Name:     user.DisplayName,
		Locale:   user.Locale,
		Token:    token,
		Validity: h.tokenTTLs.For(kind).String(),
	})
	if err == nil {
		err = h.mailer.Send(ctx, msg)
	}
	if err != nil {
		errutil.LogErrorContext(ctx, h.logger, "mail delivery failed", err, "user_id", user.ID, "kind", string(kind))
		return
	}
	h.metrics.RecordToken(string(kind), observability.EventIssued)
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Locale      string `json:"locale"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	user, err := h.accounts.Register(r.Context(), req.Email, req.Password, req.DisplayName, req.Locale)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.startSession(w, r, user); err != nil {
		h.writeError(w, r, err)
		return
	}

	token, _, err := h.accounts.RequestEmailVerification(r.Context(), user.ID)
	switch {
	case err != nil:
		errutil.LogErrorContext(r.Context(), h.logger, "verification request failed", err, "user_id", user.ID)
	case token != "":
		h.sendLink(r.Context(), auth.TokenEmailVerification, user.Email, user, token)
	}
	writeJSON(w, http.StatusCreated, userView(user))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	user, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.metrics.RecordLogin(string(auth.ProviderPassword), false)
		h.writeError(w, r, err)
		return
	}
	if err := h.startSession(w, r, user); err != nil {
		h.metrics.RecordLogin(string(auth.ProviderPassword), false)
		h.writeError(w, r, err)
		return
	}
	h.metrics.RecordLogin(string(auth.ProviderPassword), true)
	writeJSON(w, http.StatusOK, userView(user))
}

func (h *Handler) apiLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.endSession(w, r); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type emailRequest struct {
	Email string `json:"email"`
}

// forgotPassword answers 202 whether or not the email has an account.
func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	token, user, err := h.accounts.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if token != "" {
		h.sendLink(r.Context(), auth.TokenPasswordReset, user.Email, user, token)
	}
	writeJSON(w, http.StatusAccepted, statusBody{Status: "accepted"})
}

type resetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	user, err := h.accounts.ResetPassword(r.Context(), req.Token, req.Password)
	if err != nil {
		if auth.HasCode(err, auth.CodeTokenInvalid) {
			h.metrics.RecordToken(string(auth.TokenPasswordReset), observability.EventRejected)
		}
		h.writeError(w, r, err)
		return
	}
	h.metrics.RecordToken(string(auth.TokenPasswordReset), observability.EventConsumed)
	if current := CurrentUser(r); current != nil && current.ID == user.ID {
		h.clearCookie(w, SessionCookie, "/")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userView(CurrentUser(r)))
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// changePassword replaces the password, or sets the first one for accounts
// that only sign in through providers.
func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	user, session := CurrentUser(r), CurrentSession(r)
	var err error
	if user.HasPassword() {
		err = h.accounts.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword, session.ID)
	} else {
		err = h.accounts.SetPassword(r.Context(), user.ID, req.NewPassword, session.ID)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) requestVerification(w http.ResponseWriter, r *http.Request) {
	token, user, err := h.accounts.RequestEmailVerification(r.Context(), CurrentUser(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if token == "" {
		writeJSON(w, http.StatusOK, statusBody{Status: "already_verified"})
		return
	}
	h.sendLink(r.Context(), auth.TokenEmailVerification, user.Email, user, token)
	writeJSON(w, http.StatusAccepted, statusBody{Status: "sent"})
}

func (h *Handler) requestEmailChange(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	user := CurrentUser(r)
	token, err := h.accounts.RequestEmailChange(r.Context(), user.ID, req.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.sendLink(r.Context(), auth.TokenEmailChange, auth.NormalizeEmail(req.Email), user, token)
	writeJSON(w, http.StatusAccepted, statusBody{Status: "sent"})
}

type localeRequest struct {
	Locale string `json:"locale"`
}

func (h *Handler) updateLocale(w http.ResponseWriter, r *http.Request) {
	var req localeRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.accounts.UpdateLocale(r.Context(), CurrentUser(r).ID, req.Locale); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type profileRequest struct {
	DisplayName string `json:"display_name"`
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	user, err := h.accounts.UpdateProfile(r.Context(), CurrentUser(r).ID, req.DisplayName)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userView(user))
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	infos, err := h.sessions.List(r.Context(), CurrentUser(r).ID, CurrentSession(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionViews(infos))
}

func (h *Handler) revokeSession(w http.ResponseWriter, r *http.Request) {
	id, err := ulid.ParseStrict(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, oops.Code(auth.CodeInvalidArgument).With("field", "id").Wrap(err))
		return
	}
	if err := h.sessions.RevokeByID(r.Context(), CurrentUser(r).ID, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	if id == CurrentSession(r).ID {
		h.clearCookie(w, SessionCookie, "/")
	}
	h.metrics.RecordSessions(observability.EventRevoked, 1)
	w.WriteHeader(http.StatusNoContent)
}

type revokedBody struct {
	Revoked int64 `json:"revoked"`
}

func (h *Handler) revokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	n, err := h.sessions.RevokeAllExcept(r.Context(), CurrentUser(r).ID, CurrentSession(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.metrics.RecordSessions(observability.EventRevoked, int(n))
	writeJSON(w, http.StatusOK, revokedBody{Revoked: n})
}

func (h *Handler) listIdentities(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r)
	identities, err := h.resolver.Identities(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, identityViews(identities, user.PrimaryProvider))
}

func (h *Handler) unlinkIdentity(w http.ResponseWriter, r *http.Request) {
	provider, err := auth.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.resolver.Unlink(r.Context(), CurrentUser(r).ID, provider); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setPrimary(w http.ResponseWriter, r *http.Request) {
	provider, err := auth.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.resolver.SetPrimary(r.Context(), CurrentUser(r).ID, provider); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type mergeRequest struct {
	PrimaryID   int64 `json:"primary_id"`
	SecondaryID int64 `json:"secondary_id"`
}

func (h *Handler) mergeUsers(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.merges.Merge(r.Context(), req.PrimaryID, req.SecondaryID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.metrics.RecordMerge()
	h.logger.InfoContext(r.Context(), "admin merged accounts",
		"admin_id", CurrentUser(r).ID, "primary_id", req.PrimaryID, "secondary_id", req.SecondaryID)
	writeJSON(w, http.StatusOK, MergeView{
		User:               userView(res.User),
		IdentitiesMoved:    res.IdentitiesMoved,
		AssociationsAdded:  res.AssociationsAdded,
		RedirectsCollapsed: res.RedirectsCollapsed,
	})
}

// associationTarget parses the user id and kind path parameters.
func associationTarget(r *http.Request) (int64, auth.AssociationKind, error) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || userID <= 0 {
		return 0, "", oops.Code(auth.CodeInvalidArgument).With("field", "id").Errorf("invalid user id")
	}
	kind, err := auth.ParseAssociationKind(chi.URLParam(r, "kind"))
	if err != nil {
		return 0, "", err
	}
	return userID, kind, nil
}

func (h *Handler) listAssociations(w http.ResponseWriter, r *http.Request) {
	userID, kind, err := associationTarget(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ids, err := h.merges.Associations(r.Context(), userID, kind)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AssociationsView{IDs: nonNil(ids)})
}

func (h *Handler) syncAssociations(w http.ResponseWriter, r *http.Request) {
	userID, kind, err := associationTarget(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req AssociationsView
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	delta, err := h.merges.SyncAssociations(r.Context(), userID, kind, req.IDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AssociationDeltaView{Added: nonNil(delta.ToAdd), Removed: nonNil(delta.ToRemove)})
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package web

import (
	"context"
	"crypto/subtle"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/samber/oops"

	"github.com/medidir/medidir/internal/auth"
	"github.com/medidir/medidir/internal/observability"
)

// Pages the browser lands on after a link flow succeeds.
const (
	accountPath         = "/account"
	noticeEmailVerified = "email_verified"
	noticeEmailChanged  = "email_changed"
)

// providerLogin stashes the return target and sends the browser to the
// provider's consent page. Telegram has no consent redirect: the browser
// goes to the login page, which renders the widget with the issued state
// in its auth URL.
func (h *Handler) providerLogin(w http.ResponseWriter, r *http.Request) {
	name := auth.Provider(chi.URLParam(r, "provider"))
	var consent func(state string) string
	switch provider, ok := h.providers.Get(name); {
	case name == auth.ProviderTelegram && h.telegram != nil:
		consent = telegramWidgetURL
	case ok:
		consent = provider.AuthCodeURL
	default:
		http.NotFound(w, r)
		return
	}

	h.stashReturnTo(w, r)
	state, _, err := auth.GenerateToken()
	if err != nil {
		h.failRedirect(w, r, RedirectOperationFailed, err)
		return
	}
	h.setStateCookie(w, state)
	http.Redirect(w, r, consent(state), http.StatusFound)
}

// telegramWidgetURL is the login page variant that shows the Telegram
// widget. The widget's auth URL must carry state back to the callback.
func telegramWidgetURL(state string) string {
	u := url.URL{Path: LoginPath, RawQuery: url.Values{
		"provider": {string(auth.ProviderTelegram)},
		stateParam: {state},
	}.Encode()}
	return u.String()
}

// providerCallback finishes a provider sign-in: it verifies the response,
// resolves the account and issues a session unless the caller was already
// signed in.
func (h *Handler) providerCallback(w http.ResponseWriter, r *http.Request) {
	name := auth.Provider(chi.URLParam(r, "provider"))

	var profile *auth.ExternalProfile
	var failCode string
	var err error
	switch provider, ok := h.providers.Get(name); {
	case name == auth.ProviderTelegram && h.telegram != nil:
		h.clearCookie(w, StateCookie, "/auth/")
		profile, failCode, err = h.telegramProfile(r)
	case ok:
		h.clearCookie(w, StateCookie, "/auth/")
		profile, failCode, err = h.oauthProfile(r, provider.Exchange)
	default:
		http.NotFound(w, r)
		return
	}
	if failCode != "" {
		h.metrics.RecordLogin(string(name), false)
		h.failRedirect(w, r, failCode, err)
		return
	}

	current := CurrentUser(r)
	res, err := h.resolver.Resolve(r.Context(), profile, current)
	if err != nil {
		h.metrics.RecordLogin(string(name), false)
		h.failRedirect(w, r, redirectCode(err), err)
		return
	}

	if current == nil || current.ID != res.User.ID {
		if err := h.startSession(w, r, res.User); err != nil {
			h.metrics.RecordLogin(string(name), false)
			h.failRedirect(w, r, RedirectOperationFailed, err)
			return
		}
	}
	h.metrics.RecordLogin(string(name), true)
	h.logger.InfoContext(r.Context(), "provider sign-in",
		"user_id", res.User.ID, "provider", string(name), "created", res.Created, "linked", res.Linked)
	h.redirectToStash(w, r)
}

// stateParam carries the flow nonce on both OAuth and Telegram callbacks.
const stateParam = "state"

type exchanger func(ctx context.Context, code string) (*auth.ExternalProfile, error)

// oauthProfile checks the state round trip and exchanges the code.
func (h *Handler) oauthProfile(r *http.Request, exchange exchanger) (*auth.ExternalProfile, string, error) {
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		return nil, RedirectProviderError, oops.Code(auth.CodeProviderError).
			With("provider_error", providerErr).
			Errorf("provider declined the sign-in")
	}

	if !stateMatches(r, q.Get(stateParam)) {
		return nil, RedirectCSRFMismatch, oops.Code(auth.CodeCSRFMismatch).Errorf("oauth state mismatch")
	}

	code := q.Get("code")
	if code == "" {
		return nil, RedirectMissingCode, oops.Code(auth.CodeInvalidArgument).Errorf("authorization code missing")
	}

	profile, err := exchange(r.Context(), code)
	if err != nil {
		return nil, redirectCode(err), err
	}
	return profile, "", nil
}

// telegramProfile verifies the widget signature carried in the query and
// the state issued by providerLogin. The state is ours, not Telegram's, so
// it is left out of the signed data.
func (h *Handler) telegramProfile(r *http.Request) (*auth.ExternalProfile, string, error) {
	q := r.URL.Query()
	fields := make(map[string]string)
	for key, values := range q {
		if key != stateParam && len(values) > 0 {
			fields[key] = values[0]
		}
	}
	if !h.telegram.Verify(fields) {
		return nil, RedirectSignatureInvalid, oops.Code(auth.CodeSignatureInvalid).Errorf("telegram signature invalid")
	}
	if !stateMatches(r, q.Get(stateParam)) {
		return nil, RedirectCSRFMismatch, oops.Code(auth.CodeCSRFMismatch).Errorf("telegram state mismatch")
	}
	return auth.TelegramProfile(fields), "", nil
}

// stateMatches compares got with the state cookie in constant time.
func stateMatches(r *http.Request, got string) bool {
	expected := cookieValue(r, StateCookie)
	return expected != "" && subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// verifyEmailLink consumes an email verification link.
func (h *Handler) verifyEmailLink(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.VerifyEmail(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		h.metrics.RecordToken(string(auth.TokenEmailVerification), observability.EventRejected)
		h.failRedirect(w, r, redirectCode(err), err)
		return
	}
	h.metrics.RecordToken(string(auth.TokenEmailVerification), observability.EventConsumed)
	h.logger.InfoContext(r.Context(), "email verified", "user_id", user.ID)
	h.redirectNotice(w, r, noticeEmailVerified)
}

// confirmEmailLink consumes an email change link.
func (h *Handler) confirmEmailLink(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.ConfirmEmailChange(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		h.metrics.RecordToken(string(auth.TokenEmailChange), observability.EventRejected)
		h.failRedirect(w, r, redirectCode(err), err)
		return
	}
	h.metrics.RecordToken(string(auth.TokenEmailChange), observability.EventConsumed)
	h.logger.InfoContext(r.Context(), "email change confirmed", "user_id", user.ID)
	h.redirectNotice(w, r, noticeEmailChanged)
}

// logout revokes the current session and returns to the home page.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.endSession(w, r); err != nil {
		h.failRedirect(w, r, RedirectOperationFailed, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// stashReturnTo remembers where to go after sign-in, when the target is
// allowed.
func (h *Handler) stashReturnTo(w http.ResponseWriter, r *http.Request) {
	if target, ok := h.returnTo.FromRequest(r); ok {
		h.setReturnToCookie(w, target)
	}
}

// redirectToStash sends the browser to the stashed target, rechecked
// against the policy, or home.
func (h *Handler) redirectToStash(w http.ResponseWriter, r *http.Request) {
	target := "/"
	if stashed := cookieValue(r, ReturnToCookie); stashed != "" {
		if allowed, ok := h.returnTo.Allow(stashed); ok {
			target = allowed
		}
		h.clearCookie(w, ReturnToCookie, "/")
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) redirectNotice(w http.ResponseWriter, r *http.Request, notice string) {
	u := url.URL{Path: accountPath, RawQuery: url.Values{"notice": {notice}}.Encode()}
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// failRedirect logs err and sends the browser to the login page with code.
func (h *Handler) failRedirect(w http.ResponseWriter, r *http.Request, code string, err error) {
	logRedirectFailure(r, h.logger, code, err)
	u := url.URL{Path: LoginPath, RawQuery: url.Values{"error": {code}}.Encode()}
	http.Redirect(w, r, u.String(), http.StatusFound)
}

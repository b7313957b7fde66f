// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package web

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medidir/medidir/internal/auth"
	"github.com/medidir/medidir/internal/observability"
)

func TestProviderLogin(t *testing.T) {
	t.Run("unknown provider", func(t *testing.T) {
		h := newHarness(t)
		rec := h.do(http.MethodGet, "/auth/myspace/login", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("redirects to consent with a state cookie", func(t *testing.T) {
		h := newHarness(t)
		rec := h.do(http.MethodGet, "/auth/google/login?next=/doctors/42?tab=reviews", nil)
		require.Equal(t, http.StatusFound, rec.Code)

		state := responseCookie(rec, StateCookie)
		require.NotNil(t, state)
		assert.Equal(t, "/auth/", state.Path)
		assert.True(t, state.HttpOnly)
		assert.Equal(t, int(flowCookieTTL.Seconds()), state.MaxAge)

		loc := redirectTarget(t, rec)
		assert.Equal(t, "provider.example", loc.Host)
		assert.Equal(t, state.Value, loc.Query().Get("state"))

		stash := responseCookie(rec, ReturnToCookie)
		require.NotNil(t, stash)
		assert.False(t, stash.HttpOnly)
		assert.Equal(t, "/doctors/42?tab=reviews", stash.Value)
	})

	t.Run("refuses foreign return targets", func(t *testing.T) {
		h := newHarness(t)
		for _, next := range []string{"https://evil.example/account", "//evil.example/account", "/admin/secret"} {
			rec := h.do(http.MethodGet, "/auth/google/login?"+url.Values{"next": {next}}.Encode(), nil)
			require.Equal(t, http.StatusFound, rec.Code)
			assert.Nil(t, responseCookie(rec, ReturnToCookie), next)
		}
	})

	t.Run("stashes a same-origin referer", func(t *testing.T) {
		h := newHarness(t)
		req := httptest.NewRequest(http.MethodGet, "/auth/google/login", nil)
		req.Header.Set("Referer", publicURL+"/account/settings")
		rec := httptest.NewRecorder()
		h.routes.ServeHTTP(rec, req)
		stash := responseCookie(rec, ReturnToCookie)
		require.NotNil(t, stash)
		assert.Equal(t, "/account/settings", stash.Value)
	})
}

func TestProviderCallback_Failures(t *testing.T) {
	tests := []struct {
		name      string
		query     url.Values
		sendState bool
		want      string
	}{
		{"provider declined", url.Values{"error": {"access_denied"}}, true, RedirectProviderError},
		{"missing state cookie", url.Values{"state": {"s"}, "code": {"code-ana"}}, false, RedirectCSRFMismatch},
		{"state mismatch", url.Values{"state": {"other"}, "code": {"code-ana"}}, true, RedirectCSRFMismatch},
		{"missing code", url.Values{"state": {"s"}}, true, RedirectMissingCode},
		{"exchange failure", url.Values{"state": {"s"}, "code": {"code-unknown"}}, true, RedirectProviderError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			var cookies []*http.Cookie
			if tt.sendState {
				cookies = append(cookies, &http.Cookie{Name: StateCookie, Value: "s"})
			}
			rec := h.do(http.MethodGet, "/auth/google/callback?"+tt.query.Encode(), nil, cookies...)
			require.Equal(t, http.StatusFound, rec.Code)

			loc := redirectTarget(t, rec)
			assert.Equal(t, LoginPath, loc.Path)
			assert.Equal(t, tt.want, loc.Query().Get("error"))
			assert.Nil(t, responseCookie(rec, SessionCookie))

			cleared := responseCookie(rec, StateCookie)
			require.NotNil(t, cleared, "state is single use")
			assert.Negative(t, cleared.MaxAge)
		})
	}
}

func TestProviderCallback_UnknownProvider(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/auth/myspace/callback?state=s&code=c", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProviderCallback_SignIn(t *testing.T) {
	t.Run("creates the account and returns to the stash", func(t *testing.T) {
		h := newHarness(t)
		rec := h.do(http.MethodGet, "/auth/google/login?next=/account/settings", nil)
		state := responseCookie(rec, StateCookie)
		stash := responseCookie(rec, ReturnToCookie)

		q := url.Values{"state": {state.Value}, "code": {"code-ana"}}
		rec = h.do(http.MethodGet, "/auth/google/callback?"+q.Encode(), nil, state, stash)
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/account/settings", rec.Header().Get("Location"))

		session := responseCookie(rec, SessionCookie)
		require.NotNil(t, session)
		me := h.me(session)
		assert.Equal(t, "ana@example.com", me.Email)
		assert.True(t, me.EmailVerified)
		assert.False(t, me.HasPassword)
		assert.Equal(t, "google", me.PrimaryProvider)

		cleared := responseCookie(rec, ReturnToCookie)
		require.NotNil(t, cleared)
		assert.Negative(t, cleared.MaxAge)

		assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.LoginsTotal.WithLabelValues("google", observability.OutcomeSuccess)), 0)
	})

	t.Run("without a stash goes home", func(t *testing.T) {
		h := newHarness(t)
		h.googleSignIn("code-ana", nil)

		rec := h.do(http.MethodGet, "/auth/google/login", nil)
		state := responseCookie(rec, StateCookie)
		q := url.Values{"state": {state.Value}, "code": {"code-ana"}}
		rec = h.do(http.MethodGet, "/auth/google/callback?"+q.Encode(), nil, state)
		assert.Equal(t, "/", rec.Header().Get("Location"))
	})

	t.Run("a tampered stash is rechecked", func(t *testing.T) {
		h := newHarness(t)
		rec := h.do(http.MethodGet, "/auth/google/login", nil)
		state := responseCookie(rec, StateCookie)
		q := url.Values{"state": {state.Value}, "code": {"code-ana"}}
		rec = h.do(http.MethodGet, "/auth/google/callback?"+q.Encode(), nil, state,
			&http.Cookie{Name: ReturnToCookie, Value: "https://evil.example/"})
		assert.Equal(t, "/", rec.Header().Get("Location"))
	})

	t.Run("email of an existing account is not auto-linked", func(t *testing.T) {
		h := newHarness(t)
		h.register("alice@example.com")

		rec := h.do(http.MethodGet, "/auth/google/login", nil)
		state := responseCookie(rec, StateCookie)
		q := url.Values{"state": {state.Value}, "code": {"code-alice"}}
		rec = h.do(http.MethodGet, "/auth/google/callback?"+q.Encode(), nil, state)
		assert.Equal(t, RedirectEmailTaken, redirectTarget(t, rec).Query().Get("error"))
		assert.Nil(t, responseCookie(rec, SessionCookie))
	})

	t.Run("signed-in user links the provider", func(t *testing.T) {
		h := newHarness(t)
		cookie, view := h.register("alice@example.com")

		rec := h.do(http.MethodGet, "/auth/google/login", nil, cookie)
		state := responseCookie(rec, StateCookie)
		q := url.Values{"state": {state.Value}, "code": {"code-alice"}}
		rec = h.do(http.MethodGet, "/auth/google/callback?"+q.Encode(), nil, cookie, state)
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Empty(t, redirectTarget(t, rec).Query().Get("error"))
		assert.Nil(t, responseCookie(rec, SessionCookie), "the existing session is kept")

		identities, err := h.svc.Resolver.Identities(t.Context(), view.ID)
		require.NoError(t, err)
		require.Len(t, identities, 1)
		assert.Equal(t, auth.ProviderGoogle, identities[0].Provider)
	})

	t.Run("provider linked to someone else", func(t *testing.T) {
		h := newHarness(t)
		h.googleSignIn("code-ana", nil)
		cookie, _ := h.register("alice@example.com")

		rec := h.do(http.MethodGet, "/auth/google/login", nil, cookie)
		state := responseCookie(rec, StateCookie)
		q := url.Values{"state": {state.Value}, "code": {"code-ana"}}
		rec = h.do(http.MethodGet, "/auth/google/callback?"+q.Encode(), nil, cookie, state)
		assert.Equal(t, RedirectAlreadyLinked, redirectTarget(t, rec).Query().Get("error"))
		assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.LoginsTotal.WithLabelValues("google", observability.OutcomeFailure)), 0)
	})
}

func TestTelegramCallback(t *testing.T) {
	t.Run("login entry issues state and shows the widget", func(t *testing.T) {
		h := newHarness(t)
		rec := h.do(http.MethodGet, "/auth/telegram/login?next=/doctors/7", nil)
		require.Equal(t, http.StatusFound, rec.Code)

		loc := redirectTarget(t, rec)
		assert.Equal(t, LoginPath, loc.Path)
		assert.Equal(t, "telegram", loc.Query().Get("provider"))
		state := responseCookie(rec, StateCookie)
		require.NotNil(t, state)
		assert.Equal(t, state.Value, loc.Query().Get("state"))
		stash := responseCookie(rec, ReturnToCookie)
		require.NotNil(t, stash)
		assert.Equal(t, "/doctors/7", stash.Value)
	})

	t.Run("valid signature signs in", func(t *testing.T) {
		h := newHarness(t)
		rec := h.telegramCallback("777", testStart.Add(-time.Minute), nil)
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/", rec.Header().Get("Location"))

		session := responseCookie(rec, SessionCookie)
		require.NotNil(t, session)
		me := h.me(session)
		assert.Equal(t, "Marko", me.DisplayName)
		assert.Equal(t, "telegram", me.PrimaryProvider)
		assert.True(t, strings.HasSuffix(me.Email, "@"+auth.DefaultPlaceholderDomain))
		assert.False(t, me.EmailVerified)

		// A placeholder address cannot receive verification mail.
		rec = h.do(http.MethodPost, "/api/auth/email/verification", nil, session)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, auth.CodeInvalidEmail, errorCodeOf(t, rec))
	})

	rejects := []struct {
		name   string
		mutate func(h *harness) url.Values
	}{
		{"tampered field", func(h *harness) url.Values {
			q := h.telegramQuery("777", testStart)
			q.Set("id", "778")
			return q
		}},
		{"stale payload", func(h *harness) url.Values {
			return h.telegramQuery("777", testStart.Add(-auth.DefaultTelegramMaxAge-time.Second))
		}},
		{"future payload", func(h *harness) url.Values {
			return h.telegramQuery("777", testStart.Add(5*time.Minute))
		}},
		{"missing hash", func(h *harness) url.Values {
			q := h.telegramQuery("777", testStart)
			q.Del(auth.TelegramHashField)
			return q
		}},
	}
	for _, tt := range rejects {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			state := h.telegramStart(nil)
			q := tt.mutate(h)
			q.Set("state", state.Value)
			rec := h.do(http.MethodGet, "/auth/telegram/callback?"+q.Encode(), nil, state)
			require.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, RedirectSignatureInvalid, redirectTarget(t, rec).Query().Get("error"))
			assert.Nil(t, responseCookie(rec, SessionCookie))
		})
	}

	t.Run("payload without issued state is refused", func(t *testing.T) {
		h := newHarness(t)
		q := h.telegramQuery("777", testStart)
		rec := h.do(http.MethodGet, "/auth/telegram/callback?"+q.Encode(), nil)
		assert.Equal(t, RedirectCSRFMismatch, redirectTarget(t, rec).Query().Get("error"))
		assert.Nil(t, responseCookie(rec, SessionCookie))

		state := h.telegramStart(nil)
		q.Set("state", "not-the-issued-state")
		rec = h.do(http.MethodGet, "/auth/telegram/callback?"+q.Encode(), nil, state)
		assert.Equal(t, RedirectCSRFMismatch, redirectTarget(t, rec).Query().Get("error"))
	})

	t.Run("forwarded payload cannot link into a signed-in account", func(t *testing.T) {
		h := newHarness(t)
		victim, view := h.register("victim@example.com")

		// Someone else's valid widget payload, opened by the victim.
		forwarded := h.telegramQuery("666", testStart)
		rec := h.do(http.MethodGet, "/auth/telegram/callback?"+forwarded.Encode(), nil, victim)
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, RedirectCSRFMismatch, redirectTarget(t, rec).Query().Get("error"))

		identities, err := h.svc.Resolver.Identities(t.Context(), view.ID)
		require.NoError(t, err)
		assert.Empty(t, identities)

		// The payload's owner signing in gets a fresh account, not the victim's.
		session := responseCookie(h.telegramCallback("666", testStart, nil), SessionCookie)
		require.NotNil(t, session)
		me := h.me(session)
		assert.NotEqual(t, view.ID, me.ID)
		assert.NotEqual(t, "victim@example.com", me.Email)
	})

	t.Run("signed-in user links with issued state", func(t *testing.T) {
		h := newHarness(t)
		cookie, view := h.register("alice@example.com")
		rec := h.telegramCallback("555", testStart, cookie)
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Empty(t, redirectTarget(t, rec).Query().Get("error"))

		identities, err := h.svc.Resolver.Identities(t.Context(), view.ID)
		require.NoError(t, err)
		require.Len(t, identities, 1)
		assert.Equal(t, auth.ProviderTelegram, identities[0].Provider)
	})
}

func TestEmailLinks(t *testing.T) {
	h := newHarness(t)
	h.register("alice@example.com")
	token := h.mailToken("email_verification")

	rec := h.do(http.MethodGet, "/auth/verify-email?token="+token, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/account?notice=email_verified", rec.Header().Get("Location"))

	rec = h.do(http.MethodGet, "/auth/verify-email?token="+token, nil)
	assert.Equal(t, RedirectTokenInvalid, redirectTarget(t, rec).Query().Get("error"))

	rec = h.do(http.MethodGet, "/auth/confirm-email?token=bogus", nil)
	assert.Equal(t, RedirectTokenInvalid, redirectTarget(t, rec).Query().Get("error"))

	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.TokensTotal.WithLabelValues("email_verification", observability.EventConsumed)), 0)
}

func TestEmailLinks_WrongKind(t *testing.T) {
	h := newHarness(t)
	h.register("alice@example.com")
	token := h.mailToken("email_verification")

	rec := h.do(http.MethodGet, "/auth/confirm-email?token="+token, nil)
	assert.Equal(t, RedirectTokenInvalid, redirectTarget(t, rec).Query().Get("error"))

	// The rejected attempt did not burn the token for its own flow.
	rec = h.do(http.MethodGet, "/auth/verify-email?token="+token, nil)
	assert.Equal(t, "/account?notice=email_verified", rec.Header().Get("Location"))
}

func TestBrowserLogout(t *testing.T) {
	h := newHarness(t)
	cookie, _ := h.register("alice@example.com")

	rec := h.do(http.MethodPost, "/auth/logout", nil, cookie)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/auth/me", nil, cookie).Code)
}

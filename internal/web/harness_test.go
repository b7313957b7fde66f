// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/stretchr/testify/require"

	"github.com/medidir/medidir/internal/auth"
	"github.com/medidir/medidir/internal/auth/authtest"
	"github.com/medidir/medidir/internal/mail"
	"github.com/medidir/medidir/internal/oauth"
	"github.com/medidir/medidir/internal/observability"
)

var testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const (
	testPassword = "S3cure-passw0rd"
	testBotToken = "123456:telegram-bot-token"
	publicURL    = "http://localhost:8080"
)

// fakeProvider stands in for an OAuth provider. Codes map to profiles;
// any other code fails the exchange.
type fakeProvider struct {
	name     auth.Provider
	profiles map[string]*auth.ExternalProfile
}

func (f *fakeProvider) Name() auth.Provider { return f.name }

func (f *fakeProvider) AuthCodeURL(state string) string {
	return "https://provider.example/consent?" + url.Values{"state": {state}}.Encode()
}

func (f *fakeProvider) Exchange(_ context.Context, code string) (*auth.ExternalProfile, error) {
	p, ok := f.profiles[code]
	if !ok {
		return nil, oops.Code(auth.CodeProviderError).With("code", code).Errorf("exchange refused")
	}
	profile := *p
	return &profile, nil
}

type harness struct {
	t        *testing.T
	svc      *authtest.Services
	mail     *mail.Recorder
	metrics  *observability.Metrics
	google   *fakeProvider
	telegram *auth.TelegramVerifier
	handler  *Handler
	routes   http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	svc, err := authtest.NewServices(testStart, auth.DefaultAccountPolicy())
	require.NoError(t, err)

	public, err := url.Parse(publicURL)
	require.NoError(t, err)
	policy, err := NewReturnToPolicy(public, []string{"/", "/account", "/account/**", "/doctors/**"})
	require.NoError(t, err)
	composer, err := mail.NewComposer(publicURL)
	require.NoError(t, err)

	google := &fakeProvider{name: auth.ProviderGoogle, profiles: map[string]*auth.ExternalProfile{
		"code-ana": {
			Provider:      auth.ProviderGoogle,
			ExternalID:    "g-ana",
			Email:         "ana@example.com",
			EmailVerified: true,
			DisplayName:   "Ana Petrović",
			Locale:        "sr-Latn",
		},
		"code-alice": {
			Provider:      auth.ProviderGoogle,
			ExternalID:    "g-alice",
			Email:         "alice@example.com",
			EmailVerified: true,
			DisplayName:   "Alice",
		},
	}}
	telegram := &auth.TelegramVerifier{BotToken: testBotToken, Now: svc.Clock.Now}
	recorder := &mail.Recorder{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	h, err := NewHandler(Deps{
		Accounts:  svc.Accounts,
		Sessions:  svc.Sessions,
		Resolver:  svc.Resolver,
		Merges:    svc.Merges,
		Providers: oauth.NewRegistry(google),
		Telegram:  telegram,
		Mailer:    recorder,
		Composer:  composer,
		ReturnTo:  policy,
		PublicURL: public,
		TokenTTLs: auth.DefaultTokenTTLs(),
		Metrics:   metrics,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	return &harness{
		t:        t,
		svc:      svc,
		mail:     recorder,
		metrics:  metrics,
		google:   google,
		telegram: telegram,
		handler:  h,
		routes:   h.Routes(),
	}
}

// do serves one request. body is JSON-encoded unless it is nil.
func (h *harness) do(method, target string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	h.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(h.t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("User-Agent", "web-test")
	for _, c := range cookies {
		if c != nil {
			req.AddCookie(c)
		}
	}
	rec := httptest.NewRecorder()
	h.routes.ServeHTTP(rec, req)
	return rec
}

// register creates a password account through the API and returns its
// session cookie.
func (h *harness) register(email string) (*http.Cookie, UserView) {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/api/auth/register", map[string]string{
		"email":        email,
		"password":     testPassword,
		"display_name": "Test User",
	})
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	var view UserView
	decodeBody(h.t, rec, &view)
	cookie := responseCookie(rec, SessionCookie)
	require.NotNil(h.t, cookie)
	return cookie, view
}

// login signs in with a password and returns the session cookie.
func (h *harness) login(email, password string) *http.Cookie {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": password})
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	cookie := responseCookie(rec, SessionCookie)
	require.NotNil(h.t, cookie)
	return cookie
}

// makeAdmin grants the admin flag directly in storage.
func (h *harness) makeAdmin(userID int64) {
	h.t.Helper()
	ctx := context.Background()
	user, err := h.svc.Store.Users().GetByID(ctx, userID)
	require.NoError(h.t, err)
	user.IsAdmin = true
	require.NoError(h.t, h.svc.Store.Users().Update(ctx, user))
}

// mailToken returns the token carried by the latest message of kind.
func (h *harness) mailToken(kind mail.Kind) string {
	h.t.Helper()
	msg, ok := h.mail.Last(kind)
	require.True(h.t, ok, "no %s message sent", kind)
	link, err := url.Parse(msg.Link)
	require.NoError(h.t, err)
	token := link.Query().Get("token")
	require.NotEmpty(h.t, token)
	return token
}

// telegramQuery builds a signed widget payload for id, signed at signedAt.
func (h *harness) telegramQuery(id string, signedAt time.Time) url.Values {
	fields := map[string]string{
		"id":         id,
		"first_name": "Marko",
		"username":   "marko",
		"auth_date":  strconv.FormatInt(signedAt.Unix(), 10),
	}
	fields[auth.TelegramHashField] = h.telegram.Sign(fields)
	q := url.Values{}
	for k, v := range fields {
		q.Set(k, v)
	}
	return q
}

// telegramStart opens the Telegram login entry and returns the state
// cookie it issued.
func (h *harness) telegramStart(current *http.Cookie) *http.Cookie {
	h.t.Helper()
	rec := h.do(http.MethodGet, "/auth/telegram/login", nil, current)
	require.Equal(h.t, http.StatusFound, rec.Code)
	state := responseCookie(rec, StateCookie)
	require.NotNil(h.t, state)
	require.Equal(h.t, state.Value, redirectTarget(h.t, rec).Query().Get("state"))
	return state
}

// telegramCallback replays a widget payload for id through the callback,
// carrying the state the login entry issued.
func (h *harness) telegramCallback(id string, signedAt time.Time, current *http.Cookie) *httptest.ResponseRecorder {
	h.t.Helper()
	state := h.telegramStart(current)
	q := h.telegramQuery(id, signedAt)
	q.Set("state", state.Value)
	return h.do(http.MethodGet, "/auth/telegram/callback?"+q.Encode(), nil, current, state)
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func errorCodeOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorBody
	decodeBody(t, rec, &body)
	return body.Error.Code
}

// redirectTarget returns the parsed Location header.
func redirectTarget(t *testing.T, rec *httptest.ResponseRecorder) *url.URL {
	t.Helper()
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return loc
}

// googleSignIn runs the provider round trip with code. current is the
// caller's session cookie, if any. Returns the session cookie in effect
// afterwards.
func (h *harness) googleSignIn(code string, current *http.Cookie) *http.Cookie {
	h.t.Helper()
	rec := h.do(http.MethodGet, "/auth/google/login", nil, current)
	require.Equal(h.t, http.StatusFound, rec.Code)
	state := responseCookie(rec, StateCookie)
	require.NotNil(h.t, state)

	q := url.Values{"state": {state.Value}, "code": {code}}
	rec = h.do(http.MethodGet, "/auth/google/callback?"+q.Encode(), nil, current, state)
	require.Equal(h.t, http.StatusFound, rec.Code)
	require.Empty(h.t, redirectTarget(h.t, rec).Query().Get("error"), rec.Header().Get("Location"))
	if issued := responseCookie(rec, SessionCookie); issued != nil {
		return issued
	}
	return current
}

// me returns the account behind cookie.
func (h *harness) me(cookie *http.Cookie) UserView {
	h.t.Helper()
	rec := h.do(http.MethodGet, "/api/auth/me", nil, cookie)
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	var view UserView
	decodeBody(h.t, rec, &view)
	return view
}

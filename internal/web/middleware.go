// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"

	"github.com/medidir/medidir/internal/auth"
	"github.com/medidir/medidir/pkg/errutil"
)

const tracerName = "github.com/medidir/medidir/internal/web"

type ctxKey int

const (
	userKey ctxKey = iota
	sessionKey
)

// CurrentUser returns the signed-in user of the request, or nil.
func CurrentUser(r *http.Request) *auth.User {
	u, _ := r.Context().Value(userKey).(*auth.User)
	return u
}

// CurrentSession returns the session of the request, or nil.
func CurrentSession(r *http.Request) *auth.Session {
	s, _ := r.Context().Value(sessionKey).(*auth.Session)
	return s
}

// WithUser returns ctx carrying user and session, as LoadSession does.
func WithUser(ctx context.Context, user *auth.User, session *auth.Session) context.Context {
	ctx = context.WithValue(ctx, userKey, user)
	return context.WithValue(ctx, sessionKey, session)
}

// LoadSession resolves the session cookie. Invalid or expired sessions make
// the request anonymous and clear the cookie; it never rejects a request.
func (h *Handler) LoadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := cookieValue(r, SessionCookie)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, session, err := h.sessions.Resolve(r.Context(), token)
		switch code := auth.ErrorCode(err); {
		case err == nil:
			r = r.WithContext(WithUser(r.Context(), user, session))
		case code == auth.CodeSessionInvalid || code == auth.CodeSessionExpired:
			h.clearCookie(w, SessionCookie, "/")
		default:
			errutil.LogErrorContext(r.Context(), h.logger, "session lookup failed", err)
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser rejects anonymous requests with 401.
func (h *Handler) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if CurrentUser(r) == nil {
			writeCode(w, auth.CodeUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects anonymous requests with 401 and non-admins with 403.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		switch {
		case user == nil:
			writeCode(w, auth.CodeUnauthorized)
		case !user.IsAdmin:
			h.logger.WarnContext(r.Context(), "admin route refused", "user_id", user.ID, "path", r.URL.Path)
			writeCode(w, auth.CodeForbidden)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// PreferredLocale returns the locale to render r in: the signed-in user's
// choice, then the best supported Accept-Language match, then the default.
func (h *Handler) PreferredLocale(r *http.Request) string {
	if user := CurrentUser(r); user != nil {
		locale, err := h.accounts.PreferredLocale(r.Context(), user.ID)
		if err == nil {
			return locale
		}
		errutil.LogErrorContext(r.Context(), h.logger, "preferred locale lookup failed", err, "user_id", user.ID)
	}
	return h.locales.match(r.Header.Get("Accept-Language"))
}

// localeMatcher maps Accept-Language headers onto the supported locales.
type localeMatcher struct {
	supported []string
	matcher   language.Matcher
}

func newLocaleMatcher(supported []string) (*localeMatcher, error) {
	tags := make([]language.Tag, 0, len(supported))
	for _, s := range supported {
		tag, err := language.Parse(s)
		if err != nil {
			return nil, oops.Code("WEB_INVALID_LOCALE").With("locale", s).Wrap(err)
		}
		tags = append(tags, tag)
	}
	return &localeMatcher{supported: supported, matcher: language.NewMatcher(tags)}, nil
}

// match returns the supported locale closest to header, or the first
// supported locale when nothing is close.
func (m *localeMatcher) match(header string) string {
	desired, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(desired) == 0 {
		return m.supported[0]
	}
	_, index, confidence := m.matcher.Match(desired...)
	if confidence == language.No {
		return m.supported[0]
	}
	return m.supported[index]
}

// instrument wraps each request in a server span, logs it and records the
// request metrics under the matched route pattern.
func (h *Handler) instrument(next http.Handler) http.Handler {
	tracer := otel.Tracer(tracerName)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := tracer.Start(r.Context(), r.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := ""
		if rctx := chi.RouteContext(ctx); rctx != nil {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)

		span.SetName(r.Method + " " + route)
		span.SetAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("http.route", route),
			attribute.Int("http.response.status_code", status),
		)
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}

		h.metrics.ObserveRequest(route, r.Method, status, elapsed)
		h.logger.InfoContext(ctx, "http request",
			"method", r.Method,
			"route", route,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", chimw.GetReqID(ctx),
		)
	})
}

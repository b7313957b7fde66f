// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package web

import (
	"net/http"
	"time"
)

// Cookie names.
const (
	SessionCookie  = "medidir_session"
	StateCookie    = "medidir_oauth_state"
	ReturnToCookie = "medidir_return_to"
)

// flowCookieTTL bounds the state and return-to cookies of one sign-in.
const flowCookieTTL = 10 * time.Minute

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) setStateCookie(w http.ResponseWriter, state string) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookie,
		Value:    state,
		Path:     "/auth/",
		MaxAge:   int(flowCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// setReturnToCookie stores the post-sign-in target. Front-end scripts read
// it, so it is not HttpOnly.
func (h *Handler) setReturnToCookie(w http.ResponseWriter, target string) {
	http.SetCookie(w, &http.Cookie{
		Name:     ReturnToCookie,
		Value:    target,
		Path:     "/",
		MaxAge:   int(flowCookieTTL.Seconds()),
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: name != ReturnToCookie,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

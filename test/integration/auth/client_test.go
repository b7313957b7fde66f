// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

//go:build integration

package auth_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	. "github.com/onsi/gomega" //nolint:revive // gomega convention

	"github.com/medidir/medidir/internal/auth"
	"github.com/medidir/medidir/internal/mail"
	"github.com/medidir/medidir/internal/web"
)

const testPassword = "S3cure-passw0rd"

// browser is one user agent with its own cookie jar. Redirects are not
// followed so tests can inspect them.
type browser struct {
	http *http.Client
}

func newBrowser() *browser {
	jar, err := cookiejar.New(nil)
	Expect(err).NotTo(HaveOccurred())
	return &browser{http: &http.Client{
		Jar:     jar,
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

// call sends a JSON request and decodes a successful JSON response into
// out when out is non-nil. It returns the status code.
func (b *browser) call(method, path string, body, out any) int {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, env.server.URL+path, rd)
	Expect(err).NotTo(HaveOccurred())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.http.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < http.StatusMultipleChoices {
		Expect(json.NewDecoder(resp.Body).Decode(out)).To(Succeed())
	}
	return resp.StatusCode
}

// visit follows a browser link and returns the redirect target.
func (b *browser) visit(link string) *url.URL {
	target := link
	if u, err := url.Parse(link); err == nil && !u.IsAbs() {
		target = env.server.URL + link
	}
	resp, err := b.http.Get(target)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	Expect(resp.StatusCode).To(Equal(http.StatusFound))
	loc, err := resp.Location()
	Expect(err).NotTo(HaveOccurred())
	return loc
}

func (b *browser) register(email string) web.UserView {
	var view web.UserView
	status := b.call(http.MethodPost, "/api/auth/register", map[string]string{
		"email":        email,
		"password":     testPassword,
		"display_name": "Integration User",
	}, &view)
	Expect(status).To(Equal(http.StatusCreated))
	return view
}

func (b *browser) login(email, password string) int {
	return b.call(http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": password}, nil)
}

func (b *browser) me() (web.UserView, int) {
	var view web.UserView
	status := b.call(http.MethodGet, "/api/auth/me", nil, &view)
	return view, status
}

// telegramSignIn opens the Telegram login entry, then returns a freshly
// signed widget payload for id to the callback along with the issued state.
func (b *browser) telegramSignIn(id string) *url.URL {
	widget := b.visit("/auth/telegram/login")
	state := widget.Query().Get("state")
	Expect(state).NotTo(BeEmpty())

	fields := map[string]string{
		"id":         id,
		"first_name": "Marko",
		"username":   "marko" + id,
		"auth_date":  strconv.FormatInt(time.Now().Unix(), 10),
	}
	fields[auth.TelegramHashField] = env.telegram.Sign(fields)
	q := url.Values{}
	for k, v := range fields {
		q.Set(k, v)
	}
	q.Set("state", state)
	return b.visit("/auth/telegram/callback?" + q.Encode())
}

// googleSignIn runs the OAuth round trip through the fake Google server.
func (b *browser) googleSignIn(code string) *url.URL {
	consent := b.visit("/auth/google/login")
	state := consent.Query().Get("state")
	Expect(state).NotTo(BeEmpty())
	q := url.Values{"state": {state}, "code": {code}}
	return b.visit("/auth/google/callback?" + q.Encode())
}

// lastLink returns the link of the latest message of kind.
func lastLink(kind mail.Kind) (string, string) {
	msg, ok := env.mail.Last(kind)
	Expect(ok).To(BeTrue(), "no %s message", kind)
	link, err := url.Parse(msg.Link)
	Expect(err).NotTo(HaveOccurred())
	return msg.Link, link.Query().Get("token")
}

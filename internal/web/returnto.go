// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package web

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// ReturnToPolicy decides which local paths a finished sign-in may send the
// browser back to.
type ReturnToPolicy struct {
	origin   *url.URL
	patterns []glob.Glob
}

// NewReturnToPolicy compiles the allowed path globs ('/' separates
// segments, so "*" stays inside one segment and "**" spans several).
// origin is the public base URL used to recognize same-origin referers.
func NewReturnToPolicy(origin *url.URL, patterns []string) (*ReturnToPolicy, error) {
	p := &ReturnToPolicy{origin: origin}
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, oops.Code("RETURN_TO_INVALID_PATTERN").With("pattern", pattern).Wrap(err)
		}
		p.patterns = append(p.patterns, g)
	}
	return p, nil
}

// Allow returns the local path and query of target when it may be returned
// to. Absolute URLs are accepted only when they match the origin.
func (p *ReturnToPolicy) Allow(target string) (string, bool) {
	if target == "" || strings.ContainsAny(target, "\\\r\n") {
		return "", false
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", false
	}
	if u.Scheme != "" || u.Host != "" {
		if p.origin == nil || u.Scheme != p.origin.Scheme || u.Host != p.origin.Host {
			return "", false
		}
	}
	if !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(u.Path, "//") {
		return "", false
	}
	for _, g := range p.patterns {
		if g.Match(u.Path) {
			local := &url.URL{Path: u.Path, RawQuery: u.RawQuery}
			return local.String(), true
		}
	}
	return "", false
}

// FromRequest picks the stash target from ?next= or, failing that, a
// same-origin Referer.
func (p *ReturnToPolicy) FromRequest(r *http.Request) (string, bool) {
	if next := r.URL.Query().Get("next"); next != "" {
		return p.Allow(next)
	}
	if ref := r.Referer(); ref != "" {
		u, err := url.Parse(ref)
		if err != nil || u.Host == "" {
			return "", false
		}
		return p.Allow(ref)
	}
	return "", false
}

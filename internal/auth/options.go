// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package auth

import (
	"log/slog"
	"time"
)

// DefaultPlaceholderDomain is the domain of synthesized emails for providers
// that supply none. The .invalid TLD never resolves.
const DefaultPlaceholderDomain = "users.medidir.invalid"

// Option configures a service.
type Option func(*options)

type options struct {
	now               func() time.Time
	logger            *slog.Logger
	placeholderDomain string
}

func buildOptions(opts []Option) options {
	o := options{
		now:               time.Now,
		logger:            slog.Default(),
		placeholderDomain: DefaultPlaceholderDomain,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger for service events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithPlaceholderDomain sets the domain of synthesized emails.
func WithPlaceholderDomain(domain string) Option {
	return func(o *options) {
		if domain != "" {
			o.placeholderDomain = domain
		}
	}
}

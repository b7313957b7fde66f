// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

// Package config loads the medidir server configuration.
//
// Values are layered: built-in defaults, then the YAML file, then command-line
// flags that were set explicitly, then secrets from the environment. The file
// is validated against a JSON schema generated from Config before it is
// applied.
package config

import (
	"slices"
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/medidir/medidir/internal/auth"
)

// Environment variables holding secrets. Secrets are never read from the
// config file.
const (
	EnvDatabaseURL          = "DATABASE_URL"
	EnvGoogleClientSecret   = "MEDIDIR_GOOGLE_CLIENT_SECRET"
	EnvFacebookClientSecret = "MEDIDIR_FACEBOOK_CLIENT_SECRET"
	EnvTelegramBotToken     = "MEDIDIR_TELEGRAM_BOT_TOKEN" //nolint:gosec // variable name, not a credential
)

const redacted = "[redacted]"

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig      `koanf:"server" yaml:"server" json:"server,omitempty"`
	Database  DatabaseConfig    `koanf:"database" yaml:"database" json:"database,omitempty"`
	Log       LogConfig         `koanf:"log" yaml:"log" json:"log,omitempty"`
	Session   SessionConfig     `koanf:"session" yaml:"session" json:"session,omitempty"`
	Tokens    TokenConfig       `koanf:"tokens" yaml:"tokens" json:"tokens,omitempty"`
	Locales   LocaleConfig      `koanf:"locales" yaml:"locales" json:"locales,omitempty"`
	Security  SecurityConfig    `koanf:"security" yaml:"security" json:"security,omitempty"`
	Providers ProvidersConfig   `koanf:"providers" yaml:"providers" json:"providers,omitempty"`
	Mail      MailConfig        `koanf:"mail" yaml:"mail" json:"mail,omitempty"`
	Password  auth.Argon2Params `koanf:"password" yaml:"password" json:"password,omitempty"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	Addr            string `koanf:"addr" yaml:"addr" json:"addr,omitempty" jsonschema:"description=HTTP listen address"`
	MetricsAddr     string `koanf:"metrics_addr" yaml:"metrics_addr" json:"metrics_addr,omitempty" jsonschema:"description=metrics and health listen address; empty disables"`
	PublicURL       string `koanf:"public_url" yaml:"public_url" json:"public_url,omitempty" jsonschema:"format=uri"`
	ShutdownTimeout string `koanf:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout,omitempty"`
}

// DatabaseConfig configures the PostgreSQL connection. The URL comes from
// DATABASE_URL.
type DatabaseConfig struct {
	URL        string `koanf:"-" yaml:"url,omitempty" json:"-"`
	Retries    uint64 `koanf:"retries" yaml:"retries" json:"retries,omitempty"`
	RetryDelay string `koanf:"retry_delay" yaml:"retry_delay" json:"retry_delay,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format" json:"format,omitempty" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" yaml:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// SessionConfig configures browser sessions.
type SessionConfig struct {
	TTL           string `koanf:"ttl" yaml:"ttl" json:"ttl,omitempty"`
	SweepInterval string `koanf:"sweep_interval" yaml:"sweep_interval" json:"sweep_interval,omitempty"`
}

// TokenConfig holds single-use token lifetimes.
type TokenConfig struct {
	PasswordReset     string `koanf:"password_reset" yaml:"password_reset" json:"password_reset,omitempty"`
	EmailVerification string `koanf:"email_verification" yaml:"email_verification" json:"email_verification,omitempty"`
	EmailChange       string `koanf:"email_change" yaml:"email_change" json:"email_change,omitempty"`
}

// LocaleConfig lists supported locales. The first one is the default.
type LocaleConfig struct {
	Supported []string `koanf:"supported" yaml:"supported" json:"supported,omitempty" jsonschema:"minItems=1"`
}

// SecurityConfig holds account policy switches.
type SecurityConfig struct {
	RevokeSessionsOnPasswordChange bool     `koanf:"revoke_sessions_on_password_change" yaml:"revoke_sessions_on_password_change" json:"revoke_sessions_on_password_change,omitempty"`
	ReturnToAllow                  []string `koanf:"return_to_allow" yaml:"return_to_allow" json:"return_to_allow,omitempty" jsonschema:"description=glob patterns of paths a sign-in may return to"`
	PlaceholderDomain              string   `koanf:"placeholder_domain" yaml:"placeholder_domain" json:"placeholder_domain,omitempty"`
}

// ProvidersConfig configures the external sign-in providers.
type ProvidersConfig struct {
	Google   OAuthProviderConfig `koanf:"google" yaml:"google" json:"google,omitempty"`
	Facebook OAuthProviderConfig `koanf:"facebook" yaml:"facebook" json:"facebook,omitempty"`
	Telegram TelegramConfig      `koanf:"telegram" yaml:"telegram" json:"telegram,omitempty"`
}

// OAuthProviderConfig is one OAuth2 client registration. The secret comes
// from the environment.
type OAuthProviderConfig struct {
	ClientID     string `koanf:"client_id" yaml:"client_id" json:"client_id,omitempty"`
	ClientSecret string `koanf:"-" yaml:"client_secret,omitempty" json:"-"`
}

// Enabled reports whether the provider has both credentials.
func (c OAuthProviderConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// TelegramConfig configures the Telegram login widget. The bot token comes
// from the environment.
type TelegramConfig struct {
	BotName  string `koanf:"bot_name" yaml:"bot_name" json:"bot_name,omitempty"`
	BotToken string `koanf:"-" yaml:"bot_token,omitempty" json:"-"`
	MaxAge   string `koanf:"max_age" yaml:"max_age" json:"max_age,omitempty"`
}

// Enabled reports whether the bot token is set.
func (c TelegramConfig) Enabled() bool {
	return c.BotToken != ""
}

// MailConfig configures outbound mail.
type MailConfig struct {
	LogLinks bool `koanf:"log_links" yaml:"log_links" json:"log_links,omitempty" jsonschema:"description=log single-use links (development only)"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			MetricsAddr:     "127.0.0.1:9100",
			PublicURL:       "http://localhost:8080",
			ShutdownTimeout: "10s",
		},
		Database: DatabaseConfig{Retries: 10, RetryDelay: "500ms"},
		Log:      LogConfig{Format: "json", Level: "info"},
		Session:  SessionConfig{TTL: auth.DefaultSessionTTL.String(), SweepInterval: "1h"},
		Tokens: TokenConfig{
			PasswordReset:     auth.DefaultPasswordResetTTL.String(),
			EmailVerification: auth.DefaultEmailVerificationTTL.String(),
			EmailChange:       auth.DefaultEmailChangeTTL.String(),
		},
		Locales: LocaleConfig{Supported: slices.Clone(auth.DefaultLocales)},
		Security: SecurityConfig{
			RevokeSessionsOnPasswordChange: true,
			ReturnToAllow:                  []string{"/", "/account/**", "/doctors/**", "/clinics/**"},
			PlaceholderDomain:              auth.DefaultPlaceholderDomain,
		},
		Providers: ProvidersConfig{Telegram: TelegramConfig{MaxAge: auth.DefaultTelegramMaxAge.String()}},
		Password:  auth.DefaultArgon2Params(),
	}
}

// Validate checks values the schema cannot express.
func (c *Config) Validate() error {
	durations := map[string]string{
		"server.shutdown_timeout":    c.Server.ShutdownTimeout,
		"database.retry_delay":       c.Database.RetryDelay,
		"session.ttl":                c.Session.TTL,
		"session.sweep_interval":     c.Session.SweepInterval,
		"tokens.password_reset":      c.Tokens.PasswordReset,
		"tokens.email_verification":  c.Tokens.EmailVerification,
		"tokens.email_change":        c.Tokens.EmailChange,
		"providers.telegram.max_age": c.Providers.Telegram.MaxAge,
	}
	for key, value := range durations {
		if _, err := parsePositive(key, value); err != nil {
			return err
		}
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", c.Log.Format, "must be json or text")
	}
	if len(c.Locales.Supported) == 0 {
		return invalid("locales.supported", "", "at least one locale is required")
	}
	for _, pattern := range c.Security.ReturnToAllow {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			return oops.Code("CONFIG_INVALID").With("key", "security.return_to_allow").With("pattern", pattern).Wrap(err)
		}
	}
	if c.Password.Time == 0 || c.Password.Memory == 0 || c.Password.Threads == 0 || c.Password.KeyLen == 0 || c.Password.SaltLen == 0 {
		return invalid("password", "", "argon2 parameters must be positive")
	}
	return nil
}

// SessionTTL returns the parsed session lifetime.
func (c *Config) SessionTTL() time.Duration { return mustDuration(c.Session.TTL) }

// SweepInterval returns how often expired rows are purged.
func (c *Config) SweepInterval() time.Duration { return mustDuration(c.Session.SweepInterval) }

// ShutdownTimeout returns the graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration { return mustDuration(c.Server.ShutdownTimeout) }

// RetryDelay returns the initial database retry delay.
func (c *Config) RetryDelay() time.Duration { return mustDuration(c.Database.RetryDelay) }

// TelegramMaxAge returns the accepted age of a Telegram login.
func (c *Config) TelegramMaxAge() time.Duration { return mustDuration(c.Providers.Telegram.MaxAge) }

// TokenTTLs returns the parsed token lifetimes.
func (c *Config) TokenTTLs() auth.TokenTTLs {
	return auth.TokenTTLs{
		PasswordReset:     mustDuration(c.Tokens.PasswordReset),
		EmailVerification: mustDuration(c.Tokens.EmailVerification),
		EmailChange:       mustDuration(c.Tokens.EmailChange),
	}
}

// AccountPolicy returns the account policy.
func (c *Config) AccountPolicy() auth.AccountPolicy {
	return auth.AccountPolicy{
		RevokeSessionsOnPasswordChange: c.Security.RevokeSessionsOnPasswordChange,
		Locales:                        slices.Clone(c.Locales.Supported),
	}
}

// Redacted returns a copy with secrets masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.Locales.Supported = slices.Clone(c.Locales.Supported)
	out.Security.ReturnToAllow = slices.Clone(c.Security.ReturnToAllow)
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&out.Database.URL)
	mask(&out.Providers.Google.ClientSecret)
	mask(&out.Providers.Facebook.ClientSecret)
	mask(&out.Providers.Telegram.BotToken)
	return &out
}

func parsePositive(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, oops.Code("CONFIG_INVALID").With("key", key).With("value", value).Wrap(err)
	}
	if d <= 0 {
		return 0, invalid(key, value, "must be positive")
	}
	return d, nil
}

// mustDuration parses a value Validate has already accepted.
func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func invalid(key, value, reason string) error {
	return oops.Code("CONFIG_INVALID").With("key", key).With("value", value).Errorf("%s: %s", key, reason)
}

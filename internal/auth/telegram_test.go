// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package auth_test

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medidir/medidir/internal/auth"
)

const testBotToken = "123456:ABC-DEF1234ghIkl-zyx57W2v1u123ew11"

func signedPayload(t *testing.T, v auth.TelegramVerifier, authDate time.Time) map[string]string {
	t.Helper()
	fields := map[string]string{
		"id":         "987654321",
		"first_name": "Ana",
		"last_name":  "Petrović",
		"username":   "ana_p",
		"photo_url":  "https://t.me/i/userpic/320/ana.jpg",
		"auth_date":  strconv.FormatInt(authDate.Unix(), 10),
	}
	fields["hash"] = v.Sign(fields)
	return fields
}

func TestCanonicalTelegramData(t *testing.T) {
	t.Run("sorts keys and excludes hash", func(t *testing.T) {
		got := auth.CanonicalTelegramData(map[string]string{
			"username":  "ana_p",
			"auth_date": "1700000000",
			"hash":      "deadbeef",
			"id":        "42",
		})
		assert.Equal(t, "auth_date=1700000000\nid=42\nusername=ana_p", got)
	})

	t.Run("empty map", func(t *testing.T) {
		assert.Equal(t, "", auth.CanonicalTelegramData(map[string]string{}))
	})

	t.Run("only hash", func(t *testing.T) {
		assert.Equal(t, "", auth.CanonicalTelegramData(map[string]string{"hash": "x"}))
	})
}

func TestTelegramVerifier_Verify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v := auth.TelegramVerifier{BotToken: testBotToken, Now: func() time.Time { return now }}

	t.Run("valid payload", func(t *testing.T) {
		assert.True(t, v.Verify(signedPayload(t, v, now.Add(-time.Minute))))
	})

	t.Run("mutating any signed field invalidates", func(t *testing.T) {
		fields := signedPayload(t, v, now.Add(-time.Minute))
		for key := range fields {
			if key == "hash" {
				continue
			}
			t.Run(key, func(t *testing.T) {
				mutated := make(map[string]string, len(fields))
				for k, val := range fields {
					mutated[k] = val
				}
				mutated[key] += "1"
				assert.False(t, v.Verify(mutated))
			})
		}
	})

	t.Run("added field invalidates", func(t *testing.T) {
		fields := signedPayload(t, v, now.Add(-time.Minute))
		fields["is_admin"] = "true"
		assert.False(t, v.Verify(fields))
	})

	t.Run("wrong bot token", func(t *testing.T) {
		other := auth.TelegramVerifier{BotToken: "other-token", Now: v.Now}
		assert.False(t, other.Verify(signedPayload(t, v, now)))
	})

	t.Run("stale auth_date with valid hash", func(t *testing.T) {
		assert.False(t, v.Verify(signedPayload(t, v, now.Add(-time.Hour))))
	})

	t.Run("auth_date at the edge of the window", func(t *testing.T) {
		assert.True(t, v.Verify(signedPayload(t, v, now.Add(-auth.DefaultTelegramMaxAge))))
	})

	t.Run("custom window", func(t *testing.T) {
		strict := auth.TelegramVerifier{BotToken: testBotToken, MaxAge: 30 * time.Second, Now: v.Now}
		assert.False(t, strict.Verify(signedPayload(t, strict, now.Add(-time.Minute))))
	})

	t.Run("auth_date in the future", func(t *testing.T) {
		assert.False(t, v.Verify(signedPayload(t, v, now.Add(5*time.Minute))))
	})

	t.Run("small clock skew tolerated", func(t *testing.T) {
		assert.True(t, v.Verify(signedPayload(t, v, now.Add(30*time.Second))))
	})

	malformed := map[string]func(map[string]string){
		"missing hash":          func(f map[string]string) { delete(f, "hash") },
		"non-hex hash":          func(f map[string]string) { f["hash"] = "zz" },
		"short hash":            func(f map[string]string) { f["hash"] = "abcd" },
		"missing auth_date":     func(f map[string]string) { delete(f, "auth_date") },
		"non-numeric auth_date": func(f map[string]string) { f["auth_date"] = "yesterday" },
		"negative auth_date":    func(f map[string]string) { f["auth_date"] = "-5" },
	}
	for name, mutate := range malformed {
		t.Run(name, func(t *testing.T) {
			fields := signedPayload(t, v, now)
			mutate(fields)
			assert.NotPanics(t, func() { assert.False(t, v.Verify(fields)) })
		})
	}

	t.Run("nil fields", func(t *testing.T) {
		assert.False(t, v.Verify(nil))
	})

	t.Run("empty bot token", func(t *testing.T) {
		assert.False(t, auth.TelegramVerifier{}.Verify(signedPayload(t, auth.TelegramVerifier{}, time.Now())))
	})
}

func TestTelegramProfile(t *testing.T) {
	t.Run("full name", func(t *testing.T) {
		p := auth.TelegramProfile(map[string]string{"id": "42", "first_name": "Ana", "last_name": "Petrović"})
		require.NotNil(t, p)
		assert.Equal(t, auth.ProviderTelegram, p.Provider)
		assert.Equal(t, "42", p.ExternalID)
		assert.Equal(t, "Ana Petrović", p.DisplayName)
		assert.Empty(t, p.Email)
	})

	t.Run("falls back to username", func(t *testing.T) {
		p := auth.TelegramProfile(map[string]string{"id": "42", "username": "ana_p"})
		assert.Equal(t, "ana_p", p.DisplayName)
	})
}

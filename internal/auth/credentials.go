// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package auth

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/oops"
)

// Password length bounds, in runes.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// Password strength reason codes.
const (
	CodePasswordEmpty    = "PASSWORD_EMPTY"
	CodePasswordTooShort = "PASSWORD_TOO_SHORT"
	CodePasswordTooLong  = "PASSWORD_TOO_LONG"
	CodePasswordTooWeak  = "PASSWORD_TOO_WEAK"
)

// ValidatePasswordStrength checks a candidate password. The returned error
// carries one of the PASSWORD_* codes.
func ValidatePasswordStrength(password string) error {
	n := utf8.RuneCountInString(password)
	switch {
	case n == 0:
		return oops.Code(CodePasswordEmpty).Errorf("password cannot be empty")
	case n < MinPasswordLength:
		return oops.Code(CodePasswordTooShort).
			With("min", MinPasswordLength).
			Errorf("password must be at least %d characters", MinPasswordLength)
	case n > MaxPasswordLength:
		return oops.Code(CodePasswordTooLong).
			With("max", MaxPasswordLength).
			Errorf("password must be at most %d characters", MaxPasswordLength)
	}

	var letter, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsSpace(r):
			symbol = true
		}
	}
	classes := 0
	for _, ok := range []bool{letter, digit, symbol} {
		if ok {
			classes++
		}
	}
	if classes < 2 {
		return oops.Code(CodePasswordTooWeak).Errorf("password must mix letters, digits or symbols")
	}
	return nil
}

// Email length bounds from RFC 5321.
const (
	maxEmailLength     = 254
	maxEmailLocalPart  = 64
	maxEmailDomainPart = 253
)

// ValidateEmailSyntax performs a conservative syntactic check. It does not
// attempt deliverability.
func ValidateEmailSyntax(value string) bool {
	if value == "" || len(value) > maxEmailLength {
		return false
	}
	if strings.IndexFunc(value, unicode.IsSpace) >= 0 {
		return false
	}
	local, domain, ok := strings.Cut(value, "@")
	if !ok || strings.Contains(domain, "@") {
		return false
	}
	if local == "" || len(local) > maxEmailLocalPart {
		return false
	}
	if len(domain) > maxEmailDomainPart || !strings.Contains(domain, ".") {
		return false
	}
	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") || strings.Contains(domain, "..") {
		return false
	}
	return !strings.HasPrefix(local, ".") && !strings.HasSuffix(local, ".")
}

// NormalizeEmail trims and lower-cases an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned by repositories when a uniqueness constraint
// rejects a write.
var ErrAlreadyExists = errors.New("already exists")

// Public error codes. Handlers translate these into redirect error codes or
// JSON error bodies; everything else is reported as an operation failure.
const (
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeAccountNotFound    = "ACCOUNT_NOT_FOUND"
	CodeAlreadyExists      = "ALREADY_EXISTS"
	CodeEmailTaken         = "EMAIL_TAKEN"
	CodeTokenInvalid       = "TOKEN_INVALID"
	CodeCSRFMismatch       = "CSRF_MISMATCH"
	CodeSignatureInvalid   = "SIGNATURE_INVALID"
	CodeLastAuthMethod     = "LAST_AUTH_METHOD"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeInvalidEmail       = "INVALID_EMAIL"
	CodeProviderError      = "PROVIDER_ERROR"
	CodeSessionInvalid     = "SESSION_INVALID"
	CodeSessionExpired     = "SESSION_EXPIRED"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeNotLinked          = "IDENTITY_NOT_LINKED"
)

// Token rejection reasons. They travel as oops context under "reason" so the
// distinction reaches logs but never an unauthenticated caller.
const (
	ReasonNotFound   = "not_found"
	ReasonUsed       = "used"
	ReasonExpired    = "expired"
	ReasonSuperseded = "superseded"
	ReasonWrongKind  = "wrong_kind"
)

// ErrorCode returns the oops code attached to err, or "" if there is none.
func ErrorCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

// HasCode reports whether err carries the given oops code.
func HasCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

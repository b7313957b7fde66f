// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package web

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/medidir/medidir/internal/auth"
	"github.com/medidir/medidir/pkg/errutil"
)

// CodeOperationFailed is reported for every error outside the public
// taxonomy. The cause is logged, never returned.
const CodeOperationFailed = "OPERATION_FAILED"

// Redirect error codes for browser flows.
const (
	RedirectCSRFMismatch     = "csrf_mismatch"
	RedirectMissingCode      = "missing_code"
	RedirectProviderError    = "provider_error"
	RedirectSignatureInvalid = "signature_invalid"
	RedirectAlreadyLinked    = "already_linked"
	RedirectEmailTaken       = "email_taken"
	RedirectTokenInvalid     = "token_invalid"
	RedirectOperationFailed  = "operation_failed"
)

type publicError struct {
	status  int
	message string
}

// publicErrors lists the codes callers may see, with a fixed message each.
var publicErrors = map[string]publicError{
	auth.CodeInvalidCredentials: {http.StatusUnauthorized, "invalid email or password"},
	auth.CodeUnauthorized:       {http.StatusUnauthorized, "sign-in required"},
	auth.CodeSessionInvalid:     {http.StatusUnauthorized, "sign-in required"},
	auth.CodeSessionExpired:     {http.StatusUnauthorized, "sign-in required"},
	auth.CodeForbidden:          {http.StatusForbidden, "not allowed"},
	auth.CodeAccountNotFound:    {http.StatusNotFound, "account not found"},
	auth.CodeSessionNotFound:    {http.StatusNotFound, "session not found"},
	auth.CodeNotLinked:          {http.StatusNotFound, "sign-in method is not linked"},
	auth.CodeAlreadyExists:      {http.StatusConflict, "already exists"},
	auth.CodeEmailTaken:         {http.StatusConflict, "email belongs to an existing account"},
	auth.CodeLastAuthMethod:     {http.StatusConflict, "cannot remove the last sign-in method"},
	auth.CodeTokenInvalid:       {http.StatusBadRequest, "link is invalid or has expired"},
	auth.CodeCSRFMismatch:       {http.StatusBadRequest, "request could not be verified"},
	auth.CodeSignatureInvalid:   {http.StatusBadRequest, "signature is invalid"},
	auth.CodeInvalidArgument:    {http.StatusBadRequest, "invalid request"},
	auth.CodeInvalidEmail:       {http.StatusBadRequest, "invalid email address"},
	auth.CodePasswordEmpty:      {http.StatusBadRequest, "password is required"},
	auth.CodePasswordTooShort:   {http.StatusBadRequest, "password is too short"},
	auth.CodePasswordTooLong:    {http.StatusBadRequest, "password is too long"},
	auth.CodePasswordTooWeak:    {http.StatusBadRequest, "password is too weak"},
	auth.CodeProviderError:      {http.StatusBadGateway, "sign-in provider failed"},
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is a public error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify maps err to a public code, status and message.
func classify(err error) (string, publicError) {
	code := auth.ErrorCode(err)
	if pe, ok := publicErrors[code]; ok {
		return code, pe
	}
	return CodeOperationFailed, publicError{http.StatusInternalServerError, "the operation could not be completed"}
}

// redirectCode maps err to the error code of a browser redirect.
func redirectCode(err error) string {
	switch auth.ErrorCode(err) {
	case auth.CodeCSRFMismatch:
		return RedirectCSRFMismatch
	case auth.CodeProviderError:
		return RedirectProviderError
	case auth.CodeSignatureInvalid:
		return RedirectSignatureInvalid
	case auth.CodeAlreadyExists:
		return RedirectAlreadyLinked
	case auth.CodeEmailTaken:
		return RedirectEmailTaken
	case auth.CodeTokenInvalid:
		return RedirectTokenInvalid
	default:
		return RedirectOperationFailed
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	//nolint:errchkjson // client may disconnect
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as JSON. Errors outside the public taxonomy are
// logged with their full context and reported as OPERATION_FAILED.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, pe := classify(err)
	if code == CodeOperationFailed {
		errutil.LogErrorContext(r.Context(), h.logger, "request failed", err,
			"method", r.Method, "path", r.URL.Path)
	} else {
		h.logger.DebugContext(r.Context(), "request rejected", "code", code, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, pe.status, ErrorBody{Error: ErrorDetail{Code: code, Message: pe.message}})
}

// writeCode renders a public code without an underlying error.
func writeCode(w http.ResponseWriter, code string) {
	pe, ok := publicErrors[code]
	if !ok {
		pe = publicError{http.StatusInternalServerError, "the operation could not be completed"}
	}
	writeJSON(w, pe.status, ErrorBody{Error: ErrorDetail{Code: code, Message: pe.message}})
}

// logRedirectFailure records why a browser flow failed before redirecting.
func logRedirectFailure(r *http.Request, logger *slog.Logger, code string, err error) {
	if code == RedirectOperationFailed {
		errutil.LogErrorContext(r.Context(), logger, "browser flow failed", err, "path", r.URL.Path)
		return
	}
	logger.InfoContext(r.Context(), "browser flow rejected", "code", code, "path", r.URL.Path, "error", err)
}

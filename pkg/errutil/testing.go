// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode asserts that err carries code. oops reports the
// deepest code in the chain, so wrapping with context keeps it visible.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	oopsErr := requireOops(t, err)
	assert.Equal(t, code, oopsErr.Code(), "error: %v", err)
}

// AssertErrorContext asserts that err carries key with value anywhere in
// its chain.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	ctx := requireOops(t, err).Context()
	if assert.Contains(t, ctx, key, "error: %v", err) {
		assert.Equal(t, value, ctx[key], "context %q", key)
	}
}

// AssertCodedError asserts code plus each key/value pair in kv, for
// example AssertCodedError(t, err, "TOKEN_INVALID", "reason", "expired").
func AssertCodedError(t *testing.T, err error, code string, kv ...any) {
	t.Helper()
	require.Len(t, kv, len(kv)/2*2, "kv must be key/value pairs")
	AssertErrorCode(t, err, code)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		require.True(t, ok, "context key %v is not a string", kv[i])
		AssertErrorContext(t, err, key, kv[i+1])
	}
}

func requireOops(t *testing.T, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	return oopsErr
}

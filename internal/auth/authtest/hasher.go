// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package authtest

import (
	"github.com/stretchr/testify/mock"

	"github.com/medidir/medidir/internal/auth"
)

// MockHasher is a testify mock of auth.PasswordHasher.
type MockHasher struct {
	mock.Mock
}

var _ auth.PasswordHasher = (*MockHasher)(nil)

// Hash implements auth.PasswordHasher.
func (m *MockHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

// Verify implements auth.PasswordHasher.
func (m *MockHasher) Verify(password, hash string) (bool, error) {
	args := m.Called(password, hash)
	return args.Bool(0), args.Error(1)
}

// NeedsUpgrade implements auth.PasswordHasher.
func (m *MockHasher) NeedsUpgrade(hash string) bool {
	return m.Called(hash).Bool(0)
}

// FastHasher returns a real argon2id hasher with a minimal work factor.
func FastHasher() *auth.Argon2idHasher {
	return auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1})
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

// Package auth provides identity and session management for Medidir.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewUser - validates and normalizes the email
//   - NewExternalIdentity - links a verified provider profile to a user
//   - NewSession - validates owner and expiry
//   - NewSecurityToken - validates kind, payload and expiry
//
// Repository implementations receive pre-validated types from these constructors.
//
// # Services
//
//   - TokenLedger - single-use password reset, email verification and email change tokens
//   - SessionStore - session minting, resolution and revocation
//   - IdentityResolver - provider callbacks, linking, unlinking, primary provider
//   - AccountService - registration, login, password and email flows, locale
//   - MergeService - administrative account merge and association editing
//
// Services are created with New* constructors that validate dependencies.
// Multi-row mutations run through a Transactor; repositories called with the
// transaction context take part in it.
//
// # Errors
//
// Failures callers must tell apart carry one of the Code* oops codes. Token
// failures always surface as TOKEN_INVALID; the precise reason travels in the
// error context under "reason" for logging only.
package auth

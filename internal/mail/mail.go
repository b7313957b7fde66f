// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

// Package mail composes and sends the account messages that carry
// single-use links.
package mail

import (
	"context"
	"log/slog"
	"sync"
)

// Kind identifies the purpose of a message.
type Kind string

// Message kinds.
const (
	KindEmailVerification Kind = "email_verification"
	KindPasswordReset     Kind = "password_reset"
	KindEmailChange       Kind = "email_change"
)

// Message is an outbound email.
type Message struct {
	Kind    Kind
	To      string
	Locale  string
	Subject string
	Body    string
	Link    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to a logger instead of delivering them. Bodies
// carry live tokens and are only logged when IncludeLinks is set.
type LogSender struct {
	Logger       *slog.Logger
	IncludeLinks bool
}

// Send logs msg.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"kind", msg.Kind, "to", msg.To, "locale", msg.Locale, "subject", msg.Subject}
	if s.IncludeLinks {
		attrs = append(attrs, "link", msg.Link)
	}
	logger.InfoContext(ctx, "outbound email", attrs...)
	return nil
}

// Recorder keeps sent messages in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

// Send records msg, or returns the error set with FailWith.
func (r *Recorder) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

// FailWith makes every later Send return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Sent returns a copy of the recorded messages.
func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}

// Last returns the most recent message of kind.
func (r *Recorder) Last(kind Kind) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].Kind == kind {
			return r.sent[i], true
		}
	}
	return Message{}, false
}

// Reset forgets every recorded message and clears FailWith.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
	r.err = nil
}

var (
	_ Sender = (*LogSender)(nil)
	_ Sender = (*Recorder)(nil)
)

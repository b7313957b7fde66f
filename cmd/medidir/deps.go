// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/medidir/medidir/internal/auth"
	"github.com/medidir/medidir/internal/auth/postgres"
	"github.com/medidir/medidir/internal/config"
	"github.com/medidir/medidir/internal/mail"
)

// Storage is the database surface the commands run on.
type Storage struct {
	Users        auth.UserRepository
	Identities   auth.IdentityRepository
	Sessions     auth.SessionRepository
	Tokens       auth.TokenRepository
	Redirects    auth.RedirectRepository
	Associations auth.AssociationRepository
	Tx           auth.Transactor

	// Ping backs the readiness probe.
	Ping func(ctx context.Context) error
	// Close releases the connection pool.
	Close func()
}

// SchemaMigrator is the part of postgres.Migrator the migrate commands use.
type SchemaMigrator interface {
	Up() error
	Down() error
	Force(version int) error
	Status() (*postgres.MigrationStatus, error)
	Close() error
}

// Deps contains injectable dependencies for the commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// StorageOpener connects to the database.
	// Default: openPostgres
	StorageOpener func(ctx context.Context, cfg *config.Config) (*Storage, error)

	// MigratorFactory creates a schema migrator from a database URL.
	// Default: postgres.NewMigrator
	MigratorFactory func(databaseURL string) (SchemaMigrator, error)

	// MailerFactory creates the outbound mail sender.
	// Default: mail.LogSender
	MailerFactory func(cfg *config.Config, logger *slog.Logger) mail.Sender

	// ListenerFactory creates the HTTP listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.StorageOpener == nil {
		out.StorageOpener = openPostgres
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(databaseURL string) (SchemaMigrator, error) {
			return postgres.NewMigrator(databaseURL)
		}
	}
	if out.MailerFactory == nil {
		out.MailerFactory = func(cfg *config.Config, logger *slog.Logger) mail.Sender {
			return &mail.LogSender{Logger: logger, IncludeLinks: cfg.Mail.LogLinks}
		}
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = net.Listen
	}
	return &out
}

// openPostgres connects with retry and wires the PostgreSQL repositories.
func openPostgres(ctx context.Context, cfg *config.Config) (*Storage, error) {
	databaseURL, err := requireDatabaseURL(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := postgres.Connect(ctx, databaseURL, postgres.ConnectOptions{
		Attempts: cfg.Database.Retries,
		Backoff:  cfg.RetryDelay(),
	})
	if err != nil {
		return nil, err
	}
	store := postgres.NewStore(pool)
	return &Storage{
		Users:        store.Users,
		Identities:   store.Identities,
		Sessions:     store.Sessions,
		Tokens:       store.Tokens,
		Redirects:    store.Redirects,
		Associations: store.Associations,
		Tx:           store.Tx,
		Ping:         pool.Ping,
		Close:        pool.Close,
	}, nil
}

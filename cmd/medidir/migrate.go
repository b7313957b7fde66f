// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/medidir/medidir/internal/auth/postgres"
	"github.com/medidir/medidir/internal/config"
	"github.com/medidir/medidir/pkg/errutil"
)

// NewMigrateCmd creates the migrate subcommand. Without a subcommand it
// applies every pending migration.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Apply all pending database migrations against the PostgreSQL database.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateUp(cmd, nil)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateUp(cmd, nil)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration, dropping all auth tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateDown(cmd, nil)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateStatus(cmd, nil)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Long: `Set the recorded schema version and clear the dirty flag. Use this to
recover after a migration failed halfway and the schema was repaired by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateForce(cmd, args[0], nil)
		},
	})

	return cmd
}

// withMigrator loads the configuration, opens a migrator and runs fn.
func withMigrator(cmd *cobra.Command, deps *Deps, fn func(m SchemaMigrator, logger *slog.Logger) error) error {
	deps = deps.withDefaults()
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	databaseURL, err := requireDatabaseURL(cfg)
	if err != nil {
		return err
	}
	m, err := deps.MigratorFactory(databaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			errutil.LogError(logger, "closing migrator failed", closeErr)
		}
	}()
	return fn(m, logger)
}

func runMigrateUp(cmd *cobra.Command, deps *Deps) error {
	return withMigrator(cmd, deps, func(m SchemaMigrator, _ *slog.Logger) error {
		cmd.Println("Running migrations...")
		if err := m.Up(); err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "up").Wrap(err)
		}
		cmd.Println("Migrations completed successfully")
		return nil
	})
}

func runMigrateDown(cmd *cobra.Command, deps *Deps) error {
	return withMigrator(cmd, deps, func(m SchemaMigrator, _ *slog.Logger) error {
		if err := m.Down(); err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "down").Wrap(err)
		}
		cmd.Println("Rolled back all migrations")
		return nil
	})
}

func runMigrateStatus(cmd *cobra.Command, deps *Deps) error {
	return withMigrator(cmd, deps, func(m SchemaMigrator, _ *slog.Logger) error {
		status, err := m.Status()
		if err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "status").Wrap(err)
		}
		return printMigrationStatus(cmd, status)
	})
}

func runMigrateForce(cmd *cobra.Command, arg string, deps *Deps) error {
	version, err := parseForceVersion(arg)
	if err != nil {
		return err
	}
	return withMigrator(cmd, deps, func(m SchemaMigrator, logger *slog.Logger) error {
		if err := m.Force(version); err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "force").With("version", version).Wrap(err)
		}
		logger.Warn("schema version forced", "version", version)
		cmd.Printf("Schema version forced to %d\n", version)
		return nil
	})
}

// migrateUp applies pending migrations before serving.
func migrateUp(cfg *config.Config, deps *Deps, logger *slog.Logger) error {
	databaseURL, err := requireDatabaseURL(cfg)
	if err != nil {
		return err
	}
	m, err := deps.MigratorFactory(databaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			errutil.LogError(logger, "closing migrator failed", closeErr)
		}
	}()
	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "auto-migrate").Wrap(err)
	}
	logger.Info("database migrations applied")
	return nil
}

func printMigrationStatus(cmd *cobra.Command, status *postgres.MigrationStatus) error {
	cmd.Printf("Version: %d", status.Version)
	if status.Dirty {
		cmd.Print(" (dirty)")
	}
	cmd.Println()

	sections := []struct {
		title    string
		versions []uint
	}{
		{"Applied", status.Applied},
		{"Pending", status.Pending},
	}
	for _, section := range sections {
		cmd.Printf("%s: %d\n", section.title, len(section.versions))
		for _, v := range section.versions {
			name, err := postgres.MigrationName(v)
			if err != nil {
				return err
			}
			cmd.Printf("  %s\n", name)
		}
	}
	return nil
}

// parseForceVersion reads the version argument of migrate force.
func parseForceVersion(arg string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(strings.TrimSpace(arg), "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("version", arg).Wrap(err)
	}
	return version, nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package main

import (
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/medidir/medidir/internal/config"
	"github.com/medidir/medidir/internal/logging"
)

// Global flags available to all subcommands.
var configFile string

// serviceName tags every log record.
const serviceName = "medidir"

// NewRootCmd creates the root command for the medidir CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "medidir",
		Short: "Medidir - identity and sessions for the medical directory",
		Long: `Medidir runs sign-in, accounts and sessions for the medical directory:
passwords, Google, Facebook and Telegram identities, single-use email links,
and account merging.`,
		SilenceUsage: true,
	}

	defaults := config.Default()
	flags := cmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/medidir/config.yaml)")
	flags.String("addr", defaults.Server.Addr, "HTTP listen address")
	flags.String("metrics-addr", defaults.Server.MetricsAddr, "metrics and health listen address; empty disables")
	flags.String("public-url", defaults.Server.PublicURL, "externally visible base URL")
	flags.String("log-format", defaults.Log.Format, "log format (json or text)")
	flags.String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSweepCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadConfig reads the layered configuration for cmd and installs the
// configured logger as the default.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.SetDefault(logging.Options{
		Service: serviceName,
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// requireDatabaseURL fails when no database is configured.
func requireDatabaseURL(cfg *config.Config) (string, error) {
	if cfg.Database.URL == "" {
		return "", oops.Code("CONFIG_INVALID").Errorf("%s environment variable is required", config.EnvDatabaseURL)
	}
	return cfg.Database.URL, nil
}

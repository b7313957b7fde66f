// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package main

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/medidir/medidir/internal/config"
	"github.com/medidir/medidir/internal/xdg"
)

// NewConfigCmd creates the config subcommand.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create configuration files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the configuration file",
		Args:  cobra.NoArgs,
		RunE:  runConfigSchema,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file and exit",
		Args:  cobra.NoArgs,
		RunE:  runConfigValidate,
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Long: `Write the built-in defaults to --config, or to config.yaml in the XDG
config directory. An existing file is left alone unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	return cmd
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	return cfg.WriteYAML(cmd.OutOrStdout())
}

func runConfigSchema(cmd *cobra.Command, _ []string) error {
	schema, err := config.GenerateSchema()
	if err != nil {
		return err
	}
	if _, err := cmd.OutOrStdout().Write(schema); err != nil {
		return oops.Code("WRITE_FAILED").Wrap(err)
	}
	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	if _, err := config.Load(configFile, cmd.Flags()); err != nil {
		return err
	}
	cmd.Println("Configuration is valid")
	return nil
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	path := configFile
	if path == "" {
		dir, err := xdg.ConfigDir()
		if err != nil {
			return err
		}
		path = filepath.Join(dir, config.DefaultFileName)
	}

	if _, err := os.Stat(path); err == nil && !force {
		return oops.Code("CONFIG_EXISTS").With("path", path).Errorf("config file already exists; use --force to overwrite")
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return oops.Code("CONFIG_INIT_FAILED").With("path", path).Wrap(err)
	}

	if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := config.Default().WriteYAML(&buf); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return oops.Code("CONFIG_INIT_FAILED").With("path", path).Wrap(err)
	}
	cmd.Printf("Wrote %s\n", path)
	return nil
}

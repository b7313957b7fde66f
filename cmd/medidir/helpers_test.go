// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/cobra"

	"github.com/medidir/medidir/internal/auth/authtest"
	"github.com/medidir/medidir/internal/config"
)

// isolateConfig points every config lookup at an empty temp directory and
// clears the secrets the environment could leak into a test.
func isolateConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv(config.EnvDatabaseURL, "")
	t.Setenv(config.EnvGoogleClientSecret, "")
	t.Setenv(config.EnvFacebookClientSecret, "")
	t.Setenv(config.EnvTelegramBotToken, "")
	configFile = ""
	t.Cleanup(func() { configFile = "" })
	return dir
}

// execute runs the root command with args. When run is non-nil it is
// mounted as the "under-test" subcommand and args are passed to it.
func execute(ctx context.Context, args []string, run func(cmd *cobra.Command) error) (string, error) {
	root := NewRootCmd()
	if run != nil {
		root.AddCommand(&cobra.Command{
			Use: "under-test",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd)
			},
		})
		args = append([]string{"under-test"}, args...)
	}
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return buf.String(), err
}

// memoryStorage exposes an in-memory store as Storage.
func memoryStorage(store *authtest.Store) *Storage {
	return &Storage{
		Users:        store.Users(),
		Identities:   store.Identities(),
		Sessions:     store.Sessions(),
		Tokens:       store.Tokens(),
		Redirects:    store.Redirects(),
		Associations: store.Associations(),
		Tx:           store,
		Ping:         func(context.Context) error { return nil },
		Close:        func() {},
	}
}

func memoryOpener(store *authtest.Store) func(context.Context, *config.Config) (*Storage, error) {
	return func(context.Context, *config.Config) (*Storage, error) {
		return memoryStorage(store), nil
	}
}

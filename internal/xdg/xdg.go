// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

// Package xdg resolves the XDG config directory for medidir.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "medidir"

// ConfigDir returns the medidir config directory. It checks XDG_CONFIG_HOME
// first and falls back to ~/.config.
func ConfigDir() (string, error) {
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, appName), nil
	}
	home := os.Getenv("HOME")
	if home == "" {
		return "", oops.Code("XDG_NO_HOME").Errorf("neither XDG_CONFIG_HOME nor HOME is set")
	}
	return filepath.Join(home, ".config", appName), nil
}

// EnsureDir creates path and its parents with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.Code("XDG_MKDIR_FAILED").With("path", path).Wrap(err)
	}
	return nil
}

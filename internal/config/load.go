// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package config

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/medidir/medidir/internal/xdg"
)

// DefaultFileName is the config file looked up in the XDG config directory.
const DefaultFileName = "config.yaml"

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"addr":         "server.addr",
	"metrics-addr": "server.metrics_addr",
	"public-url":   "server.public_url",
	"log-format":   "log.format",
	"log-level":    "log.level",
}

// defaultsProvider feeds an already-parsed document to koanf.
type defaultsProvider []byte

func (p defaultsProvider) ReadBytes() ([]byte, error) { return p, nil }

func (p defaultsProvider) Read() (map[string]any, error) {
	return nil, errors.New("defaults provider requires a parser")
}

// Load builds the configuration from defaults, the YAML file at path, the
// flags in flags that were set explicitly, and the environment. An empty path
// uses DefaultFileName in the XDG config directory when that file exists.
// flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	defaults, err := yamlv3.Marshal(Default())
	if err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").Wrap(err)
	}
	if err := k.Load(defaultsProvider(defaults), yaml.Parser()); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "defaults").Wrap(err)
	}

	path, err = resolvePath(path)
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
		if err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
		if err := ValidateFile(data); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "flags").Wrap(err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").Wrap(err)
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolvePath returns the file to load, or "" when the default file is absent.
func resolvePath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	dir, err := xdg.ConfigDir()
	if err != nil {
		return "", nil //nolint:nilerr // no config directory means no default file
	}
	candidate := filepath.Join(dir, DefaultFileName)
	if _, err := os.Stat(candidate); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", oops.Code("CONFIG_LOAD_FAILED").With("path", candidate).Wrap(err)
	}
	return candidate, nil
}

func applyEnv(cfg *Config) {
	set := func(dst *string, name string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	set(&cfg.Database.URL, EnvDatabaseURL)
	set(&cfg.Providers.Google.ClientSecret, EnvGoogleClientSecret)
	set(&cfg.Providers.Facebook.ClientSecret, EnvFacebookClientSecret)
	set(&cfg.Providers.Telegram.BotToken, EnvTelegramBotToken)
}

// WriteYAML writes the configuration with secrets masked.
func (c *Config) WriteYAML(w io.Writer) error {
	enc := yamlv3.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.Redacted()); err != nil {
		return oops.Code("CONFIG_ENCODE_FAILED").Wrap(err)
	}
	return oops.Code("CONFIG_ENCODE_FAILED").Wrap(enc.Close())
}

// Package config loads the accounts file and the process settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/spf13/viper"

	"github.com/nhle/postbox/internal/backend"
	"github.com/nhle/postbox/internal/logger"
)

// Env holds the settings read from the environment.
type Env struct {
	// ConfigPath is the accounts file. Defaults to DefaultConfigPath.
	ConfigPath string `env:"POSTBOX_CONFIG"`

	Logger logger.Config
}

// LoadEnv parses the environment.
func LoadEnv() (*Env, error) {
	cfg := &Env{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = DefaultConfigPath()
	}
	return cfg, nil
}

// Config is the accounts file.
type Config struct {
	Accounts map[string]*backend.AccountConfig `mapstructure:"accounts" yaml:"accounts"`

	path string
}

// DefaultConfigPath returns ~/.config/postbox/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "postbox", "config.yaml")
}

// Load reads the accounts file at path. A missing file yields a
// configuration without accounts.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	cfg := &Config{Accounts: map[string]*backend.AccountConfig{}, path: path}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.Is(err, os.ErrNotExist) || errors.As(err, &notFound) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	for name, acc := range cfg.Accounts {
		if acc == nil {
			acc = &backend.AccountConfig{}
			cfg.Accounts[name] = acc
		}
		acc.Name = name
		normalize(acc)
		if err := acc.Validate(); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	return cfg, nil
}

// normalize undoes the key lowercasing viper applies to mailbox names
// and canonicalizes kinds.
func normalize(acc *backend.AccountConfig) {
	acc.Backend = backend.Kind(strings.ToLower(string(acc.Backend)))
	acc.SendBackend = backend.Kind(strings.ToLower(string(acc.SendBackend)))
	for c, k := range acc.Capabilities {
		acc.Capabilities[c] = backend.Kind(strings.ToLower(string(k)))
	}

	if acc.Notmuch != nil {
		for name, q := range acc.Notmuch.Mailboxes {
			if strings.EqualFold(name, "inbox") && name != "INBOX" {
				delete(acc.Notmuch.Mailboxes, name)
				acc.Notmuch.Mailboxes["INBOX"] = q
			}
		}
	}
}

// Names returns the account names, sorted.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Accounts))
	for name := range c.Accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Account returns the named account. An empty name selects the account
// marked default, or the only account when there is just one.
func (c *Config) Account(name string) (*backend.AccountConfig, error) {
	if len(c.Accounts) == 0 {
		return nil, fmt.Errorf("no accounts configured in %s", c.path)
	}

	if name != "" {
		for key, acc := range c.Accounts {
			if strings.EqualFold(key, name) {
				return acc, nil
			}
		}
		return nil, fmt.Errorf("account %q not found", name)
	}

	var defaults []*backend.AccountConfig
	for _, key := range c.Names() {
		if acc := c.Accounts[key]; acc.Default {
			defaults = append(defaults, acc)
		}
	}
	switch {
	case len(defaults) == 1:
		return defaults[0], nil
	case len(defaults) > 1:
		return nil, fmt.Errorf("more than one default account")
	case len(c.Accounts) == 1:
		for _, acc := range c.Accounts {
			return acc, nil
		}
	}
	return nil, fmt.Errorf("no default account; pick one of %s", strings.Join(c.Names(), ", "))
}

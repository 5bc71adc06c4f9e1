// Package config loads account configuration for the mail protocol stack
// from a YAML file, adapted from the teacher's internal/conf.LoadConfig
// (multi-path search, yaml.v2 unmarshal).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// Account describes one mail account's connection parameters.
type Account struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	Username string `yaml:"username"`
	// Password is read from config for convenience; production callers
	// should prefer PreferredMechanisms with an external credential/token
	// source (e.g. OAUTHBEARER) over plaintext passwords in YAML.
	Password string `yaml:"password"`

	// PreferredMechanisms lists SASL mechanism names in preference order.
	// It is loaded from the file but nothing in this module reads it:
	// cmd/mailctl passes fixed mechanism lists to sasl.Negotiate.
	PreferredMechanisms []string `yaml:"preferred_mechanisms"`

	// CommandTimeout is the per-command deadline (§4.5); defaults to 120s.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// ChunkSize is the SMTP BDAT chunk size in bytes; defaults to 64KiB.
	ChunkSize int `yaml:"chunk_size"`
}

// Config is the top-level account configuration file.
type Config struct {
	Accounts []Account `yaml:"accounts"`
}

func (a *Account) applyDefaults() {
	if a.CommandTimeout == 0 {
		a.CommandTimeout = 120 * time.Second
	}
	if a.ChunkSize == 0 {
		a.ChunkSize = 64 * 1024
	}
}

// Load reads the first readable file among path (tried first when
// non-empty) and a fixed list of well-known paths (mirroring the teacher's
// LoadConfig).
func Load(path string) (*Config, error) {
	candidates := []string{
		"/etc/mailstack/mailstack.yaml",
		"./config/mailstack.yaml",
		"./mailstack.yaml",
	}
	if path != "" {
		candidates = append([]string{path}, candidates...)
	}

	var data []byte
	var err error
	for _, p := range candidates {
		data, err = os.ReadFile(filepath.Clean(p))
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	for i := range cfg.Accounts {
		cfg.Accounts[i].applyDefaults()
	}
	return &cfg, nil
}

// Find returns the account with the given name, or an error if absent.
func (c *Config) Find(name string) (*Account, error) {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("no account named %q", name)
}

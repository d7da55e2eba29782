// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for envoy-core.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - $ENVOY_CONFIG (explicit path)
//   - ~/.envoy/config.toml
//   - Built-in defaults
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete envoy-core configuration.
type Config struct {
	// General settings
	DefaultModel    string `toml:"default_model"`
	DefaultProvider string `toml:"default_provider"`

	// Local provider configuration
	Local LocalConfig `toml:"local"`

	// Agent connection configuration
	Agent AgentConfig `toml:"agent"`

	// Storage configuration
	Storage StorageConfig `toml:"storage"`
}

// LocalConfig contains local provider configuration.
type LocalConfig struct {
	// BaseURL is the URL of the local provider server
	BaseURL string `toml:"base_url"`
	// RequestsPerSecond caps outbound request rate (0 = default)
	RequestsPerSecond float64 `toml:"requests_per_second"`
	// TimeoutSecs bounds non-streaming requests (0 = default)
	TimeoutSecs int `toml:"timeout_secs"`
}

// AgentConfig contains remote agent configuration.
type AgentConfig struct {
	// BaseURL is the agent endpoint base URL (empty = agents disabled)
	BaseURL string `toml:"base_url"`
	// Name is the default agent persona to address
	Name string `toml:"name"`
	// TimeoutSecs bounds connection establishment (0 = default)
	TimeoutSecs int `toml:"timeout_secs"`
}

// StorageConfig contains persistence configuration.
type StorageConfig struct {
	// DatabasePath is where the SQLite database lives
	// (empty = ~/.envoy/threads.db)
	DatabasePath string `toml:"database_path"`
	// SnapshotPath is where JSON exports are written
	// (empty = ~/.envoy/snapshot.json)
	SnapshotPath string `toml:"snapshot_path"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		DefaultModel:    "llama3.2:3b",
		DefaultProvider: "local",
		Local: LocalConfig{
			BaseURL:           "http://127.0.0.1:11434",
			RequestsPerSecond: 4,
			TimeoutSecs:       30,
		},
		Agent: AgentConfig{
			TimeoutSecs: 60,
		},
	}
}

// ConfigPath returns the default config file path.
func ConfigPath() (string, error) {
	if p := os.Getenv("ENVOY_CONFIG"); p != "" {
		return p, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".envoy", "config.toml"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the config file if present, else returns defaults. Environment
// overrides and validation are always applied.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath reads a TOML config from an explicit path.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides lets the environment win over file values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("ENVOY_LOCAL_URL"); v != "" {
		c.Local.BaseURL = v
	}
	if v := os.Getenv("ENVOY_AGENT_URL"); v != "" {
		c.Agent.BaseURL = v
	}
	if v := os.Getenv("ENVOY_AGENT_NAME"); v != "" {
		c.Agent.Name = v
	}
	if v := os.Getenv("ENVOY_DB_PATH"); v != "" {
		c.Storage.DatabasePath = v
	}
	if v := os.Getenv("ENVOY_DEFAULT_MODEL"); v != "" {
		c.DefaultModel = v
	}
}

// SetDefaults fills in any missing values with defaults.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.DefaultModel == "" {
		c.DefaultModel = defaults.DefaultModel
	}
	if c.DefaultProvider == "" {
		c.DefaultProvider = defaults.DefaultProvider
	}
	if c.Local.BaseURL == "" {
		c.Local.BaseURL = defaults.Local.BaseURL
	}
	if c.Local.RequestsPerSecond <= 0 {
		c.Local.RequestsPerSecond = defaults.Local.RequestsPerSecond
	}
	if c.Local.TimeoutSecs <= 0 {
		c.Local.TimeoutSecs = defaults.Local.TimeoutSecs
	}
	if c.Agent.TimeoutSecs <= 0 {
		c.Agent.TimeoutSecs = defaults.Agent.TimeoutSecs
	}
}

// DatabasePath resolves the SQLite path, defaulting under the home directory.
func (c *Config) DatabasePath() (string, error) {
	if c.Storage.DatabasePath != "" {
		return c.Storage.DatabasePath, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".envoy", "threads.db"), nil
}

// SnapshotPath resolves the JSON snapshot path.
func (c *Config) SnapshotPath() (string, error) {
	if c.Storage.SnapshotPath != "" {
		return c.Storage.SnapshotPath, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".envoy", "snapshot.json"), nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the configuration for nonsense values.
func (c *Config) Validate() error {
	if err := validateURL(c.Local.BaseURL, "local.base_url"); err != nil {
		return err
	}
	if c.Agent.BaseURL != "" {
		if err := validateURL(c.Agent.BaseURL, "agent.base_url"); err != nil {
			return err
		}
	}
	if c.Local.RequestsPerSecond <= 0 {
		return fmt.Errorf("local.requests_per_second must be positive, got %v", c.Local.RequestsPerSecond)
	}
	return nil
}

// validateURL checks that a value parses as an absolute http(s) URL.
func validateURL(raw, field string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be http or https, got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s is missing a host: %q", field, raw)
	}
	return nil
}

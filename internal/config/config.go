// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package config loads and stores rowdeck settings from config.yaml in the
// XDG config dir. Secrets are not kept here; saved DSNs go to the keychain.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"rowdeck/cli/internal/logging"
	"rowdeck/cli/internal/xdg"
)

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// Config holds non-sensitive settings.
type Config struct {
	ConfigVersion int             `mapstructure:"config_version" yaml:"config_version"`
	LogLevel      string          `mapstructure:"log_level" yaml:"log_level"`
	Database      DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Grid          GridConfig      `mapstructure:"grid" yaml:"grid"`
	Execution     ExecutionConfig `mapstructure:"execution" yaml:"execution"`
	Identity      IdentityConfig  `mapstructure:"identity" yaml:"identity"`
	History       HistoryConfig   `mapstructure:"history" yaml:"history"`
}

// DatabaseConfig holds connection settings. A DSN stored here is used when
// neither a flag nor the environment provides one.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn,omitempty"`
}

// GridConfig tunes the result window and its presentation.
type GridConfig struct {
	RowCap         int    `mapstructure:"row_cap" yaml:"row_cap"`
	FetchBatch     int    `mapstructure:"fetch_batch" yaml:"fetch_batch"`
	MinColumnWidth int    `mapstructure:"min_column_width" yaml:"min_column_width"`
	MaxColumnWidth int    `mapstructure:"max_column_width" yaml:"max_column_width"`
	NullText       string `mapstructure:"null_text" yaml:"null_text"`
}

// ExecutionConfig tunes statement streaming and cancellation.
type ExecutionConfig struct {
	StreamBatch   int           `mapstructure:"stream_batch" yaml:"stream_batch"`
	CancelTimeout time.Duration `mapstructure:"cancel_timeout" yaml:"cancel_timeout"`
}

// MarshalYAML writes the timeout in duration notation rather than nanoseconds.
func (e ExecutionConfig) MarshalYAML() (any, error) {
	return struct {
		StreamBatch   int    `yaml:"stream_batch"`
		CancelTimeout string `yaml:"cancel_timeout"`
	}{e.StreamBatch, e.CancelTimeout.String()}, nil
}

// HistoryConfig bounds the statement history kept in the state dir. Zero
// turns history off.
type HistoryConfig struct {
	MaxEntries int `mapstructure:"max_entries" yaml:"max_entries"`
}

// IdentityConfig supplies row keys for relations without usable constraints.
// Overrides are a list because relation names contain the key delimiter.
type IdentityConfig struct {
	Overrides []KeyOverride `mapstructure:"overrides" yaml:"overrides,omitempty"`
}

// KeyOverride names the columns that identify rows of Relation ("table" or
// "schema.table").
type KeyOverride struct {
	Relation string   `mapstructure:"relation" yaml:"relation"`
	Columns  []string `mapstructure:"columns" yaml:"columns"`
}

// OverrideMap returns the overrides keyed by relation name.
func (c IdentityConfig) OverrideMap() map[string][]string {
	out := make(map[string][]string, len(c.Overrides))
	for _, o := range c.Overrides {
		out[o.Relation] = o.Columns
	}
	return out
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		ConfigVersion: CurrentConfigVersion,
		LogLevel:      "info",
		Grid: GridConfig{
			RowCap:         2000,
			FetchBatch:     500,
			MinColumnWidth: 3,
			MaxColumnWidth: 40,
			NullText:       "NULL",
		},
		Execution: ExecutionConfig{
			StreamBatch:   200,
			CancelTimeout: 5 * time.Second,
		},
		History: HistoryConfig{MaxEntries: 1000},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/rowdeck/config.yaml.
func DefaultPath() (string, error) {
	dir, err := xdg.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads configuration from path, or from DefaultPath when path is
// empty. A missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return Config{}, err
		}
		path = p
	}
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("database.dsn", cfg.Database.DSN)
	v.SetDefault("grid.row_cap", cfg.Grid.RowCap)
	v.SetDefault("grid.fetch_batch", cfg.Grid.FetchBatch)
	v.SetDefault("grid.min_column_width", cfg.Grid.MinColumnWidth)
	v.SetDefault("grid.max_column_width", cfg.Grid.MaxColumnWidth)
	v.SetDefault("grid.null_text", cfg.Grid.NullText)
	v.SetDefault("execution.stream_batch", cfg.Execution.StreamBatch)
	v.SetDefault("execution.cancel_timeout", cfg.Execution.CancelTimeout)
	v.SetDefault("history.max_entries", cfg.History.MaxEntries)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	} else {
		configLoaded = true
	}
	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if got := v.GetInt("config_version"); got != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", got, CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the grid and controller cannot work with.
func (c Config) Validate() error {
	if _, err := logging.Options(c.LogLevel, false); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	g := c.Grid
	if g.RowCap <= 0 {
		return fmt.Errorf("grid.row_cap must be positive")
	}
	if g.FetchBatch <= 0 {
		return fmt.Errorf("grid.fetch_batch must be positive")
	}
	if g.MinColumnWidth < 1 || g.MaxColumnWidth < g.MinColumnWidth {
		return fmt.Errorf("grid column widths must satisfy 1 <= min_column_width <= max_column_width")
	}
	if c.Execution.StreamBatch <= 0 {
		return fmt.Errorf("execution.stream_batch must be positive")
	}
	if c.Execution.CancelTimeout <= 0 {
		return fmt.Errorf("execution.cancel_timeout must be positive")
	}
	if c.History.MaxEntries < 0 {
		return fmt.Errorf("history.max_entries must not be negative")
	}
	for i, o := range c.Identity.Overrides {
		if strings.TrimSpace(o.Relation) == "" {
			return fmt.Errorf("identity.overrides[%d] has no relation", i)
		}
		if len(o.Columns) == 0 {
			return fmt.Errorf("identity.overrides[%d] (%s) lists no columns", i, o.Relation)
		}
	}
	return nil
}

// Save writes cfg to path, or DefaultPath when empty, with 0600 permissions.
func Save(path string, cfg Config) error {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

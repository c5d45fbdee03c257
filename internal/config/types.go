// Package config provides configuration loading and management for labflow.
//
// Configuration is loaded using Viper, supporting YAML or JSON config files
// and environment variable overrides. The defaults work out of the box with a
// SQLite database in the working directory and the bundled workflow catalog.
//
// Key types:
//   - [Config] is the root configuration container with all settings
//   - [Loader] handles Viper-based configuration loading
//   - [StoreConfig] selects the persistence backend
//   - [EngineConfig] tunes the progression engine
//
// Configuration priority (highest to lowest):
//  1. Environment variables (LABFLOW_ prefix, e.g. LABFLOW_STORE_PATH)
//  2. Config file specified by LABFLOW_CONFIG_PATH
//  3. User config directory (platform-standard):
//     - Linux: ~/.config/labflow/labflow.yaml
//     - macOS: ~/Library/Application Support/labflow/labflow.yaml
//     - Windows: %APPDATA%\labflow\labflow.yaml
//  4. ./labflow.yaml
//  5. [DefaultConfig] defaults
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"labflow/internal/status"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config represents the root configuration structure.
type Config struct {
	// Store selects and locates the persistence backend.
	Store StoreConfig `mapstructure:"store"`

	// Workflows locates the workflow catalog files.
	Workflows WorkflowsConfig `mapstructure:"workflows"`

	// Engine tunes the progression engine.
	Engine EngineConfig `mapstructure:"engine"`

	// Log configures the structured logger.
	Log LogConfig `mapstructure:"log"`

	// Notify configures the order-reported notification endpoint.
	Notify NotifyConfig `mapstructure:"notify"`

	// Metrics configures the Prometheus recorder.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Rollup configures bulk order recomputation.
	Rollup RollupConfig `mapstructure:"rollup"`

	// Output contains terminal output formatting configuration.
	Output OutputConfig `mapstructure:"output"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is "sqlite" (default) or "memory".
	Driver string `mapstructure:"driver"`

	// Path is the SQLite database file. For the memory driver it is an
	// optional YAML state file loaded at start and saved after each command.
	Path string `mapstructure:"path"`
}

// WorkflowsConfig locates the workflow catalog.
type WorkflowsConfig struct {
	// Manifest is the CSV file of workflow,order,section,label rows.
	Manifest string `mapstructure:"manifest"`

	// Schemas is the optional YAML file of section parameter schemas.
	Schemas string `mapstructure:"schemas"`
}

// EngineConfig tunes the progression engine.
type EngineConfig struct {
	// SeedStatus is the status of an item's first station record:
	// "waiting" (default) or "processing".
	SeedStatus string `mapstructure:"seed_status"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	// Level is debug, info, warn or error. Default: info.
	Level string `mapstructure:"level"`

	// Format is "text" (default) or "json".
	Format string `mapstructure:"format"`
}

// NotifyConfig configures the ntfy-style publication endpoint.
// An empty endpoint disables notifications.
type NotifyConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// MetricsConfig configures transition metrics.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Textfile, when set, receives the metrics in Prometheus text format
	// after each command, for a node_exporter textfile collector.
	Textfile string `mapstructure:"textfile"`
}

// RollupConfig configures bulk recomputation.
type RollupConfig struct {
	// Concurrency bounds how many orders are recomputed at once. Default: 4.
	Concurrency int `mapstructure:"concurrency"`
}

// OutputConfig contains terminal output formatting configuration.
type OutputConfig struct {
	// TruncateLength is the maximum length of details and timeline messages
	// in tables. Longer values are truncated with "..." suffix.
	// Default: 60
	TruncateLength int `mapstructure:"truncate_length"`

	// TimeFormat is the Go layout used for timestamps.
	// Default: "2006-01-02 15:04"
	TimeFormat string `mapstructure:"time_format"`
}

// DefaultConfig returns a new [Config] with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: DriverSQLite,
			Path:   "labflow.db",
		},
		Workflows: WorkflowsConfig{
			Manifest: "workflows.csv",
		},
		Engine: EngineConfig{
			SeedStatus: string(status.StationWaiting),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Notify: NotifyConfig{
			TimeoutSeconds: 10,
		},
		Rollup: RollupConfig{
			Concurrency: 4,
		},
		Output: OutputConfig{
			TruncateLength: 60,
			TimeFormat:     "2006-01-02 15:04",
		},
	}
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverSQLite:
	default:
		return fmt.Errorf("unknown store driver %q (want memory or sqlite)", c.Store.Driver)
	}
	if c.Store.Driver == DriverSQLite && strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("store.path is required for the sqlite driver")
	}
	if _, err := c.SeedStatus(); err != nil {
		return err
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", c.Log.Format)
	}
	return nil
}

// SeedStatus returns the parsed engine seed status.
func (c *Config) SeedStatus() (status.StationStatus, error) {
	if strings.TrimSpace(c.Engine.SeedStatus) == "" {
		return status.StationWaiting, nil
	}
	s, ok := status.ParseStationStatus(c.Engine.SeedStatus)
	if !ok || !s.IsActive() {
		return "", fmt.Errorf("engine.seed_status must be waiting or processing, got %q", c.Engine.SeedStatus)
	}
	return s, nil
}

// ParseLevel converts a level name into a [slog.Level]. Empty means info.
func ParseLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", value)
	}
}

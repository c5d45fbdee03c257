package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	appName        = "labflow"
	configFileName = "labflow.yaml"
	envPrefix      = "LABFLOW"
	configPathEnv  = "LABFLOW_CONFIG_PATH"
)

// Loader handles configuration loading with Viper.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader with defaults and
// environment bindings registered.
func NewLoader() *Loader {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v}
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("store.driver", cfg.Store.Driver)
	v.SetDefault("store.path", cfg.Store.Path)
	v.SetDefault("workflows.manifest", cfg.Workflows.Manifest)
	v.SetDefault("workflows.schemas", cfg.Workflows.Schemas)
	v.SetDefault("engine.seed_status", cfg.Engine.SeedStatus)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("notify.endpoint", cfg.Notify.Endpoint)
	v.SetDefault("notify.timeout_seconds", cfg.Notify.TimeoutSeconds)
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.textfile", cfg.Metrics.Textfile)
	v.SetDefault("rollup.concurrency", cfg.Rollup.Concurrency)
	v.SetDefault("output.truncate_length", cfg.Output.TruncateLength)
	v.SetDefault("output.time_format", cfg.Output.TimeFormat)
}

// Load finds a config file in the standard locations and merges it over the
// defaults. Missing files are not an error.
func (l *Loader) Load() (*Config, error) {
	if path := os.Getenv(configPathEnv); path != "" {
		return l.LoadFromFile(path)
	}

	for _, candidate := range searchPaths() {
		if _, err := os.Stat(candidate); err == nil {
			return l.LoadFromFile(candidate)
		}
	}
	return l.unmarshal()
}

// LoadFromFile loads configuration from a specific YAML or JSON file.
func (l *Loader) LoadFromFile(path string) (*Config, error) {
	l.v.SetConfigFile(path)
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return l.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func searchPaths() []string {
	var paths []string
	if p, err := DefaultConfigPath(); err == nil {
		paths = append(paths, p)
	}
	return append(paths, configFileName)
}

// ConfigDir returns the platform-standard labflow configuration directory.
func ConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(dir, appName), nil
}

// DefaultConfigPath returns the path of the user-level config file.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

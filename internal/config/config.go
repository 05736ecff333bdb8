// Package config provides configuration loading for the sync engine.
// Environment variables take precedence; an optional YAML file supplies
// the default integration set and per-provider configs.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds everything needed to assemble an engine.
type Config struct {
	// DatabaseURL backs the Postgres meta store. Empty selects the
	// in-memory store.
	DatabaseURL string `yaml:"databaseUrl"`

	// DefaultEnv names the environment connect handshakes run in.
	DefaultEnv string `yaml:"defaultEnv"`

	// Integrations maps provider name to its raw config document.
	Integrations map[string]map[string]any `yaml:"integrations"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel"`

	// SyncTimeoutSecs bounds a single pipeline run. Zero means no limit.
	SyncTimeoutSecs int `yaml:"syncTimeoutSecs"`
}

// Load reads configuration from the environment, overlaying values from
// the YAML file named by SYNC_CONFIG_FILE when set. Environment values
// win over file values.
func Load() (*Config, error) {
	cfg := &Config{
		DefaultEnv:   "sandbox",
		LogLevel:     "info",
		Integrations: map[string]map[string]any{},
	}

	if path := os.Getenv("SYNC_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.DatabaseURL = getEnv("SYNC_DATABASE_URL", cfg.DatabaseURL)
	cfg.DefaultEnv = getEnv("SYNC_ENV", cfg.DefaultEnv)
	cfg.LogLevel = getEnv("SYNC_LOG_LEVEL", cfg.LogLevel)
	cfg.SyncTimeoutSecs = getEnvInt("SYNC_TIMEOUT_SECS", cfg.SyncTimeoutSecs)
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	var file Config
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if file.DatabaseURL != "" {
		c.DatabaseURL = file.DatabaseURL
	}
	if file.DefaultEnv != "" {
		c.DefaultEnv = file.DefaultEnv
	}
	if file.LogLevel != "" {
		c.LogLevel = file.LogLevel
	}
	if file.SyncTimeoutSecs != 0 {
		c.SyncTimeoutSecs = file.SyncTimeoutSecs
	}
	for name, doc := range file.Integrations {
		c.Integrations[name] = doc
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

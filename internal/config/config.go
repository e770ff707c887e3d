// Package config loads nexus settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPath overrides the config file location.
const EnvPath = "NEXUS_CONFIG"

type Config struct {
	DataDir  string         `yaml:"dataDir"`
	Storage  StorageConfig  `yaml:"storage"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Viewer   ViewerConfig   `yaml:"viewer"`
	Watch    WatchConfig    `yaml:"watch"`
	Sessions SessionsConfig `yaml:"sessions"`
}

// StorageConfig selects the document store. Driver is one of sqlite,
// postgres, mysql or mongo. An empty sqlite DSN means <dataDir>/nexus.db.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// HistoryDSN is the sqlite file used for editor history and sessions
	// when Driver is mongo.
	HistoryDSN string `yaml:"historyDsn"`
}

type FetchConfig struct {
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// ViewerConfig is the identity used by CLI renders.
type ViewerConfig struct {
	UserID   string `yaml:"userId"`
	TenantID string `yaml:"tenantId"`
	Locale   string `yaml:"locale"`
	Timezone string `yaml:"timezone"`
}

type WatchConfig struct {
	Dir      string        `yaml:"dir"`
	Debounce time.Duration `yaml:"debounce"`
}

type SessionsConfig struct {
	// TTL after which idle sessions are expired. Zero keeps them forever.
	TTL time.Duration `yaml:"ttl"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".local", "share", "nexus")
	return &Config{
		DataDir: dataDir,
		Storage: StorageConfig{Driver: "sqlite"},
		Fetch:   FetchConfig{Timeout: 15 * time.Second},
		Viewer:  ViewerConfig{Locale: "en-US"},
		Watch:   WatchConfig{Debounce: 500 * time.Millisecond},
	}
}

// DefaultPath is $NEXUS_CONFIG or <user config dir>/nexus/config.yaml.
func DefaultPath() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "nexus", "config.yaml")
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.fill()
	return cfg, nil
}

// fill restores defaults for keys the file set to zero values.
func (c *Config) fill() {
	d := Default()
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = d.Storage.Driver
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = d.Fetch.Timeout
	}
	if c.Watch.Debounce <= 0 {
		c.Watch.Debounce = d.Watch.Debounce
	}
	if c.Viewer.Locale == "" {
		c.Viewer.Locale = d.Viewer.Locale
	}
}

// SQLiteDSN returns the sqlite file path for the configured storage.
func (c *Config) SQLiteDSN() string {
	if c.Storage.Driver == "mongo" || c.Storage.Driver == "mongodb" {
		if c.Storage.HistoryDSN != "" {
			return c.Storage.HistoryDSN
		}
		return filepath.Join(c.DataDir, "nexus.db")
	}
	if c.Storage.DSN != "" {
		return c.Storage.DSN
	}
	return filepath.Join(c.DataDir, "nexus.db")
}

// Save writes c to path as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

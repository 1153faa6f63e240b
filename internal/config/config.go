// Package config loads and saves the flowy configuration file.
//
// The file is TOML. Every key can be overridden from the environment with
// a FLOWY_ prefix, sections joined by underscores:
//
//	FLOWY_WEBDAV_URL=https://dav.example.com flowy sync
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/flowy-gtd/flowy/internal/fs"
	"github.com/flowy-gtd/flowy/internal/logging"
	"github.com/flowy-gtd/flowy/internal/sync"
	"github.com/flowy-gtd/flowy/internal/webdav"
)

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "FLOWY"

// Config is the full flowy configuration.
type Config struct {
	Storage   StorageConfig   `toml:"storage" mapstructure:"storage"`
	WebDAV    WebDAVConfig    `toml:"webdav" mapstructure:"webdav"`
	Sync      SyncConfig      `toml:"sync" mapstructure:"sync"`
	Log       LogConfig       `toml:"log" mapstructure:"log"`
	Dashboard DashboardConfig `toml:"dashboard" mapstructure:"dashboard"`
}

// StorageConfig selects the local backend.
type StorageConfig struct {
	Platform     string `toml:"platform" mapstructure:"platform"`
	BasePath     string `toml:"base_path" mapstructure:"base_path"`
	DocumentsDir string `toml:"documents_dir,omitempty" mapstructure:"documents_dir"`
	Namespace    string `toml:"namespace,omitempty" mapstructure:"namespace"`
	Database     string `toml:"database,omitempty" mapstructure:"database"`
}

// WebDAVConfig is the sync server. An empty URL leaves sync unconfigured.
type WebDAVConfig struct {
	URL        string `toml:"url" mapstructure:"url"`
	Username   string `toml:"username" mapstructure:"username"`
	Password   string `toml:"password" mapstructure:"password"`
	RemotePath string `toml:"remote_path" mapstructure:"remote_path"`
}

// SyncConfig tunes the engine and the daemon.
type SyncConfig struct {
	Interval    time.Duration `toml:"interval" mapstructure:"interval"`
	Debounce    time.Duration `toml:"debounce" mapstructure:"debounce"`
	Timeout     time.Duration `toml:"timeout" mapstructure:"timeout"`
	Concurrency int           `toml:"concurrency" mapstructure:"concurrency"`
	Retries     int           `toml:"retries" mapstructure:"retries"`
	Strict      bool          `toml:"strict" mapstructure:"strict"`
}

// LogConfig configures log output. An empty File logs to stderr.
type LogConfig struct {
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
}

// DashboardConfig configures the status dashboard.
type DashboardConfig struct {
	Port int `toml:"port" mapstructure:"port"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{},
		WebDAV: WebDAVConfig{
			RemotePath: webdav.DefaultRemotePath,
		},
		Sync: SyncConfig{
			Interval:    5 * time.Minute,
			Debounce:    2 * time.Second,
			Timeout:     2 * time.Minute,
			Concurrency: 4,
			Retries:     2,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Dashboard: DashboardConfig{
			Port: 8080,
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/flowy/config.toml, falling back to
// ~/.config/flowy/config.toml.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "flowy", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".flowy", "config.toml")
	}
	return filepath.Join(home, ".config", "flowy", "config.toml")
}

// Load reads the configuration at path over the defaults and applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so that AutomaticEnv can override keys
// absent from the file.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	defaults := map[string]any{
		"storage.platform":      d.Storage.Platform,
		"storage.base_path":     d.Storage.BasePath,
		"storage.documents_dir": d.Storage.DocumentsDir,
		"storage.namespace":     d.Storage.Namespace,
		"storage.database":      d.Storage.Database,
		"webdav.url":            d.WebDAV.URL,
		"webdav.username":       d.WebDAV.Username,
		"webdav.password":       d.WebDAV.Password,
		"webdav.remote_path":    d.WebDAV.RemotePath,
		"sync.interval":         d.Sync.Interval,
		"sync.debounce":         d.Sync.Debounce,
		"sync.timeout":          d.Sync.Timeout,
		"sync.concurrency":      d.Sync.Concurrency,
		"sync.retries":          d.Sync.Retries,
		"sync.strict":           d.Sync.Strict,
		"log.file":              d.Log.File,
		"log.max_size_mb":       d.Log.MaxSizeMB,
		"log.max_backups":       d.Log.MaxBackups,
		"log.max_age_days":      d.Log.MaxAgeDays,
		"dashboard.port":        d.Dashboard.Port,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Save writes cfg to path as TOML, readable only by the owner since it
// holds the WebDAV password.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// FSOptions returns the local backend options. An empty platform is
// detected.
func (c *Config) FSOptions() (fs.Options, error) {
	platform, err := fs.ParsePlatform(c.Storage.Platform)
	if err != nil {
		return fs.Options{}, err
	}
	return fs.Options{
		Platform:     platform,
		BasePath:     c.Storage.BasePath,
		DocumentsDir: c.Storage.DocumentsDir,
		Database:     c.Storage.Database,
		Namespace:    c.Storage.Namespace,
	}, nil
}

// WebDAVOptions returns the sync server options.
func (c *Config) WebDAVOptions() webdav.Options {
	return webdav.Options{
		URL:        c.WebDAV.URL,
		Username:   c.WebDAV.Username,
		Password:   c.WebDAV.Password,
		RemotePath: c.WebDAV.RemotePath,
		Timeout:    webdav.DefaultTimeout,
	}
}

// SyncConfigured reports whether a server is set.
func (c *Config) SyncConfigured() bool {
	return c.WebDAV.URL != ""
}

// EngineConfig applies the sync section to an engine configuration.
func (c *Config) EngineConfig(base *sync.Config) *sync.Config {
	if base == nil {
		base = sync.DefaultConfig()
	}
	out := *base
	out.Concurrency = c.Sync.Concurrency
	out.Retries = c.Sync.Retries
	out.Timeout = c.Sync.Timeout
	out.Policy.Strict = c.Sync.Strict
	return &out
}

// DaemonConfig applies the sync section to a daemon configuration.
func (c *Config) DaemonConfig(base *sync.DaemonConfig) *sync.DaemonConfig {
	if base == nil {
		base = sync.DefaultDaemonConfig()
	}
	out := *base
	out.Interval = c.Sync.Interval
	out.DebounceInterval = c.Sync.Debounce
	return &out
}

// LogOptions returns the logging options.
func (c *Config) LogOptions() logging.Options {
	return logging.Options{
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

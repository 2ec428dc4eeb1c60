// Package config loads bliq settings from defaults, a TOML file,
// BLIQ_* environment variables and bound command-line flags, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides: sync.interval is read
// from BLIQ_SYNC_INTERVAL.
const EnvPrefix = "BLIQ"

// Config represents the full bliq configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	User      string          `mapstructure:"user"`
	Sync      SyncConfig      `mapstructure:"sync"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Trello    TrelloConfig    `mapstructure:"trello"`
	Server    ServerConfig    `mapstructure:"server"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
}

// DatabaseConfig locates the SQLite file
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SyncConfig tunes the sync engine and daemon
type SyncConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// GitHubConfig overrides the GitHub API root (GitHub Enterprise)
type GitHubConfig struct {
	APIURL string `mapstructure:"api_url"`
}

// TrelloConfig holds the Trello API root and application key
type TrelloConfig struct {
	APIURL string `mapstructure:"api_url"`
	APIKey string `mapstructure:"api_key"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// DashboardConfig configures the standalone dashboard
type DashboardConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LogConfig selects the log destination and rotation
type LogConfig struct {
	// File, when set, receives logs instead of stderr.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Dir returns the directory holding the config file and default database.
func Dir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "bliq")
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "bliq")
	}
	return ".bliq"
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// Defaults returns the default settings keyed by their dotted names.
// Durations are strings so they read naturally in TOML.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"database.path":     filepath.Join(Dir(), "bliq.db"),
		"user":              "",
		"sync.interval":     "10m",
		"sync.call_timeout": "15s",
		"sync.max_attempts": 5,
		"github.api_url":    "https://api.github.com",
		"trello.api_url":    "https://api.trello.com",
		"trello.api_key":    "",
		"server.addr":       "127.0.0.1:8787",
		"dashboard.host":    "127.0.0.1",
		"dashboard.port":    8080,
		"log.file":          "",
		"log.max_size_mb":   50,
		"log.max_backups":   3,
		"log.max_age_days":  28,
		"log.compress":      true,
	}
}

// Loader reads configuration through a viper instance.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader returns a loader for path. An empty path means DefaultPath.
func NewLoader(path string) *Loader {
	if path == "" {
		path = DefaultPath()
	}

	v := viper.New()
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, path: path}
}

// Viper exposes the instance so commands can bind flags to keys.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Path returns the config file path.
func (l *Loader) Path() string {
	return l.path
}

// Load reads the config file, if present, and returns the merged,
// validated configuration. A missing file is not an error.
func (l *Loader) Load() (*Config, error) {
	if _, err := os.Stat(l.path); err == nil {
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", l.path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config %s: %w", l.path, err)
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Sync.Interval < 10*time.Second {
		return fmt.Errorf("sync.interval must be at least 10s (got %v)", c.Sync.Interval)
	}
	if c.Sync.CallTimeout <= 0 {
		return fmt.Errorf("sync.call_timeout must be positive (got %v)", c.Sync.CallTimeout)
	}
	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("sync.max_attempts must be at least 1 (got %d)", c.Sync.MaxAttempts)
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port out of range: %d", c.Dashboard.Port)
	}
	return nil
}

// WriteTOML prints the effective settings as TOML.
func (l *Loader) WriteTOML(w io.Writer) error {
	return toml.NewEncoder(w).Encode(nest(l.v.AllSettings()))
}

// WriteDefault writes the default settings to path. An existing file is
// kept unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config %s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	defer f.Close()

	if _, err := io.WriteString(f, "# bliq configuration\n# Every key can be overridden with BLIQ_<SECTION>_<KEY>.\n\n"); err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(nest(Defaults())); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return f.Close()
}

// nest turns dotted keys into nested maps; nested maps pass through.
func nest(flat map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		parts := strings.Split(k, ".")
		m := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := m[p].(map[string]interface{})
			if !ok {
				next = make(map[string]interface{})
				m[p] = next
			}
			m = next
		}
		m[parts[len(parts)-1]] = flat[k]
	}
	return out
}

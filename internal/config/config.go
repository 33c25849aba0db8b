// Package config loads the sync daemon's configuration.
//
// Settings resolve in the usual precedence order: explicit values in
// hivesync.yaml, then HIVESYNC_* environment variables, then built-in
// defaults. The config file is optional; a missing file yields a fully
// defaulted configuration.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the daemon's complete configuration.
type Config struct {
	// DataDir is where local state lives: the document database, the
	// thumbnail cache, the metadata index, and daemon logs.
	DataDir string `mapstructure:"data_dir"`

	// Remote configures the remote store backend.
	Remote RemoteConfig `mapstructure:"remote"`

	// Sync configures the reconciliation engine.
	Sync SyncConfig `mapstructure:"sync"`

	// Status configures the local status server.
	Status StatusConfig `mapstructure:"status"`

	// Log configures daemon log output.
	Log LogConfig `mapstructure:"log"`
}

// RemoteConfig selects and configures the remote store backend.
type RemoteConfig struct {
	// Provider names the backend: "githttp" or "memory".
	Provider string `mapstructure:"provider"`

	// Endpoint is the backend's base URL.
	Endpoint string `mapstructure:"endpoint"`

	// Token authenticates requests; also the identity source when it
	// carries user claims.
	Token string `mapstructure:"token"`

	// Branch is the branch the tree-commit protocol advances.
	Branch string `mapstructure:"branch"`
}

// SyncConfig configures the reconciliation engine.
type SyncConfig struct {
	// Interval between periodic sync cycles.
	Interval time.Duration `mapstructure:"interval"`
}

// StatusConfig configures the local status server.
type StatusConfig struct {
	// Enabled turns the status server on.
	Enabled bool `mapstructure:"enabled"`

	// Port is the local listen port.
	Port int `mapstructure:"port"`
}

// LogConfig configures rotated daemon log output.
type LogConfig struct {
	// File is the log file path, empty for stderr only.
	File string `mapstructure:"file"`

	// MaxSizeMB rotates the log when it exceeds this size.
	MaxSizeMB int `mapstructure:"max_size_mb"`

	// MaxBackups is how many rotated files to keep.
	MaxBackups int `mapstructure:"max_backups"`
}

// Load reads the configuration. dir is where hivesync.yaml is looked
// for; an empty dir searches the current directory and ~/.hivesync.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("hivesync")
	v.SetConfigType("yaml")

	if dir != "" {
		v.AddConfigPath(dir)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.hivesync")
	}

	v.SetEnvPrefix("HIVESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "$HOME/.hivesync")
	v.SetDefault("remote.provider", "githttp")
	// Empty defaults register the keys so environment overrides bind.
	v.SetDefault("remote.endpoint", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.branch", "main")
	v.SetDefault("log.file", "")
	v.SetDefault("sync.interval", 30*time.Second)
	v.SetDefault("status.enabled", true)
	v.SetDefault("status.port", 7474)
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
}

func (c *Config) validate() error {
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive, got %s", c.Sync.Interval)
	}
	if c.Status.Port < 0 || c.Status.Port > 65535 {
		return fmt.Errorf("status.port out of range: %d", c.Status.Port)
	}
	return nil
}

// DatabasePath returns the local document database path.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "documents.db")
}

// IndexPath returns the metadata index database path.
func (c *Config) IndexPath() string {
	return filepath.Join(c.DataDir, "index.db")
}

// ThumbnailDir returns the thumbnail cache directory.
func (c *Config) ThumbnailDir() string {
	return filepath.Join(c.DataDir, "thumbnails")
}

// LogPath returns the daemon log file path, honoring an explicit
// log.file override.
func (c *Config) LogPath() string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(c.DataDir, "daemon.log")
}

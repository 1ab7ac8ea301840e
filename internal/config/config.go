// Package config loads schedsync settings from defaults, an optional
// config file, SCHEDSYNC_* environment variables and command-line flags,
// in increasing order of precedence.
//
// The config file is schedsync.toml or schedsync.yaml in the shared folder,
// or any file passed with --config.
//
//	folder = "/mnt/rota"
//	author = "alice"
//	poll_interval = "30s"
//	backup_retention_days = 3
//
//	[log]
//	level = "debug"
//	file = "/var/log/schedsync.log"
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rotaworks/schedsync/internal/files"
)

// Keys of every setting, as used in config files and flag bindings.
const (
	KeyFolder              = "folder"
	KeyAuthor              = "author"
	KeyPrefix              = "prefix"
	KeyPollInterval        = "poll_interval"
	KeyBackupRetentionDays = "backup_retention_days"
	KeyCheckpointDays      = "checkpoint_days"
	KeyLockStaleAfter      = "lock_stale_after"
	KeyWatch               = "watch"
	KeyWatchDebounce       = "watch_debounce"
	KeyLogLevel            = "log.level"
	KeyLogFile             = "log.file"
	KeyDashboardAddr       = "dashboard.addr"
	KeyIDColumn            = "db.id_column"
	KeyBookkeeping         = "db.bookkeeping"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// SCHEDSYNC_POLL_INTERVAL or SCHEDSYNC_LOG_LEVEL.
const EnvPrefix = "SCHEDSYNC"

// Config is the resolved configuration.
type Config struct {
	Folder string
	Author string
	Prefix string

	PollInterval        time.Duration
	BackupRetentionDays int
	CheckpointDays      int
	LockStaleAfter      time.Duration

	Watch         bool
	WatchDebounce time.Duration

	LogLevel string
	LogFile  string

	// DashboardAddr is the listen address of the status feed; empty
	// disables it.
	DashboardAddr string

	IDColumn    string
	Bookkeeping []string

	// File is the config file that was read, empty when none.
	File string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Prefix:              files.DefaultPrefix,
		PollInterval:        30 * time.Second,
		BackupRetentionDays: 3,
		CheckpointDays:      3,
		LockStaleAfter:      time.Hour,
		Watch:               true,
		WatchDebounce:       500 * time.Millisecond,
		LogLevel:            "info",
		IDColumn:            "sync_id",
		Bookkeeping:         []string{"updated_at", "updated_by"},
	}
}

// NewViper returns a viper instance with defaults and environment lookup
// configured.
func NewViper() *viper.Viper {
	v := viper.New()
	d := DefaultConfig()
	v.SetDefault(KeyPrefix, d.Prefix)
	v.SetDefault(KeyPollInterval, d.PollInterval)
	v.SetDefault(KeyBackupRetentionDays, d.BackupRetentionDays)
	v.SetDefault(KeyCheckpointDays, d.CheckpointDays)
	v.SetDefault(KeyLockStaleAfter, d.LockStaleAfter)
	v.SetDefault(KeyWatch, d.Watch)
	v.SetDefault(KeyWatchDebounce, d.WatchDebounce)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyIDColumn, d.IDColumn)
	v.SetDefault(KeyBookkeeping, d.Bookkeeping)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file (configFile, or schedsync.* in the folder when
// empty) into v and returns the resolved configuration. A missing config
// file in the folder is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	} else if folder := v.GetString(KeyFolder); folder != "" {
		v.SetConfigName("schedsync")
		v.AddConfigPath(folder)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config in %s: %w", folder, err)
			}
		}
	}

	cfg := &Config{
		Folder:              v.GetString(KeyFolder),
		Author:              v.GetString(KeyAuthor),
		Prefix:              v.GetString(KeyPrefix),
		PollInterval:        v.GetDuration(KeyPollInterval),
		BackupRetentionDays: v.GetInt(KeyBackupRetentionDays),
		CheckpointDays:      v.GetInt(KeyCheckpointDays),
		LockStaleAfter:      v.GetDuration(KeyLockStaleAfter),
		Watch:               v.GetBool(KeyWatch),
		WatchDebounce:       v.GetDuration(KeyWatchDebounce),
		LogLevel:            v.GetString(KeyLogLevel),
		LogFile:             v.GetString(KeyLogFile),
		DashboardAddr:       v.GetString(KeyDashboardAddr),
		IDColumn:            v.GetString(KeyIDColumn),
		Bookkeeping:         v.GetStringSlice(KeyBookkeeping),
		File:                v.ConfigFileUsed(),
	}
	return cfg, nil
}

// Validate checks if the Config has valid field values.
func (c *Config) Validate() error {
	if err := c.ValidateFolder(); err != nil {
		return err
	}
	if c.Author == "" {
		return fmt.Errorf("author is required")
	}
	if !files.ValidAuthor(c.Author) {
		return fmt.Errorf("author %q may only contain letters, digits, '_', '@' and '-'", c.Author)
	}
	return nil
}

// ValidateFolder checks everything except the author, for commands that
// only inspect the folder.
func (c *Config) ValidateFolder() error {
	if c.Folder == "" {
		return fmt.Errorf("shared folder is required")
	}
	if _, err := files.NewNames(c.Prefix); err != nil {
		return err
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.BackupRetentionDays < 0 {
		return fmt.Errorf("backup retention must not be negative, got %d", c.BackupRetentionDays)
	}
	if c.CheckpointDays < 0 {
		return fmt.Errorf("checkpoint interval must not be negative, got %d", c.CheckpointDays)
	}
	if c.LockStaleAfter <= 0 {
		return fmt.Errorf("lock staleness threshold must be positive, got %s", c.LockStaleAfter)
	}
	if c.Watch && c.WatchDebounce <= 0 {
		return fmt.Errorf("watch debounce must be positive, got %s", c.WatchDebounce)
	}
	if c.IDColumn == "" {
		return fmt.Errorf("id column is required")
	}
	return nil
}

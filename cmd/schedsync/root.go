package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/rotaworks/schedsync/internal/config"
	"github.com/rotaworks/schedsync/internal/db"
	"github.com/rotaworks/schedsync/internal/engine"
	"github.com/rotaworks/schedsync/internal/files"
	"github.com/rotaworks/schedsync/internal/logging"
	"github.com/rotaworks/schedsync/internal/storage"
)

var (
	v       = config.NewViper()
	cfgFile string

	cfg       *config.Config
	logger    = logging.Discard()
	logCloser io.Closer
)

// annotationNoAuthor marks commands that only inspect the folder.
const annotationNoAuthor = "no-author"

var rootCmd = &cobra.Command{
	Use:   "schedsync",
	Short: "Shared-folder sync and three-way merge for scheduling databases",
	Long: `schedsync lets several people edit their own copy of a scheduling database
kept in a shared folder (network drive, synced cloud folder) and merges their
edits back into a common base.

Each author works on schedule.<author>.db. Edits are saved as change files,
replayed against schedule.base at merge time and combined field by field;
rows both sides changed differently are reported as conflicts.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		if cmd.Annotations[annotationNoAuthor] == "true" {
			err = c.ValidateFolder()
		} else {
			err = c.Validate()
		}
		if err != nil {
			return err
		}

		quiet, _ := cmd.Flags().GetBool("quiet")
		l, closer, err := logging.New(logging.Options{
			Level: c.LogLevel,
			File:  c.LogFile,
			Quiet: quiet,
		})
		if err != nil {
			return err
		}

		cfg = c
		logger = l
		logCloser = closer
		logger.Debug("configuration loaded", "folder", c.Folder, "author", c.Author, "file", c.File)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: schedsync.toml in the shared folder)")
	flags.StringP("folder", "f", "", "shared folder")
	flags.StringP("author", "a", "", "your author name")
	flags.String("prefix", files.DefaultPrefix, "file name prefix")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-file", "", "also write logs to this rotated file")
	flags.BoolP("quiet", "q", false, "no log output on stderr")

	bind := map[string]string{
		"folder":    config.KeyFolder,
		"author":    config.KeyAuthor,
		"prefix":    config.KeyPrefix,
		"log-level": config.KeyLogLevel,
		"log-file":  config.KeyLogFile,
	}
	for flag, key := range bind {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "maint", Title: "Maintenance Commands:"},
	)
}

// openFolder returns the file manager and snapshot codec for the configured
// folder.
func openFolder() (*files.Manager, *db.Codec, error) {
	info, err := os.Stat(cfg.Folder)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open shared folder: %w", err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("shared folder %s is not a directory", cfg.Folder)
	}

	fm, err := files.NewWithConfig(storage.NewOSDir(cfg.Folder), files.Config{
		Prefix:         cfg.Prefix,
		LockStaleAfter: cfg.LockStaleAfter,
		Logger:         logger.With("component", "files"),
	})
	if err != nil {
		return nil, nil, err
	}

	codec := db.NewCodec(db.Options{IDColumn: cfg.IDColumn, Bookkeeping: cfg.Bookkeeping})
	return fm, codec, nil
}

// newEngine builds an engine for the configured author.
func newEngine(fm *files.Manager, codec *db.Codec) (*engine.Engine, error) {
	return engine.NewWithConfig(fm, codec, engine.Config{
		Author:              cfg.Author,
		PollInterval:        cfg.PollInterval,
		BackupRetentionDays: cfg.BackupRetentionDays,
		CheckpointDays:      cfg.CheckpointDays,
		Watch:               cfg.Watch,
		WatchDebounce:       cfg.WatchDebounce,
		Logger:              logger,
	})
}

// acquireInstanceLock makes sure only one schedsync process works for an
// author on a folder. The lock lives in the user cache dir: shared folders
// often do not support advisory locks.
func acquireInstanceLock() (*flock.Flock, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	dir = filepath.Join(dir, "schedsync")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock dir: %w", err)
	}

	abs, err := filepath.Abs(cfg.Folder)
	if err != nil {
		abs = cfg.Folder
	}
	name := fmt.Sprintf("%016x-%s.lock", xxhash.Sum64String(abs), cfg.Author)

	lock := flock.New(filepath.Join(dir, name))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring instance lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another schedsync process is already running for %s in %s", cfg.Author, cfg.Folder)
	}
	return lock, nil
}

func commandLogger(name string) *slog.Logger {
	return logger.With("command", name)
}

package files

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/rotaworks/schedsync/internal/logging"
	"github.com/rotaworks/schedsync/internal/schema"
	"github.com/rotaworks/schedsync/internal/storage"
)

// Config holds file manager configuration.
type Config struct {
	// Prefix is the common file name prefix. Default: "schedule".
	Prefix string

	// LockStaleAfter is the age at which a merge lock is considered
	// abandoned. Default: 1 hour.
	LockStaleAfter time.Duration

	// Clock supplies timestamps for change files, locks and backups.
	// Default: wall time.
	Clock clockwork.Clock

	// Logger for warnings about skipped files. Default: discard.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Prefix:         DefaultPrefix,
		LockStaleAfter: time.Hour,
		Clock:          clockwork.NewRealClock(),
		Logger:         logging.Discard(),
	}
}

// Manager reads and writes schedsync files in one shared folder.
type Manager struct {
	store  storage.Provider
	names  *Names
	config Config
	logger *slog.Logger
}

// New creates a manager with default configuration.
func New(store storage.Provider) (*Manager, error) {
	return NewWithConfig(store, DefaultConfig())
}

// NewWithConfig creates a manager with custom configuration.
func NewWithConfig(store storage.Provider, cfg Config) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("storage provider is required")
	}
	d := DefaultConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = d.Prefix
	}
	if cfg.LockStaleAfter <= 0 {
		cfg.LockStaleAfter = d.LockStaleAfter
	}
	if cfg.Clock == nil {
		cfg.Clock = d.Clock
	}
	if cfg.Logger == nil {
		cfg.Logger = d.Logger
	}

	names, err := NewNames(cfg.Prefix)
	if err != nil {
		return nil, err
	}
	return &Manager{
		store:  store,
		names:  names,
		config: cfg,
		logger: cfg.Logger.With("component", "files"),
	}, nil
}

// Names returns the naming scheme in use.
func (m *Manager) Names() *Names { return m.names }

// Store returns the underlying folder.
func (m *Manager) Store() storage.Provider { return m.store }

func (m *Manager) now() time.Time { return m.config.Clock.Now().UTC() }

// Scan is a classified listing of the shared folder.
type Scan struct {
	// Base is the base snapshot name, empty when missing.
	Base string

	// Locked reports whether a merge lock file is present. Freshness is
	// decided by CheckMergeLock.
	Locked bool

	WorkingFiles []Entry
	ChangeFiles  []Entry // by author, then save time
	BackupFiles  []Entry
	Checkpoints  []Entry

	// MyWorkingFile is the current author's working copy, empty when missing.
	MyWorkingFile string

	// NeedsMerge is true when another author has a working copy.
	NeedsMerge bool

	// Skipped lists names that carry the prefix but did not parse.
	Skipped []string
}

// ChangeFilesBy returns the change files of one author in save order.
func (s *Scan) ChangeFilesBy(author string) []Entry {
	var out []Entry
	for _, e := range s.ChangeFiles {
		if e.Author == author {
			out = append(out, e)
		}
	}
	return out
}

// ChangeAuthors returns the authors that have change files, sorted.
func (s *Scan) ChangeAuthors() []string {
	var out []string
	seen := make(map[string]bool)
	for _, e := range s.ChangeFiles {
		if !seen[e.Author] {
			seen[e.Author] = true
			out = append(out, e.Author)
		}
	}
	sort.Strings(out)
	return out
}

// WorkingFileOf returns an author's working copy name, empty when missing.
func (s *Scan) WorkingFileOf(author string) string {
	for _, e := range s.WorkingFiles {
		if e.Author == author {
			return e.Name
		}
	}
	return ""
}

// ScanFolder lists and classifies the folder for currentAuthor.
func (m *Manager) ScanFolder(ctx context.Context, currentAuthor string) (*Scan, error) {
	infos, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list shared folder: %w", err)
	}

	scan := &Scan{}
	for _, info := range infos {
		e, ok := m.names.Classify(info.Name)
		if !ok {
			if strings.HasPrefix(info.Name, m.names.prefix+".") {
				m.logger.Warn("skipping unrecognized file", "name", info.Name)
				scan.Skipped = append(scan.Skipped, info.Name)
			}
			continue
		}

		switch e.Kind {
		case EntryBase:
			scan.Base = e.Name
		case EntryLock:
			scan.Locked = true
		case EntryWorking:
			scan.WorkingFiles = append(scan.WorkingFiles, e)
			if e.Author == currentAuthor {
				scan.MyWorkingFile = e.Name
			} else {
				scan.NeedsMerge = true
			}
		case EntryChanges:
			scan.ChangeFiles = append(scan.ChangeFiles, e)
		case EntryCheckpoint:
			scan.Checkpoints = append(scan.Checkpoints, e)
		case EntryBackup:
			scan.BackupFiles = append(scan.BackupFiles, e)
		}
	}

	sort.SliceStable(scan.ChangeFiles, func(i, j int) bool {
		a, b := scan.ChangeFiles[i], scan.ChangeFiles[j]
		if a.Author != b.Author {
			return a.Author < b.Author
		}
		return a.Time.Before(b.Time)
	})
	return scan, nil
}

// ReadBase returns the base snapshot bytes.
func (m *Manager) ReadBase(ctx context.Context) ([]byte, error) {
	data, err := m.store.Read(ctx, m.names.Base())
	if errors.Is(err, storage.ErrNotExist) {
		return nil, ErrNoBase
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read base: %w", err)
	}
	return data, nil
}

// ReplaceBase atomically replaces the base snapshot.
func (m *Manager) ReplaceBase(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("refusing to write empty base")
	}
	if err := m.store.Write(ctx, m.names.Base(), data); err != nil {
		return fmt.Errorf("failed to replace base: %w", err)
	}
	return nil
}

// InitBase writes the first base snapshot; ErrAlreadyExists when present.
func (m *Manager) InitBase(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("refusing to write empty base")
	}
	err := m.store.Create(ctx, m.names.Base(), data)
	if errors.Is(err, storage.ErrExist) {
		return fmt.Errorf("%s: %w", m.names.Base(), ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create base: %w", err)
	}
	return nil
}

// CreateWorkingFileFromBase forks the base into author's working copy,
// byte for byte. It returns ErrAlreadyExists when the copy is present.
func (m *Manager) CreateWorkingFileFromBase(ctx context.Context, author string) (string, error) {
	if !ValidAuthor(author) {
		return "", fmt.Errorf("%q: %w", author, ErrInvalidAuthor)
	}
	name := m.names.Working(author)
	if _, err := m.store.Stat(ctx, name); err == nil {
		return name, fmt.Errorf("%s: %w", name, ErrAlreadyExists)
	}

	base, err := m.ReadBase(ctx)
	if err != nil {
		return "", err
	}
	err = m.store.Create(ctx, name, base)
	if errors.Is(err, storage.ErrExist) {
		return name, fmt.Errorf("%s: %w", name, ErrAlreadyExists)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create working file: %w", err)
	}
	return name, nil
}

// ReplaceWorkingFile overwrites author's working copy with data.
func (m *Manager) ReplaceWorkingFile(ctx context.Context, author string, data []byte) error {
	if !ValidAuthor(author) {
		return fmt.Errorf("%q: %w", author, ErrInvalidAuthor)
	}
	if err := m.store.Write(ctx, m.names.Working(author), data); err != nil {
		return fmt.Errorf("failed to replace working file: %w", err)
	}
	return nil
}

// maxNameAttempts bounds the search for a free change file name when
// saves land in the same millisecond.
const maxNameAttempts = 16

// WriteChangeFile writes changes as a new change file and returns its name.
// An empty batch writes nothing and returns "".
func (m *Manager) WriteChangeFile(ctx context.Context, author string, changes []schema.Change) (string, error) {
	if !ValidAuthor(author) {
		return "", fmt.Errorf("%q: %w", author, ErrInvalidAuthor)
	}
	if len(changes) == 0 {
		return "", nil
	}

	now := m.now()
	cf := &schema.ChangeFile{
		Version:   schema.ChangeFileVersion,
		BatchID:   uuid.NewString(),
		Author:    author,
		CreatedAt: now,
		Changes:   changes,
	}
	data, err := cf.Marshal()
	if err != nil {
		return "", err
	}

	stamp := now.Truncate(time.Millisecond)
	for i := 0; i < maxNameAttempts; i++ {
		name := m.names.Changes(author, stamp)
		err := m.store.Create(ctx, name, data)
		if errors.Is(err, storage.ErrExist) {
			stamp = stamp.Add(time.Millisecond)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to write change file: %w", err)
		}
		return name, nil
	}
	return "", fmt.Errorf("failed to find a free change file name for %s", author)
}

// ReadChangeFile reads and validates one change file. Content that does not
// parse, or whose author does not match the file name, yields
// ErrCorruptChangeFile.
func (m *Manager) ReadChangeFile(ctx context.Context, name string) (*schema.ChangeFile, error) {
	data, err := m.store.Read(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read change file: %w", err)
	}

	cf, err := schema.ParseChangeFile(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptChangeFile, name, err)
	}
	if e, ok := m.names.Classify(name); ok && e.Kind == EntryChanges && e.Author != cf.Author {
		return nil, fmt.Errorf("%w: %s: written by %s", ErrCorruptChangeFile, name, cf.Author)
	}
	return cf, nil
}

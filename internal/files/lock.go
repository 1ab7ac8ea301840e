package files

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rotaworks/schedsync/internal/storage"
)

// MergeLock is the advisory lock document written while a merge runs.
type MergeLock struct {
	Author       string    `yaml:"author"`
	StartedAt    time.Time `yaml:"started_at"`
	WorkingFiles []string  `yaml:"working_files"`
}

// Validate checks if the MergeLock has valid field values.
func (l *MergeLock) Validate() error {
	if l.Author == "" {
		return fmt.Errorf("author is required")
	}
	if l.StartedAt.IsZero() {
		return fmt.Errorf("started_at is required")
	}
	return nil
}

// Age returns how long the merge has been running at now.
func (l *MergeLock) Age(now time.Time) time.Duration {
	return now.Sub(l.StartedAt)
}

// CreateMergeLock writes a lock for author covering workingFiles. It fails
// with ErrLockHeld while a fresh lock exists; a stale or corrupt lock is
// replaced.
func (m *Manager) CreateMergeLock(ctx context.Context, author string, workingFiles []string) (*MergeLock, error) {
	if !ValidAuthor(author) {
		return nil, fmt.Errorf("%q: %w", author, ErrInvalidAuthor)
	}

	held, err := m.CheckMergeLock(ctx)
	if err != nil {
		return nil, err
	}
	if held != nil {
		return nil, fmt.Errorf("%w by %s since %s", ErrLockHeld, held.Author, held.StartedAt.Format(time.RFC3339))
	}

	lock := &MergeLock{
		Author:       author,
		StartedAt:    m.now(),
		WorkingFiles: append([]string(nil), workingFiles...),
	}
	data, err := yaml.Marshal(lock)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal merge lock: %w", err)
	}

	err = m.store.Create(ctx, m.names.Lock(), data)
	if errors.Is(err, storage.ErrExist) {
		return nil, fmt.Errorf("%w: created concurrently", ErrLockHeld)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write merge lock: %w", err)
	}
	return lock, nil
}

// RemoveMergeLock deletes the lock. Removing a missing lock is not an error.
func (m *Manager) RemoveMergeLock(ctx context.Context) error {
	err := m.store.Delete(ctx, m.names.Lock())
	if err != nil && !errors.Is(err, storage.ErrNotExist) {
		return fmt.Errorf("failed to remove merge lock: %w", err)
	}
	return nil
}

// ReadMergeLock returns the lock as written, regardless of age. It returns
// nil when no lock exists and ErrCorruptLock when it does not parse.
func (m *Manager) ReadMergeLock(ctx context.Context) (*MergeLock, error) {
	data, err := m.store.Read(ctx, m.names.Lock())
	if errors.Is(err, storage.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read merge lock: %w", err)
	}

	var lock MergeLock
	if err := yaml.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptLock, err)
	}
	if err := lock.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptLock, err)
	}
	return &lock, nil
}

// CheckMergeLock returns the current lock when it is fresh. Stale and
// corrupt locks are removed and reported as nil.
func (m *Manager) CheckMergeLock(ctx context.Context) (*MergeLock, error) {
	lock, err := m.ReadMergeLock(ctx)
	switch {
	case errors.Is(err, ErrCorruptLock):
		m.logger.Warn("removing corrupt merge lock", "error", err)
		return nil, m.RemoveMergeLock(ctx)
	case err != nil:
		return nil, err
	case lock == nil:
		return nil, nil
	}

	if age := lock.Age(m.now()); age > m.config.LockStaleAfter {
		m.logger.Warn("removing stale merge lock",
			"author", lock.Author, "started_at", lock.StartedAt, "age", age.Round(time.Second))
		return nil, m.RemoveMergeLock(ctx)
	}
	return lock, nil
}

// IsLockStale reports whether a lock started at startedAt is past the
// configured threshold at the current time.
func (m *Manager) IsLockStale(startedAt time.Time) bool {
	return m.now().Sub(startedAt) > m.config.LockStaleAfter
}

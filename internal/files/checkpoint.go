package files

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/rotaworks/schedsync/internal/storage"
)

// Checkpoint records an author's last fold of their own changes into the
// base.
type Checkpoint struct {
	Author         string    `toml:"author"`
	LastCheckpoint time.Time `toml:"last_checkpoint"`
	BaseHash       string    `toml:"base_hash"`
}

// ShouldCheckpoint reports whether more than maxDays have passed since
// last. A zero last always checkpoints.
func ShouldCheckpoint(now, last time.Time, maxDays int) bool {
	if last.IsZero() {
		return true
	}
	return now.Sub(last) > time.Duration(maxDays)*24*time.Hour
}

// ShouldCheckpoint is ShouldCheckpoint at the manager's current time.
func (m *Manager) ShouldCheckpoint(last time.Time, maxDays int) bool {
	return ShouldCheckpoint(m.now(), last, maxDays)
}

// ReadCheckpoint returns author's checkpoint, or a zero Checkpoint when none
// was written. A checkpoint that does not parse is logged and treated as
// missing.
func (m *Manager) ReadCheckpoint(ctx context.Context, author string) (Checkpoint, error) {
	if !ValidAuthor(author) {
		return Checkpoint{}, fmt.Errorf("%q: %w", author, ErrInvalidAuthor)
	}
	name := m.names.Checkpoint(author)
	data, err := m.store.Read(ctx, name)
	if errors.Is(err, storage.ErrNotExist) {
		return Checkpoint{Author: author}, nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp Checkpoint
	if _, err := toml.Decode(string(data), &cp); err != nil {
		m.logger.Warn("ignoring unreadable checkpoint", "name", name, "error", err)
		return Checkpoint{Author: author}, nil
	}
	cp.Author = author
	return cp, nil
}

// WriteCheckpoint records a checkpoint for author at the current time.
func (m *Manager) WriteCheckpoint(ctx context.Context, author, baseHash string) (Checkpoint, error) {
	if !ValidAuthor(author) {
		return Checkpoint{}, fmt.Errorf("%q: %w", author, ErrInvalidAuthor)
	}
	cp := Checkpoint{Author: author, LastCheckpoint: m.now(), BaseHash: baseHash}
	data, err := toml.Marshal(cp)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := m.store.Write(ctx, m.names.Checkpoint(author), data); err != nil {
		return Checkpoint{}, fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return cp, nil
}

package files

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotaworks/schedsync/internal/storage"
)

// maxBackupSuffix bounds the .N collision suffix for one file on one day.
const maxBackupSuffix = 1000

// ArchiveFile moves name to its dated backup and returns the backup name.
// The backup is written before the original is deleted; if the delete
// fails the backup is removed again and the original stays in place.
func (m *Manager) ArchiveFile(ctx context.Context, name string) (string, error) {
	data, err := m.store.Read(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to read %s for archiving: %w", name, err)
	}

	day := m.now()
	var backup string
	for n := 0; ; n++ {
		if n >= maxBackupSuffix {
			return "", fmt.Errorf("failed to find a free backup name for %s", name)
		}
		backup = Backup(name, day, n)
		err = m.store.Create(ctx, backup, data)
		if errors.Is(err, storage.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to write backup of %s: %w", name, err)
		}
		break
	}

	if err := m.store.Delete(ctx, name); err != nil {
		if rbErr := m.store.Delete(context.WithoutCancel(ctx), backup); rbErr != nil {
			m.logger.Warn("failed to roll back backup", "backup", backup, "error", rbErr)
		}
		return "", fmt.Errorf("failed to remove archived %s: %w", name, err)
	}
	return backup, nil
}

// CleanupOldBackups deletes backups dated on or before today minus
// maxAgeDays and returns how many were removed. Backups without a
// parseable date are kept. A file that cannot be deleted is logged and
// skipped.
func (m *Manager) CleanupOldBackups(ctx context.Context, maxAgeDays int) (int, error) {
	if maxAgeDays < 0 {
		return 0, fmt.Errorf("invalid backup retention %d", maxAgeDays)
	}
	return m.PruneBackups(ctx, m.today().AddDate(0, 0, -maxAgeDays))
}

// PruneBackups deletes backups dated on or before cutoff (compared by
// calendar day, UTC) and returns how many were removed.
func (m *Manager) PruneBackups(ctx context.Context, cutoff time.Time) (int, error) {
	backups, err := m.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	cutoff = truncateDay(cutoff)

	removed := 0
	for _, b := range backups {
		if b.Time.IsZero() || b.Time.After(cutoff) {
			continue
		}
		if err := m.store.Delete(ctx, b.Name); err != nil {
			if ctx.Err() != nil {
				return removed, ctx.Err()
			}
			m.logger.Warn("failed to delete backup", "name", b.Name, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// ListBackups returns the backup files in the folder, sorted by name.
func (m *Manager) ListBackups(ctx context.Context) ([]Entry, error) {
	infos, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list shared folder: %w", err)
	}
	var out []Entry
	for _, info := range infos {
		if e, ok := m.names.Classify(info.Name); ok && e.Kind == EntryBackup {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Manager) today() time.Time { return truncateDay(m.now()) }

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

package files

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rotaworks/schedsync/internal/schema"
	"github.com/rotaworks/schedsync/internal/storage"
)

var testStart = time.Date(2026, 10, 19, 9, 15, 0, 123_000_000, time.UTC)

func newTestManager(t *testing.T) (*Manager, *storage.Dir, *clockwork.FakeClock) {
	t.Helper()
	store := storage.NewDir(afero.NewMemMapFs(), "/shared")
	fake := clockwork.NewFakeClockAt(testStart)
	m, err := NewWithConfig(store, Config{Clock: fake})
	require.NoError(t, err)
	return m, store, fake
}

func put(t *testing.T, store storage.Provider, name, content string) {
	t.Helper()
	require.NoError(t, store.Write(context.Background(), name, []byte(content)))
}

func exists(t *testing.T, store storage.Provider, name string) bool {
	t.Helper()
	_, err := store.Stat(context.Background(), name)
	return err == nil
}

func TestNames_Classify(t *testing.T) {
	n, err := NewNames("")
	require.NoError(t, err)

	tests := []struct {
		name     string
		wantOK   bool
		kind     EntryKind
		author   string
		original string
	}{
		{"schedule.base", true, EntryBase, "", ""},
		{"schedule.merge-lock", true, EntryLock, "", ""},
		{"schedule.alice.db", true, EntryWorking, "alice", ""},
		{"schedule.bob@site-2.db", true, EntryWorking, "bob@site-2", ""},
		{"schedule.alice.20261019T091500.123Z.changes", true, EntryChanges, "alice", ""},
		{"schedule.alice.checkpoint", true, EntryCheckpoint, "alice", ""},
		{"schedule.base.bak.2026-10-19", true, EntryBackup, "", "schedule.base"},
		{"schedule.alice.db.bak.2026-10-19.2", true, EntryBackup, "", "schedule.alice.db"},
		{"schedule.alice.db.bak.garbage", true, EntryBackup, "", "schedule.alice.db"},
		{"schedule.alice.2026.changes", false, 0, "", ""},
		{"schedule.a.b.db", false, 0, "", ""},
		{"schedule.alice.txt", false, 0, "", ""},
		{"other.base", false, 0, "", ""},
		{".tmp-1234", false, 0, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := n.Classify(tt.name)
			assert.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.author, e.Author)
			assert.Equal(t, tt.original, e.Original)
		})
	}
}

func TestNames_RoundTrip(t *testing.T) {
	n, err := NewNames("rota")
	require.NoError(t, err)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 678_000_000, time.FixedZone("CET", 3600))
	e, ok := n.Classify(n.Changes("carol", ts))
	require.True(t, ok)
	assert.Equal(t, EntryChanges, e.Kind)
	assert.True(t, e.Time.Equal(ts), "got %v", e.Time)

	e, ok = n.Classify(Backup(n.Base(), ts, 0))
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), e.Time)

	_, err = NewNames("bad/prefix")
	assert.Error(t, err)
}

func TestValidAuthor(t *testing.T) {
	assert.True(t, ValidAuthor("alice"))
	assert.True(t, ValidAuthor("j_doe@ward-3"))
	assert.False(t, ValidAuthor(""))
	assert.False(t, ValidAuthor("a.b"))
	assert.False(t, ValidAuthor("-lead"))
	assert.False(t, ValidAuthor("x/y"))
	assert.False(t, ValidAuthor("bak"), "would read as a backup")
	assert.False(t, ValidAuthor("Base"))
	assert.True(t, ValidAuthor("baker"))
}

func TestScanFolder(t *testing.T) {
	m, store, _ := newTestManager(t)
	put(t, store, "schedule.base", "base")
	put(t, store, "schedule.alice.db", "a")
	put(t, store, "schedule.bob.db", "b")
	put(t, store, "schedule.bob.20261019T100000.000Z.changes", "{}")
	put(t, store, "schedule.alice.20261019T090000.000Z.changes", "{}")
	put(t, store, "schedule.alice.20261018T090000.000Z.changes", "{}")
	put(t, store, "schedule.base.bak.2026-10-18", "old")
	put(t, store, "schedule.merge-lock", "x")
	put(t, store, "schedule.weird.name.here", "?")
	put(t, store, "notes.txt", "unrelated")

	scan, err := m.ScanFolder(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, "schedule.base", scan.Base)
	assert.True(t, scan.Locked)
	assert.Equal(t, "schedule.alice.db", scan.MyWorkingFile)
	assert.True(t, scan.NeedsMerge)
	assert.Len(t, scan.WorkingFiles, 2)
	assert.Len(t, scan.BackupFiles, 1)
	assert.Equal(t, []string{"schedule.weird.name.here"}, scan.Skipped)

	require.Len(t, scan.ChangeFiles, 3)
	assert.Equal(t, "schedule.alice.20261018T090000.000Z.changes", scan.ChangeFiles[0].Name)
	assert.Equal(t, "schedule.alice.20261019T090000.000Z.changes", scan.ChangeFiles[1].Name)
	assert.Equal(t, "bob", scan.ChangeFiles[2].Author)
	assert.Equal(t, []string{"alice", "bob"}, scan.ChangeAuthors())
	assert.Len(t, scan.ChangeFilesBy("bob"), 1)
	assert.Equal(t, "schedule.bob.db", scan.WorkingFileOf("bob"))

	scan, err = m.ScanFolder(context.Background(), "bob")
	require.NoError(t, err)
	assert.True(t, scan.NeedsMerge)

	require.NoError(t, store.Delete(context.Background(), "schedule.alice.db"))
	scan, err = m.ScanFolder(context.Background(), "bob")
	require.NoError(t, err)
	assert.False(t, scan.NeedsMerge, "only my own working file remains")
}

func TestCreateWorkingFileFromBase(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestManager(t)

	_, err := m.CreateWorkingFileFromBase(ctx, "alice")
	assert.ErrorIs(t, err, ErrNoBase)

	require.NoError(t, m.InitBase(ctx, []byte("snapshot-bytes")))
	assert.ErrorIs(t, m.InitBase(ctx, []byte("again")), ErrAlreadyExists)

	name, err := m.CreateWorkingFileFromBase(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "schedule.alice.db", name)

	data, err := store.Read(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, "snapshot-bytes", string(data))

	_, err = m.CreateWorkingFileFromBase(ctx, "alice")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = m.CreateWorkingFileFromBase(ctx, "no.dots")
	assert.ErrorIs(t, err, ErrInvalidAuthor)
}

func TestWriteReadChangeFile(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestManager(t)

	changes := []schema.Change{{
		Table: "shifts", SyncID: 5, Op: schema.OpUpdate, Field: "end_time",
		OldValue: schema.Text("09:00"), NewValue: schema.Text("10:00"),
		Author: "alice", Timestamp: testStart, Seq: 1,
	}}

	name, err := m.WriteChangeFile(ctx, "alice", changes)
	require.NoError(t, err)
	assert.Equal(t, "schedule.alice.20261019T091500.123Z.changes", name)

	// same millisecond: next free name
	name2, err := m.WriteChangeFile(ctx, "alice", changes)
	require.NoError(t, err)
	assert.Equal(t, "schedule.alice.20261019T091500.124Z.changes", name2)

	cf, err := m.ReadChangeFile(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, "alice", cf.Author)
	assert.NotEmpty(t, cf.BatchID)
	require.Len(t, cf.Changes, 1)
	assert.True(t, cf.Changes[0].NewValue.Equal(schema.Text("10:00")))

	empty, err := m.WriteChangeFile(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	put(t, store, "schedule.bob.20261019T091500.000Z.changes", "{not json")
	_, err = m.ReadChangeFile(ctx, "schedule.bob.20261019T091500.000Z.changes")
	assert.ErrorIs(t, err, ErrCorruptChangeFile)

	// content written by someone else than the file name says
	data, err := store.Read(ctx, name)
	require.NoError(t, err)
	put(t, store, "schedule.bob.20261019T091501.000Z.changes", string(data))
	_, err = m.ReadChangeFile(ctx, "schedule.bob.20261019T091501.000Z.changes")
	assert.ErrorIs(t, err, ErrCorruptChangeFile)
}

func TestArchiveFile(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestManager(t)
	put(t, store, "schedule.alice.db", "v1")

	backup, err := m.ArchiveFile(ctx, "schedule.alice.db")
	require.NoError(t, err)
	assert.Equal(t, "schedule.alice.db.bak.2026-10-19", backup)
	assert.False(t, exists(t, store, "schedule.alice.db"))

	put(t, store, "schedule.alice.db", "v2")
	backup, err = m.ArchiveFile(ctx, "schedule.alice.db")
	require.NoError(t, err)
	assert.Equal(t, "schedule.alice.db.bak.2026-10-19.1", backup)

	data, err := store.Read(ctx, "schedule.alice.db.bak.2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))

	_, err = m.ArchiveFile(ctx, "schedule.missing.db")
	assert.ErrorIs(t, err, storage.ErrNotExist)
}

// failingDelete refuses to delete one file.
type failingDelete struct {
	storage.Provider
	name string
}

func (f *failingDelete) Delete(ctx context.Context, name string) error {
	if name == f.name {
		return &storage.Error{Op: "delete", Name: name, Err: errors.New("permission denied")}
	}
	return f.Provider.Delete(ctx, name)
}

func TestArchiveFile_RollsBackBackup(t *testing.T) {
	ctx := context.Background()
	store := storage.NewDir(afero.NewMemMapFs(), "/shared")
	put(t, store, "schedule.bob.db", "data")

	m, err := NewWithConfig(&failingDelete{Provider: store, name: "schedule.bob.db"},
		Config{Clock: clockwork.NewFakeClockAt(testStart)})
	require.NoError(t, err)

	_, err = m.ArchiveFile(ctx, "schedule.bob.db")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrIO)

	assert.True(t, exists(t, store, "schedule.bob.db"))
	assert.False(t, exists(t, store, "schedule.bob.db.bak.2026-10-19"))
}

func TestCleanupOldBackups_Boundary(t *testing.T) {
	ctx := context.Background()
	m, store, fake := newTestManager(t)
	fake.Advance(time.Date(2026, 10, 19, 23, 59, 0, 0, time.UTC).Sub(fake.Now()))

	for days := 0; days <= 5; days++ {
		day := time.Date(2026, 10, 19-days, 0, 0, 0, 0, time.UTC)
		put(t, store, Backup("schedule.base", day, 0), fmt.Sprint(days))
	}
	put(t, store, "schedule.base.bak.not-a-date", "keep")

	removed, err := m.CleanupOldBackups(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, removed, "backups 3, 4 and 5 days old go")

	assert.True(t, exists(t, store, "schedule.base.bak.2026-10-17"))
	assert.False(t, exists(t, store, "schedule.base.bak.2026-10-16"))
	assert.True(t, exists(t, store, "schedule.base.bak.not-a-date"))

	backups, err := m.ListBackups(ctx)
	require.NoError(t, err)
	assert.Len(t, backups, 4)

	_, err = m.CleanupOldBackups(ctx, -1)
	assert.Error(t, err)
}

func TestCleanupOldBackups_SkipsFailures(t *testing.T) {
	ctx := context.Background()
	store := storage.NewDir(afero.NewMemMapFs(), "/shared")
	put(t, store, "schedule.a.db.bak.2026-10-01", "x")
	put(t, store, "schedule.b.db.bak.2026-10-01", "x")

	m, err := NewWithConfig(&failingDelete{Provider: store, name: "schedule.a.db.bak.2026-10-01"},
		Config{Clock: clockwork.NewFakeClockAt(testStart)})
	require.NoError(t, err)

	removed, err := m.CleanupOldBackups(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.True(t, exists(t, store, "schedule.a.db.bak.2026-10-01"))
}

func TestMergeLock(t *testing.T) {
	ctx := context.Background()
	m, store, fake := newTestManager(t)

	lock, err := m.CheckMergeLock(ctx)
	require.NoError(t, err)
	assert.Nil(t, lock)

	created, err := m.CreateMergeLock(ctx, "alice", []string{"schedule.alice.db", "schedule.bob.db"})
	require.NoError(t, err)
	assert.Equal(t, testStart, created.StartedAt)

	_, err = m.CreateMergeLock(ctx, "bob", nil)
	assert.ErrorIs(t, err, ErrLockHeld)

	lock, err = m.CheckMergeLock(ctx)
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, "alice", lock.Author)
	assert.Equal(t, []string{"schedule.alice.db", "schedule.bob.db"}, lock.WorkingFiles)

	// exactly at the threshold the lock is still fresh
	fake.Advance(time.Hour)
	lock, err = m.CheckMergeLock(ctx)
	require.NoError(t, err)
	assert.NotNil(t, lock)

	fake.Advance(time.Second)
	lock, err = m.CheckMergeLock(ctx)
	require.NoError(t, err)
	assert.Nil(t, lock)
	assert.False(t, exists(t, store, "schedule.merge-lock"), "stale lock is removed")

	_, err = m.CreateMergeLock(ctx, "bob", nil)
	require.NoError(t, err)
	require.NoError(t, m.RemoveMergeLock(ctx))
	require.NoError(t, m.RemoveMergeLock(ctx))
}

func TestMergeLock_Corrupt(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestManager(t)
	put(t, store, "schedule.merge-lock", "author: [unterminated")

	_, err := m.ReadMergeLock(ctx)
	assert.ErrorIs(t, err, ErrCorruptLock)

	lock, err := m.CheckMergeLock(ctx)
	require.NoError(t, err)
	assert.Nil(t, lock)
	assert.False(t, exists(t, store, "schedule.merge-lock"))

	_, err = m.CreateMergeLock(ctx, "alice", nil)
	assert.NoError(t, err)
}

func TestShouldCheckpoint(t *testing.T) {
	now := testStart
	tests := []struct {
		name string
		last time.Time
		want bool
	}{
		{"never", time.Time{}, true},
		{"yesterday", now.Add(-24 * time.Hour), false},
		{"exactly three days", now.Add(-72 * time.Hour), false},
		{"just over three days", now.Add(-72*time.Hour - time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldCheckpoint(now, tt.last, 3))
		})
	}
}

func TestCheckpoint_ReadWrite(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestManager(t)

	cp, err := m.ReadCheckpoint(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, cp.LastCheckpoint.IsZero())
	assert.True(t, m.ShouldCheckpoint(cp.LastCheckpoint, 3))

	written, err := m.WriteCheckpoint(ctx, "alice", "abc123")
	require.NoError(t, err)

	cp, err = m.ReadCheckpoint(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, cp.LastCheckpoint.Equal(written.LastCheckpoint))
	assert.Equal(t, "abc123", cp.BaseHash)
	assert.False(t, m.ShouldCheckpoint(cp.LastCheckpoint, 3))

	put(t, store, "schedule.bob.checkpoint", "not = [toml")
	cp, err = m.ReadCheckpoint(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, cp.LastCheckpoint.IsZero())
}

package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rotaworks/schedsync/internal/files"
)

func newTestWatcher(t *testing.T) (*FolderWatcher, string) {
	t.Helper()
	names, err := files.NewNames("")
	require.NoError(t, err)

	fw, err := NewFolderWatcher(names)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fw.Stop() })

	return fw, t.TempDir()
}

func waitEvent(t *testing.T, fw *FolderWatcher) FolderEvent {
	t.Helper()
	select {
	case ev, ok := <-fw.Events():
		require.True(t, ok, "events channel closed")
		return ev
	case err := <-fw.Errors():
		t.Fatalf("watcher error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return FolderEvent{}
}

func TestFolderWatcher_StartStop(t *testing.T) {
	fw, dir := newTestWatcher(t)
	assert.False(t, fw.IsRunning(), "newly created watcher should not be running")

	require.NoError(t, fw.Start(dir))
	assert.True(t, fw.IsRunning())
	assert.Error(t, fw.Start(dir), "second Start should fail")

	require.NoError(t, fw.Stop())
	assert.False(t, fw.IsRunning())

	_, ok := <-fw.Events()
	assert.False(t, ok, "events channel is closed after Stop")
}

func TestFolderWatcher_MissingDir(t *testing.T) {
	fw, dir := newTestWatcher(t)
	assert.Error(t, fw.Start(filepath.Join(dir, "missing")))
	assert.False(t, fw.IsRunning())
}

func TestFolderWatcher_ChangeFileCreated(t *testing.T) {
	fw, dir := newTestWatcher(t)
	require.NoError(t, fw.Start(dir))

	name := "schedule.bob.20261019T091500.123Z.changes"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(`{}`), 0644))

	ev := waitEvent(t, fw)
	assert.Equal(t, OpCreate, ev.Op)
	assert.Equal(t, files.EntryChanges, ev.Entry.Kind)
	assert.Equal(t, "bob", ev.Entry.Author)
	assert.Equal(t, name, ev.Entry.Name)
}

func TestFolderWatcher_WorkingFileDeleted(t *testing.T) {
	fw, dir := newTestWatcher(t)
	path := filepath.Join(dir, "schedule.carol.db")
	require.NoError(t, os.WriteFile(path, []byte("db"), 0644))
	require.NoError(t, fw.Start(dir))

	require.NoError(t, os.Remove(path))

	ev := waitEvent(t, fw)
	assert.Equal(t, OpDelete, ev.Op)
	assert.Equal(t, files.EntryWorking, ev.Entry.Kind)
	assert.Equal(t, "carol", ev.Entry.Author)
}

func TestFolderWatcher_IgnoresOtherFiles(t *testing.T) {
	fw, dir := newTestWatcher(t)
	require.NoError(t, fw.Start(dir))

	for _, name := range []string{
		"schedule.base",
		"schedule.merge-lock",
		"schedule.base.bak.2026-10-19",
		"notes.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schedule.dave.db"), []byte("x"), 0644))

	ev := waitEvent(t, fw)
	assert.Equal(t, "schedule.dave.db", ev.Entry.Name, "only the working copy is reported")
}

func TestEventOp_String(t *testing.T) {
	assert.Equal(t, "create", OpCreate.String())
	assert.Equal(t, "modify", OpModify.String())
	assert.Equal(t, "delete", OpDelete.String())
	assert.Equal(t, "unknown", EventOp(99).String())
}

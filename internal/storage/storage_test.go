package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemDir(t *testing.T) *Dir {
	t.Helper()

	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/shared", 0755))
	return NewDir(fsys, "/shared")
}

func TestDir_WriteReadList(t *testing.T) {
	ctx := context.Background()
	d := newMemDir(t)

	require.NoError(t, d.Write(ctx, "b.txt", []byte("two")))
	require.NoError(t, d.Write(ctx, "a.txt", []byte("one")))
	require.NoError(t, d.Write(ctx, "a.txt", []byte("uno")))

	data, err := d.Read(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "uno", string(data))

	files, err := d.List(ctx)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.txt", files[0].Name)
	assert.Equal(t, "b.txt", files[1].Name)
	assert.Equal(t, int64(3), files[0].Size)
}

func TestDir_Create(t *testing.T) {
	ctx := context.Background()
	d := newMemDir(t)

	require.NoError(t, d.Create(ctx, "w.db", []byte("x")))

	err := d.Create(ctx, "w.db", []byte("y"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExist))
	assert.True(t, errors.Is(err, ErrIO))

	data, err := d.Read(ctx, "w.db")
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}

func TestDir_DeleteAndRename(t *testing.T) {
	ctx := context.Background()
	d := newMemDir(t)

	require.NoError(t, d.Write(ctx, "old", []byte("data")))
	require.NoError(t, d.Rename(ctx, "old", "new"))

	_, err := d.Read(ctx, "old")
	assert.True(t, errors.Is(err, ErrNotExist))

	require.NoError(t, d.Delete(ctx, "new"))
	err = d.Delete(ctx, "new")
	assert.True(t, errors.Is(err, ErrNotExist))
}

func TestDir_RejectsPaths(t *testing.T) {
	ctx := context.Background()
	d := newMemDir(t)

	for _, name := range []string{"", "..", "sub/file", `sub\file`} {
		err := d.Write(ctx, name, []byte("x"))
		assert.Error(t, err, "name %q", name)
	}
}

func TestDir_CancelledContext(t *testing.T) {
	d := newMemDir(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, d.Write(ctx, "a", nil), context.Canceled)
}

func TestDir_MissingFolder(t *testing.T) {
	d := NewDir(afero.NewMemMapFs(), "/nowhere")

	_, err := d.List(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIO))
}

func TestOSDir_CreateIsExclusive(t *testing.T) {
	ctx := context.Background()
	d := NewOSDir(t.TempDir())

	const creators = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		won     []int
		lostErr []error
	)
	for i := 0; i < creators; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := d.Create(ctx, "schedule.merge-lock", []byte(fmt.Sprintf("creator %d", i)))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				won = append(won, i)
			} else {
				lostErr = append(lostErr, err)
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, won, 1)
	for _, err := range lostErr {
		assert.ErrorIs(t, err, ErrExist)
	}

	data, err := d.Read(ctx, "schedule.merge-lock")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("creator %d", won[0]), string(data))

	infos, err := d.List(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, 1, "temporary files are cleaned up")
}

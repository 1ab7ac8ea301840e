package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rotaworks/schedsync/internal/db"
	"github.com/rotaworks/schedsync/internal/files"
	"github.com/rotaworks/schedsync/internal/storage"
)

type stressStats struct {
	mu       sync.Mutex
	outcomes map[Outcome]int
	errors   int
}

func (s *stressStats) record(res *CycleResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errors++
		return
	}
	s.outcomes[res.Outcome]++
}

// TestStress_ConcurrentAuthors runs several authors syncing the same OS
// folder at once, each editing its own rows, and checks that every last
// edit reaches the base.
func TestStress_ConcurrentAuthors(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	const (
		rounds        = 8
		rowsPerAuthor = 3
	)
	authors := []string{"alice", "bob", "carol"}
	ctx := context.Background()
	store := storage.NewOSDir(t.TempDir())
	codec := db.NewCodec(db.DefaultOptions())

	var ddl strings.Builder
	ddl.WriteString("CREATE TABLE shifts (sync_id INTEGER PRIMARY KEY, name TEXT, hours REAL, updated_at TEXT, updated_by TEXT);\n")
	for id := 1; id <= len(authors)*rowsPerAuthor; id++ {
		fmt.Fprintf(&ddl, "INSERT INTO shifts VALUES (%d, 'shift %d', 8, NULL, NULL);\n", id, id)
	}
	data, err := db.Create(ctx, ddl.String())
	require.NoError(t, err)

	engines := make([]*Engine, len(authors))
	for i, author := range authors {
		fm, err := files.New(store)
		require.NoError(t, err)
		if i == 0 {
			require.NoError(t, fm.InitBase(ctx, data))
		}
		engines[i], err = NewWithConfig(fm, codec, Config{Author: author, CheckpointDays: 0})
		require.NoError(t, err)
	}

	ownedRows := func(i int) []int64 {
		ids := make([]int64, rowsPerAuthor)
		for j := range ids {
			ids[j] = int64(i*rowsPerAuthor + j + 1)
		}
		return ids
	}

	stats := &stressStats{outcomes: make(map[Outcome]int)}
	start := time.Now()

	for round := 1; round <= rounds; round++ {
		var wg sync.WaitGroup
		for i, e := range engines {
			wg.Add(1)
			go func(i int, e *Engine) {
				defer wg.Done()
				for _, id := range ownedRows(i) {
					rename(e, id, fmt.Sprintf("%s r%d", e.Author(), round))
				}
				stats.record(e.ForceSyncNow(ctx))
			}(i, e)
		}
		wg.Wait()
	}

	// Keep syncing until every change file is folded in.
	settled := false
	for attempt := 0; attempt < 20 && !settled; attempt++ {
		for _, e := range engines {
			stats.record(e.ForceSyncNow(ctx))
		}
		scan, err := engines[0].Files().ScanFolder(ctx, "alice")
		require.NoError(t, err)
		settled = len(scan.ChangeFiles) == 0 && !scan.Locked
	}
	require.True(t, settled, "change files left after settling")

	fm, err := files.New(store)
	require.NoError(t, err)
	baseData, err := fm.ReadBase(ctx)
	require.NoError(t, err)
	_, base, err := codec.Decode(ctx, baseData)
	require.NoError(t, err)

	for i, author := range authors {
		for _, id := range ownedRows(i) {
			assert.Equal(t, fmt.Sprintf("%s r%d", author, rounds), nameOf(t, base, id), "row %d", id)
		}
	}
	assert.Zero(t, stats.errors)
	assert.Zero(t, stats.outcomes[OutcomeConflicts])
	assert.NotZero(t, stats.outcomes[OutcomeMerged])

	t.Logf("%d authors, %d rounds in %v: merged=%d lock_held=%d no_changes=%d deferred=%d",
		len(authors), rounds, time.Since(start).Round(time.Millisecond),
		stats.outcomes[OutcomeMerged], stats.outcomes[OutcomeLockHeld],
		stats.outcomes[OutcomeNoChanges], stats.outcomes[OutcomeDeferred])
}

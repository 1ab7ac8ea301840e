// Package engine runs the schedsync cycle for one author: save tracked
// edits as change files, scan the shared folder, take the merge lock,
// replay each participant's changes onto the base, and either commit the
// merged base or wait for conflict resolutions.
//
// # Architecture
//
// The engine consists of several components:
//
//   - Engine: Orchestrates polling, merging and committing
//   - FolderWatcher: fsnotify monitoring of peers' change and working files
//   - Tracker: Records the application's edits until the next save
//
// # Cycle
//
// Each cycle (on the poll ticker, on a debounced watcher event, or via
// ForceSyncNow) proceeds as:
//
//  1. Save tracked edits to a new change file
//  2. Scan the folder; create this author's working copy if missing
//  3. Prune backups older than the retention window
//  4. Stop if a fresh merge lock exists (stale ones are removed)
//  5. Pick participants: this author first, then the first peer with
//     change files; at most two per cycle
//  6. With only this author's changes and no peer working copies, defer
//     until the checkpoint is due
//  7. Lock, replay each participant's changes onto the base and compute
//     conflicts
//  8. Commit, or wait in StateAwaitingResolution
//
// Committing writes the merged base, archives the consumed change and
// working files, re-forks this author's working copy from the new base and
// then removes the lock. The base is re-read just before it is replaced; if
// another process changed it the merge is abandoned with ErrBaseChanged.
//
//	e, err := engine.NewWithConfig(fm, db.NewCodec(db.DefaultOptions()), engine.Config{
//	    Author:       "alice",
//	    PollInterval: 30 * time.Second,
//	    Watch:        true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	e.Subscribe(func(ev engine.Event) { fmt.Println(ev.Status, ev.Message) })
//	if err := e.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Conflicts
//
// While conflicts are pending the engine holds the merge lock and refuses
// further cycles with ErrBusy. ApplyResolutions commits the merge; a
// missing or invalid choice leaves it pending. CancelResolution releases
// the lock and leaves every file as it was, so the same conflicts come
// back on the next cycle.
//
// # Thread Safety
//
// All Engine methods are safe for concurrent use. Subscribers are called
// synchronously from the goroutine running the cycle and must not call
// back into the engine or block.
package engine

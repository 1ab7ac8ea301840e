package engine

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/rotaworks/schedsync/internal/files"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FolderEvent is a change to a schedsync file in the shared folder.
type FolderEvent struct {
	// Entry is the classified file name.
	Entry files.Entry
	// Op is the operation that occurred (create, modify, delete).
	Op EventOp
}

// FolderWatcher watches the shared folder for schedsync files.
// It uses fsnotify for cross-platform file system event monitoring.
type FolderWatcher struct {
	watcher *fsnotify.Watcher
	names   *files.Names
	events  chan FolderEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	dir     string
}

// NewFolderWatcher creates a watcher classifying names with names.
// The watcher must be started with Start() before it will emit events.
func NewFolderWatcher(names *files.Names) (*FolderWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FolderWatcher{
		watcher: watcher,
		names:   names,
		events:  make(chan FolderEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching dir.
func (fw *FolderWatcher) Start(dir string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}
	if err := fw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch shared folder %s: %w", dir, err)
	}

	fw.dir = dir
	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()
	return nil
}

// Stop stops watching and closes the event channels.
// It blocks until the event processing goroutine has exited.
func (fw *FolderWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return fw.watcher.Close()
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)

	// Closing the underlying watcher unblocks the event loop
	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)
	return nil
}

// Events returns the channel that emits FolderEvent notifications.
// This channel is closed when the watcher is stopped.
func (fw *FolderWatcher) Events() <-chan FolderEvent {
	return fw.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (fw *FolderWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning returns true if the watcher is currently running.
func (fw *FolderWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

func (fw *FolderWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if fe, ok := fw.convertEvent(event); ok {
				select {
				case fw.events <- fe:
				case <-fw.done:
					return
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

// convertEvent keeps events for change files and working copies; the rest
// of the folder (base, lock, backups, temp files) is written by merges and
// does not need to trigger one.
func (fw *FolderWatcher) convertEvent(event fsnotify.Event) (FolderEvent, bool) {
	entry, ok := fw.names.Classify(filepath.Base(event.Name))
	if !ok || (entry.Kind != files.EntryChanges && entry.Kind != files.EntryWorking) {
		return FolderEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return FolderEvent{}, false
	}
	return FolderEvent{Entry: entry, Op: op}, true
}

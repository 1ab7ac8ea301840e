package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jonboulle/clockwork"

	"github.com/rotaworks/schedsync/internal/files"
	"github.com/rotaworks/schedsync/internal/logging"
	"github.com/rotaworks/schedsync/internal/merge"
	"github.com/rotaworks/schedsync/internal/schema"
	"github.com/rotaworks/schedsync/internal/tracker"
)

// Codec converts snapshot files to datasets and back. *db.Codec
// implements it.
type Codec interface {
	Decode(ctx context.Context, data []byte) (*schema.Schema, *schema.Dataset, error)
	Apply(ctx context.Context, base []byte, sch *schema.Schema, ds *schema.Dataset) ([]byte, error)
}

// Config holds configuration for the engine.
type Config struct {
	// Author is the identity this engine saves and merges for.
	Author string

	// PollInterval is how often the folder is scanned. Default: 30s.
	PollInterval time.Duration

	// BackupRetentionDays is how long archived files are kept. Default: 3.
	BackupRetentionDays int

	// CheckpointDays is how long a solo author's change files may wait
	// before being folded into the base. Default: 3.
	CheckpointDays int

	// Watch enables the fsnotify folder watcher.
	Watch bool

	// WatchDebounce is how long the folder must be quiet after a peer's
	// change before a cycle is triggered. Default: 500ms.
	WatchDebounce time.Duration

	// Clock drives the poll ticker and timestamps. Default: wall time.
	Clock clockwork.Clock

	// Logger for engine activity. Default: discard.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:        30 * time.Second,
		BackupRetentionDays: 3,
		CheckpointDays:      3,
		WatchDebounce:       500 * time.Millisecond,
		Clock:               clockwork.NewRealClock(),
		Logger:              logging.Discard(),
	}
}

type pendingMerge struct {
	res          *merge.Result
	baseBytes    []byte
	baseHash     uint64
	participants []string
	consumed     []string
	skipped      []string
}

// Engine runs the scan, merge and commit cycle for one author on one
// shared folder.
type Engine struct {
	files   *files.Manager
	codec   Codec
	tracker *tracker.Tracker
	config  Config
	logger  *slog.Logger

	mu       sync.Mutex
	state    State
	status   Status
	busy     bool
	ownsLock bool
	pending  *pendingMerge
	lastErr  error
	subs     map[int]func(Event)
	nextSub  int

	runMu   sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	watcher *FolderWatcher
	trigger chan struct{}
}

// New creates an engine with default configuration for author.
func New(fm *files.Manager, codec Codec, author string) (*Engine, error) {
	cfg := DefaultConfig()
	cfg.Author = author
	return NewWithConfig(fm, codec, cfg)
}

// NewWithConfig creates an engine with custom configuration.
func NewWithConfig(fm *files.Manager, codec Codec, cfg Config) (*Engine, error) {
	if fm == nil {
		return nil, fmt.Errorf("file manager cannot be nil")
	}
	if codec == nil {
		return nil, fmt.Errorf("codec cannot be nil")
	}
	if !files.ValidAuthor(cfg.Author) {
		return nil, fmt.Errorf("%q: %w", cfg.Author, files.ErrInvalidAuthor)
	}

	d := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = d.PollInterval
	}
	if cfg.BackupRetentionDays < 0 {
		cfg.BackupRetentionDays = d.BackupRetentionDays
	}
	if cfg.CheckpointDays < 0 {
		cfg.CheckpointDays = d.CheckpointDays
	}
	if cfg.WatchDebounce <= 0 {
		cfg.WatchDebounce = d.WatchDebounce
	}
	if cfg.Clock == nil {
		cfg.Clock = d.Clock
	}
	if cfg.Logger == nil {
		cfg.Logger = d.Logger
	}

	return &Engine{
		files:   fm,
		codec:   codec,
		tracker: tracker.New(cfg.Author, cfg.Clock),
		config:  cfg,
		logger:  cfg.Logger.With("component", "engine", "author", cfg.Author),
		state:   StateIdle,
		status:  StatusSynced,
		subs:    make(map[int]func(Event)),
		trigger: make(chan struct{}, 1),
	}, nil
}

// Tracker returns the change tracker the application records edits into.
func (e *Engine) Tracker() *tracker.Tracker { return e.tracker }

// Files returns the file manager.
func (e *Engine) Files() *files.Manager { return e.files }

// Author returns the author this engine works for.
func (e *Engine) Author() string { return e.config.Author }

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Status returns the current sync status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// LastError returns the error of the most recent failed cycle, or nil.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// PendingConflicts returns the conflicts awaiting resolution.
func (e *Engine) PendingConflicts() []merge.Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return nil
	}
	return append([]merge.Conflict(nil), e.pending.res.Conflicts...)
}

// Subscribe registers fn for every event and returns a function that
// removes it. fn runs on the engine's goroutine and must not block.
func (e *Engine) Subscribe(fn func(Event)) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

func (e *Engine) publish(ev Event) {
	e.mu.Lock()
	subs := make([]func(Event), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func (e *Engine) transition(state State, status Status, msg string, conflicts int, err error) {
	e.mu.Lock()
	e.state = state
	e.status = status
	e.mu.Unlock()

	e.logger.Debug("state change", "state", state, "status", status, "message", msg)
	e.publish(Event{
		Time:      e.config.Clock.Now(),
		State:     state,
		Status:    status,
		Message:   msg,
		Conflicts: conflicts,
		Err:       err,
	})
}

// Start begins periodic scanning in the background. The first cycle runs
// immediately. Start returns an error if the engine is already running.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.started {
		return fmt.Errorf("engine already started")
	}

	e.logger.Info("starting engine", "folder", e.files.Store().Path(), "interval", e.config.PollInterval)
	e.warnAbandonedLock(ctx)

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.started = true

	if e.config.Watch {
		w, err := NewFolderWatcher(e.files.Names())
		if err == nil {
			err = w.Start(e.files.Store().Path())
			if err != nil {
				_ = w.Stop()
			}
		}
		if err != nil {
			e.logger.Warn("folder watch unavailable, polling only", "error", err)
		} else {
			e.watcher = w
			e.wg.Add(1)
			go e.watchLoop(ctx, w)
		}
	}

	e.wg.Add(1)
	go e.pollLoop(ctx)
	return nil
}

// Run starts the engine and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	e.logger.Info("shutdown signal received")
	return e.Stop()
}

// Stop halts scanning, abandons a merge awaiting resolution and waits for
// background work to finish.
func (e *Engine) Stop() error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if !e.started {
		return nil
	}
	e.logger.Info("stopping engine")

	e.cancel()
	if e.watcher != nil {
		if err := e.watcher.Stop(); err != nil {
			e.logger.Warn("error closing watcher", "error", err)
		}
		e.watcher = nil
	}
	e.wg.Wait()
	e.started = false

	if err := e.CancelResolution(context.Background()); err != nil && !errors.Is(err, ErrNotAwaitingResolution) {
		e.logger.Warn("failed to abandon pending merge", "error", err)
	}
	e.logger.Info("engine stopped")
	return nil
}

func (e *Engine) pollLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := e.config.Clock.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	e.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			e.tick(ctx)
		case <-e.trigger:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	res, err := e.ForceSyncNow(ctx)
	switch {
	case errors.Is(err, ErrBusy):
		e.logger.Debug("skipping tick, engine busy")
	case err != nil:
		if ctx.Err() == nil {
			e.logger.Error("sync cycle failed", "error", err)
		}
	default:
		e.logger.Debug("sync cycle finished", "outcome", res.Outcome)
	}
}

// watchLoop debounces peer file events into cycle triggers.
func (e *Engine) watchLoop(ctx context.Context, w *FolderWatcher) {
	defer e.wg.Done()

	ticker := e.config.Clock.NewTicker(e.config.WatchDebounce)
	defer ticker.Stop()

	var lastEvent time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			if ev.Entry.Author == e.config.Author {
				continue
			}
			e.logger.Debug("peer file event", "op", ev.Op, "name", ev.Entry.Name)
			lastEvent = e.config.Clock.Now()

		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			e.logger.Warn("watcher error", "error", err)

		case <-ticker.Chan():
			if lastEvent.IsZero() || e.config.Clock.Now().Sub(lastEvent) < e.config.WatchDebounce {
				continue
			}
			lastEvent = time.Time{}
			select {
			case e.trigger <- struct{}{}:
			default:
			}
		}
	}
}

// warnAbandonedLock reports a fresh lock owned by this author that no
// merge of this engine holds: a previous process crashed mid-merge.
func (e *Engine) warnAbandonedLock(ctx context.Context) {
	lock, err := e.files.ReadMergeLock(ctx)
	if err != nil || lock == nil || lock.Author != e.config.Author || e.files.IsLockStale(lock.StartedAt) {
		return
	}
	e.mu.Lock()
	ours := e.ownsLock
	status, state := e.status, e.state
	e.mu.Unlock()
	if ours {
		return
	}

	msg := fmt.Sprintf("a merge started by %s at %s did not finish; merging is paused until the lock expires or is cleared",
		lock.Author, lock.StartedAt.Format(time.RFC3339))
	e.logger.Warn("abandoned merge lock", "started_at", lock.StartedAt, "working_files", lock.WorkingFiles)
	e.publish(Event{Time: e.config.Clock.Now(), State: state, Status: status, Message: msg})
}

// Save writes the tracked changes to a new change file and returns its
// name, or "" when nothing was tracked. On failure the changes are put
// back into the tracker.
func (e *Engine) Save(ctx context.Context) (string, error) {
	changes := e.tracker.Drain()
	if len(changes) == 0 {
		return "", nil
	}
	name, err := e.files.WriteChangeFile(ctx, e.config.Author, changes)
	if err != nil {
		e.tracker.Requeue(changes)
		return "", fmt.Errorf("failed to save changes: %w", err)
	}
	e.logger.Info("saved changes", "file", name, "changes", len(changes))
	return name, nil
}

// ForceSyncNow runs one cycle outside the schedule. It returns ErrBusy
// when a cycle is running or conflicts await resolution.
func (e *Engine) ForceSyncNow(ctx context.Context) (*CycleResult, error) {
	if !e.begin() {
		return nil, ErrBusy
	}
	defer e.end()

	res, err := e.cycle(ctx)
	if err != nil {
		e.fail(err)
		return nil, err
	}
	return res, nil
}

func (e *Engine) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy || e.state == StateAwaitingResolution {
		return false
	}
	e.busy = true
	return true
}

func (e *Engine) end() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.busy = false
}

// fail records err, drops a pending merge and releases a lock this engine
// created. The engine passes through Error back to Idle.
func (e *Engine) fail(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.pending = nil
	owns := e.ownsLock
	e.ownsLock = false
	e.mu.Unlock()

	if owns {
		if rmErr := e.files.RemoveMergeLock(context.Background()); rmErr != nil {
			e.logger.Warn("failed to remove merge lock", "error", rmErr)
		}
	}
	e.transition(StateError, StatusError, err.Error(), 0, err)
	e.transition(StateIdle, StatusError, err.Error(), 0, err)
}

func (e *Engine) idle(msg string) {
	e.mu.Lock()
	e.lastErr = nil
	e.mu.Unlock()
	e.transition(StateIdle, StatusSynced, msg, 0, nil)
}

func (e *Engine) cycle(ctx context.Context) (*CycleResult, error) {
	author := e.config.Author
	e.transition(StateScanning, StatusSyncing, "scanning shared folder", 0, nil)

	if _, err := e.Save(ctx); err != nil {
		return nil, err
	}

	scan, err := e.files.ScanFolder(ctx, author)
	if err != nil {
		return nil, err
	}
	if scan.Base == "" {
		return nil, files.ErrNoBase
	}
	if scan.MyWorkingFile == "" {
		if _, err := e.files.CreateWorkingFileFromBase(ctx, author); err != nil && !errors.Is(err, files.ErrAlreadyExists) {
			return nil, err
		}
	}

	if n, err := e.files.CleanupOldBackups(ctx, e.config.BackupRetentionDays); err != nil {
		e.logger.Warn("backup cleanup failed", "error", err)
	} else if n > 0 {
		e.logger.Info("removed old backups", "count", n)
	}

	lock, err := e.files.CheckMergeLock(ctx)
	if err != nil {
		return nil, err
	}
	if lock != nil {
		e.idle(fmt.Sprintf("merge in progress by %s", lock.Author))
		return &CycleResult{Outcome: OutcomeLockHeld}, nil
	}

	participants := orderParticipants(scan.ChangeAuthors(), author)
	if len(participants) == 0 {
		e.idle("up to date")
		return &CycleResult{Outcome: OutcomeNoChanges}, nil
	}
	if len(participants) == 1 && participants[0] == author && !scan.NeedsMerge {
		cp, err := e.files.ReadCheckpoint(ctx, author)
		if err != nil {
			return nil, err
		}
		if !e.files.ShouldCheckpoint(cp.LastCheckpoint, e.config.CheckpointDays) {
			e.idle("local changes saved; next checkpoint pending")
			return &CycleResult{Outcome: OutcomeDeferred}, nil
		}
	}
	if len(participants) > 2 {
		participants = participants[:2]
	}

	var working []string
	for _, p := range participants {
		if w := scan.WorkingFileOf(p); w != "" {
			working = append(working, w)
		}
	}
	if _, err := e.files.CreateMergeLock(ctx, author, working); err != nil {
		if errors.Is(err, files.ErrLockHeld) {
			e.idle("merge in progress")
			return &CycleResult{Outcome: OutcomeLockHeld}, nil
		}
		return nil, err
	}
	e.mu.Lock()
	e.ownsLock = true
	e.mu.Unlock()

	// Another merge may have consumed files between the scan and the lock.
	scan, err = e.files.ScanFolder(ctx, author)
	if err != nil {
		return nil, err
	}
	participants = orderParticipants(scan.ChangeAuthors(), author)
	if len(participants) == 0 {
		e.mu.Lock()
		e.ownsLock = false
		e.mu.Unlock()
		if err := e.files.RemoveMergeLock(ctx); err != nil {
			return nil, err
		}
		e.idle("up to date")
		return &CycleResult{Outcome: OutcomeNoChanges}, nil
	}
	if len(participants) > 2 {
		participants = participants[:2]
	}

	e.transition(StateMerging, StatusSyncing, "merging changes from "+strings.Join(participants, ", "), 0, nil)

	pm, err := e.prepare(ctx, scan, participants)
	if err != nil {
		return nil, err
	}

	result := &CycleResult{
		Participants: pm.participants,
		AutoMerged:   pm.res.AutoMerged,
		Skipped:      pm.skipped,
	}

	if pm.res.HasConflicts() {
		n := len(pm.res.Conflicts)
		e.mu.Lock()
		e.pending = pm
		e.mu.Unlock()
		e.logger.Info("merge needs resolution", "conflicts", n, "participants", pm.participants)
		e.transition(StateAwaitingResolution, StatusConflictPending,
			fmt.Sprintf("%d conflict(s) need resolution", n), n, nil)

		result.Outcome = OutcomeConflicts
		result.Conflicts = append([]merge.Conflict(nil), pm.res.Conflicts...)
		return result, nil
	}

	archived, err := e.commit(ctx, pm, pm.res.Merged)
	if err != nil {
		return nil, err
	}
	result.Outcome = OutcomeMerged
	result.Archived = archived
	return result, nil
}

// orderParticipants puts author first, then everyone else sorted.
func orderParticipants(authors []string, author string) []string {
	var out, others []string
	for _, a := range authors {
		if a == author {
			out = append(out, a)
		} else {
			others = append(others, a)
		}
	}
	sort.Strings(others)
	return append(out, others...)
}

func (e *Engine) prepare(ctx context.Context, scan *files.Scan, participants []string) (*pendingMerge, error) {
	baseBytes, err := e.files.ReadBase(ctx)
	if err != nil {
		return nil, err
	}
	sch, baseDs, err := e.codec.Decode(ctx, baseBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base: %w", err)
	}

	pm := &pendingMerge{
		baseBytes:    baseBytes,
		baseHash:     xxhash.Sum64(baseBytes),
		participants: participants,
	}

	sides := make([]merge.Side, 0, 2)
	for _, p := range participants {
		var changes []schema.Change
		for _, entry := range scan.ChangeFilesBy(p) {
			cf, err := e.files.ReadChangeFile(ctx, entry.Name)
			if errors.Is(err, files.ErrCorruptChangeFile) {
				e.logger.Warn("skipping corrupt change file", "name", entry.Name, "error", err)
				pm.skipped = append(pm.skipped, entry.Name)
				continue
			}
			if err != nil {
				return nil, err
			}
			changes = append(changes, cf.Changes...)
			pm.consumed = append(pm.consumed, entry.Name)
		}

		ds, stats := merge.Replay(sch, baseDs, changes)
		if stats.Skipped > 0 {
			e.logger.Warn("skipped changes that no longer apply", "author", p, "skipped", stats.Skipped)
		}
		sides = append(sides, merge.Side{Author: p, Data: ds})

		if w := scan.WorkingFileOf(p); w != "" {
			pm.consumed = append(pm.consumed, w)
		}
	}
	if len(sides) == 1 {
		sides = append(sides, merge.Side{Author: "base", Data: baseDs})
	}

	pm.res = merge.ComputeConflicts(sch, baseDs, sides[0], sides[1])
	return pm, nil
}

// commit publishes final as the new base, archives the consumed files,
// re-forks this author's working copy and releases the lock.
func (e *Engine) commit(ctx context.Context, pm *pendingMerge, final *schema.Dataset) ([]string, error) {
	newBase, err := e.codec.Apply(ctx, pm.baseBytes, pm.res.Schema, final)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged base: %w", err)
	}

	current, err := e.files.ReadBase(ctx)
	if err != nil {
		return nil, err
	}
	if xxhash.Sum64(current) != pm.baseHash {
		return nil, ErrBaseChanged
	}
	if err := e.files.ReplaceBase(ctx, newBase); err != nil {
		return nil, err
	}

	var archived []string
	for _, name := range pm.consumed {
		backup, err := e.files.ArchiveFile(ctx, name)
		if err != nil {
			e.logger.Warn("failed to archive consumed file", "name", name, "error", err)
			continue
		}
		archived = append(archived, backup)
	}

	author := e.config.Author
	if err := e.files.ReplaceWorkingFile(ctx, author, e.fork(ctx, pm, final, newBase)); err != nil {
		e.logger.Warn("failed to refresh working copy", "error", err)
	}
	for _, p := range pm.participants {
		if p != author {
			continue
		}
		if _, err := e.files.WriteCheckpoint(ctx, author, fmt.Sprintf("%016x", xxhash.Sum64(newBase))); err != nil {
			e.logger.Warn("failed to write checkpoint", "error", err)
		}
	}

	if err := e.files.RemoveMergeLock(ctx); err != nil {
		e.logger.Warn("failed to remove merge lock", "error", err)
	}
	e.mu.Lock()
	e.ownsLock = false
	e.pending = nil
	e.mu.Unlock()

	e.logger.Info("merge committed", "participants", pm.participants, "archived", len(archived))
	e.idle("merged changes from " + strings.Join(pm.participants, ", "))
	return archived, nil
}

// fork returns the bytes of this author's new working copy: the new base
// plus any edits tracked since the last save.
func (e *Engine) fork(ctx context.Context, pm *pendingMerge, final *schema.Dataset, newBase []byte) []byte {
	pending := e.tracker.Pending()
	if len(pending) == 0 {
		return newBase
	}
	ds, _ := merge.Replay(pm.res.Schema, final, pending)
	data, err := e.codec.Apply(ctx, newBase, pm.res.Schema, ds)
	if err != nil {
		e.logger.Warn("failed to carry unsaved edits into working copy", "changes", len(pending), "error", err)
		return newBase
	}
	return data
}

// ApplyResolutions resolves the pending conflicts and commits the merge.
// On a resolution error (missing or invalid choice) the merge stays
// pending; on a commit error it is abandoned.
func (e *Engine) ApplyResolutions(ctx context.Context, resolutions []merge.Resolution) (*CycleResult, error) {
	e.mu.Lock()
	if e.state != StateAwaitingResolution || e.pending == nil {
		e.mu.Unlock()
		return nil, ErrNotAwaitingResolution
	}
	if e.busy {
		e.mu.Unlock()
		return nil, ErrBusy
	}
	e.busy = true
	pm := e.pending
	e.mu.Unlock()
	defer e.end()

	final, err := merge.Resolve(pm.res, resolutions)
	if err != nil {
		return nil, err
	}

	e.transition(StateMerging, StatusSyncing, "applying resolutions", 0, nil)
	archived, err := e.commit(ctx, pm, final)
	if err != nil {
		e.fail(err)
		return nil, err
	}
	return &CycleResult{
		Outcome:      OutcomeMerged,
		Participants: pm.participants,
		AutoMerged:   pm.res.AutoMerged,
		Archived:     archived,
		Skipped:      pm.skipped,
	}, nil
}

// CancelResolution abandons the pending merge. The base and every working
// and change file stay exactly as they were; only the lock is removed.
func (e *Engine) CancelResolution(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateAwaitingResolution || e.pending == nil {
		e.mu.Unlock()
		return ErrNotAwaitingResolution
	}
	if e.busy {
		e.mu.Unlock()
		return ErrBusy
	}
	e.pending = nil
	e.ownsLock = false
	e.mu.Unlock()

	err := e.files.RemoveMergeLock(ctx)
	e.transition(StateIdle, StatusSynced, "merge cancelled", 0, nil)
	if err != nil {
		return err
	}
	return nil
}

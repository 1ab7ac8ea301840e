// Package tracker buffers the mutations an author makes to tracked tables
// until the next save flushes them into a change file.
//
// The buffer never blocks and never fails. Drain hands the buffered changes
// to the caller and empties the buffer in one step; a caller whose flush
// fails puts them back with Requeue so no edit is silently lost.
package tracker

import (
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/rotaworks/schedsync/internal/schema"
)

// Tracker is an in-memory, ordered buffer of changes for one author.
// It is safe for concurrent use.
type Tracker struct {
	author string
	clock  clockwork.Clock

	mu  sync.Mutex
	seq uint64
	buf []schema.Change
}

// New returns a tracker stamping changes with author and the time from c.
// A nil clock uses wall time.
func New(author string, c clockwork.Clock) *Tracker {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	return &Tracker{author: author, clock: c}
}

// Author returns the author this tracker records for.
func (t *Tracker) Author() string { return t.author }

// Track appends one change. field is empty for inserts and deletes.
func (t *Tracker) Track(table string, syncID int64, op schema.Op, field string, oldValue, newValue schema.Value) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	t.buf = append(t.buf, schema.Change{
		Table:     table,
		SyncID:    syncID,
		Op:        op,
		Field:     field,
		OldValue:  oldValue,
		NewValue:  newValue,
		Author:    t.author,
		Timestamp: t.clock.Now().UTC(),
		Seq:       t.seq,
	})
}

// TrackInsert records a new row: one insert followed by an update per
// field, in field-name order.
func (t *Tracker) TrackInsert(table string, syncID int64, values map[string]schema.Value) {
	t.Track(table, syncID, schema.OpInsert, "", schema.Null(), schema.Null())

	fields := make([]string, 0, len(values))
	for f := range values {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		t.Track(table, syncID, schema.OpUpdate, f, schema.Null(), values[f])
	}
}

// TrackUpdate records a single field edit.
func (t *Tracker) TrackUpdate(table string, syncID int64, field string, oldValue, newValue schema.Value) {
	t.Track(table, syncID, schema.OpUpdate, field, oldValue, newValue)
}

// TrackDelete records a row deletion.
func (t *Tracker) TrackDelete(table string, syncID int64) {
	t.Track(table, syncID, schema.OpDelete, "", schema.Null(), schema.Null())
}

// Drain returns the buffered changes and empties the buffer.
func (t *Tracker) Drain() []schema.Change {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.buf
	t.buf = nil
	return out
}

// Pending returns a copy of the buffered changes without draining them.
func (t *Tracker) Pending() []schema.Change {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]schema.Change(nil), t.buf...)
}

// Requeue puts changes from a failed flush back in front of anything
// tracked since the drain.
func (t *Tracker) Requeue(changes []schema.Change) {
	if len(changes) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	buf := make([]schema.Change, 0, len(changes)+len(t.buf))
	buf = append(buf, changes...)
	t.buf = append(buf, t.buf...)
}

// Len returns the number of buffered changes.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buf)
}

package merge

import (
	"github.com/rotaworks/schedsync/internal/schema"
)

// ReplayStats counts what Replay did with its changes.
type ReplayStats struct {
	Applied int

	// Skipped changes named an unknown table or field, carried a value of
	// the wrong kind, or updated a row that does not exist.
	Skipped int
}

// Replay applies changes on top of a copy of base, in change order
// (timestamp, author, seq). The input dataset is not modified.
//
// An insert creates a row with every field null, replacing any row with
// the same id; the values arrive as the updates that follow it.
func Replay(sch *schema.Schema, base *schema.Dataset, changes []schema.Change) (*schema.Dataset, ReplayStats) {
	out := base.Clone()
	var stats ReplayStats

	ordered := make([]schema.Change, len(changes))
	copy(ordered, changes)
	schema.SortChanges(ordered)

	for i := range ordered {
		if applyChange(sch, out, &ordered[i]) {
			stats.Applied++
		} else {
			stats.Skipped++
		}
	}
	return out, stats
}

func applyChange(sch *schema.Schema, ds *schema.Dataset, c *schema.Change) bool {
	ts, ok := sch.Table(c.Table)
	if !ok {
		return false
	}

	switch c.Op {
	case schema.OpInsert:
		row := schema.NewRow(c.SyncID)
		for _, f := range ts.Fields {
			row.Set(f.Name, schema.Null())
		}
		ds.Put(c.Table, row)
		return true

	case schema.OpDelete:
		if ds.Row(c.Table, c.SyncID) == nil {
			return false
		}
		ds.Delete(c.Table, c.SyncID)
		return true

	case schema.OpUpdate:
		row := ds.Row(c.Table, c.SyncID)
		if row == nil {
			return false
		}
		if err := ts.Accepts(c.Field, c.NewValue); err != nil {
			return false
		}
		row.Set(c.Field, c.NewValue)
		return true

	default:
		return false
	}
}

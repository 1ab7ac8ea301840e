package merge

import (
	"fmt"

	"github.com/rotaworks/schedsync/internal/schema"
)

// Resolve applies resolutions to the conflicts of res and returns the final
// dataset. Auto-merged rows are left untouched. Every conflict needs a
// resolution; resolutions naming rows that are not in conflict are ignored.
// When several resolutions name the same row the last one wins.
//
// Choice semantics per conflict kind:
//
//	update/update  base: base row   a/b: that side's row
//	delete/update  base: deleted    a/b: the edited row
//	insert/insert  base: no row     a/b: that side's row   both: both rows
//
// For "both", the author that sorts first keeps the sync id and the other
// row gets the next free id of its table.
func Resolve(res *Result, resolutions []Resolution) (*schema.Dataset, error) {
	choices := make(map[Key]Choice, len(resolutions))
	for _, r := range resolutions {
		choices[r.Key()] = r.Choice
	}

	var missing []Key
	for i := range res.Conflicts {
		c := &res.Conflicts[i]
		choice, ok := choices[c.Key()]
		if !ok {
			missing = append(missing, c.Key())
			continue
		}
		if !choice.Valid() {
			return nil, fmt.Errorf("%w %q for %s", ErrInvalidChoice, choice, c.Key())
		}
		if choice == ChoiceBoth && c.Kind != InsertInsert {
			return nil, fmt.Errorf("%w: %q only applies to insert/insert, %s is %s",
				ErrInvalidChoice, choice, c.Key(), c.Kind)
		}
	}
	if len(missing) > 0 {
		return nil, &UnresolvedError{Missing: missing}
	}

	out := res.Merged.Clone()
	next := make(map[string]int64)
	for i := range res.Conflicts {
		c := &res.Conflicts[i]
		choice := choices[c.Key()]
		if c.Kind == DeleteUpdate {
			edited := c.RowA
			if edited == nil {
				edited = c.RowB
			}
			if choice == ChoiceBase {
				edited = nil
			}
			place(out, c.Table, c.SyncID, edited)
			continue
		}
		switch choice {
		case ChoiceBase:
			place(out, c.Table, c.SyncID, c.Base)
		case ChoiceA:
			place(out, c.Table, c.SyncID, c.RowA)
		case ChoiceB:
			place(out, c.Table, c.SyncID, c.RowB)
		case ChoiceBoth:
			keep, moved := c.RowA, c.RowB
			if c.ModifiedByB < c.ModifiedByA {
				keep, moved = c.RowB, c.RowA
			}
			place(out, c.Table, c.SyncID, keep)

			id, ok := next[c.Table]
			if !ok {
				id = maxID(c.Table, out, res.Base, res.A.Data, res.B.Data) + 1
			}
			dup := moved.Clone()
			dup.SyncID = id
			out.Put(c.Table, dup)
			next[c.Table] = id + 1
		}
	}
	return out, nil
}

// ResolveAll returns one resolution per conflict, all with the same choice.
func ResolveAll(conflicts []Conflict, choice Choice) []Resolution {
	out := make([]Resolution, len(conflicts))
	for i, c := range conflicts {
		out[i] = Resolution{Table: c.Table, SyncID: c.SyncID, Choice: choice}
	}
	return out
}

func place(ds *schema.Dataset, table string, id int64, row *schema.Row) {
	if row == nil {
		ds.Delete(table, id)
		return
	}
	r := row.Clone()
	r.SyncID = id
	ds.Put(table, r)
}

func maxID(table string, sets ...*schema.Dataset) int64 {
	var max int64
	for _, ds := range sets {
		if ds == nil {
			continue
		}
		if m := ds.MaxID(table); m > max {
			max = m
		}
	}
	return max
}

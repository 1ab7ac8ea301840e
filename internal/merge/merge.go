package merge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotaworks/schedsync/internal/schema"
)

// Side is one author's row state.
type Side struct {
	Author string
	Data   *schema.Dataset
}

// Result is the outcome of ComputeConflicts.
type Result struct {
	Schema *schema.Schema
	Base   *schema.Dataset
	A, B   Side

	// Merged holds every auto-merged row; conflicted rows keep their base
	// version until resolved.
	Merged *schema.Dataset

	Conflicts []Conflict

	// AutoMerged counts rows whose merged version differs from the base.
	AutoMerged int
}

// HasConflicts reports whether any conflict awaits resolution.
func (r *Result) HasConflicts() bool { return len(r.Conflicts) > 0 }

// ComputeConflicts merges a and b against base.
func ComputeConflicts(sch *schema.Schema, base *schema.Dataset, a, b Side) *Result {
	res := &Result{
		Schema: sch,
		Base:   base,
		A:      a,
		B:      b,
		Merged: base.Clone(),
	}

	for _, ts := range sch.Tables {
		for _, id := range unionIDs(ts.Name, base, a.Data, b.Data) {
			mergeRow(res, ts, id)
		}
	}
	return res
}

func unionIDs(table string, sets ...*schema.Dataset) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, ds := range sets {
		for _, id := range ds.IDs(table) {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// rowEqual compares every field, bookkeeping included.
func rowEqual(ts *schema.TableSchema, x, y *schema.Row) bool {
	if x == nil || y == nil {
		return x == nil && y == nil
	}
	for _, f := range ts.Fields {
		if !x.Get(f.Name).Equal(y.Get(f.Name)) {
			return false
		}
	}
	return true
}

func mergeRow(res *Result, ts *schema.TableSchema, id int64) {
	table := ts.Name
	base := res.Base.Row(table, id)
	ra := res.A.Data.Row(table, id)
	rb := res.B.Data.Row(table, id)

	sameA := rowEqual(ts, base, ra)
	sameB := rowEqual(ts, base, rb)

	switch {
	case sameA && sameB:
		return
	case sameA:
		res.take(table, id, rb)
		return
	case sameB:
		res.take(table, id, ra)
		return
	}

	// both sides changed the row
	switch {
	case ra == nil && rb == nil:
		res.take(table, id, nil)

	case base == nil:
		if ts.ContentEqual(ra, rb) {
			res.take(table, id, combine(ts, base, ra, rb))
			return
		}
		fields := ts.DifferingFields(ra, rb)
		res.conflict(ts, InsertInsert, id, base, ra, rb, fields,
			fmt.Sprintf("%s row %d inserted by both %s and %s; differing: %s",
				table, id, res.A.Author, res.B.Author, strings.Join(fields, ", ")))

	case ra == nil || rb == nil:
		deleter, editor, edited := res.A.Author, res.B.Author, rb
		if rb == nil {
			deleter, editor, edited = res.B.Author, res.A.Author, ra
		}
		// an edit that only touched bookkeeping does not save the row
		if ts.ContentEqual(base, edited) {
			res.take(table, id, nil)
			return
		}
		fields := ts.DifferingFields(base, edited)
		res.conflict(ts, DeleteUpdate, id, base, ra, rb, fields,
			fmt.Sprintf("%s row %d deleted by %s, edited by %s; edited: %s",
				table, id, deleter, editor, strings.Join(fields, ", ")))

	default:
		if clash := clashingFields(ts, base, ra, rb); len(clash) > 0 {
			fields := ts.DifferingFields(ra, rb)
			res.conflict(ts, UpdateUpdate, id, base, ra, rb, fields,
				fmt.Sprintf("%s row %d edited by %s and %s; differing: %s",
					table, id, res.A.Author, res.B.Author, strings.Join(fields, ", ")))
			return
		}
		res.take(table, id, combine(ts, base, ra, rb))
	}
}

// clashingFields lists content fields both sides set to different values.
func clashingFields(ts *schema.TableSchema, base, a, b *schema.Row) []string {
	var out []string
	for _, f := range ts.Fields {
		if f.Bookkeeping {
			continue
		}
		v0, va, vb := base.Get(f.Name), a.Get(f.Name), b.Get(f.Name)
		if !va.Equal(v0) && !vb.Equal(v0) && !va.Equal(vb) {
			out = append(out, f.Name)
		}
	}
	return out
}

// combine merges two non-clashing rows field by field. A nil base means
// both sides inserted the row.
func combine(ts *schema.TableSchema, base, a, b *schema.Row) *schema.Row {
	out := schema.NewRow(a.SyncID)
	for _, f := range ts.Fields {
		v0, va, vb := base.Get(f.Name), a.Get(f.Name), b.Get(f.Name)
		switch {
		case base != nil && va.Equal(v0):
			out.Set(f.Name, vb)
		default:
			out.Set(f.Name, va)
		}
	}
	return out
}

func (res *Result) take(table string, id int64, row *schema.Row) {
	if row == nil {
		res.Merged.Delete(table, id)
	} else {
		res.Merged.Put(table, row.Clone())
	}
	res.AutoMerged++
}

func (res *Result) conflict(ts *schema.TableSchema, kind ConflictKind, id int64, base, ra, rb *schema.Row, fields []string, desc string) {
	res.Conflicts = append(res.Conflicts, Conflict{
		Kind:        kind,
		Table:       ts.Name,
		SyncID:      id,
		Base:        base.Clone(),
		RowA:        ra.Clone(),
		RowB:        rb.Clone(),
		ModifiedByA: res.A.Author,
		ModifiedByB: res.B.Author,
		Fields:      fields,
		Description: desc,
	})
}

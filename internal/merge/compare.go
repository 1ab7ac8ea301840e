package merge

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/rotaworks/schedsync/internal/schema"
)

// TableDiff describes how one table differs between two full snapshots.
type TableDiff struct {
	Table   string
	CountA  int
	CountB  int
	OnlyInA int
	OnlyInB int
	Message string
}

// CompareSnapshots compares two complete datasets table by table, ignoring
// sync ids and bookkeeping fields. Rows are matched by content hash as a
// multiset. Only tables that differ are returned, in schema order.
func CompareSnapshots(sch *schema.Schema, a, b *schema.Dataset) []TableDiff {
	var diffs []TableDiff
	for _, ts := range sch.Tables {
		ha := contentHashes(ts, a)
		hb := contentHashes(ts, b)

		d := TableDiff{Table: ts.Name, CountA: a.Len(ts.Name), CountB: b.Len(ts.Name)}
		for h, n := range ha {
			if extra := n - hb[h]; extra > 0 {
				d.OnlyInA += extra
			}
		}
		for h, n := range hb {
			if extra := n - ha[h]; extra > 0 {
				d.OnlyInB += extra
			}
		}

		switch {
		case d.CountA != d.CountB:
			d.Message = fmt.Sprintf("row count differs by %+d (A has %d, B has %d)",
				d.CountB-d.CountA, d.CountA, d.CountB)
		case d.OnlyInA > 0 || d.OnlyInB > 0:
			d.Message = fmt.Sprintf("%d rows only in A, %d rows only in B", d.OnlyInA, d.OnlyInB)
		default:
			continue
		}
		diffs = append(diffs, d)
	}
	return diffs
}

// ContentHash returns the xxhash of a row's content fields.
func ContentHash(ts *schema.TableSchema, row *schema.Row) uint64 {
	return xxhash.Sum64(ts.ContentKey(nil, row))
}

func contentHashes(ts *schema.TableSchema, ds *schema.Dataset) map[uint64]int {
	out := make(map[uint64]int, ds.Len(ts.Name))
	var buf []byte
	for _, id := range ds.IDs(ts.Name) {
		buf = ts.ContentKey(buf[:0], ds.Row(ts.Name, id))
		out[xxhash.Sum64(buf)]++
	}
	return out
}

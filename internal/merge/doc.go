// Package merge implements the three-way merge of two authors' row states
// against their common base.
//
// Everything in this package is pure: no I/O, no clock, no randomness. The
// same inputs always produce the same merged dataset and the same conflicts
// in the same order.
//
// # Rules
//
// For every tracked table, in schema declaration order, and every sync id
// present in the base or either side, in ascending order:
//
//  1. Neither side changed the row: keep the base.
//  2. Exactly one side changed it (insert, update or delete): take that side.
//  3. Both changed it to the same result: take it.
//  4. Both updated it: merge field by field. Fields edited on one side only
//     are taken from that side; fields both sides set to the same value
//     converge. A field both sides set to different values makes the row an
//     update/update conflict.
//  5. One side deleted it and the other edited its content: delete/update
//     conflict.
//  6. Both inserted the id with different content: insert/insert conflict.
//
// Bookkeeping fields (last-modified stamps) never cause or describe a
// conflict. On merged rows they come from A when A changed them, else B.
//
// While conflicts are pending the partial result keeps the base version of
// each conflicted row. Resolve replaces those rows according to the
// caller's choices.
//
// # Example
//
//	a, _ := merge.Replay(sch, base, aliceChanges)
//	b, _ := merge.Replay(sch, base, bobChanges)
//	res := merge.ComputeConflicts(sch, base,
//	    merge.Side{Author: "alice", Data: a},
//	    merge.Side{Author: "bob", Data: b})
//	if len(res.Conflicts) > 0 {
//	    final, err := merge.Resolve(res, merge.ResolveAll(res.Conflicts, merge.ChoiceA))
//	    ...
//	}
package merge

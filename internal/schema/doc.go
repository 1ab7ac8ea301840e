// Package schema defines the data model shared by every schedsync component.
//
// # Overview
//
// A shared folder holds one embedded database (the base snapshot) plus a
// working copy per author. Each tracked table in that database carries a
// stable integer identity column (sync_id by default). Everything else in a
// row is a flat mapping of field name to a scalar Value.
//
// # Values
//
// Value is a tagged scalar with four kinds: null, text, number and bool.
// Comparisons are value-level: two values are equal when their kinds and
// payloads match, so the merge engine never needs untyped access.
//
//	v := schema.Text("AM Shift")
//	if v.Equal(schema.Text("AM Shift")) {
//	    // same value
//	}
//
// # Tables
//
// Schema is the ordered list of tracked tables. The order is the order the
// tables were declared in the base snapshot and drives the order conflicts
// are reported in. Bookkeeping fields (last-modified stamps and similar)
// are part of each row but are excluded from content comparisons.
//
// # Changes
//
// Change records a single mutation. Changes are grouped into a ChangeFile,
// one per author per save, and exchanged through the shared folder as JSON:
//
//	{
//	  "version": 1,
//	  "batch_id": "0b6f4c1e-...",
//	  "author": "alice",
//	  "created_at": "2026-10-19T09:30:00Z",
//	  "changes": [
//	    {"table": "shifts", "sync_id": 5, "op": "update", "field": "name",
//	     "old_value": "Morning", "new_value": "AM Shift",
//	     "author": "alice", "timestamp": "2026-10-19T09:29:58Z", "seq": 3}
//	  ]
//	}
//
// An insert creates a row whose fields are all null; the values of a new row
// travel as update changes that follow the insert.
package schema

// Package files owns every file schedsync keeps in the shared folder and
// the conventions that give those files meaning.
//
// # File Naming
//
// With the default prefix "schedule":
//
//	schedule.base                                  authoritative base snapshot
//	schedule.merge-lock                            advisory merge lock (YAML)
//	schedule.<author>.db                           author's working copy
//	schedule.<author>.20261019T091500.123Z.changes one saved batch of changes (JSON)
//	schedule.<author>.checkpoint                   author's last fold into the base (TOML)
//	<any of the above>.bak.2026-10-19              archived copy, .N added on collision
//
// Authors are made of letters, digits, '_', '@' and '-' and never contain a
// dot, so every name splits unambiguously. Change file timestamps are UTC
// with millisecond precision; their names sort in time order per author.
//
// Names.Classify is the only place a file name is parsed. Anything it does
// not recognize is ignored by the rest of the system.
//
// # Atomicity
//
// All writes go through storage.Provider.Write (temporary sibling plus
// rename), so a reader never observes a partially written base, lock or
// change file. Archiving writes the backup before deleting the original and
// removes the backup again when the delete fails, leaving the folder as it
// was.
//
// # Merge Lock
//
// The lock records who is merging, since when, and which working files the
// merge consumes. A lock older than Config.LockStaleAfter, or one that does
// not parse, is treated as left behind by a crashed process: CheckMergeLock
// removes it and reports the folder as unlocked.
package files

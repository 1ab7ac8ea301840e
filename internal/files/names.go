package files

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultPrefix is the file name prefix used when none is configured.
const DefaultPrefix = "schedule"

const (
	changeStampLayout = "20060102T150405.000Z"
	backupDateLayout  = "2006-01-02"
	backupMarker      = ".bak."
)

var authorRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_@-]*$`)

// reservedAuthors would make an author's files read as something else:
// "bak" puts the backup marker into every name, "base" is the name of the
// shared snapshot in diffs and merges.
var reservedAuthors = []string{"bak", "base"}

// ValidAuthor reports whether author can be used in file names.
func ValidAuthor(author string) bool {
	for _, r := range reservedAuthors {
		if strings.EqualFold(author, r) {
			return false
		}
	}
	return authorRe.MatchString(author)
}

// EntryKind identifies what a classified file is.
type EntryKind int

const (
	EntryBase EntryKind = iota + 1
	EntryLock
	EntryWorking
	EntryChanges
	EntryCheckpoint
	EntryBackup
)

// String returns a human-readable representation of the kind.
func (k EntryKind) String() string {
	switch k {
	case EntryBase:
		return "base"
	case EntryLock:
		return "lock"
	case EntryWorking:
		return "working"
	case EntryChanges:
		return "changes"
	case EntryCheckpoint:
		return "checkpoint"
	case EntryBackup:
		return "backup"
	default:
		return "unknown"
	}
}

// Entry is a parsed file name.
type Entry struct {
	Name string
	Kind EntryKind

	// Author is set for working, change and checkpoint files.
	Author string

	// Time is the save time of a change file or the archive day of a
	// backup. It is zero for a backup whose date does not parse.
	Time time.Time

	// Original is the archived file name, for backups.
	Original string
}

// Names builds and parses the file names for one prefix.
type Names struct {
	prefix string

	working    *regexp.Regexp
	changes    *regexp.Regexp
	checkpoint *regexp.Regexp
	backup     *regexp.Regexp
}

// NewNames returns the naming scheme for prefix.
func NewNames(prefix string) (*Names, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if strings.ContainsAny(prefix, `/\`) || strings.HasPrefix(prefix, ".") || strings.Contains(prefix, backupMarker) {
		return nil, fmt.Errorf("invalid file prefix %q", prefix)
	}

	p := regexp.QuoteMeta(prefix)
	author := `([A-Za-z0-9][A-Za-z0-9_@-]*)`
	return &Names{
		prefix:     prefix,
		working:    regexp.MustCompile(`^` + p + `\.` + author + `\.db$`),
		changes:    regexp.MustCompile(`^` + p + `\.` + author + `\.(\d{8}T\d{6}\.\d{3}Z)\.changes$`),
		checkpoint: regexp.MustCompile(`^` + p + `\.` + author + `\.checkpoint$`),
		backup:     regexp.MustCompile(`^(.+)\.bak\.(\d{4}-\d{2}-\d{2})(?:\.(\d+))?$`),
	}, nil
}

// Prefix returns the configured prefix.
func (n *Names) Prefix() string { return n.prefix }

// Base returns the base snapshot file name.
func (n *Names) Base() string { return n.prefix + ".base" }

// Lock returns the merge lock file name.
func (n *Names) Lock() string { return n.prefix + ".merge-lock" }

// Working returns an author's working copy file name.
func (n *Names) Working(author string) string {
	return n.prefix + "." + author + ".db"
}

// Changes returns the change file name for a save by author at t.
func (n *Names) Changes(author string, t time.Time) string {
	return n.prefix + "." + author + "." + t.UTC().Format(changeStampLayout) + ".changes"
}

// Checkpoint returns an author's checkpoint file name.
func (n *Names) Checkpoint(author string) string {
	return n.prefix + "." + author + ".checkpoint"
}

// Backup returns the archive name of name for day. A positive n adds the
// collision suffix.
func Backup(name string, day time.Time, n int) string {
	b := name + backupMarker + day.UTC().Format(backupDateLayout)
	if n > 0 {
		b += "." + strconv.Itoa(n)
	}
	return b
}

// Classify parses a file name. It reports false for names that are not
// schedsync files.
func (n *Names) Classify(name string) (Entry, bool) {
	if !strings.HasPrefix(name, n.prefix+".") {
		return Entry{}, false
	}

	// Backups first: an archived change file still ends in .changes
	// before the marker.
	if i := strings.Index(name, backupMarker); i > 0 {
		e := Entry{Name: name, Kind: EntryBackup, Original: name[:i]}
		if m := n.backup.FindStringSubmatch(name); m != nil {
			e.Original = m[1]
			if day, err := time.Parse(backupDateLayout, m[2]); err == nil {
				e.Time = day
			}
		}
		return e, true
	}

	switch name {
	case n.Base():
		return Entry{Name: name, Kind: EntryBase}, true
	case n.Lock():
		return Entry{Name: name, Kind: EntryLock}, true
	}

	if m := n.changes.FindStringSubmatch(name); m != nil {
		t, err := time.Parse(changeStampLayout, m[2])
		if err != nil {
			return Entry{}, false
		}
		return Entry{Name: name, Kind: EntryChanges, Author: m[1], Time: t}, true
	}
	if m := n.working.FindStringSubmatch(name); m != nil {
		return Entry{Name: name, Kind: EntryWorking, Author: m[1]}, true
	}
	if m := n.checkpoint.FindStringSubmatch(name); m != nil {
		return Entry{Name: name, Kind: EntryCheckpoint, Author: m[1]}, true
	}
	return Entry{}, false
}

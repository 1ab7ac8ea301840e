package merge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rotaworks/schedsync/internal/schema"
)

// ConflictKind classifies a conflict.
type ConflictKind string

const (
	UpdateUpdate ConflictKind = "update/update"
	DeleteUpdate ConflictKind = "delete/update"
	InsertInsert ConflictKind = "insert/insert"
)

// Conflict is one row both sides changed incompatibly.
type Conflict struct {
	Kind   ConflictKind `json:"kind"`
	Table  string       `json:"table"`
	SyncID int64        `json:"sync_id"`

	// Base, RowA and RowB are full rows; nil means the row does not exist
	// in that version.
	Base *schema.Row `json:"-"`
	RowA *schema.Row `json:"-"`
	RowB *schema.Row `json:"-"`

	ModifiedByA string `json:"modified_by_a"`
	ModifiedByB string `json:"modified_by_b"`

	// Fields lists the non-bookkeeping fields whose values differ between
	// A and B.
	Fields      []string `json:"fields"`
	Description string   `json:"description"`
}

// Key identifies a conflicted row.
type Key struct {
	Table  string
	SyncID int64
}

func (k Key) String() string { return fmt.Sprintf("%s/%d", k.Table, k.SyncID) }

// Key returns the conflict's row key.
func (c *Conflict) Key() Key { return Key{Table: c.Table, SyncID: c.SyncID} }

// Choice selects which version of a conflicted row survives.
type Choice string

const (
	ChoiceBase Choice = "base"
	ChoiceA    Choice = "a"
	ChoiceB    Choice = "b"
	ChoiceBoth Choice = "both"
)

// Valid reports whether c is a known choice.
func (c Choice) Valid() bool {
	switch c {
	case ChoiceBase, ChoiceA, ChoiceB, ChoiceBoth:
		return true
	default:
		return false
	}
}

// ParseChoice converts user input to a Choice.
func ParseChoice(s string) (Choice, error) {
	c := Choice(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidChoice, s)
	}
	return c, nil
}

// Resolution is the caller's decision for one conflict.
type Resolution struct {
	Table  string `json:"table"`
	SyncID int64  `json:"sync_id"`
	Choice Choice `json:"choice"`
}

// Key returns the resolution's row key.
func (r Resolution) Key() Key { return Key{Table: r.Table, SyncID: r.SyncID} }

// Sentinel errors for conflict resolution.
var (
	// ErrUnresolvedConflict is matched when a conflict has no resolution.
	//
	//	var ue *merge.UnresolvedError
	//	if errors.As(err, &ue) {
	//	    // ue.Missing lists the rows still waiting for a choice
	//	}
	ErrUnresolvedConflict = errors.New("unresolved conflict")

	// ErrInvalidChoice is returned for unknown choices and for "both"
	// outside insert/insert conflicts.
	ErrInvalidChoice = errors.New("invalid resolution choice")
)

// UnresolvedError lists the conflicts that lack a resolution.
type UnresolvedError struct {
	Missing []Key
}

func (e *UnresolvedError) Error() string {
	keys := make([]string, len(e.Missing))
	for i, k := range e.Missing {
		keys[i] = k.String()
	}
	return fmt.Sprintf("%d unresolved conflict(s): %s", len(e.Missing), strings.Join(keys, ", "))
}

// Is makes UnresolvedError match ErrUnresolvedConflict.
func (e *UnresolvedError) Is(target error) bool { return target == ErrUnresolvedConflict }

package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Op is the kind of mutation a Change records.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Valid reports whether op is one of the known operations.
func (op Op) Valid() bool {
	switch op {
	case OpInsert, OpUpdate, OpDelete:
		return true
	default:
		return false
	}
}

// ChangeFileVersion is the format version written by this package.
const ChangeFileVersion = 1

// Change is one recorded mutation. Changes are immutable once written.
type Change struct {
	Table     string    `json:"table"`
	SyncID    int64     `json:"sync_id"`
	Op        Op        `json:"op"`
	Field     string    `json:"field,omitempty"`
	OldValue  Value     `json:"old_value"`
	NewValue  Value     `json:"new_value"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// Validate checks if the Change has valid field values.
func (c *Change) Validate() error {
	if c.Table == "" {
		return fmt.Errorf("table is required")
	}
	if !c.Op.Valid() {
		return fmt.Errorf("invalid op %q", c.Op)
	}
	if c.Op == OpUpdate && c.Field == "" {
		return fmt.Errorf("update of %s/%d has no field", c.Table, c.SyncID)
	}
	if c.Op != OpUpdate && c.Field != "" {
		return fmt.Errorf("%s of %s/%d must not name a field", c.Op, c.Table, c.SyncID)
	}
	if c.Author == "" {
		return fmt.Errorf("author is required")
	}
	if c.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// Less orders changes by timestamp, then author, then sequence.
func (c *Change) Less(o *Change) bool {
	if !c.Timestamp.Equal(o.Timestamp) {
		return c.Timestamp.Before(o.Timestamp)
	}
	if c.Author != o.Author {
		return c.Author < o.Author
	}
	return c.Seq < o.Seq
}

// SortChanges sorts changes into replay order. The sort is stable.
func SortChanges(changes []Change) {
	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].Less(&changes[j])
	})
}

// ChangeFile is an immutable batch of changes written by one author per save.
type ChangeFile struct {
	Version   int       `json:"version"`
	BatchID   string    `json:"batch_id"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	Changes   []Change  `json:"changes"`
}

// Validate checks the batch header and every change it carries.
func (f *ChangeFile) Validate() error {
	if f.Version < 1 || f.Version > ChangeFileVersion {
		return fmt.Errorf("unsupported change file version %d", f.Version)
	}
	if f.Author == "" {
		return fmt.Errorf("author is required")
	}
	if f.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	for i := range f.Changes {
		c := &f.Changes[i]
		if err := c.Validate(); err != nil {
			return fmt.Errorf("change %d: %w", i, err)
		}
		if c.Author != f.Author {
			return fmt.Errorf("change %d: author %s does not match batch author %s", i, c.Author, f.Author)
		}
	}
	return nil
}

// Marshal encodes the change file as indented JSON.
func (f *ChangeFile) Marshal() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("cannot write invalid change file: %w", err)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change file: %w", err)
	}
	return data, nil
}

// ParseChangeFile decodes and validates a change file.
func ParseChangeFile(data []byte) (*ChangeFile, error) {
	var f ChangeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse change file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid change file: %w", err)
	}
	return &f, nil
}

package schema

import (
	"fmt"
	"sort"
)

// Field describes one column of a tracked table.
type Field struct {
	Name string
	Kind Kind

	// Bookkeeping marks metadata columns (last-modified stamps and the like)
	// that are carried along but never compared.
	Bookkeeping bool
}

// TableSchema is the closed set of typed fields of one tracked table.
// The identity column is not listed among the fields.
type TableSchema struct {
	Name   string
	Fields []Field

	index map[string]int
}

// NewTableSchema builds a table schema and validates field names.
func NewTableSchema(name string, fields ...Field) (*TableSchema, error) {
	if name == "" {
		return nil, fmt.Errorf("table name is required")
	}
	t := &TableSchema{Name: name, Fields: fields, index: make(map[string]int, len(fields))}
	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("table %s: field %d has no name", name, i)
		}
		if _, dup := t.index[f.Name]; dup {
			return nil, fmt.Errorf("table %s: duplicate field %s", name, f.Name)
		}
		t.index[f.Name] = i
	}
	return t, nil
}

// Field looks up a field by name.
func (t *TableSchema) Field(name string) (Field, bool) {
	i, ok := t.index[name]
	if !ok {
		return Field{}, false
	}
	return t.Fields[i], true
}

// Accepts reports whether v may be stored in the named field.
// Null is accepted by every field.
func (t *TableSchema) Accepts(field string, v Value) error {
	f, ok := t.Field(field)
	if !ok {
		return fmt.Errorf("table %s has no field %s", t.Name, field)
	}
	if v.IsNull() || v.Kind() == f.Kind {
		return nil
	}
	return fmt.Errorf("field %s.%s holds %s, got %s", t.Name, field, f.Kind, v.Kind())
}

// ContentEqual compares two rows on every non-bookkeeping field.
// A nil row only equals another nil row.
func (t *TableSchema) ContentEqual(a, b *Row) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	for _, f := range t.Fields {
		if f.Bookkeeping {
			continue
		}
		if !a.Get(f.Name).Equal(b.Get(f.Name)) {
			return false
		}
	}
	return true
}

// DifferingFields lists the non-bookkeeping fields whose values differ
// between a and b, in declaration order.
func (t *TableSchema) DifferingFields(a, b *Row) []string {
	var out []string
	for _, f := range t.Fields {
		if f.Bookkeeping {
			continue
		}
		if !a.Get(f.Name).Equal(b.Get(f.Name)) {
			out = append(out, f.Name)
		}
	}
	return out
}

// ContentKey appends the canonical encoding of a row's content fields.
func (t *TableSchema) ContentKey(buf []byte, r *Row) []byte {
	for _, f := range t.Fields {
		if f.Bookkeeping {
			continue
		}
		buf = append(buf, f.Name...)
		buf = append(buf, '=')
		buf = r.Get(f.Name).AppendBinary(buf)
	}
	return buf
}

// Schema is the ordered set of tracked tables.
type Schema struct {
	Tables []*TableSchema
}

// Table looks up a table by name.
func (s *Schema) Table(name string) (*TableSchema, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// Row is one record of a tracked table.
type Row struct {
	SyncID int64
	Values map[string]Value
}

// NewRow returns a row with no values set.
func NewRow(id int64) *Row {
	return &Row{SyncID: id, Values: make(map[string]Value)}
}

// Get returns the value of a field, null when unset.
// Calling Get on a nil row returns null.
func (r *Row) Get(field string) Value {
	if r == nil {
		return Null()
	}
	return r.Values[field]
}

// Set assigns a field value.
func (r *Row) Set(field string, v Value) {
	if r.Values == nil {
		r.Values = make(map[string]Value)
	}
	r.Values[field] = v
}

// Clone returns a deep copy of the row.
func (r *Row) Clone() *Row {
	if r == nil {
		return nil
	}
	c := &Row{SyncID: r.SyncID, Values: make(map[string]Value, len(r.Values))}
	for k, v := range r.Values {
		c.Values[k] = v
	}
	return c
}

// Dataset holds the rows of every tracked table, keyed by table and sync id.
type Dataset struct {
	tables map[string]map[int64]*Row
}

// NewDataset returns an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{tables: make(map[string]map[int64]*Row)}
}

// Row returns the row with the given id, or nil.
func (d *Dataset) Row(table string, id int64) *Row {
	return d.tables[table][id]
}

// Put stores a row, replacing any row with the same id.
func (d *Dataset) Put(table string, r *Row) {
	rows, ok := d.tables[table]
	if !ok {
		rows = make(map[int64]*Row)
		d.tables[table] = rows
	}
	rows[r.SyncID] = r
}

// Delete removes a row. Deleting a missing row is a no-op.
func (d *Dataset) Delete(table string, id int64) {
	delete(d.tables[table], id)
}

// IDs returns the sync ids present in a table, ascending.
func (d *Dataset) IDs(table string) []int64 {
	rows := d.tables[table]
	ids := make([]int64, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of rows in a table.
func (d *Dataset) Len(table string) int {
	return len(d.tables[table])
}

// MaxID returns the largest sync id in a table, or 0 when it is empty.
func (d *Dataset) MaxID(table string) int64 {
	var max int64
	for id := range d.tables[table] {
		if id > max {
			max = id
		}
	}
	return max
}

// Clone returns a deep copy of the dataset.
func (d *Dataset) Clone() *Dataset {
	c := NewDataset()
	for name, rows := range d.tables {
		cr := make(map[int64]*Row, len(rows))
		for id, r := range rows {
			cr[id] = r.Clone()
		}
		c.tables[name] = cr
	}
	return c
}

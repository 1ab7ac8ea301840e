package schema

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shiftsTable(t *testing.T) *TableSchema {
	t.Helper()

	ts, err := NewTableSchema("shifts",
		Field{Name: "name", Kind: KindText},
		Field{Name: "start_time", Kind: KindText},
		Field{Name: "end_time", Kind: KindText},
		Field{Name: "headcount", Kind: KindNumber},
		Field{Name: "updated_at", Kind: KindText, Bookkeeping: true},
	)
	require.NoError(t, err)
	return ts
}

func TestValue_Equal(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"null equals null", Null(), Null(), true},
		{"zero value is null", Value{}, Null(), true},
		{"same text", Text("a"), Text("a"), true},
		{"different text", Text("a"), Text("b"), false},
		{"text vs number", Text("1"), Number(1), false},
		{"int and float", Int(3), Number(3.0), true},
		{"bools", Bool(true), Bool(false), false},
		{"empty text is not null", Text(""), Null(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
		})
	}
}

func TestValue_JSON(t *testing.T) {
	values := []Value{Null(), Text("09:00"), Number(2.5), Int(42), Bool(true)}

	for _, v := range values {
		data, err := json.Marshal(v)
		require.NoError(t, err)

		var got Value
		require.NoError(t, json.Unmarshal(data, &got))
		assert.True(t, v.Equal(got), "round trip of %s gave %s", v, got)
	}

	var v Value
	assert.Error(t, json.Unmarshal([]byte(`[1]`), &v))
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &v))
}

func TestValue_AsInt(t *testing.T) {
	i, ok := Int(7).AsInt()
	assert.True(t, ok)
	assert.Equal(t, int64(7), i)

	_, ok = Number(7.5).AsInt()
	assert.False(t, ok)

	_, ok = Text("7").AsInt()
	assert.False(t, ok)
}

func TestTableSchema_Duplicates(t *testing.T) {
	_, err := NewTableSchema("t", Field{Name: "a"}, Field{Name: "a"})
	assert.Error(t, err)

	_, err = NewTableSchema("", Field{Name: "a"})
	assert.Error(t, err)
}

func TestTableSchema_Accepts(t *testing.T) {
	ts := shiftsTable(t)

	assert.NoError(t, ts.Accepts("name", Text("x")))
	assert.NoError(t, ts.Accepts("headcount", Null()))
	assert.Error(t, ts.Accepts("headcount", Text("3")))
	assert.Error(t, ts.Accepts("missing", Text("3")))
}

func TestTableSchema_ContentEqualIgnoresBookkeeping(t *testing.T) {
	ts := shiftsTable(t)

	a := NewRow(1)
	a.Set("name", Text("Morning"))
	a.Set("updated_at", Text("2026-10-18"))

	b := a.Clone()
	b.Set("updated_at", Text("2026-10-19"))

	assert.True(t, ts.ContentEqual(a, b))
	assert.Empty(t, ts.DifferingFields(a, b))

	b.Set("name", Text("AM Shift"))
	assert.False(t, ts.ContentEqual(a, b))
	assert.Equal(t, []string{"name"}, ts.DifferingFields(a, b))

	assert.True(t, ts.ContentEqual(nil, nil))
	assert.False(t, ts.ContentEqual(a, nil))
}

func TestDataset(t *testing.T) {
	ds := NewDataset()
	for _, id := range []int64{5, 1, 3} {
		ds.Put("shifts", NewRow(id))
	}

	assert.Equal(t, []int64{1, 3, 5}, ds.IDs("shifts"))
	assert.Equal(t, int64(5), ds.MaxID("shifts"))
	assert.Equal(t, 3, ds.Len("shifts"))
	assert.Equal(t, int64(0), ds.MaxID("people"))

	clone := ds.Clone()
	clone.Delete("shifts", 3)
	clone.Row("shifts", 1).Set("name", Text("x"))

	assert.Equal(t, 3, ds.Len("shifts"))
	assert.True(t, ds.Row("shifts", 1).Get("name").IsNull())
}

func TestChangeFile_Validate(t *testing.T) {
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	valid := Change{Table: "shifts", SyncID: 5, Op: OpUpdate, Field: "name",
		NewValue: Text("AM Shift"), Author: "alice", Timestamp: now}

	tests := []struct {
		name   string
		mutate func(f *ChangeFile)
		errMsg string
	}{
		{name: "valid", mutate: func(f *ChangeFile) {}},
		{name: "bad version", mutate: func(f *ChangeFile) { f.Version = 9 }, errMsg: "unsupported"},
		{name: "missing author", mutate: func(f *ChangeFile) { f.Author = "" }, errMsg: "author is required"},
		{name: "update without field", mutate: func(f *ChangeFile) { f.Changes[0].Field = "" }, errMsg: "has no field"},
		{name: "delete with field", mutate: func(f *ChangeFile) { f.Changes[0].Op = OpDelete }, errMsg: "must not name a field"},
		{name: "foreign author", mutate: func(f *ChangeFile) { f.Changes[0].Author = "bob" }, errMsg: "does not match"},
		{name: "unknown op", mutate: func(f *ChangeFile) { f.Changes[0].Op = "upsert" }, errMsg: "invalid op"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &ChangeFile{Version: 1, Author: "alice", CreatedAt: now, Changes: []Change{valid}}
			tt.mutate(f)

			err := f.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.errMsg), "got %v", err)
		})
	}
}

func TestParseChangeFile(t *testing.T) {
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	f := &ChangeFile{
		Version:   1,
		BatchID:   "batch-1",
		Author:    "alice",
		CreatedAt: now,
		Changes: []Change{
			{Table: "shifts", SyncID: 42, Op: OpInsert, Author: "alice", Timestamp: now, Seq: 1},
			{Table: "shifts", SyncID: 42, Op: OpUpdate, Field: "name", NewValue: Text("Night"), Author: "alice", Timestamp: now, Seq: 2},
		},
	}

	data, err := f.Marshal()
	require.NoError(t, err)

	got, err := ParseChangeFile(data)
	require.NoError(t, err)
	assert.Equal(t, "batch-1", got.BatchID)
	require.Len(t, got.Changes, 2)
	assert.True(t, got.Changes[1].NewValue.Equal(Text("Night")))
	assert.True(t, got.Changes[0].OldValue.IsNull())

	_, err = ParseChangeFile([]byte("{not json"))
	assert.Error(t, err)
}

func TestSortChanges(t *testing.T) {
	t0 := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	changes := []Change{
		{Author: "bob", Timestamp: t0, Seq: 1},
		{Author: "alice", Timestamp: t0.Add(time.Second), Seq: 1},
		{Author: "alice", Timestamp: t0, Seq: 2},
		{Author: "alice", Timestamp: t0, Seq: 1},
	}

	SortChanges(changes)

	got := make([]string, len(changes))
	for i, c := range changes {
		got[i] = c.Author + "/" + c.Timestamp.Format("05") + "/" + string(rune('0'+c.Seq))
	}
	assert.Equal(t, []string{"alice/00/1", "alice/00/2", "bob/00/1", "alice/01/1"}, got)
}

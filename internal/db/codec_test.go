package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rotaworks/schedsync/internal/schema"
)

const testDDL = `
CREATE TABLE shifts (
	sync_id    INTEGER PRIMARY KEY,
	name       TEXT,
	start_time TEXT,
	hours      REAL,
	overnight  BOOLEAN,
	updated_at TEXT,
	updated_by TEXT
);
CREATE TABLE settings (key TEXT PRIMARY KEY, value TEXT);
CREATE TABLE staff (
	sync_id INTEGER PRIMARY KEY,
	name    TEXT NOT NULL,
	grade   INTEGER
);
CREATE INDEX idx_staff_name ON staff(name);
INSERT INTO shifts VALUES (1, 'Early', '07:00', 8, 0, '2026-10-01', 'alice');
INSERT INTO shifts VALUES (2, 'Night', '22:00', 9.5, 1, NULL, NULL);
INSERT INTO staff VALUES (10, 'Ada', 3);
INSERT INTO settings VALUES ('theme', 'dark');
`

func newSnapshot(t *testing.T) []byte {
	t.Helper()
	data, err := Create(context.Background(), testDDL)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	return data
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		decl string
		want schema.Kind
	}{
		{"INTEGER", schema.KindNumber},
		{"int", schema.KindNumber},
		{"REAL", schema.KindNumber},
		{"DOUBLE PRECISION", schema.KindNumber},
		{"NUMERIC(10,2)", schema.KindNumber},
		{"DECIMAL", schema.KindNumber},
		{"BOOLEAN", schema.KindBool},
		{"TEXT", schema.KindText},
		{"VARCHAR(20)", schema.KindText},
		{"DATETIME", schema.KindText},
		{"", schema.KindText},
	}

	for _, tt := range tests {
		t.Run(tt.decl, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.decl))
		})
	}
}

func TestDecode(t *testing.T) {
	codec := NewCodec(Options{})
	sch, ds, err := codec.Decode(context.Background(), newSnapshot(t))
	require.NoError(t, err)

	require.Len(t, sch.Tables, 2, "settings has no sync_id and is not tracked")
	assert.Equal(t, "shifts", sch.Tables[0].Name)
	assert.Equal(t, "staff", sch.Tables[1].Name)

	shifts := sch.Tables[0]
	f, ok := shifts.Field("hours")
	require.True(t, ok)
	assert.Equal(t, schema.KindNumber, f.Kind)
	f, ok = shifts.Field("updated_by")
	require.True(t, ok)
	assert.True(t, f.Bookkeeping)
	_, ok = shifts.Field("sync_id")
	assert.False(t, ok)

	assert.Equal(t, []int64{1, 2}, ds.IDs("shifts"))
	night := ds.Row("shifts", 2)
	require.NotNil(t, night)
	assert.True(t, night.Get("name").Equal(schema.Text("Night")))
	assert.True(t, night.Get("hours").Equal(schema.Number(9.5)))
	assert.True(t, night.Get("overnight").Equal(schema.Bool(true)))
	assert.True(t, night.Get("updated_at").IsNull())

	early := ds.Row("shifts", 1)
	assert.True(t, early.Get("overnight").Equal(schema.Bool(false)))
	assert.True(t, ds.Row("staff", 10).Get("grade").Equal(schema.Int(3)))
}

func TestDecode_Empty(t *testing.T) {
	_, _, err := NewCodec(Options{}).Decode(context.Background(), nil)
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	codec := NewCodec(Options{})
	base := newSnapshot(t)

	sch, ds, err := codec.Decode(ctx, base)
	require.NoError(t, err)

	// edit, delete, insert
	ds.Row("shifts", 1).Set("start_time", schema.Text("06:30"))
	ds.Delete("shifts", 2)
	fresh := schema.NewRow(3)
	fresh.Set("name", schema.Text("Late"))
	fresh.Set("hours", schema.Int(7))
	fresh.Set("overnight", schema.Bool(false))
	ds.Put("shifts", fresh)

	out, err := codec.Apply(ctx, base, sch, ds)
	require.NoError(t, err)

	sch2, ds2, err := codec.Decode(ctx, out)
	require.NoError(t, err)
	require.Len(t, sch2.Tables, 2)

	assert.Equal(t, []int64{1, 3}, ds2.IDs("shifts"))
	assert.True(t, ds2.Row("shifts", 1).Get("start_time").Equal(schema.Text("06:30")))
	assert.True(t, ds2.Row("shifts", 3).Get("hours").Equal(schema.Int(7)))
	assert.True(t, ds2.Row("shifts", 3).Get("start_time").IsNull())
	assert.Equal(t, []int64{10}, ds2.IDs("staff"))

	// untracked tables and indexes survive
	path := filepath.Join(t.TempDir(), "out.db")
	require.NoError(t, os.WriteFile(path, out, 0600))
	conn, err := Open(path)
	require.NoError(t, err)
	defer conn.Close()

	var value string
	require.NoError(t, conn.QueryRow(`SELECT value FROM settings WHERE key = 'theme'`).Scan(&value))
	assert.Equal(t, "dark", value)

	var n int
	require.NoError(t, conn.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_staff_name'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestCreate_InvalidDDL(t *testing.T) {
	_, err := Create(context.Background(), "CREATE TABLE (")
	assert.Error(t, err)

	_, err = Create(context.Background(), "   ")
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	conn, err := Open(path)
	require.NoError(t, err)
	defer conn.Close()

	var mode string
	require.NoError(t, conn.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "delete", mode)
}

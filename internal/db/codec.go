package db

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotaworks/schedsync/internal/schema"
)

// Codec decodes snapshot bytes into datasets and encodes datasets back
// onto a snapshot.
type Codec struct {
	opts Options
}

// NewCodec returns a codec using opts; zero fields take the defaults.
func NewCodec(opts Options) *Codec {
	return &Codec{opts: opts.withDefaults()}
}

// IDColumn returns the identity column name.
func (c *Codec) IDColumn() string { return c.opts.IDColumn }

// Decode reads every tracked table of a snapshot.
func (c *Codec) Decode(ctx context.Context, data []byte) (*schema.Schema, *schema.Dataset, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("snapshot is empty")
	}

	var (
		sch = &schema.Schema{}
		ds  = schema.NewDataset()
	)
	_, err := withScratch(ctx, data, func(conn *sql.DB) error {
		tables, err := c.tableNames(ctx, conn)
		if err != nil {
			return err
		}
		for _, name := range tables {
			ts, err := c.tableSchema(ctx, conn, name)
			if err != nil {
				return err
			}
			if ts == nil {
				continue // no identity column, not tracked
			}
			if err := c.loadRows(ctx, conn, ts, ds); err != nil {
				return err
			}
			sch.Tables = append(sch.Tables, ts)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return sch, ds, nil
}

// Apply rewrites the tracked tables of the base snapshot so they hold
// exactly the rows of ds, and returns the new snapshot bytes. Indexes,
// triggers and untracked tables of the base are left as they are.
func (c *Codec) Apply(ctx context.Context, base []byte, sch *schema.Schema, ds *schema.Dataset) ([]byte, error) {
	if len(base) == 0 {
		return nil, fmt.Errorf("base snapshot is empty")
	}
	return withScratch(ctx, base, func(conn *sql.DB) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for _, ts := range sch.Tables {
			if err := c.applyTable(ctx, tx, ts, ds); err != nil {
				return fmt.Errorf("failed to write table %s: %w", ts.Name, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}

func (c *Codec) tableNames(ctx context.Context, conn *sql.DB) ([]string, error) {
	// sqlite_master rowid follows creation order
	rows, err := conn.QueryContext(ctx,
		`SELECT name FROM sqlite_master
		 WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		 ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// tableSchema returns nil when the table has no identity column.
func (c *Codec) tableSchema(ctx context.Context, conn *sql.DB, table string) (*schema.TableSchema, error) {
	rows, err := conn.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	var (
		fields  []schema.Field
		tracked bool
	)
	for rows.Next() {
		var (
			cid      int
			name     string
			declType string
			notNull  int
			dflt     sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &name, &declType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		if strings.EqualFold(name, c.opts.IDColumn) {
			tracked = true
			continue
		}
		fields = append(fields, schema.Field{
			Name:        name,
			Kind:        KindOf(declType),
			Bookkeeping: c.opts.isBookkeeping(name),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !tracked {
		return nil, nil
	}
	return schema.NewTableSchema(table, fields...)
}

func (c *Codec) loadRows(ctx context.Context, conn *sql.DB, ts *schema.TableSchema, ds *schema.Dataset) error {
	cols := make([]string, 0, len(ts.Fields)+1)
	cols = append(cols, quoteIdent(c.opts.IDColumn))
	for _, f := range ts.Fields {
		cols = append(cols, quoteIdent(f.Name))
	}

	rows, err := conn.QueryContext(ctx,
		"SELECT "+strings.Join(cols, ", ")+" FROM "+quoteIdent(ts.Name))
	if err != nil {
		return fmt.Errorf("failed to read table %s: %w", ts.Name, err)
	}
	defer rows.Close()

	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("failed to scan row of %s: %w", ts.Name, err)
		}

		id, err := toID(raw[0])
		if err != nil {
			return fmt.Errorf("table %s: %w", ts.Name, err)
		}
		if ds.Row(ts.Name, id) != nil {
			return fmt.Errorf("table %s: duplicate %s %d", ts.Name, c.opts.IDColumn, id)
		}

		row := schema.NewRow(id)
		for i, f := range ts.Fields {
			v, err := toValue(f.Kind, raw[i+1])
			if err != nil {
				return fmt.Errorf("table %s row %d field %s: %w", ts.Name, id, f.Name, err)
			}
			row.Set(f.Name, v)
		}
		ds.Put(ts.Name, row)
	}
	return rows.Err()
}

func (c *Codec) applyTable(ctx context.Context, tx *sql.Tx, ts *schema.TableSchema, ds *schema.Dataset) error {
	idCol := quoteIdent(c.opts.IDColumn)
	table := quoteIdent(ts.Name)

	existing, err := existingIDs(ctx, tx, table, idCol)
	if err != nil {
		return err
	}

	for _, id := range existing {
		if ds.Row(ts.Name, id) != nil {
			continue
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE "+idCol+" = ?", id); err != nil {
			return fmt.Errorf("failed to delete row %d: %w", id, err)
		}
	}

	cols := make([]string, len(ts.Fields))
	sets := make([]string, len(ts.Fields))
	for i, f := range ts.Fields {
		cols[i] = quoteIdent(f.Name)
		sets[i] = cols[i] + " = ?"
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)+1), ", ")

	insertSQL := "INSERT INTO " + table + " (" + strings.Join(append([]string{idCol}, cols...), ", ") +
		") VALUES (" + placeholders + ")"
	var updateSQL string
	if len(sets) > 0 {
		updateSQL = "UPDATE " + table + " SET " + strings.Join(sets, ", ") + " WHERE " + idCol + " = ?"
	}

	present := make(map[int64]bool, len(existing))
	for _, id := range existing {
		present[id] = true
	}

	for _, id := range ds.IDs(ts.Name) {
		row := ds.Row(ts.Name, id)
		args := make([]any, 0, len(ts.Fields)+1)
		for _, f := range ts.Fields {
			args = append(args, toArg(row.Get(f.Name)))
		}

		if present[id] {
			if updateSQL == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, updateSQL, append(args, id)...); err != nil {
				return fmt.Errorf("failed to update row %d: %w", id, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, insertSQL, append([]any{id}, args...)...); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", id, err)
		}
	}
	return nil
}

func existingIDs(ctx context.Context, tx *sql.Tx, table, idCol string) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, "SELECT "+idCol+" FROM "+table)
	if err != nil {
		return nil, fmt.Errorf("failed to read ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		id, err := toID(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// KindOf maps a declared SQLite column type onto a field kind, following
// SQLite's affinity rules with booleans split out.
func KindOf(declType string) schema.Kind {
	t := strings.ToUpper(declType)
	switch {
	case strings.Contains(t, "BOOL"):
		return schema.KindBool
	case strings.Contains(t, "INT"),
		strings.Contains(t, "REAL"),
		strings.Contains(t, "FLOA"),
		strings.Contains(t, "DOUB"),
		strings.Contains(t, "NUM"),
		strings.Contains(t, "DEC"):
		return schema.KindNumber
	default:
		return schema.KindText
	}
}

func toID(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("non-integral id %v", v)
		}
		return int64(v), nil
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid id %q", v)
		}
		return id, nil
	case nil:
		return 0, fmt.Errorf("row without id")
	default:
		return 0, fmt.Errorf("unsupported id type %T", raw)
	}
}

func toValue(kind schema.Kind, raw any) (schema.Value, error) {
	if raw == nil {
		return schema.Null(), nil
	}

	switch kind {
	case schema.KindNumber:
		switch v := raw.(type) {
		case int64:
			return schema.Int(v), nil
		case float64:
			return schema.Number(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return schema.Value{}, fmt.Errorf("non-numeric value %q", v)
			}
			return schema.Number(f), nil
		}
	case schema.KindBool:
		switch v := raw.(type) {
		case bool:
			return schema.Bool(v), nil
		case int64:
			return schema.Bool(v != 0), nil
		case float64:
			return schema.Bool(v != 0), nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return schema.Value{}, fmt.Errorf("non-boolean value %q", v)
			}
			return schema.Bool(b), nil
		}
	default:
		switch v := raw.(type) {
		case string:
			return schema.Text(v), nil
		case []byte:
			return schema.Text(string(v)), nil
		case bool:
			return schema.Text(strconv.FormatBool(v)), nil
		case int64:
			return schema.Text(strconv.FormatInt(v, 10)), nil
		case float64:
			return schema.Text(strconv.FormatFloat(v, 'f', -1, 64)), nil
		case time.Time:
			return schema.Text(v.Format(time.RFC3339Nano)), nil
		}
	}
	return schema.Value{}, fmt.Errorf("unsupported %s value of type %T", kind, raw)
}

func toArg(v schema.Value) any {
	switch v.Kind() {
	case schema.KindText:
		s, _ := v.AsText()
		return s
	case schema.KindNumber:
		if i, ok := v.AsInt(); ok {
			return i
		}
		f, _ := v.AsNumber()
		return f
	case schema.KindBool:
		if b, _ := v.AsBool(); b {
			return int64(1)
		}
		return int64(0)
	default:
		return nil
	}
}

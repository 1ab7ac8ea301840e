// Package db converts between snapshot files (embedded SQLite databases)
// and the in-memory datasets the merge engine works on.
//
// The base snapshot and every working copy are ordinary SQLite files. A
// table is tracked when it has the identity column (sync_id by default);
// the remaining columns become the table's typed fields, with the declared
// column type deciding the field kind. Tables are reported in the order
// they were created, which is the order conflicts are grouped in.
//
// Snapshot bytes never get opened in place on the shared folder. Each call
// copies the bytes into a private temporary file, works on that, and (for
// Apply) returns the new file contents for the caller to publish atomically.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Options controls how snapshot tables map onto schema tables.
type Options struct {
	// IDColumn is the stable identity column. Default: sync_id.
	IDColumn string

	// Bookkeeping lists columns excluded from content comparisons.
	// Default: updated_at, updated_by.
	Bookkeeping []string
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		IDColumn:    "sync_id",
		Bookkeeping: []string{"updated_at", "updated_by"},
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.IDColumn == "" {
		o.IDColumn = d.IDColumn
	}
	if o.Bookkeeping == nil {
		o.Bookkeeping = d.Bookkeeping
	}
	return o
}

func (o Options) isBookkeeping(col string) bool {
	for _, b := range o.Bookkeeping {
		if strings.EqualFold(b, col) {
			return true
		}
	}
	return false
}

// Open opens a SQLite database file for exclusive use by this process.
//
// The caller MUST call Close() when done. Rollback journaling is used
// instead of WAL so that the file is self-contained once closed.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection keeps pragmas and transactions on the same handle
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=DELETE",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return conn, nil
}

// withScratch copies data into a private temporary database, runs fn, and
// returns the file contents afterwards.
func withScratch(ctx context.Context, data []byte, fn func(conn *sql.DB) error) ([]byte, error) {
	dir, err := os.MkdirTemp("", "schedsync-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "snapshot.db")
	if len(data) > 0 {
		if err := os.WriteFile(path, data, 0600); err != nil {
			return nil, fmt.Errorf("failed to write scratch database: %w", err)
		}
	}

	conn, err := Open(path)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := fn(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := conn.Close(); err != nil {
		return nil, fmt.Errorf("failed to close scratch database: %w", err)
	}

	out, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scratch database: %w", err)
	}
	return out, nil
}

// Create builds a new snapshot by executing the given DDL statements
// against an empty database.
func Create(ctx context.Context, ddl string) ([]byte, error) {
	if strings.TrimSpace(ddl) == "" {
		return nil, fmt.Errorf("schema script is empty")
	}
	return withScratch(ctx, nil, func(conn *sql.DB) error {
		if _, err := conn.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to apply schema script: %w", err)
		}
		return nil
	})
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

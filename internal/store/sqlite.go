package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	updated_at TEXT NOT NULL
)`

var namedParam = regexp.MustCompile(`[:@$]([A-Za-z_][A-Za-z0-9_]*)`)

// SQLiteStore is a store backed by a SQLite database file.
type SQLiteStore struct {
	db  *sql.DB
	dsn string
}

// OpenSQLite opens (creating if needed) the database at dsn. ":memory:" and
// "file:" URIs are passed through unchanged.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases whole.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", sqliteSchema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("initialize sqlite %s: %w", dsn, err)
		}
	}
	return &SQLiteStore{db: db, dsn: dsn}, nil
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// Query runs SQL against the database. Named parameters (:name, @name,
// $name) present in the statement are bound from params; other params are
// ignored.
func (s *SQLiteStore) Query(ctx context.Context, query string, params map[string]any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, query, bindNamed(query, params)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sqlite columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite rows: %w", err)
	}
	if out == nil {
		out = []Row{}
	}
	return out, nil
}

// PutDocument implements DocumentWriter.
func (s *SQLiteStore) PutDocument(ctx context.Context, id, content string, metadata map[string]any) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO documents (id, content, metadata, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET content = excluded.content, metadata = excluded.metadata, updated_at = excluded.updated_at`,
		id, content, string(meta), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", id, err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func bindNamed(query string, params map[string]any) []any {
	if len(params) == 0 {
		return nil
	}
	used := make(map[string]bool)
	for _, m := range namedParam.FindAllStringSubmatch(query, -1) {
		used[m[1]] = true
	}
	names := make([]string, 0, len(used))
	for name := range used {
		if _, ok := params[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	args := make([]any, 0, len(names))
	for _, name := range names {
		args = append(args, sql.Named(name, params[name]))
	}
	return args
}

// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package duckschema introspects a DuckDB database, optionally exposing
// parquet or CSV files as views so file-based warehouses can be validated.
package duckschema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/cardinalhq/dsconfig/internal/schema"
)

// View exposes a file (or glob) as a named view.
type View struct {
	Name   string `mapstructure:"name"`
	Source string `mapstructure:"source"`
}

// Introspector lists tables and views of one DuckDB schema.
type Introspector struct {
	db     *sql.DB
	schema string
	owned  bool
}

var _ schema.Introspector = (*Introspector)(nil)

// New wraps an open DuckDB handle. The caller keeps ownership of db.
func New(db *sql.DB, schemaName string) *Introspector {
	if schemaName == "" {
		schemaName = "main"
	}
	return &Introspector{db: db, schema: schemaName}
}

// Settings tune the DuckDB engine. Zero values keep DuckDB's defaults.
type Settings struct {
	MemoryLimitMB int64
	Threads       int
	TempDirectory string
}

func (s Settings) statements() []string {
	var out []string
	if s.MemoryLimitMB > 0 {
		out = append(out, fmt.Sprintf("SET memory_limit='%dMB'", s.MemoryLimitMB))
	}
	if s.Threads > 0 {
		out = append(out, fmt.Sprintf("SET threads=%d", s.Threads))
	}
	if s.TempDirectory != "" {
		out = append(out, fmt.Sprintf("SET temp_directory=%s", quote(s.TempDirectory)))
	}
	return out
}

// Open opens the database at path ("" for in-memory) and creates the
// given views before returning.
func Open(ctx context.Context, path string, views ...View) (*Introspector, error) {
	return OpenWithSettings(ctx, path, Settings{}, views...)
}

// OpenWithSettings is Open with engine settings applied first.
func OpenWithSettings(ctx context.Context, path string, settings Settings, views ...View) (*Introspector, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %q: %w", path, err)
	}
	for _, stmt := range settings.statements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", stmt, err)
		}
	}
	for _, v := range views {
		stmt := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM %s", ident(v.Name), sourceExpr(v.Source))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create view %s: %w", v.Name, err)
		}
	}
	in := New(db, "main")
	in.owned = true
	return in, nil
}

// Close closes the handle if Open created it.
func (i *Introspector) Close() error {
	if i.owned {
		return i.db.Close()
	}
	return nil
}

func ident(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func sourceExpr(src string) string {
	quoted := quote(src)
	lower := strings.ToLower(src)
	switch {
	case strings.HasSuffix(lower, ".csv"), strings.HasSuffix(lower, ".csv.gz"):
		return "read_csv_auto(" + quoted + ")"
	default:
		return "read_parquet(" + quoted + ")"
	}
}

const columnsMatchingSQL = `
SELECT table_name, column_name, data_type, COALESCE(character_maximum_length, 0)
FROM information_schema.columns
WHERE table_schema = ?
  AND table_name ILIKE ? ESCAPE '\'
  AND column_name ILIKE ? ESCAPE '\'
ORDER BY table_name, ordinal_position
`

func (i *Introspector) ColumnsMatching(ctx context.Context, tablePattern, columnPattern string) ([]schema.Column, error) {
	rows, err := i.db.QueryContext(ctx, columnsMatchingSQL, i.schema, tablePattern, columnPattern)
	if err != nil {
		return nil, fmt.Errorf("query columns %s.%s: %w", tablePattern, columnPattern, err)
	}
	defer func() { _ = rows.Close() }()

	var cols []schema.Column
	for rows.Next() {
		var c schema.Column
		var maxLen int64
		if err := rows.Scan(&c.Table, &c.Name, &c.DataType, &maxLen); err != nil {
			return nil, err
		}
		c.MaxLength = int(maxLen)
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

const tablesMatchingSQL = `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = ?
  AND table_name ILIKE ? ESCAPE '\'
ORDER BY table_name
`

func (i *Introspector) TablesMatching(ctx context.Context, tablePattern string) ([]string, error) {
	rows, err := i.db.QueryContext(ctx, tablesMatchingSQL, i.schema, tablePattern)
	if err != nil {
		return nil, fmt.Errorf("query tables %s: %w", tablePattern, err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

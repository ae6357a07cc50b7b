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

// Package pgschema introspects a PostgreSQL warehouse through
// information_schema.
package pgschema

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cardinalhq/dsconfig/internal/schema"
)

// Querier is the part of a pgx pool or connection this package needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Introspector lists tables and columns in one Postgres schema.
type Introspector struct {
	db     Querier
	schema string
}

var _ schema.Introspector = (*Introspector)(nil)

// New returns an introspector over the named schema ("public" when empty).
func New(db Querier, schemaName string) *Introspector {
	if schemaName == "" {
		schemaName = "public"
	}
	return &Introspector{db: db, schema: schemaName}
}

const columnsMatchingSQL = `
SELECT table_name, column_name, data_type, COALESCE(character_maximum_length, 0)
FROM information_schema.columns
WHERE table_schema = $1
  AND table_name ILIKE $2
  AND column_name ILIKE $3
ORDER BY table_name, ordinal_position
`

func (i *Introspector) ColumnsMatching(ctx context.Context, tablePattern, columnPattern string) ([]schema.Column, error) {
	rows, err := i.db.Query(ctx, columnsMatchingSQL, i.schema, tablePattern, columnPattern)
	if err != nil {
		return nil, fmt.Errorf("query columns %s.%s: %w", tablePattern, columnPattern, err)
	}
	cols, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (schema.Column, error) {
		var c schema.Column
		var maxLen int32
		err := row.Scan(&c.Table, &c.Name, &c.DataType, &maxLen)
		c.MaxLength = int(maxLen)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan columns %s.%s: %w", tablePattern, columnPattern, err)
	}
	return cols, nil
}

const tablesMatchingSQL = `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1
  AND table_name ILIKE $2
ORDER BY table_name
`

func (i *Introspector) TablesMatching(ctx context.Context, tablePattern string) ([]string, error) {
	rows, err := i.db.Query(ctx, tablesMatchingSQL, i.schema, tablePattern)
	if err != nil {
		return nil, fmt.Errorf("query tables %s: %w", tablePattern, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan tables %s: %w", tablePattern, err)
	}
	return names, nil
}

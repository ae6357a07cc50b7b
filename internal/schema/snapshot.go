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

package schema

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Table is a table and its columns in ordinal order.
type Table struct {
	Name    string   `yaml:"name"`
	Columns []Column `yaml:"columns"`
}

// Snapshot is a fixed, in-memory schema. It is safe for concurrent use
// because it is never modified after construction.
type Snapshot struct {
	tables []Table
}

var _ Introspector = (*Snapshot)(nil)

// NewSnapshot returns a snapshot listing tables in the given order.
func NewSnapshot(tables ...Table) *Snapshot {
	s := &Snapshot{tables: make([]Table, len(tables))}
	for i, t := range tables {
		cols := make([]Column, len(t.Columns))
		for j, c := range t.Columns {
			c.Table = t.Name
			cols[j] = c
		}
		s.tables[i] = Table{Name: t.Name, Columns: cols}
	}
	return s
}

// Tables returns a copy of the snapshot's tables.
func (s *Snapshot) Tables() []Table {
	out := make([]Table, len(s.tables))
	for i, t := range s.tables {
		out[i] = Table{Name: t.Name, Columns: append([]Column(nil), t.Columns...)}
	}
	return out
}

func (s *Snapshot) ColumnsMatching(_ context.Context, tablePattern, columnPattern string) ([]Column, error) {
	var out []Column
	for _, t := range s.tables {
		if !Like(tablePattern, t.Name) {
			continue
		}
		for _, c := range t.Columns {
			if Like(columnPattern, c.Name) {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (s *Snapshot) TablesMatching(_ context.Context, tablePattern string) ([]string, error) {
	var out []string
	for _, t := range s.tables {
		if Like(tablePattern, t.Name) {
			out = append(out, t.Name)
		}
	}
	return out, nil
}

// Capture copies every table matching tablePattern out of a live
// introspector, so later validations run against a fixed schema.
func Capture(ctx context.Context, src Introspector, tablePattern string) (*Snapshot, error) {
	names, err := src.TablesMatching(ctx, tablePattern)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	tables := make([]Table, 0, len(names))
	for _, name := range names {
		cols, err := src.ColumnsMatching(ctx, EscapeLike(name), "%")
		if err != nil {
			return nil, fmt.Errorf("list columns of %s: %w", name, err)
		}
		tables = append(tables, Table{Name: name, Columns: cols})
	}
	return NewSnapshot(tables...), nil
}

type snapshotDocument struct {
	Tables []Table `yaml:"tables"`
}

// ReadSnapshot loads a snapshot written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	var doc snapshotDocument
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode schema snapshot: %w", err)
	}
	return NewSnapshot(doc.Tables...), nil
}

// WriteSnapshot renders s as YAML.
func WriteSnapshot(w io.Writer, s *Snapshot) error {
	doc := snapshotDocument{Tables: s.Tables()}
	for i := range doc.Tables {
		for j := range doc.Tables[i].Columns {
			doc.Tables[i].Columns[j].Table = ""
		}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode schema snapshot: %w", err)
	}
	return enc.Close()
}

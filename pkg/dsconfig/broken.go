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

package dsconfig

import (
	"fmt"
	"strings"
)

// BrokenFlags are the markers a schema validation pass leaves on a node.
// Container flags (Options, PushActions, Children) are cascaded from
// descendants so IsBroken never needs to walk the subtree.
type BrokenFlags struct {
	Field       bool
	Table       bool
	Options     bool
	PushActions bool
	Children    bool
	MainTables  bool
	PrimaryKeys bool
}

// Any reports whether any flag is set.
func (b BrokenFlags) Any() bool {
	return b.Field || b.Table || b.Options || b.PushActions || b.Children || b.MainTables || b.PrimaryKeys
}

// String renders the set flags in a fixed order, comma separated.
func (b BrokenFlags) String() string {
	var parts []string
	for _, f := range b.fields() {
		if *f.v {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, ",")
}

type brokenField struct {
	name string
	v    *bool
}

func (b *BrokenFlags) fields() []brokenField {
	return []brokenField{
		{"field", &b.Field},
		{"table", &b.Table},
		{"options", &b.Options},
		{"pushActions", &b.PushActions},
		{"children", &b.Children},
		{"mainTables", &b.MainTables},
		{"primaryKeys", &b.PrimaryKeys},
	}
}

// ParseBrokenFlags is the inverse of BrokenFlags.String.
func ParseBrokenFlags(s string) (BrokenFlags, error) {
	var b BrokenFlags
	if s == "" {
		return b, nil
	}
	fields := b.fields()
outer:
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		for _, f := range fields {
			if f.name == part {
				*f.v = true
				continue outer
			}
		}
		return BrokenFlags{}, fmt.Errorf("unknown broken flag %q", part)
	}
	return b, nil
}

// IsBroken reports whether this node or anything below it was flagged.
func (n *Node) IsBroken() bool {
	return n.Broken.Any()
}

// ClearBroken resets the flags on n and every node below it.
func (n *Node) ClearBroken() {
	for m := range n.All() {
		m.Broken = BrokenFlags{}
	}
}

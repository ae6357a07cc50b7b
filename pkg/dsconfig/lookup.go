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
	"context"
	"iter"
	"strings"
)

// All yields n and every descendant, depth first, in rank order.
func (n *Node) All() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		n.walk(yield)
	}
}

func (n *Node) walk(yield func(*Node) bool) bool {
	n.ensureLoaded(context.Background())
	if !yield(n) {
		return false
	}
	for _, c := range n.children {
		if !c.walk(yield) {
			return false
		}
	}
	return true
}

// AllDescriptionsOfType yields every node of the given kind below n in rank
// order. The sequence is evaluated lazily and may be ranged over repeatedly.
func (n *Node) AllDescriptionsOfType(kind Kind) iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		for d := range n.All() {
			if d.Kind == kind && !yield(d) {
				return
			}
		}
	}
}

// FindByName returns the first description or option below n whose internal
// name is name. A dotted name "x.y" that has no exact match is retried as
// "y", recursively, unless it ends in a dot.
func (n *Node) FindByName(name string) *Node {
	for d := range n.All() {
		if (d.Kind.IsDescription() || d.Kind == KindOption) && d.InternalName == name {
			return d
		}
	}
	if i := strings.IndexByte(name, '.'); i >= 0 && i < len(name)-1 && !strings.HasSuffix(name, ".") {
		return n.FindByName(name[i+1:])
	}
	return nil
}

// ContainsName reports whether FindByName would succeed.
func (n *Node) ContainsName(name string) bool {
	return n.FindByName(name) != nil
}

// FindByFieldAndTable returns the first description whose field and table
// constraint match, comparing fields case-insensitively.
func (n *Node) FindByFieldAndTable(field, table string) *Node {
	for d := range n.All() {
		if !d.Kind.IsDescription() && d.Kind != KindOption {
			continue
		}
		if strings.EqualFold(d.Field, field) && d.TableConstraint == table {
			return d
		}
	}
	return nil
}

// BrokenPaths lists the slash-separated internal-name paths of every node
// carrying a field or table flag.
func (n *Node) BrokenPaths() []string {
	var out []string
	var visit func(prefix string, m *Node)
	visit = func(prefix string, m *Node) {
		m.ensureLoaded(context.Background())
		path := m.InternalName
		if prefix != "" {
			path = prefix + "/" + m.InternalName
		}
		if m.Broken.Field || m.Broken.Table || m.Broken.MainTables || m.Broken.PrimaryKeys {
			out = append(out, path)
		}
		if !m.IsBroken() {
			return
		}
		for _, c := range m.children {
			visit(path, c)
		}
	}
	visit("", n)
	return out
}

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

package inference

import (
	"slices"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cardinalhq/dsconfig/pkg/dsconfig"
)

const (
	idListCollection = "id_list"

	typeText        = "text"
	typeBoolean     = "boolean"
	typeList        = "list"
	typeBooleanList = "boolean_list"
	typeIDList      = "id_list"
)

type builder struct {
	conv    Conventions
	layout  layout
	tables  []tableInfo
	covered func(kind dsconfig.Kind, field, table string) bool

	mainTables  []string
	primaryKeys []string

	seen        mapset.Set[string]
	attrNames   mapset.Set[string]
	filterNames mapset.Set[string]

	attrGroup   *dsconfig.Node
	filterGroup *dsconfig.Node
	bools       *dsconfig.Node
	lists       *dsconfig.Node

	attributes int
	filters    int
}

func (e *Engine) newBuilder(l layout, infos []tableInfo, covered func(kind dsconfig.Kind, field, table string) bool) *builder {
	b := &builder{
		conv:        e.conv,
		layout:      l,
		tables:      rank(infos),
		covered:     covered,
		seen:        mapset.NewThreadUnsafeSet[string](),
		attrNames:   mapset.NewThreadUnsafeSet[string](),
		filterNames: mapset.NewThreadUnsafeSet[string](),
	}
	if b.covered == nil {
		b.covered = func(dsconfig.Kind, string, string) bool { return false }
	}

	for _, t := range b.tables {
		if t.kind != tableMain {
			continue
		}
		b.mainTables = append(b.mainTables, t.name)
		for _, c := range t.columns {
			if b.conv.isKey(strings.ToLower(c.Name)) && !slices.Contains(b.primaryKeys, c.Name) {
				b.primaryKeys = append(b.primaryKeys, c.Name)
			}
		}
	}

	b.attrGroup = dsconfig.New(dsconfig.KindGroup, l.attrGroup)
	b.attrGroup.DisplayName = l.attrGroupDisplay
	b.filterGroup = dsconfig.New(dsconfig.KindGroup, l.filterGroup)
	b.filterGroup.DisplayName = l.filterGroupDisp
	b.bools = dsconfig.New(dsconfig.KindFilter, l.bools)
	b.bools.Type = typeBooleanList
	b.lists = dsconfig.New(dsconfig.KindFilter, l.lists)
	b.lists.Type = typeIDList
	return b
}

// build processes every table and attaches the non-empty pages to root.
func (b *builder) build(root *dsconfig.Node) error {
	for _, t := range b.tables {
		if err := b.table(t); err != nil {
			return err
		}
	}

	if b.bools.Len() > 0 || b.lists.Len() > 0 {
		ids := dsconfig.New(dsconfig.KindCollection, b.collectionName(b.filterGroup, idListCollection, b.layout.lists))
		ids.DisplayName = "ID LIST"
		for _, d := range []*dsconfig.Node{b.bools, b.lists} {
			if d.Len() > 0 {
				if err := ids.AddChild(d); err != nil {
					return err
				}
			}
		}
		if err := b.filterGroup.AddChild(ids); err != nil {
			return err
		}
	}

	if b.attrGroup.Len() > 0 {
		page := dsconfig.New(dsconfig.KindAttributePage, b.layout.attrPage)
		page.DisplayName = b.layout.attrPageDisplay
		if err := page.AddChild(b.attrGroup); err != nil {
			return err
		}
		if err := root.AddChild(page); err != nil {
			return err
		}
	}
	if b.filterGroup.Len() > 0 {
		page := dsconfig.New(dsconfig.KindFilterPage, b.layout.filterPage)
		page.DisplayName = b.layout.filterPageDisplay
		if err := page.AddChild(b.filterGroup); err != nil {
			return err
		}
		if err := root.AddChild(page); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) table(t tableInfo) error {
	content := b.conv.content(t.name)
	constraint := t.name
	if t.kind == tableMain {
		constraint = b.conv.MainSuffix
	}
	joinKey := b.joinKey(t)

	var attrs, filters *dsconfig.Node
	if t.kind != tableLookup {
		attrs = dsconfig.New(dsconfig.KindCollection, b.collectionName(b.attrGroup, content, t.name))
		attrs.DisplayName = displayName(content, false)
	}
	if t.kind != tableDimension {
		filters = dsconfig.New(dsconfig.KindCollection, b.collectionName(b.filterGroup, content, t.name))
		filters.DisplayName = displayName(content, false)
	}

	for _, col := range t.columns {
		name := strings.ToLower(col.Name)
		if b.conv.isKey(name) {
			continue
		}
		if t.kind == tableMain && b.seen.Contains(name) {
			continue
		}

		switch t.kind {
		case tableMain, tableDimension:
			isBool := strings.HasSuffix(name, b.conv.BoolSuffix)
			if t.kind == tableMain {
				b.seen.Add(name)
				if !b.covered(dsconfig.KindFilter, name, constraint) {
					f := b.filter(dsconfig.KindFilter, name, constraint, content, joinKey)
					if isBool {
						f.Kind = dsconfig.KindOption
						if err := b.bools.AddChild(f); err != nil {
							return err
						}
					} else if err := filters.AddChild(f); err != nil {
						return err
					}
					b.filters++
				}
			}
			if isBool {
				continue
			}
			if !b.covered(dsconfig.KindAttribute, name, constraint) {
				if err := attrs.AddChild(b.attribute(name, constraint, joinKey, col.MaxLength)); err != nil {
					return err
				}
				b.attributes++
			}
			if (strings.HasSuffix(name, b.conv.ListSuffix) || name == b.conv.PrimaryIDColumn) && !b.covered(dsconfig.KindFilter, name, constraint) {
				if err := b.lists.AddChild(b.filter(dsconfig.KindOption, name, constraint, content, joinKey)); err != nil {
					return err
				}
				b.filters++
			}

		case tableLookup:
			if _, ok := b.conv.lookupPrefix(name); !ok || b.covered(dsconfig.KindFilter, name, constraint) {
				continue
			}
			if err := filters.AddChild(b.lookupFilter(name, constraint)); err != nil {
				return err
			}
			b.filters++
		}
	}

	if attrs != nil && attrs.Len() > 0 {
		if err := b.attrGroup.AddChild(attrs); err != nil {
			return err
		}
	}
	if filters != nil && filters.Len() > 0 {
		if err := b.filterGroup.AddChild(filters); err != nil {
			return err
		}
	}
	return nil
}

// joinKey is the lowest-resolution primary key the table carries.
func (b *builder) joinKey(t tableInfo) string {
	for i := len(b.primaryKeys) - 1; i >= 0; i-- {
		for _, c := range t.columns {
			if c.Name == b.primaryKeys[i] {
				return c.Name
			}
		}
	}
	return ""
}

// collectionName prefers the table content and falls back to the full
// table name when the group already has a collection by that name.
func (b *builder) collectionName(group *dsconfig.Node, content, table string) string {
	if group.Child(dsconfig.KindCollection, content) == nil {
		return content
	}
	return table
}

// uniqueName returns name, or name qualified by its table constraint when
// another description already took it, numbering as a last resort.
func uniqueName(used mapset.Set[string], name, constraint string) string {
	candidate := name
	if used.Contains(candidate) {
		candidate = constraint + "_" + name
	}
	for i := 2; used.Contains(candidate); i++ {
		candidate = constraint + "_" + name + "_" + strconv.Itoa(i)
	}
	used.Add(candidate)
	return candidate
}

func (b *builder) attribute(column, constraint, joinKey string, maxLength int) *dsconfig.Node {
	a := dsconfig.New(dsconfig.KindAttribute, uniqueName(b.attrNames, column, constraint))
	a.DisplayName = displayName(column, true)
	a.Field = column
	a.TableConstraint = constraint
	a.JoinKey = joinKey
	a.MaxLength = min(maxLength, b.conv.MaxAttributeLength)
	return a
}

func (b *builder) filter(kind dsconfig.Kind, column, constraint, content, joinKey string) *dsconfig.Node {
	descriptive := column
	f := dsconfig.New(kind, "")
	switch {
	case strings.HasSuffix(column, b.conv.BoolSuffix):
		descriptive = strings.TrimSuffix(column, b.conv.BoolSuffix)
		f.InternalName = column
		f.Type, f.Qualifier, f.LegalQualifiers = typeBoolean, "only", "only,excluded"
	case strings.HasSuffix(column, b.conv.ListSuffix):
		descriptive = strings.TrimSuffix(column, b.conv.ListSuffix)
		if descriptive == b.conv.DisplayIDColumn {
			descriptive = strings.TrimPrefix(content, b.conv.XrefPrefix)
		}
		f.InternalName = descriptive
		f.Type, f.Qualifier, f.LegalQualifiers = typeList, "=", "=,in"
	default:
		f.InternalName = column
		f.Type, f.Qualifier, f.LegalQualifiers = typeText, "=", "="
	}
	f.InternalName = uniqueName(b.filterNames, f.InternalName, constraint)
	f.DisplayName = displayName(descriptive, true)
	f.Field = column
	f.TableConstraint = constraint
	f.JoinKey = joinKey
	return f
}

func (b *builder) lookupFilter(column, table string) *dsconfig.Node {
	prefix, _ := b.conv.lookupPrefix(column)
	descriptive := strings.TrimPrefix(column, prefix)
	f := dsconfig.New(dsconfig.KindFilter, uniqueName(b.filterNames, descriptive, table))
	f.DisplayName = displayName(descriptive, false)
	f.Field = column
	f.TableConstraint = table
	if prefix == b.conv.ListOnlyLookupPrefix {
		f.Type, f.Qualifier, f.LegalQualifiers = typeList, "=", "="
	} else {
		f.Type = typeText
	}
	return f
}

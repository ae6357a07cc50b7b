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
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Node is one element of a dataset configuration tree. Which fields are
// meaningful depends on Kind; unused fields stay at their zero value and
// are omitted from Attributes.
//
// A parent indexes its children by (Kind, InternalName). Rename a node that
// already has a parent through the parent's RenameChild; assigning
// InternalName directly leaves the parent's index stale.
type Node struct {
	Kind Kind

	InternalName string
	DisplayName  string
	Description  string

	// Root only.
	Dataset     string
	MainTables  []string
	PrimaryKeys []string

	Field           string
	TableConstraint string
	Type            string
	Qualifier       string
	LegalQualifiers string
	JoinKey         string
	Value           string
	Ref             string
	MaxLength       int
	MaxSelect       int
	Hidden          bool

	// Extra holds attributes without a dedicated field so decoding never
	// drops information.
	Extra map[string]string

	Broken BrokenFlags

	children []*Node
	index    map[childKey]int
	lazy     *lazyState
}

type childKey struct {
	kind Kind
	name string
}

// Attribute is one (name, value) pair of a node.
type Attribute struct {
	Name  string
	Value string
}

const (
	AttrBroken          = "broken"
	AttrDataset         = "dataset"
	AttrDescription     = "description"
	AttrDisplayName     = "displayName"
	AttrField           = "field"
	AttrHidden          = "hidden"
	AttrInternalName    = "internalName"
	AttrJoinKey         = "joinKey"
	AttrLegalQualifiers = "legalQualifiers"
	AttrMainTables      = "mainTables"
	AttrMaxLength       = "maxLength"
	AttrMaxSelect       = "maxSelect"
	AttrPrimaryKeys     = "primaryKeys"
	AttrQualifier       = "qualifier"
	AttrRef             = "ref"
	AttrTableConstraint = "tableConstraint"
	AttrType            = "type"
	AttrValue           = "value"
)

var knownAttributes = map[string]struct{}{
	AttrBroken: {}, AttrDataset: {}, AttrDescription: {}, AttrDisplayName: {},
	AttrField: {}, AttrHidden: {}, AttrInternalName: {}, AttrJoinKey: {},
	AttrLegalQualifiers: {}, AttrMainTables: {}, AttrMaxLength: {}, AttrMaxSelect: {},
	AttrPrimaryKeys: {}, AttrQualifier: {}, AttrRef: {}, AttrTableConstraint: {},
	AttrType: {}, AttrValue: {},
}

// New returns an empty node of the given kind.
func New(kind Kind, internalName string) *Node {
	return &Node{Kind: kind, InternalName: internalName}
}

// NewRoot returns an empty, already-loaded dataset configuration root.
func NewRoot(dataset, internalName string) *Node {
	return &Node{Kind: KindDataset, Dataset: dataset, InternalName: internalName}
}

// CheckRoot verifies n can stand as the root of a stored configuration.
func CheckRoot(n *Node) error {
	if n == nil {
		return fmt.Errorf("%w: nil", ErrInvalidRoot)
	}
	if n.Kind != KindDataset {
		return fmt.Errorf("%w: root kind is %s", ErrInvalidRoot, n.Kind)
	}
	if n.InternalName == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRoot, ErrMissingName)
	}
	if n.Dataset == "" {
		return fmt.Errorf("%w: dataset is required", ErrInvalidRoot)
	}
	return nil
}

// Attributes returns the node's non-empty attributes sorted by name.
func (n *Node) Attributes() []Attribute {
	n.ensureLoaded(context.Background())

	attrs := make([]Attribute, 0, 8+len(n.Extra))
	add := func(name, value string) {
		if value != "" {
			attrs = append(attrs, Attribute{Name: name, Value: value})
		}
	}
	add(AttrBroken, n.Broken.String())
	add(AttrDataset, n.Dataset)
	add(AttrDescription, n.Description)
	add(AttrDisplayName, n.DisplayName)
	add(AttrField, n.Field)
	if n.Hidden {
		add(AttrHidden, "true")
	}
	add(AttrInternalName, n.InternalName)
	add(AttrJoinKey, n.JoinKey)
	add(AttrLegalQualifiers, n.LegalQualifiers)
	add(AttrMainTables, strings.Join(n.MainTables, ","))
	if n.MaxLength > 0 {
		add(AttrMaxLength, strconv.Itoa(n.MaxLength))
	}
	if n.MaxSelect > 0 {
		add(AttrMaxSelect, strconv.Itoa(n.MaxSelect))
	}
	add(AttrPrimaryKeys, strings.Join(n.PrimaryKeys, ","))
	add(AttrQualifier, n.Qualifier)
	add(AttrRef, n.Ref)
	add(AttrTableConstraint, n.TableConstraint)
	add(AttrType, n.Type)
	add(AttrValue, n.Value)
	for k, v := range n.Extra {
		if _, known := knownAttributes[k]; !known {
			add(k, v)
		}
	}
	slices.SortFunc(attrs, func(a, b Attribute) int { return strings.Compare(a.Name, b.Name) })
	return attrs
}

// SetAttribute is the inverse of Attributes for a single pair. Setting
// internalName on an attached node has the same caveat as assigning
// InternalName.
func (n *Node) SetAttribute(name, value string) error {
	switch name {
	case AttrBroken:
		b, err := ParseBrokenFlags(value)
		if err != nil {
			return err
		}
		n.Broken = b
	case AttrDataset:
		n.Dataset = value
	case AttrDescription:
		n.Description = value
	case AttrDisplayName:
		n.DisplayName = value
	case AttrField:
		n.Field = value
	case AttrHidden:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("attribute %s: %w", name, err)
		}
		n.Hidden = b
	case AttrInternalName:
		n.InternalName = value
	case AttrJoinKey:
		n.JoinKey = value
	case AttrLegalQualifiers:
		n.LegalQualifiers = value
	case AttrMainTables:
		n.MainTables = splitList(value)
	case AttrMaxLength, AttrMaxSelect:
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("attribute %s: %w", name, err)
		}
		if name == AttrMaxLength {
			n.MaxLength = i
		} else {
			n.MaxSelect = i
		}
	case AttrPrimaryKeys:
		n.PrimaryKeys = splitList(value)
	case AttrQualifier:
		n.Qualifier = value
	case AttrRef:
		n.Ref = value
	case AttrTableConstraint:
		n.TableConstraint = value
	case AttrType:
		n.Type = value
	case AttrValue:
		n.Value = value
	default:
		if n.Extra == nil {
			n.Extra = make(map[string]string)
		}
		n.Extra[name] = value
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// Children returns the direct children in rank order.
func (n *Node) Children() []*Node {
	n.ensureLoaded(context.Background())
	return slices.Clone(n.children)
}

// ChildrenOf returns the direct children of the given kind in rank order.
func (n *Node) ChildrenOf(kind Kind) []*Node {
	n.ensureLoaded(context.Background())
	var out []*Node
	for _, c := range n.children {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of direct children.
func (n *Node) Len() int {
	n.ensureLoaded(context.Background())
	return len(n.children)
}

// Child returns the direct child with the given kind and internal name.
func (n *Node) Child(kind Kind, name string) *Node {
	n.ensureLoaded(context.Background())
	if i, ok := n.index[childKey{kind, name}]; ok {
		return n.children[i]
	}
	return nil
}

// AddChild appends c, preserving rank. A sibling of the same kind with the
// same internal name is rejected with a *CollisionError.
func (n *Node) AddChild(c *Node) error {
	n.ensureLoaded(context.Background())
	if c == nil {
		return fmt.Errorf("nil child for %q", n.InternalName)
	}
	if c.InternalName == "" {
		return fmt.Errorf("%s under %q: %w", c.Kind, n.InternalName, ErrMissingName)
	}
	if !n.Kind.Accepts(c.Kind) {
		return fmt.Errorf("%s under %s %q: %w", c.Kind, n.Kind, n.InternalName, ErrInvalidChild)
	}
	key := childKey{c.Kind, c.InternalName}
	if _, exists := n.index[key]; exists {
		return &CollisionError{Parent: n.InternalName, Kind: c.Kind, Name: c.InternalName}
	}
	if n.index == nil {
		n.index = make(map[childKey]int)
	}
	n.index[key] = len(n.children)
	n.children = append(n.children, c)
	return nil
}

// MustAddChild is AddChild for trees built from literals.
func (n *Node) MustAddChild(children ...*Node) *Node {
	for _, c := range children {
		if err := n.AddChild(c); err != nil {
			panic(err)
		}
	}
	return n
}

// RemoveChild removes the named child and reports whether it was present.
// The remaining children keep their relative rank.
func (n *Node) RemoveChild(kind Kind, name string) bool {
	n.ensureLoaded(context.Background())
	i, ok := n.index[childKey{kind, name}]
	if !ok {
		return false
	}
	n.children = slices.Delete(n.children, i, i+1)
	n.reindex()
	return true
}

// RenameChild changes the internal name of the named child, keeping its
// rank. Renaming onto a sibling of the same kind is rejected with a
// *CollisionError.
func (n *Node) RenameChild(kind Kind, oldName, newName string) error {
	n.ensureLoaded(context.Background())
	i, ok := n.index[childKey{kind, oldName}]
	if !ok {
		return fmt.Errorf("no %s %q under %q", kind, oldName, n.InternalName)
	}
	if newName == "" {
		return fmt.Errorf("%s under %q: %w", kind, n.InternalName, ErrMissingName)
	}
	if newName == oldName {
		return nil
	}
	if _, exists := n.index[childKey{kind, newName}]; exists {
		return &CollisionError{Parent: n.InternalName, Kind: kind, Name: newName}
	}
	n.children[i].InternalName = newName
	delete(n.index, childKey{kind, oldName})
	n.index[childKey{kind, newName}] = i
	return nil
}

func (n *Node) reindex() {
	n.index = make(map[childKey]int, len(n.children))
	for i, c := range n.children {
		n.index[childKey{c.Kind, c.InternalName}] = i
	}
}

// ShallowCopy returns a copy of n's attributes and flags with no children.
func (n *Node) ShallowCopy() *Node {
	n.ensureLoaded(context.Background())
	cp := &Node{
		Kind:            n.Kind,
		InternalName:    n.InternalName,
		DisplayName:     n.DisplayName,
		Description:     n.Description,
		Dataset:         n.Dataset,
		MainTables:      slices.Clone(n.MainTables),
		PrimaryKeys:     slices.Clone(n.PrimaryKeys),
		Field:           n.Field,
		TableConstraint: n.TableConstraint,
		Type:            n.Type,
		Qualifier:       n.Qualifier,
		LegalQualifiers: n.LegalQualifiers,
		JoinKey:         n.JoinKey,
		Value:           n.Value,
		Ref:             n.Ref,
		MaxLength:       n.MaxLength,
		MaxSelect:       n.MaxSelect,
		Hidden:          n.Hidden,
		Broken:          n.Broken,
	}
	if n.Extra != nil {
		cp.Extra = maps.Clone(n.Extra)
	}
	return cp
}

// Clone returns a deep copy sharing no mutable state with n. Cloning an
// unloaded lazy root loads it first; the clone itself is never lazy.
func (n *Node) Clone() *Node {
	cp := n.ShallowCopy()
	if len(n.children) > 0 {
		cp.children = make([]*Node, len(n.children))
		for i, c := range n.children {
			cp.children[i] = c.Clone()
		}
		cp.reindex()
	}
	return cp
}

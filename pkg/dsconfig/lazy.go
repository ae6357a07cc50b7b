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
	"sync"
	"sync/atomic"
)

// Loader materializes the full tree for a (dataset, name) key.
type Loader interface {
	Load(ctx context.Context, dataset, name string) (*Node, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, dataset, name string) (*Node, error)

func (f LoaderFunc) Load(ctx context.Context, dataset, name string) (*Node, error) {
	return f(ctx, dataset, name)
}

type lazyState struct {
	loader Loader
	once   sync.Once
	done   atomic.Bool
	loaded atomic.Bool
	err    error
}

// NewLazyRoot returns a root carrying only its identity. The first
// structural access loads the content through l, exactly once.
func NewLazyRoot(dataset, internalName string, l Loader) *Node {
	n := NewRoot(dataset, internalName)
	n.lazy = &lazyState{loader: l}
	return n
}

// EnsureLoaded loads a lazy root if it has not been loaded yet and returns
// the load error, if any. It is a no-op for every other node.
func (n *Node) EnsureLoaded(ctx context.Context) error {
	n.ensureLoaded(ctx)
	return n.LoadErr()
}

// LoadErr returns the error recorded by a failed lazy load. It is nil
// while a load is still running.
func (n *Node) LoadErr() error {
	if n.lazy == nil || !n.lazy.done.Load() {
		return nil
	}
	return n.lazy.err
}

// Loaded reports whether the node's content is available without
// triggering a load.
func (n *Node) Loaded() bool {
	if n.lazy == nil {
		return true
	}
	return n.lazy.loaded.Load()
}

func (n *Node) ensureLoaded(ctx context.Context) {
	if n.lazy == nil {
		return
	}
	n.lazy.once.Do(func() {
		t, err := n.lazy.loader.Load(ctx, n.Dataset, n.InternalName)
		if err == nil {
			err = n.adopt(t)
		}
		n.lazy.err = err
		n.lazy.loaded.Store(err == nil)
		n.lazy.done.Store(true)
	})
}

// adopt copies t's content into n. Identity fields and n.lazy are never
// written: accessors read them before the load completes. A failed load
// leaves n empty rather than partially filled.
func (n *Node) adopt(t *Node) error {
	if err := CheckRoot(t); err != nil {
		return err
	}
	if t.Dataset != n.Dataset || t.InternalName != n.InternalName {
		return fmt.Errorf("%w: loaded %s/%s for %s/%s", ErrInvalidRoot,
			t.Dataset, t.InternalName, n.Dataset, n.InternalName)
	}
	c := t.Clone()
	n.DisplayName = c.DisplayName
	n.Description = c.Description
	n.MainTables = c.MainTables
	n.PrimaryKeys = c.PrimaryKeys
	n.Field = c.Field
	n.TableConstraint = c.TableConstraint
	n.Type = c.Type
	n.Qualifier = c.Qualifier
	n.LegalQualifiers = c.LegalQualifiers
	n.JoinKey = c.JoinKey
	n.Value = c.Value
	n.Ref = c.Ref
	n.MaxLength = c.MaxLength
	n.MaxSelect = c.MaxSelect
	n.Hidden = c.Hidden
	n.Extra = c.Extra
	n.Broken = c.Broken
	n.children = c.children
	n.index = c.index
	return nil
}

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

package federation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/dsconfig/pkg/dsconfig"
)

var errDown = errors.New("connection refused")

type fakeSource struct {
	name    string
	trees   map[string]map[string]*dsconfig.Node
	order   []string
	err     error
	resolve atomic.Int32
	syncs   atomic.Int32
}

func newSource(name string) *fakeSource {
	return &fakeSource{name: name, trees: map[string]map[string]*dsconfig.Node{}}
}

func (f *fakeSource) with(dataset, name, displayName string) *fakeSource {
	if _, ok := f.trees[dataset]; !ok {
		f.trees[dataset] = map[string]*dsconfig.Node{}
		f.order = append(f.order, dataset)
	}
	root := dsconfig.NewRoot(dataset, name)
	root.DisplayName = displayName
	f.trees[dataset][name] = root
	return f
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Resolve(_ context.Context, dataset, name string) (*dsconfig.Node, error) {
	f.resolve.Add(1)
	if f.err != nil {
		return nil, fmt.Errorf("%w: %w", dsconfig.ErrSourceUnavailable, f.err)
	}
	if t, ok := f.trees[dataset][name]; ok {
		return t.Clone(), nil
	}
	return nil, fmt.Errorf("%s/%s: %w", dataset, name, dsconfig.ErrNotFound)
}

func (f *fakeSource) ListDatasets(context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.order, nil
}

func (f *fakeSource) ListNames(_ context.Context, dataset string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []string
	for name := range f.trees[dataset] {
		out = append(out, name)
	}
	return out, nil
}

func (f *fakeSource) Sync(context.Context) error {
	f.syncs.Add(1)
	return f.err
}

func registry(t *testing.T, sources ...Source) *Registry {
	t.Helper()
	r := New()
	for _, s := range sources {
		require.NoError(t, r.Register(s))
	}
	return r
}

func TestRegister(t *testing.T) {
	r := registry(t, newSource("a"), newSource("b"))
	err := r.Register(newSource("a"))
	assert.ErrorIs(t, err, ErrDuplicateSource)

	var names []string
	for _, s := range r.Sources() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"a", "b"}, names)

	assert.True(t, r.Deregister("a"))
	assert.False(t, r.Deregister("a"))
	_, ok := r.Source("a")
	assert.False(t, ok)
	require.NoError(t, r.Register(newSource("a")))

	names = names[:0]
	for _, s := range r.Sources() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"b", "a"}, names)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("first registered source wins", func(t *testing.T) {
		first := newSource("first").with("gene", "default", "from first")
		second := newSource("second").with("gene", "default", "from second")
		r := registry(t, first, second)

		tree, found, err := r.Resolve(ctx, "gene", "default")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "from first", tree.DisplayName)
		assert.Equal(t, int32(0), second.resolve.Load())
	})

	t.Run("falls through to later sources", func(t *testing.T) {
		r := registry(t, newSource("first"), newSource("second").with("gene", "default", "from second"))
		tree, found, err := r.Resolve(ctx, "gene", "default")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "from second", tree.DisplayName)
	})

	t.Run("absent everywhere is not an error", func(t *testing.T) {
		r := registry(t, newSource("first"), newSource("second"))
		tree, found, err := r.Resolve(ctx, "gene", "default")
		assert.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, tree)
	})

	t.Run("failures prevent claiming absence", func(t *testing.T) {
		down := newSource("down")
		down.err = errDown
		r := registry(t, down, newSource("empty"))
		_, found, err := r.Resolve(ctx, "gene", "default")
		assert.False(t, found)
		require.Error(t, err)
		assert.ErrorIs(t, err, dsconfig.ErrSourceUnavailable)
		assert.ErrorIs(t, err, errDown)
	})

	t.Run("a later hit beats an earlier failure", func(t *testing.T) {
		down := newSource("down")
		down.err = errDown
		r := registry(t, down, newSource("up").with("gene", "default", "up"))
		tree, found, err := r.Resolve(ctx, "gene", "default")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "up", tree.DisplayName)
	})

	t.Run("empty registry", func(t *testing.T) {
		_, found, err := New().Resolve(ctx, "gene", "default")
		assert.NoError(t, err)
		assert.False(t, found)
	})
}

func TestResolveAcrossSources(t *testing.T) {
	ctx := context.Background()

	first := newSource("first").with("gene", "default", "gene in first")
	second := newSource("second").
		with("snp", "variation", "snp in second").
		with("gene", "variation", "gene in second")
	r := registry(t, first, second)

	tree, found, err := r.ResolveAcrossSources(ctx, "variation")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "snp", tree.Dataset)
	assert.Equal(t, "snp in second", tree.DisplayName)

	tree, found, err = r.ResolveAcrossSources(ctx, "default")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "gene in first", tree.DisplayName)

	_, found, err = r.ResolveAcrossSources(ctx, "nope")
	assert.NoError(t, err)
	assert.False(t, found)

	down := newSource("down")
	down.err = errDown
	require.NoError(t, r.Register(down))
	_, found, err = r.ResolveAcrossSources(ctx, "nope")
	assert.False(t, found)
	assert.ErrorIs(t, err, errDown)

	_, found, err = r.ResolveAcrossSources(ctx, "variation")
	assert.NoError(t, err)
	assert.True(t, found)
}

func TestListDatasets(t *testing.T) {
	ctx := context.Background()
	a := newSource("a").with("gene", "default", "").with("snp", "default", "")
	b := newSource("b").with("snp", "default", "").with("seq", "default", "")
	r := registry(t, a, b)

	got, err := r.ListDatasets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gene", "snp", "seq"}, got)

	down := newSource("down")
	down.err = errDown
	require.NoError(t, r.Register(down))
	got, err = r.ListDatasets(ctx)
	assert.ErrorIs(t, err, errDown)
	assert.Equal(t, []string{"gene", "snp", "seq"}, got)
}

func TestSupports(t *testing.T) {
	ctx := context.Background()
	r := registry(t, newSource("a").with("gene", "default", ""), newSource("b").with("snp", "variation", ""))

	tests := []struct {
		name string
		fn   func() (bool, error)
		want bool
	}{
		{"dataset in first", func() (bool, error) { return r.SupportsDataset(ctx, "gene") }, true},
		{"dataset in second", func() (bool, error) { return r.SupportsDataset(ctx, "snp") }, true},
		{"missing dataset", func() (bool, error) { return r.SupportsDataset(ctx, "seq") }, false},
		{"name in second", func() (bool, error) { return r.SupportsName(ctx, "variation") }, true},
		{"missing name", func() (bool, error) { return r.SupportsName(ctx, "structure") }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSyncAll(t *testing.T) {
	a, b := newSource("a"), newSource("b")
	b.err = errDown
	r := registry(t, a, b)

	err := r.SyncAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errDown)
	assert.Contains(t, err.Error(), "source b")
	assert.Equal(t, int32(1), a.syncs.Load())
	assert.Equal(t, int32(1), b.syncs.Load())

	b.err = nil
	assert.NoError(t, r.SyncAll(context.Background()))
}

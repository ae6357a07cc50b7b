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

package bytecache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/dsconfig/pkg/digest"
)

func TestCacheImplementations(t *testing.T) {
	ctx := context.Background()

	impls := map[string]func(t *testing.T) Cache{
		"memory": func(t *testing.T) Cache { return NewMemory(0) },
		"sqlite": func(t *testing.T) Cache {
			c, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "cache", "configs.db"))
			require.NoError(t, err)
			return c
		},
		"dir": func(t *testing.T) Cache {
			c, err := OpenDir(filepath.Join(t.TempDir(), "cache"))
			require.NoError(t, err)
			return c
		},
	}

	for name, open := range impls {
		t.Run(name, func(t *testing.T) {
			c := open(t)
			t.Cleanup(func() { _ = c.Close() })

			_, _, ok, err := c.Get(ctx, "gene", "default")
			require.NoError(t, err)
			assert.False(t, ok)

			d1 := digest.Sum([]byte("one"))
			require.NoError(t, c.Put(ctx, "gene", "default", d1, []byte("doc one")))

			got, doc, ok, err := c.Get(ctx, "gene", "default")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, d1, got)
			assert.Equal(t, []byte("doc one"), doc)

			d2 := digest.Sum([]byte("two"))
			require.NoError(t, c.Put(ctx, "gene", "default", d2, []byte("doc two")))
			got, doc, ok, err = c.Get(ctx, "gene", "default")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, d2, got)
			assert.Equal(t, []byte("doc two"), doc)

			require.NoError(t, c.Put(ctx, "gene/x", "odd name", d1, []byte("other")))
			_, doc, ok, err = c.Get(ctx, "gene/x", "odd name")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("other"), doc)

			require.NoError(t, c.Remove(ctx, "gene", "default"))
			require.NoError(t, c.Remove(ctx, "gene", "default"))
			_, _, ok, err = c.Get(ctx, "gene", "default")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestDirCorruptRecord(t *testing.T) {
	ctx := context.Background()
	c, err := OpenDir(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, "gene", "default", digest.Sum([]byte("x")), []byte("doc")))

	require.NoError(t, os.WriteFile(c.path("gene", "default"), []byte{0xff, 0x00}, 0o644))
	_, _, ok, err := c.Get(ctx, "gene", "default")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestDirStaysInsideBase(t *testing.T) {
	ctx := context.Background()
	parent := t.TempDir()
	base := filepath.Join(parent, "cache")
	c, err := OpenDir(base)
	require.NoError(t, err)

	keys := [][2]string{{"..", "escape"}, {".", ".."}, {"", ""}, {"../..", "x"}, {"a.b", "c"}, {"a%2Eb", "c"}}
	for i, k := range keys {
		require.NoError(t, c.Put(ctx, k[0], k[1], digest.Zero, []byte{byte(i)}))
		p := c.path(k[0], k[1])
		rel, err := filepath.Rel(base, p)
		require.NoError(t, err)
		assert.NotContains(t, rel, "..", "key %q/%q maps to %s", k[0], k[1], p)
	}
	for i, k := range keys {
		_, doc, ok, err := c.Get(ctx, k[0], k[1])
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte{byte(i)}, doc, "key %q/%q", k[0], k[1])
	}

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cache", entries[0].Name())
}

func TestMemoryCopiesDocuments(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	doc := []byte("abc")
	require.NoError(t, m.Put(ctx, "d", "n", digest.Zero, doc))
	doc[0] = 'z'
	_, got, _, err := m.Get(ctx, "d", "n")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
	assert.Equal(t, 1, m.Len())
}

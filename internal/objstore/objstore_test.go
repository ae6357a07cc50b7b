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

package objstore

import (
	"bytes"
	"context"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/dsconfig/internal/store"
	"github.com/cardinalhq/dsconfig/pkg/digest"
	"github.com/cardinalhq/dsconfig/pkg/dsconfig"
	"github.com/cardinalhq/dsconfig/pkg/markup"
)

type memObject struct {
	body []byte
	meta map[string]string
}

type memBackend struct {
	mu      sync.Mutex
	objects map[string]memObject
	heads   int
	gets    int
}

func newMemBackend() *memBackend {
	return &memBackend{objects: map[string]memObject{}}
}

func (m *memBackend) kind() string { return "mem" }

func (m *memBackend) head(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heads++
	o, ok := m.objects[key]
	if !ok {
		return nil, errNotExist
	}
	return maps.Clone(o.meta), nil
}

func (m *memBackend) get(_ context.Context, key string) ([]byte, map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	o, ok := m.objects[key]
	if !ok {
		return nil, nil, errNotExist
	}
	return bytes.Clone(o.body), maps.Clone(o.meta), nil
}

func (m *memBackend) put(_ context.Context, key string, body []byte, meta map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{body: bytes.Clone(body), meta: maps.Clone(meta)}
	return nil
}

func (m *memBackend) remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return errNotExist
	}
	delete(m.objects, key)
	return nil
}

func (m *memBackend) list(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out, nil
}

func tree(dataset, name string) *dsconfig.Node {
	root := dsconfig.NewRoot(dataset, name)
	root.DisplayName = "Genes"
	root.MainTables = []string{dataset + "__gene__main"}
	f := dsconfig.New(dsconfig.KindFilter, "biotype")
	f.Field = "biotype"
	f.TableConstraint = "main"
	coll := dsconfig.New(dsconfig.KindCollection, "gene")
	coll.MustAddChild(f)
	group := dsconfig.New(dsconfig.KindGroup, "filters")
	group.MustAddChild(coll)
	page := dsconfig.New(dsconfig.KindFilterPage, "naive_filters")
	page.MustAddChild(group)
	root.MustAddChild(page)
	return root
}

func document(t *testing.T, dataset, name string) store.Document {
	t.Helper()
	root := tree(dataset, name)
	body, err := markup.YAML{}.Encode(root)
	require.NoError(t, err)
	d, err := digest.Of(root)
	require.NoError(t, err)
	return store.Document{
		Dataset:     dataset,
		Name:        name,
		DisplayName: "Genes & more",
		Description: "all/genes",
		Body:        body,
		Digest:      d,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := newMemBackend()
	s := newStore(mem, WithPrefix("/configs/"))
	doc := document(t, "gene", "default")

	require.NoError(t, s.Publish(ctx, doc))
	require.Contains(t, mem.objects, "configs/gene/default.yaml")

	d, err := s.CurrentDigest(ctx, "gene", "default")
	require.NoError(t, err)
	assert.Equal(t, doc.Digest, d)
	assert.Zero(t, mem.gets, "digest metadata should avoid a fetch")

	body, err := s.Fetch(ctx, "gene", "default")
	require.NoError(t, err)
	assert.Equal(t, doc.Body, body)

	info, err := s.Stat(ctx, "gene", "default")
	require.NoError(t, err)
	assert.Equal(t, "Genes & more", info.DisplayName)
	assert.Equal(t, "all/genes", info.Description)
	assert.Equal(t, doc.Digest, info.Digest)
	assert.False(t, info.Compressed)
}

func TestStoreCompression(t *testing.T) {
	ctx := context.Background()
	mem := newMemBackend()
	s := newStore(mem, WithCompressThreshold(1))
	doc := document(t, "gene", "default")

	require.NoError(t, s.Publish(ctx, doc))
	stored := mem.objects["gene/default.yaml"]
	assert.Equal(t, "true", stored.meta[metaCompressed])
	assert.True(t, bytes.HasPrefix(stored.body, gzipMagic))

	body, err := s.Fetch(ctx, "gene", "default")
	require.NoError(t, err)
	assert.Equal(t, doc.Body, body)

	// Objects compressed by other writers are recognised without metadata.
	delete(mem.objects["gene/default.yaml"].meta, metaCompressed)
	body, err = s.Fetch(ctx, "gene", "default")
	require.NoError(t, err)
	assert.Equal(t, doc.Body, body)
}

func TestStoreDigestWithoutMetadata(t *testing.T) {
	ctx := context.Background()
	mem := newMemBackend()
	s := newStore(mem)
	doc := document(t, "gene", "default")
	require.NoError(t, mem.put(ctx, "gene/default.yaml", doc.Body, nil))

	d, err := s.CurrentDigest(ctx, "gene", "default")
	require.NoError(t, err)
	assert.Equal(t, doc.Digest, d)
	assert.Equal(t, 1, mem.gets)

	require.NoError(t, mem.put(ctx, "gene/broken.yaml", []byte("kind: [unterminated"), map[string]string{metaDigest: "not-hex"}))
	_, err = s.CurrentDigest(ctx, "gene", "broken")
	assert.ErrorIs(t, err, dsconfig.ErrMalformedDocument)
}

func TestStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s := newStore(newMemBackend())

	_, err := s.CurrentDigest(ctx, "gene", "missing")
	assert.ErrorIs(t, err, dsconfig.ErrNotFound)
	_, err = s.Fetch(ctx, "gene", "missing")
	assert.ErrorIs(t, err, dsconfig.ErrNotFound)
	_, err = s.Stat(ctx, "gene", "missing")
	assert.ErrorIs(t, err, dsconfig.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "gene", "missing"), dsconfig.ErrNotFound)
}

func TestStoreRejectsBadKeys(t *testing.T) {
	ctx := context.Background()
	s := newStore(newMemBackend())

	tests := []struct {
		name          string
		dataset, conf string
	}{
		{"empty dataset", "", "default"},
		{"empty name", "gene", ""},
		{"slash in name", "gene", "a/b"},
		{"parent dataset", "..", "default"},
		{"backslash", "gene", `a\b`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Fetch(ctx, tt.dataset, tt.conf)
			require.Error(t, err)
			assert.NotErrorIs(t, err, dsconfig.ErrNotFound)
		})
	}
}

func TestStoreListing(t *testing.T) {
	ctx := context.Background()
	mem := newMemBackend()
	s := newStore(mem, WithPrefix("cfg"))
	for _, k := range [][2]string{{"gene", "default"}, {"gene", "alt"}, {"snp", "default"}} {
		require.NoError(t, s.Publish(ctx, document(t, k[0], k[1])))
	}
	require.NoError(t, mem.put(ctx, "cfg/gene/notes.txt", []byte("x"), nil))
	require.NoError(t, mem.put(ctx, "cfg/gene/.default.yaml.123", []byte("x"), nil))
	require.NoError(t, mem.put(ctx, "cfg/gene/nested/deep.yaml", []byte("x"), nil))
	require.NoError(t, mem.put(ctx, "cfg/top.yaml", []byte("x"), nil))
	require.NoError(t, mem.put(ctx, "other/gene/x.yaml", []byte("x"), nil))

	datasets, err := s.ListDatasets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gene", "snp"}, datasets)

	names, err := s.ListNames(ctx, "gene")
	require.NoError(t, err)
	assert.Equal(t, []string{"alt", "default"}, names)

	names, err = s.ListNames(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, s.Delete(ctx, "gene", "alt"))
	names, err = s.ListNames(ctx, "gene")
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, names)
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		prefix  string
		key     string
		dataset string
		name    string
		ok      bool
	}{
		{"cfg", "cfg/gene/default.yaml", "gene", "default", true},
		{"", "gene/default.yaml", "gene", "default", true},
		{"cfg", "other/gene/default.yaml", "", "", false},
		{"cfg", "cfg/gene/nested/deep.yaml", "", "", false},
		{"cfg", "cfg/top.yaml", "", "", false},
		{"cfg", "cfg/gene/.default.yaml", "", "", false},
		{"cfg", "cfg/gene/notes.txt", "", "", false},
		{"cfg", "cfg/gene/.yaml", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.prefix+":"+tt.key, func(t *testing.T) {
			s := newStore(newMemBackend(), WithPrefix(tt.prefix))
			ds, name, ok := s.ParseKey(tt.key)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.dataset, ds)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fsStore := NewFileStore(dir)
	doc := document(t, "gene", "default")

	require.NoError(t, fsStore.Publish(ctx, doc))
	raw, err := os.ReadFile(filepath.Join(dir, "gene", "default.yaml"))
	require.NoError(t, err)
	assert.Equal(t, doc.Body, raw, "file documents stay plain text")

	d, err := fsStore.CurrentDigest(ctx, "gene", "default")
	require.NoError(t, err)
	assert.Equal(t, doc.Digest, d)

	entries, err := os.ReadDir(filepath.Join(dir, "gene"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")

	datasets, err := fsStore.ListDatasets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gene"}, datasets)

	require.NoError(t, fsStore.Delete(ctx, "gene", "default"))
	_, err = fsStore.Fetch(ctx, "gene", "default")
	assert.ErrorIs(t, err, dsconfig.ErrNotFound)

	empty := NewFileStore(filepath.Join(dir, "does-not-exist"))
	datasets, err = empty.ListDatasets(ctx)
	require.NoError(t, err)
	assert.Empty(t, datasets)
}

func TestFileStoreWatch(t *testing.T) {
	dir := t.TempDir()
	fsStore := NewFileStore(dir)
	fsStore.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan string, 16)
	done := make(chan error, 1)
	go func() {
		done <- fsStore.Watch(ctx, func(dataset, name string) {
			changes <- dataset + "/" + name
		})
	}()

	// The watch on the root is in place once a new dataset directory is
	// picked up, so keep poking until the first change arrives.
	require.Eventually(t, func() bool {
		_ = os.MkdirAll(filepath.Join(dir, "gene"), 0o755)
		_ = os.WriteFile(filepath.Join(dir, "gene", "default.yaml"), []byte("a"), 0o644)
		select {
		case got := <-changes:
			return got == "gene/default"
		default:
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, fsStore.Publish(ctx, document(t, "gene", "alt")))
	select {
	case got := <-changes:
		for got == "gene/default" {
			got = <-changes
		}
		assert.Equal(t, "gene/alt", got)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported for published document")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

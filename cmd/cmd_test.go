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

package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/dsconfig/config"
	"github.com/cardinalhq/dsconfig/internal/objstore"
	"github.com/cardinalhq/dsconfig/internal/resolver"
	"github.com/cardinalhq/dsconfig/internal/schema"
	"github.com/cardinalhq/dsconfig/pkg/digest"
	"github.com/cardinalhq/dsconfig/pkg/dsconfig"
)

func geneTree() *dsconfig.Node {
	root := dsconfig.NewRoot("gene", "default")
	root.DisplayName = "Genes"
	root.MainTables = []string{"gene__main"}
	root.PrimaryKeys = []string{"gene_id_key"}
	return root
}

func fileConfig(t *testing.T, cacheKind string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Sources = []config.SourceConfig{
		{Name: "primary", Kind: config.SourceFile, Path: filepath.Join(dir, "primary")},
		{Name: "fallback", Kind: config.SourceFile, Path: filepath.Join(dir, "fallback"), Watch: true},
	}
	cfg.Cache = config.CacheConfig{Kind: cacheKind, Path: filepath.Join(dir, "cache"), Capacity: 1 << 20}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewApp(t *testing.T) {
	for _, kind := range []string{config.CacheNone, config.CacheMemory, config.CacheDir, config.CacheSQLite} {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			a, err := newApp(ctx, fileConfig(t, kind))
			require.NoError(t, err)
			defer func() { assert.NoError(t, a.Close()) }()

			targets, err := a.targets("")
			require.NoError(t, err)
			require.Len(t, targets, 2)
			assert.Equal(t, "primary", targets[0].Name())
			assert.Equal(t, "fallback", targets[1].Name())
			assert.Contains(t, a.watched, "fallback")
			assert.NotContains(t, a.watched, "primary")

			w, err := a.writable("")
			require.NoError(t, err)
			assert.Equal(t, "primary", w.Name())

			_, err = a.source("nope")
			assert.ErrorContains(t, err, "unknown source")
		})
	}
}

func TestAppResolve(t *testing.T) {
	ctx := context.Background()
	a, err := newApp(ctx, fileConfig(t, config.CacheMemory))
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	_, err = a.resolve(ctx, "", "gene", "default")
	assert.ErrorIs(t, err, dsconfig.ErrNotFound)

	fallback, err := a.source("fallback")
	require.NoError(t, err)
	require.NoError(t, fallback.Publish(ctx, geneTree()))

	got, err := a.resolve(ctx, "", "gene", "default")
	require.NoError(t, err)
	assert.Equal(t, "Genes", got.DisplayName)

	_, err = a.resolve(ctx, "primary", "gene", "default")
	assert.ErrorIs(t, err, dsconfig.ErrNotFound)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []resolver.Key
	digest []digest.Digest
}

func (n *recordingNotifier) Announce(_ context.Context, _ string, key resolver.Key, d digest.Digest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, key)
	n.digest = append(n.digest, d)
	return nil
}

func TestOnFileChange(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs := objstore.NewFileStore(dir)
	r := resolver.New("local", fs)
	defer r.Close()

	tree := geneTree()
	require.NoError(t, r.Publish(ctx, tree))
	want, err := digest.Of(tree)
	require.NoError(t, err)

	n := &recordingNotifier{}
	changed := onFileChange(ctx, r, fs, n)

	changed("gene", "default")
	require.Len(t, n.events, 1)
	assert.Equal(t, resolver.Key{Dataset: "gene", Name: "default"}, n.events[0])
	assert.Equal(t, want, n.digest[0])

	require.NoError(t, os.Remove(filepath.Join(dir, "gene", "default.yaml")))
	changed("gene", "default")
	require.Len(t, n.events, 2)
	assert.True(t, n.digest[1].IsZero())

	_, err = r.Resolve(ctx, "gene", "default")
	assert.ErrorIs(t, err, dsconfig.ErrNotFound)
}

func TestKeyArgs(t *testing.T) {
	ds, name := keyArgs([]string{"gene"})
	assert.Equal(t, "gene", ds)
	assert.Equal(t, defaultName, name)

	ds, name = keyArgs([]string{"gene", "curated"})
	assert.Equal(t, "gene", ds)
	assert.Equal(t, "curated", name)
}

func TestWriteValue(t *testing.T) {
	v := map[string]int{"broken": 2}

	var buf bytes.Buffer
	require.NoError(t, writeValue(&buf, formatJSON, v))
	assert.JSONEq(t, `{"broken":2}`, buf.String())

	buf.Reset()
	require.NoError(t, writeValue(&buf, formatYAML, v))
	assert.Equal(t, "broken: 2\n", buf.String())

	assert.Error(t, writeValue(&buf, "xml", v))
}

func writeSnapshot(t *testing.T, path string) {
	t.Helper()
	snap := schema.NewSnapshot(schema.Table{
		Name: "gene__main",
		Columns: []schema.Column{
			{Name: "gene_id_key", DataType: "integer"},
			{Name: "stable_id", DataType: "varchar", MaxLength: 128},
		},
	})
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, schema.WriteSnapshot(f, snap))
	require.NoError(t, f.Close())
}

func TestOpenSnapshotSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	writeSnapshot(t, path)

	intro, done, err := openSchema(context.Background(), config.SchemaConfig{Driver: config.SchemaSnapshot, Path: path})
	require.NoError(t, err)
	defer done()

	tables, err := intro.TablesMatching(context.Background(), "gene%")
	require.NoError(t, err)
	assert.Equal(t, []string{"gene__main"}, tables)

	_, _, err = openSchema(context.Background(), config.SchemaConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeSnapshot(t, filepath.Join(dir, "schema.yaml"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
sources:
  - name: local
    kind: file
    path: configs
schema:
  driver: snapshot
  path: schema.yaml
`), 0o644))
	t.Cleanup(func() {
		inferPublish = false
		validateFormat = formatText
	})

	out, err := execute(t, "infer", "gene", "--publish")
	require.NoError(t, err)
	assert.Contains(t, out, "stable_id")
	assert.FileExists(t, filepath.Join(dir, "configs", "gene", "default.yaml"))

	out, err = execute(t, "resolve", "gene")
	require.NoError(t, err)
	assert.Contains(t, out, "gene__main")

	out, err = execute(t, "datasets")
	require.NoError(t, err)
	assert.Equal(t, "gene\n", out)

	out, err = execute(t, "names", "gene")
	require.NoError(t, err)
	assert.Equal(t, "default\n", out)

	out, err = execute(t, "validate", "gene")
	require.NoError(t, err)
	assert.Equal(t, "gene/default: ok\n", out)

	_, err = execute(t, "resolve", "gene", "missing")
	assert.ErrorIs(t, err, dsconfig.ErrNotFound)

	_, err = execute(t, "delete", "gene", "default")
	require.NoError(t, err)
	out, err = execute(t, "names", "gene")
	require.NoError(t, err)
	assert.Empty(t, out)
}

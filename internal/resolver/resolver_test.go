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

package resolver

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/dsconfig/internal/bytecache"
	"github.com/cardinalhq/dsconfig/internal/store"
	"github.com/cardinalhq/dsconfig/pkg/digest"
	"github.com/cardinalhq/dsconfig/pkg/dsconfig"
	"github.com/cardinalhq/dsconfig/pkg/markup"
)

const (
	testTimeout = 2 * time.Second
	testTick    = 5 * time.Millisecond
)

// fakeStore is an in-memory authoritative store with call counters.
type fakeStore struct {
	mu   sync.Mutex
	docs map[Key]store.Document

	digestCalls atomic.Int32
	fetchCalls  atomic.Int32

	digestErr error
	fetchErr  error
	// gate blocks Fetch before it reads the document, hold after.
	gate chan struct{}
	hold chan struct{}

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[Key]store.Document)}
}

func (f *fakeStore) put(t *testing.T, tree *dsconfig.Node) digest.Digest {
	t.Helper()
	body, err := markup.YAML{}.Encode(tree)
	require.NoError(t, err)
	d, err := digest.Of(tree)
	require.NoError(t, err)
	require.NoError(t, f.Publish(context.Background(), store.Document{
		Dataset: tree.Dataset, Name: tree.InternalName, Body: body, Digest: d,
	}))
	return d
}

func (f *fakeStore) CurrentDigest(_ context.Context, dataset, name string) (digest.Digest, error) {
	f.digestCalls.Add(1)
	if f.digestErr != nil {
		return digest.Zero, f.digestErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[Key{dataset, name}]
	if !ok {
		return digest.Zero, dsconfig.ErrNotFound
	}
	return doc.Digest, nil
}

func (f *fakeStore) Fetch(_ context.Context, dataset, name string) ([]byte, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	f.fetchCalls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	f.mu.Lock()
	doc, ok := f.docs[Key{dataset, name}]
	f.mu.Unlock()
	if !ok {
		return nil, dsconfig.ErrNotFound
	}
	if f.hold != nil {
		<-f.hold
	}
	return slices.Clone(doc.Body), nil
}

func (f *fakeStore) Publish(_ context.Context, doc store.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[Key{doc.Dataset, doc.Name}] = doc
	return nil
}

func (f *fakeStore) ListNames(_ context.Context, dataset string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.docs {
		if k.Dataset == dataset {
			out = append(out, k.Name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeStore) ListDatasets(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for k := range f.docs {
		if !seen[k.Dataset] {
			seen[k.Dataset] = true
			out = append(out, k.Dataset)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeStore) Delete(_ context.Context, dataset, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, Key{dataset, name})
	return nil
}

type failingCache struct {
	gets atomic.Int32
	puts atomic.Int32
}

var errDisk = errors.New("disk on fire")

func (c *failingCache) Get(context.Context, string, string) (digest.Digest, []byte, bool, error) {
	c.gets.Add(1)
	return digest.Zero, nil, false, errDisk
}

func (c *failingCache) Put(context.Context, string, string, digest.Digest, []byte) error {
	c.puts.Add(1)
	return errDisk
}

func (c *failingCache) Remove(context.Context, string, string) error {
	return errDisk
}

type recordingNotifier struct {
	mu   sync.Mutex
	keys []Key
}

func (n *recordingNotifier) Announce(_ context.Context, _ string, key Key, _ digest.Digest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.keys = append(n.keys, key)
	return nil
}

func sampleConfig(dataset, name, field string) *dsconfig.Node {
	root := dsconfig.NewRoot(dataset, name)
	root.DisplayName = name
	page := dsconfig.New(dsconfig.KindAttributePage, "attributes")
	group := dsconfig.New(dsconfig.KindGroup, "features")
	coll := dsconfig.New(dsconfig.KindCollection, "main")
	a := dsconfig.New(dsconfig.KindAttribute, field)
	a.Field = field
	a.TableConstraint = "main"
	coll.MustAddChild(a)
	group.MustAddChild(coll)
	page.MustAddChild(group)
	root.MustAddChild(page)
	return root
}

func newResolver(t *testing.T, st store.Authoritative, opts ...Option) *Resolver {
	t.Helper()
	r := New("test", st, opts...)
	t.Cleanup(r.Close)
	return r
}

func TestResolveTiers(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.put(t, sampleConfig("x", "v1", "stable_id"))
	cache := bytecache.NewMemory(0)
	r := newResolver(t, st, WithByteCache(cache))

	t.Run("miss fetches once and populates both tiers", func(t *testing.T) {
		tree, err := r.Resolve(ctx, "x", "v1")
		require.NoError(t, err)
		assert.True(t, tree.Equal(sampleConfig("x", "v1", "stable_id")))
		assert.Equal(t, int32(1), st.fetchCalls.Load())
		assert.Equal(t, 1, cache.Len())
	})

	t.Run("memory hit skips the store", func(t *testing.T) {
		digestsBefore := st.digestCalls.Load()
		_, err := r.Resolve(ctx, "x", "v1")
		require.NoError(t, err)
		assert.Equal(t, int32(1), st.fetchCalls.Load())
		assert.Equal(t, digestsBefore, st.digestCalls.Load())
	})

	t.Run("fresh cache avoids fetch in a new process", func(t *testing.T) {
		r2 := newResolver(t, st, WithByteCache(cache))
		tree, err := r2.Resolve(ctx, "x", "v1")
		require.NoError(t, err)
		assert.True(t, tree.Equal(sampleConfig("x", "v1", "stable_id")))
		assert.Equal(t, int32(1), st.fetchCalls.Load())
	})
}

func TestCopyIsolation(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.put(t, sampleConfig("x", "v1", "stable_id"))
	r := newResolver(t, st)

	first, err := r.Resolve(ctx, "x", "v1")
	require.NoError(t, err)
	first.FindByName("stable_id").Field = "mutated"
	first.MustAddChild(dsconfig.New(dsconfig.KindFilterPage, "extra"))

	second, err := r.Resolve(ctx, "x", "v1")
	require.NoError(t, err)
	assert.Equal(t, "stable_id", second.FindByName("stable_id").Field)
	assert.Nil(t, second.Child(dsconfig.KindFilterPage, "extra"))
}

func TestPublishThenResolveIsCoherent(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.put(t, sampleConfig("x", "v1", "old_field"))
	notifier := &recordingNotifier{}
	r := newResolver(t, st, WithByteCache(bytecache.NewMemory(0)), WithNotifier(notifier))

	_, err := r.Resolve(ctx, "x", "v1")
	require.NoError(t, err)
	st.fetchCalls.Store(0)

	updated := sampleConfig("x", "v1", "new_field")
	require.NoError(t, r.Publish(ctx, updated))

	got, err := r.Resolve(ctx, "x", "v1")
	require.NoError(t, err)
	assert.True(t, got.Equal(updated))
	assert.Equal(t, int32(1), st.fetchCalls.Load())
	assert.Equal(t, []Key{{"x", "v1"}}, notifier.keys)
}

func TestStaleCacheIsOverwritten(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	cache := bytecache.NewMemory(0)

	v1 := sampleConfig("x", "v1", "stable_id")
	body1, err := markup.YAML{}.Encode(v1)
	require.NoError(t, err)
	d1, err := digest.Of(v1)
	require.NoError(t, err)
	require.NoError(t, cache.Put(ctx, "x", "v1", d1, body1))

	v2 := sampleConfig("x", "v1", "stable_identifier")
	d2 := st.put(t, v2)
	require.NotEqual(t, d1, d2)

	r := newResolver(t, st, WithByteCache(cache))
	got, err := r.Resolve(ctx, "x", "v1")
	require.NoError(t, err)
	assert.True(t, got.Equal(v2))
	assert.Equal(t, int32(1), st.fetchCalls.Load())

	cd, cdoc, ok, err := cache.Get(ctx, "x", "v1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, d2, cd)
	decoded, err := markup.YAML{}.Decode(cdoc)
	require.NoError(t, err)
	assert.True(t, decoded.Equal(v2))

	_, err = r.Resolve(ctx, "x", "v1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), st.fetchCalls.Load())
}

func TestSourceUnavailableLeavesCachesUntouched(t *testing.T) {
	ctx := context.Background()

	t.Run("digest query fails", func(t *testing.T) {
		st := newFakeStore()
		st.put(t, sampleConfig("x", "v1", "f"))
		st.digestErr = errors.New("connection refused")
		cache := bytecache.NewMemory(0)
		r := newResolver(t, st, WithByteCache(cache))

		tree, err := r.Resolve(ctx, "x", "v1")
		assert.Nil(t, tree)
		assert.ErrorIs(t, err, dsconfig.ErrSourceUnavailable)
		assert.Equal(t, 0, cache.Len())
		assert.False(t, r.memory.Has(Key{"x", "v1"}))
	})

	t.Run("fetch fails after stale check", func(t *testing.T) {
		st := newFakeStore()
		st.put(t, sampleConfig("x", "v1", "new"))
		cache := bytecache.NewMemory(0)
		stale := digest.Sum([]byte("stale"))
		require.NoError(t, cache.Put(ctx, "x", "v1", stale, []byte("old doc")))
		st.fetchErr = errors.New("timeout")
		r := newResolver(t, st, WithByteCache(cache))

		_, err := r.Resolve(ctx, "x", "v1")
		assert.ErrorIs(t, err, dsconfig.ErrSourceUnavailable)
		d, doc, ok, err := cache.Get(ctx, "x", "v1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, stale, d)
		assert.Equal(t, []byte("old doc"), doc)
		assert.False(t, r.memory.Has(Key{"x", "v1"}))
	})
}

func TestNotFound(t *testing.T) {
	r := newResolver(t, newFakeStore())
	_, err := r.Resolve(context.Background(), "x", "missing")
	assert.ErrorIs(t, err, dsconfig.ErrNotFound)
	assert.NotErrorIs(t, err, dsconfig.ErrSourceUnavailable)
}

func TestCorruptCacheEntryIsRefetched(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	tree := sampleConfig("x", "v1", "f")
	d := st.put(t, tree)
	cache := bytecache.NewMemory(0)

	tests := []struct {
		name string
		doc  []byte
	}{
		{"undecodable", []byte("kind: [")},
		{"content does not match digest", func() []byte {
			b, err := markup.YAML{}.Encode(sampleConfig("x", "v1", "other"))
			require.NoError(t, err)
			return b
		}()},
		{"document for another key", func() []byte {
			b, err := markup.YAML{}.Encode(sampleConfig("x", "v2", "f"))
			require.NoError(t, err)
			return b
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, cache.Put(ctx, "x", "v1", d, tt.doc))
			st.fetchCalls.Store(0)
			r := newResolver(t, st, WithByteCache(cache))

			got, err := r.Resolve(ctx, "x", "v1")
			require.NoError(t, err)
			assert.True(t, got.Equal(tree))
			assert.Equal(t, int32(1), st.fetchCalls.Load())

			_, doc, ok, err := cache.Get(ctx, "x", "v1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.NotEqual(t, tt.doc, doc)
		})
	}
}

func TestMalformedAuthoritativeDocumentSurfaces(t *testing.T) {
	st := newFakeStore()
	require.NoError(t, st.Publish(context.Background(), store.Document{
		Dataset: "x", Name: "v1", Body: []byte("kind: nonsense"), Digest: digest.Sum([]byte("a")),
	}))
	r := newResolver(t, st)
	_, err := r.Resolve(context.Background(), "x", "v1")
	assert.ErrorIs(t, err, dsconfig.ErrMalformedDocument)
	assert.False(t, r.memory.Has(Key{"x", "v1"}))
}

func TestFailingCacheIsBestEffort(t *testing.T) {
	st := newFakeStore()
	st.put(t, sampleConfig("x", "v1", "f"))
	cache := &failingCache{}
	r := newResolver(t, st, WithByteCache(cache))

	_, err := r.Resolve(context.Background(), "x", "v1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), cache.gets.Load())
	assert.Equal(t, int32(1), cache.puts.Load())

	r.Invalidate(context.Background(), "x", "v1")
	_, err = r.Resolve(context.Background(), "x", "v1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), st.fetchCalls.Load())
}

func TestConcurrentResolveSharesOneFetch(t *testing.T) {
	st := newFakeStore()
	st.put(t, sampleConfig("x", "v1", "f"))
	st.put(t, sampleConfig("y", "v1", "f"))
	st.gate = make(chan struct{})
	r := newResolver(t, st)

	var wg sync.WaitGroup
	results := make([]*dsconfig.Node, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tree, err := r.Resolve(context.Background(), "x", "v1")
			assert.NoError(t, err)
			results[i] = tree
		}()
	}

	require.Eventually(t, func() bool { return st.fetchCalls.Load() >= 1 }, testTimeout, testTick)
	close(st.gate)
	wg.Wait()

	assert.Equal(t, int32(1), st.fetchCalls.Load())
	for i := 1; i < len(results); i++ {
		require.NotNil(t, results[i])
		assert.True(t, results[0].Equal(results[i]))
		assert.NotSame(t, results[0], results[i])
	}

	_, err := r.Resolve(context.Background(), "y", "v1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), st.fetchCalls.Load())
}

func TestPublishDuringLoadWins(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	old := sampleConfig("x", "v1", "f")
	old.DisplayName = "old"
	st.put(t, old)
	st.hold = make(chan struct{})
	cache := bytecache.NewMemory(0)
	r := newResolver(t, st, WithByteCache(cache))

	first := make(chan *dsconfig.Node, 1)
	go func() {
		tree, err := r.Resolve(ctx, "x", "v1")
		assert.NoError(t, err)
		first <- tree
	}()
	require.Eventually(t, func() bool { return st.fetchCalls.Load() >= 1 }, testTimeout, testTick)

	updated := sampleConfig("x", "v1", "f")
	updated.DisplayName = "new"
	require.NoError(t, r.Publish(ctx, updated))

	second := make(chan *dsconfig.Node, 1)
	go func() {
		tree, err := r.Resolve(ctx, "x", "v1")
		assert.NoError(t, err)
		second <- tree
	}()
	close(st.hold)

	assert.Equal(t, "old", (<-first).DisplayName)
	assert.Equal(t, "new", (<-second).DisplayName)

	tree, err := r.Resolve(ctx, "x", "v1")
	require.NoError(t, err)
	assert.Equal(t, "new", tree.DisplayName)

	want, err := digest.Of(updated)
	require.NoError(t, err)
	got, _, ok, err := cache.Get(ctx, "x", "v1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.Equal(t, int32(1), st.maxInFlight.Load())
}

func TestInvalidateDuringLoadDoesNotCache(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.put(t, sampleConfig("x", "v1", "f"))
	st.hold = make(chan struct{})
	cache := bytecache.NewMemory(0)
	r := newResolver(t, st, WithByteCache(cache))

	done := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctx, "x", "v1")
		done <- err
	}()
	require.Eventually(t, func() bool { return st.fetchCalls.Load() >= 1 }, testTimeout, testTick)
	r.Invalidate(ctx, "x", "v1")
	close(st.hold)
	require.NoError(t, <-done)

	assert.False(t, r.memory.Has(Key{"x", "v1"}))
	assert.Equal(t, 0, cache.Len())
}

func TestCancelledCallerDoesNotFailOthers(t *testing.T) {
	st := newFakeStore()
	st.put(t, sampleConfig("x", "v1", "f"))
	st.gate = make(chan struct{})
	r := newResolver(t, st)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(firstCtx, "x", "v1")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return st.fetchCalls.Load() >= 1 }, testTimeout, testTick)

	other := make(chan *dsconfig.Node, 1)
	go func() {
		tree, err := r.Resolve(context.Background(), "x", "v1")
		assert.NoError(t, err)
		other <- tree
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(st.gate)
	tree := <-other
	require.NotNil(t, tree)
	assert.Equal(t, "v1", tree.InternalName)
	assert.True(t, r.memory.Has(Key{"x", "v1"}))
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.put(t, sampleConfig("x", "v1", "f"))
	cache := bytecache.NewMemory(0)
	r := newResolver(t, st, WithByteCache(cache))

	_, err := r.Resolve(ctx, "x", "v1")
	require.NoError(t, err)
	r.Invalidate(ctx, "x", "v1")
	assert.Equal(t, 0, cache.Len())
	assert.False(t, r.memory.Has(Key{"x", "v1"}))

	_, err = r.Resolve(ctx, "x", "v1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), st.fetchCalls.Load())
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.put(t, sampleConfig("x", "v1", "f"))
	notifier := &recordingNotifier{}
	r := newResolver(t, st, WithNotifier(notifier))

	_, err := r.Resolve(ctx, "x", "v1")
	require.NoError(t, err)
	require.NoError(t, r.Delete(ctx, "x", "v1"))

	_, err = r.Resolve(ctx, "x", "v1")
	assert.ErrorIs(t, err, dsconfig.ErrNotFound)
	assert.Equal(t, []Key{{"x", "v1"}}, notifier.keys)
}

type readOnlyStore struct{ store.Authoritative }

func TestDeleteUnsupported(t *testing.T) {
	r := newResolver(t, readOnlyStore{newFakeStore()})
	err := r.Delete(context.Background(), "x", "v1")
	assert.ErrorIs(t, err, errors.ErrUnsupported)
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.put(t, sampleConfig("x", "v1", "f"))
	r := newResolver(t, st)

	changed, err := r.Refresh(ctx, "x", "v1")
	require.NoError(t, err)
	assert.False(t, changed, "keys not in memory are left alone")

	_, err = r.Resolve(ctx, "x", "v1")
	require.NoError(t, err)

	changed, err = r.Refresh(ctx, "x", "v1")
	require.NoError(t, err)
	assert.False(t, changed)

	st.put(t, sampleConfig("x", "v1", "g"))
	changed, err = r.Refresh(ctx, "x", "v1")
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := r.Resolve(ctx, "x", "v1")
	require.NoError(t, err)
	assert.NotNil(t, got.FindByName("g"))
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.put(t, sampleConfig("x", "v1", "f"))
	st.put(t, sampleConfig("x", "v2", "f"))
	st.put(t, sampleConfig("y", "v1", "f"))
	r := newResolver(t, st, WithSyncConcurrency(2))

	require.NoError(t, r.Sync(ctx))
	assert.Equal(t, int32(3), st.fetchCalls.Load())
	assert.Equal(t, 3, r.memory.Len())

	require.NoError(t, st.Delete(ctx, "x", "v2"))
	st.put(t, sampleConfig("y", "v1", "changed"))
	require.NoError(t, r.Sync(ctx))
	assert.Equal(t, int32(4), st.fetchCalls.Load())
	assert.False(t, r.memory.Has(Key{"x", "v2"}))

	got, err := r.Resolve(ctx, "y", "v1")
	require.NoError(t, err)
	assert.NotNil(t, got.FindByName("changed"))
}

func TestLazyRootResolvesOnFirstAccess(t *testing.T) {
	st := newFakeStore()
	st.put(t, sampleConfig("x", "v1", "f"))
	r := newResolver(t, st)

	root := r.Lazy("x", "v1")
	assert.Equal(t, int32(0), st.fetchCalls.Load())
	assert.True(t, root.ContainsName("f"))
	assert.True(t, root.ContainsName("f"))
	assert.Equal(t, int32(1), st.fetchCalls.Load())
}

func TestListPassthrough(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.put(t, sampleConfig("x", "v1", "f"))
	st.put(t, sampleConfig("y", "v2", "f"))
	r := newResolver(t, st)

	ds, err := r.ListDatasets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, ds)

	names, err := r.ListNames(ctx, "y")
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, names)
}

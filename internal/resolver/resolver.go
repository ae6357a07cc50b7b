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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/cardinalhq/dsconfig/internal/logctx"
	"github.com/cardinalhq/dsconfig/internal/store"
	"github.com/cardinalhq/dsconfig/pkg/digest"
	"github.com/cardinalhq/dsconfig/pkg/dsconfig"
	"github.com/cardinalhq/dsconfig/pkg/markup"
)

// Key identifies one configuration.
type Key struct {
	Dataset string
	Name    string
}

func (k Key) String() string {
	return k.Dataset + "/" + k.Name
}

// ByteCache is the persistent tier. Implementations live in bytecache.
type ByteCache interface {
	Get(ctx context.Context, dataset, name string) (digest.Digest, []byte, bool, error)
	Put(ctx context.Context, dataset, name string, d digest.Digest, doc []byte) error
	Remove(ctx context.Context, dataset, name string) error
}

// Codec converts between documents and trees.
type Codec interface {
	Encode(root *dsconfig.Node) ([]byte, error)
	Decode(doc []byte) (*dsconfig.Node, error)
}

// Notifier tells other processes that a key changed.
type Notifier interface {
	Announce(ctx context.Context, source string, key Key, d digest.Digest) error
}

type entry struct {
	tree   *dsconfig.Node
	digest digest.Digest
	// gen is the key's generation when the load that produced the entry
	// started.
	gen uint64
}

// Resolver serves configurations from one authoritative store. Construct
// one per (store, credential) pair and Close it when done.
type Resolver struct {
	name     string
	store    store.Authoritative
	cache    ByteCache
	codec    Codec
	notifier Notifier
	logger   *slog.Logger

	memory          *ttlcache.Cache[Key, entry]
	memoryTTL       time.Duration
	loadTimeout     time.Duration
	syncConcurrency int

	flight singleflight.Group

	// mu orders memory writes against invalidation. Every invalidation
	// bumps the key's generation; a load only fills the caches when the
	// generation it started under is still current.
	mu   sync.Mutex
	gens map[Key]uint64
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithByteCache enables the persistent tier.
func WithByteCache(c ByteCache) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithCodec replaces the YAML codec.
func WithCodec(c Codec) Option {
	return func(r *Resolver) { r.codec = c }
}

// WithNotifier announces publishes and deletes to other processes.
func WithNotifier(n Notifier) Option {
	return func(r *Resolver) { r.notifier = n }
}

// WithLogger sets the logger used when the context carries none.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithMemoryTTL bounds how long a tree stays in memory. Zero keeps trees
// until they are invalidated.
func WithMemoryTTL(ttl time.Duration) Option {
	return func(r *Resolver) { r.memoryTTL = ttl }
}

// WithLoadTimeout bounds one shared load. The load outlives the caller
// that started it so the callers waiting on it can still use the result.
func WithLoadTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.loadTimeout = d
		}
	}
}

// WithSyncConcurrency limits parallel refreshes in Sync.
func WithSyncConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.syncConcurrency = n
		}
	}
}

// New returns a resolver named name over st.
func New(name string, st store.Authoritative, opts ...Option) *Resolver {
	r := &Resolver{
		name:            name,
		store:           st,
		codec:           markup.YAML{},
		loadTimeout:     2 * time.Minute,
		syncConcurrency: 4,
		gens:            make(map[Key]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}

	cacheOpts := []ttlcache.Option[Key, entry]{ttlcache.WithDisableTouchOnHit[Key, entry]()}
	if r.memoryTTL > 0 {
		cacheOpts = append(cacheOpts, ttlcache.WithTTL[Key, entry](r.memoryTTL))
	}
	r.memory = ttlcache.New(cacheOpts...)
	go r.memory.Start()
	return r
}

// Close stops the memory tier's expiration loop.
func (r *Resolver) Close() {
	r.memory.Stop()
}

// Name identifies the resolver's source.
func (r *Resolver) Name() string {
	return r.name
}

func (r *Resolver) log(ctx context.Context) *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return logctx.FromContext(ctx)
}

// Resolve returns a private copy of the configuration for (dataset, name).
// Concurrent calls for one key share a single load. A caller whose context
// ends stops waiting without failing the others.
func (r *Resolver) Resolve(ctx context.Context, dataset, name string) (*dsconfig.Node, error) {
	key := Key{Dataset: dataset, Name: name}
	for {
		if item := r.memory.Get(key); item != nil {
			lookupCounter.Add(ctx, 1, tierAttr(r.name, "memory"))
			return item.Value().tree.Clone(), nil
		}

		want := r.generation(key)
		ch := r.flight.DoChan(key.String(), func() (any, error) {
			lctx := logctx.WithKey(logctx.WithSource(context.WithoutCancel(ctx), r.name), dataset, name)
			lctx, cancel := context.WithTimeout(lctx, r.loadTimeout)
			defer cancel()
			return r.load(lctx, key)
		})

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("resolve %s: %w", key, context.Cause(ctx))
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			e := res.Val.(entry)
			if e.gen < want {
				// Joined a load that started before the last invalidation.
				continue
			}
			return e.tree.Clone(), nil
		}
	}
}

func (r *Resolver) generation(key Key) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gens[key]
}

// remember stores e in memory unless the key was invalidated after e's load
// started.
func (r *Resolver) remember(key Key, e entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gens[key] == e.gen {
		r.memory.Set(key, e, ttlcache.DefaultTTL)
	}
}

// forget drops key from memory and moves its generation on, so loads
// already running cannot repopulate it.
func (r *Resolver) forget(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gens[key]++
	r.memory.Delete(key)
}

// Lazy returns a root that resolves itself on first access.
func (r *Resolver) Lazy(dataset, name string) *dsconfig.Node {
	return dsconfig.NewLazyRoot(dataset, name, dsconfig.LoaderFunc(r.Resolve))
}

func (r *Resolver) load(ctx context.Context, key Key) (entry, error) {
	if item := r.memory.Get(key); item != nil {
		lookupCounter.Add(ctx, 1, tierAttr(r.name, "memory"))
		return item.Value(), nil
	}
	gen := r.generation(key)

	current, err := r.store.CurrentDigest(ctx, key.Dataset, key.Name)
	if err != nil {
		return entry{}, r.storeErr(key, "read digest of", err)
	}

	if e, ok := r.fromCache(ctx, key, current); ok {
		lookupCounter.Add(ctx, 1, tierAttr(r.name, "cache"))
		e.gen = gen
		r.remember(key, e)
		return e, nil
	}

	e, doc, err := r.fetch(ctx, key)
	if err != nil {
		return entry{}, err
	}
	if e.digest != current {
		r.log(ctx).Debug("configuration changed between digest check and fetch",
			slog.String("source", r.name),
			slog.String("key", key.String()),
			slog.String("expected", current.String()),
			slog.String("fetched", e.digest.String()))
	}
	lookupCounter.Add(ctx, 1, tierAttr(r.name, "source"))
	e.gen = gen
	if r.generation(key) != gen {
		r.log(ctx).Debug("configuration invalidated during load, not caching",
			slog.String("source", r.name),
			slog.String("key", key.String()))
		return e, nil
	}
	r.cachePut(ctx, key, e.digest, doc)
	r.remember(key, e)
	return e, nil
}

func (r *Resolver) fetch(ctx context.Context, key Key) (entry, []byte, error) {
	fetchCounter.Add(ctx, 1, tierAttr(r.name, "source"))
	doc, err := r.store.Fetch(ctx, key.Dataset, key.Name)
	if err != nil {
		return entry{}, nil, r.storeErr(key, "fetch", err)
	}
	tree, err := r.decode(key, doc)
	if err != nil {
		return entry{}, nil, err
	}
	d, err := digest.Of(tree)
	if err != nil {
		return entry{}, nil, err
	}
	return entry{tree: tree, digest: d}, doc, nil
}

func (r *Resolver) decode(key Key, doc []byte) (*dsconfig.Node, error) {
	tree, err := r.codec.Decode(doc)
	if err != nil {
		if !errors.Is(err, dsconfig.ErrMalformedDocument) {
			err = fmt.Errorf("%w: %w", dsconfig.ErrMalformedDocument, err)
		}
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if tree.Dataset != key.Dataset || tree.InternalName != key.Name {
		return nil, fmt.Errorf("decode %s: %w: document is for %s/%s", key,
			dsconfig.ErrMalformedDocument, tree.Dataset, tree.InternalName)
	}
	return tree, nil
}

func (r *Resolver) fromCache(ctx context.Context, key Key, current digest.Digest) (entry, bool) {
	if r.cache == nil {
		return entry{}, false
	}
	d, doc, ok, err := r.cache.Get(ctx, key.Dataset, key.Name)
	if err != nil {
		r.cacheFailed(ctx, key, "read", err)
		return entry{}, false
	}
	if !ok || d != current {
		return entry{}, false
	}

	tree, err := r.decode(key, doc)
	if err == nil {
		var got digest.Digest
		got, err = digest.Of(tree)
		if err == nil && got != d {
			err = fmt.Errorf("%w: cached content hashes to %s, recorded %s", dsconfig.ErrMalformedDocument, got, d)
		}
	}
	if err != nil {
		r.log(ctx).Warn("discarding corrupt cache entry",
			slog.String("source", r.name),
			slog.String("key", key.String()),
			slog.Any("error", err))
		if rmErr := r.cache.Remove(ctx, key.Dataset, key.Name); rmErr != nil {
			r.cacheFailed(ctx, key, "remove", rmErr)
		}
		return entry{}, false
	}
	return entry{tree: tree, digest: d}, true
}

func (r *Resolver) cachePut(ctx context.Context, key Key, d digest.Digest, doc []byte) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Put(ctx, key.Dataset, key.Name, d, doc); err != nil {
		r.cacheFailed(ctx, key, "write", err)
	}
}

func (r *Resolver) cacheFailed(ctx context.Context, key Key, op string, err error) {
	cacheErrorCounter.Add(ctx, 1, tierAttr(r.name, op))
	r.log(ctx).Warn("persistent cache "+op+" failed",
		slog.String("source", r.name),
		slog.String("key", key.String()),
		slog.Any("error", err))
}

func (r *Resolver) storeErr(key Key, op string, err error) error {
	if errors.Is(err, dsconfig.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", op, key, dsconfig.ErrNotFound)
	}
	if errors.Is(err, dsconfig.ErrSourceUnavailable) || errors.Is(err, dsconfig.ErrMalformedDocument) {
		return fmt.Errorf("%s %s: %w", op, key, err)
	}
	return fmt.Errorf("%s %s: %w: %w", op, key, dsconfig.ErrSourceUnavailable, err)
}

// Invalidate drops the key from memory and from the persistent cache.
func (r *Resolver) Invalidate(ctx context.Context, dataset, name string) {
	key := Key{Dataset: dataset, Name: name}
	r.forget(key)
	if r.cache != nil {
		if err := r.cache.Remove(ctx, dataset, name); err != nil {
			r.cacheFailed(ctx, key, "remove", err)
		}
	}
}

// Publish writes tree to the store and invalidates its key so the next
// Resolve re-synchronizes.
func (r *Resolver) Publish(ctx context.Context, tree *dsconfig.Node) error {
	if err := tree.EnsureLoaded(ctx); err != nil {
		return err
	}
	if err := dsconfig.CheckRoot(tree); err != nil {
		return err
	}
	key := Key{Dataset: tree.Dataset, Name: tree.InternalName}
	body, err := r.codec.Encode(tree)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	d, err := digest.Of(tree)
	if err != nil {
		return err
	}
	err = r.store.Publish(ctx, store.Document{
		Dataset:     tree.Dataset,
		Name:        tree.InternalName,
		DisplayName: tree.DisplayName,
		Description: tree.Description,
		Body:        body,
		Digest:      d,
	})
	if err != nil {
		return r.storeErr(key, "publish", err)
	}
	r.Invalidate(ctx, key.Dataset, key.Name)
	r.announce(ctx, key, d)
	r.log(ctx).Info("published configuration",
		slog.String("source", r.name),
		slog.String("key", key.String()),
		slog.String("digest", d.String()))
	return nil
}

// Delete removes the configuration from the store, when the store allows
// it, and invalidates the key.
func (r *Resolver) Delete(ctx context.Context, dataset, name string) error {
	del, ok := r.store.(store.Deleter)
	if !ok {
		return fmt.Errorf("source %s: delete: %w", r.name, errors.ErrUnsupported)
	}
	key := Key{Dataset: dataset, Name: name}
	if err := del.Delete(ctx, dataset, name); err != nil {
		return r.storeErr(key, "delete", err)
	}
	r.Invalidate(ctx, dataset, name)
	r.announce(ctx, key, digest.Zero)
	return nil
}

func (r *Resolver) announce(ctx context.Context, key Key, d digest.Digest) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Announce(ctx, r.name, key, d); err != nil {
		r.log(ctx).Warn("failed to announce configuration change",
			slog.String("source", r.name),
			slog.String("key", key.String()),
			slog.Any("error", err))
	}
}

// ListDatasets lists the datasets the store holds configurations for.
func (r *Resolver) ListDatasets(ctx context.Context) ([]string, error) {
	ds, err := r.store.ListDatasets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list datasets of %s: %w: %w", r.name, dsconfig.ErrSourceUnavailable, err)
	}
	return ds, nil
}

// ListNames lists the configuration names stored for dataset.
func (r *Resolver) ListNames(ctx context.Context, dataset string) ([]string, error) {
	names, err := r.store.ListNames(ctx, dataset)
	if err != nil {
		return nil, fmt.Errorf("list names of %s in %s: %w: %w", dataset, r.name, dsconfig.ErrSourceUnavailable, err)
	}
	return names, nil
}

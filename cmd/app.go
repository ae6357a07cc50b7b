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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cardinalhq/dsconfig/config"
	"github.com/cardinalhq/dsconfig/configdb"
	"github.com/cardinalhq/dsconfig/internal/awsclient"
	"github.com/cardinalhq/dsconfig/internal/azureclient"
	"github.com/cardinalhq/dsconfig/internal/bytecache"
	"github.com/cardinalhq/dsconfig/internal/dbopen"
	"github.com/cardinalhq/dsconfig/internal/federation"
	"github.com/cardinalhq/dsconfig/internal/invalidation"
	"github.com/cardinalhq/dsconfig/internal/objstore"
	"github.com/cardinalhq/dsconfig/internal/pubsub"
	"github.com/cardinalhq/dsconfig/internal/resolver"
	"github.com/cardinalhq/dsconfig/internal/schema"
	"github.com/cardinalhq/dsconfig/internal/schema/duckschema"
	"github.com/cardinalhq/dsconfig/internal/schema/pgschema"
	"github.com/cardinalhq/dsconfig/internal/store"
	"github.com/cardinalhq/dsconfig/pkg/dsconfig"
)

// SchemaDBEnvPrefix selects the SCHEMADB_* variables of the postgres
// schema driver.
const SchemaDBEnvPrefix = "SCHEMADB"

// app is everything one command invocation builds from the configuration.
type app struct {
	cfg       *config.Config
	registry  *federation.Registry
	resolvers map[string]*resolver.Resolver
	watched   map[string]*objstore.FileStore
	bus       *invalidation.Bus
	routes    []pubsub.Route

	aws   *awsclient.Manager
	azure *azureclient.Manager

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{
		cfg:       cfg,
		registry:  federation.New(federation.WithConcurrency(cfg.Resolver.FederationConcurrency)),
		resolvers: map[string]*resolver.Resolver{},
		watched:   map[string]*objstore.FileStore{},
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if cfg.Invalidation.Enabled {
		a.bus, err = invalidation.New(cfg.Invalidation)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.bus.Close)
	}

	for _, sc := range cfg.Sources {
		var (
			st     store.Authoritative
			bucket *objstore.Store
		)
		switch sc.Kind {
		case config.SourcePostgres:
			s, err := configdb.ConfigDBStore(ctx, configdbOptions(sc)...)
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", sc.Name, err)
			}
			a.closers = append(a.closers, func() error { s.Close(); return nil })
			st = s

		case config.SourceS3, config.SourceGCS:
			mgr, err := a.awsManager(ctx)
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", sc.Name, err)
			}
			client, err := mgr.GetS3(ctx, s3Options(sc)...)
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", sc.Name, err)
			}
			if sc.Kind == config.SourceGCS {
				bucket = objstore.NewGCSStore(client, sc.Bucket, objstoreOptions(sc)...)
			} else {
				bucket = objstore.NewS3Store(client, sc.Bucket, objstoreOptions(sc)...)
			}
			st = bucket

		case config.SourceAzure:
			mgr, err := a.azureManager()
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", sc.Name, err)
			}
			var opts []azureclient.BlobOption
			if sc.StorageAccount != "" {
				opts = append(opts, azureclient.WithBlobStorageAccount(sc.StorageAccount))
			}
			if sc.Endpoint != "" {
				opts = append(opts, azureclient.WithBlobEndpoint(sc.Endpoint))
			}
			client, err := mgr.GetBlob(ctx, opts...)
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", sc.Name, err)
			}
			bucket = objstore.NewAzureStore(client, sc.Container, objstoreOptions(sc)...)
			st = bucket

		case config.SourceFile:
			fs := objstore.NewFileStore(sc.Path, objstoreOptions(sc)...)
			if sc.Watch {
				a.watched[sc.Name] = fs
			}
			st = fs

		default:
			return nil, fmt.Errorf("source %s: unknown kind %q", sc.Name, sc.Kind)
		}

		opts, err := a.resolverOptions(ctx, sc.Name)
		if err != nil {
			return nil, err
		}
		r := resolver.New(sc.Name, st, opts...)
		a.closers = append(a.closers, func() error { r.Close(); return nil })
		if err := a.registry.Register(r); err != nil {
			return nil, err
		}
		a.resolvers[sc.Name] = r

		if bucket != nil {
			name := sc.Bucket
			if sc.Kind == config.SourceAzure {
				name = sc.Container
			}
			a.routes = append(a.routes, pubsub.Route{Bucket: name, Keys: bucket, Digests: bucket, Target: r})
		}
	}
	return a, nil
}

// awsManager creates the shared AWS manager on first use.
func (a *app) awsManager(ctx context.Context) (*awsclient.Manager, error) {
	if a.aws == nil {
		mgr, err := awsclient.NewManager(ctx)
		if err != nil {
			return nil, err
		}
		a.aws = mgr
	}
	return a.aws, nil
}

func (a *app) azureManager() (*azureclient.Manager, error) {
	if a.azure == nil {
		mgr, err := azureclient.NewManager()
		if err != nil {
			return nil, err
		}
		a.azure = mgr
	}
	return a.azure, nil
}

func configdbOptions(sc config.SourceConfig) []configdb.StoreOption {
	switch {
	case sc.CompressThreshold < 0:
		return []configdb.StoreOption{configdb.WithCompressThreshold(0)}
	case sc.CompressThreshold > 0:
		return []configdb.StoreOption{configdb.WithCompressThreshold(sc.CompressThreshold)}
	}
	return nil
}

func objstoreOptions(sc config.SourceConfig) []objstore.Option {
	opts := []objstore.Option{objstore.WithPrefix(sc.Prefix)}
	switch {
	case sc.CompressThreshold < 0:
		opts = append(opts, objstore.WithCompressThreshold(0))
	case sc.CompressThreshold > 0:
		opts = append(opts, objstore.WithCompressThreshold(sc.CompressThreshold))
	}
	return opts
}

func s3Options(sc config.SourceConfig) []awsclient.S3Option {
	var opts []awsclient.S3Option
	if sc.RoleARN != "" {
		opts = append(opts, awsclient.WithRole(sc.RoleARN))
	}
	if sc.Region != "" {
		opts = append(opts, awsclient.WithRegion(sc.Region))
	}
	if sc.Endpoint != "" {
		opts = append(opts, awsclient.WithEndpoint(sc.Endpoint))
	}
	if sc.PathStyle {
		opts = append(opts, awsclient.WithPathStyle())
	}
	if sc.InsecureTLS {
		opts = append(opts, awsclient.WithInsecureTLS())
	}
	if sc.Kind == config.SourceGCS {
		opts = append(opts, awsclient.WithGCPProvider())
	}
	return opts
}

// resolverOptions gives each source its own persistent cache, since cache
// entries are keyed by dataset and name only.
func (a *app) resolverOptions(ctx context.Context, source string) ([]resolver.Option, error) {
	opts := []resolver.Option{
		resolver.WithMemoryTTL(a.cfg.Resolver.MemoryTTL),
		resolver.WithSyncConcurrency(a.cfg.Resolver.SyncConcurrency),
	}
	if a.bus != nil {
		opts = append(opts, resolver.WithNotifier(a.bus))
	}

	var (
		cache interface {
			resolver.ByteCache
			io.Closer
		}
		err error
	)
	switch a.cfg.Cache.Kind {
	case config.CacheNone, "":
		return opts, nil
	case config.CacheMemory:
		cache = bytecache.NewMemory(a.cfg.Cache.Capacity)
	case config.CacheSQLite:
		if err := os.MkdirAll(a.cfg.Cache.Path, 0o755); err != nil {
			return nil, err
		}
		cache, err = bytecache.OpenSQLite(ctx, filepath.Join(a.cfg.Cache.Path, source+".sqlite"))
	case config.CacheDir:
		cache, err = bytecache.OpenDir(filepath.Join(a.cfg.Cache.Path, source))
	default:
		return nil, fmt.Errorf("unknown cache kind %q", a.cfg.Cache.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("cache for %s: %w", source, err)
	}
	a.closers = append(a.closers, cache.Close)
	return append(opts, resolver.WithByteCache(cache)), nil
}

// source returns the named resolver, or an error listing the known ones.
func (a *app) source(name string) (*resolver.Resolver, error) {
	if r, ok := a.resolvers[name]; ok {
		return r, nil
	}
	var known []string
	for _, s := range a.registry.Sources() {
		known = append(known, s.Name())
	}
	return nil, fmt.Errorf("unknown source %q (configured: %v)", name, known)
}

// writable returns the resolver commands that change documents act on:
// the named one, or the first configured source.
func (a *app) writable(name string) (*resolver.Resolver, error) {
	if name != "" {
		return a.source(name)
	}
	sources := a.registry.Sources()
	if len(sources) == 0 {
		return nil, errors.New("no sources configured")
	}
	return a.source(sources[0].Name())
}

// targets returns the named resolver, or every resolver in registration
// order when name is empty.
func (a *app) targets(name string) ([]*resolver.Resolver, error) {
	if name != "" {
		r, err := a.source(name)
		if err != nil {
			return nil, err
		}
		return []*resolver.Resolver{r}, nil
	}
	var out []*resolver.Resolver
	for _, s := range a.registry.Sources() {
		out = append(out, a.resolvers[s.Name()])
	}
	return out, nil
}

// resolve looks a configuration up in one source, or across all of them
// in order when source is empty.
func (a *app) resolve(ctx context.Context, source, dataset, name string) (*dsconfig.Node, error) {
	if source != "" {
		r, err := a.source(source)
		if err != nil {
			return nil, err
		}
		return r.Resolve(ctx, dataset, name)
	}
	tree, found, err := a.registry.Resolve(ctx, dataset, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%s/%s: %w", dataset, name, dsconfig.ErrNotFound)
	}
	return tree, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openSchema builds the introspector validation and inference read from.
func openSchema(ctx context.Context, cfg config.SchemaConfig) (schema.Introspector, func(), error) {
	switch cfg.Driver {
	case config.SchemaPostgres:
		pool, err := dbopen.Connect(ctx, SchemaDBEnvPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("schema database: %w", err)
		}
		return pgschema.New(pool, cfg.SchemaName), pool.Close, nil

	case config.SchemaDuckDB:
		in, err := duckschema.OpenWithSettings(ctx, cfg.Path, cfg.DuckDB.Settings(), cfg.Views...)
		if err != nil {
			return nil, nil, err
		}
		return in, func() { _ = in.Close() }, nil

	case config.SchemaSnapshot:
		f, err := os.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		defer func() { _ = f.Close() }()
		snap, err := schema.ReadSnapshot(f)
		if err != nil {
			return nil, nil, fmt.Errorf("read schema snapshot %s: %w", cfg.Path, err)
		}
		slog.Debug("loaded schema snapshot", slog.String("path", cfg.Path), slog.Int("tables", len(snap.Tables())))
		return snap, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown schema driver %q", cfg.Driver)
}

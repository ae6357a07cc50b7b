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
	"log/slog"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/dsconfig/pkg/dsconfig"
)

// Refresh re-checks a key held in memory against the store's current
// digest and reloads it when the digest moved. Keys not in memory are left
// alone. It reports whether the key was reloaded.
func (r *Resolver) Refresh(ctx context.Context, dataset, name string) (bool, error) {
	key := Key{Dataset: dataset, Name: name}
	item := r.memory.Get(key)
	if item == nil {
		return false, nil
	}
	current, err := r.store.CurrentDigest(ctx, dataset, name)
	if errors.Is(err, dsconfig.ErrNotFound) {
		r.Invalidate(ctx, dataset, name)
		return true, nil
	}
	if err != nil {
		return false, r.storeErr(key, "read digest of", err)
	}
	if current == item.Value().digest {
		return false, nil
	}
	r.forget(key)
	if _, err := r.Resolve(ctx, dataset, name); err != nil {
		return false, err
	}
	return true, nil
}

// Sync brings every configuration the store lists up to date: keys in
// memory are refreshed, keys not yet seen are loaded, and memory entries the
// store no longer lists are dropped. Per-key failures are collected and
// returned together.
func (r *Resolver) Sync(ctx context.Context) error {
	datasets, err := r.ListDatasets(ctx)
	if err != nil {
		return err
	}

	listed := mapset.NewThreadUnsafeSet[Key]()
	for _, ds := range datasets {
		names, err := r.ListNames(ctx, ds)
		if err != nil {
			return err
		}
		for _, name := range names {
			listed.Add(Key{Dataset: ds, Name: name})
		}
	}

	var (
		mu     sync.Mutex
		errs   *multierror.Error
		loaded int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.syncConcurrency)
	for key := range listed.Iter() {
		g.Go(func() error {
			var err error
			if r.memory.Has(key) {
				_, err = r.Refresh(gctx, key.Dataset, key.Name)
			} else {
				_, err = r.Resolve(gctx, key.Dataset, key.Name)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierror.Append(errs, err)
			} else {
				loaded++
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, key := range r.memory.Keys() {
		if !listed.Contains(key) {
			r.Invalidate(ctx, key.Dataset, key.Name)
		}
	}

	r.log(ctx).Info("synchronized configurations",
		slog.String("source", r.name),
		slog.Int("listed", listed.Cardinality()),
		slog.Int("loaded", loaded))
	return errs.ErrorOrNil()
}

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

// Package federation answers configuration queries across several
// independent sources, tried in the order they were registered.
package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/dsconfig/internal/logctx"
	"github.com/cardinalhq/dsconfig/internal/resolver"
	"github.com/cardinalhq/dsconfig/pkg/dsconfig"
)

// ErrDuplicateSource is returned when a source name is registered twice.
var ErrDuplicateSource = errors.New("source already registered")

// Source is one configuration source. *resolver.Resolver implements it.
type Source interface {
	Name() string
	Resolve(ctx context.Context, dataset, name string) (*dsconfig.Node, error)
	ListDatasets(ctx context.Context) ([]string, error)
	ListNames(ctx context.Context, dataset string) ([]string, error)
	Sync(ctx context.Context) error
}

var _ Source = (*resolver.Resolver)(nil)

// Registry holds sources in registration order. It is safe for concurrent
// use; queries work on a snapshot of the sources taken when they start.
type Registry struct {
	mu      sync.RWMutex
	sources []Source

	concurrency int
	logger      *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithConcurrency limits how many sources are probed at once.
func WithConcurrency(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLogger sets the logger used when the context carries none.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{concurrency: 4}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) log(ctx context.Context) *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return logctx.FromContext(ctx)
}

// Register appends s. Names must be unique.
func (r *Registry) Register(s Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.ContainsFunc(r.sources, func(have Source) bool { return have.Name() == s.Name() }) {
		return fmt.Errorf("%s: %w", s.Name(), ErrDuplicateSource)
	}
	r.sources = append(r.sources, s)
	return nil
}

// Deregister removes the source called name and reports whether it was
// registered.
func (r *Registry) Deregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.IndexFunc(r.sources, func(s Source) bool { return s.Name() == name })
	if i < 0 {
		return false
	}
	r.sources = slices.Delete(r.sources, i, i+1)
	return true
}

// Sources returns the registered sources in registration order.
func (r *Registry) Sources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.sources)
}

// Source returns the source called name.
func (r *Registry) Source(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sources {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// Resolve returns the configuration from the first source holding
// (dataset, name). found is false with a nil error when no source holds
// it. When no source holds it but some could not be asked, the collected
// failures are returned instead, since absence cannot be claimed.
func (r *Registry) Resolve(ctx context.Context, dataset, name string) (*dsconfig.Node, bool, error) {
	var errs *multierror.Error
	for _, s := range r.Sources() {
		tree, err := s.Resolve(ctx, dataset, name)
		switch {
		case err == nil:
			return tree, true, nil
		case errors.Is(err, dsconfig.ErrNotFound):
			continue
		case errors.Is(err, dsconfig.ErrMalformedDocument):
			return nil, false, fmt.Errorf("source %s: %w", s.Name(), err)
		default:
			r.log(ctx).Warn("source failed during federated lookup",
				slog.String("source", s.Name()),
				slog.String("dataset", dataset),
				slog.String("name", name),
				slog.Any("error", err))
			errs = multierror.Append(errs, fmt.Errorf("source %s: %w", s.Name(), err))
		}
	}
	return nil, false, errs.ErrorOrNil()
}

type listing struct {
	datasets []string
	err      error
}

// candidates lists, for every source, the datasets holding a configuration
// called name. Sources are listed concurrently.
func (r *Registry) candidates(ctx context.Context, sources []Source, name string) []listing {
	out := make([]listing, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, s := range sources {
		g.Go(func() error {
			datasets, err := s.ListDatasets(gctx)
			if err != nil {
				out[i].err = err
				return nil
			}
			for _, ds := range datasets {
				names, err := s.ListNames(gctx, ds)
				if err != nil {
					out[i].err = err
					return nil
				}
				if slices.Contains(names, name) {
					out[i].datasets = append(out[i].datasets, ds)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// ResolveAcrossSources returns the first configuration whose internal name
// is name, trying sources in registration order and each source's datasets
// in the order it lists them. Absence follows the rules of Resolve.
func (r *Registry) ResolveAcrossSources(ctx context.Context, name string) (*dsconfig.Node, bool, error) {
	sources := r.Sources()
	var errs *multierror.Error
	for i, l := range r.candidates(ctx, sources, name) {
		s := sources[i]
		if l.err != nil {
			errs = multierror.Append(errs, fmt.Errorf("source %s: %w", s.Name(), l.err))
		}
		for _, ds := range l.datasets {
			tree, err := s.Resolve(ctx, ds, name)
			switch {
			case err == nil:
				return tree, true, nil
			case errors.Is(err, dsconfig.ErrNotFound):
				// removed since it was listed
			default:
				errs = multierror.Append(errs, fmt.Errorf("source %s: %w", s.Name(), err))
			}
		}
	}
	if errs != nil {
		r.log(ctx).Warn("federated lookup incomplete",
			slog.String("name", name),
			slog.Any("error", errs))
	}
	return nil, false, errs.ErrorOrNil()
}

// ListDatasets returns the union of every source's datasets, in
// registration order and then each source's own order. Datasets of
// sources that answered are returned even when others failed.
func (r *Registry) ListDatasets(ctx context.Context) ([]string, error) {
	seen := mapset.NewThreadUnsafeSet[string]()
	var (
		out  []string
		errs *multierror.Error
	)
	for _, s := range r.Sources() {
		datasets, err := s.ListDatasets(ctx)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("source %s: %w", s.Name(), err))
			continue
		}
		for _, ds := range datasets {
			if seen.Add(ds) {
				out = append(out, ds)
			}
		}
	}
	return out, errs.ErrorOrNil()
}

// SyncAll synchronizes every source concurrently and returns the collected
// failures.
func (r *Registry) SyncAll(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs *multierror.Error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, s := range r.Sources() {
		g.Go(func() error {
			if err := s.Sync(gctx); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("source %s: %w", s.Name(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs.ErrorOrNil()
}

// SupportsDataset reports whether any source holds a configuration for
// dataset. A false answer comes with an error when some source could not
// be asked.
func (r *Registry) SupportsDataset(ctx context.Context, dataset string) (bool, error) {
	var errs *multierror.Error
	for _, s := range r.Sources() {
		datasets, err := s.ListDatasets(ctx)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("source %s: %w", s.Name(), err))
			continue
		}
		if slices.Contains(datasets, dataset) {
			return true, nil
		}
	}
	return false, errs.ErrorOrNil()
}

// SupportsName reports whether any source holds a configuration whose
// internal name is name.
func (r *Registry) SupportsName(ctx context.Context, name string) (bool, error) {
	var errs *multierror.Error
	for _, l := range r.candidates(ctx, r.Sources(), name) {
		if len(l.datasets) > 0 {
			return true, nil
		}
		if l.err != nil {
			errs = multierror.Append(errs, l.err)
		}
	}
	return false, errs.ErrorOrNil()
}

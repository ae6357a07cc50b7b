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
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/dsconfig/internal/healthcheck"
	"github.com/cardinalhq/dsconfig/internal/invalidation"
	"github.com/cardinalhq/dsconfig/internal/objstore"
	"github.com/cardinalhq/dsconfig/internal/pubsub"
	"github.com/cardinalhq/dsconfig/internal/resolver"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep caches current from invalidation events, bucket notifications, watched directories and periodic syncs",
	Args:  cobra.NoArgs,
	RunE: runWithApp(func(ctx context.Context, _ *cobra.Command, a *app, _ []string) error {
		backends, err := a.notificationBackends(ctx)
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)

		var health *healthcheck.Server
		if addr := a.cfg.Watch.HealthAddr; addr != "" {
			var opts []healthcheck.Option
			if a.cfg.Watch.Pprof {
				opts = append(opts, healthcheck.WithPprof())
			}
			health = healthcheck.New(addr, opts...)
			health.Require(conditionInitialSync)
			g.Go(func() error {
				return health.Run(gctx)
			})
		}

		if a.bus != nil {
			var targets []invalidation.Invalidator
			for _, s := range a.registry.Sources() {
				targets = append(targets, a.resolvers[s.Name()])
			}
			g.Go(func() error {
				return a.bus.Listen(gctx, invalidation.Dispatch(targets...))
			})
		}

		var notifier resolver.Notifier
		if a.bus != nil {
			notifier = a.bus
		}
		for name, fs := range a.watched {
			r := a.resolvers[name]
			g.Go(func() error {
				return fs.Watch(gctx, onFileChange(gctx, r, fs, notifier))
			})
		}

		if len(backends) > 0 {
			router := pubsub.NewRouter(a.routes, notifier)
			for _, b := range backends {
				slog.Info("consuming bucket notifications", slog.String("backend", b.Name()), slog.Int("routes", len(a.routes)))
				g.Go(func() error {
					return b.Run(gctx, router.Handle)
				})
			}
		}

		if interval := a.cfg.Resolver.SyncInterval; interval > 0 {
			g.Go(func() error {
				syncLoop(gctx, a, interval, health)
				return nil
			})
		} else if health != nil {
			health.Set(conditionInitialSync, true)
		}

		err = g.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}),
}

// onFileChange returns the callback for a watched directory.
func onFileChange(ctx context.Context, r *resolver.Resolver, fs *objstore.FileStore, n resolver.Notifier) func(dataset, name string) {
	return func(dataset, name string) {
		pubsub.Propagate(ctx, r, fs, n, dataset, name, false)
	}
}

const conditionInitialSync = "initial_sync"

// syncLoop syncs every source now and then every interval. The daemon is
// ready once one full pass has succeeded.
func syncLoop(ctx context.Context, a *app, interval time.Duration, health *healthcheck.Server) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		outcome := "ok"
		if err := a.registry.SyncAll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			outcome = "error"
			slog.Error("periodic sync failed", slog.Any("error", err))
		} else if health != nil {
			health.Set(conditionInitialSync, true)
		}
		syncCounter.Add(ctx, 1, metric.WithAttributeSet(commonAttributes),
			metric.WithAttributes(attribute.String("outcome", outcome)))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

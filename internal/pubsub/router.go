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

package pubsub

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cardinalhq/dsconfig/internal/invalidation"
	"github.com/cardinalhq/dsconfig/internal/logctx"
	"github.com/cardinalhq/dsconfig/internal/resolver"
	"github.com/cardinalhq/dsconfig/pkg/digest"
	"github.com/cardinalhq/dsconfig/pkg/dsconfig"
)

// KeyParser maps an object key to the configuration it holds.
type KeyParser interface {
	ParseKey(key string) (dataset, name string, ok bool)
}

// DigestReader reports the digest of the stored document.
type DigestReader interface {
	CurrentDigest(ctx context.Context, dataset, name string) (digest.Digest, error)
}

// Route ties one bucket, and the key layout of the store inside it, to the
// source serving it. An *objstore.Store is both the KeyParser and the
// DigestReader.
type Route struct {
	Bucket  string
	Keys    KeyParser
	Digests DigestReader
	Target  invalidation.Invalidator
}

// Router applies changes to every route whose bucket and key layout match.
type Router struct {
	routes   []Route
	notifier resolver.Notifier
}

// NewRouter returns a router over routes. A nil notifier keeps
// invalidations local to this process.
func NewRouter(routes []Route, n resolver.Notifier) *Router {
	return &Router{routes: routes, notifier: n}
}

// Handle is a Handler. Changes outside every route are counted and
// dropped.
func (r *Router) Handle(ctx context.Context, changes []Change) error {
	for _, c := range changes {
		matched := false
		for _, rt := range r.routes {
			if rt.Bucket != c.Bucket {
				continue
			}
			dataset, name, ok := rt.Keys.ParseKey(c.Key)
			if !ok {
				continue
			}
			matched = true
			Propagate(ctx, rt.Target, rt.Digests, r.notifier, dataset, name, c.Removed)
		}
		outcome := "routed"
		if !matched {
			outcome = "ignored"
			logctx.FromContext(ctx).Debug("ignoring change outside configured sources",
				slog.String("bucket", c.Bucket),
				slog.String("key", c.Key))
		}
		recordChange(ctx, outcome)
	}
	return nil
}

// Propagate drops the key from target and announces the document's
// current digest, or the zero digest when it is gone or unreadable.
func Propagate(ctx context.Context, target invalidation.Invalidator, digests DigestReader, n resolver.Notifier, dataset, name string, removed bool) {
	target.Invalidate(ctx, dataset, name)
	if n == nil {
		return
	}

	logger := logctx.FromContext(logctx.WithKey(logctx.WithSource(ctx, target.Name()), dataset, name))

	d := digest.Zero
	if !removed && digests != nil {
		current, err := digests.CurrentDigest(ctx, dataset, name)
		switch {
		case errors.Is(err, dsconfig.ErrNotFound):
		case err != nil:
			logger.Warn("changed configuration is unreadable", slog.Any("error", err))
		default:
			d = current
		}
	}
	if err := n.Announce(ctx, target.Name(), resolver.Key{Dataset: dataset, Name: name}, d); err != nil {
		logger.Warn("failed to announce configuration change", slog.Any("error", err))
	}
}

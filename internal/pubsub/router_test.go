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
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/dsconfig/internal/objstore"
	"github.com/cardinalhq/dsconfig/internal/resolver"
	"github.com/cardinalhq/dsconfig/pkg/digest"
	"github.com/cardinalhq/dsconfig/pkg/dsconfig"
)

type recordingTarget struct {
	name string
	mu   sync.Mutex
	keys []resolver.Key
}

func (r *recordingTarget) Name() string { return r.name }

func (r *recordingTarget) Invalidate(_ context.Context, dataset, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, resolver.Key{Dataset: dataset, Name: name})
}

type announcement struct {
	source string
	key    resolver.Key
	digest digest.Digest
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []announcement
	err error
}

func (n *recordingNotifier) Announce(_ context.Context, source string, key resolver.Key, d digest.Digest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, announcement{source, key, d})
	return n.err
}

type fixedDigests map[resolver.Key]digest.Digest

func (f fixedDigests) CurrentDigest(_ context.Context, dataset, name string) (digest.Digest, error) {
	if d, ok := f[resolver.Key{Dataset: dataset, Name: name}]; ok {
		return d, nil
	}
	if dataset == "broken" {
		return digest.Zero, errors.New("read failed")
	}
	return digest.Zero, fmt.Errorf("%s/%s: %w", dataset, name, dsconfig.ErrNotFound)
}

func TestRouterHandle(t *testing.T) {
	d1 := digest.Sum([]byte("one"))
	prod := &recordingTarget{name: "prod"}
	staging := &recordingTarget{name: "staging"}
	keys := objstore.NewFileStore(t.TempDir(), objstore.WithPrefix("prod"))
	stagingKeys := objstore.NewFileStore(t.TempDir(), objstore.WithPrefix("staging"))
	digests := fixedDigests{{Dataset: "gene", Name: "default"}: d1}
	n := &recordingNotifier{}

	r := NewRouter([]Route{
		{Bucket: "cfg", Keys: keys, Digests: digests, Target: prod},
		{Bucket: "cfg", Keys: stagingKeys, Digests: digests, Target: staging},
	}, n)

	err := r.Handle(context.Background(), []Change{
		{Bucket: "cfg", Key: "prod/gene/default.yaml"},
		{Bucket: "cfg", Key: "staging/gene/old.yaml", Removed: true},
		{Bucket: "cfg", Key: "prod/gene/nested/deep.yaml"},
		{Bucket: "other", Key: "prod/gene/default.yaml"},
	})
	require.NoError(t, err)

	assert.Equal(t, []resolver.Key{{Dataset: "gene", Name: "default"}}, prod.keys)
	assert.Equal(t, []resolver.Key{{Dataset: "gene", Name: "old"}}, staging.keys)
	assert.Equal(t, []announcement{
		{"prod", resolver.Key{Dataset: "gene", Name: "default"}, d1},
		{"staging", resolver.Key{Dataset: "gene", Name: "old"}, digest.Zero},
	}, n.got)
}

func TestPropagate(t *testing.T) {
	d1 := digest.Sum([]byte("one"))
	digests := fixedDigests{{Dataset: "gene", Name: "default"}: d1}
	ctx := context.Background()

	tests := []struct {
		name    string
		dataset string
		removed bool
		want    digest.Digest
	}{
		{"present", "gene", false, d1},
		{"removal skips the lookup", "gene", true, digest.Zero},
		{"missing", "other", false, digest.Zero},
		{"unreadable", "broken", false, digest.Zero},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := &recordingTarget{name: "prod"}
			n := &recordingNotifier{}
			Propagate(ctx, target, digests, n, tt.dataset, "default", tt.removed)
			assert.Equal(t, []resolver.Key{{Dataset: tt.dataset, Name: "default"}}, target.keys)
			require.Len(t, n.got, 1)
			assert.Equal(t, tt.want, n.got[0].digest)
		})
	}

	t.Run("no notifier only invalidates", func(t *testing.T) {
		target := &recordingTarget{name: "prod"}
		Propagate(ctx, target, digests, nil, "gene", "default", false)
		assert.Len(t, target.keys, 1)
	})

	t.Run("announce failure is not fatal", func(t *testing.T) {
		target := &recordingTarget{name: "prod"}
		n := &recordingNotifier{err: errors.New("broker down")}
		Propagate(ctx, target, nil, n, "gene", "default", false)
		assert.Len(t, target.keys, 1)
		assert.Equal(t, digest.Zero, n.got[0].digest)
	})
}

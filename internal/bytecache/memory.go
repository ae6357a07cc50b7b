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

package bytecache

import (
	"context"
	"slices"

	"github.com/jellydator/ttlcache/v3"

	"github.com/cardinalhq/dsconfig/pkg/digest"
)

type memKey struct {
	dataset string
	name    string
}

type memRecord struct {
	digest digest.Digest
	doc    []byte
}

// Memory is a process-local cache, mostly useful in tests and for
// processes that only want single-flight de-duplication of fetches.
type Memory struct {
	c *ttlcache.Cache[memKey, memRecord]
}

// NewMemory returns an empty cache. A capacity of zero means unbounded.
func NewMemory(capacity uint64) *Memory {
	opts := []ttlcache.Option[memKey, memRecord]{ttlcache.WithDisableTouchOnHit[memKey, memRecord]()}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[memKey, memRecord](capacity))
	}
	return &Memory{c: ttlcache.New(opts...)}
}

func (m *Memory) Get(_ context.Context, dataset, name string) (digest.Digest, []byte, bool, error) {
	item := m.c.Get(memKey{dataset, name})
	if item == nil {
		return digest.Zero, nil, false, nil
	}
	rec := item.Value()
	return rec.digest, slices.Clone(rec.doc), true, nil
}

func (m *Memory) Put(_ context.Context, dataset, name string, d digest.Digest, doc []byte) error {
	m.c.Set(memKey{dataset, name}, memRecord{digest: d, doc: slices.Clone(doc)}, ttlcache.NoTTL)
	return nil
}

func (m *Memory) Remove(_ context.Context, dataset, name string) error {
	m.c.Delete(memKey{dataset, name})
	return nil
}

// Len returns the number of cached records.
func (m *Memory) Len() int {
	return m.c.Len()
}

func (m *Memory) Close() error {
	m.c.DeleteAll()
	return nil
}

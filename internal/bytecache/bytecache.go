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

// Package bytecache holds persistent, digest-tagged copies of configuration
// documents keyed by (dataset, name).
//
// Every implementation stores the digest and the document as one record,
// so a reader sees either the previous pair or the new one, never a mix.
package bytecache

import (
	"context"
	"io"

	"github.com/cardinalhq/dsconfig/pkg/digest"
)

// Cache is the contract shared by every implementation.
type Cache interface {
	Get(ctx context.Context, dataset, name string) (digest.Digest, []byte, bool, error)
	Put(ctx context.Context, dataset, name string, d digest.Digest, doc []byte) error
	Remove(ctx context.Context, dataset, name string) error
	io.Closer
}

var (
	_ Cache = (*Memory)(nil)
	_ Cache = (*SQLite)(nil)
	_ Cache = (*Dir)(nil)
)

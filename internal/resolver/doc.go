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

// Package resolver turns a (dataset, name) key into a materialized
// configuration tree while avoiding redundant fetches.
//
// # Tiers
//
// A lookup checks three places in order:
//
//  1. Memory. A hit is returned immediately as a deep copy; memory is
//     trusted until the key is invalidated.
//  2. The persistent byte cache. The store is asked for its current digest
//     only; when the cached record carries the same digest its document is
//     decoded and used.
//  3. The authoritative store. The full document is fetched, decoded, and
//     written back to the byte cache and to memory.
//
// # Concurrency
//
// Concurrent lookups of the same key share one fetch through a
// singleflight group. Different keys never wait on each other. The shared
// fetch runs detached from the caller that started it, bounded by the load
// timeout, so a cancelled caller only stops its own wait.
//
// Invalidate, Publish and Delete bump a per-key generation. A fetch that
// was already running when its key was invalidated still answers the
// callers that joined it earlier, but it does not fill either cache, and
// callers arriving after the invalidation wait for a fresh fetch.
//
// # Failure handling
//
// Store failures surface as dsconfig.ErrSourceUnavailable and leave both
// caches untouched. Byte cache failures are logged and treated as a miss.
// A cached record that fails to decode, or whose content does not hash to
// its recorded digest, is removed and refetched.
package resolver

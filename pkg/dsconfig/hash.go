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

package dsconfig

import (
	"context"
	"encoding/binary"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// Hash is a structural hash over the kind, the sorted attributes and the
// child hashes in rank order. Equal trees always hash equally.
func (n *Node) Hash() uint64 {
	d := xxhash.New()
	n.hashInto(d)
	return d.Sum64()
}

func (n *Node) hashInto(d *xxhash.Digest) {
	var buf [8]byte
	_, _ = d.WriteString(n.Kind.String())
	_, _ = d.Write([]byte{0})
	for _, a := range n.Attributes() {
		_, _ = d.WriteString(a.Name)
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(a.Value)
		_, _ = d.Write([]byte{0})
	}
	binary.LittleEndian.PutUint64(buf[:], uint64(len(n.children)))
	_, _ = d.Write(buf[:])
	for _, c := range n.children {
		binary.LittleEndian.PutUint64(buf[:], c.Hash())
		_, _ = d.Write(buf[:])
	}
}

// Equal reports structural equality: same kind, same attributes, and
// pairwise-equal children in the same rank order.
func (n *Node) Equal(o *Node) bool {
	if n == nil || o == nil {
		return n == o
	}
	n.ensureLoaded(context.Background())
	o.ensureLoaded(context.Background())
	if n.Kind != o.Kind || len(n.children) != len(o.children) {
		return false
	}
	if !slices.Equal(n.Attributes(), o.Attributes()) {
		return false
	}
	for i := range n.children {
		if !n.children[i].Equal(o.children[i]) {
			return false
		}
	}
	return true
}

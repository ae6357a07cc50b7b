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

// Package digest canonicalizes configuration trees to bytes and hashes them
// for change detection.
package digest

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/cardinalhq/dsconfig/pkg/dsconfig"
)

// Size is the digest length in bytes.
const Size = md5.Size

// Digest is a 128-bit content hash of a canonical tree serialization.
type Digest [Size]byte

// Zero is the empty digest; it never matches a real document.
var Zero Digest

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Errorf("create CBOR encoder: %w", err))
	}
	return em
}()

// canonicalNode is the serialized shape of a node. Attributes arrive sorted
// by name from Node.Attributes; children stay in rank order.
type canonicalNode struct {
	_        struct{} `cbor:",toarray"`
	Kind     string
	Attrs    [][2]string
	Children []canonicalNode
}

func toCanonical(n *dsconfig.Node) canonicalNode {
	attrs := n.Attributes()
	cn := canonicalNode{
		Kind:  n.Kind.String(),
		Attrs: make([][2]string, len(attrs)),
	}
	for i, a := range attrs {
		cn.Attrs[i] = [2]string{a.Name, a.Value}
	}
	children := n.Children()
	if len(children) > 0 {
		cn.Children = make([]canonicalNode, len(children))
		for i, c := range children {
			cn.Children[i] = toCanonical(c)
		}
	}
	return cn
}

// Serialize returns the canonical bytes of n. Trees that are structurally
// equal serialize identically.
func Serialize(n *dsconfig.Node) ([]byte, error) {
	if n == nil {
		return nil, fmt.Errorf("serialize: nil tree")
	}
	b, err := encMode.Marshal(toCanonical(n))
	if err != nil {
		return nil, fmt.Errorf("serialize %s %q: %w", n.Kind, n.InternalName, err)
	}
	return b, nil
}

// Sum hashes canonical bytes.
func Sum(canonical []byte) Digest {
	return Digest(md5.Sum(canonical))
}

// Of is Sum(Serialize(n)).
func Of(n *dsconfig.Node) (Digest, error) {
	b, err := Serialize(n)
	if err != nil {
		return Zero, err
	}
	return Sum(b), nil
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Zero
}

// Bytes returns a copy of the raw digest.
func (d Digest) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, d[:])
	return b
}

// FromBytes converts a raw digest as stored by a backend.
func FromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != Size {
		return Zero, fmt.Errorf("digest must be %d bytes, got %d", Size, len(b))
	}
	copy(d[:], b)
	return d, nil
}

// Parse converts the hex form produced by String.
func Parse(s string) (Digest, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Zero, fmt.Errorf("parse digest %q: %w", s, err)
	}
	return FromBytes(b)
}

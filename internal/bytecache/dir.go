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
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/cardinalhq/dsconfig/pkg/digest"
)

// Dir keeps one CBOR record file per key under a base directory. Writes go
// to a temp file that is renamed over the old record.
type Dir struct {
	base string
	em   cbor.EncMode
	dm   cbor.DecMode
}

type dirRecord struct {
	Digest   []byte `cbor:"1,keyasint"`
	Document []byte `cbor:"2,keyasint"`
}

// OpenDir returns a cache rooted at base, creating it if needed.
func OpenDir(base string) (*Dir, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("create CBOR encoder: %w", err)
	}
	dm, err := cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: 4,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("create CBOR decoder: %w", err)
	}
	return &Dir{base: base, em: em, dm: dm}, nil
}

func (c *Dir) path(dataset, name string) string {
	return filepath.Join(c.base, segment(dataset), segment(name)+".cbor")
}

// segment encodes s as a single path element. Dots are escaped too, so "."
// and ".." never leave the base directory, and the empty string gets a
// name of its own.
func segment(s string) string {
	if s == "" {
		return "%"
	}
	return strings.ReplaceAll(url.PathEscape(s), ".", "%2E")
}

func (c *Dir) Get(_ context.Context, dataset, name string) (digest.Digest, []byte, bool, error) {
	b, err := os.ReadFile(c.path(dataset, name))
	if errors.Is(err, os.ErrNotExist) {
		return digest.Zero, nil, false, nil
	}
	if err != nil {
		return digest.Zero, nil, false, err
	}
	var rec dirRecord
	if err := c.dm.Unmarshal(b, &rec); err != nil {
		return digest.Zero, nil, false, fmt.Errorf("decode cache record %s/%s: %w", dataset, name, err)
	}
	d, err := digest.FromBytes(rec.Digest)
	if err != nil {
		return digest.Zero, nil, false, fmt.Errorf("decode cache record %s/%s: %w", dataset, name, err)
	}
	return d, rec.Document, true, nil
}

func (c *Dir) Put(_ context.Context, dataset, name string, d digest.Digest, doc []byte) error {
	b, err := c.em.Marshal(dirRecord{Digest: d.Bytes(), Document: doc})
	if err != nil {
		return fmt.Errorf("encode cache record: %w", err)
	}
	dst := c.path(dataset, name)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".record-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func (c *Dir) Remove(_ context.Context, dataset, name string) error {
	if err := os.Remove(c.path(dataset, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (c *Dir) Close() error {
	return nil
}

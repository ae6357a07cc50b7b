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

// Package objstore keeps configuration documents as objects in a bucket,
// a blob container or a local directory.
//
// Documents live at <prefix>/<dataset>/<name>.yaml. Object metadata
// carries the digest so the current digest costs one metadata request;
// objects written without it are read and hashed instead.
package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"slices"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/dsconfig/internal/store"
	"github.com/cardinalhq/dsconfig/pkg/digest"
	"github.com/cardinalhq/dsconfig/pkg/dsconfig"
	"github.com/cardinalhq/dsconfig/pkg/markup"
)

const (
	docExt = ".yaml"

	metaDigest      = "digest"
	metaCompressed  = "compressed"
	metaDisplayName = "displayname"
	metaDescription = "description"
)

var errNotExist = errors.New("object does not exist")

// backend is the object API a Store needs. Metadata keys are lower case.
// head and get return errNotExist for a missing key.
type backend interface {
	kind() string
	head(ctx context.Context, key string) (map[string]string, error)
	get(ctx context.Context, key string) ([]byte, map[string]string, error)
	put(ctx context.Context, key string, body []byte, meta map[string]string) error
	remove(ctx context.Context, key string) error
	list(ctx context.Context, prefix string) ([]string, error)
}

// Decoder turns a document into a tree.
type Decoder interface {
	Decode(doc []byte) (*dsconfig.Node, error)
}

// Store is a store.Authoritative over one backend.
type Store struct {
	b                 backend
	prefix            string
	decoder           Decoder
	compressThreshold int
	tracer            trace.Tracer
}

var (
	_ store.Authoritative = (*Store)(nil)
	_ store.Deleter       = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithPrefix places documents under prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = strings.Trim(prefix, "/") }
}

// WithDecoder replaces the YAML decoder used to hash objects that carry no
// digest metadata.
func WithDecoder(d Decoder) Option {
	return func(s *Store) { s.decoder = d }
}

// WithCompressThreshold sets the document size above which bodies are
// gzipped. Zero disables compression.
func WithCompressThreshold(n int) Option {
	return func(s *Store) { s.compressThreshold = n }
}

func newStore(b backend, opts ...Option) *Store {
	s := &Store{
		b:                 b,
		decoder:           markup.YAML{},
		compressThreshold: store.DefaultCompressThreshold,
		tracer:            otel.Tracer("github.com/cardinalhq/dsconfig/internal/objstore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func checkSegment(what, s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return fmt.Errorf("invalid %s %q", what, s)
	}
	return nil
}

func (s *Store) key(dataset, name string) (string, error) {
	if err := checkSegment("dataset", dataset); err != nil {
		return "", err
	}
	if err := checkSegment("name", name); err != nil {
		return "", err
	}
	return path.Join(s.prefix, dataset, name+docExt), nil
}

func (s *Store) dir(parts ...string) string {
	p := path.Join(append([]string{s.prefix}, parts...)...)
	if p == "" || p == "." {
		return ""
	}
	return p + "/"
}

// op runs fn inside a span and records it in the operations counter.
func (s *Store) op(ctx context.Context, name, key string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "objstore."+name, trace.WithAttributes(
		attribute.String("backend", s.b.kind()),
		attribute.String("key", key),
	))
	defer span.End()

	err := fn(ctx)
	outcome := "ok"
	switch {
	case errors.Is(err, errNotExist), errors.Is(err, dsconfig.ErrNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	recordOperation(ctx, s.b.kind(), name, outcome)
	return err
}

func notFound(dataset, name string) error {
	return fmt.Errorf("%s/%s: %w", dataset, name, dsconfig.ErrNotFound)
}

func (s *Store) CurrentDigest(ctx context.Context, dataset, name string) (digest.Digest, error) {
	key, err := s.key(dataset, name)
	if err != nil {
		return digest.Zero, err
	}
	var d digest.Digest
	err = s.op(ctx, "head", key, func(ctx context.Context) error {
		meta, err := s.b.head(ctx, key)
		if errors.Is(err, errNotExist) {
			return notFound(dataset, name)
		}
		if err != nil {
			return fmt.Errorf("head %s: %w", key, err)
		}
		if raw := meta[metaDigest]; raw != "" {
			if d, err = digest.Parse(raw); err == nil {
				return nil
			}
		}
		d, err = s.hash(ctx, dataset, name, key)
		return err
	})
	return d, err
}

// hash computes the digest of an object that carries no usable digest
// metadata.
func (s *Store) hash(ctx context.Context, dataset, name, key string) (digest.Digest, error) {
	body, err := s.read(ctx, dataset, name, key)
	if err != nil {
		return digest.Zero, err
	}
	tree, err := s.decoder.Decode(body)
	if err != nil {
		return digest.Zero, fmt.Errorf("%s: %w: %w", key, dsconfig.ErrMalformedDocument, err)
	}
	return digest.Of(tree)
}

var gzipMagic = []byte{0x1f, 0x8b}

func (s *Store) read(ctx context.Context, dataset, name, key string) ([]byte, error) {
	body, meta, err := s.b.get(ctx, key)
	if errors.Is(err, errNotExist) {
		return nil, notFound(dataset, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if meta[metaCompressed] == "true" || bytes.HasPrefix(body, gzipMagic) {
		body, err = store.Decompress(body)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", key, dsconfig.ErrMalformedDocument, err)
		}
	}
	return body, nil
}

func (s *Store) Fetch(ctx context.Context, dataset, name string) ([]byte, error) {
	key, err := s.key(dataset, name)
	if err != nil {
		return nil, err
	}
	var body []byte
	err = s.op(ctx, "get", key, func(ctx context.Context) error {
		body, err = s.read(ctx, dataset, name, key)
		return err
	})
	return body, err
}

func (s *Store) Publish(ctx context.Context, doc store.Document) error {
	key, err := s.key(doc.Dataset, doc.Name)
	if err != nil {
		return err
	}
	body, compressed, err := store.MaybeCompress(doc.Body, s.compressThreshold)
	if err != nil {
		return err
	}
	meta := map[string]string{
		metaDigest:     doc.Digest.String(),
		metaCompressed: strconv.FormatBool(compressed),
	}
	if doc.DisplayName != "" {
		meta[metaDisplayName] = url.PathEscape(doc.DisplayName)
	}
	if doc.Description != "" {
		meta[metaDescription] = url.PathEscape(doc.Description)
	}
	return s.op(ctx, "put", key, func(ctx context.Context) error {
		if err := s.b.put(ctx, key, body, meta); err != nil {
			return fmt.Errorf("put %s: %w", key, err)
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, dataset, name string) error {
	key, err := s.key(dataset, name)
	if err != nil {
		return err
	}
	return s.op(ctx, "delete", key, func(ctx context.Context) error {
		if _, err := s.b.head(ctx, key); errors.Is(err, errNotExist) {
			return notFound(dataset, name)
		} else if err != nil {
			return fmt.Errorf("head %s: %w", key, err)
		}
		if err := s.b.remove(ctx, key); err != nil && !errors.Is(err, errNotExist) {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		return nil
	})
}

// documents lists (dataset, name) pairs below the prefix.
func (s *Store) documents(ctx context.Context, dataset string) ([][2]string, error) {
	prefix := s.dir()
	if dataset != "" {
		prefix = s.dir(dataset)
	}
	var keys []string
	err := s.op(ctx, "list", prefix, func(ctx context.Context) error {
		var err error
		keys, err = s.b.list(ctx, prefix)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	var out [][2]string
	for _, k := range keys {
		if ds, name, ok := s.ParseKey(k); ok {
			out = append(out, [2]string{ds, name})
		}
	}
	return out, nil
}

// ParseKey maps an object key back to the configuration it holds. Keys
// outside the prefix, nested deeper than dataset/name.yaml, or naming
// hidden files are not configurations.
func (s *Store) ParseKey(key string) (dataset, name string, ok bool) {
	rest, found := strings.CutPrefix(key, s.dir())
	if !found {
		return "", "", false
	}
	ds, file, cut := strings.Cut(rest, "/")
	if !cut || ds == "" || strings.Contains(file, "/") || !strings.HasSuffix(file, docExt) || strings.HasPrefix(file, ".") {
		return "", "", false
	}
	name = strings.TrimSuffix(file, docExt)
	if name == "" {
		return "", "", false
	}
	return ds, name, true
}

func (s *Store) ListDatasets(ctx context.Context) ([]string, error) {
	docs, err := s.documents(ctx, "")
	if err != nil {
		return nil, err
	}
	set := mapset.NewThreadUnsafeSet[string]()
	for _, d := range docs {
		set.Add(d[0])
	}
	out := set.ToSlice()
	slices.Sort(out)
	return out, nil
}

func (s *Store) ListNames(ctx context.Context, dataset string) ([]string, error) {
	if err := checkSegment("dataset", dataset); err != nil {
		return nil, err
	}
	docs, err := s.documents(ctx, dataset)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, d := range docs {
		if d[0] == dataset {
			out = append(out, d[1])
		}
	}
	slices.Sort(out)
	return out, nil
}

// Info is what an object's metadata says about a stored configuration.
type Info struct {
	DisplayName string
	Description string
	Compressed  bool
	Digest      digest.Digest
}

// Stat reads a document's metadata without fetching it.
func (s *Store) Stat(ctx context.Context, dataset, name string) (Info, error) {
	key, err := s.key(dataset, name)
	if err != nil {
		return Info{}, err
	}
	var info Info
	err = s.op(ctx, "head", key, func(ctx context.Context) error {
		meta, err := s.b.head(ctx, key)
		if errors.Is(err, errNotExist) {
			return notFound(dataset, name)
		}
		if err != nil {
			return fmt.Errorf("head %s: %w", key, err)
		}
		info.DisplayName, _ = url.PathUnescape(meta[metaDisplayName])
		info.Description, _ = url.PathUnescape(meta[metaDescription])
		info.Compressed = meta[metaCompressed] == "true"
		info.Digest, _ = digest.Parse(meta[metaDigest])
		return nil
	})
	return info, err
}

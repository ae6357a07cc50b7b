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

// Package store defines the system-of-record contract for configuration
// documents and the helpers shared by its implementations.
package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"

	"github.com/cardinalhq/dsconfig/pkg/digest"
)

// Document is one stored configuration.
type Document struct {
	Dataset     string
	Name        string
	DisplayName string
	Description string
	Body        []byte
	Digest      digest.Digest
}

// Authoritative is the system of record for configuration documents.
//
// CurrentDigest must be cheap: it is called on every cache miss. Both
// CurrentDigest and Fetch return dsconfig.ErrNotFound for a missing key;
// any other error means the store could not answer.
type Authoritative interface {
	CurrentDigest(ctx context.Context, dataset, name string) (digest.Digest, error)
	Fetch(ctx context.Context, dataset, name string) ([]byte, error)
	Publish(ctx context.Context, doc Document) error
	ListNames(ctx context.Context, dataset string) ([]string, error)
	ListDatasets(ctx context.Context) ([]string, error)
}

// Deleter is implemented by stores that can remove a document.
type Deleter interface {
	Delete(ctx context.Context, dataset, name string) error
}

// DefaultCompressThreshold is the body size above which stores gzip
// documents at rest.
const DefaultCompressThreshold = 16 * 1024

// Compress gzips body.
func Compress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(body); err != nil {
		return nil, fmt.Errorf("gzip document: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("gzip document: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(body []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gunzip document: %w", err)
	}
	defer func() { _ = gr.Close() }()
	out, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("gunzip document: %w", err)
	}
	return out, nil
}

// MaybeCompress compresses body when it exceeds threshold. A threshold of
// zero or less disables compression.
func MaybeCompress(body []byte, threshold int) ([]byte, bool, error) {
	if threshold <= 0 || len(body) <= threshold {
		return body, false, nil
	}
	out, err := Compress(body)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

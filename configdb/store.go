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

// Package configdb is the PostgreSQL system of record for configuration
// documents.
package configdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardinalhq/dsconfig/internal/idgen"
	"github.com/cardinalhq/dsconfig/internal/store"
	"github.com/cardinalhq/dsconfig/pkg/digest"
	"github.com/cardinalhq/dsconfig/pkg/dsconfig"
)

// Store provides all functions to execute db queries and transactions.
type Store struct {
	*Queries
	connPool          *pgxpool.Pool
	compressThreshold int
	revisions         *idgen.FlakeGenerator
}

var (
	_ store.Authoritative = (*Store)(nil)
	_ store.Deleter       = (*Store)(nil)
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithCompressThreshold sets the document size above which bodies are
// gzipped. Zero disables compression.
func WithCompressThreshold(n int) StoreOption {
	return func(s *Store) { s.compressThreshold = n }
}

// NewStore creates a new Store.
func NewStore(connPool *pgxpool.Pool, opts ...StoreOption) *Store {
	s := &Store{
		Queries:           New(connPool),
		connPool:          connPool,
		compressThreshold: store.DefaultCompressThreshold,
		revisions:         idgen.DefaultFlakeGenerator,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.connPool.Close()
}

func (s *Store) execTx(ctx context.Context, fn func(*Queries) error) (err error) {
	tx, err := s.connPool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if err = fn(New(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func notFound(err error, dataset, name string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s/%s: %w", dataset, name, dsconfig.ErrNotFound)
	}
	return err
}

func (s *Store) CurrentDigest(ctx context.Context, dataset, name string) (digest.Digest, error) {
	raw, err := s.GetConfigDigest(ctx, ConfigKey{Dataset: dataset, InternalName: name})
	if err != nil {
		return digest.Zero, notFound(err, dataset, name)
	}
	d, err := digest.FromBytes(raw)
	if err != nil {
		return digest.Zero, fmt.Errorf("%s/%s: %w: %w", dataset, name, dsconfig.ErrMalformedDocument, err)
	}
	return d, nil
}

func (s *Store) Fetch(ctx context.Context, dataset, name string) ([]byte, error) {
	doc, err := s.GetConfigDocument(ctx, ConfigKey{Dataset: dataset, InternalName: name})
	if err != nil {
		return nil, notFound(err, dataset, name)
	}
	if !doc.Compressed {
		return doc.Document, nil
	}
	body, err := store.Decompress(doc.Document)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w: %w", dataset, name, dsconfig.ErrMalformedDocument, err)
	}
	return body, nil
}

// Publish stores doc under a new revision, replacing any earlier document
// for the same key in one transaction.
func (s *Store) Publish(ctx context.Context, doc store.Document) error {
	body, compressed, err := store.MaybeCompress(doc.Body, s.compressThreshold)
	if err != nil {
		return err
	}
	return s.execTx(ctx, func(q *Queries) error {
		id, err := q.UpsertConfig(ctx, UpsertConfigParams{
			ConfigID:     uuid.New(),
			Dataset:      doc.Dataset,
			InternalName: doc.Name,
			DisplayName:  doc.DisplayName,
			Description:  doc.Description,
			Revision:     s.revisions.NextID(),
		})
		if err != nil {
			return fmt.Errorf("upsert %s/%s: %w", doc.Dataset, doc.Name, err)
		}
		err = q.PutConfigDocument(ctx, PutConfigDocumentParams{
			ConfigID:      id,
			Document:      body,
			Compressed:    compressed,
			MessageDigest: doc.Digest.Bytes(),
		})
		if err != nil {
			return fmt.Errorf("store document %s/%s: %w", doc.Dataset, doc.Name, err)
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, dataset, name string) error {
	n, err := s.DeleteConfig(ctx, ConfigKey{Dataset: dataset, InternalName: name})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", dataset, name, dsconfig.ErrNotFound)
	}
	return nil
}

func (s *Store) ListDatasets(ctx context.Context) ([]string, error) {
	return s.ListConfigDatasets(ctx)
}

func (s *Store) ListNames(ctx context.Context, dataset string) ([]string, error) {
	return s.ListConfigNames(ctx, dataset)
}

// Meta describes a stored configuration without fetching its document.
func (s *Store) Meta(ctx context.Context, dataset, name string) (ConfigMeta, error) {
	m, err := s.GetConfigMeta(ctx, ConfigKey{Dataset: dataset, InternalName: name})
	if err != nil {
		return ConfigMeta{}, notFound(err, dataset, name)
	}
	return m, nil
}

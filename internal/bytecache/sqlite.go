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
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cardinalhq/dsconfig/pkg/digest"
)

// SQLite keeps records in a single SQLite file. One row holds both the
// digest and the document, so every write is atomic.
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS config_cache (
	dataset    TEXT NOT NULL,
	name       TEXT NOT NULL,
	digest     BLOB NOT NULL,
	document   BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (dataset, name)
)`

// OpenSQLite opens or creates the cache database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache table: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(ctx context.Context, dataset, name string) (digest.Digest, []byte, bool, error) {
	var raw, doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT digest, document FROM config_cache WHERE dataset = ? AND name = ?`,
		dataset, name).Scan(&raw, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return digest.Zero, nil, false, nil
	}
	if err != nil {
		return digest.Zero, nil, false, fmt.Errorf("read cache %s/%s: %w", dataset, name, err)
	}
	d, err := digest.FromBytes(raw)
	if err != nil {
		return digest.Zero, nil, false, fmt.Errorf("read cache %s/%s: %w", dataset, name, err)
	}
	return d, doc, true, nil
}

func (s *SQLite) Put(ctx context.Context, dataset, name string, d digest.Digest, doc []byte) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO config_cache (dataset, name, digest, document, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (dataset, name) DO UPDATE SET
	digest = excluded.digest,
	document = excluded.document,
	updated_at = excluded.updated_at`,
		dataset, name, d.Bytes(), doc, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("write cache %s/%s: %w", dataset, name, err)
	}
	return nil
}

func (s *SQLite) Remove(ctx context.Context, dataset, name string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM config_cache WHERE dataset = ? AND name = ?`, dataset, name); err != nil {
		return fmt.Errorf("remove cache %s/%s: %w", dataset, name, err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

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

package configdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type ConfigKey struct {
	Dataset      string
	InternalName string
}

type ConfigMeta struct {
	ConfigID     uuid.UUID
	Dataset      string
	InternalName string
	DisplayName  string
	Description  string
	Revision     int64
	ModifiedAt   time.Time
	Compressed   bool
	DocumentSize int64
}

type ConfigDocument struct {
	Document      []byte
	Compressed    bool
	MessageDigest []byte
}

const getConfigDigest = `
SELECT d.message_digest
FROM dataset_config c
JOIN dataset_config_document d ON d.config_id = c.config_id
WHERE c.dataset = $1 AND c.internal_name = $2
`

func (q *Queries) GetConfigDigest(ctx context.Context, arg ConfigKey) ([]byte, error) {
	row := q.db.QueryRow(ctx, getConfigDigest, arg.Dataset, arg.InternalName)
	var messageDigest []byte
	err := row.Scan(&messageDigest)
	return messageDigest, err
}

const getConfigDocument = `
SELECT d.document, d.compressed, d.message_digest
FROM dataset_config c
JOIN dataset_config_document d ON d.config_id = c.config_id
WHERE c.dataset = $1 AND c.internal_name = $2
`

func (q *Queries) GetConfigDocument(ctx context.Context, arg ConfigKey) (ConfigDocument, error) {
	row := q.db.QueryRow(ctx, getConfigDocument, arg.Dataset, arg.InternalName)
	var i ConfigDocument
	err := row.Scan(&i.Document, &i.Compressed, &i.MessageDigest)
	return i, err
}

const getConfigMeta = `
SELECT c.config_id, c.dataset, c.internal_name, c.display_name, c.description,
       c.revision, c.modified_at, d.compressed, octet_length(d.document)
FROM dataset_config c
JOIN dataset_config_document d ON d.config_id = c.config_id
WHERE c.dataset = $1 AND c.internal_name = $2
`

func (q *Queries) GetConfigMeta(ctx context.Context, arg ConfigKey) (ConfigMeta, error) {
	row := q.db.QueryRow(ctx, getConfigMeta, arg.Dataset, arg.InternalName)
	var i ConfigMeta
	err := row.Scan(
		&i.ConfigID,
		&i.Dataset,
		&i.InternalName,
		&i.DisplayName,
		&i.Description,
		&i.Revision,
		&i.ModifiedAt,
		&i.Compressed,
		&i.DocumentSize,
	)
	return i, err
}

type UpsertConfigParams struct {
	ConfigID     uuid.UUID
	Dataset      string
	InternalName string
	DisplayName  string
	Description  string
	Revision     int64
}

// The returned id is the existing row's when the key was already stored.
const upsertConfig = `
INSERT INTO dataset_config (config_id, dataset, internal_name, display_name, description, revision, modified_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (dataset, internal_name) DO UPDATE
SET display_name = EXCLUDED.display_name,
    description  = EXCLUDED.description,
    revision     = GREATEST(EXCLUDED.revision, dataset_config.revision + 1),
    modified_at  = now()
RETURNING config_id
`

func (q *Queries) UpsertConfig(ctx context.Context, arg UpsertConfigParams) (uuid.UUID, error) {
	row := q.db.QueryRow(ctx, upsertConfig,
		arg.ConfigID,
		arg.Dataset,
		arg.InternalName,
		arg.DisplayName,
		arg.Description,
		arg.Revision,
	)
	var configID uuid.UUID
	err := row.Scan(&configID)
	return configID, err
}

type PutConfigDocumentParams struct {
	ConfigID      uuid.UUID
	Document      []byte
	Compressed    bool
	MessageDigest []byte
}

const putConfigDocument = `
INSERT INTO dataset_config_document (config_id, document, compressed, message_digest)
VALUES ($1, $2, $3, $4)
ON CONFLICT (config_id) DO UPDATE
SET document       = EXCLUDED.document,
    compressed     = EXCLUDED.compressed,
    message_digest = EXCLUDED.message_digest
`

func (q *Queries) PutConfigDocument(ctx context.Context, arg PutConfigDocumentParams) error {
	_, err := q.db.Exec(ctx, putConfigDocument,
		arg.ConfigID,
		arg.Document,
		arg.Compressed,
		arg.MessageDigest,
	)
	return err
}

const deleteConfig = `
DELETE FROM dataset_config WHERE dataset = $1 AND internal_name = $2
`

func (q *Queries) DeleteConfig(ctx context.Context, arg ConfigKey) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteConfig, arg.Dataset, arg.InternalName)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listConfigDatasets = `
SELECT DISTINCT dataset FROM dataset_config ORDER BY dataset
`

func (q *Queries) ListConfigDatasets(ctx context.Context) ([]string, error) {
	rows, err := q.db.Query(ctx, listConfigDatasets)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

const listConfigNames = `
SELECT internal_name FROM dataset_config WHERE dataset = $1 ORDER BY internal_name
`

func (q *Queries) ListConfigNames(ctx context.Context, dataset string) ([]string, error) {
	rows, err := q.db.Query(ctx, listConfigNames, dataset)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

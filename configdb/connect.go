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
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	configdbmigrations "github.com/cardinalhq/dsconfig/configdb/migrations"
	"github.com/cardinalhq/dsconfig/internal/dbopen"
	"github.com/cardinalhq/dsconfig/migrations"
)

// EnvPrefix names the environment variables holding the connection.
const EnvPrefix = "CONFIGDB"

// ConnectToConfigDB opens a pool from CONFIGDB_* and checks the schema
// version.
func ConnectToConfigDB(ctx context.Context, opts ...dbopen.Options) (*pgxpool.Pool, error) {
	pool, err := dbopen.Connect(ctx, EnvPrefix)
	if err != nil {
		return nil, err
	}

	var checkOpts []migrations.CheckOption
	for _, o := range opts {
		checkOpts = append(checkOpts, o.MigrationCheckOptions...)
	}
	if err := configdbmigrations.CheckExpectedVersion(ctx, pool, checkOpts...); err != nil {
		pool.Close()
		return nil, fmt.Errorf("CONFIGDB migration version check failed: %w", err)
	}
	return pool, nil
}

// ConfigDBStore connects and returns a Store.
func ConfigDBStore(ctx context.Context, opts ...StoreOption) (*Store, error) {
	pool, err := ConnectToConfigDB(ctx)
	if err != nil {
		return nil, err
	}
	return NewStore(pool, opts...), nil
}

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

package migrations

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardinalhq/dsconfig/migrations"
)

// checkOptionsFromEnv starts from the defaults and applies the
// environment overrides.
func checkOptionsFromEnv() migrations.CheckOptions {
	opts := migrations.DefaultCheckOptions()
	if val := os.Getenv("CONFIGDB_MIGRATION_CHECK_ENABLED"); val != "" && strings.ToLower(val) != "true" {
		opts.Mode = migrations.CheckModeSkip
	}
	if val := os.Getenv("MIGRATION_CHECK_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			opts.Timeout = d
		}
	}
	if val := os.Getenv("MIGRATION_CHECK_RETRY_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			opts.RetryInterval = d
		}
	}
	if val := os.Getenv("MIGRATION_CHECK_ALLOW_DIRTY"); val != "" {
		opts.AllowDirty = strings.ToLower(val) == "true"
	}
	return opts
}

// CheckExpectedVersion verifies that the configdb database is at the
// version of the embedded migrations. In wait mode it polls until the
// version matches or the timeout passes; in warn mode a mismatch is logged
// and ignored.
func CheckExpectedVersion(ctx context.Context, pool *pgxpool.Pool, opts ...migrations.CheckOption) error {
	o := checkOptionsFromEnv()
	for _, opt := range opts {
		opt(&o)
	}

	switch o.Mode {
	case migrations.CheckModeSkip:
		slog.Debug("Migration version checking disabled for configdb")
		return nil
	case migrations.CheckModeWarn:
		o.Timeout = 0
		if err := checkMigrationVersion(ctx, pool, o); err != nil {
			slog.Warn("configdb migration version mismatch, continuing", slog.Any("error", err))
		}
		return nil
	default:
		return checkMigrationVersion(ctx, pool, o)
	}
}

// extractLatestMigrationVersion extracts the highest migration version from
// files named like "1760745600_dataset_config.up.sql".
func extractLatestMigrationVersion(files fs.ReadDirFS) (uint, error) {
	entries, err := files.ReadDir(".")
	if err != nil {
		return 0, fmt.Errorf("failed to read migration directory: %w", err)
	}

	var maxVersion uint
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		prefix, _, _ := strings.Cut(name, "_")
		version, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil {
			continue
		}
		maxVersion = max(maxVersion, uint(version))
	}

	if maxVersion == 0 {
		return 0, errors.New("no valid migration files found")
	}
	return maxVersion, nil
}

func checkMigrationVersion(ctx context.Context, pool *pgxpool.Pool, o migrations.CheckOptions) error {
	expectedVersion, err := extractLatestMigrationVersion(migrationFiles)
	if err != nil {
		return fmt.Errorf("failed to extract expected migration version for configdb: %w", err)
	}

	deadline := time.Now().Add(o.Timeout)
	ticker := time.NewTicker(max(o.RetryInterval, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		currentVersion, dirty, err := currentMigrationVersion(pool)
		if err != nil {
			return fmt.Errorf("failed to get current migration version for configdb: %w", err)
		}
		if dirty && !o.AllowDirty {
			return errors.New("database configdb migration is in dirty state, please fix before proceeding")
		}

		switch {
		case currentVersion == expectedVersion:
			slog.Info("Migration version check passed",
				slog.String("database", "configdb"),
				slog.Uint64("version", uint64(currentVersion)))
			return nil
		case currentVersion > expectedVersion:
			return fmt.Errorf("database configdb version %d is newer than expected version %d - you may need to update the application",
				currentVersion, expectedVersion)
		case !time.Now().Before(deadline):
			return fmt.Errorf("timeout waiting for configdb migration to complete: current version %d, expected %d",
				currentVersion, expectedVersion)
		}

		slog.Info("Waiting for migrations to complete",
			slog.String("database", "configdb"),
			slog.Uint64("current_version", uint64(currentVersion)),
			slog.Uint64("expected_version", uint64(expectedVersion)),
			slog.Duration("remaining_timeout", time.Until(deadline)))

		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled while waiting for configdb migrations: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func currentMigrationVersion(pool *pgxpool.Pool) (uint, bool, error) {
	m, closeAll, err := migrator(pool)
	if err != nil {
		return 0, false, err
	}
	defer closeAll()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, dirty, nil
}

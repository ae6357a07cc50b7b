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

package cmd

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/dsconfig/configdb"
	configdbmigrations "github.com/cardinalhq/dsconfig/configdb/migrations"
	"github.com/cardinalhq/dsconfig/internal/dbopen"
)

var migrateDownSteps int

func init() {
	MigrateCmd.Flags().IntVar(&migrateDownSteps, "down", 0, "Roll back this many migrations instead of migrating up")
	rootCmd.AddCommand(MigrateCmd)
}

var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run configuration database migrations",
	Long:  "Run migrations on the configuration database selected by the CONFIGDB_* environment variables",
	Args:  cobra.NoArgs,
	RunE:  migrate,
}

func migrate(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(5*time.Minute))
	defer cancel()

	pool, err := dbopen.Connect(ctx, configdb.EnvPrefix)
	if err != nil {
		if errors.Is(err, dbopen.ErrDatabaseNotConfigured) {
			slog.Info("ConfigDB not configured, skipping migration")
			return nil
		}
		return err
	}
	defer pool.Close()

	if migrateDownSteps > 0 {
		slog.Info("Rolling back configdb migrations", slog.Int("steps", migrateDownSteps))
		return configdbmigrations.RunMigrationsDown(ctx, pool, migrateDownSteps)
	}
	slog.Info("Running configdb migrations")
	if err := configdbmigrations.RunMigrationsUp(ctx, pool); err != nil {
		return err
	}
	slog.Info("configdb migrations completed successfully")
	return nil
}

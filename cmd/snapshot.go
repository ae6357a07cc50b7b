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
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/dsconfig/config"
	"github.com/cardinalhq/dsconfig/internal/schema"
)

var (
	snapshotTables string
	snapshotOutput string
)

func init() {
	snapshotCmd.Flags().StringVar(&snapshotTables, "tables", "%", "LIKE pattern selecting the tables to capture")
	snapshotCmd.Flags().StringVarP(&snapshotOutput, "output", "o", "-", "File to write, \"-\" for stdout")
	rootCmd.AddCommand(snapshotCmd)
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Capture the warehouse schema into a file usable as the snapshot schema driver",
	Args:  cobra.NoArgs,
	RunE: func(c *cobra.Command, _ []string) error {
		ctx, shutdown, err := setupTelemetry(serviceName)
		if err != nil {
			return err
		}
		defer func() { _ = shutdown() }()

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		intro, done, err := openSchema(ctx, cfg.Schema)
		if err != nil {
			return err
		}
		defer done()

		snap, err := schema.Capture(ctx, intro, snapshotTables)
		if err != nil {
			return err
		}
		slog.Info("captured schema", slog.Int("tables", len(snap.Tables())))

		if snapshotOutput == "-" {
			return schema.WriteSnapshot(c.OutOrStdout(), snap)
		}
		f, err := os.Create(snapshotOutput)
		if err != nil {
			return err
		}
		if err := schema.WriteSnapshot(f, snap); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("write %s: %w", snapshotOutput, err)
		}
		return nil
	},
}

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
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/dsconfig/config"
)

const serviceName = "dsconfig"

var sourceName string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dsconfig",
	Short: "Manage dataset query configurations",
	Long: `Resolve, validate, infer and publish the configurations that describe how a
dataset's warehouse tables are exposed for querying.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sourceName, "source", "", "Configuration source to use (default: all sources in order, or the first for writes)")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// handleSignals returns a context cancelled on SIGINT or SIGTERM.
func handleSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// runWithApp sets up telemetry, loads configuration, builds the sources and
// hands them to fn, recording the command outcome.
func runWithApp(fn func(ctx context.Context, c *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(c *cobra.Command, args []string) error {
		ctx, shutdown, err := setupTelemetry(serviceName)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(); err != nil {
				slog.Warn("telemetry shutdown failed", slog.Any("error", err))
			}
		}()

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				slog.Warn("closing sources", slog.Any("error", err))
			}
		}()

		start := time.Now()
		err = fn(ctx, c, a, args)
		recordCommand(ctx, c.Name(), time.Since(start), err)
		return err
	}
}

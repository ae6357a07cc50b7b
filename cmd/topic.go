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
	"github.com/spf13/cobra"

	"github.com/cardinalhq/dsconfig/config"
	"github.com/cardinalhq/dsconfig/internal/invalidation"
)

var topicFix bool

func init() {
	topicCmd.Flags().BoolVar(&topicFix, "fix", false, "Create or update the topic instead of only reporting differences")
	rootCmd.AddCommand(topicCmd)
}

var topicCmd = &cobra.Command{
	Use:   "sync-topic",
	Short: "Check or create the Kafka topic carrying invalidation events",
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
		return invalidation.SyncTopic(ctx, cfg.Invalidation, topicFix)
	},
}

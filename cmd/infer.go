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

	"github.com/spf13/cobra"

	"github.com/cardinalhq/dsconfig/pkg/dsconfig"
)

var (
	inferTables  []string
	inferAugment string
	inferPublish bool
)

func init() {
	inferCmd.Flags().StringSliceVar(&inferTables, "tables", nil, "Infer from these tables instead of discovering the dataset's tables")
	inferCmd.Flags().StringVar(&inferAugment, "augment", "", "Add uncovered columns to this stored configuration instead of inferring a new one")
	inferCmd.Flags().BoolVar(&inferPublish, "publish", false, "Publish the result to --source or the first configured source")
	rootCmd.AddCommand(inferCmd)
}

var inferCmd = &cobra.Command{
	Use:   "infer DATASET",
	Short: "Build a configuration from the warehouse schema",
	Args:  cobra.ExactArgs(1),
	RunE: runWithApp(func(ctx context.Context, c *cobra.Command, a *app, args []string) error {
		if inferAugment != "" && len(inferTables) > 0 {
			return errors.New("--tables and --augment cannot be combined")
		}
		dataset := args[0]

		engine, done, err := newEngine(ctx, a)
		if err != nil {
			return err
		}
		defer done()

		var tree *dsconfig.Node
		switch {
		case inferAugment != "":
			existing, err := a.resolve(ctx, sourceName, dataset, inferAugment)
			if err != nil {
				return err
			}
			tree, err = engine.Augment(ctx, existing)
			if err != nil {
				return err
			}
		case len(inferTables) > 0:
			if tree, err = engine.InferFromTables(ctx, dataset, inferTables); err != nil {
				return err
			}
		default:
			if tree, err = engine.Infer(ctx, dataset); err != nil {
				return err
			}
		}

		if inferPublish {
			r, err := a.writable(sourceName)
			if err != nil {
				return err
			}
			if err := r.Publish(ctx, tree); err != nil {
				return err
			}
		}
		return writeTree(c.OutOrStdout(), tree)
	}),
}

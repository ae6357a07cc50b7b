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
	"fmt"
	"log/slog"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/spf13/cobra"

	"github.com/cardinalhq/dsconfig/internal/resolver"
	"github.com/cardinalhq/dsconfig/internal/validator"
	"github.com/cardinalhq/dsconfig/pkg/digest"
	"github.com/cardinalhq/dsconfig/pkg/dsconfig"
)

var (
	resolveAnyDataset bool
	publishValidate   bool
	listCandidates    bool
)

func init() {
	resolveCmd.Flags().BoolVar(&resolveAnyDataset, "any-dataset", false, "Treat the single argument as a configuration name and search every dataset")
	publishCmd.Flags().BoolVar(&publishValidate, "validate", false, "Refuse to publish configurations with broken references")
	datasetsCmd.Flags().BoolVar(&listCandidates, "candidates", false, "List datasets inferable from the warehouse schema instead of stored ones")

	rootCmd.AddCommand(resolveCmd, publishCmd, deleteCmd, invalidateCmd, datasetsCmd, namesCmd, syncCmd)
}

var resolveCmd = &cobra.Command{
	Use:   "resolve DATASET [NAME]",
	Short: "Print a configuration",
	Args:  cobra.RangeArgs(1, 2),
	RunE: runWithApp(func(ctx context.Context, c *cobra.Command, a *app, args []string) error {
		var (
			tree *dsconfig.Node
			err  error
		)
		if resolveAnyDataset {
			if len(args) != 1 {
				return errors.New("--any-dataset takes exactly one NAME")
			}
			var found bool
			tree, found, err = a.registry.ResolveAcrossSources(ctx, args[0])
			if err == nil && !found {
				err = fmt.Errorf("%s: %w", args[0], dsconfig.ErrNotFound)
			}
		} else {
			dataset, name := keyArgs(args)
			tree, err = a.resolve(ctx, sourceName, dataset, name)
		}
		if err != nil {
			return err
		}
		return writeTree(c.OutOrStdout(), tree)
	}),
}

var publishCmd = &cobra.Command{
	Use:   "publish FILE...",
	Short: "Publish configuration documents to a source",
	Long:  "Publish configuration documents, or stdin for \"-\", to --source or the first configured source.",
	Args:  cobra.MinimumNArgs(1),
	RunE: runWithApp(func(ctx context.Context, c *cobra.Command, a *app, args []string) error {
		r, err := a.writable(sourceName)
		if err != nil {
			return err
		}

		var v *validator.Validator
		if publishValidate {
			var done func()
			v, done, err = newValidator(ctx, a)
			if err != nil {
				return err
			}
			defer done()
		}

		for _, path := range args {
			tree, err := readTree(path)
			if err != nil {
				return err
			}
			if v != nil {
				checked, err := v.Validate(ctx, tree)
				if err != nil {
					return err
				}
				if rep := validator.NewReport(checked); !rep.OK() {
					_ = rep.WriteText(c.ErrOrStderr())
					return fmt.Errorf("%s: %w", path, errBroken)
				}
			}
			if err := r.Publish(ctx, tree); err != nil {
				return err
			}
			d, err := digest.Of(tree)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "%s/%s %s\n", tree.Dataset, tree.InternalName, d)
		}
		return nil
	}),
}

var deleteCmd = &cobra.Command{
	Use:   "delete DATASET NAME",
	Short: "Delete a configuration from a source",
	Args:  cobra.ExactArgs(2),
	RunE: runWithApp(func(ctx context.Context, _ *cobra.Command, a *app, args []string) error {
		r, err := a.writable(sourceName)
		if err != nil {
			return err
		}
		return r.Delete(ctx, args[0], args[1])
	}),
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate DATASET [NAME]",
	Short: "Drop a configuration from local caches and tell other processes to do the same",
	Args:  cobra.RangeArgs(1, 2),
	RunE: runWithApp(func(ctx context.Context, _ *cobra.Command, a *app, args []string) error {
		dataset, name := keyArgs(args)
		targets, err := a.targets(sourceName)
		if err != nil {
			return err
		}
		var errs []error
		for _, r := range targets {
			r.Invalidate(ctx, dataset, name)
			if a.bus == nil {
				continue
			}
			if err := a.bus.Announce(ctx, r.Name(), resolver.Key{Dataset: dataset, Name: name}, digest.Zero); err != nil {
				errs = append(errs, fmt.Errorf("announce to %s: %w", r.Name(), err))
			}
		}
		return errors.Join(errs...)
	}),
}

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List datasets",
	Args:  cobra.NoArgs,
	RunE: runWithApp(func(ctx context.Context, c *cobra.Command, a *app, _ []string) error {
		var (
			out []string
			err error
		)
		switch {
		case listCandidates:
			engine, done, err := newEngine(ctx, a)
			if err != nil {
				return err
			}
			defer done()
			out, err = engine.CandidateDatasets(ctx)
			if err != nil {
				return err
			}
		case sourceName != "":
			r, err := a.source(sourceName)
			if err != nil {
				return err
			}
			if out, err = r.ListDatasets(ctx); err != nil {
				return err
			}
		default:
			if out, err = a.registry.ListDatasets(ctx); err != nil {
				return err
			}
		}
		return writeLines(c.OutOrStdout(), out)
	}),
}

var namesCmd = &cobra.Command{
	Use:   "names DATASET",
	Short: "List the configuration names stored for a dataset",
	Args:  cobra.ExactArgs(1),
	RunE: runWithApp(func(ctx context.Context, c *cobra.Command, a *app, args []string) error {
		targets, err := a.targets(sourceName)
		if err != nil {
			return err
		}
		names := mapset.NewThreadUnsafeSet[string]()
		for _, r := range targets {
			got, err := r.ListNames(ctx, args[0])
			if err != nil {
				if sourceName != "" {
					return err
				}
				slog.Warn("skipping unavailable source", slog.String("source", r.Name()), slog.Any("error", err))
				continue
			}
			names.Append(got...)
		}
		out := names.ToSlice()
		slices.Sort(out)
		return writeLines(c.OutOrStdout(), out)
	}),
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Bring persistent caches up to date with their sources",
	Args:  cobra.NoArgs,
	RunE: runWithApp(func(ctx context.Context, _ *cobra.Command, a *app, _ []string) error {
		if sourceName == "" {
			return a.registry.SyncAll(ctx)
		}
		r, err := a.source(sourceName)
		if err != nil {
			return err
		}
		return r.Sync(ctx)
	}),
}

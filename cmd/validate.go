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

	"github.com/spf13/cobra"

	"github.com/cardinalhq/dsconfig/internal/inference"
	"github.com/cardinalhq/dsconfig/internal/validator"
	"github.com/cardinalhq/dsconfig/pkg/dsconfig"
)

var errBroken = errors.New("configuration has broken references")

var (
	validateFile   string
	validateAll    bool
	validateFormat string
)

func init() {
	validateCmd.Flags().StringVar(&validateFile, "file", "", "Validate a configuration document instead of a stored one (\"-\" reads stdin)")
	validateCmd.Flags().BoolVar(&validateAll, "all", false, "Validate every stored configuration and report the broken ones")
	validateCmd.Flags().StringVar(&validateFormat, "format", formatText, "Output format: text, yaml or json")
	rootCmd.AddCommand(validateCmd)
}

func newValidator(ctx context.Context, a *app) (*validator.Validator, func(), error) {
	intro, done, err := openSchema(ctx, a.cfg.Schema)
	if err != nil {
		return nil, nil, err
	}
	v, err := validator.New(intro,
		validator.WithConventions(a.cfg.Validation),
		validator.WithConcurrency(a.cfg.Schema.Concurrency))
	if err != nil {
		done()
		return nil, nil, err
	}
	return v, done, nil
}

func newEngine(ctx context.Context, a *app) (*inference.Engine, func(), error) {
	intro, done, err := openSchema(ctx, a.cfg.Schema)
	if err != nil {
		return nil, nil, err
	}
	return inference.New(intro, inference.WithConventions(a.cfg.Inference)), done, nil
}

var validateCmd = &cobra.Command{
	Use:   "validate [DATASET [NAME]]",
	Short: "Check a configuration's references against the warehouse schema",
	Args:  cobra.MaximumNArgs(2),
	RunE: runWithApp(func(ctx context.Context, c *cobra.Command, a *app, args []string) error {
		modes := 0
		for _, set := range []bool{validateFile != "", validateAll, len(args) > 0} {
			if set {
				modes++
			}
		}
		if modes != 1 {
			return errors.New("give exactly one of DATASET, --file or --all")
		}

		v, done, err := newValidator(ctx, a)
		if err != nil {
			return err
		}
		defer done()

		if validateAll {
			return validateStored(ctx, c, a, v)
		}

		var tree *dsconfig.Node
		if validateFile != "" {
			tree, err = readTree(validateFile)
		} else {
			dataset, name := keyArgs(args)
			tree, err = a.resolve(ctx, sourceName, dataset, name)
		}
		if err != nil {
			return err
		}
		checked, err := v.Validate(ctx, tree)
		if err != nil {
			return err
		}
		rep := validator.NewReport(checked)

		if err := writeReports(c, []validator.Report{rep}); err != nil {
			return err
		}
		if !rep.OK() {
			return errBroken
		}
		return nil
	}),
}

// validateStored validates every configuration of every target source and
// reports the broken ones.
func validateStored(ctx context.Context, c *cobra.Command, a *app, v *validator.Validator) error {
	targets, err := a.targets(sourceName)
	if err != nil {
		return err
	}
	var broken []validator.Report
	checked := 0
	for _, r := range targets {
		datasets, err := r.ListDatasets(ctx)
		if err != nil {
			return err
		}
		for _, ds := range datasets {
			names, err := r.ListNames(ctx, ds)
			if err != nil {
				return err
			}
			for _, name := range names {
				tree, err := r.Resolve(ctx, ds, name)
				if err != nil {
					slog.Warn("skipping unreadable configuration",
						slog.String("source", r.Name()), slog.String("dataset", ds), slog.String("name", name), slog.Any("error", err))
					continue
				}
				out, err := v.Validate(ctx, tree)
				if err != nil {
					return fmt.Errorf("%s/%s: %w", ds, name, err)
				}
				checked++
				if rep := validator.NewReport(out); !rep.OK() {
					broken = append(broken, rep)
				}
			}
		}
	}
	slog.Info("validated stored configurations", slog.Int("checked", checked), slog.Int("broken", len(broken)))
	if err := writeReports(c, broken); err != nil {
		return err
	}
	if len(broken) > 0 {
		return errBroken
	}
	return nil
}

func writeReports(c *cobra.Command, reps []validator.Report) error {
	w := c.OutOrStdout()
	if validateFormat != formatText {
		if reps == nil {
			reps = []validator.Report{}
		}
		return writeValue(w, validateFormat, reps)
	}
	for _, rep := range reps {
		if err := rep.WriteText(w); err != nil {
			return err
		}
	}
	return nil
}

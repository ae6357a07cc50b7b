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

// Package validator checks a configuration tree against a live schema and
// returns a copy in which stale field and table references are flagged.
//
// Validation never removes nodes and never touches its input. Each node
// that carries both a field and a table constraint is looked up in the
// schema; containers receive cascading flags from their children so a
// caller can ask any node IsBroken without walking below it.
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/dsconfig/internal/logctx"
	"github.com/cardinalhq/dsconfig/internal/schema"
	"github.com/cardinalhq/dsconfig/pkg/dsconfig"
)

// Conventions holds the warehouse naming rules the validator relies on.
type Conventions struct {
	// NonValidatableTypes are node types sourced from somewhere other than
	// a column, such as a tree-shaped dropdown.
	NonValidatableTypes []string `mapstructure:"non_validatable_types"`

	// PlaceholderPattern matches internal names of placeholder
	// descriptions that point into another dataset.
	PlaceholderPattern string `mapstructure:"placeholder_pattern"`

	// MainTableToken is the table constraint that stands for the dataset's
	// star table, and the suffix every star table carries.
	MainTableToken string `mapstructure:"main_table_token"`
}

// DefaultConventions returns the conventions of a mart-style warehouse.
func DefaultConventions() Conventions {
	return Conventions{
		NonValidatableTypes: []string{"tree"},
		PlaceholderPattern:  `^\w+\.\w+$`,
		MainTableToken:      "main",
	}
}

// Validator checks trees against one schema introspector. It is safe for
// concurrent use; each call works on its own copy.
type Validator struct {
	intro       schema.Introspector
	conv        Conventions
	placeholder *regexp.Regexp
	concurrency int
	logger      *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithConventions replaces DefaultConventions.
func WithConventions(c Conventions) Option {
	return func(v *Validator) { v.conv = c }
}

// WithConcurrency limits how many pages are validated at once.
func WithConcurrency(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.concurrency = n
		}
	}
}

// WithLogger sets the logger used when the context carries none.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// New returns a validator over intro.
func New(intro schema.Introspector, opts ...Option) (*Validator, error) {
	v := &Validator{
		intro:       intro,
		conv:        DefaultConventions(),
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.conv.MainTableToken == "" {
		return nil, fmt.Errorf("main table token is required")
	}
	if v.conv.PlaceholderPattern != "" {
		re, err := regexp.Compile(v.conv.PlaceholderPattern)
		if err != nil {
			return nil, fmt.Errorf("placeholder pattern: %w", err)
		}
		v.placeholder = re
	}
	return v, nil
}

func (v *Validator) log(ctx context.Context) *slog.Logger {
	if v.logger != nil {
		return v.logger
	}
	return logctx.FromContext(ctx)
}

// Validate returns a validated copy of tree. When the schema itself cannot
// be queried the error wraps dsconfig.ErrValidationInconclusive and no
// tree is returned.
func (v *Validator) Validate(ctx context.Context, tree *dsconfig.Node) (*dsconfig.Node, error) {
	if err := tree.EnsureLoaded(ctx); err != nil {
		return nil, err
	}
	if err := dsconfig.CheckRoot(tree); err != nil {
		return nil, err
	}

	out := tree.Clone()
	r := &run{
		v:       v,
		root:    out,
		columns: make(map[memoKey][]schema.Column),
		tables:  make(map[string][]string),
	}

	if err := r.validateRoot(ctx); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for _, child := range out.Children() {
		g.Go(func() error {
			return r.visit(gctx, child)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("validate %s/%s: %w: %w", out.Dataset, out.InternalName,
			dsconfig.ErrValidationInconclusive, err)
	}
	out.Broken.Children = anyBroken(out.Children())

	checked, broken := r.counts()
	v.log(ctx).Debug("validated configuration",
		slog.String("dataset", out.Dataset),
		slog.String("name", out.InternalName),
		slog.Int("checked", checked),
		slog.Int("broken", broken))
	return out, nil
}

type memoKey struct {
	table  string
	column string
}

// run is the state of one Validate call. Introspection results are
// memoized for the run so repeated fields cost one query.
type run struct {
	v    *Validator
	root *dsconfig.Node

	mu      sync.Mutex
	columns map[memoKey][]schema.Column
	tables  map[string][]string
	checked int
	broken  int
}

func (r *run) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checked, r.broken
}

func (r *run) columnsMatching(ctx context.Context, table, column string) ([]schema.Column, error) {
	key := memoKey{table: strings.ToLower(table), column: strings.ToLower(column)}
	r.mu.Lock()
	cols, ok := r.columns[key]
	r.mu.Unlock()
	if ok {
		return cols, nil
	}
	cols, err := r.v.intro.ColumnsMatching(ctx, table, column)
	if err != nil {
		return nil, fmt.Errorf("columns matching %s.%s: %w", table, column, err)
	}
	r.mu.Lock()
	r.columns[key] = cols
	r.mu.Unlock()
	return cols, nil
}

func (r *run) tablesMatching(ctx context.Context, table string) ([]string, error) {
	key := strings.ToLower(table)
	r.mu.Lock()
	names, ok := r.tables[key]
	r.mu.Unlock()
	if ok {
		return names, nil
	}
	names, err := r.v.intro.TablesMatching(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("tables matching %s: %w", table, err)
	}
	r.mu.Lock()
	r.tables[key] = names
	r.mu.Unlock()
	return names, nil
}

func (r *run) validateRoot(ctx context.Context) error {
	root := r.root
	root.Broken = dsconfig.BrokenFlags{}

	for _, base := range root.MainTables {
		names, err := r.tablesMatching(ctx, schema.EscapeLike(base)+"%")
		if err != nil {
			return fmt.Errorf("validate %s/%s: %w: %w", root.Dataset, root.InternalName,
				dsconfig.ErrValidationInconclusive, err)
		}
		if !slices.ContainsFunc(names, func(n string) bool { return hasPrefixFold(n, base) }) {
			root.Broken.MainTables = true
		}
	}

	for _, key := range root.PrimaryKeys {
		cols, err := r.columnsMatching(ctx, "%"+r.v.conv.MainTableToken, schema.EscapeLike(key))
		if err != nil {
			return fmt.Errorf("validate %s/%s: %w: %w", root.Dataset, root.InternalName,
				dsconfig.ErrValidationInconclusive, err)
		}
		if !slices.ContainsFunc(cols, func(c schema.Column) bool { return strings.EqualFold(c.Name, key) }) {
			root.Broken.PrimaryKeys = true
		}
	}
	return nil
}

// visit validates n's subtree in post order.
func (r *run) visit(ctx context.Context, n *dsconfig.Node) error {
	if r.passThrough(n) {
		return nil
	}

	n.Broken = dsconfig.BrokenFlags{}
	if n.Field != "" {
		ok, err := r.check(ctx, n)
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.checked++
		if !ok {
			r.broken++
		}
		r.mu.Unlock()
		if !ok {
			n.Broken.Field = true
			n.Broken.Table = true
			nodeCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("broken", true)))
			r.v.log(ctx).Debug("broken reference",
				slog.String("dataset", r.root.Dataset),
				slog.String("node", n.InternalName),
				slog.String("field", n.Field),
				slog.String("tableConstraint", n.TableConstraint))
		} else {
			nodeCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("broken", false)))
		}
	}

	for _, c := range n.Children() {
		if err := r.visit(ctx, c); err != nil {
			return err
		}
		if !c.IsBroken() {
			continue
		}
		switch c.Kind {
		case dsconfig.KindOption:
			n.Broken.Options = true
		case dsconfig.KindPushAction:
			n.Broken.PushActions = true
		default:
			n.Broken.Children = true
		}
	}
	return nil
}

// passThrough reports whether n cannot be validated and must be left
// exactly as it is, subtree included.
func (r *run) passThrough(n *dsconfig.Node) bool {
	if slices.Contains(r.v.conv.NonValidatableTypes, n.Type) && n.Type != "" {
		return true
	}
	if n.Kind.IsDescription() && r.v.placeholder != nil && r.v.placeholder.MatchString(n.InternalName) {
		return true
	}
	return n.Field != "" && n.TableConstraint == ""
}

// check reports whether n's field exists in a table satisfying its
// constraint.
func (r *run) check(ctx context.Context, n *dsconfig.Node) (bool, error) {
	field := schema.EscapeLike(n.Field)
	if !strings.EqualFold(n.TableConstraint, r.v.conv.MainTableToken) {
		cols, err := r.columnsMatching(ctx, n.TableConstraint, field)
		if err != nil {
			return false, err
		}
		return matches(cols, n.Field, n.TableConstraint), nil
	}

	for _, pattern := range r.mainPatterns(n) {
		cols, err := r.columnsMatching(ctx, pattern, field)
		if err != nil {
			return false, err
		}
		if matches(cols, n.Field, n.TableConstraint) {
			return true, nil
		}
	}
	return false, nil
}

// mainPatterns lists the table patterns the main token stands for, in the
// order they are tried: the star base paired with the node's join key,
// then every star base, then any main table of the dataset.
func (r *run) mainPatterns(n *dsconfig.Node) []string {
	root := r.root
	if n.JoinKey != "" {
		if i := slices.Index(root.PrimaryKeys, n.JoinKey); i >= 0 && i < len(root.MainTables) {
			return []string{schema.EscapeLike(root.MainTables[i]) + "%"}
		}
	}
	if len(root.MainTables) > 0 {
		out := make([]string, len(root.MainTables))
		for i, base := range root.MainTables {
			out[i] = schema.EscapeLike(base) + "%"
		}
		return out
	}
	return []string{schema.EscapeLike(root.Dataset) + "%" + r.v.conv.MainTableToken}
}

// matches applies the field and table rules to introspection results: some
// column must equal field, ignoring case, in a table whose name contains
// the constraint.
func matches(cols []schema.Column, field, constraint string) bool {
	for _, c := range cols {
		if !strings.EqualFold(c.Name, field) {
			continue
		}
		if constraint == "" || strings.Contains(strings.ToLower(c.Table), strings.ToLower(constraint)) {
			return true
		}
	}
	return false
}

func anyBroken(nodes []*dsconfig.Node) bool {
	return slices.ContainsFunc(nodes, (*dsconfig.Node).IsBroken)
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

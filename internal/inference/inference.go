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

// Package inference builds a dataset configuration from schema metadata
// and naming conventions when no stored configuration exists.
package inference

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cardinalhq/dsconfig/internal/logctx"
	"github.com/cardinalhq/dsconfig/internal/schema"
	"github.com/cardinalhq/dsconfig/pkg/dsconfig"
)

// ErrNoTables means the schema holds no table that belongs to the dataset.
var ErrNoTables = errors.New("no tables found for dataset")

const (
	rootName = "default"
	rootType = "TableSet"
)

type layout struct {
	attrPage, attrPageDisplay     string
	attrGroup, attrGroupDisplay   string
	filterPage, filterPageDisplay string
	filterGroup, filterGroupDisp  string
	bools, lists                  string
}

var (
	naiveLayout = layout{
		attrPage: "naive_attributes", attrPageDisplay: "ATTRIBUTES",
		attrGroup: "features", attrGroupDisplay: "FEATURES",
		filterPage: "naive_filters", filterPageDisplay: "FILTERS",
		filterGroup: "filters", filterGroupDisp: "FILTERS",
		bools: "naive_id_list_filters", lists: "naive_id_list_limit_filters",
	}
	augmentLayout = layout{
		attrPage: "new_attributes", attrPageDisplay: "NEW_ATTRIBUTES",
		attrGroup: "new_attributes", attrGroupDisplay: "NEW_ATTRIBUTES",
		filterPage: "new_filters", filterPageDisplay: "NEW_FILTERS",
		filterGroup: "new_filters", filterGroupDisp: "NEW_FILTERS",
		bools: "new_id_list_filters", lists: "new_id_list_limit_filters",
	}
)

// Engine infers configurations from one schema introspector.
type Engine struct {
	intro  schema.Introspector
	conv   Conventions
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithConventions replaces DefaultConventions.
func WithConventions(c Conventions) Option {
	return func(e *Engine) { e.conv = c }
}

// WithLogger sets the logger used when the context carries none.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New returns an engine over intro.
func New(intro schema.Introspector, opts ...Option) *Engine {
	e := &Engine{intro: intro, conv: DefaultConventions()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) log(ctx context.Context) *slog.Logger {
	if e.logger != nil {
		return e.logger
	}
	return logctx.FromContext(ctx)
}

// CandidateDatasets lists the datasets that own at least one main table,
// sorted.
func (e *Engine) CandidateDatasets(ctx context.Context) ([]string, error) {
	names, err := e.intro.TablesMatching(ctx, "%"+schema.EscapeLike(e.conv.Separator+e.conv.MainSuffix))
	if err != nil {
		return nil, fmt.Errorf("list main tables: %w", err)
	}
	found := mapset.NewThreadUnsafeSet[string]()
	for _, name := range names {
		if e.conv.classify(name) != tableMain {
			continue
		}
		ds := e.conv.datasetOf(name)
		if ds == "" || e.conv.excludedDataset(ds) {
			continue
		}
		found.Add(ds)
	}
	out := found.ToSlice()
	slices.Sort(out)
	return out, nil
}

// Infer discovers the dataset's tables and builds a configuration from
// them.
func (e *Engine) Infer(ctx context.Context, dataset string) (*dsconfig.Node, error) {
	tables, err := e.discover(ctx, dataset)
	if err != nil {
		return nil, err
	}
	return e.InferFromTables(ctx, dataset, tables)
}

// InferFromTables builds a configuration from an explicit table list.
// Tables that are not main, dimension or lookup tables are ignored.
func (e *Engine) InferFromTables(ctx context.Context, dataset string, tables []string) (*dsconfig.Node, error) {
	infos, err := e.describe(ctx, tables)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%s: %w", dataset, ErrNoTables)
	}

	b := e.newBuilder(naiveLayout, infos, nil)
	root := dsconfig.NewRoot(dataset, rootName)
	root.DisplayName = dataset
	root.Type = rootType
	root.MainTables = b.mainTables
	root.PrimaryKeys = b.primaryKeys
	if err := b.build(root); err != nil {
		return nil, err
	}

	e.log(ctx).Debug("inferred configuration",
		slog.String("dataset", dataset),
		slog.Int("tables", len(infos)),
		slog.Int("mainTables", len(b.mainTables)),
		slog.Int("attributes", b.attributes),
		slog.Int("filters", b.filters))
	return root, nil
}

// Augment returns a copy of existing with pages new_attributes and
// new_filters holding every inferable column the configuration does not
// already cover, as an attribute or a filter respectively. Earlier
// augmentation pages are replaced.
func (e *Engine) Augment(ctx context.Context, existing *dsconfig.Node) (*dsconfig.Node, error) {
	if err := existing.EnsureLoaded(ctx); err != nil {
		return nil, err
	}
	if err := dsconfig.CheckRoot(existing); err != nil {
		return nil, err
	}
	out := existing.Clone()
	out.RemoveChild(dsconfig.KindAttributePage, augmentLayout.attrPage)
	out.RemoveChild(dsconfig.KindFilterPage, augmentLayout.filterPage)

	tables, err := e.discover(ctx, out.Dataset)
	if err != nil {
		return nil, err
	}
	infos, err := e.describe(ctx, tables)
	if err != nil {
		return nil, err
	}

	b := e.newBuilder(augmentLayout, infos, func(kind dsconfig.Kind, field, table string) bool {
		for n := range out.All() {
			if !sameFamily(kind, n.Kind) {
				continue
			}
			if strings.EqualFold(n.Field, field) && n.TableConstraint == table {
				return true
			}
		}
		return false
	})
	for n := range out.All() {
		switch {
		case n.Kind == dsconfig.KindAttribute:
			b.attrNames.Add(n.InternalName)
		case n.Kind == dsconfig.KindFilter || n.Kind == dsconfig.KindOption:
			b.filterNames.Add(n.InternalName)
		}
	}
	if err := b.build(out); err != nil {
		return nil, err
	}
	e.log(ctx).Debug("augmented configuration",
		slog.String("dataset", out.Dataset),
		slog.String("name", out.InternalName),
		slog.Int("attributes", b.attributes),
		slog.Int("filters", b.filters))
	return out, nil
}

// sameFamily treats filters and the options standing in for them as one
// family, and attributes as another.
func sameFamily(want, got dsconfig.Kind) bool {
	if want == dsconfig.KindAttribute {
		return got == dsconfig.KindAttribute
	}
	return got == dsconfig.KindFilter || got == dsconfig.KindOption
}

func (e *Engine) discover(ctx context.Context, dataset string) ([]string, error) {
	names, err := e.intro.TablesMatching(ctx, schema.EscapeLike(dataset+e.conv.Separator)+"%")
	if err != nil {
		return nil, fmt.Errorf("list tables of %s: %w", dataset, err)
	}
	var out []string
	for _, name := range names {
		if strings.EqualFold(e.conv.datasetOf(name), dataset) && e.conv.classify(name) != tableOther {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", dataset, ErrNoTables)
	}
	return out, nil
}

type tableInfo struct {
	name    string
	kind    tableKind
	columns []schema.Column
	keys    int
}

func (e *Engine) describe(ctx context.Context, tables []string) ([]tableInfo, error) {
	var out []tableInfo
	for _, name := range tables {
		kind := e.conv.classify(name)
		if kind == tableOther {
			e.log(ctx).Debug("skipping table outside naming conventions", slog.String("table", name))
			continue
		}
		cols, err := e.intro.ColumnsMatching(ctx, schema.EscapeLike(name), "%")
		if err != nil {
			return nil, fmt.Errorf("columns of %s: %w", name, err)
		}
		info := tableInfo{name: name, kind: kind, columns: cols}
		for _, c := range cols {
			if e.conv.isKey(strings.ToLower(c.Name)) {
				info.keys++
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// rank orders main tables by ascending key count, keeping discovery order
// between ties, followed by dimension and then lookup tables.
func rank(infos []tableInfo) []tableInfo {
	out := slices.Clone(infos)
	slices.SortStableFunc(out, func(a, b tableInfo) int {
		if a.kind != b.kind {
			return cmp.Compare(a.kind, b.kind)
		}
		if a.kind == tableMain {
			return cmp.Compare(a.keys, b.keys)
		}
		return 0
	})
	return out
}

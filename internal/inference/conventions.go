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

package inference

import "strings"

// Conventions are the warehouse naming rules inference relies on. Table
// names look like dataset__content__suffix.
type Conventions struct {
	Separator       string   `mapstructure:"separator"`
	MainSuffix      string   `mapstructure:"main_suffix"`
	DimensionSuffix string   `mapstructure:"dimension_suffix"`
	LookupSuffix    string   `mapstructure:"lookup_suffix"`
	KeySuffix       string   `mapstructure:"key_suffix"`
	BoolSuffix      string   `mapstructure:"bool_suffix"`
	ListSuffix      string   `mapstructure:"list_suffix"`
	LookupPrefixes  []string `mapstructure:"lookup_prefixes"`
	// ListOnlyLookupPrefix marks lookup columns that become list filters
	// rather than free text.
	ListOnlyLookupPrefix string `mapstructure:"list_only_lookup_prefix"`
	PrimaryIDColumn      string `mapstructure:"primary_id_column"`
	DisplayIDColumn      string `mapstructure:"display_id_column"`
	XrefPrefix           string `mapstructure:"xref_prefix"`
	MaxAttributeLength   int    `mapstructure:"max_attribute_length"`
	// ExcludedDatasetPrefixes hides bookkeeping tables from CandidateDatasets.
	ExcludedDatasetPrefixes []string `mapstructure:"excluded_dataset_prefixes"`
}

// DefaultConventions returns the conventions of a mart-style warehouse.
func DefaultConventions() Conventions {
	return Conventions{
		Separator:               "__",
		MainSuffix:              "main",
		DimensionSuffix:         "dm",
		LookupSuffix:            "look",
		KeySuffix:               "_key",
		BoolSuffix:              "_bool",
		ListSuffix:              "_list",
		LookupPrefixes:          []string{"glook_", "silent_"},
		ListOnlyLookupPrefix:    "silent_",
		PrimaryIDColumn:         "dbprimary_id",
		DisplayIDColumn:         "display_id",
		XrefPrefix:              "xref_",
		MaxAttributeLength:      255,
		ExcludedDatasetPrefixes: []string{"meta"},
	}
}

type tableKind int

const (
	tableOther tableKind = iota
	tableMain
	tableDimension
	tableLookup
)

func (c Conventions) classify(table string) tableKind {
	lower := strings.ToLower(table)
	switch {
	case strings.HasSuffix(lower, c.Separator+c.MainSuffix):
		return tableMain
	case strings.HasSuffix(lower, c.Separator+c.DimensionSuffix):
		return tableDimension
	case strings.HasSuffix(lower, c.Separator+c.LookupSuffix):
		return tableLookup
	default:
		return tableOther
	}
}

// datasetOf returns the leading segment of a table name.
func (c Conventions) datasetOf(table string) string {
	parts := strings.Split(table, c.Separator)
	if len(parts) < 2 {
		return ""
	}
	return parts[0]
}

// content returns the middle segments of a table name, or the dataset
// segment for two-part names.
func (c Conventions) content(table string) string {
	parts := strings.Split(table, c.Separator)
	switch {
	case len(parts) >= 3:
		return strings.Join(parts[1:len(parts)-1], c.Separator)
	case len(parts) == 2:
		return parts[0]
	default:
		return table
	}
}

func (c Conventions) isKey(column string) bool {
	return strings.HasSuffix(column, c.KeySuffix)
}

func (c Conventions) lookupPrefix(column string) (string, bool) {
	for _, p := range c.LookupPrefixes {
		if strings.HasPrefix(column, p) {
			return p, true
		}
	}
	return "", false
}

func (c Conventions) excludedDataset(name string) bool {
	for _, p := range c.ExcludedDatasetPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// displayName turns a column or table fragment into a label.
func displayName(s string, capitalize bool) string {
	s = strings.ReplaceAll(s, "_", " ")
	if capitalize && s != "" {
		s = strings.ToUpper(s[:1]) + s[1:]
	}
	return s
}

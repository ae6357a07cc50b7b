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

package validator

import (
	"fmt"
	"io"

	"github.com/cardinalhq/dsconfig/pkg/dsconfig"
)

// Report summarizes a validated tree.
type Report struct {
	Dataset     string   `json:"dataset" yaml:"dataset"`
	Name        string   `json:"name" yaml:"name"`
	MainTables  bool     `json:"mainTablesBroken" yaml:"mainTablesBroken"`
	PrimaryKeys bool     `json:"primaryKeysBroken" yaml:"primaryKeysBroken"`
	Broken      []string `json:"broken,omitempty" yaml:"broken,omitempty"`
}

// NewReport lists the broken references of a tree returned by Validate.
func NewReport(tree *dsconfig.Node) Report {
	rep := Report{
		Dataset:     tree.Dataset,
		Name:        tree.InternalName,
		MainTables:  tree.Broken.MainTables,
		PrimaryKeys: tree.Broken.PrimaryKeys,
	}
	for _, p := range tree.BrokenPaths() {
		if p != tree.InternalName {
			rep.Broken = append(rep.Broken, p)
		}
	}
	return rep
}

// OK reports whether nothing was flagged.
func (r Report) OK() bool {
	return !r.MainTables && !r.PrimaryKeys && len(r.Broken) == 0
}

// WriteText renders the report one path per line.
func (r Report) WriteText(w io.Writer) error {
	if r.OK() {
		_, err := fmt.Fprintf(w, "%s/%s: ok\n", r.Dataset, r.Name)
		return err
	}
	if _, err := fmt.Fprintf(w, "%s/%s: %d broken\n", r.Dataset, r.Name, len(r.Broken)); err != nil {
		return err
	}
	if r.MainTables {
		if _, err := fmt.Fprintln(w, "  main tables"); err != nil {
			return err
		}
	}
	if r.PrimaryKeys {
		if _, err := fmt.Fprintln(w, "  primary keys"); err != nil {
			return err
		}
	}
	for _, p := range r.Broken {
		if _, err := fmt.Fprintf(w, "  %s\n", p); err != nil {
			return err
		}
	}
	return nil
}

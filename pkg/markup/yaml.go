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

// Package markup reads and writes configuration trees as YAML documents.
//
// A document is a nested list of nodes:
//
//	kind: dataset
//	attributes:
//	  dataset: gene
//	  internalName: default
//	children:
//	  - kind: filterPage
//	    attributes:
//	      internalName: filters
//
// Attribute keys are emitted in lexical order and children in rank order,
// the same ordering the digest package hashes, so decoding and re-encoding
// a document yields the same digest.
package markup

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/cardinalhq/dsconfig/pkg/dsconfig"
)

type document struct {
	Kind       string            `yaml:"kind"`
	Attributes map[string]string `yaml:"attributes,omitempty"`
	Children   []document        `yaml:"children,omitempty"`
}

// YAML is the document codec used by every store.
type YAML struct{}

// Encode renders a root and everything below it.
func (YAML) Encode(root *dsconfig.Node) ([]byte, error) {
	if err := dsconfig.CheckRoot(root); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(toDocument(root)); err != nil {
		return nil, fmt.Errorf("encode %s/%s: %w", root.Dataset, root.InternalName, err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toDocument(n *dsconfig.Node) document {
	d := document{Kind: n.Kind.String()}
	attrs := n.Attributes()
	if len(attrs) > 0 {
		d.Attributes = make(map[string]string, len(attrs))
		for _, a := range attrs {
			d.Attributes[a.Name] = a.Value
		}
	}
	for _, c := range n.Children() {
		d.Children = append(d.Children, toDocument(c))
	}
	return d
}

// Decode parses a document into a new tree. Any structural problem,
// including a sibling name collision, is reported as ErrMalformedDocument.
func (YAML) Decode(b []byte) (*dsconfig.Node, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var d document
	if err := dec.Decode(&d); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", dsconfig.ErrMalformedDocument)
		}
		return nil, fmt.Errorf("%w: %w", dsconfig.ErrMalformedDocument, err)
	}
	root, err := fromDocument(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", dsconfig.ErrMalformedDocument, err)
	}
	if err := dsconfig.CheckRoot(root); err != nil {
		return nil, fmt.Errorf("%w: %w", dsconfig.ErrMalformedDocument, err)
	}
	return root, nil
}

func fromDocument(d document) (*dsconfig.Node, error) {
	kind, err := dsconfig.ParseKind(d.Kind)
	if err != nil {
		return nil, err
	}
	n := &dsconfig.Node{Kind: kind}
	for k, v := range d.Attributes {
		if err := n.SetAttribute(k, v); err != nil {
			return nil, err
		}
	}
	for _, cd := range d.Children {
		c, err := fromDocument(cd)
		if err != nil {
			return nil, err
		}
		if err := n.AddChild(c); err != nil {
			return nil, err
		}
	}
	return n, nil
}

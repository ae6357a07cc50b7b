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

// Package schema describes the live warehouse schema that configurations
// are validated against and inferred from.
package schema

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Column is one column of one warehouse table.
type Column struct {
	Table     string `yaml:"table,omitempty"`
	Name      string `yaml:"name"`
	DataType  string `yaml:"dataType,omitempty"`
	MaxLength int    `yaml:"maxLength,omitempty"`
}

// Introspector answers pattern queries against a warehouse schema.
// Patterns use SQL LIKE syntax and match case-insensitively. Results come
// back in a stable discovery order.
type Introspector interface {
	ColumnsMatching(ctx context.Context, tablePattern, columnPattern string) ([]Column, error)
	TablesMatching(ctx context.Context, tablePattern string) ([]string, error)
}

// Like reports whether s matches the SQL LIKE pattern, ignoring case.
// '%' matches any run of characters, '_' exactly one, and '\' escapes the
// next pattern character.
func Like(pattern, s string) bool {
	return like(strings.ToLower(pattern), strings.ToLower(s))
}

func like(p, s string) bool {
	for len(p) > 0 {
		r, size := utf8.DecodeRuneInString(p)
		switch r {
		case '%':
			for len(p) > 0 && p[0] == '%' {
				p = p[1:]
			}
			if p == "" {
				return true
			}
			for i := 0; i <= len(s); {
				if like(p, s[i:]) {
					return true
				}
				if i == len(s) {
					break
				}
				_, n := utf8.DecodeRuneInString(s[i:])
				i += n
			}
			return false
		case '_':
			if s == "" {
				return false
			}
			_, n := utf8.DecodeRuneInString(s)
			p, s = p[size:], s[n:]
		default:
			if r == '\\' && len(p) > size {
				p = p[size:]
				r, size = utf8.DecodeRuneInString(p)
			}
			sr, n := utf8.DecodeRuneInString(s)
			if s == "" || sr != r {
				return false
			}
			p, s = p[size:], s[n:]
		}
	}
	return s == ""
}

// EscapeLike quotes the LIKE metacharacters in s so it matches literally.
func EscapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

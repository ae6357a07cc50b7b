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

package dsconfig

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no configuration exists for the requested key.
	// Callers may fall back to inference.
	ErrNotFound = errors.New("dataset configuration not found")

	// ErrSourceUnavailable means the authoritative store could not be reached.
	ErrSourceUnavailable = errors.New("configuration source unavailable")

	// ErrMalformedDocument means a document could not be decoded into a tree.
	ErrMalformedDocument = errors.New("malformed configuration document")

	// ErrValidationInconclusive means schema introspection failed, so nothing
	// can be said about whether any node is broken.
	ErrValidationInconclusive = errors.New("schema validation inconclusive")

	// ErrNameCollision means two siblings of the same kind share an internal name.
	ErrNameCollision = errors.New("internal name collision")

	ErrMissingName  = errors.New("internal name is required")
	ErrInvalidChild = errors.New("child kind not allowed under parent")
	ErrInvalidRoot  = errors.New("invalid dataset configuration root")
)

// CollisionError describes a rejected AddChild.
type CollisionError struct {
	Parent string
	Kind   Kind
	Name   string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("%s %q already exists under %q", e.Kind, e.Name, e.Parent)
}

func (e *CollisionError) Is(target error) bool {
	return target == ErrNameCollision
}

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

package logctx

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(buf *bytes.Buffer) context.Context {
	return WithLogger(context.Background(), slog.New(slog.NewTextHandler(buf, nil)))
}

func TestFromContextDefault(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestWithLogger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, logger, FromContext(WithLogger(context.Background(), logger)))
}

func TestWithSourceAndKey(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithKey(WithSource(capture(&buf), "prod"), "gene", "default")

	FromContext(ctx).Info("resolved")

	out := buf.String()
	assert.Contains(t, out, "source=prod")
	assert.Contains(t, out, "dataset=gene")
	assert.Contains(t, out, "name=default")
}

func TestWithAttrsEmptyKeepsContext(t *testing.T) {
	ctx := capture(&bytes.Buffer{})
	assert.Equal(t, ctx, WithAttrs(ctx))
}

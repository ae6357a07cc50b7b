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

package objstore

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var operationCounter metric.Int64Counter

func init() {
	meter := otel.Meter("github.com/cardinalhq/dsconfig/internal/objstore")

	var err error
	operationCounter, err = meter.Int64Counter(
		"dsconfig.objstore.operations",
		metric.WithDescription("Object store requests by backend, operation and outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create dsconfig.objstore.operations counter: %w", err))
	}
}

func recordOperation(ctx context.Context, backend, op, outcome string) {
	operationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

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

package invalidation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	publishedCounter otelmetric.Int64Counter
	receivedCounter  otelmetric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/dsconfig/internal/invalidation")

	var err error
	publishedCounter, err = meter.Int64Counter(
		"dsconfig.invalidation.published",
		otelmetric.WithDescription("Invalidation events written to Kafka"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create invalidation.published counter: %w", err))
	}

	receivedCounter, err = meter.Int64Counter(
		"dsconfig.invalidation.received",
		otelmetric.WithDescription("Invalidation events read from Kafka, by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create invalidation.received counter: %w", err))
	}
}

func recordPublished(ctx context.Context, source string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	publishedCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	))
}

func recordReceived(ctx context.Context, source, outcome string) {
	receivedCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	))
}

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

package pubsub

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	changeCounter  metric.Int64Counter
	messageCounter metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/dsconfig/internal/pubsub")

	var err error
	changeCounter, err = meter.Int64Counter(
		"dsconfig.pubsub.changes",
		metric.WithDescription("Object changes received from bucket notifications, by routing outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create dsconfig.pubsub.changes counter: %w", err))
	}

	messageCounter, err = meter.Int64Counter(
		"dsconfig.pubsub.messages",
		metric.WithDescription("Notification messages processed, by backend and outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create dsconfig.pubsub.messages counter: %w", err))
	}
}

func recordChange(ctx context.Context, outcome string) {
	changeCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func recordMessage(ctx context.Context, backend, outcome string) {
	messageCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("outcome", outcome),
	))
}

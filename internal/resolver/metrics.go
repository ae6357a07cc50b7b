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

package resolver

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	lookupCounter     metric.Int64Counter
	fetchCounter      metric.Int64Counter
	cacheErrorCounter metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/dsconfig/internal/resolver")

	var err error
	lookupCounter, err = meter.Int64Counter(
		"dsconfig.resolver.lookups",
		metric.WithDescription("Configuration lookups by the tier that answered them"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create dsconfig.resolver.lookups counter: %w", err))
	}

	fetchCounter, err = meter.Int64Counter(
		"dsconfig.resolver.fetches",
		metric.WithDescription("Full document fetches from the authoritative store"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create dsconfig.resolver.fetches counter: %w", err))
	}

	cacheErrorCounter, err = meter.Int64Counter(
		"dsconfig.resolver.cache_errors",
		metric.WithDescription("Persistent cache operations that failed and were skipped"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create dsconfig.resolver.cache_errors counter: %w", err))
	}
}

func tierAttr(source, tier string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("tier", tier),
	)
}

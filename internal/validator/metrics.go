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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var nodeCounter metric.Int64Counter

func init() {
	meter := otel.Meter("github.com/cardinalhq/dsconfig/internal/validator")

	var err error
	nodeCounter, err = meter.Int64Counter(
		"dsconfig.validator.nodes",
		metric.WithDescription("Field references checked against the live schema"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create dsconfig.validator.nodes counter: %w", err))
	}
}

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

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cardinalhq/oteltools/pkg/telemetry"
	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/host"
	iruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/dsconfig/internal/idgen"
)

var (
	commonAttributes attribute.Set

	meter = otel.Meter("github.com/cardinalhq/dsconfig")

	myInstanceID int64

	commandDuration metric.Float64Histogram
	syncCounter     metric.Int64Counter
)

func init() {
	h, err := meter.Float64Histogram(
		"dsconfig.command.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of dsconfig commands"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create command.duration histogram: %w", err))
	}
	commandDuration = h

	c, err := meter.Int64Counter(
		"dsconfig.watch.sync",
		metric.WithDescription("Periodic sync passes run by watch"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create watch.sync counter: %w", err))
	}
	syncCounter = c
}

// logLevel is Warn unless DEBUG, DSCONFIG_DEBUG or DSCONFIG_VERBOSE asks
// for more.
func logLevel() slog.Level {
	switch {
	case os.Getenv("DEBUG") != "" || os.Getenv("DSCONFIG_DEBUG") != "":
		return slog.LevelDebug
	case os.Getenv("DSCONFIG_VERBOSE") != "":
		return slog.LevelInfo
	}
	return slog.LevelWarn
}

func otlpEnabled() bool {
	return os.Getenv("OTEL_SERVICE_NAME") != "" && os.Getenv("ENABLE_OTLP_TELEMETRY") == "true"
}

// setupTelemetry installs the default logger and, when OTLP export is
// enabled, the OpenTelemetry SDK with runtime and host metrics. Logs go to
// stderr so command output on stdout stays machine readable. The returned
// function flushes telemetry and releases the signal context.
func setupTelemetry(servicename string) (context.Context, func() error, error) {
	myInstanceID = idgen.DefaultFlakeGenerator.NextID()
	commonAttributes = attribute.NewSet(attribute.Int64("instanceID", myInstanceID))

	doneCtx, doneCancel := handleSignals(context.Background())

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel()})
	if otlpEnabled() {
		handler = slogmulti.Fanout(handler, otelslog.NewHandler(servicename))
	}
	slog.SetDefault(slog.New(handler).With(
		slog.String("service", servicename),
		slog.Int64("instanceID", myInstanceID),
	))

	if !otlpEnabled() {
		return doneCtx, func() error { doneCancel(); return nil }, nil
	}

	otelShutdown, err := telemetry.SetupOTelSDK(doneCtx)
	if err != nil {
		doneCancel()
		return doneCtx, nil, fmt.Errorf("failed to setup OpenTelemetry SDK: %w", err)
	}
	if err := iruntime.Start(iruntime.WithMinimumReadMemStatsInterval(10 * time.Second)); err != nil {
		slog.Warn("failed to start runtime metrics", slog.Any("error", err))
	}
	if err := host.Start(); err != nil {
		slog.Warn("failed to start host metrics", slog.Any("error", err))
	}
	slog.Info("OpenTelemetry exporting enabled")

	return doneCtx, func() error {
		defer doneCancel()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return otelShutdown(ctx)
	}, nil
}

func recordCommand(ctx context.Context, name string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	commandDuration.Record(ctx, d.Seconds(), metric.WithAttributeSet(commonAttributes),
		metric.WithAttributes(attribute.String("command", name), attribute.String("outcome", outcome)))
}

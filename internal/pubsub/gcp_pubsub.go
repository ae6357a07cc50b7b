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
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"

	"github.com/cardinalhq/dsconfig/internal/logctx"
)

// GCPBackend receives Cloud Storage notifications from a Pub/Sub
// subscription.
type GCPBackend struct {
	tracer trace.Tracer
	client *pubsub.Client
	sub    *pubsub.Subscription
}

var _ Backend = (*GCPBackend)(nil)

// NewGCPBackend connects to the subscription. An empty credentialsFile
// leaves authentication to application default credentials.
func NewGCPBackend(ctx context.Context, projectID, subscriptionID, credentialsFile string) (*GCPBackend, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return &GCPBackend{
		tracer: otel.Tracer("github.com/cardinalhq/dsconfig/internal/pubsub/gcp"),
		client: client,
		sub:    client.Subscription(subscriptionID),
	}, nil
}

func (b *GCPBackend) Name() string { return "gcp_pubsub" }

// Run receives until ctx is done, then closes the client.
func (b *GCPBackend) Run(ctx context.Context, h Handler) error {
	logctx.FromContext(ctx).Info("Starting GCP Pub/Sub receiver", slog.String("subscription", b.sub.ID()))
	defer func() {
		if err := b.client.Close(); err != nil {
			logctx.FromContext(ctx).Error("Failed to close GCP Pub/Sub client", slog.Any("error", err))
		}
	}()

	err := b.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if b.handle(ctx, msg.ID, msg.Data, msg.Attributes, h) {
			msg.Ack()
		} else {
			msg.Nack()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("GCP Pub/Sub receive error: %w", err)
	}
	return nil
}

// handle reports whether the message should be acknowledged.
func (b *GCPBackend) handle(ctx context.Context, id string, data []byte, attrs map[string]string, h Handler) bool {
	ctx, span := b.tracer.Start(ctx, "gcp_pubsub.message_handler",
		trace.WithAttributes(attribute.String("message_id", id)))
	defer span.End()

	logger := logctx.FromContext(ctx).With(slog.String("message_id", id))
	changes, err := ParseGCS(data, attrs)
	err = apply(ctx, h, changes, err)
	switch {
	case errors.Is(err, errUnparseable):
		recordMessage(ctx, b.Name(), "dropped")
		logger.Warn("Dropping unparseable storage event", slog.Any("error", err))
		return true
	case err != nil:
		span.RecordError(err)
		recordMessage(ctx, b.Name(), "retry")
		logger.Error("Failed to handle Cloud Storage event", slog.Any("error", err))
		return false
	}
	recordMessage(ctx, b.Name(), "ok")
	return true
}

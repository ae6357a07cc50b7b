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
	"encoding/base64"
	"errors"
	"log/slog"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"github.com/cardinalhq/dsconfig/internal/azureclient"
	"github.com/cardinalhq/dsconfig/internal/logctx"
)

type queueMessage struct {
	id         string
	popReceipt string
	text       string
}

type queueAPI interface {
	dequeue(ctx context.Context) ([]queueMessage, error)
	remove(ctx context.Context, id, popReceipt string) error
}

type storageQueue struct {
	c *azqueue.QueueClient
}

func (q storageQueue) dequeue(ctx context.Context) ([]queueMessage, error) {
	resp, err := q.c.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  to.Ptr(int32(32)),
		VisibilityTimeout: to.Ptr(int32(30)),
	})
	if err != nil {
		return nil, err
	}
	out := make([]queueMessage, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m == nil || m.MessageID == nil || m.PopReceipt == nil {
			continue
		}
		qm := queueMessage{id: *m.MessageID, popReceipt: *m.PopReceipt}
		if m.MessageText != nil {
			qm.text = *m.MessageText
		}
		out = append(out, qm)
	}
	return out, nil
}

func (q storageQueue) remove(ctx context.Context, id, popReceipt string) error {
	_, err := q.c.DeleteMessage(ctx, id, popReceipt, nil)
	return err
}

// AzureQueueBackend polls a storage queue subscribed to the container's
// Event Grid blob events.
type AzureQueueBackend struct {
	queue        queueAPI
	pollInterval time.Duration
}

var _ Backend = (*AzureQueueBackend)(nil)

func NewAzureQueueBackend(client *azureclient.QueueClient) *AzureQueueBackend {
	return &AzureQueueBackend{queue: storageQueue{c: client.QueueClient}, pollInterval: 5 * time.Second}
}

func (b *AzureQueueBackend) Name() string { return "azure_queue" }

// Run drains the queue, sleeping between empty or failed polls, until ctx
// is done.
func (b *AzureQueueBackend) Run(ctx context.Context, h Handler) error {
	logger := logctx.FromContext(ctx)
	logger.Info("Starting Azure queue polling loop")

	for ctx.Err() == nil {
		msgs, err := b.queue.dequeue(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Error("Failed to receive messages from Azure queue", slog.Any("error", err))
		}
		for _, m := range msgs {
			b.process(ctx, logger, m, h)
		}
		if len(msgs) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(b.pollInterval):
		}
	}

	logger.Info("Azure queue polling loop stopped")
	return nil
}

func (b *AzureQueueBackend) process(ctx context.Context, logger *slog.Logger, m queueMessage, h Handler) {
	logger = logger.With(slog.String("messageId", m.id))

	changes, err := Parse(decodeIfBase64(m.text))
	err = apply(ctx, h, changes, err)
	switch {
	case errors.Is(err, errUnparseable):
		recordMessage(ctx, b.Name(), "dropped")
		logger.Warn("Dropping unparseable storage event", slog.Any("error", err))
	case err != nil:
		recordMessage(ctx, b.Name(), "retry")
		logger.Error("Failed to handle blob event, leaving message for retry", slog.Any("error", err))
		return
	default:
		recordMessage(ctx, b.Name(), "ok")
	}

	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := b.queue.remove(deleteCtx, m.id, m.popReceipt); err != nil {
		logger.Error("Failed to delete Azure queue message", slog.Any("error", err))
	}
}

// decodeIfBase64 unwraps Event Grid deliveries, which storage queues
// receive base64 encoded. Anything else passes through.
func decodeIfBase64(text string) []byte {
	if decoded, err := base64.StdEncoding.DecodeString(text); err == nil {
		return decoded
	}
	return []byte(text)
}

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
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/dsconfig/internal/awsclient"
	"github.com/cardinalhq/dsconfig/internal/logctx"
)

const maxConcurrentMessages = 10

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSBackend long-polls an SQS queue fed by S3 event notifications.
type SQSBackend struct {
	client     sqsAPI
	queueURL   string
	retryDelay time.Duration
}

var _ Backend = (*SQSBackend)(nil)

// NewSQSBackend returns a backend reading queueURL.
func NewSQSBackend(client *awsclient.SQSClient, queueURL string) *SQSBackend {
	return &SQSBackend{client: client.Client, queueURL: queueURL, retryDelay: 5 * time.Second}
}

func (b *SQSBackend) Name() string { return "sqs" }

// Run polls until ctx is done. Messages whose changes were applied, or
// which cannot be parsed, are deleted; the rest return to the queue after
// their visibility timeout.
func (b *SQSBackend) Run(ctx context.Context, h Handler) error {
	logger := logctx.FromContext(ctx).With(slog.String("queueURL", b.queueURL))
	logger.Info("Starting SQS polling loop")

	for ctx.Err() == nil {
		result, err := b.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(b.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error("Failed to receive messages from SQS", slog.Any("error", err))
			select {
			case <-ctx.Done():
			case <-time.After(b.retryDelay):
			}
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxConcurrentMessages)
		for _, msg := range result.Messages {
			g.Go(func() error {
				b.process(gctx, logger, msg, h)
				return nil
			})
		}
		_ = g.Wait()
	}

	logger.Info("SQS polling loop stopped")
	return nil
}

func (b *SQSBackend) process(ctx context.Context, logger *slog.Logger, msg types.Message, h Handler) {
	logger = logger.With(slog.String("messageId", aws.ToString(msg.MessageId)))

	msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	changes, err := Parse([]byte(aws.ToString(msg.Body)))
	if err := apply(msgCtx, h, changes, err); err != nil {
		if !errors.Is(err, errUnparseable) {
			recordMessage(ctx, b.Name(), "retry")
			logger.Error("Failed to handle storage event, leaving message for retry", slog.Any("error", err))
			return
		}
		recordMessage(ctx, b.Name(), "dropped")
		logger.Warn("Dropping unparseable storage event", slog.Any("error", err))
	} else {
		recordMessage(ctx, b.Name(), "ok")
	}

	// The delete must outlive a shutdown that interrupted processing.
	deleteCtx, deleteCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer deleteCancel()
	if _, err := b.client.DeleteMessage(deleteCtx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(b.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		logger.Error("Failed to delete SQS message", slog.Any("error", err))
	}
}

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

package azureclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"go.opentelemetry.io/otel/trace"
)

type QueueClient struct {
	QueueClient *azqueue.QueueClient
	Tracer      trace.Tracer
}

type queueConfig struct {
	StorageAccount string
	Endpoint       string
	QueueName      string
}

type QueueOption func(*queueConfig)

func WithQueueStorageAccount(storageAccount string) QueueOption {
	return func(c *queueConfig) {
		c.StorageAccount = storageAccount
	}
}

// WithQueueEndpoint overrides https://<account>.queue.core.windows.net/.
func WithQueueEndpoint(endpoint string) QueueOption {
	return func(c *queueConfig) {
		c.Endpoint = endpoint
	}
}

func WithQueueName(name string) QueueOption {
	return func(c *queueConfig) {
		c.QueueName = name
	}
}

// GetQueue returns a client for one storage queue. Queue clients are cheap
// and not cached.
func (m *Manager) GetQueue(_ context.Context, opts ...QueueOption) (*QueueClient, error) {
	qc := queueConfig{}
	for _, o := range opts {
		o(&qc)
	}
	if qc.QueueName == "" {
		return nil, errors.New("queue name is required")
	}
	if qc.StorageAccount == "" && qc.Endpoint == "" {
		return nil, errors.New("storage account or endpoint is required")
	}
	if qc.Endpoint == "" {
		qc.Endpoint = fmt.Sprintf("https://%s.queue.core.windows.net/", qc.StorageAccount)
	}

	svc, err := azqueue.NewServiceClient(qc.Endpoint, m.baseCred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue service client: %w", err)
	}
	return &QueueClient{QueueClient: svc.NewQueueClient(qc.QueueName), Tracer: m.tracer}, nil
}

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

	"github.com/cardinalhq/dsconfig/config"
	"github.com/cardinalhq/dsconfig/internal/awsclient"
	"github.com/cardinalhq/dsconfig/internal/azureclient"
	"github.com/cardinalhq/dsconfig/internal/pubsub"
)

// notificationBackends connects to every configured notification queue.
func (a *app) notificationBackends(ctx context.Context) ([]pubsub.Backend, error) {
	var out []pubsub.Backend
	for i, nc := range a.cfg.Notifications {
		b, err := a.notificationBackend(ctx, nc)
		if err != nil {
			return nil, fmt.Errorf("notifications[%d]: %w", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (a *app) notificationBackend(ctx context.Context, nc config.NotificationConfig) (pubsub.Backend, error) {
	switch nc.Kind {
	case config.NotifySQS:
		mgr, err := a.awsManager(ctx)
		if err != nil {
			return nil, err
		}
		var opts []awsclient.SQSOption
		if nc.Region != "" {
			opts = append(opts, awsclient.WithSQSRegion(nc.Region))
		}
		if nc.RoleARN != "" {
			opts = append(opts, awsclient.WithSQSRole(nc.RoleARN))
		}
		client, err := mgr.GetSQS(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return pubsub.NewSQSBackend(client, nc.QueueURL), nil

	case config.NotifyGCPPubSub:
		return pubsub.NewGCPBackend(ctx, nc.ProjectID, nc.SubscriptionID, nc.CredentialsFile)

	case config.NotifyAzureQueue:
		mgr, err := a.azureManager()
		if err != nil {
			return nil, err
		}
		opts := []azureclient.QueueOption{azureclient.WithQueueName(nc.QueueName)}
		if nc.StorageAccount != "" {
			opts = append(opts, azureclient.WithQueueStorageAccount(nc.StorageAccount))
		}
		if nc.Endpoint != "" {
			opts = append(opts, azureclient.WithQueueEndpoint(nc.Endpoint))
		}
		client, err := mgr.GetQueue(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return pubsub.NewAzureQueueBackend(client), nil
	}
	return nil, fmt.Errorf("unknown kind %q", nc.Kind)
}

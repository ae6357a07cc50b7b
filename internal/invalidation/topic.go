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
	"log/slog"
	"strconv"
	"time"

	"github.com/cardinalhq/kafka-sync/kafkasync"
)

// topicConfig describes the invalidation topic. Events are only useful
// for as long as caches might hold the key, so retention stays short.
func (c Config) topicConfig() *kafkasync.Config {
	topic := kafkasync.Topic{
		Name:              c.Topic,
		PartitionCount:    c.Partitions,
		ReplicationFactor: c.ReplicationFactor,
	}
	if c.Retention > 0 {
		topic.Config = map[string]string{
			"retention.ms": strconv.FormatInt(c.Retention.Milliseconds(), 10),
		}
	}
	return &kafkasync.Config{
		Defaults: kafkasync.Defaults{
			PartitionCount:    1,
			ReplicationFactor: 1,
		},
		Topics:           []kafkasync.Topic{topic},
		OperationTimeout: time.Minute,
	}
}

func (c Config) connectionConfig() (kafkasync.ConnectionConfig, error) {
	conn := kafkasync.ConnectionConfig{
		BootstrapServers: c.Brokers,
		TLS:              c.tlsConfig(),
	}
	mechanism, err := c.saslMechanism()
	if err != nil {
		return conn, fmt.Errorf("failed to create SASL mechanism: %w", err)
	}
	conn.SASLMechanism = mechanism
	return conn, nil
}

// SyncTopic compares the invalidation topic with the configured layout,
// creating or updating it when fix is set and only reporting otherwise.
func SyncTopic(ctx context.Context, cfg Config, fix bool) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	conn, err := cfg.connectionConfig()
	if err != nil {
		return err
	}
	syncer, err := kafkasync.NewSyncer(conn, cfg.topicConfig())
	if err != nil {
		return fmt.Errorf("failed to create syncer: %w", err)
	}

	mode := kafkasync.SyncModeInfo
	if fix {
		mode = kafkasync.SyncModeFix
	}
	slog.Info("Syncing invalidation topic", slog.String("topic", cfg.Topic), slog.Bool("fix", fix))
	if err := syncer.Sync(ctx, mode); err != nil {
		return fmt.Errorf("failed to sync topic %s: %w", cfg.Topic, err)
	}
	return nil
}

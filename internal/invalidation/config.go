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

// Package invalidation carries configuration change announcements between
// processes over Kafka. A resolver publishes an Event when it publishes,
// deletes or invalidates a key; every other process listening on the topic
// drops that key from its caches.
package invalidation

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

// Config holds the Kafka settings of the invalidation bus.
type Config struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	// GroupPrefix is combined with the process origin so each process
	// sees every event.
	GroupPrefix string `mapstructure:"group_prefix"`

	SASLEnabled   bool   `mapstructure:"sasl_enabled"`
	SASLMechanism string `mapstructure:"sasl_mechanism"` // SCRAM-SHA-256, SCRAM-SHA-512 or PLAIN
	SASLUsername  string `mapstructure:"sasl_username"`
	SASLPassword  string `mapstructure:"sasl_password"`

	TLSEnabled    bool `mapstructure:"tls_enabled"`
	TLSSkipVerify bool `mapstructure:"tls_skip_verify"`

	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	MaxWait           time.Duration `mapstructure:"max_wait"`

	// Topic layout applied by SyncTopic.
	Partitions        int           `mapstructure:"partitions"`
	ReplicationFactor int           `mapstructure:"replication_factor"`
	Retention         time.Duration `mapstructure:"retention"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:           false,
		Brokers:           []string{"localhost:9092"},
		Topic:             "dsconfig.invalidations",
		GroupPrefix:       "dsconfig",
		SASLMechanism:     "SCRAM-SHA-256",
		ConnectionTimeout: 10 * time.Second,
		MaxWait:           500 * time.Millisecond,
		Partitions:        4,
		ReplicationFactor: 3,
		Retention:         time.Hour,
	}
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("invalidation: no brokers configured")
	}
	if c.Topic == "" {
		return errors.New("invalidation: no topic configured")
	}
	return nil
}

func (c Config) saslMechanism() (sasl.Mechanism, error) {
	if !c.SASLEnabled {
		return nil, nil
	}
	switch c.SASLMechanism {
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, c.SASLUsername, c.SASLPassword)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, c.SASLUsername, c.SASLPassword)
	case "PLAIN":
		return plain.Mechanism{
			Username: c.SASLUsername,
			Password: c.SASLPassword,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", c.SASLMechanism)
	}
}

func (c Config) tlsConfig() *tls.Config {
	if !c.TLSEnabled {
		return nil
	}
	return &tls.Config{InsecureSkipVerify: c.TLSSkipVerify}
}

func (c Config) transport() (*kafka.Transport, error) {
	mechanism, err := c.saslMechanism()
	if err != nil {
		return nil, fmt.Errorf("failed to create SASL mechanism: %w", err)
	}
	return &kafka.Transport{
		SASL:        mechanism,
		TLS:         c.tlsConfig(),
		DialTimeout: c.ConnectionTimeout,
	}, nil
}

func (c Config) dialer() (*kafka.Dialer, error) {
	mechanism, err := c.saslMechanism()
	if err != nil {
		return nil, fmt.Errorf("failed to create SASL mechanism: %w", err)
	}
	timeout := c.ConnectionTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &kafka.Dialer{
		Timeout:       timeout,
		SASLMechanism: mechanism,
		TLS:           c.tlsConfig(),
	}, nil
}

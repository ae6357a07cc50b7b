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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cardinalhq/dsconfig/internal/idgen"
	"github.com/cardinalhq/dsconfig/internal/logctx"
	"github.com/cardinalhq/dsconfig/internal/resolver"
	"github.com/cardinalhq/dsconfig/pkg/digest"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler receives events published by other processes.
type Handler func(ctx context.Context, e Event) error

// Bus publishes and receives invalidation events on one topic.
type Bus struct {
	cfg    Config
	origin string
	ids    *idgen.ULIDGenerator
	logger *slog.Logger
	now    func() time.Time

	writer    messageWriter
	newReader func(groupID string) (messageReader, error)
}

var _ resolver.Notifier = (*Bus)(nil)

type Option func(*Bus)

// WithOrigin names this process on the bus. Events carrying the same
// origin are not delivered back to it. The default is a fresh ULID.
func WithOrigin(origin string) Option {
	return func(b *Bus) { b.origin = origin }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New returns a bus for cfg. It does not contact the brokers until the
// first Announce or Listen.
func New(cfg Config, opts ...Option) (*Bus, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	transport, err := cfg.transport()
	if err != nil {
		return nil, err
	}
	dialer, err := cfg.dialer()
	if err != nil {
		return nil, err
	}

	b := &Bus{
		cfg:    cfg,
		ids:    idgen.NewULIDGenerator(),
		logger: slog.Default(),
		now:    time.Now,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    1,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		},
		newReader: func(groupID string) (messageReader, error) {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:        cfg.Brokers,
				Topic:          cfg.Topic,
				GroupID:        groupID,
				MinBytes:       1,
				MaxBytes:       1 << 20,
				MaxWait:        cfg.MaxWait,
				StartOffset:    kafka.LastOffset,
				Dialer:         dialer,
				CommitInterval: 0,
			}), nil
		},
	}
	b.origin = b.ids.Make(b.now())
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Bus) Origin() string { return b.origin }

// Announce publishes an event for key in source.
func (b *Bus) Announce(ctx context.Context, source string, key resolver.Key, d digest.Digest) error {
	at := b.now().UTC()
	e := Event{
		Version: eventVersion,
		ID:      b.ids.Make(at),
		Origin:  b.origin,
		Source:  source,
		Dataset: key.Dataset,
		Name:    key.Name,
		At:      at,
	}
	if !d.IsZero() {
		e.Digest = d.String()
	}
	msg, err := e.toKafkaMessage()
	if err != nil {
		return err
	}
	err = b.writer.WriteMessages(ctx, msg)
	recordPublished(ctx, source, err)
	if err != nil {
		return fmt.Errorf("publish invalidation for %s/%s: %w", source, key, err)
	}
	logctx.FromContext(ctx).Debug("announced configuration change",
		slog.String("id", e.ID),
		slog.String("source", source),
		slog.String("dataset", key.Dataset),
		slog.String("name", key.Name))
	return nil
}

// Listen delivers events from other processes to h until ctx is done.
// Every process listens in its own consumer group, so each sees every
// event. Handler errors are logged and the event is committed anyway.
func (b *Bus) Listen(ctx context.Context, h Handler) error {
	groupID := b.cfg.GroupPrefix + "." + b.origin
	r, err := b.newReader(groupID)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	b.logger.Info("listening for configuration invalidations",
		slog.String("topic", b.cfg.Topic),
		slog.String("consumerGroup", groupID))

	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}
		b.deliver(ctx, msg, h)
		if err := r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to commit message: %w", err)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, msg kafka.Message, h Handler) {
	e, err := fromKafkaMessage(msg)
	if err != nil {
		recordReceived(ctx, "", "malformed")
		b.logger.Warn("skipping malformed invalidation event", slog.Any("error", err))
		return
	}
	if e.Origin == b.origin {
		recordReceived(ctx, e.Source, "own")
		return
	}
	if err := h(ctx, e); err != nil {
		recordReceived(ctx, e.Source, "error")
		b.logger.Warn("failed to apply invalidation event",
			slog.String("id", e.ID),
			slog.String("source", e.Source),
			slog.String("dataset", e.Dataset),
			slog.String("name", e.Name),
			slog.Any("error", err))
		return
	}
	recordReceived(ctx, e.Source, "applied")
}

func (b *Bus) Close() error {
	return b.writer.Close()
}

// Invalidator drops a key from a named source's caches.
type Invalidator interface {
	Name() string
	Invalidate(ctx context.Context, dataset, name string)
}

// ErrUnknownSource means an event named a source this process does not
// serve.
var ErrUnknownSource = errors.New("unknown source")

// Dispatch returns a Handler that invalidates the event's key in the
// target whose Name matches the event source.
func Dispatch(targets ...Invalidator) Handler {
	byName := make(map[string]Invalidator, len(targets))
	for _, t := range targets {
		byName[t.Name()] = t
	}
	return func(ctx context.Context, e Event) error {
		t, ok := byName[e.Source]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSource, e.Source)
		}
		t.Invalidate(ctx, e.Dataset, e.Name)
		return nil
	}
}

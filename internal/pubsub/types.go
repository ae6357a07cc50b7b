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

// Package pubsub consumes object store change notifications (S3 events
// over SQS, Cloud Storage events over Pub/Sub, Event Grid events over an
// Azure storage queue) and turns them into cache invalidations for the
// configuration sources stored in those buckets.
package pubsub

import (
	"context"
	"errors"
	"fmt"
)

// Change is one object created, overwritten or removed.
type Change struct {
	Bucket  string
	Key     string
	Removed bool
}

// Handler applies the changes carried by one notification. A returned
// error leaves the notification for redelivery.
type Handler func(ctx context.Context, changes []Change) error

// Backend delivers notifications from one queue until ctx is done.
type Backend interface {
	Name() string
	Run(ctx context.Context, h Handler) error
}

// errUnparseable marks notifications that no redelivery will fix.
var errUnparseable = errors.New("unparseable storage event")

func apply(ctx context.Context, h Handler, changes []Change, parseErr error) error {
	if parseErr != nil {
		return fmt.Errorf("%w: %v", errUnparseable, parseErr)
	}
	if len(changes) == 0 {
		return nil
	}
	return h(ctx, changes)
}

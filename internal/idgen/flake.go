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

// Package idgen hands out time-ordered identifiers: sonyflake integers
// for configuration revisions and process instances, ULIDs for
// invalidation events.
package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/sony/sonyflake"
)

// FlakeEpoch is the zero point of flake ids.
var FlakeEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// DefaultFlakeGenerator is shared by every revision counter in the process.
var DefaultFlakeGenerator = mustFlakeGenerator()

func mustFlakeGenerator() *FlakeGenerator {
	g, err := NewFlakeGenerator()
	if err != nil {
		panic(err)
	}
	return g
}

// FlakeGenerator produces positive int64s that increase with time.
type FlakeGenerator struct {
	sf *sonyflake.Sonyflake

	mu   sync.Mutex
	last int64
}

// NewFlakeGenerator derives the machine id from the private address, or
// picks a random one on hosts without a private address.
func NewFlakeGenerator() (*FlakeGenerator, error) {
	settings := sonyflake.Settings{StartTime: FlakeEpoch}
	if sf := sonyflake.NewSonyflake(settings); sf != nil {
		return &FlakeGenerator{sf: sf}, nil
	}

	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, fmt.Errorf("pick machine id: %w", err)
	}
	settings.MachineID = func() (uint16, error) { return binary.BigEndian.Uint16(buf[:]), nil }
	sf, err := sonyflake.New(settings)
	if err != nil {
		return nil, fmt.Errorf("create sonyflake: %w", err)
	}
	return &FlakeGenerator{sf: sf}, nil
}

// NextID never repeats or goes backwards within one generator, even once
// the sonyflake clock is exhausted.
func (g *FlakeGenerator) NextID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := g.last + 1
	if v, err := g.sf.NextID(); err == nil && int64(v) > g.last {
		next = int64(v)
	}
	g.last = next
	return next
}

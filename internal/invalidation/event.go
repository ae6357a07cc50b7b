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
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cardinalhq/dsconfig/pkg/digest"
)

const (
	eventVersion = 1

	headerVersion = "v"
	headerOrigin  = "origin"
)

// Event announces that one configuration changed in one source. A zero
// Digest means the configuration was removed or only invalidated.
type Event struct {
	Version int16     `json:"v"`
	ID      string    `json:"id"`
	Origin  string    `json:"o"`
	Source  string    `json:"s"`
	Dataset string    `json:"d"`
	Name    string    `json:"n"`
	Digest  string    `json:"dg,omitempty"`
	At      time.Time `json:"t"`
}

func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func (e *Event) Unmarshal(data []byte) error {
	return json.Unmarshal(data, e)
}

// ParsedDigest returns the announced digest, digest.Zero when none was
// sent.
func (e *Event) ParsedDigest() (digest.Digest, error) {
	if e.Digest == "" {
		return digest.Zero, nil
	}
	return digest.Parse(e.Digest)
}

// key keeps every event for one configuration on one partition so they
// are seen in order.
func (e *Event) key() []byte {
	return []byte(e.Source + "/" + e.Dataset + "/" + e.Name)
}

func (e *Event) toKafkaMessage() (kafka.Message, error) {
	value, err := e.Marshal()
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   e.key(),
		Value: value,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: headerVersion, Value: []byte(fmt.Sprint(e.Version))},
			{Key: headerOrigin, Value: []byte(e.Origin)},
		},
	}, nil
}

func fromKafkaMessage(km kafka.Message) (Event, error) {
	var e Event
	if err := e.Unmarshal(km.Value); err != nil {
		return Event{}, fmt.Errorf("decode event at %s/%d@%d: %w", km.Topic, km.Partition, km.Offset, err)
	}
	if e.Version != eventVersion {
		return Event{}, fmt.Errorf("unsupported event version %d at %s/%d@%d", e.Version, km.Topic, km.Partition, km.Offset)
	}
	return e, nil
}

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
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Parse decodes an S3 event notification, a Cloud Storage object
// resource, or Event Grid blob events. S3 test events yield no changes.
func Parse(raw []byte) ([]Change, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		return parseEventGrid(raw)
	}

	var probe struct {
		Kind      string            `json:"kind"`
		Records   []json.RawMessage `json:"Records"`
		Event     string            `json:"Event"`
		EventType string            `json:"eventType"`
		Type      string            `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse storage event: %w", err)
	}
	switch {
	case probe.Kind == "storage#object":
		return ParseGCS(raw, nil)
	case len(probe.Records) > 0:
		return parseS3(raw)
	case probe.Event == "s3:TestEvent":
		return nil, nil
	case probe.EventType != "" || probe.Type != "":
		return parseEventGrid(append(append([]byte{'['}, raw...), ']'))
	}
	return nil, fmt.Errorf("unable to determine event type from content")
}

func parseS3(raw []byte) ([]Change, error) {
	var evt struct {
		Records []struct {
			EventName string `json:"eventName"`
			S3        struct {
				Bucket struct {
					Name string `json:"name"`
				} `json:"bucket"`
				Object struct {
					Key string `json:"key"`
				} `json:"object"`
			} `json:"s3"`
		} `json:"Records"`
	}
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("failed to parse S3 event: %w", err)
	}

	out := make([]Change, 0, len(evt.Records))
	for _, rec := range evt.Records {
		// S3 form-encodes keys in notifications.
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to unescape key %q: %w", rec.S3.Object.Key, err)
		}
		out = append(out, Change{
			Bucket:  rec.S3.Bucket.Name,
			Key:     key,
			Removed: strings.HasPrefix(rec.EventName, "ObjectRemoved"),
		})
	}
	return out, nil
}

// ParseGCS decodes a Cloud Storage object resource. The event type
// travels in the Pub/Sub message attributes rather than the payload.
func ParseGCS(raw []byte, attrs map[string]string) ([]Change, error) {
	var evt struct {
		Kind   string `json:"kind"`
		Bucket string `json:"bucket"`
		Name   string `json:"name"`
		ID     string `json:"id"`
	}
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("failed to parse GCP storage event: %w", err)
	}
	if evt.Kind != "storage#object" {
		return nil, fmt.Errorf("unexpected GCP event kind: %s", evt.Kind)
	}

	bucket := evt.Bucket
	if bucket == "" {
		b, _, ok := strings.Cut(evt.ID, "/")
		if !ok {
			return nil, fmt.Errorf("invalid GCP storage event ID format: %s", evt.ID)
		}
		bucket = b
	}
	return []Change{{
		Bucket:  bucket,
		Key:     evt.Name,
		Removed: attrs["eventType"] == "OBJECT_DELETE",
	}}, nil
}

const blobSubjectMarker = "/blobServices/default/containers/"

// parseEventGrid decodes Event Grid or CloudEvents blob events. Events
// other than blob creation and deletion are skipped.
func parseEventGrid(raw []byte) ([]Change, error) {
	var events []struct {
		EventType string `json:"eventType"`
		Type      string `json:"type"`
		Subject   string `json:"subject"`
	}
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("failed to parse Event Grid event: %w", err)
	}

	var out []Change
	for _, e := range events {
		typ := e.EventType
		if typ == "" {
			typ = e.Type
		}
		var removed bool
		switch typ {
		case "Microsoft.Storage.BlobCreated":
		case "Microsoft.Storage.BlobDeleted":
			removed = true
		default:
			continue
		}
		_, rest, ok := strings.Cut(e.Subject, blobSubjectMarker)
		if !ok {
			return nil, fmt.Errorf("unexpected blob event subject: %s", e.Subject)
		}
		container, key, ok := strings.Cut(rest, "/blobs/")
		if !ok {
			return nil, fmt.Errorf("unexpected blob event subject: %s", e.Subject)
		}
		out = append(out, Change{Bucket: container, Key: key, Removed: removed})
	}
	return out, nil
}

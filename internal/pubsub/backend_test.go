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
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

const s3Put = `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"cfg"},"object":{"key":"gene/default.yaml"}}}]}`

type fakeSQS struct {
	mu       sync.Mutex
	batches  [][]types.Message
	deleted  []string
	received chan struct{}
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	if len(f.batches) > 0 {
		b := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return &sqs.ReceiveMessageOutput{Messages: b}, nil
	}
	f.mu.Unlock()
	close(f.received)
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSBackendRun(t *testing.T) {
	fake := &fakeSQS{
		received: make(chan struct{}),
		batches: [][]types.Message{{
			{MessageId: aws.String("1"), ReceiptHandle: aws.String("ok"), Body: aws.String(s3Put)},
			{MessageId: aws.String("2"), ReceiptHandle: aws.String("garbage"), Body: aws.String("not json")},
			{MessageId: aws.String("3"), ReceiptHandle: aws.String("retry"), Body: aws.String(`{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"fail"},"object":{"key":"k"}}}]}`)},
		}},
	}
	b := &SQSBackend{client: fake, queueURL: "https://sqs.example/q", retryDelay: time.Millisecond}

	var mu sync.Mutex
	var seen []Change
	h := func(_ context.Context, changes []Change) error {
		if changes[0].Bucket == "fail" {
			return errors.New("try later")
		}
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, changes...)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, h) }()

	select {
	case <-fake.received:
	case <-time.After(5 * time.Second):
		t.Fatal("backend never drained the batch")
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []Change{{Bucket: "cfg", Key: "gene/default.yaml"}}, seen)
	assert.ElementsMatch(t, []string{"ok", "garbage"}, fake.deleted)
}

type fakeQueue struct {
	mu      sync.Mutex
	msgs    []queueMessage
	removed []string
}

func (f *fakeQueue) dequeue(context.Context) ([]queueMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.msgs
	f.msgs = nil
	return out, nil
}

func (f *fakeQueue) remove(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func TestAzureQueueBackendRun(t *testing.T) {
	event := `[{"eventType":"Microsoft.Storage.BlobDeleted","subject":"/blobServices/default/containers/cfg/blobs/gene/default.yaml"}]`
	q := &fakeQueue{msgs: []queueMessage{
		{id: "a", popReceipt: "p", text: base64.StdEncoding.EncodeToString([]byte(event))},
		{id: "b", popReceipt: "p", text: "not json"},
		{id: "c", popReceipt: "p", text: `[{"eventType":"Microsoft.Storage.BlobCreated","subject":"/blobServices/default/containers/fail/blobs/k"}]`},
	}}
	b := &AzureQueueBackend{queue: q, pollInterval: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	seen := make(chan Change, 4)
	h := func(_ context.Context, changes []Change) error {
		if changes[0].Bucket == "fail" {
			return errors.New("try later")
		}
		for _, c := range changes {
			seen <- c
		}
		cancel()
		return nil
	}

	require.NoError(t, b.Run(ctx, h))
	assert.Equal(t, Change{Bucket: "cfg", Key: "gene/default.yaml", Removed: true}, <-seen)
	assert.Equal(t, []string{"a", "b"}, q.removed)
}

func TestGCPBackendHandle(t *testing.T) {
	b := &GCPBackend{tracer: otel.Tracer("test")}
	ctx := context.Background()
	data := []byte(`{"kind":"storage#object","bucket":"cfg","name":"gene/default.yaml"}`)

	var got []Change
	ok := b.handle(ctx, "1", data, map[string]string{"eventType": "OBJECT_DELETE"}, func(_ context.Context, c []Change) error {
		got = c
		return nil
	})
	assert.True(t, ok)
	assert.Equal(t, []Change{{Bucket: "cfg", Key: "gene/default.yaml", Removed: true}}, got)

	assert.True(t, b.handle(ctx, "2", []byte("junk"), nil, func(context.Context, []Change) error {
		t.Fatal("handler called for junk")
		return nil
	}))
	assert.False(t, b.handle(ctx, "3", data, nil, func(context.Context, []Change) error {
		return errors.New("try later")
	}))
}

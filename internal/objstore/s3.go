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

package objstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cardinalhq/dsconfig/internal/awsclient"
)

// s3Backend keeps documents in one S3 bucket. GCS buckets reached through
// the interoperability endpoint use it too.
type s3Backend struct {
	client *s3.Client
	bucket string
	name   string
}

// NewS3Store returns a store over bucket. The client decides the endpoint,
// so the same call serves S3, MinIO and GCS.
func NewS3Store(client *awsclient.S3Client, bucket string, opts ...Option) *Store {
	return newStore(&s3Backend{client: client.Client, bucket: bucket, name: "s3"}, opts...)
}

// NewGCSStore is NewS3Store for a client built with awsclient.WithGCPProvider.
func NewGCSStore(client *awsclient.S3Client, bucket string, opts ...Option) *Store {
	return newStore(&s3Backend{client: client.Client, bucket: bucket, name: "gcs"}, opts...)
}

func (b *s3Backend) kind() string { return b.name }

func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}

func lowerKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}

func (b *s3Backend) head(ctx context.Context, key string) (map[string]string, error) {
	resp, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if isS3NotFound(err) {
		return nil, errNotExist
	}
	if err != nil {
		return nil, err
	}
	return lowerKeys(resp.Metadata), nil
}

func (b *s3Backend) get(ctx context.Context, key string) ([]byte, map[string]string, error) {
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if isS3NotFound(err) {
		return nil, nil, errNotExist
	}
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return body, lowerKeys(resp.Metadata), nil
}

func (b *s3Backend) put(ctx context.Context, key string, body []byte, meta map[string]string) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/yaml"),
		Metadata:      meta,
	})
	return err
}

func (b *s3Backend) remove(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if isS3NotFound(err) {
		return errNotExist
	}
	return err
}

func (b *s3Backend) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

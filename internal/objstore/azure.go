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
	"context"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/cardinalhq/dsconfig/internal/azureclient"
)

type azureBackend struct {
	client    *azblob.Client
	container string
}

// NewAzureStore returns a store over one blob container.
func NewAzureStore(client *azureclient.BlobClient, container string, opts ...Option) *Store {
	return newStore(&azureBackend{client: client.Client, container: container}, opts...)
}

func (b *azureBackend) kind() string { return "azure" }

func isBlobNotFound(err error) bool {
	return bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound)
}

// Azure metadata names come back with whatever casing the service chose.
func fromBlobMetadata(in map[string]*string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if v != nil {
			out[strings.ToLower(k)] = *v
		}
	}
	return out
}

func (b *azureBackend) head(ctx context.Context, key string) (map[string]string, error) {
	resp, err := b.client.ServiceClient().
		NewContainerClient(b.container).
		NewBlobClient(key).
		GetProperties(ctx, nil)
	if isBlobNotFound(err) {
		return nil, errNotExist
	}
	if err != nil {
		return nil, err
	}
	return fromBlobMetadata(resp.Metadata), nil
}

func (b *azureBackend) get(ctx context.Context, key string) ([]byte, map[string]string, error) {
	resp, err := b.client.DownloadStream(ctx, b.container, key, nil)
	if isBlobNotFound(err) {
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
	return body, fromBlobMetadata(resp.Metadata), nil
}

func (b *azureBackend) put(ctx context.Context, key string, body []byte, meta map[string]string) error {
	md := make(map[string]*string, len(meta))
	for k, v := range meta {
		md[k] = to.Ptr(v)
	}
	_, err := b.client.UploadBuffer(ctx, b.container, key, body, &azblob.UploadBufferOptions{
		Metadata: md,
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr("application/yaml"),
		},
	})
	return err
}

func (b *azureBackend) remove(ctx context.Context, key string) error {
	_, err := b.client.DeleteBlob(ctx, b.container, key, nil)
	if isBlobNotFound(err) {
		return errNotExist
	}
	return err
}

func (b *azureBackend) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pager := b.client.NewListBlobsFlatPager(b.container, &azblob.ListBlobsFlatOptions{
		Prefix: to.Ptr(prefix),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				keys = append(keys, *item.Name)
			}
		}
	}
	return keys, nil
}

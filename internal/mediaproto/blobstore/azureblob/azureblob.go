// Package azureblob implements the named-blob store against Azure Blob
// Storage, the object-store alternative to fsblob.
package azureblob

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	protoerrors "github.com/alxayo/mediasrv/internal/errors"
)

// Store is a NamedBlobStore backed by a single Azure Storage container.
// Clips are addressed as blobs named "<media-id>/<clip-name>".
type Store struct {
	client    *azblob.Client
	container string
}

// New constructs a Store against serviceURL/container, authenticating with
// azidentity's default credential chain (managed identity in production,
// environment/CLI credentials in development) rather than an embedded
// connection string.
func New(serviceURL, container string) (*Store, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azureblob: build credential: %w", err)
	}
	client, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azureblob: build client: %w", err)
	}
	return &Store{client: client, container: container}, nil
}

// NewWithClient wraps an already-constructed client, used by tests against
// the Azurite emulator or a fake azcore transport.
func NewWithClient(client *azblob.Client, container string) *Store {
	return &Store{client: client, container: container}
}

// FetchBlobs downloads each named clip blob. A blob that does not exist is
// reported as a hole (nil element), matching fsblob's semantics for the
// same contract. Any other transport or auth failure surfaces as
// StorageUnavailableError.
func (s *Store) FetchBlobs(ctx context.Context, mediaID string, names []string) ([][]byte, error) {
	out := make([][]byte, len(names))
	for i, name := range names {
		blobName := mediaID + "/" + name
		data, err := s.downloadOne(ctx, blobName)
		if err != nil {
			if isBlobNotFound(err) {
				out[i] = nil
				continue
			}
			return nil, protoerrors.NewStorageUnavailableError("azureblob.fetchBlobs", err)
		}
		out[i] = data
	}
	return out, nil
}

func (s *Store) downloadOne(ctx context.Context, blobName string) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, blobName, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isBlobNotFound(err error) bool {
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return true
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == 404
	}
	return false
}

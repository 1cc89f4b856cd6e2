// Package media implements the in-memory Media handle and its lazily
// resolving proxy variant.
package media

import (
	"context"
	"fmt"

	protoerrors "github.com/alxayo/mediasrv/internal/errors"
)

// StreamDescriptor carries optional codec/container metadata for one stream
// of a media item.
type StreamDescriptor struct {
	Width  int
	Height int
	Codec  string
}

// BlobStore is the named-blob storage collaborator: given a media
// identifier and a list of clip names, it returns blob payloads, or nil
// for names it has no blob for (a "hole").
type BlobStore interface {
	FetchBlobs(ctx context.Context, mediaID string, names []string) ([][]byte, error)
}

// Media is a read-only value handle onto one catalog row. Immutable once
// constructed.
type Media struct {
	ID             string
	Title          string
	DurationSecs   int
	Video          *StreamDescriptor
	Audio          *StreamDescriptor
	ContainerName  string
	ContentLocator string

	store BlobStore
}

// New constructs a fully-resolved Media handle bound to a blob store for
// clip retrieval.
func New(id, title string, durationSecs int, video, audio *StreamDescriptor, containerName, contentLocator string, store BlobStore) *Media {
	return &Media{
		ID:             id,
		Title:          title,
		DurationSecs:   durationSecs,
		Video:          video,
		Audio:          audio,
		ContainerName:  containerName,
		ContentLocator: contentLocator,
		store:          store,
	}
}

// FetchVideoClips returns n video clips starting at offset, indexed v{i}.
// Elements are nil where the blob store reports a hole.
func (m *Media) FetchVideoClips(ctx context.Context, offset, n int) ([][]byte, error) {
	return m.fetchClips(ctx, "v", offset, n)
}

// FetchAudioClips returns n audio clips starting at offset, indexed a{i}.
func (m *Media) FetchAudioClips(ctx context.Context, offset, n int) ([][]byte, error) {
	return m.fetchClips(ctx, "a", offset, n)
}

func (m *Media) fetchClips(ctx context.Context, prefix string, offset, n int) ([][]byte, error) {
	if offset < 0 || n <= 0 || offset+n > m.DurationSecs {
		return nil, protoerrors.NewBadRequestError("media.fetchClips", nil)
	}
	names := make([]string, n)
	for i := 0; i < n; i++ {
		names[i] = fmt.Sprintf("%s%d", prefix, offset+i)
	}
	blobs, err := m.store.FetchBlobs(ctx, m.ID, names)
	if err != nil {
		return nil, protoerrors.NewStorageUnavailableError("media.fetchClips", err)
	}
	return blobs, nil
}

// Equal compares two fully-resolved handles by identifier and attributes.
func (m *Media) Equal(other *Media) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.ID == other.ID &&
		m.Title == other.Title &&
		m.DurationSecs == other.DurationSecs &&
		m.ContainerName == other.ContainerName &&
		m.ContentLocator == other.ContentLocator
}

// Package fsblob implements the named-blob store against a local
// filesystem tree: clips live at <root>/<media-id>/<clip-name>, one file
// per clip.
package fsblob

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	protoerrors "github.com/alxayo/mediasrv/internal/errors"
)

// Store is a NamedBlobStore backed by a local directory tree.
type Store struct {
	root string
}

// New constructs a Store rooted at root. The directory is not created; it
// must already exist.
func New(root string) *Store {
	return &Store{root: filepath.Clean(root)}
}

// FetchBlobs returns the contents of each named clip file under
// root/mediaID. A name with no corresponding file is returned as a hole
// (nil element). Any other I/O failure surfaces as
// StorageUnavailableError.
func (s *Store) FetchBlobs(ctx context.Context, mediaID string, names []string) ([][]byte, error) {
	out := make([][]byte, len(names))
	dir := filepath.Join(s.root, filepath.Base(mediaID))
	for i, name := range names {
		select {
		case <-ctx.Done():
			return nil, protoerrors.NewStorageUnavailableError("fsblob.fetchBlobs", ctx.Err())
		default:
		}
		path := filepath.Join(dir, filepath.Base(name))
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			out[i] = nil
			continue
		}
		if err != nil {
			return nil, protoerrors.NewStorageUnavailableError("fsblob.fetchBlobs", err)
		}
		out[i] = data
	}
	return out, nil
}

// PutBlob writes a clip file, used only by test fixtures and offline
// catalog seeding tools; the wire protocol itself has no write path.
func (s *Store) PutBlob(mediaID, name string, data []byte) error {
	dir := filepath.Join(s.root, filepath.Base(mediaID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, filepath.Base(name)), data, 0o644)
}

package storage

import (
	"context"
	"io"
	"time"
)

// ObjectInfo contains metadata about a stored blob.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// Storage is the blob backend the feed server reads package archives from
// and writes pushed packages to. Keys are slash-separated paths relative to
// the backend root.
type Storage interface {
	// Get opens an object for reading. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)

	// Put stores an object, replacing any existing one under the same key.
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*ObjectInfo, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Stat returns object metadata without reading content.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)

	// List returns metadata for all objects whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]*ObjectInfo, error)

	// Close releases backend resources.
	Close() error
}

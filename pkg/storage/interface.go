package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound reports that no object exists under the requested key.
// It is a normal outcome for cache lookups, distinct from transport or
// backend failures which are returned as-is.
var ErrNotFound = errors.New("storage: object not found")

// Storage defines the interface for blob storage operations.
type Storage interface {
	// Write stores content from the reader with the given key.
	// The size parameter is the expected content size (-1 if unknown).
	// The contentType parameter specifies the MIME type of the content.
	Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Read retrieves content for the given key. It returns ErrNotFound
	// when the key does not exist. The caller is responsible for closing
	// the returned ReadCloser.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if content with the given key exists.
	Exists(ctx context.Context, key string) (bool, error)
}

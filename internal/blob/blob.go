// Package blob defines the object-storage contract used for page blobs
// and assembled artifacts. Paths are opaque slash-separated strings
// within a bucket chosen by the implementation.
package blob

import "context"

type Store interface {
	// Put writes the object, overwriting any previous content.
	Put(ctx context.Context, path string, data []byte, contentType string) error
	// PutIfAbsent writes the object only if it does not already exist.
	// Writing over an existing object is not an error; the write is
	// simply skipped, which keeps artifact writes idempotent.
	PutIfAbsent(ctx context.Context, path string, data []byte, contentType string) error
	Get(ctx context.Context, path string) ([]byte, string, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Package storage persists final research reports in an S3-compatible
// object store. Archival is best-effort; the in-memory registry stays
// the source of truth for live jobs.
package storage

import (
	"context"
	"io"
)

// ObjectStorage is the minimal object-store surface the report archive
// needs.
type ObjectStorage interface {
	// EnsureBucket creates the bucket if it does not exist yet.
	EnsureBucket(ctx context.Context) error

	// Put writes one object.
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Get reads one object. The caller closes the returned reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether the object is present.
	Exists(ctx context.Context, key string) (bool, error)

	// URL returns a public URL for the object, or "" when the store has
	// no public prefix configured.
	URL(key string) string
}

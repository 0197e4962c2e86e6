// Package storage defines the media storage interface and backend factory.
// Uploaded post media (images, video) is written to a backend and addressed
// by a public URL that ends up in the posts' media_urls column.
//
// New backends register with the factory via an init() function in their own
// package; cmd/server blank-imports each backend to trigger registration.
package storage

import (
	"context"
	"io"
	"time"
)

// Storage is the interface every media backend implements
type Storage interface {
	// Upload stores a file under path and returns its result
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	// Download retrieves a stored file
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes a stored file
	Delete(ctx context.Context, path string) error

	// GetURL returns a URL the social providers can fetch the media from.
	// Cloud backends return a signed URL valid for the TTL; the local backend
	// returns a path under the configured base URL.
	GetURL(ctx context.Context, path string, ttl time.Duration) (string, error)

	// Exists checks whether a file exists at path
	Exists(ctx context.Context, path string) (bool, error)
}

// UploadResult describes a stored file
type UploadResult struct {
	// Path is the storage path the file was stored under
	Path string

	// Size is the file size in bytes
	Size int64

	// Checksum is the SHA256 hash of the contents
	Checksum string
}

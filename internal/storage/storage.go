// Package storage defines the interface for object storage operations.
// The MinIO implementation works with any S3-compatible provider (MinIO, AWS S3).
// Objects are private; readers get time-limited presigned URLs, which is why
// the image proxy has to preserve their query encoding exactly.
package storage

import (
	"context"
	"io"
	"time"
)

// Storage is the interface for uploading and retrieving objects.
type Storage interface {
	// Upload streams data to the store under the given key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	// Delete removes an object identified by key.
	Delete(ctx context.Context, key string) error
	// PresignedURL returns a signed GET URL for key that expires after ttl.
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

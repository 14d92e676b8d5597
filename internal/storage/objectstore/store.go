package objectstore

import (
	"context"
	"io"
	"time"
)

// Bucket is a single S3-compatible bucket that export artifacts are written to.
type Bucket interface {
	Name() string
	// Upload writes the object and returns what the backend reports having
	// stored under key.
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) (ObjectInfo, error)
	DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type ObjectInfo struct {
	Key       string
	Size      int64
	ETag      string
	VersionID string
}

package export

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/synthlab/internal/storage/objectstore"
)

const jsonlContentType = "application/x-ndjson"

// ObjectStoreSink uploads exports under <prefix>/<date>/<uuid>-<name> and logs
// a presigned download URL for each one.
type ObjectStoreSink struct {
	bucket      objectstore.Bucket
	prefix      string
	downloadTTL time.Duration
	logger      *slog.Logger

	now   func() time.Time
	newID func() string
}

func NewObjectStoreSink(bucket objectstore.Bucket, prefix string, logger *slog.Logger) (*ObjectStoreSink, error) {
	if bucket == nil {
		return nil, errors.New("bucket is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ObjectStoreSink{
		bucket:      bucket,
		prefix:      strings.Trim(prefix, "/"),
		downloadTTL: 15 * time.Minute,
		logger:      logger,
		now:         time.Now,
		newID:       uuid.NewString,
	}, nil
}

func (s *ObjectStoreSink) Emit(ctx context.Context, content string, suggestedName string) error {
	name, err := cleanName(suggestedName)
	if err != nil {
		return err
	}
	key := path.Join(s.prefix, s.now().UTC().Format("2006-01-02"), s.newID()+"-"+name)
	size := int64(len(content))

	info, err := s.bucket.Upload(ctx, key, strings.NewReader(content), size, jsonlContentType)
	if err != nil {
		return unavailable("upload %s/%s: %v", s.bucket.Name(), key, err)
	}
	if info.Size != size {
		return unavailable("upload %s/%s: stored %d bytes, want %d", s.bucket.Name(), key, info.Size, size)
	}

	url, err := s.bucket.DownloadURL(ctx, key, s.downloadTTL)
	if err != nil {
		s.logger.Warn("presign export failed", "bucket", s.bucket.Name(), "key", key, "error", err)
	}
	s.logger.Info("export uploaded",
		"bucket", s.bucket.Name(),
		"key", key,
		"bytes", size,
		"etag", info.ETag,
		"download_url", url,
	)
	return nil
}

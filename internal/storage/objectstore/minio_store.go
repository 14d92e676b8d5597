package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

const defaultDownloadTTL = 10 * time.Minute

var errNotInitialized = errors.New("minio bucket not initialized")

// MinioBucket stores objects in one bucket through a minio client. Every
// upload is confirmed with a stat so a truncated write is reported.
type MinioBucket struct {
	client *minio.Client
	name   string
}

func NewMinioBucket(client *minio.Client, name string) (*MinioBucket, error) {
	if client == nil {
		return nil, errors.New("minio client is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("bucket name is required")
	}
	return &MinioBucket{client: client, name: name}, nil
}

func (b *MinioBucket) Name() string { return b.name }

func (b *MinioBucket) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) (ObjectInfo, error) {
	if b == nil || b.client == nil {
		return ObjectInfo{}, errNotInitialized
	}
	put, err := b.client.PutObject(ctx, b.name, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("put object: %w", err)
	}
	stat, err := b.client.StatObject(ctx, b.name, key, minio.StatObjectOptions{VersionID: put.VersionID})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("stat object: %w", err)
	}
	return ObjectInfo{
		Key:       stat.Key,
		Size:      stat.Size,
		ETag:      stat.ETag,
		VersionID: stat.VersionID,
	}, nil
}

func (b *MinioBucket) DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if b == nil || b.client == nil {
		return "", errNotInitialized
	}
	if ttl <= 0 {
		ttl = defaultDownloadTTL
	}
	u, err := b.client.PresignedGetObject(ctx, b.name, key, ttl, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

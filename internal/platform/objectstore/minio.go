package objectstore

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// NewMinIOClient validates cfg and builds a client with bounded dial and
// TLS handshake timeouts.
func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          32,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
	})
}

// EnsureExportsBucket creates the exports bucket if it is missing.
func EnsureExportsBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketExports)
	if err != nil {
		return fmt.Errorf("lookup exports bucket %s: %w", cfg.BucketExports, err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, cfg.BucketExports, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
		return fmt.Errorf("create exports bucket %s: %w", cfg.BucketExports, err)
	}
	return nil
}

// CheckExportsBucket fails when the exports bucket is unreachable or gone.
func CheckExportsBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketExports)
	if err != nil {
		return fmt.Errorf("lookup exports bucket %s: %w", cfg.BucketExports, err)
	}
	if !exists {
		return fmt.Errorf("exports bucket missing: %s", cfg.BucketExports)
	}
	return nil
}

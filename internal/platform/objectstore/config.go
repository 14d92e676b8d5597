package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/synthlab/internal/platform/env"
)

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Region        string
	UseSSL        bool
	BucketExports string
	Prefix        string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("SYNTHLAB_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:      env.String("SYNTHLAB_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:     env.String("SYNTHLAB_MINIO_ACCESS_KEY", "synthlab"),
		SecretKey:     env.String("SYNTHLAB_MINIO_SECRET_KEY", "synthlabminio"),
		Region:        env.String("SYNTHLAB_MINIO_REGION", "us-east-1"),
		UseSSL:        useSSL,
		BucketExports: env.String("SYNTHLAB_MINIO_BUCKET_EXPORTS", "training-exports"),
		Prefix:        strings.Trim(env.String("SYNTHLAB_MINIO_PREFIX", "service-tickets"), "/"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketExports) == "" {
		return errors.New("exports bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}

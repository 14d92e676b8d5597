package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/synthlab/internal/platform/env"
	"github.com/animus-labs/synthlab/internal/platform/httpserver"
)

const serviceName = "synthlab"

// Export sink kinds selectable with SYNTHLAB_EXPORT_SINK.
const (
	sinkFile     = "file"
	sinkMinIO    = "minio"
	sinkPostgres = "postgres"
	sinkMemory   = "memory"
)

type serviceConfig struct {
	HTTP httpserver.Config

	DefaultCount int
	CatalogFile  string
	ExportSink   string
	ExportDir    string
	AuditEnabled bool
}

func serviceConfigFromEnv() (serviceConfig, error) {
	httpCfg, err := httpserver.ConfigFromEnv(serviceName, "SYNTHLAB", ":8090")
	if err != nil {
		return serviceConfig{}, err
	}
	defaultCount, err := env.Int("SYNTHLAB_DEFAULT_COUNT", 1000)
	if err != nil {
		return serviceConfig{}, err
	}
	auditEnabled, err := env.Bool("SYNTHLAB_AUDIT_ENABLED", false)
	if err != nil {
		return serviceConfig{}, err
	}
	cfg := serviceConfig{
		HTTP:         httpCfg,
		DefaultCount: defaultCount,
		CatalogFile:  strings.TrimSpace(env.String("SYNTHLAB_CATALOG_FILE", "")),
		ExportSink:   strings.ToLower(strings.TrimSpace(env.String("SYNTHLAB_EXPORT_SINK", sinkFile))),
		ExportDir:    env.String("SYNTHLAB_EXPORT_DIR", "exports"),
		AuditEnabled: auditEnabled,
	}
	if err := cfg.Validate(); err != nil {
		return serviceConfig{}, err
	}
	return cfg, nil
}

func (c serviceConfig) Validate() error {
	if c.DefaultCount < 1 {
		return errors.New("SYNTHLAB_DEFAULT_COUNT must be >= 1")
	}
	switch c.ExportSink {
	case sinkFile:
		if strings.TrimSpace(c.ExportDir) == "" {
			return errors.New("SYNTHLAB_EXPORT_DIR is required when SYNTHLAB_EXPORT_SINK=file")
		}
	case sinkMinIO, sinkPostgres, sinkMemory:
	default:
		return fmt.Errorf("SYNTHLAB_EXPORT_SINK must be one of: file, minio, postgres, memory (got %q)", c.ExportSink)
	}
	return nil
}

// needsDatabase reports whether postgres has to be opened at startup.
func (c serviceConfig) needsDatabase() bool {
	return c.AuditEnabled || c.ExportSink == sinkPostgres
}

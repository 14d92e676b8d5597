package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/animus-labs/synthlab/internal/platform/httpserver"
	"github.com/animus-labs/synthlab/internal/platform/objectstore"
	storage "github.com/animus-labs/synthlab/internal/storage/objectstore"
	"github.com/animus-labs/synthlab/internal/synth/export"
)

const checkTimeout = 750 * time.Millisecond

// newSink builds the export sink selected by cfg.ExportSink together with
// the readiness checks for its backend. db is only used by the postgres sink.
func newSink(ctx context.Context, logger *slog.Logger, cfg serviceConfig, db *sql.DB) (export.Sink, []httpserver.ReadinessCheck, error) {
	switch cfg.ExportSink {
	case sinkMemory:
		return export.NewMemorySink(), nil, nil

	case sinkFile:
		sink, err := export.NewFileSink(cfg.ExportDir, logger)
		if err != nil {
			return nil, nil, err
		}
		return sink, nil, nil

	case sinkPostgres:
		if db == nil {
			return nil, nil, errors.New("postgres sink requires a database")
		}
		sink, err := export.NewLedgerSink(db, logger)
		if err != nil {
			return nil, nil, err
		}
		schemaCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := sink.EnsureSchema(schemaCtx); err != nil {
			return nil, nil, err
		}
		return sink, nil, nil

	case sinkMinIO:
		storeCfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			return nil, nil, err
		}
		client, err := objectstore.NewMinIOClient(storeCfg)
		if err != nil {
			return nil, nil, err
		}
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := objectstore.EnsureExportsBucket(startupCtx, client, storeCfg); err != nil {
			return nil, nil, err
		}
		bucket, err := storage.NewMinioBucket(client, storeCfg.BucketExports)
		if err != nil {
			return nil, nil, err
		}
		sink, err := export.NewObjectStoreSink(bucket, storeCfg.Prefix, logger)
		if err != nil {
			return nil, nil, err
		}
		check := httpserver.ReadinessCheck{
			Name:    "minio",
			Timeout: checkTimeout,
			Check: func(ctx context.Context) error {
				return objectstore.CheckExportsBucket(ctx, client, storeCfg)
			},
		}
		return sink, []httpserver.ReadinessCheck{check}, nil
	}
	return nil, nil, errors.New("unknown export sink: " + cfg.ExportSink)
}

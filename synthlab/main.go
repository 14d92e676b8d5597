package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/animus-labs/synthlab/internal/pipeline"
	"github.com/animus-labs/synthlab/internal/platform/auditlog"
	"github.com/animus-labs/synthlab/internal/platform/auth"
	"github.com/animus-labs/synthlab/internal/platform/httpserver"
	"github.com/animus-labs/synthlab/internal/platform/postgres"
	"github.com/animus-labs/synthlab/internal/synth/export"
	"github.com/animus-labs/synthlab/internal/synth/generator"
	"github.com/animus-labs/synthlab/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := serviceConfigFromEnv()
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	genCfg, err := generator.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid generator config", "error", err)
		os.Exit(2)
	}
	catalog := generator.DefaultCatalog()
	if cfg.CatalogFile != "" {
		catalog, err = generator.LoadCatalogFile(cfg.CatalogFile)
		if err != nil {
			logger.Error("invalid catalog", "path", cfg.CatalogFile, "error", err)
			os.Exit(2)
		}
	}
	opts, err := pipeline.OptionsFromEnv()
	if err != nil {
		logger.Error("invalid pipeline config", "error", err)
		os.Exit(2)
	}
	registryCfg, err := pipeline.RegistryConfigFromEnv()
	if err != nil {
		logger.Error("invalid session config", "error", err)
		os.Exit(2)
	}
	if _, err := loadOpenAPI(ctx); err != nil {
		logger.Error("invalid openapi document", "error", err)
		os.Exit(2)
	}

	var db *sql.DB
	checks := []httpserver.ReadinessCheck{}
	if cfg.needsDatabase() {
		dbCfg, err := postgres.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid database config", "error", err)
			os.Exit(2)
		}
		db, err = postgres.Open(ctx, dbCfg)
		if err != nil {
			logger.Error("database unavailable", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		checks = append(checks, httpserver.ReadinessCheck{
			Name:    "postgres",
			Timeout: checkTimeout,
			Check:   db.PingContext,
		})
	}

	sink, sinkChecks, err := newSink(ctx, logger, cfg, db)
	if err != nil {
		logger.Error("export sink unavailable", "sink", cfg.ExportSink, "error", err)
		os.Exit(1)
	}
	checks = append(checks, sinkChecks...)

	var audit auditFunc
	var auditDeny auth.AuditFunc
	if cfg.AuditEnabled {
		recorder, err := auditlog.NewRecorder(db, serviceName, checkTimeout)
		if err != nil {
			logger.Error("audit log init failed", "error", err)
			os.Exit(2)
		}
		schemaCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = recorder.EnsureSchema(schemaCtx)
		cancel()
		if err != nil {
			logger.Error("audit log unavailable", "error", err)
			os.Exit(1)
		}
		audit = recorder.Record
		auditDeny = recorder.RecordDeny
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := telemetry.New(promRegistry)
	if err != nil {
		logger.Error("metrics init failed", "error", err)
		os.Exit(2)
	}
	httpMetrics, err := telemetry.NewHTTPMetrics(promRegistry)
	if err != nil {
		logger.Error("metrics init failed", "error", err)
		os.Exit(2)
	}

	sessions, err := pipeline.NewRegistry(
		newSessionFactory(genCfg, catalog, sink, pipeline.Listeners{metrics, activityLog{logger: logger}}, logger, opts),
		registryCfg,
		logger,
	)
	if err != nil {
		logger.Error("session registry init failed", "error", err)
		os.Exit(2)
	}
	defer sessions.Close()
	go sessions.Run(ctx)
	if err := telemetry.RegisterSessionGauge(promRegistry, sessions.Len); err != nil {
		logger.Error("metrics init failed", "error", err)
		os.Exit(2)
	}

	authenticator, oidcService, err := auth.NewAuthenticator(ctx, authCfg)
	if err != nil {
		logger.Error("auth init failed", "mode", authCfg.Mode, "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("/readyz", httpserver.Readyz(serviceName, checks...))
	mux.Handle("GET /metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{Registry: promRegistry}))
	mux.HandleFunc("GET /openapi.yaml", handleOpenAPI)
	if oidcService != nil {
		if err := oidcService.Mount(mux); err != nil {
			logger.Warn("oidc login endpoints disabled", "error", err)
		}
	}

	api := newLabAPI(logger, sessions, opts.Formatter, cfg.DefaultCount, audit)
	api.register(mux)

	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Authorize:     auth.MethodRoleAuthorizer(),
		Audit:         auditDeny,
		SkipPrefixes:  []string{"/healthz", "/readyz", "/metrics", "/openapi.yaml", "/auth/"},
	}.Wrap(mux)

	logger.Info("synthlab starting",
		"addr", cfg.HTTP.Addr,
		"auth_mode", authCfg.Mode,
		"export_sink", cfg.ExportSink,
		"audit", cfg.AuditEnabled,
		"tick_interval", opts.TickInterval,
	)
	if err := httpserver.Run(ctx, logger, cfg.HTTP, httpserver.Wrap(logger, serviceName, handler, httpMetrics.Observe)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// newSessionFactory builds one controller per session, each with its own
// generator and random source.
func newSessionFactory(genCfg generator.Config, catalog generator.Catalog, sink export.Sink, listener pipeline.Listener, logger *slog.Logger, opts pipeline.Options) pipeline.Factory {
	return func(id string) (*pipeline.Controller, error) {
		gen, err := generator.New(genCfg, catalog, rand.New(rand.NewSource(time.Now().UnixNano())))
		if err != nil {
			return nil, err
		}
		return pipeline.NewController(id, pipeline.Deps{
			Records:  gen,
			Sink:     sink,
			Listener: listener,
			Logger:   logger,
		}, opts)
	}
}

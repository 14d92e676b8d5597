// Package httpserver holds the HTTP plumbing shared by synthlab binaries:
// env config, graceful serving, the request middleware chain, probes and
// JSON responses.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/animus-labs/synthlab/internal/platform/env"
)

const defaultShutdownTimeout = 10 * time.Second

type Config struct {
	Service         string
	Addr            string
	ShutdownTimeout time.Duration
	// IdleTimeout applies to keep-alive connections. SSE streams are not
	// bounded by a write timeout.
	IdleTimeout time.Duration
}

// ConfigFromEnv reads <PREFIX>_HTTP_ADDR, <PREFIX>_SHUTDOWN_TIMEOUT and
// <PREFIX>_IDLE_TIMEOUT.
func ConfigFromEnv(service, prefix, defaultAddr string) (Config, error) {
	cfg := Config{
		Service: service,
		Addr:    env.String(prefix+"_HTTP_ADDR", defaultAddr),
	}
	var err error
	if cfg.ShutdownTimeout, err = env.Duration(prefix+"_SHUTDOWN_TIMEOUT", defaultShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.IdleTimeout, err = env.Duration(prefix+"_IDLE_TIMEOUT", time.Minute); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Service) == "" {
		return errors.New("service is required")
	}
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("addr is required")
	}
	if c.ShutdownTimeout < 0 {
		return errors.New("shutdown timeout must be >= 0")
	}
	if c.IdleTimeout < 0 {
		return errors.New("idle timeout must be >= 0")
	}
	return nil
}

// Run serves handler until ctx is done, then shuts down gracefully. Request
// contexts derive from a base context cancelled when shutdown begins, so
// open event streams end instead of holding shutdown until its deadline.
func Run(ctx context.Context, logger *slog.Logger, cfg Config, handler http.Handler) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       cfg.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	srv.RegisterOnShutdown(cancelBase)

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	logger.Info("http server listening", "service", cfg.Service, "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		logger.Info("http server shutting down", "service", cfg.Service, "timeout", cfg.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

package pipeline

import (
	"errors"
	"time"

	"github.com/animus-labs/synthlab/internal/platform/env"
	"github.com/animus-labs/synthlab/internal/synth/export"
	"github.com/animus-labs/synthlab/internal/synth/trainlog"
)

const DefaultTickInterval = 120 * time.Millisecond

// Options tune a single controller.
type Options struct {
	TickInterval time.Duration
	// GenerationDelay keeps the controller in GeneratingData for a while before
	// the batch is committed. Zero commits immediately.
	GenerationDelay time.Duration
	// RequireExport gates StartTraining on a successful export of the current data.
	RequireExport bool

	Formatter export.Formatter
	Script    trainlog.Options
}

func DefaultOptions() Options {
	return Options{
		TickInterval: DefaultTickInterval,
		Formatter:    export.NewFormatter(),
		Script:       trainlog.DefaultOptions(),
	}
}

func OptionsFromEnv() (Options, error) {
	opts := DefaultOptions()
	var err error
	if opts.TickInterval, err = env.Duration("SYNTHLAB_TICK_INTERVAL", opts.TickInterval); err != nil {
		return Options{}, err
	}
	if opts.GenerationDelay, err = env.Duration("SYNTHLAB_GENERATION_DELAY", opts.GenerationDelay); err != nil {
		return Options{}, err
	}
	if opts.RequireExport, err = env.Bool("SYNTHLAB_REQUIRE_EXPORT", opts.RequireExport); err != nil {
		return Options{}, err
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func (o Options) Validate() error {
	if o.TickInterval <= 0 {
		return errors.New("SYNTHLAB_TICK_INTERVAL must be positive")
	}
	if o.GenerationDelay < 0 {
		return errors.New("SYNTHLAB_GENERATION_DELAY must be >= 0")
	}
	return o.Formatter.Validate()
}

// RegistryConfig bounds the session registry.
type RegistryConfig struct {
	SessionTTL   time.Duration
	ReapInterval time.Duration
	MaxSessions  int
}

func RegistryConfigFromEnv() (RegistryConfig, error) {
	ttl, err := env.Duration("SYNTHLAB_SESSION_TTL", 30*time.Minute)
	if err != nil {
		return RegistryConfig{}, err
	}
	reap, err := env.Duration("SYNTHLAB_REAP_INTERVAL", time.Minute)
	if err != nil {
		return RegistryConfig{}, err
	}
	maxSessions, err := env.Int("SYNTHLAB_MAX_SESSIONS", 200)
	if err != nil {
		return RegistryConfig{}, err
	}
	cfg := RegistryConfig{SessionTTL: ttl, ReapInterval: reap, MaxSessions: maxSessions}
	if err := cfg.Validate(); err != nil {
		return RegistryConfig{}, err
	}
	return cfg, nil
}

func (c RegistryConfig) Validate() error {
	if c.SessionTTL <= 0 {
		return errors.New("SYNTHLAB_SESSION_TTL must be positive")
	}
	if c.ReapInterval <= 0 {
		return errors.New("SYNTHLAB_REAP_INTERVAL must be positive")
	}
	if c.MaxSessions < 1 {
		return errors.New("SYNTHLAB_MAX_SESSIONS must be >= 1")
	}
	return nil
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/synthlab/internal/domain"
)

// ErrRegistryFull is returned by Create when MaxSessions controllers exist.
var ErrRegistryFull = errors.New("session limit reached")

// Factory builds the controller for a new session id.
type Factory func(id string) (*Controller, error)

// Registry tracks live sessions. Every controller it drops is disposed.
type Registry struct {
	factory Factory
	cfg     RegistryConfig
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	mu       sync.Mutex
	sessions map[string]*Controller
	closed   bool
}

func NewRegistry(factory Factory, cfg RegistryConfig, logger *slog.Logger) (*Registry, error) {
	if factory == nil {
		return nil, errors.New("factory is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		factory:  factory,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
		sessions: map[string]*Controller{},
	}, nil
}

func (r *Registry) Create() (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("registry closed")
	}
	if len(r.sessions) >= r.cfg.MaxSessions {
		return nil, ErrRegistryFull
	}
	id := r.newID()
	c, err := r.factory(id)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	c.now = r.now
	c.touch()
	r.sessions[id] = c
	return c, nil
}

// Get returns the session and marks it active.
func (r *Registry) Get(id string) (*Controller, error) {
	r.mu.Lock()
	c, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	c.touch()
	return c, nil
}

func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	c, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	c.Dispose()
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshots returns the state of every live session ordered by id. Listing
// does not count as activity.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	sessions := make([]*Controller, 0, len(r.sessions))
	for _, c := range r.sessions {
		sessions = append(sessions, c)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, c := range sessions {
		out = append(out, c.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Reap disposes sessions idle for longer than SessionTTL. Sessions that are
// still playing back a run are kept.
func (r *Registry) Reap() int {
	cutoff := r.now().Add(-r.cfg.SessionTTL)

	r.mu.Lock()
	var expired []*Controller
	for id, c := range r.sessions {
		lastActive, stage := c.idleSince()
		if stage == domain.StageTraining || stage == domain.StageGeneratingData {
			continue
		}
		if lastActive.Before(cutoff) {
			expired = append(expired, c)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, c := range expired {
		c.Dispose()
		r.logger.Info("session expired", "session_id", c.ID())
	}
	return len(expired)
}

// Run reaps idle sessions every ReapInterval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reap()
		}
	}
}

// Close disposes every session. Later calls to Create fail.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = map[string]*Controller{}
	r.closed = true
	r.mu.Unlock()

	for _, c := range sessions {
		c.Dispose()
	}
}

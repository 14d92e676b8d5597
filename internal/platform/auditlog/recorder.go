package auditlog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/animus-labs/synthlab/internal/platform/auth"
)

// Recorder writes the audit trail of one service. Each insert gets its own
// deadline so a slow database cannot stall the request that triggered it.
type Recorder struct {
	db      Execer
	service string
	timeout time.Duration
	now     func() time.Time
}

func NewRecorder(db Execer, service string, timeout time.Duration) (*Recorder, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if strings.TrimSpace(service) == "" {
		return nil, errors.New("service is required")
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Recorder{db: db, service: service, timeout: timeout, now: time.Now}, nil
}

// EnsureSchema creates audit_events when missing.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	return EnsureSchema(ctx, r.db)
}

func (r *Recorder) Record(ctx context.Context, event Event) error {
	if event.Service == "" {
		event.Service = r.service
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now().UTC()
	}
	insertCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	_, err := Insert(insertCtx, r.db, event)
	return err
}

// RecordDeny stores a request rejected by auth.Middleware as an auth.<reason>
// action against the METHOD /path it targeted.
func (r *Recorder) RecordDeny(ctx context.Context, event auth.DenyEvent) error {
	return r.Record(ctx, Event{
		OccurredAt:   event.Time,
		Actor:        event.Identity.Actor(),
		Action:       "auth." + strings.TrimSpace(event.Reason),
		ResourceType: "http",
		ResourceID:   event.Method + " " + event.Path,
		RequestID:    event.RequestID,
		IP:           RemoteIP(event.RemoteAddr),
		UserAgent:    event.UserAgent,
		Payload: map[string]any{
			"status": event.Status,
			"reason": event.Reason,
			"error":  event.Error,
			"roles":  event.Identity.Roles,
		},
	})
}

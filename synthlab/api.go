package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/synthlab/internal/domain"
	"github.com/animus-labs/synthlab/internal/pipeline"
	"github.com/animus-labs/synthlab/internal/platform/auditlog"
	"github.com/animus-labs/synthlab/internal/platform/auth"
	"github.com/animus-labs/synthlab/internal/platform/httpserver"
	"github.com/animus-labs/synthlab/internal/synth/export"
)

const maxRecordPage = 500

type auditFunc func(ctx context.Context, event auditlog.Event) error

type labAPI struct {
	logger       *slog.Logger
	sessions     *pipeline.Registry
	formatter    export.Formatter
	defaultCount int
	audit        auditFunc

	streamPoll time.Duration
	heartbeat  time.Duration
}

func newLabAPI(logger *slog.Logger, sessions *pipeline.Registry, formatter export.Formatter, defaultCount int, audit auditFunc) *labAPI {
	return &labAPI{
		logger:       logger,
		sessions:     sessions,
		formatter:    formatter,
		defaultCount: defaultCount,
		audit:        audit,
		streamPoll:   250 * time.Millisecond,
		heartbeat:    15 * time.Second,
	}
}

func (api *labAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /sessions", api.handleCreateSession)
	mux.HandleFunc("GET /sessions", api.handleListSessions)
	mux.HandleFunc("GET /sessions/{session_id}", api.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{session_id}", api.handleDeleteSession)

	mux.HandleFunc("POST /sessions/{session_id}/generate", api.handleGenerate)
	mux.HandleFunc("POST /sessions/{session_id}/export", api.handleExport)
	mux.HandleFunc("POST /sessions/{session_id}/training", api.handleStartTraining)
	mux.HandleFunc("POST /sessions/{session_id}/reset", api.handleReset)

	mux.HandleFunc("GET /sessions/{session_id}/records", api.handleListRecords)
	mux.HandleFunc("GET /sessions/{session_id}/dataset", api.handleDataset)
	mux.HandleFunc("GET /sessions/{session_id}/logs", api.handleLogs)
	mux.HandleFunc("GET /sessions/{session_id}/stream", api.handleStream)
}

func (api *labAPI) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	c, err := api.sessions.Create()
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	api.recordAudit(r, "session.create", c.ID(), nil)
	httpserver.WriteJSON(w, http.StatusCreated, c.Snapshot())
}

// handleListSessions lists live sessions, optionally only those in ?stage=.
func (api *labAPI) handleListSessions(w http.ResponseWriter, r *http.Request) {
	snaps := api.sessions.Snapshots()
	if raw := r.URL.Query().Get("stage"); raw != "" {
		stage := domain.NormalizeStage(raw)
		if stage == "" {
			httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_stage")
			return
		}
		filtered := snaps[:0]
		for _, snap := range snaps {
			if snap.Stage == stage {
				filtered = append(filtered, snap)
			}
		}
		snaps = filtered
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"sessions": snaps})
}

func (api *labAPI) handleGetSession(w http.ResponseWriter, r *http.Request) {
	c, ok := api.session(w, r)
	if !ok {
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, c.Snapshot())
}

func (api *labAPI) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	if err := api.sessions.Delete(id); err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	api.recordAudit(r, "session.delete", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

type generateRequest struct {
	Count *int `json:"count,omitempty"`
}

func (api *labAPI) handleGenerate(w http.ResponseWriter, r *http.Request) {
	c, ok := api.session(w, r)
	if !ok {
		return
	}
	var req generateRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	count := api.defaultCount
	if req.Count != nil {
		count = *req.Count
	}
	if err := c.StartGeneration(r.Context(), count); err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	api.recordAudit(r, "session.generate", c.ID(), map[string]any{"count": count})
	httpserver.WriteJSON(w, http.StatusOK, c.Snapshot())
}

type exportResponse struct {
	Export  pipeline.ExportResult `json:"export"`
	Session pipeline.Snapshot     `json:"session"`
}

func (api *labAPI) handleExport(w http.ResponseWriter, r *http.Request) {
	c, ok := api.session(w, r)
	if !ok {
		return
	}
	result, err := c.ExportData(r.Context())
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	api.recordAudit(r, "session.export", c.ID(), result)
	httpserver.WriteJSON(w, http.StatusOK, exportResponse{Export: result, Session: c.Snapshot()})
}

func (api *labAPI) handleStartTraining(w http.ResponseWriter, r *http.Request) {
	c, ok := api.session(w, r)
	if !ok {
		return
	}
	if err := c.StartTraining(); err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	snap := c.Snapshot()
	api.recordAudit(r, "session.training", c.ID(), map[string]any{"run_id": snap.RunID, "total_lines": snap.TotalLines})
	httpserver.WriteJSON(w, http.StatusAccepted, snap)
}

func (api *labAPI) handleReset(w http.ResponseWriter, r *http.Request) {
	c, ok := api.session(w, r)
	if !ok {
		return
	}
	if err := c.Reset(); err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	api.recordAudit(r, "session.reset", c.ID(), nil)
	httpserver.WriteJSON(w, http.StatusOK, c.Snapshot())
}

func (api *labAPI) handleListRecords(w http.ResponseWriter, r *http.Request) {
	c, ok := api.session(w, r)
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset", 0)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", 50)
	if !ok {
		return
	}
	limit = min(max(limit, 1), maxRecordPage)

	records := c.Records()
	page := []domain.SyntheticRecord{}
	if offset < len(records) {
		page = records[offset:min(offset+limit, len(records))]
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"records": page,
		"offset":  offset,
		"total":   len(records),
	})
}

// handleDataset renders the current batch as JSONL without emitting it to
// the sink.
func (api *labAPI) handleDataset(w http.ResponseWriter, r *http.Request) {
	c, ok := api.session(w, r)
	if !ok {
		return
	}
	records := c.Records()
	if len(records) == 0 {
		httpserver.WriteError(w, r, http.StatusConflict, "invalid_transition")
		return
	}
	lines, err := api.formatter.Lines(records)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.SuggestedName(time.Now())+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, export.Join(lines))
}

type logsResponse struct {
	Lines   []domain.LogLine  `json:"lines"`
	Next    int               `json:"next"`
	Session pipeline.Snapshot `json:"session"`
}

func (api *labAPI) handleLogs(w http.ResponseWriter, r *http.Request) {
	c, ok := api.session(w, r)
	if !ok {
		return
	}
	from, ok := queryInt(w, r, "from", 0)
	if !ok {
		return
	}
	snap, lines := c.Follow(from)
	next := max(from, snap.LineCount)
	if lines == nil {
		lines = []domain.LogLine{}
	}
	httpserver.WriteJSON(w, http.StatusOK, logsResponse{
		Lines:   lines,
		Next:    next,
		Session: snap,
	})
}

func (api *labAPI) session(w http.ResponseWriter, r *http.Request) (*pipeline.Controller, bool) {
	c, err := api.sessions.Get(r.PathValue("session_id"))
	if err != nil {
		api.writeDomainError(w, r, err)
		return nil, false
	}
	return c, true
}

func (api *labAPI) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_count")
	case errors.Is(err, domain.ErrNotFound):
		httpserver.WriteError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, domain.ErrInvalidTransition):
		httpserver.WriteError(w, r, http.StatusConflict, "invalid_transition")
	case errors.Is(err, domain.ErrSinkUnavailable):
		api.logger.Warn("export failed", "request_id", r.Header.Get("X-Request-Id"), "error", err.Error())
		httpserver.WriteError(w, r, http.StatusBadGateway, "sink_unavailable")
	case errors.Is(err, pipeline.ErrRegistryFull):
		httpserver.WriteError(w, r, http.StatusServiceUnavailable, "session_limit")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpserver.WriteError(w, r, http.StatusServiceUnavailable, "canceled")
	default:
		api.logger.Error("request failed", "request_id", r.Header.Get("X-Request-Id"), "error", err.Error())
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func (api *labAPI) recordAudit(r *http.Request, action, sessionID string, payload any) {
	if api.audit == nil {
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	err := api.audit(r.Context(), auditlog.Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        identity.Actor(),
		Action:       action,
		ResourceType: "session",
		ResourceID:   sessionID,
		RequestID:    r.Header.Get("X-Request-Id"),
		IP:           auditlog.RemoteIP(r.RemoteAddr),
		UserAgent:    r.UserAgent(),
		Payload:      payload,
	})
	if err != nil {
		api.logger.Warn("audit insert failed", "action", action, "session_id", sessionID, "error", err.Error())
	}
}

// decodeOptionalJSON decodes a single JSON value and accepts an empty body.
func decodeOptionalJSON(r *http.Request, dst any) error {
	blob, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(blob)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(blob))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, def int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_"+key)
		return 0, false
	}
	return v, true
}

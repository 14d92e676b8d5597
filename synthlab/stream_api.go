package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/synthlab/internal/pipeline"
	"github.com/animus-labs/synthlab/internal/platform/httpserver"
)

type streamLineEvent struct {
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id"`
	Seq       int    `json:"seq"`
	Kind      string `json:"kind"`
	Text      string `json:"text"`
	Loss      string `json:"loss,omitempty"`
	Progress  int    `json:"progress"`
}

func writeSSE(w http.ResponseWriter, event string, id string, payload any) error {
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", blob); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// lineEventID is the SSE id of a line: "<run_id>:<seq>".
func lineEventID(runID string, seq int) string {
	return runID + ":" + strconv.Itoa(seq)
}

// parseLastEventID splits a Last-Event-ID into its run id and seq. A bare seq
// refers to the current run and yields an empty run id.
func parseLastEventID(raw string) (string, int, error) {
	runID, rawSeq, ok := strings.Cut(raw, ":")
	if !ok {
		runID, rawSeq = "", raw
	}
	seq, err := strconv.Atoi(rawSeq)
	if err != nil {
		return "", 0, err
	}
	if seq < 0 {
		return "", 0, fmt.Errorf("negative seq %d", seq)
	}
	return runID, seq, nil
}

// handleStream follows the training log of a session. Lines carry
// "<run_id>:<seq>" as the event id, so a reconnecting client resumes with
// Last-Event-ID. An id from an earlier run restarts the current run from its
// first line. The stream ends with a complete event once the run has finished
// and every line was sent.
func (api *labAPI) handleStream(w http.ResponseWriter, r *http.Request) {
	c, ok := api.session(w, r)
	if !ok {
		return
	}

	from, ok := queryInt(w, r, "from", 0)
	if !ok {
		return
	}
	lastRunID := ""
	if raw := strings.TrimSpace(r.Header.Get("Last-Event-ID")); raw != "" {
		runID, seq, err := parseLastEventID(raw)
		if err != nil {
			httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_last_event_id")
			return
		}
		lastRunID, from = runID, seq+1
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httpserver.WriteError(w, r, http.StatusInternalServerError, "streaming_not_supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	snap := c.Snapshot()
	if lastRunID != "" && lastRunID != snap.RunID {
		from = 0
	}
	_ = writeSSE(w, "ready", "", map[string]any{
		"session":    snap,
		"from":       from,
		"server_ts":  time.Now().UTC().Unix(),
		"request_id": r.Header.Get("X-Request-Id"),
	})

	runID := snap.RunID
	next := from
	poll := time.NewTicker(api.streamPoll)
	heartbeat := time.NewTicker(api.heartbeat)
	defer poll.Stop()
	defer heartbeat.Stop()

	for {
		done, err := api.streamLines(w, c, &runID, &next)
		if err != nil || done {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-poll.C:
		}
	}
}

// streamLines writes every line emitted since *next. It reports done once the
// session is complete and drained, or disposed.
func (api *labAPI) streamLines(w http.ResponseWriter, c *pipeline.Controller, runID *string, next *int) (bool, error) {
	snap, lines := c.Follow(*next)
	if snap.Disposed {
		return true, writeSSE(w, "error", "", map[string]any{"error": "not_found"})
	}
	if snap.RunID != *runID {
		// A restart replaced the buffer; follow the new run from the top.
		*runID = snap.RunID
		*next = 0
		snap, lines = c.Follow(0)
		if snap.RunID != *runID {
			return false, nil
		}
	}
	for _, line := range lines {
		if err := writeSSE(w, "line", lineEventID(snap.RunID, line.Seq), streamLineEvent{
			SessionID: snap.SessionID,
			RunID:     snap.RunID,
			Seq:       line.Seq,
			Kind:      string(line.Kind),
			Text:      line.Text,
			Loss:      line.Loss,
			Progress:  pipeline.ProgressFor(line.Seq+1, snap.TotalLines),
		}); err != nil {
			return true, err
		}
		*next = line.Seq + 1
	}
	if snap.Complete && *next >= snap.TotalLines {
		return true, writeSSE(w, "complete", "", snap)
	}
	return false, nil
}

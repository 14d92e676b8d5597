package main

import (
	"log/slog"

	"github.com/animus-labs/synthlab/internal/domain"
	"github.com/animus-labs/synthlab/internal/pipeline"
)

// activityLog writes one log record per stage change and export. Per-line
// playback events are left to the metrics listener.
type activityLog struct {
	pipeline.NopListener
	logger *slog.Logger
}

func (a activityLog) StageChanged(sessionID string, from, to domain.Stage) {
	a.logger.Info("session stage changed", "session_id", sessionID, "from", from, "to", to)
}

func (a activityLog) ExportFinished(sessionID string, result pipeline.ExportResult, err error) {
	if err != nil {
		a.logger.Warn("export failed", "session_id", sessionID, "error", err.Error())
		return
	}
	a.logger.Info("export finished",
		"session_id", sessionID,
		"name", result.Name,
		"lines", result.Lines,
		"bytes", result.Bytes,
		"sha256", result.SHA256,
	)
}

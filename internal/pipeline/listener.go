package pipeline

import "github.com/animus-labs/synthlab/internal/domain"

// Listener observes controller activity. Methods are called after the
// controller has released its lock, in the order the changes happened.
type Listener interface {
	StageChanged(sessionID string, from, to domain.Stage)
	RecordsGenerated(sessionID string, count int)
	ExportFinished(sessionID string, result ExportResult, err error)
	LineEmitted(sessionID string, line domain.LogLine, progress int)
}

// NopListener ignores every event. Embed it to implement a subset.
type NopListener struct{}

func (NopListener) StageChanged(string, domain.Stage, domain.Stage) {}
func (NopListener) RecordsGenerated(string, int)                    {}
func (NopListener) ExportFinished(string, ExportResult, error)      {}
func (NopListener) LineEmitted(string, domain.LogLine, int)         {}

// Listeners fans events out to each listener in order.
type Listeners []Listener

func (ls Listeners) StageChanged(sessionID string, from, to domain.Stage) {
	for _, l := range ls {
		l.StageChanged(sessionID, from, to)
	}
}

func (ls Listeners) RecordsGenerated(sessionID string, count int) {
	for _, l := range ls {
		l.RecordsGenerated(sessionID, count)
	}
}

func (ls Listeners) ExportFinished(sessionID string, result ExportResult, err error) {
	for _, l := range ls {
		l.ExportFinished(sessionID, result, err)
	}
}

func (ls Listeners) LineEmitted(sessionID string, line domain.LogLine, progress int) {
	for _, l := range ls {
		l.LineEmitted(sessionID, line, progress)
	}
}

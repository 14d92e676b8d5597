package domain

import "strings"

// Stage is a named phase of the synthetic-data pipeline.
type Stage string

const (
	StageIdle           Stage = "idle"
	StageGeneratingData Stage = "generating_data"
	StageDataReady      Stage = "data_ready"
	StageTraining       Stage = "training"
	StageComplete       Stage = "complete"
)

// NormalizeStage maps free-form values to canonical stages.
func NormalizeStage(value string) Stage {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(StageIdle), "":
		return StageIdle
	case string(StageGeneratingData), "generating":
		return StageGeneratingData
	case string(StageDataReady), "ready":
		return StageDataReady
	case string(StageTraining):
		return StageTraining
	case string(StageComplete), "completed":
		return StageComplete
	default:
		return ""
	}
}

// CanTransitionStage reports whether the pipeline may move from current to next.
// Training may be re-entered from Training and Complete; the caller owns tearing
// down the previous run before it does.
func CanTransitionStage(current, next Stage) bool {
	switch current {
	case StageIdle:
		return next == StageGeneratingData
	case StageGeneratingData:
		return next == StageDataReady || next == StageIdle
	case StageDataReady:
		return next == StageGeneratingData || next == StageTraining || next == StageIdle
	case StageTraining:
		return next == StageTraining || next == StageComplete || next == StageIdle
	case StageComplete:
		return next == StageTraining || next == StageIdle
	default:
		return false
	}
}

package domain

// LogKind tags a training log line. Kinds affect presentation only, never order.
type LogKind string

const (
	LogInfo    LogKind = "info"
	LogTrain   LogKind = "train"
	LogEval    LogKind = "eval"
	LogSuccess LogKind = "success"
)

// LogLine is one line of simulated training telemetry.
type LogLine struct {
	Seq  int     `json:"seq"`
	Kind LogKind `json:"kind"`
	Text string  `json:"text"`
	// Loss is set on train lines and on the final-loss summary line.
	Loss string `json:"loss,omitempty"`
}

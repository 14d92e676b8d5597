// Package telemetry exports pipeline activity as Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/animus-labs/synthlab/internal/domain"
	"github.com/animus-labs/synthlab/internal/pipeline"
)

const namespace = "synthlab"

// Metrics implements pipeline.Listener.
type Metrics struct {
	stageTransitions *prometheus.CounterVec
	recordsGenerated prometheus.Counter
	exports          *prometheus.CounterVec
	exportBytes      prometheus.Counter
	linesEmitted     *prometheus.CounterVec
	runsCompleted    prometheus.Counter
}

var _ pipeline.Listener = (*Metrics)(nil)

// New registers the pipeline collectors on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		stageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_transitions_total",
			Help:      "Total number of pipeline stage transitions",
		}, []string{"from", "to"}),
		recordsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "records_generated_total",
			Help:      "Total number of synthetic records generated",
		}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "export",
			Name:      "attempts_total",
			Help:      "Total number of export attempts by result",
		}, []string{"result"}),
		exportBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "export",
			Name:      "bytes_total",
			Help:      "Total number of bytes handed to export sinks",
		}),
		linesEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "log_lines_emitted_total",
			Help:      "Total number of simulated training log lines emitted by kind",
		}, []string{"kind"}),
		runsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "runs_completed_total",
			Help:      "Total number of simulated training runs played to completion",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.stageTransitions,
		m.recordsGenerated,
		m.exports,
		m.exportBytes,
		m.linesEmitted,
		m.runsCompleted,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RegisterSessionGauge exposes the live session count reported by fn.
func RegisterSessionGauge(reg prometheus.Registerer, fn func() int) error {
	return reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Number of live lab sessions",
	}, func() float64 { return float64(fn()) }))
}

func (m *Metrics) StageChanged(_ string, from, to domain.Stage) {
	m.stageTransitions.WithLabelValues(string(from), string(to)).Inc()
	if to == domain.StageComplete {
		m.runsCompleted.Inc()
	}
}

func (m *Metrics) RecordsGenerated(_ string, count int) {
	m.recordsGenerated.Add(float64(count))
}

func (m *Metrics) ExportFinished(_ string, result pipeline.ExportResult, err error) {
	if err != nil {
		m.exports.WithLabelValues("error").Inc()
		return
	}
	m.exports.WithLabelValues("ok").Inc()
	m.exportBytes.Add(float64(result.Bytes))
}

func (m *Metrics) LineEmitted(_ string, line domain.LogLine, _ int) {
	m.linesEmitted.WithLabelValues(string(line.Kind)).Inc()
}

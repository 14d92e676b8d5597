package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/animus-labs/synthlab/internal/domain"
	"github.com/animus-labs/synthlab/internal/pipeline"
)

func TestMetricsCountEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	m.StageChanged("s", domain.StageIdle, domain.StageGeneratingData)
	m.StageChanged("s", domain.StageTraining, domain.StageComplete)
	m.RecordsGenerated("s", 1000)
	m.ExportFinished("s", pipeline.ExportResult{Bytes: 512}, nil)
	m.ExportFinished("s", pipeline.ExportResult{}, errors.New("sink unavailable"))
	m.LineEmitted("s", domain.LogLine{Kind: domain.LogTrain}, 1)
	m.LineEmitted("s", domain.LogLine{Kind: domain.LogTrain}, 2)

	if got := testutil.ToFloat64(m.recordsGenerated); got != 1000 {
		t.Fatalf("records_generated_total=%v, want 1000", got)
	}
	if got := testutil.ToFloat64(m.exports.WithLabelValues("ok")); got != 1 {
		t.Fatalf("exports ok=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.exports.WithLabelValues("error")); got != 1 {
		t.Fatalf("exports error=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.exportBytes); got != 512 {
		t.Fatalf("export bytes=%v, want 512", got)
	}
	if got := testutil.ToFloat64(m.linesEmitted.WithLabelValues("train")); got != 2 {
		t.Fatalf("train lines=%v, want 2", got)
	}
	if got := testutil.ToFloat64(m.runsCompleted); got != 1 {
		t.Fatalf("runs completed=%v, want 1", got)
	}
}

func TestNewRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("New() err=%v", err)
	}
	if _, err := New(reg); err == nil {
		t.Fatalf("second New() expected error")
	}
}

func TestSessionGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	n := 3
	if err := RegisterSessionGauge(reg, func() int { return n }); err != nil {
		t.Fatalf("RegisterSessionGauge() err=%v", err)
	}
	count, err := testutil.GatherAndCount(reg, "synthlab_sessions_active")
	if err != nil {
		t.Fatalf("GatherAndCount() err=%v", err)
	}
	if count != 1 {
		t.Fatalf("count=%d, want 1", count)
	}
}

func TestHTTPMetricsFoldSessionIDs(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewHTTPMetrics(reg)
	if err != nil {
		t.Fatalf("NewHTTPMetrics() err=%v", err)
	}

	m.Observe(httptest.NewRequest(http.MethodPost, "/sessions/a1/generate", nil), http.StatusOK, 5*time.Millisecond)
	m.Observe(httptest.NewRequest(http.MethodPost, "/sessions/b2/generate", nil), http.StatusConflict, time.Millisecond)
	m.Observe(httptest.NewRequest(http.MethodGet, "/sessions/b2/stream", nil), http.StatusOK, time.Minute)
	m.Observe(httptest.NewRequest(http.MethodGet, "/wp-admin", nil), http.StatusNotFound, time.Millisecond)

	if got := testutil.ToFloat64(m.requests.WithLabelValues("/sessions/{session_id}/generate", http.MethodPost, "200")); got != 1 {
		t.Fatalf("generate 200=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("/sessions/{session_id}/generate", http.MethodPost, "409")); got != 1 {
		t.Fatalf("generate 409=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("unmatched", http.MethodGet, "404")); got != 1 {
		t.Fatalf("unmatched=%v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.duration); got != 1 {
		t.Fatalf("duration series=%d, want 1 (streams and unmatched excluded)", got)
	}
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/sessions":             "/sessions",
		"/sessions/x":           "/sessions/{session_id}",
		"/sessions/x/logs":      "/sessions/{session_id}/logs",
		"/sessions/x/logs/more": "unmatched",
		"/auth/login":           "/auth/login",
		"/":                     "unmatched",
	}
	for path, want := range cases {
		if got := routeLabel(path); got != want {
			t.Fatalf("routeLabel(%q)=%q, want %q", path, got, want)
		}
	}
}

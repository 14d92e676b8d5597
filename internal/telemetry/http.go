package telemetry

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics counts API requests. Session ids are folded out of the route
// label and unmatched paths share one label value.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) (*HTTPMetrics, error) {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route, method and status code",
		}, []string{"route", "method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route. Event streams and unmatched requests are excluded",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe matches httpserver.RequestObserver.
func (m *HTTPMetrics) Observe(r *http.Request, status int, elapsed time.Duration) {
	route := "unmatched"
	if status != http.StatusNotFound && status != http.StatusMethodNotAllowed {
		route = routeLabel(r.URL.Path)
	}
	m.requests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
	if route != "unmatched" && !strings.HasSuffix(route, "/stream") {
		m.duration.WithLabelValues(route, r.Method).Observe(elapsed.Seconds())
	}
}

func routeLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch parts[0] {
	case "healthz", "readyz", "metrics", "openapi.yaml", "auth":
		return "/" + strings.Join(parts, "/")
	case "sessions":
		if len(parts) > 1 {
			parts[1] = "{session_id}"
		}
		if len(parts) > 3 {
			return "unmatched"
		}
		return "/" + strings.Join(parts, "/")
	}
	return "unmatched"
}

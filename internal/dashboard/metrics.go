package dashboard

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowy-gtd/flowy/internal/sync"
)

// metrics are the Prometheus collectors of one server. Each server owns a
// registry so that tests can run several side by side.
type metrics struct {
	registry *prometheus.Registry

	syncRuns     *prometheus.CounterVec
	syncFiles    *prometheus.CounterVec
	syncDuration prometheus.Histogram
	lastSuccess  prometheus.Gauge
	clients      prometheus.Gauge
	requests     *prometheus.CounterVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &metrics{
		registry: reg,
		syncRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowy_sync_runs_total",
				Help: "Sync runs by result.",
			},
			[]string{"result"},
		),
		syncFiles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowy_sync_files_total",
				Help: "Files handled by sync, by outcome.",
			},
			[]string{"outcome"},
		),
		syncDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flowy_sync_duration_seconds",
				Help:    "Duration of sync runs.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 120},
			},
		),
		lastSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowy_sync_last_success_timestamp_seconds",
				Help: "Completion time of the last sync that was not canceled.",
			},
		),
		clients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowy_dashboard_clients",
				Help: "Connected WebSocket clients.",
			},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowy_dashboard_requests_total",
				Help: "Dashboard HTTP requests by route and status.",
			},
			[]string{"method", "route", "status"},
		),
	}
}

// observe records a finished or failed sync.
func (m *metrics) observe(ev sync.Event) {
	switch ev.Type {
	case sync.EventFailed:
		m.syncRuns.WithLabelValues("failed").Inc()
	case sync.EventFinished:
		sum := ev.Summary
		if sum == nil {
			return
		}
		result := "ok"
		if sum.Canceled {
			result = "canceled"
		} else {
			m.lastSuccess.Set(float64(sum.FinishedAt.UnixMilli()) / 1000)
		}
		m.syncRuns.WithLabelValues(result).Inc()
		m.syncDuration.Observe(sum.Duration().Seconds())
		for outcome, n := range map[string]int{
			"pushed":     sum.Pushed,
			"pulled":     sum.Pulled,
			"merged":     sum.Merged,
			"conflicted": sum.Conflicted,
			"deleted":    sum.Deleted,
			"unchanged":  sum.Unchanged,
			"failed":     sum.Failed,
		} {
			if n > 0 {
				m.syncFiles.WithLabelValues(outcome).Add(float64(n))
			}
		}
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// instrument counts requests to route.
func (m *metrics) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(wrapped, r)
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
	}
}

// statusWriter captures the response status.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

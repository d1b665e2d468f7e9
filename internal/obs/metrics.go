package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Engine metrics.
var (
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dao_commands_total",
			Help: "Governance commands by outcome.",
		},
		[]string{"command", "outcome"},
	)

	commandErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dao_command_errors_total",
			Help: "Failed governance commands by error kind.",
		},
		[]string{"kind"},
	)

	treasuryHeld = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dao_treasury_held",
		Help: "Sum of free and reserved funds over all banks, in minor units.",
	})

	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dao_events_total",
			Help: "Emitted governance events by type.",
		},
		[]string{"type"},
	)
)

var initOnce sync.Once

// Init registers every metric in the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			commandsTotal, commandErrors, treasuryHeld, eventsTotal,
		)
	})
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCommand counts one command. kind is empty on success.
func ObserveCommand(command, kind string) {
	if kind == "" {
		commandsTotal.WithLabelValues(command, "ok").Inc()
		return
	}
	commandsTotal.WithLabelValues(command, "error").Inc()
	commandErrors.WithLabelValues(kind).Inc()
}

// SetTreasuryHeld records the current treasury total.
func SetTreasuryHeld(v int64) {
	treasuryHeld.Set(float64(v))
}

// ObserveEvent counts one emitted event.
func ObserveEvent(typ string) {
	eventsTotal.WithLabelValues(typ).Inc()
}

// Instrument records rate, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// collections whose next path segment is an identifier.
var collections = map[string]bool{
	"orgs":        true,
	"members":     true,
	"votes":       true,
	"banks":       true,
	"spends":      true,
	"bounties":    true,
	"submissions": true,
	"accounts":    true,
	"content":     true,
}

// CanonicalPath collapses identifiers so metric label cardinality stays
// bounded: /v1/banks/3/spends/7 becomes /v1/banks/:id/spends/:id.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == "/" {
		return "/"
	}
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i := 1; i < len(parts); i++ {
		if collections[parts[i-1]] && parts[i] != "" {
			parts[i] = ":id"
			i++
		}
	}
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Package metrics exposes Prometheus instrumentation for the connectivity
// engine and its HTTP surface.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orblink_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orblink_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	visibilityCycleSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orblink_visibility_cycle_seconds",
			Help:    "Duration of one visibility evaluation cycle.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	visibilityPairsEvaluated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orblink_visibility_pairs_evaluated_total",
			Help: "Total candidate pairs evaluated across all cycles.",
		},
	)

	visibilitySkippedRecords = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orblink_visibility_skipped_records_total",
			Help: "Raw connection records skipped due to malformed geometry.",
		},
	)

	connectionsVisible = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orblink_connections_visible",
			Help: "Connections visible in the latest raw batch.",
		},
	)

	connectionsTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orblink_connections_tracked",
			Help: "Connections currently tracked by the lifecycle manager.",
		},
	)

	sceneUpdatesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orblink_scene_updates_dropped_total",
			Help: "Scene updates dropped by the engine throttle.",
		},
	)

	sceneAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orblink_scene_age_seconds",
			Help: "Age of the most recent ingested scene snapshot.",
		},
	)

	streamConnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orblink_stream_connections_total",
			Help: "Stream connect/disconnect events.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orblink_streams_active",
			Help: "Currently connected stream clients.",
		},
	)

	streamMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orblink_stream_messages_total",
			Help: "Messages sent to stream clients.",
		},
	)

	streamBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orblink_stream_bytes_total",
			Help: "Bytes sent to stream clients.",
		},
	)

	streamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orblink_stream_errors_total",
			Help: "Stream errors by cause.",
		},
		[]string{"cause"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		visibilityCycleSeconds,
		visibilityPairsEvaluated,
		visibilitySkippedRecords,
		connectionsVisible,
		connectionsTracked,
		sceneUpdatesDropped,
		sceneAgeSeconds,
		streamConnections,
		streamsActive,
		streamMessages,
		streamBytes,
		streamErrors,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordVisibilityCycle records one evaluation cycle's duration and counts.
func RecordVisibilityCycle(d time.Duration, pairs, visible, skipped int) {
	visibilityCycleSeconds.Observe(d.Seconds())
	visibilityPairsEvaluated.Add(float64(pairs))
	visibilitySkippedRecords.Add(float64(skipped))
	connectionsVisible.Set(float64(visible))
}

// SetConnectionsTracked publishes the lifecycle manager's record count.
func SetConnectionsTracked(n int) {
	connectionsTracked.Set(float64(n))
}

// IncSceneUpdatesDropped counts a scene update rejected by the throttle.
func IncSceneUpdatesDropped() {
	sceneUpdatesDropped.Inc()
}

// SetSceneAge publishes the age of the latest scene snapshot in seconds.
func SetSceneAge(seconds float64) {
	sceneAgeSeconds.Set(seconds)
}

// IncStreamConnections counts a stream "connect" or "disconnect" event.
func IncStreamConnections(event string) {
	streamConnections.WithLabelValues(event).Inc()
}

// IncStreamsActive / DecStreamsActive track the live stream client gauge.
func IncStreamsActive() { streamsActive.Inc() }

// DecStreamsActive decrements the live stream client gauge.
func DecStreamsActive() { streamsActive.Dec() }

// IncStreamMessages counts one message sent to a stream client.
func IncStreamMessages() { streamMessages.Inc() }

// AddStreamBytes counts payload bytes sent to stream clients.
func AddStreamBytes(n int64) { streamBytes.Add(float64(n)) }

// IncStreamErrors counts a stream error by cause.
func IncStreamErrors(cause string) {
	streamErrors.WithLabelValues(cause).Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack passes through so WebSocket upgrades work behind the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)

		httpRequestsTotal.WithLabelValues(r.URL.Path, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(r.URL.Path, r.Method).Observe(duration)
	})
}

// Package stream implements Server-Sent Events and WebSocket streaming of
// connection batches. Clients connect via GET /api/v1/stream/connections and
// receive a continuous feed of CONNECTIONS_UPDATED envelopes.
//
// SSE message format:
//
//	data: {"type":"CONNECTIONS_UPDATED","connections":[...],"timestamp":"..."}\n\n
//
// First message is always metadata:
//
//	data: {"type":"metadata","session":"<uuid>","interval_ms":500,"scene_age_seconds":1.2}\n\n
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval to prevent
// timeout. Reconnecting clients receive a fresh metadata message on each
// connection.
package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/orb/orblink/internal/engine"
	"github.com/orb/orblink/internal/httputil"
	"github.com/orb/orblink/internal/metrics"
	"github.com/orb/orblink/internal/scene"
)

// Feed is the batch source a stream serves from.
type Feed interface {
	Latest() *engine.Batch
}

// Config holds streaming configuration loaded from environment variables.
type Config struct {
	MaxConcurrentPerIP int           // max concurrent streams per IP (default: 10)
	MaxConcurrent      int           // global stream cap (default: 1000)
	KeepaliveInterval  time.Duration // keep-alive ping interval (default: 30s)
	DefaultIntervalMs  int           // default client push cadence (default: 500)
	TrustProxy         bool          // honor X-Forwarded-For for client IPs
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentPerIP <= 0 {
		c.MaxConcurrentPerIP = 10
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1000
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
	if c.DefaultIntervalMs <= 0 {
		c.DefaultIntervalMs = 500
	}
	return c
}

// Handler manages streaming connections.
type Handler struct {
	feed    Feed
	sink    Sink
	scenes  *scene.Store
	config  Config
	limiter *streamLimiter
	logger  *slog.Logger
}

// NewHandler creates a new streaming handler. A nil sink makes the WebSocket
// feed read-only.
func NewHandler(feed Feed, sink Sink, scenes *scene.Store, config Config, logger *slog.Logger) *Handler {
	config = config.withDefaults()
	return &Handler{
		feed:    feed,
		sink:    sink,
		scenes:  scenes,
		config:  config,
		limiter: newStreamLimiter(config.MaxConcurrentPerIP, config.MaxConcurrent),
		logger:  logger,
	}
}

func (h *Handler) clientIP(r *http.Request) string {
	return httputil.ClientIP(r, h.config.TrustProxy)
}

// pushInterval validates the optional interval query parameter (ms, 100-10000).
func (h *Handler) pushInterval(r *http.Request) (time.Duration, error) {
	ms := h.config.DefaultIntervalMs
	if v := r.URL.Query().Get("interval"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 100 || n > 10000 {
			return 0, fmt.Errorf("invalid interval parameter, must be 100-10000")
		}
		ms = n
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// HandleConnections serves the SSE connection feed.
// GET /api/v1/stream/connections?interval=500
func (h *Handler) HandleConnections(w http.ResponseWriter, r *http.Request) {
	interval, err := h.pushInterval(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ip := h.clientIP(r)
	if !h.limiter.acquire(ip) {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "too many concurrent streams"})
		return
	}

	session := uuid.NewString()
	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()

	startTime := time.Now()
	h.logger.Info("stream connected",
		"session", session,
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"interval_ms", interval.Milliseconds(),
	)

	defer func() {
		h.limiter.release(ip)
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"session", session,
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server's default WriteTimeout for this long-lived connection.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	c := &client{
		w:       w,
		flusher: flusher,
		rc:      rc,
		ip:      ip,
		logger:  h.logger,
	}

	// Jittered retry interval (3-7s) to prevent thundering-herd reconnection
	// storms when the server restarts.
	retryMs := 3000 + rand.Intn(4000)
	fmt.Fprintf(w, "retry: %d\n\n", retryMs)
	flusher.Flush()

	if err := c.sendJSON(h.metadata(session, interval)); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (metadata)", "session", session, "error", err)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	ctx := r.Context()
	var lastSent time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			batch := h.feed.Latest()
			if batch == nil || !batch.At.After(lastSent) {
				continue // nothing new this tick
			}
			if err := c.sendJSON(batch.Message()); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "session", session, "error", err)
				return
			}
			lastSent = batch.At
			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case <-keepaliveTicker.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "session", session, "error", err)
				return
			}
		}
	}
}

// metadata builds the first message of every stream.
func (h *Handler) metadata(session string, interval time.Duration) metadataMessage {
	meta := metadataMessage{
		Type:       "metadata",
		Session:    session,
		IntervalMs: int(interval.Milliseconds()),
		SceneAge:   -1,
	}
	if h.scenes != nil {
		meta.SceneAge = h.scenes.AgeSeconds()
	}
	return meta
}

type metadataMessage struct {
	Type       string  `json:"type"`
	Session    string  `json:"session"`
	IntervalMs int     `json:"interval_ms"`
	SceneAge   float64 `json:"scene_age_seconds"`
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

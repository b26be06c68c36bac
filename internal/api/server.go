// Package api exposes the compute core over HTTP: scene ingestion, config
// updates, the latest connection batch, an element-conversion convenience
// endpoint, and the SSE/WebSocket stream routes.
package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/orb/orblink/internal/auth"
	"github.com/orb/orblink/internal/engine"
	"github.com/orb/orblink/internal/health"
	"github.com/orb/orblink/internal/metrics"
	"github.com/orb/orblink/internal/orbit"
	"github.com/orb/orblink/internal/scene"
	"github.com/orb/orblink/internal/stream"
)

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	engine     *engine.Engine
	scenes     *scene.Store
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server. A nil engine serves the static
// endpoints only; scene and config requests answer 503.
func NewServer(addr string, eng *engine.Engine, scenes *scene.Store, streams *stream.Handler, logger *slog.Logger, authCfg auth.Config) *Server {
	s := &Server{
		engine: eng,
		scenes: scenes,
		logger: logger,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.ReadyzHandler(func() bool { return eng != nil }))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/v1/scene", s.handleSceneUpdate)
	mux.HandleFunc("GET /api/v1/scene", s.handleSceneStatus)
	mux.HandleFunc("PUT /api/v1/config", s.handleConfigUpdate)
	mux.HandleFunc("GET /api/v1/connections", s.handleConnections)
	mux.HandleFunc("GET /api/v1/elements", s.handleElements)

	if streams != nil {
		mux.HandleFunc("GET /api/v1/stream/connections", streams.HandleConnections)
		mux.HandleFunc("GET /api/v1/stream/ws", streams.HandleWebSocket)
	}

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Handler returns the full middleware-wrapped handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// handleSceneUpdate ingests an UPDATE_SCENE document. 202 when the engine
// accepted the snapshot, 429 when the intake throttle dropped it.
func (s *Server) handleSceneUpdate(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "visibility engine disabled")
		return
	}

	var req engine.UpdateSceneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid scene document: %v", err))
		return
	}
	if req.Type != "" && req.Type != engine.MessageUpdateScene {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unexpected message type %q", req.Type))
		return
	}

	sc := req.Scene()
	if s.scenes != nil {
		s.scenes.Set(sc, time.Now())
	}

	if !s.engine.UpdateScene(sc) {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "scene update dropped by throttle")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"accepted":       true,
		"satellites":     len(sc.Satellites),
		"bodies":         len(sc.Bodies),
		"groundStations": len(sc.GroundStations),
	})
}

// handleSceneStatus reports the stored snapshot's shape and age.
func (s *Server) handleSceneStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.scenes == nil || s.scenes.Get() == nil {
		json.NewEncoder(w).Encode(map[string]any{"ingested": false})
		return
	}
	snap := s.scenes.Get()
	json.NewEncoder(w).Encode(map[string]any{
		"ingested":        true,
		"satellites":      len(snap.Scene.Satellites),
		"bodies":          len(snap.Scene.Bodies),
		"groundStations":  len(snap.Scene.GroundStations),
		"age_seconds":     s.scenes.AgeSeconds(),
		"scene_timestamp": snap.Scene.At,
	})
}

// handleConfigUpdate applies an UPDATE_CONFIG document.
func (s *Server) handleConfigUpdate(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "visibility engine disabled")
		return
	}

	var req engine.UpdateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid config document: %v", err))
		return
	}
	if req.Type != "" && req.Type != engine.MessageUpdateConfig {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unexpected message type %q", req.Type))
		return
	}

	s.engine.UpdateConfig(req.Config.Update())
	w.WriteHeader(http.StatusNoContent)
}

// handleConnections returns the latest CONNECTIONS_UPDATED envelope.
func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "visibility engine disabled")
		return
	}

	batch := s.engine.Latest()
	if batch == nil {
		json.NewEncoder(w).Encode(engine.ConnectionsUpdated{
			Type:        engine.MessageConnectionsUpdated,
			Connections: []engine.WireConnection{},
		})
		return
	}
	json.NewEncoder(w).Encode(batch.Message())
}

// elementsResponse is the JSON form of a classical element set, angles in
// degrees for readability.
type elementsResponse struct {
	AngularMomentum float64 `json:"angularMomentum"`
	Eccentricity    float64 `json:"eccentricity"`
	Inclination     float64 `json:"inclination"`
	RAAN            float64 `json:"raan"`
	ArgPeriapsis    float64 `json:"argPeriapsis"`
	TrueAnomaly     float64 `json:"trueAnomaly"`
	SemiMajorAxis   float64 `json:"semiMajorAxis"`
	PeriodSeconds   float64 `json:"periodSeconds"`
}

// handleElements converts a state vector to classical orbital elements.
// GET /api/v1/elements?rx=&ry=&rz=&vx=&vy=&vz=&mu=
func (s *Server) handleElements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	read := func(name string) (float64, error) {
		v := q.Get(name)
		if v == "" {
			return 0, fmt.Errorf("missing parameter %s", name)
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("invalid parameter %s=%q", name, v)
		}
		return f, nil
	}

	var pos, vel r3.Vec
	var err error
	for _, p := range []struct {
		name string
		dst  *float64
	}{
		{"rx", &pos.X}, {"ry", &pos.Y}, {"rz", &pos.Z},
		{"vx", &vel.X}, {"vy", &vel.Y}, {"vz", &vel.Z},
	} {
		if *p.dst, err = read(p.name); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	mu := orbit.EarthMu
	if v := q.Get("mu"); v != "" {
		if mu, err = read("mu"); err != nil || mu <= 0 {
			writeError(w, http.StatusBadRequest, "invalid parameter mu")
			return
		}
	}

	el, err := orbit.FromStateVector(pos, vel, mu)
	if err != nil {
		if errors.Is(err, orbit.ErrDegenerateOrbit) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	deg := func(rad float64) float64 { return rad * 180 / math.Pi }
	resp := elementsResponse{
		AngularMomentum: el.H,
		Eccentricity:    el.Eccentricity,
		Inclination:     deg(el.Inclination),
		RAAN:            deg(el.RAAN),
		ArgPeriapsis:    deg(el.ArgPeriapsis),
		TrueAnomaly:     deg(el.TrueAnomaly),
		SemiMajorAxis:   el.SemiMajorAxis,
	}
	if el.Eccentricity < 1 {
		resp.PeriodSeconds = el.Period(mu)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush passes through so the SSE stream survives the middleware wrap.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack passes through so WebSocket upgrades work behind the middleware.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}

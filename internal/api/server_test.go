package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orb/orblink/internal/auth"
	"github.com/orb/orblink/internal/engine"
	"github.com/orb/orblink/internal/lifecycle"
	"github.com/orb/orblink/internal/scene"
	"github.com/orb/orblink/internal/visibility"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testServer(t *testing.T, authCfg auth.Config) *Server {
	t.Helper()
	eng, err := engine.New(
		visibility.Config{UpdateInterval: 5 * time.Millisecond, Workers: 1},
		lifecycle.Config{},
		testLogger(),
	)
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	return NewServer("127.0.0.1:0", eng, scene.NewStore(), nil, testLogger(), authCfg)
}

func sceneDoc() string {
	return `{
		"type": "UPDATE_SCENE",
		"satellites": [
			{"id": "sat-a", "position": [7000, 0, 0]},
			{"id": "sat-b", "position": [7100, 500, 0]}
		],
		"bodies": [{"id": "earth", "position": [0, 0, 0], "radius": 6378.137}]
	}`
}

func TestSceneIngestAndConnections(t *testing.T) {
	srv := testServer(t, auth.Config{})

	req := httptest.NewRequest("POST", "/api/v1/scene", strings.NewReader(sceneDoc()))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var ack map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ack))
	assert.Equal(t, true, ack["accepted"])
	assert.Equal(t, 2.0, ack["satellites"])

	// The batch shows up once the cycle has run.
	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/connections", nil))
		if w.Code != http.StatusOK {
			return false
		}
		var resp engine.ConnectionsUpdated
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			return false
		}
		return resp.Type == engine.MessageConnectionsUpdated && len(resp.Connections) == 1
	}, 3*time.Second, 10*time.Millisecond)

	// Scene status reflects the stored snapshot.
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/scene", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var status map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, true, status["ingested"])
	assert.Equal(t, 2.0, status["satellites"])
}

func TestSceneRejectsMalformed(t *testing.T) {
	srv := testServer(t, auth.Config{})

	for _, body := range []string{"{not json", `{"type": "UPDATE_CONFIG"}`} {
		req := httptest.NewRequest("POST", "/api/v1/scene", strings.NewReader(body))
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)
	}
}

func TestSceneThrottled(t *testing.T) {
	eng, err := engine.New(
		visibility.Config{UpdateInterval: time.Minute, Workers: 1},
		lifecycle.Config{},
		testLogger(),
	)
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	srv := NewServer("127.0.0.1:0", eng, scene.NewStore(), nil, testLogger(), auth.Config{})

	first := httptest.NewRecorder()
	srv.Handler().ServeHTTP(first, httptest.NewRequest("POST", "/api/v1/scene", strings.NewReader(sceneDoc())))
	require.Equal(t, http.StatusAccepted, first.Code)

	second := httptest.NewRecorder()
	srv.Handler().ServeHTTP(second, httptest.NewRequest("POST", "/api/v1/scene", strings.NewReader(sceneDoc())))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
}

func TestConfigUpdate(t *testing.T) {
	srv := testServer(t, auth.Config{})

	body := `{"type": "UPDATE_CONFIG", "config": {"minElevationAngle": 10, "updateIntervalMs": 250}}`
	req := httptest.NewRequest("PUT", "/api/v1/config", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	bad := httptest.NewRecorder()
	srv.Handler().ServeHTTP(bad, httptest.NewRequest("PUT", "/api/v1/config", strings.NewReader("{oops")))
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestElementsEndpoint(t *testing.T) {
	srv := testServer(t, auth.Config{})

	// Circular orbit at 7000 km: v = sqrt(mu/r) ≈ 7.546 km/s, inclined to
	// keep the node vector well defined.
	query := "/api/v1/elements?rx=7000&ry=0&rz=0&vx=0&vy=5.3359&vz=5.3359"
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", query, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp elementsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.InDelta(t, 0, resp.Eccentricity, 1e-3)
	assert.InDelta(t, 7000, resp.SemiMajorAxis, 1.0)
	assert.InDelta(t, 45, resp.Inclination, 0.1)
	assert.Greater(t, resp.PeriodSeconds, 5000.0)
}

func TestElementsDegenerate(t *testing.T) {
	srv := testServer(t, auth.Config{})

	// Radial trajectory: velocity parallel to position, no angular momentum.
	query := "/api/v1/elements?rx=7000&ry=0&rz=0&vx=5&vy=0&vz=0"
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", query, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	missing := httptest.NewRecorder()
	srv.Handler().ServeHTTP(missing, httptest.NewRequest("GET", "/api/v1/elements?rx=7000", nil))
	assert.Equal(t, http.StatusBadRequest, missing.Code)
}

func TestAuthEnforced(t *testing.T) {
	srv := testServer(t, auth.Config{Enabled: true, Token: "sekrit"})

	// Probes stay public.
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	// API routes require the bearer token.
	denied := httptest.NewRecorder()
	srv.Handler().ServeHTTP(denied, httptest.NewRequest("GET", "/api/v1/connections", nil))
	assert.Equal(t, http.StatusUnauthorized, denied.Code)

	allowed := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/connections", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	srv.Handler().ServeHTTP(allowed, req)
	assert.Equal(t, http.StatusOK, allowed.Code)
}

func TestHealthEndpoints(t *testing.T) {
	srv := testServer(t, auth.Config{})

	for _, path := range []string{"/healthz", "/readyz"} {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	// With no engine, readiness reports unavailable but liveness stays green.
	disabled := NewServer("127.0.0.1:0", nil, nil, nil, testLogger(), auth.Config{})
	w := httptest.NewRecorder()
	disabled.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	disabled.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/scene", nil))
	assert.Equal(t, http.StatusOK, w.Code) // status endpoint still answers

	w = httptest.NewRecorder()
	disabled.Handler().ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/scene", strings.NewReader(sceneDoc())))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orb/orblink/internal/engine"
	"github.com/orb/orblink/internal/visibility"
)

// recordingSink captures protocol requests delivered over the socket.
type recordingSink struct {
	mu      sync.Mutex
	scenes  []visibility.Scene
	configs []engine.ConfigUpdate
}

func (s *recordingSink) UpdateScene(sc visibility.Scene) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenes = append(s.scenes, sc)
	return true
}

func (s *recordingSink) UpdateConfig(upd engine.ConfigUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = append(s.configs, upd)
}

func (s *recordingSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scenes), len(s.configs)
}

func dialTestWS(t *testing.T, handler *Handler, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// TestWebSocketFeed: the first frame is metadata, followed by the batch
// envelope.
func TestWebSocketFeed(t *testing.T) {
	handler := NewHandler(&staticFeed{batch: testBatch()}, nil, nil, testStreamConfig(), testLogger())
	conn := dialTestWS(t, handler, "?interval=100")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var meta map[string]any
	if err := conn.ReadJSON(&meta); err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if meta["type"] != "metadata" {
		t.Fatalf("first frame type = %v, want metadata", meta["type"])
	}
	if meta["session"] == "" {
		t.Error("metadata missing session")
	}

	var update map[string]any
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("read batch: %v", err)
	}
	if update["type"] != "CONNECTIONS_UPDATED" {
		t.Fatalf("second frame type = %v, want CONNECTIONS_UPDATED", update["type"])
	}
	conns := update["connections"].([]any)
	if len(conns) != 1 {
		t.Fatalf("connections = %v, want 1 entry", conns)
	}
}

// TestWebSocketDispatch: UPDATE_SCENE and UPDATE_CONFIG envelopes sent by the
// peer reach the sink; garbage does not kill the stream.
func TestWebSocketDispatch(t *testing.T) {
	sink := &recordingSink{}
	handler := NewHandler(&staticFeed{batch: testBatch()}, sink, nil, testStreamConfig(), testLogger())
	conn := dialTestWS(t, handler, "?interval=100")

	sceneDoc := map[string]any{
		"type":       "UPDATE_SCENE",
		"satellites": []map[string]any{{"id": "iss", "position": []float64{6778, 0, 0}}},
	}
	if err := conn.WriteJSON(sceneDoc); err != nil {
		t.Fatal(err)
	}

	configDoc := map[string]any{
		"type":   "UPDATE_CONFIG",
		"config": map[string]any{"minElevationAngle": 10.0, "updateIntervalMs": 250},
	}
	if err := conn.WriteJSON(configDoc); err != nil {
		t.Fatal(err)
	}

	// Malformed frame: logged and dropped, stream stays up.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s, c := sink.counts(); s == 1 && c == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	scenes, configs := sink.counts()
	if scenes != 1 || configs != 1 {
		t.Fatalf("sink received %d scenes, %d configs; want 1 each", scenes, configs)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.scenes[0].Satellites[0].ID != "iss" {
		t.Errorf("scene satellite = %+v", sink.scenes[0].Satellites)
	}
	upd := sink.configs[0]
	if upd.MinElevationDeg == nil || *upd.MinElevationDeg != 10 {
		t.Errorf("config min elevation = %v, want 10", upd.MinElevationDeg)
	}
	if upd.UpdateInterval == nil || *upd.UpdateInterval != 250*time.Millisecond {
		t.Errorf("config interval = %v, want 250ms", upd.UpdateInterval)
	}

	// Stream must still be alive after the malformed frame.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame json.RawMessage
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("stream died after malformed frame: %v", err)
	}
}

// TestWebSocketInvalidInterval rejects bad query parameters before upgrading.
func TestWebSocketInvalidInterval(t *testing.T) {
	handler := NewHandler(&staticFeed{}, nil, nil, testStreamConfig(), testLogger())
	req := httptest.NewRequest("GET", "/api/v1/stream/ws?interval=1", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	handler.HandleWebSocket(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

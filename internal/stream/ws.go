package stream

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/orb/orblink/internal/engine"
	"github.com/orb/orblink/internal/metrics"
	"github.com/orb/orblink/internal/visibility"
)

// Sink receives protocol requests arriving over a bidirectional stream.
type Sink interface {
	UpdateScene(visibility.Scene) bool
	UpdateConfig(engine.ConfigUpdate)
}

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	// Pings must be spaced closer than the pong deadline.
	wsPingPeriod = 50 * time.Second

	wsMaxMessageBytes = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The feed carries no credentials and the API layer owns auth, so any
	// origin may subscribe.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWebSocket serves the connection feed over a WebSocket, and accepts
// UPDATE_SCENE / UPDATE_CONFIG envelopes from the peer.
// GET /api/v1/stream/ws?interval=500
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	interval, err := h.pushInterval(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ip := h.clientIP(r)
	if !h.limiter.acquire(ip) {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("websocket rate limit exceeded", "remote_ip", ip)
		w.Header().Set("Retry-After", "30")
		writeJSONError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return
	}
	defer h.limiter.release(ip)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.IncStreamErrors("upgrade_error")
		h.logger.Warn("websocket upgrade failed", "remote_ip", ip, "error", err)
		return
	}
	defer conn.Close()

	session := uuid.NewString()
	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()
	startTime := time.Now()
	h.logger.Info("websocket connected", "session", session, "remote_ip", ip, "interval_ms", interval.Milliseconds())

	defer func() {
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("websocket disconnected",
			"session", session,
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	if err := writeWSJSON(conn, h.metadata(session, interval)); err != nil {
		metrics.IncStreamErrors("send_error")
		return
	}

	// Read pump: consume protocol requests until the peer goes away.
	done := make(chan struct{})
	go h.readPump(conn, session, done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	pingTicker := time.NewTicker(wsPingPeriod)
	defer pingTicker.Stop()

	var lastSent time.Time
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return

		case <-ticker.C:
			batch := h.feed.Latest()
			if batch == nil || !batch.At.After(lastSent) {
				continue
			}
			if err := writeWSJSON(conn, batch.Message()); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("websocket send error", "session", session, "error", err)
				return
			}
			lastSent = batch.At

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				metrics.IncStreamErrors("send_error")
				return
			}
		}
	}
}

// readPump dispatches inbound protocol envelopes. Closing done tears the
// write loop down.
func (h *Handler) readPump(conn *websocket.Conn, session string, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(wsMaxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", "session", session, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		h.dispatch(session, data)
	}
}

// dispatch routes one inbound envelope by its type tag. Malformed or unknown
// messages are logged and dropped; the stream survives.
func (h *Handler) dispatch(session string, data []byte) {
	var envelope struct {
		Type engine.MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		metrics.IncStreamErrors("bad_message")
		h.logger.Warn("websocket malformed message", "session", session, "error", err)
		return
	}

	if h.sink == nil {
		h.logger.Debug("websocket request ignored, read-only feed", "session", session, "type", string(envelope.Type))
		return
	}

	switch envelope.Type {
	case engine.MessageUpdateScene:
		var req engine.UpdateSceneRequest
		if err := json.Unmarshal(data, &req); err != nil {
			metrics.IncStreamErrors("bad_message")
			h.logger.Warn("websocket malformed scene", "session", session, "error", err)
			return
		}
		scene := req.Scene()
		if h.scenes != nil {
			h.scenes.Set(scene, time.Now())
		}
		if !h.sink.UpdateScene(scene) {
			h.logger.Debug("scene update dropped by throttle", "session", session)
		}

	case engine.MessageUpdateConfig:
		var req engine.UpdateConfigRequest
		if err := json.Unmarshal(data, &req); err != nil {
			metrics.IncStreamErrors("bad_message")
			h.logger.Warn("websocket malformed config", "session", session, "error", err)
			return
		}
		h.sink.UpdateConfig(req.Config.Update())

	default:
		metrics.IncStreamErrors("bad_message")
		h.logger.Warn("websocket unknown message type", "session", session, "type", string(envelope.Type))
	}
}

func writeWSJSON(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(v); err != nil {
		return err
	}
	metrics.IncStreamMessages()
	return nil
}

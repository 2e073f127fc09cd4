package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/devnet-ops/compliance-ai/internal/metrics"
)

// WebSocket message types
const (
	MessageTypeEvent     = "event"
	MessageTypeComplete  = "complete"
	MessageTypeError     = "error"
	MessageTypeHeartbeat = "heartbeat"
)

// WSRequest is an incoming chat message.
type WSRequest struct {
	Prompt   string `json:"prompt"`
	ThreadID string `json:"thread_id,omitempty"`
}

// WSMessage is an outgoing frame: one engine event, a turn terminator, an
// error, or a heartbeat.
type WSMessage struct {
	Type      string       `json:"type"`
	Event     *streamFrame `json:"event,omitempty"`
	ThreadID  string       `json:"thread_id,omitempty"`
	Error     string       `json:"error,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// WSConnection is one active chat connection. A connection is pinned to a
// single thread for its lifetime.
type WSConnection struct {
	conn     *websocket.Conn
	server   *Server
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	threadID string
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin enforces the configured origin allowlist. Requests without an
// Origin header (non-browser clients) are accepted.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	wsConn := &WSConnection{
		conn:     conn,
		server:   s,
		ctx:      ctx,
		cancel:   cancel,
		threadID: uuid.NewString(),
	}

	metrics.WebSocketConnections.Inc()
	s.log.Info("websocket connected", zap.String("thread_id", wsConn.threadID))
	wsConn.handle()
}

func (wsc *WSConnection) handle() {
	defer func() {
		wsc.cancel()
		wsc.conn.Close()
		metrics.WebSocketConnections.Dec()
		wsc.server.log.Info("websocket closed", zap.String("thread_id", wsc.threadID))
	}()

	go wsc.heartbeat()

	for {
		select {
		case <-wsc.ctx.Done():
			return
		default:
			var req WSRequest
			if err := wsc.conn.ReadJSON(&req); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					wsc.server.log.Warn("websocket read error", zap.Error(err))
				}
				return
			}
			metrics.WebSocketMessagesTotal.WithLabelValues("inbound").Inc()

			if req.Prompt == "" {
				wsc.sendError("prompt is required")
				continue
			}
			if req.ThreadID != "" {
				wsc.threadID = req.ThreadID
			}
			wsc.runTurn(req.Prompt)
		}
	}
}

// runTurn streams one engine turn back over the connection.
func (wsc *WSConnection) runTurn(prompt string) {
	for ev := range wsc.server.engine.StreamTurn(wsc.ctx, wsc.threadID, prompt) {
		frame := streamFrame{StreamEvent: ev, ThreadID: wsc.threadID}
		wsc.send(&WSMessage{
			Type:      MessageTypeEvent,
			Event:     &frame,
			Timestamp: time.Now(),
		})
	}
	wsc.send(&WSMessage{
		Type:      MessageTypeComplete,
		ThreadID:  wsc.threadID,
		Timestamp: time.Now(),
	})
}

func (wsc *WSConnection) send(msg *WSMessage) error {
	wsc.mu.Lock()
	defer wsc.mu.Unlock()

	metrics.WebSocketMessagesTotal.WithLabelValues("outbound").Inc()
	wsc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return wsc.conn.WriteJSON(msg)
}

func (wsc *WSConnection) sendError(errMsg string) {
	wsc.send(&WSMessage{
		Type:      MessageTypeError,
		Error:     errMsg,
		Timestamp: time.Now(),
	})
}

func (wsc *WSConnection) heartbeat() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-wsc.ctx.Done():
			return
		case <-ticker.C:
			wsc.send(&WSMessage{
				Type:      MessageTypeHeartbeat,
				Timestamp: time.Now(),
			})
		}
	}
}

package domain

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// handleWebSocket upgrades the connection and serves one JSON-RPC message per
// text frame. Replies are written to the same socket in request order.
func (t *HTTPTransport) handleWebSocket(w http.ResponseWriter, r *http.Request, handler MessageHandler) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		t.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	t.socketsMu.Lock()
	t.sockets[id] = conn
	t.socketsMu.Unlock()

	defer func() {
		t.socketsMu.Lock()
		delete(t.sockets, id)
		t.socketsMu.Unlock()
		_ = conn.Close()
		t.logger.Info("websocket closed", zap.String("connection_id", id))
	}()

	conn.SetReadLimit(maxMessageBytes)
	t.logger.Info("websocket connected", zap.String("connection_id", id), zap.String("remote", r.RemoteAddr))

	ctx := r.Context()
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Warn("websocket read failed", zap.String("connection_id", id), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		response := handler.HandleMessage(ctx, data)
		if response == nil {
			continue
		}

		payload, err := json.Marshal(response)
		if err != nil {
			t.logger.Error("failed to marshal websocket reply", zap.Error(err))
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			t.logger.Warn("websocket write failed", zap.String("connection_id", id), zap.Error(err))
			return
		}
	}
}

// closeSockets closes every open WebSocket connection.
// http.Server.Shutdown does not track hijacked connections.
func (t *HTTPTransport) closeSockets() {
	t.socketsMu.Lock()
	defer t.socketsMu.Unlock()

	for id, conn := range t.sockets {
		// WriteControl may run concurrently with the connection's own writer
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		delete(t.sockets, id)
	}
}

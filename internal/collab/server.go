package collab

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syncpad/backend/internal/auth"
	"github.com/syncpad/backend/internal/store"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for development
		// In production, validate against allowed origins
		return true
	},
}

// Server handles WebSocket connections for collaboration
type Server struct {
	engine *Engine
	db     store.Store
}

// NewServer creates a new collaboration server
func NewServer(engine *Engine, db store.Store) *Server {
	return &Server{engine: engine, db: db}
}

// HandleWebSocket authenticates the handshake, upgrades the connection and
// starts the session's reader and writer goroutines.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, err := auth.Authenticate(r, s.db)
	if err != nil {
		http.Error(w, "Authentication error", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade WebSocket", "error", err)
		return
	}

	sess := NewSession(user, conn)
	slog.Info("client connected", "user", user.ID, "session", sess.ID)

	go s.writePump(conn, sess)
	go s.readPump(conn, sess)
}

// readPump reads messages from the WebSocket connection and dispatches them
func (s *Server) readPump(conn *websocket.Conn, sess *Session) {
	ctx := context.Background()
	defer func() {
		s.engine.Disconnect(ctx, sess)
		slog.Info("client disconnected", "user", sess.UserID, "session", sess.ID)
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("WebSocket error", "user", sess.UserID, "error", err)
			}
			return
		}
		s.dispatch(ctx, sess, message)
	}
}

// dispatch validates an inbound frame and routes it to the engine. A
// malformed frame earns the sender an error event; it never affects peers.
func (s *Server) dispatch(ctx context.Context, sess *Session, message []byte) {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		sess.TrySend(Encode(MsgError, ErrorPayload{Message: "malformed message"}))
		return
	}

	switch env.Type {
	case MsgJoinDocument:
		var p JoinPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.DocumentID == "" {
			sess.TrySend(Encode(MsgError, ErrorPayload{Message: "documentId required"}))
			return
		}
		s.engine.HandleJoin(ctx, sess, p.DocumentID)

	case MsgLeaveDocument:
		var p JoinPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.DocumentID == "" {
			return
		}
		s.engine.HandleLeave(ctx, sess, p.DocumentID)

	case MsgDocumentChange:
		var p ChangePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.DocumentID == "" {
			sess.TrySend(Encode(MsgError, ErrorPayload{Message: "documentId and patches required"}))
			return
		}
		s.engine.ApplyChange(ctx, sess, p.DocumentID, p.Patches)

	case MsgCursorPosition:
		var p CursorPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.DocumentID == "" {
			return
		}
		s.engine.UpdateCursor(ctx, sess, p.DocumentID, p.CursorPosition, p.Selection)

	case MsgSaveOfflineEdit:
		var p OfflineSavePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.DocumentID == "" {
			sess.TrySend(Encode(MsgError, ErrorPayload{Message: "documentId and patches required"}))
			return
		}
		s.engine.SaveOfflineEdit(ctx, sess, p.DocumentID, p.Patches, p.Timestamp)

	case MsgSyncOfflineEdits:
		var p JoinPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.DocumentID == "" {
			sess.TrySend(Encode(MsgError, ErrorPayload{Message: "documentId required"}))
			return
		}
		s.engine.SyncOfflineEdits(ctx, sess, p.DocumentID)

	default:
		slog.Debug("ignoring unknown message type", "type", env.Type, "user", sess.UserID)
	}
}

// writePump drains the session's outbound queue onto the connection
func (s *Server) writePump(conn *websocket.Conn, sess *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message := <-sess.Outbound():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-sess.Closed():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.HandleWebSocket(w, r)
}

// RoomStats returns statistics about active rooms
func (s *Server) RoomStats() map[string]interface{} {
	return map[string]interface{}{
		"roomCount": s.engine.Rooms().RoomCount(),
	}
}

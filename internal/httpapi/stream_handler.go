package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Ap3pp3rs94/issuewatch/internal/httpauth"
	"github.com/Ap3pp3rs94/issuewatch/internal/registry"
	"github.com/Ap3pp3rs94/issuewatch/internal/stream"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 20 * time.Second
)

// streamHandler serves GET /api/projects/{slug}/stream: a WebSocket feed of
// newly ingested events for one project, fed by the in-process stream.Hub
// rather than by polling a downstream API.
type streamHandler struct {
	registry registry.Registry
	hub      *stream.Hub
	upgrader websocket.Upgrader
}

func newStreamHandler(reg registry.Registry, hub *stream.Hub) *streamHandler {
	return &streamHandler{
		registry: reg,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Dashboard origin enforcement belongs to the identity/gateway
			// collaborator in front of this service, out of this spec's scope.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *streamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	userID := httpauth.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	proj, err := h.registry.GetProjectBySlug(r.Context(), slug, userID)
	if err != nil {
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, cancel := h.hub.Subscribe(proj.ID)
	defer cancel()

	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if err := conn.WriteJSON(map[string]any{"type": "hello", "project_id": proj.ID}); err != nil {
		return
	}

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	go discardReads(conn, done)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(map[string]any{"type": "event", "event": ev}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// discardReads drains and ignores client frames; WebSocket connections must
// be read from to process control frames (ping/pong/close), even when the
// protocol here is server-push only.
func discardReads(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

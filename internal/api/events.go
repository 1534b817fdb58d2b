package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/terra-clan/challenge-engine/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamMessage is one frame sent to event stream clients
type StreamMessage struct {
	Type  string        `json:"type"`
	Data  string        `json:"data,omitempty"`
	Event *models.Event `json:"event,omitempty"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	if s.events == nil {
		respondError(w, http.StatusServiceUnavailable, "not_available", "event stream not configured")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := s.events.Subscribe(ctx, project)
	if err != nil {
		s.logger.Errorw("failed to subscribe to events", "project", project, "error", err)
		respondError(w, http.StatusServiceUnavailable, "not_available", "failed to subscribe to events")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("failed to upgrade to websocket", "error", err)
		return
	}
	defer conn.Close()

	s.logger.Infow("event stream connected", "project", project, "remote_addr", r.RemoteAddr)

	if err := s.sendStreamMessage(conn, StreamMessage{Type: "connected", Data: project}); err != nil {
		return
	}

	// Client frames are only read to notice the close
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debugw("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Infow("event stream disconnected", "project", project)
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := s.sendStreamMessage(conn, StreamMessage{Type: "event", Event: &event}); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) sendStreamMessage(conn *websocket.Conn, msg StreamMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Debugw("failed to send stream message", "error", err)
		return err
	}
	return nil
}

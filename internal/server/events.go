package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/lumen/internal/device"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size accepted from a watcher
	maxMessageSize = 512

	// Events buffered per watcher before new ones are dropped
	eventBuffer = 32
)

// handleEvents streams device events to a WebSocket client as JSON text
// messages. Clients only listen; anything they send is discarded.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		s.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	remote := r.RemoteAddr
	s.logger.Info("Event watcher connected", zap.String("remote_addr", remote))

	events, unsubscribe := s.dev.Events().Subscribe(eventBuffer)
	defer unsubscribe()

	// Reader: handles pongs and notices the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(maxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		s.logger.Info("Event watcher disconnected", zap.String("remote_addr", remote))
	}()

	for {
		select {
		case <-closed:
			return
		case <-s.base.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := s.writeEvent(conn, e); err != nil {
				s.logger.Debug("Failed to send event", zap.String("remote_addr", remote), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, e device.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(e)
}

package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"filedrop/internal/drop"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Room for a full chat message with every rune JSON-escaped as a
	// surrogate pair (12 bytes), plus the frame envelope.
	maxMsgSize = drop.MaxMessageLength*12 + 1024
)

var errConnClosed = errors.New("websocket closed")

// wsConn adapts a gorilla connection to drop.Conn. Writes are serialized
// because the coordinator and the ping loop both write.
type wsConn struct {
	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool
}

func (c *wsConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return c.ws.Close()
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request, session string) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "session", session, "error", err)
		return
	}
	conn := &wsConn{ws: ws}
	addr := s.clientAddr(r)

	// The request context ends once the handler returns, so the channel runs
	// on its own.
	ctx := context.WithoutCancel(r.Context())

	var coordinator *drop.Coordinator
	var connection *drop.Connection
	err = s.withCoordinator(session, func(c *drop.Coordinator) error {
		var err error
		connection, err = c.Connect(ctx, conn, addr)
		coordinator = c
		return err
	})
	if err != nil {
		s.logger.Error("registering connection", "session", session, "error", err)
		_ = conn.Close(websocket.CloseInternalServerErr, "Session unavailable.")
		return
	}

	done := make(chan struct{})
	go s.pingLoop(conn, done)
	s.readPump(ctx, coordinator, connection, ws)
	close(done)
}

// readPump feeds frames into the coordinator until the channel fails, then
// reports the departure.
func (s *Server) readPump(ctx context.Context, coordinator *drop.Coordinator, connection *drop.Connection, ws *websocket.Conn) {
	defer func() {
		if err := coordinator.Disconnect(ctx, connection); err != nil {
			s.logger.Error("recording departure", "conn", connection.ID(), "error", err)
		}
		ws.Close()
	}()

	ws.SetReadLimit(maxMsgSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read", "conn", connection.ID(), "error", err)
			}
			return
		}
		if err := coordinator.HandleMessage(ctx, connection, payload); err != nil {
			// The session expired underneath this channel.
			return
		}
	}
}

func (s *Server) pingLoop(conn *wsConn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/shellmux/shellmux/internal/session"
)

// CloseSessionNotFound is sent when attaching to an unknown session id.
const CloseSessionNotFound = 4404

const detailChildUnavailable = "进程不可用，无法写入数据"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // cross-origin front-end
	},
}

// wsMessage is the envelope for both directions. Unknown types are ignored.
type wsMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

// wsSubscriber adapts a WebSocket connection to the session subscriber
// interface. gorilla/websocket requires a single writer, so all writes go
// through one mutex.
type wsSubscriber struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *wsSubscriber) send(msg wsMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(msg)
}

// SendOutput delivers terminal bytes as an output message.
func (s *wsSubscriber) SendOutput(data string) error {
	return s.send(wsMessage{Type: "output", Data: data})
}

// WSHandler handles the per-session WebSocket endpoint.
type WSHandler struct {
	mgr *session.Manager

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(mgr *session.Manager) *WSHandler {
	return &WSHandler{
		mgr:   mgr,
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// trackConn registers a WebSocket connection for shutdown tracking.
func (h *WSHandler) trackConn(conn *websocket.Conn) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
}

// untrackConn removes a WebSocket connection from shutdown tracking.
func (h *WSHandler) untrackConn(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}

// Shutdown closes all active WebSocket connections to allow graceful server
// shutdown.
func (h *WSHandler) Shutdown() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	if len(conns) > 0 {
		log.Printf("ws: closing %d active connections", len(conns))
	}
	for _, conn := range conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

// Session upgrades the connection and attaches it to the session as a
// subscriber.
func (h *WSHandler) Session(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}
	h.trackConn(conn)
	defer func() {
		h.untrackConn(conn)
		conn.Close()
	}()

	sub := &wsSubscriber{conn: conn}
	if _, err := h.mgr.Attach(id, sub); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(CloseSessionNotFound, "session not found"),
				time.Now().Add(time.Second))
			return
		}
		// Spawn failure: surface on the output channel, then drop.
		sub.SendOutput("\r\n错误: " + err.Error() + "\r\n")
		return
	}
	defer h.mgr.Detach(id, sub)

	// Protocol-level keepalive alongside the app-level ping message.
	const pongWait = 60 * time.Second
	const pingPeriod = (pongWait * 9) / 10
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sub.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second))
				sub.writeMu.Unlock()
				if err != nil {
					return
				}
			case <-stopPing:
				return
			}
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case "input":
			if err := h.mgr.SendInput(id, msg.Data); err != nil {
				reason := err.Error()
				if errors.Is(err, session.ErrChildUnavailable) {
					reason = detailChildUnavailable
				}
				sub.SendOutput("\r\n错误: " + reason + "\r\n")
				return
			}
		case "ping":
			if err := sub.send(wsMessage{Type: "pong"}); err != nil {
				return
			}
		case "resize":
			if msg.Cols > 0 && msg.Rows > 0 {
				h.mgr.Resize(id, msg.Cols, msg.Rows)
			}
		default:
			// Unknown message types are ignored.
		}
	}
}

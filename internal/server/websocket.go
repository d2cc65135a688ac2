// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/time/rate"

	"github.com/jeranaias/rigrun-chat/internal/bridge"
	"github.com/jeranaias/rigrun-chat/internal/session"
)

// wsConn serializes outbound events on one websocket.
type wsConn struct {
	conn *websocket.Conn
	ctx  context.Context

	mu sync.Mutex
}

// send writes one event as a JSON text frame.
func (c *wsConn) send(ev bridge.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.conn, ev)
}

func (c *wsConn) sendError(message string) {
	if err := c.send(bridge.Event{Type: bridge.EventError, Message: message}); err != nil {
		log.Printf("BRIDGE_SEND_FAILED | type=error err=%v", err)
	}
}

// handleWebSocket upgrades the request and bridges one chat panel.
//
// On connect the panel named by ?panel= is opened (or created), a ready
// event carries its id and model, and the live history is replayed. Each
// inbound text frame is one bridge.Command. The panel survives disconnect.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP := GetClientIP(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.config.AllowedOrigins,
	})
	if err != nil {
		// Accept has already written the HTTP error.
		log.Printf("BRIDGE_ACCEPT_FAILED | ip=%s err=%v", clientIP, err)
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()
	defer conn.CloseNow()

	conn.SetReadLimit(MaxMessageSize)
	ctx := r.Context()
	c := &wsConn{conn: conn, ctx: ctx}

	panel, created, err := s.sessions.Open(r.URL.Query().Get("panel"), nil)
	if err != nil {
		log.Printf("BRIDGE_OPEN_FAILED | ip=%s err=%v", clientIP, err)
		c.sendError(err.Error())
		conn.Close(websocket.StatusTryAgainLater, "no panel available")
		return
	}

	ready := bridge.Event{Type: bridge.EventReady, Panel: panel.ID, Model: panel.Engine.Model()}
	if err := c.send(ready); err != nil {
		log.Printf("BRIDGE_SEND_FAILED | type=ready err=%v", err)
		return
	}

	sink := bridge.NewEventSink(c.send)
	if err := s.sessions.Attach(panel.ID, sink); err != nil {
		c.sendError(err.Error())
		conn.Close(websocket.StatusInternalError, "panel closed")
		return
	}
	defer s.sessions.Release(panel.ID, sink)

	log.Printf("BRIDGE_CONNECT | panel=%s ip=%s created=%t", panel.ID, clientIP, created)

	go func() {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		panel.Bridge.CheckModelInstalled(checkCtx, panel.Engine.Model())
	}()

	err = s.readLoop(ctx, c, panel)
	status := websocket.CloseStatus(err)
	switch {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		log.Printf("BRIDGE_DISCONNECT | panel=%s", panel.ID)
	case errors.Is(err, context.Canceled):
		log.Printf("BRIDGE_DISCONNECT | panel=%s reason=shutdown", panel.ID)
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	default:
		log.Printf("BRIDGE_DISCONNECT | panel=%s status=%d err=%v", panel.ID, status, err)
	}
}

// readLoop dispatches inbound commands until the connection ends.
func (s *Server) readLoop(ctx context.Context, c *wsConn, panel *session.Panel) error {
	limiter := rate.NewLimiter(rate.Limit(s.config.RateLimit), DefaultBurst)

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			c.sendError("binary messages are not supported")
			continue
		}
		if !limiter.Allow() {
			log.Printf("BRIDGE_RATE_LIMITED | panel=%s", panel.ID)
			c.sendError("Too many messages; slow down.")
			continue
		}

		cmd, err := bridge.DecodeCommand(data)
		if err != nil {
			c.sendError(err.Error())
			continue
		}

		panel.Touch(time.Now())
		// Turns run on the server context so they finish while the panel
		// reconnects.
		if err := panel.Bridge.Handle(s.baseCtx, cmd); err != nil {
			c.sendError(err.Error())
		}
	}
}

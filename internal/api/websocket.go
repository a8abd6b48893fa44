package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Websocket timing and message limits.
const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxMsgSize = 1 << 12
)

// Websocket frame types.
const (
	wsTypeState = "state"
	wsTypeEvent = "event"
)

// wsEventBuffer bounds how many events a slow client may fall behind
// before events are dropped for it.
const wsEventBuffer = 32

// wsEnvelope is the frame sent to websocket clients. Data is a
// [host.State] for state frames and an [events.Event] for event frames.
type wsEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket streams the published state, once on connect and then
// after every change, interleaved with operational events when an event
// bus is configured.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	updates, unsubscribe := s.ext.Subscribe()
	defer unsubscribe()

	// A nil bus hands out a channel that never delivers.
	evts := s.events.Subscribe(wsEventBuffer)
	defer s.events.Unsubscribe(evts)

	conn.SetReadLimit(wsMaxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// The reader only drains control frames and detects disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	send := func(typ string, data any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(wsEnvelope{Type: typ, Data: data})
	}

	if err := send(wsTypeState, s.ext.State()); err != nil {
		s.logger.Debug("websocket initial write failed", "error", err)
		return
	}
	s.logger.Debug("websocket client connected", "remote", r.RemoteAddr)

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if err := send(wsTypeState, st); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		case ev, ok := <-evts:
			if !ok {
				return
			}
			if err := send(wsTypeEvent, ev); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}

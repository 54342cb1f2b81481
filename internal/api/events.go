package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/talespin/internal/observe"
)

// eventWriteTimeout bounds the delivery of a single event to a client.
const eventWriteTimeout = 10 * time.Second

// handleEvents streams session events as JSON text messages until the
// client disconnects or the session closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	// Subscribe before the handshake completes so no event published after
	// the client is connected can be missed.
	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept already wrote the error response.
		return
	}
	defer conn.CloseNow()

	s.metrics.EventSubscribers.Add(r.Context(), 1)
	defer s.metrics.EventSubscribers.Add(context.WithoutCancel(r.Context()), -1)

	log := observe.Logger(r.Context()).With("session_id", sess.ID())
	log.Debug("event subscriber connected")

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			log.Debug("event subscriber disconnected")
			return
		case ev, open := <-events:
			if !open {
				conn.Close(websocket.StatusGoingAway, "session closed")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Warn("event delivery failed", "err", err)
				}
				return
			}
		}
	}
}

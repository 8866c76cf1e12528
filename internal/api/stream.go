package api

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// streamReply acknowledges one ingested event.
type streamReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// handleStream accepts telemetry events over a websocket. Every text or
// binary message is scored like a message from the event stream and
// answered with a streamReply.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		s.log.Debugw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.log.Infow("stream client connected", "remote", r.RemoteAddr)
	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debugw("stream client read failed", "remote", r.RemoteAddr, "error", err)
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}

		reply := streamReply{OK: true}
		if err := s.svc.HandleEvent(r.Context(), msg); err != nil {
			reply = streamReply{Error: err.Error()}
		}
		if err := conn.WriteJSON(reply); err != nil {
			return
		}
	}
}

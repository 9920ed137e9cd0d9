package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// registerEventRoutes exposes /api/events, a server-sent event stream
// multiplexing chat, presence and call updates so the UI needs one
// connection for all live state.
func (s *Server) registerEventRoutes(mux *http.ServeMux) {
	handleGet(mux, "/api/events", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.authed(w, r); !ok {
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		chatCh, cancelChat := s.d.Chat.Subscribe()
		defer cancelChat()
		peerCh, cancelPeers := s.d.Peers.Subscribe()
		defer cancelPeers()
		callCh, cancelCall := s.subscribeCallState()
		defer cancelCall()

		emit := func(event string, v any) bool {
			data, err := json.Marshal(v)
			if err != nil {
				return true
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
				return false
			}
			flusher.Flush()
			return true
		}

		// Initial call state so the UI doesn't wait for a transition.
		if s.d.Call != nil && !emit("call", s.d.Call.State()) {
			return
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, ok := <-chatCh:
				if !ok {
					return
				}
				if !emit("chat", ev) {
					return
				}
			case ev, ok := <-peerCh:
				if !ok {
					return
				}
				if !emit("presence", ev) {
					return
				}
			case st, ok := <-callCh:
				if !ok {
					return
				}
				if !emit("call", st) {
					return
				}
			}
		}
	})
}

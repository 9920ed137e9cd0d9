package server

import (
	"net/http"
	"sort"

	"github.com/aurachat/aura/internal/presence"
)

func (s *Server) registerPeerRoutes(mux *http.ServeMux) {
	// GET /api/peers — the sidebar: every known peer plus unread counts.
	handleGet(mux, "/api/peers", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.authed(w, r); !ok {
			return
		}
		table := s.d.Peers.List()
		unread, err := s.d.Chat.UnreadCounts()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		type entry struct {
			presence.Peer
			Unread int `json:"unread"`
		}
		peers := make([]entry, 0, len(table))
		for id, p := range table {
			if id == s.d.SelfID {
				continue
			}
			peers = append(peers, entry{Peer: p, Unread: unread[id]})
		}
		// Assistant first, then online before offline, then by name.
		sort.Slice(peers, func(i, j int) bool {
			a, b := peers[i], peers[j]
			if a.Assistant != b.Assistant {
				return a.Assistant
			}
			if a.Online != b.Online {
				return a.Online
			}
			return a.Username < b.Username
		})
		writeJSON(w, map[string]any{"peers": peers})
	})
}

func (s *Server) registerMessageRoutes(mux *http.ServeMux) {
	// GET /api/messages?peer=<id>&limit=<n>
	handleGet(mux, "/api/messages", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.authed(w, r); !ok {
			return
		}
		peer := r.URL.Query().Get("peer")
		if peer == "" {
			http.Error(w, "peer query parameter required", http.StatusBadRequest)
			return
		}
		limit := atoiOrZero(r.URL.Query().Get("limit"))
		msgs, err := s.d.Chat.Conversation(peer, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"messages": msgs})
	})

	handlePost(mux, "/api/messages/send", func(w http.ResponseWriter, r *http.Request, req struct {
		To       string `json:"to"`
		Content  string `json:"content"`
		Type     string `json:"type"`
		MediaURL string `json:"media_url"`
	}) {
		if _, ok := s.authed(w, r); !ok {
			return
		}
		if req.To == "" || (req.Content == "" && req.MediaURL == "") {
			http.Error(w, "missing to or content", http.StatusBadRequest)
			return
		}
		msg, err := s.d.Chat.Send(r.Context(), req.To, req.Content, req.Type, req.MediaURL)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"message": msg})
	})

	handlePost(mux, "/api/messages/read", func(w http.ResponseWriter, r *http.Request, req struct {
		Peer string `json:"peer"`
	}) {
		if _, ok := s.authed(w, r); !ok {
			return
		}
		if req.Peer == "" {
			http.Error(w, "missing peer", http.StatusBadRequest)
			return
		}
		if err := s.d.Chat.MarkRead(r.Context(), req.Peer); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	})

	// GET /api/messages/search?q=<query>&limit=<n>
	handleGet(mux, "/api/messages/search", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.authed(w, r); !ok {
			return
		}
		q := r.URL.Query().Get("q")
		if q == "" {
			http.Error(w, "q query parameter required", http.StatusBadRequest)
			return
		}
		msgs, err := s.d.Chat.Search(q, atoiOrZero(r.URL.Query().Get("limit")))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"messages": msgs})
	})

	handlePost(mux, "/api/messages/clear", func(w http.ResponseWriter, r *http.Request, req struct {
		Peer string `json:"peer"`
	}) {
		if _, ok := s.authed(w, r); !ok {
			return
		}
		if req.Peer == "" {
			http.Error(w, "missing peer", http.StatusBadRequest)
			return
		}
		if err := s.d.Chat.Clear(req.Peer); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	})
}

func atoiOrZero(s string) int {
	n := 0
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return 0
		}
		n = n*10 + int(ch-'0')
	}
	return n
}

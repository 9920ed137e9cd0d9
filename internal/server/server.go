// Package server exposes the local HTTP API the UI talks to: auth, peers,
// messages, call control, dictation and a server-sent event stream.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/aurachat/aura/internal/call"
	"github.com/aurachat/aura/internal/chat"
	"github.com/aurachat/aura/internal/dictation"
	"github.com/aurachat/aura/internal/presence"
	"github.com/aurachat/aura/internal/profile"
)

// sessionCookie carries the login token between requests.
const sessionCookie = "aura_session"

// Deps wires the server to the rest of the app. Hub is optional; when set it
// is mounted at /relay so this process can host the WebSocket relay for
// other peers.
type Deps struct {
	SelfID      string
	AssistantID string
	Profiles    *profile.Manager
	Peers       *presence.Table
	Chat        *chat.Manager
	Call        *call.Session
	Recorder    *dictation.Recorder
	Hub         http.Handler
}

// Server is the HTTP API.
type Server struct {
	d Deps

	mu         sync.Mutex
	callEvents []chan call.State
}

// New builds the server and registers its routes on mux.
func New(mux *http.ServeMux, d Deps) *Server {
	s := &Server{d: d}

	if d.Call != nil {
		d.Call.OnStateChange(s.broadcastCallState)
	}

	s.registerAuthRoutes(mux)
	s.registerPeerRoutes(mux)
	s.registerMessageRoutes(mux)
	s.registerCallRoutes(mux)
	s.registerDictationRoutes(mux)
	s.registerEventRoutes(mux)

	if d.Hub != nil {
		mux.Handle("/relay", d.Hub)
	}
	return s
}

func (s *Server) broadcastCallState(st call.State) {
	s.mu.Lock()
	chans := make([]chan call.State, len(s.callEvents))
	copy(chans, s.callEvents)
	s.mu.Unlock()
	for _, ch := range chans {
		select {
		case ch <- st:
		default:
		}
	}
}

func (s *Server) subscribeCallState() (<-chan call.State, func()) {
	ch := make(chan call.State, 16)
	s.mu.Lock()
	s.callEvents = append(s.callEvents, ch)
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, c := range s.callEvents {
			if c == ch {
				s.callEvents = append(s.callEvents[:i], s.callEvents[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

// token extracts the session token from the cookie or bearer header.
func token(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// authed resolves the request's account, writing a 401 when absent.
func (s *Server) authed(w http.ResponseWriter, r *http.Request) (profile.Account, bool) {
	acct, ok := s.d.Profiles.Authenticate(token(r))
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
	}
	return acct, ok
}

// ── JSON plumbing ────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("HTTP: write response: %v", err)
	}
}

// handleGet registers a GET-only handler.
func handleGet(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	})
}

// handlePost registers a POST handler that decodes the JSON body into T.
func handlePost[T any](mux *http.ServeMux, pattern string, fn func(w http.ResponseWriter, r *http.Request, req T)) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req T
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
				return
			}
		}
		fn(w, r, req)
	})
}

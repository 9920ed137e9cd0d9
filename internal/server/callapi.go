package server

import (
	"errors"
	"net/http"

	"github.com/aurachat/aura/internal/call"
)

func (s *Server) registerCallRoutes(mux *http.ServeMux) {
	handleGet(mux, "/api/call/state", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.authed(w, r); !ok {
			return
		}
		writeJSON(w, s.d.Call.State())
	})

	handlePost(mux, "/api/call/start", func(w http.ResponseWriter, r *http.Request, req struct {
		Peer string `json:"peer"`
	}) {
		if _, ok := s.authed(w, r); !ok {
			return
		}
		if req.Peer == "" {
			http.Error(w, "missing peer", http.StatusBadRequest)
			return
		}
		if err := s.d.Call.Start(req.Peer); err != nil {
			http.Error(w, err.Error(), callErrorStatus(err))
			return
		}
		writeJSON(w, s.d.Call.State())
	})

	handlePost(mux, "/api/call/accept", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		if _, ok := s.authed(w, r); !ok {
			return
		}
		if err := s.d.Call.Accept(); err != nil {
			http.Error(w, err.Error(), callErrorStatus(err))
			return
		}
		writeJSON(w, s.d.Call.State())
	})

	handlePost(mux, "/api/call/reject", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		if _, ok := s.authed(w, r); !ok {
			return
		}
		s.d.Call.Reject()
		writeJSON(w, s.d.Call.State())
	})

	handlePost(mux, "/api/call/hangup", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		if _, ok := s.authed(w, r); !ok {
			return
		}
		s.d.Call.Hangup()
		writeJSON(w, s.d.Call.State())
	})

	handlePost(mux, "/api/call/toggle-audio", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		if _, ok := s.authed(w, r); !ok {
			return
		}
		muted := s.d.Call.ToggleMicrophone()
		writeJSON(w, map[string]bool{"muted": muted})
	})

	handlePost(mux, "/api/call/toggle-video", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		if _, ok := s.authed(w, r); !ok {
			return
		}
		off := s.d.Call.ToggleCamera()
		writeJSON(w, map[string]bool{"camera_off": off})
	})
}

func callErrorStatus(err error) int {
	switch {
	case errors.Is(err, call.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, call.ErrAssistantTarget), errors.Is(err, call.ErrNoPendingCall):
		return http.StatusBadRequest
	case errors.Is(err, call.ErrMediaUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

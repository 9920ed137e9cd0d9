package server

import (
	"errors"
	"net/http"

	"github.com/aurachat/aura/internal/profile"
	"github.com/aurachat/aura/internal/storage"
)

func (s *Server) registerAuthRoutes(mux *http.ServeMux) {
	handlePost(mux, "/api/auth/register", func(w http.ResponseWriter, r *http.Request, req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Avatar   string `json:"avatar"`
	}) {
		acct, tok, err := s.d.Profiles.Register(req.Username, req.Password, req.Avatar)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, storage.ErrProfileExists) {
				status = http.StatusConflict
			}
			http.Error(w, err.Error(), status)
			return
		}
		setSession(w, tok)
		writeJSON(w, map[string]any{"account": acct, "token": tok})
	})

	handlePost(mux, "/api/auth/login", func(w http.ResponseWriter, r *http.Request, req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}) {
		acct, tok, err := s.d.Profiles.Login(req.Username, req.Password)
		if err != nil {
			if errors.Is(err, profile.ErrBadCredentials) {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		setSession(w, tok)
		writeJSON(w, map[string]any{"account": acct, "token": tok})
	})

	handlePost(mux, "/api/auth/logout", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		if tok := token(r); tok != "" {
			s.d.Profiles.Logout(tok)
		}
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
		})
		writeJSON(w, map[string]string{"status": "ok"})
	})

	handleGet(mux, "/api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		acct, ok := s.authed(w, r)
		if !ok {
			return
		}
		writeJSON(w, map[string]any{"account": acct, "peer_id": s.d.SelfID})
	})
}

func setSession(w http.ResponseWriter, tok string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    tok,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

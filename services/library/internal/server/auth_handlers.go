package server

import (
	"net/http"
	"strings"

	"zettler/internal/util"
)

type sessionRequest struct {
	IDToken string `json:"idToken"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.sessionLimiter, util.ClientIP(r, s.trusted), "too many sign-in attempts") {
		return
	}
	var req sessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	token, err := s.app.CreateSession(r.Context(), strings.TrimSpace(req.IDToken))
	if err != nil {
		s.audit(r, "library.session.create", "fail")
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.session.create", "success")
	s.setSessionCookie(w, token, s.app.SessionTTL(), r)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if cookie, err := r.Cookie(s.cookieName); err == nil {
		if err := s.app.Logout(r.Context(), cookie.Value); err != nil {
			util.LoggerFromContext(r.Context()).Warn("session revoke failed", "err", err)
		}
	}
	s.clearSessionCookie(w, r)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	user, err := s.app.Me(r.Context(), identityFrom(r))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

package server

import (
	"net/http"

	"github.com/filedepot/filedepot/pkg/proto"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.withMetrics(w, "register", func(w http.ResponseWriter) {
		var req proto.RegisterRequest
		if !s.decodeJSON(w, r, &req) {
			return
		}

		u, err := s.sessions.Register(r.Context(), req.Username, req.Password)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.audit.LogAuth(u.ID, "password", "allowed", "register", remoteIP(r))
		s.writeJSON(w, http.StatusCreated, u)
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.withMetrics(w, "login", func(w http.ResponseWriter) {
		var req proto.LoginRequest
		if !s.decodeJSON(w, r, &req) {
			return
		}

		token, u, err := s.sessions.Login(r.Context(), req.Username, req.Password)
		if err != nil {
			if result, ok := auditResult(err); ok {
				s.audit.LogAuth("", "password", result, "login: "+err.Error(), remoteIP(r))
			}
			s.writeServiceError(w, err)
			return
		}
		s.audit.LogAuth(u.ID, "password", "allowed", "login", remoteIP(r))
		s.writeJSON(w, http.StatusOK, proto.LoginResponse{
			Token:    token,
			UserID:   u.ID,
			Username: u.Username,
			Role:     string(u.Role),
		})
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.withMetrics(w, "logout", func(w http.ResponseWriter) {
		uid := s.identify(r)
		if err := s.sessions.Logout(r.Context(), bearerToken(r)); err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.audit.LogAuth(uid, "session", "allowed", "logout", remoteIP(r))
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func (s *Server) handleMyStorage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.withMetrics(w, "storageStats", func(w http.ResponseWriter) {
		stats, err := s.svc.StorageStats(r.Context(), bearerToken(r), "")
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, stats)
	})
}

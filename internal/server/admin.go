package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/filedepot/filedepot/internal/storage"
	"github.com/filedepot/filedepot/pkg/proto"
)

// handleUsers routes /api/users: account creation and listing, both
// restricted to user managers by the service layer.
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.withMetrics(w, "createUser", func(w http.ResponseWriter) {
			s.handleCreateUser(w, r)
		})
	case http.MethodGet:
		s.withMetrics(w, "listUsers", func(w http.ResponseWriter) {
			s.handleListUsers(w, r)
		})
	default:
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleUserSubtree routes /api/users/{id}, /api/users/{id}/storage and
// /api/users/{id}/allocation.
func (s *Server) handleUserSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/users/")
	parts := strings.Split(rest, "/")
	if parts[0] == "" {
		s.jsonError(w, "user id required", http.StatusBadRequest)
		return
	}
	userID := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodDelete {
			s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.withMetrics(w, "removeUser", func(w http.ResponseWriter) {
			s.handleRemoveUser(w, r, userID)
		})

	case len(parts) == 2 && parts[1] == "storage":
		if r.Method != http.MethodGet {
			s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.withMetrics(w, "userStorage", func(w http.ResponseWriter) {
			s.handleUserStorage(w, r, userID)
		})

	case len(parts) == 2 && parts[1] == "allocation":
		if r.Method != http.MethodPut {
			s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.withMetrics(w, "setAllocation", func(w http.ResponseWriter) {
			s.handleSetAllocation(w, r, userID)
		})

	default:
		s.jsonError(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req proto.CreateUserRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	role := storage.RoleClient
	if req.Role != "" {
		role = storage.Role(req.Role)
	}

	u, err := s.svc.AddUser(r.Context(), bearerToken(r), req.Username, req.Password, role, req.GBAllocation)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.audit.LogUserMgmt(s.identify(r), "create_user", u.ID, "role="+string(u.Role))
	s.writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.svc.ListUsers(r.Context(), bearerToken(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

func (s *Server) handleRemoveUser(w http.ResponseWriter, r *http.Request, userID string) {
	adminID := s.identify(r)
	if err := s.svc.RemoveUser(r.Context(), bearerToken(r), userID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.audit.LogUserMgmt(adminID, "delete_user", userID, "")
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleUserStorage(w http.ResponseWriter, r *http.Request, userID string) {
	stats, err := s.svc.StorageStats(r.Context(), bearerToken(r), userID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSetAllocation(w http.ResponseWriter, r *http.Request, userID string) {
	var req proto.SetAllocationRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if err := s.svc.SetAllocation(r.Context(), bearerToken(r), userID, req.GBAllocation); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.audit.LogUserMgmt(s.identify(r), "set_allocation", userID, fmt.Sprintf("gb=%d", req.GBAllocation))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSystemStorage serves /api/system/storage: depot-wide usage for
// operators.
func (s *Server) handleSystemStorage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.withMetrics(w, "systemStorage", func(w http.ResponseWriter) {
		stats, err := s.svc.SystemStats(r.Context(), bearerToken(r))
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, stats)
	})
}

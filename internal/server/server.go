// Package server exposes the filedepot core over HTTP. The handlers
// parse requests and map core errors onto status codes; every access
// and quota decision is made by the transfer service underneath.
package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/filedepot/filedepot/internal/auth"
	"github.com/filedepot/filedepot/internal/chunk"
	"github.com/filedepot/filedepot/internal/logging/audit"
	"github.com/filedepot/filedepot/internal/storage"
	"github.com/filedepot/filedepot/internal/transfer"
	"github.com/filedepot/filedepot/pkg/proto"
)

// MaxChunkBytes caps a single chunk upload body. Chunk size is a client
// convention, not a protocol constant, so the cap is generous.
const MaxChunkBytes = 64 << 20

// statusRecorder wraps http.ResponseWriter to capture the HTTP status code.
// Note: Not thread-safe. Must only be used within a single request handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
		r.ResponseWriter.WriteHeader(code)
	}
}

// getStatus returns the recorded status, defaulting to 200 if WriteHeader
// was never called.
func (r *statusRecorder) getStatus() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// classifyStatus converts an HTTP status code to a metric status label.
func classifyStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "success"
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return "unauthorized"
	case code == http.StatusNotFound:
		return "not_found"
	case code == http.StatusConflict:
		return "conflict"
	default:
		return "error"
	}
}

// Server is the filedepot HTTP API.
type Server struct {
	svc      *transfer.Service
	sessions *auth.Manager
	mux      *http.ServeMux
	validate *validator.Validate
	audit    *audit.Logger
}

// New creates the API server on top of the transfer service.
func New(svc *transfer.Service, sessions *auth.Manager) *Server {
	s := &Server{
		svc:      svc,
		sessions: sessions,
		mux:      http.NewServeMux(),
		validate: validator.New(),
		audit:    audit.NewLogger(log.With().Str("log_type", "audit").Logger()),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())

	s.mux.HandleFunc("/api/register", s.handleRegister)
	s.mux.HandleFunc("/api/login", s.handleLogin)
	s.mux.HandleFunc("/api/logout", s.handleLogout)

	s.mux.HandleFunc("/api/files", s.handleFiles)
	s.mux.HandleFunc("/api/files/", s.handleFileSubtree)
	s.mux.HandleFunc("/api/shared/", s.handleShared)

	s.mux.HandleFunc("/api/me/storage", s.handleMyStorage)
	s.mux.HandleFunc("/api/system/storage", s.handleSystemStorage)
	s.mux.HandleFunc("/api/users", s.handleUsers)
	s.mux.HandleFunc("/api/users/", s.handleUserSubtree)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the API server.
func (s *Server) ListenAndServe(addr string) error {
	log.Info().Str("listen", addr).Msg("starting filedepot server")
	return http.ListenAndServe(addr, s)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// withMetrics runs fn against a status-recording writer and reports the
// operation outcome and duration.
func (s *Server) withMetrics(w http.ResponseWriter, operation string, fn func(w http.ResponseWriter)) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w}
	fn(rec)
	duration := time.Since(start).Seconds()
	transfer.GetMetrics().RecordRequest(operation, classifyStatus(rec.getStatus()), duration)
}

// bearerToken extracts the session token from the Authorization header.
// Returns "" when the header is absent or not a bearer credential; the
// core treats an empty token as an anonymous caller.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// remoteIP extracts the client address for audit events.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// identify resolves the caller's user id for audit enrichment. Handlers
// never make access decisions with it; the core re-resolves the token on
// every operation.
func (s *Server) identify(r *http.Request) string {
	token := bearerToken(r)
	if token == "" {
		return ""
	}
	ident, err := s.sessions.Resolve(r.Context(), token)
	if err != nil {
		return ""
	}
	return ident.ID
}

// auditResult classifies a core error as an access decision. Only access
// decisions produce audit events: nil is allowed, session and
// authorization failures are denied, anything else is not a decision.
func auditResult(err error) (string, bool) {
	switch {
	case err == nil:
		return "allowed", true
	case errors.Is(err, auth.ErrUnauthorized),
		errors.Is(err, auth.ErrInvalidSession),
		errors.Is(err, auth.ErrInvalidCredentials):
		return "denied", true
	default:
		return "", false
	}
}

func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(proto.ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps core errors onto HTTP statuses. Quota
// exhaustion shares 403 with authorization failures; the body message
// tells them apart.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var missing *chunk.MissingChunkError
	switch {
	case errors.Is(err, auth.ErrInvalidSession) || errors.Is(err, auth.ErrInvalidCredentials):
		s.jsonError(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, auth.ErrUnauthorized) || errors.Is(err, storage.ErrMasterProtected):
		s.jsonError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, storage.ErrQuotaExceeded):
		s.jsonError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, storage.ErrFileNotFound) || errors.Is(err, storage.ErrUserNotFound):
		s.jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, storage.ErrUsernameTaken):
		s.jsonError(w, err.Error(), http.StatusConflict)
	case errors.As(err, &missing) || errors.Is(err, chunk.ErrNoChunks):
		s.jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, transfer.ErrChunkOutOfRange) || errors.Is(err, transfer.ErrInvalidRequest):
		s.jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		log.Error().Err(err).Msg("request failed")
		s.jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

// decodeJSON decodes and validates a request body DTO. A false return
// means the response was already written.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		s.jsonError(w, "validation failed: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

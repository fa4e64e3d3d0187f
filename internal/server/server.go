// Package server bridges remote clients to the session registry over HTTP
// and WebSocket. It maps REST calls onto registry operations and streams
// subscriber output to connected terminals; the core never imports it.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dshills/termmux/internal/terminal"
)

// SessionService is the registry surface the server consumes. Implemented
// by *terminal.Registry.
type SessionService interface {
	Create(command string, args []string, cwd string, rows, cols int) (string, error)
	Destroy(id string) error
	Get(id string) (terminal.SessionInfo, error)
	List() []terminal.SessionInfo
	WriteInput(id string, data []byte) error
	Resize(id string, rows, cols int) error
	Subscribe(id string, onData func([]byte), onClosed func()) (terminal.Subscription, error)
	Unsubscribe(sub terminal.Subscription)
}

// Options configures a Server.
type Options struct {
	// AuthToken, when non-empty, is required on every request (bearer
	// header, X-Termmux-Token header, or token query parameter).
	AuthToken string

	// AllowedOrigins lists origins permitted to open WebSocket streams
	// in addition to same-host and localhost.
	AllowedOrigins []string

	// Logger for request and stream events. Defaults to a disabled logger.
	Logger zerolog.Logger
}

// Server exposes the session API over HTTP.
type Server struct {
	svc            SessionService
	authToken      string
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	log            zerolog.Logger
}

// New creates a Server wired to the given session service.
func New(svc SessionService, opts Options) *Server {
	s := &Server{
		svc:            svc,
		authToken:      opts.AuthToken,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		log:            opts.Logger.With().Str("module", "server").Logger(),
	}
	for _, origin := range opts.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}
	return s
}

// Handler returns the HTTP handler with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.authMiddleware)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Delete("/", s.handleDestroy)
			r.Post("/resize", s.handleResize)
			r.Post("/input", s.handleInput)
		})
	})
	r.Get("/ws/{id}", s.handleStream)

	return r
}

// createRequest is the body of POST /api/sessions.
type createRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Cwd     string   `json:"cwd"`
	Rows    int      `json:"rows"`
	Cols    int      `json:"cols"`
}

// sessionResponse is the JSON shape of one session.
type sessionResponse struct {
	ID           string `json:"id"`
	Command      string `json:"command"`
	Cwd          string `json:"cwd,omitempty"`
	Rows         int    `json:"rows"`
	Cols         int    `json:"cols"`
	PID          int    `json:"pid"`
	CreatedAt    int64  `json:"created_at"`
	LastActivity int64  `json:"last_activity"`
	Active       bool   `json:"active"`
}

func toResponse(info terminal.SessionInfo) sessionResponse {
	return sessionResponse{
		ID:           info.ID,
		Command:      info.Command,
		Cwd:          info.Cwd,
		Rows:         info.Rows,
		Cols:         info.Cols,
		PID:          info.PID,
		CreatedAt:    info.CreatedAt.UnixMilli(),
		LastActivity: info.LastActivity.UnixMilli(),
		Active:       info.Active,
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	infos := s.svc.List()
	out := make([]sessionResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, toResponse(info))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := s.svc.Create(req.Command, req.Args, req.Cwd, req.Rows, req.Cols)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	info, err := s.svc.Get(id)
	if err != nil {
		// The session died between create and lookup; report it created.
		writeJSON(w, http.StatusCreated, sessionResponse{ID: id})
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(info))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(info))
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Destroy(chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rows int `json:"rows"`
		Cols int `json:"cols"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.svc.Resize(chi.URLParam(r, "id"), req.Rows, req.Cols); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Data string `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.svc.WriteInput(chi.URLParam(r, "id"), []byte(req.Data)); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeServiceError maps registry errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, terminal.ErrSessionNotFound):
		httpError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, terminal.ErrMaxSessions):
		httpError(w, http.StatusTooManyRequests, "session limit reached")
	case errors.Is(err, terminal.ErrInvalidDimensions):
		httpError(w, http.StatusBadRequest, "invalid dimensions")
	case errors.Is(err, terminal.ErrRegistryClosed):
		httpError(w, http.StatusServiceUnavailable, "shutting down")
	default:
		s.log.Error().Err(err).Msg("session operation failed")
		httpError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			httpError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	if r.URL.Query().Get("token") == s.authToken {
		return true
	}
	if r.Header.Get("X-Termmux-Token") == s.authToken {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Host
	if host == r.Host {
		return true
	}
	switch {
	case host == "localhost", strings.HasPrefix(host, "localhost:"):
		return true
	case host == "127.0.0.1", strings.HasPrefix(host, "127.0.0.1:"):
		return true
	case host == "::1", strings.HasPrefix(host, "[::1]:"):
		return true
	}
	return false
}

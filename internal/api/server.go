// Package api provides the gateway's HTTP surface: the WebSocket endpoint,
// health checks and session statistics.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/readify/gateway/internal/auth"
	"github.com/readify/gateway/internal/config"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionStats is the read side of the session registry.
type SessionStats interface {
	Count() int
	OnlineUsers() []int64
	IsUserOnline(userID int64) bool
}

// Deps are the collaborators the server exposes over HTTP.
type Deps struct {
	Store         Pinger
	Broker        Pinger // optional; checked by /readyz when set
	Verifier      auth.Verifier
	Sessions      SessionStats
	ActiveStreams func() int64
	WSHandler     http.HandlerFunc
}

// Server is the HTTP API server.
type Server struct {
	store         Pinger
	broker        Pinger
	verifier      auth.Verifier
	sessions      SessionStats
	activeStreams func() int64
	logger        *slog.Logger
	mux           *chi.Mux
	startTime     time.Time
	upgradeRL     *rateLimiter
}

// NewServer creates a new API server.
func NewServer(deps Deps, cfg *config.Config, logger *slog.Logger) *Server {
	srv := &Server{
		store:         deps.Store,
		broker:        deps.Broker,
		verifier:      deps.Verifier,
		sessions:      deps.Sessions,
		activeStreams: deps.ActiveStreams,
		logger:        logger.With("component", "api"),
		startTime:     time.Now(),
		upgradeRL:     newRateLimiter(cfg.Server.UpgradesPerSec, cfg.Server.UpgradeBurst),
	}
	if srv.activeStreams == nil {
		srv.activeStreams = func() int64 { return 0 }
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(noSniffNoStore)
	mux.Use(newOriginPolicy(cfg.Server.AllowedOrigins).cors)

	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)

	// The handshake authenticates itself; only the upgrade rate is limited here.
	mux.With(ipRateLimitMiddleware(srv.upgradeRL)).Get(cfg.Server.WSPath, deps.WSHandler)

	mux.Group(func(r chi.Router) {
		r.Use(srv.requireIdentity)
		r.Get("/api/v1/ws/stats", srv.handleStats)
		r.Get("/api/v1/ws/users/{userID}/online", srv.handleUserOnline)
	})

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// RunBackground runs periodic maintenance until ctx is canceled.
func (s *Server) RunBackground(ctx context.Context) error {
	return s.upgradeRL.runCleanup(ctx, 5*time.Minute, 10*time.Minute)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.notReady(w, "storage unavailable", err)
		return
	}
	if s.broker != nil {
		if err := s.broker.Ping(r.Context()); err != nil {
			s.notReady(w, "broker unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) notReady(w http.ResponseWriter, reason string, err error) {
	s.logger.Warn("readiness check failed", "reason", reason, "error", err)
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status": "not_ready",
		"error":  reason,
	})
}

type statsResponse struct {
	Connections   int     `json:"connections"`
	OnlineUsers   int     `json:"online_users"`
	ActiveStreams int64   `json:"active_streams"`
	Users         []int64 `json:"users,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	users := s.sessions.OnlineUsers()
	resp := statsResponse{
		Connections:   s.sessions.Count(),
		OnlineUsers:   len(users),
		ActiveStreams: s.activeStreams(),
	}
	if r.URL.Query().Get("include_users") == "true" {
		resp.Users = users
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUserOnline(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"online":  s.sessions.IsUserOnline(userID),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

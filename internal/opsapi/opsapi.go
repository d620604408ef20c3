// Package opsapi exposes a small operational HTTP API: liveness and
// global stats. It is meant for loopback or private networks; the stats
// endpoint is protected by a bearer token verified against a bcrypt hash.
package opsapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/stashkeep/stashkeep/internal/cache"
	"github.com/stashkeep/stashkeep/internal/logutil"
	"github.com/stashkeep/stashkeep/internal/ratelimit"
	"github.com/stashkeep/stashkeep/internal/store"
)

// statsTTL bounds how hard /stats can hit the store; counting every item
// is a full scan on some drivers.
const statsTTL = 5 * time.Second

// StatsSource provides the global rollup.
type StatsSource interface {
	Stats(ctx context.Context) (*store.GlobalStats, error)
}

// Server is the ops HTTP server.
type Server struct {
	httpServer *http.Server
	tokenHash  string
	stats      StatsSource
	cache      *cache.Cache
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
}

// New builds the ops server. tokenHash is the bcrypt hash of the bearer
// token; when empty, the stats endpoint is disabled.
func New(addr, tokenHash string, stats StatsSource, logger *slog.Logger) *Server {
	c := cache.New(statsTTL, time.Minute)
	s := &Server{
		tokenHash: tokenHash,
		stats:     stats,
		cache:     c,
		limiter: ratelimit.New(c, &ratelimit.Config{
			RequestsPerWindow: 60,
			Window:            time.Minute,
			KeyPrefix:         "ops:",
		}),
		logger: logutil.Component(logger, "opsapi"),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.limiter.Middleware)

	r.Get("/healthz", s.handleHealthz)
	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/stats", s.handleStats)
	})
	return r
}

// ListenAndServe blocks until the server stops. http.ErrServerClosed is
// not treated as an error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("ops api listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.cache.Close()
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// requireToken gates an endpoint behind the configured bearer token.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokenHash == "" {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			writeError(w, http.StatusUnauthorized, "bearer token required")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(s.tokenHash), []byte(token)); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if body, err := s.cache.Get(r.Context(), "stats"); err == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}

	stats, err := s.stats.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	if body, err := json.Marshal(stats); err == nil {
		_ = s.cache.Set(r.Context(), "stats", body, statsTTL)
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Package server exposes the Banterbox control surface over HTTP: a
// password login that issues bearer tokens, the rivalry catalogue, a
// WebSocket hub streaming show state and scheduled audio, and the usual
// operational endpoints (/metrics, /healthz, /readyz).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkoutras/banterbox/internal/config"
	"github.com/mkoutras/banterbox/internal/health"
	"github.com/mkoutras/banterbox/internal/observe"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Server is the HTTP control surface. It owns the listener lifecycle; show
// logic lives behind the hub's [Controller].
type Server struct {
	cfg     config.ServerConfig
	hub     *Hub
	tokens  *tokenStore
	health  *health.Handler
	metrics *observe.Metrics
	log     *slog.Logger

	rivalries []config.Rivalry

	httpServer *http.Server
}

// New assembles the HTTP server around an already-wired hub.
func New(cfg config.ServerConfig, rivalries []config.Rivalry, hub *Hub, healthHandler *health.Handler, metrics *observe.Metrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	s := &Server{
		cfg:       cfg,
		hub:       hub,
		tokens:    newTokenStore(),
		health:    healthHandler,
		metrics:   metrics,
		log:       log,
		rivalries: rivalries,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// routes builds the HTTP mux. Observability middleware wraps the JSON API
// but not /ws: the WebSocket upgrade hijacks the connection and must see
// the original ResponseWriter.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mw := observe.Middleware(s.metrics)

	mux.Handle("POST /api/login", mw(http.HandlerFunc(s.handleLogin)))
	mux.Handle("GET /api/rivalries", mw(s.requireToken(http.HandlerFunc(s.handleRivalries))))
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.health != nil {
		s.health.Register(mux)
	}

	return mux
}

// Run starts serving and blocks until ctx is cancelled or the listener
// fails. On cancellation it drains in-flight requests for up to
// [shutdownTimeout].
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("control surface listening", "addr", s.cfg.ListenAddr, "tls", s.cfg.TLS != nil)
		var err error
		if s.cfg.TLS != nil {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen on %s: %w", s.cfg.ListenAddr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return ctx.Err()
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ── Handlers ─────────────────────────────────────────────────────────────────

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// handleLogin exchanges the shared access password for a bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if !passwordMatches(s.cfg.AccessPassword, req.Password) {
		s.log.Warn("login rejected", "remote", r.RemoteAddr)
		httpError(w, http.StatusUnauthorized, "invalid password")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: s.tokens.Issue()})
}

// handleRivalries lists the configured rivalries without persona
// instructions, which stay server-side.
func (s *Server) handleRivalries(w http.ResponseWriter, _ *http.Request) {
	type guestView struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Voice string `json:"voice"`
		Role  string `json:"role,omitempty"`
	}
	type rivalryView struct {
		ID          string      `json:"id"`
		Name        string      `json:"name"`
		Description string      `json:"description,omitempty"`
		Guests      []guestView `json:"guests"`
	}

	views := make([]rivalryView, 0, len(s.rivalries))
	for _, riv := range s.rivalries {
		rv := rivalryView{ID: riv.ID, Name: riv.Name, Description: riv.Description}
		for _, g := range riv.Guests {
			rv.Guests = append(rv.Guests, guestView{ID: g.ID, Name: g.Name, Voice: g.Voice, Role: g.Role})
		}
		views = append(views, rv)
	}
	writeJSON(w, http.StatusOK, views)
}

// handleWS authenticates and hands the connection to the hub.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.tokens.Valid(requestToken(r)) {
		httpError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	s.hub.ServeWS(w, r)
}

// requireToken guards an API route with bearer token authentication.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.tokens.Valid(requestToken(r)) {
			httpError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}

func httpError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"crashpilot/db"
	"crashpilot/risk"
	"crashpilot/state"
	"crashpilot/tracker"
)

// TrackerView is the read side of the background tracker.
type TrackerView interface {
	State() tracker.GameState
	History() []tracker.RoundSummary
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Deps struct {
	Session  *state.Session
	Ledger   db.Ledger
	Tracker  TrackerView
	Breaker  *risk.CircuitBreaker
	Gatherer prometheus.Gatherer
	Hub      http.Handler
	Checks   map[string]HealthCheck
}

// Server is the bot's HTTP surface: health, session and round history,
// metrics and the websocket hub.
type Server struct {
	deps Deps
	mux  *http.ServeMux
	http *http.Server
	log  *logrus.Entry
}

func NewServer(addr string, d Deps) *Server {
	s := &Server{deps: d, mux: http.NewServeMux(), log: logrus.WithField("component", "api")}

	s.mux.HandleFunc("/api/health", corsMiddleware(s.HandleHealthCheck))
	s.mux.HandleFunc("/api/session", corsMiddleware(s.HandleGetSession))
	s.mux.HandleFunc("/api/session/halt", corsMiddleware(s.HandleHalt))
	s.mux.HandleFunc("/api/session/resume", corsMiddleware(s.HandleResume))
	s.mux.HandleFunc("/api/rounds", corsMiddleware(s.HandleGetRounds))
	s.mux.HandleFunc("/api/tracker", corsMiddleware(s.HandleGetTrackerState))
	s.mux.HandleFunc("/api/tracker/rounds", corsMiddleware(s.HandleGetTrackerRounds))
	if d.Gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	if d.Hub != nil {
		s.mux.Handle("/ws", d.Hub)
	}

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.log.Infof("🚀 API server starting on %s", s.http.Addr)
	s.log.Info("   GET  /api/health - health check (postgres, sqlite, redis)")
	s.log.Info("   GET  /api/session - current session snapshot")
	s.log.Info("   POST /api/session/halt | /api/session/resume - circuit breaker")
	s.log.Info("   GET  /api/rounds?limit=N - settled rounds from the ledger")
	s.log.Info("   GET  /api/tracker | /api/tracker/rounds - observed game")
	s.log.Info("   GET  /metrics - prometheus")
	s.log.Info("   WS   /ws - subscribe to 'events' or 'crash'")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

/* =========================
   HELPERS
========================= */

// ErrorResponse represents an error response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Success: false,
		Error:   message,
	})
}

// corsMiddleware adds CORS headers to allow dashboard requests
func corsMiddleware(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		handler(w, r)
	}
}

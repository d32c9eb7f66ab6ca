package api

import (
	"net/http"
	"sort"
	"strconv"

	"crashpilot/db"
	"crashpilot/state"
	"crashpilot/tracker"
)

const (
	defaultRoundsLimit = 50
	maxRoundsLimit     = 500
)

/* =========================
   RESPONSE TYPES
========================= */

type HealthResponse struct {
	Success bool              `json:"success"`
	Checks  map[string]string `json:"checks"`
	Message string            `json:"message"`
}

type SessionResponse struct {
	Success           bool           `json:"success"`
	Session           state.Snapshot `json:"session"`
	BreakerOpen       bool           `json:"breakerOpen"`
	ConsecutiveErrors int64          `json:"consecutiveErrors"`
	LastError         string         `json:"lastError,omitempty"`
}

type RoundsResponse struct {
	Success bool          `json:"success"`
	Rounds  []db.RoundRow `json:"rounds"`
}

type TrackerStateResponse struct {
	Success bool              `json:"success"`
	State   tracker.GameState `json:"state"`
}

type TrackerRoundsResponse struct {
	Success bool                   `json:"success"`
	Rounds  []tracker.RoundSummary `json:"rounds"`
}

/* =========================
   HEALTH
========================= */

// HandleHealthCheck handles GET /api/health. It always answers 200 with
// per-dependency status; success is false when any check fails.
func (s *Server) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	resp := HealthResponse{Success: true, Checks: map[string]string{}, Message: "Health check completed"}
	names := make([]string, 0, len(s.deps.Checks))
	for name := range s.deps.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.deps.Checks[name](r.Context()); err != nil {
			resp.Checks[name] = "error: " + err.Error()
			resp.Success = false
			continue
		}
		resp.Checks[name] = "ok"
	}
	sendJSON(w, resp)
}

/* =========================
   SESSION
========================= */

// HandleGetSession handles GET /api/session
func (s *Server) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.deps.Session == nil {
		sendError(w, http.StatusServiceUnavailable, "No active session")
		return
	}
	sendJSON(w, s.sessionResponse())
}

func (s *Server) sessionResponse() SessionResponse {
	b := s.deps.Breaker
	return SessionResponse{
		Success:           true,
		Session:           s.deps.Session.Snapshot(),
		BreakerOpen:       b.Allow() != nil,
		ConsecutiveErrors: b.ConsecutiveErrors(),
		LastError:         b.LastError(),
	}
}

// HandleHalt handles POST /api/session/halt: no new rounds start until
// resumed. A round already in flight finishes.
func (s *Server) HandleHalt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.deps.Breaker == nil || s.deps.Session == nil {
		sendError(w, http.StatusServiceUnavailable, "No active session")
		return
	}
	s.deps.Breaker.Halt()
	s.log.Warn("🛑 session halted via API")
	sendJSON(w, s.sessionResponse())
}

// HandleResume handles POST /api/session/resume
func (s *Server) HandleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.deps.Breaker == nil || s.deps.Session == nil {
		sendError(w, http.StatusServiceUnavailable, "No active session")
		return
	}
	s.deps.Breaker.Resume()
	s.log.Info("✅ circuit breaker resumed via API")
	sendJSON(w, s.sessionResponse())
}

/* =========================
   ROUNDS
========================= */

// HandleGetRounds handles GET /api/rounds?limit=N (newest first)
func (s *Server) HandleGetRounds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.deps.Ledger == nil {
		sendError(w, http.StatusServiceUnavailable, "No ledger configured")
		return
	}
	limit := defaultRoundsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			sendError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRoundsLimit)
	}
	rounds, err := s.deps.Ledger.RecentRounds(r.Context(), limit)
	if err != nil {
		s.log.Errorf("❌ Failed to get rounds: %v", err)
		sendError(w, http.StatusInternalServerError, "Failed to retrieve rounds")
		return
	}
	if rounds == nil {
		rounds = []db.RoundRow{}
	}
	sendJSON(w, RoundsResponse{Success: true, Rounds: rounds})
}

/* =========================
   TRACKER
========================= */

// HandleGetTrackerState handles GET /api/tracker
func (s *Server) HandleGetTrackerState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.deps.Tracker == nil {
		sendError(w, http.StatusServiceUnavailable, "Tracker not running")
		return
	}
	sendJSON(w, TrackerStateResponse{Success: true, State: s.deps.Tracker.State()})
}

// HandleGetTrackerRounds handles GET /api/tracker/rounds (oldest first)
func (s *Server) HandleGetTrackerRounds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.deps.Tracker == nil {
		sendError(w, http.StatusServiceUnavailable, "Tracker not running")
		return
	}
	rounds := s.deps.Tracker.History()
	if rounds == nil {
		rounds = []tracker.RoundSummary{}
	}
	sendJSON(w, TrackerRoundsResponse{Success: true, Rounds: rounds})
}

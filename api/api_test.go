package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashpilot/clock"
	"crashpilot/db"
	"crashpilot/risk"
	"crashpilot/sensor"
	"crashpilot/sensor/sensortest"
	"crashpilot/state"
	"crashpilot/tracker"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	srv     *Server
	session *state.Session
	breaker *risk.CircuitBreaker
	ledger  *db.SQLiteLedger
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	ledger, err := db.NewSQLiteLedger(ctx, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(ledger.Close)

	tr := tracker.New(tracker.DefaultConfig(), clock.NewFake(t0))
	tr.Update(sensortest.Value(1, sensor.StatusStarting))
	tr.Update(sensortest.Value(1.8, sensor.StatusRunning))
	tr.Update(sensor.Reading{Valid: true, Status: sensor.StatusCrashed})

	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "crashpilot_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	session := state.NewSession(decimal.NewFromInt(10), 100)
	breaker := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{MaxConsecutiveErrors: 3})
	srv := NewServer(":0", Deps{
		Session:  session,
		Ledger:   ledger,
		Tracker:  tr,
		Breaker:  breaker,
		Gatherer: reg,
		Checks: map[string]HealthCheck{
			"sqlite": ledger.HealthCheck,
		},
	})
	return fixture{srv: srv, session: session, breaker: breaker, ledger: ledger}
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.srv, http.MethodGet, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	decode(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, map[string]string{"sqlite": "ok"}, resp.Checks)

	f.srv.deps.Checks["redis"] = func(context.Context) error { return errors.New("connection refused") }
	rec = do(t, f.srv, http.MethodGet, "/api/health")
	decode(t, rec, &resp)
	assert.False(t, resp.Success)
	assert.Equal(t, "error: connection refused", resp.Checks["redis"])

	rec = do(t, f.srv, http.MethodPost, "/api/health")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSessionHaltResume(t *testing.T) {
	f := newFixture(t)

	rec := do(t, f.srv, http.MethodGet, "/api/session")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SessionResponse
	decode(t, rec, &resp)
	assert.Equal(t, f.session.ID, resp.Session.ID)
	assert.True(t, resp.Session.CurrentStake.Equal(decimal.NewFromInt(10)))
	assert.False(t, resp.BreakerOpen)

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, f.srv, http.MethodGet, "/api/session/halt").Code)

	rec = do(t, f.srv, http.MethodPost, "/api/session/halt")
	decode(t, rec, &resp)
	assert.True(t, resp.BreakerOpen)
	assert.ErrorIs(t, f.breaker.Allow(), risk.ErrCircuitBreakerOpen)

	rec = do(t, f.srv, http.MethodPost, "/api/session/resume")
	decode(t, rec, &resp)
	assert.False(t, resp.BreakerOpen)
	assert.NoError(t, f.breaker.Allow())
}

func TestRounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, f.ledger.InsertRound(ctx, db.RoundRow{
			RoundID:   id,
			SessionID: f.session.ID,
			Phase:     "complete",
			Outcome:   "WIN",
			Stake:     decimal.NewFromInt(10),
			CreatedAt: t0.Add(time.Duration(i) * time.Minute),
		}))
	}

	rec := do(t, f.srv, http.MethodGet, "/api/rounds?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp RoundsResponse
	decode(t, rec, &resp)
	require.Len(t, resp.Rounds, 2)
	assert.Equal(t, "r3", resp.Rounds[0].RoundID)

	rec = do(t, f.srv, http.MethodGet, "/api/rounds?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var errResp ErrorResponse
	decode(t, rec, &errResp)
	assert.False(t, errResp.Success)
}

func TestRoundsWithoutLedger(t *testing.T) {
	srv := NewServer(":0", Deps{})
	assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, http.MethodGet, "/api/rounds").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, http.MethodGet, "/api/session").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, http.MethodGet, "/api/tracker").Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/metrics").Code)
}

func TestTracker(t *testing.T) {
	f := newFixture(t)

	rec := do(t, f.srv, http.MethodGet, "/api/tracker/rounds")
	require.Equal(t, http.StatusOK, rec.Code)
	var rounds TrackerRoundsResponse
	decode(t, rec, &rounds)
	require.Len(t, rounds.Rounds, 1)
	assert.Equal(t, 1.8, rounds.Rounds[0].MaxMultiplier)

	rec = do(t, f.srv, http.MethodGet, "/api/tracker")
	var st TrackerStateResponse
	decode(t, rec, &st)
	assert.Equal(t, tracker.StatusCrashed, st.State.Status)
}

func TestMetricsAndCORS(t *testing.T) {
	f := newFixture(t)

	rec := do(t, f.srv, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "crashpilot_test_total 1"))

	req := httptest.NewRequest(http.MethodOptions, "/api/session", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://dashboard.local", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Body.String())
}

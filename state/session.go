package state

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crashpilot/outcome"
)

// ==============================================================================
// SESSION STATE (owned by the betting orchestrator)
// ==============================================================================

type Session struct {
	mu sync.RWMutex

	ID        string
	StartedAt time.Time

	CurrentStake      decimal.Decimal
	ConsecutiveLosses int
	ActiveBet         bool

	Rounds    int
	Wins      int
	Losses    int
	Uncertain int
	NetProfit decimal.Decimal

	Stopped    bool
	StopReason string

	history      []outcome.Summary
	historyLimit int
}

func NewSession(initialStake decimal.Decimal, historyLimit int) *Session {
	return &Session{
		ID:           uuid.NewString(),
		StartedAt:    time.Now(),
		CurrentStake: initialStake,
		historyLimit: historyLimit,
	}
}

// AppendRound folds a settled round into the session. It is the only
// place stake and loss streak change after a round.
func (s *Session) AppendRound(r outcome.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Rounds++
	s.NetProfit = s.NetProfit.Add(r.Profit)
	s.CurrentStake = r.NewStake
	switch r.Outcome {
	case outcome.Win:
		s.Wins++
		s.ConsecutiveLosses = 0
	case outcome.Loss:
		s.Losses++
		s.ConsecutiveLosses++
	default:
		s.Uncertain++
	}

	s.history = append(s.history, r)
	if s.historyLimit > 0 && len(s.history) > s.historyLimit {
		s.history = s.history[1:]
	}
}

func (s *Session) History() []outcome.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]outcome.Summary, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) Stake() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CurrentStake
}

func (s *Session) LossStreak() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ConsecutiveLosses
}

func (s *Session) SetActiveBet(active bool) {
	s.mu.Lock()
	s.ActiveBet = active
	s.mu.Unlock()
}

func (s *Session) HasActiveBet() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ActiveBet
}

func (s *Session) Stop(reason string) {
	s.mu.Lock()
	s.Stopped = true
	s.StopReason = reason
	s.mu.Unlock()
}

// ==============================================================================
// SNAPSHOTS
// ==============================================================================

type Snapshot struct {
	ID                string            `json:"id"`
	StartedAt         time.Time         `json:"startedAt"`
	CurrentStake      decimal.Decimal   `json:"currentStake"`
	ConsecutiveLosses int               `json:"consecutiveLosses"`
	ActiveBet         bool              `json:"activeBet"`
	Rounds            int               `json:"rounds"`
	Wins              int               `json:"wins"`
	Losses            int               `json:"losses"`
	Uncertain         int               `json:"uncertain"`
	NetProfit         decimal.Decimal   `json:"netProfit"`
	Stopped           bool              `json:"stopped"`
	StopReason        string            `json:"stopReason,omitempty"`
	History           []outcome.Summary `json:"history,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist := make([]outcome.Summary, len(s.history))
	copy(hist, s.history)
	return Snapshot{
		ID:                s.ID,
		StartedAt:         s.StartedAt,
		CurrentStake:      s.CurrentStake,
		ConsecutiveLosses: s.ConsecutiveLosses,
		ActiveBet:         s.ActiveBet,
		Rounds:            s.Rounds,
		Wins:              s.Wins,
		Losses:            s.Losses,
		Uncertain:         s.Uncertain,
		NetProfit:         s.NetProfit,
		Stopped:           s.Stopped,
		StopReason:        s.StopReason,
		History:           hist,
	}
}

func (s *Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// Restore loads a snapshot into the session. The active-bet flag is not
// restored: a bet cannot survive a restart.
func (s *Session) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ID = snap.ID
	s.StartedAt = snap.StartedAt
	s.CurrentStake = snap.CurrentStake
	s.ConsecutiveLosses = snap.ConsecutiveLosses
	s.Rounds = snap.Rounds
	s.Wins = snap.Wins
	s.Losses = snap.Losses
	s.Uncertain = snap.Uncertain
	s.NetProfit = snap.NetProfit
	s.history = append([]outcome.Summary(nil), snap.History...)
	if s.historyLimit > 0 && len(s.history) > s.historyLimit {
		s.history = s.history[len(s.history)-s.historyLimit:]
	}
}

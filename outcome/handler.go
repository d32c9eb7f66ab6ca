package outcome

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"crashpilot/clock"
	"crashpilot/events"
	"crashpilot/stats"
)

// Input is everything the earlier phases know about the round.
type Input struct {
	SignalID            string
	Prediction          string
	Confidence          float64
	TargetMultiplier    float64
	Position            int
	Stake               decimal.Decimal
	FinalMultiplier     float64
	CashoutSuccess      bool
	CrashDetected       bool
	MonitoringCompleted bool
	Interpretation      string
}

// Summary is the settled round. Immutable once returned.
type Summary struct {
	RoundID          string          `json:"roundId"`
	SignalID         string          `json:"signalId"`
	Prediction       string          `json:"prediction"`
	Confidence       float64         `json:"confidence"`
	TargetMultiplier float64         `json:"targetMultiplier"`
	Position         int             `json:"position"`
	Stake            decimal.Decimal `json:"stake"`
	FinalMultiplier  float64         `json:"finalMultiplier"`
	Winnings         decimal.Decimal `json:"winnings"`
	Profit           decimal.Decimal `json:"profit"`
	Outcome          Outcome         `json:"outcome"`
	NewStake         decimal.Decimal `json:"newStake"`
	Interpretation   string          `json:"interpretation,omitempty"`
	Balance          BalanceCheck    `json:"balance"`
	SettledAt        time.Time       `json:"settledAt"`
}

// HistoryAppender receives every settled round, in order.
type HistoryAppender interface {
	AppendRound(Summary)
}

type PostCashoutHandler struct {
	Stakes   *StakeManager
	Verifier *BalanceVerifier
	Sink     stats.Sink
	History  HistoryAppender

	SessionID string
	clock     clock.Clock
	emit      events.Emitter
	log       *logrus.Entry
}

func NewPostCashoutHandler(stakes *StakeManager, verifier *BalanceVerifier, sink stats.Sink,
	history HistoryAppender, c clock.Clock, bus *events.Bus) *PostCashoutHandler {
	if sink == nil {
		sink = stats.Nop{}
	}
	if verifier == nil {
		verifier = NewBalanceVerifier(nil)
	}
	if c == nil {
		c = clock.Real{}
	}
	return &PostCashoutHandler{
		Stakes:   stakes,
		Verifier: verifier,
		Sink:     sink,
		History:  history,
		clock:    c,
		emit:     events.Emitter{Bus: bus, Source: "outcome"},
		log:      logrus.WithField("component", "outcome"),
	}
}

// HandlePostCashout settles the round: outcome, winnings, balance check,
// next stake, stats and history, in that order.
func (h *PostCashoutHandler) HandlePostCashout(ctx context.Context, in Input) Summary {
	o := ProcessOutcome(in.CashoutSuccess, in.CrashDetected, in.MonitoringCompleted)
	winnings, profit := Settle(o, in.Stake, in.FinalMultiplier)

	check := h.Verifier.Verify(ctx, o)
	if check.Checked && !check.Match {
		h.log.Warnf("⚠️  balance moved %s but outcome was %s (advisory)", check.Delta, o)
		h.emit.Emit(events.BalanceMismatch, h.clock.Now(), map[string]any{
			"outcome":  string(o),
			"expected": check.Expected,
			"delta":    check.Delta.String(),
		})
	}

	s := Summary{
		RoundID:          uuid.NewString(),
		SignalID:         in.SignalID,
		Prediction:       in.Prediction,
		Confidence:       in.Confidence,
		TargetMultiplier: in.TargetMultiplier,
		Position:         in.Position,
		Stake:            in.Stake,
		FinalMultiplier:  in.FinalMultiplier,
		Winnings:         winnings,
		Profit:           profit,
		Outcome:          o,
		NewStake:         h.Stakes.AdjustStake(o, in.Stake),
		Interpretation:   in.Interpretation,
		Balance:          check,
		SettledAt:        h.clock.Now(),
	}

	if err := stats.Record(h.Sink, stats.Event{
		Kind:       stats.RoundOutcome,
		Time:       s.SettledAt,
		SessionID:  h.SessionID,
		Stake:      s.Stake,
		Profit:     s.Profit,
		Multiplier: s.FinalMultiplier,
		Outcome:    string(o),
	}); err != nil {
		h.log.Warnf("⚠️  failed to record round stats: %v", err)
	}
	if h.History != nil {
		h.History.AppendRound(s)
	}

	h.log.Infof("📊 round %s: %s at %.2fx, profit %s, next stake %s", s.RoundID[:8], o, s.FinalMultiplier, s.Profit, s.NewStake)
	h.emit.Emit(events.RoundOutcome, s.SettledAt, map[string]any{
		"round_id":         s.RoundID,
		"outcome":          string(o),
		"stake":            s.Stake.String(),
		"profit":           s.Profit.String(),
		"new_stake":        s.NewStake.String(),
		"final_multiplier": s.FinalMultiplier,
	})
	return s
}

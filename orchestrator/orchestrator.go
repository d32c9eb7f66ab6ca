// Package orchestrator drives one betting round through its six phases
// and owns the session's continue/stop decision.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"crashpilot/bet"
	"crashpilot/cashout"
	"crashpilot/clock"
	"crashpilot/config"
	"crashpilot/db"
	"crashpilot/events"
	"crashpilot/monitor"
	"crashpilot/outcome"
	"crashpilot/risk"
	"crashpilot/sensor"
	"crashpilot/signal"
	"crashpilot/state"
)

type Phase string

const (
	PhaseSignal   Phase = "signal"
	PhasePreBet   Phase = "pre_bet"
	PhaseBet      Phase = "bet"
	PhaseMonitor  Phase = "monitoring"
	PhaseCashout  Phase = "cashout"
	PhaseSettle   Phase = "post_cashout"
	PhaseComplete Phase = "complete"
)

// ActuationOwner is the gate owner name for entry and exit clicks.
const ActuationOwner = "betting"

type Config struct {
	MaxConsecutiveLosses int
	MaxStake             decimal.Decimal
	DualPosition         bool
	AggressiveMultiplier float64
	BetWindowTimeout     time.Duration
	BetWindowPoll        time.Duration
	NoSignalWait         time.Duration
}

func FromConfig(c *config.Config) Config {
	return Config{
		MaxConsecutiveLosses: c.Session.MaxConsecutiveLosses,
		MaxStake:             decimal.NewFromFloat(c.Session.MaxStake),
		DualPosition:         c.Session.DualPosition,
		AggressiveMultiplier: c.Session.AggressiveMultiplier,
		BetWindowTimeout:     config.BetWindowTimeout,
		BetWindowPoll:        config.BetWindowPoll,
		NoSignalWait:         config.NoSignalWait,
	}
}

// Deps are the collaborators a round runs through. Gate, Validator,
// StakeInput, Ledger, Store and Breaker are optional.
type Deps struct {
	Sensor     sensor.MultiplierSensor
	Gate       *sensor.Gate
	StakeInput sensor.StakeInput
	Signals    signal.Gate
	Validator  PreBetValidator
	Bets       *bet.Orchestrator
	Monitor    *monitor.Orchestrator
	Cashout    *cashout.Orchestrator
	Post       *outcome.PostCashoutHandler
	Session    *state.Session
	Ledger     *db.AsyncLedger
	Store      *db.RedisStore
	Breaker    *risk.CircuitBreaker
	Clock      clock.Clock
	Bus        *events.Bus
}

// RoundResult is what one pass through the phases produced. Phase is the
// last phase entered; FailureReason is tagged with it on failure.
type RoundResult struct {
	RoundID       string           `json:"roundId"`
	Success       bool             `json:"success"`
	Phase         Phase            `json:"phase"`
	FailureReason string           `json:"failureReason,omitempty"`
	Signal        signal.Signal    `json:"signal"`
	Rejections    []string         `json:"rejections,omitempty"`
	Stake         decimal.Decimal  `json:"stake"`
	Bet           *bet.Record      `json:"bet,omitempty"`
	Monitoring    *monitor.Result  `json:"monitoring,omitempty"`
	Cashout       *cashout.Record  `json:"cashout,omitempty"`
	Summary       *outcome.Summary `json:"summary,omitempty"`
	StartedAt     time.Time        `json:"startedAt"`
	EndedAt       time.Time        `json:"endedAt"`
}

// Settled reports whether the stake was committed and settled.
func (r RoundResult) Settled() bool { return r.Summary != nil }

// SignalRejected reports whether the round stopped at the signal gate.
func (r RoundResult) SignalRejected() bool {
	return r.Phase == PhaseSignal && r.FailureReason != ""
}

// BettingOrchestrator is not safe for concurrent rounds; Run and RunRound
// must be called from one goroutine.
type BettingOrchestrator struct {
	cfg  Config
	deps Deps

	clock clock.Clock
	emit  events.Emitter
	log   *logrus.Entry
}

func New(cfg Config, d Deps) *BettingOrchestrator {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Session == nil {
		d.Session = state.NewSession(decimal.Zero, config.RoundHistoryLimit)
	}
	if d.Validator == nil {
		d.Validator = StateValidator{Sensor: d.Sensor, Session: d.Session, MaxStake: cfg.MaxStake, Breaker: d.Breaker}
	}
	if cfg.BetWindowPoll <= 0 {
		cfg.BetWindowPoll = config.BetWindowPoll
	}
	if cfg.NoSignalWait <= 0 {
		cfg.NoSignalWait = config.NoSignalWait
	}
	if d.Post != nil && d.Post.History == nil {
		d.Post.History = d.Session
	}
	if d.Bets != nil && d.Bets.SessionID == "" {
		d.Bets.SessionID = d.Session.ID
	}
	if d.Cashout != nil && d.Cashout.SessionID == "" {
		d.Cashout.SessionID = d.Session.ID
	}
	if d.Post != nil && d.Post.SessionID == "" {
		d.Post.SessionID = d.Session.ID
	}
	return &BettingOrchestrator{
		cfg:   cfg,
		deps:  d,
		clock: d.Clock,
		emit:  events.Emitter{Bus: d.Bus, Source: "orchestrator"},
		log:   logrus.WithField("component", "orchestrator"),
	}
}

func (o *BettingOrchestrator) Session() *state.Session { return o.deps.Session }

// ShouldContinue is false once the loss streak reaches the limit or the
// stake exceeds the cap.
func (o *BettingOrchestrator) ShouldContinue() bool {
	s := o.deps.Session
	if o.cfg.MaxConsecutiveLosses > 0 && s.LossStreak() >= o.cfg.MaxConsecutiveLosses {
		return false
	}
	if o.cfg.MaxStake.IsPositive() && s.Stake().GreaterThan(o.cfg.MaxStake) {
		return false
	}
	return true
}

// RunRound runs the six phases for one signal. A failing phase returns
// immediately with a tagged reason, except a failed cashout, which still
// settles because the stake is already committed. The error is non-nil
// only when ctx ends mid-round.
func (o *BettingOrchestrator) RunRound(ctx context.Context, sig signal.Signal) (RoundResult, error) {
	res := RoundResult{
		RoundID:   uuid.NewString(),
		Signal:    sig,
		Phase:     PhaseSignal,
		StartedAt: o.clock.Now(),
	}
	defer func() {
		res.EndedAt = o.clock.Now()
		o.recordRound(res)
	}()

	// 1. signal gate
	reasons := o.deps.Signals.Validate(sig)
	o.recordSignal(sig, reasons)
	if len(reasons) > 0 {
		res.Rejections = reasons
		o.fail(&res, "signal_rejected", reasons...)
		o.emit.Emit(events.SignalRejected, o.clock.Now(), map[string]any{
			"signal_id": sig.ID,
			"reasons":   reasons,
		})
		return res, nil
	}
	o.emit.Emit(events.SignalAccepted, o.clock.Now(), map[string]any{
		"signal_id":  sig.ID,
		"confidence": sig.Confidence,
		"target":     sig.TargetMultiplier,
		"position":   sig.Position,
	})

	// 2. pre-bet checks
	res.Phase = PhasePreBet
	res.Stake = o.deps.Session.Stake()
	if reasons := o.deps.Validator.Validate(ctx, res.Stake); len(reasons) > 0 {
		o.fail(&res, "pre_bet_failed", reasons...)
		return res, nil
	}

	release, err := o.acquire(ctx)
	if err != nil {
		return res, err
	}
	defer release()

	if o.deps.StakeInput != nil {
		if err := o.deps.StakeInput.SetStake(ctx, res.Stake); err != nil {
			o.fail(&res, "pre_bet_failed", fmt.Sprintf("stake input: %v", err))
			return res, nil
		}
	}
	o.deps.Post.Verifier.Snapshot(ctx)

	// 3. bet
	res.Phase = PhaseBet
	br := o.deps.Bets.PlaceBet(ctx, res.Stake)
	res.Bet = &br
	o.observePort(br.Click.Err)
	if !br.Success {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		o.fail(&res, "bet_failed", br.Reason)
		return res, nil
	}
	o.deps.Session.SetActiveBet(true)
	defer o.deps.Session.SetActiveBet(false)

	// 4. monitor
	res.Phase = PhaseMonitor
	mr, err := o.deps.Monitor.Run(ctx, sig.TargetMultiplier)
	res.Monitoring = &mr
	if err != nil {
		return res, err
	}
	if !mr.Completed {
		// the bet may still be open; settle nothing, the next round's
		// pre-bet check sees the table as it is
		o.fail(&res, "monitoring_failed", mr.Reason)
		return res, nil
	}

	// 5. cashout
	in := outcome.Input{
		SignalID:            sig.ID,
		Prediction:          sig.Prediction,
		Confidence:          sig.Confidence,
		TargetMultiplier:    sig.TargetMultiplier,
		Position:            sig.Position,
		Stake:               res.Stake,
		FinalMultiplier:     mr.FinalMultiplier(),
		MonitoringCompleted: mr.Outcome == monitor.OutcomeTargetReached,
		CrashDetected:       mr.Outcome == monitor.OutcomeCrash,
	}
	if mr.Outcome != monitor.OutcomeCrash {
		res.Phase = PhaseCashout
		cr, err := o.deps.Cashout.ExecuteCashout(ctx, mr.FinalMultiplier())
		res.Cashout = &cr
		if !cr.Click.Skipped {
			o.observePort(cr.Click.Err)
		}
		if err != nil {
			return res, err
		}
		in.CashoutSuccess = cr.Success
		in.Interpretation = string(cr.Interpretation)
		if cr.Interpretation.EndedBeforeExit() {
			in.CrashDetected = true
		}
		if !cr.Success {
			o.fail(&res, "cashout_failed", string(cr.Interpretation))
		}
	}

	// 6. settle
	res.Phase = PhaseSettle
	summary := o.deps.Post.HandlePostCashout(ctx, in)
	res.Summary = &summary
	res.RoundID = summary.RoundID
	if res.FailureReason == "" {
		res.Phase = PhaseComplete
		res.Success = true
	}
	o.saveSession(ctx)
	return res, nil
}

// DualResult holds both positions of a dual-position round. Aggressive is
// nil unless the conservative signal was rejected at the gate.
type DualResult struct {
	Conservative RoundResult  `json:"conservative"`
	Aggressive   *RoundResult `json:"aggressive,omitempty"`
}

// RunDualPosition tries the conservative signal first and falls back to
// the aggressive one only when the conservative one is rejected. A
// conservative loss does not trigger the second position.
func (o *BettingOrchestrator) RunDualPosition(ctx context.Context, conservative, aggressive signal.Signal) (DualResult, error) {
	var out DualResult
	res, err := o.RunRound(ctx, conservative)
	out.Conservative = res
	if err != nil || !res.SignalRejected() {
		return out, err
	}
	o.log.Infof("🎲 conservative signal rejected, trying aggressive target %.2fx", aggressive.TargetMultiplier)
	agg, err := o.RunRound(ctx, aggressive)
	out.Aggressive = &agg
	return out, err
}

// Aggressive derives the second-position signal from a conservative one.
func (o *BettingOrchestrator) Aggressive(sig signal.Signal) signal.Signal {
	agg := sig
	agg.ID = sig.ID + "-agg"
	agg.Position = 2
	if o.cfg.AggressiveMultiplier > 0 {
		agg.TargetMultiplier = o.cfg.AggressiveMultiplier
	}
	return agg
}

func (o *BettingOrchestrator) acquire(ctx context.Context) (func(), error) {
	if o.deps.Gate == nil {
		return func() {}, nil
	}
	return o.deps.Gate.Acquire(ctx, ActuationOwner)
}

func (o *BettingOrchestrator) fail(res *RoundResult, tag string, reasons ...string) {
	res.FailureReason = tag + ": " + strings.Join(reasons, "; ")
	o.log.Warnf("⚠️  round %s stopped in %s: %s", res.RoundID[:8], res.Phase, res.FailureReason)
	o.emit.Emit(events.PhaseFailed, o.clock.Now(), map[string]any{
		"round_id": res.RoundID,
		"phase":    string(res.Phase),
		"reason":   res.FailureReason,
	})
}

func (o *BettingOrchestrator) observePort(err error) {
	if err == nil {
		o.deps.Breaker.OnSuccess()
		return
	}
	o.deps.Breaker.OnError(err)
	o.log.Errorf("❌ actuation port error (%d in a row): %v", o.deps.Breaker.ConsecutiveErrors(), err)
}

func (o *BettingOrchestrator) recordSignal(sig signal.Signal, reasons []string) {
	o.deps.Ledger.InsertSignal(db.SignalRow{
		SignalID:         sig.ID,
		SessionID:        o.deps.Session.ID,
		Prediction:       sig.Prediction,
		Confidence:       sig.Confidence,
		TargetMultiplier: sig.TargetMultiplier,
		Strategy:         sig.Strategy,
		Source:           sig.Source,
		Accepted:         len(reasons) == 0,
		Reasons:          reasons,
		Features:         sig.Features,
		CreatedAt:        o.clock.Now(),
	})
}

// recordRound stores every round that reached the bet phase.
func (o *BettingOrchestrator) recordRound(res RoundResult) {
	if res.Bet == nil {
		return
	}
	row := db.RoundRow{
		RoundID:          res.RoundID,
		SessionID:        o.deps.Session.ID,
		SignalID:         res.Signal.ID,
		Phase:            string(res.Phase),
		FailureReason:    res.FailureReason,
		Stake:            res.Stake,
		NewStake:         o.deps.Session.Stake(),
		TargetMultiplier: res.Signal.TargetMultiplier,
		CreatedAt:        res.EndedAt,
	}
	if res.Monitoring != nil {
		row.FinalMultiplier = res.Monitoring.FinalMultiplier()
	}
	if s := res.Summary; s != nil {
		row.Outcome = string(s.Outcome)
		row.Winnings = s.Winnings
		row.Profit = s.Profit
		row.NewStake = s.NewStake
		row.FinalMultiplier = s.FinalMultiplier
		row.Interpretation = s.Interpretation
		row.BalanceChecked = s.Balance.Checked
		row.BalanceMatch = s.Balance.Match
	}
	o.deps.Ledger.InsertRound(row)
}

func (o *BettingOrchestrator) saveSession(ctx context.Context) {
	s := o.deps.Session
	if err := o.deps.Store.SaveSession(ctx, s.ID, s.Snapshot()); err != nil {
		o.log.Warnf("⚠️  failed to save session snapshot: %v", err)
	}
}

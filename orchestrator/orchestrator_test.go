package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashpilot/bet"
	"crashpilot/cashout"
	"crashpilot/clock"
	"crashpilot/color"
	"crashpilot/events"
	"crashpilot/monitor"
	"crashpilot/outcome"
	"crashpilot/risk"
	"crashpilot/sensor"
	"crashpilot/sensor/sensortest"
	"crashpilot/signal"
	"crashpilot/state"
	"crashpilot/stats"
)

var (
	t0      = time.Date(2026, 2, 1, 20, 0, 0, 0, time.UTC)
	betPt   = sensor.Point{X: 100, Y: 500}
	cashPt  = sensor.Point{X: 300, Y: 500}
	green   = sensor.RGB{R: 46, G: 204, B: 64}
	blue    = sensor.RGB{R: 30, G: 110, B: 230}
	orange  = sensor.RGB{R: 245, G: 140, B: 30}
	ten     = decimal.NewFromInt(10)
	hundred = decimal.NewFromInt(100)
)

type rig struct {
	orch    *BettingOrchestrator
	clock   *clock.Fake
	sensor  *sensortest.Multiplier
	act     *sensortest.Actuator
	rec     *events.Recorder
	mem     *stats.Memory
	session *state.Session
	breaker *risk.CircuitBreaker

	mu        sync.Mutex
	betColors []sensor.RGB
	cashColor []sensor.RGB
	betN      int
	cashN     int
}

func scripted(list []sensor.RGB, n int) sensor.RGB {
	if n >= len(list) {
		return list[len(list)-1]
	}
	return list[n]
}

func (r *rig) sample(pt sensor.Point) (sensor.RGB, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pt == betPt {
		c := scripted(r.betColors, r.betN)
		r.betN++
		return c, true
	}
	c := scripted(r.cashColor, r.cashN)
	r.cashN++
	return c, true
}

type rigOpts struct {
	readings  []sensor.Reading
	betColors []sensor.RGB
	cashColor []sensor.RGB
	balances  []string
	dual      bool
}

func newRig(t *testing.T, o rigOpts) *rig {
	t.Helper()
	if o.betColors == nil {
		o.betColors = []sensor.RGB{green, orange}
	}
	if o.cashColor == nil {
		o.cashColor = []sensor.RGB{green, green, green, blue}
	}
	r := &rig{
		clock:     clock.NewFake(t0),
		sensor:    &sensortest.Multiplier{Script: o.readings},
		act:       &sensortest.Actuator{},
		rec:       &events.Recorder{},
		mem:       stats.NewMemory(0),
		session:   state.NewSession(ten, 100),
		breaker:   risk.NewCircuitBreaker(risk.CircuitBreakerConfig{MaxConsecutiveErrors: 3}),
		betColors: o.betColors,
		cashColor: o.cashColor,
	}
	bus := events.NewBus(r.rec)
	probe := &sensortest.Probe{Fn: r.sample}
	bal := &sensortest.Balance{}
	for _, b := range o.balances {
		bal.Values = append(bal.Values, decimal.RequireFromString(b))
	}
	gate := sensor.NewGate(r.act)
	port := gate.Port(ActuationOwner)

	betCfg := bet.DefaultConfig()
	betCfg.Point = betPt
	betMgr := bet.NewManager(betCfg, port, probe, color.Default(), bal, r.clock, bus)

	cashCfg := cashout.DefaultConfig()
	cashCfg.Point = cashPt
	exec := cashout.NewExecutor(cashCfg, port, probe, color.Default(), r.clock, bus)

	mon := monitor.New(monitor.DefaultConfig(), r.sensor, r.clock, bus)
	post := outcome.NewPostCashoutHandler(outcome.NewStakeManager(10, 100, 20),
		outcome.NewBalanceVerifier(bal), r.mem, nil, r.clock, bus)

	r.orch = New(Config{
		MaxConsecutiveLosses: 3,
		MaxStake:             hundred,
		DualPosition:         o.dual,
		AggressiveMultiplier: 2.0,
	}, Deps{
		Sensor:  r.sensor,
		Gate:    gate,
		Signals: signal.Gate{MinConfidence: 0.6, MinTarget: 1.01, MaxTarget: 100},
		Bets:    bet.NewOrchestrator(betMgr, r.mem),
		Monitor: monitor.NewOrchestrator(mon),
		Cashout: cashout.NewOrchestrator(exec, r.mem),
		Post:    post,
		Session: r.session,
		Breaker: r.breaker,
		Clock:   r.clock,
		Bus:     bus,
	})
	return r
}

func betSignal(conf, target float64) signal.Signal {
	return signal.Signal{
		ID:               "sig-1",
		Prediction:       signal.PredictionBet,
		Confidence:       conf,
		TargetMultiplier: target,
		Position:         1,
	}
}

func winningReadings(peak float64) []sensor.Reading {
	return []sensor.Reading{
		sensortest.Value(1.0, sensor.StatusWaiting),
		sensortest.Value(1.1, sensor.StatusRunning),
		sensortest.Value(1.2, sensor.StatusRunning),
		sensortest.Value(peak, sensor.StatusRunning),
	}
}

func TestRunRoundEndToEndWin(t *testing.T) {
	r := newRig(t, rigOpts{
		readings: winningReadings(1.3),
		balances: []string{"1000", "1000", "1003"},
	})

	res, err := r.orch.RunRound(context.Background(), betSignal(0.8, 1.3))
	require.NoError(t, err)

	require.True(t, res.Success, res.FailureReason)
	assert.Equal(t, PhaseComplete, res.Phase)
	require.NotNil(t, res.Bet)
	assert.Equal(t, 1, res.Bet.Verify.Attempts)
	require.NotNil(t, res.Monitoring)
	assert.Equal(t, monitor.OutcomeTargetReached, res.Monitoring.Outcome)
	require.NotNil(t, res.Cashout)
	assert.Equal(t, cashout.CashoutSuccess, res.Cashout.Interpretation)

	s := res.Summary
	require.NotNil(t, s)
	assert.Equal(t, outcome.Win, s.Outcome)
	assert.True(t, s.Profit.Equal(ten.Mul(decimal.RequireFromString("0.3"))), s.Profit.String())
	assert.True(t, s.NewStake.Equal(ten.Mul(decimal.RequireFromString("1.2"))), s.NewStake.String())
	assert.True(t, s.Balance.Match)
	assert.Equal(t, res.RoundID, s.RoundID)

	assert.True(t, r.session.Stake().Equal(decimal.NewFromInt(12)))
	assert.Equal(t, 0, r.session.LossStreak())
	assert.False(t, r.session.HasActiveBet())
	assert.Len(t, r.session.History(), 1)

	assert.Equal(t, []sensor.Point{betPt, cashPt}, r.act.Clicks())
	assert.Equal(t, 1, r.rec.Count(events.SignalAccepted))
	assert.Equal(t, 1, r.rec.Count(events.RoundOutcome))
	assert.Zero(t, r.rec.Count(events.PhaseFailed))

	totals := r.mem.Totals()
	assert.Equal(t, 1, totals.BetsPlaced)
	assert.Equal(t, 1, totals.CashoutsSuccess)
	assert.Equal(t, 1, totals.Wins)
}

func TestRunRoundGameStartTimeout(t *testing.T) {
	r := newRig(t, rigOpts{
		readings: []sensor.Reading{sensortest.Value(1.0, sensor.StatusWaiting)},
	})

	res, err := r.orch.RunRound(context.Background(), betSignal(0.8, 1.3))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, PhaseMonitor, res.Phase)
	assert.Equal(t, "monitoring_failed: game_start_timeout", res.FailureReason)
	require.NotNil(t, res.Monitoring)
	assert.False(t, res.Monitoring.Start.Started)
	assert.Nil(t, res.Cashout)
	assert.Nil(t, res.Summary)
	assert.Equal(t, []sensor.Point{betPt}, r.act.Clicks())
	assert.False(t, r.session.HasActiveBet())
}

func TestRunRoundSignalRejected(t *testing.T) {
	r := newRig(t, rigOpts{readings: winningReadings(1.3)})

	res, err := r.orch.RunRound(context.Background(), betSignal(0.3, 1.3))
	require.NoError(t, err)

	assert.True(t, res.SignalRejected())
	assert.Equal(t, "signal_rejected: confidence 0.30 < 0.60", res.FailureReason)
	assert.Empty(t, r.act.Clicks())
	assert.Zero(t, r.sensor.Calls())
	assert.Equal(t, 1, r.rec.Count(events.SignalRejected))
}

func TestRunRoundPreBetFailures(t *testing.T) {
	r := newRig(t, rigOpts{readings: winningReadings(1.3)})
	r.session.SetActiveBet(true)

	res, err := r.orch.RunRound(context.Background(), betSignal(0.8, 1.3))
	require.NoError(t, err)
	assert.Equal(t, PhasePreBet, res.Phase)
	assert.Equal(t, "pre_bet_failed: bet already active", res.FailureReason)
	assert.Empty(t, r.act.Clicks())

	r = newRig(t, rigOpts{readings: []sensor.Reading{sensortest.Value(0, sensor.StatusCrashed)}})
	res, err = r.orch.RunRound(context.Background(), betSignal(0.8, 1.3))
	require.NoError(t, err)
	assert.Equal(t, "pre_bet_failed: game crashed", res.FailureReason)

	r = newRig(t, rigOpts{readings: []sensor.Reading{sensortest.Lost()}})
	r.breaker.Halt()
	res, err = r.orch.RunRound(context.Background(), betSignal(0.8, 1.3))
	require.NoError(t, err)
	assert.Equal(t, "pre_bet_failed: sensor not functional; circuit breaker open", res.FailureReason)
}

func TestRunRoundBetVerificationFails(t *testing.T) {
	r := newRig(t, rigOpts{
		readings:  winningReadings(1.3),
		betColors: []sensor.RGB{green},
		balances:  []string{"1000"},
	})

	res, err := r.orch.RunRound(context.Background(), betSignal(0.8, 1.3))
	require.NoError(t, err)
	assert.Equal(t, PhaseBet, res.Phase)
	assert.Equal(t, "bet_failed: verification_failed", res.FailureReason)
	assert.Nil(t, res.Monitoring)
	assert.Equal(t, 1, r.mem.Totals().BetsFailed)
}

func TestRunRoundCrashSkipsCashout(t *testing.T) {
	r := newRig(t, rigOpts{
		readings: []sensor.Reading{
			sensortest.Value(1.0, sensor.StatusWaiting),
			sensortest.Value(1.1, sensor.StatusRunning),
			sensortest.Value(1.2, sensor.StatusRunning),
			sensortest.Value(0, sensor.StatusCrashed),
		},
		balances: []string{"1000", "1000", "990"},
	})

	res, err := r.orch.RunRound(context.Background(), betSignal(0.8, 1.3))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Nil(t, res.Cashout)
	require.NotNil(t, res.Summary)
	assert.Equal(t, outcome.Loss, res.Summary.Outcome)
	assert.True(t, res.Summary.Profit.Equal(ten.Neg()))
	assert.True(t, res.Summary.NewStake.Equal(ten))
	assert.Equal(t, 1, r.session.LossStreak())
	assert.Equal(t, []sensor.Point{betPt}, r.act.Clicks())
}

func TestRunRoundCashoutFailureStillSettles(t *testing.T) {
	r := newRig(t, rigOpts{
		readings:  winningReadings(1.3),
		cashColor: []sensor.RGB{orange},
	})

	res, err := r.orch.RunRound(context.Background(), betSignal(0.8, 1.3))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, PhaseSettle, res.Phase)
	assert.Equal(t, "cashout_failed: WAITING_NEXT_ROUND", res.FailureReason)
	require.NotNil(t, res.Summary)
	assert.Equal(t, outcome.Loss, res.Summary.Outcome)
	assert.True(t, res.Cashout.Click.Skipped)
	assert.Equal(t, []sensor.Point{betPt}, r.act.Clicks())
}

func TestRunRoundSkippedCashoutLeavesBreakerAlone(t *testing.T) {
	r := newRig(t, rigOpts{
		readings:  winningReadings(1.3),
		cashColor: []sensor.RGB{orange},
	})
	// port errors land between the bet click and the cashout check
	r.orch.deps.Bus.Subscribe(events.SubscriberFunc(func(e events.Event) {
		if e.Type == events.TargetReached {
			r.breaker.OnError(errors.New("mouse driver hiccup"))
			r.breaker.OnError(errors.New("mouse driver hiccup"))
		}
	}))

	res, err := r.orch.RunRound(context.Background(), betSignal(0.8, 1.3))
	require.NoError(t, err)
	require.NotNil(t, res.Cashout)
	assert.True(t, res.Cashout.Click.Skipped)
	assert.Equal(t, int64(2), r.breaker.ConsecutiveErrors(), "a click that never happened is not a port success")
}

func TestRunRoundActuationErrorsFeedBreaker(t *testing.T) {
	r := newRig(t, rigOpts{readings: winningReadings(1.3)})
	r.act.Err = errors.New("mouse driver gone")

	for i := 0; i < 3; i++ {
		res, err := r.orch.RunRound(context.Background(), betSignal(0.8, 1.3))
		require.NoError(t, err)
		assert.Equal(t, "bet_failed: click_failed", res.FailureReason)
	}
	assert.Equal(t, int64(3), r.breaker.ConsecutiveErrors())
	assert.ErrorIs(t, r.breaker.Allow(), risk.ErrCircuitBreakerOpen)
}

func TestShouldContinue(t *testing.T) {
	r := newRig(t, rigOpts{})
	assert.True(t, r.orch.ShouldContinue())

	loss := outcome.Summary{Outcome: outcome.Loss, NewStake: ten, Profit: ten.Neg()}
	r.session.AppendRound(loss)
	r.session.AppendRound(loss)
	assert.True(t, r.orch.ShouldContinue())
	r.session.AppendRound(loss)
	assert.False(t, r.orch.ShouldContinue())

	r.session.AppendRound(outcome.Summary{Outcome: outcome.Win, NewStake: hundred})
	assert.True(t, r.orch.ShouldContinue(), "stake equal to the cap is allowed")

	snap := r.session.Snapshot()
	snap.CurrentStake = decimal.NewFromInt(101)
	r.session.Restore(snap)
	assert.False(t, r.orch.ShouldContinue())
}

func TestRunDualPosition(t *testing.T) {
	r := newRig(t, rigOpts{readings: winningReadings(2.0), dual: true})

	cons := betSignal(0.8, 150) // outside the target range
	out, err := r.orch.RunDualPosition(context.Background(), cons, r.orch.Aggressive(cons))
	require.NoError(t, err)
	assert.True(t, out.Conservative.SignalRejected())
	require.NotNil(t, out.Aggressive)
	assert.Equal(t, 2, out.Aggressive.Signal.Position)
	assert.Equal(t, 2.0, out.Aggressive.Signal.TargetMultiplier)
	require.True(t, out.Aggressive.Success, out.Aggressive.FailureReason)
	assert.Equal(t, outcome.Win, out.Aggressive.Summary.Outcome)
	assert.True(t, out.Aggressive.Summary.Profit.Equal(ten))
}

func TestRunDualPositionLossDoesNotTriggerSecond(t *testing.T) {
	r := newRig(t, rigOpts{
		readings: []sensor.Reading{
			sensortest.Value(1.0, sensor.StatusWaiting),
			sensortest.Value(1.1, sensor.StatusRunning),
			sensortest.Value(0, sensor.StatusCrashed),
		},
		dual: true,
	})
	cons := betSignal(0.8, 1.3)
	out, err := r.orch.RunDualPosition(context.Background(), cons, r.orch.Aggressive(cons))
	require.NoError(t, err)
	assert.Equal(t, outcome.Loss, out.Conservative.Summary.Outcome)
	assert.Nil(t, out.Aggressive)
}

type sourceFunc func(ctx context.Context) (signal.Signal, error)

func (f sourceFunc) Next(ctx context.Context) (signal.Signal, error) { return f(ctx) }

func TestRunStopsWhenSourceCloses(t *testing.T) {
	r := newRig(t, rigOpts{readings: []sensor.Reading{sensortest.Value(1.0, sensor.StatusWaiting)}})
	src := signal.NewStaticSource(betSignal(0.1, 1.3), betSignal(0.2, 1.3))

	reason, err := r.orch.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, StopSourceClosed, reason)
	assert.Equal(t, 2, r.rec.Count(events.SignalRejected))
	assert.Equal(t, 1, r.rec.Count(events.SessionStopped))
	assert.True(t, r.session.Snapshot().Stopped)
}

func TestRunStopsOnLimitsAndBreaker(t *testing.T) {
	never := sourceFunc(func(ctx context.Context) (signal.Signal, error) {
		t.Fatal("source should not be polled")
		return signal.Signal{}, nil
	})

	r := newRig(t, rigOpts{})
	loss := outcome.Summary{Outcome: outcome.Loss, NewStake: ten}
	for i := 0; i < 3; i++ {
		r.session.AppendRound(loss)
	}
	reason, err := r.orch.Run(context.Background(), never)
	require.NoError(t, err)
	assert.Equal(t, StopLimits, reason)

	r = newRig(t, rigOpts{})
	r.breaker.Halt()
	reason, err = r.orch.Run(context.Background(), never)
	require.NoError(t, err)
	assert.Equal(t, StopActuation, reason)
}

func TestRunWaitsOnNoSignalUntilCancelled(t *testing.T) {
	r := newRig(t, rigOpts{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	polls := 0
	src := sourceFunc(func(ctx context.Context) (signal.Signal, error) {
		polls++
		if polls == 5 {
			cancel()
		}
		return signal.Signal{}, signal.ErrNoSignal
	})
	reason, err := r.orch.Run(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, StopContextCancel, reason)
	assert.Equal(t, 5, polls)
	assert.Equal(t, t0.Add(4*500*time.Millisecond), r.clock.Now())
}

func TestRunSurfacesSourceErrors(t *testing.T) {
	r := newRig(t, rigOpts{})
	boom := errors.New("redis down")
	reason, err := r.orch.Run(context.Background(), sourceFunc(func(ctx context.Context) (signal.Signal, error) {
		return signal.Signal{}, boom
	}))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "signal_source_error", reason)
}

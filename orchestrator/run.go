package orchestrator

import (
	"context"
	"errors"

	"crashpilot/events"
	"crashpilot/sensor"
	"crashpilot/signal"
)

// Stop reasons reported by Run.
const (
	StopLimits        = "session_limits"
	StopActuation     = "actuation_errors"
	StopSourceClosed  = "signal_source_closed"
	StopContextCancel = "context_cancelled"
)

// Run pulls signals and plays rounds until ShouldContinue turns false,
// the breaker opens, the source closes or ctx ends. It returns the stop
// reason; the error is non-nil only for a source failure.
func (o *BettingOrchestrator) Run(ctx context.Context, source signal.Source) (string, error) {
	o.log.Infof("🚀 betting loop started (session %s, stake %s)", o.deps.Session.ID, o.deps.Session.Stake())

	for {
		if ctx.Err() != nil {
			return o.stop(StopContextCancel), nil
		}
		if !o.ShouldContinue() {
			return o.stop(StopLimits), nil
		}
		if err := o.deps.Breaker.Allow(); err != nil {
			return o.stop(StopActuation), nil
		}

		sig, err := source.Next(ctx)
		switch {
		case errors.Is(err, signal.ErrNoSignal):
			if err := o.clock.Sleep(ctx, o.cfg.NoSignalWait); err != nil {
				return o.stop(StopContextCancel), nil
			}
			continue
		case errors.Is(err, signal.ErrSourceClosed):
			return o.stop(StopSourceClosed), nil
		case err != nil:
			if ctx.Err() != nil {
				return o.stop(StopContextCancel), nil
			}
			o.log.Errorf("❌ signal source failed: %v", err)
			return o.stop("signal_source_error"), err
		}

		o.awaitBettingWindow(ctx)

		if o.cfg.DualPosition {
			_, err = o.RunDualPosition(ctx, sig, o.Aggressive(sig))
		} else {
			_, err = o.RunRound(ctx, sig)
		}
		if err != nil {
			return o.stop(StopContextCancel), nil
		}
	}
}

// awaitBettingWindow polls until the table is between rounds or the
// window timeout passes. The pre-bet checks judge whatever state is left.
func (o *BettingOrchestrator) awaitBettingWindow(ctx context.Context) {
	if o.deps.Sensor == nil || o.cfg.BetWindowTimeout <= 0 {
		return
	}
	deadline := o.clock.Now().Add(o.cfg.BetWindowTimeout)
	for o.clock.Now().Before(deadline) {
		r := o.deps.Sensor.ReadWithStatus(ctx)
		if r.Status == sensor.StatusWaiting {
			return
		}
		if err := o.clock.Sleep(ctx, o.cfg.BetWindowPoll); err != nil {
			return
		}
	}
	o.log.Warn("⏳ betting window did not open in time")
}

func (o *BettingOrchestrator) stop(reason string) string {
	s := o.deps.Session
	s.Stop(reason)
	snap := s.Snapshot()
	o.log.Infof("🛑 betting loop stopped: %s (rounds=%d wins=%d losses=%d net=%s)",
		reason, snap.Rounds, snap.Wins, snap.Losses, snap.NetProfit)
	o.emit.Emit(events.SessionStopped, o.clock.Now(), map[string]any{
		"reason":     reason,
		"rounds":     snap.Rounds,
		"net_profit": snap.NetProfit.String(),
		"stake":      snap.CurrentStake.String(),
	})
	o.saveSession(context.Background())
	return reason
}

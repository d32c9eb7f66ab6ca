package cashout

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"crashpilot/events"
	"crashpilot/stats"
)

// Record is the exit half of a round.
type Record struct {
	FinalMultiplier float64        `json:"finalMultiplier"`
	Click           ClickResult    `json:"click"`
	Sequence        []string       `json:"sequence"`
	Interpretation  Interpretation `json:"interpretation"`
	Success         bool           `json:"success"`
	StartedAt       time.Time      `json:"startedAt"`
	Duration        time.Duration  `json:"duration"`
}

type Orchestrator struct {
	Executor  *Executor
	Sink      stats.Sink
	SessionID string
}

func NewOrchestrator(e *Executor, sink stats.Sink) *Orchestrator {
	if sink == nil {
		sink = stats.Nop{}
	}
	return &Orchestrator{Executor: e, Sink: sink}
}

// ExecuteCashout clicks when the button is available, pauses, tracks the
// color window and interprets it. The error is non-nil only if ctx ends.
func (o *Orchestrator) ExecuteCashout(ctx context.Context, finalMultiplier float64) (Record, error) {
	e := o.Executor
	rec := Record{FinalMultiplier: finalMultiplier, StartedAt: e.clock.Now()}

	rec.Click = e.ClickIfGreen(ctx)
	if err := e.clock.Sleep(ctx, e.cfg.PreTrackPause); err != nil {
		return rec, err
	}

	seq, err := e.TrackColorTransitions(ctx)
	rec.Sequence = seq
	if err != nil {
		return rec, err
	}
	rec.Interpretation = InterpretOutcome(seq)
	rec.Success = rec.Interpretation.IsSuccess()
	rec.Duration = e.clock.Now().Sub(rec.StartedAt)

	level := logrus.InfoLevel
	if !rec.Success {
		level = logrus.WarnLevel
	}
	e.log.Logf(level, "💸 cashout at %.2fx: %s (clicked=%v, %d samples)",
		finalMultiplier, rec.Interpretation, rec.Click.Clicked, len(seq))
	e.emit.Emit(events.CashoutObserved, e.clock.Now(), map[string]any{
		"interpretation":   string(rec.Interpretation),
		"success":          rec.Success,
		"clicked":          rec.Click.Clicked,
		"final_multiplier": finalMultiplier,
		"samples":          len(seq),
	})

	kind := stats.CashoutSuccess
	if !rec.Success {
		kind = stats.CashoutFailed
	}
	if err := stats.Record(o.Sink, stats.Event{
		Kind:       kind,
		Time:       e.clock.Now(),
		SessionID:  o.SessionID,
		Multiplier: finalMultiplier,
		Reason:     string(rec.Interpretation),
	}); err != nil {
		e.log.Warnf("⚠️  failed to record cashout stats: %v", err)
	}
	return rec, nil
}

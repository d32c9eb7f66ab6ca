package monitor

import (
	"context"
)

type Outcome string

const (
	OutcomeCrash         Outcome = "CRASH"
	OutcomeTargetReached Outcome = "TARGET_REACHED"
	OutcomeTimeout       Outcome = "TIMEOUT"
)

// ReasonStartTimeout is reported when the round never started.
const ReasonStartTimeout = "game_start_timeout"

type Result struct {
	Completed bool         `json:"completed"`
	Outcome   Outcome      `json:"outcome,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Start     StartResult  `json:"start"`
	Target    TargetResult `json:"target"`
}

// FinalMultiplier is the last valid reading of the chase phase.
func (r Result) FinalMultiplier() float64 { return r.Target.FinalMultiplier }

// Orchestrator sequences the start and target phases.
type Orchestrator struct {
	Monitor *Monitor
}

func NewOrchestrator(m *Monitor) *Orchestrator {
	return &Orchestrator{Monitor: m}
}

// Run returns Completed=false with ReasonStartTimeout when no start is
// seen. Otherwise Outcome classifies how the chase ended.
func (o *Orchestrator) Run(ctx context.Context, target float64) (Result, error) {
	var res Result

	start, err := o.Monitor.WaitForGameStart(ctx)
	res.Start = start
	if err != nil {
		return res, err
	}
	if !start.Started {
		res.Reason = ReasonStartTimeout
		return res, nil
	}

	tr, err := o.Monitor.MonitorToTarget(ctx, target)
	res.Target = tr
	if err != nil {
		return res, err
	}
	res.Completed = true
	switch {
	case tr.Crashed:
		res.Outcome = OutcomeCrash
	case tr.TargetReached:
		res.Outcome = OutcomeTargetReached
	default:
		res.Outcome = OutcomeTimeout
	}
	return res, nil
}

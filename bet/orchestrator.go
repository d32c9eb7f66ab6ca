package bet

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"crashpilot/stats"
)

// Totals is the placement bookkeeping kept by the orchestrator.
type Totals struct {
	Attempts    int             `json:"attempts"`
	Placed      int             `json:"placed"`
	Failed      int             `json:"failed"`
	TotalStaked decimal.Decimal `json:"totalStaked"`
}

// Orchestrator wraps a Manager with statistics. A failing sink never
// changes the placement result.
type Orchestrator struct {
	Manager   *Manager
	Sink      stats.Sink
	SessionID string

	mu     sync.Mutex
	totals Totals
}

func NewOrchestrator(m *Manager, sink stats.Sink) *Orchestrator {
	if sink == nil {
		sink = stats.Nop{}
	}
	return &Orchestrator{Manager: m, Sink: sink}
}

func (o *Orchestrator) PlaceBet(ctx context.Context, stake decimal.Decimal) Record {
	rec := o.Manager.PlaceBetWithVerification(ctx, stake)

	o.mu.Lock()
	o.totals.Attempts++
	if rec.Success {
		o.totals.Placed++
		o.totals.TotalStaked = o.totals.TotalStaked.Add(stake)
	} else {
		o.totals.Failed++
	}
	o.mu.Unlock()

	kind := stats.BetPlaced
	if !rec.Success {
		kind = stats.BetFailed
	}
	o.record(stats.Event{
		Kind:      kind,
		Time:      o.Manager.clock.Now(),
		SessionID: o.SessionID,
		Stake:     stake,
		Reason:    rec.Reason,
	})
	return rec
}

func (o *Orchestrator) record(e stats.Event) {
	if err := stats.Record(o.Sink, e); err != nil {
		logrus.WithField("component", "bet").Warnf("⚠️  failed to record bet stats: %v", err)
	}
}

func (o *Orchestrator) Totals() Totals {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.totals
}

package orchestrator

import (
	"github.com/shopspring/decimal"

	"crashpilot/bet"
	"crashpilot/cashout"
	"crashpilot/clock"
	"crashpilot/color"
	"crashpilot/config"
	"crashpilot/db"
	"crashpilot/events"
	"crashpilot/monitor"
	"crashpilot/outcome"
	"crashpilot/risk"
	"crashpilot/sensor"
	"crashpilot/signal"
	"crashpilot/state"
	"crashpilot/stats"
)

// Ports are the table-facing collaborators. Balance and Stake may be nil.
type Ports struct {
	Multiplier sensor.MultiplierSensor
	Balance    sensor.BalanceSensor
	Actuator   sensor.ActuationPort
	Probe      sensor.ColorProbe
	Stake      sensor.StakeInput
}

// Wiring carries the session-wide sinks and stores. Everything is
// optional except Session.
type Wiring struct {
	Session *state.Session
	Stats   stats.Sink
	Ledger  *db.AsyncLedger
	Store   *db.RedisStore
	Breaker *risk.CircuitBreaker
	Clock   clock.Clock
	Bus     *events.Bus
}

// Build assembles every phase component from configuration and returns
// a ready orchestrator plus the gate its clicks go through.
func Build(cfg *config.Config, p Ports, w Wiring) (*BettingOrchestrator, *sensor.Gate) {
	if w.Clock == nil {
		w.Clock = clock.Real{}
	}
	if w.Stats == nil {
		w.Stats = stats.Nop{}
	}
	if w.Session == nil {
		w.Session = state.NewSession(decimal.NewFromFloat(cfg.Session.InitialStake), config.RoundHistoryLimit)
	}
	gate := sensor.NewGate(p.Actuator)
	port := gate.Port(ActuationOwner)
	matcher := color.FromConfig(cfg.Colors)

	bets := bet.NewManager(bet.FromConfig(cfg), port, p.Probe, matcher, p.Balance, w.Clock, w.Bus)
	exec := cashout.NewExecutor(cashout.FromConfig(cfg), port, p.Probe, matcher, w.Clock, w.Bus)
	mon := monitor.New(monitor.FromConfig(cfg.Monitor), p.Multiplier, w.Clock, w.Bus)
	stakes := outcome.NewStakeManager(cfg.Session.InitialStake, cfg.Session.MaxStake, cfg.Session.StakeIncreasePct)
	post := outcome.NewPostCashoutHandler(stakes, outcome.NewBalanceVerifier(p.Balance), w.Stats, w.Session, w.Clock, w.Bus)

	orch := New(FromConfig(cfg), Deps{
		Sensor:     p.Multiplier,
		Gate:       gate,
		StakeInput: p.Stake,
		Signals:    signal.GateFromConfig(cfg.Session),
		Bets:       bet.NewOrchestrator(bets, w.Stats),
		Monitor:    monitor.NewOrchestrator(mon),
		Cashout:    cashout.NewOrchestrator(exec, w.Stats),
		Post:       post,
		Session:    w.Session,
		Ledger:     w.Ledger,
		Store:      w.Store,
		Breaker:    w.Breaker,
		Clock:      w.Clock,
		Bus:        w.Bus,
	})
	return orch, gate
}

// Package tracker turns the multiplier sensor stream into round start and
// crash events plus per-round summaries.
package tracker

import (
	"math"

	"crashpilot/clock"
	"crashpilot/config"
	"crashpilot/sensor"
)

const maxEventLog = 2000

type Config struct {
	CrashThreshold float64
	HighThreshold  float64
	HistoryLimit   int // round summaries kept, oldest dropped first
}

func DefaultConfig() Config {
	return Config{
		CrashThreshold: config.TrackerCrashThreshold,
		HighThreshold:  config.TrackerHighThreshold,
		HistoryLimit:   config.TrackerHistoryLimit,
	}
}

func FromConfig(c config.TrackerConfig) Config {
	return Config{
		CrashThreshold: c.CrashThreshold,
		HighThreshold:  c.HighThreshold,
		HistoryLimit:   c.HistoryLimit,
	}
}

// Tracker is a single-consumer state machine. Update is the only mutator
// of round state apart from the caller-driven DeclareCrash.
type Tracker struct {
	cfg   Config
	clock clock.Clock

	state       GameState
	round       int
	lastValid   float64
	highFired   bool
	lostStreak  int
	roundEvents []GameEvent
	eventLog    []GameEvent
	history     []RoundSummary
}

func New(cfg Config, c clock.Clock) *Tracker {
	if cfg.CrashThreshold <= 0 {
		cfg.CrashThreshold = config.TrackerCrashThreshold
	}
	if cfg.HighThreshold <= 0 {
		cfg.HighThreshold = config.TrackerHighThreshold
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = config.TrackerHistoryLimit
	}
	if c == nil {
		c = clock.Real{}
	}
	return &Tracker{cfg: cfg, clock: c, state: GameState{Status: StatusIdle}}
}

// Update feeds one sensor sample and returns the events it produced.
func (t *Tracker) Update(r sensor.Reading) []GameEvent {
	var out []GameEvent

	if t.state.Status == StatusCrashed {
		t.state.Status = StatusIdle
	}

	switch t.state.Status {
	case StatusIdle:
		if isCleanStart(r) || isMidRoundJoin(r) {
			out = append(out, t.startRound(r))
		}
	case StatusRunning:
		out = append(out, t.updateRunning(r)...)
	}
	return out
}

func isCleanStart(r sensor.Reading) bool {
	return r.Valid && math.Abs(r.Multiplier-1) < 1e-9 && r.Status == sensor.StatusStarting
}

func isMidRoundJoin(r sensor.Reading) bool {
	return r.Valid && r.Multiplier > 1 &&
		(r.Status == sensor.StatusRunning || r.Status == sensor.StatusHigh)
}

func (t *Tracker) startRound(r sensor.Reading) GameEvent {
	now := t.clock.Now()
	t.round++
	t.state = GameState{
		Status:            StatusRunning,
		CurrentMultiplier: r.Multiplier,
		HasMultiplier:     true,
		Running:           true,
		MaxMultiplier:     r.Multiplier,
		RoundStart:        now,
	}
	t.lastValid = r.Multiplier
	t.lostStreak = 0
	// a join above the threshold never saw the crossing
	t.highFired = r.Multiplier >= t.cfg.HighThreshold
	t.roundEvents = nil

	join := "clean"
	if !isCleanStart(r) {
		join = "mid_round"
	}
	return t.record(GameEvent{
		Kind:       KindGameStart,
		Time:       now,
		Multiplier: r.Multiplier,
		Status:     r.Status,
		Details:    map[string]any{"round": t.round, "join": join},
	})
}

func (t *Tracker) updateRunning(r sensor.Reading) []GameEvent {
	now := t.clock.Now()

	if !r.Valid {
		t.lostStreak++
		t.state.HasMultiplier = false
		if t.lostStreak > 1 {
			return nil
		}
		return []GameEvent{t.record(GameEvent{
			Kind:       KindSensorLost,
			Time:       now,
			Multiplier: t.lastValid,
			Status:     r.Status,
			Details:    map[string]any{"round": t.round, "last_multiplier": t.lastValid},
		})}
	}
	t.lostStreak = 0

	// the status label alone never ends a round
	if r.Multiplier <= t.cfg.CrashThreshold {
		return []GameEvent{t.crash(r.Multiplier, r.Status, "multiplier_reset")}
	}

	var out []GameEvent
	prev := t.state.CurrentMultiplier
	if !t.state.HasMultiplier {
		prev = t.lastValid
	}
	t.state.CurrentMultiplier = r.Multiplier
	t.state.HasMultiplier = true
	t.lastValid = r.Multiplier

	if r.Multiplier > prev {
		out = append(out, t.record(GameEvent{
			Kind:       KindMultiplierIncrease,
			Time:       now,
			Multiplier: r.Multiplier,
			Status:     r.Status,
			Details:    map[string]any{"delta": r.Multiplier - prev},
		}))
	}
	if r.Multiplier > t.state.MaxMultiplier {
		t.state.MaxMultiplier = r.Multiplier
	}
	if !t.highFired && r.Multiplier >= t.cfg.HighThreshold {
		t.highFired = true
		out = append(out, t.record(GameEvent{
			Kind:       KindHighMultiplier,
			Time:       now,
			Multiplier: r.Multiplier,
			Status:     r.Status,
			Details:    map[string]any{"threshold": t.cfg.HighThreshold},
		}))
	}
	return out
}

// DeclareCrash ends the running round on the caller's authority, e.g.
// after the sensor has been lost for too long. No-op unless running.
func (t *Tracker) DeclareCrash(reason string) []GameEvent {
	if t.state.Status != StatusRunning {
		return nil
	}
	return []GameEvent{t.crash(0, sensor.StatusUnknown, reason)}
}

func (t *Tracker) crash(reading float64, status, reason string) GameEvent {
	now := t.clock.Now()
	ev := t.record(GameEvent{
		Kind:       KindCrash,
		Time:       now,
		Multiplier: reading,
		Status:     status,
		Details: map[string]any{
			"round":            t.round,
			"max_multiplier":   t.state.MaxMultiplier,
			"crash_multiplier": t.lastValid,
			"reason":           reason,
		},
	})

	t.history = append(t.history, RoundSummary{
		Round:           t.round,
		Start:           t.state.RoundStart,
		End:             now,
		Duration:        now.Sub(t.state.RoundStart),
		MaxMultiplier:   t.state.MaxMultiplier,
		CrashMultiplier: t.lastValid,
		Status:          StatusCrashed,
		EventCount:      len(t.roundEvents),
		Reason:          reason,
	})
	if len(t.history) > t.cfg.HistoryLimit {
		t.history = t.history[len(t.history)-t.cfg.HistoryLimit:]
	}

	t.state = GameState{Status: StatusCrashed, Crashed: true}
	t.roundEvents = nil
	t.lostStreak = 0
	t.highFired = false
	return ev
}

func (t *Tracker) record(ev GameEvent) GameEvent {
	t.roundEvents = append(t.roundEvents, ev)
	t.eventLog = append(t.eventLog, ev)
	if len(t.eventLog) > maxEventLog {
		t.eventLog = t.eventLog[len(t.eventLog)-maxEventLog:]
	}
	return ev
}

func (t *Tracker) State() GameState { return t.state }

func (t *Tracker) LostStreak() int { return t.lostStreak }

func (t *Tracker) Round() int { return t.round }

// LastSummary returns the most recent round summary, if any.
func (t *Tracker) LastSummary() (RoundSummary, bool) {
	if len(t.history) == 0 {
		return RoundSummary{}, false
	}
	return t.history[len(t.history)-1], true
}

func (t *Tracker) History() []RoundSummary {
	out := make([]RoundSummary, len(t.history))
	copy(out, t.history)
	return out
}

func (t *Tracker) EventLog() []GameEvent {
	out := make([]GameEvent, len(t.eventLog))
	copy(out, t.eventLog)
	return out
}

// Package events carries the structured notifications the control loop
// emits. Logging, the JSONL log, the websocket hub and test recorders are
// all subscribers of the same Bus.
package events

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Type string

const (
	// tracker
	GameStart          Type = "game_start"
	MultiplierIncrease Type = "multiplier_increase"
	HighMultiplier     Type = "high_multiplier"
	Crash              Type = "crash"
	SensorLost         Type = "sensor_lost"
	RoundSummary       Type = "round_summary"

	// monitor
	MonitorStarted   Type = "monitor_game_started"
	MonitorStartMiss Type = "monitor_game_start_timeout"
	TargetReached    Type = "monitor_target_reached"
	MonitorCrash     Type = "monitor_crash"
	MonitorTimeout   Type = "monitor_timeout"

	// entry / exit
	BetClicked      Type = "bet_clicked"
	BetVerified     Type = "bet_verified"
	BetFailed       Type = "bet_failed"
	CashoutClicked  Type = "cashout_clicked"
	CashoutSkipped  Type = "cashout_skipped"
	CashoutObserved Type = "cashout_observed"

	// outcome / session
	SignalAccepted  Type = "signal_accepted"
	SignalRejected  Type = "signal_rejected"
	PhaseFailed     Type = "phase_failed"
	RoundOutcome    Type = "round_outcome"
	BalanceMismatch Type = "balance_mismatch"
	SessionStopped  Type = "session_stopped"
)

type Event struct {
	Type   Type           `json:"type"`
	Source string         `json:"source"`
	Time   time.Time      `json:"time"`
	Fields map[string]any `json:"fields,omitempty"`
}

type Subscriber interface {
	Handle(Event)
}

type SubscriberFunc func(Event)

func (f SubscriberFunc) Handle(e Event) { f(e) }

// Bus fans events out synchronously to every subscriber. A panicking
// subscriber is logged and skipped. A nil *Bus drops everything.
type Bus struct {
	mu   sync.RWMutex
	subs []Subscriber
}

func NewBus(subs ...Subscriber) *Bus {
	return &Bus{subs: subs}
}

func (b *Bus) Subscribe(s Subscriber) {
	if b == nil || s == nil {
		return
	}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
}

func (b *Bus) Emit(e Event) {
	if b == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		dispatch(s, e)
	}
}

func dispatch(s Subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("event", e.Type).Errorf("❌ event subscriber panicked: %v", r)
		}
	}()
	s.Handle(e)
}

// Emitter stamps a fixed source onto events.
type Emitter struct {
	Bus    *Bus
	Source string
}

func (em Emitter) Emit(t Type, at time.Time, fields map[string]any) {
	em.Bus.Emit(Event{Type: t, Source: em.Source, Time: at, Fields: fields})
}

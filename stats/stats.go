// Package stats is the single sink every component reports bookkeeping
// to. Sinks are side effects: callers log their errors and move on.
package stats

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	BetPlaced      Kind = "bet_placed"
	BetFailed      Kind = "bet_failed"
	CashoutSuccess Kind = "cashout_success"
	CashoutFailed  Kind = "cashout_failed"
	RoundOutcome   Kind = "round_outcome"
)

type Event struct {
	Kind       Kind            `json:"kind"`
	Time       time.Time       `json:"time"`
	SessionID  string          `json:"sessionId,omitempty"`
	Stake      decimal.Decimal `json:"stake"`
	Profit     decimal.Decimal `json:"profit"`
	Multiplier float64         `json:"multiplier,omitempty"`
	Outcome    string          `json:"outcome,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

type Sink interface {
	Record(Event) error
}

// Record sends e to s and turns a panicking sink into an error, so a
// broken sink can never abort the phase that reports to it.
func Record(s Sink, e Event) (err error) {
	if s == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stats sink panicked: %v", r)
		}
	}()
	return s.Record(e)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(Event) error { return nil }

// Multi records to every sink and joins their errors.
type Multi []Sink

func (m Multi) Record(e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory keeps events and running totals in process. The API reads it.
type Memory struct {
	mu     sync.Mutex
	events []Event
	totals Totals
	limit  int
}

type Totals struct {
	BetsPlaced      int             `json:"betsPlaced"`
	BetsFailed      int             `json:"betsFailed"`
	CashoutsSuccess int             `json:"cashoutsSuccess"`
	CashoutsFailed  int             `json:"cashoutsFailed"`
	Wins            int             `json:"wins"`
	Losses          int             `json:"losses"`
	Uncertain       int             `json:"uncertain"`
	TotalStaked     decimal.Decimal `json:"totalStaked"`
	NetProfit       decimal.Decimal `json:"netProfit"`
}

// NewMemory keeps at most limit events (0 = unbounded); totals are
// always complete.
func NewMemory(limit int) *Memory {
	return &Memory{limit: limit}
}

func (m *Memory) Record(e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	if m.limit > 0 && len(m.events) > m.limit {
		m.events = m.events[len(m.events)-m.limit:]
	}
	switch e.Kind {
	case BetPlaced:
		m.totals.BetsPlaced++
		m.totals.TotalStaked = m.totals.TotalStaked.Add(e.Stake)
	case BetFailed:
		m.totals.BetsFailed++
	case CashoutSuccess:
		m.totals.CashoutsSuccess++
	case CashoutFailed:
		m.totals.CashoutsFailed++
	case RoundOutcome:
		switch e.Outcome {
		case "WIN":
			m.totals.Wins++
		case "LOSS":
			m.totals.Losses++
		default:
			m.totals.Uncertain++
		}
		m.totals.NetProfit = m.totals.NetProfit.Add(e.Profit)
	}
	return nil
}

func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *Memory) Totals() Totals {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals
}

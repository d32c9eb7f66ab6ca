package db

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"crashpilot/config"
)

// RoundRow is one settled (or failed) betting round.
type RoundRow struct {
	RoundID          string          `json:"roundId"`
	SessionID        string          `json:"sessionId"`
	SignalID         string          `json:"signalId"`
	Phase            string          `json:"phase"`
	FailureReason    string          `json:"failureReason,omitempty"`
	Outcome          string          `json:"outcome"`
	Stake            decimal.Decimal `json:"stake"`
	Winnings         decimal.Decimal `json:"winnings"`
	Profit           decimal.Decimal `json:"profit"`
	NewStake         decimal.Decimal `json:"newStake"`
	TargetMultiplier float64         `json:"targetMultiplier"`
	FinalMultiplier  float64         `json:"finalMultiplier"`
	Interpretation   string          `json:"interpretation,omitempty"`
	BalanceChecked   bool            `json:"balanceChecked"`
	BalanceMatch     bool            `json:"balanceMatch"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// SignalRow is every signal the session saw, accepted or not.
type SignalRow struct {
	SignalID         string             `json:"signalId"`
	SessionID        string             `json:"sessionId"`
	Prediction       string             `json:"prediction"`
	Confidence       float64            `json:"confidence"`
	TargetMultiplier float64            `json:"targetMultiplier"`
	Strategy         string             `json:"strategy"`
	Source           string             `json:"source"`
	Accepted         bool               `json:"accepted"`
	Reasons          []string           `json:"reasons,omitempty"`
	Features         map[string]float64 `json:"features,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
}

// GameRoundRow is one round observed by the tracker, bet or not.
type GameRoundRow struct {
	SessionID       string    `json:"sessionId"`
	Round           int       `json:"round"`
	StartedAt       time.Time `json:"startedAt"`
	EndedAt         time.Time `json:"endedAt"`
	MaxMultiplier   float64   `json:"maxMultiplier"`
	CrashMultiplier float64   `json:"crashMultiplier"`
	Reason          string    `json:"reason"`
}

type Ledger interface {
	InsertRound(ctx context.Context, r RoundRow) error
	InsertSignal(ctx context.Context, s SignalRow) error
	InsertGameRound(ctx context.Context, g GameRoundRow) error
	RecentRounds(ctx context.Context, limit int) ([]RoundRow, error)
	Close()
}

// MultiLedger writes to every ledger and reads from the first.
type MultiLedger []Ledger

func (m MultiLedger) InsertRound(ctx context.Context, r RoundRow) error {
	var errs []error
	for _, l := range m {
		errs = append(errs, l.InsertRound(ctx, r))
	}
	return errors.Join(errs...)
}

func (m MultiLedger) InsertSignal(ctx context.Context, s SignalRow) error {
	var errs []error
	for _, l := range m {
		errs = append(errs, l.InsertSignal(ctx, s))
	}
	return errors.Join(errs...)
}

func (m MultiLedger) InsertGameRound(ctx context.Context, g GameRoundRow) error {
	var errs []error
	for _, l := range m {
		errs = append(errs, l.InsertGameRound(ctx, g))
	}
	return errors.Join(errs...)
}

func (m MultiLedger) RecentRounds(ctx context.Context, limit int) ([]RoundRow, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return m[0].RecentRounds(ctx, limit)
}

func (m MultiLedger) Close() {
	for _, l := range m {
		l.Close()
	}
}

// AsyncLedger makes every write fire-and-forget: each runs in its own
// goroutine with a timeout and failures are only logged. A nil
// *AsyncLedger drops writes.
type AsyncLedger struct {
	inner   Ledger
	timeout time.Duration
	wg      sync.WaitGroup
	log     *logrus.Entry
}

func NewAsyncLedger(inner Ledger) *AsyncLedger {
	if inner == nil {
		return nil
	}
	return &AsyncLedger{
		inner:   inner,
		timeout: config.LedgerWriteTimeout,
		log:     logrus.WithField("component", "ledger"),
	}
}

func (a *AsyncLedger) InsertRound(r RoundRow) {
	a.write("round", func(ctx context.Context) error { return a.inner.InsertRound(ctx, r) })
}

func (a *AsyncLedger) InsertSignal(s SignalRow) {
	a.write("signal", func(ctx context.Context) error { return a.inner.InsertSignal(ctx, s) })
}

func (a *AsyncLedger) InsertGameRound(g GameRoundRow) {
	a.write("game round", func(ctx context.Context) error { return a.inner.InsertGameRound(ctx, g) })
}

func (a *AsyncLedger) write(what string, fn func(ctx context.Context) error) {
	if a == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			a.log.Errorf("❌ failed to store %s: %v", what, err)
		}
	}()
}

// Inner exposes the wrapped ledger for reads.
func (a *AsyncLedger) Inner() Ledger {
	if a == nil {
		return nil
	}
	return a.inner
}

// Flush waits for in-flight writes.
func (a *AsyncLedger) Flush() {
	if a == nil {
		return
	}
	a.wg.Wait()
}

func (a *AsyncLedger) Close() {
	if a == nil {
		return
	}
	a.wg.Wait()
	a.inner.Close()
}

package game

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"crashpilot/clock"
	"crashpilot/config"
	"crashpilot/crypto"
	"crashpilot/sensor"
	"crashpilot/tracker"
)

// Table is a simulated crash table driven by a clock. It serves every
// sensor port the bot needs: multiplier, balance, clicks, stake input,
// screen pixels and color probing.
type Table struct {
	mu    sync.Mutex
	cfg   Config
	seed  crypto.Seed
	clock clock.Clock
	log   *logrus.Entry

	round   Round
	phase   Phase
	balance decimal.Decimal
	stake   decimal.Decimal
	bet     *Bet
	clicks  int
	history []tracker.RoundSummary
}

type Config struct {
	WaitingDuration time.Duration
	CrashedDuration time.Duration
	GrowthRate      float64
	CashoutFlash    time.Duration
	StartingBalance decimal.Decimal
	BetPoint        sensor.Point
	CashoutPoint    sensor.Point
	Available       sensor.RGB
	InProgress      sensor.RGB
	Ended           sensor.RGB
	Background      sensor.RGB
	HistoryLimit    int
}

func rgb(c [3]int) sensor.RGB {
	return sensor.RGB{R: uint8(c[0]), G: uint8(c[1]), B: uint8(c[2])}
}

func DefaultConfig() Config {
	return Config{
		WaitingDuration: config.SimWaitingDuration,
		CrashedDuration: config.SimCrashedDuration,
		GrowthRate:      config.SimGrowthRate,
		CashoutFlash:    config.SimCashoutFlash,
		StartingBalance: decimal.NewFromFloat(config.SimStartingBalance),
		BetPoint:        sensor.Point{X: config.DefaultBetButton.X, Y: config.DefaultBetButton.Y},
		CashoutPoint:    sensor.Point{X: config.DefaultCashoutButton.X, Y: config.DefaultCashoutButton.Y},
		Available:       rgb(config.DefaultAvailableRGB),
		InProgress:      rgb(config.DefaultInProgressRGB),
		Ended:           rgb(config.DefaultEndedRGB),
		Background:      sensor.RGB{R: 18, G: 18, B: 18},
		HistoryLimit:    config.TrackerHistoryLimit,
	}
}

// FromConfig uses the configured palette and button points so the bot
// and the table agree on what they see.
func FromConfig(c *config.Config) Config {
	cfg := DefaultConfig()
	cfg.StartingBalance = decimal.NewFromFloat(c.Sim.StartingBalance)
	cfg.BetPoint = sensor.Point{X: c.Points.BetButton.X, Y: c.Points.BetButton.Y}
	cfg.CashoutPoint = sensor.Point{X: c.Points.CashoutButton.X, Y: c.Points.CashoutButton.Y}
	cfg.Available = rgb(c.Colors.Available)
	cfg.InProgress = rgb(c.Colors.InProgress)
	cfg.Ended = rgb(c.Colors.Ended)
	cfg.HistoryLimit = c.Tracker.HistoryLimit
	return cfg
}

// NewTable opens round 1 for betting at the clock's current time.
func NewTable(cfg Config, seed crypto.Seed, c clock.Clock) *Table {
	if c == nil {
		c = clock.Real{}
	}
	t := &Table{
		cfg:     cfg,
		seed:    seed,
		clock:   c,
		log:     logrus.WithField("component", "sim"),
		phase:   PhaseWaiting,
		balance: cfg.StartingBalance,
	}
	t.round = t.newRound(1, c.Now())
	t.log.Infof("🎲 simulated table open (seed hash %s, balance %s)", seed.Hash, t.balance)
	return t
}

func (t *Table) newRound(n int, opens time.Time) Round {
	id := fmt.Sprintf("round-%d", n)
	cp := GenerateCrashPoint(t.seed.Value, id)
	starts := opens.Add(t.cfg.WaitingDuration)
	run := time.Duration(TimeToReach(t.cfg.GrowthRate, cp) * float64(time.Second))
	return Round{
		ID:         id,
		Number:     n,
		SeedHash:   t.seed.Hash,
		CrashPoint: cp,
		OpensAt:    opens,
		StartsAt:   starts,
		CrashesAt:  starts.Add(run),
	}
}

// advance moves the table through every phase change up to now.
func (t *Table) advance(now time.Time) {
	for {
		switch t.phase {
		case PhaseWaiting:
			if now.Before(t.round.StartsAt) {
				return
			}
			t.phase = PhaseRunning
		case PhaseRunning:
			if now.Before(t.round.CrashesAt) {
				return
			}
			t.phase = PhaseCrashed
			t.settleCrash()
		case PhaseCrashed:
			next := t.round.CrashesAt.Add(t.cfg.CrashedDuration)
			if now.Before(next) {
				return
			}
			t.round = t.newRound(t.round.Number+1, next)
			t.phase = PhaseWaiting
		}
	}
}

func (t *Table) settleCrash() {
	r := t.round
	if b := t.bet; b != nil && b.Round == r.Number && !b.CashedOut {
		b.Lost = true
		t.log.Debugf("💥 bet of %s lost at %.2fx", b.Stake, r.CrashPoint)
	}
	t.history = append(t.history, tracker.RoundSummary{
		Round:           r.Number,
		Start:           r.StartsAt,
		End:             r.CrashesAt,
		Duration:        r.CrashesAt.Sub(r.StartsAt),
		MaxMultiplier:   r.CrashPoint,
		CrashMultiplier: r.CrashPoint,
		Status:          tracker.StatusCrashed,
		Reason:          "crash",
	})
	if t.cfg.HistoryLimit > 0 && len(t.history) > t.cfg.HistoryLimit {
		t.history = t.history[len(t.history)-t.cfg.HistoryLimit:]
	}
}

func (t *Table) multiplier(now time.Time) float64 {
	m := MultiplierAt(t.cfg.GrowthRate, now.Sub(t.round.StartsAt).Seconds())
	if m > t.round.CrashPoint {
		m = t.round.CrashPoint
	}
	return m
}

func (t *Table) hasBetThisRound() bool {
	return t.bet != nil && t.bet.Round == t.round.Number
}

/* =========================
   MULTIPLIER SENSOR
========================= */

func (t *Table) ReadWithStatus(ctx context.Context) sensor.Reading {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	t.advance(now)

	switch t.phase {
	case PhaseWaiting:
		return sensor.Reading{Multiplier: 1.0, Valid: true, Status: sensor.StatusWaiting}
	case PhaseRunning:
		m := t.multiplier(now)
		status := sensor.StatusRunning
		switch {
		case m <= 1.0:
			status = sensor.StatusStarting
		case m >= config.TrackerHighThreshold:
			status = sensor.StatusHigh
		}
		return sensor.Reading{Multiplier: m, Valid: true, Status: status}
	default:
		return sensor.Reading{
			Valid:   true,
			Status:  sensor.StatusCrashed,
			Message: fmt.Sprintf("crashed @ %.2fx", t.round.CrashPoint),
		}
	}
}

func (t *Table) Read(ctx context.Context) (float64, bool) {
	r := t.ReadWithStatus(ctx)
	return r.Multiplier, r.Valid
}

/* =========================
   BALANCE / STAKE
========================= */

type balanceSensor struct{ t *Table }

func (b balanceSensor) Read(ctx context.Context) (decimal.Decimal, bool) {
	b.t.mu.Lock()
	defer b.t.mu.Unlock()
	b.t.advance(b.t.clock.Now())
	return b.t.balance, true
}

// BalanceSensor exposes the table balance. Separate from the table
// itself because both sensors are named Read.
func (t *Table) BalanceSensor() sensor.BalanceSensor { return balanceSensor{t} }

func (t *Table) SetStake(ctx context.Context, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("stake must be positive, got %s", amount)
	}
	t.mu.Lock()
	t.stake = amount
	t.mu.Unlock()
	return nil
}

/* =========================
   ACTUATION
========================= */

// Click always lands; whether anything happens depends on the phase.
func (t *Table) Click(ctx context.Context, p sensor.Point) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	t.advance(now)
	t.clicks++

	switch p {
	case t.cfg.BetPoint:
		if t.phase != PhaseWaiting || t.hasBetThisRound() || !t.stake.IsPositive() {
			return true, nil
		}
		if t.balance.LessThan(t.stake) {
			t.log.Warnf("⚠️  bet of %s refused: balance %s", t.stake, t.balance)
			return true, nil
		}
		t.balance = t.balance.Sub(t.stake)
		t.bet = &Bet{Round: t.round.Number, Stake: t.stake}
	case t.cfg.CashoutPoint:
		b := t.bet
		if t.phase != PhaseRunning || !t.hasBetThisRound() || b.CashedOut || b.Lost {
			return true, nil
		}
		m := t.multiplier(now)
		b.CashedOut = true
		b.CashoutAt = now
		b.CashoutMult = m
		t.balance = t.balance.Add(b.Stake.Mul(decimal.NewFromFloat(m)))
	}
	return true, nil
}

/* =========================
   SCREEN / COLOR PROBE
========================= */

func (t *Table) colorAt(p sensor.Point, now time.Time) sensor.RGB {
	switch p {
	case t.cfg.BetPoint:
		if t.phase == PhaseWaiting && !t.hasBetThisRound() {
			return t.cfg.Available
		}
		return t.cfg.Ended
	case t.cfg.CashoutPoint:
		b := t.bet
		switch {
		case b == nil:
			return t.cfg.InProgress
		case b.CashedOut:
			if now.Sub(b.CashoutAt) < t.cfg.CashoutFlash {
				return t.cfg.Available
			}
			return t.cfg.InProgress
		case b.Lost:
			return t.cfg.Ended
		case t.phase == PhaseRunning && t.hasBetThisRound():
			return t.cfg.Available
		default:
			return t.cfg.InProgress
		}
	}
	return t.cfg.Background
}

func (t *Table) Sample(ctx context.Context, p sensor.Point, radius int) (sensor.RGB, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	t.advance(now)
	return t.colorAt(p, now), true
}

// Capture renders rect with the control color under its centre and a
// one-pixel background ring, the way a real button edge anti-aliases.
func (t *Table) Capture(ctx context.Context, rect image.Rectangle) (image.Image, error) {
	if rect.Empty() {
		return nil, fmt.Errorf("empty capture rect")
	}
	t.mu.Lock()
	now := t.clock.Now()
	t.advance(now)
	center := sensor.Point{X: (rect.Min.X + rect.Max.X - 1) / 2, Y: (rect.Min.Y + rect.Max.Y - 1) / 2}
	fg := t.colorAt(center, now)
	bg := t.cfg.Background
	t.mu.Unlock()

	img := image.NewRGBA(rect)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			c := fg
			if x == rect.Min.X || y == rect.Min.Y || x == rect.Max.X-1 || y == rect.Max.Y-1 {
				c = bg
			}
			img.Set(x, y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 255})
		}
	}
	return img, nil
}

/* =========================
   INSPECTION
========================= */

// History returns finished rounds, oldest first.
func (t *Table) History() []tracker.RoundSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advance(t.clock.Now())
	out := make([]tracker.RoundSummary, len(t.history))
	copy(out, t.history)
	return out
}

func (t *Table) Round() (Round, Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advance(t.clock.Now())
	return t.round, t.phase
}

func (t *Table) Balance() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advance(t.clock.Now())
	return t.balance
}

// LastBet returns a copy of the most recent bet.
func (t *Table) LastBet() (Bet, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advance(t.clock.Now())
	if t.bet == nil {
		return Bet{}, false
	}
	return *t.bet, true
}

func (t *Table) Seed() crypto.Seed { return t.seed }

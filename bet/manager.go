// Package bet clicks the entry control and confirms the click landed.
package bet

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"crashpilot/clock"
	"crashpilot/color"
	"crashpilot/config"
	"crashpilot/events"
	"crashpilot/sensor"
)

type Method string

const (
	MethodColor Method = "color"
	MethodOCR   Method = "ocr"
)

type Config struct {
	Point            sensor.Point
	ProbeRadius      int
	ClickSettle      time.Duration
	VerifyRetries    int
	RetryDelayMin    time.Duration
	RetryDelayMax    time.Duration
	BalanceTolerance float64 // fraction of the stake forgiven by the OCR check
}

func DefaultConfig() Config {
	return Config{
		ProbeRadius:      config.CashoutProbeRadius,
		ClickSettle:      config.BetClickSettle,
		VerifyRetries:    config.BetVerifyRetries,
		RetryDelayMin:    config.BetRetryDelayMin,
		RetryDelayMax:    config.BetRetryDelayMax,
		BalanceTolerance: config.BetBalanceTolerance,
	}
}

func FromConfig(c *config.Config) Config {
	return Config{
		Point:            sensor.Point{X: c.Points.BetButton.X, Y: c.Points.BetButton.Y},
		ProbeRadius:      c.Cashout.ProbeRadius,
		ClickSettle:      config.Duration(c.Bet.ClickSettleMs),
		VerifyRetries:    c.Bet.VerifyRetries,
		RetryDelayMin:    config.Duration(c.Bet.RetryDelayMinMs),
		RetryDelayMax:    config.Duration(c.Bet.RetryDelayMaxMs),
		BalanceTolerance: c.Bet.BalanceTolerance,
	}
}

// ClickResult is always returned, never an error: a click that did not
// register is data, not a failure of the call.
type ClickResult struct {
	Clicked bool          `json:"clicked"`
	Err     error         `json:"-"`
	Before  string        `json:"before"`
	After   string        `json:"after"`
	RGB     [2]sensor.RGB `json:"rgb"`
	Changed bool          `json:"changed"`
	At      time.Time     `json:"at"`
}

type VerifyResult struct {
	Verified bool   `json:"verified"`
	Attempts int    `json:"attempts"`
	Method   Method `json:"method,omitempty"`
	Label    string `json:"label"`
}

// Record describes one placement attempt for the round.
type Record struct {
	Stake      decimal.Decimal `json:"stake"`
	Click      ClickResult     `json:"click"`
	Verify     VerifyResult    `json:"verify"`
	Success    bool            `json:"success"`
	Reason     string          `json:"reason,omitempty"`
	PlacedAt   time.Time       `json:"placedAt"`
	VerifiedAt time.Time       `json:"verifiedAt"`
	Duration   time.Duration   `json:"duration"`
}

type Manager struct {
	cfg     Config
	port    sensor.ActuationPort
	probe   sensor.ColorProbe
	matcher *color.Matcher
	balance sensor.BalanceSensor
	clock   clock.Clock
	rng     *rand.Rand
	emit    events.Emitter
	log     *logrus.Entry
}

// NewManager builds a manager; balance may be nil, which disables the
// OCR fallback.
func NewManager(cfg Config, port sensor.ActuationPort, probe sensor.ColorProbe, m *color.Matcher,
	balance sensor.BalanceSensor, c clock.Clock, bus *events.Bus) *Manager {
	def := DefaultConfig()
	if cfg.VerifyRetries <= 0 {
		cfg.VerifyRetries = def.VerifyRetries
	}
	if cfg.ClickSettle <= 0 {
		cfg.ClickSettle = def.ClickSettle
	}
	if cfg.RetryDelayMin <= 0 {
		cfg.RetryDelayMin = def.RetryDelayMin
	}
	if cfg.RetryDelayMax < cfg.RetryDelayMin {
		cfg.RetryDelayMax = cfg.RetryDelayMin
	}
	if m == nil {
		m = color.Default()
	}
	if c == nil {
		c = clock.Real{}
	}
	return &Manager{
		cfg:     cfg,
		port:    port,
		probe:   probe,
		matcher: m,
		balance: balance,
		clock:   c,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		emit:    events.Emitter{Bus: bus, Source: "bet"},
		log:     logrus.WithField("component", "bet"),
	}
}

func (m *Manager) label(ctx context.Context) (string, sensor.RGB) {
	c, ok := m.probe.Sample(ctx, m.cfg.Point, m.cfg.ProbeRadius)
	if !ok {
		return "", sensor.RGB{}
	}
	return m.matcher.Match(c).Label, c
}

// ClickBetButton probes, clicks, waits for the UI to settle and probes
// again.
func (m *Manager) ClickBetButton(ctx context.Context) ClickResult {
	var res ClickResult
	res.Before, res.RGB[0] = m.label(ctx)
	res.At = m.clock.Now()

	ok, err := m.port.Click(ctx, m.cfg.Point)
	res.Err = err
	if err != nil || !ok {
		m.log.Warnf("❌ bet click at %s not delivered: ok=%v err=%v", m.cfg.Point, ok, err)
		return res
	}
	res.Clicked = true

	if err := m.clock.Sleep(ctx, m.cfg.ClickSettle); err != nil {
		res.Err = err
		return res
	}
	res.After, res.RGB[1] = m.label(ctx)
	res.Changed = res.After != res.Before
	m.emit.Emit(events.BetClicked, m.clock.Now(), map[string]any{
		"before":  res.Before,
		"after":   res.After,
		"changed": res.Changed,
	})
	return res
}

// VerifyBetPlaced treats "button no longer available" as success. On the
// last attempt only, a balance drop of about the stake since
// balanceBefore is accepted instead.
func (m *Manager) VerifyBetPlaced(ctx context.Context, stake, balanceBefore decimal.Decimal, haveBefore bool) VerifyResult {
	var res VerifyResult
	for attempt := 1; attempt <= m.cfg.VerifyRetries; attempt++ {
		res.Attempts = attempt
		lbl, _ := m.label(ctx)
		res.Label = lbl
		if lbl != "" && lbl != config.LabelAvailable {
			res.Verified = true
			res.Method = MethodColor
			return res
		}

		if attempt == m.cfg.VerifyRetries {
			if haveBefore && m.balanceDropped(ctx, stake, balanceBefore) {
				res.Verified = true
				res.Method = MethodOCR
			}
			return res
		}

		m.log.Debugf("bet not confirmed yet (label=%q), attempt %d/%d", lbl, attempt, m.cfg.VerifyRetries)
		if err := m.clock.Sleep(ctx, m.retryDelay()); err != nil {
			return res
		}
	}
	return res
}

func (m *Manager) balanceDropped(ctx context.Context, stake, before decimal.Decimal) bool {
	if m.balance == nil {
		return false
	}
	after, ok := m.balance.Read(ctx)
	if !ok {
		return false
	}
	need := stake.Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(m.cfg.BalanceTolerance)))
	return before.Sub(after).GreaterThanOrEqual(need)
}

func (m *Manager) retryDelay() time.Duration {
	span := m.cfg.RetryDelayMax - m.cfg.RetryDelayMin
	if span <= 0 {
		return m.cfg.RetryDelayMin
	}
	return m.cfg.RetryDelayMin + time.Duration(m.rng.Int63n(int64(span)+1))
}

// PlaceBetWithVerification clicks then verifies. A click that was not
// delivered is not retried.
func (m *Manager) PlaceBetWithVerification(ctx context.Context, stake decimal.Decimal) Record {
	rec := Record{Stake: stake}
	start := m.clock.Now()

	var before decimal.Decimal
	var haveBefore bool
	if m.balance != nil {
		before, haveBefore = m.balance.Read(ctx)
	}

	rec.Click = m.ClickBetButton(ctx)
	rec.PlacedAt = rec.Click.At
	if !rec.Click.Clicked {
		rec.Reason = "click_failed"
		rec.Duration = clock.Since(m.clock, start)
		m.emit.Emit(events.BetFailed, m.clock.Now(), map[string]any{"reason": rec.Reason, "stake": stake.String()})
		return rec
	}

	rec.Verify = m.VerifyBetPlaced(ctx, stake, before, haveBefore)
	rec.Duration = clock.Since(m.clock, start)
	if !rec.Verify.Verified {
		rec.Reason = "verification_failed"
		m.log.Warnf("❌ bet of %s not verified after %d attempts", stake, rec.Verify.Attempts)
		m.emit.Emit(events.BetFailed, m.clock.Now(), map[string]any{
			"reason":   rec.Reason,
			"attempts": rec.Verify.Attempts,
			"stake":    stake.String(),
		})
		return rec
	}

	rec.Success = true
	rec.VerifiedAt = m.clock.Now()
	m.log.Infof("🎲 bet of %s placed (verified by %s on attempt %d)", stake, rec.Verify.Method, rec.Verify.Attempts)
	m.emit.Emit(events.BetVerified, rec.VerifiedAt, map[string]any{
		"stake":    stake.String(),
		"method":   string(rec.Verify.Method),
		"attempts": rec.Verify.Attempts,
	})
	return rec
}

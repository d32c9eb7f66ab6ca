// Package cashout fires the exit control and reads what happened from
// the button's color transitions.
package cashout

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"crashpilot/clock"
	"crashpilot/color"
	"crashpilot/config"
	"crashpilot/events"
	"crashpilot/sensor"
)

type Config struct {
	Point         sensor.Point
	ProbeRadius   int
	PreTrackPause time.Duration
	TrackDuration time.Duration
	TrackInterval time.Duration
	UnclearBelow  float64 // confidence at or below this is UNCLEAR
}

func DefaultConfig() Config {
	return Config{
		ProbeRadius:   config.CashoutProbeRadius,
		PreTrackPause: config.CashoutPreTrackPause,
		TrackDuration: config.CashoutTrackDuration,
		TrackInterval: config.CashoutTrackInterval,
		UnclearBelow:  config.CashoutUnclearBelow,
	}
}

func FromConfig(c *config.Config) Config {
	return Config{
		Point:         sensor.Point{X: c.Points.CashoutButton.X, Y: c.Points.CashoutButton.Y},
		ProbeRadius:   c.Cashout.ProbeRadius,
		PreTrackPause: config.Duration(c.Cashout.PreTrackPauseMs),
		TrackDuration: config.Duration(c.Cashout.TrackDurationMs),
		TrackInterval: config.Duration(c.Cashout.TrackIntervalMs),
		UnclearBelow:  c.Cashout.UnclearBelow,
	}
}

type ClickResult struct {
	Clicked    bool      `json:"clicked"`
	Skipped    bool      `json:"skipped"`
	Err        error     `json:"-"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	At         time.Time `json:"at"`
}

type Executor struct {
	cfg     Config
	port    sensor.ActuationPort
	probe   sensor.ColorProbe
	matcher *color.Matcher
	clock   clock.Clock
	emit    events.Emitter
	log     *logrus.Entry
}

func NewExecutor(cfg Config, port sensor.ActuationPort, probe sensor.ColorProbe, m *color.Matcher, c clock.Clock, bus *events.Bus) *Executor {
	def := DefaultConfig()
	if cfg.PreTrackPause < 0 {
		cfg.PreTrackPause = def.PreTrackPause
	}
	if cfg.TrackDuration <= 0 {
		cfg.TrackDuration = def.TrackDuration
	}
	if cfg.TrackInterval <= 0 {
		cfg.TrackInterval = def.TrackInterval
	}
	if cfg.UnclearBelow <= 0 {
		cfg.UnclearBelow = def.UnclearBelow
	}
	if m == nil {
		m = color.Default()
	}
	if c == nil {
		c = clock.Real{}
	}
	return &Executor{
		cfg:     cfg,
		port:    port,
		probe:   probe,
		matcher: m,
		clock:   c,
		emit:    events.Emitter{Bus: bus, Source: "cashout"},
		log:     logrus.WithField("component", "cashout"),
	}
}

// ClickIfGreen probes once and clicks only on a full-confidence
// "available" match.
func (e *Executor) ClickIfGreen(ctx context.Context) ClickResult {
	res := ClickResult{At: e.clock.Now()}
	c, ok := e.probe.Sample(ctx, e.cfg.Point, e.cfg.ProbeRadius)
	if ok {
		m := e.matcher.Match(c)
		res.Label, res.Confidence = m.Label, m.Confidence
	}
	if !ok || res.Label != config.LabelAvailable || res.Confidence < 1 {
		res.Skipped = true
		e.log.Warnf("⚠️  cashout skipped: button reads %q (%.2f)", res.Label, res.Confidence)
		e.emit.Emit(events.CashoutSkipped, res.At, map[string]any{
			"label":      res.Label,
			"confidence": res.Confidence,
		})
		return res
	}

	clicked, err := e.port.Click(ctx, e.cfg.Point)
	res.Clicked, res.Err = clicked && err == nil, err
	if !res.Clicked {
		e.log.Warnf("❌ cashout click at %s not delivered: err=%v", e.cfg.Point, err)
		return res
	}
	e.emit.Emit(events.CashoutClicked, e.clock.Now(), map[string]any{"point": e.cfg.Point.String()})
	return res
}

// Classify labels one sample; "" for a failed probe.
func (e *Executor) Classify(c sensor.RGB, ok bool) string {
	if !ok {
		return ""
	}
	m := e.matcher.Match(c)
	if m.Confidence <= e.cfg.UnclearBelow {
		return config.LabelUnclear
	}
	return m.Label
}

// TrackColorTransitions samples at the configured cadence for the whole
// window and returns the ordered labels.
func (e *Executor) TrackColorTransitions(ctx context.Context) ([]string, error) {
	start := e.clock.Now()
	seq := make([]string, 0, int(e.cfg.TrackDuration/e.cfg.TrackInterval))
	for clock.Since(e.clock, start) < e.cfg.TrackDuration {
		c, ok := e.probe.Sample(ctx, e.cfg.Point, e.cfg.ProbeRadius)
		seq = append(seq, e.Classify(c, ok))
		if err := e.clock.Sleep(ctx, e.cfg.TrackInterval); err != nil {
			return seq, err
		}
	}
	return seq, nil
}

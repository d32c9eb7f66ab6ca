// Package monitor polls the multiplier sensor to detect the round start
// and then chases a target multiplier until crash, target or timeout.
package monitor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"crashpilot/clock"
	"crashpilot/config"
	"crashpilot/events"
	"crashpilot/sensor"
)

type Config struct {
	SamplingInterval time.Duration
	StartTimeout     time.Duration
	StartThreshold   float64
	TargetTimeout    time.Duration
	CrashReading     float64 // a reading below this while chasing is a crash
}

func DefaultConfig() Config {
	return Config{
		SamplingInterval: config.SamplingInterval,
		StartTimeout:     config.GameStartTimeout,
		StartThreshold:   config.GameStartThreshold,
		TargetTimeout:    config.MonitorTargetTimeout,
		CrashReading:     config.MonitorCrashReading,
	}
}

func FromConfig(c config.MonitorConfig) Config {
	return Config{
		SamplingInterval: config.Duration(c.SamplingIntervalMs),
		StartTimeout:     config.Duration(c.StartTimeoutMs),
		StartThreshold:   c.StartThreshold,
		TargetTimeout:    config.Duration(c.TargetTimeoutMs),
		CrashReading:     c.CrashReading,
	}
}

type StartResult struct {
	Started         bool          `json:"started"`
	StartMultiplier float64       `json:"startMultiplier"`
	Elapsed         time.Duration `json:"elapsed"`
	Polls           int           `json:"polls"`
}

type Sample struct {
	At         time.Time `json:"at"`
	Multiplier float64   `json:"multiplier"`
}

type TargetResult struct {
	Target          float64       `json:"target"`
	Samples         []Sample      `json:"samples"`
	Polls           int           `json:"polls"`
	Missed          int           `json:"missed"`
	FinalMultiplier float64       `json:"finalMultiplier"`
	MaxMultiplier   float64       `json:"maxMultiplier"`
	Crashed         bool          `json:"crashed"`
	CrashPoint      float64       `json:"crashPoint"`
	TargetReached   bool          `json:"targetReached"`
	TimedOut        bool          `json:"timedOut"`
	Elapsed         time.Duration `json:"elapsed"`
}

// Monitor owns no state between calls; each phase is a bounded loop.
type Monitor struct {
	cfg    Config
	sensor sensor.MultiplierSensor
	clock  clock.Clock
	emit   events.Emitter
	log    *logrus.Entry
}

func New(cfg Config, s sensor.MultiplierSensor, c clock.Clock, bus *events.Bus) *Monitor {
	def := DefaultConfig()
	if cfg.SamplingInterval <= 0 {
		cfg.SamplingInterval = def.SamplingInterval
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = def.StartTimeout
	}
	if cfg.StartThreshold <= 0 {
		cfg.StartThreshold = def.StartThreshold
	}
	if cfg.TargetTimeout <= 0 {
		cfg.TargetTimeout = def.TargetTimeout
	}
	if cfg.CrashReading <= 0 {
		cfg.CrashReading = def.CrashReading
	}
	if c == nil {
		c = clock.Real{}
	}
	return &Monitor{
		cfg:    cfg,
		sensor: s,
		clock:  c,
		emit:   events.Emitter{Bus: bus, Source: "monitor"},
		log:    logrus.WithField("component", "monitor"),
	}
}

func (m *Monitor) Config() Config { return m.cfg }

// WaitForGameStart polls until a reading exceeds the start threshold or
// the start timeout elapses. The error is non-nil only if ctx ends.
func (m *Monitor) WaitForGameStart(ctx context.Context) (StartResult, error) {
	start := m.clock.Now()
	var res StartResult

	for {
		res.Elapsed = clock.Since(m.clock, start)
		if res.Elapsed >= m.cfg.StartTimeout {
			m.log.Warnf("⏳ no round start above %.2fx within %s", m.cfg.StartThreshold, m.cfg.StartTimeout)
			m.emit.Emit(events.MonitorStartMiss, m.clock.Now(), map[string]any{
				"timeout_ms": m.cfg.StartTimeout.Milliseconds(),
				"polls":      res.Polls,
			})
			return res, nil
		}

		res.Polls++
		if v, ok := m.sensor.Read(ctx); ok && v > m.cfg.StartThreshold {
			res.Started = true
			res.StartMultiplier = v
			res.Elapsed = clock.Since(m.clock, start)
			m.log.Infof("🚀 round started at %.2fx after %s", v, res.Elapsed)
			m.emit.Emit(events.MonitorStarted, m.clock.Now(), map[string]any{
				"multiplier": v,
				"elapsed_ms": res.Elapsed.Milliseconds(),
			})
			return res, nil
		}

		if err := m.clock.Sleep(ctx, m.cfg.SamplingInterval); err != nil {
			return res, err
		}
	}
}

// MonitorToTarget polls and records every reading until the first of
// crash, target reached or timeout.
func (m *Monitor) MonitorToTarget(ctx context.Context, target float64) (TargetResult, error) {
	start := m.clock.Now()
	res := TargetResult{Target: target}

	for {
		res.Elapsed = clock.Since(m.clock, start)
		if res.Elapsed >= m.cfg.TargetTimeout {
			res.TimedOut = true
			m.log.Warnf("⏳ target %.2fx not reached within %s (max %.2fx)", target, m.cfg.TargetTimeout, res.MaxMultiplier)
			m.emit.Emit(events.MonitorTimeout, m.clock.Now(), map[string]any{
				"target":         target,
				"max_multiplier": res.MaxMultiplier,
				"polls":          res.Polls,
			})
			return res, nil
		}

		res.Polls++
		v, ok := m.sensor.Read(ctx)
		if ok {
			now := m.clock.Now()
			res.Samples = append(res.Samples, Sample{At: now, Multiplier: v})
			res.FinalMultiplier = v
			if v > res.MaxMultiplier {
				res.MaxMultiplier = v
			}

			if v < m.cfg.CrashReading {
				res.Crashed = true
				res.CrashPoint = res.MaxMultiplier
				res.Elapsed = clock.Since(m.clock, start)
				m.log.Warnf("💥 crash detected at %.2fx (target %.2fx)", res.CrashPoint, target)
				m.emit.Emit(events.MonitorCrash, now, map[string]any{
					"target":      target,
					"crash_point": res.CrashPoint,
					"reading":     v,
				})
				return res, nil
			}
			if v >= target {
				res.TargetReached = true
				res.Elapsed = clock.Since(m.clock, start)
				m.log.Infof("🎯 target %.2fx reached at %.2fx", target, v)
				m.emit.Emit(events.TargetReached, now, map[string]any{
					"target":     target,
					"multiplier": v,
					"elapsed_ms": res.Elapsed.Milliseconds(),
				})
				return res, nil
			}
		} else {
			res.Missed++
		}

		if err := m.clock.Sleep(ctx, m.cfg.SamplingInterval); err != nil {
			return res, err
		}
	}
}

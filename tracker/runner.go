package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"crashpilot/clock"
	"crashpilot/config"
	"crashpilot/events"
	"crashpilot/sensor"
)

type RunnerConfig struct {
	PollInterval time.Duration
	// SensorLossCrashAfter declares a crash after this many consecutive
	// lost samples while running. 0 keeps the round open indefinitely.
	SensorLossCrashAfter int
}

func RunnerFromConfig(c config.TrackerConfig) RunnerConfig {
	return RunnerConfig{
		PollInterval:         config.Duration(c.PollIntervalMs),
		SensorLossCrashAfter: c.SensorLossCrashAfter,
	}
}

// Runner feeds a Tracker from a multiplier sensor on its own cadence.
// It never holds the actuation gate; it only observes.
type Runner struct {
	tracker *Tracker
	sensor  sensor.MultiplierSensor
	clock   clock.Clock
	cfg     RunnerConfig
	emit    events.Emitter
	log     *logrus.Entry

	mu   sync.RWMutex
	last sensor.Reading

	onRound func(RoundSummary)
}

func NewRunner(t *Tracker, s sensor.MultiplierSensor, c clock.Clock, cfg RunnerConfig, bus *events.Bus) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.TrackerPollInterval
	}
	if c == nil {
		c = clock.Real{}
	}
	return &Runner{
		tracker: t,
		sensor:  s,
		clock:   c,
		cfg:     cfg,
		emit:    events.Emitter{Bus: bus, Source: "tracker"},
		log:     logrus.WithField("component", "tracker"),
	}
}

// OnRound registers a callback for every finished round. Must be set
// before Run.
func (r *Runner) OnRound(fn func(RoundSummary)) { r.onRound = fn }

// Run polls until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Infof("🎯 tracker started (every %s)", r.cfg.PollInterval)
	for {
		r.Step(ctx)
		if err := r.clock.Sleep(ctx, r.cfg.PollInterval); err != nil {
			r.log.Info("🛑 tracker stopped")
			return nil
		}
	}
}

// Step takes one sample, updates the tracker and dispatches the events.
func (r *Runner) Step(ctx context.Context) []GameEvent {
	reading := r.sensor.ReadWithStatus(ctx)

	r.mu.Lock()
	r.last = reading
	evs := r.tracker.Update(reading)
	if r.cfg.SensorLossCrashAfter > 0 && r.tracker.LostStreak() >= r.cfg.SensorLossCrashAfter {
		evs = append(evs, r.tracker.DeclareCrash("sensor_lost")...)
	}
	var summary RoundSummary
	var finished bool
	for _, ev := range evs {
		if ev.Kind == KindCrash {
			summary, finished = r.tracker.LastSummary()
		}
	}
	r.mu.Unlock()

	for _, ev := range evs {
		r.dispatch(ev)
	}
	if finished {
		r.emit.Emit(events.RoundSummary, summary.End, map[string]any{
			"round":            summary.Round,
			"max_multiplier":   summary.MaxMultiplier,
			"crash_multiplier": summary.CrashMultiplier,
			"duration_ms":      summary.Duration.Milliseconds(),
			"reason":           summary.Reason,
		})
		if r.onRound != nil {
			r.onRound(summary)
		}
	}
	return evs
}

func (r *Runner) dispatch(ev GameEvent) {
	fields := map[string]any{"multiplier": ev.Multiplier, "status": ev.Status}
	for k, v := range ev.Details {
		fields[k] = v
	}
	r.emit.Emit(eventType(ev.Kind), ev.Time, fields)
}

func eventType(k EventKind) events.Type {
	switch k {
	case KindGameStart:
		return events.GameStart
	case KindMultiplierIncrease:
		return events.MultiplierIncrease
	case KindHighMultiplier:
		return events.HighMultiplier
	case KindCrash:
		return events.Crash
	default:
		return events.SensorLost
	}
}

func (r *Runner) State() GameState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tracker.State()
}

func (r *Runner) History() []RoundSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tracker.History()
}

// LastReading is the most recent raw sample.
func (r *Runner) LastReading() sensor.Reading {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

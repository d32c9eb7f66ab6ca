package tracker

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashpilot/clock"
	"crashpilot/events"
	"crashpilot/sensor"
	"crashpilot/sensor/sensortest"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func kinds(evs []GameEvent) []EventKind {
	out := make([]EventKind, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Kind)
	}
	return out
}

func feed(tr *Tracker, rs ...sensor.Reading) []GameEvent {
	var all []GameEvent
	for _, r := range rs {
		all = append(all, tr.Update(r)...)
	}
	return all
}

func TestCleanStartRunAndCrash(t *testing.T) {
	fc := clock.NewFake(t0)
	tr := New(DefaultConfig(), fc)

	evs := tr.Update(sensortest.Value(1.0, sensor.StatusStarting))
	require.Equal(t, []EventKind{KindGameStart}, kinds(evs))
	assert.Equal(t, "clean", evs[0].Details["join"])
	assert.Equal(t, StatusRunning, tr.State().Status)

	fc.Advance(time.Second)
	evs = feed(tr, sensortest.Readings(1.2, 1.2, 1.5)...)
	assert.Equal(t, []EventKind{KindMultiplierIncrease, KindMultiplierIncrease}, kinds(evs))
	assert.InDelta(t, 0.2, evs[0].Details["delta"], 1e-9)

	fc.Advance(time.Second)
	evs = tr.Update(sensortest.Value(0.0, sensor.StatusCrashed))
	require.Equal(t, []EventKind{KindCrash}, kinds(evs))

	hist := tr.History()
	require.Len(t, hist, 1)
	assert.Equal(t, 1, hist[0].Round)
	assert.Equal(t, 1.5, hist[0].MaxMultiplier)
	assert.Equal(t, 1.5, hist[0].CrashMultiplier)
	assert.Equal(t, 2*time.Second, hist[0].Duration)
	assert.Equal(t, 4, hist[0].EventCount)
	assert.Equal(t, StatusCrashed, tr.State().Status)
	assert.True(t, tr.State().Crashed)

	// CRASHED only lasts until the next sample
	assert.Empty(t, tr.Update(sensortest.Value(1.0, sensor.StatusWaiting)))
	assert.Equal(t, StatusIdle, tr.State().Status)
}

func TestMidRoundJoin(t *testing.T) {
	tr := New(DefaultConfig(), clock.NewFake(t0))

	assert.Empty(t, tr.Update(sensortest.Value(1.0, sensor.StatusWaiting)))
	assert.Empty(t, tr.Update(sensortest.Value(2.0, sensor.StatusUnknown)))

	evs := tr.Update(sensortest.Value(2.5, sensor.StatusRunning))
	require.Equal(t, []EventKind{KindGameStart}, kinds(evs))
	assert.Equal(t, "mid_round", evs[0].Details["join"])
	assert.Equal(t, 2.5, tr.State().MaxMultiplier)
}

func TestHighMultiplierFiresOncePerRound(t *testing.T) {
	tr := New(Config{CrashThreshold: 0.5, HighThreshold: 5}, clock.NewFake(t0))

	for round := 0; round < 2; round++ {
		tr.Update(sensortest.Value(1.0, sensor.StatusStarting))
		evs := feed(tr, sensortest.Readings(3, 5, 4, 6, 8)...)
		n := 0
		for _, e := range evs {
			if e.Kind == KindHighMultiplier {
				n++
			}
		}
		assert.Equal(t, 1, n, "round %d", round)
		tr.Update(sensortest.Value(0, sensor.StatusCrashed))
	}
}

func TestJoinAboveHighThresholdSuppressesHighEvent(t *testing.T) {
	tr := New(Config{CrashThreshold: 0.5, HighThreshold: 5}, clock.NewFake(t0))
	tr.Update(sensortest.Value(7, sensor.StatusHigh))
	evs := feed(tr, sensortest.Readings(8, 9)...)
	for _, e := range evs {
		assert.NotEqual(t, KindHighMultiplier, e.Kind)
	}
}

func TestSensorLossIsNotACrash(t *testing.T) {
	tr := New(DefaultConfig(), clock.NewFake(t0))
	tr.Update(sensortest.Value(1.0, sensor.StatusStarting))
	tr.Update(sensortest.Value(1.4, sensor.StatusRunning))

	evs := feed(tr, sensortest.Lost(), sensortest.Lost(), sensortest.Lost())
	require.Equal(t, []EventKind{KindSensorLost}, kinds(evs))
	assert.Equal(t, 1.4, evs[0].Details["last_multiplier"])
	assert.Equal(t, 3, tr.LostStreak())
	assert.Equal(t, StatusRunning, tr.State().Status)
	assert.False(t, tr.State().HasMultiplier)
	assert.Empty(t, tr.History())

	// recovery does not re-emit a start, the delta is against the last valid value
	evs = tr.Update(sensortest.Value(1.6, sensor.StatusRunning))
	require.Equal(t, []EventKind{KindMultiplierIncrease}, kinds(evs))
	assert.InDelta(t, 0.2, evs[0].Details["delta"], 1e-9)
	assert.Equal(t, 0, tr.LostStreak())
}

func TestCrashedLabelAboveThresholdIsNotACrash(t *testing.T) {
	tr := New(DefaultConfig(), clock.NewFake(t0))
	tr.Update(sensortest.Value(1.0, sensor.StatusStarting))
	tr.Update(sensortest.Value(3.0, sensor.StatusRunning))

	evs := tr.Update(sensortest.Value(3.2, sensor.StatusCrashed))
	assert.NotContains(t, kinds(evs), KindCrash)
	assert.Equal(t, StatusRunning, tr.State().Status)
	assert.Equal(t, 3.2, tr.State().MaxMultiplier)
	assert.Empty(t, tr.History())

	evs = tr.Update(sensortest.Value(0.2, sensor.StatusRunning))
	require.Equal(t, []EventKind{KindCrash}, kinds(evs))
	require.Len(t, tr.History(), 1)
	assert.Equal(t, 3.2, tr.History()[0].CrashMultiplier)
}

func TestDeclareCrash(t *testing.T) {
	tr := New(DefaultConfig(), clock.NewFake(t0))
	assert.Empty(t, tr.DeclareCrash("sensor_lost"))

	tr.Update(sensortest.Value(1.0, sensor.StatusStarting))
	tr.Update(sensortest.Value(1.3, sensor.StatusRunning))
	evs := tr.DeclareCrash("sensor_lost")
	require.Equal(t, []EventKind{KindCrash}, kinds(evs))

	last, ok := tr.LastSummary()
	require.True(t, ok)
	assert.Equal(t, "sensor_lost", last.Reason)
	assert.Equal(t, 1.3, last.CrashMultiplier)
}

func TestHistoryLimit(t *testing.T) {
	tr := New(Config{CrashThreshold: 0.5, HighThreshold: 10, HistoryLimit: 3}, clock.NewFake(t0))
	for i := 0; i < 5; i++ {
		tr.Update(sensortest.Value(1.0, sensor.StatusStarting))
		tr.Update(sensortest.Value(0, sensor.StatusCrashed))
	}
	hist := tr.History()
	require.Len(t, hist, 3)
	assert.Equal(t, 3, hist[0].Round)
	assert.Equal(t, 5, hist[2].Round)
}

// Random walks: max never decreases inside a round and every crossing
// below the threshold while running yields exactly one Crash.
func TestRandomStreamProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tr := New(DefaultConfig(), clock.NewFake(t0))

	crossings, crashes := 0, 0
	prevMax := 0.0
	for i := 0; i < 5000; i++ {
		var r sensor.Reading
		switch p := rng.Float64(); {
		case p < 0.05:
			r = sensortest.Lost()
		case p < 0.10:
			r = sensortest.Value(1.0, sensor.StatusStarting)
		case p < 0.15:
			r = sensortest.Value(rng.Float64()*0.5, sensor.StatusRunning)
		default:
			r = sensortest.Value(0.5+rng.Float64()*20, sensor.StatusRunning)
		}

		wasRunning := tr.State().Status == StatusRunning
		if wasRunning && r.Valid && r.Multiplier <= 0.5 {
			crossings++
		}
		for _, e := range tr.Update(r) {
			if e.Kind == KindCrash {
				crashes++
			}
			if e.Kind == KindGameStart {
				prevMax = 0
			}
		}
		st := tr.State()
		if st.Status == StatusRunning {
			require.GreaterOrEqual(t, st.MaxMultiplier, prevMax)
			prevMax = st.MaxMultiplier
		}
	}
	assert.Equal(t, crossings, crashes)
	assert.Equal(t, crashes, len(tr.History()))
}

func TestRunnerDispatchesAndAppliesLossPolicy(t *testing.T) {
	fc := clock.NewFake(t0)
	ms := &sensortest.Multiplier{Script: []sensor.Reading{
		sensortest.Value(1.0, sensor.StatusStarting),
		sensortest.Value(1.2, sensor.StatusRunning),
		sensortest.Lost(),
		sensortest.Lost(),
		sensortest.Value(1.0, sensor.StatusWaiting),
	}}
	rec := &events.Recorder{}
	r := NewRunner(New(DefaultConfig(), fc), ms, fc, RunnerConfig{SensorLossCrashAfter: 2}, events.NewBus(rec))

	var finished []RoundSummary
	r.OnRound(func(s RoundSummary) { finished = append(finished, s) })

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		r.Step(ctx)
	}

	assert.Equal(t, []events.Type{
		events.GameStart,
		events.MultiplierIncrease,
		events.SensorLost,
		events.Crash,
		events.RoundSummary,
	}, rec.Types())
	require.Len(t, finished, 1)
	assert.Equal(t, "sensor_lost", finished[0].Reason)
	assert.Equal(t, StatusIdle, r.State().Status)
	assert.Equal(t, sensor.StatusWaiting, r.LastReading().Status)
	assert.Len(t, r.History(), 1)
}

func TestRunnerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fc := clock.NewFake(t0)
	ms := &sensortest.Multiplier{Script: sensortest.Readings(1.5)}
	r := NewRunner(New(DefaultConfig(), fc), ms, fc, RunnerConfig{PollInterval: 100 * time.Millisecond}, nil)

	fc.OnSleep = func(time.Time) {
		if ms.Calls() >= 10 {
			cancel()
		}
	}
	require.NoError(t, r.Run(ctx))
	assert.GreaterOrEqual(t, ms.Calls(), 10)
}

package signal

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashpilot/config"
	"crashpilot/tracker"
)

func TestGateValidate(t *testing.T) {
	g := Gate{MinConfidence: 0.6, MinTarget: 1.01, MaxTarget: 100}

	ok := Signal{Prediction: PredictionBet, Confidence: 0.8, TargetMultiplier: 1.3}
	assert.Empty(t, g.Validate(ok))

	low := ok
	low.Confidence = 0.5
	assert.Len(t, g.Validate(low), 1)

	bad := Signal{Prediction: PredictionSkip, Confidence: 0.1, TargetMultiplier: 1.0}
	assert.Len(t, g.Validate(bad), 3)

	g.AllowedStrategies = []string{"cold_streak"}
	assert.Len(t, g.Validate(ok), 1)
	ok.Strategy = "cold_streak"
	assert.Empty(t, g.Validate(ok))
}

func TestGateFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	g := GateFromConfig(cfg.Session)
	assert.Equal(t, config.DefaultMinConfidence, g.MinConfidence)
	assert.Equal(t, config.DefaultMaxTarget, g.MaxTarget)
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource(Signal{Prediction: PredictionBet}, Signal{ID: "x"})
	ctx := context.Background()

	s, err := src.Next(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)

	s, err = src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "x", s.ID)

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, ErrSourceClosed)
}

type fakeHistory struct{ rounds []tracker.RoundSummary }

func (f *fakeHistory) History() []tracker.RoundSummary { return f.rounds }

func (f *fakeHistory) add(crash float64) {
	f.rounds = append(f.rounds, tracker.RoundSummary{Round: len(f.rounds) + 1, CrashMultiplier: crash})
}

func TestColdStreakSource(t *testing.T) {
	h := &fakeHistory{}
	src := NewColdStreakSource(ColdStreakConfig{
		Threshold:        2.0,
		Length:           3,
		BaseConfidence:   0.6,
		ConfidenceStep:   0.05,
		TargetMultiplier: 1.5,
	}, h)
	ctx := context.Background()

	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, ErrNoSignal)

	for _, c := range []float64{5.0, 1.2, 1.4} {
		h.add(c)
	}
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, ErrNoSignal)

	h.add(1.1)
	s, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, PredictionBet, s.Prediction)
	assert.InDelta(t, 0.6, s.Confidence, 1e-9)
	assert.Equal(t, 1.5, s.TargetMultiplier)
	assert.Equal(t, 3.0, s.Features["cold_streak"])

	// one signal per finished round
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, ErrNoSignal)

	h.add(1.9)
	s, err = src.Next(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.65, s.Confidence, 1e-9)

	h.add(7.0)
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, ErrNoSignal)
	assert.Equal(t, 0, Streak(h.rounds, 2.0))
}

func TestRedisSource(t *testing.T) {
	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		t.Skip("REDIS_URL not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	client.Del(ctx, config.RedisSignalKey)

	src := NewRedisSource(client, 0)
	require.NoError(t, src.Push(ctx, Signal{Prediction: PredictionBet, Confidence: 0.9, TargetMultiplier: 2}))

	s, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.9, s.Confidence)
	assert.Equal(t, "redis", s.Source)
	assert.NotEmpty(t, s.ID)

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, ErrNoSignal)
}

package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"crashpilot/config"
	"crashpilot/tracker"
)

// StaticSource hands out a fixed list, then reports ErrSourceClosed.
type StaticSource struct {
	mu      sync.Mutex
	signals []Signal
	next    int
}

func NewStaticSource(signals ...Signal) *StaticSource {
	return &StaticSource{signals: signals}
}

func (s *StaticSource) Next(ctx context.Context) (Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.signals) {
		return Signal{}, ErrSourceClosed
	}
	sig := s.signals[s.next]
	s.next++
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	return sig, nil
}

// HistoryProvider exposes finished rounds, oldest first.
type HistoryProvider interface {
	History() []tracker.RoundSummary
}

type ColdStreakConfig struct {
	Threshold        float64
	Length           int
	BaseConfidence   float64
	ConfidenceStep   float64
	TargetMultiplier float64
}

func ColdStreakFromConfig(c *config.Config) ColdStreakConfig {
	return ColdStreakConfig{
		Threshold:        c.ColdStreak.Threshold,
		Length:           c.ColdStreak.Length,
		BaseConfidence:   c.ColdStreak.BaseConfidence,
		ConfidenceStep:   c.ColdStreak.ConfidenceStep,
		TargetMultiplier: c.Session.TargetMultiplier,
	}
}

// ColdStreakSource is the rule-based trigger: after Length consecutive
// rounds crashing below Threshold it signals a bet, more confidently the
// longer the streak. At most one signal per finished round.
type ColdStreakSource struct {
	cfg     ColdStreakConfig
	history HistoryProvider

	mu       sync.Mutex
	lastSeen int
}

func NewColdStreakSource(cfg ColdStreakConfig, h HistoryProvider) *ColdStreakSource {
	if cfg.Length <= 0 {
		cfg.Length = config.ColdStreakLength
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = config.ColdStreakThreshold
	}
	if cfg.TargetMultiplier <= 0 {
		cfg.TargetMultiplier = config.DefaultTargetMultiplier
	}
	return &ColdStreakSource{cfg: cfg, history: h}
}

// Streak counts the trailing cold rounds.
func Streak(hist []tracker.RoundSummary, threshold float64) int {
	n := 0
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].CrashMultiplier >= threshold {
			break
		}
		n++
	}
	return n
}

func (s *ColdStreakSource) Next(ctx context.Context) (Signal, error) {
	hist := s.history.History()
	if len(hist) == 0 {
		return Signal{}, ErrNoSignal
	}
	last := hist[len(hist)-1]

	s.mu.Lock()
	defer s.mu.Unlock()
	if last.Round == s.lastSeen {
		return Signal{}, ErrNoSignal
	}
	s.lastSeen = last.Round

	streak := Streak(hist, s.cfg.Threshold)
	if streak < s.cfg.Length {
		return Signal{}, ErrNoSignal
	}
	conf := math.Min(0.95, s.cfg.BaseConfidence+s.cfg.ConfidenceStep*float64(streak-s.cfg.Length))
	return Signal{
		ID:               uuid.NewString(),
		Prediction:       PredictionBet,
		Confidence:       conf,
		TargetMultiplier: s.cfg.TargetMultiplier,
		Features: map[string]float64{
			"cold_streak":      float64(streak),
			"last_crash":       last.CrashMultiplier,
			"last_max":         last.MaxMultiplier,
			"last_duration_ms": float64(last.Duration.Milliseconds()),
		},
		Position:  1,
		Strategy:  "cold_streak",
		Source:    "cold_streak",
		CreatedAt: last.End,
	}, nil
}

// RedisSource pops JSON signals an external model pushes onto a list.
type RedisSource struct {
	client redis.Cmdable
	key    string
	wait   time.Duration
}

func NewRedisSource(client redis.Cmdable, wait time.Duration) *RedisSource {
	if wait <= 0 {
		wait = time.Second
	}
	return &RedisSource{client: client, key: config.RedisSignalKey, wait: wait}
}

func (s *RedisSource) Next(ctx context.Context) (Signal, error) {
	res, err := s.client.BLPop(ctx, s.wait, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return Signal{}, ErrNoSignal
	}
	if err != nil {
		return Signal{}, fmt.Errorf("failed to pop signal: %w", err)
	}
	// BLPOP returns [key, value]
	if len(res) != 2 {
		return Signal{}, ErrNoSignal
	}
	var sig Signal
	if err := json.Unmarshal([]byte(res[1]), &sig); err != nil {
		logrus.WithField("component", "signal").Warnf("⚠️  dropping malformed signal: %v", err)
		return Signal{}, ErrNoSignal
	}
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.Source == "" {
		sig.Source = "redis"
	}
	if sig.Position == 0 {
		sig.Position = 1
	}
	return sig, nil
}

// Push enqueues a signal; used by tools and tests.
func (s *RedisSource) Push(ctx context.Context, sig Signal) error {
	b, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, s.key, b).Err()
}

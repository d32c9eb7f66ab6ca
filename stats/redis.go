package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"crashpilot/config"
)

// RedisSink keeps per-session counters in a hash
// (crashpilot:stats:{sessionId}).
type RedisSink struct {
	client    redis.Cmdable
	sessionID string
	timeout   time.Duration
}

func NewRedisSink(client redis.Cmdable, sessionID string) *RedisSink {
	return &RedisSink{client: client, sessionID: sessionID, timeout: 3 * time.Second}
}

func (s *RedisSink) Key() string {
	return fmt.Sprintf(config.RedisStatsKey, s.sessionID)
}

func (s *RedisSink) Record(e Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	key := s.Key()
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, key, string(e.Kind), 1)
	switch e.Kind {
	case BetPlaced:
		pipe.HIncrByFloat(ctx, key, "staked", e.Stake.InexactFloat64())
	case RoundOutcome:
		pipe.HIncrBy(ctx, key, "outcome:"+e.Outcome, 1)
		pipe.HIncrByFloat(ctx, key, "profit", e.Profit.InexactFloat64())
	}
	pipe.Expire(ctx, key, config.RedisSessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record stats in redis: %w", err)
	}
	return nil
}

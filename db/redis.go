package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"crashpilot/config"
)

// NewRedisClient connects and pings. An empty Addr means redis is not
// configured and (nil, nil) is returned.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	log := logrus.WithField("component", "redis")
	log.Info("🔌 Connecting to Redis...")

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infof("✅ Redis connected successfully - URL: %s", cfg.Addr)
	return client, nil
}

/* =========================
   SESSION SNAPSHOTS
   Redis Key: crashpilot:session:{sessionId} -> JSON snapshot
========================= */

// RedisStore keeps session snapshots so a restarted bot can resume its
// stake progression.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	if client == nil {
		return nil
	}
	return &RedisStore{client: client, ttl: config.RedisSessionTTL}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf(config.RedisSessionKey, sessionID)
}

// SaveSession stores v as JSON under the session key. Nil store is a no-op.
func (s *RedisStore) SaveSession(ctx context.Context, sessionID string, v any) error {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(sessionID), data, s.ttl)
		pipe.Set(ctx, config.RedisLatestSessionKey, sessionID, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// LatestSession returns the id of the most recently saved session.
func (s *RedisStore) LatestSession(ctx context.Context) (string, bool, error) {
	if s == nil {
		return "", false, nil
	}
	id, err := s.client.Get(ctx, config.RedisLatestSessionKey).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get latest session: %w", err)
	}
	return id, true, nil
}

// LoadSession decodes the stored snapshot into dst. It reports false
// when nothing is stored.
func (s *RedisStore) LoadSession(ctx context.Context, sessionID string, dst any) (bool, error) {
	if s == nil {
		return false, nil
	}
	data, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get session: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return true, nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	if s == nil {
		return nil
	}
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("redis not configured")
	}
	return s.client.Ping(ctx).Err()
}

// internal/session/redis.go
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "calorie-log:session:"
	// FixTTL bounds how long an armed fix latch survives without a message.
	FixTTL = 24 * time.Hour
)

// RedisStore keeps session state in Redis so it survives restarts.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisClient connects to addr (host:port or redis:// URL) and pings it.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}
	if parsed, err := redis.ParseURL(addr); err == nil {
		opts = parsed
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func fixKey(userID string) string    { return keyPrefix + userID + ":fix" }
func pausedKey(userID string) string { return keyPrefix + userID + ":paused" }

func (s *RedisStore) ArmFix(ctx context.Context, userID string) error {
	if err := s.client.Set(ctx, fixKey(userID), "1", FixTTL).Err(); err != nil {
		return fmt.Errorf("failed to arm fix: %w", err)
	}
	return nil
}

func (s *RedisStore) ConsumeFix(ctx context.Context, userID string) (bool, error) {
	_, err := s.client.GetDel(ctx, fixKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume fix: %w", err)
	}
	return true, nil
}

func (s *RedisStore) SetPaused(ctx context.Context, userID string, paused bool) error {
	var err error
	if paused {
		err = s.client.Set(ctx, pausedKey(userID), "1", 0).Err()
	} else {
		err = s.client.Del(ctx, pausedKey(userID)).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to set paused: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, userID string) (State, error) {
	counts, err := s.client.Exists(ctx, fixKey(userID)).Result()
	if err != nil {
		return State{}, fmt.Errorf("failed to read session: %w", err)
	}
	paused, err := s.client.Exists(ctx, pausedKey(userID)).Result()
	if err != nil {
		return State{}, fmt.Errorf("failed to read session: %w", err)
	}
	return State{AwaitingFix: counts > 0, Paused: paused > 0}, nil
}

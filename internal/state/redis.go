package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store over go-redis v9.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to Redis and verifies connectivity with a ping.
// The caller decides whether to fall back to the in-memory store on error.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("Redis connected", "addr", addr, "db", db)
	return &RedisStore{rdb: rdb}, nil
}

// NewRedisStoreFromClient wraps an existing client. Used in tests and when
// the process already holds a connection for the secret store.
func NewRedisStoreFromClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return val, err
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

func (s *RedisStore) GetJSON(ctx context.Context, key string, out any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (s *RedisStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Set(ctx, key, raw, ttl)
}

// =============================================================================
// Distributed locks
// =============================================================================

func (s *RedisStore) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, lockKey(name), "1", ttl).Result()
}

func (s *RedisStore) ReleaseLock(ctx context.Context, name string) error {
	return s.rdb.Del(ctx, lockKey(name)).Err()
}

func (s *RedisStore) IsLocked(ctx context.Context, name string) (bool, error) {
	return s.Exists(ctx, lockKey(name))
}

// =============================================================================
// Health status, alert flags, diagnostic cache
// =============================================================================

func (s *RedisStore) HealthStatus(ctx context.Context, service string) (string, error) {
	raw, err := s.Get(ctx, healthKey(service))
	if errors.Is(err, ErrNotFound) {
		return HealthUnknown, nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *RedisStore) SetHealthStatus(ctx context.Context, service, status string) error {
	return s.Set(ctx, healthKey(service), []byte(status), HealthStatusTTL)
}

func (s *RedisStore) IsAlertSent(ctx context.Context, event string) (bool, error) {
	return s.Exists(ctx, alertKey(event))
}

func (s *RedisStore) MarkAlertSent(ctx context.Context, event string) error {
	return s.Set(ctx, alertKey(event), []byte("1"), AlertFlagTTL)
}

func (s *RedisStore) ClearAlertSent(ctx context.Context, event string) error {
	return s.Delete(ctx, alertKey(event))
}

func (s *RedisStore) GetDiagnostic(ctx context.Context, device, date string, out any) error {
	return s.GetJSON(ctx, diagKey(device, date), out)
}

func (s *RedisStore) SetDiagnostic(ctx context.Context, device, date string, value any) error {
	return s.SetJSON(ctx, diagKey(device, date), value, DiagCacheTTL)
}

func (s *RedisStore) Publish(ctx context.Context, channel string, message []byte) error {
	return s.rdb.Publish(ctx, channel, message).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

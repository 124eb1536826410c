// Package redis provides the Redis-backed record store, used when several
// instances must share rate records.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/hausofbasquiat/gatekeeper/internal/core/ports"
)

const keyPrefix = "gatekeeper:rate:"

// retention bounds how long an untouched record may live server-side.
const retention = 24 * time.Hour

// takeScript prunes, checks and conditionally appends in one atomic step.
// Returns {allowed, count, oldest score in ms}.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
    redis.call('ZADD', key, now, ARGV[4])
    count = count + 1
    allowed = 1
end
redis.call('PEXPIRE', key, ARGV[5])
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = 0
if #oldest > 0 then
    oldestScore = tonumber(oldest[2])
end
return {allowed, count, oldestScore}
`)

type Store struct {
	client *redis.Client
}

var _ ports.RecordStore = (*Store)(nil)

type Config struct {
	Addr     string
	Password string
	DB       int
}

func New(cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Take(ctx context.Context, key string, limit int, window time.Duration) (ports.TakeOutcome, error) {
	now := time.Now()
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())

	raw, err := takeScript.Run(ctx, s.client, []string{keyPrefix + key},
		now.UnixMilli(), window.Milliseconds(), limit, member, retention.Milliseconds()).Result()
	if err != nil {
		return ports.TakeOutcome{}, fmt.Errorf("take %s: %w", key, err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 3 {
		return ports.TakeOutcome{}, fmt.Errorf("take %s: unexpected reply %v", key, raw)
	}

	outcome := ports.TakeOutcome{
		Allowed: reply[0].(int64) == 1,
		Count:   int(reply[1].(int64)),
	}
	if oldest := reply[2].(int64); oldest > 0 {
		outcome.Oldest = time.UnixMilli(oldest)
	}
	return outcome, nil
}

func (s *Store) Append(ctx context.Context, key string) error {
	now := time.Now()
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, keyPrefix+key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	pipe.PExpire(ctx, keyPrefix+key, retention)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) Clear(ctx context.Context, key string) error {
	return s.client.Del(ctx, keyPrefix+key).Err()
}

func (s *Store) ClearAll(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Sweep is a no-op: records carry a server-side TTL refreshed on every
// write, so Redis expires stale keys on its own.
func (s *Store) Sweep(context.Context, time.Duration) error {
	return nil
}

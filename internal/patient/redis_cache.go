package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	redisKeyPrefix   = "care:patient:"
	redisMaxAttempts = 3
)

type redisEnvelope struct {
	Record   *Record   `json:"record"`
	StoredAt time.Time `json:"stored_at"`
}

// RedisCache shares cached records across coordinator replicas. The
// stored_at timestamp is authoritative; the Redis TTL only reclaims memory.
type RedisCache struct {
	redis  *redis.Client
	expiry time.Duration
	now    func() time.Time
	tracer trace.Tracer
}

// NewRedisCache wraps a Redis client; a non-positive expiry uses DefaultExpiry.
func NewRedisCache(client *redis.Client, expiry time.Duration, now func() time.Time) *RedisCache {
	if client == nil {
		panic("patient: redis client cannot be nil")
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if now == nil {
		now = time.Now
	}
	return &RedisCache{
		redis:  client,
		expiry: expiry,
		now:    now,
		tracer: otel.Tracer("care.internal.patient.redis_cache"),
	}
}

func redisKey(id string) string {
	return redisKeyPrefix + id
}

// Expiry returns the configured validity window.
func (c *RedisCache) Expiry() time.Duration {
	return c.expiry
}

// Get returns a fresh entry. The staleness check and delete run under WATCH
// so a concurrent Put from another replica is never removed.
func (c *RedisCache) Get(ctx context.Context, id string) (*Record, bool, error) {
	ctx, span := c.tracer.Start(ctx, "patient.cache_get")
	defer span.End()

	key := redisKey(id)
	for attempt := 0; attempt < redisMaxAttempts; attempt++ {
		var (
			rec   *Record
			found bool
		)
		err := c.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			var env redisEnvelope
			if err := json.Unmarshal(data, &env); err != nil || env.Record == nil {
				// Unreadable entries are dropped like expired ones.
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}
			if isFresh(env.StoredAt, c.now(), c.expiry) {
				rec, found = env.Record, true
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			// A concurrent Put replaced the entry between our read and delete; reread it.
			continue
		}
		if err != nil {
			span.RecordError(err)
			return nil, false, fmt.Errorf("patient: redis cache get: %w", err)
		}
		return rec, found, nil
	}
	return nil, false, fmt.Errorf("patient: redis cache get %s: too much contention", id)
}

// Put stores rec with the current time as stored_at.
func (c *RedisCache) Put(ctx context.Context, id string, rec *Record) error {
	ctx, span := c.tracer.Start(ctx, "patient.cache_put")
	defer span.End()

	data, err := json.Marshal(redisEnvelope{Record: rec, StoredAt: c.now().UTC()})
	if err != nil {
		return fmt.Errorf("patient: failed to marshal cache entry: %w", err)
	}
	if err := c.redis.Set(ctx, redisKey(id), data, c.expiry).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("patient: failed to persist cache entry: %w", err)
	}
	return nil
}

func (c *RedisCache) keys(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	for {
		batch, next, err := c.redis.Scan(ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// Clear deletes every patient key and reports how many were removed.
func (c *RedisCache) Clear(ctx context.Context) (int, error) {
	keys, err := c.keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("patient: redis cache scan: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	removed, err := c.redis.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("patient: redis cache clear: %w", err)
	}
	return int(removed), nil
}

// Stats describes every readable patient entry.
func (c *RedisCache) Stats(ctx context.Context) (CacheStats, error) {
	keys, err := c.keys(ctx)
	if err != nil {
		return CacheStats{}, fmt.Errorf("patient: redis cache scan: %w", err)
	}
	stats := CacheStats{
		ExpiryMinutes: c.expiry.Minutes(),
		Entries:       make(map[string]EntryStats, len(keys)),
	}
	if len(keys) == 0 {
		return stats, nil
	}
	values, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return CacheStats{}, fmt.Errorf("patient: redis cache stats: %w", err)
	}
	now := c.now()
	for i, raw := range values {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var env redisEnvelope
		if err := json.Unmarshal([]byte(s), &env); err != nil || env.Record == nil {
			continue
		}
		id := strings.TrimPrefix(keys[i], redisKeyPrefix)
		stats.Entries[statsKey(id)] = entryStats(env.Record, env.StoredAt, now, c.expiry)
	}
	stats.TotalEntries = len(stats.Entries)
	return stats, nil
}

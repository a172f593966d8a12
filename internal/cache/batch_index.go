// Package cache memoizes per-device batch listings in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"example.com/magcollector/internal/domain"
)

// KeyPrefix namespaces every batch index key.
const KeyPrefix = "magcollector:batches:"

// GenerationPrefix namespaces the per-device invalidation counters.
const GenerationPrefix = "magcollector:batches-gen:"

var errGenerationMoved = errors.New("batch index generation moved")

// NoopBatchIndex never caches.
type NoopBatchIndex struct{}

var _ domain.BatchIndexCache = NoopBatchIndex{}

// Get always misses.
func (NoopBatchIndex) Get(context.Context, string) (domain.BatchIndexEntry, error) {
	return domain.BatchIndexEntry{}, nil
}

// Set performs no action.
func (NoopBatchIndex) Set(context.Context, string, int64, []int64) error { return nil }

// Invalidate performs no action.
func (NoopBatchIndex) Invalidate(context.Context, string) error { return nil }

// RedisBatchIndex stores each device's ascending batch list as a JSON array with a TTL,
// next to a counter bumped on every invalidation.
type RedisBatchIndex struct {
	client *redis.Client
	ttl    time.Duration
}

var _ domain.BatchIndexCache = (*RedisBatchIndex)(nil)

// NewRedisBatchIndex constructs a RedisBatchIndex. A zero ttl keeps entries until invalidated.
func NewRedisBatchIndex(client *redis.Client, ttl time.Duration) *RedisBatchIndex {
	return &RedisBatchIndex{client: client, ttl: ttl}
}

// Key returns the Redis key for a device.
func Key(deviceID string) string {
	return KeyPrefix + deviceID
}

// GenerationKey returns the invalidation counter key for a device.
func GenerationKey(deviceID string) string {
	return GenerationPrefix + deviceID
}

// Get returns the cached batch list and the current generation in one round trip.
func (c *RedisBatchIndex) Get(ctx context.Context, deviceID string) (domain.BatchIndexEntry, error) {
	vals, err := c.client.MGet(ctx, Key(deviceID), GenerationKey(deviceID)).Result()
	if err != nil {
		return domain.BatchIndexEntry{}, err
	}

	var entry domain.BatchIndexEntry
	if raw, ok := vals[1].(string); ok {
		gen, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.BatchIndexEntry{}, fmt.Errorf("parse batch index generation: %w", err)
		}
		entry.Generation = gen
	}

	raw, ok := vals[0].(string)
	if !ok {
		return entry, nil
	}
	var batches []int64
	if err := json.Unmarshal([]byte(raw), &batches); err != nil {
		// A corrupt entry is a miss; the next Set replaces it.
		return entry, nil
	}
	if batches == nil {
		batches = []int64{}
	}
	entry.Batches = batches
	entry.Hit = true
	return entry, nil
}

// Set stores the batch list of a device unless it was invalidated since generation was read.
func (c *RedisBatchIndex) Set(ctx context.Context, deviceID string, generation int64, batches []int64) error {
	if batches == nil {
		batches = []int64{}
	}
	payload, err := json.Marshal(batches)
	if err != nil {
		return err
	}

	genKey := GenerationKey(deviceID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != generation {
			return errGenerationMoved
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, Key(deviceID), payload, c.ttl)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, errGenerationMoved) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// Invalidate drops the cached list of a device and bumps its generation atomically.
func (c *RedisBatchIndex) Invalidate(ctx context.Context, deviceID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, GenerationKey(deviceID))
		pipe.Del(ctx, Key(deviceID))
		return nil
	})
	return err
}

// Ping checks connectivity.
func (c *RedisBatchIndex) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

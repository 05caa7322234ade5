// Package cache keeps recognizer output in Redis so repeated texts skip
// inference. Keys are SHA-256 digests; text is never stored.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/persondata/internal/config"
	"github.com/raaihank/persondata/internal/ner"
)

// EntityCache handles Redis-based caching of NER entity spans
type EntityCache struct {
	client  *redis.Client
	config  config.CacheConfig
	modelID string
	logger  *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewEntityCache connects to Redis. Entries are scoped to modelID so a model
// change never serves stale spans.
func NewEntityCache(cfg config.CacheConfig, modelID string, logger *zap.Logger) (*EntityCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinIdleConns

	c := &EntityCache{
		client:  redis.NewClient(opts),
		config:  cfg,
		modelID: modelID,
		logger:  logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		_ = c.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Entity cache initialized successfully",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Duration("default_ttl", cfg.DefaultTTL))

	return c, nil
}

// Get returns the cached entities for text. A miss is not an error.
func (c *EntityCache) Get(ctx context.Context, text string) ([]ner.Entity, bool, error) {
	key := c.key(text)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.misses.Add(1)
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("cache lookup failed: %w", err)
	}

	list, err := decodeEntities(data, c.modelID)
	if err != nil {
		c.logger.Warn("Dropping unreadable cache entry", zap.String("key", key), zap.Error(err))
		c.client.Del(ctx, key)
		c.misses.Add(1)
		return nil, false, nil
	}

	c.hits.Add(1)
	c.logger.Debug("Cache hit", zap.String("key", key), zap.Int("entities", len(list)))
	return list, true, nil
}

// Set stores the entities found in text for the configured TTL.
func (c *EntityCache) Set(ctx context.Context, text string, list []ner.Entity) error {
	data, err := encodeEntities(list, c.modelID)
	if err != nil {
		return fmt.Errorf("failed to marshal entities for caching: %w", err)
	}

	key := c.key(text)
	if err := c.client.Set(ctx, key, data, c.config.DefaultTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache entities: %w", err)
	}

	c.logger.Debug("Entities cached", zap.String("key", key), zap.Int("entities", len(list)))
	return nil
}

// GetStats returns cache performance statistics
func (c *EntityCache) GetStats(ctx context.Context) (*CacheStats, error) {
	info, err := c.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	for _, line := range strings.Split(info, "\r\n") {
		if memStr, ok := strings.CutPrefix(line, "used_memory:"); ok {
			if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
				stats.MemoryUsage = mem
			}
		}
	}

	if keys, err := c.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes all cached entries under the key prefix
func (c *EntityCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.config.KeyPrefix+":ner:*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	const batchSize = 100
	for i := 0; i < len(keys); i += batchSize {
		end := min(i+batchSize, len(keys))
		if err := c.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	c.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (c *EntityCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *EntityCache) key(text string) string {
	return entityKey(c.config.KeyPrefix, c.modelID, text)
}

// entityKey builds prefix:ner:<sha256(model, text)>.
func entityKey(prefix, modelID, text string) string {
	h := sha256.New()
	h.Write([]byte(modelID))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return fmt.Sprintf("%s:ner:%s", prefix, hex.EncodeToString(h.Sum(nil)))
}

func encodeEntities(list []ner.Entity, modelID string) ([]byte, error) {
	return json.Marshal(cachedEntities{
		ModelID:  modelID,
		Spans:    toSpans(list),
		CachedAt: time.Now().UTC(),
	})
}

func decodeEntities(data []byte, modelID string) ([]ner.Entity, error) {
	var v cachedEntities
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	if v.ModelID != modelID {
		return nil, fmt.Errorf("entry written by model %q", v.ModelID)
	}
	return fromSpans(v.Spans), nil
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(url string) string {
	if !strings.Contains(url, "@") {
		return url
	}
	parts := strings.SplitN(url, "@", 2)
	userParts := strings.Split(parts[0], ":")
	if len(userParts) >= 3 {
		userParts[len(userParts)-1] = "***"
		parts[0] = strings.Join(userParts, ":")
	}
	return strings.Join(parts, "@")
}

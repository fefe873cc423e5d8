// Package cache keeps resolved tenants in Redis so credential checks on the
// hot path skip the database.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"payments-service/internal/model"
)

const keyPrefix = "payments:tenant:"

var (
	cacheHitCounter   = metrics.GetOrCreateCounter(`tenant_cache_total{result="hit"}`)
	cacheMissCounter  = metrics.GetOrCreateCounter(`tenant_cache_total{result="miss"}`)
	cacheErrorCounter = metrics.GetOrCreateCounter(`tenant_cache_total{result="error"}`)
)

// Connect initializes a Redis client from a redis:// URL or a host:port address.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}

// TenantCache stores tenants under a hash of their credential. Redis failures
// are logged and treated as misses.
type TenantCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewTenantCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *TenantCache {
	return &TenantCache{client: client, ttl: ttl, logger: logger}
}

func (c *TenantCache) Get(ctx context.Context, credential string) (*model.Tenant, bool) {
	raw, err := c.client.Get(ctx, key(credential)).Bytes()
	if errors.Is(err, redis.Nil) {
		cacheMissCounter.Inc()
		return nil, false
	}
	if err != nil {
		c.logger.WarnContext(ctx, "Error reading tenant cache", "error", err)
		cacheErrorCounter.Inc()
		return nil, false
	}

	var t model.Tenant
	if err := json.Unmarshal(raw, &t); err != nil {
		c.logger.WarnContext(ctx, "Corrupt tenant cache entry", "error", err)
		cacheErrorCounter.Inc()
		return nil, false
	}
	cacheHitCounter.Inc()
	return &t, true
}

func (c *TenantCache) Set(ctx context.Context, credential string, t *model.Tenant) {
	raw, err := json.Marshal(t)
	if err != nil {
		cacheErrorCounter.Inc()
		return
	}
	if err := c.client.Set(ctx, key(credential), raw, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "Error writing tenant cache", "error", err)
		cacheErrorCounter.Inc()
	}
}

func (c *TenantCache) Delete(ctx context.Context, credential string) {
	if err := c.client.Del(ctx, key(credential)).Err(); err != nil {
		c.logger.WarnContext(ctx, "Error evicting tenant cache", "error", err)
		cacheErrorCounter.Inc()
	}
}

func key(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return keyPrefix + hex.EncodeToString(sum[:])
}

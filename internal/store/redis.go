package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	riskpkg "wyckoff-scanner/internal/risk"
)

const (
	snapshotKey = "wyckoff:portfolio:snapshot"
	snapshotTTL = 5 * time.Minute
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// SnapshotCache publishes the portfolio risk snapshot so external readers
// see it without touching the engine. When Redis is unavailable the cache
// degrades to its in-memory copy and keeps serving.
type SnapshotCache struct {
	client *redis.Client
	logger zerolog.Logger

	mu        sync.RWMutex
	last      *riskpkg.PortfolioRiskSnapshot
	available bool
}

// NewSnapshotCache connects to Redis. A failed connection is not fatal:
// the cache starts in degraded in-memory mode and probes on each publish.
func NewSnapshotCache(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) *SnapshotCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	c := &SnapshotCache{
		client: client,
		logger: logger.With().Str("component", "SnapshotCache").Logger(),
	}
	if err := client.Ping(ctx).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("Redis unavailable, running in-memory only")
	} else {
		c.available = true
		c.logger.Info().Str("address", cfg.Address).Msg("Redis connected")
	}
	return c
}

// Publish stores the latest snapshot in memory and, when Redis is
// reachable, as a TTL'd key.
func (c *SnapshotCache) Publish(ctx context.Context, snap *riskpkg.PortfolioRiskSnapshot) {
	c.mu.Lock()
	c.last = snap
	c.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	err = c.client.Set(ctx, snapshotKey, data, snapshotTTL).Err()
	c.setAvailable(err == nil)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Snapshot publish to Redis failed")
	}
}

// Latest returns the most recent snapshot, preferring Redis so multiple
// processes converge on the same view.
func (c *SnapshotCache) Latest(ctx context.Context) (*riskpkg.PortfolioRiskSnapshot, error) {
	data, err := c.client.Get(ctx, snapshotKey).Bytes()
	if err == nil {
		var snap riskpkg.PortfolioRiskSnapshot
		if err := json.Unmarshal(data, &snap); err == nil {
			c.setAvailable(true)
			return &snap, nil
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last != nil {
		return c.last, nil
	}
	return nil, fmt.Errorf("no snapshot available")
}

// Available reports whether the last Redis operation succeeded.
func (c *SnapshotCache) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

// Close releases the Redis client.
func (c *SnapshotCache) Close() error {
	return c.client.Close()
}

func (c *SnapshotCache) setAvailable(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok && !c.available {
		c.logger.Info().Msg("Redis connection restored")
	}
	c.available = ok
}

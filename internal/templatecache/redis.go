package templatecache

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/template"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/resilience"
)

const keyPrefix = "template:"

// Store is the subset of the Redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

var _ Store = (*pkgredis.Client)(nil)

// Redis shares templates between processes. Redis failures never fail a
// lookup: the template is built locally and the breaker keeps a dead Redis
// from being hammered.
type Redis struct {
	store   Store
	ttl     time.Duration
	breaker *resilience.Breaker
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func NewRedis(store Store, ttl time.Duration, m *metrics.Metrics) *Redis {
	return &Redis{
		store: store,
		ttl:   ttl,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Backend:          "redis",
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
			Metrics:          m,
		}),
		metrics: m,
		logger:  slog.Default().With("component", "template-cache"),
	}
}

func (c *Redis) get(ctx context.Context, key string) (*template.VirtualDocumentTemplate, bool) {
	var data []byte
	err := c.breaker.Do(ctx, "get", func(ctx context.Context) error {
		var gerr error
		data, gerr = c.store.Get(ctx, key)
		if pkgredis.IsNilError(gerr) {
			return nil
		}
		return gerr
	})
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	if data == nil {
		return nil, false
	}
	t, err := template.Unmarshal(data)
	if err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	return t, true
}

func (c *Redis) set(ctx context.Context, key string, t *template.VirtualDocumentTemplate) {
	data, err := template.Marshal(t)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Do(ctx, "set", func(ctx context.Context) error {
		return c.store.Set(ctx, key, data, c.ttl)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

func (c *Redis) GetOrBuild(ctx context.Context, name string, build BuildFunc) (*template.VirtualDocumentTemplate, bool, error) {
	key := buildKey(name)
	if t, ok := c.get(ctx, key); ok {
		c.hits.Add(1)
		c.metrics.CacheResult(true)
		return t, true, nil
	}
	c.misses.Add(1)
	c.metrics.CacheResult(false)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if t, ok := c.get(ctx, key); ok {
			return t, nil
		}
		t, err := build(ctx)
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, t)
		return t, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*template.VirtualDocumentTemplate), false, nil
}

// Invalidate always reaches Redis, open circuit or not, and closes the
// circuit when the flush succeeds.
func (c *Redis) Invalidate(ctx context.Context) error {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating template cache: %w", err)
	}
	c.breaker.Reset()
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

// Breaker exposes the state of the Redis circuit.
func (c *Redis) Breaker() resilience.BreakerStats {
	return c.breaker.Stats()
}

func (c *Redis) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// buildKey hashes the logical name so that long type IRIs stay within a
// bounded key length.
func buildKey(name string) string {
	hash := sha256.Sum256([]byte(name))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

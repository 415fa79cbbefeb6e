// Package templatecache caches built document templates by key so that a
// template is built at most once per key even under concurrent demand.
package templatecache

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/template"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/metrics"
)

// BuildFunc produces the template for a cache miss.
type BuildFunc func(ctx context.Context) (*template.VirtualDocumentTemplate, error)

// Cache stores templates by key. GetOrBuild reports whether the value was a
// hit.
type Cache interface {
	GetOrBuild(ctx context.Context, key string, build BuildFunc) (*template.VirtualDocumentTemplate, bool, error)
	Invalidate(ctx context.Context) error
}

// Memory is an in-process Cache.
type Memory struct {
	mu      sync.RWMutex
	items   map[string]*template.VirtualDocumentTemplate
	group   singleflight.Group
	metrics *metrics.Metrics
	hits    atomic.Int64
	misses  atomic.Int64
}

func NewMemory(m *metrics.Metrics) *Memory {
	return &Memory{items: make(map[string]*template.VirtualDocumentTemplate), metrics: m}
}

func (c *Memory) get(key string) (*template.VirtualDocumentTemplate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.items[key]
	return t, ok
}

func (c *Memory) GetOrBuild(ctx context.Context, key string, build BuildFunc) (*template.VirtualDocumentTemplate, bool, error) {
	if t, ok := c.get(key); ok {
		c.record(true)
		return t, true, nil
	}
	c.record(false)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if t, ok := c.get(key); ok {
			return t, nil
		}
		t, err := build(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.items[key] = t
		c.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*template.VirtualDocumentTemplate), false, nil
}

func (c *Memory) Invalidate(context.Context) error {
	c.mu.Lock()
	clear(c.items)
	c.mu.Unlock()
	return nil
}

// Len returns the number of cached templates.
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Memory) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Memory) record(hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	c.metrics.CacheResult(hit)
}

package rules

import (
	"context"
	"sync"
	"time"

	"github.com/liamcoop/incentives/registry"
)

type cacheEntry struct {
	rule     *RuleDefinition
	cachedAt time.Time
}

// InMemoryRuleCache is a process-local RuleCache.
// Thread-safe for concurrent access
type InMemoryRuleCache struct {
	entries map[string]cacheEntry
	config  CacheConfig
	now     func() time.Time
	mu      sync.RWMutex
}

// NewInMemoryRuleCache creates a new in-memory rule cache
func NewInMemoryRuleCache(config CacheConfig) *InMemoryRuleCache {
	return &InMemoryRuleCache{
		entries: make(map[string]cacheEntry),
		config:  config,
		now:     time.Now,
	}
}

// Get returns the cached rule for code unless it is missing or expired
func (c *InMemoryRuleCache) Get(_ context.Context, code string) (*RuleDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[registry.NormalizeCode(code)]
	if !ok {
		return nil, false
	}

	if c.config.TTL > 0 && c.now().Sub(entry.cachedAt) > c.config.TTL {
		return nil, false
	}

	return entry.rule, true
}

// Set stores rule under code
func (c *InMemoryRuleCache) Set(_ context.Context, code string, rule *RuleDefinition) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[registry.NormalizeCode(code)] = cacheEntry{
		rule:     rule,
		cachedAt: c.now(),
	}
	return nil
}

// Invalidate drops code from the cache
func (c *InMemoryRuleCache) Invalidate(_ context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, registry.NormalizeCode(code))
	return nil
}

// InvalidateAll clears the cache
func (c *InMemoryRuleCache) InvalidateAll(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]cacheEntry)
	return nil
}

// Len returns the number of entries, expired ones included
func (c *InMemoryRuleCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

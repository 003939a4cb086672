package rules

import (
	"context"
	"time"
)

// RuleCache caches rule definitions keyed by normalized jurisdiction code.
// This allows swapping between in-memory, Redis, or other caching implementations.
// Whoever writes to the backing rule store must call Invalidate or
// InvalidateAll so the cache never serves a superseded rule.
type RuleCache interface {
	// Get returns the cached rule, or false on a miss or expiry
	Get(ctx context.Context, code string) (*RuleDefinition, bool)

	// Set stores the rule resolved for code. The key is the requested
	// code, not the document's own jurisdiction_code.
	Set(ctx context.Context, code string, rule *RuleDefinition) error

	// Invalidate drops one code
	Invalidate(ctx context.Context, code string) error

	// InvalidateAll drops every cached rule
	InvalidateAll(ctx context.Context) error
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration
}

// DefaultCacheConfig returns sensible defaults for rule caching
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 0,
	}
}

package rules

import (
	"context"
	"log/slog"

	"github.com/liamcoop/incentives/registry"
)

// CachedRuleStore serves rules from a RuleCache, falling back to the wrapped
// store on a miss. Misses and errors are never cached.
type CachedRuleStore struct {
	next   RuleStore
	cache  RuleCache
	logger *slog.Logger
}

// CachedRuleStoreOption configures a CachedRuleStore.
type CachedRuleStoreOption func(*CachedRuleStore)

// WithCacheLogger sets the logger used for cache write failures.
func WithCacheLogger(logger *slog.Logger) CachedRuleStoreOption {
	return func(s *CachedRuleStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewCachedRuleStore wraps next with cache.
func NewCachedRuleStore(next RuleStore, cache RuleCache, opts ...CachedRuleStoreOption) *CachedRuleStore {
	s := &CachedRuleStore{
		next:   next,
		cache:  cache,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Get returns the cached rule for code or loads and caches it.
func (s *CachedRuleStore) Get(ctx context.Context, code string) (*RuleDefinition, error) {
	normalized := registry.NormalizeCode(code)
	if rule, ok := s.cache.Get(ctx, normalized); ok {
		return rule, nil
	}

	rule, err := s.next.Get(ctx, normalized)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, normalized, rule); err != nil {
		s.logger.Warn("rule cache write failed", "jurisdiction_code", normalized, "error", err)
	}
	return rule, nil
}

// ListCodes is not cached; listings always hit the backing store.
func (s *CachedRuleStore) ListCodes(ctx context.Context) ([]string, error) {
	return s.next.ListCodes(ctx)
}

// Invalidate drops code so the next Get re-resolves it.
func (s *CachedRuleStore) Invalidate(ctx context.Context, code string) error {
	return s.cache.Invalidate(ctx, code)
}

// InvalidateAll drops every cached rule.
func (s *CachedRuleStore) InvalidateAll(ctx context.Context) error {
	return s.cache.InvalidateAll(ctx)
}

package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/liamcoop/incentives/registry"
)

// Redis key prefix for cached rule documents
const redisRuleKeyPrefix = "incentives:rule:"

// RedisRuleCache shares cached rules between server instances. It stores the
// raw document and re-parses on every hit, so compiled filters never cross
// process boundaries.
type RedisRuleCache struct {
	client redis.Cmdable
	config CacheConfig
}

// NewRedisRuleCache constructs a Redis-backed rule cache.
func NewRedisRuleCache(client redis.Cmdable, config CacheConfig) *RedisRuleCache {
	return &RedisRuleCache{
		client: client,
		config: config,
	}
}

func redisRuleKey(code string) string {
	return redisRuleKeyPrefix + registry.NormalizeCode(code)
}

// Get returns the cached rule. Redis failures and undecodable entries are misses.
func (c *RedisRuleCache) Get(ctx context.Context, code string) (*RuleDefinition, bool) {
	data, err := c.client.Get(ctx, redisRuleKey(code)).Bytes()
	if err != nil {
		return nil, false
	}

	rule, err := Parse(data)
	if err != nil {
		return nil, false
	}
	return rule, true
}

// Set stores the rule document with the configured TTL (0 = no expiry).
func (c *RedisRuleCache) Set(ctx context.Context, code string, rule *RuleDefinition) error {
	if len(rule.Raw) == 0 {
		return errors.New("rule has no source document to cache")
	}
	if err := c.client.Set(ctx, redisRuleKey(code), rule.Raw, c.config.TTL).Err(); err != nil {
		return fmt.Errorf("failed to cache rule %s: %w", code, err)
	}
	return nil
}

// Invalidate deletes one cached rule.
func (c *RedisRuleCache) Invalidate(ctx context.Context, code string) error {
	if err := c.client.Del(ctx, redisRuleKey(code)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate rule %s: %w", code, err)
	}
	return nil
}

// InvalidateAll deletes every key under the rule prefix.
func (c *RedisRuleCache) InvalidateAll(ctx context.Context) error {
	var keys []string
	iter := c.client.Scan(ctx, 0, redisRuleKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cached rules: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached rules: %w", err)
	}
	return nil
}

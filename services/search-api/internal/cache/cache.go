// Package cache holds the short-TTL response cache in front of the search
// backend. The TTL is seconds-scale: long enough to absorb typeahead
// keystroke bursts, short enough that freshly relayed documents show up
// quickly.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type ResponseCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New returns a cache over rdb. A nil client yields a disabled cache that
// always misses, mirroring how the API runs without REDIS_ADDR configured.
func New(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *ResponseCache {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &ResponseCache{rdb: rdb, ttl: ttl, logger: logger}
}

// Key builds the cache key for one search request. Types are sorted so the
// key is insensitive to the order the caller listed them in, and the query is
// normalized with trim + lowercase.
func Key(tenantID, siteID string, types []string, query string) string {
	sorted := append([]string(nil), types...)
	sort.Strings(sorted)
	normalized := strings.ToLower(strings.TrimSpace(query))
	return "search:" + tenantID + ":" + siteID + ":" + strings.Join(sorted, "|") + ":" + normalized
}

// Get returns the cached response body verbatim. Any Redis failure is treated
// as a miss; the cache only ever saves work, it never blocks a query.
func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	body, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) && c.logger != nil {
			c.logger.Warn("cache get failed", "key", key, "err", err)
		}
		return nil, false
	}
	return body, true
}

// Set stores the response body with the configured TTL, best effort.
func (c *ResponseCache) Set(ctx context.Context, key string, body []byte) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, key, body, c.ttl).Err(); err != nil && c.logger != nil {
		c.logger.Warn("cache set failed", "key", key, "err", err)
	}
}

// Package cache provides a Redis-backed cache of final result orderings.
// The cache is strictly an optimization: any Redis failure behaves as a
// miss and the pipeline recomputes the ranking.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "rank:results:"

// ResultsCache caches final URL orderings keyed by the query text plus the
// candidate URL set (order-insensitive: the same documents retrieved in a
// different order still hit).
type ResultsCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewResultsCache connects to Redis via URL. An empty URL returns a disabled
// cache that always misses.
func NewResultsCache(redisURL string, ttl time.Duration, logger *slog.Logger) (*ResultsCache, error) {
	if redisURL == "" {
		return &ResultsCache{ttl: ttl, logger: logger}, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	return &ResultsCache{
		client: redis.NewClient(opts),
		ttl:    ttl,
		logger: logger,
	}, nil
}

// Close releases the Redis connection.
func (c *ResultsCache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Get returns the cached final order for the request, if present.
func (c *ResultsCache) Get(ctx context.Context, queryText string, urls []string) ([]string, bool) {
	if c.client == nil {
		return nil, false
	}

	raw, err := c.client.Get(ctx, c.key(queryText, urls)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("results_cache_get_failed", slog.String("error", err.Error()))
		}
		return nil, false
	}

	var order []string
	if err := json.Unmarshal(raw, &order); err != nil {
		c.logger.Warn("results_cache_entry_corrupt", slog.String("error", err.Error()))
		return nil, false
	}
	return order, true
}

// Store saves the final order for the request.
func (c *ResultsCache) Store(ctx context.Context, queryText string, urls []string, order []string) error {
	if c.client == nil {
		return nil
	}

	raw, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}

	if err := c.client.Set(ctx, c.key(queryText, urls), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store order: %w", err)
	}
	return nil
}

func (c *ResultsCache) key(queryText string, urls []string) string {
	sorted := make([]string, len(urls))
	copy(sorted, urls)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(queryText))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sorted, "\n")))
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pricewatch/internal/domain"
)

const defaultSummaryTTL = 2 * time.Hour

// SummaryCache implements domain.SummaryCache using Redis hashes with
// JSON-serialized summaries.
//
// Key schema:
//
//	item:{key} - hash with field "data" containing JSON
type SummaryCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSummaryCache creates a SummaryCache backed by the given Client. A
// non-positive ttl falls back to the 2-hour default, long enough to cover a
// missed refresh cycle but short enough that a removed item ages out on its
// own.
func NewSummaryCache(c *Client, ttl time.Duration) *SummaryCache {
	if ttl <= 0 {
		ttl = defaultSummaryTTL
	}
	return &SummaryCache{rdb: c.Underlying(), ttl: ttl}
}

func summaryKey(itemKey string) string { return "item:" + itemKey }

// SetSummary stores the item's latest summary with the configured TTL.
func (sc *SummaryCache) SetSummary(ctx context.Context, s domain.ItemSummary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("redis: marshal summary %s: %w", s.Key, err)
	}

	key := summaryKey(s.Key)

	pipe := sc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, sc.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set summary %s: %w", s.Key, err)
	}
	return nil
}

// GetSummary retrieves an item summary by its key.
// It returns domain.ErrNotFound when the key does not exist or has expired.
func (sc *SummaryCache) GetSummary(ctx context.Context, key string) (domain.ItemSummary, error) {
	data, err := sc.rdb.HGet(ctx, summaryKey(key), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ItemSummary{}, domain.ErrNotFound
		}
		return domain.ItemSummary{}, fmt.Errorf("redis: get summary %s: %w", key, err)
	}

	var s domain.ItemSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return domain.ItemSummary{}, fmt.Errorf("redis: unmarshal summary %s: %w", key, err)
	}
	return s, nil
}

// Compile-time interface check.
var _ domain.SummaryCache = (*SummaryCache)(nil)

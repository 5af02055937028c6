// Package analysis resolves and persists deduplicated analysis results.
//
// Results are keyed by (territory, gazette, configuration signature),
// optionally extended with the city filter that narrowed a state
// gazette. Resolution walks a TTL'd KV tier over the durable store, so
// a redelivered or replayed analysis message reuses the stored result
// instead of rerunning the analyzers.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gazeta-aberta/gazeta/internal/gazette"
	"github.com/gazeta-aberta/gazeta/internal/registry"
)

// Tier says where a result resolution was answered.
type Tier string

// Resolution tiers, fastest first.
const (
	TierKV    Tier = "kv"
	TierStore Tier = "store"
	TierMiss  Tier = "miss"
)

const kvPrefix = "analysis:dedup:"

// Store is the durable tier under the KV cache.
type Store interface {
	SaveAnalysisResult(ctx context.Context, res *gazette.AnalysisResult) (*gazette.AnalysisResult, bool, error)
	GetAnalysisByDedupKey(ctx context.Context, dedupKey string) (*gazette.AnalysisResult, error)
}

// Cache layers a TTL'd KV tier over the analysis store. The KV entry is
// only ever written after the durable row exists, so a KV hit needs no
// write-through; a store hit rehydrates the KV entry. KV outages
// degrade resolution to the store instead of failing it.
type Cache struct {
	redis  *redis.Client
	store  Store
	logger *slog.Logger
	ttl    time.Duration
}

// NewCache wires the two tiers together.
func NewCache(rdb *redis.Client, store Store, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{redis: rdb, store: store, logger: logger, ttl: ttl}
}

// KVKey returns the KV key for a dedup key.
func KVKey(dedupKey string) string {
	return kvPrefix + dedupKey
}

// Resolve walks the tiers for an existing analysis result. A miss on
// both tiers returns (nil, TierMiss, nil); the caller runs the
// analyzers and Commits.
func (c *Cache) Resolve(ctx context.Context, dedupKey string) (*gazette.AnalysisResult, Tier, error) {
	key := KVKey(dedupKey)

	data, err := c.redis.Get(ctx, key).Bytes()

	switch {
	case err == nil:
		res, decErr := decodeCached(data, dedupKey)
		if decErr == nil {
			return res, TierKV, nil
		}

		c.logger.WarnContext(ctx, "dropping undecodable analysis cache entry",
			"key", key, "error", decErr)
		c.redis.Del(ctx, key)
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "analysis kv lookup failed, falling back to store",
			"key", key, "error", err)
	}

	res, err := c.store.GetAnalysisByDedupKey(ctx, dedupKey)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, TierMiss, nil
	}

	if err != nil {
		return nil, TierMiss, fmt.Errorf("analysis store lookup: %w", err)
	}

	c.rehydrate(ctx, key, res)

	return res, TierStore, nil
}

// Commit persists a fresh result and refreshes the KV entry. The
// returned row is the stored one: when a concurrent worker won the
// insert race, inserted is false and the winner's row comes back.
func (c *Cache) Commit(ctx context.Context, res *gazette.AnalysisResult) (*gazette.AnalysisResult, bool, error) {
	stored, inserted, err := c.store.SaveAnalysisResult(ctx, res)
	if err != nil {
		return nil, false, fmt.Errorf("save analysis result: %w", err)
	}

	c.rehydrate(ctx, KVKey(stored.DedupKey), stored)

	return stored, inserted, nil
}

// decodeCached restores a KV entry; the dedup key is not serialized and
// comes back from the lookup key.
func decodeCached(data []byte, dedupKey string) (*gazette.AnalysisResult, error) {
	var res gazette.AnalysisResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}

	res.DedupKey = dedupKey

	return &res, nil
}

// rehydrate refreshes the KV entry, best-effort.
func (c *Cache) rehydrate(ctx context.Context, key string, res *gazette.AnalysisResult) {
	data, err := json.Marshal(res)
	if err != nil {
		c.logger.WarnContext(ctx, "encode analysis cache entry failed", "key", key, "error", err)

		return
	}

	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "analysis kv write failed", "key", key, "error", err)
	}
}

package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/gazeta-aberta/gazeta/internal/config"
	"github.com/gazeta-aberta/gazeta/internal/gazette"
	"github.com/gazeta-aberta/gazeta/internal/registry"
	"github.com/gazeta-aberta/gazeta/internal/urlx"
)

// Tier says where a cache lookup was answered.
type Tier string

// Cache tiers, fastest first.
const (
	TierKV    Tier = "kv"
	TierStore Tier = "store"
	TierMiss  Tier = "miss"
)

const cacheKeyPrefix = "ocr:"

// Store is the durable tier under the KV cache.
type Store interface {
	GetOcrResult(ctx context.Context, kind string, documentID int64) (*gazette.OcrResult, error)
	SaveOcrResult(ctx context.Context, res *gazette.OcrResult) (*gazette.OcrResult, error)
}

// Cache layers a TTL'd KV tier over the OCR store. Reads repair whichever
// tier is stale: a KV hit writes through to a missing store row, a store
// hit rehydrates the KV entry. KV outages degrade lookups to the store
// instead of failing them.
type Cache struct {
	redis  *redis.Client
	store  Store
	logger *slog.Logger
	ttl    time.Duration
}

// NewRedisClient builds the redis connection from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewCache wires the two tiers together.
func NewCache(rdb *redis.Client, store Store, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{redis: rdb, store: store, logger: logger, ttl: ttl}
}

// CacheKey returns the KV key for a canonical PDF URL.
func CacheKey(pdfURL string) string {
	return cacheKeyPrefix + urlx.Base64Key(pdfURL)
}

// Lookup walks the tiers for the gazette's extracted text.
func (c *Cache) Lookup(ctx context.Context, pdfURL string, gazetteID int64) (*gazette.OcrResult, Tier, error) {
	key := CacheKey(pdfURL)

	data, err := c.redis.Get(ctx, key).Bytes()

	switch {
	case err == nil:
		res, decErr := decodeResult(data)
		if decErr == nil {
			c.ensureStored(ctx, res, gazetteID)

			return res, TierKV, nil
		}

		c.logger.WarnContext(ctx, "dropping undecodable ocr cache entry",
			"key", key, "error", decErr)
		c.redis.Del(ctx, key)
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "ocr kv lookup failed, falling back to store",
			"key", key, "error", err)
	}

	res, err := c.store.GetOcrResult(ctx, gazette.DocumentKindGazette, gazetteID)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, TierMiss, nil
	}

	if err != nil {
		return nil, TierMiss, fmt.Errorf("ocr store lookup: %w", err)
	}

	c.rehydrate(ctx, key, res)

	return res, TierStore, nil
}

// Save persists a fresh OCR result in both tiers and returns the stored
// row. When it replaces different text for the same gazette, the
// similarity of old and new is logged so drifting sources stand out.
func (c *Cache) Save(ctx context.Context, pdfURL string, res *gazette.OcrResult) (*gazette.OcrResult, error) {
	existing, err := c.store.GetOcrResult(ctx, res.DocumentKind, res.DocumentID)
	if err == nil && existing.ExtractedText != res.ExtractedText {
		c.logger.InfoContext(ctx, "replacing stored ocr text",
			"gazette_id", res.DocumentID,
			"old_length", len(existing.ExtractedText),
			"new_length", len(res.ExtractedText),
			"similarity", fmt.Sprintf("%.3f", textSimilarity(existing.ExtractedText, res.ExtractedText)))
	}

	stored, err := c.store.SaveOcrResult(ctx, res)
	if err != nil {
		return nil, fmt.Errorf("save ocr result: %w", err)
	}

	c.rehydrate(ctx, CacheKey(pdfURL), stored)

	return stored, nil
}

// ensureStored writes a KV hit through to the store when the row is
// missing there. Store trouble only logs: the caller already has text.
func (c *Cache) ensureStored(ctx context.Context, res *gazette.OcrResult, gazetteID int64) {
	_, err := c.store.GetOcrResult(ctx, gazette.DocumentKindGazette, gazetteID)
	if err == nil {
		return
	}

	if !errors.Is(err, registry.ErrNotFound) {
		c.logger.WarnContext(ctx, "ocr write-through check failed",
			"gazette_id", gazetteID, "error", err)

		return
	}

	row := *res
	row.ID = 0
	row.DocumentKind = gazette.DocumentKindGazette
	row.DocumentID = gazetteID

	if _, err := c.store.SaveOcrResult(ctx, &row); err != nil {
		c.logger.WarnContext(ctx, "ocr write-through failed",
			"gazette_id", gazetteID, "error", err)
	}
}

// rehydrate refreshes the KV entry, best-effort.
func (c *Cache) rehydrate(ctx context.Context, key string, res *gazette.OcrResult) {
	data, err := encodeResult(res)
	if err != nil {
		c.logger.WarnContext(ctx, "encode ocr cache entry failed", "key", key, "error", err)

		return
	}

	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "ocr kv write failed", "key", key, "error", err)
	}
}

// encodeResult frames the result as lz4-compressed JSON. Gazette text is
// highly repetitive boilerplate, so this keeps multi-megabyte documents
// well under KV value limits.
func encodeResult(res *gazette.OcrResult) ([]byte, error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeResult(data []byte) (*gazette.OcrResult, error) {
	raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, err
	}

	var res gazette.OcrResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}

	return &res, nil
}

// textSimilarity is 1 minus the normalized Levenshtein distance.
func textSimilarity(oldText, newText string) float64 {
	if oldText == newText {
		return 1
	}

	longest := max(len(oldText), len(newText))
	if longest == 0 {
		return 1
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldText, newText, false)

	return 1 - float64(dmp.DiffLevenshtein(diffs))/float64(longest)
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"papertrader/internal/domain"
)

// QuoteCache implements domain.PriceCache using Redis hashes. Each token's
// quote is stored at "quote:{address}" with fields "price" and "liq", and
// expires after the TTL the writer supplies, so the polling coordinator can
// amortize rate-limited provider calls across closely spaced cycles.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(address string) string {
	return "quote:" + domain.NormalizeAddress(address)
}

// SetQuote stores a quote with the given TTL. A non-positive TTL stores
// nothing: an unexpiring market price is worse than no cache.
func (qc *QuoteCache) SetQuote(ctx context.Context, ref domain.TokenRef, q domain.Quote, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	key := quoteKey(ref.Address)

	pipe := qc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"price": strconv.FormatFloat(q.PriceUSD, 'f', -1, 64),
		"liq":   strconv.FormatFloat(q.LiquidityUSD, 'f', -1, 64),
	})
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", ref.Address, err)
	}
	return nil
}

// GetQuotes retrieves cached quotes for the given tokens using a pipeline.
// Tokens without a cached entry are silently omitted; the result is keyed by
// normalized address.
func (qc *QuoteCache) GetQuotes(ctx context.Context, refs []domain.TokenRef) (map[string]domain.Quote, error) {
	result := make(map[string]domain.Quote, len(refs))
	if len(refs) == 0 {
		return result, nil
	}

	pipe := qc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(refs))
	for _, ref := range refs {
		key := domain.NormalizeAddress(ref.Address)
		cmds[key] = pipe.HGetAll(ctx, quoteKey(ref.Address))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	for key, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		price, err := strconv.ParseFloat(vals["price"], 64)
		if err != nil || price <= 0 {
			continue
		}
		liq, _ := strconv.ParseFloat(vals["liq"], 64)
		result[key] = domain.Quote{PriceUSD: price, LiquidityUSD: liq}
	}

	return result, nil
}

var _ domain.PriceCache = (*QuoteCache)(nil)

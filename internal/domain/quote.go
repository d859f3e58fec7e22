package domain

import (
	"context"
	"time"
)

// TokenRef identifies a token on a specific chain.
type TokenRef struct {
	Chain   string
	Address string
}

// Quote is a resolved market data point for a token. A zero PriceUSD means
// the price is unavailable, never that the token trades at zero.
type Quote struct {
	PriceUSD     float64
	LiquidityUSD float64
}

// Available reports whether the quote carries a usable price.
func (q Quote) Available() bool {
	return q.PriceUSD > 0
}

// PriceSource resolves current USD prices and available liquidity for a set
// of tokens, best-effort: tokens that cannot be resolved are simply absent
// from the result map, keyed by normalized address.
type PriceSource interface {
	Prices(ctx context.Context, refs []TokenRef) (map[string]Quote, error)
}

// PriceCache is an optional short-TTL read-through cache in front of the
// providers. Both sides are best-effort; a cache failure never fails a
// lookup.
type PriceCache interface {
	GetQuotes(ctx context.Context, refs []TokenRef) (map[string]Quote, error)
	SetQuote(ctx context.Context, ref TokenRef, q Quote, ttl time.Duration) error
}

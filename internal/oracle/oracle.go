package oracle

import (
	"context"
	"log/slog"
	"time"

	"papertrader/internal/domain"
)

// Oracle combines the primary batch provider, the per-token fallback, and an
// optional read-through cache into one best-effort PriceSource.
type Oracle struct {
	primary   *DexscreenerClient
	secondary *GeckoTerminalClient
	cache     domain.PriceCache // nil disables caching
	cacheTTL  time.Duration
	logger    *slog.Logger
}

// New creates an Oracle. cache may be nil.
func New(primary *DexscreenerClient, secondary *GeckoTerminalClient, cache domain.PriceCache, cacheTTL time.Duration, logger *slog.Logger) *Oracle {
	return &Oracle{
		primary:   primary,
		secondary: secondary,
		cache:     cache,
		cacheTTL:  cacheTTL,
		logger:    logger.With(slog.String("component", "oracle")),
	}
}

// Prices resolves quotes for the given tokens: cache first, then the
// primary batch provider, then the secondary provider for whatever is still
// missing. Provider failures degrade to skipped tokens, never to an error
// for the whole batch — the returned map simply lacks the entry.
func (o *Oracle) Prices(ctx context.Context, refs []domain.TokenRef) (map[string]domain.Quote, error) {
	quotes := make(map[string]domain.Quote, len(refs))
	if len(refs) == 0 {
		return quotes, nil
	}

	remaining := refs
	if o.cache != nil {
		cached, err := o.cache.GetQuotes(ctx, refs)
		if err != nil {
			o.logger.Warn("price cache read failed", slog.String("error", err.Error()))
		} else if len(cached) > 0 {
			for key, q := range cached {
				quotes[key] = q
			}
			remaining = missing(refs, quotes)
		}
	}

	if len(remaining) > 0 {
		primary, err := o.primary.Lookup(ctx, remaining)
		if err != nil {
			o.logger.Warn("primary provider lookup failed",
				slog.Int("tokens", len(remaining)),
				slog.String("error", err.Error()),
			)
		}
		for key, q := range primary {
			quotes[key] = q
			o.cacheQuote(ctx, key, q)
		}
		remaining = missing(refs, quotes)
	}

	for _, ref := range remaining {
		if ctx.Err() != nil {
			break
		}
		q, err := o.secondary.Lookup(ctx, ref)
		if err != nil {
			// Skipped for this cycle; the position is left untouched.
			o.logger.Warn("token unresolved this cycle",
				slog.String("address", ref.Address),
				slog.String("chain", ref.Chain),
				slog.String("error", err.Error()),
			)
			continue
		}
		key := domain.NormalizeAddress(ref.Address)
		quotes[key] = q
		o.cacheQuote(ctx, key, q)
	}

	return quotes, nil
}

func (o *Oracle) cacheQuote(ctx context.Context, key string, q domain.Quote) {
	if o.cache == nil {
		return
	}
	if err := o.cache.SetQuote(ctx, domain.TokenRef{Address: key}, q, o.cacheTTL); err != nil {
		o.logger.Warn("price cache write failed",
			slog.String("address", key),
			slog.String("error", err.Error()),
		)
	}
}

func missing(refs []domain.TokenRef, have map[string]domain.Quote) []domain.TokenRef {
	var out []domain.TokenRef
	for _, ref := range refs {
		if _, ok := have[domain.NormalizeAddress(ref.Address)]; !ok {
			out = append(out, ref)
		}
	}
	return out
}

var _ domain.PriceSource = (*Oracle)(nil)

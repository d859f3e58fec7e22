// Package oracle resolves current USD prices and available liquidity for
// tokens, querying Dexscreener in rate-limited batches with a GeckoTerminal
// per-token fallback. Lookups are best-effort: a token no provider can
// resolve is absent from the result, never reported at a zero price.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"papertrader/internal/domain"
)

// DefaultDexscreenerURL is the public Dexscreener API host.
const DefaultDexscreenerURL = "https://api.dexscreener.com"

// dexPair is one trading venue in a Dexscreener response.
type dexPair struct {
	ChainID   string `json:"chainId"`
	BaseToken struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceUSD  string `json:"priceUsd"`
	Liquidity struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
}

type dexResponse struct {
	Pairs []dexPair `json:"pairs"`
}

// DexscreenerClient is the primary batch price provider. The tokens endpoint
// accepts up to chunkSize comma-joined addresses per call; chunks are spaced
// by chunkDelay to respect the provider's rate limit.
type DexscreenerClient struct {
	baseURL    string
	client     *http.Client
	chunkSize  int
	chunkDelay time.Duration
	logger     *slog.Logger
}

// NewDexscreenerClient creates a DexscreenerClient. chunkSize is clamped to
// the provider's 30-address limit.
func NewDexscreenerClient(baseURL string, timeout time.Duration, chunkSize int, chunkDelay time.Duration, logger *slog.Logger) *DexscreenerClient {
	if baseURL == "" {
		baseURL = DefaultDexscreenerURL
	}
	if chunkSize <= 0 || chunkSize > 30 {
		chunkSize = 30
	}
	return &DexscreenerClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: timeout},
		chunkSize:  chunkSize,
		chunkDelay: chunkDelay,
		logger:     logger.With(slog.String("component", "dexscreener")),
	}
}

// Lookup resolves quotes for the given tokens, chunking the batch to the
// per-call address limit. When a token trades on multiple venues, the
// listing with the highest liquidity wins. The result is keyed by
// normalized address; unresolved tokens are absent.
func (c *DexscreenerClient) Lookup(ctx context.Context, refs []domain.TokenRef) (map[string]domain.Quote, error) {
	quotes := make(map[string]domain.Quote, len(refs))
	if len(refs) == 0 {
		return quotes, nil
	}

	for start := 0; start < len(refs); start += c.chunkSize {
		if start > 0 && c.chunkDelay > 0 {
			select {
			case <-ctx.Done():
				return quotes, ctx.Err()
			case <-time.After(c.chunkDelay):
			}
		}

		end := start + c.chunkSize
		if end > len(refs) {
			end = len(refs)
		}
		chunk := refs[start:end]

		pairs, err := c.fetchChunk(ctx, chunk)
		if err != nil {
			return quotes, fmt.Errorf("dexscreener: batch %d-%d: %w", start, end, err)
		}

		c.selectBest(chunk, pairs, quotes)
	}

	return quotes, nil
}

func (c *DexscreenerClient) fetchChunk(ctx context.Context, refs []domain.TokenRef) ([]dexPair, error) {
	addrs := make([]string, len(refs))
	for i, ref := range refs {
		addrs[i] = ref.Address
	}

	url := c.baseURL + "/latest/dex/tokens/" + strings.Join(addrs, ",")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var parsed dexResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return parsed.Pairs, nil
}

// selectBest picks, for each requested token, the matching pair with the
// highest liquidity and records its quote. Pairs on other chains or with a
// non-positive price are ignored.
func (c *DexscreenerClient) selectBest(refs []domain.TokenRef, pairs []dexPair, out map[string]domain.Quote) {
	for _, ref := range refs {
		key := domain.NormalizeAddress(ref.Address)
		chain := strings.ToLower(ref.Chain)

		var best domain.Quote
		for _, pair := range pairs {
			if domain.NormalizeAddress(pair.BaseToken.Address) != key {
				continue
			}
			if chain != "" && !strings.EqualFold(pair.ChainID, chain) {
				continue
			}
			price, err := strconv.ParseFloat(pair.PriceUSD, 64)
			if err != nil || price <= 0 {
				continue
			}
			if !best.Available() || pair.Liquidity.USD > best.LiquidityUSD {
				best = domain.Quote{PriceUSD: price, LiquidityUSD: pair.Liquidity.USD}
			}
		}

		if best.Available() {
			out[key] = best
		} else {
			c.logger.Debug("no usable pair for token",
				slog.String("address", ref.Address),
				slog.String("chain", ref.Chain),
			)
		}
	}
}

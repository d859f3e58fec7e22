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

// DefaultGeckoTerminalURL is the public GeckoTerminal API host.
const DefaultGeckoTerminalURL = "https://api.geckoterminal.com"

// geckoResponse mirrors the JSON:API shape of GeckoTerminal's token
// endpoint; prices and reserves arrive as decimal strings.
type geckoResponse struct {
	Data struct {
		Attributes struct {
			PriceUSD          string `json:"price_usd"`
			TotalReserveInUSD string `json:"total_reserve_in_usd"`
		} `json:"attributes"`
	} `json:"data"`
}

// GeckoTerminalClient is the secondary provider, queried one token at a
// time for entries the primary batch could not resolve.
type GeckoTerminalClient struct {
	baseURL  string
	client   *http.Client
	networks map[string]string // chain name -> GeckoTerminal network id
	logger   *slog.Logger
}

// defaultNetworks maps common chain names to GeckoTerminal network ids
// where the two differ.
var defaultNetworks = map[string]string{
	"ethereum": "eth",
	"polygon":  "polygon_pos",
	"arbitrum": "arbitrum",
	"bsc":      "bsc",
}

// NewGeckoTerminalClient creates a GeckoTerminalClient. networks overrides
// or extends the built-in chain-to-network mapping; chains absent from both
// are passed through unchanged.
func NewGeckoTerminalClient(baseURL string, timeout time.Duration, networks map[string]string, logger *slog.Logger) *GeckoTerminalClient {
	if baseURL == "" {
		baseURL = DefaultGeckoTerminalURL
	}
	merged := make(map[string]string, len(defaultNetworks)+len(networks))
	for k, v := range defaultNetworks {
		merged[k] = v
	}
	for k, v := range networks {
		merged[strings.ToLower(k)] = v
	}
	return &GeckoTerminalClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		networks: merged,
		logger:   logger.With(slog.String("component", "geckoterminal")),
	}
}

// Lookup resolves a single token's quote, or domain.ErrPriceUnavailable
// when the provider has no usable price for it.
func (c *GeckoTerminalClient) Lookup(ctx context.Context, ref domain.TokenRef) (domain.Quote, error) {
	network := strings.ToLower(ref.Chain)
	if mapped, ok := c.networks[network]; ok {
		network = mapped
	}

	url := fmt.Sprintf("%s/api/v2/networks/%s/tokens/%s", c.baseURL, network, ref.Address)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("geckoterminal: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("geckoterminal: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.Quote{}, fmt.Errorf("geckoterminal: token %s on %s: %w", ref.Address, network, domain.ErrPriceUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.Quote{}, fmt.Errorf("geckoterminal: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var parsed geckoResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.Quote{}, fmt.Errorf("geckoterminal: decode response: %w", err)
	}

	price, err := strconv.ParseFloat(parsed.Data.Attributes.PriceUSD, 64)
	if err != nil || price <= 0 {
		return domain.Quote{}, fmt.Errorf("geckoterminal: token %s on %s: %w", ref.Address, network, domain.ErrPriceUnavailable)
	}

	// Reserve is optional; a missing figure just means no slippage model
	// input for this token.
	liquidity, _ := strconv.ParseFloat(parsed.Data.Attributes.TotalReserveInUSD, 64)

	return domain.Quote{PriceUSD: price, LiquidityUSD: liquidity}, nil
}

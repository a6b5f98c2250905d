// Package sentiment maps exchange symbols to CoinGecko coin ids and
// classifies a directional bias hint for the fill model. The classifier
// is a neutral placeholder; the symbol mapping and its cache are live.
package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Fershtater/fomo-calc-app/internal/logger"
	"github.com/Fershtater/fomo-calc-app/internal/models"
)

// DefaultAPIURL is the public CoinGecko v3 endpoint.
const DefaultAPIURL = "https://api.coingecko.com/api/v3"

const coinsListKey = "coins_list"

type coinListing struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// Client looks up CoinGecko coin ids with a file-backed cache in front
// of the /coins/list endpoint.
type Client struct {
	apiURL     string
	httpClient *http.Client
	cache      *Cache
	cacheTTL   time.Duration
}

// NewClient creates a sentiment client. Zero values fall back to the
// public endpoint, a 24h cache TTL, and a 15s timeout.
func NewClient(apiURL, cachePath string, cacheTTL, timeout time.Duration) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		apiURL: strings.TrimRight(apiURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cache:    NewCache(cachePath),
		cacheTTL: cacheTTL,
	}
}

// FindCoinID maps an exchange symbol to a CoinGecko coin id. Exact
// symbol matches win over name matches; an unknown symbol returns ""
// without an error.
func (c *Client) FindCoinID(ctx context.Context, symbol string) (string, error) {
	coins, err := c.coinsList(ctx)
	if err != nil {
		return "", err
	}
	for _, coin := range coins {
		if strings.EqualFold(coin.Symbol, symbol) {
			return coin.ID, nil
		}
	}
	for _, coin := range coins {
		if strings.EqualFold(coin.Name, symbol) {
			return coin.ID, nil
		}
	}
	logger.Debug("No CoinGecko id for symbol %s", symbol)
	return "", nil
}

func (c *Client) coinsList(ctx context.Context) ([]coinListing, error) {
	var coins []coinListing
	if c.cache.Get(coinsListKey, c.cacheTTL, &coins) {
		return coins, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/coins/list", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch coins list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&coins); err != nil {
		return nil, fmt.Errorf("failed to decode coins list: %w", err)
	}

	if err := c.cache.Set(coinsListKey, coins); err != nil {
		logger.Warn("Failed to cache coins list: %v", err)
	}
	return coins, nil
}

// ClassifyBias turns raw sentiment data into a directional hint. No
// signal source is wired yet, so every input maps to NEUTRAL.
func ClassifyBias(data map[string]any) models.Bias {
	return models.BiasNeutral
}

// Bias resolves the coin and classifies its bias. Lookup failures fall
// back to NEUTRAL so the caller never blocks on sentiment.
func (c *Client) Bias(ctx context.Context, coin string) models.Bias {
	id, err := c.FindCoinID(ctx, coin)
	if err != nil {
		logger.Debug("Sentiment lookup failed for %s: %v", coin, err)
		return models.BiasNeutral
	}
	if id == "" {
		return models.BiasNeutral
	}
	return ClassifyBias(map[string]any{"id": id})
}

package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cast"

	"github.com/Fershtater/fomo-calc-app/internal/models"
)

// DefaultInfoURL is the public Hyperliquid info endpoint.
const DefaultInfoURL = "https://api.hyperliquid.xyz/info"

// depthLevels is how many levels per side feed the depth figure.
const depthLevels = 3

// Client provides access to the Hyperliquid info API.
type Client struct {
	infoURL        string
	httpClient     *http.Client
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a Hyperliquid client. Zero values fall back to the
// public endpoint, a 10s timeout, 3 retries, and a 1s backoff base.
func NewClient(infoURL string, timeout time.Duration, maxRetries int, retryDelayBase time.Duration) *Client {
	if infoURL == "" {
		infoURL = DefaultInfoURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		infoURL: infoURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// FetchUniverse retrieves the perpetuals universe joined with its asset
// contexts by index.
func (c *Client) FetchUniverse(ctx context.Context) ([]models.Asset, error) {
	data, err := c.doRequest(ctx, map[string]any{"type": "metaAndAssetCtxs"})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch universe: %w", err)
	}
	return parseUniverse(data)
}

// FetchOrderBook retrieves the L2 book for one coin and reduces it to
// touch prices and depth.
func (c *Client) FetchOrderBook(ctx context.Context, coin string) (*models.BookMetrics, error) {
	data, err := c.doRequest(ctx, map[string]any{"type": "l2Book", "coin": coin})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch book for %s: %w", coin, err)
	}
	book, err := parseBook(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse book for %s: %w", coin, err)
	}
	return book, nil
}

func (c *Client) doRequest(ctx context.Context, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.infoURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}
		if readErr != nil {
			lastErr = fmt.Errorf("failed to read response: %w", readErr)
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
			continue
		}
		return data, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// parseUniverse joins instrument metadata with asset contexts by index.
// The context list may arrive as the second top-level array element,
// under assetContexts, or inside the meta object.
func parseUniverse(data []byte) ([]models.Asset, error) {
	var top any
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("failed to decode universe: %w", err)
	}
	universe, ctxs := splitUniverse(top)
	if len(universe) == 0 {
		return nil, fmt.Errorf("no instruments in universe response")
	}

	assets := make([]models.Asset, 0, len(universe))
	for i, rawMeta := range universe {
		meta, ok := rawMeta.(map[string]any)
		if !ok {
			continue
		}
		coin := cast.ToString(meta["name"])
		if coin == "" {
			continue
		}
		asset := models.Asset{
			Coin:         coin,
			MaxLeverage:  cast.ToFloat64(meta["maxLeverage"]),
			OnlyIsolated: cast.ToBool(meta["onlyIsolated"]),
			MarginMode:   cast.ToString(meta["marginMode"]),
		}
		if i < len(ctxs) {
			if assetCtx, ok := ctxs[i].(map[string]any); ok {
				asset.Funding = fundingValue(assetCtx["funding"])
				asset.MarkPx = cast.ToFloat64(assetCtx["markPx"])
				asset.MidPx = cast.ToFloat64(assetCtx["midPx"])
				asset.OraclePx = cast.ToFloat64(assetCtx["oraclePx"])
				asset.OpenInterest = cast.ToFloat64(assetCtx["openInterest"])
				asset.DayNtlVlm = cast.ToFloat64(assetCtx["dayNtlVlm"])
			}
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

func splitUniverse(top any) (universe, ctxs []any) {
	switch v := top.(type) {
	case []any:
		if len(v) >= 2 {
			ctxs = toList(v[1])
		}
		if len(v) >= 1 {
			switch meta := v[0].(type) {
			case map[string]any:
				universe = toList(meta["universe"])
				if ctxs == nil {
					ctxs = ctxList(meta)
				}
			case []any:
				universe = meta
			}
		}
	case map[string]any:
		universe = toList(v["universe"])
		ctxs = ctxList(v)
	}
	return universe, ctxs
}

func ctxList(m map[string]any) []any {
	if list := toList(m["assetContexts"]); list != nil {
		return list
	}
	return toList(m["assetCtxs"])
}

// fundingValue coerces a funding rate that may arrive as a number, a
// numeric string, or an object with a funding field.
func fundingValue(v any) float64 {
	if m, ok := v.(map[string]any); ok {
		return cast.ToFloat64(m["funding"])
	}
	return cast.ToFloat64(v)
}

// parseBook reduces an L2 book to touch prices, spread, and the summed
// quote-terms size of the top levels per side.
func parseBook(data []byte) (*models.BookMetrics, error) {
	var top any
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("failed to decode book: %w", err)
	}
	bids, asks := splitBook(top)

	bestBid, bidDepth := topOfBook(bids)
	bestAsk, askDepth := topOfBook(asks)
	if bestBid <= 0 || bestAsk <= 0 {
		return nil, fmt.Errorf("book has no two-sided quotes")
	}

	mid := (bestBid + bestAsk) / 2
	spread := bestAsk - bestBid
	var spreadBps float64
	if mid > 0 {
		spreadBps = spread / mid * 10000
	}
	return &models.BookMetrics{
		BestBid:   bestBid,
		BestAsk:   bestAsk,
		Mid:       mid,
		Spread:    spread,
		SpreadBps: spreadBps,
		DepthTop:  bidDepth + askDepth,
	}, nil
}

func splitBook(top any) (bids, asks []any) {
	switch v := top.(type) {
	case []any:
		return sidePair(v)
	case map[string]any:
		if levels := toList(v["levels"]); levels != nil {
			return sidePair(levels)
		}
		if book, ok := v["book"].(map[string]any); ok {
			return toList(book["bids"]), toList(book["asks"])
		}
		return toList(v["bids"]), toList(v["asks"])
	}
	return nil, nil
}

func sidePair(v []any) (bids, asks []any) {
	if len(v) >= 1 {
		bids = toList(v[0])
	}
	if len(v) >= 2 {
		asks = toList(v[1])
	}
	return bids, asks
}

// topOfBook returns the touch price and the quote-terms size of the top
// levels of one side.
func topOfBook(levels []any) (bestPx, depth float64) {
	for i, raw := range levels {
		if i >= depthLevels {
			break
		}
		px, sz := parseLevel(raw)
		if i == 0 {
			bestPx = px
		}
		depth += px * sz
	}
	return bestPx, depth
}

// parseLevel accepts a level as a {px, sz} object or a [px, sz] pair,
// with numbers or numeric strings.
func parseLevel(raw any) (px, sz float64) {
	switch lvl := raw.(type) {
	case map[string]any:
		return cast.ToFloat64(lvl["px"]), cast.ToFloat64(lvl["sz"])
	case []any:
		if len(lvl) >= 1 {
			px = cast.ToFloat64(lvl[0])
		}
		if len(lvl) >= 2 {
			sz = cast.ToFloat64(lvl[1])
		}
	}
	return px, sz
}

func toList(v any) []any {
	list, _ := v.([]any)
	return list
}

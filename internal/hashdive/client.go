package hashdive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/polysignal/consensuswatch/internal/config"
	"github.com/polysignal/consensuswatch/internal/metrics"
)

// Client queries the HashDive whale-data API. Only the last-price lookup
// is used, as one rung of the price fallback chain.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient returns nil when no API key is configured; callers treat a
// nil client as an absent price source.
func NewClient(cfg *config.Config) *Client {
	if cfg.HashDiveAPIKey == "" {
		return nil
	}
	return &Client{
		baseURL:    cfg.HashDiveBaseURL,
		apiKey:     cfg.HashDiveAPIKey,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

type lastPriceResponse struct {
	Price float64 `json:"last_price"`
}

// LastPrice returns the most recent traded price for an outcome token,
// false when HashDive has none.
func (c *Client) LastPrice(ctx context.Context, assetID string) (float64, bool, error) {
	u, err := url.Parse(c.baseURL + "/get_last_price")
	if err != nil {
		return 0, false, fmt.Errorf("parse URL: %w", err)
	}
	q := u.Query()
	q.Set("asset_id", assetID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return 0, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.RecordAPIRequest("hashdive", "/get_last_price", time.Since(start), err)
	if err != nil {
		return 0, false, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, false, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var out lastPriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, false, fmt.Errorf("decode response: %w", err)
	}
	if out.Price <= 0 {
		return 0, false, nil
	}
	return out.Price, true, nil
}

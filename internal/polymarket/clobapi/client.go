package clobapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/polysignal/consensuswatch/internal/config"
	"github.com/polysignal/consensuswatch/internal/metrics"
	"github.com/polysignal/consensuswatch/internal/ratelimit"
)

// Client handles communication with the Polymarket CLOB API
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
}

// NewClient creates a new CLOB API client
func NewClient(cfg *config.Config, limiter *ratelimit.Limiter) *Client {
	return &Client{
		baseURL:    cfg.CLOBAPIBaseURL,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    limiter,
	}
}

// Status fetches the liveness view for a market. A 404 is a confirmed
// answer (market gone), not an error; transport failures return an error
// and the caller treats liveness as unknown.
func (c *Client) Status(ctx context.Context, market string) (*MarketStatus, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u := c.baseURL + "/markets/" + url.PathEscape(market)

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.RecordAPIRequest("clob", "/markets", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &MarketStatus{Known: true, Active: false, Closed: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var doc Market
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &MarketStatus{
		Known:    true,
		Active:   doc.Active && !doc.Closed && !doc.Archived,
		Closed:   doc.Closed || doc.Archived,
		Question: doc.Question,
		Slug:     doc.MarketSlug,
		Tokens:   doc.Tokens,
	}, nil
}

// Midpoint fetches the current midpoint price for an outcome token
func (c *Client) Midpoint(ctx context.Context, tokenID string) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit wait: %w", err)
	}

	u, err := url.Parse(c.baseURL + "/midpoint")
	if err != nil {
		return 0, fmt.Errorf("parse URL: %w", err)
	}
	q := u.Query()
	q.Set("token_id", tokenID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.RecordAPIRequest("clob", "/midpoint", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var mid midpointResponse
	if err := json.NewDecoder(resp.Body).Decode(&mid); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}

	price, err := strconv.ParseFloat(mid.Mid, 64)
	if err != nil {
		return 0, fmt.Errorf("parse midpoint %q: %w", mid.Mid, err)
	}
	return price, nil
}

package dataapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/polysignal/consensuswatch/internal/config"
	"github.com/polysignal/consensuswatch/internal/metrics"
	"github.com/polysignal/consensuswatch/internal/ratelimit"
	"github.com/sirupsen/logrus"
)

// CallError classifies an upstream failure so callers never parse error
// text. Retryable covers timeouts, connection failures, 5xx and 429;
// everything else is terminal.
type CallError struct {
	Endpoint   string
	Status     int
	Retryable  bool
	RetryAfter time.Duration // >0 only when the server sent Retry-After
	Message    string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("data api %s: status=%d retryable=%v: %s", e.Endpoint, e.Status, e.Retryable, e.Message)
}

// Classify extracts the retry decision from an error. ok is false for
// errors that did not come from this client.
func Classify(err error) (retryable bool, retryAfter time.Duration, ok bool) {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Retryable, ce.RetryAfter, true
	}
	return false, 0, false
}

// Client handles communication with the Polymarket Data API. One shared
// limiter and semaphore throttle all callers; the per-worker http.Client
// pools connections.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	proxyClient *http.Client // nil unless a proxy is configured
	limiter     *ratelimit.Limiter
	sem         *ratelimit.Semaphore
	log         *logrus.Logger
}

// NewClient creates a new Data API client
func NewClient(cfg *config.Config, limiter *ratelimit.Limiter, sem *ratelimit.Semaphore, log *logrus.Logger) (*Client, error) {
	c := &Client{
		baseURL:    cfg.DataAPIBaseURL,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    limiter,
		sem:        sem,
		log:        log,
	}

	if cfg.DataAPIProxy != "" {
		proxyURL, err := url.Parse(cfg.DataAPIProxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy URL: %w", err)
		}
		c.proxyClient = &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}

	return c, nil
}

// TradeCount returns the wallet's lifetime trade count. This is the
// cheapest quality signal, fetched before any heavier call.
func (c *Client) TradeCount(ctx context.Context, address string) (int, error) {
	q := url.Values{}
	q.Set("user", address)

	var resp tradedResponse
	if err := c.get(ctx, "/traded", q, &resp); err != nil {
		return 0, err
	}
	return resp.Traded, nil
}

// ClosedPositions returns up to limit most-recent closed positions for a
// wallet within the lookback window.
func (c *Client) ClosedPositions(ctx context.Context, address string, lookback time.Duration, limit int) ([]Position, error) {
	q := url.Values{}
	q.Set("user", address)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sortBy", "CLOSED")
	q.Set("sortDirection", "DESC")

	var positions []Position
	if err := c.get(ctx, "/closed-positions", q, &positions); err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-lookback).Unix()
	filtered := positions[:0]
	for _, p := range positions {
		if p.ClosedTS == 0 || p.ClosedTS >= cutoff {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// RecentTrades returns a wallet's newest trades for one side, newest first
func (c *Client) RecentTrades(ctx context.Context, address, side string, limit int) ([]Trade, error) {
	q := url.Values{}
	q.Set("user", address)
	q.Set("side", side)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("takerOnly", "true")

	var trades []Trade
	if err := c.get(ctx, "/trades", q, &trades); err != nil {
		return nil, err
	}
	return trades, nil
}

// LastTradeTimestamp returns the wallet's most recent trade time, 0 when
// the wallet has no visible activity.
func (c *Client) LastTradeTimestamp(ctx context.Context, address string) (int64, error) {
	q := url.Values{}
	q.Set("user", address)
	q.Set("type", "TRADE")
	q.Set("sortBy", "TIMESTAMP")
	q.Set("sortDirection", "DESC")
	q.Set("limit", "1")

	var activities []ActivityEvent
	if err := c.get(ctx, "/activity", q, &activities); err != nil {
		return 0, err
	}
	if len(activities) == 0 {
		return 0, nil
	}
	return activities[0].Timestamp, nil
}

// MarketRaw fetches a market document without a fixed schema. The price
// resolver digs values out of it with its extractor table.
func (c *Client) MarketRaw(ctx context.Context, market string) (map[string]interface{}, error) {
	q := url.Values{}
	q.Set("condition_ids", market)

	var raw []map[string]interface{}
	if err := c.get(ctx, "/markets", q, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, &CallError{Endpoint: "/markets", Status: http.StatusOK, Message: "no market found"}
	}
	return raw[0], nil
}

func (c *Client) get(ctx context.Context, endpoint string, q url.Values, out interface{}) error {
	if err := c.sem.Acquire(ctx); err != nil {
		return fmt.Errorf("semaphore wait: %w", err)
	}
	defer c.sem.Release()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	u, err := url.Parse(c.baseURL + endpoint)
	if err != nil {
		return fmt.Errorf("parse URL: %w", err)
	}
	u.RawQuery = q.Encode()

	start := time.Now()
	resp, err := c.doWithFallback(ctx, u.String())
	metrics.RecordAPIRequest("data", endpoint, time.Since(start), err)
	if err != nil {
		return &CallError{Endpoint: endpoint, Retryable: true, Message: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusTooManyRequests:
		return &CallError{
			Endpoint:   endpoint,
			Status:     resp.StatusCode,
			Retryable:  true,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    "rate limited",
		}
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &CallError{Endpoint: endpoint, Status: resp.StatusCode, Retryable: true, Message: string(body)}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &CallError{Endpoint: endpoint, Status: resp.StatusCode, Retryable: false, Message: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &CallError{Endpoint: endpoint, Status: resp.StatusCode, Retryable: false, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

// doWithFallback tries the proxy first when one is configured and retries
// once over a direct connection on transport failure.
func (c *Client) doWithFallback(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.proxyClient != nil {
		resp, err := c.proxyClient.Do(req)
		if err == nil {
			return resp, nil
		}
		c.log.WithError(err).Debug("Proxy request failed, retrying direct")
		req, err = http.NewRequestWithContext(ctx, "GET", rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
	}

	return c.httpClient.Do(req)
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

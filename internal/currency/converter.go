package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Conversion is the rate snapshot returned to the workflow engine. The
// converted amount and rate are fixed at the moment they are computed.
type Conversion struct {
	Amount          float64 `json:"amount"`
	Rate            float64 `json:"rate"`
	ConvertedAmount float64 `json:"converted_amount"`
}

// Converter normalizes an amount/currency pair into a target currency.
type Converter interface {
	Convert(ctx context.Context, amount float64, from, to string) (Conversion, error)
}

// Config holds converter configuration.
type Config struct {
	APIBaseURL string
	Timeout    time.Duration
	CacheTTL   time.Duration
}

// Client fetches exchange rates over HTTP with an in-memory cache. Expired
// cache entries are still used when the rate API is unreachable; the static
// fallback table is the last resort.
type Client struct {
	baseURL  string
	http     *http.Client
	cacheTTL time.Duration
	logger   *zap.Logger

	mu       sync.RWMutex
	rates    map[string]map[string]float64
	fetchedAt map[string]time.Time
}

// NewClient creates a currency converter client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.APIBaseURL, "/"),
		http:      &http.Client{Timeout: cfg.Timeout},
		cacheTTL:  cfg.CacheTTL,
		logger:    logger,
		rates:     make(map[string]map[string]float64),
		fetchedAt: make(map[string]time.Time),
	}
}

// Convert normalizes amount from one currency to another and returns the
// rate snapshot. Identical currencies convert at rate 1 without a lookup.
func (c *Client) Convert(ctx context.Context, amount float64, from, to string) (Conversion, error) {
	from = strings.ToUpper(from)
	to = strings.ToUpper(to)

	if from == to {
		return Conversion{Amount: amount, Rate: 1, ConvertedAmount: amount}, nil
	}

	rates, err := c.getRates(ctx, from)
	if err != nil {
		return Conversion{}, err
	}

	rate, ok := rates[to]
	if !ok || rate <= 0 {
		return Conversion{}, fmt.Errorf("no exchange rate from %s to %s", from, to)
	}

	return Conversion{
		Amount:          amount,
		Rate:            rate,
		ConvertedAmount: round2(amount * rate),
	}, nil
}

// getRates returns the rate table for a base currency, preferring a fresh
// cache entry, then the API, then a stale cache entry, then the fallback
// table.
func (c *Client) getRates(ctx context.Context, base string) (map[string]float64, error) {
	c.mu.RLock()
	cached, haveCached := c.rates[base]
	fresh := haveCached && time.Since(c.fetchedAt[base]) < c.cacheTTL
	c.mu.RUnlock()

	if fresh {
		return cached, nil
	}

	fetched, err := c.fetch(ctx, base)
	if err == nil {
		c.mu.Lock()
		c.rates[base] = fetched
		c.fetchedAt[base] = time.Now()
		c.mu.Unlock()
		return fetched, nil
	}

	c.logger.Warn("Exchange rate fetch failed",
		zap.String("base", base),
		zap.Error(err))

	if haveCached {
		c.logger.Info("Using expired cached exchange rates", zap.String("base", base))
		return cached, nil
	}

	if fallback, ok := crossRates(base); ok {
		c.logger.Info("Using fallback exchange rates", zap.String("base", base))
		return fallback, nil
	}

	return nil, fmt.Errorf("exchange rates unavailable for %s: %w", base, err)
}

func (c *Client) fetch(ctx context.Context, base string) (map[string]float64, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, base)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rate API returned status %d", resp.StatusCode)
	}

	var body struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode rate API response: %w", err)
	}
	if len(body.Rates) == 0 {
		return nil, fmt.Errorf("rate API returned no rates")
	}

	return body.Rates, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

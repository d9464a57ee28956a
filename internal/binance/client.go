// Package binance fetches OHLCV bars from the Binance spot REST API.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"

	"github.com/rewired-gh/confluence/internal/models"
)

// ErrFetch wraps every failure to obtain usable bars: transport errors,
// API errors and malformed rows.
var ErrFetch = errors.New("market data fetch failed")

const (
	testnetURL    = "https://testnet.binance.vision"
	maxRetryDelay = 30 * time.Second
)

// ClientConfig holds the connection settings for the Binance client.
type ClientConfig struct {
	BaseURL        string // overrides the production or testnet endpoint when set
	APIKey         string
	APISecret      string
	Testnet        bool
	Timeout        time.Duration
	MaxRetries     int
	RetryDelayBase time.Duration
}

// Client provides access to Binance market data.
type Client struct {
	api            *gobinance.Client
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Binance client. Public market data needs no keys.
func NewClient(cfg ClientConfig) *Client {
	api := gobinance.NewClient(cfg.APIKey, cfg.APISecret)
	switch {
	case cfg.BaseURL != "":
		api.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	case cfg.Testnet:
		api.BaseURL = testnetURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	api.HTTPClient = &http.Client{Timeout: timeout}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelayBase := cfg.RetryDelayBase
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		api:            api,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// Ping checks connectivity to the REST API.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.api.NewPingService().Do(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrFetch, err)
	}
	return nil
}

// FetchBars returns up to limit bars for symbol at interval, oldest first.
// The latest bar may still be forming.
func (c *Client) FetchBars(ctx context.Context, symbol, interval string, limit int) ([]models.Bar, error) {
	var klines []*gobinance.Kline
	err := c.withRetry(ctx, func() error {
		var err error
		klines, err = c.api.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(limit).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: klines for %s: %w", ErrFetch, symbol, err)
	}

	bars := make([]models.Bar, 0, len(klines))
	for i, k := range klines {
		bar, err := toBar(k)
		if err != nil {
			return nil, fmt.Errorf("%w: kline %d for %s: %w", ErrFetch, i, symbol, err)
		}
		bars = append(bars, bar)
	}
	if err := models.ValidateSeries(bars); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, symbol, err)
	}
	return bars, nil
}

// withRetry runs op with exponential backoff. Coded API errors (bad symbol,
// bad interval, rate limit) are returned immediately.
func (c *Client) withRetry(ctx context.Context, op func() error) error {
	b := &backoff.Backoff{
		Min:    c.retryDelayBase,
		Max:    maxRetryDelay,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if lastErr = op(); lastErr == nil {
			return nil
		}
		var apiErr *common.APIError
		if (errors.As(lastErr, &apiErr) && apiErr.Code < 0) || ctx.Err() != nil || attempt == c.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return lastErr
}

func toBar(k *gobinance.Kline) (models.Bar, error) {
	var fields [5]float64
	for i, raw := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return models.Bar{}, fmt.Errorf("invalid number %q: %w", raw, err)
		}
		fields[i] = d.InexactFloat64()
	}

	return models.Bar{
		OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
		CloseTime: time.UnixMilli(k.CloseTime).UTC(),
	}, nil
}

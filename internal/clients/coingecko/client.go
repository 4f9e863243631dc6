// Package coingecko provides a client for the CoinGecko API, serving crypto
// close prices and live quotes. All observations are quoted in USD.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

const (
	DefaultBaseURL   = "https://api.coingecko.com/api/v3"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5 // requests per second

	sourceName    = "coingecko"
	quoteCurrency = "USD"

	// historyDateLayout is CoinGecko's dd-mm-yyyy date format.
	historyDateLayout = "02-01-2006"
)

// defaultCoinIDs maps common token symbols to CoinGecko coin IDs. Symbols
// not listed here fall back to their lower-cased form.
var defaultCoinIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"ADA":  "cardano",
	"DOT":  "polkadot",
	"DOGE": "dogecoin",
	"XRP":  "ripple",
	"LTC":  "litecoin",
	"USDC": "usd-coin",
	"USDT": "tether",
}

// Client implements the CryptoPriceSource interface against CoinGecko.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
	coinIDs    map[string]string
	now        func() time.Time
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLogger sets the logger.
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithCoinIDs adds symbol-to-coin-ID mappings on top of the defaults.
func WithCoinIDs(ids map[string]string) ClientOption {
	return func(c *Client) {
		for sym, id := range ids {
			c.coinIDs[models.NormalizeCurrency(sym)] = id
		}
	}
}

// WithClock sets the clock used to stamp observations.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a new CoinGecko client. apiKey may be empty for the
// public tier.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
		coinIDs: make(map[string]string),
		now:     time.Now,
	}
	for sym, id := range defaultCoinIDs {
		c.coinIDs[sym] = id
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an API error.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("CoinGecko API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// get performs a rate-limited GET request.
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	c.logger.Debug().Str("url", c.baseURL+path).Msg("CoinGecko API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// Name is the provenance tag recorded on observations from this source.
func (c *Client) Name() string {
	return sourceName
}

// coinID resolves a token symbol to a CoinGecko coin ID.
func (c *Client) coinID(asset models.Asset) string {
	sym := models.NormalizeCurrency(asset.Symbol)
	if id, ok := c.coinIDs[sym]; ok {
		return id
	}
	return strings.ToLower(sym)
}

type historyResponse struct {
	MarketData *struct {
		CurrentPrice map[string]decimal.Decimal `json:"current_price"`
	} `json:"market_data"`
}

// FetchClose retrieves the historical price snapshot for the exact date. A
// date CoinGecko has no snapshot for yields nil, not an error.
func (c *Client) FetchClose(ctx context.Context, asset models.Asset, key models.AssetKey, on models.Day) (*models.PricePoint, error) {
	params := url.Values{}
	params.Set("date", on.Time().Format(historyDateLayout))
	params.Set("localization", "false")

	path := fmt.Sprintf("/coins/%s/history", url.PathEscape(c.coinID(asset)))

	var hist historyResponse
	if err := c.get(ctx, path, params, &hist); err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	if hist.MarketData == nil {
		return nil, nil
	}
	price, ok := hist.MarketData.CurrentPrice["usd"]
	if !ok {
		return nil, nil
	}

	return &models.PricePoint{
		AssetKey:      key,
		AsOf:          on,
		Timestamp:     c.now(),
		Price:         price,
		QuoteCurrency: quoteCurrency,
		Kind:          models.KindClose,
		Source:        sourceName,
	}, nil
}

type simplePrice struct {
	USD           decimal.Decimal `json:"usd"`
	LastUpdatedAt int64           `json:"last_updated_at"`
}

// FetchQuote retrieves a live quote for the token.
func (c *Client) FetchQuote(ctx context.Context, asset models.Asset, key models.AssetKey) (*models.PricePoint, error) {
	id := c.coinID(asset)

	params := url.Values{}
	params.Set("ids", id)
	params.Set("vs_currencies", "usd")
	params.Set("include_last_updated_at", "true")

	var prices map[string]simplePrice
	if err := c.get(ctx, "/simple/price", params, &prices); err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	p, ok := prices[id]
	if !ok {
		return nil, nil
	}

	ts := c.now()
	if p.LastUpdatedAt > 0 {
		ts = time.Unix(p.LastUpdatedAt, 0).UTC()
	}

	return &models.PricePoint{
		AssetKey:      key,
		AsOf:          models.DayOf(ts),
		Timestamp:     ts,
		Price:         p.USD,
		QuoteCurrency: quoteCurrency,
		Kind:          models.KindQuote,
		Source:        sourceName,
	}, nil
}

// Ensure the interface is implemented.
var _ interfaces.CryptoPriceSource = (*Client)(nil)

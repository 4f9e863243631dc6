// Package eodhd provides a client for the EODHD API, serving equity close
// prices, live equity quotes, and end-of-day FX rates.
package eodhd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

const (
	DefaultBaseURL   = "https://eodhd.com/api"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second

	sourceName = "eodhd"
)

// exchangeCurrencies maps EODHD exchange codes to the currency their prices
// are quoted in. Unlisted exchanges default to USD.
var exchangeCurrencies = map[string]string{
	"US":    "USD",
	"LSE":   "GBP",
	"F":     "EUR",
	"XETRA": "EUR",
	"PA":    "EUR",
	"AU":    "AUD",
	"TO":    "CAD",
	"HK":    "HKD",
	"TSE":   "JPY",
}

// Client implements the EquityPriceSource interface against EODHD. FX close
// rates are served through the Forex adapter, see Forex.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
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

// WithClock sets the clock used to stamp observations.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a new EODHD client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
		now:     time.Now,
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
	return fmt.Sprintf("EODHD API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// get performs a rate-limited GET request.
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.apiKey)
	params.Set("fmt", "json")

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("url", c.baseURL+path).Msg("EODHD API request")

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

// ticker builds the EODHD ticker for an equity asset: SYMBOL.EXCHANGE,
// defaulting to the US composite exchange.
func ticker(asset models.Asset) string {
	n := asset.Normalized()
	exchange := n.Exchange
	if exchange == "" {
		exchange = "US"
	}
	return n.Symbol + "." + exchange
}

func quoteCurrency(asset models.Asset) string {
	n := asset.Normalized()
	exchange := n.Exchange
	if exchange == "" {
		exchange = "US"
	}
	if cur, ok := exchangeCurrencies[exchange]; ok {
		return cur
	}
	return "USD"
}

type eodBar struct {
	Date          string          `json:"date"`
	Close         decimal.Decimal `json:"close"`
	AdjustedClose decimal.Decimal `json:"adjusted_close"`
}

// FetchClose retrieves the end-of-day bar for the exact date. A day with no
// bar (weekend, holiday, unknown ticker) yields nil, not an error.
func (c *Client) FetchClose(ctx context.Context, asset models.Asset, key models.AssetKey, on models.Day) (*models.PricePoint, error) {
	params := url.Values{}
	params.Set("period", "d")
	params.Set("from", on.String())
	params.Set("to", on.String())

	path := fmt.Sprintf("/eod/%s", ticker(asset))

	var bars []eodBar
	if err := c.get(ctx, path, params, &bars); err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	for _, bar := range bars {
		if bar.Date != on.String() {
			continue
		}
		return &models.PricePoint{
			AssetKey:      key,
			AsOf:          on,
			Timestamp:     c.now(),
			Price:         bar.Close,
			QuoteCurrency: quoteCurrency(asset),
			Kind:          models.KindClose,
			Source:        sourceName,
		}, nil
	}
	return nil, nil
}

type realTimeQuote struct {
	Code      string          `json:"code"`
	Close     decimal.Decimal `json:"close"`
	Timestamp int64           `json:"timestamp"`
}

// FetchQuote retrieves a live quote for the asset.
func (c *Client) FetchQuote(ctx context.Context, asset models.Asset, key models.AssetKey) (*models.PricePoint, error) {
	path := fmt.Sprintf("/real-time/%s", ticker(asset))

	var q realTimeQuote
	if err := c.get(ctx, path, nil, &q); err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	if q.Close.IsZero() && q.Timestamp == 0 {
		return nil, nil
	}

	ts := c.now()
	if q.Timestamp > 0 {
		ts = time.Unix(q.Timestamp, 0).UTC()
	}

	return &models.PricePoint{
		AssetKey:      key,
		AsOf:          models.DayOf(ts),
		Timestamp:     ts,
		Price:         q.Close,
		QuoteCurrency: quoteCurrency(asset),
		Kind:          models.KindQuote,
		Source:        sourceName,
	}, nil
}

// Forex returns the FX-rate view of this client. EODHD serves currency
// pairs as BASEQUOTE.FOREX tickers on the same EOD endpoint.
func (c *Client) Forex() *ForexSource {
	return &ForexSource{client: c}
}

// ForexSource adapts the client to the FxRateSource interface.
type ForexSource struct {
	client *Client
}

// Name is the provenance tag recorded on rates from this source.
func (f *ForexSource) Name() string {
	return sourceName
}

// FetchClose retrieves the end-of-day rate for the pair on the exact date.
func (f *ForexSource) FetchClose(ctx context.Context, base, quote string, on models.Day) (*models.FxRatePoint, error) {
	base = models.NormalizeCurrency(base)
	quote = models.NormalizeCurrency(quote)

	params := url.Values{}
	params.Set("period", "d")
	params.Set("from", on.String())
	params.Set("to", on.String())

	path := fmt.Sprintf("/eod/%s%s.FOREX", base, quote)

	var bars []eodBar
	if err := f.client.get(ctx, path, params, &bars); err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	for _, bar := range bars {
		if bar.Date != on.String() {
			continue
		}
		return &models.FxRatePoint{
			Base:      base,
			Quote:     quote,
			AsOf:      on,
			Timestamp: f.client.now(),
			Rate:      bar.Close,
			Kind:      models.KindClose,
			Source:    sourceName,
		}, nil
	}
	return nil, nil
}

// Ensure the interfaces are implemented.
var _ interfaces.EquityPriceSource = (*Client)(nil)
var _ interfaces.FxRateSource = (*ForexSource)(nil)

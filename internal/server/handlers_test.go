package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/tally/internal/app"
	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/models"
	"github.com/bobmcallan/tally/internal/services/marketdata"
	"github.com/bobmcallan/tally/internal/services/valuation"
	"github.com/bobmcallan/tally/internal/storage/obsfs"
)

// newTestServer builds a server over a real file store in a temp directory,
// with no external sources wired.
func newTestServer(t *testing.T) (*Server, *obsfs.Store) {
	t.Helper()
	logger := common.NewSilentLogger()

	store, err := obsfs.NewStore(logger, t.TempDir())
	require.NoError(t, err)

	cfg := common.NewDefaultConfig()
	market := marketdata.NewService(store, marketdata.Config{
		EquityRouter: marketdata.NewEquityRouter(logger),
		CryptoRouter: marketdata.NewCryptoRouter(logger),
		FxRouter:     marketdata.NewFxRouter(logger),
	}, logger)

	a := &app.App{
		Config:           cfg,
		Logger:           logger,
		Store:            store,
		MarketService:    market,
		ValuationService: valuation.NewService(market, logger),
		StartupTime:      time.Now(),
	}
	return NewServer(a), store
}

func doRequest(t *testing.T, srv *Server, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, reqBody)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func seedClose(t *testing.T, store *obsfs.Store, asset models.Asset, date, price, currency string) {
	t.Helper()
	err := store.PutPrices(context.Background(), []models.PricePoint{{
		AssetKey:      asset.Key(),
		AsOf:          models.MustDay(date),
		Timestamp:     models.MustDay(date).Time().Add(21 * time.Hour),
		Price:         decimal.RequireFromString(price),
		QuoteCurrency: currency,
		Kind:          models.KindClose,
		Source:        "seed",
	}})
	require.NoError(t, err)
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestHandleVersion(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/version", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp, "version")
	assert.Contains(t, resp, "build")
}

func TestHandlePriceClose(t *testing.T) {
	srv, store := newTestServer(t)
	seedClose(t, store, models.EquityAsset("AAPL", "US"), "2024-01-12", "185.92", "USD")

	rec := doRequest(t, srv, http.MethodGet, "/api/prices/close?symbol=AAPL&exchange=US&date=2024-01-15", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Price *models.PricePoint `json:"price"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Price)
	assert.Equal(t, "2024-01-12", resp.Price.AsOf.String())
	assert.True(t, resp.Price.Price.Equal(decimal.RequireFromString("185.92")))
}

func TestHandlePriceClose_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/prices/close?symbol=AAPL&exchange=US&date=2024-01-15", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlePriceClose_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/prices/close?date=2024-01-15", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing symbol")

	rec = doRequest(t, srv, http.MethodGet, "/api/prices/close?symbol=AAPL&date=Jan-15", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "malformed date")

	rec = doRequest(t, srv, http.MethodPost, "/api/prices/close?symbol=AAPL", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleFxClose_Identity(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/fx/close?base=usd&quote=USD&date=2024-01-15", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Rate *models.FxRatePoint `json:"rate"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Rate)
	assert.True(t, resp.Rate.Rate.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, models.SourceIdentity, resp.Rate.Source)
}

func TestHandleFxClose_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/fx/close?base=AUD", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/fx/close?base=AUD&quote=USD&date=2024-01-15", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "no cached rate and no sources")
}

func TestHandleValue(t *testing.T) {
	srv, store := newTestServer(t)
	seedClose(t, store, models.EquityAsset("AAPL", "US"), "2024-01-12", "185.92", "USD")

	rec := doRequest(t, srv, http.MethodPost, "/api/value", map[string]interface{}{
		"asset":    models.EquityAsset("AAPL", "US"),
		"amount":   "10",
		"currency": "USD",
		"date":     "2024-01-15",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Value    *decimal.Decimal `json:"value"`
		Currency string           `json:"currency"`
		Missing  string           `json:"missing"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Value)
	assert.True(t, resp.Value.Equal(decimal.RequireFromString("1859.2")))
	assert.Equal(t, "USD", resp.Currency)
	assert.Empty(t, resp.Missing)
}

func TestHandleValue_MissingDataSignal(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/value", map[string]interface{}{
		"asset":    models.CurrencyAsset("EUR"),
		"amount":   "500",
		"currency": "USD",
		"date":     "2024-01-15",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Value   *decimal.Decimal `json:"value"`
		Missing string           `json:"missing"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Value)
	assert.Equal(t, "fx", resp.Missing)
}

func TestHandleValue_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/value", map[string]interface{}{
		"asset":    models.CurrencyAsset("USD"),
		"amount":   "not-a-number",
		"currency": "USD",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/value", map[string]interface{}{
		"asset":    models.Asset{Kind: "bond", Symbol: "X"},
		"amount":   "1",
		"currency": "USD",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAssetUpsert(t *testing.T) {
	srv, store := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/assets", map[string]interface{}{
		"asset":        models.EquityAsset("aapl", "us"),
		"provider_ids": map[string]string{"eodhd": "AAPL.US"},
		"tz":           "America/New_York",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	entry, err := store.GetAssetEntry(context.Background(), models.AssetKey("equity-AAPL-US"))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "AAPL", entry.Asset.Symbol)
	assert.Equal(t, "AAPL.US", entry.ProviderIDs["eodhd"])
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/prices/close", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

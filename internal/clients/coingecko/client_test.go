package coingecko

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/tally/internal/models"
)

func testClock() func() time.Time {
	return func() time.Time { return time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC) }
}

func TestFetchClose(t *testing.T) {
	var gotPath, gotDate, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotDate = r.URL.Query().Get("date")
		gotKey = r.Header.Get("x-cg-demo-api-key")
		w.Write([]byte(`{"market_data":{"current_price":{"usd":42638.95,"eur":39102.11}}}`))
	}))
	defer srv.Close()

	client := NewClient("demo-key", WithBaseURL(srv.URL), WithClock(testClock()))
	asset := models.CryptoAsset("BTC", "")
	on := models.MustDay("2024-01-15")

	p, err := client.FetchClose(context.Background(), asset, asset.Key(), on)
	if err != nil {
		t.Fatalf("FetchClose failed: %v", err)
	}
	if p == nil {
		t.Fatal("FetchClose returned nil")
	}
	if gotPath != "/coins/bitcoin/history" {
		t.Errorf("path = %q, want /coins/bitcoin/history", gotPath)
	}
	if gotDate != "15-01-2024" {
		t.Errorf("date = %q, want dd-mm-yyyy form 15-01-2024", gotDate)
	}
	if gotKey != "demo-key" {
		t.Errorf("api key header = %q", gotKey)
	}
	if !p.Price.Equal(decimal.RequireFromString("42638.95")) {
		t.Errorf("price = %s, want 42638.95", p.Price)
	}
	if p.QuoteCurrency != "USD" || p.Kind != models.KindClose || p.Source != "coingecko" {
		t.Errorf("point metadata = %+v", p)
	}
}

func TestFetchClose_NoSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// History before the coin existed has no market_data block.
		w.Write([]byte(`{"id":"bitcoin","symbol":"btc"}`))
	}))
	defer srv.Close()

	client := NewClient("", WithBaseURL(srv.URL), WithClock(testClock()))
	asset := models.CryptoAsset("BTC", "")

	p, err := client.FetchClose(context.Background(), asset, asset.Key(), models.MustDay("2005-01-01"))
	if err != nil {
		t.Fatalf("FetchClose failed: %v", err)
	}
	if p != nil {
		t.Errorf("missing snapshot yielded %+v, want nil", p)
	}
}

func TestFetchClose_UnknownCoinIs404Miss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"coin not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient("", WithBaseURL(srv.URL), WithClock(testClock()))
	asset := models.CryptoAsset("NOPE", "")

	p, err := client.FetchClose(context.Background(), asset, asset.Key(), models.MustDay("2024-01-15"))
	if err != nil {
		t.Fatalf("404 surfaced as error: %v", err)
	}
	if p != nil {
		t.Errorf("404 yielded %+v, want nil", p)
	}
}

func TestFetchQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if ids := r.URL.Query().Get("ids"); ids != "bitcoin" {
			t.Errorf("ids = %q", ids)
		}
		w.Write([]byte(`{"bitcoin":{"usd":43250.12,"last_updated_at":1705419000}}`))
	}))
	defer srv.Close()

	client := NewClient("", WithBaseURL(srv.URL), WithClock(testClock()))
	asset := models.CryptoAsset("BTC", "")

	p, err := client.FetchQuote(context.Background(), asset, asset.Key())
	if err != nil {
		t.Fatalf("FetchQuote failed: %v", err)
	}
	if p == nil {
		t.Fatal("FetchQuote returned nil")
	}
	if p.Kind != models.KindQuote {
		t.Errorf("Kind = %q, want quote", p.Kind)
	}
	want := time.Unix(1705419000, 0).UTC()
	if !p.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %s, want %s (venue timestamp)", p.Timestamp, want)
	}
	if !p.Price.Equal(decimal.RequireFromString("43250.12")) {
		t.Errorf("price = %s", p.Price)
	}
}

func TestCoinIDResolution(t *testing.T) {
	client := NewClient("", WithCoinIDs(map[string]string{"PEPE": "pepe-token"}))

	tests := []struct {
		symbol string
		want   string
	}{
		{"BTC", "bitcoin"},
		{"btc", "bitcoin"},
		{"ETH", "ethereum"},
		{"PEPE", "pepe-token"},
		{"UNKNOWN", "unknown"}, // lower-cased fallback
	}
	for _, tt := range tests {
		if got := client.coinID(models.CryptoAsset(tt.symbol, "")); got != tt.want {
			t.Errorf("coinID(%q) = %q, want %q", tt.symbol, got, tt.want)
		}
	}
}

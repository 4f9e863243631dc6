package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/models"
)

// fakeSource is a scripted price source for router tests.
type fakeSource struct {
	name       string
	closePoint *models.PricePoint
	quotePoint *models.PricePoint
	err        error

	closeCalls int
	quoteCalls int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) FetchClose(_ context.Context, _ models.Asset, _ models.AssetKey, _ models.Day) (*models.PricePoint, error) {
	f.closeCalls++
	return f.closePoint, f.err
}

func (f *fakeSource) FetchQuote(_ context.Context, _ models.Asset, _ models.AssetKey) (*models.PricePoint, error) {
	f.quoteCalls++
	return f.quotePoint, f.err
}

// fakeFxSource is a scripted FX source for router tests.
type fakeFxSource struct {
	name  string
	rate  *models.FxRatePoint
	err   error
	calls int
}

func (f *fakeFxSource) Name() string { return f.name }

func (f *fakeFxSource) FetchClose(_ context.Context, _, _ string, _ models.Day) (*models.FxRatePoint, error) {
	f.calls++
	return f.rate, f.err
}

func sourcePoint(source, price string) *models.PricePoint {
	return &models.PricePoint{
		AssetKey:      "equity-AAPL",
		AsOf:          models.MustDay("2024-01-15"),
		Timestamp:     time.Date(2024, 1, 15, 21, 0, 0, 0, time.UTC),
		Price:         decimal.RequireFromString(price),
		QuoteCurrency: "USD",
		Kind:          models.KindClose,
		Source:        source,
	}
}

func TestSourceRouter_FirstNonNilWins(t *testing.T) {
	a := &fakeSource{name: "a", closePoint: sourcePoint("a", "100")}
	b := &fakeSource{name: "b", closePoint: sourcePoint("b", "200")}
	logger := common.NewSilentLogger()

	asset := models.EquityAsset("AAPL", "US")
	on := models.MustDay("2024-01-15")

	got := NewEquityRouter(logger, a, b).FetchClose(context.Background(), asset, asset.Key(), on)
	if got == nil || got.Source != "a" {
		t.Errorf("router [a, b] returned %+v, want source a", got)
	}
	if b.closeCalls != 0 {
		t.Errorf("source b consulted %d times after a hit", b.closeCalls)
	}

	// Reversing the list reverses the winner.
	got = NewEquityRouter(logger, b, a).FetchClose(context.Background(), asset, asset.Key(), on)
	if got == nil || got.Source != "b" {
		t.Errorf("router [b, a] returned %+v, want source b", got)
	}
}

func TestSourceRouter_ErrorFallsThrough(t *testing.T) {
	failing := &fakeSource{name: "failing", err: errors.New("connection refused")}
	backup := &fakeSource{name: "backup", closePoint: sourcePoint("backup", "100")}

	asset := models.EquityAsset("AAPL", "US")
	router := NewEquityRouter(common.NewSilentLogger(), failing, backup)

	got := router.FetchClose(context.Background(), asset, asset.Key(), models.MustDay("2024-01-15"))
	if got == nil || got.Source != "backup" {
		t.Errorf("router returned %+v, want the backup source", got)
	}
	if failing.closeCalls != 1 {
		t.Errorf("failing source consulted %d times, want 1", failing.closeCalls)
	}
}

func TestSourceRouter_ExhaustedYieldsNil(t *testing.T) {
	miss := &fakeSource{name: "miss"}
	fail := &fakeSource{name: "fail", err: errors.New("boom")}

	asset := models.EquityAsset("AAPL", "US")
	router := NewEquityRouter(common.NewSilentLogger(), miss, fail)

	if got := router.FetchClose(context.Background(), asset, asset.Key(), models.MustDay("2024-01-15")); got != nil {
		t.Errorf("exhausted router returned %+v, want nil", got)
	}
	if got := router.FetchQuote(context.Background(), asset, asset.Key()); got != nil {
		t.Errorf("exhausted router quote returned %+v, want nil", got)
	}
}

func TestSourceRouter_EmptyList(t *testing.T) {
	asset := models.EquityAsset("AAPL", "US")
	router := NewEquityRouter(common.NewSilentLogger())

	if got := router.FetchClose(context.Background(), asset, asset.Key(), models.MustDay("2024-01-15")); got != nil {
		t.Errorf("empty router returned %+v, want nil", got)
	}
}

func TestFxRouter_Ordering(t *testing.T) {
	rate := func(source string) *models.FxRatePoint {
		return &models.FxRatePoint{
			Base:      "AUD",
			Quote:     "USD",
			AsOf:      models.MustDay("2024-01-15"),
			Timestamp: time.Now().UTC(),
			Rate:      decimal.RequireFromString("0.6573"),
			Kind:      models.KindClose,
			Source:    source,
		}
	}

	primary := &fakeFxSource{name: "primary", rate: rate("primary")}
	secondary := &fakeFxSource{name: "secondary", rate: rate("secondary")}
	router := NewFxRouter(common.NewSilentLogger(), primary, secondary)

	got := router.FetchClose(context.Background(), "AUD", "USD", models.MustDay("2024-01-15"))
	if got == nil || got.Source != "primary" {
		t.Errorf("FX router returned %+v, want primary", got)
	}
	if secondary.calls != 0 {
		t.Errorf("secondary consulted %d times after a hit", secondary.calls)
	}

	failing := &fakeFxSource{name: "failing", err: errors.New("timeout")}
	router = NewFxRouter(common.NewSilentLogger(), failing, secondary)
	got = router.FetchClose(context.Background(), "AUD", "USD", models.MustDay("2024-01-15"))
	if got == nil || got.Source != "secondary" {
		t.Errorf("FX router with failing primary returned %+v, want secondary", got)
	}
}

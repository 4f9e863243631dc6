package interfaces

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/tally/internal/models"
)

// MarketDataService resolves price and FX observations, combining cached
// store reads with external source fallback and idempotent write-back.
type MarketDataService interface {
	// PriceFromStore retrieves a close price from the store only, walking
	// backward from the query date per the configured lookback. Returns nil
	// when nothing usable is cached. Never fetches.
	PriceFromStore(ctx context.Context, asset models.Asset, on models.Day) (*models.PricePoint, error)

	// FxFromStore is the FX counterpart of PriceFromStore.
	FxFromStore(ctx context.Context, base, quote string, on models.Day) (*models.FxRatePoint, error)

	// PriceClose retrieves a close price, store first, then external fetch
	// with bounded backward lookback. Freshly fetched observations are
	// persisted before they are returned. Fails with a not-found error when
	// both store and fetch bounds are exhausted.
	PriceClose(ctx context.Context, asset models.Asset, on models.Day) (*models.PricePoint, error)

	// PriceCloseForce inverts the priority: fetch first, store as fallback.
	// The boolean reports whether the observation was freshly fetched.
	PriceCloseForce(ctx context.Context, asset models.Asset, on models.Day) (*models.PricePoint, bool, error)

	// FxClose retrieves a close FX rate, store first then fetch. Identity
	// pairs short-circuit to a synthesized rate without touching either.
	FxClose(ctx context.Context, base, quote string, on models.Day) (*models.FxRatePoint, error)

	// FxCloseForce is the fetch-first variant of FxClose.
	FxCloseForce(ctx context.Context, base, quote string, on models.Day) (*models.FxRatePoint, bool, error)

	// PriceLatest retrieves a live price: a cached quote younger than the
	// staleness window, else a live fetch (persisted), else the close price
	// from the store.
	PriceLatest(ctx context.Context, asset models.Asset, on models.Day) (*models.PricePoint, error)

	// PriceLatestWithStatus is PriceLatest plus the freshly-fetched flag.
	PriceLatestWithStatus(ctx context.Context, asset models.Asset, on models.Day) (*models.PricePoint, bool, error)

	// PriceLatestForce skips the cached-quote check and fetches immediately.
	PriceLatestForce(ctx context.Context, asset models.Asset, on models.Day) (*models.PricePoint, bool, error)

	// StorePrice persists a price observation idempotently: the write is a
	// no-op when the store already holds an observation for the same
	// (asset key, date, kind) with an equal or newer timestamp.
	StorePrice(ctx context.Context, point *models.PricePoint) error
}

// MissingReason explains why a valuation produced no value.
type MissingReason string

const (
	MissingNone  MissingReason = ""
	MissingPrice MissingReason = "price"
	MissingFx    MissingReason = "fx"
)

// Valuation is the outcome of converting an amount into the reporting
// currency. When Missing is non-empty, Value is nil and the caller must
// treat the line item as skipped, never as zero.
type Valuation struct {
	Value    *decimal.Decimal `json:"value"`
	Currency string           `json:"currency"`
	Missing  MissingReason    `json:"missing,omitempty"`
}

// ValuationService converts asset amounts into a reporting currency using
// cached market data only.
type ValuationService interface {
	// ValueInReportingCurrency values amount units of asset in the target
	// currency as of the given date. places, when non-nil, rounds the final
	// result only; intermediate factors stay exact.
	ValueInReportingCurrency(ctx context.Context, asset models.Asset, amount decimal.Decimal, target string, on models.Day, places *int32) (Valuation, error)
}

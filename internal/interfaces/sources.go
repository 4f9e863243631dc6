package interfaces

import (
	"context"

	"github.com/bobmcallan/tally/internal/models"
)

// PriceSource is a single external venue that can serve price observations
// for an asset. A nil observation with a nil error means the source has no
// data for the request; routers treat source errors the same way.
type PriceSource interface {
	// Name is the provenance tag recorded on observations this source produces.
	Name() string

	// FetchClose retrieves the end-of-day observation for the exact date.
	FetchClose(ctx context.Context, asset models.Asset, key models.AssetKey, on models.Day) (*models.PricePoint, error)

	// FetchQuote retrieves a live quote.
	FetchQuote(ctx context.Context, asset models.Asset, key models.AssetKey) (*models.PricePoint, error)
}

// EquityPriceSource serves listed equities.
type EquityPriceSource interface {
	PriceSource
}

// CryptoPriceSource serves crypto tokens.
type CryptoPriceSource interface {
	PriceSource
}

// FxRateSource serves end-of-day FX rates. There is no live FX quote concept.
type FxRateSource interface {
	Name() string
	FetchClose(ctx context.Context, base, quote string, on models.Day) (*models.FxRatePoint, error)
}

// MarketDataProvider is a generic catch-all source offering both prices and
// FX rates for any asset type. It is consulted only after the type-specific
// routers have been exhausted.
type MarketDataProvider interface {
	Name() string
	FetchPrice(ctx context.Context, asset models.Asset, key models.AssetKey, on models.Day) (*models.PricePoint, error)
	FetchFxRate(ctx context.Context, base, quote string, on models.Day) (*models.FxRatePoint, error)
}

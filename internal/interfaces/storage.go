// Package interfaces defines service contracts for Tally.
package interfaces

import (
	"context"

	"github.com/bobmcallan/tally/internal/models"
)

// ObservationStore persists price and FX observations plus the asset
// registry. It is an append-friendly log: writes only ever add records, and
// point lookups resolve duplicates by latest timestamp.
//
// A partition that has never been written is not an error: lookups return
// nil (or an empty slice) for it. A record that cannot be parsed is the only
// store-level fatal condition and is surfaced to the caller.
type ObservationStore interface {
	// GetPrice returns the price observation with the exact date and kind,
	// or nil when none exists. With several candidates the one with the
	// latest timestamp wins.
	GetPrice(ctx context.Context, key models.AssetKey, on models.Day, kind models.ObservationKind) (*models.PricePoint, error)

	// GetAllPrices returns the full persisted history for an asset, in no
	// particular order.
	GetAllPrices(ctx context.Context, key models.AssetKey) ([]models.PricePoint, error)

	// PutPrices appends price observations. Physical grouping by year is an
	// internal layout detail.
	PutPrices(ctx context.Context, points []models.PricePoint) error

	// GetFxRate, GetAllFxRates and PutFxRates mirror the price operations,
	// keyed by the (base, quote) currency pair.
	GetFxRate(ctx context.Context, base, quote string, on models.Day, kind models.ObservationKind) (*models.FxRatePoint, error)
	GetAllFxRates(ctx context.Context, base, quote string) ([]models.FxRatePoint, error)
	PutFxRates(ctx context.Context, rates []models.FxRatePoint) error

	// GetAssetEntry returns the latest registry entry for the key, or nil.
	GetAssetEntry(ctx context.Context, key models.AssetKey) (*models.AssetEntry, error)

	// UpsertAssetEntry appends a registry entry. Reads resolve to the last
	// entry written for a given ID.
	UpsertAssetEntry(ctx context.Context, entry *models.AssetEntry) error

	Close() error
}

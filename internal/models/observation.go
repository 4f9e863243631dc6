package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ObservationKind distinguishes end-of-day observations from live quotes.
type ObservationKind string

const (
	KindClose    ObservationKind = "close"
	KindQuote    ObservationKind = "quote"
	KindAdjClose ObservationKind = "adj_close"
)

// SourceIdentity is the provenance tag of synthesized identity FX rates.
const SourceIdentity = "identity"

// PricePoint is a single price observation for an asset. Points are never
// mutated; a newer point with the same (asset key, date, kind) supersedes an
// older one, and the effective point of such a group is always the one with
// the latest timestamp.
type PricePoint struct {
	AssetKey      AssetKey        `json:"asset_key"`
	AsOf          Day             `json:"as_of_date"`
	Timestamp     time.Time       `json:"timestamp"`
	Price         decimal.Decimal `json:"price"`
	QuoteCurrency string          `json:"quote_currency"`
	Kind          ObservationKind `json:"kind"`
	Source        string          `json:"source"`
}

// FxRatePoint is a single foreign-exchange observation for a currency pair.
// Same multiplicity and selection rules as PricePoint.
type FxRatePoint struct {
	Base      string          `json:"base"`
	Quote     string          `json:"quote"`
	AsOf      Day             `json:"as_of_date"`
	Timestamp time.Time       `json:"timestamp"`
	Rate      decimal.Decimal `json:"rate"`
	Kind      ObservationKind `json:"kind"`
	Source    string          `json:"source"`
}

// IdentityFxRate synthesizes the rate for a pair whose base and quote
// normalize to the same code. Identity rates are never persisted.
func IdentityFxRate(code string, on Day, now time.Time) *FxRatePoint {
	c := NormalizeCurrency(code)
	return &FxRatePoint{
		Base:      c,
		Quote:     c,
		AsOf:      on,
		Timestamp: now,
		Rate:      decimal.NewFromInt(1),
		Kind:      KindClose,
		Source:    SourceIdentity,
	}
}

// AssetEntry is a registry record for an asset the engine has seen. The
// registry is an append-only log; the last entry written for a given ID wins.
type AssetEntry struct {
	ID          AssetKey          `json:"id"`
	Asset       Asset             `json:"asset"`
	ProviderIDs map[string]string `json:"provider_ids,omitempty"` // provider name -> provider symbol
	TZ          string            `json:"tz,omitempty"`           // optional IANA timezone hint
}

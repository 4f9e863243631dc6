// Package marketdata implements the market data engine: source routing,
// cached retrieval with bounded lookback, live-quote freshness policy, and
// idempotent write-back.
package marketdata

import (
	"context"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

// SourceRouter tries an ordered list of price sources until one yields an
// observation. A source error is treated the same as "no data": it is
// logged and the next source is consulted. An exhausted list yields nil;
// absence of external data is expected, not exceptional.
type SourceRouter struct {
	label   string
	sources []interfaces.PriceSource
	logger  *common.Logger
}

// NewEquityRouter builds the router consulted for equity assets.
func NewEquityRouter(logger *common.Logger, sources ...interfaces.EquityPriceSource) *SourceRouter {
	r := &SourceRouter{label: "equity", logger: logger}
	for _, s := range sources {
		r.sources = append(r.sources, s)
	}
	return r
}

// NewCryptoRouter builds the router consulted for crypto assets.
func NewCryptoRouter(logger *common.Logger, sources ...interfaces.CryptoPriceSource) *SourceRouter {
	r := &SourceRouter{label: "crypto", logger: logger}
	for _, s := range sources {
		r.sources = append(r.sources, s)
	}
	return r
}

// FetchClose returns the first source's close observation for the exact
// date, in list order, or nil when every source misses.
func (r *SourceRouter) FetchClose(ctx context.Context, asset models.Asset, key models.AssetKey, on models.Day) *models.PricePoint {
	for _, src := range r.sources {
		p, err := src.FetchClose(ctx, asset, key, on)
		if err != nil {
			r.logger.Warn().
				Err(err).
				Str("router", r.label).
				Str("source", src.Name()).
				Str("asset", string(key)).
				Str("date", on.String()).
				Msg("Source failed fetching close, trying next")
			continue
		}
		if p != nil {
			return p
		}
	}
	return nil
}

// FetchQuote returns the first source's live quote, in list order, or nil.
func (r *SourceRouter) FetchQuote(ctx context.Context, asset models.Asset, key models.AssetKey) *models.PricePoint {
	for _, src := range r.sources {
		p, err := src.FetchQuote(ctx, asset, key)
		if err != nil {
			r.logger.Warn().
				Err(err).
				Str("router", r.label).
				Str("source", src.Name()).
				Str("asset", string(key)).
				Msg("Source failed fetching quote, trying next")
			continue
		}
		if p != nil {
			return p
		}
	}
	return nil
}

// FxRouter is the FX variant of SourceRouter. FX sources only serve close
// rates; there is no live FX quote concept.
type FxRouter struct {
	sources []interfaces.FxRateSource
	logger  *common.Logger
}

// NewFxRouter builds the router consulted for currency pairs.
func NewFxRouter(logger *common.Logger, sources ...interfaces.FxRateSource) *FxRouter {
	return &FxRouter{sources: sources, logger: logger}
}

// FetchClose returns the first source's close rate for the exact date, in
// list order, or nil when every source misses.
func (r *FxRouter) FetchClose(ctx context.Context, base, quote string, on models.Day) *models.FxRatePoint {
	for _, src := range r.sources {
		rate, err := src.FetchClose(ctx, base, quote, on)
		if err != nil {
			r.logger.Warn().
				Err(err).
				Str("source", src.Name()).
				Str("pair", base+"/"+quote).
				Str("date", on.String()).
				Msg("Source failed fetching FX close, trying next")
			continue
		}
		if rate != nil {
			return rate
		}
	}
	return nil
}

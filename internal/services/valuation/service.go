// Package valuation converts asset amounts into a reporting currency using
// cached market data. Conversions never trigger a network fetch: a report
// over hundreds of line items must not fan out into hundreds of API calls,
// so missing data is reported back to the caller instead.
package valuation

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

// Service implements ValuationService on top of the market data engine's
// store-only retrieval.
type Service struct {
	market interfaces.MarketDataService
	logger *common.Logger
}

// NewService creates a valuation service.
func NewService(market interfaces.MarketDataService, logger *common.Logger) *Service {
	return &Service{
		market: market,
		logger: logger,
	}
}

// ValueInReportingCurrency values amount units of asset in the target
// currency as of the given date. All arithmetic is decimal; intermediate
// factors are never rounded. places, when non-nil, rounds the final result:
// a negative value selects the target currency's standard fraction.
//
// A missing price or rate yields a Valuation with the Missing reason set,
// not an error; callers must treat it as "skip this line item", never zero.
func (s *Service) ValueInReportingCurrency(ctx context.Context, asset models.Asset, amount decimal.Decimal, target string, on models.Day, places *int32) (interfaces.Valuation, error) {
	if err := asset.Validate(); err != nil {
		return interfaces.Valuation{}, err
	}
	target = models.NormalizeCurrency(target)
	if target == "" {
		return interfaces.Valuation{}, fmt.Errorf("target currency is required")
	}

	if asset.Kind == models.AssetCurrency {
		return s.valueCurrency(ctx, asset, amount, target, on, places)
	}
	return s.valueSecurity(ctx, asset, amount, target, on, places)
}

// valueCurrency converts a cash amount. Same code as the target is an
// identity conversion with no lookup at all.
func (s *Service) valueCurrency(ctx context.Context, asset models.Asset, amount decimal.Decimal, target string, on models.Day, places *int32) (interfaces.Valuation, error) {
	code := models.NormalizeCurrency(asset.Symbol)
	if code == target {
		return s.result(amount, target, places), nil
	}

	rate, err := s.market.FxFromStore(ctx, code, target, on)
	if err != nil {
		return interfaces.Valuation{}, err
	}
	if rate == nil {
		s.logger.Debug().
			Str("pair", code+"/"+target).
			Str("date", on.String()).
			Msg("No cached FX rate for valuation")
		return interfaces.Valuation{Currency: target, Missing: interfaces.MissingFx}, nil
	}

	return s.result(amount.Mul(rate.Rate), target, places), nil
}

// valueSecurity converts an equity or crypto amount: one price lookup, plus
// one FX lookup when the price's quote currency differs from the target.
func (s *Service) valueSecurity(ctx context.Context, asset models.Asset, amount decimal.Decimal, target string, on models.Day, places *int32) (interfaces.Valuation, error) {
	price, err := s.market.PriceFromStore(ctx, asset, on)
	if err != nil {
		return interfaces.Valuation{}, err
	}
	if price == nil {
		s.logger.Debug().
			Str("asset", string(asset.Key())).
			Str("date", on.String()).
			Msg("No cached price for valuation")
		return interfaces.Valuation{Currency: target, Missing: interfaces.MissingPrice}, nil
	}

	value := amount.Mul(price.Price)

	quoteCur := models.NormalizeCurrency(price.QuoteCurrency)
	if quoteCur != target {
		rate, err := s.market.FxFromStore(ctx, quoteCur, target, on)
		if err != nil {
			return interfaces.Valuation{}, err
		}
		if rate == nil {
			s.logger.Debug().
				Str("asset", string(asset.Key())).
				Str("pair", quoteCur+"/"+target).
				Str("date", on.String()).
				Msg("No cached FX rate to convert price quote currency")
			return interfaces.Valuation{Currency: target, Missing: interfaces.MissingFx}, nil
		}
		value = value.Mul(rate.Rate)
	}

	return s.result(value, target, places), nil
}

// result applies the optional presentation rounding to the final value only.
func (s *Service) result(value decimal.Decimal, target string, places *int32) interfaces.Valuation {
	if places != nil {
		n := *places
		if n < 0 {
			n = models.CurrencyFraction(target)
		}
		value = value.Round(n)
	}
	return interfaces.Valuation{Value: &value, Currency: target}
}

// Ensure Service implements ValuationService.
var _ interfaces.ValuationService = (*Service)(nil)

// Package models defines the core data types for Tally.
package models

import (
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
)

// AssetKind discriminates the three asset families Tally can value.
type AssetKind string

const (
	AssetCurrency AssetKind = "currency"
	AssetEquity   AssetKind = "equity"
	AssetCrypto   AssetKind = "crypto"
)

// Asset identifies a holding: a fiat currency, a listed equity, or a crypto token.
type Asset struct {
	Kind     AssetKind `json:"kind"`
	Symbol   string    `json:"symbol"`             // ISO code, ticker, or token symbol
	Exchange string    `json:"exchange,omitempty"` // equity only, optional (MIC or venue code)
	Network  string    `json:"network,omitempty"`  // crypto only, optional
}

// CurrencyAsset returns a currency asset for the given ISO code.
func CurrencyAsset(code string) Asset {
	return Asset{Kind: AssetCurrency, Symbol: code}
}

// EquityAsset returns an equity asset. Exchange may be empty.
func EquityAsset(ticker, exchange string) Asset {
	return Asset{Kind: AssetEquity, Symbol: ticker, Exchange: exchange}
}

// CryptoAsset returns a crypto asset. Network may be empty.
func CryptoAsset(symbol, network string) Asset {
	return Asset{Kind: AssetCrypto, Symbol: symbol, Network: network}
}

// Normalized returns a copy with all identity fields trimmed and upper-cased.
// Two assets that normalize identically are the same asset.
func (a Asset) Normalized() Asset {
	norm := func(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
	a.Symbol = norm(a.Symbol)
	a.Exchange = norm(a.Exchange)
	a.Network = norm(a.Network)
	return a
}

// Validate checks that the asset has a kind and a symbol.
func (a Asset) Validate() error {
	switch a.Kind {
	case AssetCurrency, AssetEquity, AssetCrypto:
	default:
		return fmt.Errorf("unknown asset kind %q", a.Kind)
	}
	if strings.TrimSpace(a.Symbol) == "" {
		return fmt.Errorf("asset of kind %q has an empty symbol", a.Kind)
	}
	return nil
}

// AssetKey is the canonical, path-safe identity string for an asset. It is
// the partition key of the observation store: stable across runs, pure in
// the asset's normalized fields, and unique across asset kinds.
type AssetKey string

func (k AssetKey) String() string { return string(k) }

// Key derives the AssetKey for the asset. The kind tag is always the first
// segment so identical symbols of different kinds never collide.
func (a Asset) Key() AssetKey {
	n := a.Normalized()
	segments := []string{string(a.Kind), SanitizeSegment(n.Symbol)}
	switch a.Kind {
	case AssetEquity:
		if n.Exchange != "" {
			segments = append(segments, SanitizeSegment(n.Exchange))
		}
	case AssetCrypto:
		if n.Network != "" {
			segments = append(segments, SanitizeSegment(n.Network))
		}
	}
	return AssetKey(strings.Join(segments, "-"))
}

// sentinel replaces path-hostile characters and reserved segments.
const keySentinel = "_"

var keyReplacer = strings.NewReplacer("/", keySentinel, "\\", keySentinel, "\x00", keySentinel)

// SanitizeSegment makes a single key segment safe to use as a path element.
// The literal segments "." and ".." are replaced wholesale.
func SanitizeSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "." || s == ".." || s == "" {
		return keySentinel
	}
	return keyReplacer.Replace(s)
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// KnownCurrency reports whether code is a recognized ISO 4217 currency.
func KnownCurrency(code string) bool {
	return money.GetCurrency(NormalizeCurrency(code)) != nil
}

// CurrencyFraction returns the standard number of decimal places for a
// currency, falling back to 2 for unrecognized codes.
func CurrencyFraction(code string) int32 {
	if c := money.GetCurrency(NormalizeCurrency(code)); c != nil {
		return int32(c.Fraction)
	}
	return 2
}

package models

import (
	"testing"
)

func TestAssetKey_Normalization(t *testing.T) {
	a := EquityAsset(" aapl ", "nasdaq")
	b := EquityAsset("AAPL", "NASDAQ")

	if a.Key() != b.Key() {
		t.Errorf("keys differ for the same normalized asset: %q vs %q", a.Key(), b.Key())
	}
	if got, want := a.Key().String(), "equity-AAPL-NASDAQ"; got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}

func TestAssetKey_KindsNeverCollide(t *testing.T) {
	keys := map[AssetKey]string{}
	for _, a := range []Asset{
		CurrencyAsset("BTC"),
		CryptoAsset("BTC", ""),
		EquityAsset("BTC", ""),
	} {
		k := a.Key()
		if prev, ok := keys[k]; ok {
			t.Fatalf("key collision: %q produced by both %s and %s", k, prev, a.Kind)
		}
		keys[k] = string(a.Kind)
	}
}

func TestAssetKey_OptionalSegments(t *testing.T) {
	tests := []struct {
		asset Asset
		want  string
	}{
		{CurrencyAsset("usd"), "currency-USD"},
		{EquityAsset("BHP", ""), "equity-BHP"},
		{EquityAsset("BHP", "AU"), "equity-BHP-AU"},
		{CryptoAsset("eth", ""), "crypto-ETH"},
		{CryptoAsset("ETH", "mainnet"), "crypto-ETH-MAINNET"},
	}
	for _, tt := range tests {
		if got := tt.asset.Key().String(); got != tt.want {
			t.Errorf("Key(%+v) = %q, want %q", tt.asset, got, tt.want)
		}
	}
}

func TestSanitizeSegment(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"AAPL", "AAPL"},
		{"BRK/B", "BRK_B"},
		{"A\\B", "A_B"},
		{".", "_"},
		{"..", "_"},
		{"", "_"},
		{"  ", "_"},
		{"A\x00B", "A_B"},
	}
	for _, tt := range tests {
		if got := SanitizeSegment(tt.in); got != tt.want {
			t.Errorf("SanitizeSegment(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAssetValidate(t *testing.T) {
	if err := EquityAsset("AAPL", "US").Validate(); err != nil {
		t.Errorf("valid asset rejected: %v", err)
	}
	if err := (Asset{Kind: "bond", Symbol: "X"}).Validate(); err == nil {
		t.Error("unknown kind accepted")
	}
	if err := EquityAsset("  ", "US").Validate(); err == nil {
		t.Error("blank symbol accepted")
	}
}

func TestCurrencyHelpers(t *testing.T) {
	if !KnownCurrency("usd") {
		t.Error("usd not recognized")
	}
	if KnownCurrency("ZZZ") {
		t.Error("ZZZ recognized")
	}
	if got := CurrencyFraction("JPY"); got != 0 {
		t.Errorf("CurrencyFraction(JPY) = %d, want 0", got)
	}
	if got := CurrencyFraction("USD"); got != 2 {
		t.Errorf("CurrencyFraction(USD) = %d, want 2", got)
	}
	if got := CurrencyFraction("ZZZ"); got != 2 {
		t.Errorf("CurrencyFraction(ZZZ) = %d, want 2 (fallback)", got)
	}
}

package symbols

import (
	"errors"
	"testing"

	"github.com/openquant/gyconnect/internal/schema"
)

func marketRow(id, base, quote string) schema.Market {
	return schema.Market{MarketID: id, BaseAsset: base, TargetAsset: quote}
}

func TestResolveBeforeRebuildFails(t *testing.T) {
	m := NewMapper(nil)

	if _, err := m.ResolveSymbol("ADA-GENS"); !errors.Is(err, ErrUnknownMapping) {
		t.Errorf("ResolveSymbol error = %v, want ErrUnknownMapping", err)
	}
	if _, err := m.ResolvePair("ADA_GENS"); !errors.Is(err, ErrUnknownMapping) {
		t.Errorf("ResolvePair error = %v, want ErrUnknownMapping", err)
	}
	if m.Ready() {
		t.Error("mapper must not be ready before first rebuild")
	}
}

func TestRoundTripForEverySymbol(t *testing.T) {
	m := NewMapper(nil)
	markets := []schema.Market{
		marketRow("ADA_GENS", "ADA", "GENS"),
		marketRow("ADA_DJED", "ADA", "DJED"),
		marketRow("GENS_DJED", "GENS", "DJED"),
	}
	m.Rebuild(markets)

	for _, market := range markets {
		pair, err := m.ResolvePair(market.MarketID)
		if err != nil {
			t.Fatalf("ResolvePair(%s): %v", market.MarketID, err)
		}
		symbol, err := m.ResolveSymbol(pair)
		if err != nil {
			t.Fatalf("ResolveSymbol(%s): %v", pair, err)
		}
		if symbol != market.MarketID {
			t.Errorf("round trip %s -> %s -> %s", market.MarketID, pair, symbol)
		}
	}
}

func TestRebuildReplacesNotMerges(t *testing.T) {
	m := NewMapper(nil)
	m.Rebuild([]schema.Market{marketRow("ADA_GENS", "ADA", "GENS")})
	m.Rebuild([]schema.Market{marketRow("ADA_DJED", "ADA", "DJED")})

	if _, err := m.ResolvePair("ADA_GENS"); !errors.Is(err, ErrUnknownMapping) {
		t.Error("old mapping entry must be gone after rebuild")
	}
	if _, err := m.ResolvePair("ADA_DJED"); err != nil {
		t.Errorf("new mapping entry missing: %v", err)
	}
}

func TestRebuildSkipsDuplicateAndMalformedRows(t *testing.T) {
	m := NewMapper(nil)
	m.Rebuild([]schema.Market{
		marketRow("ADA_GENS", "ADA", "GENS"),
		marketRow("ADA_GENS", "ADA", "DJED"),  // duplicate symbol
		marketRow("ADA_GENS2", "ADA", "GENS"), // duplicate pair
		marketRow("", "GENS", "DJED"),         // missing symbol
		marketRow("GENS_X", "GENS", ""),       // missing quote
	})

	pair, err := m.ResolvePair("ADA_GENS")
	if err != nil || pair != "ADA-GENS" {
		t.Fatalf("ResolvePair(ADA_GENS) = %q, %v", pair, err)
	}
	if got := len(m.Pairs()); got != 1 {
		t.Errorf("Pairs() len = %d, want 1", got)
	}
}

package rules

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/openquant/gyconnect/internal/schema"
)

func validMarket() schema.Market {
	return schema.Market{
		MarketID:    "ADA_GENS",
		BaseAsset:   "ADA",
		TargetAsset: "GENS",
		Filters: schema.MarketFilters{
			MinQty:      "1",
			TickSize:    "0.000001",
			StepSize:    "0.01",
			MinNotional: "5",
		},
	}
}

func TestParseExtractsDecimals(t *testing.T) {
	parser := NewParser(nil)

	rules := parser.Parse([]schema.Market{validMarket()})
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	rule := rules[0]
	if rule.Pair != "ADA-GENS" {
		t.Errorf("Pair = %q, want ADA-GENS", rule.Pair)
	}
	if !rule.MinPriceIncrement.Equal(decimal.RequireFromString("0.000001")) {
		t.Errorf("MinPriceIncrement = %s", rule.MinPriceIncrement)
	}
	if !rule.MinNotionalSize.Equal(decimal.NewFromInt(5)) {
		t.Errorf("MinNotionalSize = %s", rule.MinNotionalSize)
	}
}

func TestParseSkipsMalformedRowsAndContinues(t *testing.T) {
	parser := NewParser(nil)

	missing := validMarket()
	missing.Filters.MinNotional = ""

	nonNumeric := validMarket()
	nonNumeric.MarketID = "ADA_DJED"
	nonNumeric.TargetAsset = "DJED"
	nonNumeric.Filters.TickSize = "abc"

	noPair := validMarket()
	noPair.BaseAsset = ""

	ok := validMarket()
	ok.MarketID = "GENS_DJED"
	ok.BaseAsset = "GENS"
	ok.TargetAsset = "DJED"

	rules := parser.Parse([]schema.Market{missing, nonNumeric, noPair, ok})
	if len(rules) != 1 {
		t.Fatalf("expected only the well-formed row, got %d rules", len(rules))
	}
	if rules[0].Pair != "GENS-DJED" {
		t.Errorf("Pair = %q, want GENS-DJED", rules[0].Pair)
	}
}

func TestParseEmptyListIsValid(t *testing.T) {
	parser := NewParser(nil)
	if rules := parser.Parse(nil); len(rules) != 0 {
		t.Errorf("expected empty result, got %d", len(rules))
	}
}

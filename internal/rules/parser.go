// Package rules converts raw exchange market metadata into validated
// numeric trading constraints.
package rules

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/openquant/gyconnect/internal/observability"
	"github.com/openquant/gyconnect/internal/schema"
)

// Parser builds trading rules from the exchange's market listing.
type Parser struct {
	logger observability.Logger
}

// NewParser constructs a rules parser.
func NewParser(logger observability.Logger) *Parser {
	if logger == nil {
		logger = observability.Log()
	}
	return &Parser{logger: logger}
}

// Parse extracts one TradingRule per well-formed market row. A malformed row
// (missing field, non-numeric filter value) is logged and skipped; parsing
// continues for the remaining rows. An empty result is a valid outcome.
func (p *Parser) Parse(markets []schema.Market) []schema.TradingRule {
	out := make([]schema.TradingRule, 0, len(markets))
	for _, market := range markets {
		rule, err := parseRow(market)
		if err != nil {
			p.logger.Error("rules: skipping malformed market row",
				observability.F("market_id", market.MarketID),
				observability.F("error", err))
			continue
		}
		out = append(out, rule)
	}
	return out
}

func parseRow(market schema.Market) (schema.TradingRule, error) {
	pair := schema.CombinePair(market.BaseAsset, market.TargetAsset)
	if !pair.Valid() {
		return schema.TradingRule{}, fmt.Errorf("missing base or target asset")
	}
	minQty, err := parseFilter("minQty", market.Filters.MinQty)
	if err != nil {
		return schema.TradingRule{}, err
	}
	tickSize, err := parseFilter("tickSize", market.Filters.TickSize)
	if err != nil {
		return schema.TradingRule{}, err
	}
	stepSize, err := parseFilter("stepSize", market.Filters.StepSize)
	if err != nil {
		return schema.TradingRule{}, err
	}
	minNotional, err := parseFilter("minNotional", market.Filters.MinNotional)
	if err != nil {
		return schema.TradingRule{}, err
	}
	return schema.TradingRule{
		Pair:                   pair,
		MinOrderSize:           minQty,
		MinPriceIncrement:      tickSize,
		MinBaseAmountIncrement: stepSize,
		MinNotionalSize:        minNotional,
	}, nil
}

func parseFilter(name, value string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return decimal.Decimal{}, fmt.Errorf("missing filter %s", name)
	}
	parsed, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse filter %s=%q: %w", name, value, err)
	}
	return parsed, nil
}

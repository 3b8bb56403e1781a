// Package symbols maintains the bidirectional mapping between exchange
// market identifiers and normalized trading pairs.
package symbols

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/openquant/gyconnect/internal/observability"
	"github.com/openquant/gyconnect/internal/schema"
)

// ErrUnknownMapping reports a symbol or pair absent from the current mapping.
// It usually means the exchange metadata is stale and a rebuild is due.
var ErrUnknownMapping = errors.New("symbols: unknown mapping")

type mapping struct {
	symbolToPair map[string]schema.Pair
	pairToSymbol map[schema.Pair]string
}

// Mapper resolves exchange symbols to normalized pairs and back. The mapping
// is replaced wholesale on Rebuild; readers hold whatever view was installed
// when they looked and never observe a partially-built map.
type Mapper struct {
	current atomic.Pointer[mapping]
	logger  observability.Logger
}

// NewMapper creates an empty mapper. Every resolve fails until the first
// Rebuild installs a mapping.
func NewMapper(logger observability.Logger) *Mapper {
	if logger == nil {
		logger = observability.Log()
	}
	m := &Mapper{logger: logger}
	return m
}

// Rebuild replaces the entire mapping from the raw market list in one atomic
// swap. Rows that would break bijectivity (duplicate symbol or duplicate
// pair) are skipped and logged; rows with missing fields are skipped too.
func (m *Mapper) Rebuild(markets []schema.Market) {
	next := &mapping{
		symbolToPair: make(map[string]schema.Pair, len(markets)),
		pairToSymbol: make(map[schema.Pair]string, len(markets)),
	}
	for _, market := range markets {
		symbol := strings.TrimSpace(market.MarketID)
		pair := schema.CombinePair(market.BaseAsset, market.TargetAsset)
		if symbol == "" || !pair.Valid() {
			m.logger.Error("symbols: skipping market row with missing identity",
				observability.F("market_id", market.MarketID),
				observability.F("base", market.BaseAsset),
				observability.F("quote", market.TargetAsset))
			continue
		}
		if _, dup := next.symbolToPair[symbol]; dup {
			m.logger.Error("symbols: duplicate market id in metadata", observability.F("market_id", symbol))
			continue
		}
		if _, dup := next.pairToSymbol[pair]; dup {
			m.logger.Error("symbols: duplicate pair in metadata", observability.F("pair", pair))
			continue
		}
		next.symbolToPair[symbol] = pair
		next.pairToSymbol[pair] = symbol
	}
	m.current.Store(next)
}

// ResolveSymbol returns the exchange symbol for a normalized pair.
func (m *Mapper) ResolveSymbol(pair schema.Pair) (string, error) {
	view := m.current.Load()
	if view == nil {
		return "", fmt.Errorf("resolve symbol for %s: mapping not initialized: %w", pair, ErrUnknownMapping)
	}
	symbol, ok := view.pairToSymbol[pair]
	if !ok {
		return "", fmt.Errorf("resolve symbol for %s: %w", pair, ErrUnknownMapping)
	}
	return symbol, nil
}

// ResolvePair returns the normalized pair for an exchange symbol.
func (m *Mapper) ResolvePair(symbol string) (schema.Pair, error) {
	view := m.current.Load()
	if view == nil {
		return "", fmt.Errorf("resolve pair for %s: mapping not initialized: %w", symbol, ErrUnknownMapping)
	}
	pair, ok := view.symbolToPair[symbol]
	if !ok {
		return "", fmt.Errorf("resolve pair for %s: %w", symbol, ErrUnknownMapping)
	}
	return pair, nil
}

// Pairs lists the normalized pairs present in the current mapping.
func (m *Mapper) Pairs() []schema.Pair {
	view := m.current.Load()
	if view == nil {
		return nil
	}
	pairs := make([]schema.Pair, 0, len(view.pairToSymbol))
	for pair := range view.pairToSymbol {
		pairs = append(pairs, pair)
	}
	return pairs
}

// Ready reports whether a mapping has been installed.
func (m *Mapper) Ready() bool {
	return m.current.Load() != nil
}

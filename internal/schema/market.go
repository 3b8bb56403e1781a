package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market is one raw market metadata row returned by the exchange's market
// listing endpoint. Field access downstream always checks presence rather
// than trusting the wire shape.
type Market struct {
	MarketID    string        `json:"market_id"`
	BaseAsset   string        `json:"base_asset"`
	TargetAsset string        `json:"target_asset"`
	BaseClose   string        `json:"base_close"`
	Filters     MarketFilters `json:"filters"`
}

// MarketFilters carries the exchange's per-market constraint strings.
type MarketFilters struct {
	MinQty      string `json:"minQty"`
	TickSize    string `json:"tickSize"`
	StepSize    string `json:"stepSize"`
	MinNotional string `json:"minNotional"`
}

// TradingRule holds the validated numeric constraints of one tradable pair.
// Values are exact decimals; binary floating point would lose precision in
// comparisons against order sizes.
type TradingRule struct {
	Pair                   Pair
	MinOrderSize           decimal.Decimal
	MinPriceIncrement      decimal.Decimal
	MinBaseAmountIncrement decimal.Decimal
	MinNotionalSize        decimal.Decimal
}

// MarketDataKind tags the variant held by a MarketDataEvent.
type MarketDataKind string

const (
	// MarketDataSnapshot is a full order-book snapshot.
	MarketDataSnapshot MarketDataKind = "snapshot"
	// MarketDataDiff is an incremental order-book update.
	MarketDataDiff MarketDataKind = "diff"
	// MarketDataTrade is a public trade print.
	MarketDataTrade MarketDataKind = "trade"
)

// PriceLevel is one side entry of an order book.
type PriceLevel struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// BookSnapshot is the full book at a point in time.
type BookSnapshot struct {
	Bids     []PriceLevel
	Asks     []PriceLevel
	UpdateID uint64
}

// BookDiff is an incremental book change.
type BookDiff struct {
	Bids     []PriceLevel
	Asks     []PriceLevel
	UpdateID uint64
}

// Trade is a public trade print on a market.
type Trade struct {
	TradeID string
	Side    TradeSide
	Price   decimal.Decimal
	Amount  decimal.Decimal
}

// MarketDataEvent is the tagged variant flowing out of the market-data
// adapter. Exactly one of Snapshot, Diff, Trade is set, matching Kind.
// ReceivedAt is stamped with local receipt time: the exchange does not
// guarantee a usable timestamp field on these payloads.
type MarketDataEvent struct {
	Kind       MarketDataKind
	Pair       Pair
	ReceivedAt time.Time

	Snapshot *BookSnapshot
	Diff     *BookDiff
	Trade    *Trade
}

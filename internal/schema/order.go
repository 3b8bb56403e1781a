package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide identifies the direction of an order or trade.
type TradeSide string

const (
	// TradeSideBuy represents a buy order or a buyer-initiated trade.
	TradeSideBuy TradeSide = "BUY"
	// TradeSideSell represents a sell order or a seller-initiated trade.
	TradeSideSell TradeSide = "SELL"
)

// OrderType identifies the execution style of an order.
type OrderType string

const (
	// OrderTypeLimit is a resting limit order.
	OrderTypeLimit OrderType = "LIMIT"
	// OrderTypeLimitMaker is a limit order rejected when it would take.
	OrderTypeLimitMaker OrderType = "LIMIT_MAKER"
	// OrderTypeMarket is an immediately-executing market order.
	OrderTypeMarket OrderType = "MARKET"
)

// OrderState enumerates the lifecycle states of a tracked order.
type OrderState string

const (
	// StatePendingCreate marks an order submitted but not yet acknowledged.
	StatePendingCreate OrderState = "PENDING_CREATE"
	// StateOpen marks an acknowledged resting order.
	StateOpen OrderState = "OPEN"
	// StatePartiallyFilled marks an order with partial executions.
	StatePartiallyFilled OrderState = "PARTIALLY_FILLED"
	// StateFilled marks a completely executed order.
	StateFilled OrderState = "FILLED"
	// StatePendingCancel marks an order with an in-flight cancel request.
	StatePendingCancel OrderState = "PENDING_CANCEL"
	// StateCanceled marks a confirmed cancellation.
	StateCanceled OrderState = "CANCELED"
	// StateFailed marks an order rejected by the exchange.
	StateFailed OrderState = "FAILED"
)

// stateRank orders lifecycle states so that transitions only move forward.
// Terminal states share the highest rank and absorb every later update.
var stateRank = map[OrderState]int{
	StatePendingCreate:   0,
	StateOpen:            1,
	StatePartiallyFilled: 2,
	StatePendingCancel:   3,
	StateFilled:          4,
	StateCanceled:        4,
	StateFailed:          4,
}

// IsTerminal reports whether the state admits no further transitions.
func (s OrderState) IsTerminal() bool {
	return s == StateFilled || s == StateCanceled || s == StateFailed
}

// CanTransitionTo reports whether moving from s to next is a legal forward
// transition. Reapplying the current state is not a transition, and a
// pending cancel never regresses to OPEN: a failed cancel attempt leaves the
// order state unchanged until a status poll resolves it.
func (s OrderState) CanTransitionTo(next OrderState) bool {
	if s.IsTerminal() {
		return false
	}
	from, ok := stateRank[s]
	if !ok {
		return false
	}
	to, ok := stateRank[next]
	if !ok {
		return false
	}
	return to > from
}

// UnknownExchangeOrderID is the sentinel assigned when an order placement
// result was ambiguous: the exchange may have accepted the order even though
// the response failed, so the order stays tracked until a status poll
// resolves its real identity.
const UnknownExchangeOrderID = "UNKNOWN"

// TrackedOrder is the local record of one order's lifecycle, the unit of
// reconciliation between the polling and streaming update paths. It is owned
// exclusively by the order lifecycle manager.
type TrackedOrder struct {
	ClientOrderID   string
	ExchangeOrderID string
	Pair            Pair
	Side            TradeSide
	Type            OrderType
	Amount          decimal.Decimal
	Price           decimal.Decimal
	State           OrderState
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasExchangeOrderID reports whether the order carries a concrete exchange
// identity rather than the ambiguous placement sentinel.
func (o *TrackedOrder) HasExchangeOrderID() bool {
	return o.ExchangeOrderID != "" && o.ExchangeOrderID != UnknownExchangeOrderID
}

// OrderUpdate is an immutable state observation produced by either the
// polling path or the stream path.
type OrderUpdate struct {
	ClientOrderID   string
	ExchangeOrderID string
	Pair            Pair
	NewState        OrderState
	Timestamp       time.Time
}

// TradeUpdate is an immutable fill observation attributable to a tracked order.
type TradeUpdate struct {
	ClientOrderID   string
	ExchangeOrderID string
	TradeID         string
	Pair            Pair
	Price           decimal.Decimal
	Amount          decimal.Decimal
	Timestamp       time.Time
}

// Balance captures the free and total amounts of a single asset.
type Balance struct {
	Free  decimal.Decimal
	Total decimal.Decimal
}

// Package marketdata normalizes raw snapshot, diff, and trade payloads into
// canonical market-data events and routes inbound stream messages to the
// correct logical channel.
package marketdata

import (
	"context"
	"fmt"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/openquant/gyconnect/errs"
	"github.com/openquant/gyconnect/internal/schema"
	"github.com/openquant/gyconnect/internal/symbols"
	"github.com/openquant/gyconnect/internal/transport"
)

// Channel is the logical routing target of an inbound stream message.
type Channel string

const (
	// ChannelNone marks control and acknowledgement frames that reach no queue.
	ChannelNone Channel = ""
	// ChannelDiff routes order-book diff messages.
	ChannelDiff Channel = "order_book_diff"
	// ChannelTrade routes public trade messages.
	ChannelTrade Channel = "trade"
)

const (
	// diffEventType is the exchange's event-type marker for book diffs. Any
	// other event type on a non-control frame is treated as a trade.
	diffEventType = "depthUpdate"

	snapshotPathFormat = "/markets/%s/order-book"
)

type rawMessage struct {
	Result    *json.RawMessage `json:"result"`
	EventType *string          `json:"e"`
	MarketID  string           `json:"market_id"`
	TradeID   string           `json:"trade_id"`
	Side      string           `json:"side"`
	Price     string           `json:"price"`
	Amount    string           `json:"amount"`
	UpdateID  uint64           `json:"update_id"`
	Bids      [][]string       `json:"bids"`
	Asks      [][]string       `json:"asks"`
}

type snapshotResponse struct {
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
	LastUpdateID uint64     `json:"last_update_id"`
}

// Adapter converts exchange payloads into schema.MarketDataEvent values.
type Adapter struct {
	rest   transport.RESTClient
	mapper *symbols.Mapper
	clock  transport.Clock
}

// NewAdapter constructs the market-data adapter.
func NewAdapter(rest transport.RESTClient, mapper *symbols.Mapper, clock transport.Clock) *Adapter {
	if clock == nil {
		clock = transport.ClockFunc(time.Now)
	}
	return &Adapter{rest: rest, mapper: mapper, clock: clock}
}

// FetchSnapshot retrieves the full order book for a pair. The event is
// stamped with local receipt time; the snapshot endpoint carries no usable
// exchange timestamp.
func (a *Adapter) FetchSnapshot(ctx context.Context, pair schema.Pair) (schema.MarketDataEvent, error) {
	symbol, err := a.mapper.ResolveSymbol(pair)
	if err != nil {
		return schema.MarketDataEvent{}, err
	}
	params := url.Values{}
	params.Set("market-id", symbol)
	body, err := a.rest.Get(ctx, fmt.Sprintf(snapshotPathFormat, symbol), params, false)
	if err != nil {
		return schema.MarketDataEvent{}, fmt.Errorf("fetch order book snapshot for %s: %w", pair, err)
	}
	var payload snapshotResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return schema.MarketDataEvent{}, errs.New(transport.ExchangeName, errs.CodeMalformed,
			errs.WithMessage("decode order book snapshot"), errs.WithCause(err))
	}
	bids, err := parseLevels(payload.Bids)
	if err != nil {
		return schema.MarketDataEvent{}, errs.New(transport.ExchangeName, errs.CodeMalformed,
			errs.WithMessage("snapshot bids"), errs.WithCause(err))
	}
	asks, err := parseLevels(payload.Asks)
	if err != nil {
		return schema.MarketDataEvent{}, errs.New(transport.ExchangeName, errs.CodeMalformed,
			errs.WithMessage("snapshot asks"), errs.WithCause(err))
	}
	return schema.MarketDataEvent{
		Kind:       schema.MarketDataSnapshot,
		Pair:       pair,
		ReceivedAt: a.clock.Now(),
		Snapshot: &schema.BookSnapshot{
			Bids:     bids,
			Asks:     asks,
			UpdateID: payload.LastUpdateID,
		},
	}, nil
}

// Classify inspects a raw stream payload and returns its routing channel.
// Messages carrying a "result" field are control or acknowledgement frames
// and belong to neither channel; callers must not convert those.
func (a *Adapter) Classify(raw []byte) Channel {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ChannelNone
	}
	if _, isControl := probe["result"]; isControl {
		return ChannelNone
	}
	var eventType string
	if rawType, ok := probe["e"]; ok {
		_ = json.Unmarshal(rawType, &eventType)
	}
	if eventType == diffEventType {
		return ChannelDiff
	}
	return ChannelTrade
}

// ToTradeEvent converts a trade stream message. An unmappable market symbol
// propagates symbols.ErrUnknownMapping: the mapping is stale and the message
// must not be silently dropped.
func (a *Adapter) ToTradeEvent(raw []byte) (schema.MarketDataEvent, error) {
	var msg rawMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return schema.MarketDataEvent{}, errs.New(transport.ExchangeName, errs.CodeMalformed,
			errs.WithMessage("decode trade message"), errs.WithCause(err))
	}
	pair, err := a.mapper.ResolvePair(msg.MarketID)
	if err != nil {
		return schema.MarketDataEvent{}, err
	}
	price, err := requireDecimal("price", msg.Price)
	if err != nil {
		return schema.MarketDataEvent{}, err
	}
	amount, err := requireDecimal("amount", msg.Amount)
	if err != nil {
		return schema.MarketDataEvent{}, err
	}
	side := schema.TradeSideBuy
	if msg.Side == string(schema.TradeSideSell) {
		side = schema.TradeSideSell
	}
	return schema.MarketDataEvent{
		Kind:       schema.MarketDataTrade,
		Pair:       pair,
		ReceivedAt: a.clock.Now(),
		Trade: &schema.Trade{
			TradeID: msg.TradeID,
			Side:    side,
			Price:   price,
			Amount:  amount,
		},
	}, nil
}

// ToDiffEvent converts an order-book diff stream message, stamping it with
// local receipt time.
func (a *Adapter) ToDiffEvent(raw []byte) (schema.MarketDataEvent, error) {
	var msg rawMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return schema.MarketDataEvent{}, errs.New(transport.ExchangeName, errs.CodeMalformed,
			errs.WithMessage("decode diff message"), errs.WithCause(err))
	}
	pair, err := a.mapper.ResolvePair(msg.MarketID)
	if err != nil {
		return schema.MarketDataEvent{}, err
	}
	bids, err := parseLevels(msg.Bids)
	if err != nil {
		return schema.MarketDataEvent{}, errs.New(transport.ExchangeName, errs.CodeMalformed,
			errs.WithMessage("diff bids"), errs.WithCause(err))
	}
	asks, err := parseLevels(msg.Asks)
	if err != nil {
		return schema.MarketDataEvent{}, errs.New(transport.ExchangeName, errs.CodeMalformed,
			errs.WithMessage("diff asks"), errs.WithCause(err))
	}
	return schema.MarketDataEvent{
		Kind:       schema.MarketDataDiff,
		Pair:       pair,
		ReceivedAt: a.clock.Now(),
		Diff: &schema.BookDiff{
			Bids:     bids,
			Asks:     asks,
			UpdateID: msg.UpdateID,
		},
	}, nil
}

func parseLevels(levels [][]string) ([]schema.PriceLevel, error) {
	out := make([]schema.PriceLevel, 0, len(levels))
	for _, level := range levels {
		if len(level) < 2 {
			return nil, fmt.Errorf("price level needs price and amount, got %d fields", len(level))
		}
		price, err := decimal.NewFromString(level[0])
		if err != nil {
			return nil, fmt.Errorf("parse level price %q: %w", level[0], err)
		}
		amount, err := decimal.NewFromString(level[1])
		if err != nil {
			return nil, fmt.Errorf("parse level amount %q: %w", level[1], err)
		}
		out = append(out, schema.PriceLevel{Price: price, Amount: amount})
	}
	return out, nil
}

func requireDecimal(field, value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Decimal{}, errs.New(transport.ExchangeName, errs.CodeMalformed,
			errs.WithMessage(fmt.Sprintf("missing field %s", field)))
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, errs.New(transport.ExchangeName, errs.CodeMalformed,
			errs.WithMessage(fmt.Sprintf("parse field %s", field)), errs.WithCause(err))
	}
	return parsed, nil
}

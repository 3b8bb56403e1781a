package orders

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/openquant/gyconnect/errs"
	"github.com/openquant/gyconnect/internal/observability"
	"github.com/openquant/gyconnect/internal/schema"
	"github.com/openquant/gyconnect/internal/transport"
)

const (
	eventTypeOrderUpdate = "order_update"
	eventTypeTrade       = "trade"
)

type userEventEnvelope struct {
	Events []userEvent `json:"events"`
}

type userEvent struct {
	Type          string `json:"type"`
	ClientOrderID string `json:"client_order_id"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	TradeID       string `json:"trade_id"`
	Price         string `json:"price"`
	Amount        string `json:"amount"`
	Timestamp     int64  `json:"timestamp"`
}

// HandleUserEvent consumes one user stream payload and folds its events into
// the tracked order set. It satisfies the user stream listener's sink
// contract. Individual malformed events are skipped; an undecodable payload
// is an error so the listener backs off before the next poll.
func (m *Manager) HandleUserEvent(_ context.Context, payload []byte) error {
	var envelope userEventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return errs.New(transport.ExchangeName, errs.CodeMalformed,
			errs.WithMessage("decode user event payload"),
			errs.WithRawMessage(string(payload)), errs.WithCause(err))
	}

	for _, event := range envelope.Events {
		switch event.Type {
		case eventTypeOrderUpdate:
			m.applyOrderEvent(event)
		case eventTypeTrade:
			m.applyTradeEvent(event)
		default:
			m.logger.Debug("skipping unrecognized user event",
				observability.F("type", event.Type))
		}
	}
	return nil
}

func (m *Manager) applyOrderEvent(event userEvent) {
	state, ok := orderStateFor[event.Status]
	if !ok {
		m.logger.Debug("skipping order event with unknown status",
			observability.F("client_order_id", event.ClientOrderID),
			observability.F("status", event.Status))
		return
	}
	m.ApplyUpdate(schema.OrderUpdate{
		ClientOrderID:   event.ClientOrderID,
		ExchangeOrderID: event.TransactionID,
		NewState:        state,
		Timestamp:       m.eventTime(event),
	})
}

func (m *Manager) applyTradeEvent(event userEvent) {
	price, err := decimal.NewFromString(event.Price)
	if err != nil {
		m.logger.Debug("skipping trade event with bad price",
			observability.F("trade_id", event.TradeID),
			observability.F("price", event.Price))
		return
	}
	amount, err := decimal.NewFromString(event.Amount)
	if err != nil {
		m.logger.Debug("skipping trade event with bad amount",
			observability.F("trade_id", event.TradeID),
			observability.F("amount", event.Amount))
		return
	}

	trade := schema.TradeUpdate{
		ClientOrderID:   event.ClientOrderID,
		ExchangeOrderID: event.TransactionID,
		TradeID:         event.TradeID,
		Price:           price,
		Amount:          amount,
		Timestamp:       m.eventTime(event),
	}
	if order, ok := m.Tracked(event.ClientOrderID); ok {
		trade.Pair = order.Pair
	}
	m.ApplyTrade(trade)
}

func (m *Manager) eventTime(event userEvent) time.Time {
	if event.Timestamp > 0 {
		return time.UnixMilli(event.Timestamp)
	}
	return m.clock.Now()
}

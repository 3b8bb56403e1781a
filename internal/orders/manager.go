// Package orders owns the in-flight order set: placement, cancellation,
// status reconciliation, and the account balance snapshot.
package orders

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/openquant/gyconnect/errs"
	"github.com/openquant/gyconnect/internal/observability"
	"github.com/openquant/gyconnect/internal/schema"
	"github.com/openquant/gyconnect/internal/symbols"
	"github.com/openquant/gyconnect/internal/telemetry"
	"github.com/openquant/gyconnect/internal/transport"
)

const (
	ordersPath       = "/orders"
	cancelOrdersPath = "/orders/cancel"
	balancesPath     = "/balances"
)

// orderStateFor maps the venue's status vocabulary onto the connector's
// lifecycle states.
var orderStateFor = map[string]schema.OrderState{
	"PENDING_CREATE":   schema.StatePendingCreate,
	"NEW":              schema.StateOpen,
	"OPEN":             schema.StateOpen,
	"PARTIALLY_FILLED": schema.StatePartiallyFilled,
	"FILLED":           schema.StateFilled,
	"PENDING_CANCEL":   schema.StatePendingCancel,
	"CANCELED":         schema.StateCanceled,
	"REJECTED":         schema.StateFailed,
	"EXPIRED":          schema.StateFailed,
}

// Journal persists order lifecycle transitions. Implementations must be safe
// for concurrent use. A nil Journal disables persistence.
type Journal interface {
	RecordSubmitted(ctx context.Context, order schema.TrackedOrder) error
	RecordUpdate(ctx context.Context, update schema.OrderUpdate) error
}

// Options configure a Manager. REST and Mapper are required.
type Options struct {
	REST   transport.RESTClient
	Mapper *symbols.Mapper
	Clock  transport.Clock
	Logger observability.Logger

	Journal Journal
	Metrics *telemetry.Metrics

	// OnOrderUpdate and OnTrade receive applied transitions and fills.
	// They are invoked outside the manager's locks.
	OnOrderUpdate func(schema.OrderUpdate)
	OnTrade       func(schema.TradeUpdate)

	// OnClockSkew fires when the venue rejects a request for timestamp
	// drift, giving the owner a chance to resynchronize its clock.
	OnClockSkew func(context.Context)
}

// Manager tracks in-flight orders from submission to a terminal state and
// maintains the account balance snapshot.
type Manager struct {
	rest    transport.RESTClient
	mapper  *symbols.Mapper
	clock   transport.Clock
	logger  observability.Logger
	journal Journal
	metrics *telemetry.Metrics

	onOrderUpdate func(schema.OrderUpdate)
	onTrade       func(schema.TradeUpdate)
	onClockSkew   func(context.Context)

	mu      sync.Mutex
	tracked map[string]*schema.TrackedOrder

	balMu    sync.RWMutex
	balances map[string]schema.Balance
}

// NewManager constructs an order lifecycle manager.
func NewManager(opts Options) *Manager {
	clock := opts.Clock
	if clock == nil {
		clock = transport.ClockFunc(time.Now)
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.Log()
	}
	return &Manager{
		rest:          opts.REST,
		mapper:        opts.Mapper,
		clock:         clock,
		logger:        logger,
		journal:       opts.Journal,
		metrics:       opts.Metrics,
		onOrderUpdate: opts.OnOrderUpdate,
		onTrade:       opts.OnTrade,
		onClockSkew:   opts.OnClockSkew,
		tracked:       make(map[string]*schema.TrackedOrder),
		balances:      make(map[string]schema.Balance),
	}
}

type createOrderRequest struct {
	OfferToken    string `json:"offer_token"`
	OfferAmount   string `json:"offer_amount"`
	PriceToken    string `json:"price_token"`
	PriceAmount   string `json:"price_amount"`
	Side          string `json:"side"`
	ClientOrderID string `json:"client_order_id"`
}

type transactionResponse struct {
	TransactionID string `json:"transaction_id"`
}

type orderStatusResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

// Submit places order on the venue and starts tracking it. An overload
// rejection is treated as a soft success: the placement may have gone
// through, so the order is tracked in PENDING_CREATE under the
// schema.UnknownExchangeOrderID sentinel until reconciliation resolves it.
// Any other failure leaves the order untracked.
func (m *Manager) Submit(ctx context.Context, order schema.TrackedOrder) (string, time.Time, error) {
	if err := validateNewOrder(order); err != nil {
		return "", time.Time{}, err
	}
	symbol, err := m.mapper.ResolveSymbol(order.Pair)
	if err != nil {
		return "", time.Time{}, err
	}
	offerToken, priceToken, ok := strings.Cut(symbol, "_")
	if !ok {
		return "", time.Time{}, errs.New(transport.ExchangeName, errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("symbol %q has no token separator", symbol)),
			errs.WithCanonicalCode(errs.CanonicalInvalidSymbol))
	}

	request := createOrderRequest{
		OfferToken:    offerToken,
		OfferAmount:   order.Amount.String(),
		PriceToken:    priceToken,
		PriceAmount:   order.Price.String(),
		Side:          string(order.Side),
		ClientOrderID: order.ClientOrderID,
	}

	data, err := m.rest.Post(ctx, ordersPath, request, true)
	if err != nil {
		if !IsServerOverloaded(err) {
			return "", time.Time{}, m.noteClockSkew(ctx, err)
		}
		// The venue may have executed the request despite rejecting it.
		transactTime := m.clock.Now()
		m.track(order, schema.UnknownExchangeOrderID, transactTime)
		m.metrics.AmbiguousPlacement(ctx)
		m.journalSubmitted(ctx, order.ClientOrderID)
		m.logger.Info("order placement ambiguous after overload response",
			observability.F("client_order_id", order.ClientOrderID),
			observability.F("pair", string(order.Pair)))
		return schema.UnknownExchangeOrderID, transactTime, nil
	}

	var resp transactionResponse
	if err := json.Unmarshal(data, &resp); err != nil || resp.TransactionID == "" {
		return "", time.Time{}, errs.New(transport.ExchangeName, errs.CodeMalformed,
			errs.WithMessage("create order response missing transaction_id"),
			errs.WithRawMessage(string(data)), errs.WithCause(err))
	}

	transactTime := m.clock.Now()
	m.track(order, resp.TransactionID, transactTime)
	m.metrics.OrderSubmitted(ctx)
	m.journalSubmitted(ctx, order.ClientOrderID)
	return resp.TransactionID, transactTime, nil
}

// journalSubmitted persists a freshly tracked order. Journal failures are
// logged, never fatal: the in-memory tracked set remains authoritative.
func (m *Manager) journalSubmitted(ctx context.Context, clientOrderID string) {
	if m.journal == nil {
		return
	}
	order, ok := m.Tracked(clientOrderID)
	if !ok {
		return
	}
	if err := m.journal.RecordSubmitted(ctx, order); err != nil {
		m.logger.Error("journal submitted order",
			observability.F("client_order_id", order.ClientOrderID),
			observability.F("error", err))
	}
}

func validateNewOrder(order schema.TrackedOrder) error {
	switch {
	case order.ClientOrderID == "":
		return errs.New(transport.ExchangeName, errs.CodeInvalid,
			errs.WithMessage("client order id is empty"))
	case !order.Pair.Valid():
		return errs.New(transport.ExchangeName, errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("invalid pair %q", order.Pair)),
			errs.WithCanonicalCode(errs.CanonicalInvalidSymbol))
	case order.Amount.Sign() <= 0:
		return errs.New(transport.ExchangeName, errs.CodeInvalid,
			errs.WithMessage("order amount must be positive"))
	case order.Type != schema.OrderTypeMarket && order.Price.Sign() <= 0:
		return errs.New(transport.ExchangeName, errs.CodeInvalid,
			errs.WithMessage("order price must be positive"))
	}
	return nil
}

func (m *Manager) track(order schema.TrackedOrder, exchangeOrderID string, now time.Time) {
	order.ExchangeOrderID = exchangeOrderID
	order.State = schema.StatePendingCreate
	order.CreatedAt = now
	order.UpdatedAt = now

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracked[order.ClientOrderID] = &order
}

type cancelOrderRequest struct {
	OrderReferences []string `json:"order_references"`
}

// Cancel requests cancellation of a tracked order. It returns true only when
// the venue confirms with a transaction id; any other well-formed response
// leaves the order tracked as-is. Callers should test failures with
// IsOrderNotFoundOnCancel, which signals the order is already gone.
func (m *Manager) Cancel(ctx context.Context, clientOrderID string) (bool, error) {
	order, ok := m.Tracked(clientOrderID)
	if !ok {
		return false, errs.New(transport.ExchangeName, errs.CodeNotFound,
			errs.WithMessage(fmt.Sprintf("order %s is not tracked", clientOrderID)),
			errs.WithCanonicalCode(errs.CanonicalOrderNotFound))
	}
	if !order.HasExchangeOrderID() {
		return false, errs.New(transport.ExchangeName, errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("order %s has no exchange id yet", clientOrderID)))
	}

	data, err := m.rest.Delete(ctx, cancelOrdersPath, cancelOrderRequest{
		OrderReferences: []string{order.ExchangeOrderID},
	}, true)
	if err != nil {
		return false, m.noteClockSkew(ctx, err)
	}

	var resp transactionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return false, errs.New(transport.ExchangeName, errs.CodeMalformed,
			errs.WithMessage("decode cancel response"),
			errs.WithRawMessage(string(data)), errs.WithCause(err))
	}
	if resp.TransactionID == "" {
		return false, nil
	}

	m.ApplyUpdate(schema.OrderUpdate{
		ClientOrderID:   order.ClientOrderID,
		ExchangeOrderID: order.ExchangeOrderID,
		Pair:            order.Pair,
		NewState:        schema.StatePendingCancel,
		Timestamp:       m.clock.Now(),
	})
	return true, nil
}

// RefreshStatus fetches the venue's view of order. Orders still carrying the
// unknown-id sentinel are looked up by client order id, which is how an
// ambiguous placement gets resolved to a real exchange id. Failures should be
// tested with IsOrderNotFoundOnStatus.
func (m *Manager) RefreshStatus(ctx context.Context, order schema.TrackedOrder) (schema.OrderUpdate, error) {
	var (
		data []byte
		err  error
	)
	if order.HasExchangeOrderID() {
		data, err = m.rest.Get(ctx, ordersPath+"/"+order.ExchangeOrderID, nil, true)
	} else {
		params := url.Values{"client-order-id": []string{order.ClientOrderID}}
		data, err = m.rest.Get(ctx, ordersPath, params, true)
	}
	if err != nil {
		return schema.OrderUpdate{}, m.noteClockSkew(ctx, err)
	}

	var resp orderStatusResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return schema.OrderUpdate{}, errs.New(transport.ExchangeName, errs.CodeMalformed,
			errs.WithMessage("decode order status response"),
			errs.WithRawMessage(string(data)), errs.WithCause(err))
	}
	state, ok := orderStateFor[resp.Status]
	if !ok {
		return schema.OrderUpdate{}, errs.New(transport.ExchangeName, errs.CodeMalformed,
			errs.WithMessage(fmt.Sprintf("unknown order status %q", resp.Status)))
	}

	return schema.OrderUpdate{
		ClientOrderID:   order.ClientOrderID,
		ExchangeOrderID: resp.TransactionID,
		Pair:            order.Pair,
		NewState:        state,
		Timestamp:       m.clock.Now(),
	}, nil
}

// ApplyUpdate merges update into the tracked set. Stale and repeated updates
// are dropped, transitions only ever move forward in the lifecycle, and a
// real exchange id always replaces the unknown-id sentinel. Orders reaching a
// terminal state are reported and then removed from tracking.
func (m *Manager) ApplyUpdate(update schema.OrderUpdate) {
	m.mu.Lock()
	order := m.lookupLocked(update.ClientOrderID, update.ExchangeOrderID)
	if order == nil {
		m.mu.Unlock()
		m.logger.Debug("order update for untracked order",
			observability.F("client_order_id", update.ClientOrderID),
			observability.F("exchange_order_id", update.ExchangeOrderID))
		return
	}

	if update.Timestamp.Before(order.UpdatedAt) {
		m.mu.Unlock()
		return
	}
	if !order.HasExchangeOrderID() && update.ExchangeOrderID != "" &&
		update.ExchangeOrderID != schema.UnknownExchangeOrderID {
		order.ExchangeOrderID = update.ExchangeOrderID
	}
	if update.NewState == order.State {
		m.mu.Unlock()
		return
	}
	if !order.State.CanTransitionTo(update.NewState) {
		from, to := order.State, update.NewState
		m.mu.Unlock()
		m.logger.Debug("dropping backward order transition",
			observability.F("client_order_id", update.ClientOrderID),
			observability.F("from", string(from)),
			observability.F("to", string(to)))
		return
	}

	order.State = update.NewState
	order.UpdatedAt = update.Timestamp
	applied := schema.OrderUpdate{
		ClientOrderID:   order.ClientOrderID,
		ExchangeOrderID: order.ExchangeOrderID,
		Pair:            order.Pair,
		NewState:        order.State,
		Timestamp:       order.UpdatedAt,
	}
	terminal := order.State.IsTerminal()
	if terminal {
		delete(m.tracked, order.ClientOrderID)
	}
	m.mu.Unlock()

	if m.journal != nil {
		if err := m.journal.RecordUpdate(context.Background(), applied); err != nil {
			m.logger.Error("journal order update",
				observability.F("client_order_id", applied.ClientOrderID),
				observability.F("error", err))
		}
	}
	if terminal {
		m.metrics.OrderTerminal(context.Background())
	}
	if m.onOrderUpdate != nil {
		m.onOrderUpdate(applied)
	}
}

// noteClockSkew runs the resynchronization hook for timestamp-drift
// rejections and passes the error through unchanged.
func (m *Manager) noteClockSkew(ctx context.Context, err error) error {
	if IsClockSkew(err) && m.onClockSkew != nil {
		m.logger.Info("timestamp rejected by venue, resynchronizing clock")
		m.onClockSkew(ctx)
	}
	return err
}

// ApplyTrade reports a fill. Fills do not drive state on their own; the
// venue's order updates remain the source of truth for lifecycle transitions.
func (m *Manager) ApplyTrade(trade schema.TradeUpdate) {
	if m.onTrade != nil {
		m.onTrade(trade)
	}
}

// lookupLocked resolves an update to a tracked order, falling back to an
// exchange-id scan for streams that omit the client order id.
func (m *Manager) lookupLocked(clientOrderID, exchangeOrderID string) *schema.TrackedOrder {
	if clientOrderID != "" {
		if order, ok := m.tracked[clientOrderID]; ok {
			return order
		}
	}
	if exchangeOrderID == "" || exchangeOrderID == schema.UnknownExchangeOrderID {
		return nil
	}
	for _, order := range m.tracked {
		if order.ExchangeOrderID == exchangeOrderID {
			return order
		}
	}
	return nil
}

// Tracked returns a copy of the order tracked under clientOrderID.
func (m *Manager) Tracked(clientOrderID string) (schema.TrackedOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.tracked[clientOrderID]
	if !ok {
		return schema.TrackedOrder{}, false
	}
	return *order, true
}

// TrackedOrders returns a snapshot of all in-flight orders.
func (m *Manager) TrackedOrders() []schema.TrackedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make([]schema.TrackedOrder, 0, len(m.tracked))
	for _, order := range m.tracked {
		snapshot = append(snapshot, *order)
	}
	return snapshot
}

// RefreshBalances replaces the balance snapshot with the venue's current
// view. Assets absent from the response are evicted; the swap is atomic with
// respect to readers.
func (m *Manager) RefreshBalances(ctx context.Context) error {
	data, err := m.rest.Get(ctx, balancesPath, nil, true)
	if err != nil {
		return m.noteClockSkew(ctx, err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return errs.New(transport.ExchangeName, errs.CodeMalformed,
			errs.WithMessage("decode balances response"),
			errs.WithRawMessage(string(data)), errs.WithCause(err))
	}

	fresh := make(map[string]schema.Balance, len(raw))
	for asset, amount := range raw {
		value, err := decimal.NewFromString(amount)
		if err != nil {
			m.logger.Error("skipping unparseable balance",
				observability.F("asset", asset), observability.F("amount", amount),
				observability.F("error", err))
			continue
		}
		fresh[asset] = schema.Balance{Free: value, Total: value}
	}

	m.balMu.Lock()
	m.balances = fresh
	m.balMu.Unlock()
	return nil
}

// Balance returns the tracked balance for asset.
func (m *Manager) Balance(asset string) (schema.Balance, bool) {
	m.balMu.RLock()
	defer m.balMu.RUnlock()
	balance, ok := m.balances[asset]
	return balance, ok
}

// Balances returns a copy of the current balance snapshot.
func (m *Manager) Balances() map[string]schema.Balance {
	m.balMu.RLock()
	defer m.balMu.RUnlock()
	snapshot := make(map[string]schema.Balance, len(m.balances))
	for asset, balance := range m.balances {
		snapshot[asset] = balance
	}
	return snapshot
}

// Package connector assembles the exchange-facing components into one facade:
// metadata, market data, the user stream, and the order lifecycle.
package connector

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"github.com/openquant/gyconnect/errs"
	"github.com/openquant/gyconnect/internal/marketdata"
	"github.com/openquant/gyconnect/internal/observability"
	"github.com/openquant/gyconnect/internal/orders"
	"github.com/openquant/gyconnect/internal/rules"
	"github.com/openquant/gyconnect/internal/schema"
	"github.com/openquant/gyconnect/internal/symbols"
	"github.com/openquant/gyconnect/internal/telemetry"
	"github.com/openquant/gyconnect/internal/transport"
	"github.com/openquant/gyconnect/internal/userstream"
)

const (
	marketsPath = "/markets"
	tickerPath  = "/markets/ticker"
	pingPath    = "/ping"
	timePath    = "/time"

	defaultEventBuffer = 256

	// metadataRefreshInterval paces the background rebuild of the symbol
	// mapping and trading rules. A rebuild also heals stale-mapping
	// resolution failures.
	metadataRefreshInterval = 30 * time.Minute
)

// clientOrderIDPrefix tags orders originated by this connector.
const clientOrderIDPrefix = "gy-"

// NewClientOrderID returns a fresh connector-scoped client order id.
func NewClientOrderID() string {
	return clientOrderIDPrefix + uuid.NewString()
}

// Options configure an Exchange. REST is required; Stream may be nil when
// market data is not consumed.
type Options struct {
	REST   transport.RESTClient
	Stream transport.Stream
	Clock  *transport.SyncClock
	Logger observability.Logger

	Journal orders.Journal
	Metrics *telemetry.Metrics

	// StatusPollInterval overrides the reconciliation cadence. Zero keeps
	// the default.
	StatusPollInterval time.Duration
	// EventBuffer sizes the outbound event channels.
	EventBuffer int
}

// Exchange is the top-level connector facade. Construct with New, call
// Start once, consume the event channels, and Close to shut down.
type Exchange struct {
	rest    transport.RESTClient
	stream  transport.Stream
	clock   *transport.SyncClock
	logger  observability.Logger
	metrics *telemetry.Metrics

	mapper  *symbols.Mapper
	parser  *rules.Parser
	rules   atomic.Pointer[map[schema.Pair]schema.TradingRule]
	adapter *marketdata.Adapter
	router  *marketdata.Router
	manager *orders.Manager
	poller  *orders.StatusPoller

	marketData   chan schema.MarketDataEvent
	orderUpdates chan schema.OrderUpdate
	tradeUpdates chan schema.TradeUpdate

	wg        conc.WaitGroup
	cancel    context.CancelFunc
	startOnce sync.Once
	closeOnce sync.Once
}

// New wires an Exchange from opts.
func New(opts Options) *Exchange {
	logger := opts.Logger
	if logger == nil {
		logger = observability.Log()
	}
	clock := opts.Clock
	if clock == nil {
		clock = transport.NewSyncClock(nil)
	}
	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}

	e := &Exchange{
		rest:         opts.REST,
		stream:       opts.Stream,
		clock:        clock,
		logger:       logger,
		metrics:      opts.Metrics,
		mapper:       symbols.NewMapper(logger),
		parser:       rules.NewParser(logger),
		marketData:   make(chan schema.MarketDataEvent, buffer),
		orderUpdates: make(chan schema.OrderUpdate, buffer),
		tradeUpdates: make(chan schema.TradeUpdate, buffer),
	}
	empty := make(map[schema.Pair]schema.TradingRule)
	e.rules.Store(&empty)

	e.adapter = marketdata.NewAdapter(opts.REST, e.mapper, clock)
	e.router = marketdata.NewRouter(e.adapter, logger)
	e.manager = orders.NewManager(orders.Options{
		REST:          opts.REST,
		Mapper:        e.mapper,
		Clock:         clock,
		Logger:        logger,
		Journal:       opts.Journal,
		Metrics:       opts.Metrics,
		OnOrderUpdate: e.publishOrderUpdate,
		OnTrade:       e.publishTrade,
		OnClockSkew: func(skewCtx context.Context) {
			if syncErr := e.SyncTime(skewCtx); syncErr != nil {
				logger.Error("clock resync failed",
					observability.F("error", syncErr))
			}
		},
	})
	e.poller = orders.NewStatusPoller(e.manager, logger, opts.StatusPollInterval)
	return e
}

// Start refreshes exchange metadata, then launches the background loops:
// user stream listening, market data routing, and status reconciliation.
func (e *Exchange) Start(ctx context.Context) error {
	var err error
	e.startOnce.Do(func() {
		if err = e.RefreshMetadata(ctx); err != nil {
			return
		}
		if syncErr := e.SyncTime(ctx); syncErr != nil {
			e.logger.Info("initial time sync failed, continuing on local clock",
				observability.F("error", syncErr))
		}

		runCtx, cancel := context.WithCancel(context.Background())
		e.cancel = cancel

		listener := userstream.NewListener(e.rest, e.manager, e.logger)
		e.wg.Go(func() {
			if listenErr := listener.Listen(runCtx); listenErr != nil && runCtx.Err() == nil {
				e.logger.Error("user stream listener exited",
					observability.F("error", listenErr))
			}
		})
		e.wg.Go(func() {
			_ = e.poller.Run(runCtx)
		})
		e.wg.Go(func() {
			e.metadataLoop(runCtx)
		})
		if e.stream != nil {
			e.wg.Go(func() {
				if routeErr := e.router.Run(runCtx, e.stream, e.marketData); routeErr != nil && runCtx.Err() == nil {
					e.logger.Error("market data router exited",
						observability.F("error", routeErr))
				}
			})
		}
	})
	return err
}

// Close stops the background loops and closes the event channels. It is safe
// to call more than once.
func (e *Exchange) Close() {
	e.closeOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
		e.wg.Wait()
		close(e.marketData)
		close(e.orderUpdates)
		close(e.tradeUpdates)
	})
}

// MarketData exposes converted order book and trade events.
func (e *Exchange) MarketData() <-chan schema.MarketDataEvent { return e.marketData }

// OrderUpdates exposes applied order lifecycle transitions.
func (e *Exchange) OrderUpdates() <-chan schema.OrderUpdate { return e.orderUpdates }

// TradeUpdates exposes fills attributed to tracked orders.
func (e *Exchange) TradeUpdates() <-chan schema.TradeUpdate { return e.tradeUpdates }

func (e *Exchange) publishOrderUpdate(update schema.OrderUpdate) {
	select {
	case e.orderUpdates <- update:
	default:
		e.logger.Error("order update channel full, dropping",
			observability.F("client_order_id", update.ClientOrderID))
	}
}

func (e *Exchange) publishTrade(trade schema.TradeUpdate) {
	select {
	case e.tradeUpdates <- trade:
	default:
		e.logger.Error("trade update channel full, dropping",
			observability.F("trade_id", trade.TradeID))
	}
}

// RefreshMetadata fetches the market list and rebuilds the symbol mapping
// and trading rules from it.
func (e *Exchange) RefreshMetadata(ctx context.Context) error {
	data, err := e.rest.Get(ctx, marketsPath, nil, false)
	if err != nil {
		return err
	}
	var markets []schema.Market
	if err := json.Unmarshal(data, &markets); err != nil {
		return errs.New(transport.ExchangeName, errs.CodeMalformed,
			errs.WithMessage("decode markets response"),
			errs.WithRawMessage(string(data)), errs.WithCause(err))
	}

	e.mapper.Rebuild(markets)
	parsed := e.parser.Parse(markets)
	byPair := make(map[schema.Pair]schema.TradingRule, len(parsed))
	for _, rule := range parsed {
		byPair[rule.Pair] = rule
	}
	e.rules.Store(&byPair)
	e.metrics.MappingRebuild(ctx)
	e.logger.Info("exchange metadata refreshed",
		observability.F("markets", len(markets)),
		observability.F("rules", len(byPair)))
	return nil
}

func (e *Exchange) metadataLoop(ctx context.Context) {
	ticker := time.NewTicker(metadataRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.RefreshMetadata(ctx); err != nil {
				e.logger.Error("metadata refresh failed",
					observability.F("error", err))
			}
		}
	}
}

// TradingRule returns the parsed rule for pair, if the metadata carried one.
func (e *Exchange) TradingRule(pair schema.Pair) (schema.TradingRule, bool) {
	rule, ok := (*e.rules.Load())[pair]
	return rule, ok
}

// TradingRules returns all parsed rules keyed by pair.
func (e *Exchange) TradingRules() map[schema.Pair]schema.TradingRule {
	current := *e.rules.Load()
	snapshot := make(map[schema.Pair]schema.TradingRule, len(current))
	for pair, rule := range current {
		snapshot[pair] = rule
	}
	return snapshot
}

// CheckNetwork verifies REST connectivity with an unauthenticated ping.
func (e *Exchange) CheckNetwork(ctx context.Context) error {
	_, err := e.rest.Get(ctx, pingPath, nil, false)
	return err
}

// SyncTime aligns the connector clock with the venue's server time.
func (e *Exchange) SyncTime(ctx context.Context) error {
	data, err := e.rest.Get(ctx, timePath, nil, false)
	if err != nil {
		return err
	}
	var resp struct {
		ServerTime int64 `json:"server_time"`
	}
	if err := json.Unmarshal(data, &resp); err != nil || resp.ServerTime == 0 {
		return errs.New(transport.ExchangeName, errs.CodeMalformed,
			errs.WithMessage("decode server time response"),
			errs.WithRawMessage(string(data)), errs.WithCause(err))
	}
	e.clock.Sync(time.UnixMilli(resp.ServerTime))
	return nil
}

// GetLastTradedPrice returns the venue's last trade price for pair.
func (e *Exchange) GetLastTradedPrice(ctx context.Context, pair schema.Pair) (decimal.Decimal, error) {
	symbol, err := e.mapper.ResolveSymbol(pair)
	if err != nil {
		return decimal.Decimal{}, err
	}
	params := url.Values{"market-id": []string{symbol}}
	data, err := e.rest.Get(ctx, tickerPath, params, false)
	if err != nil {
		return decimal.Decimal{}, err
	}
	var resp struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(data, &resp); err != nil || resp.Price == "" {
		return decimal.Decimal{}, errs.New(transport.ExchangeName, errs.CodeMalformed,
			errs.WithMessage(fmt.Sprintf("decode ticker response for %s", pair)),
			errs.WithRawMessage(string(data)), errs.WithCause(err))
	}
	price, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return decimal.Decimal{}, errs.New(transport.ExchangeName, errs.CodeMalformed,
			errs.WithMessage(fmt.Sprintf("unparseable ticker price %q", resp.Price)),
			errs.WithCause(err))
	}
	return price, nil
}

// FetchOrderBookSnapshot returns the current book for pair via REST.
func (e *Exchange) FetchOrderBookSnapshot(ctx context.Context, pair schema.Pair) (schema.MarketDataEvent, error) {
	return e.adapter.FetchSnapshot(ctx, pair)
}

// Submit delegates to the order lifecycle manager.
func (e *Exchange) Submit(ctx context.Context, order schema.TrackedOrder) (string, time.Time, error) {
	return e.manager.Submit(ctx, order)
}

// Cancel delegates to the order lifecycle manager.
func (e *Exchange) Cancel(ctx context.Context, clientOrderID string) (bool, error) {
	return e.manager.Cancel(ctx, clientOrderID)
}

// RefreshBalances delegates to the order lifecycle manager.
func (e *Exchange) RefreshBalances(ctx context.Context) error {
	return e.manager.RefreshBalances(ctx)
}

// Balances returns the current balance snapshot.
func (e *Exchange) Balances() map[string]schema.Balance {
	return e.manager.Balances()
}

// TrackedOrders returns the in-flight order snapshot.
func (e *Exchange) TrackedOrders() []schema.TrackedOrder {
	return e.manager.TrackedOrders()
}

// Pairs lists the tradable pairs from the last metadata refresh.
func (e *Exchange) Pairs() []schema.Pair {
	return e.mapper.Pairs()
}

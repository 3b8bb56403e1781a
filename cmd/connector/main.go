// Command connector launches the exchange connector runtime.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/openquant/gyconnect/internal/config"
	"github.com/openquant/gyconnect/internal/connector"
	"github.com/openquant/gyconnect/internal/marketdata"
	"github.com/openquant/gyconnect/internal/observability"
	"github.com/openquant/gyconnect/internal/orders"
	"github.com/openquant/gyconnect/internal/persistence/migrations"
	"github.com/openquant/gyconnect/internal/persistence/postgres"
	"github.com/openquant/gyconnect/internal/telemetry"
	"github.com/openquant/gyconnect/internal/transport"
)

const (
	defaultConfigPath        = "config/connector.yaml"
	connectorLoggerPrefix    = "connector "
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the connector YAML configuration")
	flag.Parse()

	stdLogger := log.New(os.Stderr, connectorLoggerPrefix, log.LstdFlags|log.Lmsgprefix)
	logger := observability.NewStdLogger(stdLogger)
	observability.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		stdLogger.Fatalf("load config: %v", err)
	}

	_, telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		stdLogger.Fatalf("initialize telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			stdLogger.Printf("telemetry shutdown: %v", err)
		}
	}()

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		stdLogger.Fatalf("register metrics: %v", err)
	}

	var journal orders.Journal
	if cfg.Postgres.DSN != "" {
		if err := migrations.Apply(ctx, cfg.Postgres.DSN, logger); err != nil {
			stdLogger.Fatalf("apply migrations: %v", err)
		}
		pgJournal, err := postgres.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			stdLogger.Fatalf("connect order journal: %v", err)
		}
		defer pgJournal.Close()
		journal = pgJournal
	}

	rest := transport.NewHTTPRESTClient(transport.RESTOptions{
		BaseURL:      cfg.Exchange.RESTURL,
		DefaultLimit: rate.Limit(cfg.Limits.Default),
		PathLimits:   pathLimits(cfg.Limits.Paths),
		Auth: transport.APIKeyAuth{
			Key:    cfg.Exchange.APIKey,
			Secret: cfg.Exchange.APISecret,
		},
	})

	var stream *transport.WSStream
	if cfg.Exchange.WSURL != "" {
		stream = transport.NewWSStream(transport.WSOptions{
			URL:    cfg.Exchange.WSURL,
			Topics: streamTopics(cfg.Pairs),
		})
		if err := stream.Start(ctx); err != nil {
			stdLogger.Fatalf("start market data stream: %v", err)
		}
		defer stream.Close()
	}

	pollInterval, err := cfg.PollInterval()
	if err != nil {
		stdLogger.Fatalf("resolve poll interval: %v", err)
	}

	opts := connector.Options{
		REST:               rest,
		Clock:              transport.NewSyncClock(nil),
		Logger:             logger,
		Journal:            journal,
		Metrics:            metrics,
		StatusPollInterval: pollInterval,
		EventBuffer:        cfg.EventBuffer,
	}
	if stream != nil {
		opts.Stream = stream
	}
	exchange := connector.New(opts)

	if err := exchange.CheckNetwork(ctx); err != nil {
		stdLogger.Fatalf("exchange unreachable: %v", err)
	}
	if err := exchange.Start(ctx); err != nil {
		stdLogger.Fatalf("start connector: %v", err)
	}

	go drainEvents(exchange, logger)

	stdLogger.Printf("connector started: pairs=%d", len(exchange.Pairs()))
	<-ctx.Done()
	stdLogger.Print("shutdown signal received, draining")
	exchange.Close()
	stdLogger.Print("connector stopped")
}

func pathLimits(limits map[string]float64) map[string]rate.Limit {
	out := make(map[string]rate.Limit, len(limits))
	for path, limit := range limits {
		out[path] = rate.Limit(limit)
	}
	return out
}

// streamTopics builds the subscribe topics for the configured pairs. Topic
// names pair the exchange channel with the BASE-QUOTE symbol the stream
// gateway expects.
func streamTopics(pairs []string) []string {
	topics := make([]string, 0, 2*len(pairs))
	for _, pair := range pairs {
		topics = append(topics,
			string(marketdata.ChannelDiff)+":"+pair,
			string(marketdata.ChannelTrade)+":"+pair)
	}
	return topics
}

func drainEvents(exchange *connector.Exchange, logger observability.Logger) {
	marketData := exchange.MarketData()
	orderUpdates := exchange.OrderUpdates()
	tradeUpdates := exchange.TradeUpdates()
	for marketData != nil || orderUpdates != nil || tradeUpdates != nil {
		select {
		case event, ok := <-marketData:
			if !ok {
				marketData = nil
				continue
			}
			logger.Debug("market data event",
				observability.F("kind", string(event.Kind)),
				observability.F("pair", string(event.Pair)))
		case update, ok := <-orderUpdates:
			if !ok {
				orderUpdates = nil
				continue
			}
			logger.Info("order update",
				observability.F("client_order_id", update.ClientOrderID),
				observability.F("state", string(update.NewState)))
		case trade, ok := <-tradeUpdates:
			if !ok {
				tradeUpdates = nil
				continue
			}
			logger.Info("trade",
				observability.F("trade_id", trade.TradeID),
				observability.F("pair", string(trade.Pair)))
		}
	}
}

package orders

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/openquant/gyconnect/internal/observability"
	"github.com/openquant/gyconnect/internal/schema"
)

// statusPollInterval caps reconciliation passes. The venue's order status
// endpoint is expensive, so one pass per interval covers every tracked order.
const statusPollInterval = 10 * time.Second

// StatusPoller periodically reconciles every tracked order and the balance
// snapshot against the venue. It is the recovery path for ambiguous
// placements and for updates the user stream missed.
type StatusPoller struct {
	manager *Manager
	logger  observability.Logger
	limiter *rate.Limiter
}

// NewStatusPoller builds a poller over manager. A non-positive interval uses
// the default.
func NewStatusPoller(manager *Manager, logger observability.Logger, interval time.Duration) *StatusPoller {
	if interval <= 0 {
		interval = statusPollInterval
	}
	if logger == nil {
		logger = observability.Log()
	}
	return &StatusPoller{
		manager: manager,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Run polls until ctx is cancelled. The first pass runs immediately.
func (p *StatusPoller) Run(ctx context.Context) error {
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}
		p.pollOnce(ctx)
	}
}

func (p *StatusPoller) pollOnce(ctx context.Context) {
	for _, order := range p.manager.TrackedOrders() {
		update, err := p.manager.RefreshStatus(ctx, order)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if IsOrderNotFoundOnStatus(err) {
				// The venue no longer knows the order; it never reached a
				// resting state we observed, so it is recorded as failed.
				p.manager.ApplyUpdate(schema.OrderUpdate{
					ClientOrderID:   order.ClientOrderID,
					ExchangeOrderID: order.ExchangeOrderID,
					Pair:            order.Pair,
					NewState:        schema.StateFailed,
					Timestamp:       p.manager.clock.Now(),
				})
				continue
			}
			p.logger.Error("order status poll failed",
				observability.F("client_order_id", order.ClientOrderID),
				observability.F("error", err))
			continue
		}
		p.manager.ApplyUpdate(update)
	}

	if err := p.manager.RefreshBalances(ctx); err != nil && ctx.Err() == nil {
		p.logger.Error("balance poll failed", observability.F("error", err))
	}
}

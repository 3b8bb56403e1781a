package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	apimetric "go.opentelemetry.io/otel/metric"
)

// Metrics holds the connector's instrument set. A zero value is unusable;
// build one with NewMetrics. All methods tolerate a nil receiver so
// instrumentation points need no guards.
type Metrics struct {
	ordersSubmitted     apimetric.Int64Counter
	ambiguousPlacements apimetric.Int64Counter
	ordersTerminal      apimetric.Int64Counter
	streamFailures      apimetric.Int64Counter
	mappingRebuilds     apimetric.Int64Counter
}

// NewMetrics registers the connector instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.GetMeterProvider().Meter("gyconnect")

	m := &Metrics{}
	var err error
	if m.ordersSubmitted, err = meter.Int64Counter("gyconnect.orders.submitted",
		apimetric.WithDescription("Orders accepted for tracking")); err != nil {
		return nil, fmt.Errorf("register orders.submitted: %w", err)
	}
	if m.ambiguousPlacements, err = meter.Int64Counter("gyconnect.orders.ambiguous_placements",
		apimetric.WithDescription("Placements kept alive after an overload response")); err != nil {
		return nil, fmt.Errorf("register orders.ambiguous_placements: %w", err)
	}
	if m.ordersTerminal, err = meter.Int64Counter("gyconnect.orders.terminal",
		apimetric.WithDescription("Orders that reached a terminal state")); err != nil {
		return nil, fmt.Errorf("register orders.terminal: %w", err)
	}
	if m.streamFailures, err = meter.Int64Counter("gyconnect.stream.failures",
		apimetric.WithDescription("User stream iterations that ended in an error")); err != nil {
		return nil, fmt.Errorf("register stream.failures: %w", err)
	}
	if m.mappingRebuilds, err = meter.Int64Counter("gyconnect.symbols.rebuilds",
		apimetric.WithDescription("Symbol mapping rebuilds from exchange metadata")); err != nil {
		return nil, fmt.Errorf("register symbols.rebuilds: %w", err)
	}
	return m, nil
}

func (m *Metrics) OrderSubmitted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ordersSubmitted.Add(ctx, 1)
}

func (m *Metrics) AmbiguousPlacement(ctx context.Context) {
	if m == nil {
		return
	}
	m.ambiguousPlacements.Add(ctx, 1)
}

func (m *Metrics) OrderTerminal(ctx context.Context) {
	if m == nil {
		return
	}
	m.ordersTerminal.Add(ctx, 1)
}

func (m *Metrics) StreamFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.streamFailures.Add(ctx, 1)
}

func (m *Metrics) MappingRebuild(ctx context.Context) {
	if m == nil {
		return
	}
	m.mappingRebuilds.Add(ctx, 1)
}

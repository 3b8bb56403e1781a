package marketdata

import (
	"context"

	"github.com/openquant/gyconnect/internal/observability"
	"github.com/openquant/gyconnect/internal/schema"
	"github.com/openquant/gyconnect/internal/transport"
)

// Router drains a raw frame stream, classifies each message, and emits
// normalized events. Control frames are dropped before conversion; a frame
// on a known channel is delivered exactly once.
type Router struct {
	adapter *Adapter
	logger  observability.Logger
}

// NewRouter constructs a stream router.
func NewRouter(adapter *Adapter, logger observability.Logger) *Router {
	if logger == nil {
		logger = observability.Log()
	}
	return &Router{adapter: adapter, logger: logger}
}

// Run routes frames until the context is cancelled or the stream closes.
// Conversion failures (including stale-mapping resolution errors) are logged
// and the frame is skipped; the loop itself only stops on cancellation.
func (r *Router) Run(ctx context.Context, stream transport.Stream, out chan<- schema.MarketDataEvent) error {
	frames := stream.Frames()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			event, deliver := r.convert(frame)
			if !deliver {
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- event:
			}
		}
	}
}

func (r *Router) convert(frame []byte) (schema.MarketDataEvent, bool) {
	switch r.adapter.Classify(frame) {
	case ChannelDiff:
		event, err := r.adapter.ToDiffEvent(frame)
		if err != nil {
			r.logger.Error("marketdata: diff conversion failed", observability.F("error", err))
			return schema.MarketDataEvent{}, false
		}
		return event, true
	case ChannelTrade:
		event, err := r.adapter.ToTradeEvent(frame)
		if err != nil {
			r.logger.Error("marketdata: trade conversion failed", observability.F("error", err))
			return schema.MarketDataEvent{}, false
		}
		return event, true
	default:
		return schema.MarketDataEvent{}, false
	}
}

// Package userstream runs the long-lived loop that fetches account-event
// payloads and feeds them into the order reconciliation pipeline.
package userstream

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/openquant/gyconnect/internal/observability"
	"github.com/openquant/gyconnect/internal/transport"
)

const streamPath = "/own/user-events"

// retryInterval is the fixed suspension applied after a failed fetch. The
// exchange stream is assumed to recover on its own schedule, so the loop
// retries forever rather than holding a retry budget.
const retryInterval = 5 * time.Second

// Sink receives each successfully fetched account-event payload.
type Sink interface {
	HandleUserEvent(ctx context.Context, payload []byte) error
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(ctx context.Context, payload []byte) error

// HandleUserEvent implements Sink.
func (f SinkFunc) HandleUserEvent(ctx context.Context, payload []byte) error {
	return f(ctx, payload)
}

// Listener polls the authenticated user-stream endpoint. Exactly one
// listener runs per connector instance; it is the sole writer of
// stream-derived order and trade updates.
type Listener struct {
	rest     transport.RESTClient
	sink     Sink
	logger   observability.Logger
	interval time.Duration
}

// NewListener constructs a user-stream listener delivering into sink.
func NewListener(rest transport.RESTClient, sink Sink, logger observability.Logger) *Listener {
	if logger == nil {
		logger = observability.Log()
	}
	return &Listener{rest: rest, sink: sink, logger: logger, interval: retryInterval}
}

// Listen runs until ctx is cancelled, which is the only exit: cancellation
// interrupts a pending backoff immediately and propagates outward. Every
// other failure (transport, authentication, malformed payload, sink error)
// is logged and retried after the fixed backoff interval.
func (l *Listener) Listen(ctx context.Context) error {
	policy := backoff.NewConstantBackOff(l.interval)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		payload, err := l.rest.Post(ctx, streamPath, nil, true)
		if err == nil {
			err = l.sink.HandleUserEvent(ctx, payload)
			if err == nil {
				// Deliver succeeded; poll again without delay.
				continue
			}
		}
		if isCancellation(ctx, err) {
			return ctx.Err()
		}

		l.logger.Error("userstream: fetch failed, backing off",
			observability.F("error", err),
			observability.F("backoff", l.interval))

		timer := time.NewTimer(policy.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

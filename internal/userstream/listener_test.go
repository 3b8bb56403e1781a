package userstream

import (
	"context"
	"errors"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

type scriptedREST struct {
	calls   atomic.Int64
	results []result
}

type result struct {
	body []byte
	err  error
}

func (s *scriptedREST) Post(ctx context.Context, _ string, _ any, _ bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := int(s.calls.Add(1)) - 1
	if n >= len(s.results) {
		n = len(s.results) - 1
	}
	r := s.results[n]
	return r.body, r.err
}

func (s *scriptedREST) Get(context.Context, string, url.Values, bool) ([]byte, error) {
	return nil, errors.New("unexpected GET")
}

func (s *scriptedREST) Delete(context.Context, string, any, bool) ([]byte, error) {
	return nil, errors.New("unexpected DELETE")
}

func TestListenDeliversPayloadsWithoutDelay(t *testing.T) {
	rest := &scriptedREST{results: []result{
		{body: []byte(`{"events":[1]}`)},
		{body: []byte(`{"events":[2]}`)},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	var delivered atomic.Int64
	sink := SinkFunc(func(_ context.Context, payload []byte) error {
		if len(payload) == 0 {
			t.Error("empty payload delivered")
		}
		if delivered.Add(1) == 2 {
			cancel()
		}
		return nil
	})

	listener := NewListener(rest, sink, nil)
	start := time.Now()
	err := listener.Listen(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Listen returned %v, want context.Canceled", err)
	}
	if delivered.Load() < 2 {
		t.Errorf("delivered %d payloads, want 2", delivered.Load())
	}
	// Successful fetches loop immediately; two deliveries must not take a
	// full backoff interval.
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("deliveries took %v", elapsed)
	}
}

func TestListenBacksOffOnFailure(t *testing.T) {
	rest := &scriptedREST{results: []result{
		{err: errors.New("status is 503 on /own/user-events")},
		{body: []byte(`{}`)},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	sink := SinkFunc(func(context.Context, []byte) error {
		cancel()
		return nil
	})

	listener := NewListener(rest, sink, nil)
	listener.interval = 20 * time.Millisecond

	start := time.Now()
	if err := listener.Listen(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Listen returned %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("expected at least one backoff interval, took %v", elapsed)
	}
}

func TestCancellationInterruptsBackoff(t *testing.T) {
	rest := &scriptedREST{results: []result{
		{err: errors.New("boom")},
	}}
	listener := NewListener(rest, SinkFunc(func(context.Context, []byte) error { return nil }), nil)
	listener.interval = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := listener.Listen(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Listen returned %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation did not interrupt backoff, took %v", elapsed)
	}
}

func TestSinkErrorTreatedAsOrdinaryFailure(t *testing.T) {
	rest := &scriptedREST{results: []result{
		{body: []byte(`{}`)},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	var attempts atomic.Int64
	sink := SinkFunc(func(context.Context, []byte) error {
		if attempts.Add(1) == 2 {
			cancel()
			return nil
		}
		return errors.New("reconciliation rejected payload")
	})

	listener := NewListener(rest, sink, nil)
	listener.interval = 10 * time.Millisecond

	if err := listener.Listen(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Listen returned %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("sink attempts = %d, want 2", attempts.Load())
	}
}

package orders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/openquant/gyconnect/errs"
	"github.com/openquant/gyconnect/internal/schema"
	"github.com/openquant/gyconnect/internal/transport"
)

func TestStatusPollerAppliesUpdates(t *testing.T) {
	var mu sync.Mutex
	statusCalls := 0
	rest := &scriptedREST{handler: func(method, path string) ([]byte, error) {
		if method == "POST" {
			return []byte(`{"transaction_id":"tx-1"}`), nil
		}
		if path == balancesPath {
			return []byte(`{"tADA":"5"}`), nil
		}
		mu.Lock()
		statusCalls++
		mu.Unlock()
		return []byte(`{"transaction_id":"tx-1","status":"OPEN"}`), nil
	}}

	updates := make(chan schema.OrderUpdate, 4)
	manager := NewManager(Options{
		REST:          rest,
		Mapper:        testMapper(t),
		OnOrderUpdate: func(update schema.OrderUpdate) { updates <- update },
	})
	if _, _, err := manager.Submit(context.Background(), testOrder()); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	poller := NewStatusPoller(manager, nil, 10*time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	select {
	case update := <-updates:
		if update.NewState != schema.StateOpen {
			t.Errorf("state = %s, want OPEN", update.NewState)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for poll-driven update")
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}

	if balance, ok := manager.Balance("tADA"); !ok || balance.Total.String() != "5" {
		t.Errorf("poller must refresh balances, got %+v ok=%v", balance, ok)
	}
	mu.Lock()
	if statusCalls == 0 {
		t.Error("no status calls recorded")
	}
	mu.Unlock()
}

func TestStatusPollerMarksVanishedOrderFailed(t *testing.T) {
	rest := &scriptedREST{handler: func(method, path string) ([]byte, error) {
		if method == "POST" {
			return []byte(`{"transaction_id":"tx-1"}`), nil
		}
		if path == balancesPath {
			return []byte(`{}`), nil
		}
		return nil, errs.New(transport.ExchangeName, errs.CodeNotFound,
			errs.WithHTTP(404),
			errs.WithMessage("status is 404 on /orders/tx-1"),
			errs.WithRawMessage(`{"code":-2013,"msg":"Order does not exist."}`))
	}}

	updates := make(chan schema.OrderUpdate, 4)
	manager := NewManager(Options{
		REST:          rest,
		Mapper:        testMapper(t),
		OnOrderUpdate: func(update schema.OrderUpdate) { updates <- update },
	})
	if _, _, err := manager.Submit(context.Background(), testOrder()); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller := NewStatusPoller(manager, nil, 10*time.Millisecond)
	go func() { _ = poller.Run(ctx) }()

	select {
	case update := <-updates:
		if update.NewState != schema.StateFailed {
			t.Errorf("state = %s, want FAILED", update.NewState)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure transition")
	}
	if _, ok := manager.Tracked("client-1"); ok {
		t.Error("failed order must leave tracking")
	}
}

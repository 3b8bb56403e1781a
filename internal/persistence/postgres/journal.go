// Package postgres persists the order lifecycle journal.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openquant/gyconnect/internal/schema"
)

const (
	orderInsertSQL = `
INSERT INTO orders (
    client_order_id,
    exchange_order_id,
    pair,
    side,
    order_type,
    amount,
    price,
    state,
    created_at,
    updated_at
)
VALUES (
    @client_order_id,
    @exchange_order_id,
    @pair,
    @side,
    @order_type,
    @amount,
    @price,
    @state,
    @created_at,
    @updated_at
)
ON CONFLICT (client_order_id) DO NOTHING;
`

	orderUpdateSQL = `
UPDATE orders
SET state = @state,
    exchange_order_id = @exchange_order_id,
    updated_at = @updated_at
WHERE client_order_id = @client_order_id;
`

	orderEventInsertSQL = `
INSERT INTO order_events (
    client_order_id,
    exchange_order_id,
    state,
    event_time
)
VALUES (
    @client_order_id,
    @exchange_order_id,
    @state,
    @event_time
);
`
)

// Journal records tracked-order lifecycle rows and update events. It
// implements the order manager's journal contract.
type Journal struct {
	pool *pgxpool.Pool
}

// NewJournal constructs a Journal backed by the provided pool.
func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

// Connect opens a pool for dsn and wraps it in a Journal.
func Connect(ctx context.Context, dsn string) (*Journal, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("order journal: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("order journal: ping: %w", err)
	}
	return &Journal{pool: pool}, nil
}

// Close releases the underlying pool.
func (j *Journal) Close() {
	if j.pool != nil {
		j.pool.Close()
	}
}

// RecordSubmitted inserts the initial lifecycle row for order. Replayed
// submissions are ignored.
func (j *Journal) RecordSubmitted(ctx context.Context, order schema.TrackedOrder) error {
	args := pgx.NamedArgs{
		"client_order_id":   order.ClientOrderID,
		"exchange_order_id": order.ExchangeOrderID,
		"pair":              string(order.Pair),
		"side":              string(order.Side),
		"order_type":        string(order.Type),
		"amount":            order.Amount,
		"price":             order.Price,
		"state":             string(order.State),
		"created_at":        order.CreatedAt,
		"updated_at":        order.UpdatedAt,
	}
	if _, err := j.pool.Exec(ctx, orderInsertSQL, args); err != nil {
		return fmt.Errorf("order journal: insert order: %w", err)
	}
	return nil
}

// RecordUpdate appends an event row and advances the order's journaled state.
func (j *Journal) RecordUpdate(ctx context.Context, update schema.OrderUpdate) error {
	eventArgs := pgx.NamedArgs{
		"client_order_id":   update.ClientOrderID,
		"exchange_order_id": update.ExchangeOrderID,
		"state":             string(update.NewState),
		"event_time":        update.Timestamp,
	}
	if _, err := j.pool.Exec(ctx, orderEventInsertSQL, eventArgs); err != nil {
		return fmt.Errorf("order journal: insert event: %w", err)
	}

	updateArgs := pgx.NamedArgs{
		"client_order_id":   update.ClientOrderID,
		"exchange_order_id": update.ExchangeOrderID,
		"state":             string(update.NewState),
		"updated_at":        update.Timestamp,
	}
	if _, err := j.pool.Exec(ctx, orderUpdateSQL, updateArgs); err != nil {
		return fmt.Errorf("order journal: update order: %w", err)
	}
	return nil
}

// States returns the journaled event states for clientOrderID in insertion
// order. Used by reconciliation tooling and tests.
func (j *Journal) States(ctx context.Context, clientOrderID string) ([]schema.OrderState, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT state FROM order_events WHERE client_order_id = $1 ORDER BY id`,
		clientOrderID)
	if err != nil {
		return nil, fmt.Errorf("order journal: query events: %w", err)
	}
	defer rows.Close()

	var states []schema.OrderState
	for rows.Next() {
		var state string
		if err := rows.Scan(&state); err != nil {
			return nil, fmt.Errorf("order journal: scan event: %w", err)
		}
		states = append(states, schema.OrderState(state))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order journal: iterate events: %w", err)
	}
	return states, nil
}

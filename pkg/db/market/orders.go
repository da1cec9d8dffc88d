package market

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
)

// initOrders creates the orders table. Orders are never hard-deleted, the
// status column carries the lifecycle instead. Indexes support the
// "best candidate for token set + side + status" aggregate queries.
func (db *DB) initOrders(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL DEFAULT '',
			side TEXT NOT NULL,
			maker TEXT NOT NULL DEFAULT '',
			taker TEXT NOT NULL DEFAULT '',
			contract TEXT NOT NULL DEFAULT '',
			token_id TEXT NOT NULL DEFAULT '',
			token_set_id TEXT NOT NULL DEFAULT '',
			price NUMERIC(78, 0) NOT NULL DEFAULT 0,
			value NUMERIC(78, 0) NOT NULL DEFAULT 0,
			normalized_value NUMERIC(78, 0) NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT '',
			quantity_remaining NUMERIC(78, 0) NOT NULL DEFAULT 1,
			quantity_filled NUMERIC(78, 0) NOT NULL DEFAULT 0,
			fillability_status TEXT NOT NULL DEFAULT 'fillable',
			approval_status TEXT NOT NULL DEFAULT 'approved',
			valid_from TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			valid_until TIMESTAMP WITH TIME ZONE,
			source TEXT NOT NULL DEFAULT '',
			raw_data JSONB,
			last_event_time TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT 'epoch',
			last_event_dedup TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_orders_token_set ON orders(token_set_id, side, fillability_status);
		CREATE INDEX IF NOT EXISTS idx_orders_maker ON orders(maker, side, fillability_status);
		CREATE INDEX IF NOT EXISTS idx_orders_expiry ON orders(valid_until)
			WHERE fillability_status IN ('fillable', 'no-balance');
	`

	return db.Exec(ctx, query)
}

// initOrderStatusEvents creates the audit table appended on every status
// transition. The API layer builds its asks/bids feeds from these rows.
func (db *DB) initOrderStatusEvents(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS order_status_events (
			id BIGSERIAL PRIMARY KEY,
			order_id TEXT NOT NULL,
			status TEXT NOT NULL,
			prev_status TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			tx_hash TEXT NOT NULL DEFAULT '',
			log_index BIGINT NOT NULL DEFAULT 0,
			batch_index BIGINT NOT NULL DEFAULT 0,
			event_time TIMESTAMP WITH TIME ZONE NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_order_status_events_order ON order_status_events(order_id, created_at);
	`

	return db.Exec(ctx, query)
}

const orderColumns = `
	id, kind, side, maker, taker, contract, token_id, token_set_id,
	price::text, value::text, normalized_value::text, currency,
	quantity_remaining::text, quantity_filled::text,
	fillability_status, approval_status, valid_from, valid_until,
	source, COALESCE(raw_data::text, ''), last_event_time, last_event_dedup,
	created_at, updated_at
`

// GetOrder fetches one order by id. Returns pgx.ErrNoRows when absent.
func (db *DB) GetOrder(ctx context.Context, id string) (*marketmodels.Order, error) {
	return db.getOrder(ctx, id, false)
}

// GetOrderForUpdate fetches one order and takes a row lock. Callers run
// inside a transaction so concurrent transitions on the same order serialize
// at the row instead of racing.
func (db *DB) GetOrderForUpdate(ctx context.Context, id string) (*marketmodels.Order, error) {
	return db.getOrder(ctx, id, true)
}

func (db *DB) getOrder(ctx context.Context, id string, forUpdate bool) (*marketmodels.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	rows, err := db.GetExecutor(ctx).Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, pgx.ErrNoRows
	}
	return orders[0], nil
}

// InsertOrder writes a new order row. A conflicting id is a no-op so the
// placeholder-materialization path and the real creation event can race
// safely in either order.
func (db *DB) InsertOrder(ctx context.Context, o *marketmodels.Order) (bool, error) {
	query := `
		INSERT INTO orders (
			id, kind, side, maker, taker, contract, token_id, token_set_id,
			price, value, normalized_value, currency,
			quantity_remaining, quantity_filled,
			fillability_status, approval_status, valid_from, valid_until,
			source, raw_data, last_event_time, last_event_dedup
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9::numeric, $10::numeric, $11::numeric, $12,
			$13::numeric, $14::numeric,
			$15, $16, $17, $18,
			$19, NULLIF($20, '')::jsonb, $21, $22
		)
		ON CONFLICT (id) DO NOTHING
	`

	tag, err := db.GetExecutor(ctx).Exec(ctx, query,
		o.ID, o.Kind, o.Side, o.Maker, o.Taker, o.Contract, o.TokenID, o.TokenSetID,
		o.Price.String(), o.Value.String(), o.NormalizedValue.String(), o.Currency,
		o.QuantityRemaining.String(), o.QuantityFilled.String(),
		o.FillabilityStatus, o.ApprovalStatus, o.ValidFrom, o.ValidUntil,
		o.Source, o.RawData, o.LastEventTime, o.LastEventDedup,
	)
	if err != nil {
		return false, fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateOrderState persists the outcome of a status transition: status,
// quantities and the logical clock of the event that set them.
func (db *DB) UpdateOrderState(ctx context.Context, o *marketmodels.Order) error {
	query := `
		UPDATE orders SET
			fillability_status = $2,
			approval_status = $3,
			quantity_remaining = $4::numeric,
			quantity_filled = $5::numeric,
			last_event_time = $6,
			last_event_dedup = $7,
			updated_at = now()
		WHERE id = $1
	`

	_, err := db.GetExecutor(ctx).Exec(ctx, query,
		o.ID, o.FillabilityStatus, o.ApprovalStatus,
		o.QuantityRemaining.String(), o.QuantityFilled.String(),
		o.LastEventTime, o.LastEventDedup,
	)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}
	return nil
}

// InsertStatusEvent appends one audit row for a status transition.
func (db *DB) InsertStatusEvent(ctx context.Context, se *marketmodels.StatusEvent) error {
	query := `
		INSERT INTO order_status_events (
			order_id, status, prev_status, kind, tx_hash, log_index, batch_index, event_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := db.GetExecutor(ctx).Exec(ctx, query,
		se.OrderID, se.Status, se.PrevStatus, se.Kind,
		se.TxHash, se.LogIndex, se.BatchIndex, se.EventTime,
	)
	if err != nil {
		return fmt.Errorf("insert status event for order %s: %w", se.OrderID, err)
	}
	return nil
}

// ExpiredOrder pairs the updated row with the status it held before the
// sweep flipped it.
type ExpiredOrder struct {
	*marketmodels.Order
	PrevStatus marketmodels.FillabilityStatus
}

// ExpireOrders flips orders whose validity window has closed to expired and
// returns the affected rows so the caller can fan out cache recomputes.
// Clock-driven expiry catches orders that simply run out of time with no
// further on-chain events. The overdue CTE snapshots the prior status
// before the UPDATE overwrites it.
func (db *DB) ExpireOrders(ctx context.Context, now time.Time, limit int) ([]*ExpiredOrder, error) {
	query := `
		WITH overdue AS (
			SELECT id AS overdue_id, fillability_status AS prev_status
			FROM orders
			WHERE fillability_status IN ('fillable', 'no-balance')
			  AND valid_until IS NOT NULL
			  AND valid_until < $1
			ORDER BY valid_until
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE orders SET
			fillability_status = 'expired',
			last_event_time = valid_until,
			updated_at = now()
		FROM overdue
		WHERE id = overdue_id
		RETURNING ` + orderColumns + `, prev_status
	`

	rows, err := db.GetExecutor(ctx).Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("expire orders: %w", err)
	}
	defer rows.Close()

	var expired []*ExpiredOrder
	for rows.Next() {
		var o marketmodels.Order
		var prev marketmodels.FillabilityStatus
		var price, value, normValue, qtyRemaining, qtyFilled string
		if err := rows.Scan(
			&o.ID, &o.Kind, &o.Side, &o.Maker, &o.Taker, &o.Contract, &o.TokenID, &o.TokenSetID,
			&price, &value, &normValue, &o.Currency,
			&qtyRemaining, &qtyFilled,
			&o.FillabilityStatus, &o.ApprovalStatus, &o.ValidFrom, &o.ValidUntil,
			&o.Source, &o.RawData, &o.LastEventTime, &o.LastEventDedup,
			&o.CreatedAt, &o.UpdatedAt,
			&prev,
		); err != nil {
			return nil, fmt.Errorf("scan expired order: %w", err)
		}
		if err := parseOrderDecimals(&o, price, value, normValue, qtyRemaining, qtyFilled); err != nil {
			return nil, err
		}
		expired = append(expired, &ExpiredOrder{Order: &o, PrevStatus: prev})
	}
	return expired, rows.Err()
}

// ListEventsForOrder returns the stored events referencing an order, oldest
// first by logical clock. Reorg repair replays these to re-derive the order's
// status from the surviving truth.
func (db *DB) ListEventsForOrder(ctx context.Context, orderID string) ([]*marketmodels.Event, error) {
	query := `
		SELECT tx_hash, log_index, batch_index, kind, order_id, contract, token_id,
		       maker, taker, from_address, to_address,
		       price::text, value::text, normalized_value::text, currency, quantity::text,
		       block_number, block_hash, event_time, COALESCE(raw_data::text, ''), created_at
		FROM market_events
		WHERE order_id = $1
		ORDER BY event_time, tx_hash, log_index, batch_index
	`

	rows, err := db.GetExecutor(ctx).Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list events for order %s: %w", orderID, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanOrders(rows pgx.Rows) ([]*marketmodels.Order, error) {
	var orders []*marketmodels.Order
	for rows.Next() {
		var o marketmodels.Order
		var price, value, normValue, qtyRemaining, qtyFilled string
		if err := rows.Scan(
			&o.ID, &o.Kind, &o.Side, &o.Maker, &o.Taker, &o.Contract, &o.TokenID, &o.TokenSetID,
			&price, &value, &normValue, &o.Currency,
			&qtyRemaining, &qtyFilled,
			&o.FillabilityStatus, &o.ApprovalStatus, &o.ValidFrom, &o.ValidUntil,
			&o.Source, &o.RawData, &o.LastEventTime, &o.LastEventDedup,
			&o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}

		if err := parseOrderDecimals(&o, price, value, normValue, qtyRemaining, qtyFilled); err != nil {
			return nil, err
		}

		orders = append(orders, &o)
	}

	return orders, rows.Err()
}

func parseOrderDecimals(o *marketmodels.Order, price, value, normValue, qtyRemaining, qtyFilled string) error {
	var err error
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return fmt.Errorf("parse order price: %w", err)
	}
	if o.Value, err = decimal.NewFromString(value); err != nil {
		return fmt.Errorf("parse order value: %w", err)
	}
	if o.NormalizedValue, err = decimal.NewFromString(normValue); err != nil {
		return fmt.Errorf("parse order normalized value: %w", err)
	}
	if o.QuantityRemaining, err = decimal.NewFromString(qtyRemaining); err != nil {
		return fmt.Errorf("parse order quantity remaining: %w", err)
	}
	if o.QuantityFilled, err = decimal.NewFromString(qtyFilled); err != nil {
		return fmt.Errorf("parse order quantity filled: %w", err)
	}
	return nil
}

package market

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
)

// initEvents creates the canonical events table. The composite primary key is
// the global dedup key; block_hash is indexed for reorg deletes.
func (db *DB) initEvents(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS market_events (
			tx_hash TEXT NOT NULL,
			log_index BIGINT NOT NULL,
			batch_index BIGINT NOT NULL,
			kind TEXT NOT NULL,
			order_id TEXT DEFAULT '',
			contract TEXT DEFAULT '',
			token_id TEXT DEFAULT '',
			maker TEXT DEFAULT '',
			taker TEXT DEFAULT '',
			from_address TEXT DEFAULT '',
			to_address TEXT DEFAULT '',
			price NUMERIC(78, 0) NOT NULL DEFAULT 0,
			value NUMERIC(78, 0) NOT NULL DEFAULT 0,
			normalized_value NUMERIC(78, 0) NOT NULL DEFAULT 0,
			currency TEXT DEFAULT '',
			quantity NUMERIC(78, 0) NOT NULL DEFAULT 1,
			block_number BIGINT NOT NULL DEFAULT 0,
			block_hash TEXT DEFAULT '',
			event_time TIMESTAMP WITH TIME ZONE NOT NULL,
			raw_data JSONB,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			PRIMARY KEY (tx_hash, log_index, batch_index)
		);

		CREATE INDEX IF NOT EXISTS idx_market_events_block_hash ON market_events(block_hash);
		CREATE INDEX IF NOT EXISTS idx_market_events_order ON market_events(order_id);
		CREATE INDEX IF NOT EXISTS idx_market_events_cursor ON market_events(created_at, tx_hash, log_index, batch_index);
	`

	return db.Exec(ctx, query)
}

const insertEventQuery = `
	INSERT INTO market_events (
		tx_hash, log_index, batch_index, kind, order_id, contract, token_id,
		maker, taker, from_address, to_address,
		price, value, normalized_value, currency, quantity,
		block_number, block_hash, event_time, raw_data
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		$12::numeric, $13::numeric, $14::numeric, $15, $16::numeric,
		$17, $18, $19, NULLIF($20, '')::jsonb
	)
	ON CONFLICT (tx_hash, log_index, batch_index) DO NOTHING
`

// InsertEvents stores a batch of canonical events. The insert is idempotent:
// a dedup-key conflict is a no-op and never an overwrite. The returned slice
// has one flag per input event, true when the row was newly inserted, so
// callers skip downstream triggers for already-known events.
func (db *DB) InsertEvents(ctx context.Context, events []*marketmodels.Event) ([]bool, error) {
	if len(events) == 0 {
		return nil, nil
	}

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(insertEventQuery,
			e.TxHash, e.LogIndex, e.BatchIndex, e.Kind, e.OrderID, e.Contract, e.TokenID,
			e.Maker, e.Taker, e.From, e.To,
			e.Price.String(), e.Value.String(), e.NormalizedValue.String(), e.Currency, e.Quantity.String(),
			e.BlockNumber, e.BlockHash, e.Timestamp, e.RawData,
		)
	}

	br := db.GetExecutor(ctx).SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()

	inserted := make([]bool, len(events))
	for i := range events {
		tag, err := br.Exec()
		if err != nil {
			return nil, fmt.Errorf("insert event %s: %w", events[i].DedupKey(), err)
		}
		inserted[i] = tag.RowsAffected() > 0
	}

	return inserted, nil
}

// DeleteEventsForBlock removes every event tagged with a now-orphaned block
// hash and returns the removed rows so the caller can fan out derived-state
// repairs. The delete itself never attempts an undo.
func (db *DB) DeleteEventsForBlock(ctx context.Context, blockHash string) ([]*marketmodels.Event, error) {
	query := `
		DELETE FROM market_events
		WHERE block_hash = $1
		RETURNING tx_hash, log_index, batch_index, kind, order_id, contract, token_id,
		          maker, taker, from_address, to_address,
		          price::text, value::text, normalized_value::text, currency, quantity::text,
		          block_number, block_hash, event_time, COALESCE(raw_data::text, ''), created_at
	`

	rows, err := db.GetExecutor(ctx).Query(ctx, query, blockHash)
	if err != nil {
		return nil, fmt.Errorf("delete events for block %s: %w", blockHash, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListEventsAfter pages through the event store in the stable
// (created_at, tx_hash, log_index, batch_index) order for backfill scans.
// A nil position starts from the beginning.
func (db *DB) ListEventsAfter(ctx context.Context, pos *marketmodels.BackfillPosition, limit int) ([]*marketmodels.Event, error) {
	query := `
		SELECT tx_hash, log_index, batch_index, kind, order_id, contract, token_id,
		       maker, taker, from_address, to_address,
		       price::text, value::text, normalized_value::text, currency, quantity::text,
		       block_number, block_hash, event_time, COALESCE(raw_data::text, ''), created_at
		FROM market_events
		WHERE ($1::timestamptz IS NULL
		       OR (created_at, tx_hash, log_index, batch_index) > ($1, $2, $3, $4))
		ORDER BY created_at, tx_hash, log_index, batch_index
		LIMIT $5
	`

	var args []any
	if pos == nil {
		args = []any{nil, "", int64(0), int64(0), limit}
	} else {
		args = []any{pos.CreatedAt, pos.TxHash, pos.LogIndex, pos.BatchIndex, limit}
	}

	rows, err := db.GetExecutor(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// HasEventsForOrder reports whether any stored event still references the
// order. Used by reorg repair to decide if an order lost its sole support.
func (db *DB) HasEventsForOrder(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := db.GetExecutor(ctx).
		QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM market_events WHERE order_id = $1)`, orderID).
		Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check events for order %s: %w", orderID, err)
	}
	return exists, nil
}

func scanEvents(rows pgx.Rows) ([]*marketmodels.Event, error) {
	var events []*marketmodels.Event
	for rows.Next() {
		var e marketmodels.Event
		var price, value, normValue, quantity string
		if err := rows.Scan(
			&e.TxHash, &e.LogIndex, &e.BatchIndex, &e.Kind, &e.OrderID, &e.Contract, &e.TokenID,
			&e.Maker, &e.Taker, &e.From, &e.To,
			&price, &value, &normValue, &e.Currency, &quantity,
			&e.BlockNumber, &e.BlockHash, &e.Timestamp, &e.RawData, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		var err error
		if e.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse event price: %w", err)
		}
		if e.Value, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("parse event value: %w", err)
		}
		if e.NormalizedValue, err = decimal.NewFromString(normValue); err != nil {
			return nil, fmt.Errorf("parse event normalized value: %w", err)
		}
		if e.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("parse event quantity: %w", err)
		}

		events = append(events, &e)
	}

	return events, rows.Err()
}

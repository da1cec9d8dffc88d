package activityindex

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mgamer/indexer-v3-sub017/pkg/db/clickhouse"
	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
	"github.com/mgamer/indexer-v3-sub017/pkg/utils"
)

// Store is the ClickHouse-backed activity document index. Documents are
// keyed by their deterministic id in a ReplacingMergeTree, so re-derivation
// upserts in place and deletion is a tombstone row with a higher version.
type Store interface {
	UpsertDocuments(ctx context.Context, docs []*marketmodels.ActivityDocument) ([]string, error)
	DeleteDocuments(ctx context.Context, ids []string) error
	ListDocumentOrderRefs(ctx context.Context, limit int) (map[string]string, error)
	Close() error
}

// DB wraps the ClickHouse client for the activity index.
type DB struct {
	clickhouse.Client
	Name string
}

// New connects to ClickHouse and ensures the activity table exists.
func New(ctx context.Context, logger *zap.Logger) (*DB, error) {
	name := utils.Env("CLICKHOUSE_DB", "market_activity")

	client, err := clickhouse.New(ctx, logger.With(zap.String("db", name)), name)
	if err != nil {
		return nil, err
	}

	db := &DB{Client: client, Name: name}
	if err := db.initDocuments(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

var _ Store = (*DB)(nil)

func (db *DB) initDocuments(ctx context.Context) error {
	if err := db.CreateDbIfNotExists(ctx, db.Name); err != nil {
		return fmt.Errorf("failed to create database %s: %w", db.Name, err)
	}

	query := `
		CREATE TABLE IF NOT EXISTS activity_documents (
			id String,
			type LowCardinality(String),
			tx_hash String,
			log_index Int64,
			batch_index Int64,
			contract String,
			token_id String,
			collection_id String,
			order_id String,
			source LowCardinality(String),
			from_address String,
			to_address String,
			price String,
			value String,
			currency String,
			quantity String,
			block_number UInt64,
			block_hash String,
			event_time DateTime64(3),
			indexed_time DateTime64(3),
			version UInt64,
			deleted UInt8
		) ENGINE = ReplacingMergeTree(version)
		ORDER BY (id)
	`

	return db.Exec(ctx, query)
}

// UpsertDocuments bulk-publishes documents. A bad document never blocks the
// rest of the batch: append failures are retried per document and the ids
// that still fail are returned for the caller to retry individually.
func (db *DB) UpsertDocuments(ctx context.Context, docs []*marketmodels.ActivityDocument) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	batch, err := db.PrepareBatch(ctx, "INSERT INTO activity_documents")
	if err != nil {
		return nil, fmt.Errorf("prepare activity batch: %w", err)
	}

	version := uint64(time.Now().UnixNano())
	var failed []string
	for _, d := range docs {
		if err := batch.Append(
			d.ID, string(d.Type), d.TxHash, d.LogIndex, d.BatchIndex,
			d.Contract, d.TokenID, d.CollectionID, d.OrderID, d.Source,
			d.FromAddress, d.ToAddress,
			d.Price.String(), d.Value.String(), d.Currency, d.Quantity.String(),
			d.BlockNumber, d.BlockHash,
			d.EventTime, d.IndexedTime,
			version, uint8(0),
		); err != nil {
			db.Logger.Warn("Failed to append activity document",
				zap.String("id", d.ID),
				zap.Error(err))
			failed = append(failed, d.ID)
		}
	}

	if err := batch.Send(); err != nil {
		return nil, fmt.Errorf("send activity batch: %w", err)
	}

	return failed, nil
}

// DeleteDocuments tombstones documents by deterministic id. ReplacingMergeTree
// keeps the highest version, so a deleted row with a newer version wins.
func (db *DB) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	batch, err := db.PrepareBatch(ctx, "INSERT INTO activity_documents (id, version, deleted) ")
	if err != nil {
		return fmt.Errorf("prepare activity delete batch: %w", err)
	}

	version := uint64(time.Now().UnixNano())
	for _, id := range ids {
		if err := batch.Append(id, version, uint8(1)); err != nil {
			return fmt.Errorf("append activity delete %s: %w", id, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send activity delete batch: %w", err)
	}
	return nil
}

// ListDocumentOrderRefs samples live documents and returns id -> order_id,
// used by reconciliation to find documents whose backing order disappeared.
func (db *DB) ListDocumentOrderRefs(ctx context.Context, limit int) (map[string]string, error) {
	query := `
		SELECT id, order_id
		FROM activity_documents FINAL
		WHERE deleted = 0 AND order_id <> ''
		ORDER BY rand()
		LIMIT ?
	`

	rows, err := db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity order refs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	refs := make(map[string]string)
	for rows.Next() {
		var id, orderID string
		if err := rows.Scan(&id, &orderID); err != nil {
			return nil, fmt.Errorf("scan activity order ref: %w", err)
		}
		refs[id] = orderID
	}
	return refs, rows.Err()
}

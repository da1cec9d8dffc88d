package market

import (
	"context"
	"fmt"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
)

// initCollections creates the collections table with rolled-up caches.
func (db *DB) initCollections(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS collections (
			id TEXT PRIMARY KEY,
			contract TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			floor_ask_id TEXT,
			floor_ask_value NUMERIC(78, 0),
			floor_ask_maker TEXT,
			non_flagged_floor_ask_id TEXT,
			non_flagged_floor_ask_value NUMERIC(78, 0),
			top_bid_id TEXT,
			top_bid_value NUMERIC(78, 0),
			top_bid_maker TEXT,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_collections_contract ON collections(contract);
	`

	return db.Exec(ctx, query)
}

// EnsureCollection creates the collection row if absent.
func (db *DB) EnsureCollection(ctx context.Context, id, contract string) error {
	query := `
		INSERT INTO collections (id, contract)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`

	if _, err := db.GetExecutor(ctx).Exec(ctx, query, id, contract); err != nil {
		return fmt.Errorf("ensure collection %s: %w", id, err)
	}
	return nil
}

// collectionFloorCandidateSQL picks the best fillable sell order across the
// collection's tokens. $2 toggles the flagged-token exclusion: when true,
// flagged tokens cannot carry the floor.
const collectionFloorCandidateSQL = `
	SELECT o.id, o.value, o.maker
	FROM orders o
	JOIN token_set_tokens tst ON tst.token_set_id = o.token_set_id
	JOIN tokens t ON t.contract = tst.contract AND t.token_id = tst.token_id
	WHERE t.collection_id = $1
	  AND ($2::boolean IS FALSE OR NOT t.is_flagged)
	  AND o.side = 'sell'
	  AND o.fillability_status = 'fillable'
	  AND o.approval_status = 'approved'
	  AND (o.taker = '' OR o.taker = '` + marketmodels.ZeroAddress + `')
	ORDER BY o.value, o.created_at, o.id
	LIMIT 1
`

// collectionTopBidCandidateSQL picks the best fillable buy order across the
// collection's tokens, excluding per-token self-trades.
const collectionTopBidCandidateSQL = `
	SELECT o.id, o.value, o.maker
	FROM orders o
	JOIN token_set_tokens tst ON tst.token_set_id = o.token_set_id
	JOIN tokens t ON t.contract = tst.contract AND t.token_id = tst.token_id
	WHERE t.collection_id = $1
	  AND o.side = 'buy'
	  AND o.fillability_status = 'fillable'
	  AND o.approval_status = 'approved'
	  AND NOT EXISTS (
		SELECT 1 FROM nft_balances nb
		WHERE nb.contract = tst.contract AND nb.token_id = tst.token_id
		  AND nb.owner = o.maker AND nb.amount > 0
	  )
	ORDER BY o.value DESC, o.created_at, o.id
	LIMIT 1
`

// UpdateCollectionFloorAsk recomputes both the headline floor and the
// non-flagged floor with one statement each, writing only on change.
func (db *DB) UpdateCollectionFloorAsk(ctx context.Context, collectionID string) (bool, error) {
	allQuery := `
		WITH y AS (
			SELECT $1::text AS id, w.id AS order_id, w.value, w.maker
			FROM (SELECT 1) x
			LEFT JOIN LATERAL (` + collectionFloorCandidateSQL + `) w ON TRUE
		)
		UPDATE collections SET
			floor_ask_id = y.order_id,
			floor_ask_value = y.value,
			floor_ask_maker = y.maker,
			updated_at = now()
		FROM y
		WHERE collections.id = y.id
		  AND (collections.floor_ask_id IS DISTINCT FROM y.order_id
		       OR collections.floor_ask_value IS DISTINCT FROM y.value)
	`

	tag, err := db.GetExecutor(ctx).Exec(ctx, allQuery, collectionID, false)
	if err != nil {
		return false, fmt.Errorf("update collection floor ask %s: %w", collectionID, err)
	}
	changed := tag.RowsAffected() > 0

	nonFlaggedQuery := `
		WITH y AS (
			SELECT $1::text AS id, w.id AS order_id, w.value
			FROM (SELECT 1) x
			LEFT JOIN LATERAL (` + collectionFloorCandidateSQL + `) w ON TRUE
		)
		UPDATE collections SET
			non_flagged_floor_ask_id = y.order_id,
			non_flagged_floor_ask_value = y.value,
			updated_at = now()
		FROM y
		WHERE collections.id = y.id
		  AND (collections.non_flagged_floor_ask_id IS DISTINCT FROM y.order_id
		       OR collections.non_flagged_floor_ask_value IS DISTINCT FROM y.value)
	`

	tag, err = db.GetExecutor(ctx).Exec(ctx, nonFlaggedQuery, collectionID, true)
	if err != nil {
		return false, fmt.Errorf("update collection non-flagged floor ask %s: %w", collectionID, err)
	}
	return changed || tag.RowsAffected() > 0, nil
}

// UpdateCollectionTopBid recomputes the collection's top-bid cache.
func (db *DB) UpdateCollectionTopBid(ctx context.Context, collectionID string) (bool, error) {
	query := `
		WITH y AS (
			SELECT $1::text AS id, w.id AS order_id, w.value, w.maker
			FROM (SELECT 1) x
			LEFT JOIN LATERAL (` + collectionTopBidCandidateSQL + `) w ON TRUE
		)
		UPDATE collections SET
			top_bid_id = y.order_id,
			top_bid_value = y.value,
			top_bid_maker = y.maker,
			updated_at = now()
		FROM y
		WHERE collections.id = y.id
		  AND (collections.top_bid_id IS DISTINCT FROM y.order_id
		       OR collections.top_bid_value IS DISTINCT FROM y.value)
	`

	tag, err := db.GetExecutor(ctx).Exec(ctx, query, collectionID)
	if err != nil {
		return false, fmt.Errorf("update collection top bid %s: %w", collectionID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ComputeCollectionFloorAsk runs the authoritative collection floor query
// without touching the cache.
func (db *DB) ComputeCollectionFloorAsk(ctx context.Context, collectionID string) (*Candidate, error) {
	query := `
		SELECT w.id, w.value::text, NULL::text, w.maker, NULL::timestamptz
		FROM (` + collectionFloorCandidateSQL + `) w
	`
	return db.queryCandidateRow(ctx, query, collectionID, false)
}

// ComputeCollectionTopBid runs the authoritative collection top-bid query
// without touching the cache.
func (db *DB) ComputeCollectionTopBid(ctx context.Context, collectionID string) (*Candidate, error) {
	query := `
		SELECT w.id, w.value::text, NULL::text, w.maker, NULL::timestamptz
		FROM (` + collectionTopBidCandidateSQL + `) w
	`
	return db.queryCandidateRow(ctx, query, collectionID)
}

// GetCollection fetches the collection row with its caches.
func (db *DB) GetCollection(ctx context.Context, id string) (*marketmodels.Collection, error) {
	query := `
		SELECT id, contract, name,
		       floor_ask_id, floor_ask_value::text, floor_ask_maker,
		       non_flagged_floor_ask_id, non_flagged_floor_ask_value::text,
		       top_bid_id, top_bid_value::text, top_bid_maker,
		       created_at, updated_at
		FROM collections
		WHERE id = $1
	`

	var c marketmodels.Collection
	var floorValue, nonFlaggedValue, topBidValue *string
	err := db.GetExecutor(ctx).QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Contract, &c.Name,
		&c.FloorAskID, &floorValue, &c.FloorAskMaker,
		&c.NonFlaggedFloorAskID, &nonFlaggedValue,
		&c.TopBidID, &topBidValue, &c.TopBidMaker,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get collection %s: %w", id, err)
	}

	if c.FloorAskValue, err = parseOptionalDecimal(floorValue); err != nil {
		return nil, err
	}
	if c.NonFlaggedFloorAskValue, err = parseOptionalDecimal(nonFlaggedValue); err != nil {
		return nil, err
	}
	if c.TopBidValue, err = parseOptionalDecimal(topBidValue); err != nil {
		return nil, err
	}

	return &c, nil
}

// SampleCollections returns n random collections for the reconciliation
// sweep, cache columns included so the checker compares against what the
// row actually holds.
func (db *DB) SampleCollections(ctx context.Context, n int) ([]*marketmodels.Collection, error) {
	query := `
		SELECT id, contract,
		       floor_ask_id, floor_ask_value::text,
		       non_flagged_floor_ask_id, non_flagged_floor_ask_value::text,
		       top_bid_id, top_bid_value::text
		FROM collections
		ORDER BY random()
		LIMIT $1
	`

	rows, err := db.GetExecutor(ctx).Query(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("sample collections: %w", err)
	}
	defer rows.Close()

	var collections []*marketmodels.Collection
	for rows.Next() {
		var c marketmodels.Collection
		var floorValue, nonFlaggedValue, topBidValue *string
		err := rows.Scan(&c.ID, &c.Contract,
			&c.FloorAskID, &floorValue,
			&c.NonFlaggedFloorAskID, &nonFlaggedValue,
			&c.TopBidID, &topBidValue)
		if err != nil {
			return nil, fmt.Errorf("scan sampled collection: %w", err)
		}
		if c.FloorAskValue, err = parseOptionalDecimal(floorValue); err != nil {
			return nil, err
		}
		if c.NonFlaggedFloorAskValue, err = parseOptionalDecimal(nonFlaggedValue); err != nil {
			return nil, err
		}
		if c.TopBidValue, err = parseOptionalDecimal(topBidValue); err != nil {
			return nil, err
		}
		collections = append(collections, &c)
	}
	return collections, rows.Err()
}

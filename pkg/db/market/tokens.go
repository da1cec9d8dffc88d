package market

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
	"github.com/mgamer/indexer-v3-sub017/pkg/db/postgres"
)

// initTokens creates the tokens table with the colocated aggregate caches.
func (db *DB) initTokens(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS tokens (
			contract TEXT NOT NULL,
			token_id TEXT NOT NULL,
			collection_id TEXT NOT NULL DEFAULT '',
			is_flagged BOOLEAN NOT NULL DEFAULT false,
			floor_ask_id TEXT,
			floor_ask_value NUMERIC(78, 0),
			floor_ask_normalized_value NUMERIC(78, 0),
			floor_ask_maker TEXT,
			floor_ask_valid_until TIMESTAMP WITH TIME ZONE,
			top_bid_id TEXT,
			top_bid_value NUMERIC(78, 0),
			top_bid_maker TEXT,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			PRIMARY KEY (contract, token_id)
		);

		CREATE INDEX IF NOT EXISTS idx_tokens_collection ON tokens(collection_id);
		CREATE INDEX IF NOT EXISTS idx_tokens_floor ON tokens(collection_id, floor_ask_value)
			WHERE floor_ask_value IS NOT NULL;
	`

	return db.Exec(ctx, query)
}

// initTokenSetTokens creates the token set membership table.
func (db *DB) initTokenSetTokens(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS token_set_tokens (
			token_set_id TEXT NOT NULL,
			contract TEXT NOT NULL,
			token_id TEXT NOT NULL,
			PRIMARY KEY (token_set_id, contract, token_id)
		);

		CREATE INDEX IF NOT EXISTS idx_token_set_tokens_token ON token_set_tokens(contract, token_id);
	`

	return db.Exec(ctx, query)
}

// EnsureToken creates the token row if it does not exist yet.
func (db *DB) EnsureToken(ctx context.Context, contract, tokenID, collectionID string) error {
	query := `
		INSERT INTO tokens (contract, token_id, collection_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (contract, token_id) DO NOTHING
	`

	if _, err := db.GetExecutor(ctx).Exec(ctx, query, contract, tokenID, collectionID); err != nil {
		return fmt.Errorf("ensure token %s:%s: %w", contract, tokenID, err)
	}
	return nil
}

// UpsertTokenSetTokens writes token set membership rows.
func (db *DB) UpsertTokenSetTokens(ctx context.Context, members []*marketmodels.TokenSetToken) error {
	if len(members) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO token_set_tokens (token_set_id, contract, token_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_set_id, contract, token_id) DO NOTHING
	`
	for _, m := range members {
		batch.Queue(query, m.TokenSetID, m.Contract, m.TokenID)
	}

	br := db.GetExecutor(ctx).SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()

	for range members {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert token set tokens: %w", err)
		}
	}
	return nil
}

// ListTokenSetMembers returns the (contract, token_id) pairs an order's token
// set covers, used to fan out per-token recomputes.
func (db *DB) ListTokenSetMembers(ctx context.Context, tokenSetID string) ([]*marketmodels.TokenSetToken, error) {
	query := `
		SELECT token_set_id, contract, token_id
		FROM token_set_tokens
		WHERE token_set_id = $1
	`

	rows, err := db.GetExecutor(ctx).Query(ctx, query, tokenSetID)
	if err != nil {
		return nil, fmt.Errorf("list token set members %s: %w", tokenSetID, err)
	}
	defer rows.Close()

	var members []*marketmodels.TokenSetToken
	for rows.Next() {
		var m marketmodels.TokenSetToken
		if err := rows.Scan(&m.TokenSetID, &m.Contract, &m.TokenID); err != nil {
			return nil, fmt.Errorf("scan token set member: %w", err)
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

// SetTokenFlagged updates the spam/flag marker, reporting whether it changed.
func (db *DB) SetTokenFlagged(ctx context.Context, contract, tokenID string, flagged bool) (bool, error) {
	query := `
		UPDATE tokens SET is_flagged = $3, updated_at = now()
		WHERE contract = $1 AND token_id = $2 AND is_flagged IS DISTINCT FROM $3
	`

	tag, err := db.GetExecutor(ctx).Exec(ctx, query, contract, tokenID, flagged)
	if err != nil {
		return false, fmt.Errorf("set token flagged %s:%s: %w", contract, tokenID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Candidate is the winning order of an aggregate query, all fields nil when
// no eligible order exists.
type Candidate struct {
	OrderID         *string
	Value           *decimal.Decimal
	NormalizedValue *decimal.Decimal
	Maker           *string
	ValidUntil      *time.Time
}

// floorAskCandidateSQL selects the best fillable sell order for one token:
// lowest value, then earliest creation, then id for determinism. Private
// orders (non-zero taker) never win a floor.
const floorAskCandidateSQL = `
	SELECT o.id, o.value, o.normalized_value, o.maker, o.valid_until
	FROM orders o
	JOIN token_set_tokens tst ON tst.token_set_id = o.token_set_id
	WHERE tst.contract = $1 AND tst.token_id = $2
	  AND o.side = 'sell'
	  AND o.fillability_status = 'fillable'
	  AND o.approval_status = 'approved'
	  AND (o.taker = '' OR o.taker = '` + marketmodels.ZeroAddress + `')
	ORDER BY o.value, o.created_at, o.id
	LIMIT 1
`

// topBidCandidateSQL selects the best fillable buy order for one token:
// highest value, excluding bids made by a current owner of the token
// (self-trades never win).
const topBidCandidateSQL = `
	SELECT o.id, o.value, o.normalized_value, o.maker, o.valid_until
	FROM orders o
	JOIN token_set_tokens tst ON tst.token_set_id = o.token_set_id
	WHERE tst.contract = $1 AND tst.token_id = $2
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

// UpdateTokenFloorAsk recomputes the token's floor-ask cache with a single
// authoritative query and writes only when the winner differs from the cached
// pointer. Safe under concurrency: every writer re-derives the full value, so
// any interleaving converges.
func (db *DB) UpdateTokenFloorAsk(ctx context.Context, contract, tokenID string) (bool, error) {
	query := `
		WITH x AS (
			SELECT $1::text AS contract, $2::text AS token_id
		), y AS (
			SELECT x.contract, x.token_id,
			       w.id AS order_id, w.value, w.normalized_value, w.maker, w.valid_until
			FROM x
			LEFT JOIN LATERAL (` + floorAskCandidateSQL + `) w ON TRUE
		)
		UPDATE tokens SET
			floor_ask_id = y.order_id,
			floor_ask_value = y.value,
			floor_ask_normalized_value = y.normalized_value,
			floor_ask_maker = y.maker,
			floor_ask_valid_until = y.valid_until,
			updated_at = now()
		FROM y
		WHERE tokens.contract = y.contract AND tokens.token_id = y.token_id
		  AND (tokens.floor_ask_id IS DISTINCT FROM y.order_id
		       OR tokens.floor_ask_value IS DISTINCT FROM y.value)
	`

	tag, err := db.GetExecutor(ctx).Exec(ctx, query, contract, tokenID)
	if err != nil {
		return false, fmt.Errorf("update token floor ask %s:%s: %w", contract, tokenID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateTokenTopBid recomputes the token's top-bid cache, same shape as the
// floor-ask update.
func (db *DB) UpdateTokenTopBid(ctx context.Context, contract, tokenID string) (bool, error) {
	query := `
		WITH x AS (
			SELECT $1::text AS contract, $2::text AS token_id
		), y AS (
			SELECT x.contract, x.token_id,
			       w.id AS order_id, w.value, w.maker
			FROM x
			LEFT JOIN LATERAL (` + topBidCandidateSQL + `) w ON TRUE
		)
		UPDATE tokens SET
			top_bid_id = y.order_id,
			top_bid_value = y.value,
			top_bid_maker = y.maker,
			updated_at = now()
		FROM y
		WHERE tokens.contract = y.contract AND tokens.token_id = y.token_id
		  AND (tokens.top_bid_id IS DISTINCT FROM y.order_id
		       OR tokens.top_bid_value IS DISTINCT FROM y.value)
	`

	tag, err := db.GetExecutor(ctx).Exec(ctx, query, contract, tokenID)
	if err != nil {
		return false, fmt.Errorf("update token top bid %s:%s: %w", contract, tokenID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ComputeTokenFloorAsk runs the authoritative floor-ask query without
// touching the cache. The reconciler compares its result to the cached row.
func (db *DB) ComputeTokenFloorAsk(ctx context.Context, contract, tokenID string) (*Candidate, error) {
	query := `
		SELECT w.id, w.value::text, w.normalized_value::text, w.maker, w.valid_until
		FROM (` + floorAskCandidateSQL + `) w
	`
	return db.queryCandidateRow(ctx, query, contract, tokenID)
}

// ComputeTokenTopBid runs the authoritative top-bid query without touching
// the cache.
func (db *DB) ComputeTokenTopBid(ctx context.Context, contract, tokenID string) (*Candidate, error) {
	query := `
		SELECT w.id, w.value::text, w.normalized_value::text, w.maker, w.valid_until
		FROM (` + topBidCandidateSQL + `) w
	`
	return db.queryCandidateRow(ctx, query, contract, tokenID)
}

// queryCandidateRow scans one candidate row shaped as
// (id, value::text, normalized_value::text, maker, valid_until).
// No row means no eligible order, which is a valid empty candidate.
func (db *DB) queryCandidateRow(ctx context.Context, query string, args ...any) (*Candidate, error) {
	var c Candidate
	var value, normValue *string
	err := db.GetExecutor(ctx).QueryRow(ctx, query, args...).
		Scan(&c.OrderID, &value, &normValue, &c.Maker, &c.ValidUntil)
	if err != nil {
		if postgres.IsNoRows(err) {
			return &Candidate{}, nil
		}
		return nil, fmt.Errorf("query candidate: %w", err)
	}

	if value != nil {
		d, err := decimal.NewFromString(*value)
		if err != nil {
			return nil, fmt.Errorf("parse candidate value: %w", err)
		}
		c.Value = &d
	}
	if normValue != nil {
		d, err := decimal.NewFromString(*normValue)
		if err != nil {
			return nil, fmt.Errorf("parse candidate normalized value: %w", err)
		}
		c.NormalizedValue = &d
	}

	return &c, nil
}

// GetToken fetches the token row with its caches.
func (db *DB) GetToken(ctx context.Context, contract, tokenID string) (*marketmodels.Token, error) {
	query := `
		SELECT contract, token_id, collection_id, is_flagged,
		       floor_ask_id, floor_ask_value::text, floor_ask_normalized_value::text,
		       floor_ask_maker, floor_ask_valid_until,
		       top_bid_id, top_bid_value::text, top_bid_maker,
		       created_at, updated_at
		FROM tokens
		WHERE contract = $1 AND token_id = $2
	`

	var t marketmodels.Token
	var floorValue, floorNorm, topBidValue *string
	err := db.GetExecutor(ctx).QueryRow(ctx, query, contract, tokenID).Scan(
		&t.Contract, &t.TokenID, &t.CollectionID, &t.IsFlagged,
		&t.FloorAskID, &floorValue, &floorNorm,
		&t.FloorAskMaker, &t.FloorAskValidUntil,
		&t.TopBidID, &topBidValue, &t.TopBidMaker,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get token %s:%s: %w", contract, tokenID, err)
	}

	if t.FloorAskValue, err = parseOptionalDecimal(floorValue); err != nil {
		return nil, err
	}
	if t.FloorAskNormalized, err = parseOptionalDecimal(floorNorm); err != nil {
		return nil, err
	}
	if t.TopBidValue, err = parseOptionalDecimal(topBidValue); err != nil {
		return nil, err
	}

	return &t, nil
}

// SampleTokens returns up to n random tokens of a collection for the
// reconciliation sweep, cache columns included so the checker compares
// against what the row actually holds.
func (db *DB) SampleTokens(ctx context.Context, collectionID string, n int) ([]*marketmodels.Token, error) {
	query := `
		SELECT contract, token_id, is_flagged,
		       floor_ask_id, floor_ask_value::text,
		       top_bid_id, top_bid_value::text
		FROM tokens
		WHERE collection_id = $1
		ORDER BY random()
		LIMIT $2
	`

	rows, err := db.GetExecutor(ctx).Query(ctx, query, collectionID, n)
	if err != nil {
		return nil, fmt.Errorf("sample tokens for %s: %w", collectionID, err)
	}
	defer rows.Close()

	var tokens []*marketmodels.Token
	for rows.Next() {
		var t marketmodels.Token
		var floorValue, topBidValue *string
		err := rows.Scan(&t.Contract, &t.TokenID, &t.IsFlagged,
			&t.FloorAskID, &floorValue,
			&t.TopBidID, &topBidValue)
		if err != nil {
			return nil, fmt.Errorf("scan sampled token: %w", err)
		}
		if t.FloorAskValue, err = parseOptionalDecimal(floorValue); err != nil {
			return nil, err
		}
		if t.TopBidValue, err = parseOptionalDecimal(topBidValue); err != nil {
			return nil, err
		}
		t.CollectionID = collectionID
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}

func parseOptionalDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, fmt.Errorf("parse decimal: %w", err)
	}
	return &d, nil
}

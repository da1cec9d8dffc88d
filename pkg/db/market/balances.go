package market

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
)

// initBalances creates the per-owner token balance table with the
// owner-scoped caches colocated on it.
func (db *DB) initBalances(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS nft_balances (
			contract TEXT NOT NULL,
			token_id TEXT NOT NULL,
			owner TEXT NOT NULL,
			amount NUMERIC(78, 0) NOT NULL DEFAULT 0,
			floor_sell_id TEXT,
			floor_sell_value NUMERIC(78, 0),
			top_bid_id TEXT,
			top_bid_value NUMERIC(78, 0),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			PRIMARY KEY (contract, token_id, owner)
		);

		CREATE INDEX IF NOT EXISTS idx_nft_balances_owner ON nft_balances(owner)
			WHERE amount > 0;
	`

	return db.Exec(ctx, query)
}

// ApplyBalanceTransfer moves quantity from one owner to another. Mints pass
// an empty from address. Amounts floor at zero rather than going negative so
// replayed or out-of-order transfers cannot corrupt a balance below reality.
func (db *DB) ApplyBalanceTransfer(ctx context.Context, contract, tokenID, from, to string, quantity decimal.Decimal) error {
	exec := db.GetExecutor(ctx)

	if from != "" && from != marketmodels.ZeroAddress {
		query := `
			INSERT INTO nft_balances (contract, token_id, owner, amount)
			VALUES ($1, $2, $3, 0)
			ON CONFLICT (contract, token_id, owner) DO UPDATE SET
				amount = GREATEST(nft_balances.amount - $4::numeric, 0),
				updated_at = now()
		`
		if _, err := exec.Exec(ctx, query, contract, tokenID, from, quantity.String()); err != nil {
			return fmt.Errorf("debit balance %s:%s %s: %w", contract, tokenID, from, err)
		}
	}

	if to != "" && to != marketmodels.ZeroAddress {
		query := `
			INSERT INTO nft_balances (contract, token_id, owner, amount)
			VALUES ($1, $2, $3, $4::numeric)
			ON CONFLICT (contract, token_id, owner) DO UPDATE SET
				amount = nft_balances.amount + $4::numeric,
				updated_at = now()
		`
		if _, err := exec.Exec(ctx, query, contract, tokenID, to, quantity.String()); err != nil {
			return fmt.Errorf("credit balance %s:%s %s: %w", contract, tokenID, to, err)
		}
	}

	return nil
}

// balanceTopBidCandidateSQL picks the best fillable buy order for the token
// excluding bids made by the owner themselves.
const balanceTopBidCandidateSQL = `
	SELECT o.id, o.value, o.maker
	FROM orders o
	JOIN token_set_tokens tst ON tst.token_set_id = o.token_set_id
	WHERE tst.contract = $1 AND tst.token_id = $2
	  AND o.side = 'buy'
	  AND o.fillability_status = 'fillable'
	  AND o.approval_status = 'approved'
	  AND o.maker <> $3
	ORDER BY o.value DESC, o.created_at, o.id
	LIMIT 1
`

// balanceFloorSellCandidateSQL picks the owner's own cheapest fillable
// listing for the token.
const balanceFloorSellCandidateSQL = `
	SELECT o.id, o.value, o.maker
	FROM orders o
	JOIN token_set_tokens tst ON tst.token_set_id = o.token_set_id
	WHERE tst.contract = $1 AND tst.token_id = $2
	  AND o.side = 'sell'
	  AND o.maker = $3
	  AND o.fillability_status = 'fillable'
	  AND o.approval_status = 'approved'
	ORDER BY o.value, o.created_at, o.id
	LIMIT 1
`

// UpdateBalanceTopBid recomputes the owner-scoped top-bid cache for one
// balance row, writing only on change.
func (db *DB) UpdateBalanceTopBid(ctx context.Context, contract, tokenID, owner string) (bool, error) {
	query := `
		WITH y AS (
			SELECT $1::text AS contract, $2::text AS token_id, $3::text AS owner,
			       w.id AS order_id, w.value
			FROM (SELECT 1) x
			LEFT JOIN LATERAL (` + balanceTopBidCandidateSQL + `) w ON TRUE
		)
		UPDATE nft_balances SET
			top_bid_id = y.order_id,
			top_bid_value = y.value,
			updated_at = now()
		FROM y
		WHERE nft_balances.contract = y.contract
		  AND nft_balances.token_id = y.token_id
		  AND nft_balances.owner = y.owner
		  AND (nft_balances.top_bid_id IS DISTINCT FROM y.order_id
		       OR nft_balances.top_bid_value IS DISTINCT FROM y.value)
	`

	tag, err := db.GetExecutor(ctx).Exec(ctx, query, contract, tokenID, owner)
	if err != nil {
		return false, fmt.Errorf("update balance top bid %s:%s %s: %w", contract, tokenID, owner, err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateBalanceFloorSell recomputes the owner's own-listing floor cache for
// one balance row.
func (db *DB) UpdateBalanceFloorSell(ctx context.Context, contract, tokenID, owner string) (bool, error) {
	query := `
		WITH y AS (
			SELECT $1::text AS contract, $2::text AS token_id, $3::text AS owner,
			       w.id AS order_id, w.value
			FROM (SELECT 1) x
			LEFT JOIN LATERAL (` + balanceFloorSellCandidateSQL + `) w ON TRUE
		)
		UPDATE nft_balances SET
			floor_sell_id = y.order_id,
			floor_sell_value = y.value,
			updated_at = now()
		FROM y
		WHERE nft_balances.contract = y.contract
		  AND nft_balances.token_id = y.token_id
		  AND nft_balances.owner = y.owner
		  AND (nft_balances.floor_sell_id IS DISTINCT FROM y.order_id
		       OR nft_balances.floor_sell_value IS DISTINCT FROM y.value)
	`

	tag, err := db.GetExecutor(ctx).Exec(ctx, query, contract, tokenID, owner)
	if err != nil {
		return false, fmt.Errorf("update balance floor sell %s:%s %s: %w", contract, tokenID, owner, err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetBalance fetches one balance row with its caches.
func (db *DB) GetBalance(ctx context.Context, contract, tokenID, owner string) (*marketmodels.Balance, error) {
	query := `
		SELECT contract, token_id, owner, amount::text,
		       top_bid_id, top_bid_value::text, updated_at
		FROM nft_balances
		WHERE contract = $1 AND token_id = $2 AND owner = $3
	`

	var b marketmodels.Balance
	var amount string
	var topBidValue *string
	err := db.GetExecutor(ctx).QueryRow(ctx, query, contract, tokenID, owner).Scan(
		&b.Contract, &b.TokenID, &b.Owner, &amount,
		&b.TopBidID, &topBidValue, &b.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get balance %s:%s %s: %w", contract, tokenID, owner, err)
	}

	if b.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse balance amount: %w", err)
	}
	if b.TopBidValue, err = parseOptionalDecimal(topBidValue); err != nil {
		return nil, err
	}

	return &b, nil
}

// ListOwners returns the current holders of a token, used to fan out
// owner-scope recomputes after an order event.
func (db *DB) ListOwners(ctx context.Context, contract, tokenID string) ([]string, error) {
	query := `
		SELECT owner FROM nft_balances
		WHERE contract = $1 AND token_id = $2 AND amount > 0
	`

	rows, err := db.GetExecutor(ctx).Query(ctx, query, contract, tokenID)
	if err != nil {
		return nil, fmt.Errorf("list owners %s:%s: %w", contract, tokenID, err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

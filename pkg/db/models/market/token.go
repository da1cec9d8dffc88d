package market

import (
	"time"

	"github.com/shopspring/decimal"
)

const TokensTableName = "tokens"
const TokenSetTokensTableName = "token_set_tokens"

// Token carries the per-token aggregate caches colocated with the token row.
// The cached pointers always reference a currently fillable order matching the
// token, or are nil; every write is a compare-and-set against the stored value
// so concurrent recomputes converge regardless of order.
type Token struct {
	Contract string `json:"contract"`
	TokenID  string `json:"token_id"`

	CollectionID string `json:"collection_id"`
	IsFlagged    bool   `json:"is_flagged"`

	// Floor ask cache
	FloorAskID         *string          `json:"floor_ask_id,omitempty"`
	FloorAskValue      *decimal.Decimal `json:"floor_ask_value,omitempty"`
	FloorAskNormalized *decimal.Decimal `json:"floor_ask_normalized_value,omitempty"`
	FloorAskMaker      *string          `json:"floor_ask_maker,omitempty"`
	FloorAskValidUntil *time.Time       `json:"floor_ask_valid_until,omitempty"`

	// Top bid cache
	TopBidID    *string          `json:"top_bid_id,omitempty"`
	TopBidValue *decimal.Decimal `json:"top_bid_value,omitempty"`
	TopBidMaker *string          `json:"top_bid_maker,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// TokenSetToken maps a token set to one of its member tokens. Single-token
// sets are written when the order is first materialized; list/range/attribute
// sets arrive from the (external) order validation layer.
type TokenSetToken struct {
	TokenSetID string `json:"token_set_id"`
	Contract   string `json:"contract"`
	TokenID    string `json:"token_id"`
}

// SingleTokenSetID is the canonical set id for an order on exactly one token.
func SingleTokenSetID(contract, tokenID string) string {
	return "token:" + contract + ":" + tokenID
}

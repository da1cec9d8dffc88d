package market

import (
	"time"

	"github.com/shopspring/decimal"
)

const CollectionsTableName = "collections"

// Collection rolls up token-level aggregates. The non-flagged floor ask
// excludes tokens marked as flagged/spam so the headline floor stays honest.
type Collection struct {
	ID       string `json:"id"`
	Contract string `json:"contract"`
	Name     string `json:"name,omitempty"`

	// Floor ask cache (all tokens)
	FloorAskID    *string          `json:"floor_ask_id,omitempty"`
	FloorAskValue *decimal.Decimal `json:"floor_ask_value,omitempty"`
	FloorAskMaker *string          `json:"floor_ask_maker,omitempty"`

	// Floor ask cache over non-flagged tokens only
	NonFlaggedFloorAskID    *string          `json:"non_flagged_floor_ask_id,omitempty"`
	NonFlaggedFloorAskValue *decimal.Decimal `json:"non_flagged_floor_ask_value,omitempty"`

	// Top bid cache
	TopBidID    *string          `json:"top_bid_id,omitempty"`
	TopBidValue *decimal.Decimal `json:"top_bid_value,omitempty"`
	TopBidMaker *string          `json:"top_bid_maker,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

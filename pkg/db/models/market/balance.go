package market

import (
	"time"

	"github.com/shopspring/decimal"
)

const BalancesTableName = "nft_balances"

// Balance is the owned amount of one token by one address, maintained from
// transfer and mint events. The owner-scope top-bid cache lives here so the
// maker self-trade exclusion can be evaluated per owner.
type Balance struct {
	Contract string          `json:"contract"`
	TokenID  string          `json:"token_id"`
	Owner    string          `json:"owner"`
	Amount   decimal.Decimal `json:"amount"`

	TopBidID    *string          `json:"top_bid_id,omitempty"`
	TopBidValue *decimal.Decimal `json:"top_bid_value,omitempty"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

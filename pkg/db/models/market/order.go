package market

import (
	"time"

	"github.com/shopspring/decimal"
)

const OrdersTableName = "orders"
const OrderStatusEventsTableName = "order_status_events"

// ZeroAddress marks an order open to any taker.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// OrderSide is the side of the book an order sits on.
type OrderSide string

const (
	OrderSideSell OrderSide = "sell"
	OrderSideBuy  OrderSide = "buy"
)

// FillabilityStatus is the order lifecycle state.
// filled, cancelled and expired-with-nothing-remaining are terminal: a later
// arriving event can only revert them when it genuinely occurred earlier on
// chain, decided by the (timestamp, dedup key) logical clock.
type FillabilityStatus string

const (
	StatusFillable  FillabilityStatus = "fillable"
	StatusNoBalance FillabilityStatus = "no-balance"
	StatusCancelled FillabilityStatus = "cancelled"
	StatusFilled    FillabilityStatus = "filled"
	StatusExpired   FillabilityStatus = "expired"
)

// ApprovalStatus tracks the maker's token approval for the order's exchange.
type ApprovalStatus string

const (
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalMissing  ApprovalStatus = "no-approval"
	ApprovalDisabled ApprovalStatus = "disabled"
)

// Order is one buy or sell offer. Rows are never hard-deleted; reorgs and
// repairs move the status instead so history stays auditable.
type Order struct {
	ID   string    `json:"id"` // content-addressed per protocol
	Kind string    `json:"kind"`
	Side OrderSide `json:"side"`

	Maker string `json:"maker"`
	Taker string `json:"taker,omitempty"` // zero address means open to anyone

	// Single-token orders carry contract+token_id directly; broader orders
	// reference their token set membership rows.
	Contract   string `json:"contract"`
	TokenID    string `json:"token_id,omitempty"`
	TokenSetID string `json:"token_set_id"`

	Price           decimal.Decimal `json:"price"`
	Value           decimal.Decimal `json:"value"`
	NormalizedValue decimal.Decimal `json:"normalized_value"`
	Currency        string          `json:"currency"`

	QuantityRemaining decimal.Decimal `json:"quantity_remaining"`
	QuantityFilled    decimal.Decimal `json:"quantity_filled"`

	FillabilityStatus FillabilityStatus `json:"fillability_status"`
	ApprovalStatus    ApprovalStatus    `json:"approval_status"`

	ValidFrom  time.Time  `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty"` // nil means no expiry

	Source  string `json:"source,omitempty"`
	RawData string `json:"raw_data,omitempty"` // protocol payload, JSON

	// Logical clock of the last applied status-setting event. Transitions
	// compare against this, not against arrival order.
	LastEventTime  time.Time `json:"last_event_time"`
	LastEventDedup string    `json:"last_event_dedup"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Fillable reports whether the order can currently be taken.
func (o *Order) Fillable() bool {
	return o.FillabilityStatus == StatusFillable && o.ApprovalStatus == ApprovalApproved
}

// Terminal reports whether the order's status can only be revisited by a
// strictly earlier event.
func (o *Order) Terminal() bool {
	switch o.FillabilityStatus {
	case StatusFilled, StatusCancelled:
		return true
	case StatusExpired:
		return o.QuantityRemaining.IsZero()
	}
	return false
}

// StatusEvent is one audit row appended whenever an order's status changes.
// The API layer builds its asks/bids feeds from these.
type StatusEvent struct {
	ID         int64             `json:"id,omitempty"`
	OrderID    string            `json:"order_id"`
	Status     FillabilityStatus `json:"status"`
	PrevStatus FillabilityStatus `json:"prev_status,omitempty"`
	Kind       EventKind         `json:"kind"`
	TxHash     string            `json:"tx_hash,omitempty"`
	LogIndex   int64             `json:"log_index"`
	BatchIndex int64             `json:"batch_index"`
	EventTime  time.Time         `json:"event_time"`
	CreatedAt  time.Time         `json:"created_at,omitempty"`
}

package market

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const EventsTableName = "market_events"

// EventKind discriminates the canonical event union. Every inbound payload is
// normalized into exactly one kind before it reaches storage; dispatch on kind
// is exhaustive, never string-matched against raw upstream type names.
type EventKind string

const (
	EventKindNewOrder      EventKind = "new-order"
	EventKindFill          EventKind = "fill"
	EventKindCancel        EventKind = "cancel"
	EventKindTransfer      EventKind = "transfer"
	EventKindMint          EventKind = "mint"
	EventKindExpiry        EventKind = "expiry"
	EventKindBalanceChange EventKind = "balance-change"
	EventKindFlagChange    EventKind = "flag-change"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventKindNewOrder, EventKindFill, EventKindCancel, EventKindTransfer,
		EventKindMint, EventKindExpiry, EventKindBalanceChange, EventKindFlagChange:
		return true
	}
	return false
}

// Event is one immutable on-chain or off-chain occurrence.
// The composite (tx_hash, log_index, batch_index) is the global dedup key;
// insertion is idempotent and a conflicting insert is a no-op, never an
// overwrite. Rows are deleted only when their block is reorged out.
type Event struct {
	// Dedup key (composite)
	TxHash     string `json:"tx_hash"`
	LogIndex   int64  `json:"log_index"`
	BatchIndex int64  `json:"batch_index"`

	Kind EventKind `json:"kind"`

	// Affected entities (empty when not applicable to the kind)
	OrderID  string `json:"order_id,omitempty"`
	Contract string `json:"contract,omitempty"`
	TokenID  string `json:"token_id,omitempty"`
	Maker    string `json:"maker,omitempty"`
	Taker    string `json:"taker,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`

	// Monetary fields
	Price           decimal.Decimal `json:"price"`
	Value           decimal.Decimal `json:"value"`
	NormalizedValue decimal.Decimal `json:"normalized_value"`
	Currency        string          `json:"currency,omitempty"`
	Quantity        decimal.Decimal `json:"quantity"`

	// Block metadata for reorg detection. Off-chain triggers carry zero
	// block number and an empty block hash.
	BlockNumber uint64    `json:"block_number"`
	BlockHash   string    `json:"block_hash,omitempty"`
	Timestamp   time.Time `json:"timestamp"`

	// Raw order snapshot for materializing orders first seen via a
	// fill/cancel before their creation event (JSON, may be empty).
	RawData string `json:"raw_data,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// DedupKey renders the composite key as a single comparable string,
// ordered the same way the storage key orders.
func (e *Event) DedupKey() string {
	return fmt.Sprintf("%s:%d:%d", e.TxHash, e.LogIndex, e.BatchIndex)
}

// OffchainTxHash builds the synthetic tx hash used for off-chain triggers
// (approval changes, spam flags, admin refreshes). Log and batch index are
// zero for these events.
func OffchainTxHash() string {
	return "offchain:" + uuid.NewString()
}

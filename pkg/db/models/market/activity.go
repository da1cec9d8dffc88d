package market

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const ActivitiesTableName = "activity_documents"

// ActivityType classifies activity documents for the search index and
// notification feeds.
type ActivityType string

const (
	ActivitySale      ActivityType = "sale"
	ActivityAsk       ActivityType = "ask"
	ActivityBid       ActivityType = "bid"
	ActivityTransfer  ActivityType = "transfer"
	ActivityMint      ActivityType = "mint"
	ActivityAskCancel ActivityType = "ask_cancel"
	ActivityBidCancel ActivityType = "bid_cancel"
)

// ActivityDocument is the denormalized, search-facing projection of one
// canonical event. The id is deterministic in the source event's dedup key
// and the activity type, so re-derivation upserts in place and reorg deletion
// needs no reverse lookup.
type ActivityDocument struct {
	ID   string       `ch:"id" json:"id"`
	Type ActivityType `ch:"type" json:"type"`

	// Source event reference
	TxHash     string `ch:"tx_hash" json:"tx_hash"`
	LogIndex   int64  `ch:"log_index" json:"log_index"`
	BatchIndex int64  `ch:"batch_index" json:"batch_index"`

	// Criteria: what this activity is about
	Contract     string `ch:"contract" json:"contract"`
	TokenID      string `ch:"token_id" json:"token_id"`
	CollectionID string `ch:"collection_id" json:"collection_id"`
	OrderID      string `ch:"order_id" json:"order_id"`

	// Marketplace attribution (domain of the originating source, best effort)
	Source string `ch:"source" json:"source"`

	FromAddress string `ch:"from_address" json:"from_address"`
	ToAddress   string `ch:"to_address" json:"to_address"`

	// Pricing block
	Price    decimal.Decimal `ch:"price" json:"price"`
	Value    decimal.Decimal `ch:"value" json:"value"`
	Currency string          `ch:"currency" json:"currency"`
	Quantity decimal.Decimal `ch:"quantity" json:"quantity"`

	BlockNumber uint64 `ch:"block_number" json:"block_number"`
	BlockHash   string `ch:"block_hash" json:"block_hash"`

	// Event time vs. the time we indexed it
	EventTime   time.Time `ch:"event_time" json:"event_time"`
	IndexedTime time.Time `ch:"indexed_time" json:"indexed_time"`

	// ReplacingMergeTree version column; also the tombstone flag carrier.
	Version uint64 `ch:"version" json:"version"`
	Deleted uint8  `ch:"deleted" json:"deleted"`
}

// ActivityID derives the deterministic document id for a (source event,
// activity type) pair.
func ActivityID(txHash string, logIndex, batchIndex int64, typ ActivityType) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d:%s", txHash, logIndex, batchIndex, typ)))
	return hex.EncodeToString(sum[:])
}

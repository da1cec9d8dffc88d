package types

import (
	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
)

// IngestBatchInput carries one batch of normalized canonical events into the
// pipeline. Both the realtime head tracker and the historical backfill
// collaborator produce this shape.
type IngestBatchInput struct {
	Events []*marketmodels.Event `json:"events"`
}

// RecordEventsOutput reports, per input event, whether the row was newly
// inserted. Duplicates come back false and trigger no downstream work.
type RecordEventsOutput struct {
	Inserted []bool `json:"inserted"`
}

// ApplyOrderEventInput applies one order-scoped event to the book.
type ApplyOrderEventInput struct {
	Event *marketmodels.Event `json:"event"`
}

// ApplyOrderEventOutput describes the transition outcome and the scopes whose
// caches may now be stale.
type ApplyOrderEventOutput struct {
	StatusChanged bool                   `json:"statusChanged"`
	OrderID       string                 `json:"orderId"`
	Side          marketmodels.OrderSide `json:"side"`
	TokenSetID    string                 `json:"tokenSetId"`
	Tokens        []TokenScope           `json:"tokens"`
}

// TokenScope identifies one token whose aggregates need recomputing.
type TokenScope struct {
	Contract string `json:"contract"`
	TokenID  string `json:"tokenId"`
}

// ApplyTransferEventInput applies one transfer or mint to balances.
type ApplyTransferEventInput struct {
	Event *marketmodels.Event `json:"event"`
}

// ApplyTransferEventOutput lists the owners whose owner-scope caches need
// recomputing after the balance moved.
type ApplyTransferEventOutput struct {
	Contract string   `json:"contract"`
	TokenID  string   `json:"tokenId"`
	Owners   []string `json:"owners"`
}

// RecomputeTokenInput targets one token-scope aggregate recompute.
// Side selects floor ask ("sell") or top bid ("buy").
type RecomputeTokenInput struct {
	Contract string                 `json:"contract"`
	TokenID  string                 `json:"tokenId"`
	Side     marketmodels.OrderSide `json:"side"`
}

// RecomputeCollectionInput targets one collection-scope recompute.
type RecomputeCollectionInput struct {
	CollectionID string                 `json:"collectionId"`
	Side         marketmodels.OrderSide `json:"side"`
}

// RecomputeBalanceInput targets one owner-scope recompute.
type RecomputeBalanceInput struct {
	Contract string                 `json:"contract"`
	TokenID  string                 `json:"tokenId"`
	Owner    string                 `json:"owner"`
	Side     marketmodels.OrderSide `json:"side"`
}

// RecomputeOutput reports whether the cached winner actually changed.
type RecomputeOutput struct {
	Changed      bool   `json:"changed"`
	CollectionID string `json:"collectionId,omitempty"`
}

// PublishActivitiesInput projects and publishes activity documents for a set
// of events.
type PublishActivitiesInput struct {
	Events []*marketmodels.Event `json:"events"`
}

// PublishActivitiesOutput reports batch results. FailedIDs holds documents
// that could not be appended and were retried individually without success.
type PublishActivitiesOutput struct {
	Published int      `json:"published"`
	FailedIDs []string `json:"failedIds,omitempty"`
}

// DeleteActivitiesInput deletes documents by deterministic id.
type DeleteActivitiesInput struct {
	IDs []string `json:"ids"`
}

// ReorgInput handles one orphaned block.
type ReorgInput struct {
	BlockHash string `json:"blockHash"`
}

// ReorgOutput lists what the deletion touched so repairs can fan out.
type ReorgOutput struct {
	DeletedEvents int          `json:"deletedEvents"`
	OrderIDs      []string     `json:"orderIds"`
	Tokens        []TokenScope `json:"tokens"`
	ActivityIDs   []string     `json:"activityIds"`
}

// RepairOrderInput re-derives one order's state from its surviving events.
type RepairOrderInput struct {
	OrderID string `json:"orderId"`
	// Trigger distinguishes dedup scopes for the coalescing workflow id.
	Trigger string `json:"trigger"`
}

// RepairOrderOutput reports the repair outcome and affected token scopes.
type RepairOrderOutput struct {
	StatusChanged bool                   `json:"statusChanged"`
	Side          marketmodels.OrderSide `json:"side"`
	Tokens        []TokenScope           `json:"tokens"`
}

// BackfillInput drives the cursor-based event replay campaign.
type BackfillInput struct {
	JobName   string `json:"jobName"`
	BatchSize int    `json:"batchSize"`
	// Batches processed in the current workflow run, for ContinueAsNew.
	BatchesInRun int `json:"batchesInRun"`
}

// RepairBatchInput fans out coalesced order repair workflows for a scanned
// batch of events.
type RepairBatchInput struct {
	OrderIDs []string `json:"orderIds"`
	Trigger  string   `json:"trigger"`
}

// RepairBatchOutput counts dispatch results.
type RepairBatchOutput struct {
	Started int `json:"started"`
	Failed  int `json:"failed"`
}

// AdvanceCursorInput commits a job's progress marker.
type AdvanceCursorInput struct {
	JobName  string `json:"jobName"`
	Position string `json:"position"`
}

// BackfillBatchOutput is one processed batch plus the advanced cursor.
type BackfillBatchOutput struct {
	Events   []*marketmodels.Event `json:"events"`
	Position string                `json:"position"` // serialized cursor after this batch
	Done     bool                  `json:"done"`
}

// ExpirySweepInput bounds one pass of the expiry sweep.
type ExpirySweepInput struct {
	Limit int `json:"limit"`
}

// ExpiredOrderScope is one order the sweep expired plus the token scopes
// whose caches may reference it.
type ExpiredOrderScope struct {
	OrderID string                 `json:"orderId"`
	Side    marketmodels.OrderSide `json:"side"`
	Tokens  []TokenScope           `json:"tokens"`
}

// ExpirySweepOutput lists what one pass expired.
type ExpirySweepOutput struct {
	Expired []ExpiredOrderScope `json:"expired"`
}

// OffchainTriggerInput is the discrete payload the API layer enqueues for
// approval changes, spam flags, and admin refreshes.
type OffchainTriggerInput struct {
	EntityID     string `json:"entityId"`
	Field        string `json:"field"`
	NewValue     string `json:"newValue"`
	TriggerKind  string `json:"triggerKind"`
	ForceRefresh bool   `json:"forceRefresh"`
}

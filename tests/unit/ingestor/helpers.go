package ingestor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	marketdb "github.com/mgamer/indexer-v3-sub017/pkg/db/market"
	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/types"
)

// fakeMarketStore is an in-memory market.Store for activity-level tests.
type fakeMarketStore struct {
	mu sync.Mutex

	events      []*marketmodels.Event
	eventKeys   map[string]struct{}
	orders      map[string]*marketmodels.Order
	tokens      map[string]*marketmodels.Token
	collections map[string]struct{}
	tokenSets   map[string][]*marketmodels.TokenSetToken
	balances    map[string]decimal.Decimal
	cursors     map[string]string
	sources     map[string]*marketmodels.Source

	statusEvents []*marketmodels.StatusEvent
	deadLetters  []*marketmodels.DeadLetter

	// CAS results and call tracking for the recompute paths.
	tokenFloorChanged     bool
	tokenTopBidChanged    bool
	collectionCASChanged  bool
	balanceCASChanged     bool
	tokenFloorCalls       []string
	tokenTopBidCalls      []string
	collectionFloorCalls  []string
	collectionTopBidCalls []string
	balanceTopBidCalls    []string
	balanceFloorSellCalls []string
	flaggedChanges        []bool
	candidateByToken      map[string]*marketdb.Candidate
	candidateByCollection map[string]*marketdb.Candidate
}

func newFakeMarketStore() *fakeMarketStore {
	return &fakeMarketStore{
		eventKeys:             map[string]struct{}{},
		orders:                map[string]*marketmodels.Order{},
		tokens:                map[string]*marketmodels.Token{},
		collections:           map[string]struct{}{},
		tokenSets:             map[string][]*marketmodels.TokenSetToken{},
		balances:              map[string]decimal.Decimal{},
		cursors:               map[string]string{},
		sources:               map[string]*marketmodels.Source{},
		candidateByToken:      map[string]*marketdb.Candidate{},
		candidateByCollection: map[string]*marketdb.Candidate{},
	}
}

func (f *fakeMarketStore) InsertEvents(_ context.Context, events []*marketmodels.Event) ([]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inserted := make([]bool, len(events))
	for i, ev := range events {
		key := ev.DedupKey()
		if _, ok := f.eventKeys[key]; ok {
			continue
		}
		f.eventKeys[key] = struct{}{}
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = time.Now().UTC()
		}
		f.events = append(f.events, ev)
		inserted[i] = true
	}
	return inserted, nil
}

func (f *fakeMarketStore) DeleteEventsForBlock(_ context.Context, blockHash string) ([]*marketmodels.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted, kept []*marketmodels.Event
	for _, ev := range f.events {
		if ev.BlockHash == blockHash {
			deleted = append(deleted, ev)
			delete(f.eventKeys, ev.DedupKey())
		} else {
			kept = append(kept, ev)
		}
	}
	f.events = kept
	return deleted, nil
}

func (f *fakeMarketStore) ListEventsAfter(_ context.Context, pos *marketmodels.BackfillPosition, limit int) ([]*marketmodels.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sorted := make([]*marketmodels.Event, len(f.events))
	copy(sorted, f.events)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.DedupKey() < b.DedupKey()
	})
	out := make([]*marketmodels.Event, 0, limit)
	for _, ev := range sorted {
		if pos != nil {
			after := ev.CreatedAt.After(pos.CreatedAt) ||
				(ev.CreatedAt.Equal(pos.CreatedAt) && ev.DedupKey() > (&marketmodels.Event{TxHash: pos.TxHash, LogIndex: pos.LogIndex, BatchIndex: pos.BatchIndex}).DedupKey())
			if !after {
				continue
			}
		}
		out = append(out, ev)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeMarketStore) HasEventsForOrder(_ context.Context, orderID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.events {
		if ev.OrderID == orderID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeMarketStore) ListEventsForOrder(_ context.Context, orderID string) ([]*marketmodels.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*marketmodels.Event
	for _, ev := range f.events {
		if ev.OrderID == orderID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].DedupKey() < out[j].DedupKey()
	})
	return out, nil
}

func (f *fakeMarketStore) GetOrder(_ context.Context, id string) (*marketmodels.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *o
	return &copied, nil
}

func (f *fakeMarketStore) GetOrderForUpdate(ctx context.Context, id string) (*marketmodels.Order, error) {
	return f.GetOrder(ctx, id)
}

func (f *fakeMarketStore) InsertOrder(_ context.Context, o *marketmodels.Order) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.orders[o.ID]; ok {
		return false, nil
	}
	copied := *o
	f.orders[o.ID] = &copied
	return true, nil
}

func (f *fakeMarketStore) UpdateOrderState(_ context.Context, o *marketmodels.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *o
	f.orders[o.ID] = &copied
	return nil
}

func (f *fakeMarketStore) InsertStatusEvent(_ context.Context, se *marketmodels.StatusEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusEvents = append(f.statusEvents, se)
	return nil
}

func (f *fakeMarketStore) ExpireOrders(_ context.Context, now time.Time, limit int) ([]*marketdb.ExpiredOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var expired []*marketdb.ExpiredOrder
	for _, o := range f.orders {
		if len(expired) == limit {
			break
		}
		overdue := o.FillabilityStatus == marketmodels.StatusFillable ||
			o.FillabilityStatus == marketmodels.StatusNoBalance
		if overdue && o.ValidUntil != nil && o.ValidUntil.Before(now) {
			prev := o.FillabilityStatus
			o.FillabilityStatus = marketmodels.StatusExpired
			o.LastEventTime = *o.ValidUntil
			copied := *o
			expired = append(expired, &marketdb.ExpiredOrder{Order: &copied, PrevStatus: prev})
		}
	}
	return expired, nil
}

func (f *fakeMarketStore) EnsureToken(_ context.Context, contract, tokenID, collectionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := contract + ":" + tokenID
	if _, ok := f.tokens[key]; !ok {
		f.tokens[key] = &marketmodels.Token{Contract: contract, TokenID: tokenID, CollectionID: collectionID}
	}
	return nil
}

func (f *fakeMarketStore) UpsertTokenSetTokens(_ context.Context, members []*marketmodels.TokenSetToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range members {
		exists := false
		for _, existing := range f.tokenSets[m.TokenSetID] {
			if existing.Contract == m.Contract && existing.TokenID == m.TokenID {
				exists = true
				break
			}
		}
		if !exists {
			f.tokenSets[m.TokenSetID] = append(f.tokenSets[m.TokenSetID], m)
		}
	}
	return nil
}

func (f *fakeMarketStore) ListTokenSetMembers(_ context.Context, tokenSetID string) ([]*marketmodels.TokenSetToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenSets[tokenSetID], nil
}

func (f *fakeMarketStore) SetTokenFlagged(_ context.Context, contract, tokenID string, flagged bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.tokens[contract+":"+tokenID]
	if !ok || tok.IsFlagged == flagged {
		return false, nil
	}
	tok.IsFlagged = flagged
	f.flaggedChanges = append(f.flaggedChanges, flagged)
	return true, nil
}

func (f *fakeMarketStore) UpdateTokenFloorAsk(_ context.Context, contract, tokenID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenFloorCalls = append(f.tokenFloorCalls, contract+":"+tokenID)
	return f.tokenFloorChanged, nil
}

func (f *fakeMarketStore) UpdateTokenTopBid(_ context.Context, contract, tokenID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenTopBidCalls = append(f.tokenTopBidCalls, contract+":"+tokenID)
	return f.tokenTopBidChanged, nil
}

func (f *fakeMarketStore) ComputeTokenFloorAsk(_ context.Context, contract, tokenID string) (*marketdb.Candidate, error) {
	if c, ok := f.candidateByToken[contract+":"+tokenID]; ok {
		return c, nil
	}
	return &marketdb.Candidate{}, nil
}

func (f *fakeMarketStore) ComputeTokenTopBid(ctx context.Context, contract, tokenID string) (*marketdb.Candidate, error) {
	return f.ComputeTokenFloorAsk(ctx, contract, tokenID)
}

func (f *fakeMarketStore) GetToken(_ context.Context, contract, tokenID string) (*marketmodels.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.tokens[contract+":"+tokenID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *tok
	return &copied, nil
}

func (f *fakeMarketStore) SampleTokens(_ context.Context, collectionID string, n int) ([]*marketmodels.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*marketmodels.Token
	for _, tok := range f.tokens {
		if tok.CollectionID == collectionID && len(out) < n {
			out = append(out, tok)
		}
	}
	return out, nil
}

func (f *fakeMarketStore) EnsureCollection(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[id] = struct{}{}
	return nil
}

func (f *fakeMarketStore) UpdateCollectionFloorAsk(_ context.Context, collectionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collectionFloorCalls = append(f.collectionFloorCalls, collectionID)
	return f.collectionCASChanged, nil
}

func (f *fakeMarketStore) UpdateCollectionTopBid(_ context.Context, collectionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collectionTopBidCalls = append(f.collectionTopBidCalls, collectionID)
	return f.collectionCASChanged, nil
}

func (f *fakeMarketStore) ComputeCollectionFloorAsk(_ context.Context, collectionID string) (*marketdb.Candidate, error) {
	if c, ok := f.candidateByCollection[collectionID]; ok {
		return c, nil
	}
	return &marketdb.Candidate{}, nil
}

func (f *fakeMarketStore) ComputeCollectionTopBid(ctx context.Context, collectionID string) (*marketdb.Candidate, error) {
	return f.ComputeCollectionFloorAsk(ctx, collectionID)
}

func (f *fakeMarketStore) GetCollection(_ context.Context, id string) (*marketmodels.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.collections[id]; !ok {
		return nil, pgx.ErrNoRows
	}
	return &marketmodels.Collection{ID: id}, nil
}

func (f *fakeMarketStore) SampleCollections(_ context.Context, n int) ([]*marketmodels.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*marketmodels.Collection
	for id := range f.collections {
		if len(out) < n {
			out = append(out, &marketmodels.Collection{ID: id})
		}
	}
	return out, nil
}

func (f *fakeMarketStore) ApplyBalanceTransfer(_ context.Context, contract, tokenID, from, to string, quantity decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if from != "" && from != marketmodels.ZeroAddress {
		key := contract + ":" + tokenID + ":" + from
		next := f.balances[key].Sub(quantity)
		if next.IsNegative() {
			next = decimal.Zero
		}
		f.balances[key] = next
	}
	if to != "" && to != marketmodels.ZeroAddress {
		key := contract + ":" + tokenID + ":" + to
		f.balances[key] = f.balances[key].Add(quantity)
	}
	return nil
}

func (f *fakeMarketStore) UpdateBalanceTopBid(_ context.Context, contract, tokenID, owner string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceTopBidCalls = append(f.balanceTopBidCalls, contract+":"+tokenID+":"+owner)
	return f.balanceCASChanged, nil
}

func (f *fakeMarketStore) UpdateBalanceFloorSell(_ context.Context, contract, tokenID, owner string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceFloorSellCalls = append(f.balanceFloorSellCalls, contract+":"+tokenID+":"+owner)
	return f.balanceCASChanged, nil
}

func (f *fakeMarketStore) GetBalance(_ context.Context, contract, tokenID, owner string) (*marketmodels.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	amount, ok := f.balances[contract+":"+tokenID+":"+owner]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &marketmodels.Balance{Contract: contract, TokenID: tokenID, Owner: owner, Amount: amount}, nil
}

func (f *fakeMarketStore) ListOwners(_ context.Context, contract, tokenID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := contract + ":" + tokenID + ":"
	var out []string
	for key, amount := range f.balances {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix && amount.IsPositive() {
			out = append(out, key[len(prefix):])
		}
	}
	return out, nil
}

func (f *fakeMarketStore) GetCursor(_ context.Context, jobName string) (*marketmodels.Cursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos, ok := f.cursors[jobName]
	if !ok {
		return nil, nil
	}
	return &marketmodels.Cursor{JobName: jobName, Position: pos}, nil
}

func (f *fakeMarketStore) SaveCursor(_ context.Context, jobName, position string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors[jobName] = position
	return nil
}

func (f *fakeMarketStore) DeleteCursor(_ context.Context, jobName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cursors, jobName)
	return nil
}

func (f *fakeMarketStore) InsertDeadLetter(_ context.Context, dl *marketmodels.DeadLetter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadLetters = append(f.deadLetters, dl)
	return nil
}

func (f *fakeMarketStore) GetSource(_ context.Context, id string) (*marketmodels.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sources[id], nil
}

func (f *fakeMarketStore) UpsertSource(_ context.Context, s *marketmodels.Source) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[s.ID] = s
	return nil
}

func (f *fakeMarketStore) ListSources(_ context.Context) ([]*marketmodels.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*marketmodels.Source
	for _, s := range f.sources {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeMarketStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// fakeActivityIndex is an in-memory activityindex.Store.
type fakeActivityIndex struct {
	mu       sync.Mutex
	docs     map[string]*marketmodels.ActivityDocument
	failOnce map[string]bool
	deleted  [][]string
}

func newFakeActivityIndex() *fakeActivityIndex {
	return &fakeActivityIndex{
		docs:     map[string]*marketmodels.ActivityDocument{},
		failOnce: map[string]bool{},
	}
}

func (f *fakeActivityIndex) UpsertDocuments(_ context.Context, docs []*marketmodels.ActivityDocument) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var failed []string
	for _, doc := range docs {
		if f.failOnce[doc.ID] {
			f.failOnce[doc.ID] = false
			failed = append(failed, doc.ID)
			continue
		}
		f.docs[doc.ID] = doc
	}
	return failed, nil
}

func (f *fakeActivityIndex) DeleteDocuments(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.docs, id)
	}
	f.deleted = append(f.deleted, ids)
	return nil
}

func (f *fakeActivityIndex) ListDocumentOrderRefs(_ context.Context, limit int) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string)
	for id, doc := range f.docs {
		if len(out) == limit {
			break
		}
		out[id] = doc.OrderID
	}
	return out, nil
}

func (f *fakeActivityIndex) Close() error { return nil }

// fakeNotifier records published messages.
type fakeNotifier struct {
	mu       sync.Mutex
	messages map[string][]interface{}
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{messages: map[string][]interface{}{}}
}

func (f *fakeNotifier) Publish(_ context.Context, channel string, message interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[channel] = append(f.messages[channel], message)
}

// fakeLocker grants or denies the named lock.
type fakeLocker struct {
	mu        sync.Mutex
	available bool
	acquired  []string
	released  []string
}

func (f *fakeLocker) AcquireLock(_ context.Context, name string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired = append(f.acquired, name)
	return f.available, nil
}

func (f *fakeLocker) ReleaseLock(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, name)
	return nil
}

// mockPipelineActivities stands in for the full activity context in workflow
// tests, recording calls and replaying canned outputs.
type mockPipelineActivities struct {
	mu sync.Mutex

	recordOut    types.RecordEventsOutput
	applyOuts    map[string]*types.ApplyOrderEventOutput
	transferOuts map[string]*types.ApplyTransferEventOutput
	flagOut      *types.RecomputeOutput
	recomputeOut *types.RecomputeOutput
	repairOut    *types.RepairOrderOutput
	reorgOut     *types.ReorgOutput
	sweepOut     *types.ExpirySweepOutput
	scanOuts     []*types.BackfillBatchOutput
	scanIdx      int
	lockGranted  bool

	orderApplied     []string
	transfersApplied []string
	balanceScopes    []types.RecomputeBalanceInput
	tokenStarts      []types.RecomputeTokenInput
	collectionStarts []types.RecomputeCollectionInput
	repairBatches    []types.RepairBatchInput
	published        []types.PublishActivitiesInput
	deletedActivity  [][]string
	locksAcquired    []string
	locksReleased    []string
	cursorsAdvanced  []types.AdvanceCursorInput
	cursorsCleared   []string
	triggers         []types.OffchainTriggerInput
}

func (m *mockPipelineActivities) RecordEvents(_ context.Context, in *types.IngestBatchInput) (*types.RecordEventsOutput, error) {
	out := m.recordOut
	if len(out.Inserted) == 0 {
		out.Inserted = make([]bool, len(in.Events))
		for i := range out.Inserted {
			out.Inserted[i] = true
		}
	}
	return &out, nil
}

func (m *mockPipelineActivities) ApplyOrderEvent(_ context.Context, in *types.ApplyOrderEventInput) (*types.ApplyOrderEventOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orderApplied = append(m.orderApplied, in.Event.DedupKey())
	if out, ok := m.applyOuts[in.Event.DedupKey()]; ok {
		return out, nil
	}
	return &types.ApplyOrderEventOutput{OrderID: in.Event.OrderID}, nil
}

func (m *mockPipelineActivities) ApplyTransferEvent(_ context.Context, in *types.ApplyTransferEventInput) (*types.ApplyTransferEventOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfersApplied = append(m.transfersApplied, in.Event.DedupKey())
	if out, ok := m.transferOuts[in.Event.DedupKey()]; ok {
		return out, nil
	}
	return &types.ApplyTransferEventOutput{Contract: in.Event.Contract, TokenID: in.Event.TokenID}, nil
}

func (m *mockPipelineActivities) ApplyFlagChange(_ context.Context, _ *types.ApplyOrderEventInput) (*types.RecomputeOutput, error) {
	if m.flagOut != nil {
		return m.flagOut, nil
	}
	return &types.RecomputeOutput{}, nil
}

func (m *mockPipelineActivities) RecomputeToken(_ context.Context, _ *types.RecomputeTokenInput) (*types.RecomputeOutput, error) {
	if m.recomputeOut != nil {
		return m.recomputeOut, nil
	}
	return &types.RecomputeOutput{}, nil
}

func (m *mockPipelineActivities) RecomputeCollection(_ context.Context, in *types.RecomputeCollectionInput) (*types.RecomputeOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collectionStarts = append(m.collectionStarts, *in)
	return &types.RecomputeOutput{}, nil
}

func (m *mockPipelineActivities) RecomputeBalance(_ context.Context, in *types.RecomputeBalanceInput) (*types.RecomputeOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceScopes = append(m.balanceScopes, *in)
	return &types.RecomputeOutput{}, nil
}

func (m *mockPipelineActivities) StartTokenCacheWorkflow(_ context.Context, in *types.RecomputeTokenInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenStarts = append(m.tokenStarts, *in)
	return nil
}

func (m *mockPipelineActivities) StartCollectionCacheWorkflow(_ context.Context, in *types.RecomputeCollectionInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collectionStarts = append(m.collectionStarts, *in)
	return nil
}

func (m *mockPipelineActivities) RepairOrderFromEvents(_ context.Context, in *types.RepairOrderInput) (*types.RepairOrderOutput, error) {
	if m.repairOut != nil {
		return m.repairOut, nil
	}
	return &types.RepairOrderOutput{}, nil
}

func (m *mockPipelineActivities) StartOrderRepairBatch(_ context.Context, in *types.RepairBatchInput) (*types.RepairBatchOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repairBatches = append(m.repairBatches, *in)
	return &types.RepairBatchOutput{Started: len(in.OrderIDs)}, nil
}

func (m *mockPipelineActivities) DeleteBlockEvents(_ context.Context, _ *types.ReorgInput) (*types.ReorgOutput, error) {
	if m.reorgOut != nil {
		return m.reorgOut, nil
	}
	return &types.ReorgOutput{}, nil
}

func (m *mockPipelineActivities) DeleteActivities(_ context.Context, in *types.DeleteActivitiesInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedActivity = append(m.deletedActivity, in.IDs)
	return nil
}

func (m *mockPipelineActivities) PublishActivities(_ context.Context, in *types.PublishActivitiesInput) (*types.PublishActivitiesOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, *in)
	return &types.PublishActivitiesOutput{Published: len(in.Events)}, nil
}

func (m *mockPipelineActivities) SweepExpiredOrders(_ context.Context, _ *types.ExpirySweepInput) (*types.ExpirySweepOutput, error) {
	if m.sweepOut != nil {
		return m.sweepOut, nil
	}
	return &types.ExpirySweepOutput{}, nil
}

func (m *mockPipelineActivities) AcquireJobLock(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locksAcquired = append(m.locksAcquired, name)
	return m.lockGranted, nil
}

func (m *mockPipelineActivities) ReleaseJobLock(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locksReleased = append(m.locksReleased, name)
	return nil
}

func (m *mockPipelineActivities) ScanEventsBatch(_ context.Context, _ *types.BackfillInput) (*types.BackfillBatchOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scanIdx >= len(m.scanOuts) {
		return &types.BackfillBatchOutput{Done: true}, nil
	}
	out := m.scanOuts[m.scanIdx]
	m.scanIdx++
	return out, nil
}

func (m *mockPipelineActivities) AdvanceBackfillCursor(_ context.Context, in *types.AdvanceCursorInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursorsAdvanced = append(m.cursorsAdvanced, *in)
	return nil
}

func (m *mockPipelineActivities) IngestOffchainTrigger(_ context.Context, in *types.OffchainTriggerInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers = append(m.triggers, *in)
	return nil
}

func (m *mockPipelineActivities) ClearBackfillCursor(_ context.Context, jobName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursorsCleared = append(m.cursorsCleared, jobName)
	return nil
}

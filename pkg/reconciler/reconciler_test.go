package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	marketdb "github.com/mgamer/indexer-v3-sub017/pkg/db/market"
	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
)

type fakeMarketStore struct {
	collections []*marketmodels.Collection
	tokens      map[string][]*marketmodels.Token
	orders      map[string]*marketmodels.Order
	orderEvents map[string]bool

	collectionFloor  map[string]*marketdb.Candidate
	collectionTopBid map[string]*marketdb.Candidate
	tokenFloor       map[string]*marketdb.Candidate
	tokenTopBid      map[string]*marketdb.Candidate

	sampleCalls int
}

func (f *fakeMarketStore) SampleCollections(_ context.Context, n int) ([]*marketmodels.Collection, error) {
	f.sampleCalls++
	if len(f.collections) > n {
		return f.collections[:n], nil
	}
	return f.collections, nil
}

func (f *fakeMarketStore) SampleTokens(_ context.Context, collectionID string, _ int) ([]*marketmodels.Token, error) {
	return f.tokens[collectionID], nil
}

func candidateOrEmpty(m map[string]*marketdb.Candidate, key string) (*marketdb.Candidate, error) {
	if c, ok := m[key]; ok {
		return c, nil
	}
	return &marketdb.Candidate{}, nil
}

func (f *fakeMarketStore) ComputeTokenFloorAsk(_ context.Context, contract, tokenID string) (*marketdb.Candidate, error) {
	return candidateOrEmpty(f.tokenFloor, contract+":"+tokenID)
}

func (f *fakeMarketStore) ComputeTokenTopBid(_ context.Context, contract, tokenID string) (*marketdb.Candidate, error) {
	return candidateOrEmpty(f.tokenTopBid, contract+":"+tokenID)
}

func (f *fakeMarketStore) ComputeCollectionFloorAsk(_ context.Context, collectionID string) (*marketdb.Candidate, error) {
	return candidateOrEmpty(f.collectionFloor, collectionID)
}

func (f *fakeMarketStore) ComputeCollectionTopBid(_ context.Context, collectionID string) (*marketdb.Candidate, error) {
	return candidateOrEmpty(f.collectionTopBid, collectionID)
}

func (f *fakeMarketStore) GetOrder(_ context.Context, id string) (*marketmodels.Order, error) {
	if o, ok := f.orders[id]; ok {
		return o, nil
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeMarketStore) HasEventsForOrder(_ context.Context, orderID string) (bool, error) {
	return f.orderEvents[orderID], nil
}

type fakeLocker struct {
	available bool
	acquired  []string
	released  []string
}

func (f *fakeLocker) AcquireLock(_ context.Context, name string, _ time.Duration) (bool, error) {
	f.acquired = append(f.acquired, name)
	return f.available, nil
}

func (f *fakeLocker) ReleaseLock(_ context.Context, name string) error {
	f.released = append(f.released, name)
	return nil
}

type triggeredScope struct {
	kind    string
	scopeID string
	side    marketmodels.OrderSide
}

type fakeTrigger struct {
	scopes []triggeredScope
}

func (f *fakeTrigger) TriggerTokenRecompute(_ context.Context, contract, tokenID string, side marketmodels.OrderSide) error {
	f.scopes = append(f.scopes, triggeredScope{kind: "token", scopeID: contract + ":" + tokenID, side: side})
	return nil
}

func (f *fakeTrigger) TriggerCollectionRecompute(_ context.Context, collectionID string, side marketmodels.OrderSide) error {
	f.scopes = append(f.scopes, triggeredScope{kind: "collection", scopeID: collectionID, side: side})
	return nil
}

type fakeActivityStore struct {
	refs    map[string]string
	deleted [][]string
}

func (f *fakeActivityStore) ListDocumentOrderRefs(_ context.Context, _ int) (map[string]string, error) {
	return f.refs, nil
}

func (f *fakeActivityStore) DeleteDocuments(_ context.Context, ids []string) error {
	f.deleted = append(f.deleted, ids)
	return nil
}

func strPtr(s string) *string { return &s }

// sampledCollectionRow narrows a full row to the columns SampleCollections
// actually selects.
func sampledCollectionRow(c *marketmodels.Collection) *marketmodels.Collection {
	return &marketmodels.Collection{
		ID:                      c.ID,
		Contract:                c.Contract,
		FloorAskID:              c.FloorAskID,
		FloorAskValue:           c.FloorAskValue,
		NonFlaggedFloorAskID:    c.NonFlaggedFloorAskID,
		NonFlaggedFloorAskValue: c.NonFlaggedFloorAskValue,
		TopBidID:                c.TopBidID,
		TopBidValue:             c.TopBidValue,
	}
}

// sampledTokenRow narrows a full row to the columns SampleTokens selects.
func sampledTokenRow(tok *marketmodels.Token) *marketmodels.Token {
	return &marketmodels.Token{
		Contract:      tok.Contract,
		TokenID:       tok.TokenID,
		CollectionID:  tok.CollectionID,
		IsFlagged:     tok.IsFlagged,
		FloorAskID:    tok.FloorAskID,
		FloorAskValue: tok.FloorAskValue,
		TopBidID:      tok.TopBidID,
		TopBidValue:   tok.TopBidValue,
	}
}

func TestSampleCheckSkipsWhenLockHeld(t *testing.T) {
	store := &fakeMarketStore{collections: []*marketmodels.Collection{{ID: "c1"}}}
	locker := &fakeLocker{available: false}
	checker := NewChecker(zaptest.NewLogger(t), store, locker, &fakeTrigger{})

	require.NoError(t, checker.RunSampleCheck(context.Background()))
	require.Equal(t, 0, store.sampleCalls)
	require.Empty(t, locker.released)
}

func TestDivergentCollectionFloorTriggersRecompute(t *testing.T) {
	store := &fakeMarketStore{
		collections: []*marketmodels.Collection{
			{ID: "c1", FloorAskID: strPtr("stale-order")},
		},
		collectionFloor: map[string]*marketdb.Candidate{
			"c1": {OrderID: strPtr("fresh-order")},
		},
	}
	locker := &fakeLocker{available: true}
	trigger := &fakeTrigger{}
	checker := NewChecker(zaptest.NewLogger(t), store, locker, trigger)

	require.NoError(t, checker.RunSampleCheck(context.Background()))

	require.Len(t, trigger.scopes, 1)
	require.Equal(t, "collection", trigger.scopes[0].kind)
	require.Equal(t, "c1", trigger.scopes[0].scopeID)
	require.Equal(t, marketmodels.OrderSideSell, trigger.scopes[0].side)
	require.Equal(t, 1, checker.DivergenceCount("collection", "c1", marketmodels.OrderSideSell))
	require.Equal(t, []string{sampleLockName}, locker.released)
}

func TestDivergentTokenTopBidTriggersRecompute(t *testing.T) {
	store := &fakeMarketStore{
		collections: []*marketmodels.Collection{{ID: "c1"}},
		tokens: map[string][]*marketmodels.Token{
			"c1": {{Contract: "0xabc", TokenID: "7", CollectionID: "c1", TopBidID: strPtr("gone")}},
		},
	}
	trigger := &fakeTrigger{}
	checker := NewChecker(zaptest.NewLogger(t), store, &fakeLocker{available: true}, trigger)

	require.NoError(t, checker.RunSampleCheck(context.Background()))

	require.Len(t, trigger.scopes, 1)
	require.Equal(t, "token", trigger.scopes[0].kind)
	require.Equal(t, "0xabc:7", trigger.scopes[0].scopeID)
	require.Equal(t, marketmodels.OrderSideBuy, trigger.scopes[0].side)
}

func TestMatchingCacheClearsDivergenceCounter(t *testing.T) {
	store := &fakeMarketStore{
		collections: []*marketmodels.Collection{
			{ID: "c1", FloorAskID: strPtr("stale")},
		},
		collectionFloor: map[string]*marketdb.Candidate{
			"c1": {OrderID: strPtr("fresh")},
		},
	}
	checker := NewChecker(zaptest.NewLogger(t), store, &fakeLocker{available: true}, &fakeTrigger{})

	require.NoError(t, checker.RunSampleCheck(context.Background()))
	require.NoError(t, checker.RunSampleCheck(context.Background()))
	require.Equal(t, 2, checker.DivergenceCount("collection", "c1", marketmodels.OrderSideSell))

	store.collections[0].FloorAskID = strPtr("fresh")
	require.NoError(t, checker.RunSampleCheck(context.Background()))
	require.Equal(t, 0, checker.DivergenceCount("collection", "c1", marketmodels.OrderSideSell))
}

func TestCleanSampleTriggersNothing(t *testing.T) {
	store := &fakeMarketStore{
		collections: []*marketmodels.Collection{
			{ID: "c1", FloorAskID: strPtr("o1"), TopBidID: strPtr("o2")},
		},
		collectionFloor: map[string]*marketdb.Candidate{
			"c1": {OrderID: strPtr("o1")},
		},
		collectionTopBid: map[string]*marketdb.Candidate{
			"c1": {OrderID: strPtr("o2")},
		},
	}
	trigger := &fakeTrigger{}
	checker := NewChecker(zaptest.NewLogger(t), store, &fakeLocker{available: true}, trigger)

	require.NoError(t, checker.RunSampleCheck(context.Background()))
	require.Empty(t, trigger.scopes)
}

func TestConsistentCacheSurvivesSampleProjection(t *testing.T) {
	full := &marketmodels.Collection{
		ID:         "c1",
		Contract:   "0xabc",
		Name:       "not part of the sample projection",
		FloorAskID: strPtr("o1"),
		TopBidID:   strPtr("o2"),
	}
	tok := &marketmodels.Token{
		Contract:     "0xabc",
		TokenID:      "7",
		CollectionID: "c1",
		FloorAskID:   strPtr("o3"),
		TopBidID:     strPtr("o4"),
	}
	store := &fakeMarketStore{
		collections: []*marketmodels.Collection{sampledCollectionRow(full)},
		tokens: map[string][]*marketmodels.Token{
			"c1": {sampledTokenRow(tok)},
		},
		collectionFloor:  map[string]*marketdb.Candidate{"c1": {OrderID: strPtr("o1")}},
		collectionTopBid: map[string]*marketdb.Candidate{"c1": {OrderID: strPtr("o2")}},
		tokenFloor:       map[string]*marketdb.Candidate{"0xabc:7": {OrderID: strPtr("o3")}},
		tokenTopBid:      map[string]*marketdb.Candidate{"0xabc:7": {OrderID: strPtr("o4")}},
	}
	trigger := &fakeTrigger{}
	checker := NewChecker(zaptest.NewLogger(t), store, &fakeLocker{available: true}, trigger)

	require.NoError(t, checker.RunSampleCheck(context.Background()))

	require.Empty(t, trigger.scopes)
	require.Equal(t, 0, checker.DivergenceCount("collection", "c1", marketmodels.OrderSideSell))
	require.Equal(t, 0, checker.DivergenceCount("collection", "c1", marketmodels.OrderSideBuy))
	require.Equal(t, 0, checker.DivergenceCount("token", "0xabc:7", marketmodels.OrderSideSell))
	require.Equal(t, 0, checker.DivergenceCount("token", "0xabc:7", marketmodels.OrderSideBuy))
}

func TestOrphanedActivityDocumentsDeleted(t *testing.T) {
	store := &fakeMarketStore{
		orders:      map[string]*marketmodels.Order{"live-order": {ID: "live-order"}},
		orderEvents: map[string]bool{"events-only-order": true},
	}
	index := &fakeActivityStore{
		refs: map[string]string{
			"doc-live":   "live-order",
			"doc-events": "events-only-order",
			"doc-orphan": "vanished-order",
			"doc-mint":   "",
		},
	}
	checker := NewChecker(zaptest.NewLogger(t), store, nil, nil)

	require.NoError(t, checker.CheckOrphanedActivities(context.Background(), index))

	require.Len(t, index.deleted, 1)
	require.Equal(t, []string{"doc-orphan"}, index.deleted[0])
}

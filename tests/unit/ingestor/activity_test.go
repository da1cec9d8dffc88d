package ingestor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/activity"
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/types"
	"github.com/mgamer/indexer-v3-sub017/pkg/sources"
)

func newActivityContext(t *testing.T, store *fakeMarketStore, index *fakeActivityIndex, notifier *fakeNotifier) *activity.Context {
	t.Helper()
	ac := &activity.Context{
		Logger:        zaptest.NewLogger(t),
		MarketDB:      store,
		ActivityIndex: index,
	}
	if notifier != nil {
		ac.Notifier = notifier
	}
	return ac
}

func TestRecordEventsIdempotentFlags(t *testing.T) {
	store := newFakeMarketStore()
	ac := newActivityContext(t, store, newFakeActivityIndex(), nil)

	batch := &types.IngestBatchInput{Events: []*marketmodels.Event{
		newOrderEvent("tx1", marketmodels.EventKindNewOrder, "order-1"),
		newOrderEvent("tx2", marketmodels.EventKindFill, "order-1"),
	}}

	out, err := ac.RecordEvents(context.Background(), batch)
	require.NoError(t, err)
	require.Equal(t, []bool{true, true}, out.Inserted)

	out, err = ac.RecordEvents(context.Background(), batch)
	require.NoError(t, err)
	require.Equal(t, []bool{false, false}, out.Inserted)
}

func TestRecordEventsDeadLettersMalformed(t *testing.T) {
	store := newFakeMarketStore()
	ac := newActivityContext(t, store, newFakeActivityIndex(), nil)

	bad := newOrderEvent("tx1", marketmodels.EventKind("nonsense"), "order-1")
	good := newOrderEvent("tx2", marketmodels.EventKindCancel, "order-1")

	out, err := ac.RecordEvents(context.Background(), &types.IngestBatchInput{
		Events: []*marketmodels.Event{bad, good},
	})
	require.NoError(t, err)
	require.Equal(t, []bool{false, true}, out.Inserted)

	require.Len(t, store.deadLetters, 1)
	require.Contains(t, store.deadLetters[0].Reason, "nonsense")
}

func TestApplyOrderEventMaterializesFromFill(t *testing.T) {
	store := newFakeMarketStore()
	ac := newActivityContext(t, store, newFakeActivityIndex(), nil)

	fill := newOrderEvent("tx1", marketmodels.EventKindFill, "order-1")
	fill.Maker = "0xmaker"
	fill.Quantity = decimal.NewFromInt(1)

	out, err := ac.ApplyOrderEvent(context.Background(), &types.ApplyOrderEventInput{Event: fill})
	require.NoError(t, err)

	require.True(t, out.StatusChanged)
	require.Equal(t, marketmodels.OrderSideSell, out.Side)
	require.Equal(t, []types.TokenScope{{Contract: "0xabc", TokenID: "1"}}, out.Tokens)

	order, err := store.GetOrder(context.Background(), "order-1")
	require.NoError(t, err)
	require.Equal(t, marketmodels.StatusFilled, order.FillabilityStatus)

	require.Len(t, store.statusEvents, 1)
	require.Equal(t, marketmodels.StatusFilled, store.statusEvents[0].Status)
	require.Equal(t, marketmodels.StatusFillable, store.statusEvents[0].PrevStatus)
}

func TestApplyOrderEventCancelThenEarlierFillEndsFilled(t *testing.T) {
	store := newFakeMarketStore()
	ac := newActivityContext(t, store, newFakeActivityIndex(), nil)

	cancel := newOrderEvent("tx-cancel", marketmodels.EventKindCancel, "order-1")
	cancel.Timestamp = time.Unix(1700000100, 0).UTC()

	fill := newOrderEvent("tx-fill", marketmodels.EventKindFill, "order-1")
	fill.Timestamp = time.Unix(1700000090, 0).UTC()
	fill.Quantity = decimal.NewFromInt(1)

	_, err := ac.ApplyOrderEvent(context.Background(), &types.ApplyOrderEventInput{Event: cancel})
	require.NoError(t, err)
	_, err = ac.ApplyOrderEvent(context.Background(), &types.ApplyOrderEventInput{Event: fill})
	require.NoError(t, err)

	order, err := store.GetOrder(context.Background(), "order-1")
	require.NoError(t, err)
	require.Equal(t, marketmodels.StatusFilled, order.FillabilityStatus)
}

func TestApplyTransferEventMovesBalanceAndReportsOwners(t *testing.T) {
	store := newFakeMarketStore()
	ac := newActivityContext(t, store, newFakeActivityIndex(), nil)

	transfer := newOrderEvent("tx1", marketmodels.EventKindTransfer, "")
	transfer.From = "0xseller"
	transfer.To = "0xbuyer"
	transfer.Quantity = decimal.NewFromInt(2)

	out, err := ac.ApplyTransferEvent(context.Background(), &types.ApplyTransferEventInput{Event: transfer})
	require.NoError(t, err)
	require.Equal(t, []string{"0xseller", "0xbuyer"}, out.Owners)

	balance, err := store.GetBalance(context.Background(), "0xabc", "1", "0xbuyer")
	require.NoError(t, err)
	require.True(t, balance.Amount.Equal(decimal.NewFromInt(2)))
}

func TestMintFromZeroAddressReportsOnlyReceiver(t *testing.T) {
	store := newFakeMarketStore()
	ac := newActivityContext(t, store, newFakeActivityIndex(), nil)

	mint := newOrderEvent("tx1", marketmodels.EventKindMint, "")
	mint.From = marketmodels.ZeroAddress
	mint.To = "0xminter"
	mint.Quantity = decimal.NewFromInt(1)

	out, err := ac.ApplyTransferEvent(context.Background(), &types.ApplyTransferEventInput{Event: mint})
	require.NoError(t, err)
	require.Equal(t, []string{"0xminter"}, out.Owners)
}

func TestRecomputeTokenReportsCollectionAndNotifies(t *testing.T) {
	store := newFakeMarketStore()
	store.tokenFloorChanged = true
	require.NoError(t, store.EnsureToken(context.Background(), "0xabc", "1", "col-1"))

	notifier := newFakeNotifier()
	ac := newActivityContext(t, store, newFakeActivityIndex(), notifier)

	out, err := ac.RecomputeToken(context.Background(), &types.RecomputeTokenInput{
		Contract: "0xabc", TokenID: "1", Side: marketmodels.OrderSideSell,
	})
	require.NoError(t, err)
	require.True(t, out.Changed)
	require.Equal(t, "col-1", out.CollectionID)
	require.Equal(t, []string{"0xabc:1"}, store.tokenFloorCalls)
	require.NotEmpty(t, notifier.messages["market:cache-changes"])
}

func TestRecomputeTokenUnchangedStaysQuiet(t *testing.T) {
	store := newFakeMarketStore()
	notifier := newFakeNotifier()
	ac := newActivityContext(t, store, newFakeActivityIndex(), notifier)

	out, err := ac.RecomputeToken(context.Background(), &types.RecomputeTokenInput{
		Contract: "0xabc", TokenID: "1", Side: marketmodels.OrderSideBuy,
	})
	require.NoError(t, err)
	require.False(t, out.Changed)
	require.Empty(t, out.CollectionID)
	require.Empty(t, notifier.messages)
}

func TestPublishActivitiesRetriesFailedDocuments(t *testing.T) {
	store := newFakeMarketStore()
	index := newFakeActivityIndex()
	notifier := newFakeNotifier()
	ac := newActivityContext(t, store, index, notifier)

	sale := newOrderEvent("tx1", marketmodels.EventKindFill, "order-1")
	saleDocID := marketmodels.ActivityID(sale.TxHash, sale.LogIndex, sale.BatchIndex, marketmodels.ActivitySale)
	index.failOnce[saleDocID] = true

	out, err := ac.PublishActivities(context.Background(), &types.PublishActivitiesInput{
		Events: []*marketmodels.Event{sale},
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.Published)
	require.Empty(t, out.FailedIDs)
	require.Contains(t, index.docs, saleDocID)
	require.NotEmpty(t, notifier.messages["market:activities"])
}

func TestPublishActivitiesAttributesSource(t *testing.T) {
	store := newFakeMarketStore()
	index := newFakeActivityIndex()
	ac := newActivityContext(t, store, index, nil)
	ac.Sources = sources.NewRegistry(zaptest.NewLogger(t), store)

	store.sources["os"] = &marketmodels.Source{ID: "os", Domain: "opensea.io"}
	store.orders["order-1"] = &marketmodels.Order{
		ID:     "order-1",
		Side:   marketmodels.OrderSideSell,
		Source: "os",
	}

	sale := newOrderEvent("tx1", marketmodels.EventKindFill, "order-1")
	saleDocID := marketmodels.ActivityID(sale.TxHash, sale.LogIndex, sale.BatchIndex, marketmodels.ActivitySale)

	_, err := ac.PublishActivities(context.Background(), &types.PublishActivitiesInput{
		Events: []*marketmodels.Event{sale},
	})
	require.NoError(t, err)
	require.Equal(t, "opensea.io", index.docs[saleDocID].Source)
}

func TestPublishActivitiesSkipsAdministrativeKinds(t *testing.T) {
	store := newFakeMarketStore()
	index := newFakeActivityIndex()
	ac := newActivityContext(t, store, index, nil)

	expiry := newOrderEvent("tx1", marketmodels.EventKindExpiry, "order-1")

	out, err := ac.PublishActivities(context.Background(), &types.PublishActivitiesInput{
		Events: []*marketmodels.Event{expiry},
	})
	require.NoError(t, err)
	require.Zero(t, out.Published)
	require.Empty(t, index.docs)
}

func TestReorgDeleteAndRepairRestoresTruth(t *testing.T) {
	store := newFakeMarketStore()
	ac := newActivityContext(t, store, newFakeActivityIndex(), nil)

	// Listing on the canonical chain, fill on the block that gets orphaned.
	listing := newOrderEvent("tx-list", marketmodels.EventKindNewOrder, "order-1")
	listing.BlockHash = "0xcanonical"
	fill := newOrderEvent("tx-fill", marketmodels.EventKindFill, "order-1")
	fill.BlockHash = "0xorphan"
	fill.Timestamp = listing.Timestamp.Add(time.Minute)
	fill.Quantity = decimal.NewFromInt(1)

	_, err := ac.RecordEvents(context.Background(), &types.IngestBatchInput{
		Events: []*marketmodels.Event{listing, fill},
	})
	require.NoError(t, err)
	_, err = ac.ApplyOrderEvent(context.Background(), &types.ApplyOrderEventInput{Event: listing})
	require.NoError(t, err)
	_, err = ac.ApplyOrderEvent(context.Background(), &types.ApplyOrderEventInput{Event: fill})
	require.NoError(t, err)

	order, err := store.GetOrder(context.Background(), "order-1")
	require.NoError(t, err)
	require.Equal(t, marketmodels.StatusFilled, order.FillabilityStatus)

	reorgOut, err := ac.DeleteBlockEvents(context.Background(), &types.ReorgInput{BlockHash: "0xorphan"})
	require.NoError(t, err)
	require.Equal(t, 1, reorgOut.DeletedEvents)
	require.Equal(t, []string{"order-1"}, reorgOut.OrderIDs)
	require.NotEmpty(t, reorgOut.ActivityIDs)

	repairOut, err := ac.RepairOrderFromEvents(context.Background(), &types.RepairOrderInput{
		OrderID: "order-1", Trigger: "reorg",
	})
	require.NoError(t, err)
	require.True(t, repairOut.StatusChanged)

	order, err = store.GetOrder(context.Background(), "order-1")
	require.NoError(t, err)
	require.Equal(t, marketmodels.StatusFillable, order.FillabilityStatus)
}

func TestRepairOrderWithNoSurvivingEventsCancels(t *testing.T) {
	store := newFakeMarketStore()
	ac := newActivityContext(t, store, newFakeActivityIndex(), nil)

	fill := newOrderEvent("tx-fill", marketmodels.EventKindFill, "order-1")
	fill.BlockHash = "0xorphan"
	fill.Quantity = decimal.NewFromInt(1)

	_, err := ac.ApplyOrderEvent(context.Background(), &types.ApplyOrderEventInput{Event: fill})
	require.NoError(t, err)

	_, err = ac.DeleteBlockEvents(context.Background(), &types.ReorgInput{BlockHash: "0xorphan"})
	require.NoError(t, err)

	repairOut, err := ac.RepairOrderFromEvents(context.Background(), &types.RepairOrderInput{
		OrderID: "order-1", Trigger: "reorg",
	})
	require.NoError(t, err)
	require.True(t, repairOut.StatusChanged)

	order, err := store.GetOrder(context.Background(), "order-1")
	require.NoError(t, err)
	require.Equal(t, marketmodels.StatusCancelled, order.FillabilityStatus)
}

func TestScanEventsBatchResumesFromCursor(t *testing.T) {
	store := newFakeMarketStore()
	ac := newActivityContext(t, store, newFakeActivityIndex(), nil)

	base := time.Unix(1700000000, 0).UTC()
	events := make([]*marketmodels.Event, 0, 5)
	for i := 0; i < 5; i++ {
		ev := newOrderEvent("tx-scan-"+string(rune('a'+i)), marketmodels.EventKindNewOrder, "order-1")
		ev.CreatedAt = base.Add(time.Duration(i) * time.Second)
		events = append(events, ev)
	}
	_, err := store.InsertEvents(context.Background(), events)
	require.NoError(t, err)

	in := &types.BackfillInput{JobName: "replay", BatchSize: 3}

	first, err := ac.ScanEventsBatch(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, first.Events, 3)
	require.False(t, first.Done)

	require.NoError(t, ac.AdvanceBackfillCursor(context.Background(), &types.AdvanceCursorInput{
		JobName: "replay", Position: first.Position,
	}))

	second, err := ac.ScanEventsBatch(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, second.Events, 2)
	require.True(t, second.Done)
	require.Equal(t, events[3].TxHash, second.Events[0].TxHash)

	require.NoError(t, ac.ClearBackfillCursor(context.Background(), "replay"))
	restarted, err := ac.ScanEventsBatch(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, restarted.Events, 3)
	require.Equal(t, events[0].TxHash, restarted.Events[0].TxHash)
}

func TestSweepExpiredOrdersFlipsOverdue(t *testing.T) {
	store := newFakeMarketStore()
	ac := newActivityContext(t, store, newFakeActivityIndex(), nil)

	past := time.Now().Add(-time.Hour).UTC()
	order := &marketmodels.Order{
		ID:                "order-1",
		Side:              marketmodels.OrderSideSell,
		TokenSetID:        marketmodels.SingleTokenSetID("0xabc", "1"),
		FillabilityStatus: marketmodels.StatusFillable,
		ApprovalStatus:    marketmodels.ApprovalApproved,
		ValidUntil:        &past,
	}
	_, err := store.InsertOrder(context.Background(), order)
	require.NoError(t, err)
	require.NoError(t, store.UpsertTokenSetTokens(context.Background(), []*marketmodels.TokenSetToken{{
		TokenSetID: order.TokenSetID, Contract: "0xabc", TokenID: "1",
	}}))

	out, err := ac.SweepExpiredOrders(context.Background(), &types.ExpirySweepInput{Limit: 10})
	require.NoError(t, err)
	require.Len(t, out.Expired, 1)
	require.Equal(t, "order-1", out.Expired[0].OrderID)
	require.Equal(t, []types.TokenScope{{Contract: "0xabc", TokenID: "1"}}, out.Expired[0].Tokens)

	stored, err := store.GetOrder(context.Background(), "order-1")
	require.NoError(t, err)
	require.Equal(t, marketmodels.StatusExpired, stored.FillabilityStatus)

	require.Len(t, store.statusEvents, 1)
	require.Equal(t, marketmodels.StatusExpired, store.statusEvents[0].Status)
	require.Equal(t, marketmodels.StatusFillable, store.statusEvents[0].PrevStatus)
}

func TestSweepExpiredOrdersRecordsPriorStatus(t *testing.T) {
	store := newFakeMarketStore()
	ac := newActivityContext(t, store, newFakeActivityIndex(), nil)

	past := time.Now().Add(-time.Hour).UTC()
	order := &marketmodels.Order{
		ID:                "order-1",
		Side:              marketmodels.OrderSideSell,
		TokenSetID:        marketmodels.SingleTokenSetID("0xabc", "1"),
		FillabilityStatus: marketmodels.StatusNoBalance,
		ValidUntil:        &past,
	}
	_, err := store.InsertOrder(context.Background(), order)
	require.NoError(t, err)
	require.NoError(t, store.UpsertTokenSetTokens(context.Background(), []*marketmodels.TokenSetToken{{
		TokenSetID: order.TokenSetID, Contract: "0xabc", TokenID: "1",
	}}))

	out, err := ac.SweepExpiredOrders(context.Background(), &types.ExpirySweepInput{Limit: 10})
	require.NoError(t, err)
	require.Len(t, out.Expired, 1)

	require.Len(t, store.statusEvents, 1)
	require.Equal(t, marketmodels.StatusExpired, store.statusEvents[0].Status)
	require.Equal(t, marketmodels.StatusNoBalance, store.statusEvents[0].PrevStatus)
}

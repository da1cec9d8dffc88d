package ingestor

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/activity"
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/types"
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/workflow"
)

func newWorkflowEnv(t *testing.T, mock *mockPipelineActivities) (*testsuite.TestWorkflowEnvironment, workflow.Context) {
	t.Helper()
	suite := testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	wfCtx := workflow.Context{ActivityContext: &activity.Context{}}

	env.RegisterActivity(mock.RecordEvents)
	env.RegisterActivity(mock.ApplyOrderEvent)
	env.RegisterActivity(mock.ApplyTransferEvent)
	env.RegisterActivity(mock.ApplyFlagChange)
	env.RegisterActivity(mock.RecomputeToken)
	env.RegisterActivity(mock.RecomputeCollection)
	env.RegisterActivity(mock.RecomputeBalance)
	env.RegisterActivity(mock.StartTokenCacheWorkflow)
	env.RegisterActivity(mock.StartCollectionCacheWorkflow)
	env.RegisterActivity(mock.RepairOrderFromEvents)
	env.RegisterActivity(mock.StartOrderRepairBatch)
	env.RegisterActivity(mock.DeleteBlockEvents)
	env.RegisterActivity(mock.DeleteActivities)
	env.RegisterActivity(mock.PublishActivities)
	env.RegisterActivity(mock.SweepExpiredOrders)
	env.RegisterActivity(mock.AcquireJobLock)
	env.RegisterActivity(mock.ReleaseJobLock)
	env.RegisterActivity(mock.ScanEventsBatch)
	env.RegisterActivity(mock.AdvanceBackfillCursor)
	env.RegisterActivity(mock.ClearBackfillCursor)
	env.RegisterActivity(mock.IngestOffchainTrigger)

	return env, wfCtx
}

func newOrderEvent(tx string, kind marketmodels.EventKind, orderID string) *marketmodels.Event {
	return &marketmodels.Event{
		TxHash:      tx,
		Kind:        kind,
		OrderID:     orderID,
		Contract:    "0xabc",
		TokenID:     "1",
		Quantity:    decimal.NewFromInt(1),
		BlockNumber: 50,
		BlockHash:   "0xblock",
		Timestamp:   time.Unix(1700000000, 0).UTC(),
	}
}

func TestIngestBatchWorkflowDispatchesByKind(t *testing.T) {
	orderEv := newOrderEvent("tx1", marketmodels.EventKindNewOrder, "order-1")
	transferEv := newOrderEvent("tx2", marketmodels.EventKindTransfer, "")
	transferEv.From = "0xseller"
	transferEv.To = "0xbuyer"

	mock := &mockPipelineActivities{
		applyOuts: map[string]*types.ApplyOrderEventOutput{
			orderEv.DedupKey(): {
				StatusChanged: true,
				OrderID:       "order-1",
				Side:          marketmodels.OrderSideSell,
				Tokens:        []types.TokenScope{{Contract: "0xabc", TokenID: "1"}},
			},
		},
		transferOuts: map[string]*types.ApplyTransferEventOutput{
			transferEv.DedupKey(): {
				Contract: "0xabc",
				TokenID:  "1",
				Owners:   []string{"0xseller", "0xbuyer"},
			},
		},
	}
	env, wfCtx := newWorkflowEnv(t, mock)
	env.RegisterWorkflow(wfCtx.IngestBatchWorkflow)

	env.ExecuteWorkflow(wfCtx.IngestBatchWorkflow, types.IngestBatchInput{
		Events: []*marketmodels.Event{orderEv, transferEv},
	})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	require.Equal(t, []string{orderEv.DedupKey()}, mock.orderApplied)
	require.Equal(t, []string{transferEv.DedupKey()}, mock.transfersApplied)

	// Transfer produces four balance recomputes: two owners, both sides.
	require.Len(t, mock.balanceScopes, 4)

	// Token recomputes coalesce: sell from the order event plus buy from the
	// transfer, so the sell scope appears once.
	require.Len(t, mock.tokenStarts, 2)
	sides := map[marketmodels.OrderSide]int{}
	for _, scope := range mock.tokenStarts {
		require.Equal(t, "0xabc", scope.Contract)
		require.Equal(t, "1", scope.TokenID)
		sides[scope.Side]++
	}
	require.Equal(t, 1, sides[marketmodels.OrderSideSell])
	require.Equal(t, 1, sides[marketmodels.OrderSideBuy])

	require.Len(t, mock.published, 1)
	require.Len(t, mock.published[0].Events, 2)
}

func TestIngestBatchWorkflowSkipsDuplicates(t *testing.T) {
	orderEv := newOrderEvent("tx1", marketmodels.EventKindFill, "order-1")

	mock := &mockPipelineActivities{
		recordOut: types.RecordEventsOutput{Inserted: []bool{false}},
	}
	env, wfCtx := newWorkflowEnv(t, mock)
	env.RegisterWorkflow(wfCtx.IngestBatchWorkflow)

	env.ExecuteWorkflow(wfCtx.IngestBatchWorkflow, types.IngestBatchInput{
		Events: []*marketmodels.Event{orderEv},
	})
	require.NoError(t, env.GetWorkflowError())

	require.Empty(t, mock.orderApplied)
	require.Empty(t, mock.tokenStarts)
	require.Empty(t, mock.published)
}

func TestIngestBatchWorkflowFlagChangeCascadesToCollection(t *testing.T) {
	flagEv := newOrderEvent("tx9", marketmodels.EventKindFlagChange, "")
	flagEv.RawData = `{"flagged":true}`

	mock := &mockPipelineActivities{
		flagOut: &types.RecomputeOutput{Changed: true, CollectionID: "col-1"},
	}
	env, wfCtx := newWorkflowEnv(t, mock)
	env.RegisterWorkflow(wfCtx.IngestBatchWorkflow)

	env.ExecuteWorkflow(wfCtx.IngestBatchWorkflow, types.IngestBatchInput{
		Events: []*marketmodels.Event{flagEv},
	})
	require.NoError(t, env.GetWorkflowError())

	require.Len(t, mock.collectionStarts, 1)
	require.Equal(t, "col-1", mock.collectionStarts[0].CollectionID)
	require.Equal(t, marketmodels.OrderSideSell, mock.collectionStarts[0].Side)
}

func TestOffchainTriggerWorkflowForwardsPayload(t *testing.T) {
	mock := &mockPipelineActivities{}
	env, wfCtx := newWorkflowEnv(t, mock)
	env.RegisterWorkflow(wfCtx.OffchainTriggerWorkflow)

	env.ExecuteWorkflow(wfCtx.OffchainTriggerWorkflow, types.OffchainTriggerInput{
		EntityID:    "order-7",
		TriggerKind: "approval-change",
		NewValue:    "no-approval",
	})
	require.NoError(t, env.GetWorkflowError())

	require.Len(t, mock.triggers, 1)
	require.Equal(t, "order-7", mock.triggers[0].EntityID)
	require.Equal(t, "approval-change", mock.triggers[0].TriggerKind)
}

package ingestor

import (
	"testing"

	"github.com/stretchr/testify/require"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/types"
)

func TestBackfillWorkflowSkipsWhenLockHeld(t *testing.T) {
	mock := &mockPipelineActivities{lockGranted: false}
	env, wfCtx := newWorkflowEnv(t, mock)
	env.RegisterWorkflow(wfCtx.BackfillWorkflow)

	env.ExecuteWorkflow(wfCtx.BackfillWorkflow, types.BackfillInput{JobName: "replay-all", BatchSize: 100})
	require.NoError(t, env.GetWorkflowError())

	require.Equal(t, []string{"backfill:replay-all"}, mock.locksAcquired)
	require.Empty(t, mock.locksReleased)
	require.Empty(t, mock.repairBatches)
	require.Empty(t, mock.cursorsAdvanced)
}

func TestBackfillWorkflowProcessesBatchesAndClearsCursor(t *testing.T) {
	ev1 := newOrderEvent("tx1", marketmodels.EventKindNewOrder, "order-1")
	ev2 := newOrderEvent("tx2", marketmodels.EventKindFill, "order-1")
	ev3 := newOrderEvent("tx3", marketmodels.EventKindCancel, "order-2")

	mock := &mockPipelineActivities{
		lockGranted: true,
		scanOuts: []*types.BackfillBatchOutput{
			{Events: []*marketmodels.Event{ev1, ev2}, Position: "pos-1"},
			{Events: []*marketmodels.Event{ev3}, Position: "pos-2", Done: true},
		},
	}
	env, wfCtx := newWorkflowEnv(t, mock)
	env.RegisterWorkflow(wfCtx.BackfillWorkflow)

	env.ExecuteWorkflow(wfCtx.BackfillWorkflow, types.BackfillInput{JobName: "replay-all", BatchSize: 2})
	require.NoError(t, env.GetWorkflowError())

	// Repairs dedupe per batch on order id: order-1 appears twice in the
	// first batch but is dispatched once.
	require.Len(t, mock.repairBatches, 2)
	require.Equal(t, []string{"order-1"}, mock.repairBatches[0].OrderIDs)
	require.Equal(t, []string{"order-2"}, mock.repairBatches[1].OrderIDs)
	require.Equal(t, "replay-all", mock.repairBatches[0].Trigger)

	require.Len(t, mock.cursorsAdvanced, 2)
	require.Equal(t, "pos-1", mock.cursorsAdvanced[0].Position)
	require.Equal(t, "pos-2", mock.cursorsAdvanced[1].Position)

	require.Equal(t, []string{"replay-all"}, mock.cursorsCleared)
	require.Equal(t, []string{"backfill:replay-all"}, mock.locksReleased)
}

func TestBackfillWorkflowEmptyScanFinishesCampaign(t *testing.T) {
	mock := &mockPipelineActivities{lockGranted: true}
	env, wfCtx := newWorkflowEnv(t, mock)
	env.RegisterWorkflow(wfCtx.BackfillWorkflow)

	env.ExecuteWorkflow(wfCtx.BackfillWorkflow, types.BackfillInput{JobName: "replay-all", BatchSize: 100})
	require.NoError(t, env.GetWorkflowError())

	require.Empty(t, mock.repairBatches)
	require.Empty(t, mock.cursorsAdvanced)
	require.Equal(t, []string{"replay-all"}, mock.cursorsCleared)
	require.Equal(t, []string{"backfill:replay-all"}, mock.locksReleased)
}

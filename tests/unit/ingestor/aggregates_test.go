package ingestor

import (
	"testing"

	"github.com/stretchr/testify/require"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/types"
)

func TestTokenCacheWorkflowCascadesOnChange(t *testing.T) {
	mock := &mockPipelineActivities{
		recomputeOut: &types.RecomputeOutput{Changed: true, CollectionID: "col-1"},
	}
	env, wfCtx := newWorkflowEnv(t, mock)
	env.RegisterWorkflow(wfCtx.TokenCacheWorkflow)

	env.ExecuteWorkflow(wfCtx.TokenCacheWorkflow, types.RecomputeTokenInput{
		Contract: "0xabc", TokenID: "1", Side: marketmodels.OrderSideSell,
	})
	require.NoError(t, env.GetWorkflowError())

	require.Len(t, mock.collectionStarts, 1)
	require.Equal(t, "col-1", mock.collectionStarts[0].CollectionID)
	require.Equal(t, marketmodels.OrderSideSell, mock.collectionStarts[0].Side)
}

func TestTokenCacheWorkflowStopsWhenUnchanged(t *testing.T) {
	mock := &mockPipelineActivities{
		recomputeOut: &types.RecomputeOutput{Changed: false},
	}
	env, wfCtx := newWorkflowEnv(t, mock)
	env.RegisterWorkflow(wfCtx.TokenCacheWorkflow)

	env.ExecuteWorkflow(wfCtx.TokenCacheWorkflow, types.RecomputeTokenInput{
		Contract: "0xabc", TokenID: "1", Side: marketmodels.OrderSideBuy,
	})
	require.NoError(t, env.GetWorkflowError())
	require.Empty(t, mock.collectionStarts)
}

func TestOrderUpdateWorkflowFansOutOnStatusChange(t *testing.T) {
	mock := &mockPipelineActivities{
		repairOut: &types.RepairOrderOutput{
			StatusChanged: true,
			Side:          marketmodels.OrderSideBuy,
			Tokens: []types.TokenScope{
				{Contract: "0xabc", TokenID: "1"},
				{Contract: "0xabc", TokenID: "2"},
			},
		},
	}
	env, wfCtx := newWorkflowEnv(t, mock)
	env.RegisterWorkflow(wfCtx.OrderUpdateWorkflow)

	env.ExecuteWorkflow(wfCtx.OrderUpdateWorkflow, types.RepairOrderInput{OrderID: "order-1", Trigger: "reorg"})
	require.NoError(t, env.GetWorkflowError())

	require.Len(t, mock.tokenStarts, 2)
	for _, scope := range mock.tokenStarts {
		require.Equal(t, marketmodels.OrderSideBuy, scope.Side)
	}
}

func TestOrderUpdateWorkflowNoChangeNoFanOut(t *testing.T) {
	mock := &mockPipelineActivities{
		repairOut: &types.RepairOrderOutput{
			StatusChanged: false,
			Tokens:        []types.TokenScope{{Contract: "0xabc", TokenID: "1"}},
		},
	}
	env, wfCtx := newWorkflowEnv(t, mock)
	env.RegisterWorkflow(wfCtx.OrderUpdateWorkflow)

	env.ExecuteWorkflow(wfCtx.OrderUpdateWorkflow, types.RepairOrderInput{OrderID: "order-1", Trigger: "backfill"})
	require.NoError(t, env.GetWorkflowError())
	require.Empty(t, mock.tokenStarts)
}

func TestExpirySweepWorkflowFansOutPerExpiredOrder(t *testing.T) {
	mock := &mockPipelineActivities{
		sweepOut: &types.ExpirySweepOutput{
			Expired: []types.ExpiredOrderScope{
				{
					OrderID: "order-1",
					Side:    marketmodels.OrderSideSell,
					Tokens:  []types.TokenScope{{Contract: "0xabc", TokenID: "1"}},
				},
			},
		},
	}
	env, wfCtx := newWorkflowEnv(t, mock)
	env.RegisterWorkflow(wfCtx.ExpirySweepWorkflow)

	env.ExecuteWorkflow(wfCtx.ExpirySweepWorkflow, types.ExpirySweepInput{Limit: 100})
	require.NoError(t, env.GetWorkflowError())

	require.Len(t, mock.tokenStarts, 1)
	require.Equal(t, marketmodels.OrderSideSell, mock.tokenStarts[0].Side)
}

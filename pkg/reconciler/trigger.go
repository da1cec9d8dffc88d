package reconciler

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	sdktemporal "go.temporal.io/sdk/temporal"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/types"
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/workflow"
	"github.com/mgamer/indexer-v3-sub017/pkg/temporal"
)

// WorkflowTrigger repairs divergent scopes by starting the same coalesced
// recompute workflows the ingest pipeline uses.
type WorkflowTrigger struct {
	Temporal *temporal.Client
}

var _ Trigger = (*WorkflowTrigger)(nil)

func (t *WorkflowTrigger) TriggerTokenRecompute(ctx context.Context, contract, tokenID string, side marketmodels.OrderSide) error {
	wfID := t.Temporal.GetTokenCacheWorkflowId(contract, tokenID, string(side))
	return t.start(ctx, wfID, workflow.TokenCacheWorkflowName, &types.RecomputeTokenInput{
		Contract: contract,
		TokenID:  tokenID,
		Side:     side,
	})
}

func (t *WorkflowTrigger) TriggerCollectionRecompute(ctx context.Context, collectionID string, side marketmodels.OrderSide) error {
	wfID := t.Temporal.GetCollectionCacheWorkflowId(collectionID, string(side))
	return t.start(ctx, wfID, workflow.CollectionCacheWorkflowName, &types.RecomputeCollectionInput{
		CollectionID: collectionID,
		Side:         side,
	})
}

func (t *WorkflowTrigger) start(ctx context.Context, wfID, name string, in any) error {
	options := client.StartWorkflowOptions{
		ID:        wfID,
		TaskQueue: t.Temporal.GetAggregatesQueue(),
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 1.2,
			MaximumInterval:    5 * time.Second,
			MaximumAttempts:    0,
		},
	}
	_, err := t.Temporal.TClient.ExecuteWorkflow(ctx, options, name, in)
	if err != nil {
		var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &alreadyStarted) {
			return nil
		}
		return err
	}
	return nil
}

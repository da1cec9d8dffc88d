package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/types"
)

// ReorgWorkflow handles one orphaned block: delete its events and activity
// documents, then repair every touched order and token scope from the
// surviving history.
func (wc *Context) ReorgWorkflow(ctx workflow.Context, in types.ReorgInput) error {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 1.5,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    0,
		},
	})

	var out types.ReorgOutput
	if err := workflow.ExecuteActivity(ctx, wc.ActivityContext.DeleteBlockEvents, &in).Get(ctx, &out); err != nil {
		return err
	}
	if out.DeletedEvents == 0 {
		return nil
	}

	if len(out.ActivityIDs) > 0 {
		err := workflow.ExecuteActivity(ctx, wc.ActivityContext.DeleteActivities,
			&types.DeleteActivitiesInput{IDs: out.ActivityIDs}).Get(ctx, nil)
		if err != nil {
			return err
		}
	}

	if len(out.OrderIDs) > 0 {
		err := workflow.ExecuteActivity(ctx, wc.ActivityContext.StartOrderRepairBatch,
			&types.RepairBatchInput{OrderIDs: out.OrderIDs, Trigger: "reorg"}).Get(ctx, nil)
		if err != nil {
			return err
		}
	}

	// Token caches may have pointed at orders whose events just vanished, so
	// both sides are recomputed regardless of repair outcomes.
	for _, scope := range out.Tokens {
		for _, side := range []marketmodels.OrderSide{marketmodels.OrderSideSell, marketmodels.OrderSideBuy} {
			err := workflow.ExecuteActivity(ctx, wc.ActivityContext.StartTokenCacheWorkflow,
				&types.RecomputeTokenInput{
					Contract: scope.Contract,
					TokenID:  scope.TokenID,
					Side:     side,
				}).Get(ctx, nil)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

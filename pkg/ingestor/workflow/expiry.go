package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/types"
)

// ExpirySweepWorkflow runs one bounded pass over overdue orders and fans out
// the cache recomputes for every order the pass expired. The schedule drives
// the cadence; a full batch just means the next tick has more work.
func (wc *Context) ExpirySweepWorkflow(ctx workflow.Context, in types.ExpirySweepInput) error {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 1.5,
			MaximumInterval:    15 * time.Second,
			MaximumAttempts:    5,
		},
	})

	var out types.ExpirySweepOutput
	if err := workflow.ExecuteActivity(ctx, wc.ActivityContext.SweepExpiredOrders, &in).Get(ctx, &out); err != nil {
		return err
	}

	for _, expired := range out.Expired {
		for _, scope := range expired.Tokens {
			err := workflow.ExecuteActivity(ctx, wc.ActivityContext.StartTokenCacheWorkflow,
				&types.RecomputeTokenInput{
					Contract: scope.Contract,
					TokenID:  scope.TokenID,
					Side:     expired.Side,
				}).Get(ctx, nil)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

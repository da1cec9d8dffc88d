package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/types"
)

func aggregateActivityOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    250 * time.Millisecond,
			BackoffCoefficient: 1.5,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    10,
		},
	})
}

// TokenCacheWorkflow recomputes one token-scope cache and cascades to the
// collection scope only when the token's winner actually changed. Retry
// exhaustion leaves the cache stale until the next trigger, never wrong.
func (wc *Context) TokenCacheWorkflow(ctx workflow.Context, in types.RecomputeTokenInput) error {
	ctx = aggregateActivityOptions(ctx)

	var out types.RecomputeOutput
	if err := workflow.ExecuteActivity(ctx, wc.ActivityContext.RecomputeToken, &in).Get(ctx, &out); err != nil {
		return err
	}
	if !out.Changed || out.CollectionID == "" {
		return nil
	}

	return workflow.ExecuteActivity(ctx, wc.ActivityContext.StartCollectionCacheWorkflow,
		&types.RecomputeCollectionInput{
			CollectionID: out.CollectionID,
			Side:         in.Side,
		}).Get(ctx, nil)
}

// CollectionCacheWorkflow recomputes one collection-scope cache.
func (wc *Context) CollectionCacheWorkflow(ctx workflow.Context, in types.RecomputeCollectionInput) error {
	ctx = aggregateActivityOptions(ctx)
	return workflow.ExecuteActivity(ctx, wc.ActivityContext.RecomputeCollection, &in).Get(ctx, nil)
}

// OrderUpdateWorkflow re-derives one order from its surviving events and, on
// a status change, fans out the token recomputes for its token set.
func (wc *Context) OrderUpdateWorkflow(ctx workflow.Context, in types.RepairOrderInput) error {
	ctx = aggregateActivityOptions(ctx)

	var out types.RepairOrderOutput
	if err := workflow.ExecuteActivity(ctx, wc.ActivityContext.RepairOrderFromEvents, &in).Get(ctx, &out); err != nil {
		return err
	}
	if !out.StatusChanged {
		return nil
	}

	for _, scope := range out.Tokens {
		err := workflow.ExecuteActivity(ctx, wc.ActivityContext.StartTokenCacheWorkflow,
			&types.RecomputeTokenInput{
				Contract: scope.Contract,
				TokenID:  scope.TokenID,
				Side:     out.Side,
			}).Get(ctx, nil)
		if err != nil {
			return err
		}
	}
	return nil
}

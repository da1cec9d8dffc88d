package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/types"
)

// OffchainTriggerWorkflow is the entry point the API layer calls for
// approval changes, spam flags, and admin refreshes.
func (wc *Context) OffchainTriggerWorkflow(ctx workflow.Context, in types.OffchainTriggerInput) error {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    250 * time.Millisecond,
			BackoffCoefficient: 1.5,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    10,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	return workflow.ExecuteActivity(ctx, wc.ActivityContext.IngestOffchainTrigger, &in).Get(ctx, nil)
}

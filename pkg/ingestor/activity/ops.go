package activity

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/types"
)

// startOptions builds the shared start options. The workflow id is the dedup
// key: a second start for the same scope while one is still running coalesces
// into the running execution.
func (c *Context) startOptions(wfID, queue string) client.StartWorkflowOptions {
	return client.StartWorkflowOptions{
		ID:        wfID,
		TaskQueue: queue,
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 1.2,
			MaximumInterval:    5 * time.Second,
			MaximumAttempts:    0,
		},
	}
}

func (c *Context) startWorkflow(ctx context.Context, options client.StartWorkflowOptions, name string, in any) error {
	logger := activity.GetLogger(ctx)
	_, err := c.TemporalClient.TClient.ExecuteWorkflow(ctx, options, name, in)
	if err != nil {
		var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &alreadyStarted) {
			return nil
		}
		logger.Error("failed to start workflow", zap.String("workflow", name), zap.Error(err))
		return err
	}
	return nil
}

// StartIngestWorkflow starts (or resumes) ingestion for one block's batch.
func (c *Context) StartIngestWorkflow(ctx context.Context, in *types.IngestBatchInput) error {
	if len(in.Events) == 0 {
		return nil
	}
	wfID := c.TemporalClient.GetIngestBlockWorkflowId(in.Events[0].BlockNumber)
	options := c.startOptions(wfID, c.TemporalClient.GetIngestQueue())
	return c.startWorkflow(ctx, options, "IngestBatchWorkflow", in)
}

// StartTokenCacheWorkflow coalesces token-scope recomputes per (token, side).
func (c *Context) StartTokenCacheWorkflow(ctx context.Context, in *types.RecomputeTokenInput) error {
	wfID := c.TemporalClient.GetTokenCacheWorkflowId(in.Contract, in.TokenID, string(in.Side))
	options := c.startOptions(wfID, c.TemporalClient.GetAggregatesQueue())
	return c.startWorkflow(ctx, options, "TokenCacheWorkflow", in)
}

// StartCollectionCacheWorkflow coalesces collection-scope recomputes per
// (collection, side).
func (c *Context) StartCollectionCacheWorkflow(ctx context.Context, in *types.RecomputeCollectionInput) error {
	wfID := c.TemporalClient.GetCollectionCacheWorkflowId(in.CollectionID, string(in.Side))
	options := c.startOptions(wfID, c.TemporalClient.GetAggregatesQueue())
	return c.startWorkflow(ctx, options, "CollectionCacheWorkflow", in)
}

// StartOrderUpdateWorkflow coalesces order repairs per (order, trigger).
func (c *Context) StartOrderUpdateWorkflow(ctx context.Context, in *types.RepairOrderInput) error {
	wfID := c.TemporalClient.GetOrderUpdateWorkflowId(in.OrderID, in.Trigger)
	options := c.startOptions(wfID, c.TemporalClient.GetOpsQueue())
	return c.startWorkflow(ctx, options, "OrderUpdateWorkflow", in)
}

// StartOrderRepairBatch dispatches repair workflows for a whole scanned batch
// in parallel. Already-running repairs count as started.
func (c *Context) StartOrderRepairBatch(ctx context.Context, in *types.RepairBatchInput) (*types.RepairBatchOutput, error) {
	logger := activity.GetLogger(ctx)
	if len(in.OrderIDs) == 0 {
		return &types.RepairBatchOutput{}, nil
	}

	var started, failed atomic.Int32
	pool := pond.NewPool(min(len(in.OrderIDs), 16))
	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for _, orderID := range in.OrderIDs {
		id := orderID
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			err := c.StartOrderUpdateWorkflow(groupCtx, &types.RepairOrderInput{OrderID: id, Trigger: in.Trigger})
			if err != nil {
				failed.Add(1)
				return
			}
			started.Add(1)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		logger.Warn("repair batch dispatch group encountered error", zap.Error(err))
	}
	pool.StopAndWait()

	return &types.RepairBatchOutput{
		Started: int(started.Load()),
		Failed:  int(failed.Load()),
	}, nil
}

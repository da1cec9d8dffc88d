package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/types"
)

// maxBackfillBatchesPerRun caps history growth per workflow run; the
// campaign continues as a fresh run with the cursor already persisted.
const maxBackfillBatchesPerRun = 25

// BackfillWorkflow replays stored events in stable cursor order, dispatching
// coalesced order repairs per batch. Exactly one run per job name is active
// at a time: the named lock makes a second concurrent campaign skip instead
// of interleaving, and a crash resumes from the last committed cursor.
func (wc *Context) BackfillWorkflow(ctx workflow.Context, in types.BackfillInput) error {
	logger := workflow.GetLogger(ctx)
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 1.5,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	})

	lockName := "backfill:" + in.JobName
	var acquired bool
	if err := workflow.ExecuteActivity(ctx, wc.ActivityContext.AcquireJobLock, lockName).Get(ctx, &acquired); err != nil {
		return err
	}
	if !acquired {
		logger.Info("Backfill lock held elsewhere, skipping this cycle", "job", in.JobName)
		return nil
	}

	release := func() {
		if err := workflow.ExecuteActivity(ctx, wc.ActivityContext.ReleaseJobLock, lockName).Get(ctx, nil); err != nil {
			logger.Warn("Failed to release backfill lock", "job", in.JobName, "error", err)
		}
	}

	for {
		var batch types.BackfillBatchOutput
		if err := workflow.ExecuteActivity(ctx, wc.ActivityContext.ScanEventsBatch, &in).Get(ctx, &batch); err != nil {
			release()
			return err
		}

		if len(batch.Events) > 0 {
			orderIDs := distinctOrderIDs(batch)
			if len(orderIDs) > 0 {
				err := workflow.ExecuteActivity(ctx, wc.ActivityContext.StartOrderRepairBatch,
					&types.RepairBatchInput{OrderIDs: orderIDs, Trigger: in.JobName}).Get(ctx, nil)
				if err != nil {
					release()
					return err
				}
			}
			err := workflow.ExecuteActivity(ctx, wc.ActivityContext.AdvanceBackfillCursor,
				&types.AdvanceCursorInput{JobName: in.JobName, Position: batch.Position}).Get(ctx, nil)
			if err != nil {
				release()
				return err
			}
		}

		if batch.Done {
			err := workflow.ExecuteActivity(ctx, wc.ActivityContext.ClearBackfillCursor, in.JobName).Get(ctx, nil)
			release()
			return err
		}

		in.BatchesInRun++
		if in.BatchesInRun >= maxBackfillBatchesPerRun {
			release()
			next := types.BackfillInput{JobName: in.JobName, BatchSize: in.BatchSize}
			return workflow.NewContinueAsNewError(ctx, wc.BackfillWorkflow, next)
		}
	}
}

func distinctOrderIDs(batch types.BackfillBatchOutput) []string {
	seen := make(map[string]struct{}, len(batch.Events))
	ids := make([]string, 0, len(batch.Events))
	for _, ev := range batch.Events {
		if ev.OrderID == "" {
			continue
		}
		if _, ok := seen[ev.OrderID]; ok {
			continue
		}
		seen[ev.OrderID] = struct{}{}
		ids = append(ids, ev.OrderID)
	}
	return ids
}

package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/types"
)

const backfillLockTTL = 2 * time.Minute

// AcquireJobLock takes the named non-blocking lock. A false result means
// another worker holds it and the caller should skip this cycle.
func (c *Context) AcquireJobLock(ctx context.Context, name string) (bool, error) {
	if c.Locker == nil {
		return true, nil
	}
	return c.Locker.AcquireLock(ctx, name, backfillLockTTL)
}

// ReleaseJobLock drops the named lock. Failure only shortens the exclusivity
// window to the TTL, so it is logged rather than propagated.
func (c *Context) ReleaseJobLock(ctx context.Context, name string) error {
	if c.Locker == nil {
		return nil
	}
	if err := c.Locker.ReleaseLock(ctx, name); err != nil {
		c.Logger.Warn("Failed to release job lock", zap.String("lock", name), zap.Error(err))
	}
	return nil
}

// ScanEventsBatch reads the next batch of stored events after the job's
// persisted cursor. The cursor itself is only advanced by
// AdvanceBackfillCursor once the batch has been fully re-applied.
func (c *Context) ScanEventsBatch(ctx context.Context, in *types.BackfillInput) (*types.BackfillBatchOutput, error) {
	pos, err := c.loadBackfillPosition(ctx, in.JobName)
	if err != nil {
		return nil, err
	}

	limit := in.BatchSize
	if limit <= 0 {
		limit = 500
	}
	events, err := c.MarketDB.ListEventsAfter(ctx, pos, limit)
	if err != nil {
		return nil, fmt.Errorf("scan events for %s: %w", in.JobName, err)
	}
	if len(events) == 0 {
		return &types.BackfillBatchOutput{Done: true}, nil
	}

	last := events[len(events)-1]
	next, err := json.Marshal(&marketmodels.BackfillPosition{
		CreatedAt:  last.CreatedAt,
		TxHash:     last.TxHash,
		LogIndex:   last.LogIndex,
		BatchIndex: last.BatchIndex,
	})
	if err != nil {
		return nil, err
	}

	return &types.BackfillBatchOutput{
		Events:   events,
		Position: string(next),
		Done:     len(events) < limit,
	}, nil
}

// AdvanceBackfillCursor durably commits the job's progress marker.
func (c *Context) AdvanceBackfillCursor(ctx context.Context, in *types.AdvanceCursorInput) error {
	return c.MarketDB.SaveCursor(ctx, in.JobName, in.Position)
}

// ClearBackfillCursor removes the marker once a campaign completes, so the
// next run of the same job starts from the beginning.
func (c *Context) ClearBackfillCursor(ctx context.Context, jobName string) error {
	if err := c.MarketDB.DeleteCursor(ctx, jobName); err != nil {
		return err
	}
	c.Logger.Info("Backfill campaign complete", zap.String("job", jobName))
	return nil
}

func (c *Context) loadBackfillPosition(ctx context.Context, jobName string) (*marketmodels.BackfillPosition, error) {
	cursor, err := c.MarketDB.GetCursor(ctx, jobName)
	if err != nil {
		return nil, err
	}
	if cursor == nil {
		return nil, nil
	}
	var pos marketmodels.BackfillPosition
	if err := json.Unmarshal([]byte(cursor.Position), &pos); err != nil {
		return nil, fmt.Errorf("corrupt cursor for %s: %w", jobName, err)
	}
	return &pos, nil
}

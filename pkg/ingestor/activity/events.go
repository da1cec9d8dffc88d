package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/types"
)

// RecordEvents stores a batch of canonical events idempotently. Malformed
// entries (unknown kind, missing dedup key) are parked in the dead-letter
// table and reported as not-inserted instead of failing the batch.
func (c *Context) RecordEvents(ctx context.Context, in *types.IngestBatchInput) (*types.RecordEventsOutput, error) {
	out := &types.RecordEventsOutput{Inserted: make([]bool, len(in.Events))}

	valid := make([]*marketmodels.Event, 0, len(in.Events))
	validIdx := make([]int, 0, len(in.Events))
	for i, e := range in.Events {
		if reason := validateEvent(e); reason != "" {
			payload, _ := json.Marshal(e)
			if dlErr := c.MarketDB.InsertDeadLetter(ctx, &marketmodels.DeadLetter{
				Source:  "ingest",
				Reason:  reason,
				Payload: string(payload),
			}); dlErr != nil {
				return nil, fmt.Errorf("dead-letter event: %w", dlErr)
			}
			c.Logger.Warn("Dead-lettered malformed event",
				zap.String("reason", reason),
				zap.String("payload", string(payload)))
			continue
		}
		valid = append(valid, e)
		validIdx = append(validIdx, i)
	}

	if len(valid) == 0 {
		return out, nil
	}

	inserted, err := c.MarketDB.InsertEvents(ctx, valid)
	if err != nil {
		return nil, err
	}
	for j, ok := range inserted {
		out.Inserted[validIdx[j]] = ok
	}

	return out, nil
}

func validateEvent(e *marketmodels.Event) string {
	if e == nil {
		return "nil event"
	}
	if e.TxHash == "" {
		return "missing tx hash"
	}
	if !e.Kind.Valid() {
		return fmt.Sprintf("unknown event kind %q", e.Kind)
	}
	if e.Timestamp.IsZero() {
		return "missing event timestamp"
	}
	return ""
}

package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/types"
)

// tokenScopeKey dedupes recompute fan-out within one batch.
type tokenScopeKey struct {
	contract string
	tokenID  string
	side     marketmodels.OrderSide
}

// IngestBatchWorkflow drives one batch of canonical events through the
// pipeline: durable record with dedup, per-event state transitions in event
// order, aggregate recompute fan-out coalesced per scope, then activity
// publication. Replaying the same batch is a no-op end to end.
func (wc *Context) IngestBatchWorkflow(ctx workflow.Context, in types.IngestBatchInput) error {
	retry := &temporal.RetryPolicy{
		InitialInterval:    100 * time.Millisecond,
		BackoffCoefficient: 1.2,
		MaximumInterval:    2 * time.Second,
		MaximumAttempts:    0,
	}
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy:         retry,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var recorded types.RecordEventsOutput
	if err := workflow.ExecuteActivity(ctx, wc.ActivityContext.RecordEvents, in).Get(ctx, &recorded); err != nil {
		return err
	}

	// Only events recorded for the first time move state. Duplicates and
	// dead-lettered payloads produce no downstream work.
	inserted := make([]*marketmodels.Event, 0, len(in.Events))
	for i, ev := range in.Events {
		if i < len(recorded.Inserted) && recorded.Inserted[i] {
			inserted = append(inserted, ev)
		}
	}
	if len(inserted) == 0 {
		return nil
	}

	seen := make(map[tokenScopeKey]struct{})
	var tokenScopes []types.RecomputeTokenInput
	addScope := func(contract, tokenID string, side marketmodels.OrderSide) {
		key := tokenScopeKey{contract: contract, tokenID: tokenID, side: side}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		tokenScopes = append(tokenScopes, types.RecomputeTokenInput{
			Contract: contract,
			TokenID:  tokenID,
			Side:     side,
		})
	}

	for _, ev := range inserted {
		switch ev.Kind {
		case marketmodels.EventKindNewOrder, marketmodels.EventKindFill,
			marketmodels.EventKindCancel, marketmodels.EventKindExpiry,
			marketmodels.EventKindBalanceChange:
			var out types.ApplyOrderEventOutput
			err := workflow.ExecuteActivity(ctx, wc.ActivityContext.ApplyOrderEvent,
				&types.ApplyOrderEventInput{Event: ev}).Get(ctx, &out)
			if err != nil {
				return err
			}
			for _, scope := range out.Tokens {
				addScope(scope.Contract, scope.TokenID, out.Side)
			}

		case marketmodels.EventKindTransfer, marketmodels.EventKindMint:
			var out types.ApplyTransferEventOutput
			err := workflow.ExecuteActivity(ctx, wc.ActivityContext.ApplyTransferEvent,
				&types.ApplyTransferEventInput{Event: ev}).Get(ctx, &out)
			if err != nil {
				return err
			}
			// Ownership moves invalidate both sides of the token caches and
			// each touched owner's balance caches.
			addScope(out.Contract, out.TokenID, marketmodels.OrderSideSell)
			addScope(out.Contract, out.TokenID, marketmodels.OrderSideBuy)
			for _, owner := range out.Owners {
				for _, side := range []marketmodels.OrderSide{marketmodels.OrderSideSell, marketmodels.OrderSideBuy} {
					err := workflow.ExecuteActivity(ctx, wc.ActivityContext.RecomputeBalance,
						&types.RecomputeBalanceInput{
							Contract: out.Contract,
							TokenID:  out.TokenID,
							Owner:    owner,
							Side:     side,
						}).Get(ctx, nil)
					if err != nil {
						return err
					}
				}
			}

		case marketmodels.EventKindFlagChange:
			var out types.RecomputeOutput
			err := workflow.ExecuteActivity(ctx, wc.ActivityContext.ApplyFlagChange,
				&types.ApplyOrderEventInput{Event: ev}).Get(ctx, &out)
			if err != nil {
				return err
			}
			if out.Changed && out.CollectionID != "" {
				err := workflow.ExecuteActivity(ctx, wc.ActivityContext.StartCollectionCacheWorkflow,
					&types.RecomputeCollectionInput{
						CollectionID: out.CollectionID,
						Side:         marketmodels.OrderSideSell,
					}).Get(ctx, nil)
				if err != nil {
					return err
				}
			}
		}
	}

	// Fan out coalesced token recomputes. Each start dedupes on the
	// (token, side) workflow id, so concurrent batches touching the same
	// scope collapse into one running recompute.
	for _, scope := range tokenScopes {
		scope := scope
		err := workflow.ExecuteActivity(ctx, wc.ActivityContext.StartTokenCacheWorkflow, &scope).Get(ctx, nil)
		if err != nil {
			return err
		}
	}

	var published types.PublishActivitiesOutput
	return workflow.ExecuteActivity(ctx, wc.ActivityContext.PublishActivities,
		&types.PublishActivitiesInput{Events: inserted}).Get(ctx, &published)
}

package activity

import (
	"context"
	"time"

	"go.uber.org/zap"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/types"
)

// SweepExpiredOrders transitions a bounded batch of overdue fillable orders
// to expired and reports the scopes that now need recomputing. Rows another
// sweep already holds are skipped rather than waited on.
func (c *Context) SweepExpiredOrders(ctx context.Context, in *types.ExpirySweepInput) (*types.ExpirySweepOutput, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = 200
	}

	now := time.Now().UTC()
	expired, err := c.MarketDB.ExpireOrders(ctx, now, limit)
	if err != nil {
		return nil, err
	}

	out := &types.ExpirySweepOutput{}
	for _, o := range expired {
		if err := c.MarketDB.InsertStatusEvent(ctx, &marketmodels.StatusEvent{
			OrderID:    o.ID,
			Status:     marketmodels.StatusExpired,
			PrevStatus: o.PrevStatus,
			Kind:       marketmodels.EventKindExpiry,
			EventTime:  o.LastEventTime,
		}); err != nil {
			return nil, err
		}

		scope := types.ExpiredOrderScope{OrderID: o.ID, Side: o.Side}
		members, err := c.MarketDB.ListTokenSetMembers(ctx, o.TokenSetID)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			scope.Tokens = append(scope.Tokens, types.TokenScope{Contract: m.Contract, TokenID: m.TokenID})
		}
		out.Expired = append(out.Expired, scope)
	}

	if len(out.Expired) > 0 {
		c.Logger.Info("Expired overdue orders", zap.Int("count", len(out.Expired)))
	}
	return out, nil
}

package activity

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
	"github.com/mgamer/indexer-v3-sub017/pkg/db/postgres"
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/types"
	"github.com/mgamer/indexer-v3-sub017/pkg/orderbook"
)

// DeleteBlockEvents removes every event attributed to an orphaned block and
// reports the orders, token scopes, and activity documents the removal
// touched so the workflow can fan out repairs.
func (c *Context) DeleteBlockEvents(ctx context.Context, in *types.ReorgInput) (*types.ReorgOutput, error) {
	events, err := c.MarketDB.DeleteEventsForBlock(ctx, in.BlockHash)
	if err != nil {
		return nil, fmt.Errorf("delete events for block %s: %w", in.BlockHash, err)
	}

	out := &types.ReorgOutput{DeletedEvents: len(events)}
	seenOrders := make(map[string]struct{})
	seenTokens := make(map[types.TokenScope]struct{})
	for _, ev := range events {
		if ev.OrderID != "" {
			if _, ok := seenOrders[ev.OrderID]; !ok {
				seenOrders[ev.OrderID] = struct{}{}
				out.OrderIDs = append(out.OrderIDs, ev.OrderID)
			}
		}
		if ev.Contract != "" {
			scope := types.TokenScope{Contract: ev.Contract, TokenID: ev.TokenID}
			if _, ok := seenTokens[scope]; !ok {
				seenTokens[scope] = struct{}{}
				out.Tokens = append(out.Tokens, scope)
			}
		}
		out.ActivityIDs = append(out.ActivityIDs, activityIDsForEvent(ev)...)
	}

	c.Logger.Info("Deleted orphaned block events",
		zap.String("block_hash", in.BlockHash),
		zap.Int("events", out.DeletedEvents),
		zap.Int("orders", len(out.OrderIDs)))
	return out, nil
}

// activityIDsForEvent returns every document id the event could have
// produced. The document type for order events depends on the order side,
// which may no longer be resolvable, so both sides are tombstoned; deleting
// an id that was never written is a no-op.
func activityIDsForEvent(ev *marketmodels.Event) []string {
	pair := func(a, b marketmodels.ActivityType) []string {
		return []string{
			marketmodels.ActivityID(ev.TxHash, ev.LogIndex, ev.BatchIndex, a),
			marketmodels.ActivityID(ev.TxHash, ev.LogIndex, ev.BatchIndex, b),
		}
	}
	one := func(a marketmodels.ActivityType) []string {
		return []string{marketmodels.ActivityID(ev.TxHash, ev.LogIndex, ev.BatchIndex, a)}
	}
	switch ev.Kind {
	case marketmodels.EventKindNewOrder:
		return pair(marketmodels.ActivityAsk, marketmodels.ActivityBid)
	case marketmodels.EventKindCancel:
		return pair(marketmodels.ActivityAskCancel, marketmodels.ActivityBidCancel)
	case marketmodels.EventKindFill:
		return one(marketmodels.ActivitySale)
	case marketmodels.EventKindTransfer:
		return one(marketmodels.ActivityTransfer)
	case marketmodels.EventKindMint:
		return one(marketmodels.ActivityMint)
	default:
		return nil
	}
}

// RepairOrderFromEvents re-derives one order's state from its surviving
// event history, replacing whatever state the orphaned events had produced.
// An order left with no history at all is marked cancelled so it drops out
// of every aggregate.
func (c *Context) RepairOrderFromEvents(ctx context.Context, in *types.RepairOrderInput) (*types.RepairOrderOutput, error) {
	out := &types.RepairOrderOutput{}

	err := c.MarketDB.RunInTx(ctx, func(ctx context.Context) error {
		current, err := c.MarketDB.GetOrderForUpdate(ctx, in.OrderID)
		if postgres.IsNoRows(err) {
			return nil
		}
		if err != nil {
			return err
		}
		out.Side = current.Side

		events, err := c.MarketDB.ListEventsForOrder(ctx, in.OrderID)
		if err != nil {
			return err
		}

		prevStatus := current.FillabilityStatus
		var next *marketmodels.Order
		if len(events) == 0 {
			copied := *current
			next = &copied
			next.FillabilityStatus = marketmodels.StatusCancelled
			next.LastEventTime = time.Now().UTC()
			next.LastEventDedup = "repair:" + in.Trigger
		} else {
			next = orderbook.Reduce(events)
			next.ID = current.ID
		}

		statusChanged := next.FillabilityStatus != prevStatus
		if statusChanged ||
			!next.QuantityRemaining.Equal(current.QuantityRemaining) ||
			!next.QuantityFilled.Equal(current.QuantityFilled) ||
			next.ApprovalStatus != current.ApprovalStatus {
			if err := c.MarketDB.UpdateOrderState(ctx, next); err != nil {
				return err
			}
		}
		if statusChanged {
			if err := c.MarketDB.InsertStatusEvent(ctx, &marketmodels.StatusEvent{
				OrderID:    current.ID,
				Status:     next.FillabilityStatus,
				PrevStatus: prevStatus,
				Kind:       marketmodels.EventKindBalanceChange,
				EventTime:  next.LastEventTime,
			}); err != nil {
				return err
			}
		}
		out.StatusChanged = statusChanged

		members, err := c.MarketDB.ListTokenSetMembers(ctx, current.TokenSetID)
		if err != nil {
			return err
		}
		for _, m := range members {
			out.Tokens = append(out.Tokens, types.TokenScope{Contract: m.Contract, TokenID: m.TokenID})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("repair order %s: %w", in.OrderID, err)
	}

	if out.StatusChanged {
		c.Logger.Info("Repaired order from surviving events",
			zap.String("order_id", in.OrderID),
			zap.String("trigger", in.Trigger))
	}
	return out, nil
}

package activity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
	"github.com/mgamer/indexer-v3-sub017/pkg/db/postgres"
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/types"
	"github.com/mgamer/indexer-v3-sub017/pkg/orderbook"
)

// ApplyOrderEvent folds one order-scoped event into the order book
// projection. Orders first seen through a fill or cancel are materialized
// from the event's embedded snapshot rather than treated as errors; stale
// events resolve silently through the logical-clock comparison.
func (c *Context) ApplyOrderEvent(ctx context.Context, in *types.ApplyOrderEventInput) (*types.ApplyOrderEventOutput, error) {
	ev := in.Event
	if ev.OrderID == "" {
		return nil, fmt.Errorf("event %s has no order id", ev.DedupKey())
	}

	out := &types.ApplyOrderEventOutput{OrderID: ev.OrderID}

	err := c.MarketDB.RunInTx(ctx, func(ctx context.Context) error {
		order, err := c.MarketDB.GetOrderForUpdate(ctx, ev.OrderID)
		if err != nil {
			if !postgres.IsNoRows(err) {
				return err
			}
			order, err = c.materializeOrder(ctx, ev)
			if err != nil {
				return err
			}
		}

		res := orderbook.Apply(order, ev)
		if res.Applied {
			if err := c.MarketDB.UpdateOrderState(ctx, order); err != nil {
				return err
			}
		}
		if res.StatusChanged {
			if err := c.MarketDB.InsertStatusEvent(ctx, &marketmodels.StatusEvent{
				OrderID:    order.ID,
				Status:     order.FillabilityStatus,
				PrevStatus: res.PrevStatus,
				Kind:       ev.Kind,
				TxHash:     ev.TxHash,
				LogIndex:   ev.LogIndex,
				BatchIndex: ev.BatchIndex,
				EventTime:  ev.Timestamp,
			}); err != nil {
				return err
			}
		}

		out.StatusChanged = res.StatusChanged
		out.Side = order.Side
		out.TokenSetID = order.TokenSetID

		members, err := c.MarketDB.ListTokenSetMembers(ctx, order.TokenSetID)
		if err != nil {
			return err
		}
		for _, m := range members {
			out.Tokens = append(out.Tokens, types.TokenScope{Contract: m.Contract, TokenID: m.TokenID})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply event %s to order %s: %w", ev.DedupKey(), ev.OrderID, err)
	}

	if out.StatusChanged {
		c.Logger.Debug("Order status changed",
			zap.String("order_id", out.OrderID),
			zap.String("kind", string(ev.Kind)))
	}

	return out, nil
}

// materializeOrder creates the order row plus its token and single-token set
// rows from the event snapshot. "fill precedes listing" race: the order's
// creation event may arrive later and will no-op on the existing row.
func (c *Context) materializeOrder(ctx context.Context, ev *marketmodels.Event) (*marketmodels.Order, error) {
	order := orderbook.Materialize(ev)

	if ev.Contract != "" {
		if err := c.MarketDB.EnsureCollection(ctx, ev.Contract, ev.Contract); err != nil {
			return nil, err
		}
		if err := c.MarketDB.EnsureToken(ctx, ev.Contract, ev.TokenID, ev.Contract); err != nil {
			return nil, err
		}
		if err := c.MarketDB.UpsertTokenSetTokens(ctx, []*marketmodels.TokenSetToken{{
			TokenSetID: order.TokenSetID,
			Contract:   ev.Contract,
			TokenID:    ev.TokenID,
		}}); err != nil {
			return nil, err
		}
	}

	if _, err := c.MarketDB.InsertOrder(ctx, order); err != nil {
		return nil, err
	}

	c.Logger.Debug("Materialized order from event snapshot",
		zap.String("order_id", order.ID),
		zap.String("event", ev.DedupKey()))

	return order, nil
}

// ApplyTransferEvent moves balance state for a transfer or mint and reports
// the owners whose owner-scope caches need recomputing: the sender loses
// top-bid eligibility, the receiver gains it.
func (c *Context) ApplyTransferEvent(ctx context.Context, in *types.ApplyTransferEventInput) (*types.ApplyTransferEventOutput, error) {
	ev := in.Event

	if err := c.MarketDB.EnsureCollection(ctx, ev.Contract, ev.Contract); err != nil {
		return nil, err
	}
	if err := c.MarketDB.EnsureToken(ctx, ev.Contract, ev.TokenID, ev.Contract); err != nil {
		return nil, err
	}
	if err := c.MarketDB.ApplyBalanceTransfer(ctx, ev.Contract, ev.TokenID, ev.From, ev.To, ev.Quantity); err != nil {
		return nil, fmt.Errorf("apply transfer %s: %w", ev.DedupKey(), err)
	}

	out := &types.ApplyTransferEventOutput{Contract: ev.Contract, TokenID: ev.TokenID}
	for _, owner := range []string{ev.From, ev.To} {
		if owner != "" && owner != marketmodels.ZeroAddress {
			out.Owners = append(out.Owners, owner)
		}
	}
	return out, nil
}

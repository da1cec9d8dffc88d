package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
	"github.com/mgamer/indexer-v3-sub017/pkg/ingestor/types"
)

// cacheChangeChannel carries realtime cache-change notifications for the
// websocket collaborator.
const cacheChangeChannel = "market:cache-changes"

type cacheChangeMessage struct {
	ScopeKind string `json:"scopeKind"`
	ScopeID   string `json:"scopeId"`
	Side      string `json:"side"`
}

func (c *Context) notifyCacheChange(ctx context.Context, scopeKind, scopeID string, side marketmodels.OrderSide) {
	if c.Notifier == nil {
		return
	}
	msg, _ := json.Marshal(cacheChangeMessage{ScopeKind: scopeKind, ScopeID: scopeID, Side: string(side)})
	c.Notifier.Publish(ctx, cacheChangeChannel, string(msg))
}

// RecomputeToken re-derives one token-scope cache (floor ask or top bid)
// with a single authoritative query and writes only on change. Returns the
// token's collection so the caller can cascade the broader recompute.
func (c *Context) RecomputeToken(ctx context.Context, in *types.RecomputeTokenInput) (*types.RecomputeOutput, error) {
	var changed bool
	var err error
	if in.Side == marketmodels.OrderSideBuy {
		changed, err = c.MarketDB.UpdateTokenTopBid(ctx, in.Contract, in.TokenID)
	} else {
		changed, err = c.MarketDB.UpdateTokenFloorAsk(ctx, in.Contract, in.TokenID)
	}
	if err != nil {
		return nil, fmt.Errorf("recompute token %s:%s %s: %w", in.Contract, in.TokenID, in.Side, err)
	}

	out := &types.RecomputeOutput{Changed: changed}
	if changed {
		token, err := c.MarketDB.GetToken(ctx, in.Contract, in.TokenID)
		if err != nil {
			return nil, err
		}
		out.CollectionID = token.CollectionID
		c.notifyCacheChange(ctx, "token", in.Contract+":"+in.TokenID, in.Side)

		// A new winning bid changes every holder's balance top-bid view of
		// this token, so refresh the owner-scope caches alongside.
		if in.Side == marketmodels.OrderSideBuy {
			owners, err := c.MarketDB.ListOwners(ctx, in.Contract, in.TokenID)
			if err != nil {
				return nil, err
			}
			for _, owner := range owners {
				_, err := c.RecomputeBalance(ctx, &types.RecomputeBalanceInput{
					Contract: in.Contract,
					TokenID:  in.TokenID,
					Owner:    owner,
					Side:     marketmodels.OrderSideBuy,
				})
				if err != nil {
					return nil, err
				}
			}
		}
	}
	return out, nil
}

// RecomputeCollection re-derives one collection-scope cache.
func (c *Context) RecomputeCollection(ctx context.Context, in *types.RecomputeCollectionInput) (*types.RecomputeOutput, error) {
	var changed bool
	var err error
	if in.Side == marketmodels.OrderSideBuy {
		changed, err = c.MarketDB.UpdateCollectionTopBid(ctx, in.CollectionID)
	} else {
		changed, err = c.MarketDB.UpdateCollectionFloorAsk(ctx, in.CollectionID)
	}
	if err != nil {
		return nil, fmt.Errorf("recompute collection %s %s: %w", in.CollectionID, in.Side, err)
	}

	if changed {
		c.notifyCacheChange(ctx, "collection", in.CollectionID, in.Side)
	}
	return &types.RecomputeOutput{Changed: changed}, nil
}

// RecomputeBalance re-derives one owner-scope cache on the balance row.
func (c *Context) RecomputeBalance(ctx context.Context, in *types.RecomputeBalanceInput) (*types.RecomputeOutput, error) {
	var changed bool
	var err error
	if in.Side == marketmodels.OrderSideBuy {
		changed, err = c.MarketDB.UpdateBalanceTopBid(ctx, in.Contract, in.TokenID, in.Owner)
	} else {
		changed, err = c.MarketDB.UpdateBalanceFloorSell(ctx, in.Contract, in.TokenID, in.Owner)
	}
	if err != nil {
		return nil, fmt.Errorf("recompute balance %s:%s %s %s: %w", in.Contract, in.TokenID, in.Owner, in.Side, err)
	}

	if changed {
		c.notifyCacheChange(ctx, "balance", in.Contract+":"+in.TokenID+":"+in.Owner, in.Side)
	}
	return &types.RecomputeOutput{Changed: changed}, nil
}

// ApplyFlagChange updates a token's spam flag from a flag-change event. A
// change invalidates the collection's non-flagged floor, which the caller
// recomputes through the standard collection path.
func (c *Context) ApplyFlagChange(ctx context.Context, in *types.ApplyOrderEventInput) (*types.RecomputeOutput, error) {
	ev := in.Event
	flagged := flaggedFromRaw(ev.RawData)

	changed, err := c.MarketDB.SetTokenFlagged(ctx, ev.Contract, ev.TokenID, flagged)
	if err != nil {
		return nil, err
	}

	out := &types.RecomputeOutput{Changed: changed}
	if changed {
		token, err := c.MarketDB.GetToken(ctx, ev.Contract, ev.TokenID)
		if err != nil {
			return nil, err
		}
		out.CollectionID = token.CollectionID
		c.Logger.Info("Token flag changed",
			zap.String("contract", ev.Contract),
			zap.String("token_id", ev.TokenID),
			zap.Bool("flagged", flagged))
	}
	return out, nil
}

func flaggedFromRaw(raw string) bool {
	var payload struct {
		Flagged bool `json:"flagged"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return false
	}
	return payload.Flagged
}

package transform

import (
	"time"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
)

// ActivityContext is the joined context an event needs to become a document.
type ActivityContext struct {
	CollectionID string
	OrderSide    marketmodels.OrderSide
	SourceDomain string
	Now          time.Time
}

// Activity projects one canonical event into its activity document. Pure and
// deterministic: the same event and context always yield the same id and
// content. Returns nil for event kinds that have no activity representation.
func Activity(e *marketmodels.Event, actx ActivityContext) *marketmodels.ActivityDocument {
	typ, ok := activityType(e, actx.OrderSide)
	if !ok {
		return nil
	}

	return &marketmodels.ActivityDocument{
		ID:   marketmodels.ActivityID(e.TxHash, e.LogIndex, e.BatchIndex, typ),
		Type: typ,

		TxHash:     e.TxHash,
		LogIndex:   e.LogIndex,
		BatchIndex: e.BatchIndex,

		Contract:     e.Contract,
		TokenID:      e.TokenID,
		CollectionID: actx.CollectionID,
		OrderID:      e.OrderID,
		Source:       actx.SourceDomain,

		FromAddress: activityFrom(e),
		ToAddress:   activityTo(e),

		Price:    e.Price,
		Value:    e.Value,
		Currency: e.Currency,
		Quantity: e.Quantity,

		BlockNumber: e.BlockNumber,
		BlockHash:   e.BlockHash,

		EventTime:   e.Timestamp,
		IndexedTime: actx.Now,
	}
}

// activityType maps an event kind (plus the order side for order-scoped
// kinds) to the activity feed type.
func activityType(e *marketmodels.Event, side marketmodels.OrderSide) (marketmodels.ActivityType, bool) {
	switch e.Kind {
	case marketmodels.EventKindFill:
		return marketmodels.ActivitySale, true
	case marketmodels.EventKindMint:
		return marketmodels.ActivityMint, true
	case marketmodels.EventKindTransfer:
		return marketmodels.ActivityTransfer, true
	case marketmodels.EventKindNewOrder:
		if side == marketmodels.OrderSideBuy {
			return marketmodels.ActivityBid, true
		}
		return marketmodels.ActivityAsk, true
	case marketmodels.EventKindCancel:
		if side == marketmodels.OrderSideBuy {
			return marketmodels.ActivityBidCancel, true
		}
		return marketmodels.ActivityAskCancel, true
	case marketmodels.EventKindExpiry, marketmodels.EventKindBalanceChange, marketmodels.EventKindFlagChange:
		// Administrative transitions, no feed entry.
		return "", false
	}
	return "", false
}

func activityFrom(e *marketmodels.Event) string {
	switch e.Kind {
	case marketmodels.EventKindTransfer, marketmodels.EventKindMint:
		return e.From
	case marketmodels.EventKindFill:
		return e.Maker
	}
	return e.Maker
}

func activityTo(e *marketmodels.Event) string {
	switch e.Kind {
	case marketmodels.EventKindTransfer, marketmodels.EventKindMint:
		return e.To
	case marketmodels.EventKindFill:
		return e.Taker
	}
	return ""
}

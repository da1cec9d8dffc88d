// Package orderbook holds the pure order-status transition logic. Events may
// arrive out of order, duplicated upstream, or reverted by reorgs; the
// functions here re-derive correct state from logical comparison instead of
// assuming arrival order, so applying two conflicting events in either order
// yields the same final state.
package orderbook

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
)

// authority ranks status-setting events: a definitive terminal event is
// authoritative over a later-discovered but earlier-occurring administrative
// update. A fill only carries full authority when it exhausts the order;
// partial fills adjust quantities under the plain clock rule.
func authority(kind marketmodels.EventKind, exhausts bool) int {
	switch kind {
	case marketmodels.EventKindFill:
		if exhausts {
			return 3
		}
		return 0
	case marketmodels.EventKindCancel:
		return 2
	case marketmodels.EventKindExpiry:
		return 1
	default:
		return 0
	}
}

// statusAuthority ranks the event that set the order's current status.
func statusAuthority(status marketmodels.FillabilityStatus) int {
	switch status {
	case marketmodels.StatusFilled:
		return 3
	case marketmodels.StatusCancelled:
		return 2
	case marketmodels.StatusExpired:
		return 1
	default:
		return 0
	}
}

// clockAfter reports whether (t1, d1) orders after (t2, d2).
func clockAfter(t1 time.Time, d1 string, t2 time.Time, d2 string) bool {
	if !t1.Equal(t2) {
		return t1.After(t2)
	}
	return d1 > d2
}

// Result describes what Apply changed on the order.
type Result struct {
	Applied         bool
	StatusChanged   bool
	QuantityChanged bool
	PrevStatus      marketmodels.FillabilityStatus
}

// Apply folds one event into the order's state, mutating o. The decision is
// purely logical: authority first, then the (timestamp, dedup key) clock for
// equal-authority events. Stale events are silently ignored, never an error.
func Apply(o *marketmodels.Order, ev *marketmodels.Event) Result {
	res := Result{PrevStatus: o.FillabilityStatus}

	// Fills adjust quantities regardless of who governs the status: the
	// chain says the trade happened. quantity_filled never decreases.
	if ev.Kind == marketmodels.EventKindFill && ev.Quantity.IsPositive() {
		o.QuantityFilled = o.QuantityFilled.Add(ev.Quantity)
		o.QuantityRemaining = decimal.Max(o.QuantityRemaining.Sub(ev.Quantity), decimal.Zero)
		res.QuantityChanged = true
		res.Applied = true
	}

	target, ok := targetStatus(o, ev)
	if !ok {
		return res
	}

	evAuthority := authority(ev.Kind, o.QuantityRemaining.IsZero())
	curAuthority := statusAuthority(o.FillabilityStatus)

	wins := evAuthority > curAuthority ||
		(evAuthority == curAuthority &&
			clockAfter(ev.Timestamp, ev.DedupKey(), o.LastEventTime, o.LastEventDedup))
	if !wins {
		return res
	}

	if target != o.FillabilityStatus {
		o.FillabilityStatus = target
		res.StatusChanged = true
	}
	o.LastEventTime = ev.Timestamp
	o.LastEventDedup = ev.DedupKey()
	res.Applied = true

	return res
}

// targetStatus resolves the status an event argues for, false when the event
// kind does not set a status.
func targetStatus(o *marketmodels.Order, ev *marketmodels.Event) (marketmodels.FillabilityStatus, bool) {
	switch ev.Kind {
	case marketmodels.EventKindFill:
		if o.QuantityRemaining.IsZero() {
			return marketmodels.StatusFilled, true
		}
		return marketmodels.StatusFillable, true
	case marketmodels.EventKindCancel:
		return marketmodels.StatusCancelled, true
	case marketmodels.EventKindExpiry:
		return marketmodels.StatusExpired, true
	case marketmodels.EventKindNewOrder:
		return marketmodels.StatusFillable, true
	case marketmodels.EventKindBalanceChange:
		// The normalized payload carries the resulting status in raw data;
		// absent that, a balance change argues for no-balance.
		if snap := parseSnapshot(ev.RawData); snap != nil && snap.FillabilityStatus != "" {
			return snap.FillabilityStatus, true
		}
		return marketmodels.StatusNoBalance, true
	}
	return "", false
}

// Snapshot is the order state embedded in an event's raw data, used to
// materialize orders first seen via a fill or cancel before their creation
// event.
type Snapshot struct {
	Kind              string                         `json:"kind,omitempty"`
	Side              marketmodels.OrderSide         `json:"side,omitempty"`
	Maker             string                         `json:"maker,omitempty"`
	Taker             string                         `json:"taker,omitempty"`
	TokenSetID        string                         `json:"token_set_id,omitempty"`
	Price             decimal.Decimal                `json:"price,omitempty"`
	Value             decimal.Decimal                `json:"value,omitempty"`
	NormalizedValue   decimal.Decimal                `json:"normalized_value,omitempty"`
	Currency          string                         `json:"currency,omitempty"`
	Quantity          decimal.Decimal                `json:"quantity,omitempty"`
	FillabilityStatus marketmodels.FillabilityStatus `json:"fillability_status,omitempty"`
	ValidFrom         time.Time                      `json:"valid_from,omitempty"`
	ValidUntil        *time.Time                     `json:"valid_until,omitempty"`
	Source            string                         `json:"source,omitempty"`
}

func parseSnapshot(raw string) *Snapshot {
	if raw == "" {
		return nil
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil
	}
	return &snap
}

// Materialize builds an order row from an event referencing an order the
// store has never seen. The embedded snapshot wins where present; otherwise
// the event's own fields fill in a minimal placeholder.
func Materialize(ev *marketmodels.Event) *marketmodels.Order {
	o := &marketmodels.Order{
		ID:                ev.OrderID,
		Side:              marketmodels.OrderSideSell,
		Maker:             ev.Maker,
		Taker:             ev.Taker,
		Contract:          ev.Contract,
		TokenID:           ev.TokenID,
		TokenSetID:        marketmodels.SingleTokenSetID(ev.Contract, ev.TokenID),
		Price:             ev.Price,
		Value:             ev.Value,
		NormalizedValue:   ev.NormalizedValue,
		Currency:          ev.Currency,
		QuantityRemaining: decimal.NewFromInt(1),
		FillabilityStatus: marketmodels.StatusFillable,
		ApprovalStatus:    marketmodels.ApprovalApproved,
		ValidFrom:         ev.Timestamp,
	}

	if snap := parseSnapshot(ev.RawData); snap != nil {
		if snap.Kind != "" {
			o.Kind = snap.Kind
		}
		if snap.Side != "" {
			o.Side = snap.Side
		}
		if snap.Maker != "" {
			o.Maker = snap.Maker
		}
		if snap.Taker != "" {
			o.Taker = snap.Taker
		}
		if snap.TokenSetID != "" {
			o.TokenSetID = snap.TokenSetID
		}
		if !snap.Price.IsZero() {
			o.Price = snap.Price
		}
		if !snap.Value.IsZero() {
			o.Value = snap.Value
		}
		if !snap.NormalizedValue.IsZero() {
			o.NormalizedValue = snap.NormalizedValue
		}
		if snap.Currency != "" {
			o.Currency = snap.Currency
		}
		if snap.Quantity.IsPositive() {
			o.QuantityRemaining = snap.Quantity
		}
		if !snap.ValidFrom.IsZero() {
			o.ValidFrom = snap.ValidFrom
		}
		if snap.ValidUntil != nil {
			o.ValidUntil = snap.ValidUntil
		}
		if snap.Source != "" {
			o.Source = snap.Source
		}
		o.RawData = ev.RawData
	}

	return o
}

// Reduce re-derives an order's state from scratch out of its surviving
// events, sorted by logical clock. Reorg repair uses this after events are
// deleted: the result reflects the remaining truth, whatever the original
// arrival order was.
func Reduce(events []*marketmodels.Event) *marketmodels.Order {
	if len(events) == 0 {
		return nil
	}

	sorted := make([]*marketmodels.Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].DedupKey() < sorted[j].DedupKey()
	})

	// Prefer a creation event's snapshot as the base.
	base := sorted[0]
	for _, ev := range sorted {
		if ev.Kind == marketmodels.EventKindNewOrder {
			base = ev
			break
		}
	}

	o := Materialize(base)
	for _, ev := range sorted {
		Apply(o, ev)
	}
	return o
}

package orderbook

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
)

func newOrder(id string) *marketmodels.Order {
	return &marketmodels.Order{
		ID:                id,
		Side:              marketmodels.OrderSideSell,
		Maker:             "0xmaker",
		Contract:          "0xcontract",
		TokenID:           "1",
		TokenSetID:        marketmodels.SingleTokenSetID("0xcontract", "1"),
		Value:             decimal.RequireFromString("1500000000000000000"),
		QuantityRemaining: decimal.NewFromInt(1),
		QuantityFilled:    decimal.Zero,
		FillabilityStatus: marketmodels.StatusFillable,
		ApprovalStatus:    marketmodels.ApprovalApproved,
	}
}

func ev(kind marketmodels.EventKind, txHash string, ts int64, qty int64) *marketmodels.Event {
	return &marketmodels.Event{
		TxHash:    txHash,
		Kind:      kind,
		OrderID:   "O1",
		Quantity:  decimal.NewFromInt(qty),
		Timestamp: time.Unix(ts, 0).UTC(),
	}
}

func TestFillSetsFilled(t *testing.T) {
	o := newOrder("O1")
	res := Apply(o, ev(marketmodels.EventKindFill, "0xa", 100, 1))

	require.True(t, res.Applied)
	require.True(t, res.StatusChanged)
	require.Equal(t, marketmodels.StatusFilled, o.FillabilityStatus)
	require.True(t, o.QuantityRemaining.IsZero())
	require.True(t, o.QuantityFilled.Equal(decimal.NewFromInt(1)))
}

func TestCancelThenEarlierFillEndsFilled(t *testing.T) {
	// The fill genuinely preceded the cancel on chain; a cancel of an
	// already-filled order never happened.
	o := newOrder("O1")

	Apply(o, ev(marketmodels.EventKindCancel, "0xcancel", 100, 0))
	require.Equal(t, marketmodels.StatusCancelled, o.FillabilityStatus)

	res := Apply(o, ev(marketmodels.EventKindFill, "0xfill", 90, 1))
	require.True(t, res.StatusChanged)
	require.Equal(t, marketmodels.StatusFilled, o.FillabilityStatus)
}

func TestConflictingEventsCommute(t *testing.T) {
	fill := ev(marketmodels.EventKindFill, "0xfill", 90, 1)
	cancel := ev(marketmodels.EventKindCancel, "0xcancel", 100, 0)

	first := newOrder("O1")
	Apply(first, fill)
	Apply(first, cancel)

	second := newOrder("O1")
	Apply(second, cancel)
	Apply(second, fill)

	require.Equal(t, first.FillabilityStatus, second.FillabilityStatus)
	require.True(t, first.QuantityFilled.Equal(second.QuantityFilled))
	require.Equal(t, marketmodels.StatusFilled, first.FillabilityStatus)
}

func TestLateCancelAfterFillIgnored(t *testing.T) {
	o := newOrder("O1")
	Apply(o, ev(marketmodels.EventKindFill, "0xfill", 100, 1))

	res := Apply(o, ev(marketmodels.EventKindCancel, "0xcancel", 200, 0))
	require.False(t, res.StatusChanged)
	require.Equal(t, marketmodels.StatusFilled, o.FillabilityStatus)
}

func TestCancelBeatsExpiry(t *testing.T) {
	o := newOrder("O1")
	Apply(o, ev(marketmodels.EventKindCancel, "0xcancel", 100, 0))

	res := Apply(o, ev(marketmodels.EventKindExpiry, "0xexpiry", 200, 0))
	require.False(t, res.StatusChanged)
	require.Equal(t, marketmodels.StatusCancelled, o.FillabilityStatus)
}

func TestPartialFillKeepsFillable(t *testing.T) {
	o := newOrder("O1")
	o.QuantityRemaining = decimal.NewFromInt(10)

	res := Apply(o, ev(marketmodels.EventKindFill, "0xa", 100, 4))
	require.True(t, res.QuantityChanged)
	require.Equal(t, marketmodels.StatusFillable, o.FillabilityStatus)
	require.True(t, o.QuantityRemaining.Equal(decimal.NewFromInt(6)))
	require.True(t, o.QuantityFilled.Equal(decimal.NewFromInt(4)))

	Apply(o, ev(marketmodels.EventKindFill, "0xb", 110, 6))
	require.Equal(t, marketmodels.StatusFilled, o.FillabilityStatus)
	require.True(t, o.QuantityRemaining.IsZero())
}

func TestCancelBeatsPartialFillEitherOrder(t *testing.T) {
	partial := ev(marketmodels.EventKindFill, "0xfill", 90, 4)
	cancel := ev(marketmodels.EventKindCancel, "0xcancel", 100, 0)

	first := newOrder("O1")
	first.QuantityRemaining = decimal.NewFromInt(10)
	Apply(first, partial)
	Apply(first, cancel)

	second := newOrder("O1")
	second.QuantityRemaining = decimal.NewFromInt(10)
	Apply(second, cancel)
	Apply(second, partial)

	require.Equal(t, marketmodels.StatusCancelled, first.FillabilityStatus)
	require.Equal(t, first.FillabilityStatus, second.FillabilityStatus)
	require.True(t, first.QuantityFilled.Equal(second.QuantityFilled))
}

func TestQuantityFilledNeverDecreases(t *testing.T) {
	o := newOrder("O1")
	o.QuantityRemaining = decimal.NewFromInt(10)

	Apply(o, ev(marketmodels.EventKindFill, "0xa", 100, 4))
	before := o.QuantityFilled

	// A stale administrative event must not roll quantities back.
	Apply(o, ev(marketmodels.EventKindBalanceChange, "0xstale", 50, 0))
	require.True(t, o.QuantityFilled.GreaterThanOrEqual(before))
}

func TestStaleBalanceChangeIgnored(t *testing.T) {
	o := newOrder("O1")
	Apply(o, ev(marketmodels.EventKindBalanceChange, "0xb", 100, 0))
	require.Equal(t, marketmodels.StatusNoBalance, o.FillabilityStatus)

	// Earlier balance event loses the clock comparison.
	res := Apply(o, ev(marketmodels.EventKindNewOrder, "0xa", 50, 0))
	require.False(t, res.StatusChanged)
	require.Equal(t, marketmodels.StatusNoBalance, o.FillabilityStatus)
}

func TestSameTimestampTieBrokenByDedupKey(t *testing.T) {
	a := ev(marketmodels.EventKindBalanceChange, "0xa", 100, 0)
	b := ev(marketmodels.EventKindNewOrder, "0xb", 100, 0)

	first := newOrder("O1")
	Apply(first, a)
	Apply(first, b)

	second := newOrder("O1")
	Apply(second, b)
	Apply(second, a)

	require.Equal(t, first.FillabilityStatus, second.FillabilityStatus)
}

func TestMaterializeFromSnapshot(t *testing.T) {
	e := ev(marketmodels.EventKindFill, "0xa", 100, 1)
	e.Contract = "0xcontract"
	e.TokenID = "7"
	e.RawData = `{"side":"buy","maker":"0xsnapmaker","value":"2000000000000000000","quantity":"5","kind":"seaport-v1.5"}`

	o := Materialize(e)
	require.Equal(t, "O1", o.ID)
	require.Equal(t, marketmodels.OrderSideBuy, o.Side)
	require.Equal(t, "0xsnapmaker", o.Maker)
	require.Equal(t, "seaport-v1.5", o.Kind)
	require.True(t, o.Value.Equal(decimal.RequireFromString("2000000000000000000")))
	require.True(t, o.QuantityRemaining.Equal(decimal.NewFromInt(5)))
}

func TestMaterializeWithoutSnapshot(t *testing.T) {
	e := ev(marketmodels.EventKindFill, "0xa", 100, 1)
	e.Contract = "0xcontract"
	e.TokenID = "7"
	e.Maker = "0xmaker"

	o := Materialize(e)
	require.Equal(t, marketmodels.OrderSideSell, o.Side)
	require.Equal(t, marketmodels.SingleTokenSetID("0xcontract", "7"), o.TokenSetID)
	require.Equal(t, marketmodels.StatusFillable, o.FillabilityStatus)
}

func TestReduceRederivesFromSurvivingEvents(t *testing.T) {
	create := ev(marketmodels.EventKindNewOrder, "0xcreate", 50, 0)
	create.RawData = `{"side":"sell","maker":"0xmaker","value":"1500000000000000000"}`
	fill := ev(marketmodels.EventKindFill, "0xfill", 100, 1)

	full := Reduce([]*marketmodels.Event{fill, create})
	require.Equal(t, marketmodels.StatusFilled, full.FillabilityStatus)

	// The fill's block reorged out: only the creation event survives.
	repaired := Reduce([]*marketmodels.Event{create})
	require.Equal(t, marketmodels.StatusFillable, repaired.FillabilityStatus)
	require.True(t, repaired.QuantityFilled.IsZero())
}

package transform

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	marketmodels "github.com/mgamer/indexer-v3-sub017/pkg/db/models/market"
)

func fillEvent() *marketmodels.Event {
	return &marketmodels.Event{
		TxHash:      "0xabc",
		LogIndex:    3,
		BatchIndex:  0,
		Kind:        marketmodels.EventKindFill,
		OrderID:     "O1",
		Contract:    "0xcollection",
		TokenID:     "42",
		Maker:       "0xmaker",
		Taker:       "0xtaker",
		Price:       decimal.RequireFromString("1500000000000000000"),
		Value:       decimal.RequireFromString("1500000000000000000"),
		Currency:    "0x0000000000000000000000000000000000000000",
		Quantity:    decimal.NewFromInt(1),
		BlockNumber: 100,
		BlockHash:   "0xblock",
		Timestamp:   time.Unix(1700000000, 0).UTC(),
	}
}

func TestActivityDeterministic(t *testing.T) {
	actx := ActivityContext{
		CollectionID: "0xcollection",
		OrderSide:    marketmodels.OrderSideSell,
		Now:          time.Unix(1700000100, 0).UTC(),
	}

	first := Activity(fillEvent(), actx)
	second := Activity(fillEvent(), actx)

	require.NotNil(t, first)
	require.Equal(t, first, second)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, marketmodels.ActivitySale, first.Type)
}

func TestActivityTypeMapping(t *testing.T) {
	tests := []struct {
		name string
		kind marketmodels.EventKind
		side marketmodels.OrderSide
		typ  marketmodels.ActivityType
	}{
		{"fill", marketmodels.EventKindFill, marketmodels.OrderSideSell, marketmodels.ActivitySale},
		{"mint", marketmodels.EventKindMint, "", marketmodels.ActivityMint},
		{"transfer", marketmodels.EventKindTransfer, "", marketmodels.ActivityTransfer},
		{"new ask", marketmodels.EventKindNewOrder, marketmodels.OrderSideSell, marketmodels.ActivityAsk},
		{"new bid", marketmodels.EventKindNewOrder, marketmodels.OrderSideBuy, marketmodels.ActivityBid},
		{"ask cancel", marketmodels.EventKindCancel, marketmodels.OrderSideSell, marketmodels.ActivityAskCancel},
		{"bid cancel", marketmodels.EventKindCancel, marketmodels.OrderSideBuy, marketmodels.ActivityBidCancel},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := fillEvent()
			e.Kind = tc.kind
			doc := Activity(e, ActivityContext{OrderSide: tc.side, Now: time.Now()})
			require.NotNil(t, doc)
			require.Equal(t, tc.typ, doc.Type)
		})
	}
}

func TestActivitySkipsAdministrativeKinds(t *testing.T) {
	for _, kind := range []marketmodels.EventKind{
		marketmodels.EventKindExpiry,
		marketmodels.EventKindBalanceChange,
		marketmodels.EventKindFlagChange,
	} {
		e := fillEvent()
		e.Kind = kind
		require.Nil(t, Activity(e, ActivityContext{Now: time.Now()}))
	}
}

func TestActivityIDDistinctPerType(t *testing.T) {
	saleID := marketmodels.ActivityID("0xabc", 3, 0, marketmodels.ActivitySale)
	transferID := marketmodels.ActivityID("0xabc", 3, 0, marketmodels.ActivityTransfer)
	require.NotEqual(t, saleID, transferID)

	otherLog := marketmodels.ActivityID("0xabc", 4, 0, marketmodels.ActivitySale)
	require.NotEqual(t, saleID, otherLog)
}

func TestActivityAddressesByKind(t *testing.T) {
	e := fillEvent()
	e.Kind = marketmodels.EventKindTransfer
	e.From = "0xfrom"
	e.To = "0xto"
	doc := Activity(e, ActivityContext{Now: time.Now()})
	require.Equal(t, "0xfrom", doc.FromAddress)
	require.Equal(t, "0xto", doc.ToAddress)

	sale := Activity(fillEvent(), ActivityContext{Now: time.Now()})
	require.Equal(t, "0xmaker", sale.FromAddress)
	require.Equal(t, "0xtaker", sale.ToAddress)
}

package wire

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/outcomex/internal/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestSnapshotRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Nanosecond)
	snap := &types.BookSnapshot{
		MarketID:  "MKT_BTC_100K",
		Outcome:   types.OutcomeYes,
		Timestamp: now,
		Bids: []types.PriceLevelSnapshot{
			{Price: d("0.42"), Quantity: d("150"), Orders: 3},
			{Price: d("0.40"), Quantity: d("80"), Orders: 1},
		},
		Asks: []types.PriceLevelSnapshot{
			{Price: d("0.45"), Quantity: d("200"), Orders: 2},
		},
	}

	data, err := EncodeSnapshot(snap)
	require.NoError(t, err)

	decoded, err := DecodeSnapshot(data)
	require.NoError(t, err)

	assert.Equal(t, "MKT_BTC_100K", decoded.MarketID)
	assert.Equal(t, types.OutcomeYes, decoded.Outcome)
	assert.True(t, decoded.Timestamp.Equal(now))

	require.Len(t, decoded.Bids, 2)
	assert.True(t, decoded.Bids[0].Price.Equal(d("0.42")))
	assert.True(t, decoded.Bids[0].Quantity.Equal(d("150")))
	assert.Equal(t, 3, decoded.Bids[0].Orders)
	require.Len(t, decoded.Asks, 1)

	// Top-of-book fields are rederived from the levels.
	require.NotNil(t, decoded.BestBid)
	require.NotNil(t, decoded.BestAsk)
	require.NotNil(t, decoded.Spread)
	assert.True(t, decoded.BestBid.Equal(d("0.42")))
	assert.True(t, decoded.BestAsk.Equal(d("0.45")))
	assert.True(t, decoded.Spread.Equal(d("0.03")))
}

func TestEmptySnapshotRoundTrip(t *testing.T) {
	snap := &types.BookSnapshot{
		MarketID:  "MKT_EMPTY",
		Outcome:   types.OutcomeNo,
		Timestamp: time.Now().UTC(),
	}

	data, err := EncodeSnapshot(snap)
	require.NoError(t, err)

	decoded, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Empty(t, decoded.Bids)
	assert.Empty(t, decoded.Asks)
	assert.Nil(t, decoded.BestBid)
	assert.Nil(t, decoded.BestAsk)
	assert.Nil(t, decoded.Spread)
}

func TestTradeRoundTripCarriesOnlyTapeFields(t *testing.T) {
	now := time.Now().UTC()
	trade := &types.Trade{
		TradeID:     "TRD_1",
		MarketID:    "MKT_BTC_100K",
		Outcome:     types.OutcomeNo,
		BuyOrderID:  "ORD_A",
		SellOrderID: "ORD_B",
		BuyerID:     "alice",
		SellerID:    "bob",
		Price:       d("0.615"),
		Quantity:    d("42.5"),
		ExecutedAt:  now,
	}

	data, err := EncodeTrade(trade)
	require.NoError(t, err)

	decoded, err := DecodeTrade(data)
	require.NoError(t, err)
	assert.Equal(t, "TRD_1", decoded.TradeID)
	assert.Equal(t, "MKT_BTC_100K", decoded.MarketID)
	assert.Equal(t, types.OutcomeNo, decoded.Outcome)
	assert.True(t, decoded.Price.Equal(d("0.615")))
	assert.True(t, decoded.Quantity.Equal(d("42.5")))
	assert.True(t, decoded.ExecutedAt.Equal(now))

	// Counterparty identifiers never hit the wire.
	assert.Empty(t, decoded.BuyerID)
	assert.Empty(t, decoded.SellerID)
	assert.Empty(t, decoded.BuyOrderID)
	assert.Empty(t, decoded.SellOrderID)
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	trade := &types.Trade{TradeID: "TRD_1", MarketID: "MKT", Outcome: types.OutcomeYes, Price: d("0.5"), Quantity: d("1"), ExecutedAt: time.Now()}
	data, err := EncodeTrade(trade)
	require.NoError(t, err)

	bad := append([]byte{}, data...)
	bad[0] ^= 0xFF
	_, err = DecodeTrade(bad)
	assert.ErrorIs(t, err, ErrBadMagic)

	bad = append([]byte{}, data...)
	bad[2] = 99
	_, err = DecodeTrade(bad)
	assert.ErrorIs(t, err, ErrBadVersion)

	// A snapshot frame fed to the trade decoder.
	snap, err := EncodeSnapshot(&types.BookSnapshot{MarketID: "MKT", Outcome: types.OutcomeYes, Timestamp: time.Now()})
	require.NoError(t, err)
	_, err = DecodeTrade(snap)
	assert.ErrorIs(t, err, ErrBadMessage)

	_, err = DecodeTrade(data[:len(data)-4])
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = DecodeTrade(nil)
	assert.ErrorIs(t, err, ErrTruncated)
}

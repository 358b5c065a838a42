package events

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/outcomex/internal/types"
)

func tradeEvent(id string) TradeExecuted {
	return TradeExecuted{
		TradeID:   id,
		MarketID:  "MKT_TEST",
		Outcome:   types.OutcomeYes,
		BuyerID:   "alice",
		SellerID:  "bob",
		Price:     decimal.NewFromFloat(0.40),
		Quantity:  decimal.NewFromInt(100),
		Timestamp: time.Now(),
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := NewBus(4)
	first := bus.Subscribe()
	second := bus.Subscribe()

	bus.Publish(tradeEvent("TRD_1"))

	e1 := <-first
	e2 := <-second
	assert.Equal(t, NameTradeExecuted, e1.EventName())
	assert.Equal(t, NameTradeExecuted, e2.EventName())

	trade, ok := e1.(TradeExecuted)
	require.True(t, ok)
	assert.Equal(t, "TRD_1", trade.TradeID)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(2)
	slow := bus.Subscribe()

	// Third publish overflows the buffer; it must return immediately and
	// drop the event for the slow consumer.
	bus.Publish(tradeEvent("TRD_1"))
	bus.Publish(tradeEvent("TRD_2"))
	bus.Publish(tradeEvent("TRD_3"))

	assert.Len(t, slow, 2)
	first := (<-slow).(TradeExecuted)
	second := (<-slow).(TradeExecuted)
	assert.Equal(t, "TRD_1", first.TradeID)
	assert.Equal(t, "TRD_2", second.TradeID)
}

func TestDropIsPerSubscriber(t *testing.T) {
	bus := NewBus(1)
	full := bus.Subscribe()
	empty := bus.Subscribe()

	bus.Publish(tradeEvent("TRD_1"))
	<-empty // drain one side only

	bus.Publish(tradeEvent("TRD_2"))

	assert.Len(t, full, 1, "second event dropped for the full subscriber")
	e := (<-empty).(TradeExecuted)
	assert.Equal(t, "TRD_2", e.TradeID, "drained subscriber still receives")
}

func TestCloseEndsSubscriberChannels(t *testing.T) {
	bus := NewBus(4)
	sub := bus.Subscribe()

	bus.Publish(tradeEvent("TRD_1"))
	bus.Close()

	_, ok := <-sub
	assert.True(t, ok, "buffered event still readable after close")
	_, ok = <-sub
	assert.False(t, ok, "channel closed")
}

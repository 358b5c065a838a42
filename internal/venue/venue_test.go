package venue

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/outcomex/internal/book"
	"github.com/ksred/outcomex/internal/doctrine"
	"github.com/ksred/outcomex/internal/events"
	"github.com/ksred/outcomex/internal/ledger"
	"github.com/ksred/outcomex/internal/margin"
	"github.com/ksred/outcomex/internal/reputation"
	"github.com/ksred/outcomex/internal/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

type fixture struct {
	funds   *ledger.Service
	gate    *doctrine.Service
	clearer *margin.Service
	store   *MemoryStore
	bus     *events.Bus
	venue   *Service
}

func newFixture(t *testing.T, balances map[string]string) *fixture {
	t.Helper()

	funds := ledger.NewService(ledger.NewMemoryStore())
	require.NoError(t, funds.CreateWallet(ledger.CCPAgentID, d("100000")))
	for agentID, amount := range balances {
		require.NoError(t, funds.CreateWallet(agentID, d(amount)))
	}

	gate := doctrine.NewService(doctrine.NewMemoryStore(), reputation.NewRegistry())
	bus := events.NewBus(256)
	clearer := margin.NewService(funds, margin.NewMemoryStore(), bus, nil)
	store := NewMemoryStore()
	venue := NewService(book.NewEngine(), funds, gate, clearer, store, bus)

	_, err := venue.InitializeMarket("MKT_TEST", "crypto")
	require.NoError(t, err)
	return &fixture{funds: funds, gate: gate, clearer: clearer, store: store, bus: bus, venue: venue}
}

func limitReq(side types.Side, price string, qty int64) types.OrderRequest {
	return types.OrderRequest{
		MarketID: "MKT_TEST",
		Side:     side,
		Outcome:  types.OutcomeYes,
		Type:     types.OrderTypeLimit,
		Price:    d(price),
		Quantity: decimal.NewFromInt(qty),
	}
}

func marketReq(side types.Side, qty int64) types.OrderRequest {
	return types.OrderRequest{
		MarketID: "MKT_TEST",
		Side:     side,
		Outcome:  types.OutcomeYes,
		Type:     types.OrderTypeMarket,
		Quantity: decimal.NewFromInt(qty),
	}
}

func TestCrossingLimitOrdersSettleAtMakerPrice(t *testing.T) {
	f := newFixture(t, map[string]string{"alice": "1000", "bob": "1000"})

	// Alice quotes, bob crosses at a better limit.
	sellResult, err := f.venue.ProcessOrder("alice", limitReq(types.SideSell, "0.40", 100))
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusOpen, sellResult.Order.Status)

	buyResult, err := f.venue.ProcessOrder("bob", limitReq(types.SideBuy, "0.45", 100))
	require.NoError(t, err)
	require.Len(t, buyResult.Trades, 1)

	trade := buyResult.Trades[0]
	assert.True(t, trade.Price.Equal(d("0.40")), "execution at maker price, not taker limit")
	assert.True(t, trade.Quantity.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "bob", trade.BuyerID)
	assert.Equal(t, "alice", trade.SellerID)
	assert.Equal(t, types.OrderStatusFilled, buyResult.Order.Status)

	// Bob paid 40 plus a 0.1% fee and holds 8 in initial margin on his
	// YES lean; alice received 40 minus her fee and holds 12 against the
	// complementary NO lean.
	bob, _ := f.funds.Balance("bob")
	alice, _ := f.funds.Balance("alice")
	assert.True(t, bob.Available.Equal(d("951.96")))
	assert.True(t, bob.Locked.Equal(d("8")))
	assert.True(t, alice.Available.Equal(d("1027.96")))
	assert.True(t, alice.Locked.Equal(d("12")))
	assert.True(t, f.funds.FeesCollected().Equal(d("0.08")))

	bobAccount, err := f.clearer.GetAccount("bob")
	require.NoError(t, err)
	require.Len(t, bobAccount.Positions, 1)
	assert.Equal(t, types.OutcomeYes, bobAccount.Positions[0].Side)
	assert.True(t, bobAccount.Positions[0].EntryPrice.Equal(d("0.40")))

	aliceAccount, err := f.clearer.GetAccount("alice")
	require.NoError(t, err)
	require.Len(t, aliceAccount.Positions, 1)
	assert.Equal(t, types.OutcomeNo, aliceAccount.Positions[0].Side)

	// The maker's terminal state is persisted.
	maker, err := f.store.GetOrder(sellResult.Order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, maker.Status)
	assert.True(t, maker.LockedAmount.IsZero(), "seller collateral fully consumed")

	tape, err := f.venue.GetTrades("MKT_TEST")
	require.NoError(t, err)
	assert.Len(t, tape, 1)
}

func TestSelfTradeMatchesNormally(t *testing.T) {
	f := newFixture(t, map[string]string{"alice": "1000"})

	restResult, err := f.venue.ProcessOrder("alice", limitReq(types.SideBuy, "0.50", 50))
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusOpen, restResult.Order.Status)

	sellResult, err := f.venue.ProcessOrder("alice", limitReq(types.SideSell, "0.50", 50))
	require.NoError(t, err)

	// The matcher treats the agent's own resting order like any other.
	require.Len(t, sellResult.Trades, 1)
	trade := sellResult.Trades[0]
	assert.Equal(t, "alice", trade.BuyerID)
	assert.Equal(t, "alice", trade.SellerID)
	assert.True(t, trade.Price.Equal(d("0.50")))
	assert.True(t, trade.Quantity.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, types.OrderStatusFilled, sellResult.Order.Status)

	maker, err := f.store.GetOrder(restResult.Order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, maker.Status)

	// The two CCP legs net to nothing; alice only pays both fees.
	account, err := f.clearer.GetAccount("alice")
	require.NoError(t, err)
	assert.Empty(t, account.Positions)
	assert.True(t, account.MarginUsed.IsZero())

	alice, _ := f.funds.Balance("alice")
	assert.True(t, alice.Locked.IsZero())
	assert.True(t, alice.Available.Equal(d("999.95")), "25 notional, 0.1% fee per side")
}

func TestNovationVetoLeavesCollateralConsistent(t *testing.T) {
	// Bob's wallet covers the order lock exactly, leaving nothing for
	// initial margin, so the clearer vetoes the fill. The maker and its
	// collateral must come through untouched, and bob must be made whole.
	f := newFixture(t, map[string]string{"alice": "1000", "bob": "50"})

	_, err := f.venue.ProcessOrder("alice", limitReq(types.SideSell, "0.50", 100))
	require.NoError(t, err)

	result, err := f.venue.ProcessOrder("bob", limitReq(types.SideBuy, "0.50", 100))
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
	assert.Equal(t, types.OrderStatusCancelled, result.Order.Status)

	bob, _ := f.funds.Balance("bob")
	assert.True(t, bob.Locked.IsZero())
	assert.True(t, bob.Available.Equal(d("50")))

	// Alice's quote still rests with its full collateral behind it.
	alice, _ := f.funds.Balance("alice")
	assert.True(t, alice.Locked.Equal(d("50")))
	prices, err := f.venue.GetBestPrices("MKT_TEST")
	require.NoError(t, err)
	require.NotNil(t, prices.YesAsk)
	assert.True(t, prices.YesAsk.Equal(d("0.50")))

	novations, err := f.clearer.Novations("bob")
	require.NoError(t, err)
	assert.Empty(t, novations)
}

func TestDoctrineRejectionIsAResultNotAnError(t *testing.T) {
	f := newFixture(t, map[string]string{"alice": "1000"})
	f.gate.PauseAgent("alice")

	result, err := f.venue.ProcessOrder("alice", limitReq(types.SideBuy, "0.40", 10))
	require.NoError(t, err)
	require.NotNil(t, result.Violation)
	assert.True(t, result.Rejected())
	assert.Equal(t, types.RuleAgentPaused, result.Violation.Rule)
	assert.Equal(t, types.OrderStatusRejected, result.Order.Status)

	// No collateral was touched.
	alice, _ := f.funds.Balance("alice")
	assert.True(t, alice.Locked.IsZero())
	assert.True(t, alice.Available.Equal(d("1000")))
}

func TestInsufficientCollateralRejectsOrder(t *testing.T) {
	f := newFixture(t, map[string]string{"alice": "5"})

	// Worst case for a 100-lot buy at 0.40 is 40.
	_, err := f.venue.ProcessOrder("alice", limitReq(types.SideBuy, "0.40", 100))
	assert.ErrorIs(t, err, types.ErrInsufficientFunds)

	orders, err := f.venue.GetAgentOrders("alice")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, types.OrderStatusRejected, orders[0].Status)
}

func TestCancelReleasesExactRemainingLock(t *testing.T) {
	f := newFixture(t, map[string]string{"alice": "1000", "bob": "1000"})

	result, err := f.venue.ProcessOrder("alice", limitReq(types.SideBuy, "0.40", 100))
	require.NoError(t, err)
	orderID := result.Order.OrderID

	alice, _ := f.funds.Balance("alice")
	assert.True(t, alice.Locked.Equal(d("40")))

	_, err = f.venue.CancelOrder("bob", orderID)
	assert.ErrorIs(t, err, types.ErrForbidden)

	cancelled, err := f.venue.CancelOrder("alice", orderID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusCancelled, cancelled.Status)

	alice, _ = f.funds.Balance("alice")
	assert.True(t, alice.Locked.IsZero())
	assert.True(t, alice.Available.Equal(d("1000")))

	_, err = f.venue.CancelOrder("alice", orderID)
	assert.ErrorIs(t, err, types.ErrOrderNotFound, "cancelled orders leave the resting index")
}

func TestMarketOrderAgainstEmptyBook(t *testing.T) {
	f := newFixture(t, map[string]string{"alice": "1000"})

	_, err := f.venue.ProcessOrder("alice", marketReq(types.SideBuy, 10))
	assert.ErrorIs(t, err, types.ErrEmptyBook)
}

func TestMarketOrderWalksLevelsAndRemainderNeverRests(t *testing.T) {
	f := newFixture(t, map[string]string{"alice": "1000", "bob": "1000", "carol": "1000"})

	_, err := f.venue.ProcessOrder("alice", limitReq(types.SideSell, "0.40", 50))
	require.NoError(t, err)
	_, err = f.venue.ProcessOrder("bob", limitReq(types.SideSell, "0.45", 50))
	require.NoError(t, err)

	result, err := f.venue.ProcessOrder("carol", marketReq(types.SideBuy, 120))
	require.NoError(t, err)

	require.Len(t, result.Trades, 2)
	assert.True(t, result.Trades[0].Price.Equal(d("0.40")))
	assert.True(t, result.Trades[1].Price.Equal(d("0.45")), "top-up covers the worse level")

	// 100 filled; the 20-lot remainder is cancelled, never rested.
	assert.Equal(t, types.OrderStatusCancelled, result.Order.Status)
	assert.True(t, result.Order.FilledQty.Equal(decimal.NewFromInt(100)))
	assert.True(t, result.Order.RemainingQty.Equal(decimal.NewFromInt(20)))

	prices, err := f.venue.GetBestPrices("MKT_TEST")
	require.NoError(t, err)
	assert.Nil(t, prices.YesAsk, "book exhausted")

	// Only initial margin remains locked: carol's averaged YES lean of
	// 100 at entries 0.40 and 0.45.
	carol, _ := f.funds.Balance("carol")
	assert.True(t, carol.Locked.Equal(d("8.5")))

	account, err := f.clearer.GetAccount("carol")
	require.NoError(t, err)
	require.Len(t, account.Positions, 1)
	assert.True(t, account.Positions[0].Size.Equal(decimal.NewFromInt(100)))
	assert.True(t, account.Positions[0].EntryPrice.Equal(d("0.425")))
}

func TestSweepExpiredReleasesCollateral(t *testing.T) {
	f := newFixture(t, map[string]string{"alice": "1000"})

	expiry := time.Now().Add(time.Hour)
	req := limitReq(types.SideBuy, "0.40", 100)
	req.ExpiresAt = &expiry
	result, err := f.venue.ProcessOrder("alice", req)
	require.NoError(t, err)

	assert.Equal(t, 0, f.venue.SweepExpired(time.Now()), "not yet expired")

	swept := f.venue.SweepExpired(time.Now().Add(2 * time.Hour))
	assert.Equal(t, 1, swept)

	alice, _ := f.funds.Balance("alice")
	assert.True(t, alice.Locked.IsZero())

	order, err := f.store.GetOrder(result.Order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusExpired, order.Status)
}

func TestResolveMarketCancelsRestingAndSettlesPositions(t *testing.T) {
	f := newFixture(t, map[string]string{"alice": "1000", "bob": "1000", "carol": "1000"})

	// One executed trade plus one order left resting.
	_, err := f.venue.ProcessOrder("alice", limitReq(types.SideSell, "0.60", 100))
	require.NoError(t, err)
	_, err = f.venue.ProcessOrder("bob", limitReq(types.SideBuy, "0.60", 100))
	require.NoError(t, err)
	restingResult, err := f.venue.ProcessOrder("carol", limitReq(types.SideBuy, "0.30", 50))
	require.NoError(t, err)

	require.NoError(t, f.venue.ResolveMarket("MKT_TEST", types.OutcomeYes))

	// Carol's resting order came back whole.
	carol, _ := f.funds.Balance("carol")
	assert.True(t, carol.Locked.IsZero())
	assert.True(t, carol.Available.Equal(d("1000")))
	order, err := f.store.GetOrder(restingResult.Order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusCancelled, order.Status)

	// Bob's winning YES lean paid out at 1, alice's NO lean at 0. Each
	// side also paid its 0.06 trade fee.
	bob, _ := f.funds.Balance("bob")
	alice, _ := f.funds.Balance("alice")
	assert.True(t, bob.Locked.IsZero())
	assert.True(t, alice.Locked.IsZero())
	assert.True(t, bob.Total.Equal(d("979.94")), "paid 60, fee 0.06, settled at 100")
	assert.True(t, alice.Total.Equal(d("1019.94")), "received 60, fee 0.06, lean expired worthless")

	// Resolved markets accept no further flow.
	_, err = f.venue.ProcessOrder("bob", limitReq(types.SideBuy, "0.50", 10))
	assert.ErrorIs(t, err, types.ErrMarketNotActive)
}

func TestValidateRequestBounds(t *testing.T) {
	f := newFixture(t, map[string]string{"alice": "1000"})

	var validationErr *types.ValidationError

	bad := limitReq(types.SideBuy, "1.00", 10)
	_, err := f.venue.ProcessOrder("alice", bad)
	assert.ErrorAs(t, err, &validationErr, "price must sit strictly inside (0, 1)")

	bad = limitReq(types.SideBuy, "0.40", 0)
	_, err = f.venue.ProcessOrder("alice", bad)
	assert.ErrorAs(t, err, &validationErr)

	past := time.Now().Add(-time.Minute)
	bad = limitReq(types.SideBuy, "0.40", 10)
	bad.ExpiresAt = &past
	_, err = f.venue.ProcessOrder("alice", bad)
	assert.ErrorAs(t, err, &validationErr)

	bad = limitReq("SHORT", "0.40", 10)
	_, err = f.venue.ProcessOrder("alice", bad)
	assert.ErrorAs(t, err, &validationErr)
}

package ledger

import (
	"testing"

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

func newTestService() *Service {
	return NewService(NewMemoryStore())
}

func TestCreateWallet(t *testing.T) {
	s := newTestService()

	require.NoError(t, s.CreateWallet("alice", d("1000")))
	assert.ErrorIs(t, s.CreateWallet("alice", d("1000")), types.ErrWalletExists)

	balance, err := s.Balance("alice")
	require.NoError(t, err)
	assert.True(t, balance.Available.Equal(d("1000")))
	assert.True(t, balance.Locked.IsZero())

	_, err = s.Balance("missing")
	assert.ErrorIs(t, err, types.ErrWalletNotFound)
}

func TestDepositWithdraw(t *testing.T) {
	s := newTestService()
	require.NoError(t, s.CreateWallet("alice", d("100")))

	require.NoError(t, s.Deposit("alice", d("50"), "DEP_1"))
	require.NoError(t, s.Withdraw("alice", d("30"), "WDR_1"))

	balance, err := s.Balance("alice")
	require.NoError(t, err)
	assert.True(t, balance.Available.Equal(d("120")))

	assert.ErrorIs(t, s.Withdraw("alice", d("1000"), "WDR_2"), types.ErrInsufficientFunds)
	err = s.Deposit("alice", d("-5"), "DEP_2")
	var validationErr *types.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestLockReleaseRoundTrip(t *testing.T) {
	s := newTestService()
	require.NoError(t, s.CreateWallet("alice", d("100")))

	require.NoError(t, s.Lock("alice", d("40"), "order collateral", "ORD_1"))
	balance, _ := s.Balance("alice")
	assert.True(t, balance.Available.Equal(d("60")))
	assert.True(t, balance.Locked.Equal(d("40")))
	assert.True(t, balance.Total.Equal(d("100")), "lock moves funds, never destroys them")

	assert.ErrorIs(t, s.Lock("alice", d("70"), "order collateral", "ORD_2"), types.ErrInsufficientFunds)

	require.NoError(t, s.Release("alice", d("40"), "ORD_1"))
	balance, _ = s.Balance("alice")
	assert.True(t, balance.Available.Equal(d("100")))
	assert.True(t, balance.Locked.IsZero())
}

func TestRebindAtomicMovesLockInOneStep(t *testing.T) {
	s := newTestService()
	require.NoError(t, s.CreateWallet("alice", d("100")))
	require.NoError(t, s.Lock("alice", d("40"), "order collateral", "ORD_1"))

	// 40 of order collateral becomes 10 of margin; the remainder lands in
	// available within the same critical section.
	require.NoError(t, s.RebindAtomic([]RebindStep{
		{AgentID: "alice", Release: d("40"), Lock: d("10"), FromRef: "ORD_1", ToRef: "NOV_1", Reason: "initial margin"},
	}))

	balance, _ := s.Balance("alice")
	assert.True(t, balance.Locked.Equal(d("10")))
	assert.True(t, balance.Available.Equal(d("90")))
	assert.True(t, balance.Total.Equal(d("100")))
}

func TestRebindAtomicAllOrNothing(t *testing.T) {
	s := newTestService()
	require.NoError(t, s.CreateWallet("alice", d("100")))
	require.NoError(t, s.CreateWallet("bob", d("10")))
	require.NoError(t, s.Lock("alice", d("40"), "order collateral", "ORD_1"))

	// Bob's step cannot be funded, so alice's step must not apply either.
	err := s.RebindAtomic([]RebindStep{
		{AgentID: "alice", Release: d("40"), Lock: d("10"), FromRef: "ORD_1", ToRef: "NOV_1", Reason: "initial margin"},
		{AgentID: "bob", Release: d("0"), Lock: d("50"), ToRef: "NOV_1", Reason: "initial margin"},
	})
	assert.ErrorIs(t, err, types.ErrInsufficientFunds)

	alice, _ := s.Balance("alice")
	bob, _ := s.Balance("bob")
	assert.True(t, alice.Locked.Equal(d("40")), "nothing released")
	assert.True(t, alice.Available.Equal(d("60")))
	assert.True(t, bob.Available.Equal(d("10")))
	assert.True(t, bob.Locked.IsZero())
}

func TestRebindAtomicSameAgentStepsAccumulate(t *testing.T) {
	s := newTestService()
	require.NoError(t, s.CreateWallet("alice", d("50")))
	require.NoError(t, s.Lock("alice", d("50"), "order collateral", "ORD_1"))

	// A self-trade funds its second step from what the first freed.
	require.NoError(t, s.RebindAtomic([]RebindStep{
		{AgentID: "alice", Release: d("30"), Lock: d("0"), FromRef: "ORD_1", ToRef: "NOV_1", Reason: "initial margin"},
		{AgentID: "alice", Release: d("0"), Lock: d("25"), ToRef: "NOV_1", Reason: "initial margin"},
	}))

	balance, _ := s.Balance("alice")
	assert.True(t, balance.Locked.Equal(d("45")))
	assert.True(t, balance.Available.Equal(d("5")))
}

func TestSettleMovesLockedToSellerMinusFees(t *testing.T) {
	s := newTestService()
	require.NoError(t, s.CreateWallet("buyer", d("100")))
	require.NoError(t, s.CreateWallet("seller", d("100")))

	require.NoError(t, s.Lock("buyer", d("40"), "order collateral", "ORD_1"))
	require.NoError(t, s.Settle("buyer", "seller", d("40"), d("0.04"), d("0.04"), "TRD_1"))

	buyer, _ := s.Balance("buyer")
	seller, _ := s.Balance("seller")
	assert.True(t, buyer.Locked.IsZero())
	assert.True(t, buyer.Available.Equal(d("59.96")), "buyer fee charged from available")
	assert.True(t, seller.Available.Equal(d("139.96")), "seller fee withheld from proceeds")
	assert.True(t, s.FeesCollected().Equal(d("0.08")))
}

func TestSystemConservation(t *testing.T) {
	s := newTestService()
	require.NoError(t, s.CreateWallet("buyer", d("500")))
	require.NoError(t, s.CreateWallet("seller", d("500")))

	before := s.SystemTotal()

	require.NoError(t, s.Lock("buyer", d("200"), "order collateral", "ORD_1"))
	require.NoError(t, s.Release("buyer", d("50"), "ORD_1"))
	require.NoError(t, s.Transfer("seller", "buyer", d("25"), "realized pnl", "NOV_1"))
	assert.True(t, s.SystemTotal().Equal(before), "lock, release and transfer conserve the system total")

	require.NoError(t, s.Settle("buyer", "seller", d("150"), d("1"), d("1"), "TRD_1"))
	assert.True(t, s.SystemTotal().Equal(before.Sub(d("2"))), "only fees leave the system")
	assert.True(t, s.FeesCollected().Equal(d("2")))
}

func TestSettleClampsBuyerFeeInDustCases(t *testing.T) {
	s := newTestService()
	require.NoError(t, s.CreateWallet("buyer", d("10")))
	require.NoError(t, s.CreateWallet("seller", d("0")))

	require.NoError(t, s.Lock("buyer", d("10"), "order collateral", "ORD_1"))
	// Buyer has no available funds left; the fee is clamped to zero
	// rather than driving available negative.
	require.NoError(t, s.Settle("buyer", "seller", d("10"), d("0.01"), d("0.01"), "TRD_1"))

	buyer, _ := s.Balance("buyer")
	assert.True(t, buyer.Available.IsZero())
	assert.False(t, buyer.Available.IsNegative())
	assert.True(t, s.FeesCollected().Equal(d("0.01")), "only the seller fee collected")
}

func TestTransferInsufficientFunds(t *testing.T) {
	s := newTestService()
	require.NoError(t, s.CreateWallet("alice", d("10")))
	require.NoError(t, s.CreateWallet("bob", d("10")))

	assert.ErrorIs(t, s.Transfer("alice", "bob", d("50"), "realized pnl", "NOV_1"), types.ErrInsufficientFunds)
	require.NoError(t, s.Transfer("alice", "bob", d("10"), "realized pnl", "NOV_2"))

	alice, _ := s.Balance("alice")
	bob, _ := s.Balance("bob")
	assert.True(t, alice.Available.IsZero())
	assert.True(t, bob.Available.Equal(d("20")))
}

func TestAuditTrail(t *testing.T) {
	s := newTestService()
	require.NoError(t, s.CreateWallet("alice", d("100")))
	require.NoError(t, s.Lock("alice", d("40"), "order collateral", "ORD_1"))
	require.NoError(t, s.Release("alice", d("40"), "ORD_1"))

	entries, err := s.Entries("alice")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	lock := entries[1]
	assert.Equal(t, EntryLock, lock.Type)
	assert.True(t, lock.AvailableBefore.Equal(d("100")))
	assert.True(t, lock.AvailableAfter.Equal(d("60")))
	assert.True(t, lock.LockedAfter.Equal(d("40")))
	assert.Equal(t, "ORD_1", lock.ReferenceID)

	release := entries[2]
	assert.Equal(t, EntryRelease, release.Type)
	assert.True(t, release.AvailableAfter.Equal(d("100")))
	assert.True(t, release.LockedAfter.IsZero())
}

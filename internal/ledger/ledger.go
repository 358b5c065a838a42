// Package ledger owns agent cash balances. It exposes the atomic lock,
// release, settle and transfer primitives everything else builds on.
//
// Conservation invariant: the sum of (available + locked) across all
// wallets changes only on deposit, withdrawal or fee extraction, never on
// lock/release/internal settlement.
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/outcomex/internal/types"
)

// CCPAgentID is the wallet of the central counterparty. It is the
// counterparty of record for every novated leg and the sink/source for
// realized P&L at liquidation and resolution.
const CCPAgentID = "CCP"

type walletState struct {
	available decimal.Decimal
	locked    decimal.Decimal
}

// Service is the funds ledger. In-memory state is authoritative; every
// mutation is written through the Store as a wallet snapshot plus an
// immutable audit entry.
type Service struct {
	mu      sync.Mutex
	wallets map[string]*walletState
	fees    decimal.Decimal
	store   Store
}

// NewService creates a ledger over the given store.
func NewService(store Store) *Service {
	return &Service{
		wallets: make(map[string]*walletState),
		fees:    decimal.Zero,
		store:   store,
	}
}

// CreateWallet onboards an agent with an initial available balance.
func (s *Service) CreateWallet(agentID string, initial decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.wallets[agentID]; exists {
		return types.ErrWalletExists
	}
	if initial.IsNegative() {
		return types.NewValidationError("initial", "must not be negative")
	}

	w := &walletState{available: initial, locked: decimal.Zero}
	s.wallets[agentID] = w
	s.persist(agentID, w)
	s.append(agentID, EntryDeposit, initial, w, initial, decimal.Zero, "wallet created", agentID)

	log.Info().
		Str("service", "ledger").
		Str("agent_id", agentID).
		Str("initial", initial.String()).
		Msg("wallet created")
	return nil
}

// Deposit adds funds from an external source.
func (s *Service) Deposit(agentID string, amount decimal.Decimal, referenceID string) error {
	if !amount.IsPositive() {
		return types.NewValidationError("amount", "must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[agentID]
	if !ok {
		return types.ErrWalletNotFound
	}
	before := *w
	w.available = w.available.Add(amount)
	s.persist(agentID, w)
	s.append(agentID, EntryDeposit, amount, w, before.available, before.locked, "external deposit", referenceID)
	return nil
}

// Withdraw moves available funds to an external destination.
func (s *Service) Withdraw(agentID string, amount decimal.Decimal, referenceID string) error {
	if !amount.IsPositive() {
		return types.NewValidationError("amount", "must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[agentID]
	if !ok {
		return types.ErrWalletNotFound
	}
	if w.available.LessThan(amount) {
		return types.ErrInsufficientFunds
	}
	before := *w
	w.available = w.available.Sub(amount)
	s.persist(agentID, w)
	s.append(agentID, EntryWithdraw, amount, w, before.available, before.locked, "external withdrawal", referenceID)
	return nil
}

// Lock moves amount from available to locked, failing with
// ErrInsufficientFunds when available < amount.
func (s *Service) Lock(agentID string, amount decimal.Decimal, reason, referenceID string) error {
	if !amount.IsPositive() {
		return types.NewValidationError("amount", "must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[agentID]
	if !ok {
		return types.ErrWalletNotFound
	}
	if w.available.LessThan(amount) {
		return types.ErrInsufficientFunds
	}
	before := *w
	w.available = w.available.Sub(amount)
	w.locked = w.locked.Add(amount)
	s.persist(agentID, w)
	s.append(agentID, EntryLock, amount, w, before.available, before.locked, reason, referenceID)
	return nil
}

// Release reverses a lock, moving amount from locked back to available.
func (s *Service) Release(agentID string, amount decimal.Decimal, referenceID string) error {
	if amount.IsZero() {
		return nil
	}
	if amount.IsNegative() {
		return types.NewValidationError("amount", "must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[agentID]
	if !ok {
		return types.ErrWalletNotFound
	}
	if w.locked.LessThan(amount) {
		return types.ErrInsufficientFunds
	}
	before := *w
	w.locked = w.locked.Sub(amount)
	w.available = w.available.Add(amount)
	s.persist(agentID, w)
	s.append(agentID, EntryRelease, amount, w, before.available, before.locked, "lock released", referenceID)
	return nil
}

// RebindStep is one agent's part of an atomic rebinding: Release moves
// out of the locked pool against FromRef, Lock moves into it against
// ToRef, netting through available inside the same critical section.
type RebindStep struct {
	AgentID string
	Release decimal.Decimal
	Lock    decimal.Decimal
	FromRef string
	ToRef   string
	Reason  string
}

// RebindAtomic applies every step or none, under a single mutex
// acquisition. It exists for cross-domain collateral handoffs, such as
// order collateral becoming initial margin at novation: funds freed by
// one step are never observable to a concurrent Lock or Withdraw before
// a later step claims them.
func (s *Service) RebindAtomic(steps []RebindStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole batch against projected balances first. Steps
	// for the same agent accumulate, so a later step may spend what an
	// earlier one freed.
	projected := make(map[string]walletState, len(steps))
	for _, step := range steps {
		if step.Release.IsNegative() || step.Lock.IsNegative() {
			return types.NewValidationError("amount", "must not be negative")
		}
		p, ok := projected[step.AgentID]
		if !ok {
			w, exists := s.wallets[step.AgentID]
			if !exists {
				return types.ErrWalletNotFound
			}
			p = *w
		}
		if p.locked.LessThan(step.Release) {
			return types.ErrInsufficientFunds
		}
		p.locked = p.locked.Sub(step.Release).Add(step.Lock)
		p.available = p.available.Add(step.Release).Sub(step.Lock)
		if p.available.IsNegative() {
			return types.ErrInsufficientFunds
		}
		projected[step.AgentID] = p
	}

	for _, step := range steps {
		w := s.wallets[step.AgentID]
		before := *w
		if step.Release.IsPositive() {
			w.locked = w.locked.Sub(step.Release)
			w.available = w.available.Add(step.Release)
			s.append(step.AgentID, EntryRelease, step.Release, w, before.available, before.locked, "lock released", step.FromRef)
			before = *w
		}
		if step.Lock.IsPositive() {
			w.available = w.available.Sub(step.Lock)
			w.locked = w.locked.Add(step.Lock)
			s.append(step.AgentID, EntryLock, step.Lock, w, before.available, before.locked, step.Reason, step.ToRef)
		}
		s.persist(step.AgentID, w)
	}
	return nil
}

// Settle moves amount from the buyer's locked funds to the seller's
// available funds at trade execution. The seller fee is withheld from the
// proceeds; the buyer fee is charged from available funds, clamped so the
// available >= 0 invariant holds in dust cases. Both fees accumulate in the
// venue fee pool.
func (s *Service) Settle(buyerID, sellerID string, amount, buyerFee, sellerFee decimal.Decimal, referenceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buyer, ok := s.wallets[buyerID]
	if !ok {
		return types.ErrWalletNotFound
	}
	seller, ok := s.wallets[sellerID]
	if !ok {
		return types.ErrWalletNotFound
	}
	if buyer.locked.LessThan(amount) {
		return types.ErrInsufficientFunds
	}

	buyerBefore := *buyer
	sellerBefore := *seller

	buyer.locked = buyer.locked.Sub(amount)

	chargedBuyerFee := buyerFee
	if buyer.available.LessThan(chargedBuyerFee) {
		chargedBuyerFee = buyer.available
	}
	buyer.available = buyer.available.Sub(chargedBuyerFee)

	proceeds := amount.Sub(sellerFee)
	seller.available = seller.available.Add(proceeds)

	s.fees = s.fees.Add(sellerFee).Add(chargedBuyerFee)

	s.persist(buyerID, buyer)
	s.persist(sellerID, seller)
	s.append(buyerID, EntrySettleDebit, amount, buyer, buyerBefore.available, buyerBefore.locked, "trade settlement", referenceID)
	s.append(sellerID, EntrySettleCredit, proceeds, seller, sellerBefore.available, sellerBefore.locked, "trade settlement", referenceID)
	if chargedBuyerFee.IsPositive() || sellerFee.IsPositive() {
		s.append(buyerID, EntryFee, chargedBuyerFee.Add(sellerFee), buyer, buyerBefore.available, buyerBefore.locked, "trade fees", referenceID)
	}

	log.Debug().
		Str("service", "ledger").
		Str("buyer_id", buyerID).
		Str("seller_id", sellerID).
		Str("amount", amount.String()).
		Str("buyer_fee", chargedBuyerFee.String()).
		Str("seller_fee", sellerFee.String()).
		Str("reference_id", referenceID).
		Msg("trade settled")
	return nil
}

// Transfer moves available funds between two wallets. Used for realized
// P&L flows between agents and the CCP.
func (s *Service) Transfer(fromID, toID string, amount decimal.Decimal, reason, referenceID string) error {
	if amount.IsZero() {
		return nil
	}
	if amount.IsNegative() {
		return types.NewValidationError("amount", "must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	from, ok := s.wallets[fromID]
	if !ok {
		return types.ErrWalletNotFound
	}
	to, ok := s.wallets[toID]
	if !ok {
		return types.ErrWalletNotFound
	}
	if from.available.LessThan(amount) {
		return types.ErrInsufficientFunds
	}

	fromBefore := *from
	toBefore := *to
	from.available = from.available.Sub(amount)
	to.available = to.available.Add(amount)

	s.persist(fromID, from)
	s.persist(toID, to)
	s.append(fromID, EntryTransferOut, amount, from, fromBefore.available, fromBefore.locked, reason, referenceID)
	s.append(toID, EntryTransferIn, amount, to, toBefore.available, toBefore.locked, reason, referenceID)
	return nil
}

// Balance returns the agent's current funds split.
func (s *Service) Balance(agentID string) (*WalletBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[agentID]
	if !ok {
		return nil, types.ErrWalletNotFound
	}
	return &WalletBalance{
		AgentID:   agentID,
		Available: w.available,
		Locked:    w.locked,
		Total:     w.available.Add(w.locked),
	}, nil
}

// HasWallet reports whether the agent has been onboarded.
func (s *Service) HasWallet(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.wallets[agentID]
	return ok
}

// FeesCollected returns the cumulative extracted fees.
func (s *Service) FeesCollected() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fees
}

// SystemTotal sums (available + locked) across all wallets. Used by
// reconciliation and conservation tests.
func (s *Service) SystemTotal() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := decimal.Zero
	for _, w := range s.wallets {
		total = total.Add(w.available).Add(w.locked)
	}
	return total
}

// Entries returns the audit trail for one agent.
func (s *Service) Entries(agentID string) ([]Entry, error) {
	return s.store.GetEntries(agentID)
}

// persist writes the wallet snapshot through the store. Failures are
// logged, not propagated: the in-memory state already committed and the
// audit entry carries the same numbers.
func (s *Service) persist(agentID string, w *walletState) {
	err := s.store.SaveWallet(&Wallet{
		AgentID:   agentID,
		Available: w.available,
		Locked:    w.locked,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		log.Error().Err(err).
			Str("service", "ledger").
			Str("agent_id", agentID).
			Msg("failed to persist wallet snapshot")
	}
}

func (s *Service) append(agentID, entryType string, amount decimal.Decimal, after *walletState, availableBefore, lockedBefore decimal.Decimal, reason, referenceID string) {
	entry := &Entry{
		EntryID:         "LED_" + uuid.New().String(),
		AgentID:         agentID,
		Type:            entryType,
		Amount:          amount,
		AvailableBefore: availableBefore,
		AvailableAfter:  after.available,
		LockedBefore:    lockedBefore,
		LockedAfter:     after.locked,
		Reason:          reason,
		ReferenceID:     referenceID,
		Timestamp:       time.Now(),
	}
	if err := s.store.AppendEntry(entry); err != nil {
		log.Error().Err(err).
			Str("service", "ledger").
			Str("agent_id", agentID).
			Str("entry_type", entryType).
			Msg("failed to append ledger entry")
	}
}

// Package margin interposes the central counterparty between every
// matched trade and polices the resulting exposure. Each bilateral trade
// is novated into two CCP-facing legs, initial margin is locked in the
// funds ledger per leg, and a background sweep force-closes accounts
// whose margin ratio falls through the liquidation floor.
package margin

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/outcomex/internal/events"
	"github.com/ksred/outcomex/internal/ledger"
	"github.com/ksred/outcomex/internal/metrics"
	"github.com/ksred/outcomex/internal/types"
)

// Margin rates and account thresholds. The liquidation floor sits below
// the margin-call threshold, which sits below the warning threshold, so
// the warning -> margin_call -> liquidating progression is reachable at
// every step.
var (
	initialMarginRate     = decimal.NewFromFloat(0.20)
	maintenanceMarginRate = decimal.NewFromFloat(0.10)

	liquidationThreshold = decimal.NewFromFloat(0.10)
	marginCallThreshold  = decimal.NewFromFloat(0.15)
	warningThreshold     = decimal.NewFromFloat(0.25)

	one = decimal.NewFromInt(1)
)

// EquitySink receives marked equity after every account evaluation. The
// governance gate uses it for drawdown tracking.
type EquitySink interface {
	UpdateEquity(agentID string, equity decimal.Decimal)
}

// accountState is the engine-owned state per agent. Positions are keyed
// by market: offsetting trades merge into a single lean per market.
// deficit records realized losses the agent's wallet could not cover; the
// account's cash balance is the wallet total minus this deficit, which is
// how a post-liquidation balance goes negative while wallet invariants
// hold.
type accountState struct {
	deficit    decimal.Decimal
	marginUsed decimal.Decimal
	positions  map[string]*Position
	status     string
}

func newAccountState() *accountState {
	return &accountState{
		deficit:    decimal.Zero,
		marginUsed: decimal.Zero,
		positions:  make(map[string]*Position),
		status:     StatusHealthy,
	}
}

func (a *accountState) clone() *accountState {
	c := &accountState{
		deficit:    a.deficit,
		marginUsed: a.marginUsed,
		positions:  make(map[string]*Position, len(a.positions)),
		status:     a.status,
	}
	for k, p := range a.positions {
		cp := *p
		c.positions[k] = &cp
	}
	return c
}

func (a *accountState) unrealized() decimal.Decimal {
	total := decimal.Zero
	for _, p := range a.positions {
		total = total.Add(p.UnrealizedPnL)
	}
	return total
}

func (a *accountState) maintenance() decimal.Decimal {
	total := decimal.Zero
	for _, p := range a.positions {
		total = total.Add(maintenanceMarginRate.Mul(p.EntryPrice).Mul(p.Size))
	}
	return total
}

// Service is the margin and novation engine.
type Service struct {
	mu       sync.Mutex
	accounts map[string]*accountState
	funds    *ledger.Service
	store    Store
	bus      *events.Bus
	equity   EquitySink
}

// NewService creates the engine. The equity sink may be nil.
func NewService(funds *ledger.Service, store Store, bus *events.Bus, equity EquitySink) *Service {
	return &Service{
		accounts: make(map[string]*accountState),
		funds:    funds,
		store:    store,
		bus:      bus,
		equity:   equity,
	}
}

// legPlan captures the funding and position arithmetic for one CCP leg,
// computed against a scratch account state before any funds move.
type legPlan struct {
	marginRequired decimal.Decimal
	releasedMargin decimal.Decimal
	realized       decimal.Decimal
}

// NovateTrade replaces the bilateral trade with two legs against the CCP.
// Both legs must clear the initial margin check; if either is
// under-margined the whole novation fails atomically and no position is
// opened for either party. On success the buyer holds the trade's outcome
// lean at the execution price and the seller the complementary lean at
// 1 - price, each with 20% initial margin locked.
//
// buyerCollateral and sellerCollateral are order collateral the venue
// frees on this fill. They are rebound into the margin legs in a single
// ledger transaction, so the funds are never transiently available to a
// concurrent lock or withdrawal, and a veto leaves both order locks
// untouched.
func (s *Service) NovateTrade(trade *types.Trade, buyerCollateral, sellerCollateral decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	novationID := "NOV_" + uuid.New().String()
	logger := log.With().
		Str("service", "margin").
		Str("novation_id", novationID).
		Str("trade_id", trade.TradeID).
		Logger()

	sellerEntry := one.Sub(trade.Price)

	// Plan both legs on scratch clones. A self-trade shares one clone, so
	// the seller leg sees the buyer leg's position mutation.
	scratch := make(map[string]*accountState)
	stateFor := func(agentID string) *accountState {
		if st, ok := scratch[agentID]; ok {
			return st
		}
		st := s.account(agentID).clone()
		scratch[agentID] = st
		return st
	}

	legA, err := s.planLeg(stateFor(trade.BuyerID), trade.BuyerID, trade.MarketID, trade.Outcome, trade.Price, trade.Quantity)
	if err != nil {
		logger.Info().Err(err).Str("agent_id", trade.BuyerID).Msg("buyer leg under-margined, novation rejected")
		metrics.NovationsTotal.WithLabelValues("rejected").Inc()
		return err
	}

	legB, err := s.planLeg(stateFor(trade.SellerID), trade.SellerID, trade.MarketID, opposite(trade.Outcome), sellerEntry, trade.Quantity)
	if err != nil {
		logger.Info().Err(err).Str("agent_id", trade.SellerID).Msg("seller leg under-margined, novation rejected")
		metrics.NovationsTotal.WithLabelValues("rejected").Inc()
		return err
	}

	// Fund both legs in one ledger transaction: the freed order
	// collateral plus any offset-released margin rebind into the new
	// margin locks, or nothing moves at all.
	err = s.funds.RebindAtomic([]ledger.RebindStep{
		{
			AgentID: trade.BuyerID,
			Release: buyerCollateral.Add(legA.releasedMargin),
			Lock:    legA.marginRequired,
			FromRef: trade.BuyOrderID,
			ToRef:   novationID,
			Reason:  "initial margin",
		},
		{
			AgentID: trade.SellerID,
			Release: sellerCollateral.Add(legB.releasedMargin),
			Lock:    legB.marginRequired,
			FromRef: trade.SellOrderID,
			ToRef:   novationID,
			Reason:  "initial margin",
		},
	})
	if err != nil {
		logger.Info().Err(err).Msg("margin funding failed, novation rejected")
		metrics.NovationsTotal.WithLabelValues("rejected").Inc()
		return types.ErrInsufficientMargin
	}

	// Funding committed; install the planned states and settle realized
	// P&L from any offsets.
	for agentID, st := range scratch {
		s.accounts[agentID] = st
	}
	s.settleRealized(s.accounts[trade.BuyerID], trade.BuyerID, legA.realized, novationID)
	s.settleRealized(s.accounts[trade.SellerID], trade.SellerID, legB.realized, novationID)

	novation := &Novation{
		NovationID:   novationID,
		TradeID:      trade.TradeID,
		MarketID:     trade.MarketID,
		CCPID:        ledger.CCPAgentID,
		BuyerID:      trade.BuyerID,
		SellerID:     trade.SellerID,
		Price:        trade.Price,
		Size:         trade.Quantity,
		BuyerMargin:  legA.marginRequired,
		SellerMargin: legB.marginRequired,
		Status:       NovationCleared,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := s.store.CreateNovation(novation); err != nil {
		logger.Error().Err(err).Msg("failed to persist novation record")
	}

	s.evaluateLocked(trade.BuyerID)
	if trade.SellerID != trade.BuyerID {
		s.evaluateLocked(trade.SellerID)
	}

	metrics.NovationsTotal.WithLabelValues("cleared").Inc()
	s.bus.Publish(events.TradeNovated{
		NovationID: novationID,
		TradeID:    trade.TradeID,
		MarketID:   trade.MarketID,
		BuyerID:    trade.BuyerID,
		SellerID:   trade.SellerID,
		Price:      trade.Price,
		Size:       trade.Quantity,
		Timestamp:  time.Now(),
	})

	logger.Debug().
		Str("buyer_id", trade.BuyerID).
		Str("seller_id", trade.SellerID).
		Str("buyer_margin", legA.marginRequired.String()).
		Str("seller_margin", legB.marginRequired.String()).
		Msg("trade novated")
	return nil
}

// planLeg opens, extends or offsets the agent's position on the scratch
// state and returns the leg's funding plan. Margin is required only on
// newly-opened exposure; offsetting releases the closed portion's margin
// proportionally and realizes its P&L. No funds move here. Requires s.mu
// held.
func (s *Service) planLeg(st *accountState, agentID, marketID string, lean types.Outcome, entry, size decimal.Decimal) (*legPlan, error) {
	pos := st.positions[marketID]
	offsetQty := decimal.Zero
	if pos != nil && pos.Side != lean {
		offsetQty = decimal.Min(size, pos.Size)
	}
	extendQty := size.Sub(offsetQty)
	marginRequired := initialMarginRate.Mul(entry).Mul(extendQty)

	releasedMargin := decimal.Zero
	realized := decimal.Zero
	if offsetQty.IsPositive() {
		// The incoming leg's entry implies a close price of 1 - entry for
		// the opposite lean being offset.
		closePrice := one.Sub(entry)
		realized = closePrice.Sub(pos.EntryPrice).Mul(offsetQty)
		releasedMargin = pos.MarginRequirement.Mul(offsetQty).Div(pos.Size)
	}

	balance, err := s.funds.Balance(agentID)
	if err != nil {
		return nil, types.ErrInsufficientMargin
	}
	cash := balance.Total.Sub(st.deficit)
	marginAvailable := cash.Sub(st.marginUsed)
	if marginRequired.GreaterThan(marginAvailable.Add(releasedMargin)) {
		return nil, types.ErrInsufficientMargin
	}

	switch {
	case pos == nil:
		st.positions[marketID] = s.newPosition(marketID, lean, extendQty, entry, marginRequired)
	case pos.Side == lean:
		total := pos.Size.Add(size)
		pos.EntryPrice = pos.EntryPrice.Mul(pos.Size).Add(entry.Mul(size)).Div(total)
		pos.Size = total
		pos.MarginRequirement = pos.MarginRequirement.Add(marginRequired)
		pos.CurrentPrice = entry
		pos.UnrealizedPnL = pos.CurrentPrice.Sub(pos.EntryPrice).Mul(pos.Size)
	default:
		pos.Size = pos.Size.Sub(offsetQty)
		pos.MarginRequirement = pos.MarginRequirement.Sub(releasedMargin)
		if pos.Size.IsZero() {
			delete(st.positions, marketID)
		}
		if extendQty.IsPositive() {
			st.positions[marketID] = s.newPosition(marketID, lean, extendQty, entry, marginRequired)
		} else if p, ok := st.positions[marketID]; ok {
			p.UnrealizedPnL = p.CurrentPrice.Sub(p.EntryPrice).Mul(p.Size)
		}
	}

	st.marginUsed = st.marginUsed.Add(marginRequired).Sub(releasedMargin)
	if st.marginUsed.IsNegative() {
		st.marginUsed = decimal.Zero
	}

	return &legPlan{
		marginRequired: marginRequired,
		releasedMargin: releasedMargin,
		realized:       realized,
	}, nil
}

func (s *Service) newPosition(marketID string, lean types.Outcome, size, entry, margin decimal.Decimal) *Position {
	return &Position{
		PositionID:        "POS_" + uuid.New().String(),
		MarketID:          marketID,
		Side:              lean,
		Size:              size,
		EntryPrice:        entry,
		CurrentPrice:      entry,
		UnrealizedPnL:     decimal.Zero,
		MarginRequirement: margin,
		OpenedAt:          time.Now(),
	}
}

// settleRealized moves realized P&L between the agent and the CCP.
// Gains are paid from the CCP float, capped by what it holds; losses are
// collected from the agent's available funds, with any shortfall recorded
// as account deficit. Requires s.mu held.
func (s *Service) settleRealized(account *accountState, agentID string, realized decimal.Decimal, refID string) {
	switch {
	case realized.IsPositive():
		pay := realized
		if ccp, err := s.funds.Balance(ledger.CCPAgentID); err == nil && ccp.Available.LessThan(pay) {
			pay = ccp.Available
			log.Warn().
				Str("service", "margin").
				Str("agent_id", agentID).
				Str("owed", realized.String()).
				Str("paid", pay.String()).
				Msg("ccp float short of realized gain")
		}
		if err := s.funds.Transfer(ledger.CCPAgentID, agentID, pay, "realized pnl", refID); err != nil {
			log.Error().Err(err).Str("service", "margin").Str("agent_id", agentID).Msg("failed to pay realized gain")
		}
	case realized.IsNegative():
		loss := realized.Neg()
		pay := loss
		if balance, err := s.funds.Balance(agentID); err == nil && balance.Available.LessThan(pay) {
			pay = balance.Available
		}
		if pay.IsPositive() {
			if err := s.funds.Transfer(agentID, ledger.CCPAgentID, pay, "realized pnl", refID); err != nil {
				log.Error().Err(err).Str("service", "margin").Str("agent_id", agentID).Msg("failed to collect realized loss")
			}
		}
		if shortfall := loss.Sub(pay); shortfall.IsPositive() {
			account.deficit = account.deficit.Add(shortfall)
		}
	}
}

// UpdatePositionPrices marks every open position in the market to the new
// YES price (NO leans mark to 1 - yes_price) and re-evaluates the
// affected accounts. Invoked on price updates from the oracle feed, not
// only per-trade.
func (s *Service) UpdatePositionPrices(marketID string, yesPrice decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	noPrice := one.Sub(yesPrice)
	for agentID, account := range s.accounts {
		pos, ok := account.positions[marketID]
		if !ok {
			continue
		}
		if pos.Side == types.OutcomeYes {
			pos.CurrentPrice = yesPrice
		} else {
			pos.CurrentPrice = noPrice
		}
		pos.UnrealizedPnL = pos.CurrentPrice.Sub(pos.EntryPrice).Mul(pos.Size)
		s.evaluateLocked(agentID)
	}
}

// SweepAccounts re-evaluates every account. The background processor
// calls this on a fixed interval to catch drift from price moves alone.
func (s *Service) SweepAccounts() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for agentID := range s.accounts {
		s.evaluateLocked(agentID)
	}
}

// SettleMarket closes every position in a resolved market at its terminal
// price (1 for the winning lean, 0 for the losing one), realizes P&L
// against the CCP, releases margin and advances novation records to
// settled.
func (s *Service) SettleMarket(marketID string, outcome types.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for agentID, account := range s.accounts {
		pos, ok := account.positions[marketID]
		if !ok {
			continue
		}

		final := decimal.Zero
		if pos.Side == outcome {
			final = one
		}
		realized := final.Sub(pos.EntryPrice).Mul(pos.Size)

		if pos.MarginRequirement.IsPositive() {
			if err := s.funds.Release(agentID, pos.MarginRequirement, marketID); err != nil {
				log.Error().Err(err).
					Str("service", "margin").
					Str("agent_id", agentID).
					Msg("failed to release margin at settlement")
			}
		}
		s.settleRealized(account, agentID, realized, marketID)

		account.marginUsed = account.marginUsed.Sub(pos.MarginRequirement)
		if account.marginUsed.IsNegative() {
			account.marginUsed = decimal.Zero
		}
		delete(account.positions, marketID)

		log.Info().
			Str("service", "margin").
			Str("agent_id", agentID).
			Str("market_id", marketID).
			Str("realized_pnl", realized.String()).
			Msg("position settled at market resolution")

		s.evaluateLocked(agentID)
	}

	if err := s.store.MarkNovationsSettled(marketID); err != nil {
		log.Error().Err(err).
			Str("service", "margin").
			Str("market_id", marketID).
			Msg("failed to advance novations to settled")
	}
}

// evaluateLocked recomputes the account's margin ratio, classifies its
// status and liquidates when the ratio falls through the floor. Requires
// s.mu held.
func (s *Service) evaluateLocked(agentID string) {
	account, ok := s.accounts[agentID]
	if !ok {
		return
	}

	cash, equity, ratio := s.measure(agentID, account)

	newStatus := StatusHealthy
	switch {
	case ratio.LessThan(liquidationThreshold) && account.marginUsed.IsPositive():
		newStatus = StatusLiquidating
	case ratio.LessThan(marginCallThreshold) && account.marginUsed.IsPositive():
		newStatus = StatusMarginCall
	case ratio.LessThan(warningThreshold) && account.marginUsed.IsPositive():
		newStatus = StatusWarning
	}

	if newStatus != account.status {
		switch newStatus {
		case StatusWarning:
			s.bus.Publish(events.MarginWarning{
				AgentID:     agentID,
				MarginRatio: ratio,
				Equity:      equity,
				Timestamp:   time.Now(),
			})
		case StatusMarginCall:
			s.bus.Publish(events.MarginCall{
				AgentID:     agentID,
				MarginRatio: ratio,
				Equity:      equity,
				Timestamp:   time.Now(),
			})
		}
	}
	account.status = newStatus

	if s.equity != nil {
		s.equity.UpdateEquity(agentID, equity)
	}

	if newStatus == StatusLiquidating {
		s.liquidateLocked(agentID, account, cash)
	}
}

// measure returns (cash, equity, margin ratio) for the account. The ratio
// is defined as 1 when no margin is in use. Requires s.mu held.
func (s *Service) measure(agentID string, account *accountState) (cash, equity, ratio decimal.Decimal) {
	cash = decimal.Zero
	if balance, err := s.funds.Balance(agentID); err == nil {
		cash = balance.Total
	}
	cash = cash.Sub(account.deficit)
	equity = cash.Add(account.unrealized())

	ratio = one
	if account.marginUsed.IsPositive() {
		ratio = equity.Div(account.marginUsed)
	}
	return cash, equity, ratio
}

// liquidateLocked force-closes every position at its current mark,
// realizes P&L, releases all margin, clears the book and resets the
// account to healthy, unconditionally, even when the resulting cash
// balance is negative. Requires s.mu held.
func (s *Service) liquidateLocked(agentID string, account *accountState, _ decimal.Decimal) {
	liquidationID := "LQD_" + uuid.New().String()
	logger := log.With().
		Str("service", "margin").
		Str("liquidation_id", liquidationID).
		Str("agent_id", agentID).
		Logger()

	positionCount := len(account.positions)
	realized := decimal.Zero
	marginReleased := decimal.Zero

	for marketID, pos := range account.positions {
		realized = realized.Add(pos.UnrealizedPnL)
		if pos.MarginRequirement.IsPositive() {
			if err := s.funds.Release(agentID, pos.MarginRequirement, liquidationID); err != nil {
				logger.Error().Err(err).Str("market_id", marketID).Msg("failed to release margin during liquidation")
			} else {
				marginReleased = marginReleased.Add(pos.MarginRequirement)
			}
		}
	}

	s.settleRealized(account, agentID, realized, liquidationID)

	account.positions = make(map[string]*Position)
	account.marginUsed = decimal.Zero
	account.status = StatusHealthy

	cashAfter := decimal.Zero
	if balance, err := s.funds.Balance(agentID); err == nil {
		cashAfter = balance.Total
	}
	cashAfter = cashAfter.Sub(account.deficit)
	insolvent := cashAfter.IsNegative()

	record := &Liquidation{
		LiquidationID:  liquidationID,
		AgentID:        agentID,
		PositionCount:  positionCount,
		RealizedPnL:    realized,
		MarginReleased: marginReleased,
		CashAfter:      cashAfter,
		Insolvent:      insolvent,
		ExecutedAt:     time.Now(),
	}
	if err := s.store.CreateLiquidation(record); err != nil {
		logger.Error().Err(err).Msg("failed to persist liquidation record")
	}
	if insolvent {
		if err := s.store.MarkNovationsDefaulted(agentID); err != nil {
			logger.Error().Err(err).Msg("failed to mark novations defaulted")
		}
	}

	metrics.LiquidationsTotal.Inc()
	s.bus.Publish(events.LiquidationExecuted{
		LiquidationID: liquidationID,
		AgentID:       agentID,
		PositionCount: positionCount,
		RealizedPnL:   realized,
		CashBalance:   cashAfter,
		Insolvent:     insolvent,
		Timestamp:     time.Now(),
	})

	if s.equity != nil {
		s.equity.UpdateEquity(agentID, cashAfter)
	}

	logger.Warn().
		Int("positions_closed", positionCount).
		Str("realized_pnl", realized.String()).
		Str("margin_released", marginReleased.String()).
		Str("cash_after", cashAfter.String()).
		Bool("insolvent", insolvent).
		Msg("account liquidated")
}

// GetAccount returns the account snapshot, or ErrAccountNotFound for
// agents that have never been novated into a position.
func (s *Service) GetAccount(agentID string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[agentID]
	if !ok {
		return nil, types.ErrAccountNotFound
	}
	return s.snapshotLocked(agentID, account), nil
}

// AllAccounts returns snapshots for every account.
func (s *Service) AllAccounts() []*Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Account, 0, len(s.accounts))
	for agentID, account := range s.accounts {
		out = append(out, s.snapshotLocked(agentID, account))
	}
	return out
}

// Novations returns the CCP leg records involving the agent.
func (s *Service) Novations(agentID string) ([]Novation, error) {
	return s.store.GetNovations(agentID)
}

// Liquidations returns the agent's liquidation history.
func (s *Service) Liquidations(agentID string) ([]Liquidation, error) {
	return s.store.GetLiquidations(agentID)
}

func (s *Service) snapshotLocked(agentID string, account *accountState) *Account {
	cash, equity, ratio := s.measure(agentID, account)

	positions := make([]Position, 0, len(account.positions))
	for _, p := range account.positions {
		positions = append(positions, *p)
	}

	return &Account{
		AgentID:           agentID,
		CashBalance:       cash,
		MarginUsed:        account.marginUsed,
		MarginAvailable:   cash.Sub(account.marginUsed),
		MaintenanceMargin: account.maintenance(),
		Equity:            equity,
		MarginRatio:       ratio,
		Status:            account.status,
		Positions:         positions,
	}
}

// account returns (creating if needed) the agent's state. Accounts are
// lazily created on first novation. Requires s.mu held.
func (s *Service) account(agentID string) *accountState {
	account, ok := s.accounts[agentID]
	if !ok {
		account = newAccountState()
		s.accounts[agentID] = account
	}
	return account
}

func opposite(o types.Outcome) types.Outcome {
	if o == types.OutcomeYes {
		return types.OutcomeNo
	}
	return types.OutcomeYes
}

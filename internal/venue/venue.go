// Package venue composes the matching core: every order flows through
// doctrine validation, a worst-case funds lock, the book walk, and
// per-fill CCP novation plus cash settlement. The venue owns order
// lifecycle and is the only writer to the books.
package venue

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/outcomex/internal/book"
	"github.com/ksred/outcomex/internal/doctrine"
	"github.com/ksred/outcomex/internal/events"
	"github.com/ksred/outcomex/internal/ledger"
	"github.com/ksred/outcomex/internal/margin"
	"github.com/ksred/outcomex/internal/metrics"
	"github.com/ksred/outcomex/internal/types"
)

var one = decimal.NewFromInt(1)

// DefaultFeeRate is charged per side on each trade's notional.
var DefaultFeeRate = decimal.NewFromFloat(0.001)

// restingRef locates a resting order for cancellation without walking
// every book.
type restingRef struct {
	market *book.Market
	order  *types.Order
}

// Service is the trading venue.
type Service struct {
	engine  *book.Engine
	funds   *ledger.Service
	gate    *doctrine.Service
	clearer *margin.Service
	store   Store
	bus     *events.Bus
	feeRate decimal.Decimal

	restingMu sync.Mutex
	resting   map[string]*restingRef
}

// NewService wires the venue over its collaborators.
func NewService(engine *book.Engine, funds *ledger.Service, gate *doctrine.Service, clearer *margin.Service, store Store, bus *events.Bus) *Service {
	return &Service{
		engine:  engine,
		funds:   funds,
		gate:    gate,
		clearer: clearer,
		store:   store,
		bus:     bus,
		feeRate: DefaultFeeRate,
		resting: make(map[string]*restingRef),
	}
}

// InitializeMarket opens a new market with empty YES and NO books.
func (s *Service) InitializeMarket(marketID, topic string) (*book.Market, error) {
	m, err := s.engine.InitializeMarket(marketID, topic)
	if err != nil {
		return nil, err
	}
	metrics.ActiveMarkets.Inc()
	return m, nil
}

// ProcessOrder runs the full admission pipeline: validation, the doctrine
// gate, the worst-case collateral lock, the match walk with per-fill
// novation and settlement, and disposal of any remainder. Doctrine
// rejection is returned as a result, not an error; funds and market
// failures are errors.
func (s *Service) ProcessOrder(agentID string, req types.OrderRequest) (*types.OrderResult, error) {
	start := time.Now()
	defer func() { metrics.OrderLatency.Observe(time.Since(start).Seconds()) }()

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	market, err := s.engine.Market(req.MarketID)
	if err != nil {
		return nil, err
	}

	order := &types.Order{
		OrderID:      "ORD_" + uuid.New().String(),
		AgentID:      agentID,
		MarketID:     req.MarketID,
		Side:         req.Side,
		Outcome:      req.Outcome,
		Type:         req.Type,
		Price:        req.Price,
		Quantity:     req.Quantity,
		FilledQty:    decimal.Zero,
		RemainingQty: req.Quantity,
		LockedAmount: decimal.Zero,
		Status:       types.OrderStatusPending,
		ExpiresAt:    req.ExpiresAt,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	logger := log.With().
		Str("service", "venue").
		Str("order_id", order.OrderID).
		Str("agent_id", agentID).
		Str("market_id", req.MarketID).
		Logger()

	market.Mu.Lock()
	defer market.Mu.Unlock()

	if !market.Active() {
		return nil, types.ErrMarketNotActive
	}

	b := market.BookFor(req.Outcome)

	// Market orders price their collateral and doctrine check off the best
	// opposing level; with nothing to cross they are rejected outright.
	refPrice := req.Price
	if req.Type == types.OrderTypeMarket {
		best, ok := b.BestOpposing(req.Side)
		if !ok {
			order.Status = types.OrderStatusRejected
			s.saveOrder(order)
			metrics.OrdersTotal.WithLabelValues(statusLabel(order.Status)).Inc()
			return nil, types.ErrEmptyBook
		}
		refPrice = best
	}

	tradeValue := types.WorstCaseCost(req.Side, refPrice, req.Quantity)
	violation := s.gate.ValidateTrade(doctrine.ValidateRequest{
		AgentID:    agentID,
		MarketID:   req.MarketID,
		Topic:      market.Topic,
		TradeValue: tradeValue,
		Timestamp:  time.Now(),
	})
	if violation != nil {
		metrics.ViolationsTotal.WithLabelValues(violation.Rule, string(violation.Severity)).Inc()
		s.bus.Publish(events.DoctrineViolation{
			ViolationID: violation.ViolationID,
			AgentID:     agentID,
			Rule:        violation.Rule,
			Severity:    violation.Severity,
			Timestamp:   violation.Timestamp,
		})
		if violation.Blocks() {
			order.Status = types.OrderStatusRejected
			s.saveOrder(order)
			metrics.OrdersTotal.WithLabelValues(statusLabel(order.Status)).Inc()
			logger.Info().Str("rule", violation.Rule).Msg("order rejected by doctrine")
			return &types.OrderResult{Order: order, Violation: violation}, nil
		}
	}

	if err := s.funds.Lock(agentID, tradeValue, "order collateral", order.OrderID); err != nil {
		order.Status = types.OrderStatusRejected
		s.saveOrder(order)
		metrics.OrdersTotal.WithLabelValues(statusLabel(order.Status)).Inc()
		logger.Info().Err(err).Msg("order rejected, collateral lock failed")
		return nil, err
	}
	order.LockedAmount = tradeValue
	s.gate.RecordExposure(agentID, tradeValue)

	var trades []*types.Trade
	makers := make(map[string]*types.Order)
	lastPrice := decimal.Zero

	matchErr := b.Match(order, time.Now(), s.fillFn(market, b, &trades, makers, &lastPrice), s.expireFn())

	switch {
	case matchErr != nil:
		// Fills already committed stand; the remainder is cancelled and
		// its collateral returned.
		s.cancelRemainderLocked(order)
		logger.Info().Err(matchErr).
			Int("fills", len(trades)).
			Msg("match aborted, order remainder cancelled")
	case order.RemainingQty.IsPositive():
		if order.Type == types.OrderTypeMarket {
			// Market orders never rest.
			s.cancelRemainderLocked(order)
		} else {
			if order.FilledQty.IsPositive() {
				order.Status = types.OrderStatusPartial
			} else {
				order.Status = types.OrderStatusOpen
			}
			b.Insert(order)
			s.index(market, order)
		}
	}
	market.Version++

	for _, maker := range makers {
		if maker.Status == types.OrderStatusFilled {
			s.unindex(maker.OrderID)
			s.bus.Publish(events.OrderFilled{
				OrderID:   maker.OrderID,
				AgentID:   maker.AgentID,
				MarketID:  maker.MarketID,
				FilledQty: maker.FilledQty,
				Timestamp: time.Now(),
			})
		}
		maker.UpdatedAt = time.Now()
		s.saveOrder(maker)
	}
	if order.Status == types.OrderStatusFilled {
		s.bus.Publish(events.OrderFilled{
			OrderID:   order.OrderID,
			AgentID:   order.AgentID,
			MarketID:  order.MarketID,
			FilledQty: order.FilledQty,
			Timestamp: time.Now(),
		})
	}
	order.UpdatedAt = time.Now()
	s.saveOrder(order)
	metrics.OrdersTotal.WithLabelValues(statusLabel(order.Status)).Inc()

	if len(trades) > 0 {
		yesPrice := lastPrice
		if req.Outcome == types.OutcomeNo {
			yesPrice = one.Sub(lastPrice)
		}
		s.clearer.UpdatePositionPrices(market.ID, yesPrice)
	}

	logger.Debug().
		Str("status", order.Status).
		Int("trades", len(trades)).
		Str("filled_qty", order.FilledQty.String()).
		Msg("order processed")

	return &types.OrderResult{Order: order, Trades: trades, Violation: violation}, nil
}

// fillFn builds the commit callback for one match walk. Funds movement
// and novation happen here, before the book applies the fill; any error
// vetoes the fill and stops the walk.
func (s *Service) fillFn(market *book.Market, b *book.Book, trades *[]*types.Trade, makers map[string]*types.Order, lastPrice *decimal.Decimal) book.FillFn {
	return func(maker, taker *types.Order, price, qty decimal.Decimal) error {
		buyer, seller := maker, taker
		if taker.Side == types.SideBuy {
			buyer, seller = taker, maker
		}

		value := price.Mul(qty)

		// The buyer's share of their remaining collateral for this fill.
		// Limit buys locked at their own limit, so the share covers the
		// maker price with any improvement freed at novation. Market buys
		// locked at the admission-time best price and may need a top-up
		// when the walk reaches worse levels.
		buyerShare := buyer.LockedAmount.Mul(qty).Div(buyer.RemainingQty)
		topUp := decimal.Zero
		if buyerShare.LessThan(value) {
			topUp = value.Sub(buyerShare)
			if err := s.funds.Lock(buyer.AgentID, topUp, "order collateral", buyer.OrderID); err != nil {
				return types.ErrInsufficientFunds
			}
			buyer.LockedAmount = buyer.LockedAmount.Add(topUp)
			buyerShare = value
		}
		buyerExcess := buyerShare.Sub(value)
		sellerShare := seller.LockedAmount.Mul(qty).Div(seller.RemainingQty)

		trade := &types.Trade{
			TradeID:     "TRD_" + uuid.New().String(),
			MarketID:    market.ID,
			Outcome:     b.Outcome,
			BuyOrderID:  buyer.OrderID,
			SellOrderID: seller.OrderID,
			BuyerID:     buyer.AgentID,
			SellerID:    seller.AgentID,
			Price:       price,
			Quantity:    qty,
			BuyerFee:    value.Mul(s.feeRate),
			SellerFee:   value.Mul(s.feeRate),
			ExecutedAt:  time.Now(),
		}

		// The buyer's price improvement and the seller's collateral share
		// fund the margin legs; the clearer rebinds them in one ledger
		// transaction, so a veto leaves both order locks untouched.
		if err := s.clearer.NovateTrade(trade, buyerExcess, sellerShare); err != nil {
			if topUp.IsPositive() {
				if relErr := s.funds.Release(buyer.AgentID, topUp, buyer.OrderID); relErr != nil {
					log.Error().Err(relErr).Str("service", "venue").Msg("failed to release buyer top-up after novation veto")
				}
				buyer.LockedAmount = buyer.LockedAmount.Sub(topUp)
			}
			return err
		}

		if err := s.funds.Settle(buyer.AgentID, seller.AgentID, value, trade.BuyerFee, trade.SellerFee, trade.TradeID); err != nil {
			log.Error().Err(err).
				Str("service", "venue").
				Str("trade_id", trade.TradeID).
				Msg("settlement failed after novation, funds invariant breached")
		}

		buyer.LockedAmount = buyer.LockedAmount.Sub(value).Sub(buyerExcess)
		seller.LockedAmount = seller.LockedAmount.Sub(sellerShare)
		s.gate.RecordExposure(buyer.AgentID, topUp.Sub(value).Sub(buyerExcess))
		s.gate.RecordExposure(seller.AgentID, sellerShare.Neg())

		if err := s.store.SaveTrade(trade); err != nil {
			log.Error().Err(err).
				Str("service", "venue").
				Str("trade_id", trade.TradeID).
				Msg("failed to persist trade")
		}
		*trades = append(*trades, trade)
		makers[maker.OrderID] = maker
		*lastPrice = price

		metrics.TradesTotal.Inc()
		volume, _ := value.Float64()
		metrics.TradeVolume.WithLabelValues(market.ID).Add(volume)

		s.bus.Publish(events.TradeExecuted{
			TradeID:   trade.TradeID,
			MarketID:  trade.MarketID,
			Outcome:   trade.Outcome,
			BuyerID:   trade.BuyerID,
			SellerID:  trade.SellerID,
			Price:     trade.Price,
			Quantity:  trade.Quantity,
			Timestamp: trade.ExecutedAt,
		})
		return nil
	}
}

// expireFn disposes of a maker found expired during a match walk: its
// collateral is released and the terminal state persisted.
func (s *Service) expireFn() book.ExpireFn {
	return func(maker *types.Order) {
		s.retireLocked(maker)
		metrics.OrdersTotal.WithLabelValues(statusLabel(types.OrderStatusExpired)).Inc()

		log.Info().
			Str("service", "venue").
			Str("order_id", maker.OrderID).
			Msg("resting order expired")
	}
}

// CancelOrder removes the agent's resting order from the book and
// releases its remaining collateral. Only open and partially filled
// orders can be cancelled; losing the race against a fill returns
// ErrOrderNotOpen.
func (s *Service) CancelOrder(agentID, orderID string) (*types.Order, error) {
	return s.cancel(agentID, orderID, true)
}

// ForceClose cancels a resting order regardless of ownership. Internal
// surface for operators.
func (s *Service) ForceClose(orderID string) (*types.Order, error) {
	return s.cancel("", orderID, false)
}

func (s *Service) cancel(agentID, orderID string, enforceOwner bool) (*types.Order, error) {
	s.restingMu.Lock()
	ref, ok := s.resting[orderID]
	s.restingMu.Unlock()
	if !ok {
		return nil, types.ErrOrderNotFound
	}

	ref.market.Mu.Lock()
	defer ref.market.Mu.Unlock()

	order := ref.order
	if enforceOwner && order.AgentID != agentID {
		return nil, types.ErrForbidden
	}
	if order.Status != types.OrderStatusOpen && order.Status != types.OrderStatusPartial {
		return nil, types.ErrOrderNotOpen
	}

	if err := ref.market.BookFor(order.Outcome).Remove(order); err != nil {
		return nil, err
	}
	order.Status = types.OrderStatusCancelled
	s.retireLocked(order)
	ref.market.Version++
	metrics.OrdersTotal.WithLabelValues(statusLabel(order.Status)).Inc()

	log.Info().
		Str("service", "venue").
		Str("order_id", orderID).
		Str("agent_id", order.AgentID).
		Msg("order cancelled")
	return order, nil
}

// SweepExpired lazily retires every resting order whose time-in-force
// lapsed. Called by the background processor.
func (s *Service) SweepExpired(now time.Time) int {
	total := 0
	for _, market := range s.engine.Markets() {
		market.Mu.Lock()
		expired := append(market.Yes.ExpiredOrders(now), market.No.ExpiredOrders(now)...)
		for _, order := range expired {
			s.retireLocked(order)
			metrics.OrdersTotal.WithLabelValues(statusLabel(types.OrderStatusExpired)).Inc()
		}
		if len(expired) > 0 {
			market.Version++
		}
		market.Mu.Unlock()
		total += len(expired)
	}
	return total
}

// ResolveMarket closes the market at its terminal outcome: all resting
// orders are cancelled with collateral returned, every open position is
// settled through the CCP, and the books stop accepting orders.
func (s *Service) ResolveMarket(marketID string, outcome types.Outcome) error {
	market, err := s.engine.Market(marketID)
	if err != nil {
		return err
	}

	market.Mu.Lock()
	if !market.Active() {
		market.Mu.Unlock()
		return types.ErrMarketNotActive
	}
	market.Status = book.MarketStatusResolved

	resting := append(market.Yes.RestingOrders(), market.No.RestingOrders()...)
	for _, order := range resting {
		if err := market.BookFor(order.Outcome).Remove(order); err != nil {
			continue
		}
		order.Status = types.OrderStatusCancelled
		s.retireLocked(order)
		metrics.OrdersTotal.WithLabelValues(statusLabel(order.Status)).Inc()
	}
	market.Version++
	market.Mu.Unlock()

	s.clearer.SettleMarket(marketID, outcome)
	metrics.ActiveMarkets.Dec()

	s.bus.Publish(events.MarketResolved{
		MarketID:  marketID,
		Outcome:   outcome,
		Timestamp: time.Now(),
	})

	log.Info().
		Str("service", "venue").
		Str("market_id", marketID).
		Str("outcome", string(outcome)).
		Int("orders_cancelled", len(resting)).
		Msg("market resolved")
	return nil
}

// BestPrices is the top-of-book view across both outcome tokens.
type BestPrices struct {
	MarketID string           `json:"market_id"`
	YesBid   *decimal.Decimal `json:"yes_bid,omitempty"`
	YesAsk   *decimal.Decimal `json:"yes_ask,omitempty"`
	NoBid    *decimal.Decimal `json:"no_bid,omitempty"`
	NoAsk    *decimal.Decimal `json:"no_ask,omitempty"`
}

// GetBestPrices returns the best bid and ask on each outcome book.
func (s *Service) GetBestPrices(marketID string) (*BestPrices, error) {
	market, err := s.engine.Market(marketID)
	if err != nil {
		return nil, err
	}

	market.Mu.Lock()
	defer market.Mu.Unlock()

	prices := &BestPrices{MarketID: marketID}
	if p, ok := market.Yes.BestBid(); ok {
		prices.YesBid = &p
	}
	if p, ok := market.Yes.BestAsk(); ok {
		prices.YesAsk = &p
	}
	if p, ok := market.No.BestBid(); ok {
		prices.NoBid = &p
	}
	if p, ok := market.No.BestAsk(); ok {
		prices.NoAsk = &p
	}
	return prices, nil
}

// GetOrderBook returns an aggregated depth snapshot of one outcome book.
func (s *Service) GetOrderBook(marketID string, outcome types.Outcome, depth int) (*types.BookSnapshot, error) {
	market, err := s.engine.Market(marketID)
	if err != nil {
		return nil, err
	}

	market.Mu.Lock()
	defer market.Mu.Unlock()
	return market.BookFor(outcome).Snapshot(depth), nil
}

// GetOrder returns the persisted order by ID.
func (s *Service) GetOrder(orderID string) (*types.Order, error) {
	return s.store.GetOrder(orderID)
}

// GetAgentOrders returns the agent's order history, newest first.
func (s *Service) GetAgentOrders(agentID string) ([]types.Order, error) {
	return s.store.GetOrdersByAgent(agentID)
}

// GetTrades returns the market's trade tape.
func (s *Service) GetTrades(marketID string) ([]types.Trade, error) {
	return s.store.GetTrades(marketID)
}

// GetAgentTrades returns trades the agent participated in.
func (s *Service) GetAgentTrades(agentID string) ([]types.Trade, error) {
	return s.store.GetTradesByAgent(agentID)
}

// retireLocked releases an order's remaining collateral, persists its
// terminal state and drops it from the resting index. The order's status
// is already set. Requires the owning market's lock held.
func (s *Service) retireLocked(order *types.Order) {
	if order.LockedAmount.IsPositive() {
		if err := s.funds.Release(order.AgentID, order.LockedAmount, order.OrderID); err != nil {
			log.Error().Err(err).
				Str("service", "venue").
				Str("order_id", order.OrderID).
				Msg("failed to release order collateral")
		}
		s.gate.RecordExposure(order.AgentID, order.LockedAmount.Neg())
		order.LockedAmount = decimal.Zero
	}
	order.UpdatedAt = time.Now()
	s.unindex(order.OrderID)
	s.saveOrder(order)
}

// cancelRemainderLocked cancels the unfilled remainder of a taker order.
// Requires the owning market's lock held.
func (s *Service) cancelRemainderLocked(order *types.Order) {
	order.Status = types.OrderStatusCancelled
	s.retireLocked(order)
}

func (s *Service) index(market *book.Market, order *types.Order) {
	s.restingMu.Lock()
	s.resting[order.OrderID] = &restingRef{market: market, order: order}
	s.restingMu.Unlock()
}

func (s *Service) unindex(orderID string) {
	s.restingMu.Lock()
	delete(s.resting, orderID)
	s.restingMu.Unlock()
}

func (s *Service) saveOrder(order *types.Order) {
	if err := s.store.SaveOrder(order); err != nil {
		log.Error().Err(err).
			Str("service", "venue").
			Str("order_id", order.OrderID).
			Msg("failed to persist order")
	}
}

// validateRequest enforces structural order constraints: prices strictly
// inside (0, 1), positive quantity, a future expiry when present.
func validateRequest(req types.OrderRequest) error {
	if req.Side != types.SideBuy && req.Side != types.SideSell {
		return types.NewValidationError("side", "must be BUY or SELL")
	}
	if req.Outcome != types.OutcomeYes && req.Outcome != types.OutcomeNo {
		return types.NewValidationError("outcome", "must be YES or NO")
	}
	if req.Type != types.OrderTypeLimit && req.Type != types.OrderTypeMarket {
		return types.NewValidationError("type", "must be LIMIT or MARKET")
	}
	if !req.Quantity.IsPositive() {
		return types.NewValidationError("quantity", "must be positive")
	}
	if req.Type == types.OrderTypeLimit {
		if !req.Price.IsPositive() || req.Price.GreaterThanOrEqual(one) {
			return types.NewValidationError("price", "must be strictly between 0 and 1")
		}
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		return types.NewValidationError("expires_at", "must be in the future")
	}
	return nil
}

func statusLabel(status string) string {
	return strings.ToLower(status)
}

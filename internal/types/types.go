package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Outcome is the binary claim an order trades: YES and NO prices sum to 1
// in a consistent market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// OrderType distinguishes resting limit orders from immediate market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// Order lifecycle states. Filled, cancelled, expired and rejected are
// terminal.
const (
	OrderStatusPending   = "PENDING"
	OrderStatusOpen      = "OPEN"
	OrderStatusPartial   = "PARTIAL"
	OrderStatusFilled    = "FILLED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusExpired   = "EXPIRED"
	OrderStatusRejected  = "REJECTED"
)

// Order is a resting or in-flight order on one (market, outcome) book.
// Invariant: FilledQty + RemainingQty == Quantity at all times.
type Order struct {
	gorm.Model   `json:"-"`
	OrderID      string          `gorm:"uniqueIndex" json:"order_id"`
	AgentID      string          `gorm:"index" json:"agent_id"`
	MarketID     string          `gorm:"index" json:"market_id"`
	Side         Side            `json:"side"`
	Outcome      Outcome         `json:"outcome"`
	Type         OrderType       `json:"type"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	FilledQty    decimal.Decimal `json:"filled_qty"`
	RemainingQty decimal.Decimal `json:"remaining_qty"`
	LockedAmount decimal.Decimal `json:"locked_amount"`
	Status       string          `json:"status"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IsTerminal reports whether the order has reached a final state.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired, OrderStatusRejected:
		return true
	}
	return false
}

// IsExpired reports whether the order's time-in-force has lapsed at t.
// Expiry is checked lazily when an order is touched, never via per-order
// timers.
func (o *Order) IsExpired(t time.Time) bool {
	return o.ExpiresAt != nil && t.After(*o.ExpiresAt)
}

// WorstCaseCost is the amount the ledger must lock before the order may
// rest: price*quantity for a buy, (1-price)*quantity for a sell.
func WorstCaseCost(side Side, price, quantity decimal.Decimal) decimal.Decimal {
	if side == SideBuy {
		return price.Mul(quantity)
	}
	return decimal.NewFromInt(1).Sub(price).Mul(quantity)
}

// Trade is one match between a resting and an incoming order. The price is
// always the resting (maker) order's price. Immutable once created.
type Trade struct {
	gorm.Model  `json:"-"`
	TradeID     string          `gorm:"uniqueIndex" json:"trade_id"`
	MarketID    string          `gorm:"index" json:"market_id"`
	Outcome     Outcome         `json:"outcome"`
	BuyOrderID  string          `json:"buy_order_id"`
	SellOrderID string          `json:"sell_order_id"`
	BuyerID     string          `json:"buyer_id"`
	SellerID    string          `json:"seller_id"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	BuyerFee    decimal.Decimal `json:"buyer_fee"`
	SellerFee   decimal.Decimal `json:"seller_fee"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

// Notional is the cash value of the trade at its execution price.
func (t *Trade) Notional() decimal.Decimal {
	return t.Price.Mul(t.Quantity)
}

// OrderRequest is the caller's view of a new order, before validation.
type OrderRequest struct {
	MarketID  string          `json:"market_id" binding:"required"`
	Side      Side            `json:"side" binding:"required"`
	Outcome   Outcome         `json:"outcome" binding:"required"`
	Type      OrderType       `json:"type" binding:"required"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// ViolationSeverity grades doctrine violations. Only rejected and critical
// block an order; warnings are advisory and logged.
type ViolationSeverity string

const (
	SeverityWarning  ViolationSeverity = "WARNING"
	SeverityRejected ViolationSeverity = "REJECTED"
	SeverityCritical ViolationSeverity = "CRITICAL"
)

// Doctrine rule identifiers, in check order.
const (
	RuleGlobalPause      = "GLOBAL_PAUSE"
	RuleAgentPaused      = "AGENT_PAUSED"
	RuleMaxPositionSize  = "MAX_POSITION_SIZE"
	RuleMaxTotalExposure = "MAX_TOTAL_EXPOSURE"
	RuleBrierScoreFloor  = "BRIER_SCORE_FLOOR"
	RuleTruthScoreFloor  = "TRUTH_SCORE_FLOOR"
	RuleTopicBlocklist   = "TOPIC_BLOCKLIST"
	RuleTopicAllowlist   = "TOPIC_ALLOWLIST"
	RuleTradeRateLimit   = "TRADE_RATE_LIMIT"
	RuleTradeInterval    = "TRADE_INTERVAL"
	RuleMaxDrawdown      = "MAX_DRAWDOWN"
)

// Violation is an append-only audit record produced by the governance gate.
type Violation struct {
	gorm.Model   `json:"-"`
	ViolationID  string            `gorm:"uniqueIndex" json:"violation_id"`
	AgentID      string            `gorm:"index" json:"agent_id"`
	Rule         string            `json:"rule"`
	Severity     ViolationSeverity `json:"severity"`
	TradeDetails string            `json:"trade_details"`
	Timestamp    time.Time         `json:"timestamp"`
}

// Blocks reports whether the violation prevents the order from reaching the
// ledger lock step. Warnings never block; that asymmetry is policy, not a
// bug.
func (v *Violation) Blocks() bool {
	return v.Severity == SeverityRejected || v.Severity == SeverityCritical
}

// OrderResult is the outcome of submitting an order. Rejection by doctrine
// is a first-class result: Violation is set and Order carries the rejected
// status. Trades lists any matches produced, in execution order.
type OrderResult struct {
	Order     *Order     `json:"order"`
	Trades    []*Trade   `json:"trades,omitempty"`
	Violation *Violation `json:"violation,omitempty"`
}

// Rejected reports whether the order was blocked before matching.
func (r *OrderResult) Rejected() bool {
	return r.Violation != nil && r.Violation.Blocks()
}

// PriceLevelSnapshot is one aggregated level of a book snapshot.
type PriceLevelSnapshot struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   int             `json:"orders"`
}

// BookSnapshot is a read-only projection of one (market, outcome) book.
type BookSnapshot struct {
	MarketID  string               `json:"market_id"`
	Outcome   Outcome              `json:"outcome"`
	Bids      []PriceLevelSnapshot `json:"bids"`
	Asks      []PriceLevelSnapshot `json:"asks"`
	BestBid   *decimal.Decimal     `json:"best_bid,omitempty"`
	BestAsk   *decimal.Decimal     `json:"best_ask,omitempty"`
	Spread    *decimal.Decimal     `json:"spread,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

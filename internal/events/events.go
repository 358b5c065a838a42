// Package events defines the closed set of venue events and the
// fire-and-forget bus that carries them. Publishing never blocks the
// caller: a match commits whether or not any consumer keeps up.
package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ksred/outcomex/internal/types"
)

// Event names exposed to collaborators.
const (
	NameTradeExecuted       = "trades.executed"
	NameOrderFilled         = "orders.filled"
	NameDoctrineViolation   = "doctrine.violation"
	NameMarginWarning       = "margin.warning"
	NameMarginCall          = "margin.margin_call"
	NameLiquidationExecuted = "liquidation.executed"
	NameTradeNovated        = "ccp.trade_novated"
	NameMarketResolved      = "market.resolved"
)

// Event is the sealed venue event type. Every variant lives in this package
// so consumers can switch over the concrete types exhaustively.
type Event interface {
	EventName() string
	sealed()
}

// TradeExecuted is published for every committed match.
type TradeExecuted struct {
	TradeID   string          `json:"trade_id"`
	MarketID  string          `json:"market_id"`
	Outcome   types.Outcome   `json:"outcome"`
	BuyerID   string          `json:"buyer_id"`
	SellerID  string          `json:"seller_id"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp time.Time       `json:"timestamp"`
}

func (TradeExecuted) EventName() string { return NameTradeExecuted }
func (TradeExecuted) sealed()           {}

// OrderFilled is published when an order reaches its terminal filled state.
type OrderFilled struct {
	OrderID   string          `json:"order_id"`
	AgentID   string          `json:"agent_id"`
	MarketID  string          `json:"market_id"`
	FilledQty decimal.Decimal `json:"filled_qty"`
	Timestamp time.Time       `json:"timestamp"`
}

func (OrderFilled) EventName() string { return NameOrderFilled }
func (OrderFilled) sealed()           {}

// DoctrineViolation mirrors the audit record for stream consumers.
type DoctrineViolation struct {
	ViolationID string                  `json:"violation_id"`
	AgentID     string                  `json:"agent_id"`
	Rule        string                  `json:"rule"`
	Severity    types.ViolationSeverity `json:"severity"`
	Timestamp   time.Time               `json:"timestamp"`
}

func (DoctrineViolation) EventName() string { return NameDoctrineViolation }
func (DoctrineViolation) sealed()           {}

// MarginWarning signals an account crossing the warning threshold.
type MarginWarning struct {
	AgentID     string          `json:"agent_id"`
	MarginRatio decimal.Decimal `json:"margin_ratio"`
	Equity      decimal.Decimal `json:"equity"`
	Timestamp   time.Time       `json:"timestamp"`
}

func (MarginWarning) EventName() string { return NameMarginWarning }
func (MarginWarning) sealed()           {}

// MarginCall signals an account crossing the margin-call threshold.
type MarginCall struct {
	AgentID     string          `json:"agent_id"`
	MarginRatio decimal.Decimal `json:"margin_ratio"`
	Equity      decimal.Decimal `json:"equity"`
	Timestamp   time.Time       `json:"timestamp"`
}

func (MarginCall) EventName() string { return NameMarginCall }
func (MarginCall) sealed()           {}

// LiquidationExecuted reports a completed forced close of all positions.
// Insolvent is set when the post-liquidation cash balance is negative.
type LiquidationExecuted struct {
	LiquidationID string          `json:"liquidation_id"`
	AgentID       string          `json:"agent_id"`
	PositionCount int             `json:"position_count"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	CashBalance   decimal.Decimal `json:"cash_balance"`
	Insolvent     bool            `json:"insolvent"`
	Timestamp     time.Time       `json:"timestamp"`
}

func (LiquidationExecuted) EventName() string { return NameLiquidationExecuted }
func (LiquidationExecuted) sealed()           {}

// TradeNovated reports a bilateral trade replaced by two CCP-facing legs.
type TradeNovated struct {
	NovationID string          `json:"novation_id"`
	TradeID    string          `json:"trade_id"`
	MarketID   string          `json:"market_id"`
	BuyerID    string          `json:"buyer_id"`
	SellerID   string          `json:"seller_id"`
	Price      decimal.Decimal `json:"price"`
	Size       decimal.Decimal `json:"size"`
	Timestamp  time.Time       `json:"timestamp"`
}

func (TradeNovated) EventName() string { return NameTradeNovated }
func (TradeNovated) sealed()           {}

// MarketResolved reports the terminal outcome of a market.
type MarketResolved struct {
	MarketID  string        `json:"market_id"`
	Outcome   types.Outcome `json:"outcome"`
	Timestamp time.Time     `json:"timestamp"`
}

func (MarketResolved) EventName() string { return NameMarketResolved }
func (MarketResolved) sealed()           {}

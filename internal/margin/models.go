package margin

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/outcomex/internal/types"
)

// Margin account states, ordered by deteriorating health.
const (
	StatusHealthy     = "HEALTHY"
	StatusWarning     = "WARNING"
	StatusMarginCall  = "MARGIN_CALL"
	StatusLiquidating = "LIQUIDATING"
)

// Novation lifecycle states. Status only ever advances.
const (
	NovationPending   = "PENDING"
	NovationCleared   = "CLEARED"
	NovationSettled   = "SETTLED"
	NovationDefaulted = "DEFAULTED"
)

// Position is one agent's open exposure in a market: a YES or NO lean of
// some size at an entry price. UnrealizedPnL is
// (current_price - entry_price) * size, with prices expressed for the
// position's own lean (a NO lean's current price is 1 - yes_price).
type Position struct {
	PositionID        string          `json:"position_id"`
	MarketID          string          `json:"market_id"`
	Side              types.Outcome   `json:"side"`
	Size              decimal.Decimal `json:"size"`
	EntryPrice        decimal.Decimal `json:"entry_price"`
	CurrentPrice      decimal.Decimal `json:"current_price"`
	UnrealizedPnL     decimal.Decimal `json:"unrealized_pnl"`
	MarginRequirement decimal.Decimal `json:"margin_requirement"`
	OpenedAt          time.Time       `json:"opened_at"`
}

// Account is the caller-facing margin account snapshot.
type Account struct {
	AgentID           string          `json:"agent_id"`
	CashBalance       decimal.Decimal `json:"cash_balance"`
	MarginUsed        decimal.Decimal `json:"margin_used"`
	MarginAvailable   decimal.Decimal `json:"margin_available"`
	MaintenanceMargin decimal.Decimal `json:"maintenance_margin"`
	Equity            decimal.Decimal `json:"equity"`
	MarginRatio       decimal.Decimal `json:"margin_ratio"`
	Status            string          `json:"status"`
	Positions         []Position      `json:"positions"`
}

// Novation is the durable record of one bilateral trade replaced by two
// CCP-facing legs. Leg A is the buyer's YES lean at the execution price,
// leg B the seller's complementary NO lean at 1 - price; both legs are
// the same size and the CCP is the counterparty of record for each.
type Novation struct {
	gorm.Model   `json:"-"`
	NovationID   string          `gorm:"uniqueIndex" json:"novation_id"`
	TradeID      string          `gorm:"index" json:"trade_id"`
	MarketID     string          `gorm:"index" json:"market_id"`
	CCPID        string          `json:"ccp_id"`
	BuyerID      string          `gorm:"index" json:"buyer_id"`
	SellerID     string          `gorm:"index" json:"seller_id"`
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
	BuyerMargin  decimal.Decimal `json:"buyer_margin"`
	SellerMargin decimal.Decimal `json:"seller_margin"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Liquidation is the durable record of one forced close. Insolvent marks
// a negative post-liquidation cash balance that was accepted rather than
// escalated.
type Liquidation struct {
	gorm.Model     `json:"-"`
	LiquidationID  string          `gorm:"uniqueIndex" json:"liquidation_id"`
	AgentID        string          `gorm:"index" json:"agent_id"`
	PositionCount  int             `json:"position_count"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	MarginReleased decimal.Decimal `json:"margin_released"`
	CashAfter      decimal.Decimal `json:"cash_after"`
	Insolvent      bool            `json:"insolvent"`
	ExecutedAt     time.Time       `json:"executed_at"`
}

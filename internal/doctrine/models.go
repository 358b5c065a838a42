package doctrine

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskProfile is the per-agent policy configuration consumed by the gate.
// Profiles are set by the administrative API; agents without one trade
// under DefaultProfile.
type RiskProfile struct {
	AgentID             string          `json:"agent_id"`
	Budget              decimal.Decimal `json:"budget"`
	MaxPositionSizePct  decimal.Decimal `json:"max_position_size_pct"`
	MaxTotalExposurePct decimal.Decimal `json:"max_total_exposure_pct"`
	BrierScoreFloor     decimal.Decimal `json:"brier_score_floor"`
	TruthScoreFloor     decimal.Decimal `json:"truth_score_floor"`
	BlockedTopics       []string        `json:"blocked_topics"`
	AllowedTopics       []string        `json:"allowed_topics"`
	MaxTradesPerMinute  int             `json:"max_trades_per_minute"`
	MinTradeInterval    time.Duration   `json:"min_trade_interval"`
	MaxDrawdownPct      decimal.Decimal `json:"max_drawdown_pct"`
}

// DefaultProfile returns permissive limits for agents without an explicit
// profile: generous budget caps, no topic restrictions, no score floors.
func DefaultProfile(agentID string) RiskProfile {
	return RiskProfile{
		AgentID:             agentID,
		Budget:              decimal.NewFromInt(10000),
		MaxPositionSizePct:  decimal.NewFromInt(25),
		MaxTotalExposurePct: decimal.NewFromInt(80),
		BrierScoreFloor:     decimal.Zero,
		TruthScoreFloor:     decimal.Zero,
		MaxTradesPerMinute:  60,
		MinTradeInterval:    0,
		MaxDrawdownPct:      decimal.NewFromInt(50),
	}
}

// ValidateRequest is the gate's view of a proposed trade.
type ValidateRequest struct {
	AgentID    string          `json:"agent_id"`
	MarketID   string          `json:"market_id"`
	Topic      string          `json:"topic"`
	TradeValue decimal.Decimal `json:"trade_value"`
	Timestamp  time.Time       `json:"timestamp"`
}

// AgentStatus is the gate's externally visible per-agent state.
type AgentStatus struct {
	AgentID     string          `json:"agent_id"`
	Paused      bool            `json:"paused"`
	Exposure    decimal.Decimal `json:"exposure"`
	PeakEquity  decimal.Decimal `json:"peak_equity"`
	Equity      decimal.Decimal `json:"equity"`
	Drawdown    decimal.Decimal `json:"drawdown"`
	LastTradeAt *time.Time      `json:"last_trade_at,omitempty"`
}

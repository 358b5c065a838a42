package doctrine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func newTestService() (*Service, *MemoryStore, *reputation.Registry) {
	store := NewMemoryStore()
	scores := reputation.NewRegistry()
	return NewService(store, scores), store, scores
}

func request(agentID string, value string) ValidateRequest {
	return ValidateRequest{
		AgentID:    agentID,
		MarketID:   "MKT_TEST",
		Topic:      "crypto",
		TradeValue: d(value),
		Timestamp:  time.Now(),
	}
}

func TestCleanTradePasses(t *testing.T) {
	s, store, _ := newTestService()

	v := s.ValidateTrade(request("alice", "100"))
	assert.Nil(t, v)

	violations, err := store.GetViolations("alice")
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestGlobalKillSwitchShortCircuitsEverything(t *testing.T) {
	s, _, _ := newTestService()
	s.GlobalKillSwitch(true)

	// Even a trade that would trip the size cap reports the pause: the
	// chain stops at the first violated check.
	v := s.ValidateTrade(request("alice", "999999"))
	require.NotNil(t, v)
	assert.Equal(t, types.RuleGlobalPause, v.Rule)
	assert.Equal(t, types.SeverityRejected, v.Severity)
	assert.True(t, v.Blocks())

	s.GlobalKillSwitch(false)
	assert.Nil(t, s.ValidateTrade(request("alice", "100")))
}

func TestAgentPause(t *testing.T) {
	s, _, _ := newTestService()
	s.PauseAgent("alice")

	v := s.ValidateTrade(request("alice", "100"))
	require.NotNil(t, v)
	assert.Equal(t, types.RuleAgentPaused, v.Rule)

	assert.Nil(t, s.ValidateTrade(request("bob", "100")), "pause is per-agent")

	s.ResumeAgent("alice")
	assert.Nil(t, s.ValidateTrade(request("alice", "100")))
}

func TestPositionSizeCap(t *testing.T) {
	s, _, _ := newTestService()
	// Default profile: budget 10000, max position 25% = 2500.
	v := s.ValidateTrade(request("alice", "2501"))
	require.NotNil(t, v)
	assert.Equal(t, types.RuleMaxPositionSize, v.Rule)

	assert.Nil(t, s.ValidateTrade(request("alice", "2500")))
}

func TestTotalExposureCap(t *testing.T) {
	s, _, _ := newTestService()
	// Default profile: max exposure 80% of 10000 = 8000.
	s.RecordExposure("alice", d("7000"))

	v := s.ValidateTrade(request("alice", "1500"))
	require.NotNil(t, v)
	assert.Equal(t, types.RuleMaxTotalExposure, v.Rule)

	assert.Nil(t, s.ValidateTrade(request("alice", "1000")))

	// Released exposure restores headroom, clamped at zero.
	s.RecordExposure("alice", d("-20000"))
	assert.Nil(t, s.ValidateTrade(request("alice", "2500")))
}

func TestScoreFloors(t *testing.T) {
	s, _, scores := newTestService()
	s.UpsertProfile(RiskProfile{
		AgentID:             "alice",
		Budget:              d("10000"),
		MaxPositionSizePct:  d("25"),
		MaxTotalExposurePct: d("80"),
		BrierScoreFloor:     d("0.2"),
		TruthScoreFloor:     d("0.6"),
		MaxTradesPerMinute:  60,
		MaxDrawdownPct:      d("50"),
	})

	scores.Upsert(reputation.Scores{AgentID: "alice", TruthScore: d("0.7"), BrierScore: d("0.1")})
	v := s.ValidateTrade(request("alice", "100"))
	require.NotNil(t, v)
	assert.Equal(t, types.RuleBrierScoreFloor, v.Rule)

	scores.Upsert(reputation.Scores{AgentID: "alice", TruthScore: d("0.5"), BrierScore: d("0.3")})
	v = s.ValidateTrade(request("alice", "100"))
	require.NotNil(t, v)
	assert.Equal(t, types.RuleTruthScoreFloor, v.Rule)

	scores.Upsert(reputation.Scores{AgentID: "alice", TruthScore: d("0.7"), BrierScore: d("0.3")})
	assert.Nil(t, s.ValidateTrade(request("alice", "100")))
}

func TestTopicLists(t *testing.T) {
	s, _, _ := newTestService()
	s.UpsertProfile(RiskProfile{
		AgentID:             "alice",
		Budget:              d("10000"),
		MaxPositionSizePct:  d("25"),
		MaxTotalExposurePct: d("80"),
		BlockedTopics:       []string{"politics"},
		MaxTradesPerMinute:  60,
		MaxDrawdownPct:      d("50"),
	})

	req := request("alice", "100")
	req.Topic = "politics"
	v := s.ValidateTrade(req)
	require.NotNil(t, v)
	assert.Equal(t, types.RuleTopicBlocklist, v.Rule)

	s.UpsertProfile(RiskProfile{
		AgentID:             "bob",
		Budget:              d("10000"),
		MaxPositionSizePct:  d("25"),
		MaxTotalExposurePct: d("80"),
		AllowedTopics:       []string{"weather"},
		MaxTradesPerMinute:  60,
		MaxDrawdownPct:      d("50"),
	})

	req = request("bob", "100")
	v = s.ValidateTrade(req)
	require.NotNil(t, v)
	assert.Equal(t, types.RuleTopicAllowlist, v.Rule, "crypto not on the allowlist")

	req.Topic = "weather"
	assert.Nil(t, s.ValidateTrade(req))
}

func TestTradeRateLimit(t *testing.T) {
	s, _, _ := newTestService()
	s.UpsertProfile(RiskProfile{
		AgentID:             "alice",
		Budget:              d("10000"),
		MaxPositionSizePct:  d("25"),
		MaxTotalExposurePct: d("80"),
		MaxTradesPerMinute:  2,
		MaxDrawdownPct:      d("50"),
	})

	now := time.Now()
	req := request("alice", "100")
	req.Timestamp = now
	assert.Nil(t, s.ValidateTrade(req))
	assert.Nil(t, s.ValidateTrade(req))

	v := s.ValidateTrade(req)
	require.NotNil(t, v)
	assert.Equal(t, types.RuleTradeRateLimit, v.Rule)
	assert.True(t, v.Blocks())
}

func TestMinIntervalWarnsButNeverBlocks(t *testing.T) {
	s, store, _ := newTestService()
	s.UpsertProfile(RiskProfile{
		AgentID:             "alice",
		Budget:              d("10000"),
		MaxPositionSizePct:  d("25"),
		MaxTotalExposurePct: d("80"),
		MaxTradesPerMinute:  60,
		MinTradeInterval:    time.Second,
		MaxDrawdownPct:      d("50"),
	})

	now := time.Now()
	first := request("alice", "100")
	first.Timestamp = now
	assert.Nil(t, s.ValidateTrade(first))

	second := request("alice", "100")
	second.Timestamp = now.Add(100 * time.Millisecond)
	v := s.ValidateTrade(second)
	require.NotNil(t, v)
	assert.Equal(t, types.RuleTradeInterval, v.Rule)
	assert.Equal(t, types.SeverityWarning, v.Severity)
	assert.False(t, v.Blocks(), "pacing violations are advisory")

	// The warning is still recorded in the audit log.
	violations, err := store.GetViolations("alice")
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, types.RuleTradeInterval, violations[0].Rule)
}

func TestDrawdownAutoPause(t *testing.T) {
	s, _, _ := newTestService()
	// Default profile: max drawdown 50%.
	s.UpdateEquity("alice", d("1000"))
	s.UpdateEquity("alice", d("400"))

	v := s.ValidateTrade(request("alice", "100"))
	require.NotNil(t, v)
	assert.Equal(t, types.RuleMaxDrawdown, v.Rule)
	assert.Equal(t, types.SeverityCritical, v.Severity)

	// The breach pauses the agent; the next trade hits the pause check
	// before the drawdown check.
	v = s.ValidateTrade(request("alice", "100"))
	require.NotNil(t, v)
	assert.Equal(t, types.RuleAgentPaused, v.Rule)

	// An operator resume lifts the auto-pause, but the drawdown state
	// still trips until equity recovers.
	s.ResumeAgent("alice")
	v = s.ValidateTrade(request("alice", "100"))
	require.NotNil(t, v)
	assert.Equal(t, types.RuleMaxDrawdown, v.Rule)

	s.ResumeAgent("alice")
	s.UpdateEquity("alice", d("900"))
	assert.Nil(t, s.ValidateTrade(request("alice", "100")))
}

func TestPeakEquityHighWatermark(t *testing.T) {
	s, _, _ := newTestService()
	s.UpdateEquity("alice", d("1000"))
	s.UpdateEquity("alice", d("1500"))
	s.UpdateEquity("alice", d("1200"))

	status := s.Status("alice")
	assert.True(t, status.PeakEquity.Equal(d("1500")))
	assert.True(t, status.Equity.Equal(d("1200")))
	assert.True(t, status.Drawdown.Equal(d("20")))
}

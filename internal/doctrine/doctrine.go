// Package doctrine is the pre-trade governance gate. Every order passes
// through ValidateTrade before it may touch the ledger; the gate runs an
// ordered, short-circuiting chain of policy checks and records every
// violation, whatever its severity, in an append-only audit log.
package doctrine

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/ksred/outcomex/internal/reputation"
	"github.com/ksred/outcomex/internal/types"
)

var oneHundred = decimal.NewFromInt(100)

// agentState is the gate-owned runtime state per agent.
type agentState struct {
	paused      bool
	exposure    decimal.Decimal
	equity      decimal.Decimal
	peakEquity  decimal.Decimal
	lastTradeAt time.Time
	limiter     *rate.Limiter
}

// Service is the governance gate.
type Service struct {
	mu             sync.Mutex
	globallyPaused bool
	profiles       map[string]RiskProfile
	states         map[string]*agentState
	scores         *reputation.Registry
	store          Store
}

// NewService creates a gate over the given violation store and score
// registry.
func NewService(store Store, scores *reputation.Registry) *Service {
	return &Service{
		profiles: make(map[string]RiskProfile),
		states:   make(map[string]*agentState),
		scores:   scores,
		store:    store,
	}
}

// UpsertProfile installs or replaces an agent's risk profile. The trade
// rate limiter is rebuilt to the new per-minute cap.
func (s *Service) UpsertProfile(profile RiskProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[profile.AgentID] = profile
	state := s.state(profile.AgentID)
	state.limiter = newTradeLimiter(profile.MaxTradesPerMinute)

	log.Info().
		Str("service", "doctrine").
		Str("agent_id", profile.AgentID).
		Str("budget", profile.Budget.String()).
		Msg("risk profile updated")
}

// ValidateTrade runs the ordered check chain. A nil return means the order
// may proceed to the ledger lock step. A non-nil return is the first
// violation hit; only rejected/critical severities block the order, while
// a warning is recorded and the order proceeds.
func (s *Service) ValidateTrade(req ValidateRequest) *types.Violation {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile := s.profile(req.AgentID)
	state := s.state(req.AgentID)
	now := req.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	// 1. Global kill switch.
	if s.globallyPaused {
		return s.record(req, types.RuleGlobalPause, types.SeverityRejected)
	}

	// 2. Agent pause.
	if state.paused {
		return s.record(req, types.RuleAgentPaused, types.SeverityRejected)
	}

	// 3. Single-trade size cap against budget.
	maxPosition := profile.Budget.Mul(profile.MaxPositionSizePct).Div(oneHundred)
	if req.TradeValue.GreaterThan(maxPosition) {
		return s.record(req, types.RuleMaxPositionSize, types.SeverityRejected)
	}

	// 4. Total exposure cap against budget.
	maxExposure := profile.Budget.Mul(profile.MaxTotalExposurePct).Div(oneHundred)
	if state.exposure.Add(req.TradeValue).GreaterThan(maxExposure) {
		return s.record(req, types.RuleMaxTotalExposure, types.SeverityRejected)
	}

	scores := s.scores.Get(req.AgentID)

	// 5. Brier score floor.
	if scores.BrierScore.LessThan(profile.BrierScoreFloor) {
		return s.record(req, types.RuleBrierScoreFloor, types.SeverityRejected)
	}

	// 6. Truth score floor.
	if scores.TruthScore.LessThan(profile.TruthScoreFloor) {
		return s.record(req, types.RuleTruthScoreFloor, types.SeverityRejected)
	}

	// 7. Topic blocklist.
	if req.Topic != "" && contains(profile.BlockedTopics, req.Topic) {
		return s.record(req, types.RuleTopicBlocklist, types.SeverityRejected)
	}

	// 8. Topic allowlist, only enforced when non-empty.
	if len(profile.AllowedTopics) > 0 && !contains(profile.AllowedTopics, req.Topic) {
		return s.record(req, types.RuleTopicAllowlist, types.SeverityRejected)
	}

	// 9. Trades-per-minute rate limit.
	if state.limiter != nil && !state.limiter.AllowN(now, 1) {
		return s.record(req, types.RuleTradeRateLimit, types.SeverityRejected)
	}

	// 10. Minimum inter-trade interval. Advisory only: pacing warnings
	// never block.
	if profile.MinTradeInterval > 0 && !state.lastTradeAt.IsZero() &&
		now.Sub(state.lastTradeAt) < profile.MinTradeInterval {
		state.lastTradeAt = now
		return s.record(req, types.RuleTradeInterval, types.SeverityWarning)
	}

	// 11. Drawdown circuit breaker. Critical: the agent is auto-paused as
	// a side effect.
	if dd := s.drawdownLocked(state); dd.GreaterThanOrEqual(profile.MaxDrawdownPct) {
		state.paused = true
		log.Warn().
			Str("service", "doctrine").
			Str("agent_id", req.AgentID).
			Str("drawdown_pct", dd.String()).
			Msg("drawdown limit breached, agent auto-paused")
		return s.record(req, types.RuleMaxDrawdown, types.SeverityCritical)
	}

	state.lastTradeAt = now
	return nil
}

// RecordExposure adjusts the gate's view of an agent's open exposure.
// Called by the venue when locks are placed and released.
func (s *Service) RecordExposure(agentID string, delta decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.state(agentID)
	state.exposure = state.exposure.Add(delta)
	if state.exposure.IsNegative() {
		state.exposure = decimal.Zero
	}
}

// UpdateEquity feeds the gate the agent's marked equity. Peak equity is
// high-watermarked for drawdown tracking.
func (s *Service) UpdateEquity(agentID string, equity decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.state(agentID)
	state.equity = equity
	if equity.GreaterThan(state.peakEquity) {
		state.peakEquity = equity
	}
}

// PauseAgent halts order admission for one agent.
func (s *Service) PauseAgent(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(agentID).paused = true

	log.Info().Str("service", "doctrine").Str("agent_id", agentID).Msg("agent paused")
}

// ResumeAgent lifts an agent pause, including a drawdown auto-pause.
func (s *Service) ResumeAgent(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(agentID).paused = false

	log.Info().Str("service", "doctrine").Str("agent_id", agentID).Msg("agent resumed")
}

// GlobalKillSwitch halts (or resumes) all order admission process-wide.
func (s *Service) GlobalKillSwitch(activate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globallyPaused = activate

	log.Warn().Str("service", "doctrine").Bool("activated", activate).Msg("global kill switch toggled")
}

// Status returns the gate's view of one agent.
func (s *Service) Status(agentID string) AgentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.state(agentID)
	status := AgentStatus{
		AgentID:    agentID,
		Paused:     state.paused,
		Exposure:   state.exposure,
		PeakEquity: state.peakEquity,
		Equity:     state.equity,
		Drawdown:   s.drawdownLocked(state),
	}
	if !state.lastTradeAt.IsZero() {
		t := state.lastTradeAt
		status.LastTradeAt = &t
	}
	return status
}

// Violations returns the audit log for one agent.
func (s *Service) Violations(agentID string) ([]types.Violation, error) {
	return s.store.GetViolations(agentID)
}

// drawdownLocked returns the percentage fall from peak equity. Requires
// s.mu held.
func (s *Service) drawdownLocked(state *agentState) decimal.Decimal {
	if !state.peakEquity.IsPositive() {
		return decimal.Zero
	}
	return state.peakEquity.Sub(state.equity).Div(state.peakEquity).Mul(oneHundred)
}

// record builds, persists and returns a violation. Requires s.mu held.
func (s *Service) record(req ValidateRequest, rule string, severity types.ViolationSeverity) *types.Violation {
	details, _ := json.Marshal(req)
	v := &types.Violation{
		ViolationID:  "VIO_" + uuid.New().String(),
		AgentID:      req.AgentID,
		Rule:         rule,
		Severity:     severity,
		TradeDetails: string(details),
		Timestamp:    time.Now(),
	}
	if err := s.store.AppendViolation(v); err != nil {
		log.Error().Err(err).
			Str("service", "doctrine").
			Str("agent_id", req.AgentID).
			Str("rule", rule).
			Msg("failed to persist violation")
	}

	log.Info().
		Str("service", "doctrine").
		Str("agent_id", req.AgentID).
		Str("rule", rule).
		Str("severity", string(severity)).
		Str("trade_value", req.TradeValue.String()).
		Msg("doctrine violation recorded")
	return v
}

// profile returns the agent's profile or the default. Requires s.mu held.
func (s *Service) profile(agentID string) RiskProfile {
	if p, ok := s.profiles[agentID]; ok {
		return p
	}
	return DefaultProfile(agentID)
}

// state returns (creating if needed) the agent's runtime state. Requires
// s.mu held.
func (s *Service) state(agentID string) *agentState {
	state, ok := s.states[agentID]
	if !ok {
		profile := s.profile(agentID)
		state = &agentState{
			exposure:   decimal.Zero,
			equity:     decimal.Zero,
			peakEquity: decimal.Zero,
			limiter:    newTradeLimiter(profile.MaxTradesPerMinute),
		}
		s.states[agentID] = state
	}
	return state
}

func newTradeLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

// Package reputation tracks per-agent forecast quality scores and derives
// stake sizing from them. Scores are supplied by an external reputation
// subsystem through the admin API; this package is the registry the
// governance gate reads.
package reputation

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Scores holds one agent's forecast quality inputs. TruthScore is in
// [0,1], higher is better. BrierScore is in [0,1], lower is better.
type Scores struct {
	AgentID    string          `json:"agent_id"`
	TruthScore decimal.Decimal `json:"truth_score"`
	BrierScore decimal.Decimal `json:"brier_score"`
}

// Registry is the in-memory score store.
type Registry struct {
	mu     sync.RWMutex
	scores map[string]Scores
}

// Defaults applied to agents that have never been scored. A neutral truth
// score and a mid-range brier score let new agents trade under default
// doctrine floors.
var (
	defaultTruthScore = decimal.NewFromFloat(0.5)
	defaultBrierScore = decimal.NewFromFloat(0.25)
)

// NewRegistry creates an empty score registry.
func NewRegistry() *Registry {
	return &Registry{scores: make(map[string]Scores)}
}

// Upsert replaces an agent's scores.
func (r *Registry) Upsert(scores Scores) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores[scores.AgentID] = scores

	log.Debug().
		Str("service", "reputation").
		Str("agent_id", scores.AgentID).
		Str("truth_score", scores.TruthScore.String()).
		Str("brier_score", scores.BrierScore.String()).
		Msg("scores updated")
}

// Get returns an agent's scores, falling back to defaults for unscored
// agents.
func (r *Registry) Get(agentID string) Scores {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.scores[agentID]; ok {
		return s
	}
	return Scores{
		AgentID:    agentID,
		TruthScore: defaultTruthScore,
		BrierScore: defaultBrierScore,
	}
}

var (
	stakeRate = decimal.NewFromFloat(0.1)
	two       = decimal.NewFromInt(2)
)

// StakeMultiplier is inversely related to the truth score: a perfectly
// trusted agent (truth 1.0) stakes at 1x, an untrusted one (truth 0)
// at 2x.
func StakeMultiplier(truthScore decimal.Decimal) decimal.Decimal {
	return two.Sub(truthScore)
}

// RequiredStake computes the stake an agent must post for an order:
// max(minStake, orderValue * multiplier * 0.1).
func RequiredStake(orderValue, minStake, truthScore decimal.Decimal) decimal.Decimal {
	stake := orderValue.Mul(StakeMultiplier(truthScore)).Mul(stakeRate)
	if stake.LessThan(minStake) {
		return minStake
	}
	return stake
}

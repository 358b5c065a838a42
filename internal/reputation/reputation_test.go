package reputation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestUnscoredAgentGetsDefaults(t *testing.T) {
	r := NewRegistry()

	s := r.Get("alice")
	assert.Equal(t, "alice", s.AgentID)
	assert.True(t, s.TruthScore.Equal(d("0.5")))
	assert.True(t, s.BrierScore.Equal(d("0.25")))
}

func TestUpsertReplacesScores(t *testing.T) {
	r := NewRegistry()
	r.Upsert(Scores{AgentID: "alice", TruthScore: d("0.9"), BrierScore: d("0.1")})
	r.Upsert(Scores{AgentID: "alice", TruthScore: d("0.8"), BrierScore: d("0.15")})

	s := r.Get("alice")
	assert.True(t, s.TruthScore.Equal(d("0.8")))
	assert.True(t, s.BrierScore.Equal(d("0.15")))
}

func TestStakeMultiplierInverseToTruth(t *testing.T) {
	assert.True(t, StakeMultiplier(d("1")).Equal(d("1")))
	assert.True(t, StakeMultiplier(d("0")).Equal(d("2")))
	assert.True(t, StakeMultiplier(d("0.5")).Equal(d("1.5")))
}

func TestRequiredStakeFloorsAtMinimum(t *testing.T) {
	// 1000 * 1.5 * 0.1 = 150.
	stake := RequiredStake(d("1000"), d("10"), d("0.5"))
	assert.True(t, stake.Equal(d("150")))

	// Tiny order falls back to the minimum stake.
	stake = RequiredStake(d("1"), d("10"), d("0.5"))
	assert.True(t, stake.Equal(d("10")))
}

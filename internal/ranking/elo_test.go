package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpectedScore(t *testing.T) {
	assert.InDelta(t, 0.5, ExpectedScore(1500, 1500), 1e-9)
	// A 400-point favourite expects ~0.909.
	assert.InDelta(t, 0.909, ExpectedScore(1900, 1500), 0.001)
	// Expectations of the two sides sum to 1.
	assert.InDelta(t, 1.0, ExpectedScore(1600, 1400)+ExpectedScore(1400, 1600), 1e-9)
}

func TestComputeDeltasTwoPlayers(t *testing.T) {
	ratings := map[string]float64{"a": 1500, "b": 1500}
	scores := map[string]float64{"a": 1, "b": 0}

	deltas := ComputeDeltas(ratings, scores, 32)

	assert.InDelta(t, 16, deltas["a"], 1e-9)
	assert.InDelta(t, -16, deltas["b"], 1e-9)
}

func TestComputeDeltasUpsetMovesMore(t *testing.T) {
	ratings := map[string]float64{"underdog": 1400, "favourite": 1600}
	scores := map[string]float64{"underdog": 1, "favourite": 0}

	deltas := ComputeDeltas(ratings, scores, 32)

	assert.Greater(t, deltas["underdog"], 16.0)
	assert.InDelta(t, -deltas["underdog"], deltas["favourite"], 1e-9)
}

func TestComputeDeltasZeroSum(t *testing.T) {
	ratings := map[string]float64{"a": 1450, "b": 1500, "c": 1610}
	scores := map[string]float64{"a": 1, "b": 0, "c": 0}

	deltas := ComputeDeltas(ratings, scores, 32)

	var sum float64
	for _, d := range deltas {
		sum += d
	}
	assert.InDelta(t, 0, sum, 1e-9)
	assert.Greater(t, deltas["a"], 0.0)
	assert.Less(t, deltas["b"], 0.0)
	assert.Less(t, deltas["c"], 0.0)
}

func TestComputeDeltasBoundedByK(t *testing.T) {
	ratings := map[string]float64{"a": 1500, "b": 1500, "c": 1500, "d": 1500}
	scores := map[string]float64{"a": 1, "b": 0, "c": 0, "d": 0}

	deltas := ComputeDeltas(ratings, scores, 32)

	for name, d := range deltas {
		require.LessOrEqual(t, d, 32.0, "delta for %s exceeds K", name)
		require.GreaterOrEqual(t, d, -32.0, "delta for %s exceeds -K", name)
	}
	// The winner beat three equals at 0.5 expectation each: 32/3 * 0.5 * 3.
	assert.InDelta(t, 16, deltas["a"], 1e-9)
}

func TestComputeDeltasSingleParticipant(t *testing.T) {
	deltas := ComputeDeltas(map[string]float64{"a": 1500}, map[string]float64{"a": 1}, 32)
	assert.Empty(t, deltas)
}

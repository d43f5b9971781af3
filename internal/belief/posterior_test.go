package belief

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const tolerance = 1e-9

func TestComputePosterior_SumsToOne(t *testing.T) {
	tests := []struct {
		name        string
		prior       State
		likelihoods map[string]float64
		minProb     float64
		uniform     float64
		confidence  float64
	}{
		{
			name:        "full confidence",
			prior:       State{"A": 0.25, "B": 0.25, "C": 0.25, "D": 0.25},
			likelihoods: map[string]float64{"A": 0.9, "B": 0.9, "C": 0.1, "D": 0.1},
			uniform:     0.5,
			confidence:  1.0,
		},
		{
			name:        "partial confidence",
			prior:       State{"A": 0.7, "B": 0.2, "C": 0.1},
			likelihoods: map[string]float64{"A": 0.3, "B": 0.6, "C": 0.1},
			uniform:     1.0 / 3,
			confidence:  0.7,
		},
		{
			name:        "pruning active",
			prior:       State{"A": 0.5, "B": 0.49, "C": 0.01},
			likelihoods: map[string]float64{"A": 0.5, "B": 0.5, "C": 0.01},
			minProb:     0.001,
			uniform:     0.5,
			confidence:  1.0,
		},
		{
			name:        "zero confidence ignores estimator",
			prior:       State{"A": 0.5, "B": 0.5},
			likelihoods: map[string]float64{"A": 1.0, "B": 0.0},
			uniform:     0.5,
			confidence:  0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			posterior, marginal := ComputePosterior(zap.NewNop(), tt.prior, tt.likelihoods, tt.minProb, tt.uniform, tt.confidence)
			require.NotEmpty(t, posterior)
			assert.InDelta(t, 1.0, posterior.Sum(), tolerance)
			assert.Greater(t, marginal, 0.0)
		})
	}
}

func TestComputePosterior_YesNoSplit(t *testing.T) {
	prior := State{"A": 0.25, "B": 0.25, "C": 0.25, "D": 0.25}
	yes := map[string]float64{"A": 0.9, "B": 0.9, "C": 0.1, "D": 0.1}
	no := map[string]float64{"A": 0.1, "B": 0.1, "C": 0.9, "D": 0.9}

	yesPost, yesMarginal := ComputePosterior(nil, prior, yes, 0, 0.5, 1.0)
	noPost, noMarginal := ComputePosterior(nil, prior, no, 0, 0.5, 1.0)

	assert.InDelta(t, 0.45, yesPost["A"], tolerance)
	assert.InDelta(t, 0.45, yesPost["B"], tolerance)
	assert.InDelta(t, 0.05, yesPost["C"], tolerance)
	assert.Greater(t, yesPost["A"]+yesPost["B"], yesPost["C"]+yesPost["D"])
	assert.Greater(t, noPost["C"]+noPost["D"], noPost["A"]+noPost["B"])
	assert.InDelta(t, 0.5, yesMarginal, tolerance)
	assert.InDelta(t, 0.5, noMarginal, tolerance)

	// With a floor above the minority mass, the split becomes exact.
	yesPruned, _ := ComputePosterior(nil, prior, yes, 0.05, 0.5, 1.0)
	assert.Equal(t, []string{"A", "B"}, yesPruned.Hypotheses())
	assert.InDelta(t, 0.5, yesPruned["A"], tolerance)
	assert.InDelta(t, 0.5, yesPruned["B"], tolerance)

	noPruned, _ := ComputePosterior(nil, prior, no, 0.05, 0.5, 1.0)
	assert.Equal(t, []string{"C", "D"}, noPruned.Hypotheses())
	assert.InDelta(t, 0.5, noPruned["C"], tolerance)
	assert.InDelta(t, 0.5, noPruned["D"], tolerance)
}

func TestComputePosterior_DegenerateFallsBackToFullSet(t *testing.T) {
	prior := State{"A": 0.5, "B": 0.5}
	likelihoods := map[string]float64{"A": 0.0, "B": 0.0}

	posterior, marginal := ComputePosterior(nil, prior, likelihoods, 0.1, 0.5, 1.0)

	require.Len(t, posterior, 2)
	assert.InDelta(t, 1.0, posterior.Sum(), tolerance)
	assert.InDelta(t, 0.5, posterior["A"], tolerance)
	assert.InDelta(t, 0.5, posterior["B"], tolerance)
	assert.Zero(t, marginal)
}

func TestComputePosterior_DegenerateKeepsRelativeMass(t *testing.T) {
	prior := State{"A": 0.5, "B": 0.5}
	likelihoods := map[string]float64{"A": 0.03, "B": 0.01}

	posterior, marginal := ComputePosterior(nil, prior, likelihoods, 0.1, 0.5, 1.0)

	require.Len(t, posterior, 2)
	assert.InDelta(t, 0.75, posterior["A"], tolerance)
	assert.InDelta(t, 0.25, posterior["B"], tolerance)
	assert.InDelta(t, 0.02, marginal, tolerance)
}

func TestComputePosterior_PruningIsIdempotent(t *testing.T) {
	prior := State{"A": 0.4, "B": 0.3, "C": 0.29, "D": 0.01}
	certain := map[string]float64{"A": 1, "B": 1, "C": 1, "D": 1}
	const floor = 0.02

	first, _ := ComputePosterior(nil, prior, certain, floor, 0.5, 1.0)
	second, _ := ComputePosterior(nil, first, certain, floor, 0.5, 1.0)

	assert.NotContains(t, first, "D")
	assert.Equal(t, first.Hypotheses(), second.Hypotheses())
	for h, p := range first {
		assert.GreaterOrEqual(t, p, floor, h)
	}
}

func TestComputePosterior_MissingLikelihoodWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)

	prior := State{"A": 0.5, "B": 0.5}
	posterior, _ := ComputePosterior(logger, prior, map[string]float64{"A": 0.9}, 0, 0.5, 1.0)

	assert.InDelta(t, 0.9/1.4, posterior["A"], tolerance)
	assert.InDelta(t, 0.5/1.4, posterior["B"], tolerance)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Contains(t, entry.Message, "missing from likelihoods")
	assert.Equal(t, []interface{}{"B"}, entry.ContextMap()["missing"])
}

func TestUniform(t *testing.T) {
	s := Uniform([]string{"A", "B", "C", "D", "A"})
	assert.Len(t, s, 4)
	assert.InDelta(t, 1.0, s.Sum(), tolerance)
	assert.InDelta(t, 0.25, s["C"], tolerance)
	assert.Empty(t, Uniform(nil))
}

func TestState_Ranked(t *testing.T) {
	s := State{"B": 0.2, "A": 0.2, "C": 0.6}
	assert.Equal(t, []string{"C", "A", "B"}, s.Ranked())
	assert.InDelta(t, 0.6, s.Max(), tolerance)
	assert.Equal(t, "{A: 0.2, B: 0.2, C: 0.6}", s.String())
}

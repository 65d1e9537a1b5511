package managers

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianquant/allocator/internal/config"
	"github.com/meridianquant/allocator/internal/dataset"
)

func testCandidates() map[string][]dataset.ManagerCandidate {
	return map[string][]dataset.ManagerCandidate{
		"global_equity": {
			{ID: "EQ-ALPHA", ExpectedIR: 0.6, ExpectedTE: 0.05, Confidence: 0.7},
			{ID: "EQ-BETA", ExpectedIR: 0.375, ExpectedTE: 0.04, Confidence: 0.6},
			{ID: "EQ-GAMMA", ExpectedIR: 0.2, ExpectedTE: 0.06, Confidence: 0.4},
		},
		"global_bonds": {
			{ID: "FI-CORE", ExpectedIR: 0.4, ExpectedTE: 0.02, Confidence: 0.5},
		},
	}
}

func newTestSelector(t *testing.T) *Selector {
	t.Helper()
	return NewSelector(config.Default(), zerolog.Nop())
}

func TestSelectWeightsSumToOne(t *testing.T) {
	sel := newTestSelector(t)
	res, err := sel.Select(context.Background(), testCandidates(), nil, nil)
	require.NoError(t, err)

	for ac, cs := range res.Selections {
		sum := 0.0
		for _, w := range cs.Weights {
			assert.GreaterOrEqual(t, w, 0.0, ac)
			assert.LessOrEqual(t, w, 1.0, ac)
			sum += w
		}
		assert.InDelta(t, 1.0, sum, 1e-6, ac)
	}
}

func TestSelectSingleCandidateGetsFullWeight(t *testing.T) {
	sel := newTestSelector(t)
	res, err := sel.Select(context.Background(), testCandidates(), nil, nil)
	require.NoError(t, err)

	bonds := res.Selections["global_bonds"]
	assert.InDelta(t, 1.0, bonds.Weights["FI-CORE"], 1e-12)
	assert.InDelta(t, 0.02, bonds.BlendedTE, 1e-12)
	assert.InDelta(t, 0.02, bonds.AchievedTE, 1e-12)
}

func TestSelectHigherAlphaGetsMoreWeight(t *testing.T) {
	sel := newTestSelector(t)
	res, err := sel.Select(context.Background(), testCandidates(), nil, nil)
	require.NoError(t, err)

	eq := res.Selections["global_equity"]
	// EQ-ALPHA has the strongest conviction and should dominate EQ-GAMMA.
	assert.Greater(t, eq.Weights["EQ-ALPHA"], eq.Weights["EQ-GAMMA"])
}

func TestSelectAlphaScalesWithInformationRatio(t *testing.T) {
	sel := newTestSelector(t)
	// Identical TE and confidence, so views differ only through IR × TE.
	candidates := map[string][]dataset.ManagerCandidate{
		"global_equity": {
			{ID: "HIGH-IR", ExpectedIR: 0.8, ExpectedTE: 0.05, Confidence: 0.6},
			{ID: "LOW-IR", ExpectedIR: 0.1, ExpectedTE: 0.05, Confidence: 0.6},
		},
	}
	res, err := sel.Select(context.Background(), candidates, nil, nil)
	require.NoError(t, err)

	eq := res.Selections["global_equity"]
	assert.Greater(t, eq.Weights["HIGH-IR"], eq.Weights["LOW-IR"])
}

func TestSelectTargetTEPullsPortfolio(t *testing.T) {
	sel := newTestSelector(t)
	target := 0.045
	res, err := sel.Select(context.Background(), testCandidates(), nil, map[string]float64{
		"global_equity": target,
	})
	require.NoError(t, err)

	eq := res.Selections["global_equity"]
	assert.InDelta(t, target, eq.TargetTE, 1e-12)
	// The soft penalty should keep achieved TE near the budget.
	assert.InDelta(t, target, eq.AchievedTE, 0.015)
}

func TestSelectWithUserCorrelation(t *testing.T) {
	sel := newTestSelector(t)
	corr := map[string][][]float64{
		"global_equity": {
			{1.0, 0.2, 0.8},
			{0.2, 1.0, 0.3},
			{0.8, 0.3, 1.0},
		},
	}
	res, err := sel.Select(context.Background(), testCandidates(), corr, nil)
	require.NoError(t, err)
	assert.Len(t, res.Selections["global_equity"].Weights, 3)
}

func TestSelectBlendedMetricsPropagate(t *testing.T) {
	sel := newTestSelector(t)
	res, err := sel.Select(context.Background(), testCandidates(), nil, nil)
	require.NoError(t, err)

	for ac, cs := range res.Selections {
		assert.InDelta(t, cs.BlendedTE, res.ActiveTEs[ac], 1e-12)
		assert.InDelta(t, cs.BlendedTE, res.ActiveVols[ac], 1e-12)
		assert.Greater(t, cs.BlendedTE, 0.0)
	}
}

func TestSelectEmptyCandidates(t *testing.T) {
	sel := newTestSelector(t)
	res, err := sel.Select(context.Background(), map[string][]dataset.ManagerCandidate{}, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Selections)
}

func TestSelectCanceledContext(t *testing.T) {
	sel := newTestSelector(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sel.Select(ctx, testCandidates(), nil, nil)
	assert.Error(t, err)
}

func TestSelectDeterministic(t *testing.T) {
	sel := newTestSelector(t)
	first, err := sel.Select(context.Background(), testCandidates(), nil, nil)
	require.NoError(t, err)
	second, err := sel.Select(context.Background(), testCandidates(), nil, nil)
	require.NoError(t, err)

	for ac, cs := range first.Selections {
		for id, w := range cs.Weights {
			assert.InDelta(t, w, second.Selections[ac].Weights[id], 1e-12)
		}
	}
}

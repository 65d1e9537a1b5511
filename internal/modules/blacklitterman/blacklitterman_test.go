package blacklitterman

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func testCov() *mat.SymDense {
	return mat.NewSymDense(2, []float64{
		0.0324, 0.001,
		0.001, 0.0036,
	})
}

func TestPosteriorSitsBetweenPriorAndView(t *testing.T) {
	b := NewBlender(0.05, zerolog.Nop())

	prior := []float64{0.05, 0.03}
	views := []float64{0.09, 0.03}
	conf := []float64{0.7, 0.7}

	post, err := b.Posterior(prior, views, conf, testCov())
	require.NoError(t, err)

	assert.Greater(t, post[0], prior[0])
	assert.Less(t, post[0], views[0])
}

func TestPosteriorHighConfidencePullsTowardView(t *testing.T) {
	b := NewBlender(0.05, zerolog.Nop())

	prior := []float64{0.05, 0.03}
	views := []float64{0.09, 0.03}

	low, err := b.Posterior(prior, views, []float64{0.2, 0.2}, testCov())
	require.NoError(t, err)
	high, err := b.Posterior(prior, views, []float64{0.9, 0.9}, testCov())
	require.NoError(t, err)

	assert.Greater(t, high[0], low[0])
}

func TestPosteriorZeroViewDiffKeepsPrior(t *testing.T) {
	b := NewBlender(0.05, zerolog.Nop())

	prior := []float64{0.05, 0.03}
	post, err := b.Posterior(prior, prior, []float64{0.5, 0.5}, testCov())
	require.NoError(t, err)

	assert.InDelta(t, prior[0], post[0], 1e-12)
	assert.InDelta(t, prior[1], post[1], 1e-12)
}

func TestPosteriorTinyConfidenceIsFloored(t *testing.T) {
	b := NewBlender(0.05, zerolog.Nop())

	prior := []float64{0.05, 0.03}
	views := []float64{0.09, 0.05}

	floored, err := b.Posterior(prior, views, []float64{0.1, 0.1}, testCov())
	require.NoError(t, err)
	tiny, err := b.Posterior(prior, views, []float64{0.001, 0.0}, testCov())
	require.NoError(t, err)

	assert.InDelta(t, floored[0], tiny[0], 1e-12)
	assert.InDelta(t, floored[1], tiny[1], 1e-12)
}

func TestPosteriorDimensionMismatch(t *testing.T) {
	b := NewBlender(0.05, zerolog.Nop())
	_, err := b.Posterior([]float64{0.05}, []float64{0.09, 0.03}, []float64{0.5, 0.5}, testCov())
	assert.Error(t, err)
}

package riskmodel

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func testSanitizer() *Sanitizer {
	return NewSanitizer(1e-8, 1e-8, zerolog.Nop())
}

func minEigenvalue(t *testing.T, m *mat.SymDense) float64 {
	t.Helper()
	var eig mat.EigenSym
	require.True(t, eig.Factorize(m, false))
	values := eig.Values(nil)
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

func TestSanitizePassesThroughValidMatrix(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{
		0.04, 0.01,
		0.01, 0.09,
	})

	out, err := testSanitizer().Sanitize(cov, "test")
	require.NoError(t, err)

	assert.InDelta(t, 0.04, out.At(0, 0), 1e-12)
	assert.InDelta(t, 0.01, out.At(0, 1), 1e-12)
	assert.InDelta(t, 0.09, out.At(1, 1), 1e-12)
}

func TestSanitizeReplacesNonFiniteEntries(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{
		math.NaN(), math.Inf(1),
		math.Inf(1), 0.09,
	})

	out, err := testSanitizer().Sanitize(cov, "test")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			assert.False(t, math.IsNaN(out.At(i, j)))
			assert.False(t, math.IsInf(out.At(i, j), 0))
		}
	}
	assert.Greater(t, minEigenvalue(t, out), 0.0)
}

func TestSanitizeRepairsNegativeEigenvalues(t *testing.T) {
	// Correlation 1.2 between two assets makes the matrix indefinite.
	cov := mat.NewSymDense(2, []float64{
		0.04, 0.048,
		0.048, 0.04,
	})
	require.Less(t, minEigenvalue(t, cov), 0.0)

	out, err := testSanitizer().Sanitize(cov, "test")
	require.NoError(t, err)
	assert.Greater(t, minEigenvalue(t, out), 0.0)
}

func TestSanitizeIdempotentOnRepairedMatrix(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{
		0.04, 0.048,
		0.048, 0.04,
	})

	s := testSanitizer()
	once, err := s.Sanitize(cov, "test")
	require.NoError(t, err)
	twice, err := s.Sanitize(once, "test")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			assert.InDelta(t, once.At(i, j), twice.At(i, j), 1e-12)
		}
	}
}

func TestCovarianceFromVols(t *testing.T) {
	vols := []float64{0.18, 0.06}
	corr := mat.NewSymDense(2, []float64{
		1.0, -0.1,
		-0.1, 1.0,
	})

	cov, err := CovarianceFromVols(vols, corr)
	require.NoError(t, err)

	assert.InDelta(t, 0.18*0.18, cov.At(0, 0), 1e-12)
	assert.InDelta(t, 0.06*0.06, cov.At(1, 1), 1e-12)
	assert.InDelta(t, 0.18*-0.1*0.06, cov.At(0, 1), 1e-12)
}

func TestCovarianceFromVolsDimensionMismatch(t *testing.T) {
	corr := mat.NewSymDense(2, []float64{1, 0, 0, 1})
	_, err := CovarianceFromVols([]float64{0.1, 0.2, 0.3}, corr)
	assert.Error(t, err)
}

func TestCorrelationFromCovarianceRoundTrip(t *testing.T) {
	vols := []float64{0.18, 0.06, 0.22}
	corr := mat.NewSymDense(3, []float64{
		1.0, -0.1, 0.8,
		-0.1, 1.0, -0.05,
		0.8, -0.05, 1.0,
	})
	cov, err := CovarianceFromVols(vols, corr)
	require.NoError(t, err)

	back := CorrelationFromCovariance(cov)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.InDelta(t, corr.At(i, j), back.At(i, j), 1e-10)
		}
	}
}

func TestConditionNumberIdentity(t *testing.T) {
	eye := mat.NewSymDense(3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	cond, err := ConditionNumber(eye)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, cond, 1e-12)
}

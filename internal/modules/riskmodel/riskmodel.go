// Package riskmodel builds and repairs the covariance matrices consumed
// by every optimization layer. All downstream solvers assume a symmetric
// positive-definite covariance; the sanitizer is the single place where
// that assumption is enforced.
package riskmodel

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// Sanitizer repairs covariance matrices so they are finite, symmetric
// and positive definite.
type Sanitizer struct {
	minEigenvalue float64
	regularizer   float64
	log           zerolog.Logger
}

// NewSanitizer creates a sanitizer with the given eigenvalue floor and
// NaN/Inf replacement value.
func NewSanitizer(minEigenvalue, regularizer float64, log zerolog.Logger) *Sanitizer {
	return &Sanitizer{
		minEigenvalue: minEigenvalue,
		regularizer:   regularizer,
		log:           log.With().Str("component", "risk_model").Logger(),
	}
}

// Sanitize returns a repaired copy of cov. Non-finite entries are replaced
// with the regularization constant, the matrix is symmetrized, and if the
// smallest eigenvalue is at or below zero the diagonal is shifted up by
// |λmin| + floor. Valid input passes through unchanged up to symmetrization.
func (s *Sanitizer) Sanitize(cov *mat.SymDense, name string) (*mat.SymDense, error) {
	n := cov.SymmetricDim()
	if n == 0 {
		return nil, fmt.Errorf("sanitize %s: empty matrix", name)
	}

	out := mat.NewSymDense(n, nil)
	replaced := 0
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := cov.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = s.regularizer
				replaced++
			}
			out.SetSym(i, j, v)
		}
	}
	if replaced > 0 {
		s.log.Warn().
			Str("matrix", name).
			Int("replaced_entries", replaced).
			Msg("Replaced non-finite covariance entries")
	}

	var eig mat.EigenSym
	if !eig.Factorize(out, false) {
		return nil, fmt.Errorf("sanitize %s: eigendecomposition failed", name)
	}
	values := eig.Values(nil)
	minEig := values[0]
	for _, v := range values[1:] {
		if v < minEig {
			minEig = v
		}
	}

	if minEig <= 0 {
		shift := math.Abs(minEig) + s.minEigenvalue
		for i := 0; i < n; i++ {
			out.SetSym(i, i, out.At(i, i)+shift)
		}
		s.log.Warn().
			Str("matrix", name).
			Float64("min_eigenvalue", minEig).
			Float64("diagonal_shift", shift).
			Msg("Repaired non-positive-definite covariance matrix")
	}

	return out, nil
}

// CovarianceFromVols builds Σ = diag(σ) · Corr · diag(σ) from a volatility
// vector and a correlation matrix.
func CovarianceFromVols(vols []float64, corr *mat.SymDense) (*mat.SymDense, error) {
	n := len(vols)
	if corr.SymmetricDim() != n {
		return nil, fmt.Errorf("dimension mismatch: %d vols vs %dx%d correlation",
			n, corr.SymmetricDim(), corr.SymmetricDim())
	}

	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, vols[i]*corr.At(i, j)*vols[j])
		}
	}
	return cov, nil
}

// CorrelationFromCovariance converts a covariance matrix to a correlation
// matrix. Zero-variance assets get zero correlation with everything and a
// unit diagonal.
func CorrelationFromCovariance(cov *mat.SymDense) *mat.SymDense {
	n := cov.SymmetricDim()
	corr := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		corr.SetSym(i, i, 1.0)
		for j := i + 1; j < n; j++ {
			vi, vj := cov.At(i, i), cov.At(j, j)
			if vi > 0 && vj > 0 {
				corr.SetSym(i, j, cov.At(i, j)/math.Sqrt(vi*vj))
			}
		}
	}
	return corr
}

// ConditionNumber returns λmax/|λmin| of a symmetric matrix, or +Inf when
// the smallest eigenvalue magnitude is zero.
func ConditionNumber(m *mat.SymDense) (float64, error) {
	var eig mat.EigenSym
	if !eig.Factorize(m, false) {
		return 0, fmt.Errorf("eigendecomposition failed")
	}
	values := eig.Values(nil)

	maxAbs, minAbs := 0.0, math.Inf(1)
	for _, v := range values {
		a := math.Abs(v)
		if a > maxAbs {
			maxAbs = a
		}
		if a < minAbs {
			minAbs = a
		}
	}
	if minAbs == 0 {
		return math.Inf(1), nil
	}
	return maxAbs / minAbs, nil
}

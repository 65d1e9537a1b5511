// Package blacklitterman blends equilibrium return estimates with
// forward-looking views. Both the active-risk budget layer and the manager
// selection layer use the same posterior: every view is an absolute view
// on one asset, so the pick matrix is the identity and the view
// uncertainty matrix is diagonal.
package blacklitterman

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// Confidences below this floor are clamped before dividing, so a
// near-zero confidence yields a very uncertain view instead of a
// numerically explosive one.
const minConfidence = 0.1

// Blender computes Black-Litterman posterior returns.
type Blender struct {
	tau float64
	log zerolog.Logger
}

// NewBlender creates a blender with the given prior scaling factor τ.
func NewBlender(tau float64, log zerolog.Logger) *Blender {
	return &Blender{
		tau: tau,
		log: log.With().Str("component", "black_litterman").Logger(),
	}
}

// Posterior blends prior (equilibrium) returns with one absolute view per
// asset.
//
// With P = I the posterior reduces to a single solve:
//
//	Ω = diag(Σ_ii / conf_i²)
//	A = τΣ + Ω
//	E[R] = Π + τΣ · A⁻¹ · (Q − Π)
//
// Confidences are floored at 0.1. A singular A is an error; callers are
// expected to sanitize Σ first so this cannot happen in practice.
func (b *Blender) Posterior(
	prior []float64,
	views []float64,
	confidences []float64,
	cov *mat.SymDense,
) ([]float64, error) {
	n := len(prior)
	if len(views) != n || len(confidences) != n {
		return nil, fmt.Errorf("dimension mismatch: %d prior, %d views, %d confidences",
			n, len(views), len(confidences))
	}
	if cov.SymmetricDim() != n {
		return nil, fmt.Errorf("covariance is %dx%d, expected %dx%d",
			cov.SymmetricDim(), cov.SymmetricDim(), n, n)
	}
	if b.tau <= 0 {
		return nil, fmt.Errorf("tau must be positive, got %.6f", b.tau)
	}

	tauSigma := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			tauSigma.Set(i, j, b.tau*cov.At(i, j))
		}
	}

	// A = τΣ + Ω, with Ω diagonal.
	A := mat.NewDense(n, n, nil)
	A.CloneFrom(tauSigma)
	for i := 0; i < n; i++ {
		conf := confidences[i]
		if conf < minConfidence {
			conf = minConfidence
		}
		A.Set(i, i, A.At(i, i)+cov.At(i, i)/(conf*conf))
	}

	// Solve A·x = Q − Π.
	diff := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		diff.SetVec(i, views[i]-prior[i])
	}
	var x mat.VecDense
	if err := x.SolveVec(A, diff); err != nil {
		return nil, fmt.Errorf("posterior solve failed (singular view matrix): %w", err)
	}

	var adjustment mat.VecDense
	adjustment.MulVec(tauSigma, &x)

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		v := prior[i] + adjustment.AtVec(i)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("non-finite posterior return for asset %d", i)
		}
		out[i] = v
	}

	b.log.Debug().
		Int("assets", n).
		Msg("Blended views with equilibrium returns")

	return out, nil
}

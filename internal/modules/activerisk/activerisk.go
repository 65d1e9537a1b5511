// Package activerisk implements the asset-class active risk budget
// layer. It blends conviction views into posterior alphas with
// Black-Litterman, splits the active risk budget across active-eligible
// asset classes, and converts each class's budget share into an
// active/passive allocation fraction.
package activerisk

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/meridianquant/allocator/internal/config"
	"github.com/meridianquant/allocator/internal/modules/blacklitterman"
	"github.com/meridianquant/allocator/internal/modules/riskmodel"
)

// Inputs carries everything the allocator needs for one run.
type Inputs struct {
	AssetClasses []string
	// SAAWeights are the Layer 1 weights per asset class, not renormalized.
	SAAWeights map[string]float64
	// ExpectedTEs, ExpectedIRs and Confidences describe active management
	// convictions per asset class. A zero TE marks the class passive-only.
	ExpectedTEs map[string]float64
	ExpectedIRs map[string]float64
	Confidences map[string]float64
	// PassiveVols are the volatilities of the passive vehicles.
	PassiveVols map[string]float64
	// Correlation is the active-return correlation matrix in asset-class
	// order; nil falls back to the identity (zero correlation).
	Correlation [][]float64

	TargetVolatility float64
	// ActiveSplitOverride, when set, replaces the configured active risk
	// fraction; the passive fraction becomes its complement.
	ActiveSplitOverride *float64
}

// Result is the Layer 2 output.
type Result struct {
	// Shares is each class's share of the active risk budget (sums to 1
	// over active-eligible classes, zero elsewhere).
	Shares map[string]float64
	// Alphas is the active allocation fraction per class, in [0, 1].
	Alphas map[string]float64
	// BlendedVols combines active and passive vehicle volatility per
	// class at that class's alpha.
	BlendedVols map[string]float64
	// TargetTEs is the expected tracking error per class, handed to the
	// manager selection layer.
	TargetTEs map[string]float64

	AchievedVolatility float64
	ActiveRiskBudget   float64
	ActivePct          float64
	PassivePct         float64
}

// Allocator runs the active risk budget layer.
type Allocator struct {
	params    config.Params
	blender   *blacklitterman.Blender
	sanitizer *riskmodel.Sanitizer
	log       zerolog.Logger
}

// NewAllocator creates the Layer 2 allocator.
func NewAllocator(params config.Params, log zerolog.Logger) *Allocator {
	return &Allocator{
		params:    params,
		blender:   blacklitterman.NewBlender(params.Tau, log),
		sanitizer: riskmodel.NewSanitizer(params.MinEigenvalue, params.MatrixRegularizer, log),
		log:       log.With().Str("component", "active_risk").Logger(),
	}
}

// Allocate computes risk budget shares and active allocation fractions.
func (a *Allocator) Allocate(ctx context.Context, in Inputs) (*Result, error) {
	n := len(in.AssetClasses)
	if n == 0 {
		return nil, fmt.Errorf("no asset classes provided")
	}
	if in.TargetVolatility <= 0 {
		return nil, fmt.Errorf("target volatility must be positive, got %.4f", in.TargetVolatility)
	}

	activePct := a.params.ActiveRiskBudget
	if in.ActiveSplitOverride != nil {
		activePct = *in.ActiveSplitOverride
		if activePct < 0 || activePct > 1 {
			return nil, fmt.Errorf("active split override %.4f must be in [0, 1]", activePct)
		}
	}
	budget := activePct * in.TargetVolatility

	teVec := make([]float64, n)
	activeIdx := make([]int, 0, n)
	for i, ac := range in.AssetClasses {
		teVec[i] = in.ExpectedTEs[ac]
		if teVec[i] > 0 {
			activeIdx = append(activeIdx, i)
		}
	}

	viewCov, err := a.viewCovariance(teVec, in.Correlation)
	if err != nil {
		return nil, err
	}

	// Views: expected alpha = IR × TE, against a zero equilibrium alpha.
	prior := make([]float64, n)
	views := make([]float64, n)
	conf := make([]float64, n)
	for i, ac := range in.AssetClasses {
		views[i] = in.ExpectedIRs[ac] * teVec[i]
		conf[i] = in.Confidences[ac]
	}
	posterior, err := a.blender.Posterior(prior, views, conf, viewCov)
	if err != nil {
		return nil, fmt.Errorf("posterior alphas: %w", err)
	}

	shares, err := a.optimizeShares(ctx, posterior, viewCov, activeIdx, n)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Shares:           make(map[string]float64, n),
		Alphas:           make(map[string]float64, n),
		BlendedVols:      make(map[string]float64, n),
		TargetTEs:        make(map[string]float64, n),
		ActiveRiskBudget: budget,
		ActivePct:        activePct,
		PassivePct:       1 - activePct,
	}

	for i, ac := range in.AssetClasses {
		share := shares[i]
		res.Shares[ac] = share
		res.TargetTEs[ac] = teVec[i]

		// active_risk = alpha × TE × w_saa, inverted for alpha.
		alpha := 0.0
		saaW := in.SAAWeights[ac]
		if saaW > 0 && teVec[i] > 0 {
			alpha = share * budget / (teVec[i] * saaW)
			alpha = math.Min(1.0, math.Max(0.0, alpha))
		}
		res.Alphas[ac] = alpha
		res.BlendedVols[ac] = BlendedVolatility(in.PassiveVols[ac], teVec[i], alpha)
	}

	res.AchievedVolatility = a.achievedVolatility(in, res)

	a.log.Info().
		Float64("active_risk_budget", budget).
		Float64("achieved_volatility", res.AchievedVolatility).
		Int("active_classes", len(activeIdx)).
		Msg("Active risk budget allocated")

	return res, nil
}

// viewCovariance builds Σ_view = Corr ⊙ (TE ⊗ TEᵀ) and sanitizes it so
// the posterior solve cannot hit a singular matrix.
func (a *Allocator) viewCovariance(teVec []float64, corr [][]float64) (*mat.SymDense, error) {
	n := len(teVec)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			c := 0.0
			if i == j {
				c = 1.0
			} else if corr != nil {
				c = 0.5 * (corr[i][j] + corr[j][i])
			}
			cov.SetSym(i, j, c*teVec[i]*teVec[j])
		}
	}
	return a.sanitizer.Sanitize(cov, "active return covariance")
}

// optimizeShares maximizes posterior utility x'α − (κ/2)·x'Σx over the
// active-eligible classes; passive-only classes are excluded from the
// problem entirely so their shares are exactly zero.
func (a *Allocator) optimizeShares(
	ctx context.Context,
	posterior []float64,
	viewCov *mat.SymDense,
	activeIdx []int,
	n int,
) ([]float64, error) {
	shares := make([]float64, n)
	if len(activeIdx) == 0 {
		return shares, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(activeIdx) == 1 {
		shares[activeIdx[0]] = 1.0
		return shares, nil
	}

	m := len(activeIdx)
	kappa := a.params.RiskAversion
	pen := a.params.PenaltyWeight

	objective := func(x []float64) float64 {
		xp := make([]float64, m)
		sum := 0.0
		for i := range x {
			xp[i] = math.Max(0, math.Min(1, x[i]))
			sum += xp[i]
		}

		utility := 0.0
		for i, gi := range activeIdx {
			utility += xp[i] * posterior[gi]
			for j, gj := range activeIdx {
				utility -= (kappa / 2) * xp[i] * xp[j] * viewCov.At(gi, gj)
			}
		}
		return -utility + pen*(sum-1.0)*(sum-1.0)
	}

	initial := make([]float64, m)
	for i := range initial {
		initial[i] = 1.0 / float64(m)
	}

	problem := optimize.Problem{Func: objective}
	settings := &optimize.Settings{
		MajorIterations: a.params.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   a.params.ConvergenceTol,
			Iterations: 100,
		},
	}

	result, err := optimize.Minimize(problem, initial, settings, &optimize.NelderMead{})
	if err != nil || !converged(result.Status) {
		result, err = optimize.Minimize(problem, initial, settings, &optimize.BFGS{})
		if err != nil {
			return nil, fmt.Errorf("risk budget optimization failed: %w", err)
		}
		if !converged(result.Status) {
			return nil, fmt.Errorf("risk budget optimization did not converge: status=%v", result.Status)
		}
	}

	total := 0.0
	for i := range result.X {
		v := math.Max(0, math.Min(1, result.X[i]))
		shares[activeIdx[i]] = v
		total += v
	}
	if total > 0 {
		for _, gi := range activeIdx {
			shares[gi] /= total
		}
	}
	return shares, nil
}

func converged(status optimize.Status) bool {
	switch status {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence:
		return true
	}
	return false
}

// achievedVolatility aggregates blended class volatilities under the
// active-return correlation structure.
func (a *Allocator) achievedVolatility(in Inputs, res *Result) float64 {
	totalVar := 0.0
	for i, aci := range in.AssetClasses {
		for j, acj := range in.AssetClasses {
			c := 0.0
			if i == j {
				c = 1.0
			} else if in.Correlation != nil {
				c = in.Correlation[i][j]
			}
			totalVar += in.SAAWeights[aci] * in.SAAWeights[acj] *
				res.BlendedVols[aci] * res.BlendedVols[acj] * c
		}
	}
	if totalVar < 0 {
		totalVar = -totalVar
	}
	return math.Sqrt(totalVar)
}

// BlendedVolatility mixes active and passive vehicle volatility at the
// given active fraction, with active vol approximated as passive + TE and
// active/passive correlation ρ = sqrt(1 − (TE/active_vol)²).
func BlendedVolatility(passiveVol, te, alpha float64) float64 {
	activeVol := passiveVol + te
	if activeVol <= 0 {
		return passiveVol
	}
	rho := math.Sqrt(math.Max(0, 1-(te/activeVol)*(te/activeVol)))
	rho = math.Max(0, math.Min(1, rho))

	variance := alpha*alpha*activeVol*activeVol +
		(1-alpha)*(1-alpha)*passiveVol*passiveVol +
		2*alpha*(1-alpha)*activeVol*passiveVol*rho
	return math.Sqrt(variance)
}

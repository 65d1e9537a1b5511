package saa

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/meridianquant/allocator/internal/config"
	"github.com/meridianquant/allocator/pkg/formulas"
)

// EquilibriumResult holds the market-tracking baseline portfolio for one
// risk profile.
type EquilibriumResult struct {
	Weights        []float64
	ClusterWeights map[string]float64

	Volatility           float64 // asset-space sqrt(w'Σw)
	ClusterRisk          float64 // cluster-space volatility of the solved weights
	ClusterTrackingError float64 // cluster-space TE against market weights
	Objective            float64
}

// EquilibriumOptimizer minimizes tracking error to the market portfolio in
// cluster space while holding volatility inside the target band.
type EquilibriumOptimizer struct {
	model  *ClusterModel
	cov    *mat.SymDense
	params config.Params
	log    zerolog.Logger
}

// NewEquilibriumOptimizer creates an optimizer over a prepared cluster
// model. The covariance must already be sanitized.
func NewEquilibriumOptimizer(model *ClusterModel, cov *mat.SymDense, params config.Params, log zerolog.Logger) *EquilibriumOptimizer {
	return &EquilibriumOptimizer{
		model:  model,
		cov:    cov,
		params: params,
		log:    log.With().Str("component", "equilibrium_saa").Logger(),
	}
}

// Optimize solves for equilibrium weights at the given target volatility.
//
// Objective: min (ŵ − γ·ŵ_mkt)' Π (ŵ − γ·ŵ_mkt) with full investment and a
// volatility band [target−tol, target+tol], all enforced as quadratic
// penalties. Starts are fanned out in parallel and reduced to the best
// converged solution.
func (o *EquilibriumOptimizer) Optimize(ctx context.Context, targetVol float64) (*EquilibriumResult, error) {
	if targetVol <= 0 {
		return nil, fmt.Errorf("target volatility must be positive, got %.4f", targetVol)
	}

	exclude := o.params.LiquidityMode == config.LiquidityExcludeThenAdd
	liqTarget := o.params.LiquidityTarget

	adjustedTarget := targetVol
	if exclude {
		nonliqShare := 1.0 - liqTarget
		if nonliqShare <= 0 {
			return nil, fmt.Errorf("liquidity target %.4f leaves nothing to optimize", liqTarget)
		}
		adjustedTarget = targetVol / nonliqShare
	}

	pi, mkt, effClusters := o.effectiveSpace(exclude)
	k := len(effClusters)

	tol := o.params.RiskTolerance
	volUpper := adjustedTarget + tol
	volLower := adjustedTarget - tol
	gamma := o.params.GammaAnchor
	pen := o.params.PenaltyWeight

	// The γ anchor inflates the tracking objective by ~γ², so constraint
	// violations are measured in volatility units relative to the bound;
	// raw variance-unit penalties would be invisible next to it.
	objective := func(x []float64) float64 {
		xp := projectToBounds(x, 0, 1)

		diff := make([]float64, k)
		for i := range xp {
			diff[i] = xp[i] - gamma*mkt[i]
		}
		obj := formulas.QuadraticForm(diff, pi)

		sum := 0.0
		for _, w := range xp {
			sum += w
		}
		obj += pen * gamma * (sum - 1.0) * (sum - 1.0)

		vol := formulas.PortfolioRisk(xp, pi)
		if vol > volUpper {
			v := (vol - volUpper) / volUpper
			obj += pen * gamma * v * v
		}
		if vol < volLower {
			v := (volLower - vol) / volLower
			obj += pen * gamma * v * v
		}

		return obj
	}

	clusterW, obj, err := minimizeWithRestarts(ctx, objective, o.starts(mkt), o.params.MaxIterations)
	if err != nil {
		return nil, fmt.Errorf("equilibrium optimization failed: %w", err)
	}
	clusterW = projectToBounds(clusterW, 0, 1)

	// A penalty solution far outside the band means the target volatility
	// is unreachable with these assets, not that the solver struggled.
	achieved := formulas.PortfolioRisk(clusterW, pi)
	const bandSlack = 0.005
	if achieved > volUpper+bandSlack || achieved < volLower-bandSlack {
		return nil, fmt.Errorf("target volatility %.4f unreachable: achieved %.4f outside band [%.4f, %.4f]",
			targetVol, achieved, volLower, volUpper)
	}

	assetW := o.toAssetWeights(clusterW, effClusters, exclude)
	assetW = formulas.NormalizeWeights(assetW)

	result := &EquilibriumResult{
		Weights:              assetW,
		ClusterWeights:       o.model.ClusterWeightsOf(assetW),
		Volatility:           formulas.PortfolioRisk(assetW, o.cov),
		ClusterRisk:          formulas.PortfolioRisk(clusterW, pi),
		ClusterTrackingError: formulas.TrackingError(clusterW, mkt, pi),
		Objective:            obj,
	}

	o.log.Debug().
		Float64("target_vol", targetVol).
		Float64("achieved_vol", result.Volatility).
		Float64("cluster_risk", result.ClusterRisk).
		Msg("Equilibrium optimization complete")

	return result, nil
}

// effectiveSpace returns the cluster covariance, market weights and
// cluster indices the solver runs over. When liquidity is excluded the
// space drops the liquidity cluster and renormalizes market weights.
func (o *EquilibriumOptimizer) effectiveSpace(exclude bool) (*mat.SymDense, []float64, []int) {
	k := o.model.NumClusters()
	if !exclude {
		all := make([]int, k)
		for i := range all {
			all[i] = i
		}
		mkt := make([]float64, k)
		copy(mkt, o.model.ClusterMarketWeights)
		return o.model.Pi, mkt, all
	}

	var eff []int
	for i := 0; i < k; i++ {
		if i != o.model.LiquidityClusterIndex {
			eff = append(eff, i)
		}
	}

	pi := mat.NewSymDense(len(eff), nil)
	mkt := make([]float64, len(eff))
	total := 0.0
	for a, i := range eff {
		mkt[a] = o.model.ClusterMarketWeights[i]
		total += mkt[a]
		for b := a; b < len(eff); b++ {
			pi.SetSym(a, b, o.model.Pi.At(i, eff[b]))
		}
	}
	for a := range mkt {
		mkt[a] /= total
	}
	return pi, mkt, eff
}

// starts builds the multi-start schedule: market weights, uniform, a
// seeded random point, and a market/uniform blend with tight tolerance.
func (o *EquilibriumOptimizer) starts(mkt []float64) []start {
	k := len(mkt)
	uniform := make([]float64, k)
	for i := range uniform {
		uniform[i] = 1.0 / float64(k)
	}

	rng := rand.New(rand.NewSource(o.params.MultiStartSeed))
	random := make([]float64, k)
	sum := 0.0
	for i := range random {
		random[i] = rng.Float64()
		sum += random[i]
	}
	for i := range random {
		random[i] /= sum
	}

	blended := make([]float64, k)
	for i := range blended {
		blended[i] = 0.5 * (mkt[i] + uniform[i])
	}
	blended = formulas.NormalizeWeights(blended)

	market := make([]float64, k)
	copy(market, mkt)

	starts := []start{
		{initial: market, tol: o.params.ConvergenceTol},
		{initial: uniform, tol: o.params.ConvergenceTol},
		{initial: random, tol: o.params.ConvergenceTol},
		{initial: blended, tol: o.params.TightConvergeTol},
	}
	if o.params.NumAttempts < len(starts) {
		starts = starts[:o.params.NumAttempts]
	}
	return starts
}

// toAssetWeights expands cluster weights to asset space and applies the
// configured liquidity handling.
func (o *EquilibriumOptimizer) toAssetWeights(clusterW []float64, effClusters []int, exclude bool) []float64 {
	full := make([]float64, o.model.NumClusters())
	for pos, idx := range effClusters {
		full[idx] = clusterW[pos]
	}
	assetW := o.model.AssetWeights(full)

	liqIdx := o.model.LiquidityAssetIndex
	liqTarget := o.params.LiquidityTarget

	if exclude {
		scale := 1.0 - liqTarget
		for i := range assetW {
			assetW[i] *= scale
		}
		assetW[liqIdx] = liqTarget
		return assetW
	}

	// fixed_post: force the liquidity asset to target and rescale the rest.
	if math.Abs(assetW[liqIdx]-liqTarget) < 1e-6 {
		return assetW
	}
	assetW[liqIdx] = liqTarget
	otherSum := 0.0
	for i, w := range assetW {
		if i != liqIdx {
			otherSum += w
		}
	}
	if otherSum > 0 {
		scale := (1.0 - liqTarget) / otherSum
		for i := range assetW {
			if i != liqIdx {
				assetW[i] *= scale
			}
		}
	}
	return assetW
}

package saa

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/meridianquant/allocator/internal/config"
	"github.com/meridianquant/allocator/pkg/formulas"
)

// DynamicResult holds the return-tilted portfolio for one risk profile.
type DynamicResult struct {
	Weights []float64

	ExpectedReturn float64
	Volatility     float64 // asset-space sqrt(w'Σw) under the base covariance
	TrackingError  float64 // against equilibrium weights, active covariance

	ClusterWeights        map[string]float64
	ClusterActiveWeights  map[string]float64
	ClusterTrackingErrors map[string]float64
	Objective             float64
}

// DynamicOptimizer maximizes expected return around the equilibrium
// portfolio under an active-risk budget. The budget and all risk bounds
// derive from the equilibrium portfolio's variance σ² = w_e'Σw_e.
type DynamicOptimizer struct {
	model     *ClusterModel
	baseCov   *mat.SymDense // Σ, total risk and cluster variances
	activeCov *mat.SymDense // Σ̃, objective and tracking error
	params    config.Params
	log       zerolog.Logger
}

// NewDynamicOptimizer creates an optimizer. Both covariance matrices must
// already be sanitized.
func NewDynamicOptimizer(model *ClusterModel, baseCov, activeCov *mat.SymDense, params config.Params, log zerolog.Logger) *DynamicOptimizer {
	return &DynamicOptimizer{
		model:     model,
		baseCov:   baseCov,
		activeCov: activeCov,
		params:    params,
		log:       log.With().Str("component", "dynamic_saa").Logger(),
	}
}

// Optimize solves for dynamic weights given the equilibrium baseline and
// expected returns.
//
// Objective: max w'r − (λ/2)·(w−w_e)'Σ̃(w−w_e), subject to (as penalties)
// full investment, total risk w'Σ̃w ≤ (σ+tol)², a portfolio tracking-error
// budget b²σ², and a φ-scaled tracking-error budget b²σ_c² per cluster.
func (o *DynamicOptimizer) Optimize(ctx context.Context, equilibrium []float64, expectedReturns []float64) (*DynamicResult, error) {
	n := len(o.model.Assets)
	if len(equilibrium) != n || len(expectedReturns) != n {
		return nil, fmt.Errorf("dimension mismatch: %d assets, %d equilibrium weights, %d returns",
			n, len(equilibrium), len(expectedReturns))
	}

	varTarget := math.Abs(formulas.QuadraticForm(equilibrium, o.baseCov))
	tol := o.params.DynamicRiskTolerance
	// (σ + tol)² expanded around the equilibrium variance.
	volUpper := math.Sqrt(varTarget + 2*math.Sqrt(varTarget)*tol + tol*tol)

	budgetFrac := o.params.ActiveRiskBudget
	teBudgetVol := budgetFrac * math.Sqrt(varTarget)

	clusterBudgets := o.clusterBudgets(equilibrium, budgetFrac)

	exclude := o.params.LiquidityMode == config.LiquidityExcludeThenAdd
	liqIdx := o.model.LiquidityAssetIndex
	liqTarget := o.params.LiquidityTarget

	free := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if !exclude || i != liqIdx {
			free = append(free, i)
		}
	}
	sumTarget := 1.0
	if exclude {
		sumTarget = 1.0 - liqTarget
	}

	toFull := func(x []float64) []float64 {
		w := make([]float64, n)
		for pos, i := range free {
			w[i] = x[pos]
		}
		if exclude {
			w[liqIdx] = liqTarget
		}
		return w
	}

	lambda := o.params.LambdaActive
	pen := o.params.PenaltyWeight

	// Violations are measured in volatility units relative to each bound
	// so every penalty carries comparable weight against the return term.
	objective := func(x []float64) float64 {
		xp := projectToBounds(x, 0, 1)
		w := toFull(xp)

		active := make([]float64, n)
		for i := range w {
			active[i] = w[i] - equilibrium[i]
		}

		obj := -formulas.WeightedSum(w, expectedReturns) +
			(lambda/2)*math.Abs(formulas.QuadraticForm(active, o.activeCov))

		sum := 0.0
		for _, v := range xp {
			sum += v
		}
		obj += pen * (sum - sumTarget) * (sum - sumTarget)

		if vol := formulas.PortfolioRisk(w, o.activeCov); vol > volUpper {
			v := (vol - volUpper) / volUpper
			obj += pen * v * v
		}
		if te := formulas.PortfolioRisk(active, o.activeCov); te > teBudgetVol {
			v := (te - teBudgetVol) / teBudgetVol
			obj += pen * v * v
		}
		obj += o.clusterPenalty(w, clusterBudgets, pen)

		return obj
	}

	starts := o.starts(equilibrium, expectedReturns, free, sumTarget)
	x, obj, err := minimizeWithRestarts(ctx, objective, starts, o.params.MaxIterations)
	if err != nil {
		return nil, fmt.Errorf("dynamic optimization failed: %w", err)
	}

	weights := formulas.NormalizeWeights(toFull(projectToBounds(x, 0, 1)))
	return o.buildResult(weights, equilibrium, expectedReturns, obj), nil
}

// clusterBudgets computes the tracking-error budget b·σ_c per
// non-liquidity cluster, where σ_c is the equilibrium sub-portfolio
// volatility under the base covariance.
func (o *DynamicOptimizer) clusterBudgets(equilibrium []float64, budgetFrac float64) map[string]float64 {
	budgets := make(map[string]float64, o.model.NumClusters())
	for _, cluster := range o.model.ClusterNames {
		if cluster == LiquidityCluster && o.params.LiquidityMode == config.LiquidityExcludeThenAdd {
			continue
		}
		idxs := o.model.ClusterIndices(cluster)
		variance := 0.0
		for _, i := range idxs {
			for _, j := range idxs {
				variance += equilibrium[i] * equilibrium[j] * o.baseCov.At(i, j)
			}
		}
		if variance < 0 {
			variance = -variance
		}
		budgets[cluster] = budgetFrac * math.Sqrt(variance)
	}
	return budgets
}

// clusterPenalty adds the φ-scaled per-cluster tracking error penalties:
// φ = Σw_cluster / Σw_mkt_cluster keeps the constraint about composition
// inside the cluster rather than the cluster's total size.
func (o *DynamicOptimizer) clusterPenalty(w []float64, budgets map[string]float64, pen float64) float64 {
	var total float64
	for cluster, budget := range budgets {
		idxs := o.model.ClusterIndices(cluster)

		mktSum := 0.0
		wSum := 0.0
		for _, i := range idxs {
			mktSum += o.model.MarketWeights[i]
			wSum += w[i]
		}
		phi := 1.0
		if mktSum > 1e-10 {
			phi = wSum / mktSum
		}

		teVar := 0.0
		for _, i := range idxs {
			ai := w[i] - phi*o.model.MarketWeights[i]
			for _, j := range idxs {
				aj := w[j] - phi*o.model.MarketWeights[j]
				teVar += ai * aj * o.activeCov.At(i, j)
			}
		}
		if teVar < 0 {
			teVar = -teVar
		}
		te := math.Sqrt(teVar)
		if te > budget {
			v := (te - budget) / math.Max(budget, 1e-6)
			total += pen * v * v
		}
	}
	return total
}

// starts builds the multi-start schedule in the free-variable space:
// equilibrium, a perturbed equilibrium, a return-rank tilt, and a softer
// tilt with tight tolerance.
func (o *DynamicOptimizer) starts(equilibrium, expectedReturns []float64, free []int, sumTarget float64) []start {
	n := len(equilibrium)
	rng := rand.New(rand.NewSource(o.params.MultiStartSeed))

	ranks := returnRanks(expectedReturns)

	perturbed := make([]float64, n)
	for i := range perturbed {
		perturbed[i] = math.Max(0, equilibrium[i]+rng.NormFloat64()*0.02)
	}
	perturbed = formulas.NormalizeWeights(perturbed)

	tilt := func(scale float64) []float64 {
		w := make([]float64, n)
		for i := range w {
			w[i] = math.Max(0, equilibrium[i]+scale*ranks[i]/math.Max(1, float64(n-1)))
		}
		return formulas.NormalizeWeights(w)
	}

	project := func(full []float64) []float64 {
		x := make([]float64, len(free))
		sum := 0.0
		for pos, i := range free {
			x[pos] = full[i]
			sum += full[i]
		}
		if sum > 1e-12 {
			for pos := range x {
				x[pos] *= sumTarget / sum
			}
		} else {
			for pos := range x {
				x[pos] = sumTarget / float64(len(free))
			}
		}
		return x
	}

	eq := make([]float64, n)
	copy(eq, equilibrium)

	starts := []start{
		{initial: project(eq), tol: o.params.ConvergenceTol},
		{initial: project(perturbed), tol: o.params.ConvergenceTol},
		{initial: project(tilt(0.05)), tol: o.params.ConvergenceTol},
		{initial: project(tilt(0.03)), tol: o.params.TightConvergeTol},
	}
	if o.params.NumAttempts < len(starts) {
		starts = starts[:o.params.NumAttempts]
	}
	return starts
}

func (o *DynamicOptimizer) buildResult(weights, equilibrium, expectedReturns []float64, obj float64) *DynamicResult {
	n := len(weights)
	active := make([]float64, n)
	for i := range weights {
		active[i] = weights[i] - equilibrium[i]
	}

	res := &DynamicResult{
		Weights:               weights,
		ExpectedReturn:        formulas.WeightedSum(weights, expectedReturns),
		Volatility:            formulas.PortfolioRisk(weights, o.baseCov),
		TrackingError:         formulas.PortfolioRisk(active, o.activeCov),
		ClusterWeights:        make(map[string]float64),
		ClusterActiveWeights:  make(map[string]float64),
		ClusterTrackingErrors: make(map[string]float64),
		Objective:             obj,
	}

	for _, cluster := range o.model.ClusterNames {
		idxs := o.model.ClusterIndices(cluster)
		wSum, eqSum := 0.0, 0.0
		for _, i := range idxs {
			wSum += weights[i]
			eqSum += equilibrium[i]
		}
		res.ClusterWeights[cluster] = wSum
		res.ClusterActiveWeights[cluster] = wSum - eqSum

		if len(idxs) > 1 {
			te := 0.0
			for _, i := range idxs {
				for _, j := range idxs {
					te += active[i] * active[j] * o.activeCov.At(i, j)
				}
			}
			if te < 0 {
				te = -te
			}
			res.ClusterTrackingErrors[cluster] = math.Sqrt(te)
		} else {
			res.ClusterTrackingErrors[cluster] = 0
		}
	}

	o.log.Debug().
		Float64("expected_return", res.ExpectedReturn).
		Float64("volatility", res.Volatility).
		Float64("tracking_error", res.TrackingError).
		Msg("Dynamic optimization complete")

	return res
}

// returnRanks maps each asset to its 0-based rank by expected return.
func returnRanks(returns []float64) []float64 {
	n := len(returns)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return returns[order[a]] < returns[order[b]] })

	ranks := make([]float64, n)
	for rank, idx := range order {
		ranks[idx] = float64(rank)
	}
	return ranks
}

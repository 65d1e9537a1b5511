// Package managers implements the manager selection layer. Within each
// asset class it blends manager alpha convictions into posterior alphas
// and runs a mean-variance optimization over the candidate managers,
// steering the resulting portfolio toward the tracking error budget
// handed down by the active risk layer.
package managers

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/meridianquant/allocator/internal/config"
	"github.com/meridianquant/allocator/internal/dataset"
	"github.com/meridianquant/allocator/internal/modules/blacklitterman"
	"github.com/meridianquant/allocator/internal/modules/riskmodel"
	"github.com/meridianquant/allocator/pkg/formulas"
)

// defaultManagerCorrelation is assumed between managers in the same
// asset class when no correlation matrix is supplied.
const defaultManagerCorrelation = 0.5

// ClassSelection is the outcome for a single asset class.
type ClassSelection struct {
	// Weights allocates the class's active sleeve across managers.
	Weights map[string]float64
	// BlendedTE is the weight-averaged expected tracking error.
	BlendedTE float64
	// AchievedTE is the optimizer portfolio's tracking error under the
	// manager correlation structure.
	AchievedTE float64
	// TargetTE is the per-class budget from the active risk layer, zero
	// when none was provided.
	TargetTE float64
}

// Result maps asset classes to their manager selections.
type Result struct {
	Selections map[string]ClassSelection
	// ActiveTEs and ActiveVols are per-class blended metrics handed to
	// the portfolio aggregation layer. Active volatility uses the
	// blended TE as a proxy.
	ActiveTEs  map[string]float64
	ActiveVols map[string]float64
}

// Selector runs manager selection.
type Selector struct {
	params    config.Params
	blender   *blacklitterman.Blender
	sanitizer *riskmodel.Sanitizer
	log       zerolog.Logger
}

// NewSelector creates a manager Selector.
func NewSelector(params config.Params, log zerolog.Logger) *Selector {
	return &Selector{
		params:    params,
		blender:   blacklitterman.NewBlender(params.Tau, log),
		sanitizer: riskmodel.NewSanitizer(params.MinEigenvalue, params.MatrixRegularizer, log),
		log:       log.With().Str("component", "manager_selection").Logger(),
	}
}

// Select allocates within each asset class that has manager candidates.
// targetTEs may be nil; classes absent from it are optimized without a
// tracking error target.
func (s *Selector) Select(
	ctx context.Context,
	candidates map[string][]dataset.ManagerCandidate,
	correlations map[string][][]float64,
	targetTEs map[string]float64,
) (*Result, error) {
	res := &Result{
		Selections: make(map[string]ClassSelection),
		ActiveTEs:  make(map[string]float64),
		ActiveVols: make(map[string]float64),
	}

	classes := make([]string, 0, len(candidates))
	for ac := range candidates {
		classes = append(classes, ac)
	}
	sort.Strings(classes)

	for _, ac := range classes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mgrs := candidates[ac]
		if len(mgrs) == 0 {
			continue
		}

		sel, err := s.selectClass(ac, mgrs, correlations[ac], targetTEs[ac])
		if err != nil {
			return nil, fmt.Errorf("manager selection for %s: %w", ac, err)
		}
		res.Selections[ac] = *sel
		res.ActiveTEs[ac] = sel.BlendedTE
		res.ActiveVols[ac] = sel.BlendedTE
	}

	return res, nil
}

func (s *Selector) selectClass(
	assetClass string,
	mgrs []dataset.ManagerCandidate,
	corr [][]float64,
	targetTE float64,
) (*ClassSelection, error) {
	n := len(mgrs)
	if n == 1 {
		m := mgrs[0]
		return &ClassSelection{
			Weights:    map[string]float64{m.ID: 1.0},
			BlendedTE:  m.ExpectedTE,
			AchievedTE: m.ExpectedTE,
			TargetTE:   targetTE,
		}, nil
	}

	cov, err := s.managerCovariance(assetClass, mgrs, corr)
	if err != nil {
		return nil, err
	}

	prior := make([]float64, n)
	views := make([]float64, n)
	conf := make([]float64, n)
	for i, m := range mgrs {
		views[i] = m.ExpectedIR * m.ExpectedTE
		conf[i] = m.Confidence
	}
	posterior, err := s.blender.Posterior(prior, views, conf, cov)
	if err != nil {
		return nil, fmt.Errorf("posterior manager alphas: %w", err)
	}

	weights, err := s.optimizeWeights(posterior, cov, targetTE)
	if err != nil {
		return nil, err
	}

	sel := &ClassSelection{
		Weights:    make(map[string]float64, n),
		AchievedTE: formulas.PortfolioRisk(weights, cov),
		TargetTE:   targetTE,
	}
	totalW, totalTE := 0.0, 0.0
	for i, m := range mgrs {
		sel.Weights[m.ID] = weights[i]
		if weights[i] > 0 {
			totalW += weights[i]
			totalTE += weights[i] * m.ExpectedTE
		}
	}
	if totalW > 0 {
		sel.BlendedTE = totalTE / totalW
	}

	ev := s.log.Debug().
		Str("asset_class", assetClass).
		Int("managers", n).
		Float64("blended_te", sel.BlendedTE)
	if targetTE > 0 {
		ev = ev.Float64("target_te", targetTE).Float64("achieved_te", sel.AchievedTE)
	}
	ev.Msg("Manager weights optimized")

	return sel, nil
}

// managerCovariance builds the manager active return covariance from
// expected tracking errors and the pairwise correlation matrix,
// defaulting missing correlations to 0.5.
func (s *Selector) managerCovariance(
	assetClass string,
	mgrs []dataset.ManagerCandidate,
	corr [][]float64,
) (*mat.SymDense, error) {
	n := len(mgrs)
	if corr == nil {
		s.log.Warn().
			Str("asset_class", assetClass).
			Float64("default_correlation", defaultManagerCorrelation).
			Msg("No manager correlation matrix provided, using default")
	}

	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			c := defaultManagerCorrelation
			if i == j {
				c = 1.0
			} else if corr != nil {
				c = 0.5 * (corr[i][j] + corr[j][i])
			}
			cov.SetSym(i, j, c*mgrs[i].ExpectedTE*mgrs[j].ExpectedTE)
		}
	}
	return s.sanitizer.Sanitize(cov, fmt.Sprintf("%s manager covariance", assetClass))
}

// optimizeWeights maximizes w'α − (κ/2)·w'Σw with a soft penalty pulling
// the portfolio tracking error toward the target when one is set.
// Weights are bounded to [0, 1] and sum to one.
func (s *Selector) optimizeWeights(alphas []float64, cov *mat.SymDense, targetTE float64) ([]float64, error) {
	n := len(alphas)
	kappa := s.params.RiskAversion
	tePen := s.params.TEPenaltyWeight
	pen := s.params.PenaltyWeight

	objective := func(x []float64) float64 {
		w := make([]float64, n)
		sum := 0.0
		for i := range x {
			w[i] = math.Max(0, math.Min(1, x[i]))
			sum += w[i]
		}

		variance := math.Abs(formulas.QuadraticForm(w, cov))
		utility := -kappa / 2 * variance
		for i := range w {
			utility += w[i] * alphas[i]
		}
		if targetTE > 0 {
			dev := math.Sqrt(variance) - targetTE
			utility -= tePen * dev * dev
		}
		return -utility + pen*(sum-1.0)*(sum-1.0)
	}

	initial := make([]float64, n)
	for i := range initial {
		initial[i] = 1.0 / float64(n)
	}

	problem := optimize.Problem{Func: objective}
	settings := &optimize.Settings{
		MajorIterations: s.params.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   s.params.ConvergenceTol,
			Iterations: 100,
		},
	}

	result, err := optimize.Minimize(problem, initial, settings, &optimize.NelderMead{})
	if err != nil || !converged(result.Status) {
		result, err = optimize.Minimize(problem, initial, settings, &optimize.BFGS{})
		if err != nil {
			return nil, fmt.Errorf("manager weight optimization failed: %w", err)
		}
		if !converged(result.Status) {
			return nil, fmt.Errorf("manager weight optimization did not converge: status=%v", result.Status)
		}
	}

	weights := make([]float64, n)
	total := 0.0
	for i := range result.X {
		weights[i] = math.Max(0, math.Min(1, result.X[i]))
		total += weights[i]
	}
	if total <= 0 {
		return nil, fmt.Errorf("manager weight optimization produced a zero portfolio")
	}
	for i := range weights {
		weights[i] /= total
	}
	return weights, nil
}

func converged(status optimize.Status) bool {
	switch status {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence:
		return true
	}
	return false
}

package saa

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/meridianquant/allocator/internal/config"
	"github.com/meridianquant/allocator/internal/dataset"
	"github.com/meridianquant/allocator/internal/modules/riskmodel"
)

// Diagnostics carries numerical health indicators for one profile run.
type Diagnostics struct {
	BaseConditionNumber   float64
	ActiveConditionNumber float64
}

// ProfileResult is the outcome for a single risk profile. A failed
// profile carries Err and nil portfolios; sibling profiles in the same
// batch are unaffected.
type ProfileResult struct {
	Profile   string
	TargetVol float64

	Equilibrium *EquilibriumResult
	Dynamic     *DynamicResult
	Diagnostics Diagnostics

	Err error
}

// Service runs the strategic asset allocation layer for every risk
// profile in a dataset.
type Service struct {
	params    config.Params
	sanitizer *riskmodel.Sanitizer
	log       zerolog.Logger
}

// NewService creates the SAA batch service.
func NewService(params config.Params, log zerolog.Logger) *Service {
	return &Service{
		params:    params,
		sanitizer: riskmodel.NewSanitizer(params.MinEigenvalue, params.MatrixRegularizer, log),
		log:       log.With().Str("component", "saa_service").Logger(),
	}
}

// OptimizeAll runs equilibrium and dynamic optimization for every risk
// profile. Shared inputs (covariances, cluster model) are validated once
// up front; a failure there aborts the whole batch, while a per-profile
// optimization failure only marks that profile.
func (s *Service) OptimizeAll(ctx context.Context, ds *dataset.Dataset) ([]ProfileResult, error) {
	baseCov, activeCov, err := s.Covariances(ds)
	if err != nil {
		return nil, err
	}

	model, err := NewClusterModel(ds.AssetClasses, ds.Clusters, ds.MarketWeights, baseCov)
	if err != nil {
		return nil, fmt.Errorf("failed to build cluster model: %w", err)
	}

	diag := Diagnostics{}
	if cond, err := riskmodel.ConditionNumber(baseCov); err == nil {
		diag.BaseConditionNumber = cond
	}
	if cond, err := riskmodel.ConditionNumber(activeCov); err == nil {
		diag.ActiveConditionNumber = cond
	}

	equilibriumOpt := NewEquilibriumOptimizer(model, baseCov, s.params, s.log)
	dynamicOpt := NewDynamicOptimizer(model, baseCov, activeCov, s.params, s.log)

	profiles := make([]string, 0, len(ds.RiskProfiles))
	for name := range ds.RiskProfiles {
		profiles = append(profiles, name)
	}
	sort.Strings(profiles)

	results := make([]ProfileResult, 0, len(profiles))
	for _, profile := range profiles {
		targetVol := ds.RiskProfiles[profile]
		res := ProfileResult{Profile: profile, TargetVol: targetVol, Diagnostics: diag}

		eq, err := equilibriumOpt.Optimize(ctx, targetVol)
		if err != nil {
			res.Err = fmt.Errorf("profile %s: %w", profile, err)
			s.log.Error().Err(res.Err).Str("profile", profile).Msg("Equilibrium layer failed")
			results = append(results, res)
			continue
		}
		res.Equilibrium = eq

		dyn, err := dynamicOpt.Optimize(ctx, eq.Weights, ds.ExpectedReturns)
		if err != nil {
			res.Err = fmt.Errorf("profile %s: %w", profile, err)
			s.log.Error().Err(res.Err).Str("profile", profile).Msg("Dynamic layer failed")
			results = append(results, res)
			continue
		}
		res.Dynamic = dyn

		s.log.Info().
			Str("profile", profile).
			Float64("target_vol", targetVol).
			Float64("equilibrium_vol", eq.Volatility).
			Float64("dynamic_return", dyn.ExpectedReturn).
			Float64("tracking_error", dyn.TrackingError).
			Msg("Risk profile optimized")
		results = append(results, res)
	}

	return results, nil
}

// Covariances assembles and sanitizes the base and active covariance
// matrices from the dataset's volatility vectors and correlation
// matrices. Downstream layers reuse the active covariance to derive
// asset-class correlations for portfolio aggregation.
func (s *Service) Covariances(ds *dataset.Dataset) (*mat.SymDense, *mat.SymDense, error) {
	base, err := buildCovariance(ds.EquilibriumVols, ds.EquilibriumCorrelation)
	if err != nil {
		return nil, nil, fmt.Errorf("equilibrium covariance: %w", err)
	}
	active, err := buildCovariance(ds.ActiveVols, ds.ActiveCorrelation)
	if err != nil {
		return nil, nil, fmt.Errorf("active covariance: %w", err)
	}

	base, err = s.sanitizer.Sanitize(base, "equilibrium covariance")
	if err != nil {
		return nil, nil, err
	}
	active, err = s.sanitizer.Sanitize(active, "active covariance")
	if err != nil {
		return nil, nil, err
	}
	return base, active, nil
}

func buildCovariance(vols []float64, corr [][]float64) (*mat.SymDense, error) {
	n := len(vols)
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, 0.5*(corr[i][j]+corr[j][i]))
		}
	}
	return riskmodel.CovarianceFromVols(vols, sym)
}

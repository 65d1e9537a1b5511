package main

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianquant/allocator/internal/config"
	"github.com/meridianquant/allocator/internal/dataset"
	"github.com/meridianquant/allocator/internal/modules/activerisk"
	"github.com/meridianquant/allocator/internal/modules/portfolio"
	"github.com/meridianquant/allocator/internal/modules/riskmodel"
	"github.com/meridianquant/allocator/internal/modules/saa"
)

func testPipelineDataset() *dataset.Dataset {
	return &dataset.Dataset{
		AssetClasses:    []string{"us_equity", "intl_equity"},
		ExpectedReturns: []float64{0.085, 0.075},
		MarketWeights:   []float64{0.6, 0.4},
		EquilibriumVols: []float64{0.18, 0.20},
		EquilibriumCorrelation: [][]float64{
			{1.0, 0.9},
			{0.9, 1.0},
		},
		ActiveVols: []float64{0.20, 0.25},
		ActiveCorrelation: [][]float64{
			{1.0, 0.9},
			{0.9, 1.0},
		},
		PassiveVols: map[string]float64{"us_equity": 0.16, "intl_equity": 0.16},
	}
}

func testPipelineProfile() saa.ProfileResult {
	return saa.ProfileResult{
		Profile:     "RP3",
		Equilibrium: &saa.EquilibriumResult{Weights: []float64{0.49, 0.49}},
		Dynamic:     &saa.DynamicResult{Weights: []float64{0.49, 0.49}},
	}
}

func TestPortfolioInputsCarryCovarianceDerivedCorrelation(t *testing.T) {
	ds := testPipelineDataset()
	// No conviction correlation was supplied, so the correlation must be
	// derived from the active covariance rather than falling back to identity.
	require.Nil(t, ds.ActiveReturnCorrelation)

	service := saa.NewService(config.Default(), zerolog.Nop())
	_, activeCov, err := service.Covariances(ds)
	require.NoError(t, err)

	corr := correlationRows(riskmodel.CorrelationFromCovariance(activeCov))
	in := portfolioInputs(ds, testPipelineProfile(), &activerisk.Result{}, nil, nil, corr, 0)

	require.Len(t, in.ActiveCorrelation, 2)
	assert.InDelta(t, 1.0, in.ActiveCorrelation[0][0], 1e-9)
	assert.InDelta(t, 1.0, in.ActiveCorrelation[1][1], 1e-9)
	assert.InDelta(t, 0.9, in.ActiveCorrelation[0][1], 1e-6)
	assert.InDelta(t, 0.9, in.ActiveCorrelation[1][0], 1e-6)
}

func TestPortfolioVolatilityUsesDerivedCorrelation(t *testing.T) {
	ds := testPipelineDataset()
	service := saa.NewService(config.Default(), zerolog.Nop())
	_, activeCov, err := service.Covariances(ds)
	require.NoError(t, err)
	corr := correlationRows(riskmodel.CorrelationFromCovariance(activeCov))

	agg := portfolio.NewAggregator(zerolog.Nop())
	in := portfolioInputs(ds, testPipelineProfile(), &activerisk.Result{}, nil, nil, corr, 0)

	metrics, err := agg.Metrics(in)
	require.NoError(t, err)

	// Two 0.49-weight classes at 16% vol with ρ = 0.9.
	w, v, rho := 0.49, 0.16, corr[0][1]
	want := math.Sqrt(2*w*w*v*v + 2*w*w*v*v*rho)
	assert.InDelta(t, want, metrics.ExpectedVolatility, 1e-9)

	// With the correlation dropped the cross term vanishes, understating risk.
	identity := in
	identity.ActiveCorrelation = nil
	uncorrelated, err := agg.Metrics(identity)
	require.NoError(t, err)
	assert.Greater(t, metrics.ExpectedVolatility, uncorrelated.ExpectedVolatility)
}

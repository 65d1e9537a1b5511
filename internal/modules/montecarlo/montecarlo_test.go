package montecarlo

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestDefaultMarketAssumptions(t *testing.T) {
	m := DefaultMarketAssumptions()
	assert.Len(t, m.Order(), 8)

	bonds, ok := m.Class("us_bonds")
	require.True(t, ok)
	assert.InDelta(t, 0.04, bonds.ExpectedReturn, 1e-12)
	assert.InDelta(t, 0.06, bonds.Volatility, 1e-12)
}

func TestNewMarketAssumptionsRejectsBadInput(t *testing.T) {
	classes := map[string]AssetClassAssumption{
		"a": {Name: "a", ExpectedReturn: 0.05, Volatility: 0.10},
	}
	corr := mat.NewSymDense(1, []float64{1})

	_, err := NewMarketAssumptions(classes, []string{"a", "b"}, mat.NewSymDense(2, []float64{1, 0, 0, 1}))
	assert.Error(t, err, "missing class")

	bad := mat.NewSymDense(1, []float64{0.9})
	_, err = NewMarketAssumptions(classes, []string{"a"}, bad)
	assert.Error(t, err, "diagonal not one")

	classes["a"] = AssetClassAssumption{Name: "a", ExpectedReturn: 0.05, Volatility: -0.1}
	_, err = NewMarketAssumptions(classes, []string{"a"}, corr)
	assert.Error(t, err, "negative volatility")
}

func TestAccountParamsSixtyForty(t *testing.T) {
	calc, err := NewParamsCalculator(DefaultMarketAssumptions())
	require.NoError(t, err)

	p := calc.AccountParams("acct", map[string]float64{
		"us_large_cap": 0.6,
		"us_bonds":     0.4,
	})
	assert.InDelta(t, 0.076, p.ExpectedReturn, 1e-12)
	assert.Greater(t, p.Volatility, 0.0)
	assert.Less(t, p.Volatility, 0.18)
}

func TestAccountParamsSingleAssetClass(t *testing.T) {
	calc, err := NewParamsCalculator(DefaultMarketAssumptions())
	require.NoError(t, err)

	p := calc.AccountParams("acct", map[string]float64{"us_bonds": 1.0})
	assert.InDelta(t, 0.04, p.ExpectedReturn, 1e-12)
	assert.InDelta(t, 0.06, p.Volatility, 1e-9)
}

func TestParamsCalculatorRequiresAssumptions(t *testing.T) {
	_, err := NewParamsCalculator(nil)
	assert.Error(t, err)
}

func TestCorrelationIdenticalAllocations(t *testing.T) {
	calc, err := NewParamsCalculator(DefaultMarketAssumptions())
	require.NoError(t, err)

	alloc := map[string]float64{"us_large_cap": 0.7, "us_bonds": 0.3}
	reg := NewRegistry()
	reg.Register(&InvestmentAccount{ID: "a", Value: 100, Allocation: alloc})
	reg.Register(&InvestmentAccount{ID: "b", Value: 200, Allocation: alloc})

	corr, order, params, err := calc.CorrelationMatrix(reg)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, order)
	assert.InDelta(t, params[0].Volatility, params[1].Volatility, 1e-12)
	// Identical allocations are perfectly correlated.
	assert.InDelta(t, 1.0, corr.At(0, 1), 1e-9)
}

func TestCorrelationZeroVolatilityAccount(t *testing.T) {
	calc, err := NewParamsCalculator(DefaultMarketAssumptions())
	require.NoError(t, err)

	reg := NewRegistry()
	reg.Register(&InvestmentAccount{ID: "stocks", Value: 100, Allocation: map[string]float64{"us_large_cap": 1}})
	reg.Register(&InvestmentAccount{ID: "empty", Value: 100, Allocation: map[string]float64{}})

	corr, _, _, err := calc.CorrelationMatrix(reg)
	require.NoError(t, err)
	assert.Zero(t, corr.At(0, 1))
}

func TestEnsurePositiveDefiniteRepairs(t *testing.T) {
	// Correlations above 1 make this indefinite.
	bad := mat.NewSymDense(3, []float64{
		1.0, 0.99, -0.99,
		0.99, 1.0, 0.99,
		-0.99, 0.99, 1.0,
	})
	repaired := ensurePositiveDefinite(bad)

	var chol mat.Cholesky
	assert.True(t, chol.Factorize(repaired))
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 1.0, repaired.At(i, i), 1e-9)
	}
}

func TestEnsurePositiveDefiniteLeavesGoodMatrix(t *testing.T) {
	good := mat.NewSymDense(2, []float64{1, 0.5, 0.5, 1})
	repaired := ensurePositiveDefinite(good)
	assert.InDelta(t, 0.5, repaired.At(0, 1), 1e-12)
}

func TestReturnGeneratorReproducible(t *testing.T) {
	params := []AccountParams{
		{AccountID: "a", ExpectedReturn: 0.08, Volatility: 0.15},
		{AccountID: "b", ExpectedReturn: 0.06, Volatility: 0.10},
	}
	corr := mat.NewSymDense(2, []float64{1, 0.7, 0.7, 1})

	first, err := NewReturnGenerator(params, corr, []string{"a", "b"}, 42)
	require.NoError(t, err)
	second, err := NewReturnGenerator(params, corr, []string{"a", "b"}, 42)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		r1 := first.YearlyReturns()
		r2 := second.YearlyReturns()
		assert.InDelta(t, r1["a"], r2["a"], 1e-15)
		assert.InDelta(t, r1["b"], r2["b"], 1e-15)
	}
}

func TestReturnGeneratorMomentsConverge(t *testing.T) {
	params := []AccountParams{{AccountID: "a", ExpectedReturn: 0.08, Volatility: 0.15}}
	corr := mat.NewSymDense(1, []float64{1})

	gen, err := NewReturnGenerator(params, corr, []string{"a"}, 7)
	require.NoError(t, err)

	const samples = 10000
	sum, sumSq := 0.0, 0.0
	for i := 0; i < samples; i++ {
		r := gen.YearlyReturns()["a"]
		sum += r
		sumSq += r * r
	}
	mean := sum / samples
	std := math.Sqrt(sumSq/samples - mean*mean)

	assert.InDelta(t, 0.08, mean, 0.01)
	assert.InDelta(t, 0.15, std, 0.01)
}

func TestReturnGeneratorRejectsIndefiniteMatrix(t *testing.T) {
	params := []AccountParams{
		{AccountID: "a", ExpectedReturn: 0.08, Volatility: 0.15},
		{AccountID: "b", ExpectedReturn: 0.06, Volatility: 0.10},
	}
	bad := mat.NewSymDense(2, []float64{1, 1.5, 1.5, 1})

	_, err := NewReturnGenerator(params, bad, []string{"a", "b"}, 1)
	assert.Error(t, err)
}

func TestRegistryOrderAndReplace(t *testing.T) {
	reg := NewRegistry()
	assert.True(t, reg.Register(&InvestmentAccount{ID: "a", Value: 1, Allocation: map[string]float64{"cash": 1}}))
	assert.True(t, reg.Register(&InvestmentAccount{ID: "b", Value: 2, Allocation: map[string]float64{"cash": 1}}))
	assert.False(t, reg.Register(&InvestmentAccount{ID: "c", Value: 3}))

	assert.Equal(t, []string{"a", "b"}, reg.IDs())
	assert.Equal(t, 2, reg.Len())
	assert.InDelta(t, 3.0, reg.TotalBalance(), 1e-12)

	// Re-registering replaces in place without changing order.
	reg.Register(&InvestmentAccount{ID: "a", Value: 10, Allocation: map[string]float64{"cash": 1}})
	assert.Equal(t, []string{"a", "b"}, reg.IDs())
	assert.InDelta(t, 12.0, reg.TotalBalance(), 1e-12)

	assert.True(t, reg.Unregister("a"))
	assert.False(t, reg.Unregister("a"))
	assert.Equal(t, []string{"b"}, reg.IDs())
}

func TestInvestmentAccountApplyReturn(t *testing.T) {
	acct := &InvestmentAccount{ID: "a", Value: 1000, Allocation: map[string]float64{"cash": 1}}
	growth := acct.ApplyStochasticReturn(0.10)
	assert.InDelta(t, 100.0, growth, 1e-9)
	assert.InDelta(t, 1100.0, acct.Balance(), 1e-9)
}

func testRegistryFactory() *Registry {
	reg := NewRegistry()
	reg.Register(&InvestmentAccount{
		ID:    "brokerage",
		Value: 500_000,
		Allocation: map[string]float64{
			"us_large_cap": 0.5,
			"us_bonds":     0.4,
			"cash":         0.1,
		},
	})
	reg.Register(&InvestmentAccount{
		ID:    "retirement",
		Value: 250_000,
		Allocation: map[string]float64{
			"us_large_cap":   0.3,
			"intl_developed": 0.3,
			"us_bonds":       0.4,
		},
	})
	return reg
}

func TestSimulatorRun(t *testing.T) {
	sim, err := NewSimulator(DefaultMarketAssumptions(), Config{NumPaths: 50, Years: 10, Seed: 1}, zerolog.Nop())
	require.NoError(t, err)

	res, err := sim.Run(context.Background(), testRegistryFactory)
	require.NoError(t, err)
	assert.Equal(t, 50, res.NumPaths())
	assert.Equal(t, 10, res.Years())

	for _, v := range res.FinalValues() {
		assert.Greater(t, v, 0.0)
	}
}

func TestSimulatorDeterministicAcrossRuns(t *testing.T) {
	cfg := Config{NumPaths: 20, Years: 5, Seed: 99}
	run := func() []float64 {
		sim, err := NewSimulator(DefaultMarketAssumptions(), cfg, zerolog.Nop())
		require.NoError(t, err)
		res, err := sim.Run(context.Background(), testRegistryFactory)
		require.NoError(t, err)
		return res.FinalValues()
	}

	first := run()
	second := run()
	for i := range first {
		assert.InDelta(t, first[i], second[i], 1e-9)
	}
}

func TestSimulatorConfigValidation(t *testing.T) {
	_, err := NewSimulator(DefaultMarketAssumptions(), Config{NumPaths: 0, Years: 10}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewSimulator(DefaultMarketAssumptions(), Config{NumPaths: 10, Years: 0}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewSimulator(nil, Config{NumPaths: 10, Years: 10}, zerolog.Nop())
	assert.Error(t, err)
}

func TestSimulatorCanceledContext(t *testing.T) {
	sim, err := NewSimulator(DefaultMarketAssumptions(), Config{NumPaths: 10, Years: 5, Seed: 1}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sim.Run(ctx, testRegistryFactory)
	assert.Error(t, err)
}

func TestResultsPercentileBands(t *testing.T) {
	paths := [][]float64{
		{100, 110},
		{90, 95},
		{120, 150},
		{80, 70},
	}
	res := NewResults(paths)
	bands := res.PercentileBands()

	require.Len(t, bands["p50"], 2)
	// Bands are monotone in the percentile level.
	for year := 0; year < 2; year++ {
		assert.LessOrEqual(t, bands["p5"][year], bands["p50"][year])
		assert.LessOrEqual(t, bands["p50"][year], bands["p95"][year])
	}
}

func TestResultsSuccessRate(t *testing.T) {
	paths := [][]float64{
		{100, 110}, // never below 100
		{90, 120},  // dips below, recovers
		{100, 50},  // final below
	}
	res := NewResults(paths)

	assert.InDelta(t, 1.0/3.0, res.SuccessRate(100, true), 1e-12)
	assert.InDelta(t, 2.0/3.0, res.SuccessRate(100, false), 1e-12)
}

func TestResultsFinalStatistics(t *testing.T) {
	res := NewResults([][]float64{{10}, {20}, {30}})
	stats := res.FinalStatistics()
	assert.InDelta(t, 20.0, stats.Mean, 1e-12)
	assert.InDelta(t, 10.0, stats.Min, 1e-12)
	assert.InDelta(t, 30.0, stats.Max, 1e-12)
}

func TestResultsEmpty(t *testing.T) {
	res := NewResults(nil)
	assert.Zero(t, res.NumPaths())
	assert.Zero(t, res.SuccessRate(0, true))
	assert.Empty(t, res.FinalValues())
}

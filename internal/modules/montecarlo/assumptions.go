// Package montecarlo simulates correlated investment account returns.
// Account-level return, volatility and correlation are derived from each
// account's asset allocation under a shared set of capital market
// assumptions; correlated paths are generated with a Cholesky transform.
package montecarlo

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// AssetClassAssumption holds the annual return and volatility assumption
// for one asset class, both as decimals.
type AssetClassAssumption struct {
	Name           string  `yaml:"name"`
	ExpectedReturn float64 `yaml:"expected_return"`
	Volatility     float64 `yaml:"volatility"`
}

// MarketAssumptions bundles per-class assumptions with the asset class
// correlation matrix. The covariance matrix is precomputed on
// construction.
type MarketAssumptions struct {
	classes map[string]AssetClassAssumption
	order   []string
	corr    *mat.SymDense
	cov     *mat.SymDense
}

// NewMarketAssumptions validates and assembles market assumptions. The
// correlation matrix rows follow the order slice.
func NewMarketAssumptions(
	classes map[string]AssetClassAssumption,
	order []string,
	corr *mat.SymDense,
) (*MarketAssumptions, error) {
	n := len(order)
	if n == 0 {
		return nil, fmt.Errorf("no asset classes provided")
	}
	if r, _ := corr.Dims(); r != n {
		return nil, fmt.Errorf("correlation matrix is %dx%d but there are %d asset classes", r, r, n)
	}

	for _, name := range order {
		a, ok := classes[name]
		if !ok {
			return nil, fmt.Errorf("asset class %q missing from assumptions", name)
		}
		if a.Volatility < 0 {
			return nil, fmt.Errorf("asset class %q has negative volatility %.4f", name, a.Volatility)
		}
	}
	for i := 0; i < n; i++ {
		if math.Abs(corr.At(i, i)-1.0) > 1e-9 {
			return nil, fmt.Errorf("correlation diagonal must be 1.0, got %.6f at %s", corr.At(i, i), order[i])
		}
		for j := i + 1; j < n; j++ {
			if c := corr.At(i, j); c < -1 || c > 1 {
				return nil, fmt.Errorf("correlation %.4f between %s and %s is outside [-1, 1]", c, order[i], order[j])
			}
		}
	}

	// Cov = diag(σ) · Corr · diag(σ).
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, corr.At(i, j)*classes[order[i]].Volatility*classes[order[j]].Volatility)
		}
	}

	m := &MarketAssumptions{
		classes: classes,
		order:   append([]string(nil), order...),
		corr:    corr,
		cov:     cov,
	}
	return m, nil
}

// DefaultMarketAssumptions returns the house view for the standard asset
// class set.
func DefaultMarketAssumptions() *MarketAssumptions {
	classes := map[string]AssetClassAssumption{
		"us_large_cap":     {Name: "us_large_cap", ExpectedReturn: 0.10, Volatility: 0.18},
		"us_small_cap":     {Name: "us_small_cap", ExpectedReturn: 0.12, Volatility: 0.22},
		"intl_developed":   {Name: "intl_developed", ExpectedReturn: 0.08, Volatility: 0.20},
		"emerging_markets": {Name: "emerging_markets", ExpectedReturn: 0.10, Volatility: 0.28},
		"us_bonds":         {Name: "us_bonds", ExpectedReturn: 0.04, Volatility: 0.06},
		"intl_bonds":       {Name: "intl_bonds", ExpectedReturn: 0.03, Volatility: 0.08},
		"reits":            {Name: "reits", ExpectedReturn: 0.09, Volatility: 0.20},
		"cash":             {Name: "cash", ExpectedReturn: 0.02, Volatility: 0.01},
	}
	order := []string{
		"us_large_cap", "us_small_cap", "intl_developed", "emerging_markets",
		"us_bonds", "intl_bonds", "reits", "cash",
	}
	corrRows := [][]float64{
		{1.00, 0.85, 0.75, 0.70, 0.10, 0.05, 0.60, 0.00},
		{0.85, 1.00, 0.70, 0.65, 0.05, 0.00, 0.65, 0.00},
		{0.75, 0.70, 1.00, 0.80, 0.15, 0.20, 0.55, 0.00},
		{0.70, 0.65, 0.80, 1.00, 0.10, 0.15, 0.50, 0.00},
		{0.10, 0.05, 0.15, 0.10, 1.00, 0.70, 0.20, 0.30},
		{0.05, 0.00, 0.20, 0.15, 0.70, 1.00, 0.15, 0.25},
		{0.60, 0.65, 0.55, 0.50, 0.20, 0.15, 1.00, 0.05},
		{0.00, 0.00, 0.00, 0.00, 0.30, 0.25, 0.05, 1.00},
	}
	corr := mat.NewSymDense(len(order), nil)
	for i := range corrRows {
		for j := i; j < len(order); j++ {
			corr.SetSym(i, j, corrRows[i][j])
		}
	}

	m, err := NewMarketAssumptions(classes, order, corr)
	if err != nil {
		// The default set is fixed, a failure here is a programming error.
		panic(fmt.Sprintf("default market assumptions invalid: %v", err))
	}
	return m
}

// Order returns the asset class names in matrix order.
func (m *MarketAssumptions) Order() []string {
	return append([]string(nil), m.order...)
}

// Class returns the assumption for one asset class.
func (m *MarketAssumptions) Class(name string) (AssetClassAssumption, bool) {
	a, ok := m.classes[name]
	return a, ok
}

// ReturnsVector returns expected returns in matrix order.
func (m *MarketAssumptions) ReturnsVector() []float64 {
	out := make([]float64, len(m.order))
	for i, name := range m.order {
		out[i] = m.classes[name].ExpectedReturn
	}
	return out
}

// VolatilitiesVector returns volatilities in matrix order.
func (m *MarketAssumptions) VolatilitiesVector() []float64 {
	out := make([]float64, len(m.order))
	for i, name := range m.order {
		out[i] = m.classes[name].Volatility
	}
	return out
}

// Covariance returns the precomputed asset class covariance matrix.
func (m *MarketAssumptions) Covariance() *mat.SymDense {
	return m.cov
}

// Correlation returns the asset class correlation matrix.
func (m *MarketAssumptions) Correlation() *mat.SymDense {
	return m.corr
}

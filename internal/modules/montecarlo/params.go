package montecarlo

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/meridianquant/allocator/pkg/formulas"
)

// minCorrelationEigenvalue floors eigenvalues when an account
// correlation matrix is not positive definite.
const minCorrelationEigenvalue = 1e-8

// AccountParams are the stochastic parameters derived for one account
// from its asset allocation.
type AccountParams struct {
	AccountID      string
	ExpectedReturn float64
	Volatility     float64
}

// ParamsCalculator derives account-level return, volatility and
// correlation from asset allocations under the market assumptions.
type ParamsCalculator struct {
	market *MarketAssumptions
}

// NewParamsCalculator creates a calculator. Market assumptions are
// mandatory.
func NewParamsCalculator(market *MarketAssumptions) (*ParamsCalculator, error) {
	if market == nil {
		return nil, fmt.Errorf("market assumptions are required")
	}
	return &ParamsCalculator{market: market}, nil
}

// AccountParams computes μ = wᵀr and σ = sqrt(wᵀΣw) for one account.
// Allocation entries for unknown asset classes are ignored; a partial
// allocation is used as-is.
func (c *ParamsCalculator) AccountParams(accountID string, allocation map[string]float64) AccountParams {
	w := c.allocationVector(allocation)

	variance := formulas.QuadraticForm(w, c.market.Covariance())
	return AccountParams{
		AccountID:      accountID,
		ExpectedReturn: formulas.WeightedSum(w, c.market.ReturnsVector()),
		Volatility:     math.Sqrt(math.Max(0, variance)),
	}
}

// CorrelationMatrix derives the account correlation matrix from the
// accounts' allocation overlap: ρᵢⱼ = wᵢᵀΣwⱼ / (σᵢσⱼ), with zero when
// either account has no volatility. The result is repaired to positive
// definite so Cholesky decomposition succeeds.
func (c *ParamsCalculator) CorrelationMatrix(registry *Registry) (*mat.SymDense, []string, []AccountParams, error) {
	ids := registry.IDs()
	n := len(ids)
	if n == 0 {
		return nil, nil, nil, fmt.Errorf("no accounts registered")
	}

	params := make([]AccountParams, n)
	weights := make([][]float64, n)
	for i, id := range ids {
		account, _ := registry.Account(id)
		alloc := account.AssetAllocation()
		params[i] = c.AccountParams(id, alloc)
		weights[i] = c.allocationVector(alloc)
	}

	cov := c.market.Covariance()
	corr := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		corr.SetSym(i, i, 1.0)
		for j := i + 1; j < n; j++ {
			denom := params[i].Volatility * params[j].Volatility
			if denom <= 0 {
				corr.SetSym(i, j, 0)
				continue
			}
			covIJ := 0.0
			for a := range weights[i] {
				for b := range weights[j] {
					covIJ += weights[i][a] * weights[j][b] * cov.At(a, b)
				}
			}
			corr.SetSym(i, j, covIJ/denom)
		}
	}

	repaired := ensurePositiveDefinite(corr)
	return repaired, ids, params, nil
}

func (c *ParamsCalculator) allocationVector(allocation map[string]float64) []float64 {
	order := c.market.Order()
	w := make([]float64, len(order))
	for i, name := range order {
		w[i] = allocation[name]
	}
	return w
}

// ensurePositiveDefinite returns the matrix unchanged when it already
// factorizes; otherwise eigenvalues are floored and the diagonal is
// renormalized back to exactly 1.
func ensurePositiveDefinite(corr *mat.SymDense) *mat.SymDense {
	var chol mat.Cholesky
	if chol.Factorize(corr) {
		return corr
	}

	n := corr.SymmetricDim()
	var eig mat.EigenSym
	if !eig.Factorize(corr, true) {
		return corr
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	for i := range values {
		if values[i] < minCorrelationEigenvalue {
			values[i] = minCorrelationEigenvalue
		}
	}

	adjusted := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := 0.0
			for k := 0; k < n; k++ {
				v += vectors.At(i, k) * values[k] * vectors.At(j, k)
			}
			adjusted.SetSym(i, j, v)
		}
	}

	scale := make([]float64, n)
	for i := range scale {
		scale[i] = math.Sqrt(adjusted.At(i, i))
	}
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, adjusted.At(i, j)/(scale[i]*scale[j]))
		}
	}
	return out
}

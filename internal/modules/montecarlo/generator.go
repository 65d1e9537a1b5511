package montecarlo

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// ReturnGenerator draws correlated annual returns for a fixed set of
// accounts. Each generator owns its random source so parallel paths do
// not share state.
type ReturnGenerator struct {
	params   map[string]AccountParams
	order    []string
	cholesky *mat.Cholesky
	rng      *rand.Rand
}

// NewReturnGenerator builds a generator from account parameters and the
// account correlation matrix. A matrix that cannot be Cholesky-factorized
// is a fatal input error.
func NewReturnGenerator(
	params []AccountParams,
	corr *mat.SymDense,
	order []string,
	seed int64,
) (*ReturnGenerator, error) {
	if len(params) != len(order) {
		return nil, fmt.Errorf("got %d account params for %d accounts", len(params), len(order))
	}

	var chol mat.Cholesky
	if !chol.Factorize(corr) {
		return nil, fmt.Errorf("account correlation matrix is not positive definite")
	}

	byID := make(map[string]AccountParams, len(params))
	for _, p := range params {
		byID[p.AccountID] = p
	}
	for _, id := range order {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("no parameters for account %q", id)
		}
	}

	return &ReturnGenerator{
		params:   byID,
		order:    append([]string(nil), order...),
		cholesky: &chol,
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

// YearlyReturns draws one year of correlated returns, keyed by account
// ID. Draws are transformed as z' = L·z and Rᵢ = μᵢ + σᵢ·z'ᵢ.
func (g *ReturnGenerator) YearlyReturns() map[string]float64 {
	n := len(g.order)
	if n == 0 {
		return map[string]float64{}
	}

	z := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		z.SetVec(i, g.rng.NormFloat64())
	}

	var l mat.TriDense
	g.cholesky.LTo(&l)
	correlated := mat.NewVecDense(n, nil)
	correlated.MulVec(&l, z)

	returns := make(map[string]float64, n)
	for i, id := range g.order {
		p := g.params[id]
		returns[id] = p.ExpectedReturn + p.Volatility*correlated.AtVec(i)
	}
	return returns
}

// MultiYearReturns draws the given number of years in sequence.
func (g *ReturnGenerator) MultiYearReturns(years int) []map[string]float64 {
	out := make([]map[string]float64, years)
	for i := range out {
		out[i] = g.YearlyReturns()
	}
	return out
}

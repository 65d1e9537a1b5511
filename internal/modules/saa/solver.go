package saa

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/optimize"
)

// start is one multi-start attempt: an initial point and the convergence
// tolerance to run it with.
type start struct {
	initial []float64
	tol     float64
}

type attemptResult struct {
	x   []float64
	obj float64
	err error
}

// minimizeWithRestarts runs the objective from every start in parallel and
// keeps the best converged solution. The reduce step walks attempts in
// order, so the outcome does not depend on goroutine scheduling.
func minimizeWithRestarts(
	ctx context.Context,
	objective func([]float64) float64,
	starts []start,
	maxIter int,
) ([]float64, float64, error) {
	if len(starts) == 0 {
		return nil, 0, fmt.Errorf("no starting points provided")
	}

	results := make([]attemptResult, len(starts))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range starts {
		i, s := i, s
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = attemptResult{err: err}
				return nil
			}
			x, obj, err := minimizeOnce(objective, s.initial, s.tol, maxIter)
			results[i] = attemptResult{x: x, obj: obj, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	bestIdx := -1
	bestObj := math.Inf(1)
	var firstErr error
	for i, r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		if r.obj < bestObj {
			bestIdx = i
			bestObj = r.obj
		}
	}
	if bestIdx < 0 {
		return nil, 0, fmt.Errorf("all %d optimization attempts failed: %w", len(starts), firstErr)
	}
	return results[bestIdx].x, bestObj, nil
}

// minimizeOnce solves a single unconstrained penalty problem, trying
// NelderMead first and falling back to BFGS with a finite-difference
// gradient when it fails to converge.
func minimizeOnce(
	objective func([]float64) float64,
	initial []float64,
	tol float64,
	maxIter int,
) ([]float64, float64, error) {
	problem := optimize.Problem{Func: objective}
	settings := &optimize.Settings{
		MajorIterations: maxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   tol,
			Iterations: 100,
		},
	}

	result, err := optimize.Minimize(problem, initial, settings, &optimize.NelderMead{})
	if err == nil && converged(result.Status) {
		return result.X, result.F, nil
	}

	result, err = optimize.Minimize(problem, initial, settings, &optimize.BFGS{})
	if err != nil {
		return nil, 0, fmt.Errorf("optimization failed: %w", err)
	}
	if !converged(result.Status) {
		return nil, 0, fmt.Errorf("optimization did not converge: status=%v", result.Status)
	}
	return result.X, result.F, nil
}

func converged(status optimize.Status) bool {
	switch status {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence:
		return true
	}
	return false
}

// projectToBounds clamps each weight to [lo, hi].
func projectToBounds(x []float64, lo, hi float64) []float64 {
	proj := make([]float64, len(x))
	for i := range x {
		proj[i] = math.Max(lo, math.Min(hi, x[i]))
	}
	return proj
}

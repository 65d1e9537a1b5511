package formulas

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// PortfolioRisk calculates portfolio volatility sqrt(w'Σw).
// Small negative quadratic forms from floating point noise are flipped
// to their absolute value before the square root.
func PortfolioRisk(weights []float64, cov mat.Symmetric) float64 {
	quad := QuadraticForm(weights, cov)
	if quad < 0 {
		quad = math.Abs(quad)
	}
	return math.Sqrt(quad)
}

// TrackingError calculates the tracking error sqrt((w-b)'Σ(w-b)) of a
// portfolio against a benchmark under the given covariance matrix.
func TrackingError(weights, benchmark []float64, cov mat.Symmetric) float64 {
	diff := make([]float64, len(weights))
	for i := range weights {
		diff[i] = weights[i] - benchmark[i]
	}
	return PortfolioRisk(diff, cov)
}

// QuadraticForm computes w'Σw.
func QuadraticForm(w []float64, cov mat.Symmetric) float64 {
	var quad float64
	for i := range w {
		for j := range w {
			quad += w[i] * w[j] * cov.At(i, j)
		}
	}
	return quad
}

// WeightedSum computes w'v.
func WeightedSum(w, v []float64) float64 {
	var sum float64
	for i := range w {
		sum += w[i] * v[i]
	}
	return sum
}

// NormalizeWeights scales weights so they sum to 1.0. Weights that sum
// to zero are returned unchanged.
func NormalizeWeights(weights []float64) []float64 {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum == 0 {
		return weights
	}
	normalized := make([]float64, len(weights))
	for i, w := range weights {
		normalized[i] = w / sum
	}
	return normalized
}

// Percentile returns the p-th percentile (0.0-1.0) of the data using the
// nearest-rank method over a sorted copy of the input.
func Percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

package montecarlo

import (
	"sort"

	"github.com/meridianquant/allocator/pkg/formulas"
)

// percentileLevels are the standard bands reported per year.
var percentileLevels = []struct {
	Name  string
	Level float64
}{
	{"p5", 0.05},
	{"p10", 0.10},
	{"p25", 0.25},
	{"p50", 0.50},
	{"p75", 0.75},
	{"p90", 0.90},
	{"p95", 0.95},
}

// Results aggregates simulated balance paths.
type Results struct {
	paths [][]float64
	years int
}

// NewResults wraps raw paths. All paths must have equal length.
func NewResults(paths [][]float64) *Results {
	years := 0
	if len(paths) > 0 {
		years = len(paths[0])
	}
	return &Results{paths: paths, years: years}
}

// NumPaths reports the number of simulated paths.
func (r *Results) NumPaths() int { return len(r.paths) }

// Years reports the simulation horizon.
func (r *Results) Years() int { return r.years }

// PercentileBands returns, for each band name, the balance value per
// year across paths.
func (r *Results) PercentileBands() map[string][]float64 {
	bands := make(map[string][]float64, len(percentileLevels))
	for _, pl := range percentileLevels {
		bands[pl.Name] = make([]float64, 0, r.years)
	}
	if len(r.paths) == 0 {
		return bands
	}

	yearly := make([]float64, len(r.paths))
	for year := 0; year < r.years; year++ {
		for i, path := range r.paths {
			yearly[i] = path[year]
		}
		for _, pl := range percentileLevels {
			bands[pl.Name] = append(bands[pl.Name], formulas.Percentile(yearly, pl.Level))
		}
	}
	return bands
}

// SuccessRate reports the fraction of paths whose balance stays at or
// above minBalance. With allYears, every year must clear the threshold;
// otherwise only the final year is checked.
func (r *Results) SuccessRate(minBalance float64, allYears bool) float64 {
	if len(r.paths) == 0 {
		return 0
	}
	successful := 0
	for _, path := range r.paths {
		ok := true
		if allYears {
			for _, b := range path {
				if b < minBalance {
					ok = false
					break
				}
			}
		} else {
			ok = path[len(path)-1] >= minBalance
		}
		if ok {
			successful++
		}
	}
	return float64(successful) / float64(len(r.paths))
}

// FinalValues returns the last-year balance of each path.
func (r *Results) FinalValues() []float64 {
	out := make([]float64, len(r.paths))
	for i, path := range r.paths {
		if len(path) > 0 {
			out[i] = path[len(path)-1]
		}
	}
	return out
}

// Statistics summarizes the final-year balances.
type Statistics struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
}

// FinalStatistics computes summary statistics over final balances.
func (r *Results) FinalStatistics() Statistics {
	values := r.FinalValues()
	if len(values) == 0 {
		return Statistics{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return Statistics{
		Mean:   formulas.Mean(values),
		StdDev: formulas.StdDev(values),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Median: formulas.Percentile(values, 0.5),
	}
}

// Package dataset defines the input contract for the allocation pipeline
// and the Monte Carlo engine. Everything is validated up front: any
// dimension mismatch is a fatal input error raised before optimization
// starts.
package dataset

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Conviction holds the forward-looking active management assumptions for
// one asset class. A zero ExpectedTE marks the class passive-only.
type Conviction struct {
	ExpectedTE float64 `yaml:"expected_tracking_error"`
	ExpectedIR float64 `yaml:"expected_information_ratio"`
	Confidence float64 `yaml:"confidence"`
}

// ManagerCandidate is one active manager considered for an asset class.
// Expected alpha is derived downstream as IR × TE.
type ManagerCandidate struct {
	ID         string  `yaml:"id"`
	ExpectedIR float64 `yaml:"expected_information_ratio"`
	ExpectedTE float64 `yaml:"expected_tracking_error"`
	Confidence float64 `yaml:"confidence"`
}

// Dataset is the full input to an optimization run.
type Dataset struct {
	AssetClasses []string          `yaml:"asset_classes"`
	Clusters     map[string]string `yaml:"clusters"`

	MarketWeights   []float64 `yaml:"market_weights"`
	ExpectedReturns []float64 `yaml:"expected_returns"`

	EquilibriumVols        []float64   `yaml:"equilibrium_vols"`
	EquilibriumCorrelation [][]float64 `yaml:"equilibrium_correlation"`
	ActiveVols             []float64   `yaml:"active_vols"`
	ActiveCorrelation      [][]float64 `yaml:"active_correlation"`

	// RiskProfiles maps profile names (RP1, RP2, ...) to target volatilities.
	RiskProfiles map[string]float64 `yaml:"risk_profiles"`

	// Layer 2 inputs. PassiveVols are the volatilities of the passive
	// vehicle per asset class; Convictions default to passive-only for
	// classes not listed.
	PassiveVols             map[string]float64    `yaml:"passive_vols"`
	Convictions             map[string]Conviction `yaml:"convictions"`
	ActiveReturnCorrelation [][]float64           `yaml:"active_return_correlation"`

	// Layer 3 inputs, keyed by asset class.
	Managers            map[string][]ManagerCandidate `yaml:"managers"`
	ManagerCorrelations map[string][][]float64        `yaml:"manager_correlations"`
}

// Load reads and validates a dataset from a YAML file.
func Load(path string) (*Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	var ds Dataset
	if err := yaml.Unmarshal(raw, &ds); err != nil {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}

	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return &ds, nil
}

// Validate checks every vector and matrix against the asset-class count.
func (ds *Dataset) Validate() error {
	n := len(ds.AssetClasses)
	if n == 0 {
		return fmt.Errorf("dataset has no asset classes")
	}

	seen := make(map[string]bool, n)
	for _, ac := range ds.AssetClasses {
		if seen[ac] {
			return fmt.Errorf("duplicate asset class %q", ac)
		}
		seen[ac] = true
	}

	for _, ac := range ds.AssetClasses {
		if _, ok := ds.Clusters[ac]; !ok {
			return fmt.Errorf("asset class %q has no cluster assignment", ac)
		}
	}

	vectors := map[string][]float64{
		"market_weights":   ds.MarketWeights,
		"expected_returns": ds.ExpectedReturns,
		"equilibrium_vols": ds.EquilibriumVols,
		"active_vols":      ds.ActiveVols,
	}
	for name, v := range vectors {
		if len(v) != n {
			return fmt.Errorf("%s has length %d, expected %d", name, len(v), n)
		}
	}

	matrices := map[string][][]float64{
		"equilibrium_correlation": ds.EquilibriumCorrelation,
		"active_correlation":      ds.ActiveCorrelation,
	}
	for name, m := range matrices {
		if err := validateSquare(name, m, n); err != nil {
			return err
		}
	}
	if ds.ActiveReturnCorrelation != nil {
		if err := validateSquare("active_return_correlation", ds.ActiveReturnCorrelation, n); err != nil {
			return err
		}
	}

	if len(ds.RiskProfiles) == 0 {
		return fmt.Errorf("dataset has no risk profiles")
	}
	for name, vol := range ds.RiskProfiles {
		if vol <= 0 {
			return fmt.Errorf("risk profile %q has non-positive target volatility %.4f", name, vol)
		}
	}

	for ac := range ds.Convictions {
		if !seen[ac] {
			return fmt.Errorf("conviction refers to unknown asset class %q", ac)
		}
	}
	for ac, candidates := range ds.Managers {
		if !seen[ac] {
			return fmt.Errorf("manager list refers to unknown asset class %q", ac)
		}
		ids := make(map[string]bool, len(candidates))
		for _, c := range candidates {
			if c.ID == "" {
				return fmt.Errorf("asset class %q has a manager with an empty id", ac)
			}
			if ids[c.ID] {
				return fmt.Errorf("asset class %q has duplicate manager id %q", ac, c.ID)
			}
			ids[c.ID] = true
		}
		if corr, ok := ds.ManagerCorrelations[ac]; ok {
			if err := validateSquare(fmt.Sprintf("manager_correlations[%s]", ac), corr, len(candidates)); err != nil {
				return err
			}
		}
	}

	return nil
}

// Conviction returns the conviction for an asset class, defaulting to
// passive-only when the class has no entry.
func (ds *Dataset) ConvictionFor(assetClass string) Conviction {
	if c, ok := ds.Convictions[assetClass]; ok {
		return c
	}
	return Conviction{}
}

func validateSquare(name string, m [][]float64, n int) error {
	if len(m) != n {
		return fmt.Errorf("%s has %d rows, expected %d", name, len(m), n)
	}
	for i, row := range m {
		if len(row) != n {
			return fmt.Errorf("%s row %d has %d columns, expected %d", name, i, len(row), n)
		}
	}
	return nil
}

package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDataset() *Dataset {
	return &Dataset{
		AssetClasses: []string{"global_equity", "global_bonds", "cash"},
		Clusters: map[string]string{
			"global_equity": "Equity",
			"global_bonds":  "Fixed Income",
			"cash":          "Liquidity",
		},
		MarketWeights:   []float64{0.55, 0.43, 0.02},
		ExpectedReturns: []float64{0.08, 0.04, 0.02},
		EquilibriumVols: []float64{0.18, 0.06, 0.01},
		EquilibriumCorrelation: [][]float64{
			{1.0, -0.1, 0.0},
			{-0.1, 1.0, 0.0},
			{0.0, 0.0, 1.0},
		},
		ActiveVols: []float64{0.20, 0.07, 0.01},
		ActiveCorrelation: [][]float64{
			{1.0, -0.1, 0.0},
			{-0.1, 1.0, 0.0},
			{0.0, 0.0, 1.0},
		},
		RiskProfiles: map[string]float64{"RP1": 0.05, "RP2": 0.10},
	}
}

func TestValidateAcceptsCompleteDataset(t *testing.T) {
	assert.NoError(t, validDataset().Validate())
}

func TestValidateRejectsVectorLengthMismatch(t *testing.T) {
	ds := validDataset()
	ds.MarketWeights = []float64{0.5, 0.5}
	assert.Error(t, ds.Validate())
}

func TestValidateRejectsRaggedCorrelation(t *testing.T) {
	ds := validDataset()
	ds.ActiveCorrelation[1] = []float64{-0.1, 1.0}
	assert.Error(t, ds.Validate())
}

func TestValidateRejectsMissingCluster(t *testing.T) {
	ds := validDataset()
	delete(ds.Clusters, "cash")
	assert.Error(t, ds.Validate())
}

func TestValidateRejectsUnknownConvictionClass(t *testing.T) {
	ds := validDataset()
	ds.Convictions = map[string]Conviction{"crypto": {ExpectedTE: 0.05}}
	assert.Error(t, ds.Validate())
}

func TestValidateRejectsDuplicateManagerID(t *testing.T) {
	ds := validDataset()
	ds.Managers = map[string][]ManagerCandidate{
		"global_equity": {
			{ID: "mgr_a", ExpectedIR: 0.5, ExpectedTE: 0.04, Confidence: 0.6},
			{ID: "mgr_a", ExpectedIR: 0.3, ExpectedTE: 0.03, Confidence: 0.5},
		},
	}
	assert.Error(t, ds.Validate())
}

func TestConvictionForDefaultsToPassive(t *testing.T) {
	ds := validDataset()
	c := ds.ConvictionFor("global_bonds")
	assert.Zero(t, c.ExpectedTE)
	assert.Zero(t, c.ExpectedIR)
}

func TestLoadRoundTrip(t *testing.T) {
	yamlDoc := `
asset_classes: [global_equity, cash]
clusters:
  global_equity: Equity
  cash: Liquidity
market_weights: [0.98, 0.02]
expected_returns: [0.08, 0.02]
equilibrium_vols: [0.18, 0.01]
equilibrium_correlation:
  - [1.0, 0.0]
  - [0.0, 1.0]
active_vols: [0.20, 0.01]
active_correlation:
  - [1.0, 0.0]
  - [0.0, 1.0]
risk_profiles:
  RP1: 0.05
convictions:
  global_equity:
    expected_tracking_error: 0.04
    expected_information_ratio: 0.5
    confidence: 0.6
`
	path := filepath.Join(t.TempDir(), "dataset.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	ds, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"global_equity", "cash"}, ds.AssetClasses)
	assert.Equal(t, 0.04, ds.ConvictionFor("global_equity").ExpectedTE)
	assert.Equal(t, 0.05, ds.RiskProfiles["RP1"])
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.yaml")
	require.NoError(t, os.WriteFile(path, []byte("asset_classes: []"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

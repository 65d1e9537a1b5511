package dataset

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/meridianquant/allocator/internal/modules/montecarlo"
)

// AccountsFile is the YAML input for a Monte Carlo simulation run.
type AccountsFile struct {
	Accounts []*montecarlo.InvestmentAccount `yaml:"accounts"`
	// MinBalance is the success threshold applied to simulated paths.
	MinBalance float64 `yaml:"min_balance"`
}

// LoadAccounts reads and validates a simulation accounts file.
func LoadAccounts(path string) (*AccountsFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}

	var file AccountsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse accounts file: %w", err)
	}

	if len(file.Accounts) == 0 {
		return nil, fmt.Errorf("accounts file %s contains no accounts", path)
	}
	seen := make(map[string]bool, len(file.Accounts))
	for i, a := range file.Accounts {
		if a.ID == "" {
			return nil, fmt.Errorf("account %d has no id", i)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("duplicate account id %q", a.ID)
		}
		seen[a.ID] = true
		if a.Value < 0 {
			return nil, fmt.Errorf("account %q has negative balance %.2f", a.ID, a.Value)
		}
		if len(a.Allocation) == 0 {
			return nil, fmt.Errorf("account %q has no asset allocation", a.ID)
		}
		for class, w := range a.Allocation {
			if w < 0 {
				return nil, fmt.Errorf("account %q has negative weight %.4f for %s", a.ID, w, class)
			}
		}
	}
	return &file, nil
}

package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAccountsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAccounts(t *testing.T) {
	path := writeAccountsFile(t, `
accounts:
  - id: brokerage
    balance: 500000
    allocation:
      us_large_cap: 0.6
      us_bonds: 0.4
  - id: retirement
    balance: 250000
    allocation:
      us_large_cap: 0.8
      cash: 0.2
min_balance: 100000
`)

	file, err := LoadAccounts(path)
	require.NoError(t, err)
	require.Len(t, file.Accounts, 2)
	assert.Equal(t, "brokerage", file.Accounts[0].ID)
	assert.InDelta(t, 500000.0, file.Accounts[0].Value, 1e-9)
	assert.InDelta(t, 0.6, file.Accounts[0].Allocation["us_large_cap"], 1e-12)
	assert.InDelta(t, 100000.0, file.MinBalance, 1e-9)
}

func TestLoadAccountsRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"empty": `accounts: []`,
		"duplicate id": `
accounts:
  - id: a
    balance: 100
    allocation: {cash: 1.0}
  - id: a
    balance: 200
    allocation: {cash: 1.0}
`,
		"missing id": `
accounts:
  - balance: 100
    allocation: {cash: 1.0}
`,
		"negative balance": `
accounts:
  - id: a
    balance: -5
    allocation: {cash: 1.0}
`,
		"no allocation": `
accounts:
  - id: a
    balance: 100
`,
		"negative weight": `
accounts:
  - id: a
    balance: 100
    allocation: {cash: -0.5}
`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadAccounts(writeAccountsFile(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadAccountsMissingFile(t *testing.T) {
	_, err := LoadAccounts(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

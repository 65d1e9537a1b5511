package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meridianquant/allocator/internal/dataset"
	"github.com/meridianquant/allocator/internal/modules/montecarlo"
	"github.com/meridianquant/allocator/internal/store"
)

// simulationReport is the JSON output of a simulation run.
type simulationReport struct {
	Paths           int                    `json:"paths"`
	Years           int                    `json:"years"`
	Seed            int64                  `json:"seed"`
	InitialBalance  float64                `json:"initial_balance"`
	PercentileBands map[string][]float64   `json:"percentile_bands"`
	SuccessRate     float64                `json:"success_rate"`
	FinalSuccess    float64                `json:"final_year_success_rate"`
	Statistics      montecarlo.Statistics  `json:"final_statistics"`
	Accounts        []simulationAccountRow `json:"accounts"`
}

type simulationAccountRow struct {
	ID             string  `json:"id"`
	Balance        float64 `json:"balance"`
	ExpectedReturn float64 `json:"expected_return"`
	Volatility     float64 `json:"volatility"`
}

func newSimulateCommand() *cobra.Command {
	var (
		accountsPath string
		years        int
		paths        int
		seed         int64
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run correlated Monte Carlo paths over investment accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.Context(), accountsPath, years, paths, seed)
		},
	}

	cmd.Flags().StringVar(&accountsPath, "accounts", "", "accounts YAML file (required)")
	cmd.Flags().IntVar(&years, "years", 30, "simulation horizon in years")
	cmd.Flags().IntVar(&paths, "paths", 500, "number of Monte Carlo paths")
	cmd.Flags().Int64Var(&seed, "seed", 1, "base random seed")
	_ = cmd.MarkFlagRequired("accounts")

	return cmd
}

func runSimulate(ctx context.Context, accountsPath string, years, paths int, seed int64) error {
	file, err := dataset.LoadAccounts(accountsPath)
	if err != nil {
		return err
	}

	market := montecarlo.DefaultMarketAssumptions()
	sim, err := montecarlo.NewSimulator(market, montecarlo.Config{
		NumPaths: paths,
		Years:    years,
		Seed:     seed,
	}, log)
	if err != nil {
		return err
	}

	factory := func() *montecarlo.Registry {
		reg := montecarlo.NewRegistry()
		for _, a := range file.Accounts {
			clone := *a
			reg.Register(&clone)
		}
		return reg
	}

	results, err := sim.Run(ctx, factory)
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	calc, err := montecarlo.NewParamsCalculator(market)
	if err != nil {
		return err
	}

	initial := 0.0
	accountRows := make([]simulationAccountRow, 0, len(file.Accounts))
	for _, a := range file.Accounts {
		initial += a.Value
		p := calc.AccountParams(a.ID, a.Allocation)
		accountRows = append(accountRows, simulationAccountRow{
			ID:             a.ID,
			Balance:        a.Value,
			ExpectedReturn: p.ExpectedReturn,
			Volatility:     p.Volatility,
		})
	}

	report := simulationReport{
		Paths:           results.NumPaths(),
		Years:           results.Years(),
		Seed:            seed,
		InitialBalance:  initial,
		PercentileBands: results.PercentileBands(),
		SuccessRate:     results.SuccessRate(file.MinBalance, true),
		FinalSuccess:    results.SuccessRate(file.MinBalance, false),
		Statistics:      results.FinalStatistics(),
		Accounts:        accountRows,
	}

	if err := persistRuns(ctx, store.RunSimulate, report); err != nil {
		log.Warn().Err(err).Msg("Failed to persist run")
	}

	return printJSON(report)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/meridianquant/allocator/internal/config"
	"github.com/meridianquant/allocator/internal/dataset"
	"github.com/meridianquant/allocator/internal/modules/activerisk"
	"github.com/meridianquant/allocator/internal/modules/managers"
	"github.com/meridianquant/allocator/internal/modules/portfolio"
	"github.com/meridianquant/allocator/internal/modules/riskmodel"
	"github.com/meridianquant/allocator/internal/modules/saa"
	"github.com/meridianquant/allocator/internal/store"
)

// profileReport is the JSON output for one risk profile.
type profileReport struct {
	Profile          string  `json:"profile"`
	TargetVolatility float64 `json:"target_volatility"`
	Error            string  `json:"error,omitempty"`

	Equilibrium *layerOneReport       `json:"equilibrium,omitempty"`
	Dynamic     *layerOneReport       `json:"dynamic,omitempty"`
	ActiveRisk  *activeRiskReport     `json:"active_risk,omitempty"`
	Managers    map[string]sleeveInfo `json:"managers,omitempty"`
	Portfolio   *portfolioReport      `json:"portfolio,omitempty"`
}

type layerOneReport struct {
	Weights        map[string]float64 `json:"weights"`
	Volatility     float64            `json:"volatility"`
	ExpectedReturn float64            `json:"expected_return,omitempty"`
	TrackingError  float64            `json:"tracking_error,omitempty"`
}

type activeRiskReport struct {
	Budget             float64            `json:"budget"`
	ActivePct          float64            `json:"active_pct"`
	Shares             map[string]float64 `json:"shares"`
	Alphas             map[string]float64 `json:"alphas"`
	AchievedVolatility float64            `json:"achieved_volatility"`
}

type sleeveInfo struct {
	Weights    map[string]float64 `json:"weights"`
	BlendedTE  float64            `json:"blended_te"`
	AchievedTE float64            `json:"achieved_te"`
	TargetTE   float64            `json:"target_te,omitempty"`
}

type portfolioReport struct {
	Metrics  *portfolio.Metrics  `json:"metrics"`
	Holdings []portfolio.Holding `json:"holdings"`
}

func newOptimizeCommand() *cobra.Command {
	var (
		dataPath    string
		riskProfile string
		amount      float64
	)

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Run the three-layer allocation pipeline over a dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptimize(cmd.Context(), dataPath, riskProfile, amount)
		},
	}

	cmd.Flags().StringVar(&dataPath, "data", "", "dataset YAML file (required)")
	cmd.Flags().StringVar(&riskProfile, "risk-profile", "", "only run the named risk profile")
	cmd.Flags().Float64Var(&amount, "amount", 0, "investment amount for dollar breakdowns")
	_ = cmd.MarkFlagRequired("data")

	return cmd
}

func runOptimize(ctx context.Context, dataPath, riskProfile string, amount float64) error {
	params, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	ds, err := dataset.Load(dataPath)
	if err != nil {
		return err
	}
	if riskProfile != "" {
		target, ok := ds.RiskProfiles[riskProfile]
		if !ok {
			return fmt.Errorf("risk profile %q not in dataset", riskProfile)
		}
		ds.RiskProfiles = map[string]float64{riskProfile: target}
	}

	service := saa.NewService(params, log)
	results, err := service.OptimizeAll(ctx, ds)
	if err != nil {
		return err
	}

	// Asset-class correlations for portfolio aggregation come from the
	// sanitized active covariance, not the optional conviction matrix.
	_, activeCov, err := service.Covariances(ds)
	if err != nil {
		return err
	}
	activeCorr := correlationRows(riskmodel.CorrelationFromCovariance(activeCov))

	allocator := activerisk.NewAllocator(params, log)
	selector := managers.NewSelector(params, log)
	aggregator := portfolio.NewAggregator(log)
	managerAlphas := portfolio.ManagerAlphaIndex(ds.Managers)

	reports := make([]profileReport, 0, len(results))
	for _, res := range results {
		report := profileReport{Profile: res.Profile, TargetVolatility: res.TargetVol}
		if res.Err != nil {
			report.Error = res.Err.Error()
			reports = append(reports, report)
			continue
		}

		report.Equilibrium = &layerOneReport{
			Weights:       weightsByClass(ds.AssetClasses, res.Equilibrium.Weights),
			Volatility:    res.Equilibrium.Volatility,
			TrackingError: res.Equilibrium.ClusterTrackingError,
		}
		report.Dynamic = &layerOneReport{
			Weights:        weightsByClass(ds.AssetClasses, res.Dynamic.Weights),
			Volatility:     res.Dynamic.Volatility,
			ExpectedReturn: res.Dynamic.ExpectedReturn,
			TrackingError:  res.Dynamic.TrackingError,
		}

		budget, err := allocator.Allocate(ctx, activeRiskInputs(ds, res))
		if err != nil {
			report.Error = err.Error()
			reports = append(reports, report)
			continue
		}
		report.ActiveRisk = &activeRiskReport{
			Budget:             budget.ActiveRiskBudget,
			ActivePct:          budget.ActivePct,
			Shares:             budget.Shares,
			Alphas:             budget.Alphas,
			AchievedVolatility: budget.AchievedVolatility,
		}

		selection, err := selector.Select(ctx, ds.Managers, ds.ManagerCorrelations, budget.TargetTEs)
		if err != nil {
			report.Error = err.Error()
			reports = append(reports, report)
			continue
		}
		report.Managers = make(map[string]sleeveInfo, len(selection.Selections))
		for ac, cs := range selection.Selections {
			report.Managers[ac] = sleeveInfo{
				Weights:    cs.Weights,
				BlendedTE:  cs.BlendedTE,
				AchievedTE: cs.AchievedTE,
				TargetTE:   cs.TargetTE,
			}
		}

		inputs := portfolioInputs(ds, res, budget, selection, managerAlphas, activeCorr, amount)
		metrics, err := aggregator.Metrics(inputs)
		if err != nil {
			report.Error = err.Error()
			reports = append(reports, report)
			continue
		}
		report.Portfolio = &portfolioReport{
			Metrics:  metrics,
			Holdings: aggregator.Holdings(inputs),
		}
		reports = append(reports, report)
	}

	if err := persistRuns(ctx, store.RunOptimize, reports); err != nil {
		log.Warn().Err(err).Msg("Failed to persist run")
	}

	return printJSON(reports)
}

func activeRiskInputs(ds *dataset.Dataset, res saa.ProfileResult) activerisk.Inputs {
	tes := make(map[string]float64, len(ds.AssetClasses))
	irs := make(map[string]float64, len(ds.AssetClasses))
	confs := make(map[string]float64, len(ds.AssetClasses))
	for _, ac := range ds.AssetClasses {
		conviction := ds.ConvictionFor(ac)
		tes[ac] = conviction.ExpectedTE
		irs[ac] = conviction.ExpectedIR
		confs[ac] = conviction.Confidence
	}
	return activerisk.Inputs{
		AssetClasses:     ds.AssetClasses,
		SAAWeights:       weightsByClass(ds.AssetClasses, res.Dynamic.Weights),
		ExpectedTEs:      tes,
		ExpectedIRs:      irs,
		Confidences:      confs,
		PassiveVols:      ds.PassiveVols,
		Correlation:      ds.ActiveReturnCorrelation,
		TargetVolatility: res.TargetVol,
	}
}

func portfolioInputs(
	ds *dataset.Dataset,
	res saa.ProfileResult,
	budget *activerisk.Result,
	selection *managers.Result,
	managerAlphas map[string]float64,
	activeCorr [][]float64,
	amount float64,
) portfolio.Inputs {
	baseReturns := make(map[string]float64, len(ds.AssetClasses))
	for i, ac := range ds.AssetClasses {
		baseReturns[ac] = ds.ExpectedReturns[i]
	}
	return portfolio.Inputs{
		AssetClasses:       ds.AssetClasses,
		EquilibriumWeights: weightsByClass(ds.AssetClasses, res.Equilibrium.Weights),
		DynamicWeights:     weightsByClass(ds.AssetClasses, res.Dynamic.Weights),
		BaseReturns:        baseReturns,
		PassiveVols:        ds.PassiveVols,
		ActiveCorrelation:  activeCorr,
		Alphas:             budget.Alphas,
		Selection:          selection,
		ManagerAlphas:      managerAlphas,
		InvestmentAmount:   amount,
	}
}

// correlationRows converts a correlation matrix to the row-major layout
// the aggregation layer consumes.
func correlationRows(corr *mat.SymDense) [][]float64 {
	n := corr.SymmetricDim()
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			rows[i][j] = corr.At(i, j)
		}
	}
	return rows
}

func weightsByClass(classes []string, weights []float64) map[string]float64 {
	out := make(map[string]float64, len(classes))
	for i, ac := range classes {
		if i < len(weights) {
			out[ac] = weights[i]
		}
	}
	return out
}

func persistRuns(ctx context.Context, kind store.RunKind, payload any) error {
	if dbPath == "" {
		return nil
	}
	db, err := store.New(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := store.NewRunRepository(db.Conn(), log)
	if err := repo.Init(ctx); err != nil {
		return err
	}
	id, err := repo.Save(ctx, kind, "", "completed", payload)
	if err != nil {
		return err
	}
	log.Info().Str("run_id", id).Msg("Run persisted")
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Package portfolio aggregates the three allocation layers into final
// portfolio metrics and a per-vehicle holdings breakdown.
package portfolio

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/meridianquant/allocator/internal/dataset"
	"github.com/meridianquant/allocator/internal/modules/activerisk"
	"github.com/meridianquant/allocator/internal/modules/managers"
)

// VehicleType distinguishes holding rows.
type VehicleType string

const (
	VehicleActive  VehicleType = "active"
	VehiclePassive VehicleType = "passive"
)

// Holding is one vehicle-level row of the final portfolio.
type Holding struct {
	AssetClass        string      `json:"asset_class"`
	Vehicle           string      `json:"vehicle"`
	Type              VehicleType `json:"type"`
	EquilibriumWeight float64     `json:"equilibrium_weight"`
	DynamicWeight     float64     `json:"dynamic_weight"`
	// Weight is the vehicle's share of the total portfolio.
	Weight float64 `json:"weight"`
	Amount float64 `json:"amount,omitempty"`
}

// Metrics are the portfolio-level summary numbers.
type Metrics struct {
	ExpectedReturn     float64 `json:"expected_return"`
	ExpectedVolatility float64 `json:"expected_volatility"`
	TotalWeight        float64 `json:"total_weight"`
	AssetClassCount    int     `json:"asset_class_count"`
}

// Inputs collects the layer outputs needed for aggregation.
type Inputs struct {
	AssetClasses       []string
	EquilibriumWeights map[string]float64
	DynamicWeights     map[string]float64
	BaseReturns        map[string]float64
	PassiveVols        map[string]float64
	// ActiveCorrelation is the asset-class correlation in AssetClasses
	// order; nil falls back to the identity.
	ActiveCorrelation [][]float64

	Alphas    map[string]float64
	Selection *managers.Result
	// ManagerAlphas is expected alpha per manager ID, used for the
	// return contribution of active sleeves.
	ManagerAlphas map[string]float64

	// InvestmentAmount, when positive, fills Holding.Amount.
	InvestmentAmount float64
}

// Aggregator computes final portfolio metrics and holdings.
type Aggregator struct {
	log zerolog.Logger
}

// NewAggregator creates an Aggregator.
func NewAggregator(log zerolog.Logger) *Aggregator {
	return &Aggregator{log: log.With().Str("component", "portfolio").Logger()}
}

// Metrics computes portfolio expected return and volatility. Each asset
// class return is the passive base return plus the active fraction times
// the manager sleeve's blended alpha; each class volatility blends the
// passive vehicle volatility with the sleeve tracking error.
func (a *Aggregator) Metrics(in Inputs) (*Metrics, error) {
	if len(in.AssetClasses) == 0 {
		return nil, fmt.Errorf("no asset classes provided")
	}

	classReturns := make(map[string]float64, len(in.AssetClasses))
	classVols := make(map[string]float64, len(in.AssetClasses))
	for _, ac := range in.AssetClasses {
		alpha := in.Alphas[ac]
		classReturns[ac] = in.BaseReturns[ac] + alpha*a.sleeveAlpha(in, ac)
		classVols[ac] = activerisk.BlendedVolatility(in.PassiveVols[ac], a.sleeveTE(in, ac), alpha)
	}

	expectedReturn := 0.0
	totalWeight := 0.0
	for _, ac := range in.AssetClasses {
		expectedReturn += in.DynamicWeights[ac] * classReturns[ac]
		totalWeight += in.DynamicWeights[ac]
	}

	totalVar := 0.0
	for i, aci := range in.AssetClasses {
		for j, acj := range in.AssetClasses {
			c := 0.0
			if i == j {
				c = 1.0
			} else if in.ActiveCorrelation != nil {
				c = in.ActiveCorrelation[i][j]
			}
			totalVar += in.DynamicWeights[aci] * in.DynamicWeights[acj] *
				classVols[aci] * classVols[acj] * c
		}
	}

	m := &Metrics{
		ExpectedReturn:     expectedReturn,
		ExpectedVolatility: math.Sqrt(math.Max(0, totalVar)),
		TotalWeight:        totalWeight,
		AssetClassCount:    len(in.AssetClasses),
	}

	a.log.Info().
		Float64("expected_return", m.ExpectedReturn).
		Float64("expected_volatility", m.ExpectedVolatility).
		Msg("Portfolio metrics computed")
	return m, nil
}

// Holdings flattens the layer outputs into one row per vehicle. Manager
// rows carry dynamicWeight × alpha × managerShare; the passive row
// carries dynamicWeight × (1 − alpha). Rows are sorted by asset class,
// active before passive, then by descending weight.
func (a *Aggregator) Holdings(in Inputs) []Holding {
	rows := make([]Holding, 0, len(in.AssetClasses)*2)

	for _, ac := range in.AssetClasses {
		dynW := in.DynamicWeights[ac]
		eqW := in.EquilibriumWeights[ac]
		alpha := in.Alphas[ac]

		activeWeight := dynW * alpha
		passiveWeight := dynW * (1 - alpha)

		if in.Selection != nil && activeWeight > 0 {
			if sel, ok := in.Selection.Selections[ac]; ok {
				for id, share := range sel.Weights {
					rows = append(rows, Holding{
						AssetClass:        ac,
						Vehicle:           id,
						Type:              VehicleActive,
						EquilibriumWeight: eqW,
						DynamicWeight:     dynW,
						Weight:            activeWeight * share,
					})
				}
			}
		}

		rows = append(rows, Holding{
			AssetClass:        ac,
			Vehicle:           fmt.Sprintf("%s_passive", ac),
			Type:              VehiclePassive,
			EquilibriumWeight: eqW,
			DynamicWeight:     dynW,
			Weight:            passiveWeight,
		})
	}

	if in.InvestmentAmount > 0 {
		for i := range rows {
			rows[i].Amount = rows[i].Weight * in.InvestmentAmount
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].AssetClass != rows[j].AssetClass {
			return rows[i].AssetClass < rows[j].AssetClass
		}
		if rows[i].Type != rows[j].Type {
			return rows[i].Type == VehicleActive
		}
		return rows[i].Weight > rows[j].Weight
	})
	return rows
}

// sleeveAlpha is the share-weighted expected alpha of the asset class's
// manager sleeve.
func (a *Aggregator) sleeveAlpha(in Inputs, assetClass string) float64 {
	if in.Selection == nil {
		return 0
	}
	sel, ok := in.Selection.Selections[assetClass]
	if !ok {
		return 0
	}
	total := 0.0
	for id, w := range sel.Weights {
		total += w * in.ManagerAlphas[id]
	}
	return total
}

// sleeveTE is the sleeve tracking error under the manager correlation
// structure, falling back to the blended TE.
func (a *Aggregator) sleeveTE(in Inputs, assetClass string) float64 {
	if in.Selection == nil {
		return 0
	}
	sel, ok := in.Selection.Selections[assetClass]
	if !ok {
		return 0
	}
	if sel.AchievedTE > 0 {
		return sel.AchievedTE
	}
	return sel.BlendedTE
}

// ManagerAlphaIndex builds the manager ID → expected alpha lookup from
// the dataset candidates, with alpha derived as IR × TE.
func ManagerAlphaIndex(candidates map[string][]dataset.ManagerCandidate) map[string]float64 {
	idx := make(map[string]float64)
	for _, mgrs := range candidates {
		for _, m := range mgrs {
			idx[m.ID] = m.ExpectedIR * m.ExpectedTE
		}
	}
	return idx
}

// Package config provides the immutable parameter set shared by the
// allocation pipeline and the Monte Carlo engine. A Params value is
// constructed once at startup and passed by value into every optimizer,
// so no component ever rereads configuration mid-run.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LiquidityMode selects how the fixed liquidity allocation is enforced
// during Layer 1 optimization.
type LiquidityMode string

const (
	// LiquidityFixedPost optimizes over all clusters, then forces the
	// liquidity cluster to its target weight and rescales the rest.
	LiquidityFixedPost LiquidityMode = "fixed_post"
	// LiquidityExcludeThenAdd removes the liquidity cluster from the
	// optimization, solves the remainder scaled to (1 - target), then
	// appends liquidity at its fixed target.
	LiquidityExcludeThenAdd LiquidityMode = "exclude_then_add"
)

// Params holds every tunable used by the optimization layers.
type Params struct {
	// Layer 1
	LiquidityTarget float64       // fixed allocation for the liquidity cluster
	LiquidityMode   LiquidityMode // fixed_post | exclude_then_add
	GammaAnchor     float64       // anchoring strength in the equilibrium objective
	RiskTolerance   float64       // half-width of the equilibrium volatility band

	// Layer 1 dynamic
	LambdaActive         float64 // active risk aversion in the dynamic objective
	DynamicRiskTolerance float64 // slack on the dynamic total-risk bound
	// ActiveRiskBudget is the tracking-error budget as a fraction of target
	// volatility. The same fraction bounds both the portfolio-level and the
	// per-cluster tracking error budgets in the dynamic layer.
	ActiveRiskBudget float64

	// Layer 2 / Layer 3
	Tau             float64 // Black-Litterman prior scaling
	RiskAversion    float64 // quadratic risk penalty in manager optimization
	TEPenaltyWeight float64 // soft penalty pulling manager portfolios toward target TE

	// Solver
	MaxIterations     int     // iteration cap per numeric solve
	NumAttempts       int     // multi-start attempts per optimization
	ConvergenceTol    float64 // default solver tolerance
	TightConvergeTol  float64 // tolerance for the blended multi-start attempt
	PenaltyWeight     float64 // quadratic penalty weight for constraint violations
	MultiStartSeed    int64   // base seed for randomized starting points
	MinEigenvalue     float64 // eigenvalue floor for positive definiteness
	MatrixRegularizer float64 // replacement value for NaN/Inf matrix entries
}

// Default returns the standard parameter set.
func Default() Params {
	return Params{
		LiquidityTarget:      0.02,
		LiquidityMode:        LiquidityExcludeThenAdd,
		GammaAnchor:          100.0,
		RiskTolerance:        0.008,
		LambdaActive:         2.0,
		DynamicRiskTolerance: 0.0005,
		ActiveRiskBudget:     0.2,
		Tau:                  0.05,
		RiskAversion:         2.5,
		TEPenaltyWeight:      10.0,
		MaxIterations:        1000,
		NumAttempts:          4,
		ConvergenceTol:       1e-8,
		TightConvergeTol:     1e-10,
		PenaltyWeight:        1000.0,
		MultiStartSeed:       1,
		MinEigenvalue:        1e-8,
		MatrixRegularizer:    1e-8,
	}
}

// Load builds the parameter set from defaults overridden by environment
// variables. A .env file is honored when present.
func Load() (Params, error) {
	_ = godotenv.Load()

	p := Default()
	p.LiquidityTarget = getEnvAsFloat("ALLOCATOR_LIQUIDITY_TARGET", p.LiquidityTarget)
	p.GammaAnchor = getEnvAsFloat("ALLOCATOR_GAMMA_ANCHOR", p.GammaAnchor)
	p.RiskTolerance = getEnvAsFloat("ALLOCATOR_RISK_TOLERANCE", p.RiskTolerance)
	p.LambdaActive = getEnvAsFloat("ALLOCATOR_LAMBDA_ACTIVE", p.LambdaActive)
	p.ActiveRiskBudget = getEnvAsFloat("ALLOCATOR_ACTIVE_RISK_BUDGET", p.ActiveRiskBudget)
	p.Tau = getEnvAsFloat("ALLOCATOR_BL_TAU", p.Tau)
	p.RiskAversion = getEnvAsFloat("ALLOCATOR_RISK_AVERSION", p.RiskAversion)
	p.MaxIterations = getEnvAsInt("ALLOCATOR_MAX_ITERATIONS", p.MaxIterations)
	p.NumAttempts = getEnvAsInt("ALLOCATOR_NUM_ATTEMPTS", p.NumAttempts)
	p.MultiStartSeed = int64(getEnvAsInt("ALLOCATOR_MULTISTART_SEED", int(p.MultiStartSeed)))

	if mode := os.Getenv("ALLOCATOR_LIQUIDITY_MODE"); mode != "" {
		p.LiquidityMode = LiquidityMode(mode)
	}

	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate checks that the parameter set is internally consistent.
func (p Params) Validate() error {
	if p.LiquidityTarget < 0 || p.LiquidityTarget >= 1 {
		return fmt.Errorf("liquidity target %.4f must be in [0, 1)", p.LiquidityTarget)
	}
	if p.LiquidityMode != LiquidityFixedPost && p.LiquidityMode != LiquidityExcludeThenAdd {
		return fmt.Errorf("unknown liquidity mode %q", p.LiquidityMode)
	}
	if p.ActiveRiskBudget < 0 || p.ActiveRiskBudget > 1 {
		return fmt.Errorf("active risk budget %.4f must be in [0, 1]", p.ActiveRiskBudget)
	}
	if p.RiskTolerance <= 0 {
		return fmt.Errorf("risk tolerance must be positive, got %.6f", p.RiskTolerance)
	}
	if p.MaxIterations <= 0 {
		return fmt.Errorf("max iterations must be positive, got %d", p.MaxIterations)
	}
	if p.NumAttempts <= 0 {
		return fmt.Errorf("num attempts must be positive, got %d", p.NumAttempts)
	}
	return nil
}

// Helper functions
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

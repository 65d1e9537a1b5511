package montecarlo

import (
	"context"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Config holds simulation parameters.
type Config struct {
	NumPaths int
	Years    int
	Seed     int64
}

// Validate checks the simulation parameters.
func (c Config) Validate() error {
	if c.NumPaths < 1 {
		return fmt.Errorf("num paths must be at least 1, got %d", c.NumPaths)
	}
	if c.Years < 1 {
		return fmt.Errorf("years must be at least 1, got %d", c.Years)
	}
	return nil
}

// Simulator runs correlated Monte Carlo paths over investment accounts.
type Simulator struct {
	calc *ParamsCalculator
	cfg  Config
	log  zerolog.Logger
}

// NewSimulator creates a Simulator. Market assumptions are mandatory.
func NewSimulator(market *MarketAssumptions, cfg Config, log zerolog.Logger) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	calc, err := NewParamsCalculator(market)
	if err != nil {
		return nil, err
	}
	return &Simulator{
		calc: calc,
		cfg:  cfg,
		log:  log.With().Str("component", "monte_carlo").Logger(),
	}, nil
}

// Run simulates NumPaths independent paths. The factory must return a
// fresh Registry per call so paths do not share account state. Path i is
// seeded from the base seed and i, so the parallel schedule cannot
// change results.
func (s *Simulator) Run(ctx context.Context, factory func() *Registry) (*Results, error) {
	if factory == nil {
		return nil, fmt.Errorf("registry factory is required")
	}

	paths := make([][]float64, s.cfg.NumPaths)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := 0; i < s.cfg.NumPaths; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			path, err := s.runPath(factory(), s.cfg.Seed+int64(i))
			if err != nil {
				return fmt.Errorf("path %d: %w", i, err)
			}
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.log.Info().
		Int("paths", s.cfg.NumPaths).
		Int("years", s.cfg.Years).
		Msg("Monte Carlo simulation complete")

	return NewResults(paths), nil
}

// runPath advances one registry through the configured horizon and
// records the total balance after each year.
func (s *Simulator) runPath(registry *Registry, seed int64) ([]float64, error) {
	corr, order, params, err := s.calc.CorrelationMatrix(registry)
	if err != nil {
		return nil, err
	}
	gen, err := NewReturnGenerator(params, corr, order, seed)
	if err != nil {
		return nil, err
	}

	balances := make([]float64, s.cfg.Years)
	for year := 0; year < s.cfg.Years; year++ {
		registry.ApplyReturns(gen.YearlyReturns())
		balances[year] = registry.TotalBalance()
	}
	return balances, nil
}

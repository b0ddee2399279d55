package portfolio

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/PurpleRainAndMJ/Options-Risks/internal/model"
)

const (
	DefaultGridWidth  = 0.2
	DefaultGridPoints = 50
	DefaultVolShift   = 0.10
	DefaultVolFloor   = 0.01

	ScenarioLow     = "low"
	ScenarioCurrent = "current"
	ScenarioHigh    = "high"
)

// Linspace returns n evenly spaced values over [lo, hi], both ends included.
// n == 1 returns [lo]; n <= 0 returns nil.
func Linspace(lo, hi float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	if n == 1 {
		out[0] = lo
		return out
	}
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}

// SpotGrid returns n spots over [spot*(1-width), spot*(1+width)].
func SpotGrid(spot, width float64, n int) []float64 {
	return Linspace(spot*(1-width), spot*(1+width), n)
}

// WithSpot inserts spot into a sorted grid unless an equal value is already
// present, so the curve carries an exact anchor point.
func WithSpot(grid []float64, spot float64) []float64 {
	out := make([]float64, 0, len(grid)+1)
	inserted := false
	for _, p := range grid {
		if !inserted && p >= spot {
			if p != spot {
				out = append(out, spot)
			}
			inserted = true
		}
		out = append(out, p)
	}
	if !inserted {
		out = append(out, spot)
	}
	return out
}

// VolScenarios builds the low/current/high set around vol. The low leg is
// floored at floor.
func VolScenarios(vol, shift, floor float64) []model.StressScenario {
	return []model.StressScenario{
		{Name: ScenarioLow, Vol: math.Max(floor, vol-shift)},
		{Name: ScenarioCurrent, Vol: vol},
		{Name: ScenarioHigh, Vol: vol + shift},
	}
}

// StressSweep fully reprices the book at every (scenario, grid spot) pair and
// reports each value relative to the baseline value at the true market.
//
// Grid points are spread over a bounded worker pool; every point writes to
// its own slot so the result does not depend on scheduling. workers <= 0
// uses runtime.NumCPU.
func StressSweep(ctx context.Context, positions []model.Position, market model.MarketSnapshot,
	grid []float64, scenarios []model.StressScenario, workers int) (model.StressResult, error) {

	if err := market.Validate(); err != nil {
		return model.StressResult{}, err
	}
	for i, p := range positions {
		if err := p.Validate(); err != nil {
			return model.StressResult{}, fmt.Errorf("position %d: %w", i, err)
		}
	}
	for _, sc := range scenarios {
		if err := market.WithVol(sc.Vol).Validate(); err != nil {
			return model.StressResult{}, fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
	}
	for _, p := range grid {
		if err := market.WithSpot(p).Validate(); err != nil {
			return model.StressResult{}, fmt.Errorf("grid spot %v: %w", p, err)
		}
	}

	baseline := value(positions, market)

	result := model.StressResult{
		Baseline: baseline,
		Curves:   make([]model.StressCurve, len(scenarios)),
	}
	for i, sc := range scenarios {
		result.Curves[i] = model.StressCurve{
			Scenario: sc,
			Points:   make([]model.StressPoint, len(grid)),
		}
	}

	total := len(scenarios) * len(grid)
	if total == 0 {
		return result, nil
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > total {
		workers = total
	}

	jobs := make(chan int, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				si, gi := idx/len(grid), idx%len(grid)
				m := model.MarketSnapshot{Spot: grid[gi], Rate: market.Rate, Vol: scenarios[si].Vol}
				result.Curves[si].Points[gi] = model.StressPoint{
					Spot: grid[gi],
					PnL:  value(positions, m) - baseline,
				}
			}
		}()
	}

	var err error
feed:
	for idx := 0; idx < total; idx++ {
		if err = ctx.Err(); err != nil {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		case jobs <- idx:
		}
	}
	close(jobs)
	wg.Wait()

	if err != nil {
		return model.StressResult{}, fmt.Errorf("stress sweep: %w", err)
	}
	return result, nil
}

// SweepConfig bundles the grid and scenario parameters of a standard sweep.
type SweepConfig struct {
	GridWidth   float64
	GridPoints  int
	VolShift    float64
	VolFloor    float64
	IncludeSpot bool
	Workers     int
}

// DefaultSweepConfig returns the ±20% / 50-point / ±10 vol-point sweep.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		GridWidth:  DefaultGridWidth,
		GridPoints: DefaultGridPoints,
		VolShift:   DefaultVolShift,
		VolFloor:   DefaultVolFloor,
	}
}

// Sweep runs StressSweep with the grid and scenarios derived from cfg.
func Sweep(ctx context.Context, positions []model.Position, market model.MarketSnapshot, cfg SweepConfig) (model.StressResult, error) {
	grid := SpotGrid(market.Spot, cfg.GridWidth, cfg.GridPoints)
	if cfg.IncludeSpot {
		grid = WithSpot(grid, market.Spot)
	}
	scenarios := VolScenarios(market.Vol, cfg.VolShift, cfg.VolFloor)
	return StressSweep(ctx, positions, market, grid, scenarios, cfg.Workers)
}

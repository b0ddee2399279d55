package model

import "fmt"

// GreekSet is the per-unit result of pricing one contract.
// Vega is per one volatility point and theta is per calendar day.
type GreekSet struct {
	Price float64 `json:"price"`
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Vega  float64 `json:"vega"`
	Theta float64 `json:"theta"`
}

// Scale multiplies every field by qty.
func (g GreekSet) Scale(qty float64) GreekSet {
	return GreekSet{
		Price: g.Price * qty,
		Delta: g.Delta * qty,
		Gamma: g.Gamma * qty,
		Vega:  g.Vega * qty,
		Theta: g.Theta * qty,
	}
}

// PortfolioTotals is the quantity-weighted sum of GreekSets across positions.
// Value is the theoretical portfolio value (sum of price * qty).
type PortfolioTotals struct {
	Value     float64 `json:"value"`
	Delta     float64 `json:"delta"`
	Gamma     float64 `json:"gamma"`
	Vega      float64 `json:"vega"`
	Theta     float64 `json:"theta"`
	Positions int     `json:"positions"`
}

// Add returns t plus the scaled contribution g.
func (t PortfolioTotals) Add(g GreekSet) PortfolioTotals {
	return PortfolioTotals{
		Value:     t.Value + g.Price,
		Delta:     t.Delta + g.Delta,
		Gamma:     t.Gamma + g.Gamma,
		Vega:      t.Vega + g.Vega,
		Theta:     t.Theta + g.Theta,
		Positions: t.Positions + 1,
	}
}

// PnLAttribution splits a hypothetical PnL into risk-factor contributions.
type PnLAttribution struct {
	DeltaPnL float64 `json:"delta_pnl"`
	GammaPnL float64 `json:"gamma_pnl"`
	VegaPnL  float64 `json:"vega_pnl"`
	ThetaPnL float64 `json:"theta_pnl"`
	Total    float64 `json:"total_explained"`
}

// StressScenario is a named volatility level for the stress sweep.
type StressScenario struct {
	Name string  `json:"name"`
	Vol  float64 `json:"vol"`
}

// StressPoint is the portfolio PnL relative to baseline at one grid spot.
type StressPoint struct {
	Spot float64 `json:"spot"`
	PnL  float64 `json:"pnl"`
}

// StressCurve is the PnL curve for one scenario, in grid order.
type StressCurve struct {
	Scenario StressScenario `json:"scenario"`
	Points   []StressPoint  `json:"points"`
}

// StressResult holds one curve per scenario in scenario order.
type StressResult struct {
	Baseline float64       `json:"baseline"`
	Curves   []StressCurve `json:"curves"`
}

// Curve returns the curve for the named scenario.
func (r StressResult) Curve(name string) (StressCurve, bool) {
	for _, c := range r.Curves {
		if c.Scenario.Name == name {
			return c, true
		}
	}
	return StressCurve{}, false
}

// WorstLoss returns the most negative PnL across all curves, or 0 if none is negative.
func (r StressResult) WorstLoss() float64 {
	worst := 0.0
	for _, c := range r.Curves {
		for _, p := range c.Points {
			if p.PnL < worst {
				worst = p.PnL
			}
		}
	}
	return worst
}

// PositionRisk is one row of the per-position breakdown.
type PositionRisk struct {
	Position Position `json:"position"`
	Unit     GreekSet `json:"unit"`
	Scaled   GreekSet `json:"scaled"`
}

// Breach is one exceeded risk limit.
type Breach struct {
	Limit     string  `json:"limit"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

func (b Breach) String() string {
	return fmt.Sprintf("%s %.6g exceeds %.6g", b.Limit, b.Value, b.Threshold)
}

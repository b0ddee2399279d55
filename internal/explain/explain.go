// Package explain attributes a hypothetical PnL to delta, gamma, vega and
// theta using a second-order Taylor expansion around portfolio totals.
//
// The attribution is an approximation. It matches a full revaluation only
// while the move is small enough for higher-order terms to be negligible;
// Residual reports the gap.
package explain

import "github.com/PurpleRainAndMJ/Options-Risks/internal/model"

// volPoints converts a fractional vol change into vol points, the unit
// portfolio vega is quoted in.
const volPoints = 100.0

// Explain returns the Taylor attribution of a move (dSpot, dVol, dt) for the
// given totals. dVol is a fraction (0.05 = five vol points). The theta term
// is theta * dt with no unit conversion; callers normally pass model.DefaultDT.
func Explain(totals model.PortfolioTotals, dSpot, dVol, dt float64) model.PnLAttribution {
	a := model.PnLAttribution{
		DeltaPnL: totals.Delta * dSpot,
		GammaPnL: 0.5 * totals.Gamma * dSpot * dSpot,
		VegaPnL:  totals.Vega * (dVol * volPoints),
		ThetaPnL: totals.Theta * dt,
	}
	a.Total = a.DeltaPnL + a.GammaPnL + a.VegaPnL + a.ThetaPnL
	return a
}

// ExplainMove is Explain with the move packed in a model.MarketMove.
// A zero DT is taken as one day.
func ExplainMove(totals model.PortfolioTotals, mv model.MarketMove) model.PnLAttribution {
	dt := mv.DT
	if dt == 0 {
		dt = model.DefaultDT
	}
	return Explain(totals, mv.DSpot, mv.DVol, dt)
}

// Residual is the part of a fully repriced PnL that the attribution misses.
func Residual(a model.PnLAttribution, repricedPnL float64) float64 {
	return repricedPnL - a.Total
}

// Line is one named contribution for display.
type Line struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Lines returns the contributions in display order, ending with the total.
func Lines(a model.PnLAttribution) []Line {
	return []Line{
		{Name: "Delta PnL", Value: a.DeltaPnL},
		{Name: "Gamma PnL", Value: a.GammaPnL},
		{Name: "Vega PnL", Value: a.VegaPnL},
		{Name: "Theta PnL", Value: a.ThetaPnL},
		{Name: "Total Explained", Value: a.Total},
	}
}

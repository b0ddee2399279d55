package report

import (
	"github.com/PurpleRainAndMJ/Options-Risks/internal/explain"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/model"
)

// Display precision per field, matching the dashboard metric tiles.
const (
	DeltaPlaces = 3
	GammaPlaces = 6
	VegaPlaces  = 2
	ThetaPlaces = 2
	MoneyPlaces = 2
)

// TotalsView is PortfolioTotals rounded for display.
type TotalsView struct {
	Value     float64 `json:"value"`
	Delta     float64 `json:"delta"`
	Gamma     float64 `json:"gamma"`
	Vega      float64 `json:"vega"`
	Theta     float64 `json:"theta"`
	Positions int     `json:"positions"`
}

// RoundTotals rounds each field to its display precision.
func RoundTotals(t model.PortfolioTotals) TotalsView {
	return TotalsView{
		Value:     Round(t.Value, MoneyPlaces),
		Delta:     Round(t.Delta, DeltaPlaces),
		Gamma:     Round(t.Gamma, GammaPlaces),
		Vega:      Round(t.Vega, VegaPlaces),
		Theta:     Round(t.Theta, ThetaPlaces),
		Positions: t.Positions,
	}
}

// MetricTile is one labelled headline number.
type MetricTile struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Tiles renders the four headline Greeks.
func Tiles(t model.PortfolioTotals) []MetricTile {
	return []MetricTile{
		{Label: "Total Delta", Text: Fixed(t.Delta, DeltaPlaces)},
		{Label: "Total Gamma", Text: Fixed(t.Gamma, GammaPlaces)},
		{Label: "Total Vega (per 1%)", Text: Fixed(t.Vega, VegaPlaces)},
		{Label: "Total Theta (daily)", Text: Fixed(t.Theta, ThetaPlaces)},
	}
}

// AttributionTiles renders each explain line as "<value> $".
func AttributionTiles(a model.PnLAttribution) []MetricTile {
	lines := explain.Lines(a)
	out := make([]MetricTile, len(lines))
	for i, l := range lines {
		out[i] = MetricTile{Label: l.Name, Text: Fixed(l.Value, MoneyPlaces) + " $"}
	}
	return out
}

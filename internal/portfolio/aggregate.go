package portfolio

import (
	"fmt"

	"github.com/PurpleRainAndMJ/Options-Risks/internal/model"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/pricing"
)

// Aggregate prices every position against the shared market snapshot and
// sums the quantity-weighted Greeks. An empty book yields zero totals.
// The first invalid position aborts the fold with its row index.
func Aggregate(positions []model.Position, market model.MarketSnapshot) (model.PortfolioTotals, error) {
	var totals model.PortfolioTotals
	if len(positions) == 0 {
		return totals, nil
	}
	if err := market.Validate(); err != nil {
		return model.PortfolioTotals{}, err
	}
	for i, p := range positions {
		g, err := priceUnit(p, market)
		if err != nil {
			return model.PortfolioTotals{}, fmt.Errorf("position %d: %w", i, err)
		}
		totals = totals.Add(g.Scale(p.Qty))
	}
	return totals, nil
}

// Breakdown returns one row per position, in book order, plus the totals.
func Breakdown(positions []model.Position, market model.MarketSnapshot) ([]model.PositionRisk, model.PortfolioTotals, error) {
	rows := make([]model.PositionRisk, 0, len(positions))
	var totals model.PortfolioTotals
	if len(positions) == 0 {
		return rows, totals, nil
	}
	if err := market.Validate(); err != nil {
		return nil, model.PortfolioTotals{}, err
	}
	for i, p := range positions {
		g, err := priceUnit(p, market)
		if err != nil {
			return nil, model.PortfolioTotals{}, fmt.Errorf("position %d: %w", i, err)
		}
		scaled := g.Scale(p.Qty)
		rows = append(rows, model.PositionRisk{Position: p, Unit: g, Scaled: scaled})
		totals = totals.Add(scaled)
	}
	return rows, totals, nil
}

func priceUnit(p model.Position, market model.MarketSnapshot) (model.GreekSet, error) {
	if err := p.Validate(); err != nil {
		return model.GreekSet{}, err
	}
	return pricing.PriceAndGreeks(market.Spot, p.Strike, p.DaysToExpiry, market.Rate, market.Vol, p.Kind), nil
}

// value reprices the book at market and returns only the portfolio value.
// Positions are assumed validated by the caller.
func value(positions []model.Position, market model.MarketSnapshot) float64 {
	v := 0.0
	for _, p := range positions {
		g := pricing.PriceAndGreeks(market.Spot, p.Strike, p.DaysToExpiry, market.Rate, market.Vol, p.Kind)
		v += g.Price * p.Qty
	}
	return v
}

package portfolio

import (
	"fmt"
	"math"

	"github.com/PurpleRainAndMJ/Options-Risks/internal/model"
)

// Reprice returns the full-revaluation PnL of a move: the book valued after
// the move minus the book valued now. Time passes by shortening every
// expiry by mv.DT days, the same elapsed time the attribution's theta*DT
// term charges. The moved volatility is floored at volFloor.
func Reprice(positions []model.Position, market model.MarketSnapshot, mv model.MarketMove, volFloor float64) (float64, error) {
	if len(positions) == 0 {
		return 0, nil
	}
	if err := market.Validate(); err != nil {
		return 0, err
	}
	for i, p := range positions {
		if err := p.Validate(); err != nil {
			return 0, fmt.Errorf("position %d: %w", i, err)
		}
	}

	moved := mv.Apply(market)
	moved.Vol = math.Max(moved.Vol, volFloor)
	if err := moved.Validate(); err != nil {
		return 0, fmt.Errorf("moved market: %w", err)
	}

	aged := make([]model.Position, len(positions))
	for i, p := range positions {
		p.DaysToExpiry -= mv.DT
		aged[i] = p
	}
	return value(aged, moved) - value(positions, market), nil
}

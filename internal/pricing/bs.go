// Package pricing implements closed-form Black-Scholes-Merton valuation and
// Greeks for European options on a non-dividend-paying underlying.
package pricing

import (
	"fmt"
	"math"

	"github.com/PurpleRainAndMJ/Options-Risks/internal/model"

	"gonum.org/v1/gonum/stat/distuv"
)

// vegaScale converts vega per unit of volatility to vega per volatility point.
const vegaScale = 0.01

func normCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

func normPDF(x float64) float64 {
	return distuv.UnitNormal.Prob(x)
}

// PriceAndGreeks returns the per-unit price and Greeks of a European option.
//
// days is the calendar-day time to expiry; it is converted to years and
// clamped at model.MinYearFraction. Vega is per one volatility point and
// theta is per calendar day.
//
// Inputs are not validated: a non-positive spot, strike or volatility
// produces non-finite fields. Use Price for a checked call.
func PriceAndGreeks(spot, strike, days, rate, vol float64, kind model.OptionKind) model.GreekSet {
	T := math.Max(days/model.DaysPerYear, model.MinYearFraction)
	sqrtT := math.Sqrt(T)
	volSqrtT := vol * sqrtT

	d1 := (math.Log(spot/strike) + (rate+0.5*vol*vol)*T) / volSqrtT
	d2 := d1 - volSqrtT

	df := math.Exp(-rate * T)
	pdf := normPDF(d1)

	var g model.GreekSet
	var carry float64
	if kind == model.Call {
		g.Price = spot*normCDF(d1) - strike*df*normCDF(d2)
		g.Delta = normCDF(d1)
		carry = normCDF(d2)
	} else {
		g.Price = strike*df*normCDF(-d2) - spot*normCDF(-d1)
		g.Delta = normCDF(d1) - 1
		carry = normCDF(-d2)
	}

	g.Gamma = pdf / (spot * volSqrtT)
	g.Vega = spot * pdf * sqrtT * vegaScale
	g.Theta = (-(spot*pdf*vol)/(2*sqrtT) - rate*strike*df*carry) / model.DaysPerYear
	return g
}

// Price validates its inputs and returns PriceAndGreeks. It fails with
// model.ErrInvalidInput when spot, strike or vol is not positive, or when
// any input is non-finite.
func Price(spot, strike, days, rate, vol float64, kind model.OptionKind) (model.GreekSet, error) {
	market := model.MarketSnapshot{Spot: spot, Rate: rate, Vol: vol}
	if err := market.Validate(); err != nil {
		return model.GreekSet{}, err
	}
	spec := model.ContractSpec{Kind: kind, Strike: strike, DaysToExpiry: days}
	if err := spec.Validate(); err != nil {
		return model.GreekSet{}, err
	}
	return PriceAndGreeks(spot, strike, days, rate, vol, kind), nil
}

// PriceContract prices spec under market with validation.
func PriceContract(spec model.ContractSpec, market model.MarketSnapshot) (model.GreekSet, error) {
	g, err := Price(market.Spot, spec.Strike, spec.DaysToExpiry, market.Rate, market.Vol, spec.Kind)
	if err != nil {
		return model.GreekSet{}, fmt.Errorf("price %s K=%v: %w", spec.Kind, spec.Strike, err)
	}
	return g, nil
}

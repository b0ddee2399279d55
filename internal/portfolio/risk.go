package portfolio

import (
	"math"

	"github.com/PurpleRainAndMJ/Options-Risks/internal/model"
)

// RiskLimits are absolute thresholds on portfolio exposures. A zero field
// disables that check.
type RiskLimits struct {
	MaxAbsDelta   float64 `json:"max_abs_delta" yaml:"max_abs_delta"`
	MaxAbsGamma   float64 `json:"max_abs_gamma" yaml:"max_abs_gamma"`
	MaxAbsVega    float64 `json:"max_abs_vega" yaml:"max_abs_vega"`
	MaxDailyTheta float64 `json:"max_daily_theta" yaml:"max_daily_theta"` // max daily decay, positive number
	MaxStressLoss float64 `json:"max_stress_loss" yaml:"max_stress_loss"` // max loss on any stress point, positive number
}

// Limit names used in Breach.Limit and metric labels.
const (
	LimitDelta  = "delta"
	LimitGamma  = "gamma"
	LimitVega   = "vega"
	LimitTheta  = "theta"
	LimitStress = "stress_loss"
)

// Enabled reports whether any limit is set.
func (l RiskLimits) Enabled() bool {
	return l.MaxAbsDelta > 0 || l.MaxAbsGamma > 0 || l.MaxAbsVega > 0 ||
		l.MaxDailyTheta > 0 || l.MaxStressLoss > 0
}

// CheckLimits compares totals and the stress result against l.
// Breaches are returned in a fixed order: delta, gamma, vega, theta, stress.
func CheckLimits(l RiskLimits, totals model.PortfolioTotals, stress model.StressResult) []model.Breach {
	var out []model.Breach
	check := func(name string, v, threshold float64) {
		if threshold > 0 && v > threshold {
			out = append(out, model.Breach{Limit: name, Value: v, Threshold: threshold})
		}
	}
	check(LimitDelta, math.Abs(totals.Delta), l.MaxAbsDelta)
	check(LimitGamma, math.Abs(totals.Gamma), l.MaxAbsGamma)
	check(LimitVega, math.Abs(totals.Vega), l.MaxAbsVega)
	check(LimitTheta, -totals.Theta, l.MaxDailyTheta)
	check(LimitStress, -stress.WorstLoss(), l.MaxStressLoss)
	return out
}

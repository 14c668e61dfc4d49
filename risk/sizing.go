package risk

import (
	"math"
	"strings"

	"axfl/market"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION SIZING - Units from stop distance
// ═══════════════════════════════════════════════════════════════════════════════
//
// Formula:
//   risk_usd      = equity * risk_fraction
//   distance_pips = max(0.1, |entry - sl| / pip)
//   per_unit_loss = distance_pips * pip_value / 100_000
//   units         = max(1, floor(risk_usd / per_unit_loss))
//
// Dollar-to-unit conversion ignores cross-currency effects on purpose.
//
// ═══════════════════════════════════════════════════════════════════════════════

// PipValueUSD returns dollars per pip per 100,000 units: $10 for USD-quote
// majors and USD-base pairs, $1,000 for gold.
func PipValueUSD(symbol string) float64 {
	s := strings.ToUpper(symbol)
	switch {
	case strings.HasPrefix(s, "XAU"):
		return 1000
	case strings.HasPrefix(s, "XAG"):
		return 500
	default:
		return 10
	}
}

// UnitsFromRisk sizes a position from equity and a risk fraction.
func UnitsFromRisk(symbol string, entry, sl, equity, riskFraction float64) int {
	return UnitsFromRiskUSD(symbol, entry, sl, equity*riskFraction)
}

// UnitsFromRiskUSD sizes a position from a dollar risk budget. Returns 0 when
// the budget or the stop distance cannot support a position.
func UnitsFromRiskUSD(symbol string, entry, sl, riskUSD float64) int {
	if riskUSD <= 0 {
		return 0
	}
	pip := market.PipSize(symbol)
	distPips := math.Abs(entry-sl) / pip
	if distPips < 0.1 {
		distPips = 0.1
	}
	perUnit := distPips * PipValueUSD(symbol) / 100_000
	if perUnit <= 0 {
		return 0
	}
	units := int(math.Floor(riskUSD / perUnit))
	if units < 1 {
		units = 1
	}
	return units
}

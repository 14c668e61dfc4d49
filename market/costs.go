package market

import (
	"github.com/markcheno/go-talib"

	"axfl/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// COSTS - Spread + slippage model
// ═══════════════════════════════════════════════════════════════════════════════
//
// Execution adds half the spread plus a slippage of max(1 pip, ATR/1000) on
// entry and subtracts the same on exit. Signs reverse for shorts.
//
// ═══════════════════════════════════════════════════════════════════════════════

// CostModel resolves per-symbol spreads. A per-symbol override wins over the
// flat default; absent both, the built-in table applies.
type CostModel struct {
	SpreadPips map[string]float64 // per-symbol override, in pips
	FlatPips   float64            // flat default, 0 = use built-in table
}

// SpreadFor returns the spread for a symbol in price units.
func (c CostModel) SpreadFor(symbol string) float64 {
	pips := DefaultSpreadPips(symbol)
	if c.FlatPips > 0 {
		pips = c.FlatPips
	}
	if v, ok := c.SpreadPips[symbol]; ok {
		pips = v
	}
	return pips * PipSize(symbol)
}

// Slippage is max(1 pip, ATR/1000) in price units.
func Slippage(symbol string, atr float64) float64 {
	pip := PipSize(symbol)
	s := atr / 1000
	if s < pip {
		s = pip
	}
	return s
}

// EntryPrice applies entry costs to a raw fill price.
func (c CostModel) EntryPrice(symbol string, side types.Side, price, atr float64) float64 {
	adj := c.SpreadFor(symbol)/2 + Slippage(symbol, atr)
	if side == types.Short {
		return price - adj
	}
	return price + adj
}

// ExitPrice applies exit costs to a raw fill price.
func (c CostModel) ExitPrice(symbol string, side types.Side, price, atr float64) float64 {
	adj := c.SpreadFor(symbol)/2 + Slippage(symbol, atr)
	if side == types.Short {
		return price + adj
	}
	return price - adj
}

// ATR14 is the 14-bar true-range moving average over a bar window.
// Returns 0 when the window is too short.
func ATR14(bars []types.Bar) float64 {
	const period = 14
	if len(bars) < period+1 {
		return 0
	}
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
		closes[i] = b.Close
	}
	atr := talib.Atr(highs, lows, closes, period)
	return atr[len(atr)-1]
}

// ATRSeries returns the full ATR-14 series for a bar window; leading values
// before the warm-up period are zero.
func ATRSeries(bars []types.Bar, period int) []float64 {
	if len(bars) < period+1 {
		return make([]float64, len(bars))
	}
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
		closes[i] = b.Close
	}
	return talib.Atr(highs, lows, closes, period)
}

package risk

import (
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"axfl/market"
	"axfl/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// INVERSE-VOLATILITY WEIGHTS - Risk-parity allocation across symbols
// ═══════════════════════════════════════════════════════════════════════════════

// WeightConfig controls the risk-parity allocator.
type WeightConfig struct {
	Enabled      bool
	LookbackDays int
	Floor        float64
	Cap          float64
	// Session hours filter for the 5-minute history, UTC.
	SessionStartH int
	SessionEndH   int
}

// DefaultWeightConfig mirrors the schedule defaults: 07:00-16:00 UTC session,
// weights clamped to [0.1, 0.5].
func DefaultWeightConfig() WeightConfig {
	return WeightConfig{
		Enabled:       true,
		LookbackDays:  10,
		Floor:         0.1,
		Cap:           0.5,
		SessionStartH: 7,
		SessionEndH:   16,
	}
}

// fallbackVolPips is used when a symbol lacks enough history.
const fallbackVolPips = 8.0

// InverseVolWeights computes per-symbol weights from 5-minute history.
// Raw weight is 1/vol_pips where vol_pips = mean(ATR14)/pip over session
// hours; weights are clamped to [floor, cap] and renormalized to 1.
// Returns the weights and the realized vol (in pips) per symbol.
func InverseVolWeights(history map[string][]types.Bar, cfg WeightConfig) (map[string]float64, map[string]float64) {
	symbols := make([]string, 0, len(history))
	for s := range history {
		symbols = append(symbols, s)
	}
	if len(symbols) == 0 {
		return map[string]float64{}, map[string]float64{}
	}

	vols := make(map[string]float64, len(symbols))
	raw := make(map[string]float64, len(symbols))
	failed := 0
	for _, sym := range symbols {
		vol, ok := realizedVolPips(sym, history[sym], cfg)
		if !ok {
			vol = fallbackVolPips
			failed++
			log.Warn().Str("symbol", sym).Float64("fallback_vol_pips", vol).
				Msg("insufficient history for vol weight, using fallback")
		}
		vols[sym] = vol
		raw[sym] = 1 / vol
	}

	if failed == len(symbols) {
		log.Warn().Msg("vol weighting failed for all symbols, using equal weights")
		return EqualWeights(symbols), vols
	}

	// Clamp then renormalize.
	sum := 0.0
	for _, sym := range symbols {
		w := raw[sym]
		if w < cfg.Floor {
			w = cfg.Floor
		}
		if w > cfg.Cap {
			w = cfg.Cap
		}
		raw[sym] = w
		sum += w
	}
	weights := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		weights[sym] = raw[sym] / sum
	}
	return weights, vols
}

// realizedVolPips computes mean(ATR14)/pip over session-hour bars.
func realizedVolPips(symbol string, bars []types.Bar, cfg WeightConfig) (float64, bool) {
	session := bars[:0:0]
	for _, b := range bars {
		h := b.Time.UTC().Hour()
		if h >= cfg.SessionStartH && h < cfg.SessionEndH {
			session = append(session, b)
		}
	}
	// Roughly lookback_days of session 5-minute bars.
	minBars := cfg.LookbackDays * (cfg.SessionEndH - cfg.SessionStartH) * 12 / 2
	if minBars < 30 {
		minBars = 30
	}
	if len(session) < minBars {
		return 0, false
	}
	series := market.ATRSeries(session, 14)
	vals := series[:0:0]
	for _, v := range series {
		if v > 0 {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return 0, false
	}
	mean := stat.Mean(vals, nil)
	vol := mean / market.PipSize(symbol)
	if vol <= 0 {
		return 0, false
	}
	return vol, true
}

// EqualWeights degrades to the equal share 1/N.
func EqualWeights(symbols []string) map[string]float64 {
	w := make(map[string]float64, len(symbols))
	if len(symbols) == 0 {
		return w
	}
	share := 1 / float64(len(symbols))
	for _, s := range symbols {
		w[s] = share
	}
	return w
}

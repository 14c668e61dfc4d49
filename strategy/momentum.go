package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"axfl/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MOMO - Baseline EMA-cross session strategy
// ═══════════════════════════════════════════════════════════════════════════════
//
// Long when the fast EMA crosses above the slow EMA, short on the opposite
// cross. Stop at atr_mult×ATR14 from the close, target at tp_mult×ATR14.
// Stateless: indicators are re-derived after every bar.
//
// ═══════════════════════════════════════════════════════════════════════════════

func init() {
	Register("momo", Params{
		"fast":     12,
		"slow":     48,
		"atr_mult": 1.5,
		"tp_mult":  2.0,
	}, func(p Params) Strategy { return &Momentum{params: p} })
}

// Momentum is the momo strategy.
type Momentum struct {
	params Params

	fast []float64
	slow []float64
	atr  []float64

	emitted int
}

func (m *Momentum) Name() string    { return "momo" }
func (m *Momentum) Stateless() bool { return true }

// Prepare recomputes the EMA and ATR series over the window.
func (m *Momentum) Prepare(bars []types.Bar) {
	fast := int(m.params.Get("fast", 12))
	slow := int(m.params.Get("slow", 48))
	if len(bars) <= slow || len(bars) < 15 {
		m.fast, m.slow, m.atr = nil, nil, nil
		return
	}
	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
	}
	m.fast = talib.Ema(closes, fast)
	m.slow = talib.Ema(closes, slow)
	m.atr = talib.Atr(highs, lows, closes, 14)
}

// Signals emits at most one intent per bar, on an EMA cross.
func (m *Momentum) Signals(bars []types.Bar, i int) []types.Intent {
	if i < 1 || i >= len(m.fast) || m.fast == nil {
		return nil
	}
	if m.slow[i] == 0 || m.slow[i-1] == 0 || m.atr[i] == 0 {
		return nil
	}

	crossedUp := m.fast[i-1] <= m.slow[i-1] && m.fast[i] > m.slow[i]
	crossedDown := m.fast[i-1] >= m.slow[i-1] && m.fast[i] < m.slow[i]
	if !crossedUp && !crossedDown {
		return nil
	}

	atrMult := m.params.Get("atr_mult", 1.5)
	tpMult := m.params.Get("tp_mult", 2.0)
	close := bars[i].Close
	risk := atrMult * m.atr[i]

	intent := types.Intent{
		Action: "open",
		Price:  close,
	}
	if crossedUp {
		intent.Side = types.Long
		intent.SL = close - risk
		intent.TP = close + tpMult*m.atr[i]
		intent.Notes = fmt.Sprintf("momo cross up fast=%.5f slow=%.5f", m.fast[i], m.slow[i])
	} else {
		intent.Side = types.Short
		intent.SL = close + risk
		intent.TP = close - tpMult*m.atr[i]
		intent.Notes = fmt.Sprintf("momo cross down fast=%.5f slow=%.5f", m.fast[i], m.slow[i])
	}
	m.emitted++
	return []types.Intent{intent}
}

// Snapshot exposes effective parameters and counters.
func (m *Momentum) Snapshot() map[string]float64 {
	out := map[string]float64{"signals_emitted": float64(m.emitted)}
	for k, v := range m.params {
		out[k] = v
	}
	return out
}

package engine

import (
	"github.com/rs/zerolog/log"

	"axfl/clock"
	"axfl/market"
	"axfl/risk"
	"axfl/strategy"
	"axfl/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SUB-ENGINE - Per (symbol, strategy) position lifecycle
// ═══════════════════════════════════════════════════════════════════════════════
//
// Holds one prepared bar window and at most one open position. SL/TP/TIME
// checks run on every bar regardless of gates so open positions close
// deterministically; new entries are requested only when the caller says the
// gates hold. Sub-engines are owned by the dispatcher and are not
// concurrency-safe.
//
// ═══════════════════════════════════════════════════════════════════════════════

// maxWindowBars caps the prepared window length.
const maxWindowBars = 5000

// SubEngine drives one strategy on one symbol.
type SubEngine struct {
	Symbol       string
	StrategyName string

	strat   strategy.Strategy
	windows []clock.Window
	costs   market.CostModel

	bars   []types.Bar
	pos    *types.Position
	trades []types.Trade

	skippedBars int // strategy panics swallowed
}

// NewSubEngine seeds a sub-engine with a copy of the warm-up bars.
func NewSubEngine(symbol string, strat strategy.Strategy, windows []clock.Window, costs market.CostModel, warmup []types.Bar) *SubEngine {
	e := &SubEngine{
		Symbol:       symbol,
		StrategyName: strat.Name(),
		strat:        strat,
		windows:      windows,
		costs:        costs,
		bars:         append([]types.Bar(nil), warmup...),
	}
	e.prepare()
	return e
}

// prepare runs the strategy's prepare step, swallowing panics so one broken
// strategy cannot take the dispatcher down.
func (e *SubEngine) prepare() (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.skippedBars++
			log.Error().Str("symbol", e.Symbol).Str("strategy", e.StrategyName).
				Interface("panic", r).Msg("strategy prepare panicked, skipping bar")
			ok = false
		}
	}()
	e.strat.Prepare(e.bars)
	return true
}

// ProcessBar appends the bar, refreshes indicators for stateless strategies
// and runs the SL/TP/TIME close checks. Returns the closed trade, if any.
func (e *SubEngine) ProcessBar(bar types.Bar) *types.Trade {
	e.bars = append(e.bars, bar)
	if len(e.bars) > maxWindowBars {
		e.bars = e.bars[len(e.bars)-maxWindowBars:]
	}
	if e.strat.Stateless() {
		if !e.prepare() {
			return nil
		}
	}

	if e.pos == nil {
		return nil
	}

	p := e.pos
	atr := market.ATR14(e.bars)
	switch p.Side {
	case types.Long:
		// Loss-first: SL wins when both are touched inside the same bar.
		if bar.Low <= p.SL {
			return e.closeAt(bar, p.SL, atr, types.ReasonSL)
		}
		if p.TP > 0 && bar.High >= p.TP {
			return e.closeAt(bar, p.TP, atr, types.ReasonTP)
		}
	case types.Short:
		if bar.High >= p.SL {
			return e.closeAt(bar, p.SL, atr, types.ReasonSL)
		}
		if p.TP > 0 && bar.Low <= p.TP {
			return e.closeAt(bar, p.TP, atr, types.ReasonTP)
		}
	}

	// First bar outside every session window closes the position.
	if !clock.InAny(bar.Time, e.windows) {
		return e.closeAt(bar, bar.Close, atr, types.ReasonTime)
	}
	return nil
}

// TryOpen asks the strategy for intents on the latest bar and opens on the
// first admissible one. riskUSD is the per-trade dollar budget, already
// scaled by the symbol weight. Returns the opened position, or nil.
func (e *SubEngine) TryOpen(bar types.Bar, riskUSD float64) *types.Position {
	if e.pos != nil || len(e.bars) == 0 {
		return nil
	}
	intents := e.signals()
	for _, in := range intents {
		if in.Action != "open" || in.SL == 0 {
			continue
		}
		units := risk.UnitsFromRiskUSD(e.Symbol, in.Price, in.SL, riskUSD)
		if units <= 0 {
			log.Debug().Str("symbol", e.Symbol).Str("strategy", e.StrategyName).
				Msg("intent rejected, zero size")
			continue
		}
		atr := market.ATR14(e.bars)
		entry := e.costs.EntryPrice(e.Symbol, in.Side, in.Price, atr)
		e.pos = &types.Position{
			Side:      in.Side,
			EntryTime: bar.Time,
			Entry:     entry,
			InitialSL: in.SL,
			SL:        in.SL,
			TP:        in.TP,
			Size:      float64(units),
			Notes:     in.Notes,
		}
		log.Info().Str("symbol", e.Symbol).Str("strategy", e.StrategyName).
			Str("side", string(in.Side)).Float64("entry", entry).
			Float64("sl", in.SL).Float64("tp", in.TP).Int("units", units).
			Time("bar", bar.Time).Msg("position opened")
		return e.pos
	}
	return nil
}

// signals queries the strategy for the latest bar index, swallowing panics.
func (e *SubEngine) signals() (out []types.Intent) {
	defer func() {
		if r := recover(); r != nil {
			e.skippedBars++
			log.Error().Str("symbol", e.Symbol).Str("strategy", e.StrategyName).
				Interface("panic", r).Msg("strategy signals panicked, skipping bar")
			out = nil
		}
	}()
	return e.strat.Signals(e.bars, len(e.bars)-1)
}

// CloseAtEnd force-closes an open position at the last bar's close. Used by
// the end-of-data sweep in replay mode.
func (e *SubEngine) CloseAtEnd() *types.Trade {
	if e.pos == nil || len(e.bars) == 0 {
		return nil
	}
	last := e.bars[len(e.bars)-1]
	return e.closeAt(last, last.Close, market.ATR14(e.bars), types.ReasonEndOfData)
}

func (e *SubEngine) closeAt(bar types.Bar, rawExit, atr float64, reason types.Reason) *types.Trade {
	p := e.pos
	exit := e.costs.ExitPrice(e.Symbol, p.Side, rawExit, atr)

	pnl := (exit - p.Entry) * p.Size
	if p.Side == types.Short {
		pnl = -pnl
	}
	initialRisk := abs(p.Entry-p.InitialSL) * p.Size
	r := 0.0
	if initialRisk > 0 {
		r = pnl / initialRisk
	}

	t := types.Trade{
		Symbol:    e.Symbol,
		Strategy:  e.StrategyName,
		Side:      p.Side,
		EntryTime: p.EntryTime,
		Entry:     p.Entry,
		ExitTime:  bar.Time,
		Exit:      exit,
		Size:      p.Size,
		PnL:       pnl,
		RMultiple: r,
		Reason:    reason,
		Notes:     p.Notes,

		AxflID:        p.AxflID,
		BrokerOrderID: p.BrokerOrderID,
	}
	e.trades = append(e.trades, t)
	e.pos = nil

	log.Info().Str("symbol", e.Symbol).Str("strategy", e.StrategyName).
		Str("side", string(t.Side)).Str("reason", string(reason)).
		Float64("exit", exit).Float64("pnl", pnl).Float64("r", r).
		Time("bar", bar.Time).Msg("position closed")
	return &t
}

// Position returns the open position, or nil when flat.
func (e *SubEngine) Position() *types.Position { return e.pos }

// Trades returns the completed trade log.
func (e *SubEngine) Trades() []types.Trade { return e.trades }

// Windows returns the strategy's session windows.
func (e *SubEngine) Windows() []clock.Window { return e.windows }

// InWindow reports whether t is inside at least one session window.
func (e *SubEngine) InWindow(t types.Bar) bool { return clock.InAny(t.Time, e.windows) }

// Snapshot merges the strategy's counters with the sub-engine's own.
func (e *SubEngine) Snapshot() map[string]float64 {
	s := e.strat.Snapshot()
	s["skipped_bars"] = float64(e.skippedBars)
	s["trades"] = float64(len(e.trades))
	return s
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

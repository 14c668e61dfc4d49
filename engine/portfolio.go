package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"axfl/broker"
	"axfl/clock"
	"axfl/config"
	"axfl/feeds"
	"axfl/journal"
	"axfl/market"
	"axfl/news"
	"axfl/notify"
	"axfl/risk"
	"axfl/strategy"
	"axfl/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PORTFOLIO ENGINE - Bar dispatcher, gates, global risk
// ═══════════════════════════════════════════════════════════════════════════════
//
// The engine owns the sub-engines, the per-symbol cascades, the risk state
// and the journal/broker/notifier collaborators. One logical dispatcher: all
// sub-engine mutation, journal writes and broker calls happen on the dispatch
// goroutine.
//
// ═══════════════════════════════════════════════════════════════════════════════

// brokerTimeout bounds every broker call.
const brokerTimeout = 20 * time.Second

// newsLookaheadH is the news-window refresh horizon.
const newsLookaheadH = 4

// dayState tracks per-strategy per-day limits.
type dayState struct {
	Trades int
	CumR   float64
	Halted bool
}

// Counters are the gate-fail and mirroring counters surfaced in the status
// record.
type Counters struct {
	NewsBlocked    int
	BudgetBlocked  int
	RiskBlocked    int
	UnmappedTrades int
}

// Engine is the portfolio dispatcher.
type Engine struct {
	profile *config.Profile
	specs   []config.StrategySpec
	clk     clock.Clock
	costs   market.CostModel

	journal  *journal.Journal
	broker   broker.Adapter
	notifier *notify.Notifier
	calendar *news.Calendar
	history  feeds.HistorySource
	feed     *feeds.WSFeed

	subs     map[string][]*SubEngine
	cascades map[string]*feeds.Cascade

	weights map[string]float64
	vols    map[string]float64
	budgets risk.Budgets

	equity float64
	peak   float64
	ddPct  float64
	halted bool

	ddLockActive  bool
	ddLockSince   time.Time
	ddCooloffTill time.Time

	dayDate  string
	dayState map[string]*dayState

	newsWindows []news.Window
	counters    Counters
	reconcile   ReconcileSummary

	mode       string // replay | live
	effSource  string
	logDir     string
	firstBar   time.Time
	lastBar    time.Time
	lastStatus time.Time

	fatalErr error
}

// Options carries the engine's injected collaborators.
type Options struct {
	Profile  *config.Profile
	Specs    []config.StrategySpec
	Clock    clock.Clock
	Journal  *journal.Journal
	Broker   broker.Adapter // nil = paper only
	Notifier *notify.Notifier
	Calendar *news.Calendar // nil = news guard off
	History  feeds.HistorySource
	Equity   float64
	LogDir   string
}

// New wires an engine; Warmup must run before dispatch.
func New(o Options) *Engine {
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	if o.Equity <= 0 {
		o.Equity = 100000
	}
	e := &Engine{
		profile:  o.Profile,
		specs:    o.Specs,
		clk:      o.Clock,
		journal:  o.Journal,
		broker:   o.Broker,
		notifier: o.Notifier,
		calendar: o.Calendar,
		history:  o.History,
		subs:     make(map[string][]*SubEngine),
		cascades: make(map[string]*feeds.Cascade),
		dayState: make(map[string]*dayState),
		equity:   o.Equity,
		peak:     o.Equity, // peak resets at warm-up, not persisted
		logDir:   o.LogDir,
		costs: market.CostModel{
			SpreadPips: o.Profile.Spreads,
			FlatPips:   o.Profile.SpreadFlat,
		},
	}
	for _, spec := range o.Specs {
		e.dayState[spec.Name] = &dayState{}
	}
	return e
}

// Warmup loads per-symbol history, seeds the sub-engines and computes the
// weights and budgets. Fatal only when every source fails for every symbol.
func (e *Engine) Warmup(ctx context.Context) error {
	p := e.profile
	now := e.clk.Now()
	from := now.AddDate(0, 0, -p.WarmupDays)

	warm := make(map[string][]types.Bar, len(p.Symbols))
	failures := 0
	for _, sym := range p.Symbols {
		minutes, err := e.history.MinuteBars(ctx, sym, from, now)
		if err != nil || len(minutes) == 0 {
			log.Warn().Err(err).Str("symbol", sym).Msg("warm-up history unavailable")
			failures++
			continue
		}
		bars := feeds.AggregateMinutes(minutes)
		warm[sym] = bars
		log.Info().Str("symbol", sym).Int("bars_5m", len(bars)).Msg("warm-up loaded")
	}
	if failures == len(p.Symbols) {
		return fmt.Errorf("warm-up failed: no data for any of %v", p.Symbols)
	}

	names := make([]string, 0, len(e.specs))
	for _, spec := range e.specs {
		names = append(names, spec.Name)
	}

	for _, sym := range p.Symbols {
		e.cascades[sym] = feeds.NewCascade()
		for _, spec := range e.specs {
			strat, err := strategy.New(spec.Name, spec.Params)
			if err != nil {
				return fmt.Errorf("warm-up: %w", err)
			}
			windows, err := config.ParseWindows(spec.Windows)
			if err != nil {
				return fmt.Errorf("warm-up: %w", err)
			}
			sub := NewSubEngine(sym, strat, windows, e.costs, warm[sym])
			e.subs[sym] = append(e.subs[sym], sub)
		}
	}

	if p.RiskParity.Enabled {
		cfg := risk.DefaultWeightConfig()
		cfg.LookbackDays = p.RiskParity.LookbackD
		cfg.Floor = p.RiskParity.Floor
		cfg.Cap = p.RiskParity.Cap
		e.weights, e.vols = risk.InverseVolWeights(warm, cfg)
	} else {
		e.weights = risk.EqualWeights(p.Symbols)
		e.vols = map[string]float64{}
	}
	e.budgets = risk.ComputeBudgets(e.equity, names, p.Risk.DailyRiskFraction, p.Risk.PerTradeFraction)
	e.dayDate = now.Format("2006-01-02")

	log.Info().Int("symbols", len(p.Symbols)).Int("strategies", len(names)).
		Float64("equity", e.equity).Interface("weights", e.weights).
		Msg("warm-up complete")
	return nil
}

// processSymbolBar applies date rollover, the DD lock, the weekend gate and
// the news refresh, then fans the bar into the symbol's sub-engines.
func (e *Engine) processSymbolBar(symbol string, bar types.Bar) {
	if e.firstBar.IsZero() {
		e.firstBar = bar.Time
	}
	e.lastBar = bar.Time

	e.rollDate(bar.Time)
	e.evalDDLock()

	// Weekend bars pass through aggregation but are ignored here.
	if clock.IsWeekend(bar.Time) {
		return
	}

	if e.calendar != nil && e.profile.NewsGuard.Enabled {
		g := e.profile.NewsGuard
		e.newsWindows = news.HighImpact(
			e.calendar.Upcoming(bar.Time, g.PadBeforeM, g.PadAfterM, newsLookaheadH))
	}

	openCount := 0
	for _, sub := range e.subs[symbol] {
		if sub.Position() != nil {
			openCount++
		}
	}

	for _, sub := range e.subs[symbol] {
		// SL/TP/TIME logic runs regardless of gates.
		if closed := sub.ProcessBar(bar); closed != nil {
			openCount--
			e.onTradeClosed(sub, closed)
		}
		if sub.Position() != nil {
			continue
		}
		if !e.entryAllowed(sub, bar, openCount) {
			continue
		}
		riskUSD := e.budgets.PerTradeR * e.weights[symbol]
		if opened := sub.TryOpen(bar, riskUSD); opened != nil {
			openCount++
			e.dayState[sub.StrategyName].Trades++
			e.mirrorOpen(sub, opened, bar)
		}
	}
}

// entryAllowed evaluates the gate conjunction in its fixed order. The first
// failing gate records a counter; none of these raise.
func (e *Engine) entryAllowed(sub *SubEngine, bar types.Bar, openCount int) bool {
	if !sub.InWindow(bar) {
		return false
	}
	if e.halted {
		e.counters.RiskBlocked++
		return false
	}
	if news.InEventWindow(sub.Symbol, bar.Time, e.newsWindows) {
		e.counters.NewsBlocked++
		log.Debug().Str("symbol", sub.Symbol).Str("strategy", sub.StrategyName).
			Msg("entry refused, news blackout")
		return false
	}
	ds := e.dayState[sub.StrategyName]
	budget := e.budgets.PerStrategy[sub.StrategyName]
	spentUSD := abs(ds.CumR) * e.budgets.PerTradeR
	if budget > 0 && spentUSD >= budget {
		e.counters.BudgetBlocked++
		return false
	}
	if ds.Halted || ds.Trades >= e.profile.Risk.PerStrategyDailyTrades {
		e.counters.BudgetBlocked++
		return false
	}
	if openCount >= e.profile.Risk.MaxOpenPositions {
		e.counters.RiskBlocked++
		return false
	}
	return true
}

// onTradeClosed journals the close, updates equity/drawdown and evaluates
// the global daily stop and the DD lock.
func (e *Engine) onTradeClosed(sub *SubEngine, t *types.Trade) {
	ds := e.dayState[sub.StrategyName]
	ds.CumR += t.RMultiple
	if ds.CumR <= e.profile.Risk.PerStrategyDailyStopR {
		ds.Halted = true
		log.Warn().Str("strategy", sub.StrategyName).Float64("cum_r", ds.CumR).
			Msg("per-strategy daily stop hit")
	}

	e.equity += t.PnL
	if e.equity > e.peak {
		e.peak = e.equity
	}
	e.ddPct = (e.peak - e.equity) / e.peak * 100

	e.mirrorClose(sub, t)

	// Global daily stop over the summed per-strategy R.
	total := 0.0
	for _, s := range e.dayState {
		total += s.CumR
	}
	if !e.halted && total <= e.profile.Risk.GlobalDailyStopR {
		e.halted = true
		e.logEvent("WARN", "global_daily_stop",
			fmt.Sprintf("total_r=%.2f stop=%.2f", total, e.profile.Risk.GlobalDailyStopR))
		e.alert(fmt.Sprintf("global daily stop hit: R=%.2f, halted until next UTC date", total))
	}

	dd := e.profile.DDLock
	if dd.Enabled && !e.ddLockActive && e.ddPct >= dd.TrailingPct {
		now := e.clk.Now()
		e.ddLockActive = true
		e.ddLockSince = now
		e.ddCooloffTill = now.Add(time.Duration(dd.CooloffMin) * time.Minute)
		e.halted = true
		e.logEvent("WARN", "dd_lock",
			fmt.Sprintf("dd_pct=%.2f trailing=%.2f cooloff_until=%s",
				e.ddPct, dd.TrailingPct, e.ddCooloffTill.Format(time.RFC3339)))
		e.alert(fmt.Sprintf("drawdown lock engaged: dd=%.2f%%, cooloff %d min", e.ddPct, dd.CooloffMin))
	}
}

// evalDDLock clears or extends an active lock at the cooloff boundary.
func (e *Engine) evalDDLock() {
	if !e.ddLockActive {
		return
	}
	now := e.clk.Now()
	if now.Before(e.ddCooloffTill) {
		return
	}
	e.ddPct = (e.peak - e.equity) / e.peak * 100
	if e.ddPct < e.profile.DDLock.TrailingPct {
		e.ddLockActive = false
		e.halted = false
		e.logEvent("INFO", "dd_lock_cleared", fmt.Sprintf("dd_pct=%.2f", e.ddPct))
		e.alert(fmt.Sprintf("drawdown lock cleared: dd=%.2f%%, trading resumes", e.ddPct))
		return
	}
	e.ddCooloffTill = now.Add(time.Duration(e.profile.DDLock.CooloffMin) * time.Minute)
	log.Warn().Float64("dd_pct", e.ddPct).Time("cooloff_until", e.ddCooloffTill).
		Msg("drawdown still above threshold, cooloff extended")
}

// rollDate resets the daily state on the first bar of a new UTC date.
// The global halt clears unless the DD lock is still holding it.
func (e *Engine) rollDate(t time.Time) {
	date := t.UTC().Format("2006-01-02")
	if date == e.dayDate {
		return
	}
	e.dayDate = date
	for _, ds := range e.dayState {
		ds.Trades = 0
		ds.CumR = 0
		ds.Halted = false
	}
	if !e.ddLockActive {
		e.halted = false
	}
	log.Info().Str("date", date).Msg("new UTC date, daily state reset")
}

// logEvent writes to the journal's append-only event table, best-effort.
func (e *Engine) logEvent(level, kind, payload string) {
	if e.journal != nil {
		e.journal.LogEvent(level, kind, payload)
	}
}

// alert fires a best-effort notification.
func (e *Engine) alert(text string) {
	if e.notifier != nil {
		e.notifier.Notify(text)
	}
}

// Equity returns the running paper equity.
func (e *Engine) Equity() float64 { return e.equity }

// Halted reports whether new entries are globally refused.
func (e *Engine) Halted() bool { return e.halted }

// FatalErr returns the error that should make the process exit non-zero.
func (e *Engine) FatalErr() error { return e.fatalErr }

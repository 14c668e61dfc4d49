package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STATUS EMITTER - One delimited record for the whole portfolio
// ═══════════════════════════════════════════════════════════════════════════════

const (
	statusBegin = "===AXFL-STATUS==="
	statusEnd   = "===END==="
)

// EmitStatus renders the portfolio snapshot between the sentinel lines on
// stdout and appends it to the daily log file.
func (e *Engine) EmitStatus() {
	record := e.statusRecord()
	fmt.Println(statusBegin)
	fmt.Println(record)
	fmt.Println(statusEnd)
	e.appendDailyLog(record)
}

func (e *Engine) statusRecord() string {
	var b strings.Builder
	kv := func(k string, v any) {
		fmt.Fprintf(&b, "%s=%v;", k, v)
	}
	ts := func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format(time.RFC3339)
	}

	kv("ts", ts(e.clk.Now()))
	kv("mode", e.mode)
	kv("source", e.effSource)
	kv("interval", e.profile.Interval)
	kv("first_bar", ts(e.firstBar))
	kv("last_bar", ts(e.lastBar))

	// Sub-engines with their effective parameters, schedule order.
	var subKeys []string
	for sym := range e.subs {
		subKeys = append(subKeys, sym)
	}
	sort.Strings(subKeys)
	var engines []string
	for _, sym := range subKeys {
		for _, sub := range e.subs[sym] {
			snap := sub.Snapshot()
			var params []string
			for k, v := range snap {
				params = append(params, fmt.Sprintf("%s:%g", k, v))
			}
			sort.Strings(params)
			engines = append(engines, fmt.Sprintf("%s/%s{%s}", sym, sub.StrategyName, strings.Join(params, " ")))
		}
	}
	kv("engines", strings.Join(engines, ","))

	// Open positions.
	var open []string
	for _, sym := range subKeys {
		for _, sub := range e.subs[sym] {
			p := sub.Position()
			if p == nil {
				continue
			}
			open = append(open, fmt.Sprintf("%s/%s:%s@%.5f sl=%.5f tp=%.5f units=%.0f since=%s",
				sym, sub.StrategyName, p.Side, p.Entry, p.SL, p.TP, p.Size, ts(p.EntryTime)))
		}
	}
	kv("open_positions", strings.Join(open, ","))

	// Aggregated R and PnL, totals and per-strategy.
	totalR, totalPnL := 0.0, 0.0
	perStrat := map[string][2]float64{}
	for _, subs := range e.subs {
		for _, sub := range subs {
			for _, t := range sub.Trades() {
				totalR += t.RMultiple
				totalPnL += t.PnL
				v := perStrat[t.Strategy]
				perStrat[t.Strategy] = [2]float64{v[0] + t.RMultiple, v[1] + t.PnL}
			}
		}
	}
	kv("total_r", fmt.Sprintf("%.3f", totalR))
	kv("total_pnl", fmt.Sprintf("%.2f", totalPnL))
	var stratParts []string
	for name, v := range perStrat {
		ds := e.dayState[name]
		stratParts = append(stratParts, fmt.Sprintf("%s:r=%.3f pnl=%.2f day_r=%.3f day_trades=%d halted=%v",
			name, v[0], v[1], ds.CumR, ds.Trades, ds.Halted))
	}
	sort.Strings(stratParts)
	kv("per_strategy", strings.Join(stratParts, ","))

	// Halt / DD / lock.
	kv("equity", fmt.Sprintf("%.2f", e.equity))
	kv("peak_equity", fmt.Sprintf("%.2f", e.peak))
	kv("dd_pct", fmt.Sprintf("%.3f", e.ddPct))
	kv("halted", e.halted)
	kv("dd_lock_active", e.ddLockActive)
	kv("dd_lock_since", ts(e.ddLockSince))
	kv("dd_lock_cooloff_until", ts(e.ddCooloffTill))

	// Budgets, weights, realized vol.
	kv("budget_daily_r", fmt.Sprintf("%.2f", e.budgets.DailyRTotal))
	kv("budget_per_trade", fmt.Sprintf("%.2f", e.budgets.PerTradeR))
	kv("weights", mapStr(e.weights, "%.3f"))
	kv("vol_pips", mapStr(e.vols, "%.1f"))

	// Gate counters, reconcile, journal.
	kv("news_blocked", e.counters.NewsBlocked)
	kv("budget_blocked", e.counters.BudgetBlocked)
	kv("risk_blocked", e.counters.RiskBlocked)
	kv("unmapped_trades", e.counters.UnmappedTrades)
	kv("reconcile", fmt.Sprintf("ran=%v orphans=%d flattened=%d linked=%d pending=%d errors=%d",
		e.reconcile.Ran, e.reconcile.Orphans, e.reconcile.Flattened,
		e.reconcile.Linked, e.reconcile.Pending, len(e.reconcile.Errors)))
	if e.journal != nil {
		o, t, m, ev := e.journal.Counts()
		kv("journal", fmt.Sprintf("orders=%d trades=%d maps=%d events=%d", o, t, m, ev))
	}

	// Cost configuration.
	kv("spread_flat_pips", e.costs.FlatPips)
	kv("spread_overrides", mapStr(e.costs.SpreadPips, "%.1f"))

	// Collaborator stats.
	if e.broker != nil {
		bs := e.broker.Stats()
		kv("broker", fmt.Sprintf("connected=%v errors=%d env=%s last_error=%q",
			bs.Connected, bs.Errors, bs.Env, bs.LastError))
	}
	if e.feed != nil {
		ws := e.feed.Stats()
		kv("ws", fmt.Sprintf("connected=%v reconnects=%d rotations=%d dropped=%d key=%d last_msg=%s",
			ws.Connected, ws.Reconnects, ws.Rotations, ws.Dropped, ws.KeyIndex, ts(ws.LastMessage)))
	}
	if e.notifier != nil {
		sent, dropped, failed := e.notifier.Counters()
		kv("notify", fmt.Sprintf("sent=%d dropped=%d failed=%d", sent, dropped, failed))
	}

	return b.String()
}

func mapStr(m map[string]float64, format string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+fmt.Sprintf(format, m[k]))
	}
	return strings.Join(parts, " ")
}

// appendDailyLog writes the record to logs/status-YYYY-MM-DD.log, best-effort.
func (e *Engine) appendDailyLog(record string) {
	dir := e.logDir
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn().Err(err).Msg("status log dir")
		return
	}
	path := filepath.Join(dir, "status-"+e.clk.Now().Format("2006-01-02")+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("status log open")
		return
	}
	defer f.Close()
	fmt.Fprintln(f, statusBegin)
	fmt.Fprintln(f, record)
	fmt.Fprintln(f, statusEnd)
}

package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"axfl/feeds"
	"axfl/market"
	"axfl/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DISPATCH - Replay and websocket loops
// ═══════════════════════════════════════════════════════════════════════════════
//
// One dispatcher goroutine. Replay merges historical minute bars across
// symbols in timestamp order; live drains the feed's drop-oldest buffer. Both
// check the context at every loop boundary and emit a final status record on
// the way out.
//
// ═══════════════════════════════════════════════════════════════════════════════

// replayStatusEvery overrides the status cadence in replay mode.
const replayStatusEvery = 5 * time.Second

// replayPacing simulates streaming between merged ticks.
const replayPacing = time.Millisecond

// symbolBar is one merged replay tick.
type symbolBar struct {
	symbol string
	bar    types.Bar
}

// RunReplay loads recent minute bars, merges them across symbols in
// chronological order and pushes each through its symbol's cascade.
func (e *Engine) RunReplay(ctx context.Context) error {
	e.mode = "replay"
	e.effSource = e.history.Name()

	now := e.clk.Now()
	from := now.AddDate(0, 0, -e.profile.ReplayDays)

	var merged []symbolBar
	for _, sym := range e.profile.Symbols {
		bars, err := e.history.MinuteBars(ctx, sym, from, now)
		if err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("replay load failed")
			continue
		}
		for _, b := range bars {
			merged = append(merged, symbolBar{symbol: sym, bar: b})
		}
	}
	if len(merged) == 0 {
		return fmt.Errorf("replay: no data for any of %v", e.profile.Symbols)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].bar.Time.Before(merged[j].bar.Time)
	})
	log.Info().Int("ticks", len(merged)).Time("from", merged[0].bar.Time).
		Time("to", merged[len(merged)-1].bar.Time).Msg("replay stream loaded")

	for _, sb := range merged {
		select {
		case <-ctx.Done():
			e.endOfData()
			return nil
		default:
		}
		for _, bar := range e.cascades[sb.symbol].PushMinuteBar(sb.bar) {
			e.processSymbolBar(sb.symbol, bar)
		}
		if e.fatalErr != nil {
			e.EmitStatus()
			return e.fatalErr
		}
		e.maybeEmitStatus(replayStatusEvery)
		time.Sleep(replayPacing)
	}

	e.endOfData()
	return e.fatalErr
}

// endOfData flushes the cascades, sweeps open positions closed and emits the
// final status record.
func (e *Engine) endOfData() {
	for sym, cascade := range e.cascades {
		for _, bar := range cascade.Flush() {
			e.processSymbolBar(sym, bar)
		}
	}
	for _, subs := range e.subs {
		for _, sub := range subs {
			if closed := sub.CloseAtEnd(); closed != nil {
				e.onTradeClosed(sub, closed)
			}
		}
	}
	e.EmitStatus()
}

// RunLive connects the websocket feed and drains its buffer until the
// context is cancelled. Returns an error when the initial connect fails so
// the caller can degrade to replay.
func (e *Engine) RunLive(ctx context.Context, keys []string) error {
	e.mode = "live"
	e.effSource = "finnhub-ws"

	venueSyms := make([]string, 0, len(e.profile.Symbols))
	for _, sym := range e.profile.Symbols {
		venueSyms = append(venueSyms, market.VenueName(e.profile.Venue, sym))
	}
	feed := feeds.NewWSFeed(keys, venueSyms)
	if err := feed.Connect(); err != nil {
		return fmt.Errorf("live feed: %w", err)
	}
	e.feed = feed
	defer feed.Stop()

	statusEvery := time.Duration(e.profile.StatusEveryS) * time.Second
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.EmitStatus()
			log.Info().Msg("dispatch stopped")
			return nil
		case <-ticker.C:
			for _, tick := range feed.Drain() {
				sym := market.FromUnderscore(tick.Symbol)
				cascade, ok := e.cascades[sym]
				if !ok {
					continue
				}
				for _, bar := range cascade.PushTick(tick.Time, 0, 0, tick.Price) {
					e.processSymbolBar(sym, bar)
				}
			}
			if e.fatalErr != nil {
				e.EmitStatus()
				return e.fatalErr
			}
			e.maybeEmitStatus(statusEvery)
		}
	}
}

// maybeEmitStatus emits when the cadence has elapsed.
func (e *Engine) maybeEmitStatus(every time.Duration) {
	now := e.clk.Now()
	if e.lastStatus.IsZero() || now.Sub(e.lastStatus) >= every {
		e.lastStatus = now
		e.EmitStatus()
	}
}

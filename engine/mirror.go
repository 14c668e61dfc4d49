package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"axfl/journal"
	"axfl/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MIRRORING - Best-effort broker replication, journal first
// ═══════════════════════════════════════════════════════════════════════════════
//
// The paper book is the source of truth. Broker failures are logged and
// counted; a lost trade-row upsert is the one journal failure treated as
// fatal.
//
// ═══════════════════════════════════════════════════════════════════════════════

// newID builds an id unique across process and time: symbol, strategy,
// bar epoch and a short random suffix.
func newID(prefix, symbol, strat string, barTime time.Time) string {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("%s-%s-%s-%d-%s", prefix, symbol, strat, barTime.Unix(), suffix)
}

// mirrorOpen journals the paper open and, when a broker is attached, places
// the mirrored market order under an idempotent client tag.
func (e *Engine) mirrorOpen(sub *SubEngine, pos *types.Position, bar types.Bar) {
	pos.AxflID = newID("AXFL", sub.Symbol, sub.StrategyName, bar.Time)
	pos.ClientTag = newID("TAG", sub.Symbol, sub.StrategyName, bar.Time)

	if e.journal != nil {
		row := &journal.AxflTrade{
			AxflID:   pos.AxflID,
			Symbol:   sub.Symbol,
			Strategy: sub.StrategyName,
			Side:     string(pos.Side),
			Entry:    decimal.NewFromFloat(pos.Entry),
			SL:       decimal.NewFromFloat(pos.SL),
			TP:       decimal.NewFromFloat(pos.TP),
			OpenedAt: bar.Time,
			// The tag rides in extra so the reconciler can match a pending
			// trade against broker transactions after a crash.
			Extra: pos.ClientTag,
		}
		if err := e.journal.UpsertTrade(row); err != nil {
			// Diagnostic events may be lost; trade rows may not.
			e.fatalErr = fmt.Errorf("journal trade upsert: %w", err)
			log.Error().Err(err).Str("axfl_id", pos.AxflID).Msg("trade upsert failed")
			return
		}
	}

	if e.broker == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), brokerTimeout)
	defer cancel()
	res, err := e.broker.PlaceMarket(ctx, sub.Symbol, pos.Side, int(pos.Size), pos.SL, pos.TP, pos.ClientTag)
	if err != nil {
		e.counters.UnmappedTrades++
		e.logEvent("WARN", "mirror_open_failed",
			fmt.Sprintf("axfl_id=%s tag=%s err=%v", pos.AxflID, pos.ClientTag, err))
		log.Warn().Err(err).Str("symbol", sub.Symbol).Str("tag", pos.ClientTag).
			Msg("broker mirror failed, paper position stays open")
		return
	}
	pos.BrokerOrderID = res.OrderID

	if e.journal != nil {
		err := e.journal.UpsertBrokerOrder(&journal.BrokerOrder{
			OrderID:   res.OrderID,
			ClientTag: pos.ClientTag,
			Symbol:    sub.Symbol,
			Side:      string(pos.Side),
			Units:     int(pos.Size),
			Entry:     decimal.NewFromFloat(pos.Entry),
			SL:        decimal.NewFromFloat(pos.SL),
			TP:        decimal.NewFromFloat(pos.TP),
			Status:    "open",
			OpenedAt:  bar.Time,
		})
		if err != nil {
			log.Warn().Err(err).Str("order_id", res.OrderID).Msg("broker order upsert failed")
		}
		if err := e.journal.Link(pos.AxflID, res.OrderID); err != nil {
			log.Warn().Err(err).Str("axfl_id", pos.AxflID).Msg("trade map write failed")
		}
	}
	log.Info().Str("order_id", res.OrderID).Bool("idempotent", res.Idempotent).
		Str("symbol", sub.Symbol).Msg("broker mirror placed")
}

// mirrorClose journals the paper close with final R and PnL and flattens the
// linked broker position. Broker failures beyond logging are ignored.
func (e *Engine) mirrorClose(sub *SubEngine, t *types.Trade) {
	if e.journal != nil && t.AxflID != "" {
		closedAt := t.ExitTime
		row := &journal.AxflTrade{
			AxflID:   t.AxflID,
			Symbol:   t.Symbol,
			Strategy: t.Strategy,
			Side:     string(t.Side),
			Entry:    decimal.NewFromFloat(t.Entry),
			R:        decimal.NewFromFloat(t.RMultiple).Round(4),
			PnL:      decimal.NewFromFloat(t.PnL).Round(4),
			OpenedAt: t.EntryTime,
			ClosedAt: &closedAt,
			Extra:    string(t.Reason),
		}
		if err := e.journal.UpsertTrade(row); err != nil {
			e.fatalErr = fmt.Errorf("journal trade upsert: %w", err)
			log.Error().Err(err).Str("axfl_id", t.AxflID).Msg("trade close upsert failed")
			return
		}
	}

	if e.broker == nil || t.BrokerOrderID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), brokerTimeout)
	defer cancel()
	if err := e.broker.CloseAll(ctx, t.Symbol); err != nil {
		e.logEvent("WARN", "mirror_close_failed",
			fmt.Sprintf("axfl_id=%s symbol=%s err=%v", t.AxflID, t.Symbol, err))
		log.Warn().Err(err).Str("symbol", t.Symbol).Msg("broker close failed")
		return
	}
	if e.journal != nil {
		if err := e.journal.MarkOrderClosed(t.BrokerOrderID, t.ExitTime); err != nil {
			log.Warn().Err(err).Str("order_id", t.BrokerOrderID).Msg("mark order closed failed")
		}
	}
}

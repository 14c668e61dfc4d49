package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"axfl/market"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STARTUP RECONCILIATION - Broker vs. journal
// ═══════════════════════════════════════════════════════════════════════════════
//
// Runs once before the first dispatch iteration. Broker positions with no
// journal order are orphans and get flattened (when configured); paper trades
// without a map row are linked by client tag, then by instrument + fill time.
//
// ═══════════════════════════════════════════════════════════════════════════════

// linkTimeWindow is the fill-time tolerance for tagless matching.
const linkTimeWindow = 5 * time.Minute

// ReconcileSummary surfaces the reconciliation counters in the status record.
type ReconcileSummary struct {
	Ran       bool
	Orphans   int
	Flattened int
	Linked    int
	Pending   int
	Errors    []string
}

// Reconcile compares broker state against the journal. Errors are recorded
// in the summary; the engine proceeds regardless.
func (e *Engine) Reconcile(ctx context.Context, flattenOnConflict bool) ReconcileSummary {
	s := ReconcileSummary{}
	if e.broker == nil || e.journal == nil {
		e.reconcile = s
		return s
	}
	s.Ran = true

	cctx, cancel := context.WithTimeout(ctx, brokerTimeout)
	positions, err := e.broker.OpenPositions(cctx)
	cancel()
	if err != nil {
		s.Errors = append(s.Errors, fmt.Sprintf("open_positions: %v", err))
		e.reconcile = s
		return s
	}

	orders, err := e.journal.OpenBrokerOrders()
	if err != nil {
		s.Errors = append(s.Errors, fmt.Sprintf("journal_orders: %v", err))
		e.reconcile = s
		return s
	}
	covered := make(map[string]bool, len(orders))
	for _, o := range orders {
		covered[strings.ToUpper(o.Symbol)] = true
	}

	// Orphans: broker positions the journal knows nothing about.
	for _, p := range positions {
		if covered[p.Symbol] {
			continue
		}
		s.Orphans++
		sym := p.Symbol
		log.Warn().Str("symbol", p.Symbol).Float64("units", p.Units).
			Msg("orphan broker position")
		if !flattenOnConflict {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, brokerTimeout)
		err := e.broker.CloseAll(cctx, sym)
		cancel()
		if err != nil {
			s.Errors = append(s.Errors, fmt.Sprintf("flatten %s: %v", sym, err))
			continue
		}
		s.Flattened++
		e.logEvent("WARN", "reconcile_flatten", fmt.Sprintf("symbol=%s units=%.0f", sym, p.Units))
	}

	// Link pending paper trades: by tag first, then instrument + fill time.
	pending, err := e.journal.PendingMappings()
	if err != nil {
		s.Errors = append(s.Errors, fmt.Sprintf("pending_mappings: %v", err))
		e.reconcile = s
		return s
	}
	var txns []brokerTxn
	if len(pending) > 0 {
		cctx, cancel := context.WithTimeout(ctx, brokerTimeout)
		raw, err := e.broker.TradesSince(cctx, e.clk.Now().Add(-24*time.Hour))
		cancel()
		if err != nil {
			s.Errors = append(s.Errors, fmt.Sprintf("trades_since: %v", err))
		}
		for _, t := range raw {
			txns = append(txns, brokerTxn{id: t.ID, tag: t.ClientTag, instrument: t.Instrument, time: t.Time})
		}
	}
	for _, trade := range pending {
		orderID := ""
		// Journal tags live on the order row; a pending trade has none, so
		// tag matching goes through the order the tag was minted for.
		for _, t := range txns {
			if t.tag != "" && t.tag == tradeTag(trade.Extra) {
				orderID = t.id
				break
			}
		}
		if orderID == "" {
			want := market.Underscore(trade.Symbol)
			for _, t := range txns {
				if t.instrument == want && absDur(t.time.Sub(trade.OpenedAt)) <= linkTimeWindow {
					orderID = t.id
					break
				}
			}
		}
		if orderID == "" {
			s.Pending++
			continue
		}
		if err := e.journal.Link(trade.AxflID, orderID); err != nil {
			s.Errors = append(s.Errors, fmt.Sprintf("link %s: %v", trade.AxflID, err))
			continue
		}
		s.Linked++
		log.Info().Str("axfl_id", trade.AxflID).Str("order_id", orderID).Msg("pending trade linked")
	}

	log.Info().Int("orphans", s.Orphans).Int("flattened", s.Flattened).
		Int("linked", s.Linked).Int("pending", s.Pending).Int("errors", len(s.Errors)).
		Msg("reconciliation complete")
	e.reconcile = s
	return s
}

type brokerTxn struct {
	id         string
	tag        string
	instrument string
	time       time.Time
}

// tradeTag extracts a client tag stashed in the trade's extra field, if any.
func tradeTag(extra string) string {
	if len(extra) > 4 && extra[:4] == "TAG-" {
		return extra
	}
	return ""
}

func absDur(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

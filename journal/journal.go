package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ═══════════════════════════════════════════════════════════════════════════════
// JOURNAL - Durable record of broker orders, paper trades and events
// ═══════════════════════════════════════════════════════════════════════════════
//
// Four tables: broker_orders, axfl_trades, trade_maps, events. Upserts
// overwrite status and timestamps; structural fields (symbol, side, units,
// entry) are insert-time-only. Events are append-only.
//
// ═══════════════════════════════════════════════════════════════════════════════

// BrokerOrder mirrors one broker-side order.
type BrokerOrder struct {
	OrderID   string `gorm:"primaryKey;column:order_id"`
	ClientTag string `gorm:"uniqueIndex"`
	Symbol    string
	Side      string
	Units     int
	Entry     decimal.Decimal `gorm:"type:decimal(18,6)"`
	SL        decimal.Decimal `gorm:"type:decimal(18,6);column:sl"`
	TP        decimal.Decimal `gorm:"type:decimal(18,6);column:tp"`
	Status    string          `gorm:"index"` // open | closed
	OpenedAt  time.Time
	ClosedAt  *time.Time
	Extra     string
}

// AxflTrade is one paper trade, written at open and updated at close.
type AxflTrade struct {
	AxflID   string `gorm:"primaryKey;column:axfl_id"`
	Symbol   string `gorm:"index"`
	Strategy string `gorm:"index"`
	Side     string
	Entry    decimal.Decimal `gorm:"type:decimal(18,6)"`
	SL       decimal.Decimal `gorm:"type:decimal(18,6);column:sl"`
	TP       decimal.Decimal `gorm:"type:decimal(18,6);column:tp"`
	R        decimal.Decimal `gorm:"type:decimal(12,4);column:r"`
	PnL      decimal.Decimal `gorm:"type:decimal(18,4);column:pnl"`
	OpenedAt time.Time
	ClosedAt *time.Time
	Extra    string
}

// TradeMap links a paper trade to its broker order.
type TradeMap struct {
	AxflID    string `gorm:"primaryKey;column:axfl_id"`
	OrderID   string `gorm:"primaryKey;column:order_id"`
	CreatedAt time.Time
}

// Event is an append-only diagnostic record.
type Event struct {
	ID      uint `gorm:"primaryKey;autoIncrement"`
	TS      time.Time
	Level   string
	Kind    string
	Payload string
}

// Journal wraps the store. Storage survives process restart.
type Journal struct {
	db *gorm.DB
}

// Open connects to the journal store. A postgres:// DSN selects PostgreSQL;
// anything else is treated as a SQLite file path.
func Open(dsn string) (*Journal, error) {
	var db *gorm.DB
	var err error
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
	} else {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("journal dir: %w", err)
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
	}
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.AutoMigrate(&BrokerOrder{}, &AxflTrade{}, &TradeMap{}, &Event{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	log.Info().Str("dsn", dsn).Msg("journal opened")
	return &Journal{db: db}, nil
}

// UpsertBrokerOrder inserts or refreshes an order row. On conflict only
// status, closed_at and extra change.
func (j *Journal) UpsertBrokerOrder(o *BrokerOrder) error {
	return j.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "closed_at", "extra"}),
	}).Create(o).Error
}

// UpsertTrade inserts or refreshes a paper trade row. On conflict the result
// fields (sl, r, pnl, closed_at, extra) change; structural fields do not.
func (j *Journal) UpsertTrade(t *AxflTrade) error {
	return j.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "axfl_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"sl", "r", "pnl", "closed_at", "extra"}),
	}).Create(t).Error
}

// Link writes the (axfl_id, order_id) map row; repeated links are no-ops.
func (j *Journal) Link(axflID, orderID string) error {
	return j.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&TradeMap{AxflID: axflID, OrderID: orderID, CreatedAt: time.Now().UTC()}).Error
}

// LogEvent appends one diagnostic event. Best-effort: failures go to stderr
// and are otherwise ignored.
func (j *Journal) LogEvent(level, kind, payload string) {
	err := j.db.Create(&Event{TS: time.Now().UTC(), Level: level, Kind: kind, Payload: payload}).Error
	if err != nil {
		fmt.Fprintf(os.Stderr, "journal: event write failed: %v\n", err)
	}
}

// OpenBrokerOrders returns orders still marked open.
func (j *Journal) OpenBrokerOrders() ([]BrokerOrder, error) {
	var orders []BrokerOrder
	err := j.db.Where("status = ?", "open").Find(&orders).Error
	return orders, err
}

// OpenTrades returns paper trades with no close timestamp.
func (j *Journal) OpenTrades() ([]AxflTrade, error) {
	var trades []AxflTrade
	err := j.db.Where("closed_at IS NULL").Find(&trades).Error
	return trades, err
}

// PendingMappings returns paper trades without a map row.
func (j *Journal) PendingMappings() ([]AxflTrade, error) {
	var trades []AxflTrade
	err := j.db.
		Where("axfl_id NOT IN (?)", j.db.Model(&TradeMap{}).Select("axfl_id")).
		Find(&trades).Error
	return trades, err
}

// OrderForTag returns the broker order carrying a client tag, if any.
func (j *Journal) OrderForTag(tag string) (*BrokerOrder, error) {
	var o BrokerOrder
	err := j.db.Where("client_tag = ?", tag).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// MarkOrderClosed flips an order to closed with the given timestamp.
func (j *Journal) MarkOrderClosed(orderID string, at time.Time) error {
	return j.db.Model(&BrokerOrder{}).Where("order_id = ?", orderID).
		Updates(map[string]any{"status": "closed", "closed_at": at}).Error
}

// LastNEvents returns the most recent n events, newest first.
func (j *Journal) LastNEvents(n int) ([]Event, error) {
	var events []Event
	err := j.db.Order("id DESC").Limit(n).Find(&events).Error
	return events, err
}

// Counts reports table sizes for the status record.
func (j *Journal) Counts() (orders, trades, maps, events int64) {
	j.db.Model(&BrokerOrder{}).Count(&orders)
	j.db.Model(&AxflTrade{}).Count(&trades)
	j.db.Model(&TradeMap{}).Count(&maps)
	j.db.Model(&Event{}).Count(&events)
	return
}

// Close releases the underlying connection.
func (j *Journal) Close() {
	if sqlDB, err := j.db.DB(); err == nil {
		sqlDB.Close()
	}
}

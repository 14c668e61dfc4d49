package broker

import (
	"context"
	"time"

	"axfl/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BROKER ADAPTER - Narrow interface, injected into the portfolio engine
// ═══════════════════════════════════════════════════════════════════════════════
//
// Any call may fail; failures are logged and counted, never raised into the
// dispatcher. The paper book stays the source of truth.
//
// ═══════════════════════════════════════════════════════════════════════════════

// PlaceResult is the outcome of a market order submission.
type PlaceResult struct {
	OrderID    string
	Idempotent bool // an order with the same client tag already existed
}

// PositionInfo is one net open position at the broker.
type PositionInfo struct {
	Symbol     string // normalized, e.g. EURUSD
	Units      float64
	AvgPrice   float64
	Unrealized float64
}

// Transaction is one fill or market order from the broker history.
type Transaction struct {
	ID         string
	Type       string
	Instrument string
	ClientTag  string
	Units      float64
	Price      float64
	Time       time.Time
}

// AccountInfo is the broker account snapshot.
type AccountInfo struct {
	ID       string
	Balance  float64
	Currency string
}

// Stats is the adapter health snapshot for the status record.
type Stats struct {
	Connected bool
	Errors    int
	LastError string
	Env       string
}

// Adapter is the broker surface the portfolio engine depends on.
type Adapter interface {
	// PlaceMarket submits an idempotent FOK market order. If a transaction
	// with the same client tag exists within the last 24 hours, the existing
	// order id is returned with Idempotent=true and no new order is sent.
	PlaceMarket(ctx context.Context, symbol string, side types.Side, units int, sl, tp float64, clientTag string) (PlaceResult, error)

	// CloseAll flattens the symbol's net position.
	CloseAll(ctx context.Context, symbol string) error

	// FetchPosition returns the net position for a symbol, or nil when flat.
	FetchPosition(ctx context.Context, symbol string) (*PositionInfo, error)

	// OpenPositions enumerates non-zero positions.
	OpenPositions(ctx context.Context) ([]PositionInfo, error)

	// TradesSince enumerates fills and market orders since a timestamp.
	TradesSince(ctx context.Context, since time.Time) ([]Transaction, error)

	// PingAuth verifies credentials.
	PingAuth(ctx context.Context) error

	// Account returns the balance snapshot.
	Account(ctx context.Context) (AccountInfo, error)

	// Stats returns the adapter health counters.
	Stats() Stats
}

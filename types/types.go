package types

import "time"

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Side of a position or intent.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Bar is one OHLCV aggregate over a fixed interval. Time is the UTC start of
// the interval, floored to the interval boundary. Volume is the tick count of
// the aggregation and is treated as opaque.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Intent is an open request emitted by a strategy for a bar index. The engine
// uses the first admissible intent and ignores the rest.
type Intent struct {
	Action string // "open"
	Side   Side
	Price  float64 // entry, typically the bar close
	SL     float64 // required for sizing
	TP     float64 // 0 = no target
	Notes  string
}

// Position is an open paper position. At most one exists per sub-engine.
// SL is mutable (may be moved to break-even); InitialSL is not.
type Position struct {
	Side      Side
	EntryTime time.Time
	Entry     float64
	InitialSL float64
	SL        float64
	TP        float64
	Size      float64 // units
	Notes     string

	// Set when the position is mirrored to a broker.
	AxflID        string
	ClientTag     string
	BrokerOrderID string
}

// Reason a position was closed.
type Reason string

const (
	ReasonSL        Reason = "SL"
	ReasonTP        Reason = "TP"
	ReasonTime      Reason = "TIME"
	ReasonEndOfData Reason = "end_of_data"
)

// Trade is a closed position with its realized result.
type Trade struct {
	Symbol    string
	Strategy  string
	Side      Side
	EntryTime time.Time
	Entry     float64
	ExitTime  time.Time
	Exit      float64
	Size      float64
	PnL       float64
	RMultiple float64
	Reason    Reason
	Notes     string

	AxflID        string
	BrokerOrderID string
}

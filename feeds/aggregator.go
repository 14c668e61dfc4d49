package feeds

import (
	"time"

	"axfl/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CASCADE AGGREGATOR - ticks → 1-minute bars → 5-minute bars
// ═══════════════════════════════════════════════════════════════════════════════
//
// Two stacked builders. Each completed 1-minute bar is fed into the 5-minute
// builder as a synthetic tick at the bar's timestamp using its close. The
// raw tick's timestamp also rolls the 5-minute builder so that a 5-minute bar
// closes as soon as any tick lands past its boundary.
//
// ═══════════════════════════════════════════════════════════════════════════════

type barBuilder struct {
	interval time.Duration
	active   bool
	start    time.Time
	open     float64
	high     float64
	low      float64
	close    float64
	ticks    int64
}

func (b *barBuilder) floor(ts time.Time) time.Time {
	return ts.UTC().Truncate(b.interval)
}

// push records a price at ts. If ts enters a newer interval, the in-progress
// bar is emitted and the tick seeds the next one.
func (b *barBuilder) push(ts time.Time, price float64) (types.Bar, bool) {
	bucket := b.floor(ts)
	if b.active && bucket.After(b.start) {
		done := b.emit()
		b.seed(bucket, price)
		return done, true
	}
	if !b.active {
		b.seed(bucket, price)
		return types.Bar{}, false
	}
	if price > b.high {
		b.high = price
	}
	if price < b.low {
		b.low = price
	}
	b.close = price
	b.ticks++
	return types.Bar{}, false
}

// roll emits the in-progress bar if ts is past its boundary, without seeding
// a replacement.
func (b *barBuilder) roll(ts time.Time) (types.Bar, bool) {
	if b.active && b.floor(ts).After(b.start) {
		return b.emit(), true
	}
	return types.Bar{}, false
}

func (b *barBuilder) seed(bucket time.Time, price float64) {
	b.active = true
	b.start = bucket
	b.open = price
	b.high = price
	b.low = price
	b.close = price
	b.ticks = 1
}

func (b *barBuilder) emit() types.Bar {
	bar := types.Bar{
		Time:   b.start,
		Open:   b.open,
		High:   b.high,
		Low:    b.low,
		Close:  b.close,
		Volume: b.ticks,
	}
	b.active = false
	return bar
}

// Cascade aggregates ticks into 5-minute bars through a 1-minute stage.
type Cascade struct {
	m1 barBuilder
	m5 barBuilder
}

// NewCascade returns a 1-minute → 5-minute cascade.
func NewCascade() *Cascade {
	return &Cascade{
		m1: barBuilder{interval: time.Minute},
		m5: barBuilder{interval: 5 * time.Minute},
	}
}

// PushTick derives a mid price ((bid+ask)/2 when both present, otherwise
// last, else any single side) and returns the 5-minute bars completed on
// this call, in timestamp order (0 or 1 in steady state).
func (c *Cascade) PushTick(ts time.Time, bid, ask, last float64) []types.Bar {
	price, ok := midPrice(bid, ask, last)
	if !ok {
		return nil
	}
	var out []types.Bar
	if b1, done := c.m1.push(ts, price); done {
		if b5, done5 := c.m5.push(b1.Time, b1.Close); done5 {
			out = append(out, b5)
		}
	}
	if b5, done5 := c.m5.roll(ts); done5 {
		out = append(out, b5)
	}
	return out
}

// PushMinuteBar feeds one historical 1-minute bar as a synthetic tick at the
// bar's timestamp using its close. Replay mode reuses the same cascade.
func (c *Cascade) PushMinuteBar(bar types.Bar) []types.Bar {
	return c.PushTick(bar.Time, 0, 0, bar.Close)
}

// Flush emits the in-progress bars at end of data, 1-minute stage first.
func (c *Cascade) Flush() []types.Bar {
	var out []types.Bar
	if c.m1.active {
		b1 := c.m1.emit()
		if b5, done := c.m5.push(b1.Time, b1.Close); done {
			out = append(out, b5)
		}
	}
	if c.m5.active {
		out = append(out, c.m5.emit())
	}
	return out
}

func midPrice(bid, ask, last float64) (float64, bool) {
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2, true
	case last > 0:
		return last, true
	case bid > 0:
		return bid, true
	case ask > 0:
		return ask, true
	default:
		return 0, false
	}
}

// AggregateMinutes converts a 1-minute series to completed 5-minute bars.
// Used by warm-up; the trailing partial bar is flushed.
func AggregateMinutes(bars []types.Bar) []types.Bar {
	c := NewCascade()
	var out []types.Bar
	for _, b := range bars {
		out = append(out, c.PushMinuteBar(b)...)
	}
	out = append(out, c.Flush()...)
	return out
}

package engine

import (
	"context"
	"time"

	"axfl/clock"
	"axfl/config"
	"axfl/market"
	"axfl/strategy"
	"axfl/types"
)

// scriptStrat emits queued intents on the next Signals call. Used to drive
// the engine deterministically.
type scriptStrat struct {
	name    string
	queue   []types.Intent
	panicky bool
}

func (s *scriptStrat) push(in types.Intent) { s.queue = append(s.queue, in) }

func (s *scriptStrat) Name() string          { return s.name }
func (s *scriptStrat) Stateless() bool       { return false }
func (s *scriptStrat) Prepare([]types.Bar)   {}
func (s *scriptStrat) Snapshot() map[string]float64 {
	return map[string]float64{}
}

func (s *scriptStrat) Signals([]types.Bar, int) []types.Intent {
	if s.panicky {
		panic("scripted failure")
	}
	out := s.queue
	s.queue = nil
	return out
}

// made collects the instances the registry factories produced, in creation
// order, so tests can reach the strategies inside an engine.
var made []*scriptStrat

func init() {
	for _, name := range []string{"scriptA", "scriptB"} {
		n := name
		strategy.Register(n, nil, func(strategy.Params) strategy.Strategy {
			s := &scriptStrat{name: n}
			made = append(made, s)
			return s
		})
	}
}

// monday is the base test date, 2026-03-02 UTC.
func monday(h, m int) time.Time {
	return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC)
}

func bar5(t time.Time, o, h, l, c float64) types.Bar {
	return types.Bar{Time: t, Open: o, High: h, Low: l, Close: c, Volume: 1}
}

func flatBar(t time.Time, px float64) types.Bar {
	return bar5(t, px, px, px, px)
}

// zeroSpread keeps only the 1-pip slippage floor in the cost model.
func zeroSpread(symbols ...string) market.CostModel {
	m := market.CostModel{SpreadPips: map[string]float64{}}
	for _, s := range symbols {
		m.SpreadPips[s] = 0
	}
	return m
}

type fakeHistory struct {
	bars map[string][]types.Bar
}

func (f fakeHistory) Name() string { return "fake" }

func (f fakeHistory) MinuteBars(_ context.Context, symbol string, _, _ time.Time) ([]types.Bar, error) {
	return f.bars[symbol], nil
}

// warmMinutes builds a short flat 1-minute warm-up series for the symbol.
func warmMinutes(px float64) []types.Bar {
	start := monday(7, 0)
	bars := make([]types.Bar, 30)
	for i := range bars {
		bars[i] = flatBar(start.Add(time.Duration(i)*time.Minute), px)
	}
	return bars
}

// testEngine builds a single-symbol engine around scripted strategies and
// returns it with its clock and the strategy instances.
func testEngine(specs []config.StrategySpec, prof *config.Profile) (*Engine, *clock.Fixed) {
	clk := &clock.Fixed{T: monday(9, 0)}
	e := New(Options{
		Profile: prof,
		Specs:   specs,
		Clock:   clk,
		History: fakeHistory{bars: map[string][]types.Bar{"EURUSD": warmMinutes(1.1000)}},
		Equity:  100000,
	})
	e.costs = zeroSpread("EURUSD")
	return e, clk
}

func defaultProfile() *config.Profile {
	return &config.Profile{
		Symbols:      []string{"EURUSD"},
		Interval:     "5m",
		Source:       "fake",
		Venue:        "OANDA",
		WarmupDays:   1,
		ReplayDays:   1,
		StatusEveryS: 180,
		Risk: config.RiskBlock{
			GlobalDailyStopR:       -3,
			MaxOpenPositions:       3,
			PerStrategyDailyTrades: 4,
			PerStrategyDailyStopR:  -2,
		},
	}
}

func allDay() []config.WindowSpec {
	return []config.WindowSpec{{Start: "07:00", End: "16:00"}}
}

func spec(name string) config.StrategySpec {
	return config.StrategySpec{Name: name, Windows: allDay()}
}

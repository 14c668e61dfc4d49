package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axfl/broker"
	"axfl/clock"
	"axfl/config"
	"axfl/news"
	"axfl/types"
)

func warmed(t *testing.T, specs []config.StrategySpec, prof *config.Profile) (*Engine, []*scriptStrat, *clock.Fixed) {
	t.Helper()
	made = nil
	e, clk := testEngine(specs, prof)
	require.NoError(t, e.Warmup(context.Background()))
	require.Len(t, made, len(specs))
	return e, made, clk
}

func TestWarmupFailsWithoutData(t *testing.T) {
	made = nil
	prof := defaultProfile()
	e := New(Options{
		Profile: prof,
		Specs:   []config.StrategySpec{spec("scriptA")},
		History: fakeHistory{bars: map[string][]types.Bar{}},
		Equity:  100000,
	})
	err := e.Warmup(context.Background())
	assert.ErrorContains(t, err, "no data")
}

func TestNewsGateBlocksThenAllows(t *testing.T) {
	prof := defaultProfile()
	prof.NewsGuard = config.NewsGuard{Enabled: true, PadBeforeM: 30, PadAfterM: 30}
	made = nil
	e, clk := testEngine([]config.StrategySpec{spec("scriptA")}, prof)
	e.calendar = news.NewCalendar([]news.Event{
		{Time: monday(12, 30), Currencies: []string{"USD"}, Impact: "high", Title: "CPI"},
	})
	require.NoError(t, e.Warmup(context.Background()))
	strat := made[0]
	_ = clk

	// 12:15 is inside the CPI blackout: intent refused, counter bumped.
	strat.push(types.Intent{Action: "open", Side: types.Long, Price: 1.1000, SL: 1.0980})
	e.processSymbolBar("EURUSD", flatBar(monday(12, 15), 1.1000))
	assert.Nil(t, e.subs["EURUSD"][0].Position())
	assert.Equal(t, 1, e.counters.NewsBlocked)

	// 13:05: the window has expired, the queued intent opens.
	e.processSymbolBar("EURUSD", flatBar(monday(13, 5), 1.1000))
	assert.NotNil(t, e.subs["EURUSD"][0].Position())
	assert.Equal(t, 1, e.counters.NewsBlocked)
}

func TestHaltBlocksEntries(t *testing.T) {
	e, strats, _ := warmed(t, []config.StrategySpec{spec("scriptA")}, defaultProfile())
	e.halted = true

	strats[0].push(types.Intent{Action: "open", Side: types.Long, Price: 1.1000, SL: 1.0980})
	e.processSymbolBar("EURUSD", flatBar(monday(9, 0), 1.1000))
	assert.Nil(t, e.subs["EURUSD"][0].Position())
	assert.Equal(t, 1, e.counters.RiskBlocked)
}

func TestMaxOpenPositions(t *testing.T) {
	prof := defaultProfile()
	prof.Risk.MaxOpenPositions = 1
	e, strats, _ := warmed(t, []config.StrategySpec{spec("scriptA"), spec("scriptB")}, prof)

	strats[0].push(types.Intent{Action: "open", Side: types.Long, Price: 1.1000, SL: 1.0980})
	strats[1].push(types.Intent{Action: "open", Side: types.Long, Price: 1.1000, SL: 1.0980})
	e.processSymbolBar("EURUSD", flatBar(monday(9, 0), 1.1000))

	subs := e.subs["EURUSD"]
	assert.NotNil(t, subs[0].Position(), "first sub opens")
	assert.Nil(t, subs[1].Position(), "second blocked by the cap")
	assert.Equal(t, 1, e.counters.RiskBlocked)
}

func TestPerStrategyDailyTradeLimit(t *testing.T) {
	prof := defaultProfile()
	prof.Risk.PerStrategyDailyTrades = 1
	e, strats, _ := warmed(t, []config.StrategySpec{spec("scriptA")}, prof)

	strats[0].push(types.Intent{Action: "open", Side: types.Long, Price: 1.1000, SL: 1.0980})
	e.processSymbolBar("EURUSD", flatBar(monday(9, 0), 1.1000))
	require.NotNil(t, e.subs["EURUSD"][0].Position())

	// Stop the position out, then try to open again the same day.
	e.processSymbolBar("EURUSD", bar5(monday(9, 5), 1.0999, 1.0999, 1.0970, 1.0980))
	require.Nil(t, e.subs["EURUSD"][0].Position())

	strats[0].push(types.Intent{Action: "open", Side: types.Long, Price: 1.1000, SL: 1.0980})
	e.processSymbolBar("EURUSD", flatBar(monday(9, 10), 1.1000))
	assert.Nil(t, e.subs["EURUSD"][0].Position())
	assert.GreaterOrEqual(t, e.counters.BudgetBlocked, 1)
}

func TestGlobalDailyStopHaltsAndClearsNextDate(t *testing.T) {
	e, strats, _ := warmed(t, []config.StrategySpec{spec("scriptA")}, defaultProfile())
	sub := e.subs["EURUSD"][0]

	e.onTradeClosed(sub, &types.Trade{Symbol: "EURUSD", Strategy: "scriptA", PnL: -1500, RMultiple: -3})
	assert.True(t, e.Halted())

	// Same date: entries stay refused.
	strats[0].push(types.Intent{Action: "open", Side: types.Long, Price: 1.1000, SL: 1.0980})
	e.processSymbolBar("EURUSD", flatBar(monday(10, 0), 1.1000))
	assert.Nil(t, sub.Position())

	// Next UTC date: halt clears, daily state resets, the entry goes through.
	tuesday := monday(9, 0).AddDate(0, 0, 1)
	strats[0].push(types.Intent{Action: "open", Side: types.Long, Price: 1.1000, SL: 1.0980})
	e.processSymbolBar("EURUSD", flatBar(tuesday, 1.1000))
	assert.False(t, e.Halted())
	assert.NotNil(t, sub.Position())
	assert.Equal(t, 1, e.dayState["scriptA"].Trades, "day counters were reset before the open")
}

func TestDDLockEngagesAndRecovers(t *testing.T) {
	prof := defaultProfile()
	prof.DDLock = config.DDLock{Enabled: true, TrailingPct: 5, CooloffMin: 120}
	made = nil
	e, clk := testEngine([]config.StrategySpec{spec("scriptA")}, prof)
	require.NoError(t, e.Warmup(context.Background()))
	strat := made[0]
	sub := e.subs["EURUSD"][0]

	// Equity drops 5.1% from peak on a closed trade: lock engages.
	e.onTradeClosed(sub, &types.Trade{Symbol: "EURUSD", Strategy: "scriptA", PnL: -5100, RMultiple: -1})
	assert.True(t, e.ddLockActive)
	assert.True(t, e.Halted())
	assert.Equal(t, clk.Now().Add(120*time.Minute), e.ddCooloffTill)

	// Inside the cooloff no entry is possible.
	strat.push(types.Intent{Action: "open", Side: types.Long, Price: 1.1000, SL: 1.0980})
	e.processSymbolBar("EURUSD", flatBar(monday(9, 5), 1.1000))
	assert.Nil(t, sub.Position())

	// Still in drawdown at the boundary: cooloff extends.
	clk.Advance(121 * time.Minute)
	before := e.ddCooloffTill
	e.processSymbolBar("EURUSD", flatBar(monday(11, 5), 1.1000))
	assert.True(t, e.ddLockActive)
	assert.True(t, e.ddCooloffTill.After(before))

	// Recovered below the threshold at the next boundary: lock clears.
	e.equity = 96500
	clk.Advance(121 * time.Minute)
	strat.push(types.Intent{Action: "open", Side: types.Long, Price: 1.1000, SL: 1.0980})
	e.processSymbolBar("EURUSD", flatBar(monday(13, 10), 1.1000))
	assert.False(t, e.ddLockActive)
	assert.False(t, e.Halted())
	assert.NotNil(t, sub.Position())
}

func TestWeekendBarsIgnored(t *testing.T) {
	e, strats, _ := warmed(t, []config.StrategySpec{spec("scriptA")}, defaultProfile())
	sub := e.subs["EURUSD"][0]

	strats[0].push(types.Intent{Action: "open", Side: types.Long, Price: 1.1000, SL: 1.0980})
	e.processSymbolBar("EURUSD", flatBar(monday(9, 0), 1.1000))
	require.NotNil(t, sub.Position())

	// Saturday bar below the stop: the dispatcher never touches sub-engines.
	saturday := monday(9, 0).AddDate(0, 0, 5)
	e.processSymbolBar("EURUSD", bar5(saturday, 1.0990, 1.0990, 1.0900, 1.0950))
	assert.NotNil(t, sub.Position(), "weekend bar ignored")

	// Monday the stop check runs.
	nextMonday := monday(9, 0).AddDate(0, 0, 7)
	e.processSymbolBar("EURUSD", bar5(nextMonday, 1.0990, 1.0990, 1.0900, 1.0950))
	assert.Nil(t, sub.Position())
}

func TestPeakEquityNonDecreasing(t *testing.T) {
	e, _, _ := warmed(t, []config.StrategySpec{spec("scriptA")}, defaultProfile())
	sub := e.subs["EURUSD"][0]

	peaks := []float64{e.peak}
	for _, pnl := range []float64{500, -300, 900, -1200, 100} {
		e.onTradeClosed(sub, &types.Trade{Symbol: "EURUSD", Strategy: "scriptA", PnL: pnl, RMultiple: pnl / 500})
		peaks = append(peaks, e.peak)
	}
	for i := 1; i < len(peaks); i++ {
		assert.GreaterOrEqual(t, peaks[i], peaks[i-1])
	}
	assert.Equal(t, 100000.0+500+(-300)+900+(-1200)+100, e.equity)
}

func TestMirroringJournalsAndPlaces(t *testing.T) {
	fb := &fakeBroker{}
	e, strats, _ := warmed(t, []config.StrategySpec{spec("scriptA")}, defaultProfile())
	e.broker = fb
	sub := e.subs["EURUSD"][0]

	strats[0].push(types.Intent{Action: "open", Side: types.Long, Price: 1.1000, SL: 1.0980})
	e.processSymbolBar("EURUSD", flatBar(monday(9, 0), 1.1000))
	pos := sub.Position()
	require.NotNil(t, pos)
	assert.NotEmpty(t, pos.AxflID)
	assert.NotEmpty(t, pos.ClientTag)
	assert.Equal(t, "order-1", pos.BrokerOrderID)
	require.Len(t, fb.placed, 1)
	assert.Equal(t, pos.ClientTag, fb.placed[0].tag)

	// Close hits the broker too.
	e.processSymbolBar("EURUSD", bar5(monday(9, 5), 1.0999, 1.0999, 1.0970, 1.0980))
	assert.Nil(t, sub.Position())
	assert.Equal(t, []string{"EURUSD"}, fb.closed)
}

func TestMirrorFailureLeavesPaperOpen(t *testing.T) {
	fb := &fakeBroker{failPlace: true}
	e, strats, _ := warmed(t, []config.StrategySpec{spec("scriptA")}, defaultProfile())
	e.broker = fb

	strats[0].push(types.Intent{Action: "open", Side: types.Long, Price: 1.1000, SL: 1.0980})
	e.processSymbolBar("EURUSD", flatBar(monday(9, 0), 1.1000))

	pos := e.subs["EURUSD"][0].Position()
	require.NotNil(t, pos, "paper book is the source of truth")
	assert.Empty(t, pos.BrokerOrderID)
	assert.Equal(t, 1, e.counters.UnmappedTrades)
}

func TestStatusRecordFields(t *testing.T) {
	e, _, _ := warmed(t, []config.StrategySpec{spec("scriptA")}, defaultProfile())
	e.mode = "replay"
	e.effSource = "fake"
	e.processSymbolBar("EURUSD", flatBar(monday(9, 0), 1.1000))

	rec := e.statusRecord()
	for _, key := range []string{
		"mode=replay", "source=fake", "interval=5m", "equity=100000.00",
		"halted=false", "dd_lock_active=false", "weights=EURUSD:1.000",
		"news_blocked=0", "budget_blocked=0", "risk_blocked=0",
		"engines=EURUSD/scriptA",
	} {
		assert.Contains(t, rec, key)
	}
}

// ───────────────────────────────────────────────────────────────────────────────
// fakes
// ───────────────────────────────────────────────────────────────────────────────

type placedCall struct {
	symbol string
	side   types.Side
	units  int
	tag    string
}

type fakeBroker struct {
	placed    []placedCall
	closed    []string
	failPlace bool

	positions []broker.PositionInfo
	txns      []broker.Transaction
}

func (f *fakeBroker) PlaceMarket(_ context.Context, symbol string, side types.Side, units int, _, _ float64, tag string) (broker.PlaceResult, error) {
	if f.failPlace {
		return broker.PlaceResult{}, errors.New("broker down")
	}
	f.placed = append(f.placed, placedCall{symbol: symbol, side: side, units: units, tag: tag})
	return broker.PlaceResult{OrderID: fmt.Sprintf("order-%d", len(f.placed))}, nil
}

func (f *fakeBroker) CloseAll(_ context.Context, symbol string) error {
	f.closed = append(f.closed, symbol)
	return nil
}

func (f *fakeBroker) FetchPosition(context.Context, string) (*broker.PositionInfo, error) {
	return nil, nil
}

func (f *fakeBroker) OpenPositions(context.Context) ([]broker.PositionInfo, error) {
	return f.positions, nil
}

func (f *fakeBroker) TradesSince(context.Context, time.Time) ([]broker.Transaction, error) {
	return f.txns, nil
}

func (f *fakeBroker) PingAuth(context.Context) error { return nil }

func (f *fakeBroker) Account(context.Context) (broker.AccountInfo, error) {
	return broker.AccountInfo{ID: "fake", Balance: 100000, Currency: "USD"}, nil
}

func (f *fakeBroker) Stats() broker.Stats { return broker.Stats{Connected: true, Env: "fake"} }

package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "axfl.db"))
	require.NoError(t, err)
	t.Cleanup(j.Close)
	return j
}

func sampleOrder(id, tag string) *BrokerOrder {
	return &BrokerOrder{
		OrderID:   id,
		ClientTag: tag,
		Symbol:    "EURUSD",
		Side:      "long",
		Units:     250000,
		Entry:     decimal.NewFromFloat(1.10000),
		SL:        decimal.NewFromFloat(1.09800),
		Status:    "open",
		OpenedAt:  time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func sampleTrade(id string) *AxflTrade {
	return &AxflTrade{
		AxflID:   id,
		Symbol:   "EURUSD",
		Strategy: "momo",
		Side:     "long",
		Entry:    decimal.NewFromFloat(1.10000),
		SL:       decimal.NewFromFloat(1.09800),
		OpenedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestUpsertIdempotence(t *testing.T) {
	j := openTemp(t)

	require.NoError(t, j.UpsertBrokerOrder(sampleOrder("o1", "TAG-1")))
	require.NoError(t, j.UpsertBrokerOrder(sampleOrder("o1", "TAG-1")))
	require.NoError(t, j.UpsertTrade(sampleTrade("a1")))
	require.NoError(t, j.UpsertTrade(sampleTrade("a1")))
	require.NoError(t, j.Link("a1", "o1"))
	require.NoError(t, j.Link("a1", "o1"))

	orders, trades, maps, _ := j.Counts()
	assert.Equal(t, int64(1), orders)
	assert.Equal(t, int64(1), trades)
	assert.Equal(t, int64(1), maps)
}

func TestUpsertPreservesStructuralFields(t *testing.T) {
	j := openTemp(t)
	require.NoError(t, j.UpsertBrokerOrder(sampleOrder("o1", "TAG-1")))

	// A second upsert with different structural values only moves status.
	changed := sampleOrder("o1", "TAG-1")
	changed.Units = 1
	changed.Status = "closed"
	now := time.Now().UTC()
	changed.ClosedAt = &now
	require.NoError(t, j.UpsertBrokerOrder(changed))

	got, err := j.OrderForTag("TAG-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 250000, got.Units, "insert-time-only field")
	assert.Equal(t, "closed", got.Status)
	assert.NotNil(t, got.ClosedAt)
}

func TestOpenAndPendingQueries(t *testing.T) {
	j := openTemp(t)

	require.NoError(t, j.UpsertBrokerOrder(sampleOrder("o1", "TAG-1")))
	require.NoError(t, j.UpsertTrade(sampleTrade("a1")))
	require.NoError(t, j.UpsertTrade(sampleTrade("a2")))
	require.NoError(t, j.Link("a1", "o1"))

	open, err := j.OpenBrokerOrders()
	require.NoError(t, err)
	assert.Len(t, open, 1)

	trades, err := j.OpenTrades()
	require.NoError(t, err)
	assert.Len(t, trades, 2)

	pending, err := j.PendingMappings()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a2", pending[0].AxflID)

	require.NoError(t, j.MarkOrderClosed("o1", time.Now().UTC()))
	open, err = j.OpenBrokerOrders()
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestOrderForTagMissing(t *testing.T) {
	j := openTemp(t)
	got, err := j.OrderForTag("TAG-missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEventsAppendOnly(t *testing.T) {
	j := openTemp(t)
	j.LogEvent("WARN", "mirror_open_failed", "tag=TAG-1")
	j.LogEvent("INFO", "dd_lock_cleared", "dd_pct=3.5")

	events, err := j.LastNEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "dd_lock_cleared", events[0].Kind, "newest first")
	assert.Equal(t, "mirror_open_failed", events[1].Kind)
}

func TestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "axfl.db")

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.UpsertTrade(sampleTrade("a1")))
	j.Close()

	j2, err := Open(path)
	require.NoError(t, err)
	defer j2.Close()
	trades, err := j2.OpenTrades()
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

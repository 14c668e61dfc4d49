package notify

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu   sync.Mutex
	msgs []string
	fail bool
	gate chan struct{} // when set, Send blocks until the gate closes
}

func (m *memSink) Name() string { return "mem" }

func (m *memSink) Send(text string) error {
	if m.gate != nil {
		<-m.gate
	}
	if m.fail {
		return errors.New("sink down")
	}
	m.mu.Lock()
	m.msgs = append(m.msgs, text)
	m.mu.Unlock()
	return nil
}

func TestNotifyDeliversAndCounts(t *testing.T) {
	sink := &memSink{}
	n := New(sink)

	n.Notify("halted")
	n.Notify("dd lock engaged")
	n.Stop()

	require.Equal(t, []string{"halted", "dd lock engaged"}, sink.msgs)
	sent, dropped, failed := n.Counters()
	assert.Equal(t, 2, sent)
	assert.Zero(t, dropped)
	assert.Zero(t, failed)
}

func TestNotifyNoSinksDiscards(t *testing.T) {
	n := New()
	n.Notify("nobody listening")
	n.Stop()

	sent, dropped, failed := n.Counters()
	assert.Zero(t, sent+dropped+failed)
}

func TestNotifyFailingSinkCounted(t *testing.T) {
	n := New(&memSink{fail: true})
	n.Notify("boom")
	n.Stop()

	sent, dropped, failed := n.Counters()
	assert.Zero(t, sent)
	assert.Equal(t, 1, failed)
	assert.Zero(t, dropped)
}

func TestNotifyFullQueueDropsWithoutBlocking(t *testing.T) {
	gate := make(chan struct{})
	sink := &memSink{gate: gate}
	n := New(sink)

	// The drainer is stuck on the gated sink; overfill the queue.
	for i := 0; i < queueCap+10; i++ {
		n.Notify("x")
	}
	_, dropped, _ := n.Counters()
	assert.GreaterOrEqual(t, dropped, 9, "overflow past the queue cap is dropped")

	close(gate)
	n.Stop()
}

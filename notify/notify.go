package notify

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// NOTIFIER - Fire-and-forget alerts, never on the dispatch path
// ═══════════════════════════════════════════════════════════════════════════════
//
// Messages go through a bounded queue drained by one background goroutine.
// When the queue is full the message is dropped and counted; a failing sink
// never blocks or crashes the engine.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Sink delivers a single message to one destination.
type Sink interface {
	Name() string
	Send(text string) error
}

// Notifier fans messages out to its sinks asynchronously.
type Notifier struct {
	sinks []Sink
	queue chan string

	mu      sync.Mutex
	dropped int
	failed  int
	sent    int

	wg     sync.WaitGroup
	stopCh chan struct{}
}

const queueCap = 64

// New starts a notifier over the given sinks. A notifier with no sinks is
// valid and discards everything.
func New(sinks ...Sink) *Notifier {
	n := &Notifier{
		sinks:  sinks,
		queue:  make(chan string, queueCap),
		stopCh: make(chan struct{}),
	}
	n.wg.Add(1)
	go n.drain()
	return n
}

// Notify enqueues a message. Never blocks: when the queue is full the
// message is dropped.
func (n *Notifier) Notify(text string) {
	if len(n.sinks) == 0 {
		return
	}
	select {
	case n.queue <- text:
	default:
		n.mu.Lock()
		n.dropped++
		n.mu.Unlock()
		log.Warn().Msg("notify queue full, message dropped")
	}
}

func (n *Notifier) drain() {
	defer n.wg.Done()
	for {
		select {
		case text := <-n.queue:
			n.deliver(text)
		case <-n.stopCh:
			// flush what is already queued
			for {
				select {
				case text := <-n.queue:
					n.deliver(text)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) deliver(text string) {
	for _, s := range n.sinks {
		if err := s.Send(text); err != nil {
			n.mu.Lock()
			n.failed++
			n.mu.Unlock()
			log.Warn().Err(err).Str("sink", s.Name()).Msg("notify send failed")
			continue
		}
		n.mu.Lock()
		n.sent++
		n.mu.Unlock()
	}
}

// Counters returns (sent, dropped, failed) for the status record.
func (n *Notifier) Counters() (sent, dropped, failed int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent, n.dropped, n.failed
}

// Stop drains the queue and shuts the sender down.
func (n *Notifier) Stop() {
	close(n.stopCh)
	n.wg.Wait()
}

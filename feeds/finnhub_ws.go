package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ═══════════════════════════════════════════════════════════════════════════════
// FINNHUB WEBSOCKET FEED
// ═══════════════════════════════════════════════════════════════════════════════
//
// Connects to the live trade stream with the token in the query string and
// subscribes to the venue-prefixed symbols. The reader appends ticks to a
// bounded drop-oldest buffer; the dispatcher drains it on its own goroutine.
//
// HTTP 429/403 on the handshake rotates to the next credential. Reconnects
// back off exponentially, capped at one minute. A missing heartbeat beyond
// 30 seconds forces a reconnect.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	finnhubWSURL      = "wss://ws.finnhub.io"
	heartbeatTimeout  = 30 * time.Second
	maxReconnectDelay = time.Minute
	defaultBufferCap  = 10000
)

// TradeTick is one trade message from the feed.
type TradeTick struct {
	Symbol string // venue-prefixed, e.g. OANDA:EUR_USD
	Price  float64
	Time   time.Time
}

// WSStats is the feed health snapshot surfaced in the status record.
type WSStats struct {
	Connected   bool
	Reconnects  int
	Rotations   int
	Dropped     int64
	LastMessage time.Time
	KeyIndex    int
}

// WSFeed maintains the websocket connection and the tick buffer.
type WSFeed struct {
	mu sync.Mutex

	url     string
	keys    []string
	keyIdx  int
	symbols []string

	conn      *websocket.Conn
	connected bool
	running   bool
	stopCh    chan struct{}

	buf    []TradeTick
	bufCap int

	lastMsg    time.Time
	reconnects int
	rotations  int
	dropped    int64

	// Subscribe messages are paced to stay under the provider limit.
	limiter *rate.Limiter
}

// NewWSFeed creates a feed for the venue-prefixed symbols using an ordered
// credential list.
func NewWSFeed(keys, symbols []string) *WSFeed {
	return &WSFeed{
		url:     finnhubWSURL,
		keys:    keys,
		symbols: symbols,
		stopCh:  make(chan struct{}),
		bufCap:  defaultBufferCap,
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 10),
	}
}

// Connect dials the feed, trying up to 3×|keys| attempts with back-off.
// Callers degrade to replay mode when it returns an error.
func (f *WSFeed) Connect() error {
	if len(f.keys) == 0 {
		return fmt.Errorf("ws feed: no credentials")
	}
	attempts := 3 * len(f.keys)
	delay := time.Second
	for i := 0; i < attempts; i++ {
		if err := f.dial(); err != nil {
			log.Warn().Err(err).Int("attempt", i+1).Int("key", f.keyIdx).Msg("ws connect failed")
			time.Sleep(delay)
			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			continue
		}
		f.mu.Lock()
		f.running = true
		f.mu.Unlock()
		go f.readLoop()
		go f.watchdog()
		return nil
	}
	return fmt.Errorf("ws feed: connect failed after %d attempts", attempts)
}

func (f *WSFeed) dial() error {
	f.mu.Lock()
	key := f.keys[f.keyIdx]
	f.mu.Unlock()

	conn, resp, err := websocket.DefaultDialer.Dial(f.url+"?token="+key, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden) {
			f.rotateKey(resp.StatusCode)
		}
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.connected = true
	f.lastMsg = time.Now()
	f.mu.Unlock()

	for _, sym := range f.symbols {
		_ = f.limiter.Wait(context.Background())
		msg := map[string]any{"type": "subscribe", "symbol": sym}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", sym, err)
		}
	}
	log.Info().Int("symbols", len(f.symbols)).Int("key", f.keyIdx).Msg("websocket connected")
	return nil
}

func (f *WSFeed) rotateKey(status int) {
	f.mu.Lock()
	f.keyIdx = (f.keyIdx + 1) % len(f.keys)
	f.rotations++
	idx := f.keyIdx
	f.mu.Unlock()
	log.Warn().Int("http", status).Int("next_key", idx).Msg("rotating feed credential")
}

// readLoop reads trade messages until the feed is stopped. A dropped
// connection sends it through redial, which keeps retrying; the loop itself
// never exits on a connection failure.
func (f *WSFeed) readLoop() {
	delay := time.Second
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		f.mu.Lock()
		conn := f.conn
		f.mu.Unlock()
		if conn == nil {
			if !f.redial(&delay) {
				return
			}
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.stopCh:
				return
			default:
			}
			log.Warn().Err(err).Msg("ws read error, reconnecting")
			f.markDisconnected()
			continue
		}
		delay = time.Second
		f.handleMessage(data)
	}
}

// redial retries the handshake with capped exponential back-off until it
// succeeds or the feed is stopped. Returns false only when stopped.
func (f *WSFeed) redial(delay *time.Duration) bool {
	for {
		select {
		case <-f.stopCh:
			return false
		case <-time.After(*delay):
		}
		*delay *= 2
		if *delay > maxReconnectDelay {
			*delay = maxReconnectDelay
		}
		f.mu.Lock()
		f.reconnects++
		f.mu.Unlock()
		if err := f.dial(); err != nil {
			log.Warn().Err(err).Msg("ws redial failed")
			continue
		}
		return true
	}
}

func (f *WSFeed) markDisconnected() {
	f.mu.Lock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.connected = false
	f.mu.Unlock()
}

// watchdog forces a reconnect when no message (including server pings) has
// arrived within the heartbeat timeout.
func (f *WSFeed) watchdog() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.mu.Lock()
			stale := f.connected && time.Since(f.lastMsg) > heartbeatTimeout
			conn := f.conn
			f.mu.Unlock()
			if stale && conn != nil {
				log.Warn().Msg("ws heartbeat missing, forcing reconnect")
				conn.Close()
			}
		}
	}
}

type wsMessage struct {
	Type string `json:"type"`
	Data []struct {
		Symbol string  `json:"s"`
		Price  float64 `json:"p"`
		TimeMS int64   `json:"t"`
	} `json:"data"`
}

func (f *WSFeed) handleMessage(data []byte) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	f.mu.Lock()
	f.lastMsg = time.Now()
	f.mu.Unlock()

	if msg.Type != "trade" {
		return // ping and friends reset the heartbeat above
	}

	f.mu.Lock()
	for _, d := range msg.Data {
		tick := TradeTick{
			Symbol: d.Symbol,
			Price:  d.Price,
			Time:   time.UnixMilli(d.TimeMS).UTC(),
		}
		if len(f.buf) >= f.bufCap {
			// Drop-oldest so a stalled dispatcher never disconnects the feed.
			f.buf = f.buf[1:]
			f.dropped++
		}
		f.buf = append(f.buf, tick)
	}
	f.mu.Unlock()
}

// Drain returns and clears the buffered ticks in arrival order.
func (f *WSFeed) Drain() []TradeTick {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.buf) == 0 {
		return nil
	}
	out := f.buf
	f.buf = nil
	return out
}

// Stats returns the feed health snapshot.
func (f *WSFeed) Stats() WSStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return WSStats{
		Connected:   f.connected,
		Reconnects:  f.reconnects,
		Rotations:   f.rotations,
		Dropped:     f.dropped,
		LastMessage: f.lastMsg,
		KeyIndex:    f.keyIdx,
	}
}

// Stop closes the connection and halts the reader.
func (f *WSFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return
	}
	f.running = false
	close(f.stopCh)
	if f.conn != nil {
		f.conn.Close()
	}
	log.Info().Msg("feed stopped")
}

package feeds

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedServer is a local websocket endpoint that can be stopped and brought
// back on the same address, simulating a provider outage.
type feedServer struct {
	t    *testing.T
	addr string

	mu    sync.Mutex
	srv   *http.Server
	conns []*websocket.Conn
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	s := &feedServer{t: t}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s.addr = ln.Addr().String()
	s.serve(ln)
	return s
}

func (s *feedServer) serve(ln net.Listener) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	srv := &http.Server{Handler: mux}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()
	go srv.Serve(ln)
}

func (s *feedServer) handle(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	c, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()
	// Consume subscribe messages so client writes never block.
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// stop closes the listener and every live websocket connection. Hijacked
// connections are not covered by http.Server.Close, so they are closed by hand.
func (s *feedServer) stop() {
	s.mu.Lock()
	srv := s.srv
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	srv.Close()
	for _, c := range conns {
		c.Close()
	}
}

// restart rebinds the original address. The port may linger briefly after
// stop, so binding is retried.
func (s *feedServer) restart() {
	s.t.Helper()
	var ln net.Listener
	var err error
	for i := 0; i < 100; i++ {
		ln, err = net.Listen("tcp", s.addr)
		if err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	require.NoError(s.t, err)
	s.serve(ln)
}

func tradeMsg(sym string, price float64, ms int64) []byte {
	return []byte(fmt.Sprintf(`{"type":"trade","data":[{"s":%q,"p":%g,"t":%d}]}`, sym, price, ms))
}

func TestBufferDropsOldest(t *testing.T) {
	f := NewWSFeed([]string{"k"}, nil)
	f.bufCap = 3

	for i := 0; i < 5; i++ {
		f.handleMessage(tradeMsg("OANDA:EUR_USD", 1.10+float64(i)*0.001, int64(1000+i)))
	}

	ticks := f.Drain()
	require.Len(t, ticks, 3, "buffer holds at most bufCap ticks")
	assert.InDelta(t, 1.102, ticks[0].Price, 1e-9, "oldest two dropped")
	assert.InDelta(t, 1.104, ticks[2].Price, 1e-9, "newest kept")
	assert.Equal(t, int64(2), f.Stats().Dropped)
}

func TestDrainOrderAndClear(t *testing.T) {
	f := NewWSFeed([]string{"k"}, nil)

	f.handleMessage(tradeMsg("OANDA:EUR_USD", 1.10, 1000))
	f.handleMessage(tradeMsg("OANDA:XAU_USD", 2400.5, 2000))
	f.handleMessage(tradeMsg("OANDA:EUR_USD", 1.11, 3000))

	ticks := f.Drain()
	require.Len(t, ticks, 3)
	assert.Equal(t, "OANDA:EUR_USD", ticks[0].Symbol)
	assert.Equal(t, "OANDA:XAU_USD", ticks[1].Symbol)
	assert.InDelta(t, 1.11, ticks[2].Price, 1e-9)
	assert.Equal(t, time.UnixMilli(2000).UTC(), ticks[1].Time)

	assert.Empty(t, f.Drain(), "drain clears the buffer")
	assert.Zero(t, f.Stats().Dropped)
}

func TestNonTradeMessageOnlyResetsHeartbeat(t *testing.T) {
	f := NewWSFeed([]string{"k"}, nil)
	before := f.Stats().LastMessage

	f.handleMessage([]byte(`{"type":"ping"}`))

	assert.True(t, f.Stats().LastMessage.After(before))
	assert.Empty(t, f.Drain())
}

func TestDialRotatesKeyOnForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	f := NewWSFeed([]string{"k1", "k2"}, nil)
	f.url = "ws" + strings.TrimPrefix(srv.URL, "http")

	require.Error(t, f.dial())
	st := f.Stats()
	assert.Equal(t, 1, st.KeyIndex)
	assert.Equal(t, 1, st.Rotations)
}

func TestReconnectSurvivesOutage(t *testing.T) {
	if testing.Short() {
		t.Skip("timing-dependent")
	}
	srv := newFeedServer(t)

	f := NewWSFeed([]string{"k1"}, []string{"OANDA:EUR_USD"})
	f.url = "ws://" + srv.addr
	require.NoError(t, f.Connect())
	t.Cleanup(f.Stop)
	require.True(t, f.Stats().Connected)

	// Take the endpoint down long enough for the first redial attempt to
	// fail, then bring it back. The reader must keep retrying until it lands.
	srv.stop()
	time.Sleep(1500 * time.Millisecond)
	srv.restart()
	t.Cleanup(srv.stop)

	require.Eventually(t, func() bool { return f.Stats().Connected },
		15*time.Second, 100*time.Millisecond,
		"feed must redial until the endpoint returns")
	assert.GreaterOrEqual(t, f.Stats().Reconnects, 1)
}

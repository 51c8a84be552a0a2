package reader

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tickstream/internal/bridge"
	"tickstream/internal/instrument"
	"tickstream/internal/subscription"
)

func newTestManager(t *testing.T, events bridge.Publisher) *subscription.Manager {
	t.Helper()
	o, err := buildOptions(nil)
	if err != nil {
		t.Fatalf("buildOptions: %v", err)
	}
	m, err := subscription.NewManager(o.Catalog, o.Variant, instrument.BTCUSDT, events)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func runClient(t *testing.T, c *Client) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestNewClientRequiresManager(t *testing.T) {
	if _, err := NewClient(nil, ""); err == nil {
		t.Fatal("expected error for nil manager")
	}
}

func TestClientReconnectsAfterSessionEnds(t *testing.T) {
	events := &recorder{}
	var dials atomic.Int64
	dial := func(ctx context.Context, proxyURL string) (FrameConn, error) {
		dials.Add(1)
		conn := newFakeConn()
		conn.frames <- inbound{err: &websocket.CloseError{Code: websocket.CloseGoingAway}}
		return conn, nil
	}

	c, err := NewClient(newTestManager(t, events), "", WithEvents(events), WithDial(dial), WithReconnectDelay(time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	cancel, done := runClient(t, c)

	waitFor(t, "three dials", func() bool { return dials.Load() >= 3 })
	waitFor(t, "reconnect notices", func() bool { return events.notices(bridge.NoticeReconnecting) >= 2 })

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if c.Attempts() < 3 {
		t.Fatalf("attempts = %d", c.Attempts())
	}
}

func TestClientRetriesFailedDials(t *testing.T) {
	var dials atomic.Int64
	dial := func(ctx context.Context, proxyURL string) (FrameConn, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	}
	c, err := NewClient(newTestManager(t, nil), "", WithDial(dial), WithReconnectDelay(time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	runClient(t, c)
	waitFor(t, "repeated dials", func() bool { return dials.Load() >= 10 })
}

func TestClientRetriesInvalidProxy(t *testing.T) {
	events := &recorder{}
	c, err := NewClient(newTestManager(t, events), "ftp://proxy.invalid:21", WithEvents(events), WithReconnectDelay(time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	runClient(t, c)
	waitFor(t, "retries on invalid proxy", func() bool { return c.Attempts() >= 3 })
	if events.notices(bridge.NoticeReconnecting) < 2 {
		t.Fatal("no reconnect notice after invalid proxy")
	}
}

func TestClientPassesProxyToDial(t *testing.T) {
	seen := make(chan string, 1)
	dial := func(ctx context.Context, proxyURL string) (FrameConn, error) {
		select {
		case seen <- proxyURL:
		default:
		}
		return nil, errors.New("stop")
	}
	c, err := NewClient(newTestManager(t, nil), "socks5://127.0.0.1:1080", WithDial(dial), WithReconnectDelay(time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	runClient(t, c)
	select {
	case got := <-seen:
		if got != "socks5://127.0.0.1:1080" {
			t.Fatalf("dial got proxy %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dial never called")
	}
}

func TestRunRejectsUnknownInitial(t *testing.T) {
	err := Run(context.Background(), "DOGEUSDT", "", nil)
	if err == nil {
		t.Fatal("expected error for unknown initial instrument")
	}
}

// feedServer plays the HTX side of one connection.
type feedServer struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu       sync.Mutex
	received []string
}

func (f *feedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		text := string(msg)
		f.mu.Lock()
		f.received = append(f.received, text)
		f.mu.Unlock()

		switch text {
		case `{"sub":"market.BTC-USDT.detail","id":"1"}`:
			conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"1","status":"ok","subbed":"market.BTC-USDT.detail"}`))
			conn.WriteMessage(websocket.BinaryMessage, gzipped(f.t, htxTick("market.BTC-USDT.detail", "60000.5")))
		case `{"sub":"market.ETH-USDT.detail","id":"1"}`:
			// a late tick for the old instrument arrives before the new one
			conn.WriteMessage(websocket.BinaryMessage, gzipped(f.t, htxTick("market.BTC-USDT.detail", "60001")))
			conn.WriteMessage(websocket.BinaryMessage, gzipped(f.t, htxTick("market.ETH-USDT.detail", "3000.25")))
		}
	}
}

func (f *feedServer) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

func nextTick(t *testing.T, events <-chan bridge.Event) bridge.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Kind == bridge.KindTick {
				return e
			}
		case <-timeout:
			t.Fatal("timed out waiting for tick")
			return bridge.Event{}
		}
	}
}

func TestRunStreamsAndSwitchesOverTLS(t *testing.T) {
	feed := &feedServer{t: t}
	srv := httptest.NewTLSServer(feed)
	defer srv.Close()

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	url := "wss" + strings.TrimPrefix(srv.URL, "https")

	events := bridge.NewChannel(64)
	commands := make(chan instrument.ID, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, instrument.BTCUSDT, "", commands,
			WithEvents(events),
			WithURL(url),
			WithTLSConfig(&tls.Config{RootCAs: pool}),
		)
	}()

	first := nextTick(t, events.Events())
	if first.Tick.MatchKey != "market.BTC-USDT.detail" || first.Tick.Price != 60000.5 {
		t.Fatalf("unexpected first tick: %+v", first.Tick)
	}

	commands <- instrument.ETHUSDT
	second := nextTick(t, events.Events())
	if second.Tick.MatchKey != "market.ETH-USDT.detail" || second.Tick.Price != 3000.25 {
		t.Fatalf("expected ETH tick after switch, got %+v", second.Tick)
	}

	want := []string{
		`{"sub":"market.BTC-USDT.detail","id":"1"}`,
		`{"unsub":"market.BTC-USDT.detail","id":"1"}`,
		`{"sub":"market.ETH-USDT.detail","id":"1"}`,
	}
	got := feed.messages()
	if len(got) < len(want) {
		t.Fatalf("server received %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("server received %v, want prefix %v", got, want)
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

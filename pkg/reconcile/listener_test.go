package reconcile

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridwire-api/pkg/exchange/binance"
)

type fakeStream struct {
	url        string
	keepalives int32
}

func (f *fakeStream) ListenKey(context.Context) (string, error) { return "lk-test", nil }

func (f *fakeStream) KeepAliveListenKey(context.Context, string) error {
	atomic.AddInt32(&f.keepalives, 1)
	return nil
}

func (f *fakeStream) StreamURL(string) string { return f.url }

const rawFill = `{"e":"ORDER_TRADE_UPDATE","E":1724800000001,"o":{"s":"BTCUSDT","c":"cli-1","S":"SELL","o":"LIMIT","q":"0.5","p":"101","x":"TRADE","X":"FILLED","i":41,"l":"0.5","z":"0.5","L":"101","N":"USDT","n":"0.02","T":1724800000000,"t":9001,"rp":"0.5"}}`

const rawAccountUpdate = `{"e":"ACCOUNT_UPDATE","E":1724800000002}`

func testListenerConfig() Config {
	return Config{
		HeartbeatInterval: 10 * time.Millisecond,
		HeartbeatTimeout:  time.Second,
		KeepAliveInterval: 20 * time.Millisecond,
		MaxReconnects:     2,
		ReconnectBackoff:  time.Millisecond,
		Workers:           2,
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestListenerProcessesStreamIdempotently(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var sessions atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		// The first sessions replay the same fill plus a non-fill message;
		// the ledger must still end up with exactly one row. Later sessions
		// deliver nothing so the consecutive-failure bound trips.
		if sessions.Add(1) > 2 {
			return
		}
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(rawAccountUpdate)))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(rawFill)))
	}))
	defer srv.Close()

	ledger := newMemLedger()
	processor := NewProcessor(ledger, &staticResolver{strat: gridStrat()}, &countingGrid{}, &countingRisk{})
	stream := &fakeStream{url: wsURL(srv)}

	var alerted atomic.Bool
	l, err := NewListener(stream, binance.ParseFillEvent, processor, testListenerConfig(),
		WithAlert(func(error) { alerted.Store(true) }))
	require.NoError(t, err)

	err = l.Run(context.Background())
	require.ErrorIs(t, err, ErrTooManyReconnects)
	assert.Equal(t, StateStopped, l.State())
	assert.True(t, alerted.Load(), "exhausting reconnects must raise an operator alert")

	require.Eventually(t, func() bool {
		ledger.mu.Lock()
		defer ledger.mu.Unlock()
		return len(ledger.executions) == 1
	}, 2*time.Second, 5*time.Millisecond, "replayed fills across reconnects stay idempotent")

	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	row := ledger.executions[9001]
	assert.Equal(t, "BTCUSDT", row.Symbol)
	assert.InDelta(t, 0.5, row.Quantity, 1e-9)
	assert.InDelta(t, 101, row.Price, 1e-9)
}

func TestListenerOutlivesRoutineStreamClosures(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var sessions atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		// Each session is healthy: it delivers a message, then the server
		// closes it the way the exchange recycles user-data streams.
		sessions.Add(1)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(rawAccountUpdate)))
	}))
	defer srv.Close()

	processor := NewProcessor(newMemLedger(), &staticResolver{strat: gridStrat()}, &countingGrid{}, &countingRisk{})
	stream := &fakeStream{url: wsURL(srv)}

	var alerted atomic.Bool
	cfg := testListenerConfig()
	cfg.MaxReconnects = 2
	l, err := NewListener(stream, binance.ParseFillEvent, processor, cfg,
		WithAlert(func(error) { alerted.Store(true) }))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// Far more routine closures than the reconnect bound allows for failures.
	require.Eventually(t, func() bool {
		return sessions.Load() >= 6
	}, 5*time.Second, 5*time.Millisecond, "healthy closures must not consume the reconnect budget")
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop after cancellation")
	}
	assert.False(t, alerted.Load())
}

func TestListenerStopsCleanlyOnCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	hold := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		<-hold
	}))
	defer srv.Close()
	defer close(hold)

	processor := NewProcessor(newMemLedger(), &staticResolver{strat: gridStrat()}, &countingGrid{}, &countingRisk{})
	stream := &fakeStream{url: wsURL(srv)}
	l, err := NewListener(stream, binance.ParseFillEvent, processor, testListenerConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool {
		return l.State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop after cancellation")
	}
	assert.Equal(t, StateStopped, l.State())
}

func TestListenerKeepsListenKeyAlive(t *testing.T) {
	upgrader := websocket.Upgrader{}
	hold := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		<-hold
	}))
	defer srv.Close()
	defer close(hold)

	processor := NewProcessor(newMemLedger(), &staticResolver{strat: gridStrat()}, &countingGrid{}, &countingRisk{})
	stream := &fakeStream{url: wsURL(srv)}
	l, err := NewListener(stream, binance.ParseFillEvent, processor, testListenerConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&stream.keepalives) >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNewListenerValidates(t *testing.T) {
	_, err := NewListener(nil, nil, nil, Config{})
	assert.Error(t, err)
}

func TestNewListenerDefaultAlert(t *testing.T) {
	processor := NewProcessor(newMemLedger(), &staticResolver{strat: gridStrat()}, &countingGrid{}, &countingRisk{})
	l, err := NewListener(&fakeStream{}, binance.ParseFillEvent, processor, testListenerConfig())
	require.NoError(t, err)
	require.NotPanics(t, func() { l.alert(errors.New("stream gone")) })
}

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/panjf2000/ants/v2"
	"github.com/zeromicro/go-zero/core/logx"

	"gridwire-api/pkg/exchange"
)

// ErrTooManyReconnects is surfaced when the listener gives up permanently.
var ErrTooManyReconnects = errors.New("reconcile: reconnect attempts exhausted")

// Config tunes the stream supervision.
type Config struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	KeepAliveInterval time.Duration
	MaxReconnects     int
	ReconnectBackoff  time.Duration
	Workers           int
}

// DefaultConfig matches the exchange's listen-key contract: keys expire
// after 60 minutes and must be refreshed well before that.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  90 * time.Second,
		KeepAliveInterval: 30 * time.Minute,
		MaxReconnects:     5,
		ReconnectBackoff:  2 * time.Second,
		Workers:           4,
	}
}

func (c *Config) normalise() {
	d := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = d.KeepAliveInterval
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = d.MaxReconnects
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = d.ReconnectBackoff
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
}

// ParseFunc turns one raw stream message into a fill event. A nil event with
// a nil error means the message was not a fill and is skipped.
type ParseFunc func(msg []byte) (*exchange.FillEvent, error)

// Listener supervises the fill stream and hands each fill to the processor
// on a worker pool, so slow reconciliation never stalls the socket reader.
type Listener struct {
	stream    exchange.StreamProvider
	parse     ParseFunc
	processor *Processor
	cfg       Config

	dialer *websocket.Dialer
	pool   *ants.Pool
	state  *stateTracker
	alert  func(error)
	logger logx.Logger

	mu      sync.Mutex
	lastMsg time.Time
}

// Option customises a Listener.
type Option func(*Listener)

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(l *Listener) { l.dialer = d }
}

// WithAlert installs the operator alert hook fired when the listener stops
// permanently.
func WithAlert(alert func(error)) Option {
	return func(l *Listener) { l.alert = alert }
}

// NewListener builds a stream listener.
func NewListener(stream exchange.StreamProvider, parse ParseFunc, processor *Processor, cfg Config, opts ...Option) (*Listener, error) {
	if stream == nil || parse == nil || processor == nil {
		return nil, errors.New("reconcile: stream, parse and processor are required")
	}
	cfg.normalise()
	pool, err := ants.NewPool(cfg.Workers, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("reconcile: worker pool: %w", err)
	}
	l := &Listener{
		stream:    stream,
		parse:     parse,
		processor: processor,
		cfg:       cfg,
		dialer:    websocket.DefaultDialer,
		pool:      pool,
		state:     newStateTracker(),
		logger:    logx.WithContext(context.Background()),
	}
	l.alert = func(err error) { logx.Severef("reconcile: %v", err) }
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// State reports the current connection state.
func (l *Listener) State() State { return l.state.get() }

// Run connects and consumes the stream until the context is cancelled or
// too many reconnects fail in a row. A session that delivered messages
// resets the counter: the exchange closes healthy user-data streams daily,
// and those closures must not eat into the failure bound.
func (l *Listener) Run(ctx context.Context) error {
	defer l.pool.Release()
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			l.state.set(StateStopped)
			return nil
		}
		l.state.set(StateConnecting)
		delivered, err := l.runConnection(ctx)
		if ctx.Err() != nil {
			l.state.set(StateStopped)
			return nil
		}
		if delivered {
			attempts = 0
		}
		attempts++
		if attempts > l.cfg.MaxReconnects {
			l.state.set(StateStopped)
			stopErr := fmt.Errorf("%w after %d attempts: %v", ErrTooManyReconnects, attempts, err)
			l.alert(stopErr)
			return stopErr
		}
		l.state.set(StateReconnecting)
		l.logger.Errorf("reconcile: connection lost (%v), reconnect %d/%d", err, attempts, l.cfg.MaxReconnects)
		if !sleepCtx(ctx, l.cfg.ReconnectBackoff*time.Duration(attempts)) {
			l.state.set(StateStopped)
			return nil
		}
	}
}

// runConnection owns one websocket session from dial to failure. It reports
// whether the session delivered at least one message before ending.
func (l *Listener) runConnection(ctx context.Context) (bool, error) {
	key, err := l.stream.ListenKey(ctx)
	if err != nil {
		return false, fmt.Errorf("listen key: %w", err)
	}
	conn, _, err := l.dialer.DialContext(ctx, l.stream.StreamURL(key), nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	l.state.set(StateConnected)
	l.touch()
	l.logger.Infof("reconcile: fill stream connected")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go l.supervise(connCtx, conn, key)

	conn.SetPongHandler(func(string) error {
		l.touch()
		return nil
	})
	delivered := false
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return delivered, fmt.Errorf("read: %w", err)
		}
		delivered = true
		l.touch()
		fill, err := l.parse(msg)
		if err != nil {
			l.logger.Errorf("reconcile: drop malformed stream message: %v", err)
			continue
		}
		if fill == nil {
			continue
		}
		ev := *fill
		if err := l.pool.Submit(func() { l.processor.Process(ctx, &ev) }); err != nil {
			l.logger.Errorf("reconcile: submit fill %d: %v", ev.ExecutionID, err)
		}
	}
}

// supervise runs the heartbeat monitor and listen-key keepalive for one
// connection. A stale stream degrades the state and closes the socket, which
// bounces the read loop into the reconnect path.
func (l *Listener) supervise(ctx context.Context, conn *websocket.Conn, key string) {
	heartbeat := time.NewTicker(l.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	keepalive := time.NewTicker(l.cfg.KeepAliveInterval)
	defer keepalive.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if time.Since(l.last()) > l.cfg.HeartbeatTimeout {
				l.state.set(StateDegraded)
				l.logger.Errorf("reconcile: stream stale for over %s, forcing reconnect", l.cfg.HeartbeatTimeout)
				conn.Close()
				return
			}
			deadline := time.Now().Add(l.cfg.HeartbeatInterval)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				l.logger.Errorf("reconcile: ping: %v", err)
			}
		case <-keepalive.C:
			if err := l.stream.KeepAliveListenKey(ctx, key); err != nil {
				l.logger.Errorf("reconcile: listen key keepalive: %v", err)
			}
		}
	}
}

func (l *Listener) touch() {
	l.mu.Lock()
	l.lastMsg = time.Now()
	l.mu.Unlock()
}

func (l *Listener) last() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastMsg
}

// sleepCtx sleeps unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

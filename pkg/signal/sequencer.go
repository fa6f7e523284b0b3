package signal

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"

	"gridwire-api/pkg/trading"
)

// ErrQueueFull is returned when a priority queue cannot accept another
// envelope. Callers acknowledge the webhook regardless; the drop is logged.
var ErrQueueFull = errors.New("signal: queue full")

const (
	defaultQueueDepth   = 256
	defaultDispatchTick = 50 * time.Millisecond
)

// Envelope binds a validated signal to the strategy it authenticated as,
// plus the identifiers the rest of the pipeline logs against.
type Envelope struct {
	Signal        Signal
	Strategy      *trading.Strategy
	CorrelationID string
	ReceivedAt    time.Time
}

// NewEnvelope stamps a correlation id and receive time onto a signal.
func NewEnvelope(sig Signal, strat *trading.Strategy) *Envelope {
	return &Envelope{
		Signal:        sig,
		Strategy:      strat,
		CorrelationID: uuid.NewString(),
		ReceivedAt:    time.Now(),
	}
}

// Handler processes one envelope to completion. A returned error is logged
// and the envelope is dropped; the sequencer never retries.
type Handler func(ctx context.Context, env *Envelope) error

// Sequencer orders accepted signals into two bounded queues and dispatches
// them from two single-consumer loops. Exit-class signals drain
// unconditionally; entry-class signals dispatch one at a time and only while
// no exit is queued or in flight, so closing exposure is never stuck behind
// opening it.
type Sequencer struct {
	high    chan *Envelope
	low     chan *Envelope
	handler Handler
	tick    time.Duration
	logger  logx.Logger

	// exitPending counts exit envelopes from ingest until their dispatch
	// completes, so the entry loop also waits out an exit that has already
	// been dequeued but is still running.
	exitPending atomic.Int64
}

// SequencerOption customises a Sequencer.
type SequencerOption func(*Sequencer)

// WithQueueDepth sets the capacity of each priority queue.
func WithQueueDepth(n int) SequencerOption {
	return func(s *Sequencer) {
		if n > 0 {
			s.high = make(chan *Envelope, n)
			s.low = make(chan *Envelope, n)
		}
	}
}

// WithDispatchTick sets the idle poll interval of the dispatch loops.
func WithDispatchTick(d time.Duration) SequencerOption {
	return func(s *Sequencer) {
		if d > 0 {
			s.tick = d
		}
	}
}

// NewSequencer builds a sequencer around the given handler.
func NewSequencer(handler Handler, opts ...SequencerOption) *Sequencer {
	s := &Sequencer{
		high:    make(chan *Envelope, defaultQueueDepth),
		low:     make(chan *Envelope, defaultQueueDepth),
		handler: handler,
		tick:    defaultDispatchTick,
		logger:  logx.WithContext(context.Background()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest routes an envelope into the queue matching its class. It never
// blocks: a full queue returns ErrQueueFull.
func (s *Sequencer) Ingest(env *Envelope) error {
	queue := s.low
	exit := env.Signal.Class() == ClassExit
	if exit {
		queue = s.high
		s.exitPending.Add(1)
	}
	select {
	case queue <- env:
		return nil
	default:
		if exit {
			s.exitPending.Add(-1)
		}
		s.logger.Errorf("sequencer: %s queue full, dropping %T for %s corr=%s",
			env.Signal.Class(), env.Signal, env.Signal.Symbol(), env.CorrelationID)
		return ErrQueueFull
	}
}

// Run starts both dispatch loops and blocks until the context is cancelled.
func (s *Sequencer) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.runHigh(ctx)
	}()
	s.runLow(ctx)
	<-done
}

// runHigh drains the exit queue as fast as envelopes arrive.
func (s *Sequencer) runHigh(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-s.high:
			s.dispatch(ctx, env)
			s.exitPending.Add(-1)
		}
	}
}

// runLow takes one entry envelope per pass, and only while no exit envelope
// is queued or mid-dispatch.
func (s *Sequencer) runLow(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.exitPending.Load() > 0 {
				continue
			}
			select {
			case env := <-s.low:
				s.dispatch(ctx, env)
			default:
			}
		}
	}
}

func (s *Sequencer) dispatch(ctx context.Context, env *Envelope) {
	start := time.Now()
	if err := s.handler(ctx, env); err != nil {
		s.logger.Errorf("sequencer: dispatch %T %s corr=%s failed: %v",
			env.Signal, env.Signal.Symbol(), env.CorrelationID, err)
		return
	}
	s.logger.Infof("sequencer: dispatched %T %s corr=%s in %s",
		env.Signal, env.Signal.Symbol(), env.CorrelationID, time.Since(start))
}

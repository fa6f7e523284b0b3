package grid

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"gridwire-api/pkg/trading"
)

const defaultWatchdogInterval = 5 * time.Minute

// Watchdog periodically compares the resting-order count of every active
// grid strategy against the expected ladder size and runs a full reset on
// deviation, healing missed cancels and partial batch failures. It never
// waits on the symbol lock: a busy symbol is skipped and caught next round.
type Watchdog struct {
	engine   *Engine
	interval time.Duration
	logger   logx.Logger
}

// NewWatchdog builds a watchdog over the engine. A non-positive interval
// falls back to the default.
func NewWatchdog(engine *Engine, interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = defaultWatchdogInterval
	}
	return &Watchdog{
		engine:   engine,
		interval: interval,
		logger:   logx.WithContext(context.Background()),
	}
}

// Run checks all strategies returned by list on every tick until the context
// is cancelled.
func (w *Watchdog) Run(ctx context.Context, list func(context.Context) ([]*trading.Strategy, error)) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			strategies, err := list(ctx)
			if err != nil {
				w.logger.Errorf("watchdog: list strategies: %v", err)
				continue
			}
			for _, strat := range strategies {
				if strat.Style != trading.StyleGrid || strat.Status != trading.StatusActive {
					continue
				}
				if err := w.Check(ctx, strat); err != nil {
					w.logger.Errorf("watchdog: check %s: %v", strat.Symbol, err)
				}
			}
		}
	}
}

// Check verifies one strategy's ladder. It acquires the symbol lock
// non-blockingly so it never queues behind an in-flight rebuild.
func (w *Watchdog) Check(ctx context.Context, strat *trading.Strategy) error {
	e := w.engine
	if !e.locks.TryLock(strat.Symbol) {
		w.logger.Infof("watchdog: %s busy, skipping", strat.Symbol)
		return nil
	}
	defer e.locks.Unlock(strat.Symbol)

	open, err := e.provider.GetOpenOrders(ctx, strat.Symbol)
	if err != nil {
		return fmt.Errorf("watchdog: open orders for %s: %w", strat.Symbol, err)
	}
	if len(open) == strat.GridCount {
		return nil
	}
	w.logger.Errorf("watchdog: %s has %d resting orders, want %d, forcing full reset",
		strat.Symbol, len(open), strat.GridCount)
	mark, err := e.provider.GetMarkPrice(ctx, strat.Symbol)
	if err != nil {
		return fmt.Errorf("watchdog: mark price for %s: %w", strat.Symbol, err)
	}
	return e.fullResetLocked(ctx, strat, mark)
}

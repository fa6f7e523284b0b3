// Package execution turns order intents into exchange acceptance. Its core
// strategy is a Fill-Or-Kill limit order nudged toward the aggressive side
// on every retry, optionally sliced across a bounded worker pool, with a
// market-order fallback for any remainder.
package execution

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/zeromicro/go-zero/core/logx"

	"gridwire-api/pkg/exchange"
	"gridwire-api/pkg/precision"
)

// Config bounds the retry cost of one execution intent.
type Config struct {
	MaxRetries     int
	AdjustStep     float64
	MaxAdjust      float64
	PollInterval   time.Duration
	PollTimeout    time.Duration
	RetryBackoff   time.Duration
	SplitParts     int
	MaxWorkers     int
	MarketFallback bool
}

// DefaultConfig returns the production retry parameters.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		AdjustStep:     0.00005,
		MaxAdjust:      0.0005,
		PollInterval:   200 * time.Millisecond,
		PollTimeout:    3 * time.Second,
		RetryBackoff:   time.Second,
		SplitParts:     3,
		MaxWorkers:     3,
		MarketFallback: true,
	}
}

func (c *Config) normalise() {
	d := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.AdjustStep <= 0 {
		c.AdjustStep = d.AdjustStep
	}
	if c.MaxAdjust <= 0 {
		c.MaxAdjust = d.MaxAdjust
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = d.PollTimeout
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.SplitParts <= 0 {
		c.SplitParts = d.SplitParts
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = d.MaxWorkers
	}
}

// Result aggregates the outcome of one execution intent.
type Result struct {
	Filled      bool
	ExecutedQty float64
	AvgPrice    float64
	Orders      []exchange.Order
}

// Executor places orders through a provider with bounded retries. Safe for
// concurrent use.
type Executor struct {
	provider    exchange.Provider
	instruments *precision.Registry
	cfg         Config
	pool        *ants.Pool
	logger      logx.Logger
}

// NewExecutor builds an executor and its slice worker pool.
func NewExecutor(provider exchange.Provider, instruments *precision.Registry, cfg Config) (*Executor, error) {
	cfg.normalise()
	pool, err := ants.NewPool(cfg.MaxWorkers, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("execution: worker pool: %w", err)
	}
	return &Executor{
		provider:    provider,
		instruments: instruments,
		cfg:         cfg,
		pool:        pool,
		logger:      logx.WithContext(context.Background()),
	}, nil
}

// Close releases the worker pool.
func (e *Executor) Close() { e.pool.Release() }

// AdjustedPrice nudges the limit price toward the aggressive side for the
// given attempt (1-based). The adjustment grows linearly with the attempt
// number and is clamped at max.
func AdjustedPrice(price float64, side exchange.Side, attempt int, step, max float64) float64 {
	adj := float64(attempt) * step
	if adj > max {
		adj = max
	}
	if side == exchange.Buy {
		return price * (1 + adj)
	}
	return price * (1 - adj)
}

// ExecuteFOK submits a Fill-Or-Kill limit order, retrying with progressively
// more aggressive prices. A nil error with Filled=false means every attempt
// expired; the caller decides whether to fall back to market execution.
func (e *Executor) ExecuteFOK(ctx context.Context, symbol string, side exchange.Side, qty, price float64) (*Result, error) {
	inst, ok := e.instruments.Lookup(symbol)
	if !ok {
		return nil, fmt.Errorf("execution: unknown instrument %s", symbol)
	}
	qty = inst.RoundQuantity(qty)
	if qty <= 0 {
		return nil, fmt.Errorf("execution: quantity rounds to zero for %s", symbol)
	}

	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		px := inst.RoundPrice(AdjustedPrice(price, side, attempt, e.cfg.AdjustStep, e.cfg.MaxAdjust))
		acks, err := e.provider.PlaceBatchOrders(ctx, []exchange.OrderSpec{{
			Symbol:      symbol,
			Side:        side,
			Type:        exchange.Limit,
			TimeInForce: exchange.FOK,
			Price:       inst.FormatPrice(px),
			Quantity:    inst.FormatQuantity(qty),
		}})
		if err != nil {
			if !isTransient(err) {
				return nil, fmt.Errorf("execution: %s %s rejected: %w", side, symbol, err)
			}
			e.logger.Errorf("execution: attempt %d on %s transient error: %v", attempt, symbol, err)
			if !sleepCtx(ctx, e.cfg.RetryBackoff) {
				return nil, ctx.Err()
			}
			continue
		}
		order := acks[0]
		if !order.Status.Terminal() {
			final, err := e.pollOrder(ctx, symbol, order.OrderID)
			if err != nil {
				e.logger.Errorf("execution: poll order %d on %s: %v", order.OrderID, symbol, err)
				continue
			}
			order = *final
		}
		if order.Status == exchange.StatusFilled {
			return &Result{
				Filled:      true,
				ExecutedQty: order.ExecutedQty,
				AvgPrice:    order.AvgPrice,
				Orders:      []exchange.Order{order},
			}, nil
		}
		e.logger.Infof("execution: attempt %d on %s ended %s at %v", attempt, symbol, order.Status, px)
	}
	return &Result{}, nil
}

// pollOrder waits for the order to reach a terminal status within the
// configured poll budget.
func (e *Executor) pollOrder(ctx context.Context, symbol string, orderID int64) (*exchange.Order, error) {
	deadline := time.NewTimer(e.cfg.PollTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("execution: order %d still open after %s", orderID, e.cfg.PollTimeout)
		case <-ticker.C:
			order, err := e.provider.GetOrder(ctx, symbol, orderID)
			if err != nil {
				if isTransient(err) {
					continue
				}
				return nil, err
			}
			if order.Status.Terminal() {
				return order, nil
			}
		}
	}
}

type transienter interface{ Transient() bool }

// isTransient separates retryable transport and rate-limit failures from
// terminal rejections.
func isTransient(err error) bool {
	var t transienter
	if errors.As(err, &t) {
		return t.Transient()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
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

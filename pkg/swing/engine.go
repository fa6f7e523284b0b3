package swing

import (
	"context"
	"fmt"
	"math"

	"github.com/zeromicro/go-zero/core/logx"

	"gridwire-api/pkg/exchange"
	"gridwire-api/pkg/execution"
	"gridwire-api/pkg/precision"
	"gridwire-api/pkg/signal"
	"gridwire-api/pkg/symlock"
	"gridwire-api/pkg/trading"
)

const defaultMarginAsset = "USDT"

// Engine opens and closes bracketed swing positions. Entries go straight to
// the exchange as batched orders; closes run through the execution layer so
// large positions unwind with FOK slicing and a market fallback.
type Engine struct {
	provider    exchange.Provider
	instruments *precision.Registry
	executor    *execution.Executor
	locks       *symlock.KeyedMutex
	marginAsset string
	logger      logx.Logger
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithMarginAsset overrides the asset used for balance lookups.
func WithMarginAsset(asset string) EngineOption {
	return func(e *Engine) {
		if asset != "" {
			e.marginAsset = asset
		}
	}
}

// NewEngine builds a swing engine.
func NewEngine(provider exchange.Provider, instruments *precision.Registry, executor *execution.Executor, locks *symlock.KeyedMutex, opts ...EngineOption) *Engine {
	e := &Engine{
		provider:    provider,
		instruments: instruments,
		executor:    executor,
		locks:       locks,
		marginAsset: defaultMarginAsset,
		logger:      logx.WithContext(context.Background()),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open replaces whatever exposure the strategy has with a fresh bracket for
// the signal. Any prior position is flattened and prior orders cancelled
// before the new entry goes out.
func (e *Engine) Open(ctx context.Context, strat *trading.Strategy, sig *signal.EntrySignal) (*Bracket, error) {
	e.locks.Lock(strat.Symbol)
	defer e.locks.Unlock(strat.Symbol)

	inst, ok := e.instruments.Lookup(strat.Symbol)
	if !ok {
		return nil, fmt.Errorf("swing: unknown instrument %s", strat.Symbol)
	}

	leverage := sig.Leverage
	if leverage < 1 {
		leverage = strat.Leverage
	}
	if err := e.provider.SetLeverage(ctx, strat.Symbol, leverage); err != nil {
		return nil, fmt.Errorf("swing: set leverage %d on %s: %w", leverage, strat.Symbol, err)
	}

	if err := e.provider.CancelAllOpenOrders(ctx, strat.Symbol); err != nil {
		return nil, fmt.Errorf("swing: cancel stale orders on %s: %w", strat.Symbol, err)
	}
	if err := e.flattenLocked(ctx, strat.Symbol, inst); err != nil {
		return nil, err
	}

	wallet, err := e.provider.GetAvailableBalance(ctx, e.marginAsset)
	if err != nil {
		return nil, fmt.Errorf("swing: balance lookup: %w", err)
	}

	bracket, err := BuildBracket(BracketInput{
		Strategy:        strat,
		Instrument:      inst,
		Side:            sig.Side,
		Entry:           sig.Entry,
		AvailableMargin: wallet.AvailableBalance,
		Leverage:        leverage,
		StopLossPct:     sig.StopLossPct,
		TakeProfitPct:   sig.TakeProfitPct,
		StopOverride:    sig.StopLossOverride,
	})
	if err != nil {
		return nil, err
	}
	if bracket.Skipped > 0 {
		e.logger.Infof("swing: %s bracket dropped %d zero-quantity legs", strat.Symbol, bracket.Skipped)
	}

	for _, batch := range bracket.Batches {
		if _, err := e.provider.PlaceBatchOrders(ctx, batch); err != nil {
			return bracket, fmt.Errorf("swing: place bracket on %s: %w", strat.Symbol, err)
		}
	}
	e.logger.Infof("swing: opened %s %s qty=%v stop=%v target=%v",
		sig.Side, strat.Symbol, bracket.Quantity, bracket.StopPrice, bracket.FinalTarget)
	return bracket, nil
}

// Close cancels the bracket and unwinds the position through the execution
// layer.
func (e *Engine) Close(ctx context.Context, strat *trading.Strategy) (*execution.Result, error) {
	e.locks.Lock(strat.Symbol)
	defer e.locks.Unlock(strat.Symbol)

	if err := e.provider.CancelAllOpenOrders(ctx, strat.Symbol); err != nil {
		return nil, fmt.Errorf("swing: cancel orders on %s: %w", strat.Symbol, err)
	}
	pos, err := e.provider.GetPosition(ctx, strat.Symbol)
	if err != nil {
		return nil, fmt.Errorf("swing: position lookup for %s: %w", strat.Symbol, err)
	}
	if pos.IsFlat() {
		return &execution.Result{Filled: true}, nil
	}
	side := exchange.Sell
	if pos.IsShort() {
		side = exchange.Buy
	}
	mark, err := e.provider.GetMarkPrice(ctx, strat.Symbol)
	if err != nil {
		return nil, fmt.Errorf("swing: mark price for %s: %w", strat.Symbol, err)
	}
	res, err := e.executor.ExecuteSplitFOK(ctx, strat.Symbol, side, math.Abs(pos.PositionAmt), mark)
	if err != nil {
		return res, fmt.Errorf("swing: close %s: %w", strat.Symbol, err)
	}
	if !res.Filled {
		return res, fmt.Errorf("swing: close %s left %v unfilled", strat.Symbol, math.Abs(pos.PositionAmt)-res.ExecutedQty)
	}
	return res, nil
}

// flattenLocked closes any existing position at market. Callers hold the
// symbol lock.
func (e *Engine) flattenLocked(ctx context.Context, symbol string, inst precision.Instrument) error {
	pos, err := e.provider.GetPosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("swing: position lookup for %s: %w", symbol, err)
	}
	if pos.IsFlat() {
		return nil
	}
	side := exchange.Sell
	if pos.IsShort() {
		side = exchange.Buy
	}
	_, err = e.provider.PlaceBatchOrders(ctx, []exchange.OrderSpec{{
		Symbol:     symbol,
		Side:       side,
		Type:       exchange.Market,
		Quantity:   inst.FormatQuantity(math.Abs(pos.PositionAmt)),
		ReduceOnly: true,
	}})
	if err != nil {
		return fmt.Errorf("swing: flatten %s: %w", symbol, err)
	}
	e.logger.Infof("swing: flattened prior %s position of %v", symbol, pos.PositionAmt)
	return nil
}
